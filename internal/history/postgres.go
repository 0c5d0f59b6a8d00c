package history

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/promo-copilot/promoplan/internal/api"
)

// PostgresStore implements Store over a Postgres sales warehouse.
//
// Schema:
//
//	CREATE TABLE sales_records (
//	  sale_date DATE NOT NULL,
//	  channel VARCHAR(16) NOT NULL,
//	  department VARCHAR(128) NOT NULL,
//	  promo BOOLEAN NOT NULL DEFAULT FALSE,
//	  discount_pct DOUBLE PRECISION,
//	  sales_value DOUBLE PRECISION NOT NULL,
//	  margin_value DOUBLE PRECISION NOT NULL,
//	  units DOUBLE PRECISION NOT NULL
//	);
//	CREATE INDEX idx_sales_records_date ON sales_records(sale_date);
//	CREATE INDEX idx_sales_records_dept ON sales_records(department);
//
//	CREATE TABLE promo_campaigns (
//	  id VARCHAR(64) PRIMARY KEY,
//	  name TEXT NOT NULL,
//	  start_date DATE NOT NULL,
//	  end_date DATE NOT NULL,
//	  departments JSONB NOT NULL,
//	  channels JSONB NOT NULL,
//	  discount_pct DOUBLE PRECISION NOT NULL
//	);
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects to the sales warehouse.
func NewPostgresStore(connStr string) (*PostgresStore, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to create postgres pool: %w", err)
	}

	// Test connection
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres ping failed: %w", err)
	}

	return &PostgresStore{pool: pool}, nil
}

func (p *PostgresStore) QueryRecords(ctx context.Context, f Filter) ([]api.SalesRecord, error) {
	query := `
		SELECT sale_date, channel, department, promo, discount_pct,
		       sales_value, margin_value, units
		FROM sales_records
		WHERE TRUE
	`
	var args []any

	if !f.Range.Start.IsZero() {
		args = append(args, f.Range.Start, f.Range.End)
		query += fmt.Sprintf(" AND sale_date >= $%d AND sale_date <= $%d", len(args)-1, len(args))
	}
	if f.Channel != "" && f.Channel != api.ChannelBoth {
		args = append(args, string(f.Channel))
		query += fmt.Sprintf(" AND channel = $%d", len(args))
	}
	if len(f.Departments) > 0 {
		args = append(args, f.Departments)
		query += fmt.Sprintf(" AND department = ANY($%d)", len(args))
	}
	query += " ORDER BY sale_date"

	rows, err := p.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sales query failed: %w", err)
	}
	defer rows.Close()

	var out []api.SalesRecord
	for rows.Next() {
		var r api.SalesRecord
		var channel string
		if err := rows.Scan(&r.Date, &channel, &r.Department, &r.Promo, &r.DiscountPct,
			&r.SalesValue, &r.MarginValue, &r.Units); err != nil {
			return nil, fmt.Errorf("sales row scan failed: %w", err)
		}
		r.Channel = api.Channel(channel)
		out = append(out, r)
	}
	return out, rows.Err()
}

func (p *PostgresStore) ListCampaigns(ctx context.Context) ([]api.PromoCampaign, error) {
	query := `
		SELECT id, name, start_date, end_date, departments, channels, discount_pct
		FROM promo_campaigns
		ORDER BY start_date
	`

	rows, err := p.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("campaign query failed: %w", err)
	}
	defer rows.Close()

	var out []api.PromoCampaign
	for rows.Next() {
		var c api.PromoCampaign
		var departments, channels []byte
		if err := rows.Scan(&c.ID, &c.Name, &c.Range.Start, &c.Range.End,
			&departments, &channels, &c.DiscountPct); err != nil {
			return nil, fmt.Errorf("campaign row scan failed: %w", err)
		}
		if err := json.Unmarshal(departments, &c.Departments); err != nil {
			return nil, fmt.Errorf("failed to unmarshal campaign departments: %w", err)
		}
		if err := json.Unmarshal(channels, &c.Channels); err != nil {
			return nil, fmt.Errorf("failed to unmarshal campaign channels: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (p *PostgresStore) Close() error {
	p.pool.Close()
	return nil
}
