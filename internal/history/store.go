package history

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/promo-copilot/promoplan/internal/api"
)

// Filter narrows a sales history query. Zero-value fields mean "all".
type Filter struct {
	// Range bounds the sale dates, inclusive on both ends. A zero range
	// matches every record.
	Range api.DateRange
	// Departments restricts to the listed departments when non-empty.
	Departments []string
	// Channel restricts to one channel; empty or "both" matches all.
	Channel api.Channel
}

func (f Filter) matches(r api.SalesRecord) bool {
	if !f.Range.Start.IsZero() && !f.Range.Contains(r.Date) {
		return false
	}
	if f.Channel != "" && f.Channel != api.ChannelBoth && r.Channel != f.Channel {
		return false
	}
	if len(f.Departments) > 0 {
		found := false
		for _, d := range f.Departments {
			if d == r.Department {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// Store provides read access to historical sales and the promo catalog.
type Store interface {
	// QueryRecords returns sales records matching the filter.
	QueryRecords(ctx context.Context, f Filter) ([]api.SalesRecord, error)

	// ListCampaigns returns the historical promo catalog.
	ListCampaigns(ctx context.Context) ([]api.PromoCampaign, error)

	// Close releases resources
	Close() error
}

// snapshot is the JSON file layout the memory store loads and saves.
type snapshot struct {
	Records   []api.SalesRecord   `json:"records"`
	Campaigns []api.PromoCampaign `json:"campaigns"`
}

// MemoryStore is an in-memory history store with optional file snapshot.
// It backs local development and tests; production deployments use Postgres.
type MemoryStore struct {
	mu        sync.RWMutex
	records   []api.SalesRecord
	campaigns []api.PromoCampaign
	snapshot  string // optional file path for persistence
}

// NewMemoryStore creates an in-memory history store, loading the snapshot
// file when one exists at the given path.
func NewMemoryStore(snapshotPath string) (*MemoryStore, error) {
	ms := &MemoryStore{snapshot: snapshotPath}
	if snapshotPath != "" {
		if err := ms.loadSnapshot(); err != nil {
			return nil, err
		}
	}
	return ms, nil
}

func (m *MemoryStore) QueryRecords(ctx context.Context, f Filter) ([]api.SalesRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []api.SalesRecord
	for _, r := range m.records {
		if f.matches(r) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *MemoryStore) ListCampaigns(ctx context.Context) ([]api.PromoCampaign, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]api.PromoCampaign, len(m.campaigns))
	copy(out, m.campaigns)
	return out, nil
}

// AddRecords appends sales records. Used by loaders and tests.
func (m *MemoryStore) AddRecords(records ...api.SalesRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, records...)
}

// AddCampaigns appends catalog entries. Used by loaders and tests.
func (m *MemoryStore) AddCampaigns(campaigns ...api.PromoCampaign) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.campaigns = append(m.campaigns, campaigns...)
}

func (m *MemoryStore) Close() error {
	if m.snapshot != "" {
		return m.saveSnapshot()
	}
	return nil
}

func (m *MemoryStore) loadSnapshot() error {
	data, err := os.ReadFile(m.snapshot)
	if err != nil {
		if os.IsNotExist(err) {
			return nil // no snapshot yet
		}
		return err
	}

	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return fmt.Errorf("failed to unmarshal history snapshot: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = snap.Records
	m.campaigns = snap.Campaigns
	return nil
}

func (m *MemoryStore) saveSnapshot() error {
	m.mu.RLock()
	snap := snapshot{Records: m.records, Campaigns: m.campaigns}
	m.mu.RUnlock()

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(m.snapshot, data, 0600)
}
