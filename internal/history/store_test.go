package history

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/promo-copilot/promoplan/internal/api"
)

func day(d int) time.Time {
	return time.Date(2024, 9, d, 0, 0, 0, 0, time.UTC)
}

func seedStore(t *testing.T) *MemoryStore {
	t.Helper()
	ms, err := NewMemoryStore("")
	if err != nil {
		t.Fatalf("NewMemoryStore failed: %v", err)
	}
	ms.AddRecords(
		api.SalesRecord{Date: day(1), Channel: api.ChannelOnline, Department: "TV", SalesValue: 1000},
		api.SalesRecord{Date: day(2), Channel: api.ChannelOffline, Department: "TV", SalesValue: 800},
		api.SalesRecord{Date: day(3), Channel: api.ChannelOnline, Department: "Audio", SalesValue: 500},
		api.SalesRecord{Date: day(20), Channel: api.ChannelOnline, Department: "TV", SalesValue: 1200},
	)
	return ms
}

func TestMemoryStoreFilters(t *testing.T) {
	ms := seedStore(t)
	ctx := context.Background()

	tests := []struct {
		name   string
		filter Filter
		want   int
	}{
		{"all", Filter{}, 4},
		{"date range", Filter{Range: api.DateRange{Start: day(1), End: day(3)}}, 3},
		{"channel", Filter{Channel: api.ChannelOnline}, 3},
		{"channel both matches all", Filter{Channel: api.ChannelBoth}, 4},
		{"department", Filter{Departments: []string{"Audio"}}, 1},
		{"combined", Filter{
			Range:       api.DateRange{Start: day(1), End: day(3)},
			Channel:     api.ChannelOnline,
			Departments: []string{"TV"},
		}, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ms.QueryRecords(ctx, tt.filter)
			if err != nil {
				t.Fatalf("QueryRecords failed: %v", err)
			}
			if len(got) != tt.want {
				t.Errorf("got %d records, want %d", len(got), tt.want)
			}
		})
	}
}

func TestMemoryStoreSnapshotRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.json")

	ms, err := NewMemoryStore(path)
	if err != nil {
		t.Fatalf("NewMemoryStore failed: %v", err)
	}
	ms.AddRecords(api.SalesRecord{Date: day(1), Channel: api.ChannelOnline, Department: "TV", SalesValue: 1000})
	ms.AddCampaigns(api.PromoCampaign{
		ID: "cmp-1", Name: "September TV",
		Range:       api.DateRange{Start: day(1), End: day(7)},
		Departments: []string{"TV"},
		Channels:    []api.Channel{api.ChannelOnline},
		DiscountPct: 15,
	})
	if err := ms.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	reloaded, err := NewMemoryStore(path)
	if err != nil {
		t.Fatalf("reload failed: %v", err)
	}
	records, err := reloaded.QueryRecords(context.Background(), Filter{})
	if err != nil {
		t.Fatalf("QueryRecords failed: %v", err)
	}
	if len(records) != 1 || records[0].Department != "TV" {
		t.Errorf("reloaded records = %+v, want the single TV record", records)
	}
	campaigns, err := reloaded.ListCampaigns(context.Background())
	if err != nil {
		t.Fatalf("ListCampaigns failed: %v", err)
	}
	if len(campaigns) != 1 || campaigns[0].ID != "cmp-1" {
		t.Errorf("reloaded campaigns = %+v, want cmp-1", campaigns)
	}
}

func TestMemoryStoreMissingSnapshotIsEmpty(t *testing.T) {
	ms, err := NewMemoryStore(filepath.Join(t.TempDir(), "absent.json"))
	if err != nil {
		t.Fatalf("a missing snapshot must not be an error: %v", err)
	}
	records, err := ms.QueryRecords(context.Background(), Filter{})
	if err != nil {
		t.Fatalf("QueryRecords failed: %v", err)
	}
	if len(records) != 0 {
		t.Errorf("expected empty store, got %d records", len(records))
	}
}

func TestMemoryStoreCorruptSnapshot(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.json")
	if err := os.WriteFile(path, []byte("{not json"), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := NewMemoryStore(path); err == nil {
		t.Fatal("expected an error for a corrupt snapshot")
	}
}

func TestSnapshotLayoutStable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.json")
	ms, err := NewMemoryStore(path)
	if err != nil {
		t.Fatal(err)
	}
	ms.AddRecords(api.SalesRecord{Date: day(1), Channel: api.ChannelOnline, Department: "TV", SalesValue: 1000})
	if err := ms.Close(); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var snap map[string]json.RawMessage
	if err := json.Unmarshal(data, &snap); err != nil {
		t.Fatalf("snapshot is not valid JSON: %v", err)
	}
	if _, ok := snap["records"]; !ok {
		t.Error("snapshot missing the records key")
	}
}
