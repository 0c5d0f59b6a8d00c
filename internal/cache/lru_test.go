package cache

import (
	"sync"
	"testing"
	"time"

	"github.com/promo-copilot/promoplan/internal/api"
)

func TestCacheBasicOperations(t *testing.T) {
	c, err := New[string, int](3, 0) // no TTL
	if err != nil {
		t.Fatalf("failed to create cache: %v", err)
	}

	// Set and Get
	c.Set("key1", 42)
	if val, ok := c.Get("key1"); !ok || val != 42 {
		t.Errorf("Get(key1) = (%v, %v), want (42, true)", val, ok)
	}

	// Miss
	if _, ok := c.Get("nonexistent"); ok {
		t.Error("Get(nonexistent) should return false")
	}

	// LRU eviction
	c.Set("key2", 100)
	c.Set("key3", 200)
	c.Set("key4", 300) // should evict key1 (LRU)

	if _, ok := c.Get("key1"); ok {
		t.Error("key1 should have been evicted")
	}
	if val, ok := c.Get("key4"); !ok || val != 300 {
		t.Errorf("Get(key4) = (%v, %v), want (300, true)", val, ok)
	}
}

// Every baseline request hits the shared cache, so Gets run concurrently;
// the counters must stay exact under that load (run with -race).
func TestCacheConcurrentGetCounters(t *testing.T) {
	c, err := New[string, int](10, 0)
	if err != nil {
		t.Fatalf("failed to create cache: %v", err)
	}
	c.Set("hot", 1)

	const goroutines = 8
	const gets = 1000

	var wg sync.WaitGroup
	for g := 0; g < goroutines; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < gets; i++ {
				c.Get("hot")
				c.Get("cold")
			}
		}()
	}
	wg.Wait()

	stats := c.Stats()
	if stats.Hits != goroutines*gets {
		t.Errorf("hits = %d, want %d", stats.Hits, goroutines*gets)
	}
	if stats.Misses != goroutines*gets {
		t.Errorf("misses = %d, want %d", stats.Misses, goroutines*gets)
	}
}

func TestCacheExpiration(t *testing.T) {
	c, err := New[string, string](10, 50*time.Millisecond)
	if err != nil {
		t.Fatalf("failed to create cache: %v", err)
	}

	c.Set("key1", "value1")
	if _, ok := c.Get("key1"); !ok {
		t.Error("key1 should be present before expiration")
	}

	time.Sleep(100 * time.Millisecond)

	if _, ok := c.Get("key1"); ok {
		t.Error("key1 should have expired")
	}
}

func TestCacheStats(t *testing.T) {
	c, err := New[string, int](5, 0)
	if err != nil {
		t.Fatalf("failed to create cache: %v", err)
	}

	c.Set("key1", 1)
	c.Set("key2", 2)

	c.Get("key1")    // hit
	c.Get("key1")    // hit
	c.Get("missing") // miss

	stats := c.Stats()
	if stats.Hits != 2 {
		t.Errorf("Stats.Hits = %d, want 2", stats.Hits)
	}
	if stats.Misses != 1 {
		t.Errorf("Stats.Misses = %d, want 1", stats.Misses)
	}
	if stats.Size != 2 {
		t.Errorf("Stats.Size = %d, want 2", stats.Size)
	}

	expectedHitRate := 2.0 / 3.0
	if stats.HitRate < expectedHitRate-0.01 || stats.HitRate > expectedHitRate+0.01 {
		t.Errorf("Stats.HitRate = %f, want ~%f", stats.HitRate, expectedHitRate)
	}
}

func TestCacheDeleteAndPurge(t *testing.T) {
	c, err := New[string, int](5, 0)
	if err != nil {
		t.Fatalf("failed to create cache: %v", err)
	}

	c.Set("key1", 42)
	c.Delete("key1")
	if _, ok := c.Get("key1"); ok {
		t.Error("key1 should have been deleted")
	}

	c.Set("key2", 2)
	c.Set("key3", 3)
	c.Purge()
	if c.Len() != 0 {
		t.Errorf("Len() = %d after Purge(), want 0", c.Len())
	}
}

func TestCacheCleanupExpired(t *testing.T) {
	c, err := New[string, int](10, 50*time.Millisecond)
	if err != nil {
		t.Fatalf("failed to create cache: %v", err)
	}

	c.Set("key1", 1)
	c.Set("key2", 2)
	c.Set("key3", 3)

	time.Sleep(100 * time.Millisecond)

	if removed := c.CleanupExpired(); removed != 3 {
		t.Errorf("CleanupExpired() = %d, want 3", removed)
	}
	if c.Len() != 0 {
		t.Errorf("Len() = %d after cleanup, want 0", c.Len())
	}
}

func TestForecastKeyDistinguishesRequests(t *testing.T) {
	rng := api.DateRange{
		Start: time.Date(2024, 10, 1, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2024, 10, 31, 0, 0, 0, 0, time.UTC),
	}

	base := ForecastKey(rng, api.ChannelOnline, nil)
	if base != ForecastKey(rng, api.ChannelOnline, nil) {
		t.Error("identical requests must share a key")
	}

	variants := []string{
		ForecastKey(rng, api.ChannelOffline, nil),
		ForecastKey(rng, api.ChannelOnline, []string{"TV"}),
		ForecastKey(api.DateRange{Start: rng.Start, End: rng.End.AddDate(0, 0, 1)}, api.ChannelOnline, nil),
	}
	for i, v := range variants {
		if v == base {
			t.Errorf("variant %d collided with the base key %q", i, base)
		}
	}
}
