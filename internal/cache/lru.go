package cache

import (
	"sync"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Cache is a thread-safe, size-bounded LRU with TTL expiration. The planning
// core uses it in front of the forecaster: baselines over the same history
// window are recomputed by every evaluation and optimization call, and the
// window only moves once a day.
//
// Key features:
//   - Size-bounded (evicts least recently used when full)
//   - TTL expiration (entries expire after configured duration)
//   - Thread-safe (safe for concurrent access)
//   - Hit/miss counters for observability
type Cache[K comparable, V any] struct {
	inner *lru.Cache[K, *ttlEntry[V]]
	ttl   time.Duration
	mu    sync.RWMutex

	// Counters are atomic: Get runs under the read lock, so concurrent Gets
	// would otherwise race on them.
	hits    atomic.Uint64
	misses  atomic.Uint64
	evicted atomic.Uint64
}

type ttlEntry[V any] struct {
	value     V
	expiresAt time.Time
}

// New creates an LRU cache holding at most size entries, each expiring after
// ttl (0 means no expiration).
func New[K comparable, V any](size int, ttl time.Duration) (*Cache[K, V], error) {
	inner, err := lru.New[K, *ttlEntry[V]](size)
	if err != nil {
		return nil, err
	}
	return &Cache[K, V]{inner: inner, ttl: ttl}, nil
}

// Get retrieves a value, reporting false when absent or expired.
func (c *Cache[K, V]) Get(key K) (V, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.inner.Get(key)
	if !ok {
		c.misses.Add(1)
		var zero V
		return zero, false
	}

	if c.ttl > 0 && time.Now().After(entry.expiresAt) {
		c.misses.Add(1)
		var zero V
		return zero, false
	}

	c.hits.Add(1)
	return entry.value, true
}

// Set stores a value, evicting the least recently used entry when full.
func (c *Cache[K, V]) Set(key K, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	expiresAt := time.Time{} // no expiration
	if c.ttl > 0 {
		expiresAt = time.Now().Add(c.ttl)
	}

	if c.inner.Add(key, &ttlEntry[V]{value: value, expiresAt: expiresAt}) {
		c.evicted.Add(1)
	}
}

// Delete removes a key.
func (c *Cache[K, V]) Delete(key K) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.inner.Remove(key)
}

// Len returns the number of entries, expired ones included.
func (c *Cache[K, V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.inner.Len()
}

// Purge removes all entries.
func (c *Cache[K, V]) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.inner.Purge()
}

// Stats holds cache statistics for observability.
type Stats struct {
	Hits    uint64  `json:"hits"`
	Misses  uint64  `json:"misses"`
	Evicted uint64  `json:"evicted"`
	Size    int     `json:"size"`
	HitRate float64 `json:"hit_rate"`
}

// Stats returns current cache statistics.
func (c *Cache[K, V]) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	hits := c.hits.Load()
	misses := c.misses.Load()
	hitRate := 0.0
	if total := hits + misses; total > 0 {
		hitRate = float64(hits) / float64(total)
	}

	return Stats{
		Hits:    hits,
		Misses:  misses,
		Evicted: c.evicted.Load(),
		Size:    c.inner.Len(),
		HitRate: hitRate,
	}
}

// CleanupExpired removes all expired entries and returns how many were
// dropped. O(n), intended for an infrequent background sweep.
func (c *Cache[K, V]) CleanupExpired() int {
	if c.ttl == 0 {
		return 0 // no expiration
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	removed := 0
	for _, key := range c.inner.Keys() {
		if entry, ok := c.inner.Peek(key); ok && now.After(entry.expiresAt) {
			c.inner.Remove(key)
			removed++
		}
	}
	return removed
}
