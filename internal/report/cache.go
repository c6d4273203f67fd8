package report

import (
	"sync"
	"time"

	"github.com/forgetsubs/forgetsubs/internal/idgen"
)

// DefaultTTL is how long a detailed report stays retrievable.
const DefaultTTL = 30 * time.Minute

type entry struct {
	detail    *Detail
	createdAt time.Time
}

// Cache is the only place a detailed report exists after classification.
// Entries expire after the TTL; Get treats expired entries as absent even
// before the sweeper runs.
type Cache struct {
	mu      sync.Mutex
	entries map[string]entry
	ttl     time.Duration
	now     func() time.Time
}

// CacheOption configures a Cache.
type CacheOption func(*Cache)

// WithClock injects a time source for tests.
func WithClock(now func() time.Time) CacheOption {
	return func(c *Cache) { c.now = now }
}

// NewCache creates a cache with the given TTL. A zero TTL falls back to
// DefaultTTL.
func NewCache(ttl time.Duration, opts ...CacheOption) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	c := &Cache{
		entries: make(map[string]entry),
		ttl:     ttl,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Put stores a detail under a fresh 128-bit random identifier and returns it.
func (c *Cache) Put(d *Detail) string {
	id := idgen.Hex(16)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[id] = entry{detail: d, createdAt: c.now()}
	return id
}

// Get returns the detail for id, or (nil, false) if the id is unknown or the
// entry has expired. An expired-but-unswept entry is indistinguishable from a
// missing one.
func (c *Cache) Get(id string) (*Detail, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[id]
	if !ok {
		return nil, false
	}
	if c.now().Sub(e.createdAt) > c.ttl {
		return nil, false
	}
	return e.detail, true
}

// Sweep removes every expired entry and returns how many were dropped.
func (c *Cache) Sweep() int {
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for id, e := range c.entries {
		if now.Sub(e.createdAt) > c.ttl {
			delete(c.entries, id)
			removed++
		}
	}
	return removed
}

// Len returns the number of entries currently held, expired or not.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
