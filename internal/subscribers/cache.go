package subscribers

import (
	"sync"
	"time"
)

// CacheEntry is the last successful recount.
type CacheEntry struct {
	Count     int
	Timestamp time.Time
	TTL       time.Duration
}

// Fresh reports whether the entry may be served without a recount.
func (e CacheEntry) Fresh(now time.Time) bool {
	return now.Sub(e.Timestamp) < e.TTL
}

// CountCache holds at most one entry. An invalidated entry stays readable
// as a degraded fallback but is never fresh again.
type CountCache struct {
	mu    sync.RWMutex
	entry *CacheEntry
	ttl   time.Duration
}

func NewCountCache(ttl time.Duration) *CountCache {
	return &CountCache{ttl: ttl}
}

// Get returns the current entry, fresh or not.
func (c *CountCache) Get() (CacheEntry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.entry == nil {
		return CacheEntry{}, false
	}
	return *c.entry, true
}

// Set stores a new entry stamped with now.
func (c *CountCache) Set(count int, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entry = &CacheEntry{
		Count:     count,
		Timestamp: now,
		TTL:       c.ttl,
	}
}

// Invalidate expires the entry while keeping its count.
func (c *CountCache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.entry != nil {
		c.entry.Timestamp = time.Time{}
	}
}

// Clear drops the entry entirely.
func (c *CountCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entry = nil
}
