package tahan

import (
	"time"

	"k8s.io/utils/clock"

	"github.com/ambiyansyah-risyal/tahan/internal/lru"
)

// LRUCache is a Cache bounded to a fixed number of entries. When full, the
// least recently read or written entry is dropped.
type LRUCache struct {
	entries *lru.Cache[string, *CacheEntry]
	clock   clock.PassiveClock
}

// NewLRUCache creates a bounded cache on the real clock. Panics if
// capacity < 1.
func NewLRUCache(capacity int) *LRUCache {
	return NewLRUCacheWithClock(capacity, clock.RealClock{})
}

// NewLRUCacheWithClock creates a bounded cache reading time from clk.
func NewLRUCacheWithClock(capacity int, clk clock.PassiveClock) *LRUCache {
	return &LRUCache{
		entries: lru.New[string, *CacheEntry](capacity),
		clock:   clk,
	}
}

// Get returns a copy of the entry when it is younger than maxAge.
func (c *LRUCache) Get(key string, maxAge time.Duration) (*CacheEntry, bool) {
	entry, ok := c.entries.Get(key)
	if !ok {
		return nil, false
	}
	if isFresh(entry, c.clock.Now(), maxAge) {
		return copyEntry(entry), true
	}
	c.entries.Delete(key)
	return nil, false
}

// Set stores a copy of entry, keeping StoredAt non-decreasing for key.
func (c *LRUCache) Set(key string, entry *CacheEntry) {
	if entry == nil {
		return
	}
	stored := copyEntry(entry)
	now := c.clock.Now()
	c.entries.Update(key, func(old *CacheEntry, exists bool) *CacheEntry {
		if exists {
			stored.StoredAt = stampTime(now, old)
		} else {
			stored.StoredAt = now
		}
		return stored
	})
}

// Invalidate removes the entry for key.
func (c *LRUCache) Invalidate(key string) {
	c.entries.Delete(key)
}

// Clear removes every entry.
func (c *LRUCache) Clear() {
	c.entries.Clear()
}

// Len reports the number of stored entries.
func (c *LRUCache) Len() int {
	return c.entries.Len()
}

// Capacity returns the maximum number of entries.
func (c *LRUCache) Capacity() int {
	return c.entries.Capacity()
}
