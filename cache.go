package tahan

import (
	"hash/fnv"
	"net/http"
	"sync"
	"time"

	"k8s.io/utils/clock"
)

// CacheEntry is a stored response body and the instant it was stored.
type CacheEntry struct {
	Body       []byte
	StatusCode int
	Header     http.Header
	StoredAt   time.Time
}

// Cache stores time-stamped response entries. Implementations never perform
// I/O and never fail; they must be safe for concurrent use.
type Cache interface {
	// Get returns the entry for key only if it is younger than maxAge.
	Get(key string, maxAge time.Duration) (*CacheEntry, bool)
	// Set overwrites the entry for key and stamps StoredAt with the current time.
	Set(key string, entry *CacheEntry)
	// Invalidate removes the entry for key.
	Invalidate(key string)
	// Clear removes every entry.
	Clear()
	// Len reports the number of stored entries, fresh or not.
	Len() int
}

// CacheCondition decides whether a request may use the cache at all.
type CacheCondition func(req *Request) bool

// DefaultCacheCondition allows caching for every request; method eligibility
// is enforced separately.
func DefaultCacheCondition(req *Request) bool {
	return true
}

// InMemoryCache is a sharded map cache. Stale entries are dropped on read.
type InMemoryCache struct {
	shards    []*cacheShard
	numShards int
	clock     clock.PassiveClock
}

type cacheShard struct {
	mu    sync.RWMutex
	store map[string]*CacheEntry
}

// NewInMemoryCache creates a cache reading time from the real clock.
func NewInMemoryCache() *InMemoryCache {
	return NewInMemoryCacheWithClock(clock.RealClock{})
}

// NewInMemoryCacheWithClock creates a cache reading time from clk.
func NewInMemoryCacheWithClock(clk clock.PassiveClock) *InMemoryCache {
	numShards := 16
	shards := make([]*cacheShard, numShards)
	for i := range shards {
		shards[i] = &cacheShard{
			store: make(map[string]*CacheEntry),
		}
	}
	return &InMemoryCache{
		shards:    shards,
		numShards: numShards,
		clock:     clk,
	}
}

func (c *InMemoryCache) getShard(key string) *cacheShard {
	hash := fnv.New32a()
	hash.Write([]byte(key))
	return c.shards[hash.Sum32()%uint32(c.numShards)]
}

// Get returns a copy of the entry when now - StoredAt < maxAge.
func (c *InMemoryCache) Get(key string, maxAge time.Duration) (*CacheEntry, bool) {
	shard := c.getShard(key)
	now := c.clock.Now()

	shard.mu.RLock()
	entry, exists := shard.store[key]
	shard.mu.RUnlock()

	if !exists {
		return nil, false
	}
	if isFresh(entry, now, maxAge) {
		return copyEntry(entry), true
	}

	shard.mu.Lock()
	// Only evict the entry we judged stale; a concurrent Set may have replaced it.
	if shard.store[key] == entry {
		delete(shard.store, key)
	}
	shard.mu.Unlock()
	return nil, false
}

// Set stores a copy of entry. StoredAt never moves backwards for a key.
func (c *InMemoryCache) Set(key string, entry *CacheEntry) {
	if entry == nil {
		return
	}
	shard := c.getShard(key)
	stored := copyEntry(entry)

	shard.mu.Lock()
	defer shard.mu.Unlock()

	stored.StoredAt = stampTime(c.clock.Now(), shard.store[key])
	shard.store[key] = stored
}

// Invalidate removes a cache entry.
func (c *InMemoryCache) Invalidate(key string) {
	shard := c.getShard(key)
	shard.mu.Lock()
	defer shard.mu.Unlock()

	delete(shard.store, key)
}

// Clear removes all cache entries.
func (c *InMemoryCache) Clear() {
	for _, shard := range c.shards {
		shard.mu.Lock()
		shard.store = make(map[string]*CacheEntry)
		shard.mu.Unlock()
	}
}

// Len counts entries across all shards.
func (c *InMemoryCache) Len() int {
	total := 0
	for _, shard := range c.shards {
		shard.mu.RLock()
		total += len(shard.store)
		shard.mu.RUnlock()
	}
	return total
}

func isFresh(entry *CacheEntry, now time.Time, maxAge time.Duration) bool {
	return now.Sub(entry.StoredAt) < maxAge
}

// stampTime returns now, or the previous stamp if the clock stepped backwards.
func stampTime(now time.Time, previous *CacheEntry) time.Time {
	if previous != nil && previous.StoredAt.After(now) {
		return previous.StoredAt
	}
	return now
}

func copyEntry(entry *CacheEntry) *CacheEntry {
	out := *entry
	if entry.Body != nil {
		out.Body = append([]byte(nil), entry.Body...)
	}
	if entry.Header != nil {
		out.Header = entry.Header.Clone()
	}
	return &out
}

func (c *Client) createResponseFromCache(entry *CacheEntry) *Response {
	return &Response{
		StatusCode: entry.StatusCode,
		Header:     entry.Header,
		Body:       entry.Body,
		FromCache:  true,
	}
}

func (c *Client) createCacheEntry(resp *Response) *CacheEntry {
	return &CacheEntry{
		Body:       resp.Body,
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
	}
}

// isCacheEligible reports whether req may be served from and written to the
// cache: caching enabled, not bypassed, a read-only method without side
// effects, and allowed by the configured condition.
func (c *Client) isCacheEligible(req *Request) bool {
	if !c.cacheEnabled || c.cache == nil || req.CacheBypass {
		return false
	}
	method := req.method()
	if method != http.MethodGet && method != http.MethodHead {
		return false
	}
	return c.cacheCondition(req)
}

// Invalidate removes a single cached response by key.
func (c *Client) Invalidate(key string) {
	if c.cache != nil {
		c.cache.Invalidate(key)
	}
}

// InvalidateRequest removes the cached response for req.
func (c *Client) InvalidateRequest(req *Request) {
	c.Invalidate(CacheKey(req))
}

// InvalidateAll drops every cached response.
func (c *Client) InvalidateAll() {
	if c.cache != nil {
		c.cache.Clear()
	}
}
