package tahan

import (
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	testingclock "k8s.io/utils/clock/testing"
)

var cacheEpoch = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

type cacheFactory struct {
	name string
	make func(clk *testingclock.FakeClock) Cache
}

func cacheFactories() []cacheFactory {
	return []cacheFactory{
		{"in-memory", func(clk *testingclock.FakeClock) Cache { return NewInMemoryCacheWithClock(clk) }},
		{"lru", func(clk *testingclock.FakeClock) Cache { return NewLRUCacheWithClock(64, clk) }},
	}
}

func TestCacheGetRespectsMaxAge(t *testing.T) {
	for _, f := range cacheFactories() {
		t.Run(f.name, func(t *testing.T) {
			clk := testingclock.NewFakeClock(cacheEpoch)
			cache := f.make(clk)

			cache.Set("k", &CacheEntry{Body: []byte("v"), StatusCode: http.StatusOK})

			entry, ok := cache.Get("k", time.Minute)
			require.True(t, ok)
			assert.Equal(t, "v", string(entry.Body))
			assert.Equal(t, cacheEpoch, entry.StoredAt)

			clk.Step(59 * time.Second)
			_, ok = cache.Get("k", time.Minute)
			assert.True(t, ok, "entry younger than max age must be served")

			clk.Step(time.Second)
			_, ok = cache.Get("k", time.Minute)
			assert.False(t, ok, "entry exactly max age old must not be served")
			assert.Equal(t, 0, cache.Len(), "stale entry should be evicted on read")
		})
	}
}

func TestCacheMaxAgeIsPerRead(t *testing.T) {
	for _, f := range cacheFactories() {
		t.Run(f.name, func(t *testing.T) {
			clk := testingclock.NewFakeClock(cacheEpoch)
			cache := f.make(clk)
			cache.Set("k", &CacheEntry{Body: []byte("v")})
			clk.Step(30 * time.Second)

			_, ok := cache.Get("k", 10*time.Second)
			assert.False(t, ok)

			cache.Set("k", &CacheEntry{Body: []byte("v")})
			clk.Step(30 * time.Second)
			_, ok = cache.Get("k", time.Minute)
			assert.True(t, ok)
		})
	}
}

func TestCacheOverwriteRestampsAndNeverMovesBack(t *testing.T) {
	for _, f := range cacheFactories() {
		t.Run(f.name, func(t *testing.T) {
			clk := testingclock.NewFakeClock(cacheEpoch)
			cache := f.make(clk)

			cache.Set("k", &CacheEntry{Body: []byte("one")})
			clk.Step(10 * time.Second)
			cache.Set("k", &CacheEntry{Body: []byte("two")})

			entry, ok := cache.Get("k", time.Hour)
			require.True(t, ok)
			assert.Equal(t, "two", string(entry.Body))
			assert.Equal(t, cacheEpoch.Add(10*time.Second), entry.StoredAt)

			clk.SetTime(cacheEpoch)
			cache.Set("k", &CacheEntry{Body: []byte("three")})
			entry, ok = cache.Get("k", time.Hour)
			require.True(t, ok)
			assert.Equal(t, "three", string(entry.Body))
			assert.Equal(t, cacheEpoch.Add(10*time.Second), entry.StoredAt)
		})
	}
}

func TestCacheReturnsCopies(t *testing.T) {
	for _, f := range cacheFactories() {
		t.Run(f.name, func(t *testing.T) {
			clk := testingclock.NewFakeClock(cacheEpoch)
			cache := f.make(clk)

			body := []byte("original")
			header := http.Header{"X-Test": []string{"a"}}
			cache.Set("k", &CacheEntry{Body: body, Header: header})
			body[0] = 'X'
			header.Set("X-Test", "b")

			entry, _ := cache.Get("k", time.Hour)
			assert.Equal(t, "original", string(entry.Body))
			assert.Equal(t, "a", entry.Header.Get("X-Test"))

			entry.Body[0] = 'Y'
			again, _ := cache.Get("k", time.Hour)
			assert.Equal(t, "original", string(again.Body))
		})
	}
}

func TestCacheInvalidateAndClear(t *testing.T) {
	for _, f := range cacheFactories() {
		t.Run(f.name, func(t *testing.T) {
			clk := testingclock.NewFakeClock(cacheEpoch)
			cache := f.make(clk)

			for i := 0; i < 5; i++ {
				cache.Set(fmt.Sprintf("k%d", i), &CacheEntry{Body: []byte("v")})
			}
			assert.Equal(t, 5, cache.Len())

			cache.Invalidate("k2")
			_, ok := cache.Get("k2", time.Hour)
			assert.False(t, ok)
			assert.Equal(t, 4, cache.Len())

			cache.Invalidate("missing")
			cache.Clear()
			assert.Equal(t, 0, cache.Len())
		})
	}
}

func TestCacheNilEntryIgnored(t *testing.T) {
	for _, f := range cacheFactories() {
		t.Run(f.name, func(t *testing.T) {
			cache := f.make(testingclock.NewFakeClock(cacheEpoch))
			cache.Set("k", nil)
			assert.Equal(t, 0, cache.Len())
		})
	}
}

func TestCacheConcurrentAccess(t *testing.T) {
	for _, f := range cacheFactories() {
		t.Run(f.name, func(t *testing.T) {
			cache := f.make(testingclock.NewFakeClock(cacheEpoch))
			var wg sync.WaitGroup
			for g := 0; g < 8; g++ {
				wg.Add(1)
				go func(g int) {
					defer wg.Done()
					for i := 0; i < 200; i++ {
						key := fmt.Sprintf("k%d", i%16)
						cache.Set(key, &CacheEntry{Body: []byte{byte(g)}})
						cache.Get(key, time.Minute)
						if i%50 == 0 {
							cache.Invalidate(key)
						}
					}
				}(g)
			}
			wg.Wait()
			assert.LessOrEqual(t, cache.Len(), 16)
		})
	}
}

func TestLRUCacheEvictsLeastRecentlyUsed(t *testing.T) {
	clk := testingclock.NewFakeClock(cacheEpoch)
	cache := NewLRUCacheWithClock(2, clk)

	cache.Set("a", &CacheEntry{Body: []byte("a")})
	cache.Set("b", &CacheEntry{Body: []byte("b")})
	_, ok := cache.Get("a", time.Hour)
	require.True(t, ok)

	cache.Set("c", &CacheEntry{Body: []byte("c")})

	_, ok = cache.Get("b", time.Hour)
	assert.False(t, ok, "b was least recently used")
	_, ok = cache.Get("a", time.Hour)
	assert.True(t, ok)
	_, ok = cache.Get("c", time.Hour)
	assert.True(t, ok)
	assert.Equal(t, 2, cache.Capacity())
}
