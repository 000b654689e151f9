package tahan

import (
	"context"
	"fmt"
	"net/http"
	"testing"
	"time"
)

// BenchmarkCacheComparison compares the sharded and bounded caches under
// parallel read-mostly load
func BenchmarkCacheComparison(b *testing.B) {
	caches := map[string]Cache{
		"InMemoryCache": NewInMemoryCache(),
		"LRUCache":      NewLRUCache(1024),
	}
	keys := make([]string, 256)
	for i := range keys {
		keys[i] = fmt.Sprintf("GET:https://api.example.com/items/%d", i)
	}

	for name, cache := range caches {
		for _, k := range keys {
			cache.Set(k, &CacheEntry{Body: []byte("payload"), StatusCode: http.StatusOK})
		}
		b.Run(name, func(b *testing.B) {
			b.ResetTimer()
			b.RunParallel(func(pb *testing.PB) {
				i := 0
				for pb.Next() {
					k := keys[i%len(keys)]
					if i%10 == 0 {
						cache.Set(k, &CacheEntry{Body: []byte("payload")})
					} else {
						cache.Get(k, time.Minute)
					}
					i++
				}
			})
		})
	}
}

// BenchmarkCacheKey measures URL normalization on the cache hot path
func BenchmarkCacheKey(b *testing.B) {
	req := Get("https://API.example.com/items?b=2&a=1&c=3")
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		_ = CacheKey(req)
	}
}

// BenchmarkRetryDecide measures a retry decision including jitter
func BenchmarkRetryDecide(b *testing.B) {
	rc := NewRetryController(5, 100*time.Millisecond, NewSeededJitter(1))
	err := &ClientError{Type: ErrorTypeServer, StatusCode: http.StatusServiceUnavailable}
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		rc.Decide(i%4+1, err, true)
	}
}

// BenchmarkExecuteCacheHit measures the full Execute path when served from cache
func BenchmarkExecuteCacheHit(b *testing.B) {
	client := New(WithTransport(TransportFunc(func(ctx context.Context, req *Request) (*Response, error) {
		return &Response{StatusCode: http.StatusOK, Body: []byte("cached")}, nil
	})))
	req := Get("https://api.example.com/items")
	if _, err := client.Execute(context.Background(), req); err != nil {
		b.Fatal(err)
	}

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			if _, err := client.Execute(context.Background(), req); err != nil {
				b.Error(err)
			}
		}
	})
}
