package tahan

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeduplicatorSharesResultAsCopies(t *testing.T) {
	d := newDeduplicator()
	gate := make(chan struct{})
	var calls atomic.Int32

	fn := func(ctx context.Context) (*Response, error) {
		calls.Add(1)
		<-gate
		return &Response{StatusCode: http.StatusOK, Body: []byte("shared"), Header: http.Header{"X-A": {"1"}}}, nil
	}

	const callers = 4
	var wg sync.WaitGroup
	results := make([]*Response, callers)
	var joinedCount atomic.Int32
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			resp, err, joined := d.do(context.Background(), "k", fn)
			assert.NoError(t, err)
			if joined {
				joinedCount.Add(1)
			}
			results[i] = resp
		}(i)
	}

	require.Eventually(t, func() bool { return d.group.Waiters("k") == callers }, time.Second, time.Millisecond)
	close(gate)
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, int32(callers-1), joinedCount.Load())
	require.NotNil(t, results[0])
	results[0].Body[0] = 'X'
	results[0].Header.Set("X-A", "2")
	for _, r := range results[1:] {
		assert.Equal(t, "shared", string(r.Body))
		assert.Equal(t, "1", r.Header.Get("X-A"))
	}
}

func TestDeduplicatorAbandonedCaller(t *testing.T) {
	d := newDeduplicator()
	gate := make(chan struct{})
	fn := func(ctx context.Context) (*Response, error) {
		<-gate
		return &Response{StatusCode: http.StatusOK}, nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	abandoned := make(chan error, 1)
	go func() {
		_, err, _ := d.do(ctx, "k", fn)
		abandoned <- err
	}()
	kept := make(chan error, 1)
	go func() {
		_, err, _ := d.do(context.Background(), "k", fn)
		kept <- err
	}()

	require.Eventually(t, func() bool { return d.group.Waiters("k") == 2 }, time.Second, time.Millisecond)
	cancel()
	err := <-abandoned
	assert.Equal(t, ErrorTypeCanceled, ErrorType(err))

	close(gate)
	assert.NoError(t, <-kept)
}

func TestDeduplicatorSharesClientError(t *testing.T) {
	d := newDeduplicator()
	failure := &ClientError{Type: ErrorTypeServer, StatusCode: 502}
	_, err, _ := d.do(context.Background(), "k", func(ctx context.Context) (*Response, error) {
		return nil, failure
	})
	assert.Same(t, failure, err)
	assert.False(t, d.inFlight("k"))
}

func TestDedupKeySeparatesAuthenticatedReads(t *testing.T) {
	anon := Get(testURL)
	authed := Get(testURL)
	authed.RequiresAuth = true

	key := CacheKey(anon)
	assert.NotEqual(t, dedupKey(key, anon), dedupKey(key, authed))
}

func TestDeduplicationSkipsNonCacheableRequests(t *testing.T) {
	gate := make(chan struct{})
	transport := script(func(ctx context.Context, req *Request) (*Response, error) {
		<-gate
		return &Response{StatusCode: http.StatusOK}, nil
	})
	client := newTestClient(transport, WithDeduplication())

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = client.Execute(context.Background(), Post(testURL, nil, Idempotent))
		}()
	}
	require.Eventually(t, func() bool { return transport.calls.Load() == 3 }, time.Second, time.Millisecond)
	close(gate)
	wg.Wait()
}
