package singleflight

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestNew(t *testing.T) {
	g := New[string]()
	if g == nil {
		t.Fatal("New() returned nil")
	}
	if g.m == nil {
		t.Error("New() did not initialize map")
	}
}

func TestDo(t *testing.T) {
	g := New[string]()

	val, err, joined := g.Do(context.Background(), "key1", func(context.Context) (string, error) {
		return "hello", nil
	})

	if err != nil {
		t.Errorf("Do() returned error: %v", err)
	}
	if val != "hello" {
		t.Errorf("Do() returned %v, want hello", val)
	}
	if joined {
		t.Error("first caller should not be reported as joined")
	}
	if g.InFlight("key1") {
		t.Error("key should be released after the call settles")
	}
}

func TestDoError(t *testing.T) {
	g := New[string]()
	expectedErr := errors.New("test error")

	val, err, _ := g.Do(context.Background(), "key1", func(context.Context) (string, error) {
		return "", expectedErr
	})

	if err != expectedErr {
		t.Errorf("Do() returned error %v, want %v", err, expectedErr)
	}
	if val != "" {
		t.Errorf("Do() returned %q, want empty", val)
	}
}

func TestZeroValueGroup(t *testing.T) {
	var g Group[int]
	v, err, _ := g.Do(context.Background(), "k", func(context.Context) (int, error) { return 7, nil })
	if err != nil || v != 7 {
		t.Fatalf("zero Group Do() = %v, %v; want 7, nil", v, err)
	}
}

func TestDoDuplicateCalls(t *testing.T) {
	g := New[string]()

	var callCount atomic.Int32
	release := make(chan struct{})

	fn := func(context.Context) (string, error) {
		callCount.Add(1)
		<-release
		return "result", nil
	}

	const numCalls = 10
	var wg sync.WaitGroup
	results := make([]string, numCalls)
	errs := make([]error, numCalls)

	for i := 0; i < numCalls; i++ {
		wg.Add(1)
		go func(index int) {
			defer wg.Done()
			results[index], errs[index], _ = g.Do(context.Background(), "same-key", fn)
		}(i)
	}

	waitFor(t, func() bool { return g.Waiters("same-key") == numCalls })
	close(release)
	wg.Wait()

	if n := callCount.Load(); n != 1 {
		t.Errorf("Function called %d times, want 1", n)
	}
	for i, result := range results {
		if errs[i] != nil {
			t.Errorf("Call %d returned error: %v", i, errs[i])
		}
		if result != "result" {
			t.Errorf("Call %d returned %v, want result", i, result)
		}
	}
}

func TestDuplicateCallsShareError(t *testing.T) {
	g := New[int]()
	shared := errors.New("boom")
	release := make(chan struct{})

	const numCalls = 5
	var wg sync.WaitGroup
	errs := make([]error, numCalls)
	for i := 0; i < numCalls; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i], _ = g.Do(context.Background(), "k", func(context.Context) (int, error) {
				<-release
				return 0, shared
			})
		}(i)
	}

	waitFor(t, func() bool { return g.Waiters("k") == numCalls })
	close(release)
	wg.Wait()

	for i, err := range errs {
		if err != shared {
			t.Errorf("caller %d got %v, want the shared error", i, err)
		}
	}
}

func TestAbandonedWaiterDoesNotCancelOthers(t *testing.T) {
	g := New[string]()
	release := make(chan struct{})
	var fnCtx context.Context

	started := make(chan struct{})
	fn := func(ctx context.Context) (string, error) {
		fnCtx = ctx
		close(started)
		<-release
		return "done", ctx.Err()
	}

	ownerDone := make(chan error, 1)
	go func() {
		_, err, _ := g.Do(context.Background(), "k", fn)
		ownerDone <- err
	}()
	<-started

	ctx, cancel := context.WithCancel(context.Background())
	waiterDone := make(chan error, 1)
	go func() {
		_, err, joined := g.Do(ctx, "k", fn)
		if !joined {
			err = errors.New("second caller should have joined")
		}
		waiterDone <- err
	}()
	waitFor(t, func() bool { return g.Waiters("k") == 2 })

	cancel()
	if err := <-waiterDone; !errors.Is(err, context.Canceled) {
		t.Fatalf("abandoning waiter got %v, want context.Canceled", err)
	}
	if fnCtx.Err() != nil {
		t.Fatal("shared call was cancelled while another caller still waits")
	}

	close(release)
	if err := <-ownerDone; err != nil {
		t.Fatalf("remaining caller got %v, want nil", err)
	}
}

func TestLastWaiterLeavingCancelsCall(t *testing.T) {
	g := New[string]()
	cancelled := make(chan struct{})
	started := make(chan struct{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err, _ := g.Do(ctx, "k", func(ctx context.Context) (string, error) {
			close(started)
			<-ctx.Done()
			close(cancelled)
			return "", ctx.Err()
		})
		done <- err
	}()
	<-started

	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("got %v, want context.Canceled", err)
	}

	select {
	case <-cancelled:
	case <-time.After(time.Second):
		t.Fatal("shared call was not cancelled after every waiter left")
	}
	if g.InFlight("k") {
		t.Error("key should be released after every waiter left")
	}
}

func TestForget(t *testing.T) {
	g := New[int]()
	release := make(chan struct{})
	started := make(chan struct{})

	go g.Do(context.Background(), "k", func(context.Context) (int, error) {
		close(started)
		<-release
		return 1, nil
	})
	<-started

	g.Forget("k")
	if g.InFlight("k") {
		t.Fatal("Forget should detach the in-flight call")
	}

	v, err, joined := g.Do(context.Background(), "k", func(context.Context) (int, error) { return 2, nil })
	if err != nil || v != 2 || joined {
		t.Fatalf("Do after Forget = %v, %v, joined=%v; want 2, nil, false", v, err, joined)
	}
	close(release)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}
