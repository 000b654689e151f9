// Package singleflight coalesces concurrent calls that share a key into one
// execution whose result is delivered to every caller.
//
// Unlike a plain owner/waiter group, each caller waits under its own context
// and may abandon the wait without disturbing the others. The shared
// execution runs on a context detached from all callers; it is cancelled only
// once every caller has abandoned it.
package singleflight

import (
	"context"
	"sync"
)

// Group manages a set of in-flight calls to prevent duplicate work.
type Group[V any] struct {
	mu sync.Mutex
	m  map[string]*call[V]
}

// call represents an active call. val and err are written once, before done
// is closed.
type call[V any] struct {
	done    chan struct{}
	val     V
	err     error
	waiters int
	cancel  context.CancelFunc
}

// New creates a new singleflight Group.
func New[V any]() *Group[V] {
	return &Group[V]{
		m: make(map[string]*call[V]),
	}
}

// Do executes fn once for all concurrent callers using key and returns its
// result. joined is true when the caller attached to a call started by
// someone else.
//
// If ctx ends before the call settles, Do returns ctx.Err() for this caller
// only. fn keeps running for the remaining callers; when the last caller
// leaves, the context passed to fn is cancelled and the key is released so the
// next caller starts a fresh call.
func (g *Group[V]) Do(ctx context.Context, key string, fn func(ctx context.Context) (V, error)) (v V, err error, joined bool) {
	g.mu.Lock()
	if g.m == nil {
		g.m = make(map[string]*call[V])
	}
	c, joined := g.m[key]
	if joined {
		c.waiters++
	} else {
		callCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		c = &call[V]{
			done:    make(chan struct{}),
			waiters: 1,
			cancel:  cancel,
		}
		g.m[key] = c
		go g.run(callCtx, key, c, fn)
	}
	g.mu.Unlock()

	select {
	case <-c.done:
		return c.val, c.err, joined
	case <-ctx.Done():
	}

	// The call may have settled while ctx fired; prefer the real result.
	select {
	case <-c.done:
		return c.val, c.err, joined
	default:
	}

	g.mu.Lock()
	c.waiters--
	if c.waiters == 0 {
		if g.m[key] == c {
			delete(g.m, key)
		}
		c.cancel()
	}
	g.mu.Unlock()

	var zero V
	return zero, ctx.Err(), joined
}

func (g *Group[V]) run(ctx context.Context, key string, c *call[V], fn func(ctx context.Context) (V, error)) {
	defer c.cancel()

	c.val, c.err = fn(ctx)

	g.mu.Lock()
	if g.m[key] == c {
		delete(g.m, key)
	}
	g.mu.Unlock()

	close(c.done)
}

// InFlight reports whether a call for key is currently running.
func (g *Group[V]) InFlight(key string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.m[key]
	return ok
}

// Waiters returns how many callers are attached to the in-flight call for key.
func (g *Group[V]) Waiters(key string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	if c, ok := g.m[key]; ok {
		return c.waiters
	}
	return 0
}

// Forget detaches the in-flight call for key, if any, so that the next Do
// starts a new call. Callers already waiting still receive the old result.
func (g *Group[V]) Forget(key string) {
	g.mu.Lock()
	delete(g.m, key)
	g.mu.Unlock()
}
