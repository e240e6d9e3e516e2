// Package inflight coalesces concurrent fetches for the same key.
package inflight

import (
	"context"
	"sync"
)

// Group coalesces concurrent function calls for the same key K so that
// the supplied fn is executed at most once per in-flight window. Other
// concurrent callers attach as waiters and share the result.
//
// Concurrency notes:
//   - The first caller registers the call and starts fn on its own
//     goroutine. Every caller, the first included, waits on the shared
//     result or its own ctx.
//   - Publishing (val, err) happens-before close(c.done), so reads after
//     <-done observe the final values.
//   - fn receives a call context that keeps the first caller's values but
//     not its cancellation. It is cancelled when the last waiter leaves or
//     on Reset, so abandoned work can stop and must not commit.
//
// The zero Group is ready to use.
type Group[K comparable, V any] struct {
	mu sync.Mutex
	m  map[K]*call[V]
}

type call[V any] struct {
	done    chan struct{} // closed when val/err are published
	val     V
	err     error
	waiters int // guarded by Group.mu
	cancel  context.CancelFunc
}

// Do runs fn once for key and waits for its result. shared reports whether
// this caller attached to a call started by someone else. If ctx ends
// first, Do returns ctx.Err() and the call continues for the remaining
// waiters.
func (g *Group[K, V]) Do(ctx context.Context, key K, fn func(ctx context.Context) (V, error)) (v V, shared bool, err error) {
	g.mu.Lock()
	if g.m == nil {
		g.m = make(map[K]*call[V])
	}
	if c, ok := g.m[key]; ok {
		c.waiters++
		g.mu.Unlock()
		v, err = g.wait(ctx, key, c)
		return v, true, err
	}

	cctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	c := &call[V]{done: make(chan struct{}), waiters: 1, cancel: cancel}
	g.m[key] = c
	g.mu.Unlock()

	go g.run(cctx, key, c, fn)

	v, err = g.wait(ctx, key, c)
	return v, false, err
}

func (g *Group[K, V]) run(ctx context.Context, key K, c *call[V], fn func(context.Context) (V, error)) {
	v, err := fn(ctx)

	g.mu.Lock()
	if g.m[key] == c {
		delete(g.m, key)
	}
	g.mu.Unlock()

	c.val, c.err = v, err
	close(c.done)
	c.cancel()
}

func (g *Group[K, V]) wait(ctx context.Context, key K, c *call[V]) (V, error) {
	select {
	case <-c.done:
		return c.val, c.err
	case <-ctx.Done():
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
	return zero, ctx.Err()
}

// Reset cancels every in-flight call and forgets it. Waiters still blocked
// receive whatever fn returns after its context is cancelled. Returns the
// number of calls dropped.
func (g *Group[K, V]) Reset() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	n := len(g.m)
	for k, c := range g.m {
		c.cancel()
		delete(g.m, k)
	}
	return n
}

// Len returns the number of keys with a call in flight.
func (g *Group[K, V]) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.m)
}

// Waiters returns how many callers are attached to key's call.
func (g *Group[K, V]) Waiters(key K) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	if c, ok := g.m[key]; ok {
		return c.waiters
	}
	return 0
}
