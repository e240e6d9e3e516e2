package cache

import (
	"errors"
	"sync/atomic"
	"time"

	"github.com/IvanBrykalov/syncache/internal/util"
)

// ErrClosed is returned by operations on a closed store.
var ErrClosed = errors.New("cache: store closed")

// Store is a sharded, concurrency-safe map of entries. It performs no I/O.
type Store[K comparable, V any] struct {
	shards []*shard[K, V]
	opt    Options[K, V]

	version atomic.Uint64
	size    atomic.Int64
	closed  atomic.Bool
}

// New constructs a Store with normalized options.
func New[K comparable, V any](opt Options[K, V]) *Store[K, V] {
	if opt.Metrics == nil {
		opt.Metrics = NoopMetrics{}
	}
	if opt.Clock == nil {
		opt.Clock = SystemClock
	}
	if opt.MaxEntries < 0 {
		opt.MaxEntries = 0
	}
	nShards := util.ShardCount(opt.Shards)
	opt.Shards = nShards

	perShard := 0
	if opt.MaxEntries > 0 {
		perShard = (opt.MaxEntries + nShards - 1) / nShards
	}

	st := &Store[K, V]{opt: opt}
	st.shards = make([]*shard[K, V], nShards)
	for i := range st.shards {
		st.shards[i] = newShard[K, V](perShard, st)
	}
	return st
}

func (st *Store[K, V]) nextVersion() uint64 { return st.version.Add(1) }

func (st *Store[K, V]) clone(v V) V {
	if st.opt.Clone == nil {
		return v
	}
	return st.opt.Clone(v)
}

func (st *Store[K, V]) shardFor(k K) *shard[K, V] {
	return st.shards[util.ShardIndex(util.Fnv64a(k), len(st.shards))]
}

// Now reports the store clock.
func (st *Store[K, V]) Now() time.Time { return st.opt.Clock.Now() }

// Get returns a copy of the entry for k.
func (st *Store[K, V]) Get(k K) (Entry[V], bool) {
	e, ok := st.shardFor(k).get(k)
	if !ok {
		st.opt.Metrics.Miss()
		return Entry[V]{}, false
	}
	st.opt.Metrics.Hit()
	e.Value = st.clone(e.Value)
	return e, true
}

// Peek is Get without metrics or LRU promotion.
func (st *Store[K, V]) Peek(k K) (Entry[V], bool) {
	sh := st.shardFor(k)
	sh.mu.RLock()
	n, ok := sh.m[k]
	var e Entry[V]
	if ok {
		e = n.entry
	}
	sh.mu.RUnlock()
	if !ok {
		return Entry[V]{}, false
	}
	e.Value = st.clone(e.Value)
	return e, true
}

// Has reports residency without touching LRU order or metrics.
func (st *Store[K, V]) Has(k K) bool { return st.shardFor(k).has(k) }

// Set stores v stamped with the current clock, unconditionally.
func (st *Store[K, V]) Set(k K, v V) Entry[V] {
	if st.closed.Load() {
		return Entry[V]{}
	}
	e, _ := st.shardFor(k).set(k, st.clone(v), st.Now(), true)
	return e
}

// SetAt stores v stamped at, unless the resident entry is newer. It
// reports whether the write landed; on refusal the resident entry is
// returned.
func (st *Store[K, V]) SetAt(k K, v V, at time.Time) (Entry[V], bool) {
	if st.closed.Load() {
		return Entry[V]{}, false
	}
	e, ok := st.shardFor(k).set(k, st.clone(v), at, false)
	e.Value = st.clone(e.Value)
	return e, ok
}

// Update atomically replaces the value under k with fn's result. fn runs
// under the shard lock and must not call back into the store. Returning
// keep=false removes the entry. The bool result reports whether an entry
// is resident afterwards.
func (st *Store[K, V]) Update(k K, fn func(cur V, ok bool) (next V, keep bool)) (Entry[V], bool) {
	if st.closed.Load() {
		return Entry[V]{}, false
	}
	e, ok := st.shardFor(k).update(k, st.Now(), fn)
	return e, ok
}

// Remove deletes k. Returns true if the entry existed.
func (st *Store[K, V]) Remove(k K) bool { return st.shardFor(k).remove(k) }

// Len returns the number of resident entries.
func (st *Store[K, V]) Len() int {
	total := 0
	for _, s := range st.shards {
		total += s.length()
	}
	return total
}

// Keys returns the resident keys in no particular order.
func (st *Store[K, V]) Keys() []K {
	out := make([]K, 0, st.size.Load())
	for _, s := range st.shards {
		out = s.keys(out)
	}
	return out
}

// Clear empties the store atomically: every shard is locked in index
// order before any is emptied, so no reader sees a half-cleared store.
// Returns the number of entries dropped.
func (st *Store[K, V]) Clear() int {
	for _, s := range st.shards {
		s.mu.Lock()
	}
	n := 0
	for _, s := range st.shards {
		n += s.clearLocked()
	}
	for i := len(st.shards) - 1; i >= 0; i-- {
		st.shards[i].mu.Unlock()
	}
	return n
}

// Close clears the store and rejects later writes. Reads keep working and
// report misses.
func (st *Store[K, V]) Close() {
	if st.closed.Swap(true) {
		return
	}
	st.Clear()
}
