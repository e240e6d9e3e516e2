package cache

import (
	"sync"
	"time"
)

// shard is an independent partition of the store with its own lock, map,
// and an intrusive doubly linked list (head=MRU, tail=LRU).
type shard[K comparable, V any] struct {
	mu   sync.RWMutex
	m    map[K]*node[K, V]
	head *node[K, V]
	tail *node[K, V]
	cap  int // 0 = unbounded

	st *Store[K, V]
}

func newShard[K comparable, V any](capacity int, st *Store[K, V]) *shard[K, V] {
	hint := capacity
	if hint == 0 {
		hint = 8
	}
	return &shard[K, V]{
		m:   make(map[K]*node[K, V], hint),
		cap: capacity,
		st:  st,
	}
}

// get returns the entry and promotes it when the shard is bounded.
// Unbounded shards never reorder, so a read lock is enough.
func (s *shard[K, V]) get(k K) (Entry[V], bool) {
	if s.cap == 0 {
		s.mu.RLock()
		defer s.mu.RUnlock()
		n, ok := s.m[k]
		if !ok {
			return Entry[V]{}, false
		}
		return n.entry, true
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.m[k]
	if !ok {
		return Entry[V]{}, false
	}
	s.moveToFront(n)
	return n.entry, true
}

func (s *shard[K, V]) has(k K) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.m[k]
	return ok
}

// set writes v stamped at. Unless force is set, a write older than the
// resident entry is refused and the resident entry returned instead.
func (s *shard[K, V]) set(k K, v V, at time.Time, force bool) (Entry[V], bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if n, ok := s.m[k]; ok {
		if !force && at.Before(n.entry.StoredAt) {
			return n.entry, false
		}
		n.entry = Entry[V]{Value: v, StoredAt: at, Version: s.st.nextVersion()}
		s.moveToFront(n)
		return n.entry, true
	}
	n := s.insertLocked(k, Entry[V]{Value: v, StoredAt: at, Version: s.st.nextVersion()})
	return n.entry, true
}

// update runs fn under the shard lock. fn sees the current value (if any)
// and returns the next value, or keep=false to drop the entry.
func (s *shard[K, V]) update(k K, at time.Time, fn func(cur V, ok bool) (V, bool)) (Entry[V], bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, ok := s.m[k]
	var cur V
	if ok {
		cur = s.st.clone(n.entry.Value)
	}
	next, keep := fn(cur, ok)
	switch {
	case !keep && ok:
		s.evictLocked(n, EvictRemoved)
		return Entry[V]{}, false
	case !keep:
		return Entry[V]{}, false
	case ok:
		n.entry = Entry[V]{Value: next, StoredAt: at, Version: s.st.nextVersion()}
		s.moveToFront(n)
		return n.entry, true
	default:
		return s.insertLocked(k, Entry[V]{Value: next, StoredAt: at, Version: s.st.nextVersion()}).entry, true
	}
}

func (s *shard[K, V]) remove(k K) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, ok := s.m[k]
	if !ok {
		return false
	}
	s.evictLocked(n, EvictRemoved)
	return true
}

// restore puts item back under k when guard accepts the current state.
func (s *shard[K, V]) restore(k K, item snapshotItem[V], guard func(K, Entry[V], bool) bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, ok := s.m[k]
	var cur Entry[V]
	if ok {
		cur = n.entry
	}
	if guard != nil && !guard(k, cur, ok) {
		return false
	}
	switch {
	case item.present && ok:
		n.entry = item.entry
		s.moveToFront(n)
	case item.present:
		s.insertLocked(k, item.entry)
	case ok:
		s.evictLocked(n, EvictRemoved)
	}
	return true
}

func (s *shard[K, V]) keys(dst []K) []K {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for k := range s.m {
		dst = append(dst, k)
	}
	return dst
}

func (s *shard[K, V]) length() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.m)
}

// clearLocked drops every entry. Caller holds mu.
func (s *shard[K, V]) clearLocked() int {
	n := len(s.m)
	for s.head != nil {
		s.evictLocked(s.head, EvictCleared)
	}
	return n
}

// -------------------- internals (mu held) --------------------

func (s *shard[K, V]) insertLocked(k K, e Entry[V]) *node[K, V] {
	n := &node[K, V]{key: k, entry: e}
	s.m[k] = n
	s.pushFront(n)
	s.st.size.Add(1)
	if s.cap > 0 {
		for len(s.m) > s.cap && s.tail != nil && s.tail != n {
			s.evictLocked(s.tail, EvictCapacity)
		}
	}
	s.st.opt.Metrics.Size(int(s.st.size.Load()))
	return n
}

func (s *shard[K, V]) pushFront(n *node[K, V]) {
	n.prev = nil
	n.next = s.head
	if s.head != nil {
		s.head.prev = n
	}
	s.head = n
	if s.tail == nil {
		s.tail = n
	}
}

// moveToFront promotes n to MRU in O(1).
func (s *shard[K, V]) moveToFront(n *node[K, V]) {
	if n == s.head {
		return
	}
	s.unlink(n)
	s.pushFront(n)
}

func (s *shard[K, V]) unlink(n *node[K, V]) {
	if n.prev != nil {
		n.prev.next = n.next
	}
	if n.next != nil {
		n.next.prev = n.prev
	}
	if s.head == n {
		s.head = n.next
	}
	if s.tail == n {
		s.tail = n.prev
	}
	n.prev, n.next = nil, nil
}

// evictLocked removes the node, updates metrics, and calls OnEvict.
func (s *shard[K, V]) evictLocked(n *node[K, V], reason EvictReason) {
	s.unlink(n)
	delete(s.m, n.key)
	s.st.size.Add(-1)
	s.st.opt.Metrics.Evict(reason)
	s.st.opt.Metrics.Size(int(s.st.size.Load()))
	if cb := s.st.opt.OnEvict; cb != nil {
		cb(n.key, n.entry, reason)
	}
}
