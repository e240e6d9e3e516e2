package cache

type snapshotItem[V any] struct {
	entry   Entry[V]
	present bool
}

// Snapshot is a point-in-time copy of a set of keys, including the ones
// that were absent.
type Snapshot[K comparable, V any] struct {
	keys  []K
	items map[K]snapshotItem[V]
}

// Keys returns the captured keys in capture order.
func (s Snapshot[K, V]) Keys() []K { return append([]K(nil), s.keys...) }

// Lookup returns the captured entry for k. known is false when k was not
// part of the snapshot.
func (s Snapshot[K, V]) Lookup(k K) (e Entry[V], present, known bool) {
	it, known := s.items[k]
	return it.entry, it.present, known
}

// Snapshot captures the current entries for keys. Duplicate keys are
// captured once. Each key is read under its own shard lock; keys are not
// captured atomically as a group.
func (st *Store[K, V]) Snapshot(keys ...K) Snapshot[K, V] {
	snap := Snapshot[K, V]{items: make(map[K]snapshotItem[V], len(keys))}
	for _, k := range keys {
		if _, dup := snap.items[k]; dup {
			continue
		}
		s := st.shardFor(k)
		s.mu.RLock()
		var it snapshotItem[V]
		if n, ok := s.m[k]; ok {
			it = snapshotItem[V]{entry: n.entry, present: true}
			it.entry.Value = st.clone(n.entry.Value)
		}
		s.mu.RUnlock()
		snap.keys = append(snap.keys, k)
		snap.items[k] = it
	}
	return snap
}

// Restore writes the snapshot back. For every captured key guard is
// consulted under the shard lock with the current state; a nil guard
// restores unconditionally. Absent-at-capture keys are removed. Returns
// the keys actually restored.
func (st *Store[K, V]) Restore(snap Snapshot[K, V], guard func(k K, cur Entry[V], present bool) bool) []K {
	if st.closed.Load() {
		return nil
	}
	var restored []K
	for _, k := range snap.keys {
		it := snap.items[k]
		it.entry.Value = st.clone(it.entry.Value)
		if st.shardFor(k).restore(k, it, guard) {
			restored = append(restored, k)
		}
	}
	return restored
}
