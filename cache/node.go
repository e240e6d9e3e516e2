package cache

import "time"

// Entry is a resident value together with its write metadata.
type Entry[V any] struct {
	Value V
	// StoredAt is the logical time of the write. For refresh results it is
	// the moment the fetch started, not when it finished.
	StoredAt time.Time
	// Version is unique per write across the whole store and strictly
	// increasing, so callers can tell whether an entry changed since they
	// last looked.
	Version uint64
}

// node is an intrusive doubly linked list element owned by a shard.
// head is MRU, tail is LRU.
type node[K comparable, V any] struct {
	key   K
	entry Entry[V]

	prev *node[K, V]
	next *node[K, V]
}
