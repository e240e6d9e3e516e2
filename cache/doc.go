// Package cache provides the session store of the sync engine: a generic,
// sharded, in-memory map of timestamped entries.
//
// Design
//
//   - Concurrency: the store is split into shards, each protected by an
//     RWMutex. The default shard count is a power of two derived from
//     GOMAXPROCS. Writes to different keys contend only when the keys land
//     in the same shard; writes to one key are serialized.
//
//   - Entries: every value is stored with StoredAt (the logical write time)
//     and a store-wide Version. SetAt is last-writer-wins on StoredAt, so a
//     refresh that started before a local write cannot overwrite it.
//
//   - Update runs a read-modify-write under the shard lock. Optimistic
//     mutations go through it.
//
//   - Snapshot/Restore capture a set of keys and put them back later,
//     guarded by a caller predicate evaluated against the current entry.
//
//   - Clear locks every shard before emptying any of them.
//
//   - Bound: MaxEntries is optional; when set each shard keeps an intrusive
//     MRU↔LRU list and drops its least recently used entry when full.
//
//   - Metrics: Options.Metrics receives Hit/Miss/Evict/Size signals.
//     NoopMetrics is the default.
//
// Basic usage
//
//	st := cache.New[model.Key, any](cache.Options[model.Key, any]{Clone: model.Clone})
//	st.Set(model.Friends("u1"), []model.User{{ID: "u2"}})
//	if e, ok := st.Get(model.Friends("u1")); ok {
//	    _ = e.Value.([]model.User)
//	}
//
// Thread-safety & complexity
//
// All methods on Store are safe for concurrent use. Get/Set/Update/Remove
// are O(1) expected; Keys, Len and Clear visit every shard.
package cache
