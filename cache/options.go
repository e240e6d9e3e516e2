package cache

import "time"

// EvictReason explains why an entry left the store.
type EvictReason int

const (
	// EvictCapacity: dropped as least recently used to honor MaxEntries.
	EvictCapacity EvictReason = iota
	// EvictRemoved: removed explicitly (invalidation, failed update).
	EvictRemoved
	// EvictCleared: dropped by Clear.
	EvictCleared
)

func (r EvictReason) String() string {
	switch r {
	case EvictCapacity:
		return "capacity"
	case EvictRemoved:
		return "removed"
	case EvictCleared:
		return "cleared"
	default:
		return "unknown"
	}
}

// Metrics exposes store-level observability hooks.
// A NoopMetrics implementation is provided and used by default.
type Metrics interface {
	Hit()
	Miss()
	Evict(reason EvictReason)
	Size(entries int)
}

// Clock provides the timestamp stamped on entries; tests pass a fake.
type Clock interface{ Now() time.Time }

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock is the wall clock used when Options.Clock is nil.
var SystemClock Clock = systemClock{}

// Options configures the store. Zero values are safe;
// defaults are applied in New():
//   - Shards <= 0    => auto (rounded up to power of two)
//   - MaxEntries 0   => unbounded
//   - nil Metrics    => NoopMetrics
//   - nil Clock      => SystemClock
type Options[K comparable, V any] struct {
	// Shards defines the number of shards. If 0, an automatic value is chosen
	// (≈ 2*GOMAXPROCS) and rounded to the next power of two.
	Shards int

	// MaxEntries bounds the store. The budget is split evenly across shards
	// and each shard evicts its least recently used entry when full.
	MaxEntries int

	// Clone copies values on the way in and out so callers never alias
	// resident data. Nil stores values as given.
	Clone func(V) V

	// OnEvict is called under the shard lock; keep callbacks lightweight.
	OnEvict func(k K, e Entry[V], reason EvictReason)
	Metrics Metrics

	Clock Clock
}
