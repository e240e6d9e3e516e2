package cache

import (
	"sync"
	"testing"
	"time"

	"golang.org/x/sync/errgroup"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock { return &fakeClock{t: time.Unix(1_700_000_000, 0)} }

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.t
}

func (f *fakeClock) add(d time.Duration) {
	f.mu.Lock()
	f.t = f.t.Add(d)
	f.mu.Unlock()
}

type countingMetrics struct {
	mu     sync.Mutex
	hits   int
	misses int
	size   int
	evicts map[EvictReason]int
}

func (m *countingMetrics) Hit()  { m.mu.Lock(); m.hits++; m.mu.Unlock() }
func (m *countingMetrics) Miss() { m.mu.Lock(); m.misses++; m.mu.Unlock() }
func (m *countingMetrics) Evict(r EvictReason) {
	m.mu.Lock()
	if m.evicts == nil {
		m.evicts = map[EvictReason]int{}
	}
	m.evicts[r]++
	m.mu.Unlock()
}
func (m *countingMetrics) Size(n int) { m.mu.Lock(); m.size = n; m.mu.Unlock() }

// Basic Set/Get/Remove semantics and entry metadata.
func TestStore_BasicSetGetRemove(t *testing.T) {
	t.Parallel()

	clk := newFakeClock()
	st := New[string, int](Options[string, int]{Clock: clk})
	t.Cleanup(st.Close)

	e1 := st.Set("a", 1)
	if e1.Value != 1 || !e1.StoredAt.Equal(clk.Now()) || e1.Version == 0 {
		t.Fatalf("unexpected entry %+v", e1)
	}
	clk.add(time.Second)
	e2 := st.Set("a", 11)
	if e2.Version <= e1.Version {
		t.Fatalf("version must grow: %d -> %d", e1.Version, e2.Version)
	}
	if got, ok := st.Get("a"); !ok || got.Value != 11 || got.Version != e2.Version {
		t.Fatalf("Get a want 11, got %+v ok=%v", got, ok)
	}

	if !st.Remove("a") {
		t.Fatal("Remove a must be true")
	}
	if st.Remove("a") {
		t.Fatal("second Remove must be false")
	}
	if _, ok := st.Get("a"); ok {
		t.Fatal("a must be absent after Remove")
	}
}

// A write stamped before the resident entry must not overwrite it.
func TestStore_SetAt_LastWriterWins(t *testing.T) {
	t.Parallel()

	clk := newFakeClock()
	st := New[string, string](Options[string, string]{Clock: clk})
	t.Cleanup(st.Close)

	fetchStarted := clk.Now()
	clk.add(10 * time.Millisecond)
	local := st.Set("friends", "optimistic")

	got, ok := st.SetAt("friends", "stale-server", fetchStarted)
	if ok {
		t.Fatal("older write must be refused")
	}
	if got.Value != "optimistic" || got.Version != local.Version {
		t.Fatalf("refusal must return resident entry, got %+v", got)
	}

	if _, ok := st.SetAt("friends", "fresh-server", clk.Now().Add(time.Millisecond)); !ok {
		t.Fatal("newer write must land")
	}
	if e, _ := st.Get("friends"); e.Value != "fresh-server" {
		t.Fatalf("want fresh-server, got %q", e.Value)
	}
	// Equal timestamps land too.
	if _, ok := st.SetAt("other", "x", fetchStarted); !ok {
		t.Fatal("write to absent key must land")
	}
}

func TestStore_Update(t *testing.T) {
	t.Parallel()

	st := New[string, []int](Options[string, []int]{})
	t.Cleanup(st.Close)

	e, ok := st.Update("l", func(cur []int, ok bool) ([]int, bool) {
		if ok {
			t.Fatal("absent key reported present")
		}
		return append(cur, 1), true
	})
	if !ok || len(e.Value) != 1 {
		t.Fatalf("insert through Update failed: %+v", e)
	}
	st.Update("l", func(cur []int, _ bool) ([]int, bool) { return append(cur, 2), true })
	if got, _ := st.Get("l"); len(got.Value) != 2 || got.Value[1] != 2 {
		t.Fatalf("want [1 2], got %v", got.Value)
	}
	if _, ok := st.Update("l", func(cur []int, _ bool) ([]int, bool) { return nil, false }); ok {
		t.Fatal("keep=false must remove")
	}
	if st.Has("l") {
		t.Fatal("l must be gone")
	}
}

// Concurrent Updates to one key are serialized: no increment is lost.
func TestStore_Update_Serialized(t *testing.T) {
	t.Parallel()

	st := New[string, int](Options[string, int]{Shards: 4})
	t.Cleanup(st.Close)

	const N = 200
	var g errgroup.Group
	for i := 0; i < N; i++ {
		g.Go(func() error {
			st.Update("n", func(cur int, _ bool) (int, bool) { return cur + 1, true })
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatal(err)
	}
	if e, _ := st.Get("n"); e.Value != N {
		t.Fatalf("want %d, got %d", N, e.Value)
	}
}

// Values are copied in and out when Clone is configured.
func TestStore_CloneIsolation(t *testing.T) {
	t.Parallel()

	st := New[string, []string](Options[string, []string]{
		Clone: func(v []string) []string { return append([]string(nil), v...) },
	})
	t.Cleanup(st.Close)

	in := []string{"a", "b"}
	st.Set("k", in)
	in[0] = "mutated"

	out, _ := st.Get("k")
	if out.Value[0] != "a" {
		t.Fatal("store aliased caller input")
	}
	out.Value[1] = "mutated"
	again, _ := st.Get("k")
	if again.Value[1] != "b" {
		t.Fatal("store aliased returned value")
	}
}

// Deterministic LRU eviction: single shard, small bound.
// Accessing "a" promotes it; inserting "c" evicts LRU ("b").
func TestStore_EvictionLRU(t *testing.T) {
	t.Parallel()

	m := &countingMetrics{}
	var evicted []string
	st := New[string, int](Options[string, int]{
		MaxEntries: 2,
		Shards:     1,
		Metrics:    m,
		OnEvict:    func(k string, _ Entry[int], _ EvictReason) { evicted = append(evicted, k) },
	})
	t.Cleanup(st.Close)

	st.Set("a", 1)
	st.Set("b", 2)
	if _, ok := st.Get("a"); !ok {
		t.Fatal("expect hit for a")
	}
	st.Set("c", 3)

	if st.Has("b") {
		t.Fatal("b must be evicted")
	}
	if !st.Has("a") || !st.Has("c") {
		t.Fatal("a and c must survive")
	}
	if len(evicted) != 1 || evicted[0] != "b" {
		t.Fatalf("OnEvict want [b], got %v", evicted)
	}
	if m.evicts[EvictCapacity] != 1 || m.size != 2 {
		t.Fatalf("metrics evicts=%v size=%d", m.evicts, m.size)
	}
}

func TestStore_ClearAndKeys(t *testing.T) {
	t.Parallel()

	m := &countingMetrics{}
	st := New[string, int](Options[string, int]{Shards: 8, Metrics: m})
	t.Cleanup(st.Close)

	for i, k := range []string{"a", "b", "c", "d"} {
		st.Set(k, i)
	}
	if len(st.Keys()) != 4 || st.Len() != 4 {
		t.Fatalf("want 4 keys, got %v", st.Keys())
	}
	if n := st.Clear(); n != 4 {
		t.Fatalf("Clear dropped %d, want 4", n)
	}
	if st.Len() != 0 || m.size != 0 || m.evicts[EvictCleared] != 4 {
		t.Fatalf("after Clear len=%d size=%d evicts=%v", st.Len(), m.size, m.evicts)
	}
}

func TestStore_SnapshotRestore(t *testing.T) {
	t.Parallel()

	st := New[string, string](Options[string, string]{})
	t.Cleanup(st.Close)

	orig := st.Set("requests", "r1,r2")
	snap := st.Snapshot("requests", "friends", "requests")
	if got := snap.Keys(); len(got) != 2 {
		t.Fatalf("duplicate keys must be captured once, got %v", got)
	}
	if _, present, known := snap.Lookup("friends"); present || !known {
		t.Fatal("absent key must be captured as absent")
	}

	st.Set("requests", "r2")
	st.Set("friends", "f1")

	restored := st.Restore(snap, nil)
	if len(restored) != 2 {
		t.Fatalf("want 2 restored, got %v", restored)
	}
	e, ok := st.Get("requests")
	if !ok || e != orig {
		t.Fatalf("restore must be exact: want %+v got %+v", orig, e)
	}
	if st.Has("friends") {
		t.Fatal("key absent at capture must be removed")
	}
}

// The guard lets callers skip keys that moved on since the snapshot.
func TestStore_Restore_Guarded(t *testing.T) {
	t.Parallel()

	st := New[string, string](Options[string, string]{})
	t.Cleanup(st.Close)

	st.Set("a", "a0")
	st.Set("b", "b0")
	snap := st.Snapshot("a", "b")

	ours := st.Set("a", "a-optimistic")
	st.Set("b", "b-optimistic")
	st.Set("b", "b-later-write")

	restored := st.Restore(snap, func(k string, cur Entry[string], present bool) bool {
		return present && cur.Version == ours.Version
	})
	if len(restored) != 1 || restored[0] != "a" {
		t.Fatalf("want only a restored, got %v", restored)
	}
	if e, _ := st.Get("b"); e.Value != "b-later-write" {
		t.Fatalf("later write clobbered: %q", e.Value)
	}
}

func TestStore_ClosedRejectsWrites(t *testing.T) {
	t.Parallel()

	st := New[string, int](Options[string, int]{})
	st.Set("a", 1)
	st.Close()
	st.Close()

	if st.Has("a") {
		t.Fatal("Close must clear")
	}
	st.Set("b", 2)
	if _, ok := st.SetAt("c", 3, time.Now()); ok {
		t.Fatal("SetAt after Close must fail")
	}
	if st.Len() != 0 {
		t.Fatalf("writes after Close landed: %v", st.Keys())
	}
}

func TestStore_Metrics_HitMiss(t *testing.T) {
	t.Parallel()

	m := &countingMetrics{}
	st := New[string, int](Options[string, int]{Metrics: m})
	t.Cleanup(st.Close)

	st.Get("x")
	st.Set("x", 1)
	st.Get("x")
	st.Has("x")
	if m.hits != 1 || m.misses != 1 {
		t.Fatalf("hits=%d misses=%d", m.hits, m.misses)
	}
}

func TestStore_PeekSkipsMetrics(t *testing.T) {
	t.Parallel()

	m := &countingMetrics{}
	st := New[string, int](Options[string, int]{Metrics: m})
	t.Cleanup(st.Close)

	st.Set("x", 1)
	if e, ok := st.Peek("x"); !ok || e.Value != 1 {
		t.Fatalf("Peek want 1, got %+v ok=%v", e, ok)
	}
	if _, ok := st.Peek("y"); ok {
		t.Fatal("Peek of absent key must miss")
	}
	if m.hits != 0 || m.misses != 0 {
		t.Fatalf("Peek touched metrics: hits=%d misses=%d", m.hits, m.misses)
	}
}
