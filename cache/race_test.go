package cache

import (
	"math/rand"
	"runtime"
	"strconv"
	"sync"
	"testing"
	"time"
)

// A mixed workload of concurrent Set/SetAt/Update/Get/Remove/Snapshot on
// random keys. Should pass under `-race` without detector reports.
func TestRace_Basic(t *testing.T) {
	st := New[string, []byte](Options[string, []byte]{
		MaxEntries: 4_096,
		Shards:     32,
	})
	t.Cleanup(st.Close)

	workers := 4 * runtime.GOMAXPROCS(0)
	keyspace := 10_000
	deadline := time.Now().Add(time.Second)

	var wg sync.WaitGroup
	wg.Add(workers)
	for w := 0; w < workers; w++ {
		go func(id int) {
			defer wg.Done()
			r := rand.New(rand.NewSource(time.Now().UnixNano() + int64(id)*9973))
			for time.Now().Before(deadline) {
				k := "k:" + strconv.Itoa(r.Intn(keyspace))
				switch r.Intn(100) {
				case 0, 1, 2, 3, 4: // ~5% Remove
					st.Remove(k)
				case 5, 6, 7, 8, 9: // ~5% SetAt in the past
					st.SetAt(k, []byte("old"), time.Now().Add(-time.Millisecond))
				case 10, 11, 12, 13, 14: // ~5% Update
					st.Update(k, func(cur []byte, _ bool) ([]byte, bool) { return append(cur[:0:0], 'u'), true })
				case 15: // ~1% Snapshot/Restore
					snap := st.Snapshot(k, "k:0")
					st.Restore(snap, func(string, Entry[[]byte], bool) bool { return r.Intn(2) == 0 })
				case 16, 17, 18, 19: // ~4% Set
					st.Set(k, []byte("x"))
				default: // ~80% Get
					st.Get(k)
				}
			}
		}(w)
	}

	// Clear concurrently with the workload.
	wg.Add(1)
	go func() {
		defer wg.Done()
		for time.Now().Before(deadline) {
			st.Clear()
			time.Sleep(50 * time.Millisecond)
		}
	}()
	wg.Wait()

	if st.Len() > 4_096+32 {
		t.Fatalf("bound not honored: %d", st.Len())
	}
}

// Clear racing with refills and readers keeps the store consistent.
func TestRace_ClearIsAtomic(t *testing.T) {
	st := New[int, int](Options[int, int]{Shards: 16})
	t.Cleanup(st.Close)

	const keys = 256
	fill := func() {
		for i := 0; i < keys; i++ {
			st.Set(i, i)
		}
	}
	fill()

	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 50; i++ {
			st.Clear()
			fill()
		}
		close(stop)
	}()

	for {
		select {
		case <-stop:
			wg.Wait()
			if st.Len() != keys {
				t.Fatalf("want %d after refill, got %d", keys, st.Len())
			}
			return
		default:
			if n := st.Len(); n < 0 || n > keys {
				t.Fatalf("Len out of range: %d", n)
			}
		}
	}
}
