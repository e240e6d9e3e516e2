package cache

import (
	"math/rand"
	"strconv"
	"sync/atomic"
	"testing"

	"github.com/IvanBrykalov/syncache/model"
)

// benchmarkMix exercises a read/write mix against a warm store keyed the
// way the engine keys it. RunParallel spawns GOMAXPROCS workers.
func benchmarkMix(b *testing.B, readsPct int) {
	const users = 4_096
	st := New[model.Key, any](Options[model.Key, any]{})
	b.Cleanup(st.Close)

	keys := make([]model.Key, 0, users*2)
	for i := 0; i < users; i++ {
		u := "u" + strconv.Itoa(i)
		keys = append(keys, model.Friends(u), model.ActivityKey(u, "a"+strconv.Itoa(i)))
	}
	for _, k := range keys[:len(keys)/2] {
		st.Set(k, []model.User{{ID: "x"}})
	}

	b.ReportAllocs()
	b.ResetTimer()

	var seed int64 = 1
	b.RunParallel(func(pb *testing.PB) {
		r := rand.New(rand.NewSource(atomic.AddInt64(&seed, 1)))
		i := 0
		for pb.Next() {
			k := keys[i%len(keys)]
			if r.Intn(100) < readsPct {
				st.Get(k)
			} else {
				st.Set(k, []model.User{{ID: "x"}})
			}
			i++
		}
	})
}

func BenchmarkStore_90r10w(b *testing.B) { benchmarkMix(b, 90) }
func BenchmarkStore_50r50w(b *testing.B) { benchmarkMix(b, 50) }

// benchmarkMixInt removes key hashing noise and exposes the shard hot path.
func benchmarkMixInt(b *testing.B, readsPct int) {
	st := New[int, int](Options[int, int]{MaxEntries: 100_000})
	b.Cleanup(st.Close)

	for i := 0; i < 50_000; i++ {
		st.Set(i, 1)
	}

	b.ReportAllocs()
	b.ResetTimer()

	var seed int64 = 1
	keyMask := (1 << 16) - 1

	b.RunParallel(func(pb *testing.PB) {
		r := rand.New(rand.NewSource(atomic.AddInt64(&seed, 1)))
		i := 0
		for pb.Next() {
			k := i & keyMask
			if r.Intn(100) < readsPct {
				st.Get(k)
			} else {
				st.Set(k, 1)
			}
			i++
		}
	})
}

func BenchmarkStore_IntKeys_90r10w(b *testing.B) { benchmarkMixInt(b, 90) }
func BenchmarkStore_IntKeys_50r50w(b *testing.B) { benchmarkMixInt(b, 50) }
