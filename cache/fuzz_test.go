package cache

import (
	"strings"
	"testing"
	"time"
)

// Fuzz Set/SetAt/Get/Remove semantics under arbitrary string inputs.
// Key/value lengths are capped to keep memory bounded.
func FuzzStore_SetGetRemove(f *testing.F) {
	f.Add("", "", int64(0))
	f.Add("a", "1", int64(1))
	f.Add("αβγ", "δ", int64(-5))
	f.Add("emoji🙂", "🙂🙂", int64(1_000))
	f.Add("long", strings.Repeat("x", 1024), int64(7))

	f.Fuzz(func(t *testing.T, k, v string, skew int64) {
		const limit = 1 << 12
		if len(k) > limit {
			k = k[:limit]
		}
		if len(v) > limit {
			v = v[:limit]
		}

		clk := newFakeClock()
		st := New[string, string](Options[string, string]{Clock: clk, MaxEntries: 16})
		t.Cleanup(st.Close)

		first := st.Set(k, v)
		got, ok := st.Get(k)
		if !ok || got.Value != v {
			t.Fatalf("after Set/Get: want %q, got %q ok=%v", v, got.Value, ok)
		}

		at := clk.Now().Add(time.Duration(skew))
		_, landed := st.SetAt(k, "other", at)
		if landed != !at.Before(first.StoredAt) {
			t.Fatalf("SetAt skew=%d landed=%v", skew, landed)
		}
		want := v
		if landed {
			want = "other"
		}
		if cur, _ := st.Get(k); cur.Value != want {
			t.Fatalf("value after SetAt: want %q, got %q", want, cur.Value)
		}

		if !st.Remove(k) {
			t.Fatalf("Remove must return true")
		}
		if _, ok := st.Get(k); ok {
			t.Fatalf("key must be absent after Remove")
		}
	})
}
