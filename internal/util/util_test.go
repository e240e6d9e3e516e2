package util

import (
	"testing"
)

type stringerKey struct{ a, b string }

func (k stringerKey) String() string { return k.a + "/" + k.b }

type hashedKey uint64

func (h hashedKey) Hash64() uint64 { return uint64(h) }

func TestNextPow2(t *testing.T) {
	t.Parallel()

	tests := []struct{ in, want uint64 }{
		{0, 1}, {1, 1}, {2, 2}, {3, 4}, {17, 32}, {1 << 40, 1 << 40}, {1<<63 + 1, 1 << 63},
	}
	for _, tt := range tests {
		if got := NextPow2(tt.in); got != tt.want {
			t.Fatalf("NextPow2(%d) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestShardCount(t *testing.T) {
	t.Parallel()

	if got := ShardCount(3); got != 4 {
		t.Fatalf("ShardCount(3) = %d, want 4", got)
	}
	auto := ShardCount(0)
	if auto < 1 || auto > maxShards || auto&(auto-1) != 0 {
		t.Fatalf("ShardCount(0) = %d, want power of two in [1,%d]", auto, maxShards)
	}
}

func TestFnv64a_StableAcrossKeyTypes(t *testing.T) {
	t.Parallel()

	if Fnv64a("friends:u1") != FnvString("friends:u1") {
		t.Fatal("string and FnvString disagree")
	}
	k := stringerKey{"friends", "u1"}
	if Fnv64a(k) != FnvString("friends/u1") {
		t.Fatal("Stringer keys must hash their String()")
	}
	if Fnv64a(hashedKey(42)) != 42 {
		t.Fatal("Hasher keys must use Hash64")
	}
	if FnvMix(FnvString("ab"), "cd") != FnvString("abcd") {
		t.Fatal("FnvMix must chain")
	}
}

func TestFnv64a_UnsupportedPanics(t *testing.T) {
	t.Parallel()

	defer func() {
		if recover() == nil {
			t.Fatal("expected panic for unsupported key type")
		}
	}()
	Fnv64a(struct{ x float64 }{1})
}
