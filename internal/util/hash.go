// Package util contains internal helpers (hashing, sharding).
//
//revive:disable:var-naming  // allow 'util' as an internal helpers package name
package util

import (
	"fmt"
)

// Hasher lets a key type supply its own 64-bit hash and skip the generic
// switch below.
type Hasher interface{ Hash64() uint64 }

// Fnv64a hashes common key types using 64-bit FNV-1a.
// Supported: Hasher, string, []byte, int, int64, uint64, fmt.Stringer.
// Anything else panics.
func Fnv64a[K comparable](k K) uint64 {
	switch v := any(k).(type) {
	case Hasher:
		return v.Hash64()
	case string:
		return FnvString(v)
	case []byte:
		return fnv64aFromBytes(v)
	case uint64:
		return fnv64aFromUint64(v)
	case int:
		return fnv64aFromUint64(uint64(v))
	case int64:
		return fnv64aFromUint64(uint64(v))
	case fmt.Stringer:
		return FnvString(v.String())
	default:
		panic(fmt.Sprintf("util.Fnv64a: unsupported key type %T; implement Hasher or fmt.Stringer", k))
	}
}

const (
	fnvOffset64 = 1469598103934665603
	fnvPrime64  = 1099511628211
)

// FnvString hashes s without converting it to a byte slice.
func FnvString(s string) uint64 {
	return FnvMix(fnvOffset64, s)
}

// FnvMix folds s into an existing FNV-1a state h. Composite keys chain
// their fields through it.
func FnvMix(h uint64, s string) uint64 {
	for i := 0; i < len(s); i++ {
		h ^= uint64(s[i])
		h *= fnvPrime64
	}
	return h
}

func fnv64aFromBytes(b []byte) uint64 {
	h := uint64(fnvOffset64)
	for _, c := range b {
		h ^= uint64(c)
		h *= fnvPrime64
	}
	return h
}

func fnv64aFromUint64(u uint64) uint64 {
	h := uint64(fnvOffset64)
	for i := 0; i < 8; i++ {
		h ^= uint64(byte(u))
		h *= fnvPrime64
		u >>= 8
	}
	return h
}
