package service

import (
	"time"

	"github.com/IvanBrykalov/syncache/failure"
)

// Result is the outcome of a read or write: a value tagged with its
// source, or a classified error.
type Result[T any] struct {
	Value  T
	Source Source
	// StoredAt is the cache timestamp of Value when it came from the
	// cache or was just stored.
	StoredAt time.Time
	Err      error
}

// OK reports success.
func (r Result[T]) OK() bool { return r.Err == nil }

// Kind classifies Err; failure.Unknown on success.
func (r Result[T]) Kind() failure.Kind { return failure.KindOf(r.Err) }

// Get unpacks the result Go-style.
func (r Result[T]) Get() (T, error) { return r.Value, r.Err }

func fail[T any](err error) Result[T] { return Result[T]{Err: err} }
