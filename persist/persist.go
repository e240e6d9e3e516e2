// Package persist defines the optional backing store that keeps a user's
// working set across restarts. The in-memory cache stays authoritative for
// reads; the backing store is written through on a best-effort basis and
// read once at sign-in.
package persist

import (
	"context"
	"errors"
	"time"
)

// Record is one persisted collection.
type Record struct {
	Key      string    // model.Key.String()
	UserID   string    // session owner
	Payload  []byte    // JSON encoding of the collection
	StoredAt time.Time // entry timestamp in the cache
}

// Validate reports whether the record can be stored.
func (r Record) Validate() error {
	switch {
	case r.Key == "":
		return errors.New("persist: record has no key")
	case r.UserID == "":
		return errors.New("persist: record has no user")
	}
	return nil
}

// Store is a durable or remote backing for cache entries.
type Store interface {
	// Load returns every record of userID.
	Load(ctx context.Context, userID string) ([]Record, error)
	// Save inserts or replaces a record. A record older than the stored
	// one is ignored.
	Save(ctx context.Context, r Record) error
	Delete(ctx context.Context, userID, key string) error
	// Purge drops every record of userID and reports how many went.
	Purge(ctx context.Context, userID string) (int, error)
	Close() error
}

// None is the no-op Store used when persistence is off.
type None struct{}

func (None) Load(context.Context, string) ([]Record, error) { return nil, nil }
func (None) Save(context.Context, Record) error             { return nil }
func (None) Delete(context.Context, string, string) error   { return nil }
func (None) Purge(context.Context, string) (int, error)     { return 0, nil }
func (None) Close() error                                   { return nil }

var _ Store = None{}
