package sqlitestore

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/IvanBrykalov/syncache/persist"
)

func openTemp(t *testing.T) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cache.db")
	s, err := Open(path, "")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s, path
}

func TestStore_SaveLoad(t *testing.T) {
	ctx := context.Background()
	s, path := openTemp(t)

	at := time.Unix(1_700_000_000, 123)
	require.NoError(t, s.Save(ctx, persist.Record{Key: "friends:u1", UserID: "u1", Payload: []byte(`[{"id":"u2"}]`), StoredAt: at}))
	require.NoError(t, s.Save(ctx, persist.Record{Key: "activities:u1", UserID: "u1", Payload: []byte(`[]`), StoredAt: at}))
	require.NoError(t, s.Save(ctx, persist.Record{Key: "friends:u9", UserID: "u9", Payload: []byte(`[]`), StoredAt: at}))

	recs, err := s.Load(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "activities:u1", recs[0].Key)
	assert.Equal(t, "friends:u1", recs[1].Key)
	assert.JSONEq(t, `[{"id":"u2"}]`, string(recs[1].Payload))
	assert.True(t, recs[1].StoredAt.Equal(at))

	_, err = os.Stat(path)
	assert.NoError(t, err, "database file should be created")
}

// An older record never replaces a newer one.
func TestStore_SaveKeepsNewest(t *testing.T) {
	ctx := context.Background()
	s, _ := openTemp(t)

	newer := time.Unix(200, 0)
	require.NoError(t, s.Save(ctx, persist.Record{Key: "k", UserID: "u", Payload: []byte(`"new"`), StoredAt: newer}))
	require.NoError(t, s.Save(ctx, persist.Record{Key: "k", UserID: "u", Payload: []byte(`"old"`), StoredAt: time.Unix(100, 0)}))

	recs, err := s.Load(ctx, "u")
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, `"new"`, string(recs[0].Payload))
}

func TestStore_DeleteAndPurge(t *testing.T) {
	ctx := context.Background()
	s, _ := openTemp(t)

	for _, k := range []string{"a", "b", "c"} {
		require.NoError(t, s.Save(ctx, persist.Record{Key: k, UserID: "u", Payload: []byte(`1`), StoredAt: time.Now()}))
	}
	require.NoError(t, s.Save(ctx, persist.Record{Key: "a", UserID: "other", Payload: []byte(`1`), StoredAt: time.Now()}))

	require.NoError(t, s.Delete(ctx, "u", "a"))
	n, err := s.Purge(ctx, "u")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	recs, err := s.Load(ctx, "other")
	require.NoError(t, err)
	assert.Len(t, recs, 1, "purge is per user")
}

func TestOpen_Validation(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "x.db"), "bad; DROP TABLE")
	assert.Error(t, err)

	assert.Error(t, (&Store{}).Save(context.Background(), persist.Record{}))
	assert.NoError(t, (*Store)(nil).Close())
}
