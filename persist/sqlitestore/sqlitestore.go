// Package sqlitestore persists cache records in a local SQLite file.
package sqlitestore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/IvanBrykalov/syncache/persist"
)

// DefaultTable is the table used when Open is given an empty name.
const DefaultTable = "syncache_entries"

var tableName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]{0,62}$`)

// Store implements persist.Store on SQLite.
type Store struct {
	db    *sql.DB
	table string

	upsert, load, del, purge string
}

var _ persist.Store = (*Store)(nil)

// Open opens (or creates) the database at path and ensures the schema.
// path may be ":memory:" for tests.
func Open(path, table string) (*Store, error) {
	if table == "" {
		table = DefaultTable
	}
	if !tableName.MatchString(table) {
		return nil, fmt.Errorf("sqlitestore: invalid table name %q", table)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: open %q: %w", path, err)
	}
	// Limit SQLite to a single open connection to avoid "database is locked" errors
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlitestore: ping %q: %w", path, err)
	}
	schema := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %[1]s (
			user_id TEXT NOT NULL,
			cache_key TEXT NOT NULL,
			cache_value BLOB NOT NULL,
			cache_timestamp INTEGER NOT NULL,
			PRIMARY KEY (user_id, cache_key)
		);`, table)
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlitestore: create table %s: %w", table, err)
	}

	return &Store{
		db:    db,
		table: table,
		upsert: fmt.Sprintf(`INSERT INTO %s (user_id, cache_key, cache_value, cache_timestamp) VALUES (?, ?, ?, ?)
			ON CONFLICT(user_id, cache_key) DO UPDATE SET cache_value = excluded.cache_value, cache_timestamp = excluded.cache_timestamp
			WHERE excluded.cache_timestamp >= %[1]s.cache_timestamp`, table),
		load:  fmt.Sprintf(`SELECT cache_key, cache_value, cache_timestamp FROM %s WHERE user_id = ? ORDER BY cache_key`, table),
		del:   fmt.Sprintf(`DELETE FROM %s WHERE user_id = ? AND cache_key = ?`, table),
		purge: fmt.Sprintf(`DELETE FROM %s WHERE user_id = ?`, table),
	}, nil
}

func (s *Store) Load(ctx context.Context, userID string) ([]persist.Record, error) {
	rows, err := s.db.QueryContext(ctx, s.load, userID)
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: load %s: %w", userID, err)
	}
	defer func() { _ = rows.Close() }()

	var out []persist.Record
	for rows.Next() {
		var (
			r  persist.Record
			ts int64
		)
		if err := rows.Scan(&r.Key, &r.Payload, &ts); err != nil {
			return nil, fmt.Errorf("sqlitestore: scan: %w", err)
		}
		r.UserID = userID
		r.StoredAt = time.Unix(0, ts)
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) Save(ctx context.Context, r persist.Record) error {
	if err := r.Validate(); err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, s.upsert, r.UserID, r.Key, r.Payload, r.StoredAt.UnixNano()); err != nil {
		return fmt.Errorf("sqlitestore: save %s: %w", r.Key, err)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, userID, key string) error {
	if _, err := s.db.ExecContext(ctx, s.del, userID, key); err != nil {
		return fmt.Errorf("sqlitestore: delete %s: %w", key, err)
	}
	return nil
}

func (s *Store) Purge(ctx context.Context, userID string) (int, error) {
	res, err := s.db.ExecContext(ctx, s.purge, userID)
	if err != nil {
		return 0, fmt.Errorf("sqlitestore: purge %s: %w", userID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("sqlitestore: purge %s: %w", userID, err)
	}
	return int(n), nil
}

// Close closes the database. Safe to call on a nil store.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	err := s.db.Close()
	if errors.Is(err, sql.ErrConnDone) {
		return nil
	}
	return err
}
