// Package cache stores computed scan responses in SQLite, keyed by the
// request parameters that produced them.
package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

const MaxAge = 24 * time.Hour

const schema = `CREATE TABLE IF NOT EXISTS scan_cache (
	key       TEXT PRIMARY KEY,
	payload   BLOB NOT NULL,
	cached_at INTEGER NOT NULL
)`

type Store struct {
	db *sql.DB
}

// Open creates the database file and its directory when missing.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open cache %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init cache schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Read returns the payload for key. Entries older than MaxAge are reported
// as missing unless allowStale is set.
func (s *Store) Read(ctx context.Context, key string, allowStale bool) ([]byte, time.Time, bool, error) {
	var payload []byte
	var ts int64
	err := s.db.QueryRowContext(ctx, `SELECT payload, cached_at FROM scan_cache WHERE key = ?`, key).Scan(&payload, &ts)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, time.Time{}, false, nil
	}
	if err != nil {
		return nil, time.Time{}, false, err
	}
	cachedAt := time.Unix(ts, 0).UTC()
	if !allowStale && time.Since(cachedAt) > MaxAge {
		return nil, cachedAt, false, nil
	}
	return payload, cachedAt, true, nil
}

func (s *Store) Write(ctx context.Context, key string, payload []byte) error {
	return s.write(ctx, key, payload, time.Now())
}

func (s *Store) write(ctx context.Context, key string, payload []byte, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO scan_cache (key, payload, cached_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET payload = excluded.payload, cached_at = excluded.cached_at`,
		key, payload, at.Unix())
	return err
}

// CachedAt is the time of the most recent write, or nil when empty.
func (s *Store) CachedAt(ctx context.Context) (*time.Time, error) {
	var ts sql.NullInt64
	if err := s.db.QueryRowContext(ctx, `SELECT MAX(cached_at) FROM scan_cache`).Scan(&ts); err != nil {
		return nil, err
	}
	if !ts.Valid {
		return nil, nil
	}
	t := time.Unix(ts.Int64, 0).UTC()
	return &t, nil
}
