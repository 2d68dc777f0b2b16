// Package sqlitestore implements persist.Store over database/sql with
// the mattn/go-sqlite3 driver: the single-node default backend when no
// Postgres or Redis is configured.
package sqlitestore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/mattn/go-sqlite3"
)

const schema = `CREATE TABLE IF NOT EXISTS rmm_kv (
	namespace TEXT NOT NULL,
	key TEXT NOT NULL,
	value BLOB NOT NULL,
	PRIMARY KEY (namespace, key)
)`

// Store persists namespaced key/value pairs in a local SQLite file.
type Store struct {
	db *sql.DB
}

// Open creates (or reuses) a SQLite database at path and ensures the
// backing table exists.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: open: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlitestore: create schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) namespaceKey(namespace []string) string {
	return strings.Join(namespace, "/")
}

// Get fetches the value stored under namespace/key.
func (s *Store) Get(ctx context.Context, namespace []string, key string) ([]byte, bool, error) {
	var value []byte
	err := s.db.QueryRowContext(ctx, "SELECT value FROM rmm_kv WHERE namespace = ? AND key = ?", s.namespaceKey(namespace), key).Scan(&value)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("sqlitestore: get: %w", err)
	}
	return value, true, nil
}

// Put upserts value under namespace/key. Best-effort: a backend
// failure returns false rather than an error, per spec §4.10.
func (s *Store) Put(ctx context.Context, namespace []string, key string, value []byte) bool {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO rmm_kv (namespace, key, value) VALUES (?, ?, ?)
		 ON CONFLICT(namespace, key) DO UPDATE SET value = excluded.value`,
		s.namespaceKey(namespace), key, value)
	return err == nil
}

// Delete removes the row under namespace/key.
func (s *Store) Delete(ctx context.Context, namespace []string, key string) bool {
	_, err := s.db.ExecContext(ctx, "DELETE FROM rmm_kv WHERE namespace = ? AND key = ?", s.namespaceKey(namespace), key)
	return err == nil
}
