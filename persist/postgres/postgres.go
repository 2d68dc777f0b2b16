// Package postgres implements persist.Store over a pgx connection pool,
// grounded on checkpoint/postgres/postgres_test.go's expected table
// shape and query forms (that package's implementation file was pruned
// from the retrieved pack; this is a fresh implementation matching the
// surviving test's contract, generalized from a checkpoint row to a
// namespaced key/value row).
package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// pool is the subset of pgxpool.Pool (and pgxmock.PgxPoolIface) this
// store needs, so tests can substitute a mock pool the way
// checkpoint/postgres/postgres_test.go does.
type pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// Store persists namespaced key/value pairs in a single table, one row
// per (namespace, key).
type Store struct {
	pool  pool
	table string
}

// New creates a Store using table as the backing table name.
func New(pool pool, table string) *Store {
	if table == "" {
		table = "rmm_kv"
	}
	return &Store{pool: pool, table: table}
}

func (s *Store) namespaceKey(namespace []string) string {
	return strings.Join(namespace, "/")
}

// Get fetches the value stored under namespace/key. A missing row is
// reported as (nil, false, nil), not an error.
func (s *Store) Get(ctx context.Context, namespace []string, key string) ([]byte, bool, error) {
	query := fmt.Sprintf("SELECT value FROM %s WHERE namespace = $1 AND key = $2", s.table)
	rows, err := s.pool.Query(ctx, query, s.namespaceKey(namespace), key)
	if err != nil {
		return nil, false, fmt.Errorf("persist/postgres: get: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, false, rows.Err()
	}
	var value []byte
	if err := rows.Scan(&value); err != nil {
		return nil, false, fmt.Errorf("persist/postgres: scan: %w", err)
	}
	return value, true, nil
}

// Put upserts value under namespace/key. Best-effort: failures return
// false rather than an error, per spec §4.10.
func (s *Store) Put(ctx context.Context, namespace []string, key string, value []byte) bool {
	query := fmt.Sprintf(
		`INSERT INTO %s (namespace, key, value) VALUES ($1, $2, $3)
		 ON CONFLICT (namespace, key) DO UPDATE SET value = EXCLUDED.value`, s.table)
	_, err := s.pool.Exec(ctx, query, s.namespaceKey(namespace), key, value)
	return err == nil
}

// Delete removes the row under namespace/key. A missing row is not a
// failure.
func (s *Store) Delete(ctx context.Context, namespace []string, key string) bool {
	query := fmt.Sprintf("DELETE FROM %s WHERE namespace = $1 AND key = $2", s.table)
	_, err := s.pool.Exec(ctx, query, s.namespaceKey(namespace), key)
	return err == nil
}
