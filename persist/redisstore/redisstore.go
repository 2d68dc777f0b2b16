// Package redisstore implements persist.Store over go-redis, using one
// hash per namespace and one hash field per key, grounded on the
// teacher's redis.NewClient(&redis.Options{...}) usage in
// examples/rag_falkordb_simple/main.go.
package redisstore

import (
	"context"
	"errors"
	"strings"

	"github.com/redis/go-redis/v9"
)

// client is the subset of *redis.Client this store needs, so tests can
// substitute a miniredis-backed client.
type client interface {
	HGet(ctx context.Context, key, field string) *redis.StringCmd
	HSet(ctx context.Context, key string, values ...any) *redis.IntCmd
	HDel(ctx context.Context, key string, fields ...string) *redis.IntCmd
}

// Store persists namespaced key/value pairs as Redis hash fields: one
// hash per namespace, one field per key.
type Store struct {
	client client
	prefix string
}

// New creates a Store. prefix namespaces all hash keys this store
// touches, so one Redis instance can host multiple logical stores.
func New(c client, prefix string) *Store {
	return &Store{client: c, prefix: prefix}
}

func (s *Store) hashKey(namespace []string) string {
	if s.prefix == "" {
		return strings.Join(namespace, "/")
	}
	return s.prefix + ":" + strings.Join(namespace, "/")
}

// Get fetches the value stored under namespace/key.
func (s *Store) Get(ctx context.Context, namespace []string, key string) ([]byte, bool, error) {
	val, err := s.client.HGet(ctx, s.hashKey(namespace), key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return val, true, nil
}

// Put upserts value under namespace/key. Best-effort: a backend
// failure returns false rather than an error, per spec §4.10.
func (s *Store) Put(ctx context.Context, namespace []string, key string, value []byte) bool {
	return s.client.HSet(ctx, s.hashKey(namespace), key, value).Err() == nil
}

// Delete removes the field under namespace/key.
func (s *Store) Delete(ctx context.Context, namespace []string, key string) bool {
	return s.client.HDel(ctx, s.hashKey(namespace), key).Err() == nil
}
