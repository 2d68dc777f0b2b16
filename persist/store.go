// Package persist implements the Gradient/Weight Store (spec §4.10): a
// namespaced key-value facade in front of the RerankerState, the
// GradientAccumulator, and the per-user MessageBuffer/staging slot.
// Concrete backends (postgres, redisstore, sqlitestore) satisfy the
// narrow Store interface; WeightStore and BufferStore layer the
// spec's three logical keys, JSON encoding, and schema-validation
// fallback on top of it.
package persist

import (
	"context"
	"encoding/json"
	"log"
	"os"
	"strings"
)

// Logger is the ambient logging capability every degrade-and-continue
// path in this package uses.
type Logger interface {
	Printf(format string, args ...any)
}

func defaultLogger() Logger {
	return log.New(os.Stderr, "rmm/persist: ", log.LstdFlags)
}

// Store is the narrow namespaced key-value capability spec §6 requires:
// get(namespace[], key), put(namespace[], key, value), delete(namespace[], key).
// Every concrete backend must behave best-effort on Put/Delete (spec
// §4.10: "Writes are best-effort; return a success boolean, never throw").
type Store interface {
	Get(ctx context.Context, namespace []string, key string) ([]byte, bool, error)
	Put(ctx context.Context, namespace []string, key string, value []byte) bool
	Delete(ctx context.Context, namespace []string, key string) bool
}

// JoinKey renders a namespace+key pair into the single string form
// spec §4.10 documents for logical keys, e.g.
// "{namespace}/{userId}/reranker/state".
func JoinKey(namespace []string, key string) string {
	parts := append(append([]string{}, namespace...), key)
	return strings.Join(parts, "/")
}

// loadJSON fetches key, decodes it into dest, and validates it against
// validate. Any failure — missing key, decode error, or failed
// validation — returns false and the caller falls back to a fresh
// default, never an error. Backend, decode and validation failures
// (PersistenceLoadFailure/SchemaValidationFailure per spec §7) are
// logged; a missing key is not.
func loadJSON[T any](ctx context.Context, store Store, logger Logger, namespace []string, key string, dest *T, validate func(*T) bool) bool {
	raw, ok, err := store.Get(ctx, namespace, key)
	if err != nil {
		logger.Printf("persist: load %s failed, using default: %v", JoinKey(namespace, key), err)
		return false
	}
	if !ok {
		return false
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		logger.Printf("persist: load %s: invalid schema, using default: %v", JoinKey(namespace, key), err)
		return false
	}
	if validate != nil && !validate(dest) {
		logger.Printf("persist: load %s: failed validation, using default", JoinKey(namespace, key))
		return false
	}
	return true
}

// saveJSON marshals value and writes it under namespace/key. A write
// failure is logged and swallowed (spec §4.8/§4.10: "log and continue
// with in-memory state").
func saveJSON[T any](ctx context.Context, store Store, logger Logger, namespace []string, key string, value T) bool {
	raw, err := json.Marshal(value)
	if err != nil {
		logger.Printf("persist: marshal %s failed: %v", JoinKey(namespace, key), err)
		return false
	}
	ok := store.Put(ctx, namespace, key, raw)
	if !ok {
		logger.Printf("persist: save %s failed, in-memory state unsaved", JoinKey(namespace, key))
	}
	return ok
}
