package reflector_test

import (
	"context"
	"strings"
	"sync"

	"github.com/smallnest/rmm/persist"
)

// memStore is an in-memory persist.Store double, mirroring the fakes
// used in persist's and userstate's own test suites.
type memStore struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newMemStore() *memStore {
	return &memStore{data: make(map[string][]byte)}
}

func (m *memStore) k(namespace []string, key string) string {
	return strings.Join(namespace, "/") + "/" + key
}

func (m *memStore) Get(_ context.Context, namespace []string, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[m.k(namespace, key)]
	return v, ok, nil
}

func (m *memStore) Put(_ context.Context, namespace []string, key string, value []byte) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[m.k(namespace, key)] = value
	return true
}

func (m *memStore) Delete(_ context.Context, namespace []string, key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, m.k(namespace, key))
	return true
}

var _ persist.Store = (*memStore)(nil)
