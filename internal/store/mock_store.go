// ABOUTME: Mock Store implementation for testing
// ABOUTME: Allows tests to run without SQLite

package store

import (
	"context"
	"sync"
)

type mockKey struct {
	kind Kind
	id   string
}

// MockStore is an in-memory Store implementation for testing.
type MockStore struct {
	mu     sync.RWMutex
	values map[mockKey][]byte
	order  []mockKey

	// PutErr, when set, is returned by every Put.
	PutErr error
}

// NewMockStore creates a new MockStore.
func NewMockStore() *MockStore {
	return &MockStore{
		values: make(map[mockKey][]byte),
	}
}

// Get returns a copy of the stored value.
func (m *MockStore) Get(_ context.Context, kind Kind, id string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	v, ok := m.values[mockKey{kind, id}]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), v...), nil
}

// Put stores a copy of value.
func (m *MockStore) Put(_ context.Context, kind Kind, id string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.PutErr != nil {
		return m.PutErr
	}

	k := mockKey{kind, id}
	if _, exists := m.values[k]; !exists {
		m.order = append(m.order, k)
	}
	m.values[k] = append([]byte(nil), value...)
	return nil
}

// Delete removes a value.
func (m *MockStore) Delete(_ context.Context, kind Kind, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	k := mockKey{kind, id}
	if _, ok := m.values[k]; !ok {
		return ErrNotFound
	}
	delete(m.values, k)
	for i, o := range m.order {
		if o == k {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	return nil
}

// List returns values of kind in insertion order.
func (m *MockStore) List(_ context.Context, kind Kind) ([][]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out [][]byte
	for _, k := range m.order {
		if k.kind == kind {
			out = append(out, append([]byte(nil), m.values[k]...))
		}
	}
	return out, nil
}

// Close is a no-op.
func (m *MockStore) Close() error {
	return nil
}

// Count returns the number of values of kind.
func (m *MockStore) Count(kind Kind) int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	n := 0
	for k := range m.values {
		if k.kind == kind {
			n++
		}
	}
	return n
}
