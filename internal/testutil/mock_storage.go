// mock_storage.go - Mock storage implementation for testing
package testutil

import (
	"errors"
	"sync"

	"github.com/plantwatch/console/internal/storage"
)

// MockStorage implements storage.Store in memory for testing
type MockStorage struct {
	values map[string][]byte
	puts   int
	putErr error
	mu     sync.RWMutex
}

// NewMockStorage creates an empty mock storage
func NewMockStorage() *MockStorage {
	return &MockStorage{values: make(map[string][]byte)}
}

func (m *MockStorage) Get(key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	v, ok := m.values[key]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return append([]byte(nil), v...), nil
}

func (m *MockStorage) Put(key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.puts++
	if m.putErr != nil {
		return m.putErr
	}
	if key == "" {
		return errors.New("key is empty")
	}
	m.values[key] = append([]byte(nil), value...)
	return nil
}

func (m *MockStorage) Delete(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.values, key)
	return nil
}

func (m *MockStorage) Close() error {
	return nil
}

// Ensure MockStorage implements storage.Store
var _ storage.Store = (*MockStorage)(nil)

// Test Helper Methods

// SetPutError makes every later Put fail with err (nil restores success)
func (m *MockStorage) SetPutError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.putErr = err
}

// PutCount returns how many times Put was called
func (m *MockStorage) PutCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.puts
}

// Clear removes all values
func (m *MockStorage) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values = make(map[string][]byte)
}
