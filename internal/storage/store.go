// Package storage holds the console's durable local key/value state.
package storage

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNotFound is returned by Get when no value is stored under the key.
var ErrNotFound = errors.New("storage: key not found")

// Store defines the interface for durable key/value storage.
type Store interface {
	Get(key string) ([]byte, error)
	Put(key string, value []byte) error
	Delete(key string) error
	Close() error
}

const (
	BackendFile   = "file"
	BackendPebble = "pebble"
)

// Open returns the store selected by backend rooted at dir.
func Open(backend, dir string) (Store, error) {
	switch strings.ToLower(strings.TrimSpace(backend)) {
	case "", BackendFile:
		return NewLocalStore(dir)
	case BackendPebble:
		return NewPebbleStore(dir, PebbleOptions{})
	default:
		return nil, fmt.Errorf("storage: unknown backend %q", backend)
	}
}

func validKey(key string) error {
	if key == "" {
		return errors.New("storage: key is empty")
	}
	return nil
}
