package storage

import (
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/bloom"
)

// PebbleOptions tunes the Pebble backend. Zero values keep Pebble defaults.
type PebbleOptions struct {
	CacheSizeBytes        int64
	BloomFilterBitsPerKey int
	NoSync                bool
}

// PebbleStore implements Store on an embedded Pebble database.
type PebbleStore struct {
	mu     sync.RWMutex
	db     *pebble.DB
	cache  *pebble.Cache
	sync   *pebble.WriteOptions
	closed bool
}

// NewPebbleStore opens (or creates) a Pebble database in dir.
func NewPebbleStore(dir string, opts PebbleOptions) (*PebbleStore, error) {
	if info, err := os.Stat(dir); err == nil {
		if !info.IsDir() {
			return nil, fmt.Errorf("storage: %s exists and is not a directory", dir)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("storage: stat path: %w", err)
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("storage: ensure directory: %w", err)
	}

	pebbleOpts := &pebble.Options{}
	if opts.CacheSizeBytes > 0 {
		pebbleOpts.Cache = pebble.NewCache(opts.CacheSizeBytes)
	}
	if opts.BloomFilterBitsPerKey > 0 {
		level := pebble.LevelOptions{
			FilterPolicy: bloom.FilterPolicy(opts.BloomFilterBitsPerKey),
			FilterType:   pebble.TableFilter,
		}
		pebbleOpts.Levels = make([]pebble.LevelOptions, 7)
		for i := range pebbleOpts.Levels {
			pebbleOpts.Levels[i] = level
		}
	}

	db, err := pebble.Open(dir, pebbleOpts)
	if err != nil {
		if pebbleOpts.Cache != nil {
			pebbleOpts.Cache.Unref()
		}
		return nil, fmt.Errorf("storage: pebble open: %w", err)
	}

	wo := pebble.Sync
	if opts.NoSync {
		wo = pebble.NoSync
	}

	return &PebbleStore{db: db, cache: pebbleOpts.Cache, sync: wo}, nil
}

var errClosed = errors.New("storage: store is closed")

func (s *PebbleStore) Get(key string) ([]byte, error) {
	if err := validKey(key); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, errClosed
	}

	value, closer, err := s.db.Get([]byte(key))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("storage: get %s: %w", key, err)
	}
	defer closer.Close()

	// value is only valid until closer.Close.
	out := make([]byte, len(value))
	copy(out, value)
	return out, nil
}

func (s *PebbleStore) Put(key string, value []byte) error {
	if err := validKey(key); err != nil {
		return err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return errClosed
	}

	if err := s.db.Set([]byte(key), value, s.sync); err != nil {
		return fmt.Errorf("storage: set %s: %w", key, err)
	}
	return nil
}

func (s *PebbleStore) Delete(key string) error {
	if err := validKey(key); err != nil {
		return err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return errClosed
	}

	if err := s.db.Delete([]byte(key), s.sync); err != nil {
		return fmt.Errorf("storage: delete %s: %w", key, err)
	}
	return nil
}

// Close flushes and closes the database. Subsequent calls are no-ops.
func (s *PebbleStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true

	err := s.db.Close()
	if s.cache != nil {
		s.cache.Unref()
	}
	return err
}
