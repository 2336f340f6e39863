// Package pebblestore is a storage engine keeping documents and postings in
// a cockroachdb/pebble database. A writer stages mutations in an indexed
// batch and commits it with a synced write; readers see pebble snapshots.
package pebblestore

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/Adithya-Monish-Kumar-K/searchindexer/internal/indexer/store"
	"github.com/cockroachdb/pebble"
)

const (
	Name   = "pebble"
	dbDir  = "pebble"
	marker = "PEBBLE_INDEX"
)

// Engine shares one open database per location between the writer and any
// readers of this process; pebble itself refuses a second open of the same
// directory.
type Engine struct {
	mu     sync.Mutex
	dbs    map[string]*sharedDB
	logger *slog.Logger
}

type sharedDB struct {
	db   *pebble.DB
	refs int
}

func NewEngine() *Engine {
	return &Engine{
		dbs:    make(map[string]*sharedDB),
		logger: slog.Default().With("component", "pebble-engine"),
	}
}

func (e *Engine) Name() string { return Name }

func (e *Engine) Exists(location string) (bool, error) {
	_, err := os.Stat(filepath.Join(location, marker))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return false, fmt.Errorf("checking index marker: %w", err)
}

func (e *Engine) IsLocked(location string) (bool, error) {
	return store.IsLockedDir(location)
}

func (e *Engine) Unlock(location string) error {
	return store.UnlockDir(location)
}

func (e *Engine) OpenWriter(location string) (store.Writer, error) {
	lock, err := store.AcquireLock(location)
	if err != nil {
		return nil, err
	}
	db, err := e.acquire(location)
	if err != nil {
		lock.Release()
		return nil, err
	}
	return &Writer{
		engine:   e,
		location: location,
		db:       db,
		batch:    db.NewIndexedBatch(),
		lock:     lock,
		logger:   e.logger.With("location", location),
	}, nil
}

func (e *Engine) OpenReader(location string) (store.Reader, error) {
	exists, err := e.Exists(location)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, fmt.Errorf("no pebble index in %s: %w", location, os.ErrNotExist)
	}
	db, err := e.acquire(location)
	if err != nil {
		return nil, err
	}
	return &Reader{engine: e, location: location, snap: db.NewSnapshot()}, nil
}

func (e *Engine) acquire(location string) (*pebble.DB, error) {
	key := filepath.Clean(location)
	e.mu.Lock()
	defer e.mu.Unlock()
	if s, ok := e.dbs[key]; ok {
		s.refs++
		return s.db, nil
	}
	db, err := pebble.Open(filepath.Join(location, dbDir), &pebble.Options{
		MemTableSize: 16 << 20,
	})
	if err != nil {
		return nil, fmt.Errorf("opening pebble index: %w", err)
	}
	e.dbs[key] = &sharedDB{db: db, refs: 1}
	return db, nil
}

func (e *Engine) release(location string) error {
	key := filepath.Clean(location)
	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := e.dbs[key]
	if !ok {
		return nil
	}
	s.refs--
	if s.refs > 0 {
		return nil
	}
	delete(e.dbs, key)
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("closing pebble index: %w", err)
	}
	return nil
}

func writeMarker(location string) error {
	path := filepath.Join(location, marker)
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	if err := os.WriteFile(path, []byte(Name+"\n"), 0644); err != nil {
		return fmt.Errorf("writing index marker: %w", err)
	}
	return nil
}
