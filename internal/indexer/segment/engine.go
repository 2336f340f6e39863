// Package segment is the default storage engine: each commit flushes the
// writer's memory index into an immutable .spdx segment and publishes a
// generation-numbered commit point listing the live segments and the ids
// deleted from each.
package segment

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/searchindexer/internal/indexer/store"
)

// Name is the engine name used in configuration.
const Name = "segment"

// Engine opens segment-format writers and readers on index directories.
type Engine struct {
	logger *slog.Logger
}

func NewEngine() *Engine {
	return &Engine{logger: slog.Default().With("component", "segment-engine")}
}

func (e *Engine) Name() string { return Name }

func (e *Engine) Exists(location string) (bool, error) {
	gens, err := commitGenerations(location)
	if err != nil {
		return false, err
	}
	return len(gens) > 0, nil
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
	w, err := openIndexWriter(location, lock, e.logger.With("location", location))
	if err != nil {
		lock.Release()
		return nil, err
	}
	return w, nil
}

// OpenReader opens the latest commit. A writer may publish a newer
// generation and remove segment files while the reader is opening; the
// open is then retried against the new commit point.
func (e *Engine) OpenReader(location string) (store.Reader, error) {
	var lastErr error
	for attempt := 0; attempt < 5; attempt++ {
		r, err := openIndexReader(location)
		if err == nil {
			return r, nil
		}
		if !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
		lastErr = err
	}
	return nil, lastErr
}

// removeTempFiles clears .tmp files a crashed writer left behind.
func removeTempFiles(dir string, logger *slog.Logger) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}
	for _, entry := range entries {
		if strings.HasSuffix(entry.Name(), ".tmp") {
			if err := os.Remove(filepath.Join(dir, entry.Name())); err == nil {
				logger.Warn("removed abandoned temp file", "file", entry.Name())
			}
		}
	}
}

func noCommitError(location string) error {
	return fmt.Errorf("no commit point in %s: %w", location, os.ErrNotExist)
}
