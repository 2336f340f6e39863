package writer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Adithya-Monish-Kumar-K/searchindexer/internal/indexer/store"
	apperrors "github.com/Adithya-Monish-Kumar-K/searchindexer/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/searchindexer/pkg/resilience"
	"golang.org/x/sync/singleflight"
)

// Guard is consulted before every commit. A non-nil error aborts the commit;
// the indexer uses it to re-check leadership.
type Guard func() error

// Manager serialises all access to the writer of one location.
type Manager struct {
	engine   store.Engine
	location string
	logger   *slog.Logger
	retry    resilience.RetryConfig

	mu     sync.Mutex
	writer store.Writer
	closed bool
	guard  Guard

	readerMu sync.Mutex
	reader   *sharedReader
	epoch    uint64
	sf       singleflight.Group
}

func newManager(engine store.Engine, location string) *Manager {
	return &Manager{
		engine:   engine,
		location: location,
		logger:   slog.Default().With("component", "writer", "engine", engine.Name(), "location", location),
		retry: resilience.RetryConfig{
			MaxAttempts:  4,
			InitialDelay: 50 * time.Millisecond,
			MaxDelay:     time.Second,
			Multiplier:   2,
			Retryable:    apperrors.IsTransient,
		},
	}
}

func (m *Manager) Location() string { return m.location }

func (m *Manager) Engine() string { return m.engine.Name() }

// SetGuard installs the commit guard.
func (m *Manager) SetGuard(g Guard) {
	m.mu.Lock()
	m.guard = g
	m.mu.Unlock()
}

// IsOpen reports whether a writer is currently held.
func (m *Manager) IsOpen() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writer != nil
}

// Writer returns the writer, opening it if needed.
func (m *Manager) Writer(ctx context.Context) (store.Writer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writerLocked(ctx)
}

func (m *Manager) writerLocked(ctx context.Context) (store.Writer, error) {
	if m.closed {
		return nil, apperrors.ErrWriterClosed
	}
	if m.writer != nil {
		return m.writer, nil
	}

	// Nothing in this process holds the lock (the registry guarantees one
	// manager per location), so a lock file here is either left by a crash
	// or held by another process that lost the executive role. Removing it
	// is racy against the latter; leadership makes that window rare.
	locked, err := m.engine.IsLocked(m.location)
	if err != nil {
		return nil, fmt.Errorf("checking writer lock: %w", err)
	}
	if locked {
		m.logger.Warn("removing stale write lock")
		if err := m.engine.Unlock(m.location); err != nil {
			return nil, err
		}
	}

	var w store.Writer
	err = resilience.Retry(ctx, "open writer", m.retry, func() error {
		var err error
		w, err = m.engine.OpenWriter(m.location)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("opening writer at %s: %w", m.location, err)
	}
	m.writer = w
	m.logger.Info("writer opened")
	return w, nil
}

// Apply runs fn with the writer held. A writer-fatal error closes the
// writer; the next call reopens it.
func (m *Manager) Apply(ctx context.Context, fn func(store.Writer) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, err := m.writerLocked(ctx)
	if err != nil {
		return err
	}
	err = fn(w)
	if apperrors.Classify(err) == apperrors.KindWriterFatal {
		m.logger.Error("writer failed, closing", "error", err)
		m.dropWriterLocked()
	}
	return err
}

// Commit makes applied changes durable and visible. It is a no-op when no
// writer is open.
func (m *Manager) Commit(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.guard != nil {
		if err := m.guard(); err != nil {
			return err
		}
	}
	if m.closed {
		return apperrors.ErrWriterClosed
	}
	if m.writer == nil {
		return nil
	}
	if err := m.writer.Commit(); err != nil {
		m.logger.Error("commit failed, closing writer", "error", err)
		m.dropWriterLocked()
		return apperrors.Fatal("commit", err)
	}
	m.Invalidate()
	return nil
}

// Exists reports whether an index has been committed at the location.
func (m *Manager) Exists() (bool, error) {
	return m.engine.Exists(m.location)
}

// Create opens the writer and commits an empty index.
func (m *Manager) Create(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, err := m.writerLocked(ctx)
	if err != nil {
		return err
	}
	if err := w.Commit(); err != nil {
		m.dropWriterLocked()
		return apperrors.Fatal("create", err)
	}
	m.Invalidate()
	m.logger.Info("index created")
	return nil
}

// Reset deletes every document and commits.
func (m *Manager) Reset(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, err := m.writerLocked(ctx)
	if err != nil {
		return err
	}
	if err := w.DeleteAll(); err != nil {
		m.dropWriterLocked()
		return apperrors.Fatal("delete all", err)
	}
	if err := w.Commit(); err != nil {
		m.dropWriterLocked()
		return apperrors.Fatal("commit", err)
	}
	m.Invalidate()
	m.logger.Info("index reset")
	return nil
}

// ReleaseWriter closes the writer, discarding uncommitted changes, and
// reports whether one was open. The next write reopens it.
func (m *Manager) ReleaseWriter() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	open := m.writer != nil
	m.dropWriterLocked()
	return open
}

func (m *Manager) dropWriterLocked() {
	if m.writer == nil {
		return
	}
	if err := m.writer.Close(); err != nil {
		m.logger.Warn("closing failed writer", "error", err)
	}
	m.writer = nil
}

// Reader returns a view of the last commit. Callers must Close it. Views
// stay valid after later commits; the underlying reader is closed once
// the last view of it is.
func (m *Manager) Reader(ctx context.Context) (store.Reader, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		m.readerMu.Lock()
		if m.reader != nil {
			s := m.reader
			s.refs.Add(1)
			m.readerMu.Unlock()
			return &view{sharedReader: s}, nil
		}
		epoch := m.epoch
		m.readerMu.Unlock()

		_, err, _ := m.sf.Do("reader", func() (any, error) {
			r, err := m.engine.OpenReader(m.location)
			if err != nil {
				return nil, err
			}
			s := &sharedReader{Reader: r}
			s.refs.Store(1)
			m.readerMu.Lock()
			defer m.readerMu.Unlock()
			if m.epoch != epoch || m.reader != nil {
				// A commit landed while opening; try again.
				s.release()
				return nil, nil
			}
			m.reader = s
			return nil, nil
		})
		if err != nil {
			return nil, fmt.Errorf("opening reader at %s: %w", m.location, err)
		}
	}
}

// Invalidate drops the cached reader so the next Reader call sees the
// latest commit.
func (m *Manager) Invalidate() {
	m.readerMu.Lock()
	old := m.reader
	m.reader = nil
	m.epoch++
	m.readerMu.Unlock()
	m.sf.Forget("reader")
	if old != nil {
		old.release()
	}
}

// Close discards uncommitted changes and releases the writer and reader.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	var errs []error
	if m.writer != nil {
		errs = append(errs, m.writer.Close())
		m.writer = nil
	}
	m.Invalidate()
	m.logger.Info("writer manager closed")
	return errors.Join(errs...)
}

type sharedReader struct {
	store.Reader
	refs atomic.Int64
}

func (s *sharedReader) release() {
	if s.refs.Add(-1) == 0 {
		if err := s.Reader.Close(); err != nil {
			slog.Default().Warn("closing reader", "component", "writer", "error", err)
		}
	}
}

type view struct {
	*sharedReader
	once sync.Once
}

func (v *view) Close() error {
	v.once.Do(v.release)
	return nil
}
