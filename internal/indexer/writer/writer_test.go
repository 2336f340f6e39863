package writer

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/Adithya-Monish-Kumar-K/searchindexer/internal/indexer/segment"
	"github.com/Adithya-Monish-Kumar-K/searchindexer/internal/indexer/store"
	apperrors "github.com/Adithya-Monish-Kumar-K/searchindexer/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func doc(id, title string) store.Document {
	return store.Document{ID: id, Fields: map[string][]string{"title": {title}}}
}

func acquire(t *testing.T, reg *Registry, dir string) *Manager {
	t.Helper()
	m, err := reg.Acquire(segment.NewEngine(), dir)
	require.NoError(t, err)
	t.Cleanup(func() { reg.Release(m) })
	return m
}

func TestRegistrySharesManagerPerLocation(t *testing.T) {
	reg := NewRegistry()
	dir := t.TempDir()

	a, err := reg.Acquire(segment.NewEngine(), dir)
	require.NoError(t, err)
	b, err := reg.Acquire(segment.NewEngine(), filepath.Join(dir, "sub", ".."))
	require.NoError(t, err)
	assert.Same(t, a, b)
	assert.Equal(t, 1, reg.Len())

	require.NoError(t, reg.Release(a))
	assert.Equal(t, 1, reg.Len())
	require.NoError(t, reg.Release(b))
	assert.Equal(t, 0, reg.Len())

	_, err = a.Writer(context.Background())
	assert.ErrorIs(t, err, apperrors.ErrWriterClosed)
}

func TestWriterRemovesStaleLock(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, store.LockFileName), []byte("pid=1\n"), 0644))

	m := acquire(t, NewRegistry(), dir)
	w, err := m.Writer(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, w)
	assert.True(t, m.IsOpen())
}

func TestCommitRefreshesReader(t *testing.T) {
	ctx := context.Background()
	m := acquire(t, NewRegistry(), t.TempDir())
	require.NoError(t, m.Create(ctx))

	before, err := m.Reader(ctx)
	require.NoError(t, err)
	defer before.Close()
	assert.Equal(t, 0, before.DocCount())

	require.NoError(t, m.Apply(ctx, func(w store.Writer) error {
		return w.Upsert(doc("1", "Pebble internals"))
	}))
	require.NoError(t, m.Commit(ctx))

	after, err := m.Reader(ctx)
	require.NoError(t, err)
	defer after.Close()
	assert.Equal(t, 1, after.DocCount())
	assert.Equal(t, 0, before.DocCount(), "earlier views keep their snapshot")

	again, err := m.Reader(ctx)
	require.NoError(t, err)
	assert.Same(t, after.(*view).sharedReader, again.(*view).sharedReader)
	require.NoError(t, again.Close())
	require.NoError(t, again.Close())
}

func TestCommitGuard(t *testing.T) {
	ctx := context.Background()
	m := acquire(t, NewRegistry(), t.TempDir())
	require.NoError(t, m.Create(ctx))
	require.NoError(t, m.Apply(ctx, func(w store.Writer) error {
		return w.Upsert(doc("1", "guarded"))
	}))

	m.SetGuard(func() error { return apperrors.ErrNotExecutive })
	require.ErrorIs(t, m.Commit(ctx), apperrors.ErrNotExecutive)

	m.SetGuard(nil)
	require.NoError(t, m.Commit(ctx))
	r, err := m.Reader(ctx)
	require.NoError(t, err)
	defer r.Close()
	assert.Equal(t, 1, r.DocCount())
}

func TestResetEmptiesIndex(t *testing.T) {
	ctx := context.Background()
	m := acquire(t, NewRegistry(), t.TempDir())
	exists, err := m.Exists()
	require.NoError(t, err)
	assert.False(t, exists)

	require.NoError(t, m.Apply(ctx, func(w store.Writer) error {
		return errors.Join(w.Upsert(doc("1", "a")), w.Upsert(doc("2", "b")))
	}))
	require.NoError(t, m.Commit(ctx))
	exists, err = m.Exists()
	require.NoError(t, err)
	assert.True(t, exists)

	require.NoError(t, m.Reset(ctx))
	r, err := m.Reader(ctx)
	require.NoError(t, err)
	defer r.Close()
	assert.Equal(t, 0, r.DocCount())
}

// brokenEngine hands out writers whose Commit fails.
type brokenEngine struct {
	store.Engine
	opened atomic.Int32
}

func (e *brokenEngine) OpenWriter(location string) (store.Writer, error) {
	w, err := e.Engine.OpenWriter(location)
	if err != nil {
		return nil, err
	}
	e.opened.Add(1)
	return brokenWriter{w}, nil
}

type brokenWriter struct{ store.Writer }

func (brokenWriter) Commit() error { return errors.New("disk full") }

func TestCommitFailureDropsWriter(t *testing.T) {
	ctx := context.Background()
	engine := &brokenEngine{Engine: segment.NewEngine()}
	m, err := NewRegistry().Acquire(engine, t.TempDir())
	require.NoError(t, err)
	defer m.Close()

	require.NoError(t, m.Apply(ctx, func(w store.Writer) error { return w.Upsert(doc("1", "x")) }))
	err = m.Commit(ctx)
	require.ErrorIs(t, err, apperrors.ErrWriterFatal)
	assert.False(t, m.IsOpen())

	require.NoError(t, m.Apply(ctx, func(w store.Writer) error { return w.Upsert(doc("1", "x")) }))
	assert.Equal(t, int32(2), engine.opened.Load(), "the writer is recreated")
}

func TestApplyFatalErrorDropsWriter(t *testing.T) {
	ctx := context.Background()
	m := acquire(t, NewRegistry(), t.TempDir())

	err := m.Apply(ctx, func(store.Writer) error { return apperrors.Fatal("upsert", errors.New("io")) })
	require.Error(t, err)
	assert.False(t, m.IsOpen())

	err = m.Apply(ctx, func(store.Writer) error { return apperrors.Invalid("bad doc") })
	require.Error(t, err)
	assert.True(t, m.IsOpen(), "data errors keep the writer")
}

func TestReleaseWriterDiscardsUncommitted(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	m := acquire(t, NewRegistry(), dir)
	require.NoError(t, m.Create(ctx))
	require.NoError(t, m.Apply(ctx, func(w store.Writer) error { return w.Upsert(doc("1", "pending")) }))

	assert.True(t, m.ReleaseWriter())
	assert.False(t, m.IsOpen())
	assert.False(t, m.ReleaseWriter())
	locked, err := store.IsLockedDir(dir)
	require.NoError(t, err)
	assert.False(t, locked)

	require.NoError(t, m.Commit(ctx))
	r, err := m.Reader(ctx)
	require.NoError(t, err)
	defer r.Close()
	assert.Equal(t, 0, r.DocCount())
}
