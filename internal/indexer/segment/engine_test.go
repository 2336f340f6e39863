package segment

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/Adithya-Monish-Kumar-K/searchindexer/internal/indexer/store"
	apperrors "github.com/Adithya-Monish-Kumar-K/searchindexer/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func product(id, category, title string) store.Document {
	return store.Document{ID: id, Category: category, Fields: map[string][]string{"title": {title}}}
}

func openWriter(t *testing.T, e *Engine, dir string) store.Writer {
	t.Helper()
	w, err := e.OpenWriter(dir)
	require.NoError(t, err)
	t.Cleanup(func() { w.Close() })
	return w
}

func openReader(t *testing.T, e *Engine, dir string) store.Reader {
	t.Helper()
	r, err := e.OpenReader(dir)
	require.NoError(t, err)
	t.Cleanup(func() { r.Close() })
	return r
}

func TestCommitMakesDocumentsVisible(t *testing.T) {
	e := NewEngine()
	dir := t.TempDir()

	exists, err := e.Exists(dir)
	require.NoError(t, err)
	assert.False(t, exists)

	w := openWriter(t, e, dir)
	require.NoError(t, w.Upsert(product("1", "books", "Distributed systems")))
	require.NoError(t, w.Upsert(product("2", "books", "Search engines")))

	_, err = e.OpenReader(dir)
	require.Error(t, err, "nothing committed yet")

	require.NoError(t, w.Commit())
	exists, err = e.Exists(dir)
	require.NoError(t, err)
	assert.True(t, exists)

	r := openReader(t, e, dir)
	assert.Equal(t, 2, r.DocCount())
	ids, err := r.Search("title", "searching")
	require.NoError(t, err)
	assert.Equal(t, []string{"2"}, ids)

	got, ok, err := r.Document("1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "books", got.Category)
}

func TestUpsertReplacesAcrossCommits(t *testing.T) {
	e := NewEngine()
	dir := t.TempDir()
	w := openWriter(t, e, dir)

	require.NoError(t, w.Upsert(product("1", "books", "first edition")))
	require.NoError(t, w.Commit())
	require.NoError(t, w.Upsert(product("1", "books", "second edition")))
	require.NoError(t, w.Commit())

	r := openReader(t, e, dir)
	assert.Equal(t, 1, r.DocCount())
	got, ok, err := r.Document("1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []string{"second edition"}, got.Fields["title"])

	ids, err := r.Search("title", "first")
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestDeleteThenAddInOneCommit(t *testing.T) {
	e := NewEngine()
	dir := t.TempDir()
	w := openWriter(t, e, dir)

	require.NoError(t, w.Upsert(product("5", "", "old")))
	require.NoError(t, w.Commit())
	require.NoError(t, w.DeleteByTerm(store.IDField, "5"))
	require.NoError(t, w.Upsert(product("5", "", "new")))
	require.NoError(t, w.Commit())

	r := openReader(t, e, dir)
	got, ok, err := r.Document("5")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []string{"new"}, got.Fields["title"])
}

func TestDeleteByCategory(t *testing.T) {
	e := NewEngine()
	dir := t.TempDir()
	w := openWriter(t, e, dir)

	require.NoError(t, w.Upsert(product("1", "books", "a")))
	require.NoError(t, w.Upsert(product("2", "music", "b")))
	require.NoError(t, w.Commit())
	require.NoError(t, w.Upsert(product("3", "books", "c")))
	require.NoError(t, w.DeleteByTerm(store.CategoryField, "books"))
	require.NoError(t, w.Commit())

	r := openReader(t, e, dir)
	assert.Equal(t, 1, r.DocCount())
	_, ok, err := r.Document("2")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestDeleteAllDropsSegmentFiles(t *testing.T) {
	e := NewEngine()
	dir := t.TempDir()
	w := openWriter(t, e, dir)

	for _, id := range []string{"1", "2", "3"} {
		require.NoError(t, w.Upsert(product(id, "", "doc "+id)))
		require.NoError(t, w.Commit())
	}
	require.NoError(t, w.DeleteAll())
	require.NoError(t, w.Commit())

	r := openReader(t, e, dir)
	assert.Zero(t, r.DocCount())

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	var commits int
	for _, entry := range entries {
		assert.False(t, strings.HasSuffix(entry.Name(), Extension), "segment %s should be removed", entry.Name())
		if strings.HasPrefix(entry.Name(), commitPrefix) {
			commits++
		}
	}
	assert.Equal(t, 1, commits)
}

func TestWriterLockIsExclusive(t *testing.T) {
	e := NewEngine()
	dir := t.TempDir()
	openWriter(t, e, dir)

	_, err := e.OpenWriter(dir)
	assert.ErrorIs(t, err, apperrors.ErrIndexLocked)

	locked, err := e.IsLocked(dir)
	require.NoError(t, err)
	assert.True(t, locked)
}

func TestCloseDiscardsUncommittedAndReopenRestores(t *testing.T) {
	e := NewEngine()
	dir := t.TempDir()

	w, err := e.OpenWriter(dir)
	require.NoError(t, err)
	require.NoError(t, w.Upsert(product("1", "", "kept")))
	require.NoError(t, w.Commit())
	require.NoError(t, w.Upsert(product("2", "", "lost")))
	require.NoError(t, w.Close())
	assert.ErrorIs(t, w.Upsert(product("3", "", "x")), apperrors.ErrWriterClosed)

	w2 := openWriter(t, e, dir)
	require.NoError(t, w2.DeleteByTerm(store.IDField, "1"))
	require.NoError(t, w2.Upsert(product("4", "", "after reopen")))
	require.NoError(t, w2.Commit())

	r := openReader(t, e, dir)
	assert.Equal(t, 1, r.DocCount())
	_, ok, err := r.Document("4")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestReaderIsPointInTime(t *testing.T) {
	e := NewEngine()
	dir := t.TempDir()
	w := openWriter(t, e, dir)

	require.NoError(t, w.Upsert(product("1", "", "one")))
	require.NoError(t, w.Commit())
	r := openReader(t, e, dir)

	require.NoError(t, w.Upsert(product("2", "", "two")))
	require.NoError(t, w.Commit())

	assert.Equal(t, 1, r.DocCount())
	assert.Equal(t, 2, openReader(t, e, dir).DocCount())
}

func TestCorruptSegmentIsRejected(t *testing.T) {
	e := NewEngine()
	dir := t.TempDir()
	w := openWriter(t, e, dir)
	require.NoError(t, w.Upsert(product("1", "", "payload")))
	require.NoError(t, w.Commit())

	path := filepath.Join(dir, segmentFileName(0))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	hdr := decodeHeader(data[:HeaderSize])
	data[hdr.DictOffset+2] ^= 0xFF
	require.NoError(t, os.WriteFile(path, data, 0644))

	_, err = OpenReader(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "checksum")
}

func TestInvalidDocumentIsDataError(t *testing.T) {
	e := NewEngine()
	w := openWriter(t, e, t.TempDir())
	err := w.Upsert(store.Document{Fields: map[string][]string{"title": {"no id"}}})
	assert.Equal(t, apperrors.KindData, apperrors.Classify(err))
}
