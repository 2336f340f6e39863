package store

import (
	"testing"

	apperrors "github.com/Adithya-Monish-Kumar-K/searchindexer/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLockIsExclusive(t *testing.T) {
	dir := t.TempDir()

	lock, err := AcquireLock(dir)
	require.NoError(t, err)

	_, err = AcquireLock(dir)
	assert.ErrorIs(t, err, apperrors.ErrIndexLocked)

	locked, err := IsLockedDir(dir)
	require.NoError(t, err)
	assert.True(t, locked)

	require.NoError(t, lock.Release())
	require.NoError(t, lock.Release())
	locked, err = IsLockedDir(dir)
	require.NoError(t, err)
	assert.False(t, locked)
}

func TestUnlockDirClearsStaleLock(t *testing.T) {
	dir := t.TempDir()
	_, err := AcquireLock(dir)
	require.NoError(t, err)

	require.NoError(t, UnlockDir(dir))
	require.NoError(t, UnlockDir(dir))

	lock, err := AcquireLock(dir)
	require.NoError(t, err)
	require.NoError(t, lock.Release())
}

func TestReleaseLeavesForeignLock(t *testing.T) {
	dir := t.TempDir()
	old, err := AcquireLock(dir)
	require.NoError(t, err)

	require.NoError(t, UnlockDir(dir))
	current, err := AcquireLock(dir)
	require.NoError(t, err)

	held, err := old.Held()
	require.NoError(t, err)
	assert.False(t, held)
	require.NoError(t, old.Release())

	locked, err := IsLockedDir(dir)
	require.NoError(t, err)
	assert.True(t, locked, "a broken lock's holder must not remove its successor's lock")

	held, err = current.Held()
	require.NoError(t, err)
	assert.True(t, held)
	require.NoError(t, current.Release())
	locked, err = IsLockedDir(dir)
	require.NoError(t, err)
	assert.False(t, locked)
}

func TestDocumentValidate(t *testing.T) {
	tests := []struct {
		name    string
		doc     Document
		wantErr bool
	}{
		{"ok", Document{ID: "1", Fields: map[string][]string{"title": {"x"}}}, false},
		{"no id", Document{Fields: map[string][]string{"title": {"x"}}}, true},
		{"reserved field", Document{ID: "1", Fields: map[string][]string{IDField: {"2"}}}, true},
		{"empty field name", Document{ID: "1", Fields: map[string][]string{"": {"x"}}}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.doc.Validate()
			if !tt.wantErr {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Equal(t, apperrors.KindData, apperrors.Classify(err))
		})
	}
}
