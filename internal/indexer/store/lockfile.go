package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/Adithya-Monish-Kumar-K/searchindexer/pkg/errors"
)

// LockFileName is the writer lock both bundled engines use.
const LockFileName = "write.lock"

// Lock is an exclusive writer lock held as a file created with O_EXCL.
// The file carries a random token so a holder never removes a lock that
// was broken and re-acquired by another writer.
type Lock struct {
	path    string
	content string
}

// AcquireLock creates dir/write.lock. It fails with ErrIndexLocked if the
// file already exists.
func AcquireLock(dir string) (*Lock, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating index directory: %w", err)
	}
	path := filepath.Join(dir, LockFileName)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("%s: %w", dir, apperrors.ErrIndexLocked)
		}
		return nil, fmt.Errorf("creating lock file: %w", err)
	}
	host, _ := os.Hostname()
	content := fmt.Sprintf("pid=%d\nhost=%s\ntoken=%s\nacquired=%s\n",
		os.Getpid(), host, uuid.NewString(), time.Now().UTC().Format(time.RFC3339Nano))
	_, werr := f.WriteString(content)
	cerr := f.Close()
	if err := errors.Join(werr, cerr); err != nil {
		os.Remove(path)
		return nil, fmt.Errorf("writing lock file: %w", err)
	}
	return &Lock{path: path, content: content}, nil
}

// Held reports whether the lock file on disk is still the one this Lock
// created.
func (l *Lock) Held() (bool, error) {
	if l == nil || l.path == "" {
		return false, nil
	}
	data, err := os.ReadFile(l.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("reading lock file: %w", err)
	}
	return string(data) == l.content, nil
}

// Release removes the lock file if it is still ours. A lock that was
// removed or taken over by another writer is left alone. Releasing twice
// is a no-op.
func (l *Lock) Release() error {
	held, err := l.Held()
	if err != nil || !held {
		if l != nil {
			l.path = ""
		}
		return err
	}
	err = os.Remove(l.path)
	l.path = ""
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("removing lock file: %w", err)
	}
	return nil
}

// IsLockedDir reports whether dir/write.lock exists.
func IsLockedDir(dir string) (bool, error) {
	_, err := os.Stat(filepath.Join(dir, LockFileName))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return false, fmt.Errorf("checking lock file: %w", err)
}

// UnlockDir force-removes dir/write.lock.
func UnlockDir(dir string) error {
	err := os.Remove(filepath.Join(dir, LockFileName))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("removing stale lock file: %w", err)
	}
	return nil
}
