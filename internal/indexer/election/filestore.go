package election

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// FileStore keeps one file per record in a directory on shared storage.
type FileStore struct {
	dir string
}

func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating election directory: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

func (s *FileStore) Dir() string { return s.dir }

func (s *FileStore) path(key string) (string, error) {
	if key == "" || strings.ContainsAny(key, `/\`) || key == "." || key == ".." {
		return "", fmt.Errorf("invalid record key %q", key)
	}
	return filepath.Join(s.dir, key), nil
}

// Put writes through a temp file and a rename so readers never see a torn
// record.
func (s *FileStore) Put(_ context.Context, key string, rec Record) error {
	path, err := s.path(key)
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(s.dir, key+".*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp record: %w", err)
	}
	_, werr := tmp.Write(MarshalRecord(rec))
	cerr := tmp.Close()
	if err := errors.Join(werr, cerr); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("writing record %s: %w", key, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("publishing record %s: %w", key, err)
	}
	return nil
}

// Create writes the record to a temp file and hard-links it into place.
// link(2) fails with EEXIST when the key is taken, so the record appears
// atomically and complete or not at all.
func (s *FileStore) Create(_ context.Context, key string, rec Record) (bool, error) {
	path, err := s.path(key)
	if err != nil {
		return false, err
	}
	tmp, err := os.CreateTemp(s.dir, key+".*.tmp")
	if err != nil {
		return false, fmt.Errorf("creating temp record: %w", err)
	}
	defer os.Remove(tmp.Name())
	_, werr := tmp.Write(MarshalRecord(rec))
	serr := tmp.Sync()
	cerr := tmp.Close()
	if err := errors.Join(werr, serr, cerr); err != nil {
		return false, fmt.Errorf("writing record %s: %w", key, err)
	}
	if err := os.Link(tmp.Name(), path); err != nil {
		if errors.Is(err, os.ErrExist) {
			return false, nil
		}
		return false, fmt.Errorf("creating record %s: %w", key, err)
	}
	return true, nil
}

func (s *FileStore) Get(_ context.Context, key string) (Record, bool, error) {
	path, err := s.path(key)
	if err != nil {
		return Record{}, false, err
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, fmt.Errorf("reading record %s: %w", key, err)
	}
	// An unparseable record comes back zero-valued, hence stale.
	rec, _ := UnmarshalRecord(data)
	return rec, true, nil
}

func (s *FileStore) Delete(_ context.Context, key string) error {
	path, err := s.path(key)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("deleting record %s: %w", key, err)
	}
	return nil
}

// List returns claim and presence records. Unparseable records are
// returned with a zero Record so they age out as stale.
func (s *FileStore) List(_ context.Context) ([]Entry, error) {
	files, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("listing election directory: %w", err)
	}
	var out []Entry
	for _, f := range files {
		name := f.Name()
		if f.IsDir() || (!IsClaim(name) && !IsPresence(name)) {
			continue
		}
		data, err := os.ReadFile(filepath.Join(s.dir, name))
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("reading record %s: %w", name, err)
		}
		rec, _ := UnmarshalRecord(data)
		out = append(out, Entry{Key: name, Record: rec})
	}
	return out, nil
}
