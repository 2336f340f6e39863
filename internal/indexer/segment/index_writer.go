package segment

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/Adithya-Monish-Kumar-K/searchindexer/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/searchindexer/internal/indexer/store"
	"github.com/Adithya-Monish-Kumar-K/searchindexer/internal/indexer/tokenizer"
	apperrors "github.com/Adithya-Monish-Kumar-K/searchindexer/pkg/errors"
)

type liveSegment struct {
	reader  *Reader
	deleted map[string]struct{}
}

func (s *liveSegment) liveDocs() int {
	return s.reader.DocCount() - len(s.deleted)
}

func (s *liveSegment) markDeleted(id string) bool {
	if !s.reader.Has(id) {
		return false
	}
	if _, done := s.deleted[id]; done {
		return false
	}
	s.deleted[id] = struct{}{}
	return true
}

// IndexWriter buffers upserts in a memory index and deletions against the
// committed segments until Commit.
type IndexWriter struct {
	mu       sync.Mutex
	dir      string
	lock     *store.Lock
	segments *Writer
	mem      *index.MemoryIndex
	live     []*liveSegment
	dropped  []*Reader
	gen      int64
	nextSeg  int64
	dirty    bool
	closed   bool
	logger   *slog.Logger
}

func openIndexWriter(dir string, lock *store.Lock, logger *slog.Logger) (*IndexWriter, error) {
	removeTempFiles(dir, logger)
	w := &IndexWriter{
		dir:      dir,
		lock:     lock,
		segments: NewWriter(dir),
		mem:      index.NewMemoryIndex(),
		logger:   logger,
	}
	cp, ok, err := readLatestCommit(dir)
	if err != nil {
		return nil, err
	}
	if !ok {
		return w, nil
	}
	w.gen = cp.Generation
	w.nextSeg = cp.NextSegment
	for _, info := range cp.Segments {
		r, err := OpenReader(filepath.Join(dir, info.Name))
		if err != nil {
			w.closeReaders()
			return nil, fmt.Errorf("loading commit %d: %w", cp.Generation, err)
		}
		seg := &liveSegment{reader: r, deleted: make(map[string]struct{}, len(info.Deleted))}
		for _, id := range info.Deleted {
			seg.deleted[id] = struct{}{}
		}
		w.live = append(w.live, seg)
	}
	logger.Info("writer opened", "generation", w.gen, "segments", len(w.live))
	return w, nil
}

func (w *IndexWriter) Upsert(doc store.Document) error {
	if err := doc.Validate(); err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return apperrors.ErrWriterClosed
	}
	for _, seg := range w.live {
		seg.markDeleted(doc.ID)
	}
	w.mem.AddDocument(doc)
	w.dirty = true
	return nil
}

func (w *IndexWriter) DeleteByTerm(field, value string) error {
	token := tokenizer.Normalize(field, value)
	if token == "" {
		return nil
	}
	term := tokenizer.Term(field, token)

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return apperrors.ErrWriterClosed
	}
	for _, seg := range w.live {
		postings, err := seg.reader.Search(term)
		if err != nil {
			return apperrors.Fatal("delete by term", err)
		}
		for _, p := range postings {
			seg.markDeleted(p.DocID)
		}
	}
	for _, p := range w.mem.Search(term) {
		w.mem.RemoveDocument(p.DocID)
	}
	w.dirty = true
	return nil
}

func (w *IndexWriter) DeleteAll() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return apperrors.ErrWriterClosed
	}
	w.mem.Reset()
	for _, seg := range w.live {
		w.dropped = append(w.dropped, seg.reader)
	}
	w.live = nil
	w.dirty = true
	return nil
}

// Commit flushes buffered documents into a new segment and publishes the
// next generation. Segments with no live documents left are dropped from
// the commit point and their files removed.
func (w *IndexWriter) Commit() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return apperrors.ErrWriterClosed
	}
	if !w.dirty && w.gen > 0 {
		return nil
	}

	var fresh *liveSegment
	nextSeg := w.nextSeg
	if w.mem.DocCount() > 0 {
		terms, docs := w.mem.Snapshot()
		name := segmentFileName(nextSeg)
		nextSeg++
		if err := w.segments.Write(name, terms, docs); err != nil {
			return fmt.Errorf("writing segment: %w", err)
		}
		r, err := OpenReader(filepath.Join(w.dir, name))
		if err != nil {
			return fmt.Errorf("opening new segment: %w", err)
		}
		fresh = &liveSegment{reader: r, deleted: make(map[string]struct{})}
	}

	live := make([]*liveSegment, 0, len(w.live)+1)
	var emptied []*Reader
	for _, seg := range w.live {
		if seg.liveDocs() == 0 {
			emptied = append(emptied, seg.reader)
			continue
		}
		live = append(live, seg)
	}
	if fresh != nil {
		live = append(live, fresh)
	}

	cp := &CommitPoint{
		Generation:  w.gen + 1,
		NextSegment: nextSeg,
		CommittedAt: time.Now().UTC(),
	}
	for _, seg := range live {
		info := SegmentInfo{Name: seg.reader.Name()}
		for id := range seg.deleted {
			info.Deleted = append(info.Deleted, id)
		}
		slices.Sort(info.Deleted)
		cp.Segments = append(cp.Segments, info)
	}
	if err := writeCommit(w.dir, cp); err != nil {
		if fresh != nil {
			fresh.reader.Close()
		}
		return err
	}

	w.gen = cp.Generation
	w.nextSeg = nextSeg
	w.live = live
	w.dropped = append(w.dropped, emptied...)
	w.mem.Reset()
	w.dirty = false
	w.cleanup(cp)
	w.logger.Debug("commit published", "generation", cp.Generation, "segments", len(cp.Segments))
	return nil
}

// cleanup removes commit points older than cp and segment files cp no
// longer references. Failures only leave garbage for the next commit.
func (w *IndexWriter) cleanup(cp *CommitPoint) {
	for _, r := range w.dropped {
		r.Close()
	}
	w.dropped = nil

	keep := make(map[string]struct{}, len(cp.Segments)+1)
	for _, s := range cp.Segments {
		keep[s.Name] = struct{}{}
	}
	keep[commitFileName(cp.Generation)] = struct{}{}
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		w.logger.Warn("listing index directory for cleanup failed", "error", err)
		return
	}
	for _, entry := range entries {
		name := entry.Name()
		isSegment := strings.HasSuffix(name, Extension)
		isCommit := strings.HasPrefix(name, commitPrefix) && strings.HasSuffix(name, commitSuffix)
		if !isSegment && !isCommit {
			continue
		}
		if _, ok := keep[name]; ok {
			continue
		}
		if err := os.Remove(filepath.Join(w.dir, name)); err != nil {
			w.logger.Warn("removing obsolete index file failed", "file", name, "error", err)
		}
	}
}

// Close releases the lock. Uncommitted changes are discarded.
func (w *IndexWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	if w.dirty {
		w.logger.Warn("writer closed with uncommitted changes", "pending_docs", w.mem.DocCount())
	}
	w.closeReaders()
	return w.lock.Release()
}

func (w *IndexWriter) closeReaders() {
	for _, seg := range w.live {
		seg.reader.Close()
	}
	for _, r := range w.dropped {
		r.Close()
	}
	w.live = nil
	w.dropped = nil
}
