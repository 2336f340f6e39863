package pebblestore

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/Adithya-Monish-Kumar-K/searchindexer/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/searchindexer/internal/indexer/store"
	"github.com/Adithya-Monish-Kumar-K/searchindexer/internal/indexer/tokenizer"
	apperrors "github.com/Adithya-Monish-Kumar-K/searchindexer/pkg/errors"
	"github.com/cockroachdb/pebble"
)

// Writer stages mutations in an indexed batch so that later operations in
// the same commit observe earlier ones.
type Writer struct {
	mu       sync.Mutex
	engine   *Engine
	location string
	db       *pebble.DB
	batch    *pebble.Batch
	lock     *store.Lock
	closed   bool
	logger   *slog.Logger
}

func (w *Writer) Upsert(doc store.Document) error {
	if err := doc.Validate(); err != nil {
		return err
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return apperrors.Invalid("encoding document %s: %v", doc.ID, err)
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return apperrors.ErrWriterClosed
	}
	if err := w.deleteDoc(doc.ID); err != nil {
		return err
	}
	if err := w.batch.Set(docKey(doc.ID), data, nil); err != nil {
		return apperrors.Fatal("staging document", err)
	}
	for term := range index.Analyze(doc) {
		if err := w.batch.Set(termKey(term, doc.ID), nil, nil); err != nil {
			return apperrors.Fatal("staging posting", err)
		}
	}
	return nil
}

// deleteDoc removes id and the postings derived from its stored copy.
func (w *Writer) deleteDoc(id string) error {
	value, closer, err := w.batch.Get(docKey(id))
	if errors.Is(err, pebble.ErrNotFound) {
		return nil
	}
	if err != nil {
		return apperrors.Fatal("reading document", err)
	}
	var existing store.Document
	err = json.Unmarshal(value, &existing)
	closer.Close()
	if err != nil {
		return apperrors.Fatal("decoding stored document", err)
	}
	for term := range index.Analyze(existing) {
		if err := w.batch.Delete(termKey(term, id), nil); err != nil {
			return apperrors.Fatal("staging posting delete", err)
		}
	}
	if err := w.batch.Delete(docKey(id), nil); err != nil {
		return apperrors.Fatal("staging document delete", err)
	}
	return nil
}

func (w *Writer) DeleteByTerm(field, value string) error {
	token := tokenizer.Normalize(field, value)
	if token == "" {
		return nil
	}
	lower, upper := termBounds(tokenizer.Term(field, token))

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return apperrors.ErrWriterClosed
	}
	ids, err := w.collect(lower, upper, idFromTermKey)
	if err != nil {
		return err
	}
	for _, id := range ids {
		if err := w.deleteDoc(id); err != nil {
			return err
		}
	}
	return nil
}

func (w *Writer) DeleteAll() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return apperrors.ErrWriterClosed
	}
	for _, prefix := range [][]byte{docPrefix, termPrefix} {
		keys, err := w.collect(prefix, prefixUpperBound(prefix), func(k []byte) string { return string(k) })
		if err != nil {
			return err
		}
		for _, k := range keys {
			if err := w.batch.Delete([]byte(k), nil); err != nil {
				return apperrors.Fatal("staging delete", err)
			}
		}
	}
	return nil
}

// collect maps every key in [lower, upper) seen through the batch. Keys are
// gathered before any mutation so the iterator never observes its own
// deletes.
func (w *Writer) collect(lower, upper []byte, fn func([]byte) string) ([]string, error) {
	iter, err := w.batch.NewIter(&pebble.IterOptions{LowerBound: lower, UpperBound: upper})
	if err != nil {
		return nil, apperrors.Fatal("opening batch iterator", err)
	}
	var out []string
	for iter.First(); iter.Valid(); iter.Next() {
		out = append(out, fn(iter.Key()))
	}
	if err := errors.Join(iter.Error(), iter.Close()); err != nil {
		return nil, apperrors.Fatal("iterating batch", err)
	}
	return out, nil
}

// Commit applies the staged batch with a synced write and starts a new one.
func (w *Writer) Commit() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return apperrors.ErrWriterClosed
	}
	count := w.batch.Count()
	if err := w.batch.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("committing pebble batch: %w", err)
	}
	w.batch.Close()
	w.batch = w.db.NewIndexedBatch()
	if err := writeMarker(w.location); err != nil {
		return err
	}
	w.logger.Debug("batch committed", "mutations", count)
	return nil
}

// Close drops any staged mutations and releases the lock.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	if !w.batch.Empty() {
		w.logger.Warn("writer closed with uncommitted changes", "mutations", w.batch.Count())
	}
	return errors.Join(w.batch.Close(), w.engine.release(w.location), w.lock.Release())
}
