package pebblestore

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/Adithya-Monish-Kumar-K/searchindexer/internal/indexer/store"
	"github.com/Adithya-Monish-Kumar-K/searchindexer/internal/indexer/tokenizer"
	"github.com/cockroachdb/pebble"
)

// Reader reads a pebble snapshot taken when it was opened.
type Reader struct {
	engine   *Engine
	location string
	snap     *pebble.Snapshot

	countOnce sync.Once
	count     int
}

func (r *Reader) Document(id string) (store.Document, bool, error) {
	value, closer, err := r.snap.Get(docKey(id))
	if errors.Is(err, pebble.ErrNotFound) {
		return store.Document{}, false, nil
	}
	if err != nil {
		return store.Document{}, false, fmt.Errorf("reading document %s: %w", id, err)
	}
	defer closer.Close()
	var doc store.Document
	if err := json.Unmarshal(value, &doc); err != nil {
		return store.Document{}, false, fmt.Errorf("decoding document %s: %w", id, err)
	}
	return doc, true, nil
}

func (r *Reader) DocCount() int {
	r.countOnce.Do(func() {
		iter, err := r.snap.NewIter(&pebble.IterOptions{
			LowerBound: docPrefix,
			UpperBound: prefixUpperBound(docPrefix),
		})
		if err != nil {
			return
		}
		defer iter.Close()
		for iter.First(); iter.Valid(); iter.Next() {
			r.count++
		}
	})
	return r.count
}

func (r *Reader) Search(field, term string) ([]string, error) {
	token := tokenizer.Normalize(field, term)
	if token == "" {
		return nil, nil
	}
	lower, upper := termBounds(tokenizer.Term(field, token))
	iter, err := r.snap.NewIter(&pebble.IterOptions{LowerBound: lower, UpperBound: upper})
	if err != nil {
		return nil, fmt.Errorf("opening snapshot iterator: %w", err)
	}
	var ids []string
	for iter.First(); iter.Valid(); iter.Next() {
		ids = append(ids, idFromTermKey(iter.Key()))
	}
	if err := errors.Join(iter.Error(), iter.Close()); err != nil {
		return nil, fmt.Errorf("searching %s: %w", field, err)
	}
	slices.Sort(ids)
	return ids, nil
}

func (r *Reader) Close() error {
	if r.snap == nil {
		return nil
	}
	err := r.snap.Close()
	r.snap = nil
	return errors.Join(err, r.engine.release(r.location))
}
