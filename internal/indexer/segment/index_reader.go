package segment

import (
	"fmt"
	"path/filepath"
	"slices"

	"github.com/Adithya-Monish-Kumar-K/searchindexer/internal/indexer/store"
	"github.com/Adithya-Monish-Kumar-K/searchindexer/internal/indexer/tokenizer"
)

// IndexReader is a point-in-time view of one commit point.
type IndexReader struct {
	generation int64
	segments   []*liveSegment
}

func openIndexReader(dir string) (*IndexReader, error) {
	cp, ok, err := readLatestCommit(dir)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, noCommitError(dir)
	}
	r := &IndexReader{generation: cp.Generation}
	for _, info := range cp.Segments {
		sr, err := OpenReader(filepath.Join(dir, info.Name))
		if err != nil {
			r.Close()
			return nil, fmt.Errorf("opening generation %d: %w", cp.Generation, err)
		}
		seg := &liveSegment{reader: sr, deleted: make(map[string]struct{}, len(info.Deleted))}
		for _, id := range info.Deleted {
			seg.deleted[id] = struct{}{}
		}
		r.segments = append(r.segments, seg)
	}
	return r, nil
}

// Generation returns the commit generation the reader observes.
func (r *IndexReader) Generation() int64 { return r.generation }

// Document searches newest segments first; at most one live copy of an id
// exists across segments.
func (r *IndexReader) Document(id string) (store.Document, bool, error) {
	for i := len(r.segments) - 1; i >= 0; i-- {
		seg := r.segments[i]
		if _, gone := seg.deleted[id]; gone {
			continue
		}
		if d, ok := seg.reader.Document(id); ok {
			return d, true, nil
		}
	}
	return store.Document{}, false, nil
}

func (r *IndexReader) DocCount() int {
	n := 0
	for _, seg := range r.segments {
		n += seg.liveDocs()
	}
	return n
}

func (r *IndexReader) Search(field, term string) ([]string, error) {
	token := tokenizer.Normalize(field, term)
	if token == "" {
		return nil, nil
	}
	key := tokenizer.Term(field, token)
	var ids []string
	for _, seg := range r.segments {
		postings, err := seg.reader.Search(key)
		if err != nil {
			return nil, err
		}
		for _, p := range postings {
			if _, gone := seg.deleted[p.DocID]; !gone {
				ids = append(ids, p.DocID)
			}
		}
	}
	slices.Sort(ids)
	return slices.Compact(ids), nil
}

func (r *IndexReader) Close() error {
	for _, seg := range r.segments {
		seg.reader.Close()
	}
	r.segments = nil
	return nil
}
