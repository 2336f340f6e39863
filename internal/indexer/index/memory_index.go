// Package index holds the in-memory inverted index a writer accumulates
// between commits. Documents are keyed by id: adding a document replaces
// any earlier version of it, postings included.
package index

import (
	"maps"
	"slices"
	"sort"
	"sync"

	"github.com/Adithya-Monish-Kumar-K/searchindexer/internal/indexer/store"
	"github.com/Adithya-Monish-Kumar-K/searchindexer/internal/indexer/tokenizer"
)

type MemoryIndex struct {
	mu       sync.RWMutex
	postings map[string]map[string]*Posting
	docs     map[string]indexedDoc
	size     int64
}

type indexedDoc struct {
	doc   store.Document
	terms []string
}

func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{
		postings: make(map[string]map[string]*Posting),
		docs:     make(map[string]indexedDoc),
	}
}

// Analyze builds the postings of doc, reserved fields included.
func Analyze(doc store.Document) map[string]*Posting {
	termData := make(map[string]*Posting)
	add := func(field string, values []string) {
		for _, token := range tokenizer.FieldTokens(field, values) {
			term := tokenizer.Term(field, token.Term)
			p, exists := termData[term]
			if !exists {
				p = &Posting{DocID: doc.ID, Positions: make([]int, 0, 4)}
				termData[term] = p
			}
			p.Frequency++
			p.Positions = append(p.Positions, token.Position)
		}
	}
	add(store.IDField, []string{doc.ID})
	if doc.Category != "" {
		add(store.CategoryField, []string{doc.Category})
	}
	for field, values := range doc.Fields {
		add(field, values)
	}
	return termData
}

// AddDocument indexes doc, replacing any document with the same id.
func (m *MemoryIndex) AddDocument(doc store.Document) {
	termData := Analyze(doc)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.removeLocked(doc.ID)
	terms := make([]string, 0, len(termData))
	for term, posting := range termData {
		if _, exists := m.postings[term]; !exists {
			m.postings[term] = make(map[string]*Posting)
		}
		m.postings[term][doc.ID] = posting
		m.size += int64(len(term) + len(doc.ID) + len(posting.Positions)*8 + 64)
		terms = append(terms, term)
	}
	m.docs[doc.ID] = indexedDoc{doc: doc, terms: terms}
}

// RemoveDocument drops id and reports whether it was present.
func (m *MemoryIndex) RemoveDocument(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.removeLocked(id)
}

func (m *MemoryIndex) removeLocked(id string) bool {
	existing, ok := m.docs[id]
	if !ok {
		return false
	}
	for _, term := range existing.terms {
		docs := m.postings[term]
		if p, ok := docs[id]; ok {
			m.size -= int64(len(term) + len(id) + len(p.Positions)*8 + 64)
			delete(docs, id)
		}
		if len(docs) == 0 {
			delete(m.postings, term)
		}
	}
	delete(m.docs, id)
	return true
}

// Search returns the postings of term sorted by document id.
func (m *MemoryIndex) Search(term string) PostingList {
	m.mu.RLock()
	defer m.mu.RUnlock()
	docs, exists := m.postings[term]
	if !exists {
		return nil
	}
	result := make(PostingList, 0, len(docs))
	for _, posting := range docs {
		result = append(result, *posting)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].DocID < result[j].DocID
	})
	return result
}

// Document returns the stored document for id.
func (m *MemoryIndex) Document(id string) (store.Document, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.docs[id]
	return d.doc, ok
}

// Snapshot returns every term sorted, and every document sorted by id.
func (m *MemoryIndex) Snapshot() ([]TermEntry, []store.Document) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entries := make([]TermEntry, 0, len(m.postings))
	for term, docs := range m.postings {
		postings := make(PostingList, 0, len(docs))
		for _, posting := range docs {
			postings = append(postings, *posting)
		}
		sort.Slice(postings, func(i, j int) bool {
			return postings[i].DocID < postings[j].DocID
		})
		entries = append(entries, TermEntry{Term: term, Postings: postings})
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Term < entries[j].Term
	})
	docs := make([]store.Document, 0, len(m.docs))
	for _, id := range slices.Sorted(maps.Keys(m.docs)) {
		docs = append(docs, m.docs[id].doc)
	}
	return entries, docs
}

func (m *MemoryIndex) Size() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.size
}

func (m *MemoryIndex) DocCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.docs)
}

func (m *MemoryIndex) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.postings = make(map[string]map[string]*Posting)
	m.docs = make(map[string]indexedDoc)
	m.size = 0
}
