package index

import (
	"testing"

	"github.com/Adithya-Monish-Kumar-K/searchindexer/internal/indexer/store"
	"github.com/Adithya-Monish-Kumar-K/searchindexer/internal/indexer/tokenizer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func doc(id, category, title string) store.Document {
	return store.Document{ID: id, Category: category, Fields: map[string][]string{"title": {title}}}
}

func TestAddDocumentReplacesSameID(t *testing.T) {
	m := NewMemoryIndex()
	m.AddDocument(doc("1", "books", "distributed systems"))
	m.AddDocument(doc("1", "books", "search engines"))

	assert.Equal(t, 1, m.DocCount())
	assert.Empty(t, m.Search(tokenizer.Term("title", "distribut")))
	assert.Equal(t, []string{"1"}, m.Search(tokenizer.Term("title", "search")).DocIDs())

	got, ok := m.Document("1")
	require.True(t, ok)
	assert.Equal(t, []string{"search engines"}, got.Fields["title"])
}

func TestReservedFieldsAreIndexed(t *testing.T) {
	m := NewMemoryIndex()
	m.AddDocument(doc("a", "books", "go"))
	m.AddDocument(doc("b", "music", "jazz"))
	m.AddDocument(doc("c", "books", "rust"))

	assert.Equal(t, []string{"a", "c"}, m.Search(tokenizer.Term(store.CategoryField, "books")).DocIDs())
	assert.Equal(t, []string{"b"}, m.Search(tokenizer.Term(store.IDField, "b")).DocIDs())
}

func TestRemoveDocument(t *testing.T) {
	m := NewMemoryIndex()
	m.AddDocument(doc("1", "", "alpha"))
	size := m.Size()
	require.Positive(t, size)

	assert.True(t, m.RemoveDocument("1"))
	assert.False(t, m.RemoveDocument("1"))
	assert.Zero(t, m.Size())
	terms, docs := m.Snapshot()
	assert.Empty(t, terms)
	assert.Empty(t, docs)
}

func TestSnapshotIsSorted(t *testing.T) {
	m := NewMemoryIndex()
	m.AddDocument(doc("2", "", "beta"))
	m.AddDocument(doc("1", "", "beta alpha"))

	terms, docs := m.Snapshot()
	require.Len(t, docs, 2)
	assert.Equal(t, "1", docs[0].ID)
	for i := 1; i < len(terms); i++ {
		assert.Less(t, terms[i-1].Term, terms[i].Term)
	}
	for _, e := range terms {
		if e.Term == tokenizer.Term("title", "beta") {
			assert.Equal(t, []string{"1", "2"}, e.Postings.DocIDs())
		}
	}
}
