// Package store defines the narrow contract between the write-coordination
// layer and a storage engine: open a writer or a reader on a physical
// location, apply upserts and term deletes, commit.
package store

import (
	apperrors "github.com/Adithya-Monish-Kumar-K/searchindexer/pkg/errors"
)

// Reserved fields. Every engine indexes a document's id and category under
// these names verbatim, so DeleteByTerm(IDField, id) removes one document
// and DeleteByTerm(CategoryField, c) removes a whole category.
const (
	IDField       = "__id"
	CategoryField = "__category"
)

// Document is what a writer stores and a reader returns.
type Document struct {
	ID       string              `json:"id"`
	Category string              `json:"category,omitempty"`
	Fields   map[string][]string `json:"fields,omitempty"`
}

// Validate rejects documents a writer cannot store.
func (d Document) Validate() error {
	if d.ID == "" {
		return apperrors.Invalid("document has no id")
	}
	for name := range d.Fields {
		if name == "" {
			return apperrors.Invalid("document %s has an unnamed field", d.ID)
		}
		if name == IDField || name == CategoryField {
			return apperrors.Invalid("document %s uses reserved field %s", d.ID, name)
		}
	}
	return nil
}

// Engine opens writers and readers on a location, usually a directory.
type Engine interface {
	Name() string
	// Exists reports whether an index has ever been committed at location.
	Exists(location string) (bool, error)
	// IsLocked reports whether a writer lock is present at location. It
	// cannot tell a live lock from one left behind by a crashed process.
	IsLocked(location string) (bool, error)
	Unlock(location string) error
	// OpenWriter fails with ErrIndexLocked if another writer holds the
	// location.
	OpenWriter(location string) (Writer, error)
	OpenReader(location string) (Reader, error)
}

// Writer mutates an index. Changes become visible to new readers only
// after Commit. Close discards uncommitted changes.
type Writer interface {
	// Upsert replaces any document with the same id.
	Upsert(doc Document) error
	DeleteByTerm(field, value string) error
	DeleteAll() error
	Commit() error
	Close() error
}

// Reader is a point-in-time view of the last commit.
type Reader interface {
	Document(id string) (Document, bool, error)
	DocCount() int
	// Search returns the sorted ids of documents containing term in field.
	// The term is analysed the same way field values were at index time.
	Search(field, term string) ([]string, error)
	Close() error
}
