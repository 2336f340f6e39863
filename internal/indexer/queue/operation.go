// Package queue serialises index mutations from any number of producers
// into a single drain loop per index.
package queue

import (
	"iter"
	"maps"
	"slices"

	"github.com/Adithya-Monish-Kumar-K/searchindexer/internal/indexer/store"
	apperrors "github.com/Adithya-Monish-Kumar-K/searchindexer/pkg/errors"
)

// Kind is the mutation an Operation performs.
type Kind int

const (
	KindAdd Kind = iota
	KindDelete
)

func (k Kind) String() string {
	if k == KindDelete {
		return "delete"
	}
	return "add"
}

// Operation is one immutable mutation. A delete with an empty id removes
// every document of its category.
type Operation struct {
	id       string
	category string
	kind     Kind
	fields   map[string][]string
}

// Add builds an add-or-replace operation. fields is copied.
func Add(id, category string, fields map[string][]string) Operation {
	return Operation{id: id, category: category, kind: KindAdd, fields: cloneFields(fields)}
}

// Delete removes one document.
func Delete(id string) Operation {
	return Operation{id: id, kind: KindDelete}
}

// DeleteCategory removes every document of category.
func DeleteCategory(category string) Operation {
	return Operation{category: category, kind: KindDelete}
}

func (o Operation) ID() string       { return o.id }
func (o Operation) Category() string { return o.category }
func (o Operation) Kind() Kind       { return o.kind }

// Fields returns a copy of the field values.
func (o Operation) Fields() map[string][]string {
	return cloneFields(o.fields)
}

// Document converts an add into the storage engine's document.
func (o Operation) Document() store.Document {
	return store.Document{ID: o.id, Category: o.category, Fields: cloneFields(o.fields)}
}

// Validate reports malformed operations as data errors.
func (o Operation) Validate() error {
	switch o.kind {
	case KindAdd:
		if o.id == "" {
			return apperrors.Invalid("add without document id")
		}
		return o.Document().Validate()
	case KindDelete:
		if o.id == "" && o.category == "" {
			return apperrors.Invalid("delete needs an id or a category")
		}
		return nil
	default:
		return apperrors.Invalid("unknown operation kind %d", o.kind)
	}
}

func cloneFields(fields map[string][]string) map[string][]string {
	if fields == nil {
		return nil
	}
	out := make(map[string][]string, len(fields))
	for k, v := range fields {
		out[k] = slices.Clone(v)
	}
	return out
}

// Batch is an ordered, lazily enumerated group of operations enqueued as a
// unit. It may be ranged over more than once only if its source allows.
type Batch iter.Seq[Operation]

// Of builds a Batch from ops.
func Of(ops ...Operation) Batch {
	return Batch(slices.Values(ops))
}

// Collect materialises b.
func Collect(b Batch) []Operation {
	return slices.Collect(iter.Seq[Operation](b))
}

// Adds builds a batch of adds from documents keyed by id, in id order.
func Adds(category string, docs map[string]map[string][]string) Batch {
	return func(yield func(Operation) bool) {
		for _, id := range slices.Sorted(maps.Keys(docs)) {
			if !yield(Add(id, category, docs[id])) {
				return
			}
		}
	}
}
