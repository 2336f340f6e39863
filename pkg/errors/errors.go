// Package errors defines the sentinel errors shared by the indexing layer
// and the taxonomy used to decide how a failure is handled: retried,
// skipped and reported, escalated as writer-fatal, or treated as a
// coordination failure that demotes the process to non-executive.
package errors

import (
	"errors"
	"fmt"
)

var (
	ErrQueueClosed      = errors.New("index queue closed")
	ErrQueueFull        = errors.New("index queue full")
	ErrCancelled        = errors.New("index processing cancelled")
	ErrDiscarded        = errors.New("operation discarded")
	ErrNotExecutive     = errors.New("process is not the executive indexer")
	ErrWriterFatal      = errors.New("index writer failed")
	ErrWriterClosed     = errors.New("index writer closed")
	ErrIndexLocked      = errors.New("index locked by another writer")
	ErrInvalidOperation = errors.New("invalid operation")
	ErrStoreUnavailable = errors.New("claim store unavailable")
	ErrTimeout          = errors.New("operation timed out")
)

// Kind classifies an error by how the indexing layer reacts to it.
type Kind int

const (
	KindUnknown Kind = iota
	// KindTransient covers lock contention and temporarily unavailable
	// storage. Retried by the queue or the next election tick.
	KindTransient
	// KindData means one operation was malformed; it is skipped.
	KindData
	// KindWriterFatal means the writer is unusable and was closed.
	KindWriterFatal
	// KindCoordination means leadership could not be determined.
	KindCoordination
	// KindRejected means the operation was refused before it reached
	// the writer (shutdown, recreate, not executive).
	KindRejected
)

func (k Kind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindData:
		return "data"
	case KindWriterFatal:
		return "writer_fatal"
	case KindCoordination:
		return "coordination"
	case KindRejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// Classify maps err onto a Kind by inspecting its chain.
func Classify(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	switch {
	case errors.Is(err, ErrInvalidOperation):
		return KindData
	case errors.Is(err, ErrWriterFatal), errors.Is(err, ErrWriterClosed):
		return KindWriterFatal
	case errors.Is(err, ErrStoreUnavailable):
		return KindCoordination
	case errors.Is(err, ErrQueueClosed), errors.Is(err, ErrCancelled),
		errors.Is(err, ErrDiscarded), errors.Is(err, ErrNotExecutive):
		return KindRejected
	case errors.Is(err, ErrIndexLocked), errors.Is(err, ErrQueueFull), errors.Is(err, ErrTimeout):
		return KindTransient
	default:
		return KindUnknown
	}
}

// IsTransient reports whether err is worth retrying.
func IsTransient(err error) bool {
	return Classify(err) == KindTransient
}

// IndexingError is the payload of the indexing error event. ItemID is
// empty for failures that are not tied to a single document.
type IndexingError struct {
	Index   string
	Message string
	ItemID  string
	Err     error
}

func (e *IndexingError) Error() string {
	if e.ItemID == "" {
		return fmt.Sprintf("index %s: %s: %v", e.Index, e.Message, e.Err)
	}
	return fmt.Sprintf("index %s: %s (item %s): %v", e.Index, e.Message, e.ItemID, e.Err)
}

func (e *IndexingError) Unwrap() error {
	return e.Err
}

// Kind returns the classification of the wrapped error.
func (e *IndexingError) Kind() Kind {
	return Classify(e.Err)
}

// New builds an IndexingError.
func New(index, itemID string, err error, message string) *IndexingError {
	return &IndexingError{
		Index:   index,
		Message: message,
		ItemID:  itemID,
		Err:     err,
	}
}

// Newf builds an IndexingError with a formatted message.
func Newf(index, itemID string, err error, format string, args ...any) *IndexingError {
	return &IndexingError{
		Index:   index,
		Message: fmt.Sprintf(format, args...),
		ItemID:  itemID,
		Err:     err,
	}
}

// Invalid wraps a validation failure so it classifies as KindData.
func Invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidOperation, fmt.Sprintf(format, args...))
}

// Fatal wraps a writer failure so it classifies as KindWriterFatal.
func Fatal(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrWriterFatal, op, err)
}

// Is and As re-export the standard helpers so callers importing this
// package under an alias do not also need the standard errors package.
func Is(err, target error) bool { return errors.Is(err, target) }

func As(err error, target any) bool { return errors.As(err, target) }

func Join(errs ...error) error { return errors.Join(errs...) }
