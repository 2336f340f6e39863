package indexer

import (
	"time"

	"github.com/Adithya-Monish-Kumar-K/searchindexer/internal/indexer/commit"
	"github.com/Adithya-Monish-Kumar-K/searchindexer/internal/indexer/queue"
	apperrors "github.com/Adithya-Monish-Kumar-K/searchindexer/pkg/errors"
	"github.com/google/uuid"
)

// Triggers for commits the indexer performs outside the scheduler.
const (
	TriggerCreate   commit.Trigger = "create"
	TriggerRecreate commit.Trigger = "recreate"
)

// Events are optional callbacks. They run on the goroutine that produced
// them (the drain loop, the commit scheduler or the election loop) and
// must not block.
type Events struct {
	OnIndexingError     func(*apperrors.IndexingError)
	OnDocumentWriting   func(*DocumentWriting)
	OnIndexCommitted    func(CommitInfo)
	OnExecutiveAssigned func(ExecutiveAssigned)
}

// DocumentWriting is raised before an operation reaches the writer.
// Setting Cancel skips it.
type DocumentWriting struct {
	Index     string
	Operation queue.Operation
	Cancel    bool
}

// CommitInfo describes a completed commit.
type CommitInfo struct {
	Index       string         `json:"index"`
	Token       uuid.UUID      `json:"token"`
	Trigger     commit.Trigger `json:"trigger"`
	Mutations   int            `json:"mutations"`
	Duration    time.Duration  `json:"duration_ns"`
	CommittedAt time.Time      `json:"committed_at"`
}

// ExecutiveAssigned reports a change of executive for an index location.
// Owner is empty when this process lost the role and no successor is known.
type ExecutiveAssigned struct {
	Index        string `json:"index"`
	Owner        string `json:"owner"`
	Participants int    `json:"participants"`
	Self         bool   `json:"self"`
}

// Merge returns Events that call every non-nil handler of each argument in
// order.
func Merge(all ...Events) Events {
	var out Events
	for _, e := range all {
		out.OnIndexingError = chain(out.OnIndexingError, e.OnIndexingError)
		out.OnDocumentWriting = chain(out.OnDocumentWriting, e.OnDocumentWriting)
		out.OnIndexCommitted = chain(out.OnIndexCommitted, e.OnIndexCommitted)
		out.OnExecutiveAssigned = chain(out.OnExecutiveAssigned, e.OnExecutiveAssigned)
	}
	return out
}

func chain[T any](a, b func(T)) func(T) {
	switch {
	case a == nil:
		return b
	case b == nil:
		return a
	}
	return func(v T) {
		a(v)
		b(v)
	}
}
