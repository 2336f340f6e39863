// Package ingestion defines the index event schema carried on Kafka and
// accepted over HTTP, and the helpers that validate and publish it.
package ingestion

import "time"

// Action is what an IndexEvent asks the indexer to do.
type Action string

const (
	ActionUpsert         Action = "upsert"
	ActionDelete         Action = "delete"
	ActionDeleteCategory Action = "delete_category"
	// ActionRebuild empties the index, discarding queued operations, and
	// then upserts Items if any.
	ActionRebuild Action = "rebuild"
)

// Item is one document of an upsert or rebuild event.
type Item struct {
	ID       string              `json:"id"`
	Category string              `json:"category,omitempty"`
	Fields   map[string][]string `json:"fields"`
}

// IndexEvent is the message payload of the index-events topic. Producers
// key messages by Index so one index's events stay ordered within a
// partition.
type IndexEvent struct {
	Index     string    `json:"index"`
	Action    Action    `json:"action"`
	Items     []Item    `json:"items,omitempty"`
	IDs       []string  `json:"ids,omitempty"`
	Category  string    `json:"category,omitempty"`
	EmittedAt time.Time `json:"emitted_at"`
}

// Accepted is returned to HTTP callers once an event is queued.
type Accepted struct {
	Index      string `json:"index"`
	Action     Action `json:"action"`
	Operations int    `json:"operations"`
	Executive  string `json:"executive,omitempty"`
}
