// Package consumer feeds index events into the indexes of this process,
// from Kafka or from any other transport that hands over decoded events.
package consumer

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/Adithya-Monish-Kumar-K/searchindexer/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/searchindexer/internal/indexer/queue"
	"github.com/Adithya-Monish-Kumar-K/searchindexer/internal/ingestion"
	"github.com/Adithya-Monish-Kumar-K/searchindexer/internal/ingestion/validator"
	"github.com/Adithya-Monish-Kumar-K/searchindexer/pkg/kafka"
)

// Router resolves an index name. *shard.Router satisfies it.
type Router interface {
	Route(name string) (*indexer.Indexer, error)
}

// IndexConsumer wraps a Kafka consumer to drive the indexing pipeline.
type IndexConsumer struct {
	consumer *kafka.Consumer
	logger   *slog.Logger
}

// New creates an IndexConsumer backed by the given Kafka consumer.
func New(kafkaConsumer *kafka.Consumer) *IndexConsumer {
	return &IndexConsumer{
		consumer: kafkaConsumer,
		logger:   slog.Default().With("component", "index-consumer"),
	}
}

// Start begins consuming Kafka messages. It blocks until ctx is cancelled.
func (ic *IndexConsumer) Start(ctx context.Context) error {
	ic.logger.Info("index consumer starting")
	return ic.consumer.Start(ctx)
}

func (ic *IndexConsumer) Close() error {
	return ic.consumer.Close()
}

// HandleMessage returns a Kafka MessageHandler that decodes, validates and
// applies index events. Malformed events are data errors, which the Kafka
// consumer commits past.
func HandleMessage(router Router) kafka.MessageHandler {
	logger := slog.Default().With("component", "index-consumer")
	return func(ctx context.Context, key []byte, value []byte) error {
		event, err := kafka.DecodeJSON[ingestion.IndexEvent](value)
		if err != nil {
			return err
		}
		accepted, err := Apply(ctx, router, event)
		if err != nil {
			return fmt.Errorf("applying %s event for index %s: %w", event.Action, event.Index, err)
		}
		logger.Debug("index event applied",
			"key", string(key),
			"index", accepted.Index,
			"action", accepted.Action,
			"operations", accepted.Operations,
		)
		return nil
	}
}

// Apply validates ev and submits it to its index.
func Apply(ctx context.Context, router Router, ev ingestion.IndexEvent) (ingestion.Accepted, error) {
	accepted := ingestion.Accepted{Index: ev.Index, Action: ev.Action}
	if err := validator.ValidateIndexEvent(&ev); err != nil {
		return accepted, err
	}
	ix, err := router.Route(ev.Index)
	if err != nil {
		return accepted, err
	}
	accepted.Executive = ix.Executive()

	var ops []queue.Operation
	switch ev.Action {
	case ingestion.ActionUpsert:
		ops = upserts(ev.Items)
	case ingestion.ActionDelete:
		ops = make([]queue.Operation, len(ev.IDs))
		for i, id := range ev.IDs {
			ops[i] = queue.Delete(id)
		}
	case ingestion.ActionDeleteCategory:
		ops = []queue.Operation{queue.DeleteCategory(ev.Category)}
	case ingestion.ActionRebuild:
		if err := ix.EnsureIndex(ctx, true); err != nil {
			return accepted, err
		}
		ops = upserts(ev.Items)
	}
	accepted.Operations = len(ops)
	if len(ops) == 0 {
		return accepted, nil
	}
	return accepted, ix.IndexItems(ctx, queue.Of(ops...))
}

func upserts(items []ingestion.Item) []queue.Operation {
	ops := make([]queue.Operation, len(items))
	for i, item := range items {
		ops[i] = queue.Add(item.ID, item.Category, item.Fields)
	}
	return ops
}
