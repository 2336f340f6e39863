// Package publisher validates index events and publishes them to the
// index-events topic, keyed by index name so every index's events are
// consumed in order.
package publisher

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Adithya-Monish-Kumar-K/searchindexer/internal/ingestion"
	"github.com/Adithya-Monish-Kumar-K/searchindexer/internal/ingestion/validator"
	"github.com/Adithya-Monish-Kumar-K/searchindexer/pkg/kafka"
)

// Sender is satisfied by *kafka.Producer.
type Sender interface {
	Publish(ctx context.Context, events ...kafka.Event) error
}

// Publisher turns index events into Kafka messages.
type Publisher struct {
	sender Sender
	logger *slog.Logger
	now    func() time.Time
}

func New(sender Sender) *Publisher {
	return &Publisher{
		sender: sender,
		logger: slog.Default().With("component", "publisher"),
		now:    time.Now,
	}
}

// Publish validates every event and sends them in one write. Nothing is
// sent if any event is invalid.
func (p *Publisher) Publish(ctx context.Context, events ...ingestion.IndexEvent) error {
	msgs := make([]kafka.Event, 0, len(events))
	for i := range events {
		ev := events[i]
		if err := validator.ValidateIndexEvent(&ev); err != nil {
			return fmt.Errorf("event %d: %w", i, err)
		}
		if ev.EmittedAt.IsZero() {
			ev.EmittedAt = p.now().UTC()
		}
		msgs = append(msgs, kafka.Event{Key: ev.Index, Value: ev})
	}
	if len(msgs) == 0 {
		return nil
	}
	if err := p.sender.Publish(ctx, msgs...); err != nil {
		return fmt.Errorf("publishing %d index events: %w", len(msgs), err)
	}
	p.logger.Debug("index events published", "count", len(msgs))
	return nil
}
