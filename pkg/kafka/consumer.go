// Package kafka provides Kafka producer and consumer clients backed by
// segmentio/kafka-go. Index events are JSON on the wire; the consumer hands
// raw messages to a MessageHandler and commits offsets once handled.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/Adithya-Monish-Kumar-K/searchindexer/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/searchindexer/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/searchindexer/pkg/resilience"
	"github.com/segmentio/kafka-go"
)

// MessageHandler is a callback invoked for each Kafka message.
type MessageHandler func(ctx context.Context, key []byte, value []byte) error

// reader is the part of *kafka.Reader the consumer uses.
type reader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Consumer reads messages from a Kafka topic and dispatches them to a
// MessageHandler.
type Consumer struct {
	reader  reader
	logger  *slog.Logger
	handler MessageHandler
	retry   resilience.RetryConfig
}

// NewConsumer creates a Consumer for the given topic and handler.
func NewConsumer(cfg config.KafkaConfig, topic string, handler MessageHandler) *Consumer {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     cfg.Brokers,
		Topic:       topic,
		GroupID:     cfg.ConsumerGroup,
		MinBytes:    1e3,
		MaxBytes:    10e6,
		StartOffset: kafka.FirstOffset,
	})

	return newConsumer(r, topic, handler)
}

func newConsumer(r reader, topic string, handler MessageHandler) *Consumer {
	return &Consumer{
		reader:  r,
		logger:  slog.Default().With("component", "kafka-consumer", "topic", topic),
		handler: handler,
		retry: resilience.RetryConfig{
			MaxAttempts:  5,
			InitialDelay: 200 * time.Millisecond,
			MaxDelay:     10 * time.Second,
			Multiplier:   2,
			Retryable: func(err error) bool {
				return apperrors.Classify(err) != apperrors.KindData
			},
		},
	}
}

// Start fetches and handles messages until ctx is cancelled. A message is
// committed when the handler succeeds or rejects it as malformed. Any other
// failure is retried on the same message with backoff, and nothing after it
// is fetched until it goes through, so a later commit never skips it.
func (c *Consumer) Start(ctx context.Context) error {
	c.logger.Info("consumer started")
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				c.logger.Info("consumer stopping", "reason", ctx.Err())
				return nil
			}
			c.logger.Error("failed to fetch message", "error", err)
			continue
		}
		c.logger.Debug("message received",
			"partition", msg.Partition,
			"offset", msg.Offset,
			"key", string(msg.Key),
			"value_size", len(msg.Value),
		)
		if !c.handle(ctx, msg) {
			c.logger.Info("consumer stopping, message left uncommitted",
				"partition", msg.Partition,
				"offset", msg.Offset,
				"reason", ctx.Err(),
			)
			return nil
		}
		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			c.logger.Error("failed to commit message",
				"partition", msg.Partition,
				"offset", msg.Offset,
				"error", err,
			)
		}
	}
}

// handle runs the handler until it succeeds or reports a data error, and
// returns false if ctx ended first.
func (c *Consumer) handle(ctx context.Context, msg kafka.Message) bool {
	for round := 1; ; round++ {
		err := resilience.Retry(ctx, "handle kafka message", c.retry, func() error {
			return c.handler(ctx, msg.Key, msg.Value)
		})
		switch {
		case err == nil:
			return true
		case ctx.Err() != nil:
			return false
		case apperrors.Classify(err) == apperrors.KindData:
			c.logger.Warn("skipping malformed message",
				"partition", msg.Partition,
				"offset", msg.Offset,
				"error", err,
			)
			return true
		}
		c.logger.Error("failed to process message, holding offset",
			"partition", msg.Partition,
			"offset", msg.Offset,
			"round", round,
			"error", err,
		)
		select {
		case <-time.After(c.retry.MaxDelay):
		case <-ctx.Done():
			return false
		}
	}
}

// Close closes the underlying Kafka reader.
func (c *Consumer) Close() error {
	return c.reader.Close()
}

// DecodeJSON unmarshals a Kafka message value into T. Decode failures are
// data errors.
func DecodeJSON[T any](value []byte) (T, error) {
	var result T
	if err := json.Unmarshal(value, &result); err != nil {
		return result, fmt.Errorf("decoding kafka message: %w", apperrors.Invalid("%v", err))
	}
	return result, nil
}
