package kafka

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	apperrors "github.com/Adithya-Monish-Kumar-K/searchindexer/pkg/errors"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeReader struct {
	mu        sync.Mutex
	pending   []kafka.Message
	fetched   []int64
	committed []int64
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	r.mu.Lock()
	if len(r.pending) > 0 {
		msg := r.pending[0]
		r.pending = r.pending[1:]
		r.fetched = append(r.fetched, msg.Offset)
		r.mu.Unlock()
		return msg, nil
	}
	r.mu.Unlock()
	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (r *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range msgs {
		r.committed = append(r.committed, m.Offset)
	}
	return nil
}

func (r *fakeReader) Close() error { return nil }

func (r *fakeReader) offsets() (fetched, committed []int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int64(nil), r.fetched...), append([]int64(nil), r.committed...)
}

func messages(offsets ...int64) []kafka.Message {
	out := make([]kafka.Message, len(offsets))
	for i, o := range offsets {
		out[i] = kafka.Message{Offset: o, Value: []byte{byte('a' + i)}}
	}
	return out
}

func testConsumer(r reader, handler MessageHandler) *Consumer {
	c := newConsumer(r, "index-events", handler)
	c.retry.MaxAttempts = 2
	c.retry.InitialDelay = time.Millisecond
	c.retry.MaxDelay = 2 * time.Millisecond
	return c
}

func TestConsumerRetriesFailedMessageBeforeMovingOn(t *testing.T) {
	r := &fakeReader{pending: messages(10, 11)}
	var mu sync.Mutex
	calls := map[int64]int{}
	c := testConsumer(r, func(_ context.Context, _ []byte, value []byte) error {
		mu.Lock()
		defer mu.Unlock()
		offset := int64(10 + value[0] - 'a')
		calls[offset]++
		if offset == 10 && calls[offset] <= 4 {
			return apperrors.ErrQueueFull
		}
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Start(ctx) }()
	require.Eventually(t, func() bool {
		_, committed := r.offsets()
		return len(committed) == 2
	}, 5*time.Second, time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	fetched, committed := r.offsets()
	assert.Equal(t, []int64{10, 11}, fetched)
	assert.Equal(t, []int64{10, 11}, committed)
	mu.Lock()
	assert.Equal(t, 5, calls[10], "the failing message is redelivered in place")
	assert.Equal(t, 1, calls[11])
	mu.Unlock()
}

func TestConsumerNeverCommitsPastUnprocessedMessage(t *testing.T) {
	r := &fakeReader{pending: messages(20, 21)}
	failing := make(chan struct{}, 1)
	c := testConsumer(r, func(context.Context, []byte, []byte) error {
		select {
		case failing <- struct{}{}:
		default:
		}
		return errors.New("index unavailable")
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Start(ctx) }()
	<-failing
	time.Sleep(20 * time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	fetched, committed := r.offsets()
	assert.Equal(t, []int64{20}, fetched, "nothing after the failing message is fetched")
	assert.Empty(t, committed)
}

func TestConsumerCommitsPastMalformedMessage(t *testing.T) {
	r := &fakeReader{pending: messages(30, 31)}
	c := testConsumer(r, func(_ context.Context, _ []byte, value []byte) error {
		if value[0] == 'a' {
			return apperrors.Invalid("bad payload")
		}
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Start(ctx) }()
	require.Eventually(t, func() bool {
		_, committed := r.offsets()
		return len(committed) == 2
	}, time.Second, time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	_, committed := r.offsets()
	assert.Equal(t, []int64{30, 31}, committed)
}
