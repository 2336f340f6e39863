package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	apperrors "github.com/Adithya-Monish-Kumar-K/searchindexer/pkg/errors"
)

// Queue is a capacity-bounded FIFO of batches. Producers wait at most the
// enqueue timeout for room; once closed, Enqueue fails immediately.
type Queue struct {
	items     chan Batch
	timeout   time.Duration
	done      chan struct{}
	closeOnce sync.Once
}

func NewQueue(capacity int, enqueueTimeout time.Duration) *Queue {
	if capacity <= 0 {
		capacity = 1
	}
	return &Queue{
		items:   make(chan Batch, capacity),
		timeout: enqueueTimeout,
		done:    make(chan struct{}),
	}
}

// Enqueue appends b. It returns ErrQueueClosed after Close, ErrQueueFull if
// no room appeared within the enqueue timeout, or the context error.
func (q *Queue) Enqueue(ctx context.Context, b Batch) error {
	if q.Closed() {
		return apperrors.ErrQueueClosed
	}
	select {
	case q.items <- b:
		return nil
	default:
	}
	if q.timeout <= 0 {
		return fmt.Errorf("%w: capacity %d", apperrors.ErrQueueFull, cap(q.items))
	}
	timer := time.NewTimer(q.timeout)
	defer timer.Stop()
	select {
	case q.items <- b:
		return nil
	case <-q.done:
		return apperrors.ErrQueueClosed
	case <-timer.C:
		return fmt.Errorf("%w: no room after %v", apperrors.ErrQueueFull, q.timeout)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TryDequeue returns the oldest batch without blocking.
func (q *Queue) TryDequeue() (Batch, bool) {
	select {
	case b := <-q.items:
		return b, true
	default:
		return nil, false
	}
}

// Len returns the number of queued batches.
func (q *Queue) Len() int {
	return len(q.items)
}

func (q *Queue) Cap() int {
	return cap(q.items)
}

// Clear removes and returns every queued batch.
func (q *Queue) Clear() []Batch {
	var out []Batch
	for {
		b, ok := q.TryDequeue()
		if !ok {
			return out
		}
		out = append(out, b)
	}
}

// Close rejects further enqueues. Queued batches stay until dequeued.
func (q *Queue) Close() {
	q.closeOnce.Do(func() { close(q.done) })
}

func (q *Queue) Closed() bool {
	select {
	case <-q.done:
		return true
	default:
		return false
	}
}
