package queue

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	apperrors "github.com/Adithya-Monish-Kumar-K/searchindexer/pkg/errors"
)

// Options wires a Processor to its index. Apply is required; the hooks
// are optional.
type Options struct {
	Index string
	// Async hands batches to a background drain loop. Otherwise Submit
	// applies them on the caller and returns their errors.
	Async bool
	Apply func(ctx context.Context, op Operation) error
	// OnApplied runs after each successfully applied operation.
	OnApplied func(op Operation)
	// OnError receives every failed operation of an asynchronously
	// applied batch.
	OnError func(op Operation, err error)
	// OnWorker observes the drain loop starting and stopping.
	OnWorker func(active bool)
}

// Processor owns the drain loop of one index. At most one worker goroutine
// runs at a time: whoever finds none active starts one, and the worker
// re-checks the queue after clearing its flag so an enqueue racing its
// exit is never stranded.
type Processor struct {
	queue     *Queue
	opts      Options
	ctx       context.Context
	active    atomic.Bool
	cancelled atomic.Bool
	drainMu   sync.Mutex
	idleMu    sync.Mutex
	idle      chan struct{}
	logger    *slog.Logger
}

func NewProcessor(q *Queue, opts Options) *Processor {
	idle := make(chan struct{})
	close(idle)
	return &Processor{
		queue:  q,
		opts:   opts,
		ctx:    context.Background(),
		idle:   idle,
		logger: slog.Default().With("component", "index-processor", "index", opts.Index),
	}
}

// Submit accepts a batch. It fails with ErrCancelled while the cancel
// signal is set, and with the queue's errors in async mode. In sync mode
// the returned error joins every failed operation of the batch.
func (p *Processor) Submit(ctx context.Context, b Batch) error {
	if p.cancelled.Load() {
		return apperrors.ErrCancelled
	}
	if !p.opts.Async {
		p.drainMu.Lock()
		defer p.drainMu.Unlock()
		return p.applyBatch(ctx, b, false)
	}
	if err := p.queue.Enqueue(ctx, b); err != nil {
		return err
	}
	p.kick()
	return nil
}

func (p *Processor) kick() {
	if p.cancelled.Load() || !p.active.CompareAndSwap(false, true) {
		return
	}
	done := make(chan struct{})
	p.idleMu.Lock()
	p.idle = done
	p.idleMu.Unlock()
	if p.opts.OnWorker != nil {
		p.opts.OnWorker(true)
	}
	go p.run(done)
}

func (p *Processor) run(done chan struct{}) {
	defer func() {
		if p.opts.OnWorker != nil {
			p.opts.OnWorker(false)
		}
		close(done)
	}()
	for {
		p.drain()
		p.active.Store(false)
		if p.queue.Len() == 0 || p.cancelled.Load() || !p.active.CompareAndSwap(false, true) {
			return
		}
	}
}

// drain applies batches until the queue is empty or the cancel signal is
// seen. A batch in progress always completes.
func (p *Processor) drain() {
	for !p.cancelled.Load() {
		b, ok := p.queue.TryDequeue()
		if !ok {
			return
		}
		p.drainMu.Lock()
		p.applyBatch(p.ctx, b, true)
		p.drainMu.Unlock()
	}
}

func (p *Processor) applyBatch(ctx context.Context, b Batch, report bool) error {
	if b == nil {
		return nil
	}
	var errs []error
	for op := range b {
		err := op.Validate()
		if err == nil {
			err = p.opts.Apply(ctx, op)
		}
		if err == nil {
			if p.opts.OnApplied != nil {
				p.opts.OnApplied(op)
			}
			continue
		}
		if report && p.opts.OnError != nil {
			p.opts.OnError(op, err)
		} else if report {
			p.logger.Error("operation failed", "doc_id", op.ID(), "kind", op.Kind(), "error", err)
		}
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// DrainNow applies whatever is queued on the calling goroutine, ignoring
// the cancel signal. Failures go to OnError. It stops early only if ctx
// ends.
func (p *Processor) DrainNow(ctx context.Context) error {
	p.drainMu.Lock()
	defer p.drainMu.Unlock()
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		b, ok := p.queue.TryDequeue()
		if !ok {
			return nil
		}
		p.applyBatch(ctx, b, true)
	}
}

// Wait blocks until no worker is running and nothing is left for one to
// pick up. Batches left queued under the cancel signal do not count.
func (p *Processor) Wait(ctx context.Context) error {
	for {
		p.idleMu.Lock()
		idle := p.idle
		p.idleMu.Unlock()
		if !p.active.Load() {
			if p.queue.Len() == 0 || p.cancelled.Load() {
				return nil
			}
			// A producer is between enqueue and kick.
			idle = nil
		}
		timer := time.NewTimer(5 * time.Millisecond)
		select {
		case <-idle:
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
		timer.Stop()
	}
}

// Cancel sets the cancel signal: Submit rejects new batches and the worker
// exits after its current batch.
func (p *Processor) Cancel() {
	p.cancelled.Store(true)
}

// Reset clears the cancel signal and restarts draining if work is queued.
func (p *Processor) Reset() {
	p.cancelled.Store(false)
	if p.queue.Len() > 0 {
		p.kick()
	}
}

func (p *Processor) Cancelled() bool {
	return p.cancelled.Load()
}

// Active reports whether a worker is running.
func (p *Processor) Active() bool {
	return p.active.Load()
}

func (p *Processor) Queue() *Queue {
	return p.queue
}
