// Package commit coalesces applied mutations into few commits. A single
// goroutine moves between Idle and Pending: the first mutation opens a
// token, every further one pushes the debounce deadline out, and the token
// is committed when the debounce elapses, when it reaches its maximum age,
// or when a flush or close asks for it.
package commit

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrClosed is returned by Flush after Close.
	ErrClosed = errors.New("commit scheduler closed")
	// ErrAbandoned is reported through OnError for mutations still pending
	// when Close gave up waiting for the scheduler.
	ErrAbandoned = errors.New("pending mutations abandoned at close")
)

// Trigger names what caused a commit.
type Trigger string

const (
	TriggerDebounce Trigger = "debounce"
	TriggerMaxAge   Trigger = "max_age"
	TriggerFlush    Trigger = "flush"
	TriggerClose    Trigger = "close"
)

// Token is a set of applied but not yet committed mutations.
type Token struct {
	ID        uuid.UUID
	Since     time.Time
	Mutations int
}

// Options configures a Scheduler. Commit is required.
type Options struct {
	Index       string
	Debounce    time.Duration
	MaxAge      time.Duration
	Commit      func() error
	OnCommitted func(tok Token, trigger Trigger, took time.Duration)
	OnError     func(tok Token, trigger Trigger, err error)
}

type request struct {
	trigger Trigger
	done    chan error
}

type Scheduler struct {
	opts      Options
	mutations atomic.Int64
	notify    chan struct{}
	requests  chan request
	closed    chan struct{}
	abort     chan struct{}
	stopped   chan struct{}
	closeOnce sync.Once

	mu      sync.Mutex
	current *Token
	logger  *slog.Logger
}

// New starts the scheduler goroutine.
func New(opts Options) *Scheduler {
	if opts.Debounce <= 0 {
		opts.Debounce = 2 * time.Second
	}
	if opts.MaxAge < opts.Debounce {
		opts.MaxAge = opts.Debounce
	}
	s := &Scheduler{
		opts:     opts,
		notify:   make(chan struct{}, 1),
		requests: make(chan request),
		closed:   make(chan struct{}),
		abort:    make(chan struct{}),
		stopped:  make(chan struct{}),
		logger:   slog.Default().With("component", "commit-scheduler", "index", opts.Index),
	}
	go s.loop()
	return s
}

// Notify records one applied mutation. It never blocks and is ignored
// after Close.
func (s *Scheduler) Notify() {
	select {
	case <-s.closed:
		return
	default:
	}
	s.mutations.Add(1)
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// Flush commits pending mutations now and returns the commit error.
func (s *Scheduler) Flush(ctx context.Context) error {
	return s.send(ctx, TriggerFlush)
}

// Close commits pending mutations, if any, and stops the scheduler.
// If ctx ends before the scheduler takes the request, the scheduler stops
// as soon as its current commit returns and reports what was still pending
// with ErrAbandoned. Calling it again returns nil.
func (s *Scheduler) Close(ctx context.Context) error {
	var err error
	first := false
	s.closeOnce.Do(func() {
		first = true
		close(s.closed)
	})
	if !first {
		return nil
	}
	done := make(chan error, 1)
	select {
	case s.requests <- request{trigger: TriggerClose, done: done}:
	case <-ctx.Done():
		close(s.abort)
		return ctx.Err()
	}
	select {
	case err = <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	<-s.stopped
	return err
}

func (s *Scheduler) send(ctx context.Context, trigger Trigger) error {
	done := make(chan error, 1)
	select {
	case s.requests <- request{trigger: trigger, done: done}:
	case <-s.stopped:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Pending reports whether uncommitted mutations exist.
func (s *Scheduler) Pending() bool {
	_, ok := s.Token()
	return ok
}

// Token returns the open token, if any.
func (s *Scheduler) Token() (Token, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		if n := s.mutations.Load(); n > 0 {
			return Token{Mutations: int(n)}, true
		}
		return Token{}, false
	}
	return *s.current, true
}

func (s *Scheduler) loop() {
	defer close(s.stopped)
	debounce := newStoppedTimer()
	maxAge := newStoppedTimer()
	var tok *Token

	absorb := func() {
		n := s.mutations.Swap(0)
		if n == 0 {
			return
		}
		if tok == nil {
			tok = &Token{ID: uuid.New(), Since: time.Now()}
			maxAge.Reset(s.opts.MaxAge)
		}
		tok.Mutations += int(n)
		s.setCurrent(tok)
	}
	commit := func(trigger Trigger) error {
		debounce.Stop()
		maxAge.Stop()
		if tok == nil {
			return nil
		}
		resolved := *tok
		tok = nil
		err := s.run(resolved, trigger)
		s.setCurrent(nil)
		return err
	}

	for {
		select {
		case <-s.abort:
			debounce.Stop()
			maxAge.Stop()
			absorb()
			s.abandon(tok)
			return
		default:
		}

		select {
		case <-s.abort:
			continue
		case <-s.notify:
			absorb()
			if tok != nil {
				debounce.Reset(s.opts.Debounce)
			}
		case <-debounce.C:
			absorb()
			commit(TriggerDebounce)
		case <-maxAge.C:
			absorb()
			commit(TriggerMaxAge)
		case req := <-s.requests:
			select {
			case <-s.notify:
			default:
			}
			absorb()
			req.done <- commit(req.trigger)
			if req.trigger == TriggerClose {
				return
			}
		}
	}
}

func (s *Scheduler) run(tok Token, trigger Trigger) error {
	start := time.Now()
	err := s.opts.Commit()
	took := time.Since(start)
	if err != nil {
		s.logger.Error("index commit failed",
			"token", tok.ID,
			"trigger", trigger,
			"mutations", tok.Mutations,
			"error", err,
		)
		if s.opts.OnError != nil {
			s.opts.OnError(tok, trigger, err)
		}
		return err
	}
	s.logger.Debug("index committed",
		"token", tok.ID,
		"trigger", trigger,
		"mutations", tok.Mutations,
		"pending_for", time.Since(tok.Since).Round(time.Millisecond),
		"took", took,
	)
	if s.opts.OnCommitted != nil {
		s.opts.OnCommitted(tok, trigger, took)
	}
	return nil
}

func (s *Scheduler) abandon(tok *Token) {
	s.setCurrent(nil)
	if tok == nil {
		return
	}
	s.logger.Error("scheduler stopped with uncommitted mutations",
		"token", tok.ID,
		"mutations", tok.Mutations,
	)
	if s.opts.OnError != nil {
		s.opts.OnError(*tok, TriggerClose, ErrAbandoned)
	}
}

func (s *Scheduler) setCurrent(tok *Token) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if tok == nil {
		s.current = nil
		return
	}
	cp := *tok
	s.current = &cp
}

func newStoppedTimer() *time.Timer {
	t := time.NewTimer(time.Hour)
	t.Stop()
	return t
}
