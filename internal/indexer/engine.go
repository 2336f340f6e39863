// Package indexer coordinates writes to one index: callers submit batches
// of operations, a single drain loop applies them through the location's
// writer, the commit scheduler coalesces them into few commits, and the
// election resolver decides whether this process may write at all.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Adithya-Monish-Kumar-K/searchindexer/internal/indexer/commit"
	"github.com/Adithya-Monish-Kumar-K/searchindexer/internal/indexer/election"
	"github.com/Adithya-Monish-Kumar-K/searchindexer/internal/indexer/queue"
	"github.com/Adithya-Monish-Kumar-K/searchindexer/internal/indexer/store"
	"github.com/Adithya-Monish-Kumar-K/searchindexer/internal/indexer/writer"
	apperrors "github.com/Adithya-Monish-Kumar-K/searchindexer/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/searchindexer/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/searchindexer/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/searchindexer/pkg/tracing"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
)

// ResolverFactory builds the election resolver for an index. The indexer
// passes the callback the resolver must invoke on executive changes.
type ResolverFactory func(onAssigned election.AssignedFunc) election.Resolver

// Options configures an Indexer. Name, Location, Engine and Registry are
// required.
type Options struct {
	Name     string
	Location string
	Engine   store.Engine
	Registry *writer.Registry
	// Resolver defaults to a single-process resolver that is always
	// executive.
	Resolver ResolverFactory
	Identity string

	Async           bool
	QueueCapacity   int
	EnqueueTimeout  time.Duration
	CommitDebounce  time.Duration
	CommitMaxAge    time.Duration
	WaitForQueue    bool
	ShutdownTimeout time.Duration

	Events  Events
	Metrics *metrics.Metrics
	Health  *health.Checker
}

// Indexer is the write path of one named index.
type Indexer struct {
	name     string
	opts     Options
	events   Events
	metrics  *metrics.Metrics
	manager  *writer.Manager
	resolver election.Resolver
	queue    *queue.Queue
	proc     *queue.Processor
	commits  *commit.Scheduler
	logger   *slog.Logger

	recreateMu   sync.Mutex
	shutdown     atomic.Bool
	shutdownOnce sync.Once
	shutdownErr  error
}

// New wires the queue, the drain loop, the commit scheduler and the
// resolver for one index, then starts the election.
func New(ctx context.Context, opts Options) (*Indexer, error) {
	if opts.Name == "" || opts.Location == "" || opts.Engine == nil || opts.Registry == nil {
		return nil, apperrors.Invalid("indexer needs a name, location, engine and registry")
	}
	if opts.QueueCapacity <= 0 {
		opts.QueueCapacity = 1024
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = 30 * time.Second
	}
	if opts.Identity == "" {
		opts.Identity = election.DefaultIdentity()
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.NewWithRegisterer(prometheus.NewRegistry())
	}

	manager, err := opts.Registry.Acquire(opts.Engine, opts.Location)
	if err != nil {
		return nil, fmt.Errorf("acquiring writer for index %s: %w", opts.Name, err)
	}

	ix := &Indexer{
		name:    opts.Name,
		opts:    opts,
		events:  opts.Events,
		metrics: opts.Metrics,
		manager: manager,
		logger:  slog.Default().With("component", "indexer", "index", opts.Name),
	}

	ix.queue = queue.NewQueue(opts.QueueCapacity, opts.EnqueueTimeout)
	ix.proc = queue.NewProcessor(ix.queue, queue.Options{
		Index:     opts.Name,
		Async:     opts.Async,
		Apply:     ix.apply,
		OnApplied: ix.applied,
		OnError:   ix.report,
		OnWorker: func(active bool) {
			ix.metrics.WorkerActive.WithLabelValues(ix.name).Set(metrics.BoolGauge(active))
		},
	})
	ix.commits = commit.New(commit.Options{
		Index:    opts.Name,
		Debounce: opts.CommitDebounce,
		MaxAge:   opts.CommitMaxAge,
		Commit: func() error {
			return ix.manager.Commit(context.Background())
		},
		OnCommitted: func(tok commit.Token, trigger commit.Trigger, took time.Duration) {
			ix.metrics.CommitDuration.WithLabelValues(ix.name).Observe(took.Seconds())
			ix.metrics.MutationsPerCommit.WithLabelValues(ix.name).Observe(float64(tok.Mutations))
			ix.committed(CommitInfo{
				Token:     tok.ID,
				Trigger:   trigger,
				Mutations: tok.Mutations,
				Duration:  took,
			})
		},
		OnError: func(tok commit.Token, trigger commit.Trigger, err error) {
			ix.metrics.CommitsTotal.WithLabelValues(ix.name, string(trigger), "error").Inc()
			ix.reportErr("", fmt.Sprintf("commit of %d mutations failed", tok.Mutations), err)
		},
	})

	manager.SetGuard(func() error {
		if !ix.resolver.IsExecutive() {
			return apperrors.ErrNotExecutive
		}
		return nil
	})

	factory := opts.Resolver
	if factory == nil {
		factory = func(onAssigned election.AssignedFunc) election.Resolver {
			return election.NewStatic(opts.Identity, onAssigned)
		}
	}
	ix.resolver = factory(ix.assigned)
	if err := ix.resolver.Start(ctx); err != nil {
		ix.logger.Warn("initial election round failed, starting as non-executive", "error", err)
	}

	if opts.Health != nil {
		ix.registerHealth(opts.Health)
	}
	ix.logger.Info("indexer started",
		"engine", opts.Engine.Name(),
		"location", manager.Location(),
		"async", opts.Async,
		"executive", ix.resolver.IsExecutive(),
	)
	return ix, nil
}

func (ix *Indexer) Name() string { return ix.name }

// IsExecutive reports whether this process may write the index.
func (ix *Indexer) IsExecutive() bool { return ix.resolver.IsExecutive() }

// Executive returns the identity of the observed executive.
func (ix *Indexer) Executive() string { return ix.resolver.Executive() }

// IndexItems submits a batch. Operations are applied in batch order. In
// async mode the call returns once the batch is queued and failures are
// reported through OnIndexingError; in sync mode the batch is applied
// before returning and the joined failures are returned.
func (ix *Indexer) IndexItems(ctx context.Context, b queue.Batch) error {
	if b == nil {
		return nil
	}
	// Materialised here so the caller's sequence is never consumed on the
	// drain goroutine.
	ops := queue.Collect(b)
	if len(ops) == 0 {
		return nil
	}
	var err error
	switch {
	case ix.shutdown.Load():
		err = apperrors.ErrQueueClosed
	case !ix.resolver.IsExecutive():
		err = apperrors.ErrNotExecutive
	default:
		err = ix.proc.Submit(ctx, queue.Of(ops...))
		if err == nil {
			for _, op := range ops {
				ix.metrics.OperationsEnqueued.WithLabelValues(ix.name, op.Kind().String()).Inc()
			}
			ix.metrics.QueueDepth.WithLabelValues(ix.name).Set(float64(ix.queue.Len()))
			return nil
		}
	}
	if ix.opts.Async {
		for _, op := range ops {
			ix.report(op, err)
		}
	}
	return fmt.Errorf("index %s: %w", ix.name, err)
}

// DeleteFromIndex removes documents by id.
func (ix *Indexer) DeleteFromIndex(ctx context.Context, ids ...string) error {
	ops := make([]queue.Operation, len(ids))
	for i, id := range ids {
		ops[i] = queue.Delete(id)
	}
	return ix.IndexItems(ctx, queue.Of(ops...))
}

// DeleteCategory removes every document of a category.
func (ix *Indexer) DeleteCategory(ctx context.Context, category string) error {
	return ix.IndexItems(ctx, queue.Of(queue.DeleteCategory(category)))
}

func (ix *Indexer) apply(ctx context.Context, op queue.Operation) error {
	if !ix.resolver.IsExecutive() {
		return apperrors.ErrNotExecutive
	}
	if fn := ix.events.OnDocumentWriting; fn != nil {
		ev := &DocumentWriting{Index: ix.name, Operation: op}
		fn(ev)
		if ev.Cancel {
			ix.logger.Debug("operation cancelled by handler", "doc_id", op.ID(), "kind", op.Kind())
			return nil
		}
	}
	return ix.manager.Apply(ctx, func(w store.Writer) error {
		switch op.Kind() {
		case queue.KindAdd:
			return w.Upsert(op.Document())
		case queue.KindDelete:
			if op.ID() != "" {
				return w.DeleteByTerm(store.IDField, op.ID())
			}
			return w.DeleteByTerm(store.CategoryField, op.Category())
		default:
			return apperrors.Invalid("unknown operation kind %d", op.Kind())
		}
	})
}

func (ix *Indexer) applied(op queue.Operation) {
	ix.metrics.OperationsApplied.WithLabelValues(ix.name, op.Kind().String()).Inc()
	ix.metrics.QueueDepth.WithLabelValues(ix.name).Set(float64(ix.queue.Len()))
	ix.commits.Notify()
}

func (ix *Indexer) report(op queue.Operation, err error) {
	item := op.ID()
	if item == "" {
		item = op.Category()
	}
	ix.reportErr(item, op.Kind().String()+" failed", err)
}

func (ix *Indexer) reportErr(item, msg string, err error) {
	ierr := apperrors.New(ix.name, item, err, msg)
	kind := ierr.Kind()
	ix.metrics.OperationsFailed.WithLabelValues(ix.name, kind.String()).Inc()
	switch kind {
	case apperrors.KindWriterFatal:
		ix.logger.Error("indexing failed", "doc_id", item, "error", err)
	case apperrors.KindRejected:
		ix.logger.Debug("operation rejected", "doc_id", item, "error", err)
	default:
		ix.logger.Warn("indexing failed", "doc_id", item, "kind", kind, "error", err)
	}
	if fn := ix.events.OnIndexingError; fn != nil {
		fn(ierr)
	}
}

func (ix *Indexer) committed(info CommitInfo) {
	info.Index = ix.name
	if info.CommittedAt.IsZero() {
		info.CommittedAt = time.Now()
	}
	ix.metrics.CommitsTotal.WithLabelValues(ix.name, string(info.Trigger), "ok").Inc()
	ix.logger.Debug("index committed",
		"trigger", info.Trigger,
		"mutations", info.Mutations,
		"duration", info.Duration,
	)
	if fn := ix.events.OnIndexCommitted; fn != nil {
		fn(info)
	}
}

func (ix *Indexer) assigned(owner string, participants int) {
	self := ix.resolver != nil && ix.resolver.IsExecutive()
	if !self {
		// Only the executive may hold the physical writer.
		if ix.manager.ReleaseWriter() {
			ix.logger.Warn("released writer after losing executive role", "owner", owner)
		}
	}
	ix.metrics.Executive.WithLabelValues(ix.name).Set(metrics.BoolGauge(self))
	ix.metrics.Participants.WithLabelValues(ix.name).Set(float64(participants))
	if fn := ix.events.OnExecutiveAssigned; fn != nil {
		fn(ExecutiveAssigned{Index: ix.name, Owner: owner, Participants: participants, Self: self})
	}
}

// CreateIndex commits an empty index at the location.
func (ix *Indexer) CreateIndex(ctx context.Context) error {
	if !ix.resolver.IsExecutive() {
		return apperrors.ErrNotExecutive
	}
	start := time.Now()
	if err := ix.manager.Create(ctx); err != nil {
		return fmt.Errorf("creating index %s: %w", ix.name, err)
	}
	ix.committed(CommitInfo{Trigger: TriggerCreate, Duration: time.Since(start)})
	return nil
}

// EnsureIndex creates the index if it does not exist. With force the
// index is emptied whether or not a commit exists yet: processing is
// cancelled, queued operations are discarded and reported with
// ErrDiscarded, every document including applied but uncommitted ones is
// deleted and committed, and processing resumes.
func (ix *Indexer) EnsureIndex(ctx context.Context, force bool) error {
	ix.recreateMu.Lock()
	defer ix.recreateMu.Unlock()

	exists, err := ix.manager.Exists()
	if err != nil {
		return fmt.Errorf("checking index %s: %w", ix.name, err)
	}
	if exists && !force {
		return nil
	}
	if !ix.resolver.IsExecutive() {
		return apperrors.ErrNotExecutive
	}
	if !force {
		return ix.CreateIndex(ctx)
	}

	ix.logger.Info("recreating index", "existed", exists)
	ix.proc.Cancel()
	defer func() {
		if !ix.shutdown.Load() {
			ix.proc.Reset()
		}
	}()
	if err := ix.proc.Wait(ctx); err != nil {
		return fmt.Errorf("waiting for index %s worker: %w", ix.name, err)
	}
	ix.discardQueued()

	start := time.Now()
	if err := ix.manager.Reset(ctx); err != nil {
		return fmt.Errorf("resetting index %s: %w", ix.name, err)
	}
	trigger := TriggerRecreate
	if !exists {
		trigger = TriggerCreate
	}
	ix.committed(CommitInfo{Trigger: trigger, Duration: time.Since(start)})
	return nil
}

func (ix *Indexer) discardQueued() int {
	n := 0
	for _, b := range ix.queue.Clear() {
		for op := range b {
			n++
			ix.metrics.OperationsDiscarded.WithLabelValues(ix.name).Inc()
			ix.report(op, apperrors.ErrDiscarded)
		}
	}
	ix.metrics.QueueDepth.WithLabelValues(ix.name).Set(0)
	if n > 0 {
		ix.logger.Warn("discarded queued operations", "count", n)
	}
	return n
}

// Reader returns a view of the last commit. Callers must Close it.
func (ix *Indexer) Reader(ctx context.Context) (store.Reader, error) {
	return ix.manager.Reader(ctx)
}

// WaitIdle blocks until the drain loop has applied everything queued.
func (ix *Indexer) WaitIdle(ctx context.Context) error {
	return ix.proc.Wait(ctx)
}

// Flush commits applied mutations now.
func (ix *Indexer) Flush(ctx context.Context) error {
	return ix.commits.Flush(ctx)
}

// QueueLen returns the number of queued batches.
func (ix *Indexer) QueueLen() int {
	return ix.queue.Len()
}

// Shutdown stops the index in a fixed order; every step runs even if an
// earlier one fails and the errors are joined. Later calls return the
// first call's result.
func (ix *Indexer) Shutdown(ctx context.Context) error {
	ix.shutdownOnce.Do(func() {
		ix.shutdownErr = ix.doShutdown(ctx)
	})
	return ix.shutdownErr
}

func (ix *Indexer) doShutdown(ctx context.Context) error {
	ix.logger.Info("shutting down", "queued", ix.queue.Len(), "wait_for_queue", ix.opts.WaitForQueue)
	ix.shutdown.Store(true)
	ix.recreateMu.Lock()
	defer ix.recreateMu.Unlock()
	var errs []error
	ctx, root := tracing.StartSpan(ctx, "shutdown", uuid.NewString())
	root.SetAttr("index", ix.name)

	ix.proc.Cancel()
	ix.queue.Close()

	_, span := tracing.StartChildSpan(ctx, "drain")
	drainCtx, cancel := context.WithTimeout(ctx, ix.opts.ShutdownTimeout)
	defer cancel()
	if err := ix.proc.Wait(drainCtx); err != nil {
		errs = append(errs, fmt.Errorf("waiting for worker: %w", err))
	}
	if ix.opts.WaitForQueue {
		if err := ix.proc.DrainNow(drainCtx); err != nil {
			errs = append(errs, fmt.Errorf("draining queue: %w", err))
		}
	}
	span.SetAttr("discarded", ix.discardQueued())
	span.End()

	_, span = tracing.StartChildSpan(ctx, "final_commit")
	if err := ix.commits.Close(ctx); err != nil {
		errs = append(errs, fmt.Errorf("final commit: %w", err))
	}
	span.End()
	_, span = tracing.StartChildSpan(ctx, "release_writer")
	if err := ix.opts.Registry.Release(ix.manager); err != nil {
		errs = append(errs, fmt.Errorf("closing writer: %w", err))
	}
	span.End()
	_, span = tracing.StartChildSpan(ctx, "release_claim")
	if err := ix.resolver.Close(ctx); err != nil {
		errs = append(errs, fmt.Errorf("releasing executive claim: %w", err))
	}
	span.End()

	ix.metrics.Executive.WithLabelValues(ix.name).Set(0)
	ix.metrics.WorkerActive.WithLabelValues(ix.name).Set(0)
	root.End()
	root.Log()
	err := errors.Join(errs...)
	if err != nil {
		ix.logger.Error("shutdown finished with errors", "error", err)
	} else {
		ix.logger.Info("shutdown complete")
	}
	return err
}

func (ix *Indexer) registerHealth(c *health.Checker) {
	c.Register(ix.name+".executive", func(context.Context) health.ComponentHealth {
		if ix.resolver.IsExecutive() {
			return health.Up()
		}
		owner := ix.resolver.Executive()
		if owner == "" {
			return health.Degraded("no executive elected")
		}
		return health.Degraded("follower of " + owner)
	})
	c.Register(ix.name+".queue", func(context.Context) health.ComponentHealth {
		switch {
		case ix.shutdown.Load():
			return health.Down("shut down")
		case ix.queue.Len() >= ix.queue.Cap():
			return health.Degraded("queue saturated")
		}
		return health.Up()
	})
	c.Register(ix.name+".writer", func(context.Context) health.ComponentHealth {
		if !ix.resolver.IsExecutive() || ix.manager.IsOpen() {
			return health.Up()
		}
		exists, err := ix.manager.Exists()
		if err != nil {
			return health.Down(err.Error())
		}
		if !exists {
			return health.Degraded("index not created")
		}
		return health.Up()
	})
}
