// Package shard hosts the named indexes of one process. Every index gets
// its own Indexer; indexes that resolve to the same directory share one
// writer through a common registry, and all of them elect their executive
// through the same claim-store backend.
package shard

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"sync"

	"github.com/Adithya-Monish-Kumar-K/searchindexer/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/searchindexer/internal/indexer/election"
	"github.com/Adithya-Monish-Kumar-K/searchindexer/internal/indexer/pebblestore"
	"github.com/Adithya-Monish-Kumar-K/searchindexer/internal/indexer/segment"
	"github.com/Adithya-Monish-Kumar-K/searchindexer/internal/indexer/store"
	"github.com/Adithya-Monish-Kumar-K/searchindexer/internal/indexer/writer"
	"github.com/Adithya-Monish-Kumar-K/searchindexer/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/searchindexer/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/searchindexer/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/searchindexer/pkg/metrics"
	"golang.org/x/sync/errgroup"
)

// ClaimStoreFactory returns the claim store an index elects through, or
// nil for single-process operation.
type ClaimStoreFactory func(index string) (election.ClaimStore, error)

// ClaimStores maps the election mode onto a factory. kv and db are only
// consulted in redis and postgres mode respectively.
func ClaimStores(cfg config.ElectionConfig, kv election.KV, db *sql.DB) (ClaimStoreFactory, error) {
	switch cfg.Mode {
	case config.ElectionSingle, "":
		return func(string) (election.ClaimStore, error) { return nil, nil }, nil
	case config.ElectionFile:
		return func(index string) (election.ClaimStore, error) {
			fs, err := election.NewFileStore(filepath.Join(cfg.Dir, index))
			if err != nil {
				return nil, err
			}
			return fs, nil
		}, nil
	case config.ElectionRedis:
		if kv == nil {
			return nil, apperrors.Invalid("redis election needs a redis client")
		}
		return func(index string) (election.ClaimStore, error) {
			return election.NewRedisStore(kv, index), nil
		}, nil
	case config.ElectionPostgres:
		if db == nil {
			return nil, apperrors.Invalid("postgres election needs a database")
		}
		return func(index string) (election.ClaimStore, error) {
			return election.NewPostgresStore(db, index), nil
		}, nil
	default:
		return nil, apperrors.Invalid("unknown election mode %q", cfg.Mode)
	}
}

// Deps are the shared collaborators of every index.
type Deps struct {
	Claims  ClaimStoreFactory
	Events  indexer.Events
	Metrics *metrics.Metrics
	Health  *health.Checker
}

// Router maps index names to Indexers.
type Router struct {
	indexes  map[string]*indexer.Indexer
	registry *writer.Registry
	mu       sync.RWMutex
	logger   *slog.Logger
}

// Engines returns the bundled storage engines by name.
func Engines() map[string]store.Engine {
	return map[string]store.Engine{
		config.EngineSegment: segment.NewEngine(),
		config.EnginePebble:  pebblestore.NewEngine(),
	}
}

// NewRouter starts an Indexer for every configured index. On failure the
// indexes started so far are shut down.
func NewRouter(ctx context.Context, cfg config.Config, deps Deps) (*Router, error) {
	r := &Router{
		indexes:  make(map[string]*indexer.Indexer, len(cfg.Indexer.Indexes)),
		registry: writer.NewRegistry(),
		logger:   slog.Default().With("component", "index-router"),
	}
	engines := Engines()
	identity := cfg.Election.Identity
	if identity == "" {
		identity = election.DefaultIdentity()
	}

	for _, idx := range cfg.Indexer.Indexes {
		engine, ok := engines[cfg.Indexer.IndexEngine(idx)]
		if !ok {
			r.Close(ctx)
			return nil, apperrors.Invalid("index %s: unknown engine %q", idx.Name, cfg.Indexer.IndexEngine(idx))
		}
		var claims election.ClaimStore
		if deps.Claims != nil {
			var err error
			if claims, err = deps.Claims(idx.Name); err != nil {
				r.Close(ctx)
				return nil, fmt.Errorf("claim store for index %s: %w", idx.Name, err)
			}
		}

		opts := indexer.Options{
			Name:            idx.Name,
			Location:        cfg.Indexer.IndexPath(idx),
			Engine:          engine,
			Registry:        r.registry,
			Identity:        identity,
			Async:           cfg.Indexer.Async,
			QueueCapacity:   cfg.Indexer.QueueCapacity,
			EnqueueTimeout:  cfg.Indexer.EnqueueTimeout,
			CommitDebounce:  cfg.Indexer.CommitDebounce,
			CommitMaxAge:    cfg.Indexer.CommitMaxAge,
			WaitForQueue:    cfg.Indexer.WaitForQueue,
			ShutdownTimeout: cfg.Indexer.ShutdownTimeout,
			Events:          deps.Events,
			Metrics:         deps.Metrics,
			Health:          deps.Health,
		}
		if claims != nil {
			el := cfg.Election
			opts.Resolver = func(onAssigned election.AssignedFunc) election.Resolver {
				return election.NewLeaseResolver(claims, election.LeaseConfig{
					Identity:       identity,
					RenewInterval:  el.RenewInterval,
					StaleThreshold: el.StaleThreshold,
					OpTimeout:      el.OpTimeout,
					OnAssigned:     onAssigned,
				})
			}
		}

		ix, err := indexer.New(ctx, opts)
		if err != nil {
			r.Close(ctx)
			return nil, fmt.Errorf("starting index %s: %w", idx.Name, err)
		}
		if err := ix.EnsureIndex(ctx, false); err != nil && !apperrors.Is(err, apperrors.ErrNotExecutive) {
			ix.Shutdown(ctx)
			r.Close(ctx)
			return nil, fmt.Errorf("creating index %s: %w", idx.Name, err)
		}
		r.mu.Lock()
		r.indexes[idx.Name] = ix
		r.mu.Unlock()
		r.logger.Info("index ready",
			"index", idx.Name,
			"engine", engine.Name(),
			"location", opts.Location,
			"executive", ix.IsExecutive(),
		)
	}
	r.logger.Info("index router ready", "indexes", len(r.indexes), "identity", identity)
	return r, nil
}

// Route returns the Indexer for name.
func (r *Router) Route(name string) (*indexer.Indexer, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ix, ok := r.indexes[name]
	if !ok {
		return nil, apperrors.Invalid("unknown index %q", name)
	}
	return ix, nil
}

// Names returns the index names in sorted order.
func (r *Router) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.indexes))
	for name := range r.indexes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// FlushAll commits pending mutations of every index.
func (r *Router) FlushAll(ctx context.Context) error {
	return r.each(ctx, func(ctx context.Context, ix *indexer.Indexer) error {
		return ix.Flush(ctx)
	})
}

// Close shuts every index down in parallel and joins their errors.
func (r *Router) Close(ctx context.Context) error {
	r.mu.Lock()
	indexes := r.indexes
	r.indexes = make(map[string]*indexer.Indexer)
	r.mu.Unlock()

	var (
		mu   sync.Mutex
		errs []error
	)
	var g errgroup.Group
	for name, ix := range indexes {
		g.Go(func() error {
			if err := ix.Shutdown(ctx); err != nil {
				r.logger.Error("index shutdown failed", "index", name, "error", err)
				mu.Lock()
				errs = append(errs, fmt.Errorf("index %s: %w", name, err))
				mu.Unlock()
			}
			return nil
		})
	}
	g.Wait()
	return apperrors.Join(errs...)
}

func (r *Router) each(ctx context.Context, fn func(context.Context, *indexer.Indexer) error) error {
	r.mu.RLock()
	indexes := make([]*indexer.Indexer, 0, len(r.indexes))
	for _, ix := range r.indexes {
		indexes = append(indexes, ix)
	}
	r.mu.RUnlock()

	g, gctx := errgroup.WithContext(ctx)
	for _, ix := range indexes {
		g.Go(func() error {
			if err := fn(gctx, ix); err != nil {
				return fmt.Errorf("index %s: %w", ix.Name(), err)
			}
			return nil
		})
	}
	return g.Wait()
}
