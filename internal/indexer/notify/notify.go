// Package notify tells the rest of the platform about commits: it
// publishes a CommitInfo to the index-committed topic and drops cached
// query results of the committed index. Both sinks sit behind a circuit
// breaker and run on a background goroutine, off the commit path.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Adithya-Monish-Kumar-K/searchindexer/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/searchindexer/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/searchindexer/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/searchindexer/pkg/resilience"
)

// Publisher is satisfied by *kafka.Producer.
type Publisher interface {
	Publish(ctx context.Context, events ...kafka.Event) error
}

// CacheFlusher is satisfied by *redis.Client.
type CacheFlusher interface {
	FlushByPattern(ctx context.Context, pattern string) (int64, error)
}

type Options struct {
	// Publisher and Cache are optional; a nil sink is skipped.
	Publisher   Publisher
	Cache       CacheFlusher
	CachePrefix string
	Buffer      int
	Timeout     time.Duration
	Breaker     resilience.CircuitBreakerConfig
	Metrics     *metrics.Metrics
}

type sink struct {
	name    string
	breaker *resilience.CircuitBreaker
	send    func(ctx context.Context, info indexer.CommitInfo) error
}

// Notifier fans commit notifications out to its sinks.
type Notifier struct {
	events  chan indexer.CommitInfo
	sinks   []sink
	timeout time.Duration
	logger  *slog.Logger

	closeOnce sync.Once
	mu        sync.RWMutex
	closed    bool
	done      chan struct{}
}

func New(opts Options) *Notifier {
	if opts.Buffer <= 0 {
		opts.Buffer = 256
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	n := &Notifier{
		events:  make(chan indexer.CommitInfo, opts.Buffer),
		timeout: opts.Timeout,
		logger:  slog.Default().With("component", "commit-notifier"),
		done:    make(chan struct{}),
	}

	breaker := func(name string) *resilience.CircuitBreaker {
		cfg := opts.Breaker
		if opts.Metrics != nil {
			opts.Metrics.CircuitBreakerState.WithLabelValues(name).Set(float64(resilience.StateClosed))
			cfg.OnStateChange = func(name string, _, to resilience.State) {
				opts.Metrics.CircuitBreakerState.WithLabelValues(name).Set(float64(to))
			}
		}
		return resilience.NewCircuitBreaker(name, cfg)
	}

	if opts.Publisher != nil {
		pub := opts.Publisher
		n.sinks = append(n.sinks, sink{
			name:    "kafka-committed",
			breaker: breaker("kafka-committed"),
			send: func(ctx context.Context, info indexer.CommitInfo) error {
				return pub.Publish(ctx, kafka.Event{Key: info.Index, Value: info})
			},
		})
	}
	if opts.Cache != nil {
		cache, prefix := opts.Cache, opts.CachePrefix
		n.sinks = append(n.sinks, sink{
			name:    "redis-cache",
			breaker: breaker("redis-cache"),
			send: func(ctx context.Context, info indexer.CommitInfo) error {
				pattern := prefix + info.Index + ":*"
				removed, err := cache.FlushByPattern(ctx, pattern)
				if err != nil {
					return err
				}
				n.logger.Debug("cache invalidated", "index", info.Index, "pattern", pattern, "keys", removed)
				return nil
			},
		})
	}

	go n.run()
	return n
}

// Events returns the indexer callbacks that feed this notifier.
func (n *Notifier) Events() indexer.Events {
	return indexer.Events{OnIndexCommitted: n.Committed}
}

// Committed queues info for delivery. It never blocks; when the buffer is
// full the notification is dropped and logged.
func (n *Notifier) Committed(info indexer.CommitInfo) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	if n.closed {
		return
	}
	select {
	case n.events <- info:
	default:
		n.logger.Warn("notification buffer full, dropping commit",
			"index", info.Index,
			"token", info.Token,
		)
	}
}

func (n *Notifier) run() {
	defer close(n.done)
	for info := range n.events {
		n.deliver(info)
	}
}

func (n *Notifier) deliver(info indexer.CommitInfo) {
	for _, s := range n.sinks {
		err := s.breaker.Execute(func() error {
			return resilience.WithTimeout(context.Background(), n.timeout, s.name, func(ctx context.Context) error {
				return s.send(ctx, info)
			})
		})
		if err != nil {
			n.logger.Warn("commit notification failed",
				"sink", s.name,
				"index", info.Index,
				"token", info.Token,
				"error", err,
			)
		}
	}
}

// Close stops accepting notifications and waits for queued ones to be
// delivered or ctx to expire.
func (n *Notifier) Close(ctx context.Context) error {
	n.closeOnce.Do(func() {
		n.mu.Lock()
		n.closed = true
		close(n.events)
		n.mu.Unlock()
	})
	select {
	case <-n.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("draining commit notifications: %w", ctx.Err())
	}
}
