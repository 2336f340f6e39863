package notify

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Adithya-Monish-Kumar-K/searchindexer/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/searchindexer/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/searchindexer/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/searchindexer/pkg/resilience"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePublisher struct {
	mu     sync.Mutex
	events []kafka.Event
	err    error
}

func (p *fakePublisher) Publish(_ context.Context, events ...kafka.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, events...)
	return nil
}

type fakeCache struct {
	mu       sync.Mutex
	patterns []string
}

func (c *fakeCache) FlushByPattern(_ context.Context, pattern string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.patterns = append(c.patterns, pattern)
	return 3, nil
}

func TestNotifierDeliversToBothSinks(t *testing.T) {
	pub, cache := &fakePublisher{}, &fakeCache{}
	n := New(Options{Publisher: pub, Cache: cache, CachePrefix: "search:"})

	events := n.Events()
	require.NotNil(t, events.OnIndexCommitted)
	info := indexer.CommitInfo{Index: "products", Token: uuid.New(), Trigger: "debounce", Mutations: 4}
	events.OnIndexCommitted(info)
	require.NoError(t, n.Close(context.Background()))

	require.Len(t, pub.events, 1)
	assert.Equal(t, "products", pub.events[0].Key)
	assert.Equal(t, info, pub.events[0].Value)
	assert.Equal(t, []string{"search:products:*"}, cache.patterns)

	// Closed notifiers ignore further commits.
	n.Committed(info)
	assert.Len(t, pub.events, 1)
}

func TestNotifierBreakerTripsAndReportsState(t *testing.T) {
	m := metrics.NewWithRegisterer(prometheus.NewRegistry())
	pub := &fakePublisher{err: errors.New("broker down")}
	cache := &fakeCache{}
	n := New(Options{
		Publisher:   pub,
		Cache:       cache,
		CachePrefix: "search:",
		Breaker:     resilience.CircuitBreakerConfig{FailureThreshold: 2, ResetTimeout: time.Hour},
		Metrics:     m,
	})

	for range 5 {
		n.Committed(indexer.CommitInfo{Index: "products", Token: uuid.New()})
	}
	require.NoError(t, n.Close(context.Background()))

	assert.Equal(t, float64(resilience.StateOpen),
		testutil.ToFloat64(m.CircuitBreakerState.WithLabelValues("kafka-committed")))
	assert.Equal(t, float64(resilience.StateClosed),
		testutil.ToFloat64(m.CircuitBreakerState.WithLabelValues("redis-cache")))
	// A failing publisher does not hold back cache invalidation.
	assert.Len(t, cache.patterns, 5)
}

func TestNotifierWithoutSinks(t *testing.T) {
	n := New(Options{})
	n.Committed(indexer.CommitInfo{Index: "products"})
	require.NoError(t, n.Close(context.Background()))
	require.NoError(t, n.Close(context.Background()))
}
