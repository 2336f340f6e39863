package commit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type commitLog struct {
	mu       sync.Mutex
	at       []time.Time
	triggers []Trigger
	tokens   []Token
	err      error
}

func (c *commitLog) commit() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.at = append(c.at, time.Now())
	return c.err
}

func (c *commitLog) committed(tok Token, trigger Trigger, _ time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.triggers = append(c.triggers, trigger)
	c.tokens = append(c.tokens, tok)
}

func (c *commitLog) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.at)
}

func (c *commitLog) snapshot() ([]time.Time, []Trigger, []Token) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]time.Time(nil), c.at...), append([]Trigger(nil), c.triggers...), append([]Token(nil), c.tokens...)
}

func newScheduler(t *testing.T, log *commitLog, debounce, maxAge time.Duration) *Scheduler {
	t.Helper()
	s := New(Options{
		Index:       "test",
		Debounce:    debounce,
		MaxAge:      maxAge,
		Commit:      log.commit,
		OnCommitted: log.committed,
	})
	t.Cleanup(func() { s.Close(context.Background()) })
	return s
}

// Mutations every 25ms for 500ms never leave a 100ms gap, so nothing is
// committed until they stop (the 2s/500ms/5m rule scaled down 20x).
func TestDebounceWaitsForQuietPeriod(t *testing.T) {
	log := &commitLog{}
	s := newScheduler(t, log, 100*time.Millisecond, 15*time.Second)

	start := time.Now()
	for time.Since(start) < 500*time.Millisecond {
		s.Notify()
		time.Sleep(25 * time.Millisecond)
		require.Zero(t, log.count(), "committed during a burst")
	}
	stopped := time.Now()
	assert.True(t, s.Pending())

	require.Eventually(t, func() bool { return log.count() == 1 }, time.Second, 5*time.Millisecond)
	at, triggers, tokens := log.snapshot()
	assert.GreaterOrEqual(t, at[0].Sub(stopped), 70*time.Millisecond)
	assert.Equal(t, []Trigger{TriggerDebounce}, triggers)
	assert.GreaterOrEqual(t, tokens[0].Mutations, 10)
	assert.False(t, s.Pending())
}

func TestMaxAgeBoundsSustainedLoad(t *testing.T) {
	log := &commitLog{}
	s := newScheduler(t, log, 100*time.Millisecond, 200*time.Millisecond)

	start := time.Now()
	for time.Since(start) < 700*time.Millisecond {
		s.Notify()
		time.Sleep(20 * time.Millisecond)
	}
	_, triggers, _ := log.snapshot()
	require.GreaterOrEqual(t, len(triggers), 2)
	for _, tr := range triggers {
		assert.Equal(t, TriggerMaxAge, tr)
	}
}

func TestFlushCommitsImmediately(t *testing.T) {
	log := &commitLog{}
	s := newScheduler(t, log, time.Hour, time.Hour)

	require.NoError(t, s.Flush(context.Background()))
	assert.Zero(t, log.count(), "nothing pending, nothing committed")

	s.Notify()
	s.Notify()
	require.NoError(t, s.Flush(context.Background()))
	_, triggers, tokens := log.snapshot()
	assert.Equal(t, []Trigger{TriggerFlush}, triggers)
	assert.Equal(t, 2, tokens[0].Mutations)
	assert.NotEqual(t, [16]byte{}, [16]byte(tokens[0].ID))
}

func TestCloseForcesFinalCommit(t *testing.T) {
	log := &commitLog{}
	s := New(Options{Index: "test", Debounce: time.Hour, MaxAge: time.Hour, Commit: log.commit, OnCommitted: log.committed})

	s.Notify()
	require.NoError(t, s.Close(context.Background()))
	_, triggers, _ := log.snapshot()
	assert.Equal(t, []Trigger{TriggerClose}, triggers)

	require.NoError(t, s.Close(context.Background()))
	assert.ErrorIs(t, s.Flush(context.Background()), ErrClosed)
	s.Notify()
	assert.Equal(t, 1, log.count())
}

func TestCloseWithoutPendingSkipsCommit(t *testing.T) {
	log := &commitLog{}
	s := New(Options{Index: "test", Commit: log.commit})
	require.NoError(t, s.Close(context.Background()))
	assert.Zero(t, log.count())
}

func TestCommitErrorIsReportedAndStateResets(t *testing.T) {
	boom := errors.New("fsync failed")
	log := &commitLog{err: boom}
	var reported []error
	var mu sync.Mutex
	s := New(Options{
		Index:    "test",
		Debounce: time.Hour,
		MaxAge:   time.Hour,
		Commit:   log.commit,
		OnError: func(_ Token, _ Trigger, err error) {
			mu.Lock()
			reported = append(reported, err)
			mu.Unlock()
		},
	})
	defer s.Close(context.Background())

	s.Notify()
	assert.ErrorIs(t, s.Flush(context.Background()), boom)
	mu.Lock()
	assert.Equal(t, []error{boom}, reported)
	mu.Unlock()
	assert.False(t, s.Pending())
}

func TestCloseTimeoutStopsLoopAndReportsPending(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	var commits int
	var mu sync.Mutex
	var abandoned []Token
	var reasons []error
	s := New(Options{
		Index:    "test",
		Debounce: time.Hour,
		MaxAge:   time.Hour,
		Commit: func() error {
			mu.Lock()
			commits++
			first := commits == 1
			mu.Unlock()
			if first {
				close(started)
				<-release
			}
			return nil
		},
		OnError: func(tok Token, trigger Trigger, err error) {
			mu.Lock()
			defer mu.Unlock()
			assert.Equal(t, TriggerClose, trigger)
			abandoned = append(abandoned, tok)
			reasons = append(reasons, err)
		},
	})

	s.Notify()
	flushed := make(chan error, 1)
	go func() { flushed <- s.Flush(context.Background()) }()
	<-started

	// Arrives while the first commit is stuck.
	s.Notify()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, s.Close(ctx), context.DeadlineExceeded)

	close(release)
	require.NoError(t, <-flushed)
	select {
	case <-s.stopped:
	case <-time.After(time.Second):
		t.Fatal("scheduler goroutine still running after close gave up")
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, commits, "the abandoned token is not committed")
	require.Len(t, abandoned, 1)
	assert.Equal(t, 1, abandoned[0].Mutations)
	assert.ErrorIs(t, reasons[0], ErrAbandoned)
	assert.False(t, s.Pending())
	assert.ErrorIs(t, s.Flush(context.Background()), ErrClosed)
}
