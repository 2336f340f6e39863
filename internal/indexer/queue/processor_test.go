package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	apperrors "github.com/Adithya-Monish-Kumar-K/searchindexer/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recorder is an Apply func that remembers operation order and the peak
// number of concurrent callers.
type recorder struct {
	mu       sync.Mutex
	applied  []string
	inFlight atomic.Int32
	peak     atomic.Int32
	delay    time.Duration
	fail     func(Operation) error
}

func (r *recorder) apply(_ context.Context, op Operation) error {
	n := r.inFlight.Add(1)
	defer r.inFlight.Add(-1)
	for {
		peak := r.peak.Load()
		if n <= peak || r.peak.CompareAndSwap(peak, n) {
			break
		}
	}
	if r.delay > 0 {
		time.Sleep(r.delay)
	}
	if r.fail != nil {
		if err := r.fail(op); err != nil {
			return err
		}
	}
	r.mu.Lock()
	r.applied = append(r.applied, op.Kind().String()+":"+op.ID())
	r.mu.Unlock()
	return nil
}

func (r *recorder) ops() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.applied...)
}

func newProcessor(r *recorder, opts Options) *Processor {
	opts.Apply = r.apply
	if opts.Index == "" {
		opts.Index = "test"
	}
	return NewProcessor(NewQueue(10000, time.Second), opts)
}

func TestAtMostOneDrainLoop(t *testing.T) {
	rec := &recorder{delay: 50 * time.Microsecond}
	var workers, peakWorkers atomic.Int32
	p := newProcessor(rec, Options{
		Async: true,
		OnWorker: func(active bool) {
			if !active {
				workers.Add(-1)
				return
			}
			if n := workers.Add(1); n > peakWorkers.Load() {
				peakWorkers.Store(n)
			}
		},
	})

	ctx := context.Background()
	var wg sync.WaitGroup
	for g := 0; g < 32; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				assert.NoError(t, p.Submit(ctx, Of(Add(fmt.Sprintf("%d-%d", g, i), "", nil))))
			}
		}(g)
	}
	wg.Wait()
	require.NoError(t, p.Wait(ctx))

	assert.Len(t, rec.ops(), 32*50)
	assert.Equal(t, int32(1), rec.peak.Load(), "operations were applied concurrently")
	assert.LessOrEqual(t, peakWorkers.Load(), int32(1))
	assert.False(t, p.Active())
}

func TestBatchOrderIsPreserved(t *testing.T) {
	rec := &recorder{}
	p := newProcessor(rec, Options{Async: true})
	ctx := context.Background()

	require.NoError(t, p.Submit(ctx, Of(Delete("5"), Add("5", "", nil))))
	require.NoError(t, p.Submit(ctx, Of(Delete("6"), Add("6", "", nil), Delete("6"))))
	require.NoError(t, p.Wait(ctx))

	assert.Equal(t, []string{"delete:5", "add:5", "delete:6", "add:6", "delete:6"}, rec.ops())
}

func TestNoLostWakeUp(t *testing.T) {
	rec := &recorder{}
	p := newProcessor(rec, Options{Async: true})
	ctx := context.Background()

	for i := 0; i < 2000; i++ {
		require.NoError(t, p.Submit(ctx, Of(Delete(fmt.Sprint(i)))))
		if i%100 == 0 {
			runtimeYield()
		}
	}
	waitCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	require.NoError(t, p.Wait(waitCtx))
	assert.Len(t, rec.ops(), 2000)
	assert.Zero(t, p.Queue().Len())
}

func TestDataErrorsAreSkippedAndReported(t *testing.T) {
	rec := &recorder{}
	var mu sync.Mutex
	var reported []error
	var applied atomic.Int32
	p := newProcessor(rec, Options{
		Async:     true,
		OnApplied: func(Operation) { applied.Add(1) },
		OnError: func(op Operation, err error) {
			mu.Lock()
			reported = append(reported, err)
			mu.Unlock()
		},
	})
	ctx := context.Background()
	require.NoError(t, p.Submit(ctx, Of(Add("1", "", nil), Add("", "", nil), Add("2", "", nil))))
	require.NoError(t, p.Wait(ctx))

	assert.Equal(t, []string{"add:1", "add:2"}, rec.ops())
	assert.Equal(t, int32(2), applied.Load())
	require.Len(t, reported, 1)
	assert.Equal(t, apperrors.KindData, apperrors.Classify(reported[0]))
}

func TestSyncModeReturnsErrors(t *testing.T) {
	boom := errors.New("disk full")
	rec := &recorder{fail: func(op Operation) error {
		if op.ID() == "bad" {
			return apperrors.Fatal("upsert", boom)
		}
		return nil
	}}
	var reported atomic.Int32
	p := newProcessor(rec, Options{OnError: func(Operation, error) { reported.Add(1) }})

	err := p.Submit(context.Background(), Of(Add("ok", "", nil), Add("bad", "", nil), Add("ok2", "", nil)))
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, []string{"add:ok", "add:ok2"}, rec.ops(), "applied on the caller before returning")
	assert.Zero(t, reported.Load())
	assert.False(t, p.Active())
}

func TestCancelStopsAfterCurrentBatch(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	rec := &recorder{}
	p := NewProcessor(NewQueue(100, time.Second), Options{
		Index: "test",
		Async: true,
		Apply: func(ctx context.Context, op Operation) error {
			once.Do(func() { close(started) })
			<-release
			return rec.apply(ctx, op)
		},
	})
	ctx := context.Background()
	require.NoError(t, p.Submit(ctx, Of(Add("1", "", nil), Add("2", "", nil))))
	require.NoError(t, p.Submit(ctx, Of(Add("3", "", nil))))
	<-started

	p.Cancel()
	assert.ErrorIs(t, p.Submit(ctx, Of(Add("4", "", nil))), apperrors.ErrCancelled)
	close(release)
	require.NoError(t, p.Wait(ctx))

	assert.Equal(t, []string{"add:1", "add:2"}, rec.ops(), "in-flight batch completes, next one stays queued")
	assert.Equal(t, 1, p.Queue().Len())

	require.NoError(t, p.DrainNow(ctx))
	assert.Equal(t, []string{"add:1", "add:2", "add:3"}, rec.ops())
	assert.True(t, p.Cancelled())
}

func TestResetResumesDraining(t *testing.T) {
	rec := &recorder{}
	p := newProcessor(rec, Options{Async: true})
	ctx := context.Background()

	p.Cancel()
	require.NoError(t, p.Queue().Enqueue(ctx, Of(Add("1", "", nil))))
	p.Reset()
	require.NoError(t, p.Wait(ctx))
	assert.Equal(t, []string{"add:1"}, rec.ops())
}

func TestWaitHonoursContext(t *testing.T) {
	release := make(chan struct{})
	p := NewProcessor(NewQueue(10, time.Second), Options{
		Index: "test",
		Async: true,
		Apply: func(context.Context, Operation) error {
			<-release
			return nil
		},
	})
	require.NoError(t, p.Submit(context.Background(), Of(Add("1", "", nil))))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, p.Wait(ctx), context.DeadlineExceeded)
	close(release)
	require.NoError(t, p.Wait(context.Background()))
}

func runtimeYield() {
	time.Sleep(time.Microsecond)
}
