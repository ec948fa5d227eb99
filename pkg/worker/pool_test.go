package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/protojour/pymoriam/metric"
)

type testWork struct {
	id    int
	delay time.Duration
	fail  bool
}

func TestNewPool_Defaults(t *testing.T) {
	processor := func(_ context.Context, _ testWork) error { return nil }

	pool := NewPool(5, 100, processor)
	assert.Equal(t, 5, pool.workers)
	assert.Equal(t, 100, pool.queueSize)

	pool = NewPool(0, 0, processor)
	assert.Equal(t, 10, pool.workers)
	assert.Equal(t, 1000, pool.queueSize)
}

func TestNewPool_NilProcessor(t *testing.T) {
	assert.PanicsWithValue(t, ErrNilProcessor, func() {
		NewPool[testWork](5, 100, nil)
	})
}

func TestPool_Lifecycle(t *testing.T) {
	pool := NewPool(2, 10, func(_ context.Context, _ testWork) error { return nil })

	assert.ErrorIs(t, pool.Submit(testWork{id: 1}), ErrPoolNotStarted)

	ctx := context.Background()
	require.NoError(t, pool.Start(ctx))
	assert.ErrorIs(t, pool.Start(ctx), ErrPoolAlreadyStarted)

	require.NoError(t, pool.Stop(time.Second))
	assert.ErrorIs(t, pool.Submit(testWork{id: 2}), ErrPoolStopped)

	// second stop is a no-op
	assert.NoError(t, pool.Stop(time.Second))
}

func TestPool_ProcessesAndDrains(t *testing.T) {
	var processed int64
	pool := NewPool(3, 50, func(_ context.Context, w testWork) error {
		time.Sleep(w.delay)
		atomic.AddInt64(&processed, 1)
		return nil
	})

	require.NoError(t, pool.Start(context.Background()))
	for i := 0; i < 20; i++ {
		require.NoError(t, pool.Submit(testWork{id: i, delay: time.Millisecond}))
	}
	require.NoError(t, pool.Stop(5*time.Second))

	assert.Equal(t, int64(20), atomic.LoadInt64(&processed))
	stats := pool.Stats()
	assert.Equal(t, int64(20), stats.Submitted)
	assert.Equal(t, int64(20), stats.Processed)
	assert.Zero(t, stats.Failed)
}

func TestPool_QueueFull(t *testing.T) {
	release := make(chan struct{})
	pool := NewPool(1, 1, func(_ context.Context, _ testWork) error {
		<-release
		return nil
	})
	require.NoError(t, pool.Start(context.Background()))

	require.NoError(t, pool.Submit(testWork{id: 1}))
	// wait until the worker holds the first item
	require.Eventually(t, func() bool { return len(pool.queue) == 0 }, time.Second, time.Millisecond)
	require.NoError(t, pool.Submit(testWork{id: 2}))

	assert.ErrorIs(t, pool.Submit(testWork{id: 3}), ErrQueueFull)
	assert.Equal(t, int64(1), pool.Stats().Dropped)

	close(release)
	require.NoError(t, pool.Stop(time.Second))
}

func TestPool_SubmitWait(t *testing.T) {
	release := make(chan struct{})
	var processed int64
	pool := NewPool(1, 1, func(_ context.Context, _ testWork) error {
		<-release
		atomic.AddInt64(&processed, 1)
		return nil
	})
	require.NoError(t, pool.Start(context.Background()))

	require.NoError(t, pool.Submit(testWork{id: 1}))
	require.Eventually(t, func() bool { return len(pool.queue) == 0 }, time.Second, time.Millisecond)
	require.NoError(t, pool.Submit(testWork{id: 2}))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, pool.SubmitWait(ctx, testWork{id: 3}), context.DeadlineExceeded)

	go func() {
		time.Sleep(10 * time.Millisecond)
		close(release)
	}()
	require.NoError(t, pool.SubmitWait(context.Background(), testWork{id: 4}))
	require.NoError(t, pool.Stop(time.Second))
	assert.Equal(t, int64(3), atomic.LoadInt64(&processed))
}

func TestPool_ErrorHandlerAndPanics(t *testing.T) {
	var mu sync.Mutex
	var seen []error

	pool := NewPool(2, 10, func(_ context.Context, w testWork) error {
		if w.id == 99 {
			panic("exploded")
		}
		if w.fail {
			return errors.New("failed")
		}
		return nil
	}, WithErrorHandler(func(_ testWork, err error) {
		mu.Lock()
		seen = append(seen, err)
		mu.Unlock()
	}))

	require.NoError(t, pool.Start(context.Background()))
	require.NoError(t, pool.Submit(testWork{id: 1}))
	require.NoError(t, pool.Submit(testWork{id: 2, fail: true}))
	require.NoError(t, pool.Submit(testWork{id: 99}))
	require.NoError(t, pool.Stop(time.Second))

	stats := pool.Stats()
	assert.Equal(t, int64(3), stats.Processed)
	assert.Equal(t, int64(2), stats.Failed)
	assert.Equal(t, int64(1), stats.Panicked)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, seen, 2)
	var panicErr *PanicError
	found := false
	for _, err := range seen {
		if errors.As(err, &panicErr) {
			found = true
			assert.Equal(t, "worker panic: exploded", err.Error())
		}
	}
	assert.True(t, found)
}

func TestPool_StopTimeout(t *testing.T) {
	block := make(chan struct{})
	defer close(block)

	pool := NewPool(1, 1, func(_ context.Context, _ testWork) error {
		<-block
		return nil
	})
	require.NoError(t, pool.Start(context.Background()))
	require.NoError(t, pool.Submit(testWork{id: 1}))
	require.Eventually(t, func() bool { return len(pool.queue) == 0 }, time.Second, time.Millisecond)

	assert.ErrorIs(t, pool.Stop(10*time.Millisecond), ErrStopTimeout)
}

func TestPool_Metrics(t *testing.T) {
	registry := metric.NewMetricsRegistry()
	pool := NewPool(1, 4, func(_ context.Context, _ testWork) error { return nil },
		WithMetricsRegistry[testWork](registry, "test_pool"))

	require.NoError(t, pool.Start(context.Background()))
	require.NoError(t, pool.Submit(testWork{id: 1}))
	require.NoError(t, pool.Stop(time.Second))

	families, err := registry.PrometheusRegistry().Gather()
	require.NoError(t, err)
	names := map[string]float64{}
	for _, mf := range families {
		if c := mf.GetMetric()[0].GetCounter(); c != nil {
			names[mf.GetName()] = c.GetValue()
		}
	}
	assert.Equal(t, 1.0, names["test_pool_submitted_total"])
	assert.Equal(t, 1.0, names["test_pool_processed_total"])
}
