package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/servicekit/metric"
)

func TestPool_ProcessesSubmittedWork(t *testing.T) {
	var processed atomic.Int64
	var wg sync.WaitGroup

	pool := NewPool(2, 10, func(_ context.Context, n int) error {
		defer wg.Done()
		processed.Add(int64(n))
		return nil
	})

	require.NoError(t, pool.Start(context.Background()))

	for i := 1; i <= 5; i++ {
		wg.Add(1)
		require.NoError(t, pool.Submit(i))
	}
	wg.Wait()

	assert.Equal(t, int64(15), processed.Load())
	require.NoError(t, pool.Stop(time.Second))

	stats := pool.Stats()
	assert.Equal(t, int64(5), stats.Submitted)
	assert.Equal(t, int64(5), stats.Processed)
	assert.Equal(t, int64(0), stats.Failed)
}

func TestPool_SubmitBeforeStart(t *testing.T) {
	pool := NewPool(1, 1, func(context.Context, int) error { return nil })
	err := pool.Submit(1)
	assert.ErrorIs(t, err, ErrPoolNotStarted)
}

func TestPool_DoubleStart(t *testing.T) {
	pool := NewPool(1, 1, func(context.Context, int) error { return nil })
	require.NoError(t, pool.Start(context.Background()))
	assert.ErrorIs(t, pool.Start(context.Background()), ErrPoolAlreadyStarted)
	require.NoError(t, pool.Stop(time.Second))
}

func TestPool_DropsWhenQueueFull(t *testing.T) {
	block := make(chan struct{})
	pool := NewPool(1, 1, func(_ context.Context, _ int) error {
		<-block
		return nil
	})
	require.NoError(t, pool.Start(context.Background()))
	defer func() {
		close(block)
		_ = pool.Stop(time.Second)
	}()

	// First item occupies the worker, second fills the queue. Later submits
	// must be dropped rather than block the caller.
	require.NoError(t, pool.Submit(1))
	require.NoError(t, pool.Submit(2))

	// The single worker may not have picked up item 1 yet; keep submitting
	// until the queue rejects.
	deadline := time.After(time.Second)
	for {
		err := pool.Submit(3)
		if errors.Is(err, ErrQueueFull) {
			break
		}
		select {
		case <-deadline:
			t.Fatal("queue never filled")
		default:
		}
	}

	assert.Greater(t, pool.Stats().Dropped, int64(0))
}

func TestPool_CountsFailures(t *testing.T) {
	var wg sync.WaitGroup
	pool := NewPool(1, 10, func(_ context.Context, fail bool) error {
		defer wg.Done()
		if fail {
			return errors.New("processing failed")
		}
		return nil
	})
	require.NoError(t, pool.Start(context.Background()))

	wg.Add(2)
	require.NoError(t, pool.Submit(true))
	require.NoError(t, pool.Submit(false))
	wg.Wait()

	require.NoError(t, pool.Stop(time.Second))
	assert.Equal(t, int64(1), pool.Stats().Failed)
}

func TestPool_MetricsRegistered(t *testing.T) {
	reg := metric.NewRegistry()
	pool := NewPool(1, 4, func(context.Context, int) error { return nil },
		WithMetricsRegistry[int](reg, "test_pool"))
	require.NotNil(t, pool.metrics)

	require.NoError(t, pool.Start(context.Background()))
	require.NoError(t, pool.Submit(1))
	require.NoError(t, pool.Submit(2))
	// Stop drains the queue, so the counters are settled afterwards.
	require.NoError(t, pool.Stop(time.Second))

	assert.Equal(t, 2.0, testutil.ToFloat64(pool.metrics.submitted))
	assert.Equal(t, 2.0, testutil.ToFloat64(pool.metrics.processed))
	assert.Equal(t, 0.0, testutil.ToFloat64(pool.metrics.failed))

	families, err := reg.PrometheusRegistry().Gather()
	require.NoError(t, err)
	names := make(map[string]bool, len(families))
	for _, fam := range families {
		names[fam.GetName()] = true
	}
	assert.True(t, names["test_pool_submitted_total"])
	assert.True(t, names["test_pool_processed_total"])
	assert.True(t, names["test_pool_queue_depth"])
}

func TestNewPool_NilProcessorPanics(t *testing.T) {
	assert.Panics(t, func() {
		NewPool[int](1, 1, nil)
	})
}
