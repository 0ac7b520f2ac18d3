package llm

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestWorkerPool_Process_PreservesOrder(t *testing.T) {
	pool := NewWorkerPool(WorkerPoolConfig{MaxConcurrent: 3}, zap.NewNop())

	var items []WorkItem[int]
	for i := range 10 {
		items = append(items, WorkItem[int]{
			ID: fmt.Sprintf("item-%d", i),
			Execute: func(ctx context.Context) (int, error) {
				time.Sleep(time.Duration(10-i) * time.Millisecond)
				return i * i, nil
			},
		})
	}

	results := Process(context.Background(), pool, items, nil)

	require.Len(t, results, 10)
	for i, r := range results {
		assert.Equal(t, fmt.Sprintf("item-%d", i), r.ID)
		assert.NoError(t, r.Err)
		assert.Equal(t, i*i, r.Result)
	}
}

func TestWorkerPool_Process_IsolatesErrors(t *testing.T) {
	pool := NewWorkerPool(WorkerPoolConfig{MaxConcurrent: 2}, zap.NewNop())
	boom := errors.New("extraction failed")

	items := []WorkItem[string]{
		{ID: "a", Execute: func(context.Context) (string, error) { return "ok-a", nil }},
		{ID: "b", Execute: func(context.Context) (string, error) { return "", boom }},
		{ID: "c", Execute: func(context.Context) (string, error) { return "ok-c", nil }},
	}

	results := Process(context.Background(), pool, items, nil)

	require.Len(t, results, 3)
	assert.Equal(t, "ok-a", results[0].Result)
	assert.ErrorIs(t, results[1].Err, boom)
	assert.Equal(t, "ok-c", results[2].Result)
}

func TestWorkerPool_Process_EmptyItems(t *testing.T) {
	pool := NewWorkerPool(DefaultWorkerPoolConfig(), zap.NewNop())
	assert.Nil(t, Process[int](context.Background(), pool, nil, nil))
}

func TestWorkerPool_Process_ConcurrencyLimit(t *testing.T) {
	pool := NewWorkerPool(WorkerPoolConfig{MaxConcurrent: 2}, zap.NewNop())

	var current, peak int32
	var items []WorkItem[struct{}]
	for i := range 8 {
		items = append(items, WorkItem[struct{}]{
			ID: fmt.Sprint(i),
			Execute: func(context.Context) (struct{}, error) {
				n := atomic.AddInt32(&current, 1)
				for {
					p := atomic.LoadInt32(&peak)
					if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
						break
					}
				}
				time.Sleep(5 * time.Millisecond)
				atomic.AddInt32(&current, -1)
				return struct{}{}, nil
			},
		})
	}

	Process(context.Background(), pool, items, nil)

	assert.LessOrEqual(t, atomic.LoadInt32(&peak), int32(2))
}

func TestWorkerPool_Process_CancelledContext(t *testing.T) {
	pool := NewWorkerPool(WorkerPoolConfig{MaxConcurrent: 1}, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var ran int32
	items := []WorkItem[int]{
		{ID: "a", Execute: func(context.Context) (int, error) { atomic.AddInt32(&ran, 1); return 1, nil }},
		{ID: "b", Execute: func(context.Context) (int, error) { atomic.AddInt32(&ran, 1); return 2, nil }},
	}

	results := Process(ctx, pool, items, nil)

	require.Len(t, results, 2)
	for _, r := range results {
		assert.ErrorIs(t, r.Err, context.Canceled)
	}
	assert.Equal(t, int32(0), atomic.LoadInt32(&ran))
}

func TestWorkerPool_Process_ProgressCallback(t *testing.T) {
	pool := NewWorkerPool(WorkerPoolConfig{MaxConcurrent: 4}, zap.NewNop())

	var items []WorkItem[int]
	for i := range 5 {
		items = append(items, WorkItem[int]{ID: fmt.Sprint(i), Execute: func(context.Context) (int, error) { return i, nil }})
	}

	var calls []int
	Process(context.Background(), pool, items, func(completed, total int) {
		assert.Equal(t, 5, total)
		calls = append(calls, completed)
	})

	assert.Equal(t, []int{1, 2, 3, 4, 5}, calls)
}

func TestWorkerPool_ConfigDefault(t *testing.T) {
	pool := NewWorkerPool(WorkerPoolConfig{MaxConcurrent: 0}, zap.NewNop())
	assert.Equal(t, DefaultWorkerPoolConfig().MaxConcurrent, pool.MaxConcurrent())
}
