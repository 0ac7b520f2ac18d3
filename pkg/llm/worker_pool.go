package llm

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// WorkerPoolConfig configures the LLM worker pool.
type WorkerPoolConfig struct {
	MaxConcurrent int // Maximum concurrent LLM calls (default: 4)
}

// DefaultWorkerPoolConfig returns the default pool size.
func DefaultWorkerPoolConfig() WorkerPoolConfig {
	return WorkerPoolConfig{
		MaxConcurrent: 4,
	}
}

// WorkerPool runs extraction calls with bounded parallelism.
type WorkerPool struct {
	config WorkerPoolConfig
	logger *zap.Logger
}

// NewWorkerPool creates a new LLM worker pool.
func NewWorkerPool(config WorkerPoolConfig, logger *zap.Logger) *WorkerPool {
	if config.MaxConcurrent < 1 {
		config.MaxConcurrent = DefaultWorkerPoolConfig().MaxConcurrent
	}
	return &WorkerPool{
		config: config,
		logger: logger.Named("llm-worker-pool"),
	}
}

// MaxConcurrent returns the configured parallelism.
func (p *WorkerPool) MaxConcurrent() int {
	return p.config.MaxConcurrent
}

// WorkItem represents a unit of work to be processed.
type WorkItem[T any] struct {
	ID      string
	Execute func(ctx context.Context) (T, error)
}

// WorkResult represents the result of a work item.
type WorkResult[T any] struct {
	ID     string
	Result T
	Err    error
}

// Process executes all items and returns their results in submission order.
// A failing item does not stop the others. Items that have not started when
// ctx is cancelled report ctx.Err().
func Process[T any](
	ctx context.Context,
	pool *WorkerPool,
	items []WorkItem[T],
	onProgress func(completed, total int),
) []WorkResult[T] {
	if len(items) == 0 {
		return nil
	}

	results := make([]WorkResult[T], len(items))
	sem := make(chan struct{}, pool.config.MaxConcurrent)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		completed int
	)

	for i, item := range items {
		wg.Add(1)
		go func() {
			defer wg.Done()

			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				results[i] = WorkResult[T]{ID: item.ID, Err: ctx.Err()}
				return
			}

			var res WorkResult[T]
			if err := ctx.Err(); err != nil {
				res = WorkResult[T]{ID: item.ID, Err: err}
			} else {
				out, err := item.Execute(ctx)
				res = WorkResult[T]{ID: item.ID, Result: out, Err: err}
			}
			results[i] = res

			if res.Err != nil {
				pool.logger.Debug("Work item failed", zap.String("id", item.ID), zap.Error(res.Err))
			}
			if onProgress != nil {
				mu.Lock()
				completed++
				onProgress(completed, len(items))
				mu.Unlock()
			}
		}()
	}

	wg.Wait()
	return results
}
