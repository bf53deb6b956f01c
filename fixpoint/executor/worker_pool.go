package executor

import (
	"context"
	"fmt"
	"runtime"
	"sync"
)

// WorkerPool runs independent jobs on a bounded number of goroutines. It is
// used for the member bodies of a recursive group and for the affected
// groups of Reduce, Distinct, Threshold and TopK.
//
// Each call starts its own workers, so jobs may use the pool again without
// starving the outer call.
type WorkerPool struct {
	workerCount int
}

// NewWorkerPool creates a pool. workerCount <= 0 uses runtime.NumCPU().
func NewWorkerPool(workerCount int) *WorkerPool {
	if workerCount <= 0 {
		workerCount = runtime.NumCPU()
	}
	return &WorkerPool{workerCount: workerCount}
}

// Run calls fn for every index in [0, n). After the first failure the
// remaining jobs are skipped; the error of the lowest failing index is
// returned, annotated with that index when jobs ran concurrently.
func (p *WorkerPool) Run(ctx context.Context, n int, fn func(ctx context.Context, i int) error) error {
	if n == 0 {
		return nil
	}
	if n == 1 || p.workerCount == 1 {
		for i := 0; i < n; i++ {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := fn(ctx, i); err != nil {
				return err
			}
		}
		return nil
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errs := make([]error, n)
	jobs := make(chan int, n)
	for i := 0; i < n; i++ {
		jobs <- i
	}
	close(jobs)

	workers := p.workerCount
	if workers > n {
		workers = n
	}
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idx := range jobs {
				if err := ctx.Err(); err != nil {
					errs[idx] = err
					continue
				}
				if err := fn(ctx, idx); err != nil {
					errs[idx] = err
					cancel()
				}
			}
		}()
	}
	wg.Wait()

	// Prefer a real failure over the cancellations it caused.
	var first error
	firstIdx := -1
	for i, err := range errs {
		if err == nil {
			continue
		}
		if firstIdx < 0 || (first == context.Canceled && err != context.Canceled) {
			first, firstIdx = err, i
		}
	}
	if first != nil {
		return fmt.Errorf("parallel execution failed at index %d: %w", firstIdx, first)
	}
	return nil
}

// ExecuteParallel applies operation to every input and returns the results
// in input order.
func ExecuteParallel[In, Out any](ctx context.Context, p *WorkerPool, inputs []In, operation func(context.Context, In) (Out, error)) ([]Out, error) {
	results := make([]Out, len(inputs))
	err := p.Run(ctx, len(inputs), func(ctx context.Context, i int) error {
		out, err := operation(ctx, inputs[i])
		if err != nil {
			return err
		}
		results[i] = out
		return nil
	})
	if err != nil {
		return nil, err
	}
	return results, nil
}

// GetWorkerCount returns the number of worker goroutines.
func (p *WorkerPool) GetWorkerCount() int {
	return p.workerCount
}
