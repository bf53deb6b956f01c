package executor

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorkerPool(t *testing.T) {
	t.Run("DefaultsToNumCPU", func(t *testing.T) {
		assert.Greater(t, NewWorkerPool(0).GetWorkerCount(), 0)
		assert.Equal(t, 3, NewWorkerPool(3).GetWorkerCount())
	})

	t.Run("RunsEveryIndex", func(t *testing.T) {
		for _, workers := range []int{1, 4} {
			var sum atomic.Int64
			err := NewWorkerPool(workers).Run(context.Background(), 100, func(_ context.Context, i int) error {
				sum.Add(int64(i))
				return nil
			})
			require.NoError(t, err)
			assert.Equal(t, int64(4950), sum.Load())
		}
	})

	t.Run("SequentialErrorsAreUnwrapped", func(t *testing.T) {
		boom := errors.New("boom")
		err := NewWorkerPool(1).Run(context.Background(), 3, func(_ context.Context, i int) error {
			if i == 1 {
				return boom
			}
			return nil
		})
		assert.Same(t, boom, err)
	})

	t.Run("ParallelErrorNamesIndex", func(t *testing.T) {
		boom := errors.New("boom")
		err := NewWorkerPool(4).Run(context.Background(), 8, func(_ context.Context, i int) error {
			if i == 5 {
				return boom
			}
			return nil
		})
		require.Error(t, err)
		assert.ErrorIs(t, err, boom)
		assert.Contains(t, err.Error(), "index 5")
	})

	t.Run("NestedRunsDoNotStarve", func(t *testing.T) {
		p := NewWorkerPool(2)
		var count atomic.Int64
		err := p.Run(context.Background(), 4, func(ctx context.Context, _ int) error {
			return p.Run(ctx, 4, func(context.Context, int) error {
				count.Add(1)
				return nil
			})
		})
		require.NoError(t, err)
		assert.Equal(t, int64(16), count.Load())
	})

	t.Run("CanceledContext", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		err := NewWorkerPool(1).Run(ctx, 2, func(context.Context, int) error { return nil })
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestExecuteParallel(t *testing.T) {
	p := NewWorkerPool(3)
	out, err := ExecuteParallel(context.Background(), p, []int{1, 2, 3, 4}, func(_ context.Context, x int) (int, error) {
		return x * x, nil
	})
	require.NoError(t, err)
	assert.Equal(t, []int{1, 4, 9, 16}, out)

	_, err = ExecuteParallel(context.Background(), p, []int{1, 2}, func(_ context.Context, x int) (int, error) {
		if x == 2 {
			return 0, errors.New("bad input")
		}
		return x, nil
	})
	assert.EqualError(t, err, "parallel execution failed at index 1: bad input")
}
