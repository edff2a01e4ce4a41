// Package async provides a bounded worker pool for fan-out work.
package async

import (
	"context"
	"sync"
)

// WorkerPool runs tasks on at most Workers goroutines
type WorkerPool struct {
	workers int
}

// NewWorkerPool creates a pool; workers below 1 means 1
func NewWorkerPool(workers int) *WorkerPool {
	if workers < 1 {
		workers = 1
	}
	return &WorkerPool{workers: workers}
}

// Task is one unit of work; i is its index in the submitted batch
type Task func(ctx context.Context, i int) error

// Run executes n tasks and waits for all of them. Errors are returned by task
// index; a nil slot means the task succeeded. Tasks not yet started when ctx
// is done are marked with ctx.Err().
func (wp *WorkerPool) Run(ctx context.Context, n int, task Task) []error {
	errs := make([]error, n)
	if n == 0 {
		return errs
	}

	queue := make(chan int)
	var wg sync.WaitGroup
	workers := wp.workers
	if workers > n {
		workers = n
	}
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range queue {
				errs[i] = task(ctx, i)
			}
		}()
	}

	for i := 0; i < n; i++ {
		if err := ctx.Err(); err != nil {
			errs[i] = err
			continue
		}
		select {
		case queue <- i:
		case <-ctx.Done():
			errs[i] = ctx.Err()
		}
	}
	close(queue)
	wg.Wait()
	return errs
}
