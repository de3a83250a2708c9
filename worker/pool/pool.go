// Package pool bounds how many units a worker process executes at once.
package pool

import "context"

// Pool is a semaphore-bounded executor. Do blocks until a slot frees up, runs
// fn in the caller's goroutine and releases the slot, so a caller that must
// only acknowledge work after it finished gets that for free.
type Pool struct {
	sem chan struct{}
}

func New(maxWorkers int) *Pool {
	if maxWorkers < 1 {
		maxWorkers = 1
	}
	return &Pool{sem: make(chan struct{}, maxWorkers)}
}

func (p *Pool) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	select {
	case p.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-p.sem }()
	return fn(ctx)
}
