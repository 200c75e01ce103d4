package scanner

import (
	"context"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// pool bounds how many decode calls run at once. A task that cannot get a
// slot before its context ends is abandoned instead of run.
type pool struct {
	sem     *semaphore.Weighted
	running atomic.Int64
}

func newPool(workers int) *pool {
	return &pool{sem: semaphore.NewWeighted(int64(workers))}
}

// submit runs run on its own goroutine once a slot is free, or abandon if
// ctx ends first. Exactly one of the two is called.
func (p *pool) submit(ctx context.Context, run func(), abandon func()) {
	go func() {
		if err := p.sem.Acquire(ctx, 1); err != nil {
			abandon()
			return
		}
		defer p.sem.Release(1)

		p.running.Add(1)
		defer p.running.Add(-1)
		run()
	}()
}

// inFlight returns the number of tasks holding a slot, zombies included.
func (p *pool) inFlight() int64 {
	return p.running.Load()
}
