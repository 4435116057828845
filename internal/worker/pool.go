// Package worker provides the bounded task pool live shells run their
// background work on.
package worker

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/strixsec/strix/internal/logger"
)

// Pool runs tasks with a fixed concurrency limit. It satisfies
// types.Runner.
type Pool struct {
	log *logger.Logger

	mu     sync.Mutex
	group  *errgroup.Group
	ctx    context.Context
	closed bool
}

func NewPool(ctx context.Context, size int, log *logger.Logger) *Pool {
	group, ctx := errgroup.WithContext(ctx)
	if size > 0 {
		group.SetLimit(size)
	}
	return &Pool{
		log:   log.WithComponent("worker"),
		group: group,
		ctx:   ctx,
	}
}

// Run schedules a task, blocking while the pool is at its limit. Task
// errors are logged and collected; the first one is returned by Wait.
func (p *Pool) Run(ctx context.Context, task func(ctx context.Context) error) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return fmt.Errorf("worker pool is closed")
	}
	group := p.group
	p.mu.Unlock()

	group.Go(func() error {
		if err := task(p.ctx); err != nil {
			p.log.LogError(ctx, err, "worker.task")
			return err
		}
		return nil
	})
	return nil
}

// Wait closes the pool and blocks until every scheduled task has finished,
// returning the first task error.
func (p *Pool) Wait() error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	return p.group.Wait()
}
