package worker

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"
)

// Pool runs submitted functions on goroutines, at most size at a time.
type Pool struct {
	sem    *semaphore.Weighted
	logger *logrus.Logger
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	mu     sync.RWMutex
	closed bool
}

func NewPool(size int, logger *logrus.Logger) *Pool {
	if size <= 0 {
		size = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{
		sem:    semaphore.NewWeighted(int64(size)),
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Go hands fn off to the pool and returns immediately. It reports false
// when the pool has been closed and fn was dropped. When the pool closes
// while fn is still waiting for a slot, abandoned runs instead of fn.
func (p *Pool) Go(fn func(), abandoned func()) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		p.logger.Warn("Worker pool closed, dropping submitted work")
		return false
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		if err := p.sem.Acquire(p.ctx, 1); err != nil {
			p.logger.Warnf("Worker pool shutting down, work not started: %v", err)
			if abandoned != nil {
				abandoned()
			}
			return
		}
		defer p.sem.Release(1)
		fn()
	}()
	return true
}

// Wait blocks until every submitted function has returned.
func (p *Pool) Wait() {
	p.wg.Wait()
}

// Close stops accepting work, abandons work still waiting for a slot and
// waits for running work to return.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.mu.Unlock()

	p.cancel()
	p.wg.Wait()
}
