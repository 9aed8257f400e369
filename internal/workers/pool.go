// Package workers runs background work on a bounded pool.
package workers

import (
	"sync"

	"homerules/internal/utils"

	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc/pool"
)

// Pool executes submitted functions on at most a fixed number of goroutines
type Pool struct {
	pool   *pool.Pool
	wg     sync.WaitGroup
	mu     sync.Mutex
	closed bool
	logger zerolog.Logger
}

// New creates a pool running at most size functions at once
func New(size int) *Pool {
	if size < 1 {
		size = 1
	}
	return &Pool{
		pool:   pool.New().WithMaxGoroutines(size),
		logger: utils.Component("WORKERS"),
	}
}

// Submit queues fn and returns without waiting for a free worker
func (p *Pool) Submit(fn func()) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		p.logger.Warn().Msg("submit after close ignored")
		return
	}
	p.wg.Add(1)
	p.mu.Unlock()
	go func() {
		defer p.wg.Done()
		p.pool.Go(fn)
	}()
}

// Close stops accepting work and waits for everything already submitted
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.mu.Unlock()
	p.wg.Wait()
	p.pool.Wait()
}
