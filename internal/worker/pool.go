// Package worker provides the bounded goroutine pool shared by node
// visitation, notify callbacks and dispatch.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
)

// Metrics tracks pool operational counters.
type Metrics struct {
	Queued    int64 `json:"queued"`
	Active    int64 `json:"active"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Panics    int64 `json:"panics"`
}

// ErrPoolShutdown is returned when work is submitted to a shut-down pool.
var ErrPoolShutdown = errors.New("worker pool is shut down")

// Func is a unit of work.
type Func func(ctx context.Context) error

// Pool is a bounded goroutine pool.
type Pool struct {
	name    string
	sem     chan struct{}
	metrics Metrics
	logger  *slog.Logger

	mu          sync.Mutex
	idle        *sync.Cond
	outstanding int
	done        chan struct{}
	closed      bool
}

// New creates a pool with the given max concurrency.
func New(name string, size int, logger *slog.Logger) *Pool {
	if size <= 0 {
		size = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	p := &Pool{
		name:   name,
		sem:    make(chan struct{}, size),
		done:   make(chan struct{}),
		logger: logger,
	}
	p.idle = sync.NewCond(&p.mu)
	return p
}

// Submit runs fn on the pool. It blocks while the pool is at capacity and
// respects ctx cancellation while waiting.
func (p *Pool) Submit(ctx context.Context, fn Func) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrPoolShutdown
	}
	p.mu.Unlock()

	select {
	case p.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	case <-p.done:
		return ErrPoolShutdown
	}

	// Re-check under the lock so Shutdown cannot miss this unit of work.
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		<-p.sem
		return ErrPoolShutdown
	}
	p.outstanding++
	atomic.AddInt64(&p.metrics.Active, 1)
	p.mu.Unlock()

	go p.run(ctx, fn)
	return nil
}

// Go schedules fn without blocking the caller. Work scheduled from inside a
// pool worker must use Go so a full pool cannot deadlock on itself.
func (p *Pool) Go(ctx context.Context, fn Func) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		p.logger.Warn("work dropped, pool shut down", slog.String("pool", p.name))
		return
	}
	p.outstanding++
	p.mu.Unlock()

	atomic.AddInt64(&p.metrics.Queued, 1)
	go func() {
		defer p.release()
		defer atomic.AddInt64(&p.metrics.Queued, -1)
		if err := p.Submit(ctx, fn); err != nil {
			p.logger.Warn("work not scheduled", slog.String("pool", p.name), slog.String("error", err.Error()))
		}
	}()
}

func (p *Pool) run(ctx context.Context, fn Func) {
	defer func() {
		if r := recover(); r != nil {
			atomic.AddInt64(&p.metrics.Panics, 1)
			atomic.AddInt64(&p.metrics.Failed, 1)
			p.logger.Error("worker panic", slog.String("pool", p.name), slog.String("panic", fmt.Sprint(r)))
		}
		atomic.AddInt64(&p.metrics.Active, -1)
		<-p.sem
		p.release()
	}()

	if err := fn(ctx); err != nil {
		atomic.AddInt64(&p.metrics.Failed, 1)
		return
	}
	atomic.AddInt64(&p.metrics.Completed, 1)
}

func (p *Pool) release() {
	p.mu.Lock()
	p.outstanding--
	if p.outstanding == 0 {
		p.idle.Broadcast()
	}
	p.mu.Unlock()
}

// Wait blocks until all scheduled and running work completes, including
// work scheduled by that work.
func (p *Pool) Wait() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for p.outstanding > 0 {
		p.idle.Wait()
	}
}

// Shutdown stops accepting work and waits for running work to finish.
func (p *Pool) Shutdown() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.done)
	for p.outstanding > 0 {
		p.idle.Wait()
	}
	p.mu.Unlock()
}

// Metrics returns a snapshot of the pool counters.
func (p *Pool) Metrics() Metrics {
	return Metrics{
		Queued:    atomic.LoadInt64(&p.metrics.Queued),
		Active:    atomic.LoadInt64(&p.metrics.Active),
		Completed: atomic.LoadInt64(&p.metrics.Completed),
		Failed:    atomic.LoadInt64(&p.metrics.Failed),
		Panics:    atomic.LoadInt64(&p.metrics.Panics),
	}
}
