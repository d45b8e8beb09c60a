package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestPool_BasicExecution(t *testing.T) {
	pool := New("test", 2, nil)
	defer pool.Shutdown()

	var ran int64
	err := pool.Submit(context.Background(), func(ctx context.Context) error {
		atomic.AddInt64(&ran, 1)
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected submit error: %v", err)
	}

	pool.Wait()

	if atomic.LoadInt64(&ran) != 1 {
		t.Error("work did not execute")
	}
	if m := pool.Metrics(); m.Completed != 1 {
		t.Errorf("expected 1 completed, got %d", m.Completed)
	}
}

func TestPool_ConcurrencyLimit(t *testing.T) {
	pool := New("test", 3, nil)
	defer pool.Shutdown()

	var current, maxConcurrent int64
	var mu sync.Mutex

	for i := 0; i < 10; i++ {
		err := pool.Submit(context.Background(), func(ctx context.Context) error {
			c := atomic.AddInt64(&current, 1)
			mu.Lock()
			if c > maxConcurrent {
				maxConcurrent = c
			}
			mu.Unlock()
			time.Sleep(10 * time.Millisecond)
			atomic.AddInt64(&current, -1)
			return nil
		})
		if err != nil {
			t.Fatalf("submit %d: %v", i, err)
		}
	}
	pool.Wait()

	if maxConcurrent > 3 {
		t.Errorf("max concurrency %d exceeded pool size 3", maxConcurrent)
	}
}

func TestPool_GoFromInsideWorkerDoesNotDeadlock(t *testing.T) {
	pool := New("test", 1, nil)
	defer pool.Shutdown()

	var depth int64
	var step Func
	step = func(ctx context.Context) error {
		if atomic.AddInt64(&depth, 1) < 5 {
			pool.Go(ctx, step)
		}
		return nil
	}
	pool.Go(context.Background(), step)

	done := make(chan struct{})
	go func() {
		pool.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("pool deadlocked on nested scheduling")
	}
	if got := atomic.LoadInt64(&depth); got != 5 {
		t.Errorf("expected 5 nested runs, got %d", got)
	}
}

func TestPool_PanicRecovery(t *testing.T) {
	pool := New("test", 1, nil)
	defer pool.Shutdown()

	_ = pool.Submit(context.Background(), func(ctx context.Context) error {
		panic("boom")
	})
	pool.Wait()

	m := pool.Metrics()
	if m.Panics != 1 || m.Failed != 1 {
		t.Errorf("expected 1 panic and 1 failure, got %+v", m)
	}
	if m.Active != 0 {
		t.Errorf("expected no active workers, got %d", m.Active)
	}
}

func TestPool_FailedWork(t *testing.T) {
	pool := New("test", 1, nil)
	defer pool.Shutdown()

	_ = pool.Submit(context.Background(), func(ctx context.Context) error {
		return errors.New("nope")
	})
	pool.Wait()

	if m := pool.Metrics(); m.Failed != 1 {
		t.Errorf("expected 1 failed, got %d", m.Failed)
	}
}

func TestPool_SubmitAfterShutdown(t *testing.T) {
	pool := New("test", 1, nil)
	pool.Shutdown()

	err := pool.Submit(context.Background(), func(ctx context.Context) error { return nil })
	if !errors.Is(err, ErrPoolShutdown) {
		t.Errorf("expected ErrPoolShutdown, got %v", err)
	}
}

func TestPool_SubmitRespectsContext(t *testing.T) {
	pool := New("test", 1, nil)
	defer pool.Shutdown()

	release := make(chan struct{})
	_ = pool.Submit(context.Background(), func(ctx context.Context) error {
		<-release
		return nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := pool.Submit(ctx, func(ctx context.Context) error { return nil })
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}
	close(release)
}
