package notify

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pranay-harness/harness-core-sub060/internal/worker"
	"github.com/pranay-harness/harness-core-sub060/pkg/schema"
)

type recorder struct {
	mu        sync.Mutex
	responses int
	errors    int
	timeouts  int
	last      map[string]Response
	pending   []string
	fired     chan struct{}
}

func newRecorder() *recorder {
	return &recorder{fired: make(chan struct{}, 16)}
}

func (r *recorder) HandleResponse(_ context.Context, resp map[string]Response) {
	r.mu.Lock()
	r.responses++
	r.last = resp
	r.mu.Unlock()
	r.fired <- struct{}{}
}

func (r *recorder) HandleError(_ context.Context, resp map[string]Response) {
	r.mu.Lock()
	r.errors++
	r.last = resp
	r.mu.Unlock()
	r.fired <- struct{}{}
}

func (r *recorder) HandleTimeout(_ context.Context, pending []string, resp map[string]Response) {
	r.mu.Lock()
	r.timeouts++
	r.pending = pending
	r.last = resp
	r.mu.Unlock()
	r.fired <- struct{}{}
}

func (r *recorder) waitFired(t *testing.T) {
	t.Helper()
	select {
	case <-r.fired:
	case <-time.After(2 * time.Second):
		t.Fatal("callback did not fire")
	}
}

func newTestEngine(t *testing.T) (*Engine, *worker.Pool) {
	t.Helper()
	pool := worker.New("notify-test", 4, nil)
	t.Cleanup(pool.Shutdown)
	return New(Config{Pool: pool}), pool
}

func TestWaitFor_RejectsBusyKey(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	_, err := e.WaitFor(ctx, WaitRequest{Keys: []string{"a", "b"}, Callback: newRecorder()})
	require.NoError(t, err)

	_, err = e.WaitFor(ctx, WaitRequest{Keys: []string{"c", "b"}, Callback: newRecorder()})
	require.Error(t, err)
	assert.True(t, schema.HasCode(err, schema.ErrCodeConflict))
	assert.False(t, e.Awaited("c"), "rejected wait must register nothing")
	assert.Equal(t, 1, e.Pending())
}

func TestWaitFor_Validation(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	_, err := e.WaitFor(ctx, WaitRequest{Callback: newRecorder()})
	assert.Error(t, err)
	_, err = e.WaitFor(ctx, WaitRequest{Keys: []string{"a"}})
	assert.Error(t, err)
	_, err = e.WaitFor(ctx, WaitRequest{Keys: []string{"a", "a"}, Callback: newRecorder()})
	assert.Error(t, err)
}

func TestNotify_FiresOnlyWhenAllKeysResolved(t *testing.T) {
	e, pool := newTestEngine(t)
	ctx := context.Background()
	rec := newRecorder()

	_, err := e.WaitFor(ctx, WaitRequest{Keys: []string{"k1", "k2", "k3"}, Callback: rec})
	require.NoError(t, err)

	assert.True(t, e.Notify(ctx, "k1", map[string]any{"n": 1}))
	assert.True(t, e.Notify(ctx, "k2", map[string]any{"n": 2}))
	pool.Wait()

	rec.mu.Lock()
	assert.Equal(t, 0, rec.responses)
	rec.mu.Unlock()

	assert.True(t, e.Notify(ctx, "k3", map[string]any{"n": 3}))
	rec.waitFired(t)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	assert.Equal(t, 1, rec.responses)
	assert.Len(t, rec.last, 3)
	assert.Equal(t, 3, rec.last["k3"].Data["n"])
	assert.Equal(t, 0, e.Pending())
}

func TestNotify_ConcurrentResolutionFiresOnce(t *testing.T) {
	e, pool := newTestEngine(t)
	ctx := context.Background()

	var fired int64
	cb := Funcs{OnResponse: func(context.Context, map[string]Response) {
		atomic.AddInt64(&fired, 1)
	}}
	keys := []string{"a", "b", "c", "d"}
	_, err := e.WaitFor(ctx, WaitRequest{Keys: keys, Callback: cb})
	require.NoError(t, err)

	var accepted int64
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		for _, k := range keys {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if e.Notify(ctx, k, nil) {
					atomic.AddInt64(&accepted, 1)
				}
			}()
		}
	}
	wg.Wait()
	pool.Wait()

	assert.Equal(t, int64(len(keys)), atomic.LoadInt64(&accepted))
	assert.Equal(t, int64(1), atomic.LoadInt64(&fired))
}

func TestNotify_UnknownKey(t *testing.T) {
	e, _ := newTestEngine(t)
	assert.False(t, e.Notify(context.Background(), "nope", nil))
}

func TestNotify_CallbackRunsOffCallingGoroutine(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	block := make(chan struct{})
	entered := make(chan struct{})
	cb := Funcs{OnResponse: func(context.Context, map[string]Response) {
		close(entered)
		<-block
	}}
	_, err := e.WaitFor(ctx, WaitRequest{Keys: []string{"x"}, Callback: cb})
	require.NoError(t, err)

	returned := make(chan struct{})
	go func() {
		e.Notify(ctx, "x", nil)
		close(returned)
	}()

	select {
	case <-returned:
	case <-time.After(time.Second):
		t.Fatal("Notify blocked on the callback")
	}
	<-entered
	close(block)
}

func TestNotifyError_FiresHandleError(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()
	rec := newRecorder()

	_, err := e.WaitFor(ctx, WaitRequest{Keys: []string{"a", "b"}, Callback: rec})
	require.NoError(t, err)

	e.Notify(ctx, "a", nil)
	e.NotifyError(ctx, "b", map[string]any{"error": "exit 1"})
	rec.waitFired(t)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	assert.Equal(t, 1, rec.errors)
	assert.Equal(t, 0, rec.responses)
	assert.True(t, rec.last["b"].Error)
	assert.False(t, rec.last["a"].Error)
}

func TestSweepExpired_FiresTimeoutOnce(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	var clock atomic.Value
	clock.Store(now)

	pool := worker.New("notify-test", 2, nil)
	t.Cleanup(pool.Shutdown)
	e := New(Config{Pool: pool, Now: func() time.Time { return clock.Load().(time.Time) }})
	ctx := context.Background()
	rec := newRecorder()

	_, err := e.WaitFor(ctx, WaitRequest{Keys: []string{"t1", "t2"}, Callback: rec, Timeout: time.Minute})
	require.NoError(t, err)
	e.Notify(ctx, "t1", nil)

	assert.Equal(t, 0, e.SweepExpired(now.Add(30*time.Second)))
	assert.Equal(t, 1, e.SweepExpired(now.Add(2*time.Minute)))
	assert.Equal(t, 0, e.SweepExpired(now.Add(3*time.Minute)))
	rec.waitFired(t)

	assert.False(t, e.Notify(ctx, "t2", nil), "late response must be discarded")

	rec.mu.Lock()
	defer rec.mu.Unlock()
	assert.Equal(t, 1, rec.timeouts)
	assert.Equal(t, []string{"t2"}, rec.pending)
	assert.Contains(t, rec.last, "t1")
}

func TestSweepExpired_IgnoresWaitsWithoutTimeout(t *testing.T) {
	e, _ := newTestEngine(t)
	_, err := e.WaitFor(context.Background(), WaitRequest{Keys: []string{"forever"}, Callback: newRecorder()})
	require.NoError(t, err)
	assert.Equal(t, 0, e.SweepExpired(time.Now().Add(24*time.Hour)))
}

func TestRelease_DiscardsWithoutFiring(t *testing.T) {
	e, pool := newTestEngine(t)
	ctx := context.Background()
	rec := newRecorder()

	_, err := e.WaitFor(ctx, WaitRequest{Keys: []string{"a"}, Callback: rec, Group: "exec-1"})
	require.NoError(t, err)
	_, err = e.WaitFor(ctx, WaitRequest{Keys: []string{"b"}, Callback: rec, Group: "exec-2"})
	require.NoError(t, err)

	assert.Equal(t, 1, e.Release("exec-1"))
	assert.False(t, e.Notify(ctx, "a", nil))
	pool.Wait()

	rec.mu.Lock()
	assert.Equal(t, 0, rec.responses)
	rec.mu.Unlock()
	assert.Equal(t, 1, e.Pending())

	// The released key may be awaited again.
	_, err = e.WaitFor(ctx, WaitRequest{Keys: []string{"a"}, Callback: rec})
	assert.NoError(t, err)
}

func TestRun_SweepsOnTicker(t *testing.T) {
	pool := worker.New("notify-test", 2, nil)
	t.Cleanup(pool.Shutdown)
	e := New(Config{Pool: pool, SweepInterval: 10 * time.Millisecond})
	rec := newRecorder()

	_, err := e.WaitFor(context.Background(), WaitRequest{Keys: []string{"x"}, Callback: rec, Timeout: 20 * time.Millisecond})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go e.Run(ctx)

	rec.waitFired(t)
	rec.mu.Lock()
	defer rec.mu.Unlock()
	assert.Equal(t, 1, rec.timeouts)
}

func TestCancel_DropsSingleWait(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	id, err := e.WaitFor(ctx, WaitRequest{Keys: []string{"x", "y"}, Callback: newRecorder()})
	require.NoError(t, err)

	assert.True(t, e.Cancel(id))
	assert.False(t, e.Cancel(id))
	assert.False(t, e.Awaited("x"))
	assert.False(t, e.Notify(ctx, "y", nil))
	assert.Equal(t, 0, e.Pending())
}
