// Package notify is the correlation-id keyed wait registry. A component
// suspends on a set of keys and its callback fires exactly once, off the
// resolving goroutine, when every key is resolved or the wait expires.
package notify

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pranay-harness/harness-core-sub060/internal/worker"
	"github.com/pranay-harness/harness-core-sub060/pkg/schema"
)

const defaultSweepInterval = time.Second

// Response is the data delivered for one correlation id.
type Response struct {
	Data       map[string]any `json:"data,omitempty"`
	Error      bool           `json:"error,omitempty"`
	ResolvedAt time.Time      `json:"resolved_at"`
}

// Callback is invoked once per wait.
type Callback interface {
	HandleResponse(ctx context.Context, responses map[string]Response)
	HandleError(ctx context.Context, responses map[string]Response)
	HandleTimeout(ctx context.Context, pending []string, responses map[string]Response)
}

// WaitRequest registers a callback against a set of correlation ids.
type WaitRequest struct {
	Keys     []string
	Callback Callback
	// Timeout of zero means the wait never expires.
	Timeout time.Duration
	// Group scopes the wait for bulk Release, typically a plan execution id.
	Group string
}

type wait struct {
	id        string
	group     string
	keys      []string
	responses map[string]Response
	remaining int
	failed    bool
	deadline  time.Time
	cb        Callback
}

// Config configures an Engine.
type Config struct {
	Pool          *worker.Pool
	Logger        *slog.Logger
	SweepInterval time.Duration
	Now           func() time.Time
}

// Engine tracks pending waits. All mutation of waits happens under mu; a wait
// leaves the maps in the same critical section that decides it fires.
type Engine struct {
	mu    sync.Mutex
	waits map[string]*wait
	keys  map[string]*wait

	pool     *worker.Pool
	logger   *slog.Logger
	interval time.Duration
	now      func() time.Time
	baseCtx  context.Context
}

// New creates an Engine.
func New(cfg Config) *Engine {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Pool == nil {
		cfg.Pool = worker.New("notify", 16, cfg.Logger)
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = defaultSweepInterval
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Engine{
		waits:    make(map[string]*wait),
		keys:     make(map[string]*wait),
		pool:     cfg.Pool,
		logger:   cfg.Logger,
		interval: cfg.SweepInterval,
		now:      cfg.Now,
		baseCtx:  context.Background(),
	}
}

// WaitFor registers req. It fails with CONFLICT if any key is already held
// by an active wait, in which case nothing is registered.
func (e *Engine) WaitFor(_ context.Context, req WaitRequest) (string, error) {
	if len(req.Keys) == 0 {
		return "", schema.NewError(schema.ErrCodeValidation, "wait requires at least one correlation id")
	}
	if req.Callback == nil {
		return "", schema.NewError(schema.ErrCodeValidation, "wait requires a callback")
	}
	seen := make(map[string]struct{}, len(req.Keys))
	for _, k := range req.Keys {
		if k == "" {
			return "", schema.NewError(schema.ErrCodeValidation, "correlation id is empty")
		}
		if _, dup := seen[k]; dup {
			return "", schema.NewErrorf(schema.ErrCodeValidation, "correlation id %q repeated", k)
		}
		seen[k] = struct{}{}
	}

	w := &wait{
		id:        uuid.New().String(),
		group:     req.Group,
		keys:      append([]string(nil), req.Keys...),
		responses: make(map[string]Response, len(req.Keys)),
		remaining: len(req.Keys),
		cb:        req.Callback,
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	for _, k := range w.keys {
		if _, busy := e.keys[k]; busy {
			return "", schema.NewErrorf(schema.ErrCodeConflict, "correlation id %q is already awaited", k)
		}
	}
	if req.Timeout > 0 {
		w.deadline = e.now().Add(req.Timeout)
	}
	e.waits[w.id] = w
	for _, k := range w.keys {
		e.keys[k] = w
	}
	return w.id, nil
}

// Notify resolves key with data. It reports false when the key is unknown
// or already consumed.
func (e *Engine) Notify(_ context.Context, key string, data map[string]any) bool {
	return e.resolve(key, data, false)
}

// NotifyError resolves key as failed. The wait fires HandleError once all
// of its keys are resolved.
func (e *Engine) NotifyError(_ context.Context, key string, data map[string]any) bool {
	return e.resolve(key, data, true)
}

func (e *Engine) resolve(key string, data map[string]any, failed bool) bool {
	e.mu.Lock()
	w, ok := e.keys[key]
	if !ok {
		e.mu.Unlock()
		e.logger.Debug("notify for unknown correlation id", slog.String("correlation_id", key))
		return false
	}
	delete(e.keys, key)
	w.responses[key] = Response{Data: data, Error: failed, ResolvedAt: e.now()}
	w.failed = w.failed || failed
	w.remaining--
	fire := w.remaining == 0
	if fire {
		delete(e.waits, w.id)
	}
	e.mu.Unlock()

	if fire {
		e.fire(w, nil)
	}
	return true
}

// SweepExpired fires HandleTimeout for every wait whose deadline is before
// now and returns how many fired.
func (e *Engine) SweepExpired(now time.Time) int {
	e.mu.Lock()
	var expired []*wait
	for id, w := range e.waits {
		if w.deadline.IsZero() || now.Before(w.deadline) {
			continue
		}
		delete(e.waits, id)
		for _, k := range w.keys {
			if e.keys[k] == w {
				delete(e.keys, k)
			}
		}
		expired = append(expired, w)
	}
	e.mu.Unlock()

	for _, w := range expired {
		var pending []string
		for _, k := range w.keys {
			if _, done := w.responses[k]; !done {
				pending = append(pending, k)
			}
		}
		sort.Strings(pending)
		e.fire(w, pending)
	}
	return len(expired)
}

// Release drops every wait in group without firing it. Late responses for
// its keys are discarded as unknown.
func (e *Engine) Release(group string) int {
	e.mu.Lock()
	defer e.mu.Unlock()

	n := 0
	for id, w := range e.waits {
		if w.group != group {
			continue
		}
		delete(e.waits, id)
		for _, k := range w.keys {
			if e.keys[k] == w {
				delete(e.keys, k)
			}
		}
		n++
	}
	if n > 0 {
		e.logger.Info("released waits", slog.String("group", group), slog.Int("count", n))
	}
	return n
}

// Cancel drops a single wait without firing it.
func (e *Engine) Cancel(waitID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	w, ok := e.waits[waitID]
	if !ok {
		return false
	}
	delete(e.waits, waitID)
	for _, k := range w.keys {
		if e.keys[k] == w {
			delete(e.keys, k)
		}
	}
	return true
}

// Pending returns the number of active waits.
func (e *Engine) Pending() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.waits)
}

// Awaited reports whether key is held by an active wait.
func (e *Engine) Awaited(key string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.keys[key]
	return ok
}

// Run sweeps expired waits until ctx is done.
func (e *Engine) Run(ctx context.Context) {
	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := e.SweepExpired(e.now()); n > 0 {
				e.logger.Info("expired waits", slog.Int("count", n))
			}
		}
	}
}

func (e *Engine) fire(w *wait, pending []string) {
	responses := w.responses
	e.pool.Go(e.baseCtx, func(ctx context.Context) error {
		switch {
		case pending != nil:
			w.cb.HandleTimeout(ctx, pending, responses)
		case w.failed:
			w.cb.HandleError(ctx, responses)
		default:
			w.cb.HandleResponse(ctx, responses)
		}
		return nil
	})
}
