// Package delegate routes TASK-mode work to executors whose capabilities
// satisfy the task, and adapts executor reports back into notify
// resolutions.
package delegate

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/pranay-harness/harness-core-sub060/internal/capability"
	"github.com/pranay-harness/harness-core-sub060/internal/store"
	"github.com/pranay-harness/harness-core-sub060/internal/worker"
	"github.com/pranay-harness/harness-core-sub060/pkg/schema"
)

const (
	defaultRate  = 50
	defaultBurst = 10
)

// Dispatch outcomes reported to Config.OnDispatch.
const (
	OutcomeDispatched = "dispatched"
	OutcomeUnassigned = "unassigned"
	OutcomeFailed     = "failed"
)

// TaskRequest asks for delegated work. ID doubles as the notify correlation
// id the submitting node waits on.
type TaskRequest struct {
	ID              string
	PlanExecutionID string
	NodeExecutionID string
	NodeID          string
	Capabilities    []schema.Capability
	Payload         map[string]any
	Timeout         time.Duration
	// CallbackToken must be echoed unchanged on every Report.
	CallbackToken string
}

// Task is what an executor receives.
type Task struct {
	ID              string         `json:"id"`
	PlanExecutionID string         `json:"plan_execution_id"`
	NodeExecutionID string         `json:"node_execution_id"`
	Payload         map[string]any `json:"payload"`
	Timeout         time.Duration  `json:"timeout"`
	CallbackToken   string         `json:"callback_token"`
}

// Executor runs tasks. Execute returns an error only when the task could
// not be started; results travel back through Report.
type Executor interface {
	ID() string
	Capabilities() *capability.Registry
	Execute(ctx context.Context, task Task) error
}

// Resolver is satisfied by notify.Engine.
type Resolver interface {
	Notify(ctx context.Context, key string, data map[string]any) bool
	NotifyError(ctx context.Context, key string, data map[string]any) bool
}

// EventRecorder is satisfied by store.EventLog.
type EventRecorder interface {
	Record(ctx context.Context, planExecutionID, nodeExecutionID, nodeID, eventType string, payload any) error
}

// Config wires a Dispatcher.
type Config struct {
	Store    store.Store
	Resolver Resolver
	Events   EventRecorder
	Pool     *worker.Pool

	// RatePerSecond bounds Submit. Zero uses the default; negative disables
	// the limit.
	RatePerSecond float64
	Burst         int

	Breaker    BreakerConfig
	Capability capability.Config
	OnDispatch func(outcome, executorID string)

	Logger *slog.Logger
	Tracer trace.Tracer
	Now    func() time.Time
}

type candidate struct {
	executor Executor
	checks   *capability.Service
}

// Dispatcher routes tasks to eligible executors.
type Dispatcher struct {
	store      store.Store
	resolver   Resolver
	events     EventRecorder
	pool       *worker.Pool
	limiter    *rate.Limiter
	breakers   *Breakers
	capCfg     capability.Config
	onDispatch func(outcome, executorID string)
	logger     *slog.Logger
	tracer     trace.Tracer
	now        func() time.Time
	baseCtx    context.Context

	mu         sync.RWMutex
	candidates []candidate
	byID       map[string]struct{}
}

// NewDispatcher creates a Dispatcher. Store and Resolver are required.
func NewDispatcher(cfg Config) (*Dispatcher, error) {
	if cfg.Store == nil || cfg.Resolver == nil {
		return nil, schema.NewError(schema.ErrCodeConfiguration, "dispatcher requires a store and a resolver")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Pool == nil {
		cfg.Pool = worker.New("dispatch", 16, cfg.Logger)
	}
	if cfg.Events == nil {
		cfg.Events = store.NewEventLog(cfg.Store)
	}
	if cfg.Tracer == nil {
		cfg.Tracer = otel.Tracer("orchestrator/delegate")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Breaker == (BreakerConfig{}) {
		cfg.Breaker = DefaultBreakerConfig()
	}
	if cfg.Capability.Logger == nil {
		cfg.Capability.Logger = cfg.Logger
	}
	if cfg.Capability.Tracer == nil {
		cfg.Capability.Tracer = cfg.Tracer
	}

	return &Dispatcher{
		store:      cfg.Store,
		resolver:   cfg.Resolver,
		events:     cfg.Events,
		pool:       cfg.Pool,
		limiter:    rate.NewLimiter(limitFor(cfg.RatePerSecond), burstFor(cfg.Burst)),
		breakers:   NewBreakers(cfg.Breaker, cfg.Now),
		capCfg:     cfg.Capability,
		onDispatch: cfg.OnDispatch,
		logger:     cfg.Logger,
		tracer:     cfg.Tracer,
		now:        cfg.Now,
		baseCtx:    context.Background(),
		byID:       make(map[string]struct{}),
	}, nil
}

func limitFor(perSecond float64) rate.Limit {
	switch {
	case perSecond < 0:
		return rate.Inf
	case perSecond == 0:
		return rate.Limit(defaultRate)
	default:
		return rate.Limit(perSecond)
	}
}

func burstFor(burst int) int {
	if burst <= 0 {
		return defaultBurst
	}
	return burst
}

// Register adds an executor. Executors are tried in registration order.
func (d *Dispatcher) Register(ex Executor) error {
	if ex == nil || ex.ID() == "" {
		return schema.NewError(schema.ErrCodeValidation, "executor requires an id")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, dup := d.byID[ex.ID()]; dup {
		return schema.NewErrorf(schema.ErrCodeConflict, "executor %q already registered", ex.ID())
	}
	d.byID[ex.ID()] = struct{}{}
	d.candidates = append(d.candidates, candidate{
		executor: ex,
		checks:   capability.NewService(ex.Capabilities(), d.capCfg),
	})
	return nil
}

// SetRateLimit changes the Submit rate at runtime.
func (d *Dispatcher) SetRateLimit(perSecond float64, burst int) {
	d.limiter.SetLimit(limitFor(perSecond))
	d.limiter.SetBurst(burstFor(burst))
}

// Breakers exposes executor circuit state.
func (d *Dispatcher) Breakers() *Breakers { return d.breakers }

// Submit records the task and hands it to the first eligible executor.
// When no executor qualifies the task stays UNASSIGNED and Submit still
// succeeds; the waiting node expires through its notify timeout.
func (d *Dispatcher) Submit(ctx context.Context, req TaskRequest) (string, error) {
	if req.CallbackToken == "" {
		return "", schema.NewError(schema.ErrCodeValidation, "task requires a callback token")
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}

	ctx, span := d.tracer.Start(ctx, "delegate.submit", trace.WithAttributes(
		attribute.String("task.id", req.ID),
		attribute.String("plan_execution_id", req.PlanExecutionID),
		attribute.Int("task.capabilities", len(req.Capabilities)),
	))
	defer span.End()

	if err := d.limiter.Wait(ctx); err != nil {
		return "", schema.NewErrorf(schema.ErrCodeCancelled, "dispatch rate limit: %v", err).WithCause(err)
	}

	now := d.now()
	task := &store.Task{
		ID:                req.ID,
		PlanExecutionID:   req.PlanExecutionID,
		NodeExecutionID:   req.NodeExecutionID,
		Status:            store.TaskQueued,
		Payload:           req.Payload,
		Capabilities:      req.Capabilities,
		CallbackTokenHash: hashToken(req.CallbackToken),
		Timeout:           req.Timeout,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := d.store.CreateTask(ctx, task); err != nil {
		return "", err
	}

	log := d.logger.With(slog.String("task_id", req.ID), slog.String("plan_execution_id", req.PlanExecutionID))

	ex := d.route(ctx, req.Capabilities)
	if ex == nil {
		status := store.TaskUnassigned
		if _, err := d.store.UpdateTask(ctx, req.ID, store.TaskQueued, store.TaskUpdate{Status: &status}); err != nil {
			return "", err
		}
		d.record(ctx, req, schema.EventTaskUnassigned, map[string]any{"task_id": req.ID, "capabilities": req.Capabilities})
		d.observe(OutcomeUnassigned, "")
		span.SetAttributes(attribute.String("task.status", string(status)))
		log.Warn("no eligible executor for task")
		return req.ID, nil
	}

	status, exID := store.TaskDispatched, ex.ID()
	if _, err := d.store.UpdateTask(ctx, req.ID, store.TaskQueued, store.TaskUpdate{Status: &status, ExecutorID: &exID}); err != nil {
		return "", err
	}
	d.record(ctx, req, schema.EventTaskDispatched, map[string]any{"task_id": req.ID, "executor_id": exID})
	d.observe(OutcomeDispatched, exID)
	span.SetAttributes(attribute.String("task.executor", exID))
	log.Info("task dispatched", slog.String("executor_id", exID))

	t := Task{
		ID:              req.ID,
		PlanExecutionID: req.PlanExecutionID,
		NodeExecutionID: req.NodeExecutionID,
		Payload:         req.Payload,
		Timeout:         req.Timeout,
		CallbackToken:   req.CallbackToken,
	}
	d.pool.Go(d.baseCtx, func(ctx context.Context) error {
		d.run(ctx, ex, t)
		return nil
	})
	return req.ID, nil
}

// route returns the first executor whose circuit admits traffic and whose
// capability checks all pass.
func (d *Dispatcher) route(ctx context.Context, caps []schema.Capability) Executor {
	d.mu.RLock()
	list := append([]candidate(nil), d.candidates...)
	d.mu.RUnlock()

	for _, c := range list {
		id := c.executor.ID()
		if d.breakers.State(id) == CircuitOpen {
			continue
		}
		responses := c.checks.CheckCapabilities(ctx, caps)
		if !capability.Eligible(responses) {
			d.logger.Debug("executor not eligible",
				slog.String("executor_id", id),
				slog.Any("reason", capability.ErrNotEligible(responses)))
			continue
		}
		if err := d.breakers.Allow(id); err != nil {
			continue
		}
		return c.executor
	}
	return nil
}

func (d *Dispatcher) run(ctx context.Context, ex Executor, t Task) {
	if t.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.Timeout)
		defer cancel()
	}
	if err := ex.Execute(ctx, t); err != nil {
		state := d.breakers.Failure(ex.ID())
		d.observe(OutcomeFailed, ex.ID())
		d.logger.Warn("executor failed to run task",
			slog.String("task_id", t.ID),
			slog.String("executor_id", ex.ID()),
			slog.String("circuit", state.String()),
			slog.String("error", err.Error()))
		// ctx may be past its deadline by now.
		task, gerr := d.store.GetTask(d.baseCtx, t.ID)
		if gerr != nil {
			d.logger.Warn("load task after executor failure", slog.String("task_id", t.ID), slog.String("error", gerr.Error()))
			return
		}
		if task.Status.IsTerminal() {
			return
		}
		if ferr := d.finish(d.baseCtx, task, store.TaskFailed, map[string]any{"error": err.Error()}); ferr != nil {
			d.logger.Warn("fail task after executor failure", slog.String("task_id", t.ID), slog.String("error", ferr.Error()))
		}
		return
	}
	d.breakers.Success(ex.ID())
}

// Report applies an executor update. RUNNING records progress; SUCCEEDED
// and FAILED finish the task and resolve the waiting node.
func (d *Dispatcher) Report(ctx context.Context, taskID, token string, status store.TaskStatus, data map[string]any) error {
	task, err := d.store.GetTask(ctx, taskID)
	if err != nil {
		return err
	}
	if subtle.ConstantTimeCompare([]byte(hashToken(token)), []byte(task.CallbackTokenHash)) != 1 {
		return schema.NewErrorf(schema.ErrCodeUnauthorized, "callback token does not match task %s", taskID)
	}
	if task.Status.IsTerminal() {
		return schema.NewErrorf(schema.ErrCodeConflict, "task %s already %s", taskID, task.Status)
	}

	switch status {
	case store.TaskRunning:
		ok, err := d.store.UpdateTask(ctx, taskID, task.Status, store.TaskUpdate{Status: &status, Progress: data})
		if err != nil {
			return err
		}
		if !ok {
			return schema.NewErrorf(schema.ErrCodeConflict, "task %s changed concurrently", taskID)
		}
		return nil
	case store.TaskSucceeded, store.TaskFailed:
		return d.finish(ctx, task, status, data)
	default:
		return schema.NewErrorf(schema.ErrCodeValidation, "unsupported task status %q", status)
	}
}

// finish records the terminal status and resolves the waiting node. Only the
// update that wins the move out of task.Status resolves.
func (d *Dispatcher) finish(ctx context.Context, task *store.Task, status store.TaskStatus, data map[string]any) error {
	ok, err := d.store.UpdateTask(ctx, task.ID, task.Status, store.TaskUpdate{Status: &status, Result: data})
	if err != nil {
		return err
	}
	if !ok {
		return schema.NewErrorf(schema.ErrCodeConflict, "task %s was already reported", task.ID)
	}
	var delivered bool
	if status == store.TaskSucceeded {
		delivered = d.resolver.Notify(ctx, task.ID, data)
	} else {
		delivered = d.resolver.NotifyError(ctx, task.ID, data)
	}
	if !delivered {
		d.logger.Info("task result arrived with no waiting node",
			slog.String("task_id", task.ID), slog.String("status", string(status)))
	}
	return nil
}

func (d *Dispatcher) record(ctx context.Context, req TaskRequest, eventType string, payload map[string]any) {
	if req.PlanExecutionID == "" {
		return
	}
	if err := d.events.Record(ctx, req.PlanExecutionID, req.NodeExecutionID, req.NodeID, eventType, payload); err != nil {
		d.logger.Warn("record task event", slog.String("type", eventType), slog.String("error", err.Error()))
	}
}

func (d *Dispatcher) observe(outcome, executorID string) {
	if d.onDispatch != nil {
		d.onDispatch(outcome, executorID)
	}
}

func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
