// Package engine drives plan executions: it visits plan nodes, hands them to
// their facilitated execution mode, applies adviser decisions and keeps
// execution and node state in the store.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/pranay-harness/harness-core-sub060/internal/delegate"
	"github.com/pranay-harness/harness-core-sub060/internal/expressions"
	"github.com/pranay-harness/harness-core-sub060/internal/notify"
	"github.com/pranay-harness/harness-core-sub060/internal/store"
	"github.com/pranay-harness/harness-core-sub060/internal/streaming"
	"github.com/pranay-harness/harness-core-sub060/internal/worker"
	"github.com/pranay-harness/harness-core-sub060/pkg/schema"
)

const (
	defaultTaskTimeout  = 10 * time.Minute
	defaultPollInterval = 50 * time.Millisecond
)

// TaskSubmitter hands TASK-mode work to the delegate layer.
type TaskSubmitter interface {
	Submit(ctx context.Context, req delegate.TaskRequest) (string, error)
}

// Config wires an Engine.
type Config struct {
	Store        store.Store
	Notify       *notify.Engine
	Pool         *worker.Pool
	Registries   *Registries
	Tasks        TaskSubmitter
	Hub          streaming.EventHub
	Observers    []Observer
	Interpolator *expressions.Interpolator
	Logger       *slog.Logger
	Tracer       trace.Tracer

	// DefaultTaskTimeout bounds TASK waits when neither the step nor the
	// node sets a timeout.
	DefaultTaskTimeout time.Duration
	Now                func() time.Time
}

// Engine runs plan executions.
type Engine struct {
	store     store.Store
	events    *store.EventLog
	notify    *notify.Engine
	pool      *worker.Pool
	reg       *Registries
	tasks     TaskSubmitter
	hub       streaming.EventHub
	observers []Observer
	interp    *expressions.Interpolator
	logger    *slog.Logger
	tracer    trace.Tracer
	now       func() time.Time

	taskTimeout time.Duration
	execFSM     *ExecutionFSM
	nodeFSM     *NodeFSM

	baseCtx context.Context
	cancel  context.CancelFunc

	mu   sync.Mutex
	runs map[string]*run
}

// ExecutionSnapshot is an execution together with its node executions.
type ExecutionSnapshot struct {
	Execution *schema.PlanExecution   `json:"execution"`
	Nodes     []*schema.NodeExecution `json:"nodes"`
}

// run is the in-memory state of an execution driven by this engine.
type run struct {
	exec  *schema.PlanExecution
	plan  *schema.Plan
	scope *expressions.ScopeBuilder

	mu     sync.Mutex
	paused bool
	ended  bool
	parked []func(context.Context)
	done   chan struct{}
}

// New creates an Engine. Store and Registries are required.
func New(cfg Config) (*Engine, error) {
	if cfg.Store == nil {
		return nil, schema.NewError(schema.ErrCodeConfiguration, "engine requires a store")
	}
	if cfg.Registries == nil {
		return nil, schema.NewError(schema.ErrCodeConfiguration, "engine requires registries")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Pool == nil {
		cfg.Pool = worker.New("engine", 32, cfg.Logger)
	}
	if cfg.Notify == nil {
		cfg.Notify = notify.New(notify.Config{Pool: cfg.Pool, Logger: cfg.Logger})
	}
	if cfg.Interpolator == nil {
		cfg.Interpolator = expressions.NewInterpolator(nil)
	}
	if cfg.Tracer == nil {
		cfg.Tracer = otel.Tracer("orchestrator/engine")
	}
	if cfg.DefaultTaskTimeout <= 0 {
		cfg.DefaultTaskTimeout = defaultTaskTimeout
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	events := store.NewEventLog(cfg.Store)
	ctx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		store:       cfg.Store,
		events:      events,
		notify:      cfg.Notify,
		pool:        cfg.Pool,
		reg:         cfg.Registries,
		tasks:       cfg.Tasks,
		hub:         cfg.Hub,
		observers:   cfg.Observers,
		interp:      cfg.Interpolator,
		logger:      cfg.Logger,
		tracer:      cfg.Tracer,
		now:         cfg.Now,
		taskTimeout: cfg.DefaultTaskTimeout,
		execFSM:     NewExecutionFSM(cfg.Store, events, cfg.Now),
		nodeFSM:     NewNodeFSM(cfg.Store, events, cfg.Now),
		baseCtx:     ctx,
		cancel:      cancel,
		runs:        make(map[string]*run),
	}
	if e.hub != nil {
		e.execFSM.OnAfter(e.publish)
		e.nodeFSM.OnAfter(e.publish)
	}
	return e, nil
}

// Notify exposes the engine's wait registry.
func (e *Engine) Notify() *notify.Engine { return e.notify }

// EventLog exposes the execution event log.
func (e *Engine) EventLog() *store.EventLog { return e.events }

// Shutdown cancels the context handed to running steps.
func (e *Engine) Shutdown() {
	e.cancel()
}

// Start validates plan, persists it when new, and begins an execution at
// its starting node. Visitation continues on the worker pool.
func (e *Engine) Start(ctx context.Context, plan *schema.Plan, inputs map[string]any, meta schema.Metadata) (*schema.PlanExecution, error) {
	return e.start(ctx, plan, inputs, meta, "")
}

// Rerun starts a new execution of the plan behind planExecutionID. Nil
// inputs reuse the original inputs.
func (e *Engine) Rerun(ctx context.Context, planExecutionID string, inputs map[string]any) (*schema.PlanExecution, error) {
	prev, err := e.store.GetPlanExecution(ctx, planExecutionID)
	if err != nil {
		return nil, err
	}
	plan, err := e.store.GetPlan(ctx, prev.PlanID)
	if err != nil {
		return nil, err
	}
	if inputs == nil {
		inputs = prev.Inputs
	}
	return e.start(ctx, plan, inputs, prev.Metadata, prev.ID)
}

func (e *Engine) start(ctx context.Context, plan *schema.Plan, inputs map[string]any, meta schema.Metadata, rerunOf string) (*schema.PlanExecution, error) {
	if err := e.checkPlan(plan); err != nil {
		return nil, err
	}
	if err := e.ensurePlan(ctx, plan); err != nil {
		return nil, err
	}

	now := e.now()
	exec := &schema.PlanExecution{
		ID:        uuid.NewString(),
		PlanID:    plan.ID,
		Status:    schema.ExecutionCreated,
		Inputs:    inputs,
		Metadata:  meta,
		RerunOf:   rerunOf,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := e.store.CreatePlanExecution(ctx, exec); err != nil {
		return nil, err
	}

	r := &run{
		exec: exec,
		plan: plan,
		scope: expressions.NewScopeBuilder(inputs, map[string]any{
			"plan_execution_id": exec.ID,
			"plan_id":           plan.ID,
			"rerun_of":          rerunOf,
		}),
		done: make(chan struct{}),
	}
	e.mu.Lock()
	e.runs[exec.ID] = r
	e.mu.Unlock()

	ok, err := e.execFSM.Transition(ctx, exec.ID, schema.ExecutionCreated, schema.ExecutionRunning,
		store.PlanExecutionUpdate{StartedAt: &now}, map[string]any{"plan_id": plan.ID, "rerun_of": rerunOf})
	if err != nil || !ok {
		e.forget(exec.ID)
		if err == nil {
			err = schema.NewErrorf(schema.ErrCodeConflict, "execution %s changed before it started", exec.ID)
		}
		return nil, err
	}

	e.logger.Info("execution started",
		slog.String("plan_execution_id", exec.ID),
		slog.String("plan_id", plan.ID),
		slog.String("starting_node", plan.StartingNodeID),
	)

	startNode := plan.Nodes[plan.StartingNodeID]
	root := schema.NewAmbiance(exec.ID, meta)
	e.schedule(r, func(ctx context.Context) {
		e.visit(ctx, r, visitRequest{node: startNode, parent: root, attempt: 1})
	})

	return e.store.GetPlanExecution(ctx, exec.ID)
}

// checkPlan rejects plans the engine cannot run.
func (e *Engine) checkPlan(plan *schema.Plan) error {
	if plan == nil {
		return schema.NewError(schema.ErrCodeInvalidRequest, "plan is nil")
	}
	if !plan.Valid {
		return schema.NewErrorf(schema.ErrCodeValidation, "plan %s is invalid: %s", plan.ID, strings.Join(plan.Errors, "; ")).
			WithDetails(map[string]any{"errors": plan.Errors})
	}
	if _, ok := plan.Node(plan.StartingNodeID); !ok {
		return schema.NewErrorf(schema.ErrCodeInvalidRequest, "No node found with Id %s", plan.StartingNodeID)
	}
	if res := ValidatePlan(plan); !res.Valid() {
		return schema.NewErrorf(schema.ErrCodeValidation, "plan %s failed validation: %s", plan.ID, strings.Join(res.Messages(), "; ")).
			WithDetails(map[string]any{"errors": res.Messages()})
	}
	for _, id := range plan.NodeIDs() {
		if err := e.reg.CheckNode(plan.Nodes[id]); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) ensurePlan(ctx context.Context, plan *schema.Plan) error {
	_, err := e.store.GetPlan(ctx, plan.ID)
	if err == nil {
		return nil
	}
	if !schema.HasCode(err, schema.ErrCodeNotFound) {
		return err
	}
	if plan.CreatedAt.IsZero() {
		plan.CreatedAt = e.now()
	}
	return e.store.CreatePlan(ctx, plan)
}

// Abort ends a RUNNING or PAUSED execution. Non-terminal nodes become
// ABORTED and pending waits are released so late responses are discarded.
func (e *Engine) Abort(ctx context.Context, planExecutionID string) (*schema.PlanExecution, error) {
	return e.terminate(ctx, planExecutionID, schema.ExecutionAborted, "aborted")
}

func (e *Engine) terminate(ctx context.Context, id string, to schema.ExecutionStatus, reason string) (*schema.PlanExecution, error) {
	exec, err := e.store.GetPlanExecution(ctx, id)
	if err != nil {
		return nil, err
	}
	if exec.Status.IsTerminal() {
		return nil, schema.NewErrorf(schema.ErrCodeInvalidTransition, "execution %s is already %s", id, exec.Status)
	}

	now := e.now()
	update := store.PlanExecutionUpdate{EndedAt: &now}
	if to == schema.ExecutionExpired {
		update.Error = &reason
	}

	ok := false
	for _, from := range []schema.ExecutionStatus{exec.Status, schema.ExecutionRunning, schema.ExecutionPaused} {
		ok, err = e.execFSM.Transition(ctx, id, from, to, update, map[string]any{"reason": reason})
		if err != nil && !schema.HasCode(err, schema.ErrCodeInvalidTransition) {
			return nil, err
		}
		if ok {
			break
		}
	}
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeInvalidTransition, "execution %s can no longer be %s", id, strings.ToLower(string(to)))
	}

	r := e.lookup(id)
	if r != nil {
		r.end()
	}
	released := e.notify.Release(id)
	if err := e.abortOpenNodes(ctx, id, now, reason); err != nil {
		return nil, err
	}

	e.logger.Info("execution terminated",
		slog.String("plan_execution_id", id),
		slog.String("status", string(to)),
		slog.Int("released_waits", released),
	)
	return e.finish(ctx, id, r)
}

// Pause parks further visitation of a RUNNING execution.
func (e *Engine) Pause(ctx context.Context, planExecutionID string) (*schema.PlanExecution, error) {
	ok, err := e.execFSM.Transition(ctx, planExecutionID, schema.ExecutionRunning, schema.ExecutionPaused, store.PlanExecutionUpdate{}, nil)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, e.transitionConflict(ctx, planExecutionID, "paused")
	}
	if r := e.lookup(planExecutionID); r != nil {
		r.mu.Lock()
		r.paused = true
		r.mu.Unlock()
	}
	return e.store.GetPlanExecution(ctx, planExecutionID)
}

// Resume re-issues the work parked while the execution was PAUSED.
func (e *Engine) Resume(ctx context.Context, planExecutionID string) (*schema.PlanExecution, error) {
	ok, err := e.execFSM.Transition(ctx, planExecutionID, schema.ExecutionPaused, schema.ExecutionRunning, store.PlanExecutionUpdate{}, nil)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, e.transitionConflict(ctx, planExecutionID, "resumed")
	}
	if r := e.lookup(planExecutionID); r != nil {
		r.mu.Lock()
		r.paused = false
		parked := r.parked
		r.parked = nil
		r.mu.Unlock()
		for _, fn := range parked {
			e.schedule(r, fn)
		}
	}
	return e.store.GetPlanExecution(ctx, planExecutionID)
}

func (e *Engine) transitionConflict(ctx context.Context, id, verb string) error {
	exec, err := e.store.GetPlanExecution(ctx, id)
	if err != nil {
		return err
	}
	return schema.NewErrorf(schema.ErrCodeInvalidTransition, "execution %s is %s and cannot be %s", id, exec.Status, verb)
}

// Status returns the execution and its node executions in creation order.
func (e *Engine) Status(ctx context.Context, planExecutionID string) (*ExecutionSnapshot, error) {
	exec, err := e.store.GetPlanExecution(ctx, planExecutionID)
	if err != nil {
		return nil, err
	}
	nodes, err := e.store.ListNodeExecutions(ctx, planExecutionID)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(nodes, func(i, j int) bool { return nodes[i].CreatedAt.Before(nodes[j].CreatedAt) })
	return &ExecutionSnapshot{Execution: exec, Nodes: nodes}, nil
}

// Wait blocks until the execution is terminal or ctx is done.
func (e *Engine) Wait(ctx context.Context, planExecutionID string) (*schema.PlanExecution, error) {
	if r := e.lookup(planExecutionID); r != nil {
		select {
		case <-r.done:
		case <-ctx.Done():
			return nil, schema.NewErrorf(schema.ErrCodeCancelled, "wait for %s: %s", planExecutionID, ctx.Err()).WithCause(ctx.Err())
		}
		return e.store.GetPlanExecution(ctx, planExecutionID)
	}

	ticker := time.NewTicker(defaultPollInterval)
	defer ticker.Stop()
	for {
		exec, err := e.store.GetPlanExecution(ctx, planExecutionID)
		if err != nil {
			return nil, err
		}
		if exec.Status.IsTerminal() {
			return exec, nil
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return nil, schema.NewErrorf(schema.ErrCodeCancelled, "wait for %s: %s", planExecutionID, ctx.Err()).WithCause(ctx.Err())
		}
	}
}

// ExpireStale marks RUNNING or PAUSED executions that recorded no event
// within olderThan as EXPIRED. It returns how many were expired.
func (e *Engine) ExpireStale(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := e.now().Add(-olderThan)
	execs, err := e.store.ListPlanExecutions(ctx, store.PlanExecutionFilter{
		Statuses:      []schema.ExecutionStatus{schema.ExecutionRunning, schema.ExecutionPaused},
		UpdatedBefore: &cutoff,
	})
	if err != nil {
		return 0, err
	}

	n := 0
	for _, exec := range execs {
		events, err := e.store.GetEvents(ctx, exec.ID, 0)
		if err != nil {
			return n, err
		}
		if len(events) > 0 && events[len(events)-1].Timestamp.After(cutoff) {
			continue
		}
		reason := fmt.Sprintf("no progress since %s", cutoff.UTC().Format(time.RFC3339))
		if _, err := e.terminate(ctx, exec.ID, schema.ExecutionExpired, reason); err != nil {
			if schema.HasCode(err, schema.ErrCodeInvalidTransition) {
				continue
			}
			return n, err
		}
		n++
	}
	return n, nil
}

// endExecution finishes a run from within visitation.
func (e *Engine) endExecution(ctx context.Context, r *run, status schema.ExecutionStatus, errMsg, failedPath string) {
	now := e.now()
	update := store.PlanExecutionUpdate{EndedAt: &now}
	if status != schema.ExecutionSucceeded {
		update.Error = &errMsg
		update.FailedNodePath = &failedPath
	}

	for _, from := range []schema.ExecutionStatus{schema.ExecutionRunning, schema.ExecutionPaused} {
		ok, err := e.execFSM.Transition(ctx, r.exec.ID, from, status, update, map[string]any{"error": errMsg, "failed_node_path": failedPath})
		if err != nil {
			e.logger.Error("end execution", slog.String("plan_execution_id", r.exec.ID), slog.String("error", err.Error()))
			return
		}
		if ok {
			r.end()
			e.notify.Release(r.exec.ID)
			// Composite ancestors of the deciding node are still SUSPENDED
			// on child waits that were just released.
			if err := e.abortOpenNodes(ctx, r.exec.ID, now, "execution ended "+strings.ToLower(string(status))); err != nil {
				e.logger.Warn("abort open nodes", slog.String("plan_execution_id", r.exec.ID), slog.String("error", err.Error()))
			}
			e.logger.Info("execution finished",
				slog.String("plan_execution_id", r.exec.ID),
				slog.String("status", string(status)),
			)
			if _, err := e.finish(ctx, r.exec.ID, r); err != nil {
				e.logger.Warn("load finished execution", slog.String("error", err.Error()))
			}
			return
		}
	}
}

// abortOpenNodes moves every non-terminal node execution of id to ABORTED.
func (e *Engine) abortOpenNodes(ctx context.Context, id string, at time.Time, reason string) error {
	nodes, err := e.store.ListNodeExecutions(ctx, id)
	if err != nil {
		return err
	}
	for _, ne := range nodes {
		if ne.Status.IsTerminal() {
			continue
		}
		if _, err := e.nodeFSM.Transition(ctx, ne, schema.NodeAborted, store.NodeExecutionUpdate{EndedAt: &at}, "", map[string]any{"reason": reason}); err != nil {
			e.logger.Warn("abort node", slog.String("node_execution_id", ne.ID), slog.String("error", err.Error()))
		}
	}
	return nil
}

// finish drops run state, wakes waiters and notifies observers.
func (e *Engine) finish(ctx context.Context, id string, r *run) (*schema.PlanExecution, error) {
	e.forget(id)
	if r != nil {
		r.closeDone()
	}
	exec, err := e.store.GetPlanExecution(ctx, id)
	if err != nil {
		return nil, err
	}
	e.emitTerminal(ctx, TerminalEvent{
		Kind:            TerminalExecution,
		PlanExecutionID: id,
		PlanID:          exec.PlanID,
		Execution:       exec,
		At:              e.now(),
	})
	return exec, nil
}

// schedule runs fn on the pool unless the run ended. While the run is paused
// fn is parked until Resume.
func (e *Engine) schedule(r *run, fn func(context.Context)) {
	r.mu.Lock()
	if r.ended {
		r.mu.Unlock()
		return
	}
	if r.paused {
		r.parked = append(r.parked, fn)
		r.mu.Unlock()
		return
	}
	r.mu.Unlock()

	e.pool.Go(e.baseCtx, func(ctx context.Context) error {
		fn(ctx)
		return nil
	})
}

func (e *Engine) lookup(id string) *run {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.runs[id]
}

func (e *Engine) forget(id string) {
	e.mu.Lock()
	delete(e.runs, id)
	e.mu.Unlock()
}

func (e *Engine) publish(ctx context.Context, t Transition) {
	err := e.hub.Publish(ctx, streaming.ExecutionEvent{
		PlanExecutionID: t.PlanExecutionID,
		NodeExecutionID: t.NodeExecutionID,
		NodeID:          t.NodeID,
		EventType:       t.EventType,
		Status:          t.To,
		Payload:         t.Payload,
	})
	if err != nil {
		e.logger.Debug("publish event", slog.String("error", err.Error()))
	}
}

func (r *run) end() {
	r.mu.Lock()
	r.ended = true
	r.parked = nil
	r.mu.Unlock()
}

func (r *run) isEnded() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ended
}

func (r *run) closeDone() {
	r.mu.Lock()
	defer r.mu.Unlock()
	select {
	case <-r.done:
	default:
		close(r.done)
	}
}
