package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/pranay-harness/harness-core-sub060/internal/delegate"
	"github.com/pranay-harness/harness-core-sub060/internal/logging"
	"github.com/pranay-harness/harness-core-sub060/internal/notify"
	"github.com/pranay-harness/harness-core-sub060/internal/store"
	"github.com/pranay-harness/harness-core-sub060/pkg/schema"
)

// visitRequest asks for one node to be executed.
type visitRequest struct {
	node       *schema.PlanNode
	parent     schema.Ambiance
	parentID   string // node execution id of the containing composite
	parentKey  string // notify key the composite waits on; empty at the root
	previousID string
	attempt    int
	retryOf    string
}

// nodeRun is a node execution in flight. It is handed from one scheduled
// closure to the next and never touched concurrently.
type nodeRun struct {
	req   visitRequest
	ne    *schema.NodeExecution
	step  Step
	input StepInput
	mode  schema.ExecutionMode
}

func (e *Engine) visit(ctx context.Context, r *run, req visitRequest) {
	node := req.node
	neID := uuid.NewString()
	ctx = logging.WithIDs(ctx, r.exec.ID, neID, node.ID)

	ctx, span := e.tracer.Start(ctx, "engine.visit", trace.WithAttributes(
		attribute.String("plan_execution_id", r.exec.ID),
		attribute.String("node.id", node.ID),
		attribute.String("node.step_type", node.StepType),
		attribute.Int("node.attempt", req.attempt),
	))
	defer span.End()

	amb := req.parent.Extend(schema.Level{
		RuntimeID:  neID,
		SetupID:    node.ID,
		Identifier: node.Identifier,
		StepType:   node.StepType,
		Group:      node.Group,
	})
	ne := &schema.NodeExecution{
		ID:              neID,
		PlanExecutionID: r.exec.ID,
		NodeID:          node.ID,
		ParentID:        req.parentID,
		PreviousID:      req.previousID,
		Ambiance:        amb,
		Status:          schema.NodeQueued,
		Attempt:         req.attempt,
		RetryOf:         req.retryOf,
		CreatedAt:       e.now(),
	}
	if err := e.store.CreateNodeExecution(ctx, ne); err != nil {
		span.RecordError(err)
		logging.LogWith(ctx, e.logger).Error("create node execution", slog.String("error", err.Error()))
		e.endExecution(ctx, r, schema.ExecutionFailed, err.Error(), amb.FQN())
		return
	}
	e.recordEvent(ctx, ne, schema.EventNodeQueued, map[string]any{"attempt": req.attempt, "retry_of": req.retryOf})

	if r.isEnded() {
		ended := e.now()
		e.moveNode(ctx, ne, schema.NodeAborted, store.NodeExecutionUpdate{EndedAt: &ended}, "", map[string]any{"reason": "execution ended"})
		return
	}

	started := e.now()
	if !e.moveNode(ctx, ne, schema.NodeRunning, store.NodeExecutionUpdate{StartedAt: &started}, "", nil) {
		return
	}

	nr := &nodeRun{req: req, ne: ne}
	e.facilitate(ctx, r, nr)
	if nr.ne.Status == schema.NodeFailed {
		span.SetStatus(codes.Error, nr.ne.FailureMessage)
	}
}

func (e *Engine) facilitate(ctx context.Context, r *run, nr *nodeRun) {
	node := nr.req.node

	step, err := e.reg.Steps.Get(node.StepType)
	if err != nil {
		e.complete(ctx, r, nr, schema.Failed(err.Error()))
		return
	}
	nr.step = step

	scope := r.scope.Build()
	params, err := e.interp.Resolve(ctx, node.StepParameters, scope)
	if err != nil {
		e.complete(ctx, r, nr, schema.Failed(err.Error()))
		return
	}
	nr.input = StepInput{
		Ambiance:        nr.ne.Ambiance,
		Node:            node,
		NodeExecutionID: nr.ne.ID,
		Attempt:         nr.ne.Attempt,
		Parameters:      params,
		Inputs:          r.exec.Inputs,
	}

	fac, err := e.reg.Facilitators.Get(node.Facilitator.Type)
	if err != nil {
		e.complete(ctx, r, nr, schema.Failed(err.Error()))
		return
	}
	resp, err := safeFacilitate(ctx, fac, FacilitatorInput{
		Ambiance:   nr.ne.Ambiance,
		Node:       node,
		Parameters: node.Facilitator.Parameters,
		Scope:      scope,
	})
	if err != nil {
		e.complete(ctx, r, nr, schema.Failed(err.Error()))
		return
	}
	if resp == nil {
		resp = &schema.FacilitatorResponse{Mode: schema.ModeSync}
	}
	nr.mode = resp.Mode

	if resp.Skip {
		out := schema.Succeeded(map[string]any{"skipped": true})
		e.completeAs(ctx, r, nr, out, schema.EventNodeSkipped)
		return
	}
	if resp.Wait > 0 {
		time.AfterFunc(resp.Wait, func() {
			e.schedule(r, func(ctx context.Context) {
				e.execute(e.nodeCtx(ctx, nr), r, nr)
			})
		})
		return
	}
	e.execute(ctx, r, nr)
}

func (e *Engine) execute(ctx context.Context, r *run, nr *nodeRun) {
	switch nr.mode {
	case schema.ModeSync:
		s, ok := nr.step.(SyncExecutable)
		if !ok {
			e.complete(ctx, r, nr, unsupported(nr))
			return
		}
		stepCtx := ctx
		if t := nr.req.node.Timeout; t > 0 {
			var cancel context.CancelFunc
			stepCtx, cancel = context.WithTimeout(ctx, t)
			defer cancel()
		}
		e.complete(ctx, r, nr, safeStep(func() (schema.StepResponse, error) {
			return s.ExecuteSync(stepCtx, nr.input)
		}))
	case schema.ModeAsync:
		e.executeAsync(ctx, r, nr)
	case schema.ModeTask:
		e.executeTask(ctx, r, nr)
	case schema.ModeChild, schema.ModeChildChain:
		e.executeChildren(ctx, r, nr)
	default:
		e.complete(ctx, r, nr, schema.Failed(fmt.Sprintf("unsupported execution mode %q", nr.mode)))
	}
}

func (e *Engine) executeAsync(ctx context.Context, r *run, nr *nodeRun) {
	s, ok := nr.step.(AsyncExecutable)
	if !ok {
		e.complete(ctx, r, nr, unsupported(nr))
		return
	}

	var ids []string
	resp := safeStep(func() (schema.StepResponse, error) {
		var err error
		ids, err = s.ExecuteAsync(ctx, nr.input)
		return schema.StepResponse{}, err
	})
	if resp.Status == schema.NodeFailed {
		e.complete(ctx, r, nr, resp)
		return
	}
	if len(ids) == 0 {
		e.complete(ctx, r, nr, schema.Failed("async step returned no correlation ids"))
		return
	}

	if !e.suspend(ctx, nr, &schema.ExecutableResponse{Mode: schema.ModeAsync, CorrelationIDs: ids}) {
		return
	}
	cb := e.resumeCallback(r, nr, func(ctx context.Context, responses map[string]notify.Response) schema.StepResponse {
		return safeStep(func() (schema.StepResponse, error) {
			return s.HandleAsyncResponse(ctx, nr.input, responses), nil
		})
	})
	if _, err := e.notify.WaitFor(ctx, notify.WaitRequest{
		Keys:     ids,
		Callback: cb,
		Timeout:  nr.req.node.Timeout,
		Group:    r.exec.ID,
	}); err != nil {
		e.resume(ctx, r, nr, failWith(err))
		return
	}
	if a, ok := s.(WaitArmer); ok {
		a.Armed(ctx, nr.input, ids)
	}
}

func (e *Engine) executeTask(ctx context.Context, r *run, nr *nodeRun) {
	s, ok := nr.step.(TaskExecutable)
	if !ok {
		e.complete(ctx, r, nr, unsupported(nr))
		return
	}
	if e.tasks == nil {
		e.complete(ctx, r, nr, schema.Failed("no task dispatcher configured"))
		return
	}

	var spec *TaskSpec
	resp := safeStep(func() (schema.StepResponse, error) {
		var err error
		spec, err = s.ObtainTask(ctx, nr.input)
		return schema.StepResponse{}, err
	})
	if resp.Status == schema.NodeFailed {
		e.complete(ctx, r, nr, resp)
		return
	}
	if spec == nil {
		e.complete(ctx, r, nr, schema.Failed("task step returned no task"))
		return
	}

	timeout := spec.Timeout
	if timeout <= 0 {
		timeout = nr.req.node.Timeout
	}
	if timeout <= 0 {
		timeout = e.taskTimeout
	}
	taskID := uuid.NewString()

	if !e.suspend(ctx, nr, &schema.ExecutableResponse{Mode: schema.ModeTask, TaskID: taskID}) {
		return
	}
	cb := e.resumeCallback(r, nr, func(ctx context.Context, responses map[string]notify.Response) schema.StepResponse {
		return safeStep(func() (schema.StepResponse, error) {
			return s.HandleTaskResult(ctx, nr.input, responses[taskID]), nil
		})
	})
	waitID, err := e.notify.WaitFor(ctx, notify.WaitRequest{
		Keys:     []string{taskID},
		Callback: cb,
		Timeout:  timeout,
		Group:    r.exec.ID,
	})
	if err != nil {
		e.resume(ctx, r, nr, failWith(err))
		return
	}

	_, err = e.tasks.Submit(ctx, delegate.TaskRequest{
		ID:              taskID,
		PlanExecutionID: r.exec.ID,
		NodeExecutionID: nr.ne.ID,
		NodeID:          nr.ne.NodeID,
		Capabilities:    spec.Capabilities,
		Payload:         spec.Payload,
		Timeout:         timeout,
		CallbackToken:   uuid.NewString(),
	})
	if err != nil {
		e.notify.Cancel(waitID)
		e.resume(ctx, r, nr, failWith(err))
	}
}

// chain tracks a composite node walking its children.
type chain struct {
	parent   *nodeRun
	children []*schema.PlanNode
	index    int
	results  []ChildResult
}

func (e *Engine) executeChildren(ctx context.Context, r *run, nr *nodeRun) {
	node := nr.req.node
	if len(node.Children) == 0 {
		e.complete(ctx, r, nr, schema.Failed(fmt.Sprintf("%s facilitation requires children", nr.mode)))
		return
	}
	if nr.mode == schema.ModeChild && len(node.Children) != 1 {
		e.complete(ctx, r, nr, schema.Failed(fmt.Sprintf("CHILD facilitation requires exactly one child, got %d", len(node.Children))))
		return
	}

	c := &chain{parent: nr}
	for _, id := range node.Children {
		child, ok := r.plan.Node(id)
		if !ok {
			e.complete(ctx, r, nr, schema.Failed(fmt.Sprintf("No node found with Id %s", id)))
			return
		}
		c.children = append(c.children, child)
	}

	if !e.suspend(ctx, nr, &schema.ExecutableResponse{Mode: nr.mode, ChildIDs: append([]string(nil), node.Children...)}) {
		return
	}
	e.startChild(ctx, r, c)
}

func (e *Engine) startChild(ctx context.Context, r *run, c *chain) {
	parent := c.parent
	key := fmt.Sprintf("%s/child/%d", parent.ne.ID, c.index)

	cb := notify.Funcs{
		OnResponse: func(_ context.Context, responses map[string]notify.Response) {
			res := decodeChildResult(responses[key].Data)
			e.schedule(r, func(ctx context.Context) {
				e.childDone(e.nodeCtx(ctx, parent), r, c, res)
			})
		},
		OnTimeout: func(_ context.Context, _ []string, _ map[string]notify.Response) {
			e.schedule(r, func(ctx context.Context) {
				e.resume(e.nodeCtx(ctx, parent), r, parent, failWith(
					schema.NewErrorf(schema.ErrCodeTimeout, "timed out waiting for child %s", c.children[c.index].ID)))
			})
		},
	}
	if _, err := e.notify.WaitFor(ctx, notify.WaitRequest{
		Keys:     []string{key},
		Callback: cb,
		Timeout:  parent.req.node.Timeout,
		Group:    r.exec.ID,
	}); err != nil {
		e.resume(ctx, r, parent, failWith(err))
		return
	}

	child := c.children[c.index]
	e.schedule(r, func(ctx context.Context) {
		e.visit(ctx, r, visitRequest{
			node:      child,
			parent:    parent.ne.Ambiance,
			parentID:  parent.ne.ID,
			parentKey: key,
			attempt:   1,
		})
	})
}

func (e *Engine) childDone(ctx context.Context, r *run, c *chain, res ChildResult) {
	c.results = append(c.results, res)
	if c.parent.mode == schema.ModeChildChain && res.Status == schema.NodeSucceeded && c.index+1 < len(c.children) {
		c.index++
		e.startChild(ctx, r, c)
		return
	}

	parent := c.parent
	e.resume(ctx, r, parent, func(ctx context.Context) schema.StepResponse {
		if ce, ok := parent.step.(ChildExecutable); ok {
			return safeStep(func() (schema.StepResponse, error) {
				return ce.HandleChildResponse(ctx, parent.input, c.results), nil
			})
		}
		return DeriveFromChildren(c.results)
	})
}

// suspend moves a running node to SUSPENDED. False means the node left
// RUNNING concurrently, typically through an abort.
func (e *Engine) suspend(ctx context.Context, nr *nodeRun, er *schema.ExecutableResponse) bool {
	if !e.moveNode(ctx, nr.ne, schema.NodeSuspended, store.NodeExecutionUpdate{
		Mode:               &nr.mode,
		ExecutableResponse: er,
	}, "", er) {
		return false
	}
	nr.ne.ExecutableResponse = er
	return true
}

// resumeCallback adapts a notify wait on behalf of a suspended node.
func (e *Engine) resumeCallback(r *run, nr *nodeRun, handle func(context.Context, map[string]notify.Response) schema.StepResponse) notify.Callback {
	onResult := func(_ context.Context, responses map[string]notify.Response) {
		e.schedule(r, func(ctx context.Context) {
			ctx = e.nodeCtx(ctx, nr)
			e.resume(ctx, r, nr, func(ctx context.Context) schema.StepResponse {
				return handle(ctx, responses)
			})
		})
	}
	return notify.Funcs{
		OnResponse: onResult,
		OnError:    onResult,
		OnTimeout: func(_ context.Context, pending []string, _ map[string]notify.Response) {
			e.schedule(r, func(ctx context.Context) {
				ctx = e.nodeCtx(ctx, nr)
				e.recordEvent(ctx, nr.ne, schema.EventWaitTimedOut, map[string]any{"pending": pending})
				e.resume(ctx, r, nr, failWith(schema.NewErrorf(schema.ErrCodeTimeout,
					"timed out waiting for %s", strings.Join(pending, ", "))))
			})
		},
	}
}

// resume moves a suspended node back to RUNNING and completes it with the
// response produce returns. A duplicate or late resumption no-ops.
func (e *Engine) resume(ctx context.Context, r *run, nr *nodeRun, produce func(context.Context) schema.StepResponse) {
	if !e.moveNode(ctx, nr.ne, schema.NodeRunning, store.NodeExecutionUpdate{}, "", nil) {
		return
	}
	e.complete(ctx, r, nr, produce(ctx))
}

func (e *Engine) complete(ctx context.Context, r *run, nr *nodeRun, resp schema.StepResponse) {
	e.completeAs(ctx, r, nr, resp, "")
}

func (e *Engine) completeAs(ctx context.Context, r *run, nr *nodeRun, resp schema.StepResponse, eventType string) {
	if resp.Status != schema.NodeSucceeded {
		if resp.Status != schema.NodeFailed {
			resp = schema.Failed(fmt.Sprintf("step returned non-terminal status %q", resp.Status))
		} else if resp.FailureMessage == "" {
			resp.FailureMessage = errorMessage(resp.Outcome, "step failed")
		}
		if resp.Outcome == nil {
			resp.Outcome = map[string]any{}
		}
		if _, ok := resp.Outcome["error"]; !ok {
			resp.Outcome["error"] = resp.FailureMessage
		}
	}

	ended := e.now()
	update := store.NodeExecutionUpdate{
		Outcome: resp.Outcome,
		EndedAt: &ended,
	}
	if nr.mode != "" {
		update.Mode = &nr.mode
	}
	if resp.FailureMessage != "" {
		update.FailureMessage = &resp.FailureMessage
	}
	if !e.moveNode(ctx, nr.ne, resp.Status, update, eventType, map[string]any{
		"outcome":         resp.Outcome,
		"failure_message": resp.FailureMessage,
		"attempt":         nr.ne.Attempt,
	}) {
		return
	}
	nr.ne.Outcome = resp.Outcome
	nr.ne.FailureMessage = resp.FailureMessage
	nr.ne.EndedAt = &ended

	r.scope.SetOutcome(nr.ne.NodeID, resp.Outcome)
	logging.LogWith(ctx, e.logger).Info("node finished",
		slog.String("status", string(resp.Status)),
		slog.Int("attempt", nr.ne.Attempt),
	)

	snapshot := *nr.ne
	e.emitTerminal(ctx, TerminalEvent{
		Kind:            TerminalNode,
		PlanExecutionID: r.exec.ID,
		PlanID:          r.exec.PlanID,
		Node:            &snapshot,
		At:              ended,
	})

	e.advise(ctx, r, nr, resp)
}

func (e *Engine) advise(ctx context.Context, r *run, nr *nodeRun, resp schema.StepResponse) {
	node := nr.req.node
	scope := r.scope.Build()

	var advise *schema.Advise
	var adviserType string
	for _, obt := range node.Advisers {
		adv, err := e.reg.Advisers.Get(obt.Type)
		if err != nil {
			logging.LogWith(ctx, e.logger).Warn("adviser lookup", slog.String("error", err.Error()))
			continue
		}
		a, err := safeAdvise(ctx, adv, AdvisingEvent{
			Ambiance:        nr.ne.Ambiance,
			Node:            node,
			NodeExecutionID: nr.ne.ID,
			Status:          resp.Status,
			Outcome:         resp.Outcome,
			FailureMessage:  resp.FailureMessage,
			Attempt:         nr.ne.Attempt,
			Parameters:      obt.Parameters,
			Scope:           scope,
		})
		if err != nil {
			logging.LogWith(ctx, e.logger).Warn("adviser failed",
				slog.String("adviser", obt.Type), slog.String("error", err.Error()))
			continue
		}
		if a != nil {
			advise, adviserType = a, obt.Type
			break
		}
	}

	status := resp.Status
	ignored := false
	if advise != nil {
		e.recordEvent(ctx, nr.ne, schema.EventAdviseApplied, map[string]any{"adviser": adviserType, "advise": advise})

		switch advise.Type {
		case schema.AdviseNextStep:
			next, ok := r.plan.Node(advise.NextNodeID)
			if !ok {
				e.endExecution(ctx, r, schema.ExecutionFailed,
					fmt.Sprintf("No node found with Id %s", advise.NextNodeID), nr.ne.Ambiance.FQN())
				return
			}
			req := nr.req
			e.schedule(r, func(ctx context.Context) {
				e.visit(ctx, r, visitRequest{
					node:       next,
					parent:     req.parent,
					parentID:   req.parentID,
					parentKey:  req.parentKey,
					previousID: nr.ne.ID,
					attempt:    1,
				})
			})
			return

		case schema.AdviseRetry:
			e.recordEvent(ctx, nr.ne, schema.EventNodeRetrying, map[string]any{
				"attempt": nr.ne.Attempt + 1, "retry_after": advise.RetryAfter.String(),
			})
			req := nr.req
			req.attempt = nr.ne.Attempt + 1
			req.retryOf = nr.ne.ID
			visit := func(ctx context.Context) { e.visit(ctx, r, req) }
			if advise.RetryAfter > 0 {
				time.AfterFunc(advise.RetryAfter, func() { e.schedule(r, visit) })
			} else {
				e.schedule(r, visit)
			}
			return

		case schema.AdviseEndPlan:
			end := advise.EndStatus
			if end == "" {
				end = schema.ExecutionSucceeded
				if status != schema.NodeSucceeded {
					end = schema.ExecutionFailed
				}
			}
			e.endExecution(ctx, r, end, resp.FailureMessage, failedPath(nr, resp))
			return

		case schema.AdviseIgnoreFailure:
			if status == schema.NodeFailed {
				status = schema.NodeSucceeded
				ignored = true
			}
		}
	}

	e.finishNode(ctx, r, nr, resp, status, ignored)
}

// finishNode hands the result to the containing composite, or ends the
// execution when the node sits at the root.
func (e *Engine) finishNode(ctx context.Context, r *run, nr *nodeRun, resp schema.StepResponse, status schema.NodeStatus, ignored bool) {
	if key := nr.req.parentKey; key != "" {
		res := ChildResult{
			NodeID:          nr.ne.NodeID,
			NodeExecutionID: nr.ne.ID,
			Status:          status,
			Outcome:         resp.Outcome,
			FailureMessage:  resp.FailureMessage,
			Ignored:         ignored,
		}
		if status != schema.NodeSucceeded {
			res.FailedNodePath = failedPath(nr, resp)
		}
		if !e.notify.Notify(ctx, key, encodeChildResult(res)) {
			logging.LogWith(ctx, e.logger).Debug("parent no longer waiting", slog.String("key", key))
		}
		return
	}

	if status == schema.NodeSucceeded {
		e.endExecution(ctx, r, schema.ExecutionSucceeded, "", "")
		return
	}
	e.endExecution(ctx, r, schema.ExecutionFailed, resp.FailureMessage, failedPath(nr, resp))
}

func (e *Engine) recordEvent(ctx context.Context, ne *schema.NodeExecution, eventType string, payload any) {
	if err := e.events.Record(ctx, ne.PlanExecutionID, ne.ID, ne.NodeID, eventType, payload); err != nil {
		logging.LogWith(ctx, e.logger).Warn("record event", slog.String("type", eventType), slog.String("error", err.Error()))
		return
	}
	if e.hub != nil {
		e.publish(ctx, Transition{
			PlanExecutionID: ne.PlanExecutionID,
			NodeExecutionID: ne.ID,
			NodeID:          ne.NodeID,
			EventType:       eventType,
			To:              string(ne.Status),
			Payload:         payload,
		})
	}
}

// moveNode applies a node transition and reports whether the caller still
// owns the node. A persisted transition whose event failed to record still
// counts as applied.
func (e *Engine) moveNode(ctx context.Context, ne *schema.NodeExecution, to schema.NodeStatus, update store.NodeExecutionUpdate, eventType string, payload any) bool {
	log := logging.LogWith(ctx, e.logger)
	ok, err := e.nodeFSM.Transition(ctx, ne, to, update, eventType, payload)
	if err != nil {
		log.Error("node transition", slog.String("to", string(to)), slog.String("error", err.Error()))
	}
	if !ok && err == nil {
		log.Debug("node transition lost race", slog.String("to", string(to)))
	}
	return ok
}

func (e *Engine) nodeCtx(ctx context.Context, nr *nodeRun) context.Context {
	return logging.WithIDs(ctx, nr.ne.PlanExecutionID, nr.ne.ID, nr.ne.NodeID)
}

func failedPath(nr *nodeRun, resp schema.StepResponse) string {
	if p := schema.StringParam(resp.Outcome, failedPathKey, ""); p != "" {
		return p
	}
	return nr.ne.Ambiance.FQN()
}

func failWith(err error) func(context.Context) schema.StepResponse {
	return func(context.Context) schema.StepResponse { return schema.Failed(err.Error()) }
}

func unsupported(nr *nodeRun) schema.StepResponse {
	return schema.Failed(fmt.Sprintf("step type %q does not support %s execution", nr.req.node.StepType, nr.mode))
}

func encodeChildResult(res ChildResult) map[string]any {
	return map[string]any{
		"node_id":           res.NodeID,
		"node_execution_id": res.NodeExecutionID,
		"status":            string(res.Status),
		"outcome":           res.Outcome,
		"failure_message":   res.FailureMessage,
		failedPathKey:       res.FailedNodePath,
		"ignored":           res.Ignored,
	}
}

func decodeChildResult(data map[string]any) ChildResult {
	return ChildResult{
		NodeID:          schema.StringParam(data, "node_id", ""),
		NodeExecutionID: schema.StringParam(data, "node_execution_id", ""),
		Status:          schema.NodeStatus(schema.StringParam(data, "status", string(schema.NodeFailed))),
		Outcome:         schema.MapParam(data, "outcome"),
		FailureMessage:  schema.StringParam(data, "failure_message", ""),
		FailedNodePath:  schema.StringParam(data, failedPathKey, ""),
		Ignored:         schema.BoolParam(data, "ignored", false),
	}
}

func safeStep(fn func() (schema.StepResponse, error)) (resp schema.StepResponse) {
	defer func() {
		if p := recover(); p != nil {
			resp = schema.Failed(fmt.Sprintf("step panicked: %v", p))
		}
	}()
	out, err := fn()
	if err != nil {
		return schema.Failed(err.Error())
	}
	return out
}

func safeFacilitate(ctx context.Context, f Facilitator, in FacilitatorInput) (resp *schema.FacilitatorResponse, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("facilitator panicked: %v", p)
		}
	}()
	return f.Facilitate(ctx, in)
}

func safeAdvise(ctx context.Context, a Adviser, ev AdvisingEvent) (adv *schema.Advise, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("adviser panicked: %v", p)
		}
	}()
	return a.Advise(ctx, ev)
}
