package engine

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/pranay-harness/harness-core-sub060/internal/store"
	"github.com/pranay-harness/harness-core-sub060/pkg/schema"
)

// Transition describes a persisted status change.
type Transition struct {
	PlanExecutionID string
	NodeExecutionID string
	NodeID          string
	From            string
	To              string
	EventType       string
	Payload         any
	At              time.Time
}

// TransitionHook runs after a transition was persisted and logged.
type TransitionHook func(ctx context.Context, t Transition)

// EventRecorder is satisfied by store.EventLog.
type EventRecorder interface {
	Record(ctx context.Context, planExecutionID, nodeExecutionID, nodeID, eventType string, payload any) error
}

type hooks struct {
	mu    sync.RWMutex
	after []TransitionHook
}

func (h *hooks) add(hook TransitionHook) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.after = append(h.after, hook)
}

func (h *hooks) run(ctx context.Context, t Transition) {
	h.mu.RLock()
	list := slices.Clone(h.after)
	h.mu.RUnlock()
	for _, hook := range list {
		hook(ctx, t)
	}
}

// --- Execution FSM ---

// ExecutionFSM validates, persists and logs plan execution transitions.
type ExecutionFSM struct {
	store  store.Store
	events EventRecorder
	hooks  hooks
	now    func() time.Time
}

// NewExecutionFSM creates an ExecutionFSM.
func NewExecutionFSM(s store.Store, events EventRecorder, now func() time.Time) *ExecutionFSM {
	return &ExecutionFSM{store: s, events: events, now: now}
}

// OnAfter registers a hook called after every successful transition.
func (f *ExecutionFSM) OnAfter(hook TransitionHook) { f.hooks.add(hook) }

// Transition moves execution id from one status to another. It reports false
// when the stored status no longer equals from; the caller lost a race and
// must do nothing further.
func (f *ExecutionFSM) Transition(ctx context.Context, id string, from, to schema.ExecutionStatus, update store.PlanExecutionUpdate, payload any) (bool, error) {
	if !slices.Contains(ValidExecutionTransitions[from], to) {
		return false, schema.NewErrorf(schema.ErrCodeInvalidTransition,
			"invalid execution transition: %s -> %s", from, to).
			WithDetails(map[string]any{"plan_execution_id": id, "from": string(from), "to": string(to)})
	}

	update.Status = &to
	ok, err := f.store.UpdatePlanExecution(ctx, id, from, update)
	if err != nil || !ok {
		return false, err
	}

	t := Transition{
		PlanExecutionID: id,
		From:            string(from),
		To:              string(to),
		EventType:       executionEventType(from, to),
		Payload:         payload,
		At:              f.now(),
	}
	if err := f.events.Record(ctx, id, "", "", t.EventType, payload); err != nil {
		return true, schema.NewErrorf(schema.ErrCodeStore, "emit execution event: %s", err.Error()).WithCause(err)
	}
	f.hooks.run(ctx, t)
	return true, nil
}

func executionEventType(from, to schema.ExecutionStatus) string {
	switch to {
	case schema.ExecutionRunning:
		if from == schema.ExecutionPaused {
			return schema.EventExecutionResumed
		}
		return schema.EventExecutionStarted
	case schema.ExecutionPaused:
		return schema.EventExecutionPaused
	case schema.ExecutionSucceeded:
		return schema.EventExecutionSucceeded
	case schema.ExecutionFailed:
		return schema.EventExecutionFailed
	case schema.ExecutionAborted:
		return schema.EventExecutionAborted
	case schema.ExecutionExpired:
		return schema.EventExecutionExpired
	default:
		return ""
	}
}

// --- Node FSM ---

// NodeFSM validates, persists and logs node execution transitions.
type NodeFSM struct {
	store  store.Store
	events EventRecorder
	hooks  hooks
	now    func() time.Time
}

// NewNodeFSM creates a NodeFSM.
func NewNodeFSM(s store.Store, events EventRecorder, now func() time.Time) *NodeFSM {
	return &NodeFSM{store: s, events: events, now: now}
}

// OnAfter registers a hook called after every successful transition.
func (f *NodeFSM) OnAfter(hook TransitionHook) { f.hooks.add(hook) }

// Transition moves ne from its current status to to. On success ne.Status
// is updated in place. A false result means another writer got there first.
func (f *NodeFSM) Transition(ctx context.Context, ne *schema.NodeExecution, to schema.NodeStatus, update store.NodeExecutionUpdate, eventType string, payload any) (bool, error) {
	from := ne.Status
	if !slices.Contains(ValidNodeTransitions[from], to) {
		return false, schema.NewErrorf(schema.ErrCodeInvalidTransition,
			"invalid node transition: %s -> %s", from, to).
			WithNode(ne.NodeID).
			WithDetails(map[string]any{"node_execution_id": ne.ID, "from": string(from), "to": string(to)})
	}

	update.Status = &to
	ok, err := f.store.UpdateNodeExecution(ctx, ne.ID, from, update)
	if err != nil || !ok {
		return false, err
	}
	ne.Status = to

	if eventType == "" {
		eventType = nodeEventType(from, to)
	}
	t := Transition{
		PlanExecutionID: ne.PlanExecutionID,
		NodeExecutionID: ne.ID,
		NodeID:          ne.NodeID,
		From:            string(from),
		To:              string(to),
		EventType:       eventType,
		Payload:         payload,
		At:              f.now(),
	}
	if err := f.events.Record(ctx, ne.PlanExecutionID, ne.ID, ne.NodeID, eventType, payload); err != nil {
		return true, schema.NewErrorf(schema.ErrCodeStore, "emit node event: %s", err.Error()).WithNode(ne.NodeID).WithCause(err)
	}
	f.hooks.run(ctx, t)
	return true, nil
}

func nodeEventType(from, to schema.NodeStatus) string {
	switch to {
	case schema.NodeRunning:
		if from == schema.NodeSuspended {
			return schema.EventNodeResumed
		}
		return schema.EventNodeStarted
	case schema.NodeSuspended:
		return schema.EventNodeSuspended
	case schema.NodeSucceeded:
		return schema.EventNodeSucceeded
	case schema.NodeFailed:
		return schema.EventNodeFailed
	case schema.NodeAborted:
		return schema.EventNodeAborted
	default:
		return ""
	}
}

// --- Transition tables ---

// ValidExecutionTransitions defines the allowed plan execution transitions.
// A paused execution may still finish when an in-flight node completes it.
var ValidExecutionTransitions = map[schema.ExecutionStatus][]schema.ExecutionStatus{
	schema.ExecutionCreated:   {schema.ExecutionRunning, schema.ExecutionFailed, schema.ExecutionAborted},
	schema.ExecutionRunning:   {schema.ExecutionPaused, schema.ExecutionSucceeded, schema.ExecutionFailed, schema.ExecutionAborted, schema.ExecutionExpired},
	schema.ExecutionPaused:    {schema.ExecutionRunning, schema.ExecutionSucceeded, schema.ExecutionFailed, schema.ExecutionAborted, schema.ExecutionExpired},
	schema.ExecutionSucceeded: {},
	schema.ExecutionFailed:    {},
	schema.ExecutionAborted:   {},
	schema.ExecutionExpired:   {},
}

// ValidNodeTransitions defines the allowed node execution transitions.
var ValidNodeTransitions = map[schema.NodeStatus][]schema.NodeStatus{
	schema.NodeQueued:    {schema.NodeRunning, schema.NodeAborted},
	schema.NodeRunning:   {schema.NodeSuspended, schema.NodeSucceeded, schema.NodeFailed, schema.NodeAborted},
	schema.NodeSuspended: {schema.NodeRunning, schema.NodeFailed, schema.NodeAborted},
	schema.NodeSucceeded: {},
	schema.NodeFailed:    {},
	schema.NodeAborted:   {},
}
