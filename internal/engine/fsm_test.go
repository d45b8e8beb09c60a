package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pranay-harness/harness-core-sub060/internal/store"
	"github.com/pranay-harness/harness-core-sub060/pkg/schema"
)

// recordedEvent is one call to mockRecorder.Record.
type recordedEvent struct {
	execID, nodeExecID, nodeID, eventType string
}

type mockRecorder struct {
	mu     sync.Mutex
	events []recordedEvent
	err    error
}

func (m *mockRecorder) Record(_ context.Context, execID, nodeExecID, nodeID, eventType string, _ any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.events = append(m.events, recordedEvent{execID, nodeExecID, nodeID, eventType})
	return nil
}

func (m *mockRecorder) types() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.events))
	for _, e := range m.events {
		out = append(out, e.eventType)
	}
	return out
}

func fsmFixture(t *testing.T) (*store.MemoryStore, *schema.PlanExecution) {
	t.Helper()
	ctx := context.Background()
	st := store.NewMemoryStore()
	require.NoError(t, st.CreatePlan(ctx, plan("p", "a", noop("a"))))
	exec := &schema.PlanExecution{ID: "exec-1", PlanID: "p", Status: schema.ExecutionCreated}
	require.NoError(t, st.CreatePlanExecution(ctx, exec))
	return st, exec
}

func TestExecutionFSM_LifecycleEvents(t *testing.T) {
	st, exec := fsmFixture(t)
	rec := &mockRecorder{}
	fsm := NewExecutionFSM(st, rec, time.Now)
	ctx := context.Background()

	var hooked []Transition
	fsm.OnAfter(func(_ context.Context, tr Transition) { hooked = append(hooked, tr) })

	steps := []struct{ from, to schema.ExecutionStatus }{
		{schema.ExecutionCreated, schema.ExecutionRunning},
		{schema.ExecutionRunning, schema.ExecutionPaused},
		{schema.ExecutionPaused, schema.ExecutionRunning},
		{schema.ExecutionRunning, schema.ExecutionSucceeded},
	}
	for _, s := range steps {
		ok, err := fsm.Transition(ctx, exec.ID, s.from, s.to, store.PlanExecutionUpdate{}, nil)
		require.NoError(t, err)
		require.True(t, ok, "%s -> %s", s.from, s.to)
	}

	assert.Equal(t, []string{
		schema.EventExecutionStarted,
		schema.EventExecutionPaused,
		schema.EventExecutionResumed,
		schema.EventExecutionSucceeded,
	}, rec.types())
	require.Len(t, hooked, 4)
	assert.Equal(t, "PAUSED", hooked[2].From)

	got, err := st.GetPlanExecution(ctx, exec.ID)
	require.NoError(t, err)
	assert.Equal(t, schema.ExecutionSucceeded, got.Status)
}

func TestExecutionFSM_RejectsInvalidTransition(t *testing.T) {
	st, exec := fsmFixture(t)
	rec := &mockRecorder{}
	fsm := NewExecutionFSM(st, rec, time.Now)

	ok, err := fsm.Transition(context.Background(), exec.ID, schema.ExecutionCreated, schema.ExecutionSucceeded, store.PlanExecutionUpdate{}, nil)
	assert.False(t, ok)
	assert.True(t, schema.HasCode(err, schema.ErrCodeInvalidTransition))
	assert.Empty(t, rec.types())
}

func TestExecutionFSM_LostRace(t *testing.T) {
	st, exec := fsmFixture(t)
	rec := &mockRecorder{}
	fsm := NewExecutionFSM(st, rec, time.Now)

	ok, err := fsm.Transition(context.Background(), exec.ID, schema.ExecutionRunning, schema.ExecutionAborted, store.PlanExecutionUpdate{}, nil)
	require.NoError(t, err)
	assert.False(t, ok, "stored status is CREATED, not RUNNING")
	assert.Empty(t, rec.types())
}

func TestExecutionFSM_TerminalStatesAreFinal(t *testing.T) {
	for _, s := range []schema.ExecutionStatus{
		schema.ExecutionSucceeded, schema.ExecutionFailed, schema.ExecutionAborted, schema.ExecutionExpired,
	} {
		assert.Empty(t, ValidExecutionTransitions[s], s)
		assert.True(t, s.IsTerminal())
	}
}

func TestNodeFSM_TransitionUpdatesInPlace(t *testing.T) {
	st, exec := fsmFixture(t)
	rec := &mockRecorder{}
	fsm := NewNodeFSM(st, rec, time.Now)
	ctx := context.Background()

	ne := &schema.NodeExecution{ID: "ne-1", PlanExecutionID: exec.ID, NodeID: "a", Status: schema.NodeQueued, Attempt: 1}
	require.NoError(t, st.CreateNodeExecution(ctx, ne))

	mode := schema.ModeAsync
	for _, to := range []schema.NodeStatus{schema.NodeRunning, schema.NodeSuspended, schema.NodeRunning} {
		ok, err := fsm.Transition(ctx, ne, to, store.NodeExecutionUpdate{Mode: &mode}, "", nil)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, to, ne.Status)
	}
	ok, err := fsm.Transition(ctx, ne, schema.NodeSucceeded, store.NodeExecutionUpdate{Outcome: map[string]any{"k": "v"}}, schema.EventNodeSkipped, nil)
	require.NoError(t, err)
	require.True(t, ok)

	assert.Equal(t, []string{
		schema.EventNodeStarted,
		schema.EventNodeSuspended,
		schema.EventNodeResumed,
		schema.EventNodeSkipped,
	}, rec.types())

	stored, err := st.GetNodeExecution(ctx, ne.ID)
	require.NoError(t, err)
	assert.Equal(t, schema.NodeSucceeded, stored.Status)
	assert.Equal(t, schema.ModeAsync, stored.Mode)
	assert.Equal(t, "v", stored.Outcome["k"])

	_, err = fsm.Transition(ctx, ne, schema.NodeRunning, store.NodeExecutionUpdate{}, "", nil)
	assert.True(t, schema.HasCode(err, schema.ErrCodeInvalidTransition))
}

func TestNodeFSM_StaleCopyLosesRace(t *testing.T) {
	st, exec := fsmFixture(t)
	fsm := NewNodeFSM(st, &mockRecorder{}, time.Now)
	ctx := context.Background()

	ne := &schema.NodeExecution{ID: "ne-1", PlanExecutionID: exec.ID, NodeID: "a", Status: schema.NodeQueued}
	require.NoError(t, st.CreateNodeExecution(ctx, ne))
	stale := *ne

	ok, err := fsm.Transition(ctx, ne, schema.NodeAborted, store.NodeExecutionUpdate{}, "", nil)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = fsm.Transition(ctx, &stale, schema.NodeRunning, store.NodeExecutionUpdate{}, "", nil)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, schema.NodeQueued, stale.Status)
}

func TestNodeFSM_EventFailureStillApplies(t *testing.T) {
	st, exec := fsmFixture(t)
	fsm := NewNodeFSM(st, &mockRecorder{err: errors.New("disk full")}, time.Now)
	ctx := context.Background()

	ne := &schema.NodeExecution{ID: "ne-1", PlanExecutionID: exec.ID, NodeID: "a", Status: schema.NodeQueued}
	require.NoError(t, st.CreateNodeExecution(ctx, ne))

	ok, err := fsm.Transition(ctx, ne, schema.NodeRunning, store.NodeExecutionUpdate{}, "", nil)
	assert.True(t, ok)
	assert.True(t, schema.HasCode(err, schema.ErrCodeStore))
	assert.Equal(t, schema.NodeRunning, ne.Status)
}
