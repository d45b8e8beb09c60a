package mcp

import (
	"context"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pranay-harness/harness-core-sub060/internal/engine"
	"github.com/pranay-harness/harness-core-sub060/internal/notify"
	"github.com/pranay-harness/harness-core-sub060/internal/store"
	"github.com/pranay-harness/harness-core-sub060/pkg/schema"
)

const buildYAML = `
identifier: build
inputs:
  env: staging
input_schema:
  type: object
  properties:
    env:
      enum: [staging, prod]
  required: [env]
stages:
  - identifier: compile
    steps:
      - identifier: make
        type: NOOP
        params:
          outcome: {artifact: app.tar}
triggers:
  - identifier: nightly
    cron: "0 2 * * *"
`

const approvalYAML = `
identifier: release
stages:
  - identifier: gate
    steps:
      - identifier: approval
        type: WAIT
`

func TestPlanCreateTool(t *testing.T) {
	triggers := &mockTriggers{}
	metrics := &mockPlanObserver{}
	h := newHarness(t, func(d *ServerDeps) {
		d.Triggers = triggers
		d.Metrics = metrics
	})

	result := h.call(t, h.srv.handlePlanCreate, "plan.create", map[string]any{"definition": buildYAML})
	require.False(t, result.IsError, extractText(t, result))

	var out struct {
		PlanID   string   `json:"plan_id"`
		Valid    bool     `json:"valid"`
		Starting string   `json:"starting_node_id"`
		Nodes    int      `json:"nodes"`
		Triggers []string `json:"triggers"`
	}
	unmarshalResult(t, result, &out)
	assert.True(t, out.Valid)
	assert.Equal(t, "build", out.Starting)
	assert.Equal(t, 3, out.Nodes)
	assert.Equal(t, []string{out.PlanID + "/nightly"}, out.Triggers)
	assert.Equal(t, []string{out.PlanID}, triggers.planIDs)
	require.Len(t, metrics.plans, 1)

	stored, err := h.store.GetPlan(context.Background(), out.PlanID)
	require.NoError(t, err)
	assert.True(t, stored.Valid)
}

func TestPlanCreateTool_DefinitionObject(t *testing.T) {
	h := newHarness(t)

	result := h.call(t, h.srv.handlePlanCreate, "plan.create", map[string]any{
		"definition_object": map[string]any{
			"identifier": "obj",
			"stages": []any{
				map[string]any{
					"identifier": "only",
					"steps": []any{
						map[string]any{"identifier": "noop", "type": "NOOP"},
					},
				},
			},
		},
	})
	require.False(t, result.IsError, extractText(t, result))

	var out struct {
		Valid bool `json:"valid"`
		Nodes int  `json:"nodes"`
	}
	unmarshalResult(t, result, &out)
	assert.True(t, out.Valid)
	assert.Equal(t, 3, out.Nodes)
}

func TestPlanCreateTool_Invalid(t *testing.T) {
	h := newHarness(t)

	result := h.call(t, h.srv.handlePlanCreate, "plan.create", map[string]any{"definition": `
identifier: bad
stages:
  - identifier: s
    steps:
      - identifier: x
        type: NOPE
`})
	require.False(t, result.IsError)

	var out struct {
		Valid  bool     `json:"valid"`
		Errors []string `json:"errors"`
	}
	unmarshalResult(t, result, &out)
	assert.False(t, out.Valid)
	require.NotEmpty(t, out.Errors)
	assert.Contains(t, strings.Join(out.Errors, "\n"), "NOPE")
}

func TestPlanCreateTool_MissingDefinition(t *testing.T) {
	h := newHarness(t)

	result := h.call(t, h.srv.handlePlanCreate, "plan.create", map[string]any{})
	assert.True(t, result.IsError)
	assert.Contains(t, extractText(t, result), "definition")

	result = h.call(t, h.srv.handlePlanCreate, "plan.create", map[string]any{"definition": "identifier: [oops"})
	assert.True(t, result.IsError)
}

func TestPlanGetTool(t *testing.T) {
	h := newHarness(t)
	planID := h.createPlan(t, buildYAML)

	result := h.call(t, h.srv.handlePlanGet, "plan.get", map[string]any{"plan_id": planID})
	require.False(t, result.IsError, extractText(t, result))

	var out struct {
		Plan    schema.Plan `json:"plan"`
		Format  string      `json:"format"`
		Diagram string      `json:"diagram"`
	}
	unmarshalResult(t, result, &out)
	assert.Equal(t, planID, out.Plan.ID)
	assert.Equal(t, "mermaid", out.Format)
	assert.True(t, strings.HasPrefix(out.Diagram, "graph TD"), out.Diagram)

	result = h.call(t, h.srv.handlePlanGet, "plan.get", map[string]any{"plan_id": planID, "format": "ascii"})
	require.False(t, result.IsError)
	unmarshalResult(t, result, &out)
	assert.Contains(t, out.Diagram, "make (NOOP)")
}

func TestPlanGetTool_ExecutionOverlay(t *testing.T) {
	h := newHarness(t)
	planID := h.createPlan(t, buildYAML)

	started := h.call(t, h.srv.handleExecutionStart, "execution.start", map[string]any{"plan_id": planID, "wait": true})
	require.False(t, started.IsError, extractText(t, started))
	var exec schema.PlanExecution
	unmarshalResult(t, started, &exec)

	result := h.call(t, h.srv.handlePlanGet, "plan.get", map[string]any{
		"plan_id":      planID,
		"execution_id": exec.ID,
		"format":       "ascii",
	})
	require.False(t, result.IsError, extractText(t, result))
	var out struct {
		Diagram string `json:"diagram"`
	}
	unmarshalResult(t, result, &out)
	assert.Contains(t, out.Diagram, "make (NOOP) [OK]")
}

func TestPlanGetTool_Errors(t *testing.T) {
	h := newHarness(t)

	result := h.call(t, h.srv.handlePlanGet, "plan.get", map[string]any{})
	assert.True(t, result.IsError)

	result = h.call(t, h.srv.handlePlanGet, "plan.get", map[string]any{"plan_id": "missing"})
	assert.True(t, result.IsError)
	assert.Contains(t, extractText(t, result), "plan not found")

	planID := h.createPlan(t, buildYAML)
	result = h.call(t, h.srv.handlePlanGet, "plan.get", map[string]any{"plan_id": planID, "format": "png"})
	assert.True(t, result.IsError)
}

func TestExecutionStartTool_Wait(t *testing.T) {
	h := newHarness(t)
	planID := h.createPlan(t, buildYAML)

	result := h.call(t, h.srv.handleExecutionStart, "execution.start", map[string]any{
		"plan_id":      planID,
		"triggered_by": "alice",
		"project_id":   "proj",
		"wait":         true,
	})
	require.False(t, result.IsError, extractText(t, result))

	var exec schema.PlanExecution
	unmarshalResult(t, result, &exec)
	assert.Equal(t, schema.ExecutionSucceeded, exec.Status)
	assert.Equal(t, planID, exec.PlanID)
	assert.Equal(t, "alice", exec.Metadata.TriggeredBy)
	assert.Equal(t, "MANUAL", exec.Metadata.TriggerType)
	assert.Equal(t, "staging", exec.Inputs["env"])
}

func TestExecutionStartTool_InputSchema(t *testing.T) {
	h := newHarness(t)
	planID := h.createPlan(t, buildYAML)

	result := h.call(t, h.srv.handleExecutionStart, "execution.start", map[string]any{
		"plan_id": planID,
		"inputs":  map[string]any{"env": "qa"},
	})
	assert.True(t, result.IsError)

	result = h.call(t, h.srv.handleExecutionStart, "execution.start", map[string]any{
		"plan_id": planID,
		"inputs":  map[string]any{"env": "prod"},
		"wait":    true,
	})
	require.False(t, result.IsError, extractText(t, result))
	var exec schema.PlanExecution
	unmarshalResult(t, result, &exec)
	assert.Equal(t, "prod", exec.Inputs["env"])
}

func TestExecutionStartTool_Errors(t *testing.T) {
	h := newHarness(t)

	result := h.call(t, h.srv.handleExecutionStart, "execution.start", map[string]any{})
	assert.True(t, result.IsError)
	assert.Contains(t, extractText(t, result), "plan_id is required")

	result = h.call(t, h.srv.handleExecutionStart, "execution.start", map[string]any{"plan_id": "missing"})
	assert.True(t, result.IsError)
}

func TestExecutionLifecycleTools(t *testing.T) {
	h := newHarness(t)
	planID := h.createPlan(t, approvalYAML)

	started := h.call(t, h.srv.handleExecutionStart, "execution.start", map[string]any{"plan_id": planID})
	require.False(t, started.IsError, extractText(t, started))
	var exec schema.PlanExecution
	unmarshalResult(t, started, &exec)

	waitNode := func() *schema.NodeExecution {
		var found *schema.NodeExecution
		require.Eventually(t, func() bool {
			snap, err := h.eng.Status(context.Background(), exec.ID)
			if err != nil {
				return false
			}
			for _, ne := range snap.Nodes {
				if ne.NodeID == "release.gate.approval" && ne.Status == schema.NodeSuspended {
					found = ne
					return true
				}
			}
			return false
		}, 5*time.Second, 10*time.Millisecond)
		return found
	}
	ne := waitNode()

	paused := h.call(t, h.srv.handleExecutionPause, "execution.pause", map[string]any{"execution_id": exec.ID})
	require.False(t, paused.IsError, extractText(t, paused))
	unmarshalResult(t, paused, &exec)
	assert.Equal(t, schema.ExecutionPaused, exec.Status)

	// Pausing twice conflicts.
	again := h.call(t, h.srv.handleExecutionPause, "execution.pause", map[string]any{"execution_id": exec.ID})
	assert.True(t, again.IsError)

	resumed := h.call(t, h.srv.handleExecutionResume, "execution.resume", map[string]any{"execution_id": exec.ID})
	require.False(t, resumed.IsError, extractText(t, resumed))
	unmarshalResult(t, resumed, &exec)
	assert.Equal(t, schema.ExecutionRunning, exec.Status)

	resolved := h.call(t, h.srv.handleNotifyResolve, "notify.resolve", map[string]any{
		"key":  engine.SignalKey(ne.ID),
		"data": map[string]any{"approved": true},
	})
	require.False(t, resolved.IsError)
	var delivery struct {
		Delivered bool `json:"delivered"`
	}
	unmarshalResult(t, resolved, &delivery)
	assert.True(t, delivery.Delivered)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	done, err := h.eng.Wait(ctx, exec.ID)
	require.NoError(t, err)
	assert.Equal(t, schema.ExecutionSucceeded, done.Status)

	status := h.call(t, h.srv.handleExecutionStatus, "execution.status", map[string]any{
		"execution_id":   exec.ID,
		"include_events": true,
	})
	require.False(t, status.IsError)
	var snap struct {
		Execution schema.PlanExecution    `json:"execution"`
		Nodes     []*schema.NodeExecution `json:"nodes"`
		Events    []*store.Event          `json:"events"`
	}
	unmarshalResult(t, status, &snap)
	assert.Equal(t, schema.ExecutionSucceeded, snap.Execution.Status)
	assert.Len(t, snap.Nodes, 3)
	var types []string
	for _, ev := range snap.Events {
		types = append(types, ev.Type)
	}
	assert.Contains(t, types, schema.EventExecutionPaused)
	assert.Contains(t, types, schema.EventExecutionResumed)
	assert.Contains(t, types, schema.EventExecutionSucceeded)
}

func TestExecutionAbortTool(t *testing.T) {
	h := newHarness(t)
	planID := h.createPlan(t, approvalYAML)

	started := h.call(t, h.srv.handleExecutionStart, "execution.start", map[string]any{"plan_id": planID})
	require.False(t, started.IsError)
	var exec schema.PlanExecution
	unmarshalResult(t, started, &exec)

	aborted := h.call(t, h.srv.handleExecutionAbort, "execution.abort", map[string]any{"execution_id": exec.ID})
	require.False(t, aborted.IsError, extractText(t, aborted))
	unmarshalResult(t, aborted, &exec)
	assert.Equal(t, schema.ExecutionAborted, exec.Status)

	// Terminal executions cannot be resumed.
	resumed := h.call(t, h.srv.handleExecutionResume, "execution.resume", map[string]any{"execution_id": exec.ID})
	assert.True(t, resumed.IsError)
}

func TestExecutionRerunTool(t *testing.T) {
	h := newHarness(t)
	planID := h.createPlan(t, buildYAML)

	started := h.call(t, h.srv.handleExecutionStart, "execution.start", map[string]any{"plan_id": planID, "wait": true})
	require.False(t, started.IsError)
	var first schema.PlanExecution
	unmarshalResult(t, started, &first)

	rerun := h.call(t, h.srv.handleExecutionRerun, "execution.rerun", map[string]any{
		"execution_id": first.ID,
		"inputs":       map[string]any{"env": "prod"},
	})
	require.False(t, rerun.IsError, extractText(t, rerun))
	var second schema.PlanExecution
	unmarshalResult(t, rerun, &second)
	assert.NotEqual(t, first.ID, second.ID)
	assert.Equal(t, planID, second.PlanID)

	missing := h.call(t, h.srv.handleExecutionRerun, "execution.rerun", map[string]any{"execution_id": "nope"})
	assert.True(t, missing.IsError)
}

func TestExecutionStatusTool_NotFound(t *testing.T) {
	h := newHarness(t)

	result := h.call(t, h.srv.handleExecutionStatus, "execution.status", map[string]any{"execution_id": "nope"})
	assert.True(t, result.IsError)
	assert.Contains(t, extractText(t, result), "execution not found")
}

func TestTaskReportTool(t *testing.T) {
	reporter := &mockReporter{}
	h := newHarness(t, func(d *ServerDeps) { d.Tasks = reporter })

	result := h.call(t, h.srv.handleTaskReport, "task.report", map[string]any{
		"task_id": "t-1",
		"token":   "tok",
		"status":  "SUCCEEDED",
		"data":    map[string]any{"exit_code": 0},
	})
	require.False(t, result.IsError, extractText(t, result))
	assert.Equal(t, []store.TaskStatus{store.TaskSucceeded}, reporter.reports)

	reporter.err = schema.NewError(schema.ErrCodeUnauthorized, "bad token")
	result = h.call(t, h.srv.handleTaskReport, "task.report", map[string]any{
		"task_id": "t-1",
		"token":   "wrong",
		"status":  "FAILED",
	})
	assert.True(t, result.IsError)
	assert.Contains(t, extractText(t, result), "bad token")

	result = h.call(t, h.srv.handleTaskReport, "task.report", map[string]any{"task_id": "t-1"})
	assert.True(t, result.IsError)
}

func TestTaskReportTool_NotConfigured(t *testing.T) {
	h := newHarness(t)

	result := h.call(t, h.srv.handleTaskReport, "task.report", map[string]any{
		"task_id": "t-1", "token": "tok", "status": "RUNNING",
	})
	assert.True(t, result.IsError)
	assert.Contains(t, extractText(t, result), "not configured")
}

func TestNotifyResolveTool_NoWaiter(t *testing.T) {
	h := newHarness(t)

	result := h.call(t, h.srv.handleNotifyResolve, "notify.resolve", map[string]any{"key": engine.SignalKey("nobody")})
	require.False(t, result.IsError)
	var out struct {
		Delivered bool `json:"delivered"`
	}
	unmarshalResult(t, result, &out)
	assert.False(t, out.Delivered)

	result = h.call(t, h.srv.handleNotifyResolve, "notify.resolve", map[string]any{})
	assert.True(t, result.IsError)
}

func TestNotifyResolveTool_RejectsTaskAndChildKeys(t *testing.T) {
	h := newHarness(t)

	var fired atomic.Bool
	cb := notify.Funcs{OnResponse: func(context.Context, map[string]notify.Response) { fired.Store(true) }}
	for _, key := range []string{"task-7f3a", "ne-1/child/0"} {
		_, err := h.notify.WaitFor(context.Background(), notify.WaitRequest{Keys: []string{key}, Callback: cb})
		require.NoError(t, err)

		result := h.call(t, h.srv.handleNotifyResolve, "notify.resolve", map[string]any{
			"key":  key,
			"data": map[string]any{"exit_code": 0},
		})
		assert.True(t, result.IsError, key)
		assert.Contains(t, extractText(t, result), "task.report")
		assert.True(t, h.notify.Awaited(key), "%s stays pending", key)
	}
	assert.False(t, fired.Load())
	assert.Equal(t, 2, h.notify.Pending())
}
