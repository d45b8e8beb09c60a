package telemetry

import (
	"context"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pranay-harness/harness-core-sub060/internal/delegate"
	"github.com/pranay-harness/harness-core-sub060/internal/engine"
	"github.com/pranay-harness/harness-core-sub060/pkg/schema"
)

func TestObserver_Execution(t *testing.T) {
	m := New(nil)
	start := time.Now()
	end := start.Add(3 * time.Second)

	err := m.Observer()(context.Background(), engine.TerminalEvent{
		Kind: engine.TerminalExecution,
		Execution: &schema.PlanExecution{
			ID: "e", Status: schema.ExecutionSucceeded, StartedAt: &start, EndedAt: &end,
		},
	})
	require.NoError(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Executions.WithLabelValues("SUCCEEDED")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.ExecutionDuration))
}

func TestObserver_Node(t *testing.T) {
	m := New(nil)
	amb := schema.NewAmbiance("e", schema.Metadata{}).Extend(schema.Level{Identifier: "build", StepType: "SHELL"})
	obs := m.Observer()

	for _, status := range []schema.NodeStatus{schema.NodeFailed, schema.NodeSucceeded, schema.NodeSucceeded} {
		require.NoError(t, obs(context.Background(), engine.TerminalEvent{
			Kind: engine.TerminalNode,
			Node: &schema.NodeExecution{ID: "n", Ambiance: amb, Status: status},
		}))
	}
	// Events without a payload are ignored.
	require.NoError(t, obs(context.Background(), engine.TerminalEvent{Kind: engine.TerminalNode}))

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Nodes.WithLabelValues("SHELL", "SUCCEEDED")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Nodes.WithLabelValues("SHELL", "FAILED")))
}

func TestObserveDispatchAndPlans(t *testing.T) {
	m := New(nil)
	m.ObserveDispatch(delegate.OutcomeDispatched, "local")
	m.ObserveDispatch(delegate.OutcomeUnassigned, "")
	m.ObservePlan(&schema.Plan{Valid: true})
	m.ObservePlan(&schema.Plan{Valid: false})
	m.ObservePlan(nil)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Dispatches.WithLabelValues("dispatched", "local")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Dispatches.WithLabelValues("unassigned", "")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Plans.WithLabelValues("true")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Plans.WithLabelValues("false")))
}

func TestHandler(t *testing.T) {
	m := New(nil)
	m.ObservePlan(&schema.Plan{Valid: true})

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `orchestrator_plans_created_total{valid="true"} 1`)
}
