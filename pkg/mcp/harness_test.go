package mcp

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/require"

	"github.com/pranay-harness/harness-core-sub060/internal/engine"
	"github.com/pranay-harness/harness-core-sub060/internal/notify"
	"github.com/pranay-harness/harness-core-sub060/internal/pipeline"
	"github.com/pranay-harness/harness-core-sub060/internal/plancreation"
	"github.com/pranay-harness/harness-core-sub060/internal/store"
	"github.com/pranay-harness/harness-core-sub060/internal/streaming"
	"github.com/pranay-harness/harness-core-sub060/internal/worker"
	"github.com/pranay-harness/harness-core-sub060/pkg/schema"
)

type harness struct {
	srv    *Server
	eng    *engine.Engine
	store  *store.MemoryStore
	hub    *streaming.MemoryHub
	notify *notify.Engine
}

type harnessOption func(*ServerDeps)

func newHarness(t *testing.T, opts ...harnessOption) *harness {
	t.Helper()

	st := store.NewMemoryStore()
	hub := streaming.NewMemoryHub()
	pool := worker.New("mcp-test", 4, nil)
	ne := notify.New(notify.Config{Pool: pool})
	reg := engine.NewRegistries()
	require.NoError(t, engine.RegisterBuiltins(reg, engine.BuiltinConfig{Notifier: ne}))
	eng, err := engine.New(engine.Config{Store: st, Notify: ne, Pool: pool, Registries: reg, Hub: hub})
	require.NoError(t, err)
	t.Cleanup(func() {
		eng.Shutdown()
		pool.Shutdown()
	})

	coord, err := plancreation.NewCoordinator(plancreation.Config{
		Services: plancreation.LocalServices(),
		Store:    st,
	})
	require.NoError(t, err)

	deps := ServerDeps{
		Executions:  eng,
		Plans:       coord,
		Store:       st,
		Validator:   pipeline.NewValidator(reg.Steps),
		Resolver:    ne,
		WaitTimeout: 5 * time.Second,
	}
	for _, opt := range opts {
		opt(&deps)
	}
	return &harness{srv: NewServer(deps), eng: eng, store: st, hub: hub, notify: ne}
}

func (h *harness) call(t *testing.T, handler func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error), tool string, args map[string]any) *mcp.CallToolResult {
	t.Helper()
	result, err := handler(context.Background(), buildRequest(tool, args))
	require.NoError(t, err)
	require.NotNil(t, result)
	return result
}

// createPlan runs plan.create and returns the new plan id.
func (h *harness) createPlan(t *testing.T, yamlDef string) string {
	t.Helper()
	result := h.call(t, h.srv.handlePlanCreate, "plan.create", map[string]any{"definition": yamlDef})
	require.False(t, result.IsError, extractText(t, result))
	var out struct {
		PlanID string `json:"plan_id"`
		Valid  bool   `json:"valid"`
	}
	unmarshalResult(t, result, &out)
	require.True(t, out.Valid)
	return out.PlanID
}

func buildRequest(toolName string, args map[string]any) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      toolName,
			Arguments: args,
		},
	}
}

func extractText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	require.NotEmpty(t, result.Content)
	return mcp.GetTextFromContent(result.Content[0])
}

func unmarshalResult(t *testing.T, result *mcp.CallToolResult, target any) {
	t.Helper()
	text := extractText(t, result)
	require.NoError(t, json.Unmarshal([]byte(text), target))
}

// --- Mocks ---

type mockReporter struct {
	mu      sync.Mutex
	reports []store.TaskStatus
	err     error
}

func (m *mockReporter) Report(_ context.Context, _, _ string, status store.TaskStatus, _ map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.reports = append(m.reports, status)
	return nil
}

type mockTriggers struct {
	planIDs []string
}

func (m *mockTriggers) RegisterDefinition(_ context.Context, planID string, def *pipeline.Definition) ([]*store.Trigger, error) {
	m.planIDs = append(m.planIDs, planID)
	out := make([]*store.Trigger, 0, len(def.Triggers))
	for _, tr := range def.Triggers {
		out = append(out, &store.Trigger{ID: planID + "/" + tr.Identifier, PlanID: planID, CronExpression: tr.Cron})
	}
	return out, nil
}

type mockPlanObserver struct {
	plans []*schema.Plan
}

func (m *mockPlanObserver) ObservePlan(plan *schema.Plan) {
	m.plans = append(m.plans, plan)
}

type sentNotification struct {
	sessionID string
	method    string
	params    map[string]any
}

type mockSender struct {
	mu   sync.Mutex
	sent []sentNotification
	err  error
}

func (m *mockSender) SendNotificationToSpecificClient(sessionID string, method string, params map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, sentNotification{sessionID: sessionID, method: method, params: params})
	return nil
}

func (m *mockSender) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}
