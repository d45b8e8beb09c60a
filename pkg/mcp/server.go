package mcp

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/pranay-harness/harness-core-sub060/internal/engine"
	"github.com/pranay-harness/harness-core-sub060/internal/pipeline"
	"github.com/pranay-harness/harness-core-sub060/internal/store"
	"github.com/pranay-harness/harness-core-sub060/pkg/schema"
)

// Executions drives plan executions. Satisfied by *engine.Engine.
type Executions interface {
	Start(ctx context.Context, plan *schema.Plan, inputs map[string]any, meta schema.Metadata) (*schema.PlanExecution, error)
	Rerun(ctx context.Context, planExecutionID string, inputs map[string]any) (*schema.PlanExecution, error)
	Status(ctx context.Context, planExecutionID string) (*engine.ExecutionSnapshot, error)
	Wait(ctx context.Context, planExecutionID string) (*schema.PlanExecution, error)
	Abort(ctx context.Context, planExecutionID string) (*schema.PlanExecution, error)
	Pause(ctx context.Context, planExecutionID string) (*schema.PlanExecution, error)
	Resume(ctx context.Context, planExecutionID string) (*schema.PlanExecution, error)
}

// PlanCreator turns definitions into persisted plans.
type PlanCreator interface {
	CreatePlan(ctx context.Context, def *pipeline.Definition) (*schema.Plan, error)
}

// TaskReporter accepts executor reports. Satisfied by *delegate.Dispatcher.
type TaskReporter interface {
	Report(ctx context.Context, taskID, token string, status store.TaskStatus, data map[string]any) error
}

// Resolver delivers notify responses. Satisfied by *notify.Engine.
type Resolver interface {
	Notify(ctx context.Context, key string, data map[string]any) bool
}

// TriggerRegistrar stores the cron triggers of a definition.
type TriggerRegistrar interface {
	RegisterDefinition(ctx context.Context, planID string, def *pipeline.Definition) ([]*store.Trigger, error)
}

// PlanObserver is told about every created plan.
type PlanObserver interface {
	ObservePlan(plan *schema.Plan)
}

// ServerDeps holds the dependencies of a Server. Plans, Executions and Store
// are required by most tools; the rest are optional.
type ServerDeps struct {
	Executions Executions
	Plans      PlanCreator
	Store      store.Store
	Validator  *pipeline.Validator
	Tasks      TaskReporter
	Resolver   Resolver
	Triggers   TriggerRegistrar
	Metrics    PlanObserver
	Sessions   *SessionRegistry
	Logger     *slog.Logger
	// WaitTimeout bounds execution.start with wait=true. Defaults to 5m.
	WaitTimeout time.Duration
}

// Server wraps an MCP server with the orchestrator control-plane tools.
type Server struct {
	executions  Executions
	plans       PlanCreator
	store       store.Store
	validator   *pipeline.Validator
	inputs      *pipeline.InputValidator
	tasks       TaskReporter
	resolver    Resolver
	triggers    TriggerRegistrar
	metrics     PlanObserver
	sessions    *SessionRegistry
	logger      *slog.Logger
	waitTimeout time.Duration
	mcpServer   *server.MCPServer
}

// NewServer creates a Server with every tool registered.
func NewServer(deps ServerDeps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	sessions := deps.Sessions
	if sessions == nil {
		sessions = NewSessionRegistry()
	}
	waitTimeout := deps.WaitTimeout
	if waitTimeout <= 0 {
		waitTimeout = 5 * time.Minute
	}

	s := &Server{
		executions:  deps.Executions,
		plans:       deps.Plans,
		store:       deps.Store,
		validator:   deps.Validator,
		inputs:      pipeline.NewInputValidator(),
		tasks:       deps.Tasks,
		resolver:    deps.Resolver,
		triggers:    deps.Triggers,
		metrics:     deps.Metrics,
		sessions:    sessions,
		logger:      logger,
		waitTimeout: waitTimeout,
	}

	hooks := &server.Hooks{}
	hooks.AddOnUnregisterSession(func(_ context.Context, session server.ClientSession) {
		sessions.Remove(session.SessionID())
	})

	mcpSrv := server.NewMCPServer(
		"orchestrator",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithRecovery(),
		server.WithHooks(hooks),
		server.WithInstructions("Pipeline orchestration control plane. Use plan.create to turn a pipeline definition into a plan, execution.start to run it, execution.status to follow progress, execution.pause/resume/abort to control it, notify.resolve to answer WAIT steps and task.report to report delegated task results."),
	)

	mcpSrv.AddTools(s.tools()...)
	s.mcpServer = mcpSrv
	return s
}

// Serve starts the stdio transport and blocks until ctx is cancelled or stdin closes.
func (s *Server) Serve(ctx context.Context) error {
	stdio := server.NewStdioServer(s.mcpServer)
	return stdio.Listen(ctx, os.Stdin, os.Stdout)
}

// MCPServer returns the underlying MCPServer for testing or custom transports.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcpServer
}

// Sessions returns the execution subscription registry.
func (s *Server) Sessions() *SessionRegistry {
	return s.sessions
}

func (s *Server) tools() []server.ServerTool {
	return []server.ServerTool{
		{Tool: planCreateTool(), Handler: s.handlePlanCreate},
		{Tool: planGetTool(), Handler: s.handlePlanGet},
		{Tool: executionStartTool(), Handler: s.handleExecutionStart},
		{Tool: executionRerunTool(), Handler: s.handleExecutionRerun},
		{Tool: executionStatusTool(), Handler: s.handleExecutionStatus},
		{Tool: executionAbortTool(), Handler: s.handleExecutionAbort},
		{Tool: executionPauseTool(), Handler: s.handleExecutionPause},
		{Tool: executionResumeTool(), Handler: s.handleExecutionResume},
		{Tool: taskReportTool(), Handler: s.handleTaskReport},
		{Tool: notifyResolveTool(), Handler: s.handleNotifyResolve},
	}
}

// --- Tool definitions ---

func planCreateTool() mcp.Tool {
	return mcp.NewTool("plan.create",
		mcp.WithDescription("Create a plan from a pipeline definition"),
		mcp.WithString("definition", mcp.Description("Pipeline definition as YAML or JSON text")),
		mcp.WithObject("definition_object", mcp.Description("Pipeline definition as an object")),
	)
}

func planGetTool() mcp.Tool {
	return mcp.NewTool("plan.get",
		mcp.WithDescription("Get a plan and its diagram"),
		mcp.WithString("plan_id", mcp.Required(), mcp.Description("ID of the plan")),
		mcp.WithString("execution_id", mcp.Description("Overlay the node status of this execution")),
		mcp.WithString("format",
			mcp.Enum("mermaid", "ascii"),
			mcp.Description("Diagram format (default: mermaid)"),
		),
	)
}

func executionStartTool() mcp.Tool {
	return mcp.NewTool("execution.start",
		mcp.WithDescription("Start an execution of a plan"),
		mcp.WithString("plan_id", mcp.Required(), mcp.Description("ID of the plan to execute")),
		mcp.WithObject("inputs", mcp.Description("Execution inputs, merged over the pipeline defaults")),
		mcp.WithString("triggered_by", mcp.Description("Who or what started the execution")),
		mcp.WithString("account_id", mcp.Description("Account scope")),
		mcp.WithString("org_id", mcp.Description("Organization scope")),
		mcp.WithString("project_id", mcp.Description("Project scope")),
		mcp.WithBoolean("wait", mcp.Description("Block until the execution ends")),
		mcp.WithBoolean("subscribe", mcp.Description("Stream execution events to this session")),
	)
}

func executionRerunTool() mcp.Tool {
	return mcp.NewTool("execution.rerun",
		mcp.WithDescription("Start a new execution of the same plan as an earlier one"),
		mcp.WithString("execution_id", mcp.Required(), mcp.Description("ID of the execution to rerun")),
		mcp.WithObject("inputs", mcp.Description("Inputs overriding the original ones")),
	)
}

func executionStatusTool() mcp.Tool {
	return mcp.NewTool("execution.status",
		mcp.WithDescription("Get an execution and its node executions"),
		mcp.WithString("execution_id", mcp.Required(), mcp.Description("ID of the execution")),
		mcp.WithBoolean("include_events", mcp.Description("Include the execution event log")),
		mcp.WithNumber("since", mcp.Description("Only events after this sequence number")),
	)
}

func executionAbortTool() mcp.Tool {
	return mcp.NewTool("execution.abort",
		mcp.WithDescription("Abort a running or paused execution"),
		mcp.WithString("execution_id", mcp.Required(), mcp.Description("ID of the execution")),
	)
}

func executionPauseTool() mcp.Tool {
	return mcp.NewTool("execution.pause",
		mcp.WithDescription("Pause a running execution"),
		mcp.WithString("execution_id", mcp.Required(), mcp.Description("ID of the execution")),
	)
}

func executionResumeTool() mcp.Tool {
	return mcp.NewTool("execution.resume",
		mcp.WithDescription("Resume a paused execution"),
		mcp.WithString("execution_id", mcp.Required(), mcp.Description("ID of the execution")),
	)
}

func taskReportTool() mcp.Tool {
	return mcp.NewTool("task.report",
		mcp.WithDescription("Report progress or the result of a delegated task"),
		mcp.WithString("task_id", mcp.Required(), mcp.Description("ID of the task")),
		mcp.WithString("token", mcp.Required(), mcp.Description("Task token issued at dispatch")),
		mcp.WithString("status", mcp.Required(),
			mcp.Enum(string(store.TaskRunning), string(store.TaskSucceeded), string(store.TaskFailed)),
			mcp.Description("Task status"),
		),
		mcp.WithObject("data", mcp.Description("Progress or result data")),
	)
}

func notifyResolveTool() mcp.Tool {
	return mcp.NewTool("notify.resolve",
		mcp.WithDescription("Deliver a response to a waiting WAIT step"),
		mcp.WithString("key", mcp.Required(), mcp.Description("Signal key of the WAIT node execution (<node_execution_id>/signal)")),
		mcp.WithObject("data", mcp.Description("Response data")),
	)
}
