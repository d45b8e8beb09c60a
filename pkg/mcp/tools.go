package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/pranay-harness/harness-core-sub060/internal/diagram"
	"github.com/pranay-harness/harness-core-sub060/internal/engine"
	"github.com/pranay-harness/harness-core-sub060/internal/pipeline"
	"github.com/pranay-harness/harness-core-sub060/internal/plancreation"
	"github.com/pranay-harness/harness-core-sub060/internal/store"
	"github.com/pranay-harness/harness-core-sub060/pkg/schema"
)

// handlePlanCreate parses, validates and creates a plan from a definition.
func (s *Server) handlePlanCreate(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	def, err := definitionFrom(req)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	if s.validator != nil {
		if res := s.validator.Validate(def); !res.Valid() {
			return marshalResult(map[string]any{
				"valid":  false,
				"errors": res.Messages(),
			})
		}
	}

	plan, err := s.plans.CreatePlan(ctx, def)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("plan creation failed: %v", err)), nil
	}
	if s.metrics != nil {
		s.metrics.ObservePlan(plan)
	}

	result := map[string]any{
		"plan_id":          plan.ID,
		"valid":            plan.Valid,
		"starting_node_id": plan.StartingNodeID,
		"nodes":            len(plan.Nodes),
	}
	if !plan.Valid {
		result["errors"] = plan.Errors
		return marshalResult(result)
	}

	if s.triggers != nil && len(def.Triggers) > 0 {
		triggers, trErr := s.triggers.RegisterDefinition(ctx, plan.ID, def)
		if trErr != nil {
			return mcp.NewToolResultError(fmt.Sprintf("plan %s created but trigger registration failed: %v", plan.ID, trErr)), nil
		}
		ids := make([]string, 0, len(triggers))
		for _, t := range triggers {
			ids = append(ids, t.ID)
		}
		result["triggers"] = ids
	}
	return marshalResult(result)
}

// definitionFrom reads the definition either as text or as an object.
func definitionFrom(req mcp.CallToolRequest) (*pipeline.Definition, error) {
	if text := req.GetString("definition", ""); text != "" {
		return pipeline.Parse([]byte(text))
	}
	obj := mcp.ParseStringMap(req, "definition_object", nil)
	if obj == nil {
		return nil, fmt.Errorf("one of definition or definition_object is required")
	}
	data, err := json.Marshal(obj)
	if err != nil {
		return nil, fmt.Errorf("invalid definition_object: %w", err)
	}
	return pipeline.Parse(data)
}

// handlePlanGet returns a plan with a diagram, optionally overlaid with the
// node status of one execution.
func (s *Server) handlePlanGet(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	planID, err := req.RequireString("plan_id")
	if err != nil {
		return mcp.NewToolResultError("plan_id is required"), nil
	}
	format := req.GetString("format", "mermaid")
	if format != "mermaid" && format != "ascii" {
		return mcp.NewToolResultError("format must be mermaid or ascii"), nil
	}

	plan, err := s.store.GetPlan(ctx, planID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("plan not found: %v", err)), nil
	}

	var nodes []*schema.NodeExecution
	if execID := req.GetString("execution_id", ""); execID != "" {
		exec, execErr := s.store.GetPlanExecution(ctx, execID)
		if execErr != nil {
			return mcp.NewToolResultError(fmt.Sprintf("execution not found: %v", execErr)), nil
		}
		if exec.PlanID != plan.ID {
			return mcp.NewToolResultError(fmt.Sprintf("execution %s belongs to plan %s", execID, exec.PlanID)), nil
		}
		if nodes, err = s.store.ListNodeExecutions(ctx, execID); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to list node executions: %v", err)), nil
		}
	}

	model, err := diagram.Build(plan, nodes)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("diagram build failed: %v", err)), nil
	}

	var rendered string
	switch format {
	case "ascii":
		rendered = diagram.RenderASCII(model)
	default:
		rendered = diagram.RenderMermaid(model)
	}

	return marshalResult(map[string]any{
		"plan":    plan,
		"format":  format,
		"diagram": rendered,
	})
}

// handleExecutionStart starts an execution of a stored plan.
func (s *Server) handleExecutionStart(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	planID, err := req.RequireString("plan_id")
	if err != nil {
		return mcp.NewToolResultError("plan_id is required"), nil
	}

	plan, err := s.store.GetPlan(ctx, planID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("plan not found: %v", err)), nil
	}

	inputs, err := plancreation.ResolveInputs(plan, mcp.ParseStringMap(req, "inputs", nil), s.inputs)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	meta := schema.Metadata{
		AccountID:   req.GetString("account_id", ""),
		OrgID:       req.GetString("org_id", ""),
		ProjectID:   req.GetString("project_id", ""),
		TriggerType: "MANUAL",
		TriggeredBy: req.GetString("triggered_by", ""),
	}

	exec, err := s.executions.Start(ctx, plan, inputs, meta)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to start execution: %v", err)), nil
	}
	s.logger.InfoContext(ctx, "execution started via mcp",
		"plan_id", plan.ID, "plan_execution_id", exec.ID, "triggered_by", meta.TriggeredBy)

	if req.GetBool("subscribe", false) {
		s.captureSession(ctx, exec.ID)
	}
	if req.GetBool("wait", false) {
		return s.waitFor(ctx, exec.ID)
	}
	return marshalResult(exec)
}

// handleExecutionRerun starts a fresh execution of an earlier execution's plan.
func (s *Server) handleExecutionRerun(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	execID, err := req.RequireString("execution_id")
	if err != nil {
		return mcp.NewToolResultError("execution_id is required"), nil
	}

	exec, err := s.executions.Rerun(ctx, execID, mcp.ParseStringMap(req, "inputs", nil))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to rerun execution: %v", err)), nil
	}
	return marshalResult(exec)
}

// handleExecutionStatus returns an execution snapshot and, on request, its events.
func (s *Server) handleExecutionStatus(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	execID, err := req.RequireString("execution_id")
	if err != nil {
		return mcp.NewToolResultError("execution_id is required"), nil
	}

	snap, err := s.executions.Status(ctx, execID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("execution not found: %v", err)), nil
	}
	if !req.GetBool("include_events", false) {
		return marshalResult(snap)
	}

	events, err := s.store.GetEvents(ctx, execID, int64(req.GetInt("since", 0)))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to read events: %v", err)), nil
	}
	if events == nil {
		events = []*store.Event{}
	}
	return marshalResult(map[string]any{
		"execution": snap.Execution,
		"nodes":     snap.Nodes,
		"events":    events,
	})
}

func (s *Server) handleExecutionAbort(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return s.control(ctx, req, "abort", s.executions.Abort)
}

func (s *Server) handleExecutionPause(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return s.control(ctx, req, "pause", s.executions.Pause)
}

func (s *Server) handleExecutionResume(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return s.control(ctx, req, "resume", s.executions.Resume)
}

// control runs one lifecycle transition on an execution.
func (s *Server) control(ctx context.Context, req mcp.CallToolRequest, verb string,
	fn func(context.Context, string) (*schema.PlanExecution, error)) (*mcp.CallToolResult, error) {
	execID, err := req.RequireString("execution_id")
	if err != nil {
		return mcp.NewToolResultError("execution_id is required"), nil
	}
	exec, err := fn(ctx, execID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to %s execution: %v", verb, err)), nil
	}
	s.logger.InfoContext(ctx, "execution "+verb+" via mcp", "plan_execution_id", execID, "status", exec.Status)
	return marshalResult(exec)
}

// handleTaskReport records progress or a final result for a delegated task.
func (s *Server) handleTaskReport(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if s.tasks == nil {
		return mcp.NewToolResultError("task delegation is not configured"), nil
	}
	taskID, err := req.RequireString("task_id")
	if err != nil {
		return mcp.NewToolResultError("task_id is required"), nil
	}
	token, err := req.RequireString("token")
	if err != nil {
		return mcp.NewToolResultError("token is required"), nil
	}
	status, err := req.RequireString("status")
	if err != nil {
		return mcp.NewToolResultError("status is required"), nil
	}

	data := mcp.ParseStringMap(req, "data", nil)
	if err := s.tasks.Report(ctx, taskID, token, store.TaskStatus(status), data); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("task report rejected: %v", err)), nil
	}
	return marshalResult(map[string]any{"task_id": taskID, "status": status})
}

// handleNotifyResolve answers a WAIT step. Task ids and composite child
// keys are refused: tasks complete through task.report, which checks the
// callback token.
func (s *Server) handleNotifyResolve(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if s.resolver == nil {
		return mcp.NewToolResultError("notify is not configured"), nil
	}
	key, err := req.RequireString("key")
	if err != nil {
		return mcp.NewToolResultError("key is required"), nil
	}
	if !engine.IsSignalKey(key) {
		return mcp.NewToolResultError(fmt.Sprintf("key %q is not a WAIT signal key; delegated tasks report through task.report", key)), nil
	}
	delivered := s.resolver.Notify(ctx, key, mcp.ParseStringMap(req, "data", nil))
	return marshalResult(map[string]any{"key": key, "delivered": delivered})
}

func (s *Server) waitFor(ctx context.Context, execID string) (*mcp.CallToolResult, error) {
	waitCtx, cancel := context.WithTimeout(ctx, s.waitTimeout)
	defer cancel()
	exec, err := s.executions.Wait(waitCtx, execID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("wait for execution %s: %v", execID, err)), nil
	}
	return marshalResult(exec)
}

// captureSession subscribes the calling session to an execution's events.
func (s *Server) captureSession(ctx context.Context, execID string) {
	if session := server.ClientSessionFromContext(ctx); session != nil {
		s.sessions.Register(execID, session.SessionID())
	}
}

func marshalResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultJSON(json.RawMessage(data))
}
