package plancreation

import (
	"context"
	"fmt"
	"maps"
	"time"

	"github.com/pranay-harness/harness-core-sub060/internal/engine"
	"github.com/pranay-harness/harness-core-sub060/internal/pipeline"
	"github.com/pranay-harness/harness-core-sub060/pkg/schema"
)

// Ambiance groups of the built-in constructs.
const (
	GroupPipeline = "PIPELINE"
	GroupStage    = "STAGE"
	GroupStep     = "STEP"
)

// Root node parameters carrying the pipeline's input contract.
const (
	paramInputs      = "inputs"
	paramInputSchema = "input_schema"
)

// DefaultStepModes is the facilitator each built-in step type implies when
// the definition sets no mode.
var DefaultStepModes = map[string]schema.ExecutionMode{
	engine.StepShell: schema.ModeTask,
	engine.StepHTTP:  schema.ModeTask,
	engine.StepWait:  schema.ModeAsync,
}

// LocalServices returns the in-process creators for pipelines, stages of
// any type and steps of any type.
func LocalServices() []Service {
	return []Service{PipelineService{}, StageService{}, StepService{}}
}

// PipelineService expands a pipeline into a CHILD_CHAIN of its stages.
type PipelineService struct{}

func (PipelineService) Name() string { return "local-pipeline" }

func (PipelineService) SupportedTypes() map[string][]string {
	return map[string][]string{KindPipeline: {AnyIdentifier}}
}

func (PipelineService) Create(_ context.Context, req CreationRequest) (*PartialResponse, error) {
	resp := newPartial()
	for _, dep := range req.Dependencies {
		if dep.Kind != KindPipeline {
			continue
		}
		var def pipeline.Definition
		if err := pipeline.FromMap(dep.Definition, &def); err != nil {
			resp.Errors = append(resp.Errors, fmt.Sprintf("pipeline %s: %s", dep.NodeID, err.Error()))
			continue
		}

		children := make([]string, 0, len(def.Stages))
		for _, st := range def.Stages {
			id := childID(dep.NodeID, st.Identifier)
			m, err := pipeline.ToMap(st)
			if err != nil {
				resp.Errors = append(resp.Errors, fmt.Sprintf("stage %s: %s", id, err.Error()))
				continue
			}
			children = append(children, id)
			resp.Dependencies[id] = Dependency{
				Kind:       KindStage,
				Identifier: st.StageType(),
				NodeID:     id,
				Definition: m,
				Context:    map[string]string{"pipeline": def.Identifier, "parent": dep.NodeID},
			}
		}

		opts := []schema.PlanNodeOption{
			schema.WithIdentifier(def.Identifier),
			schema.WithGroup(GroupPipeline),
			schema.WithFacilitator(engine.FacilitatorChildChain, nil),
			schema.WithChildren(children...),
		}
		if d, ok := parseDuration(def.Timeout); ok {
			opts = append(opts, schema.WithTimeout(d))
		}
		if len(def.Inputs) > 0 || len(def.InputSchema) > 0 {
			opts = append(opts, schema.WithStepParameters(map[string]any{
				paramInputs:      def.Inputs,
				paramInputSchema: def.InputSchema,
			}))
		}
		resp.Nodes[dep.NodeID] = schema.NewPlanNode(dep.NodeID, nameOr(def.Name, def.Identifier), engine.StepPipeline, opts...)
		resp.StartingNodeID = dep.NodeID
		resp.Layout[dep.NodeID] = map[string]any{"stages": children}
	}
	return resp, nil
}

// InputContract returns the default inputs and the input JSON schema a
// pipeline plan declares on its starting node. Both may be nil.
func InputContract(plan *schema.Plan) (defaults, inputSchema map[string]any) {
	root, ok := plan.Node(plan.StartingNodeID)
	if !ok || root == nil {
		return nil, nil
	}
	return schema.MapParam(root.StepParameters, paramInputs), schema.MapParam(root.StepParameters, paramInputSchema)
}

// ResolveInputs overlays given on the plan's default inputs and checks the
// result against its input schema.
func ResolveInputs(plan *schema.Plan, given map[string]any, v *pipeline.InputValidator) (map[string]any, error) {
	defaults, inputSchema := InputContract(plan)
	inputs := make(map[string]any, len(defaults)+len(given))
	maps.Copy(inputs, defaults)
	maps.Copy(inputs, given)
	if len(inputSchema) > 0 && v != nil {
		if err := v.Validate(inputs, inputSchema); err != nil {
			return nil, err
		}
	}
	return inputs, nil
}

// StageService expands stages into a CHILD_CHAIN of their steps. Types
// limits the stage types it accepts; empty means any.
type StageService struct {
	Types []string
}

func (StageService) Name() string { return "local-stage" }

func (s StageService) SupportedTypes() map[string][]string {
	return map[string][]string{KindStage: typesOrAny(s.Types)}
}

func (s StageService) Create(_ context.Context, req CreationRequest) (*PartialResponse, error) {
	resp := newPartial()
	for _, dep := range req.Dependencies {
		if dep.Kind != KindStage || !Supports(s, dep) {
			continue
		}
		var st pipeline.Stage
		if err := pipeline.FromMap(dep.Definition, &st); err != nil {
			resp.Errors = append(resp.Errors, fmt.Sprintf("stage %s: %s", dep.NodeID, err.Error()))
			continue
		}

		children := make([]string, 0, len(st.Steps))
		for _, step := range st.Steps {
			id := childID(dep.NodeID, step.Identifier)
			m, err := pipeline.ToMap(step)
			if err != nil {
				resp.Errors = append(resp.Errors, fmt.Sprintf("step %s: %s", id, err.Error()))
				continue
			}
			children = append(children, id)
			resp.Dependencies[id] = Dependency{
				Kind:       KindStep,
				Identifier: step.Type,
				NodeID:     id,
				Definition: m,
				Context:    map[string]string{"stage": st.Identifier, "parent": dep.NodeID},
			}
		}

		opts := []schema.PlanNodeOption{
			schema.WithIdentifier(st.Identifier),
			schema.WithGroup(GroupStage),
			facilitatorFor(schema.ModeChildChain, st.When),
			schema.WithChildren(children...),
		}
		opts = append(opts, failureAdvisers(st.OnFailure)...)
		if d, ok := parseDuration(st.Timeout); ok {
			opts = append(opts, schema.WithTimeout(d))
		}
		resp.Nodes[dep.NodeID] = schema.NewPlanNode(dep.NodeID, nameOr(st.Name, st.Identifier), engine.StepStage, opts...)
		resp.Layout[dep.NodeID] = map[string]any{"type": st.StageType(), "steps": children}
	}
	return resp, nil
}

// StepService turns steps into leaf nodes. Types limits the step types it
// accepts; empty means any.
type StepService struct {
	Types []string
}

func (StepService) Name() string { return "local-step" }

func (s StepService) SupportedTypes() map[string][]string {
	return map[string][]string{KindStep: typesOrAny(s.Types)}
}

func (s StepService) Create(_ context.Context, req CreationRequest) (*PartialResponse, error) {
	resp := newPartial()
	for _, dep := range req.Dependencies {
		if dep.Kind != KindStep || !Supports(s, dep) {
			continue
		}
		var step pipeline.Step
		if err := pipeline.FromMap(dep.Definition, &step); err != nil {
			resp.Errors = append(resp.Errors, fmt.Sprintf("step %s: %s", dep.NodeID, err.Error()))
			continue
		}
		resp.Nodes[dep.NodeID] = StepNode(dep.NodeID, step)
	}
	return resp, nil
}

// StepNode builds the plan node for one step definition.
func StepNode(id string, step pipeline.Step) *schema.PlanNode {
	mode := schema.ExecutionMode(step.Mode)
	if mode == "" {
		mode = DefaultStepModes[step.Type]
	}
	if mode == "" {
		mode = schema.ModeSync
	}

	opts := []schema.PlanNodeOption{
		schema.WithIdentifier(step.Identifier),
		schema.WithGroup(GroupStep),
		schema.WithStepParameters(step.Params),
		facilitatorFor(mode, step.When),
	}
	if r := step.Retry; r != nil {
		params := map[string]any{"maxAttempts": r.MaxAttempts}
		if r.Backoff != "" {
			params["backoff"] = r.Backoff
		}
		if r.Delay != "" {
			params["delay"] = r.Delay
		}
		if r.MaxDelay != "" {
			params["maxDelay"] = r.MaxDelay
		}
		opts = append(opts, schema.WithAdviser(engine.AdviserRetry, params))
	}
	opts = append(opts, failureAdvisers(step.OnFailure)...)
	if d, ok := parseDuration(step.Timeout); ok {
		opts = append(opts, schema.WithTimeout(d))
	}
	if len(step.Capabilities) > 0 {
		caps := make([]schema.Capability, 0, len(step.Capabilities))
		for _, c := range step.Capabilities {
			caps = append(caps, c.ToSchema())
		}
		opts = append(opts, schema.WithCapabilities(caps...))
	}
	return schema.NewPlanNode(id, nameOr(step.Name, step.Identifier), step.Type, opts...)
}

func facilitatorFor(mode schema.ExecutionMode, when string) schema.PlanNodeOption {
	if when == "" {
		return schema.WithFacilitator(string(mode), nil)
	}
	return schema.WithFacilitator(engine.FacilitatorConditional, map[string]any{
		"when": when,
		"mode": string(mode),
	})
}

func failureAdvisers(action string) []schema.PlanNodeOption {
	switch action {
	case pipeline.FailureIgnore:
		return []schema.PlanNodeOption{schema.WithAdviser(engine.AdviserIgnoreFailure, nil)}
	case pipeline.FailureAbort:
		return []schema.PlanNodeOption{schema.WithAdviser(engine.AdviserOnFail,
			map[string]any{"endStatus": string(schema.ExecutionAborted)})}
	default:
		return nil
	}
}

func newPartial() *PartialResponse {
	return &PartialResponse{
		Nodes:        make(map[string]*schema.PlanNode),
		Dependencies: make(map[string]Dependency),
		Layout:       make(map[string]any),
	}
}

func childID(parent, identifier string) string {
	return parent + "." + identifier
}

func typesOrAny(types []string) []string {
	if len(types) == 0 {
		return []string{AnyIdentifier}
	}
	return types
}

func nameOr(name, def string) string {
	if name != "" {
		return name
	}
	return def
}

func parseDuration(s string) (time.Duration, bool) {
	if s == "" {
		return 0, false
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return 0, false
	}
	return d, true
}
