package engine

import (
	"context"

	"github.com/pranay-harness/harness-core-sub060/internal/expressions"
	"github.com/pranay-harness/harness-core-sub060/pkg/schema"
)

// Built-in facilitator types.
const (
	FacilitatorSync        = "SYNC"
	FacilitatorAsync       = "ASYNC"
	FacilitatorTask        = "TASK"
	FacilitatorChild       = "CHILD"
	FacilitatorChildChain  = "CHILD_CHAIN"
	FacilitatorConditional = "CONDITIONAL"
)

// FacilitatorInput is the context a Facilitator decides on.
type FacilitatorInput struct {
	Ambiance   schema.Ambiance
	Node       *schema.PlanNode
	Parameters map[string]any
	Scope      *expressions.Scope
}

// Facilitator decides how a node executes.
type Facilitator interface {
	Facilitate(ctx context.Context, in FacilitatorInput) (*schema.FacilitatorResponse, error)
}

// FacilitatorFunc adapts a function to Facilitator.
type FacilitatorFunc func(ctx context.Context, in FacilitatorInput) (*schema.FacilitatorResponse, error)

func (f FacilitatorFunc) Facilitate(ctx context.Context, in FacilitatorInput) (*schema.FacilitatorResponse, error) {
	return f(ctx, in)
}

// ModeFacilitator always picks mode. A "wait" parameter delays execution.
func ModeFacilitator(mode schema.ExecutionMode) Facilitator {
	return FacilitatorFunc(func(_ context.Context, in FacilitatorInput) (*schema.FacilitatorResponse, error) {
		return &schema.FacilitatorResponse{
			Mode: mode,
			Wait: schema.DurationParam(in.Parameters, "wait", 0),
		}, nil
	})
}

// ConditionalFacilitator evaluates the "when" expression and skips the node
// when it is false. Otherwise it picks "mode" (SYNC by default).
type ConditionalFacilitator struct {
	Engine expressions.Engine
}

func (f ConditionalFacilitator) Facilitate(ctx context.Context, in FacilitatorInput) (*schema.FacilitatorResponse, error) {
	when := schema.StringParam(in.Parameters, "when", "")
	if when == "" {
		return nil, schema.NewError(schema.ErrCodeConfiguration, "CONDITIONAL facilitator requires a 'when' expression").WithNode(in.Node.ID)
	}
	ok, err := expressions.EvaluateBool(ctx, f.Engine, when, in.Scope.Data())
	if err != nil {
		return nil, err
	}
	return &schema.FacilitatorResponse{
		Mode: schema.ExecutionMode(schema.StringParam(in.Parameters, "mode", string(schema.ModeSync))),
		Wait: schema.DurationParam(in.Parameters, "wait", 0),
		Skip: !ok,
	}, nil
}
