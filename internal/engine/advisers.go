package engine

import (
	"context"
	"slices"

	"github.com/pranay-harness/harness-core-sub060/internal/expressions"
	"github.com/pranay-harness/harness-core-sub060/pkg/schema"
)

// Built-in adviser types.
const (
	AdviserOnSuccess     = "ON_SUCCESS"
	AdviserOnFail        = "ON_FAIL"
	AdviserRetry         = "RETRY"
	AdviserIgnoreFailure = "IGNORE_FAILURE"
	AdviserEndPlan       = "END_PLAN"
	AdviserCEL           = "CEL"
)

// AdvisingEvent describes a node that just reached a terminal status.
type AdvisingEvent struct {
	Ambiance        schema.Ambiance
	Node            *schema.PlanNode
	NodeExecutionID string
	Status          schema.NodeStatus
	Outcome         map[string]any
	FailureMessage  string
	Attempt         int
	Parameters      map[string]any
	Scope           *expressions.Scope
}

// Adviser decides what happens after a node completes. A nil Advise means
// the adviser has no opinion and the next one is consulted.
type Adviser interface {
	Advise(ctx context.Context, ev AdvisingEvent) (*schema.Advise, error)
}

// AdviserFunc adapts a function to Adviser.
type AdviserFunc func(ctx context.Context, ev AdvisingEvent) (*schema.Advise, error)

func (f AdviserFunc) Advise(ctx context.Context, ev AdvisingEvent) (*schema.Advise, error) {
	return f(ctx, ev)
}

// OnSuccessAdviser moves to "nextNodeId" after a successful node.
func OnSuccessAdviser() Adviser {
	return AdviserFunc(func(_ context.Context, ev AdvisingEvent) (*schema.Advise, error) {
		if ev.Status != schema.NodeSucceeded {
			return nil, nil
		}
		return nextStep(ev)
	})
}

// OnFailAdviser moves to "nextNodeId", or ends the plan with "endStatus",
// after a failed node.
func OnFailAdviser() Adviser {
	return AdviserFunc(func(_ context.Context, ev AdvisingEvent) (*schema.Advise, error) {
		if ev.Status != schema.NodeFailed {
			return nil, nil
		}
		if end := schema.StringParam(ev.Parameters, "endStatus", ""); end != "" {
			return &schema.Advise{Type: schema.AdviseEndPlan, EndStatus: schema.ExecutionStatus(end)}, nil
		}
		return nextStep(ev)
	})
}

// RetryAdviser re-runs the node while its status is in "onStatuses"
// (FAILED by default) and the attempt counter is below "maxAttempts".
func RetryAdviser() Adviser {
	return AdviserFunc(func(_ context.Context, ev AdvisingEvent) (*schema.Advise, error) {
		statuses := schema.StringsParam(ev.Parameters, "onStatuses")
		if len(statuses) == 0 {
			statuses = []string{string(schema.NodeFailed)}
		}
		if !slices.Contains(statuses, string(ev.Status)) {
			return nil, nil
		}
		maxAttempts := schema.IntParam(ev.Parameters, "maxAttempts", 3)
		if ev.Attempt >= maxAttempts {
			return nil, nil
		}
		return &schema.Advise{
			Type:       schema.AdviseRetry,
			RetryAfter: ComputeBackoff(BackoffFromParams(ev.Parameters), ev.Attempt-1),
		}, nil
	})
}

// IgnoreFailureAdviser turns a failure into success for the parent or chain.
func IgnoreFailureAdviser() Adviser {
	return AdviserFunc(func(_ context.Context, ev AdvisingEvent) (*schema.Advise, error) {
		if ev.Status != schema.NodeFailed {
			return nil, nil
		}
		return &schema.Advise{Type: schema.AdviseIgnoreFailure}, nil
	})
}

// EndPlanAdviser ends the execution with "status". Without it the node's
// own result decides SUCCEEDED or FAILED.
func EndPlanAdviser() Adviser {
	return AdviserFunc(func(_ context.Context, ev AdvisingEvent) (*schema.Advise, error) {
		return &schema.Advise{
			Type:      schema.AdviseEndPlan,
			EndStatus: schema.ExecutionStatus(schema.StringParam(ev.Parameters, "status", "")),
		}, nil
	})
}

// CELAdviser applies the "advise" parameter when "condition" holds. The
// condition sees status, outcome, attempt, inputs and nodes.
type CELAdviser struct {
	CEL *expressions.CELEngine
}

func (a CELAdviser) Advise(ctx context.Context, ev AdvisingEvent) (*schema.Advise, error) {
	cond := schema.StringParam(ev.Parameters, "condition", "")
	if cond == "" {
		return nil, schema.NewError(schema.ErrCodeConfiguration, "CEL adviser requires a 'condition'").WithNode(ev.Node.ID)
	}

	data := ev.Scope.Data()
	data[expressions.VarStatus] = string(ev.Status)
	data[expressions.VarOutcome] = ev.Outcome
	data[expressions.VarAttempt] = ev.Attempt

	ok, err := expressions.EvaluateBool(ctx, a.CEL, cond, data)
	if err != nil || !ok {
		return nil, err
	}

	spec := schema.MapParam(ev.Parameters, "advise")
	adv := &schema.Advise{
		Type:       schema.AdviseType(schema.StringParam(spec, "type", "")),
		NextNodeID: schema.StringParam(spec, "nextNodeId", ""),
		EndStatus:  schema.ExecutionStatus(schema.StringParam(spec, "endStatus", "")),
		RetryAfter: schema.DurationParam(spec, "retryAfter", 0),
	}
	switch adv.Type {
	case schema.AdviseNextStep, schema.AdviseRetry, schema.AdviseEndPlan, schema.AdviseIgnoreFailure:
		return adv, nil
	default:
		return nil, schema.NewErrorf(schema.ErrCodeConfiguration, "CEL adviser has unknown advise type %q", adv.Type).WithNode(ev.Node.ID)
	}
}

func nextStep(ev AdvisingEvent) (*schema.Advise, error) {
	next := schema.StringParam(ev.Parameters, "nextNodeId", "")
	if next == "" {
		return nil, nil
	}
	return &schema.Advise{Type: schema.AdviseNextStep, NextNodeID: next}, nil
}
