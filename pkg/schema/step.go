package schema

import "time"

// StepResponse is the result of running a step, synchronously or on resumption.
type StepResponse struct {
	Status         NodeStatus     `json:"status"`
	Outcome        map[string]any `json:"outcome,omitempty"`
	FailureMessage string         `json:"failure_message,omitempty"`
}

// Succeeded builds a SUCCEEDED response.
func Succeeded(outcome map[string]any) StepResponse {
	return StepResponse{Status: NodeSucceeded, Outcome: outcome}
}

// Failed builds a FAILED response whose outcome carries the message.
func Failed(msg string) StepResponse {
	return StepResponse{
		Status:         NodeFailed,
		Outcome:        map[string]any{"error": msg},
		FailureMessage: msg,
	}
}

// FacilitatorResponse is a Facilitator's execution-mode decision.
type FacilitatorResponse struct {
	Mode          ExecutionMode `json:"mode"`
	Wait          time.Duration `json:"wait,omitempty"`
	TaskSelectors []string      `json:"task_selectors,omitempty"`
	Skip          bool          `json:"skip,omitempty"`
}

// AdviseType is what should happen after a node completes.
type AdviseType string

const (
	AdviseNextStep      AdviseType = "NEXT_STEP"
	AdviseRetry         AdviseType = "RETRY"
	AdviseEndPlan       AdviseType = "END_PLAN"
	AdviseIgnoreFailure AdviseType = "IGNORE_FAILURE"
)

// Advise is an Adviser's decision.
type Advise struct {
	Type       AdviseType      `json:"type"`
	NextNodeID string          `json:"next_node_id,omitempty"`
	EndStatus  ExecutionStatus `json:"end_status,omitempty"`
	RetryAfter time.Duration   `json:"retry_after,omitempty"`
}
