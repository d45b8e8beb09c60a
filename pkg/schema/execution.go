package schema

import "time"

// PlanExecution is one run of a Plan.
type PlanExecution struct {
	ID             string          `json:"id"`
	PlanID         string          `json:"plan_id"`
	Status         ExecutionStatus `json:"status"`
	Inputs         map[string]any  `json:"inputs,omitempty"`
	Metadata       Metadata        `json:"metadata"`
	Error          string          `json:"error,omitempty"`
	FailedNodePath string          `json:"failed_node_path,omitempty"`
	RerunOf        string          `json:"rerun_of,omitempty"`
	Version        int64           `json:"version"`
	CreatedAt      time.Time       `json:"created_at"`
	StartedAt      *time.Time      `json:"started_at,omitempty"`
	EndedAt        *time.Time      `json:"ended_at,omitempty"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// Duration is the wall time between start and end, or zero when unfinished.
func (e *PlanExecution) Duration() time.Duration {
	if e.StartedAt == nil || e.EndedAt == nil {
		return 0
	}
	return e.EndedAt.Sub(*e.StartedAt)
}

// ExecutableResponse records the mode a node ran in and what it waits on.
type ExecutableResponse struct {
	Mode           ExecutionMode `json:"mode"`
	CorrelationIDs []string      `json:"correlation_ids,omitempty"`
	TaskID         string        `json:"task_id,omitempty"`
	ChildIDs       []string      `json:"child_ids,omitempty"`
}

// NodeExecution is the runtime record of one PlanNode within one PlanExecution.
type NodeExecution struct {
	ID                 string              `json:"id"`
	PlanExecutionID    string              `json:"plan_execution_id"`
	NodeID             string              `json:"node_id"`
	ParentID           string              `json:"parent_id,omitempty"`
	PreviousID         string              `json:"previous_id,omitempty"`
	Ambiance           Ambiance            `json:"ambiance"`
	Status             NodeStatus          `json:"status"`
	Mode               ExecutionMode       `json:"mode,omitempty"`
	ExecutableResponse *ExecutableResponse `json:"executable_response,omitempty"`
	Outcome            map[string]any      `json:"outcome,omitempty"`
	FailureMessage     string              `json:"failure_message,omitempty"`
	Attempt            int                 `json:"attempt"`
	RetryOf            string              `json:"retry_of,omitempty"`
	Version            int64               `json:"version"`
	CreatedAt          time.Time           `json:"created_at"`
	StartedAt          *time.Time          `json:"started_at,omitempty"`
	EndedAt            *time.Time          `json:"ended_at,omitempty"`
}
