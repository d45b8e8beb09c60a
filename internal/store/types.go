package store

import (
	"encoding/json"
	"time"

	"github.com/pranay-harness/harness-core-sub060/pkg/schema"
)

// Event is an immutable entry in the execution event log.
type Event struct {
	PlanExecutionID string          `json:"plan_execution_id"`
	NodeExecutionID string          `json:"node_execution_id,omitempty"`
	NodeID          string          `json:"node_id,omitempty"`
	Type            string          `json:"event_type"`
	Payload         json.RawMessage `json:"payload,omitempty"`
	Timestamp       time.Time       `json:"timestamp"`
	Sequence        int64           `json:"sequence"`
}

// TaskStatus is the lifecycle of a delegated task.
type TaskStatus string

const (
	TaskQueued     TaskStatus = "QUEUED"
	TaskUnassigned TaskStatus = "UNASSIGNED"
	TaskDispatched TaskStatus = "DISPATCHED"
	TaskRunning    TaskStatus = "RUNNING"
	TaskSucceeded  TaskStatus = "SUCCEEDED"
	TaskFailed     TaskStatus = "FAILED"
)

// IsTerminal reports whether the task reached a final status.
func (s TaskStatus) IsTerminal() bool {
	return s == TaskSucceeded || s == TaskFailed
}

// Task is a unit of TASK-mode work handed to a remote executor.
type Task struct {
	ID                string              `json:"id"`
	PlanExecutionID   string              `json:"plan_execution_id"`
	NodeExecutionID   string              `json:"node_execution_id"`
	ExecutorID        string              `json:"executor_id,omitempty"`
	Status            TaskStatus          `json:"status"`
	Payload           map[string]any      `json:"payload,omitempty"`
	Capabilities      []schema.Capability `json:"capabilities,omitempty"`
	CallbackTokenHash string              `json:"-"`
	Progress          map[string]any      `json:"progress,omitempty"`
	Result            map[string]any      `json:"result,omitempty"`
	Timeout           time.Duration       `json:"timeout"`
	CreatedAt         time.Time           `json:"created_at"`
	UpdatedAt         time.Time           `json:"updated_at"`
}

// Trigger starts executions of a plan on a cron schedule.
type Trigger struct {
	ID              string         `json:"id"`
	PlanID          string         `json:"plan_id"`
	CronExpression  string         `json:"cron_expression"`
	Inputs          map[string]any `json:"inputs,omitempty"`
	Enabled         bool           `json:"enabled"`
	LastRunAt       *time.Time     `json:"last_run_at,omitempty"`
	NextRunAt       *time.Time     `json:"next_run_at,omitempty"`
	LastRunStatus   string         `json:"last_run_status,omitempty"`
	LastExecutionID string         `json:"last_execution_id,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
}

// --- Filter and update types ---

// PlanFilter specifies criteria for listing plans.
type PlanFilter struct {
	Valid *bool `json:"valid,omitempty"`
	Limit int   `json:"limit,omitempty"`
}

// PlanExecutionFilter specifies criteria for listing plan executions.
type PlanExecutionFilter struct {
	PlanID        string                   `json:"plan_id,omitempty"`
	Statuses      []schema.ExecutionStatus `json:"statuses,omitempty"`
	UpdatedBefore *time.Time               `json:"updated_before,omitempty"`
	Limit         int                      `json:"limit,omitempty"`
}

// PlanExecutionUpdate specifies mutable fields of a plan execution.
type PlanExecutionUpdate struct {
	Status         *schema.ExecutionStatus `json:"status,omitempty"`
	Error          *string                 `json:"error,omitempty"`
	FailedNodePath *string                 `json:"failed_node_path,omitempty"`
	StartedAt      *time.Time              `json:"started_at,omitempty"`
	EndedAt        *time.Time              `json:"ended_at,omitempty"`
}

// NodeExecutionUpdate specifies mutable fields of a node execution.
type NodeExecutionUpdate struct {
	Status             *schema.NodeStatus         `json:"status,omitempty"`
	Mode               *schema.ExecutionMode      `json:"mode,omitempty"`
	ExecutableResponse *schema.ExecutableResponse `json:"executable_response,omitempty"`
	Outcome            map[string]any             `json:"outcome,omitempty"`
	FailureMessage     *string                    `json:"failure_message,omitempty"`
	StartedAt          *time.Time                 `json:"started_at,omitempty"`
	EndedAt            *time.Time                 `json:"ended_at,omitempty"`
}

// TaskUpdate specifies mutable fields of a task.
type TaskUpdate struct {
	Status     *TaskStatus    `json:"status,omitempty"`
	ExecutorID *string        `json:"executor_id,omitempty"`
	Progress   map[string]any `json:"progress,omitempty"`
	Result     map[string]any `json:"result,omitempty"`
}

// TaskFilter specifies criteria for listing tasks.
type TaskFilter struct {
	PlanExecutionID string       `json:"plan_execution_id,omitempty"`
	Statuses        []TaskStatus `json:"statuses,omitempty"`
	Limit           int          `json:"limit,omitempty"`
}

// TriggerUpdate specifies mutable fields of a trigger.
type TriggerUpdate struct {
	Enabled         *bool      `json:"enabled,omitempty"`
	LastRunAt       *time.Time `json:"last_run_at,omitempty"`
	NextRunAt       *time.Time `json:"next_run_at,omitempty"`
	LastRunStatus   string     `json:"last_run_status,omitempty"`
	LastExecutionID string     `json:"last_execution_id,omitempty"`
}

// TriggerFilter specifies criteria for listing triggers.
type TriggerFilter struct {
	Enabled *bool  `json:"enabled,omitempty"`
	PlanID  string `json:"plan_id,omitempty"`
	Limit   int    `json:"limit,omitempty"`
}
