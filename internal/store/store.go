package store

import (
	"context"

	"github.com/pranay-harness/harness-core-sub060/pkg/schema"
)

// Store defines the persistence layer contract.
// All implementations must be safe for concurrent use.
//
// Status updates are conditional: Update* applies only while the stored
// status equals expected and reports false otherwise. Callers treat false as
// a lost race and do nothing further.
type Store interface {
	// Plans (immutable once created)
	CreatePlan(ctx context.Context, plan *schema.Plan) error
	GetPlan(ctx context.Context, id string) (*schema.Plan, error)
	ListPlans(ctx context.Context, filter PlanFilter) ([]*schema.Plan, error)

	// Plan executions
	CreatePlanExecution(ctx context.Context, exec *schema.PlanExecution) error
	GetPlanExecution(ctx context.Context, id string) (*schema.PlanExecution, error)
	UpdatePlanExecution(ctx context.Context, id string, expected schema.ExecutionStatus, update PlanExecutionUpdate) (bool, error)
	ListPlanExecutions(ctx context.Context, filter PlanExecutionFilter) ([]*schema.PlanExecution, error)

	// Node executions (never deleted)
	CreateNodeExecution(ctx context.Context, node *schema.NodeExecution) error
	GetNodeExecution(ctx context.Context, id string) (*schema.NodeExecution, error)
	UpdateNodeExecution(ctx context.Context, id string, expected schema.NodeStatus, update NodeExecutionUpdate) (bool, error)
	ListNodeExecutions(ctx context.Context, planExecutionID string) ([]*schema.NodeExecution, error)

	// Event log (append-only)
	AppendEvent(ctx context.Context, event *Event) error
	GetEvents(ctx context.Context, planExecutionID string, since int64) ([]*Event, error)

	// Delegated tasks
	CreateTask(ctx context.Context, task *Task) error
	GetTask(ctx context.Context, id string) (*Task, error)
	// UpdateTask applies update only while the task is in expected. False
	// means the task moved on concurrently.
	UpdateTask(ctx context.Context, id string, expected TaskStatus, update TaskUpdate) (bool, error)
	ListTasks(ctx context.Context, filter TaskFilter) ([]*Task, error)

	// Cron triggers
	CreateTrigger(ctx context.Context, trigger *Trigger) error
	GetTrigger(ctx context.Context, id string) (*Trigger, error)
	UpdateTrigger(ctx context.Context, id string, update TriggerUpdate) error
	ListTriggers(ctx context.Context, filter TriggerFilter) ([]*Trigger, error)
	DeleteTrigger(ctx context.Context, id string) error

	// Maintenance
	Migrate(ctx context.Context) error

	// Lifecycle
	Close() error
}
