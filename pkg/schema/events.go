package schema

// Event type constants for the execution event log.
const (
	EventExecutionStarted   = "execution_started"
	EventExecutionSucceeded = "execution_succeeded"
	EventExecutionFailed    = "execution_failed"
	EventExecutionAborted   = "execution_aborted"
	EventExecutionExpired   = "execution_expired"
	EventExecutionPaused    = "execution_paused"
	EventExecutionResumed   = "execution_resumed"

	EventNodeQueued    = "node_queued"
	EventNodeStarted   = "node_started"
	EventNodeSuspended = "node_suspended"
	EventNodeResumed   = "node_resumed"
	EventNodeSucceeded = "node_succeeded"
	EventNodeFailed    = "node_failed"
	EventNodeAborted   = "node_aborted"
	EventNodeSkipped   = "node_skipped"
	EventNodeRetrying  = "node_retrying"

	EventAdviseApplied   = "advise_applied"
	EventTaskDispatched  = "task_dispatched"
	EventTaskUnassigned  = "task_unassigned"
	EventWaitTimedOut    = "wait_timed_out"
	EventPlanCreated     = "plan_created"
	EventTriggerFired    = "trigger_fired"
	EventObserverFailure = "observer_failure"
)

// ExecutionStatus is the lifecycle state of a PlanExecution.
type ExecutionStatus string

const (
	ExecutionCreated   ExecutionStatus = "CREATED"
	ExecutionRunning   ExecutionStatus = "RUNNING"
	ExecutionSucceeded ExecutionStatus = "SUCCEEDED"
	ExecutionFailed    ExecutionStatus = "FAILED"
	ExecutionAborted   ExecutionStatus = "ABORTED"
	ExecutionPaused    ExecutionStatus = "PAUSED"
	ExecutionExpired   ExecutionStatus = "EXPIRED"
)

// IsTerminal reports whether no further transition is allowed.
func (s ExecutionStatus) IsTerminal() bool {
	switch s {
	case ExecutionSucceeded, ExecutionFailed, ExecutionAborted, ExecutionExpired:
		return true
	}
	return false
}

// NodeStatus is the lifecycle state of a NodeExecution.
type NodeStatus string

const (
	NodeQueued    NodeStatus = "QUEUED"
	NodeRunning   NodeStatus = "RUNNING"
	NodeSuspended NodeStatus = "SUSPENDED"
	NodeSucceeded NodeStatus = "SUCCEEDED"
	NodeFailed    NodeStatus = "FAILED"
	NodeAborted   NodeStatus = "ABORTED"
)

// IsTerminal reports whether the node execution is finished.
func (s NodeStatus) IsTerminal() bool {
	return s == NodeSucceeded || s == NodeFailed || s == NodeAborted
}

// ExecutionMode is how a node runs, as decided by its Facilitator.
type ExecutionMode string

const (
	ModeSync       ExecutionMode = "SYNC"
	ModeAsync      ExecutionMode = "ASYNC"
	ModeTask       ExecutionMode = "TASK"
	ModeChild      ExecutionMode = "CHILD"
	ModeChildChain ExecutionMode = "CHILD_CHAIN"
)
