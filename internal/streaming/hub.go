package streaming

import "context"

// ExecutionEvent is a real-time event emitted while a plan execution runs.
type ExecutionEvent struct {
	PlanExecutionID string `json:"plan_execution_id"`
	NodeExecutionID string `json:"node_execution_id,omitempty"`
	NodeID          string `json:"node_id,omitempty"`
	EventType       string `json:"event_type"`
	Status          string `json:"status,omitempty"`
	Payload         any    `json:"payload,omitempty"`
}

// EventFilter specifies which events a subscriber wants to receive.
type EventFilter struct {
	PlanExecutionID string   `json:"plan_execution_id,omitempty"`
	EventTypes      []string `json:"event_types,omitempty"`
}

// EventHub provides pub/sub for execution events.
type EventHub interface {
	Publish(ctx context.Context, event ExecutionEvent) error
	Subscribe(ctx context.Context, filter EventFilter) (<-chan ExecutionEvent, func(), error)
}
