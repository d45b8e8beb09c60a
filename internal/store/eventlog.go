package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/pranay-harness/harness-core-sub060/pkg/schema"
)

// EventLog records execution transitions on top of a Store.
type EventLog struct {
	store Store
}

// NewEventLog wraps s.
func NewEventLog(s Store) *EventLog {
	return &EventLog{store: s}
}

// AppendEvent appends an event with the next per-execution sequence.
func (el *EventLog) AppendEvent(ctx context.Context, event *Event) error {
	return el.store.AppendEvent(ctx, event)
}

// Record builds and appends an event, encoding payload as JSON.
func (el *EventLog) Record(ctx context.Context, planExecutionID, nodeExecutionID, nodeID, eventType string, payload any) error {
	var raw json.RawMessage
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal event payload: %w", err)
		}
		raw = b
	}
	return el.store.AppendEvent(ctx, &Event{
		PlanExecutionID: planExecutionID,
		NodeExecutionID: nodeExecutionID,
		NodeID:          nodeID,
		Type:            eventType,
		Payload:         raw,
	})
}

// GetEvents returns events with sequence > since, ordered by sequence.
func (el *EventLog) GetEvents(ctx context.Context, planExecutionID string, since int64) ([]*Event, error) {
	return el.store.GetEvents(ctx, planExecutionID, since)
}

// NodeReplay is a node execution's state reconstructed from the log.
type NodeReplay struct {
	NodeExecutionID string            `json:"node_execution_id"`
	NodeID          string            `json:"node_id"`
	Status          schema.NodeStatus `json:"status"`
	Retries         int               `json:"retries"`
	StartedAt       *time.Time        `json:"started_at,omitempty"`
	EndedAt         *time.Time        `json:"ended_at,omitempty"`
	DurationMs      int64             `json:"duration_ms,omitempty"`
	Payload         json.RawMessage   `json:"payload,omitempty"`
}

// Replay is the reconstructed state of one plan execution.
type Replay struct {
	PlanExecutionID string                 `json:"plan_execution_id"`
	Status          schema.ExecutionStatus `json:"status"`
	Nodes           map[string]*NodeReplay `json:"nodes"`
	LastSequence    int64                  `json:"last_sequence"`
}

// ReplayEvents rebuilds execution and node states from the log. It fails
// when the sequence has gaps.
func (el *EventLog) ReplayEvents(ctx context.Context, planExecutionID string) (*Replay, error) {
	events, err := el.store.GetEvents(ctx, planExecutionID, 0)
	if err != nil {
		return nil, fmt.Errorf("get events for replay: %w", err)
	}

	r := &Replay{PlanExecutionID: planExecutionID, Nodes: make(map[string]*NodeReplay)}
	for i, e := range events {
		if expected := int64(i + 1); e.Sequence != expected {
			return nil, schema.NewErrorf(schema.ErrCodeStore,
				"sequence gap in plan execution %s: expected %d, got %d", planExecutionID, expected, e.Sequence)
		}
		r.LastSequence = e.Sequence

		if st, ok := executionEventStatus[e.Type]; ok {
			r.Status = st
			continue
		}
		if e.NodeExecutionID == "" {
			continue
		}

		n, ok := r.Nodes[e.NodeExecutionID]
		if !ok {
			n = &NodeReplay{NodeExecutionID: e.NodeExecutionID, NodeID: e.NodeID}
			r.Nodes[e.NodeExecutionID] = n
		}
		ts := e.Timestamp

		switch e.Type {
		case schema.EventNodeQueued:
			n.Status = schema.NodeQueued
		case schema.EventNodeStarted, schema.EventNodeResumed:
			n.Status = schema.NodeRunning
			if n.StartedAt == nil {
				n.StartedAt = &ts
			}
		case schema.EventNodeSuspended:
			n.Status = schema.NodeSuspended
		case schema.EventNodeSucceeded, schema.EventNodeSkipped:
			n.Status = schema.NodeSucceeded
			n.EndedAt = &ts
			n.Payload = e.Payload
		case schema.EventNodeFailed:
			n.Status = schema.NodeFailed
			n.EndedAt = &ts
			n.Payload = e.Payload
		case schema.EventNodeAborted:
			n.Status = schema.NodeAborted
			n.EndedAt = &ts
		case schema.EventNodeRetrying:
			n.Retries++
		}
		if n.StartedAt != nil && n.EndedAt != nil {
			n.DurationMs = n.EndedAt.Sub(*n.StartedAt).Milliseconds()
		}
	}
	return r, nil
}

var executionEventStatus = map[string]schema.ExecutionStatus{
	schema.EventExecutionStarted:   schema.ExecutionRunning,
	schema.EventExecutionResumed:   schema.ExecutionRunning,
	schema.EventExecutionPaused:    schema.ExecutionPaused,
	schema.EventExecutionSucceeded: schema.ExecutionSucceeded,
	schema.EventExecutionFailed:    schema.ExecutionFailed,
	schema.EventExecutionAborted:   schema.ExecutionAborted,
	schema.EventExecutionExpired:   schema.ExecutionExpired,
}
