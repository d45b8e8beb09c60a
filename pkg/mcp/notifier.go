package mcp

import (
	"context"
	"errors"
	"log/slog"

	"github.com/mark3labs/mcp-go/server"

	"github.com/pranay-harness/harness-core-sub060/internal/streaming"
	"github.com/pranay-harness/harness-core-sub060/pkg/schema"
)

// NotificationSender pushes a notification to one client session.
// Satisfied by *server.MCPServer.
type NotificationSender interface {
	SendNotificationToSpecificClient(sessionID string, method string, params map[string]any) error
}

// EventForwarder relays hub events to the sessions subscribed to their
// execution.
type EventForwarder struct {
	sender   NotificationSender
	sessions *SessionRegistry
	logger   *slog.Logger
}

// NewEventForwarder creates a forwarder for the given sessions.
func NewEventForwarder(sender NotificationSender, sessions *SessionRegistry, logger *slog.Logger) *EventForwarder {
	if logger == nil {
		logger = slog.Default()
	}
	return &EventForwarder{sender: sender, sessions: sessions, logger: logger}
}

// Run subscribes to the hub and forwards events until ctx is cancelled.
func (f *EventForwarder) Run(ctx context.Context, hub streaming.EventHub) error {
	events, cancel, err := hub.Subscribe(ctx, streaming.EventFilter{})
	if err != nil {
		return err
	}
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			f.Forward(ev)
		}
	}
}

// Forward sends one event. Best-effort: events of executions nobody
// subscribed to are dropped, and a vanished session unsubscribes itself.
func (f *EventForwarder) Forward(ev streaming.ExecutionEvent) {
	sessionID, ok := f.sessions.SessionFor(ev.PlanExecutionID)
	if !ok {
		return
	}
	if executionEnded(ev.EventType) {
		defer f.sessions.Forget(ev.PlanExecutionID)
	}

	payload := map[string]any{
		"level":  "info",
		"logger": "orchestrator",
		"data":   ev,
	}
	err := f.sender.SendNotificationToSpecificClient(sessionID, "notifications/message", payload)
	switch {
	case err == nil:
	case errors.Is(err, server.ErrSessionNotFound):
		f.sessions.Remove(sessionID)
	default:
		f.logger.Warn("event notification failed",
			slog.String("plan_execution_id", ev.PlanExecutionID),
			slog.String("session_id", sessionID),
			slog.String("error", err.Error()),
		)
	}
}

func executionEnded(eventType string) bool {
	switch eventType {
	case schema.EventExecutionSucceeded, schema.EventExecutionFailed,
		schema.EventExecutionAborted, schema.EventExecutionExpired:
		return true
	}
	return false
}
