package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/pranay-harness/harness-core-sub060/internal/logging"
	"github.com/pranay-harness/harness-core-sub060/pkg/schema"
)

// TerminalKind distinguishes node and execution terminal events.
type TerminalKind string

const (
	TerminalNode      TerminalKind = "node"
	TerminalExecution TerminalKind = "execution"
)

// TerminalEvent is delivered to observers once per terminal transition.
type TerminalEvent struct {
	Kind            TerminalKind          `json:"kind"`
	PlanExecutionID string                `json:"plan_execution_id"`
	PlanID          string                `json:"plan_id,omitempty"`
	Execution       *schema.PlanExecution `json:"execution,omitempty"`
	Node            *schema.NodeExecution `json:"node,omitempty"`
	At              time.Time             `json:"at"`
}

// Status returns the terminal status carried by the event.
func (ev TerminalEvent) Status() string {
	switch {
	case ev.Node != nil:
		return string(ev.Node.Status)
	case ev.Execution != nil:
		return string(ev.Execution.Status)
	}
	return ""
}

// Observer is notified synchronously of terminal transitions. Errors and
// panics are logged and never affect the execution.
type Observer func(ctx context.Context, ev TerminalEvent) error

func (e *Engine) emitTerminal(ctx context.Context, ev TerminalEvent) {
	for i, obs := range e.observers {
		if err := callObserver(ctx, obs, ev); err != nil {
			logging.LogWith(ctx, e.logger).Warn("observer failed",
				slog.Int("observer", i),
				slog.String("kind", string(ev.Kind)),
				slog.String("error", err.Error()),
			)
			_ = e.events.Record(ctx, ev.PlanExecutionID, "", "", schema.EventObserverFailure,
				map[string]any{"observer": i, "kind": ev.Kind, "error": err.Error()})
		}
	}
}

func callObserver(ctx context.Context, obs Observer, ev TerminalEvent) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("observer panicked: %v", p)
		}
	}()
	return obs(ctx, ev)
}
