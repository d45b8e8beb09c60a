// Package logging carries execution correlation through context.Context and
// stamps it onto slog records.
package logging

import (
	"context"
	"log/slog"
)

// Correlation identifies the execution scope a log line belongs to.
type Correlation struct {
	PlanExecutionID string
	NodeExecutionID string
	NodeID          string
}

// Attrs returns the non-empty fields as slog attributes.
func (c Correlation) Attrs() []slog.Attr {
	attrs := make([]slog.Attr, 0, 3)
	for _, f := range [...]struct{ key, val string }{
		{"plan_execution_id", c.PlanExecutionID},
		{"node_execution_id", c.NodeExecutionID},
		{"node_id", c.NodeID},
	} {
		if f.val != "" {
			attrs = append(attrs, slog.String(f.key, f.val))
		}
	}
	return attrs
}

// merge overlays the non-empty fields of o onto c.
func (c Correlation) merge(o Correlation) Correlation {
	if o.PlanExecutionID != "" {
		c.PlanExecutionID = o.PlanExecutionID
	}
	if o.NodeExecutionID != "" {
		c.NodeExecutionID = o.NodeExecutionID
	}
	if o.NodeID != "" {
		c.NodeID = o.NodeID
	}
	return c
}

type correlationKey struct{}

// CorrelationFrom returns the correlation stored in ctx, zero when absent.
func CorrelationFrom(ctx context.Context) Correlation {
	c, _ := ctx.Value(correlationKey{}).(Correlation)
	return c
}

// WithCorrelation narrows the correlation in ctx. Empty fields of c keep the
// value already in scope, so a node context inherits its execution id.
func WithCorrelation(ctx context.Context, c Correlation) context.Context {
	return context.WithValue(ctx, correlationKey{}, CorrelationFrom(ctx).merge(c))
}

// WithIDs is WithCorrelation for the common node scope.
func WithIDs(ctx context.Context, planExecutionID, nodeExecutionID, nodeID string) context.Context {
	return WithCorrelation(ctx, Correlation{
		PlanExecutionID: planExecutionID,
		NodeExecutionID: nodeExecutionID,
		NodeID:          nodeID,
	})
}

// LogWith binds the correlation in ctx to logger. Use it with handlers that
// are not wrapped in a CorrelationHandler or when logging without ctx.
func LogWith(ctx context.Context, logger *slog.Logger) *slog.Logger {
	attrs := CorrelationFrom(ctx).Attrs()
	if len(attrs) == 0 {
		return logger
	}
	args := make([]any, len(attrs))
	for i, a := range attrs {
		args[i] = a
	}
	return logger.With(args...)
}

// CorrelationHandler adds the context correlation to every record handled
// through the *Context logging methods.
type CorrelationHandler struct {
	inner slog.Handler
}

func NewCorrelationHandler(inner slog.Handler) *CorrelationHandler {
	return &CorrelationHandler{inner: inner}
}

func (h *CorrelationHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *CorrelationHandler) Handle(ctx context.Context, r slog.Record) error {
	r.AddAttrs(CorrelationFrom(ctx).Attrs()...)
	return h.inner.Handle(ctx, r)
}

func (h *CorrelationHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return NewCorrelationHandler(h.inner.WithAttrs(attrs))
}

func (h *CorrelationHandler) WithGroup(name string) slog.Handler {
	return NewCorrelationHandler(h.inner.WithGroup(name))
}
