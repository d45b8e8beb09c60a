// Package telemetry exposes Prometheus metrics for executions, nodes, task
// dispatch and plan creation.
package telemetry

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pranay-harness/harness-core-sub060/internal/engine"
	"github.com/pranay-harness/harness-core-sub060/pkg/schema"
)

const namespace = "orchestrator"

// Metrics holds the orchestrator collectors.
type Metrics struct {
	gatherer prometheus.Gatherer

	Executions        *prometheus.CounterVec
	ExecutionDuration *prometheus.HistogramVec
	Nodes             *prometheus.CounterVec
	NodeDuration      *prometheus.HistogramVec
	Dispatches        *prometheus.CounterVec
	Plans             *prometheus.CounterVec
}

// New registers the collectors with reg. A nil reg uses a fresh registry.
func New(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	factory := promauto.With(reg)
	return &Metrics{
		gatherer: reg,
		Executions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "executions_total",
				Help:      "Plan executions that reached a terminal status.",
			},
			[]string{"status"},
		),
		ExecutionDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "execution_duration_seconds",
				Help:      "Wall time of terminal plan executions.",
				Buckets:   prometheus.ExponentialBuckets(0.1, 2, 14),
			},
			[]string{"status"},
		),
		Nodes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "nodes_total",
				Help:      "Node executions that reached a terminal status.",
			},
			[]string{"step_type", "status"},
		),
		NodeDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "node_duration_seconds",
				Help:      "Wall time of terminal node executions.",
				Buckets:   prometheus.ExponentialBuckets(0.01, 2, 14),
			},
			[]string{"step_type"},
		),
		Dispatches: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "task_dispatch_total",
				Help:      "Delegated task dispatch attempts by outcome.",
			},
			[]string{"outcome", "executor"},
		),
		Plans: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "plans_created_total",
				Help:      "Plans created, by validity.",
			},
			[]string{"valid"},
		),
	}
}

// Observer returns an engine observer that counts terminal transitions.
func (m *Metrics) Observer() engine.Observer {
	return func(_ context.Context, ev engine.TerminalEvent) error {
		switch ev.Kind {
		case engine.TerminalExecution:
			if ev.Execution == nil {
				return nil
			}
			status := string(ev.Execution.Status)
			m.Executions.WithLabelValues(status).Inc()
			if d := ev.Execution.Duration(); d > 0 {
				m.ExecutionDuration.WithLabelValues(status).Observe(d.Seconds())
			}
		case engine.TerminalNode:
			if ev.Node == nil {
				return nil
			}
			stepType := ""
			if lvl, ok := ev.Node.Ambiance.Current(); ok {
				stepType = lvl.StepType
			}
			m.Nodes.WithLabelValues(stepType, string(ev.Node.Status)).Inc()
			if ev.Node.StartedAt != nil && ev.Node.EndedAt != nil {
				m.NodeDuration.WithLabelValues(stepType).Observe(ev.Node.EndedAt.Sub(*ev.Node.StartedAt).Seconds())
			}
		}
		return nil
	}
}

// ObserveDispatch matches delegate.Config.OnDispatch.
func (m *Metrics) ObserveDispatch(outcome, executorID string) {
	m.Dispatches.WithLabelValues(outcome, executorID).Inc()
}

// ObservePlan counts a created plan.
func (m *Metrics) ObservePlan(plan *schema.Plan) {
	if plan == nil {
		return
	}
	valid := "false"
	if plan.Valid {
		valid = "true"
	}
	m.Plans.WithLabelValues(valid).Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
