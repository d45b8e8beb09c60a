package expressions

import (
	"encoding/json"
	"maps"
	"sync"
)

// Scope is a read-only snapshot of the data expressions run against.
type Scope struct {
	Inputs    map[string]any // execution inputs
	Nodes     map[string]any // node id -> latest outcome
	Execution map[string]any // plan_execution_id, plan_id and similar metadata
}

// Data flattens the scope into the variable map handed to an Engine.
func (s *Scope) Data() map[string]any {
	if s == nil {
		return map[string]any{}
	}
	return map[string]any{
		VarInputs:   orEmpty(s.Inputs),
		VarNodes:    orEmpty(s.Nodes),
		"execution": orEmpty(s.Execution),
	}
}

// ScopeBuilder accumulates node outcomes for one plan execution. Inputs and
// execution metadata are frozen at construction; outcomes are deep-copied on
// insert and a retried node replaces its earlier outcome.
type ScopeBuilder struct {
	mu        sync.RWMutex
	inputs    map[string]any
	execution map[string]any
	nodes     map[string]any
}

// NewScopeBuilder deep-copies inputs and execution metadata.
func NewScopeBuilder(inputs, execution map[string]any) *ScopeBuilder {
	return &ScopeBuilder{
		inputs:    deepCopyMap(inputs),
		execution: deepCopyMap(execution),
		nodes:     make(map[string]any),
	}
}

// SetOutcome records the outcome of a finished node.
func (sb *ScopeBuilder) SetOutcome(nodeID string, outcome map[string]any) {
	sb.mu.Lock()
	defer sb.mu.Unlock()
	sb.nodes[nodeID] = deepCopyMap(outcome)
}

// Outcome returns a copy of one node's recorded outcome.
func (sb *ScopeBuilder) Outcome(nodeID string) (map[string]any, bool) {
	sb.mu.RLock()
	defer sb.mu.RUnlock()
	v, ok := sb.nodes[nodeID]
	if !ok {
		return nil, false
	}
	m, _ := v.(map[string]any)
	return deepCopyMap(m), true
}

// Build returns a snapshot safe to hand to concurrent evaluators.
func (sb *ScopeBuilder) Build() *Scope {
	sb.mu.RLock()
	defer sb.mu.RUnlock()
	return &Scope{
		Inputs:    sb.inputs,
		Execution: sb.execution,
		Nodes:     deepCopyMap(sb.nodes),
	}
}

func orEmpty(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}

func deepCopyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	cp := make(map[string]any, len(m))
	for k, v := range m {
		cp[k] = deepCopyAny(v)
	}
	return cp
}

func deepCopyAny(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return deepCopyMap(val)
	case map[string]string:
		return maps.Clone(val)
	case []any:
		cp := make([]any, len(val))
		for i, item := range val {
			cp[i] = deepCopyAny(item)
		}
		return cp
	case json.RawMessage:
		if val == nil {
			return nil
		}
		cp := make(json.RawMessage, len(val))
		copy(cp, val)
		return cp
	default:
		return v
	}
}
