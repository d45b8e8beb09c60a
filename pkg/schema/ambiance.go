package schema

import "strings"

// Level is one entry of the root-to-node path.
type Level struct {
	RuntimeID  string `json:"runtime_id"`
	SetupID    string `json:"setup_id"`
	Identifier string `json:"identifier"`
	StepType   string `json:"step_type"`
	Group      string `json:"group,omitempty"`
}

// Metadata is the execution-wide scope carried by every ambiance.
type Metadata struct {
	AccountID       string `json:"account_id,omitempty"`
	OrgID           string `json:"org_id,omitempty"`
	ProjectID       string `json:"project_id,omitempty"`
	TriggerType     string `json:"trigger_type,omitempty"`
	TriggeredBy     string `json:"triggered_by,omitempty"`
	ExpressionToken string `json:"expression_token,omitempty"`
}

// Ambiance is the path context of a node execution. It is a value: Extend
// returns a new ambiance and never touches the receiver's level stack.
type Ambiance struct {
	PlanExecutionID string   `json:"plan_execution_id"`
	Levels          []Level  `json:"levels"`
	Metadata        Metadata `json:"metadata"`
}

// NewAmbiance creates the root ambiance of a plan execution.
func NewAmbiance(planExecutionID string, md Metadata) Ambiance {
	return Ambiance{PlanExecutionID: planExecutionID, Metadata: md}
}

// Extend returns a copy with level appended. The copy owns its backing
// array, so siblings extended from the same parent never alias.
func (a Ambiance) Extend(level Level) Ambiance {
	levels := make([]Level, len(a.Levels), len(a.Levels)+1)
	copy(levels, a.Levels)
	a.Levels = append(levels, level)
	return a
}

// Current returns the innermost level.
func (a Ambiance) Current() (Level, bool) {
	if len(a.Levels) == 0 {
		return Level{}, false
	}
	return a.Levels[len(a.Levels)-1], true
}

// Depth is the number of levels.
func (a Ambiance) Depth() int {
	return len(a.Levels)
}

// FQN joins level identifiers from root to current node.
func (a Ambiance) FQN() string {
	parts := make([]string, 0, len(a.Levels))
	for _, l := range a.Levels {
		if l.Identifier != "" {
			parts = append(parts, l.Identifier)
		}
	}
	return strings.Join(parts, ".")
}
