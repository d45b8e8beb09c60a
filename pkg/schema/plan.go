package schema

import (
	"sort"
	"time"
)

// FacilitatorObtainment declares which Facilitator decides how a node runs.
type FacilitatorObtainment struct {
	Type       string         `json:"type"`
	Parameters map[string]any `json:"parameters,omitempty"`
}

// AdviserObtainment declares one Adviser consulted after a node completes.
type AdviserObtainment struct {
	Type       string         `json:"type"`
	Parameters map[string]any `json:"parameters,omitempty"`
}

// PlanNode is one executable unit of a Plan. Nodes are shared by every
// execution of the plan and must not be mutated after construction.
type PlanNode struct {
	ID             string                `json:"id"`
	Name           string                `json:"name"`
	Identifier     string                `json:"identifier"`
	StepType       string                `json:"step_type"`
	Group          string                `json:"group,omitempty"`
	StepParameters map[string]any        `json:"step_parameters,omitempty"`
	Facilitator    FacilitatorObtainment `json:"facilitator"`
	Advisers       []AdviserObtainment   `json:"advisers,omitempty"`
	Children       []string              `json:"children,omitempty"`
	Timeout        time.Duration         `json:"timeout,omitempty"`
	Capabilities   []Capability          `json:"capabilities,omitempty"`
}

// PlanNodeOption customizes a PlanNode during construction.
type PlanNodeOption func(*PlanNode)

// WithStepParameters sets the opaque step configuration.
func WithStepParameters(params map[string]any) PlanNodeOption {
	return func(n *PlanNode) { n.StepParameters = params }
}

// WithFacilitator sets the facilitator obtainment.
func WithFacilitator(typ string, params map[string]any) PlanNodeOption {
	return func(n *PlanNode) { n.Facilitator = FacilitatorObtainment{Type: typ, Parameters: params} }
}

// WithAdviser appends an adviser obtainment. Order is significant.
func WithAdviser(typ string, params map[string]any) PlanNodeOption {
	return func(n *PlanNode) {
		n.Advisers = append(n.Advisers, AdviserObtainment{Type: typ, Parameters: params})
	}
}

// WithChildren sets the ordered child node ids of a composite node.
func WithChildren(ids ...string) PlanNodeOption {
	return func(n *PlanNode) { n.Children = append([]string(nil), ids...) }
}

// WithGroup sets the ambiance group (PIPELINE, STAGE, STEP, ...).
func WithGroup(group string) PlanNodeOption {
	return func(n *PlanNode) { n.Group = group }
}

// WithTimeout bounds async and task waits for the node.
func WithTimeout(d time.Duration) PlanNodeOption {
	return func(n *PlanNode) { n.Timeout = d }
}

// WithCapabilities attaches executor requirements for TASK-mode nodes.
func WithCapabilities(caps ...Capability) PlanNodeOption {
	return func(n *PlanNode) { n.Capabilities = append([]Capability(nil), caps...) }
}

// NewPlanNode builds a node. Identifier defaults to the id and the
// facilitator defaults to SYNC.
func NewPlanNode(id, name, stepType string, opts ...PlanNodeOption) *PlanNode {
	n := &PlanNode{
		ID:          id,
		Name:        name,
		Identifier:  id,
		StepType:    stepType,
		Facilitator: FacilitatorObtainment{Type: string(ModeSync)},
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// WithIdentifier overrides the identifier used for FQN resolution.
func WithIdentifier(identifier string) PlanNodeOption {
	return func(n *PlanNode) { n.Identifier = identifier }
}

// Plan is the compiled DAG for one pipeline definition. It is read-only
// once created.
type Plan struct {
	ID             string               `json:"id"`
	Nodes          map[string]*PlanNode `json:"nodes"`
	StartingNodeID string               `json:"starting_node_id"`
	Valid          bool                 `json:"valid"`
	Errors         []string             `json:"errors,omitempty"`
	CreatedAt      time.Time            `json:"created_at"`
}

// NewPlan creates a valid plan. The node map is copied.
func NewPlan(id, startingNodeID string, nodes map[string]*PlanNode) *Plan {
	cp := make(map[string]*PlanNode, len(nodes))
	for k, v := range nodes {
		cp[k] = v
	}
	return &Plan{
		ID:             id,
		Nodes:          cp,
		StartingNodeID: startingNodeID,
		Valid:          true,
		CreatedAt:      time.Now().UTC(),
	}
}

// NewInvalidPlan creates a plan that failed creation and carries its errors.
func NewInvalidPlan(id, startingNodeID string, nodes map[string]*PlanNode, errs []string) *Plan {
	p := NewPlan(id, startingNodeID, nodes)
	p.Valid = false
	p.Errors = append([]string(nil), errs...)
	return p
}

// Node returns the node with the given id.
func (p *Plan) Node(id string) (*PlanNode, bool) {
	n, ok := p.Nodes[id]
	return n, ok
}

// NodeIDs returns all node ids in sorted order.
func (p *Plan) NodeIDs() []string {
	ids := make([]string, 0, len(p.Nodes))
	for id := range p.Nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
