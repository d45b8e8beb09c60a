// Package diagram renders plans, optionally overlaid with the status of an
// execution, as Mermaid flowcharts or ASCII trees.
package diagram

// NodeKind classifies a diagram node by how its plan node runs.
type NodeKind string

const (
	NodeKindStep      NodeKind = "step"
	NodeKindTask      NodeKind = "task"
	NodeKindWait      NodeKind = "wait"
	NodeKindCondition NodeKind = "condition"
	NodeKindComposite NodeKind = "composite"
	NodeKindStart     NodeKind = "start"
)

// DiagramModel is the intermediate representation used by all renderers.
type DiagramModel struct {
	Title string
	// Nodes holds the top-level nodes; composites nest their children.
	Nodes []*Node
	// Edges are adviser transitions, drawn between any two nodes.
	Edges []Edge
}

// Node is one plan node.
type Node struct {
	ID       string
	Label    string
	Kind     NodeKind
	Status   *StatusOverlay
	Children *SubGraph
}

// SubGraph holds the children of a composite node.
type SubGraph struct {
	Label string // facilitator mode
	Nodes []*Node
	Edges []Edge
}

// StatusOverlay carries runtime state for a node.
type StatusOverlay struct {
	Status     string // lower-case node status, or "skipped"
	DurationMs int64
	Attempts   int
	Error      string
}

// Edge connects two nodes.
type Edge struct {
	From  string
	To    string
	Label string
}

// Walk visits every node depth first, parents before children.
func (m *DiagramModel) Walk(fn func(n *Node, depth int)) {
	var visit func(nodes []*Node, depth int)
	visit = func(nodes []*Node, depth int) {
		for _, n := range nodes {
			fn(n, depth)
			if n.Children != nil {
				visit(n.Children.Nodes, depth+1)
			}
		}
	}
	visit(m.Nodes, 0)
}
