package diagram

import (
	"fmt"
	"sort"
	"strings"

	"github.com/pranay-harness/harness-core-sub060/internal/engine"
	"github.com/pranay-harness/harness-core-sub060/pkg/schema"
)

// StartID is the virtual node pointing at the plan's starting node.
const StartID = "__start__"

// Build constructs a DiagramModel from a plan and, optionally, the node
// executions of one of its executions. The latest execution of a node wins.
func Build(plan *schema.Plan, executions []*schema.NodeExecution) (*DiagramModel, error) {
	g, res := engine.BuildGraph(plan)
	if g == nil {
		return nil, fmt.Errorf("diagram: %s", strings.Join(res.Messages(), "; "))
	}

	overlays := buildOverlays(executions)
	built := make(map[string]bool, len(plan.Nodes))

	var build func(id string) *Node
	build = func(id string) *Node {
		pn := plan.Nodes[id]
		n := &Node{ID: id, Label: nodeLabel(pn), Kind: kindOf(pn), Status: overlays[id]}
		built[id] = true
		children := g.Children[id]
		if len(children) == 0 {
			return n
		}
		sg := &SubGraph{Label: pn.Facilitator.Type}
		for i, c := range children {
			if built[c] {
				continue
			}
			sg.Nodes = append(sg.Nodes, build(c))
			if pn.Facilitator.Type == engine.FacilitatorChildChain && i > 0 {
				sg.Edges = append(sg.Edges, Edge{From: children[i-1], To: c})
			}
		}
		n.Kind = NodeKindComposite
		n.Children = sg
		return n
	}

	model := &DiagramModel{Title: title(plan)}
	model.Nodes = append(model.Nodes, &Node{ID: StartID, Label: "Start", Kind: NodeKindStart})
	for _, id := range g.Roots {
		model.Nodes = append(model.Nodes, build(id))
	}
	if plan.StartingNodeID != "" {
		if _, ok := plan.Nodes[plan.StartingNodeID]; ok {
			model.Edges = append(model.Edges, Edge{From: StartID, To: plan.StartingNodeID})
		}
	}

	ids := make([]string, 0, len(g.Next))
	for id := range g.Next {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		for _, e := range g.Next[id] {
			model.Edges = append(model.Edges, Edge{From: id, To: e.To, Label: e.Adviser})
		}
	}
	return model, nil
}

func kindOf(pn *schema.PlanNode) NodeKind {
	switch pn.Facilitator.Type {
	case engine.FacilitatorTask:
		return NodeKindTask
	case engine.FacilitatorAsync:
		return NodeKindWait
	case engine.FacilitatorConditional:
		return NodeKindCondition
	case engine.FacilitatorChild, engine.FacilitatorChildChain:
		return NodeKindComposite
	default:
		return NodeKindStep
	}
}

func nodeLabel(pn *schema.PlanNode) string {
	name := pn.Name
	if name == "" {
		name = pn.ID
	}
	return fmt.Sprintf("%s (%s)", name, pn.StepType)
}

func title(plan *schema.Plan) string {
	t := "Plan " + plan.ID
	if !plan.Valid {
		t += " (invalid)"
	}
	return t
}

func buildOverlays(executions []*schema.NodeExecution) map[string]*StatusOverlay {
	latest := make(map[string]*schema.NodeExecution, len(executions))
	attempts := make(map[string]int, len(executions))
	for _, ne := range executions {
		attempts[ne.NodeID]++
		if cur, ok := latest[ne.NodeID]; !ok || !ne.CreatedAt.Before(cur.CreatedAt) {
			latest[ne.NodeID] = ne
		}
	}

	out := make(map[string]*StatusOverlay, len(latest))
	for id, ne := range latest {
		ov := &StatusOverlay{
			Status:   strings.ToLower(string(ne.Status)),
			Attempts: attempts[id],
			Error:    ne.FailureMessage,
		}
		if skipped, _ := ne.Outcome["skipped"].(bool); skipped {
			ov.Status = "skipped"
		}
		if ne.StartedAt != nil && ne.EndedAt != nil {
			ov.DurationMs = ne.EndedAt.Sub(*ne.StartedAt).Milliseconds()
		}
		out[id] = ov
	}
	return out
}
