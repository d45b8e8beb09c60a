package engine

import (
	"fmt"
	"sort"

	"github.com/pranay-harness/harness-core-sub060/pkg/schema"
)

// PlanGraph is the static shape of a plan: containment edges from composite
// nodes to their children and transition edges declared by advisers.
type PlanGraph struct {
	Children map[string][]string // node id -> ordered children
	Next     map[string][]Edge   // node id -> adviser transitions
	Parents  map[string][]string // node id -> composite parents
	Sorted   []string            // containment order, parents before children
	Roots    []string            // nodes no composite contains
}

// Edge is one adviser-declared transition.
type Edge struct {
	To      string
	Adviser string
}

// BuildGraph validates plan structure and returns its graph. Checked:
// non-empty node set, starting node present, every child and adviser target
// present, no duplicate or self children and no containment cycle.
func BuildGraph(plan *schema.Plan) (*PlanGraph, *schema.ValidationResult) {
	res := &schema.ValidationResult{}
	if plan == nil {
		res.AddError("", schema.ErrCodeValidation, "plan is nil")
		return nil, res
	}
	if len(plan.Nodes) == 0 {
		res.AddError("nodes", schema.ErrCodeValidation, "plan has no nodes")
		return nil, res
	}
	if _, ok := plan.Nodes[plan.StartingNodeID]; !ok {
		res.AddError("starting_node_id", schema.ErrCodeInvalidRequest,
			fmt.Sprintf("No node found with Id %s", plan.StartingNodeID))
	}

	g := &PlanGraph{
		Children: make(map[string][]string, len(plan.Nodes)),
		Next:     make(map[string][]Edge),
		Parents:  make(map[string][]string),
	}

	ids := plan.NodeIDs()
	for _, id := range ids {
		node := plan.Nodes[id]
		path := "nodes." + id
		if node == nil {
			res.AddError(path, schema.ErrCodeValidation, "node is nil")
			continue
		}
		if node.ID != id {
			res.AddError(path+".id", schema.ErrCodeValidation,
				fmt.Sprintf("node keyed %q declares id %q", id, node.ID))
		}

		seen := make(map[string]bool, len(node.Children))
		for _, child := range node.Children {
			switch {
			case child == id:
				res.AddError(path+".children", schema.ErrCodeCycleDetected, fmt.Sprintf("node %s contains itself", id))
				continue
			case seen[child]:
				res.AddError(path+".children", schema.ErrCodeValidation, fmt.Sprintf("node %s lists child %s twice", id, child))
				continue
			}
			seen[child] = true
			if _, ok := plan.Nodes[child]; !ok {
				res.AddError(path+".children", schema.ErrCodeValidation,
					fmt.Sprintf("node %s has unknown child %s", id, child))
				continue
			}
			g.Children[id] = append(g.Children[id], child)
			g.Parents[child] = append(g.Parents[child], id)
		}

		for i, adv := range node.Advisers {
			target := adviserTarget(adv)
			if target == "" {
				continue
			}
			if _, ok := plan.Nodes[target]; !ok {
				res.AddError(fmt.Sprintf("%s.advisers[%d]", path, i), schema.ErrCodeValidation,
					fmt.Sprintf("node %s advises unknown node %s", id, target))
				continue
			}
			g.Next[id] = append(g.Next[id], Edge{To: target, Adviser: adv.Type})
		}
	}

	for child, parents := range g.Parents {
		if len(parents) > 1 {
			res.AddWarning("nodes."+child, schema.ErrCodeValidation,
				fmt.Sprintf("node %s is contained by %d composites", child, len(parents)))
		}
	}

	// Kahn's algorithm over containment edges.
	inDegree := make(map[string]int, len(ids))
	for _, id := range ids {
		inDegree[id] = len(g.Parents[id])
	}
	var queue []string
	for _, id := range ids {
		if inDegree[id] == 0 {
			queue = append(queue, id)
		}
	}
	g.Roots = append([]string(nil), queue...)

	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		g.Sorted = append(g.Sorted, id)

		children := append([]string(nil), g.Children[id]...)
		sort.Strings(children)
		for _, c := range children {
			inDegree[c]--
			if inDegree[c] == 0 {
				queue = append(queue, c)
			}
		}
	}
	if len(g.Sorted) != len(ids) {
		res.AddError("nodes", schema.ErrCodeCycleDetected, "plan contains a containment cycle")
	}

	return g, res
}

// ValidatePlan is BuildGraph without the graph.
func ValidatePlan(plan *schema.Plan) *schema.ValidationResult {
	_, res := BuildGraph(plan)
	return res
}

// adviserTarget extracts the node an adviser may transition to.
func adviserTarget(adv schema.AdviserObtainment) string {
	if next := schema.StringParam(adv.Parameters, "nextNodeId", ""); next != "" {
		return next
	}
	if adv.Type == AdviserCEL {
		return schema.StringParam(schema.MapParam(adv.Parameters, "advise"), "nextNodeId", "")
	}
	return ""
}
