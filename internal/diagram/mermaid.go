package diagram

import (
	"fmt"
	"strings"
)

// RenderMermaid renders a DiagramModel as a Mermaid flowchart string.
// Composite nodes become subgraphs.
func RenderMermaid(model *DiagramModel) string {
	var b strings.Builder

	b.WriteString("graph TD\n")
	if model.Title != "" {
		fmt.Fprintf(&b, "    %%%% %s\n", model.Title)
	}

	for _, node := range model.Nodes {
		writeMermaidNode(&b, node, 1)
	}

	for _, edge := range model.Edges {
		writeMermaidEdge(&b, edge, 1)
	}

	b.WriteString("\n")
	b.WriteString("    classDef succeeded fill:#2d6a2d,stroke:#1a4a1a,color:#fff\n")
	b.WriteString("    classDef failed fill:#8b1a1a,stroke:#5c0e0e,color:#fff\n")
	b.WriteString("    classDef aborted fill:#5c0e0e,stroke:#3a0808,color:#fff\n")
	b.WriteString("    classDef running fill:#1a5276,stroke:#0e3a52,color:#fff\n")
	b.WriteString("    classDef suspended fill:#b7791a,stroke:#8a5c14,color:#fff\n")
	b.WriteString("    classDef queued fill:#6b6b6b,stroke:#4a4a4a,color:#fff\n")
	b.WriteString("    classDef skipped fill:#4a4a4a,stroke:#333,color:#aaa,stroke-dasharray:5 5\n")

	model.Walk(func(n *Node, _ int) {
		if n.Status == nil {
			return
		}
		if cls := mermaidStatusClass(n.Status.Status); cls != "" {
			fmt.Fprintf(&b, "    class %s %s\n", mermaidSafeID(n.ID), cls)
		}
	})

	return b.String()
}

func writeMermaidNode(b *strings.Builder, node *Node, depth int) {
	indent := strings.Repeat("    ", depth)
	if node.Children == nil {
		fmt.Fprintf(b, "%s%s\n", indent, mermaidNodeDef(node))
		return
	}
	fmt.Fprintf(b, "%ssubgraph %s[%q]\n", indent, mermaidSafeID(node.ID),
		fmt.Sprintf("%s: %s", firstLine(node.Label), node.Children.Label))
	for _, child := range node.Children.Nodes {
		writeMermaidNode(b, child, depth+1)
	}
	for _, edge := range node.Children.Edges {
		writeMermaidEdge(b, edge, depth+1)
	}
	fmt.Fprintf(b, "%send\n", indent)
}

func writeMermaidEdge(b *strings.Builder, edge Edge, depth int) {
	label := ""
	if edge.Label != "" {
		label = fmt.Sprintf("|%s|", edge.Label)
	}
	fmt.Fprintf(b, "%s%s -->%s %s\n", strings.Repeat("    ", depth),
		mermaidSafeID(edge.From), label, mermaidSafeID(edge.To))
}

// mermaidNodeDef returns a Mermaid node definition with the appropriate shape.
func mermaidNodeDef(node *Node) string {
	id := mermaidSafeID(node.ID)
	label := firstLine(node.Label)

	switch node.Kind {
	case NodeKindCondition:
		return fmt.Sprintf("%s{%q}", id, label)
	case NodeKindWait:
		return fmt.Sprintf("%s([%q])", id, label)
	case NodeKindTask:
		return fmt.Sprintf("%s[[%q]]", id, label)
	case NodeKindStart:
		return fmt.Sprintf("%s((%q))", id, label)
	default:
		return fmt.Sprintf("%s[%q]", id, label)
	}
}

// mermaidSafeID replaces characters Mermaid does not accept in ids.
func mermaidSafeID(id string) string {
	r := strings.NewReplacer(".", "_", "-", "_", " ", "_", "/", "_")
	return r.Replace(id)
}

func mermaidStatusClass(status string) string {
	switch status {
	case "succeeded", "failed", "aborted", "running", "suspended", "queued", "skipped":
		return status
	default:
		return ""
	}
}

func firstLine(s string) string {
	if i := strings.Index(s, "\n"); i >= 0 {
		return s[:i]
	}
	return s
}
