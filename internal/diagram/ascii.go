package diagram

import (
	"fmt"
	"strings"
)

// statusTag returns a short ASCII indicator for a status string.
func statusTag(status string) string {
	switch status {
	case "succeeded":
		return "[OK]"
	case "failed":
		return "[FAIL]"
	case "aborted":
		return "[ABORT]"
	case "running":
		return "[RUN]"
	case "suspended":
		return "[WAIT]"
	case "skipped":
		return "[SKIP]"
	case "queued":
		return "[PEND]"
	default:
		return ""
	}
}

// RenderASCII renders a DiagramModel as an indented tree followed by the
// adviser transitions.
func RenderASCII(model *DiagramModel) string {
	var b strings.Builder

	if model.Title != "" {
		fmt.Fprintf(&b, "=== %s ===\n\n", model.Title)
	}

	model.Walk(func(n *Node, depth int) {
		if n.Kind == NodeKindStart {
			return
		}
		b.WriteString(strings.Repeat("│  ", depth))
		b.WriteString("├─ ")
		b.WriteString(firstLine(n.Label))
		if n.Children != nil {
			fmt.Fprintf(&b, " <%s>", n.Children.Label)
		}
		if n.Status != nil {
			if tag := statusTag(n.Status.Status); tag != "" {
				b.WriteString(" " + tag)
			}
			if n.Status.DurationMs > 0 {
				fmt.Fprintf(&b, " %dms", n.Status.DurationMs)
			}
			if n.Status.Attempts > 1 {
				fmt.Fprintf(&b, " x%d", n.Status.Attempts)
			}
		}
		b.WriteByte('\n')
	})

	var transitions []Edge
	for _, e := range model.Edges {
		if e.From != StartID {
			transitions = append(transitions, e)
		}
	}
	if len(transitions) > 0 {
		b.WriteString("\n--- transitions ---\n")
		for _, e := range transitions {
			fmt.Fprintf(&b, "  %s ─→ %s [%s]\n", shortID(e.From), shortID(e.To), e.Label)
		}
	}
	return b.String()
}

// shortID returns the last segment of a dot-separated ID.
func shortID(id string) string {
	if i := strings.LastIndex(id, "."); i >= 0 {
		return id[i+1:]
	}
	return id
}
