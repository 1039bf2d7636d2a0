package diagram

import (
	"fmt"
	"strings"
)

// stateTag returns a short ASCII indicator for a node's state.
func stateTag(node *Node) string {
	switch {
	case node.Issues > 0:
		return fmt.Sprintf("[ERR x%d]", node.Issues)
	case node.Bypassed:
		return "[BYPASS]"
	case node.Kind == NodeKindOutput:
		return "[OUT]"
	default:
		return ""
	}
}

// RenderASCII renders a DiagramModel as a text diagram: one row of boxes
// per execution level, then the group memberships and the links.
func RenderASCII(model *DiagramModel) string {
	var b strings.Builder

	if model.Title != "" {
		b.WriteString(fmt.Sprintf("=== %s ===\n\n", model.Title))
	}

	byID := make(map[string]*Node, len(model.Nodes))
	for _, n := range model.Nodes {
		byID[n.ID] = n
	}
	levels := model.Levels
	if len(levels) == 0 {
		// Cyclic or empty: one node per row in document order.
		for _, n := range model.Nodes {
			levels = append(levels, []string{n.ID})
		}
	}

	for levelIdx, level := range levels {
		var boxes []asciiBox
		for _, id := range level {
			if node := byID[id]; node != nil {
				boxes = append(boxes, makeBox(node))
			}
		}
		renderBoxRow(&b, boxes)
		if levelIdx < len(levels)-1 {
			renderConnector(&b, len(boxes))
		}
	}

	if len(model.Clusters) > 0 {
		b.WriteString("\n--- groups ---\n")
		for _, c := range model.Clusters {
			var members []string
			for _, id := range c.NodeIDs {
				if n := byID[id]; n != nil {
					members = append(members, firstLine(n.Label))
				}
			}
			b.WriteString(fmt.Sprintf("  [%s] %s\n", c.Title, strings.Join(members, ", ")))
		}
	}
	if len(model.Edges) > 0 {
		b.WriteString("\n--- links ---\n")
		for _, e := range model.Edges {
			b.WriteString(fmt.Sprintf("  %s ─%s→ %s\n", e.From, e.Label, e.To))
		}
	}
	return b.String()
}

// asciiBox holds the rendered lines of a single box.
type asciiBox struct {
	lines []string
	width int
}

// makeBox creates an ASCII box for a node.
func makeBox(node *Node) asciiBox {
	contentLines := strings.Split(node.Label, "\n")
	if tag := stateTag(node); tag != "" {
		contentLines = append(contentLines, tag)
	}

	maxLen := 0
	for _, line := range contentLines {
		maxLen = max(maxLen, len([]rune(line)))
	}
	width := maxLen + 4 // 2 border + 2 padding

	lines := []string{"┌" + strings.Repeat("─", width-2) + "┐"}
	for _, content := range contentLines {
		padded := content + strings.Repeat(" ", maxLen-len([]rune(content)))
		lines = append(lines, "│ "+padded+" │")
	}
	lines = append(lines, "└"+strings.Repeat("─", width-2)+"┘")

	return asciiBox{lines: lines, width: width}
}

// firstLine returns only the first line of a multi-line label.
func firstLine(s string) string {
	if i := strings.Index(s, "\n"); i >= 0 {
		return s[:i]
	}
	return s
}

// renderBoxRow writes boxes side by side.
func renderBoxRow(b *strings.Builder, boxes []asciiBox) {
	maxHeight := 0
	for _, box := range boxes {
		maxHeight = max(maxHeight, len(box.lines))
	}
	for row := 0; row < maxHeight; row++ {
		for i, box := range boxes {
			if i > 0 {
				b.WriteString("  ")
			}
			if row < len(box.lines) {
				b.WriteString(box.lines[row])
			} else {
				b.WriteString(strings.Repeat(" ", box.width))
			}
		}
		b.WriteByte('\n')
	}
}

// renderConnector draws a vertical connector between levels.
func renderConnector(b *strings.Builder, boxCount int) {
	if boxCount == 0 {
		return
	}
	b.WriteString("       │\n")
	b.WriteString("       ▼\n")
}
