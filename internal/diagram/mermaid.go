package diagram

import (
	"fmt"
	"strings"
)

// RenderMermaid renders a DiagramModel as a Mermaid flowchart string.
// Groups become subgraphs; links are labeled with their type.
func RenderMermaid(model *DiagramModel) string {
	var b strings.Builder

	b.WriteString("graph LR\n")

	// Title as comment.
	if model.Title != "" {
		b.WriteString(fmt.Sprintf("    %%%% %s\n", model.Title))
	}

	byID := make(map[string]*Node, len(model.Nodes))
	for _, node := range model.Nodes {
		byID[node.ID] = node
	}

	for _, c := range model.Clusters {
		b.WriteString(fmt.Sprintf("    subgraph %s[%q]\n", c.ID, mermaidEscapeLabel(c.Title)))
		for _, id := range c.NodeIDs {
			if node := byID[id]; node != nil {
				b.WriteString(fmt.Sprintf("        %s\n", mermaidNodeDef(node)))
			}
		}
		b.WriteString("    end\n")
	}
	for _, node := range model.Nodes {
		if node.Cluster == "" {
			b.WriteString(fmt.Sprintf("    %s\n", mermaidNodeDef(node)))
		}
	}

	for _, edge := range model.Edges {
		label := ""
		if edge.Label != "" {
			label = fmt.Sprintf("|%s|", mermaidEscapeLabel(edge.Label))
		}
		b.WriteString(fmt.Sprintf("    %s -->%s %s\n", edge.From, label, edge.To))
	}

	// State class definitions.
	b.WriteString("\n")
	b.WriteString("    classDef bypassed fill:#4a2a5a,stroke:#2e1a38,color:#ccc,stroke-dasharray:5 5\n")
	b.WriteString("    classDef invalid fill:#8b1a1a,stroke:#5c0e0e,color:#fff\n")
	b.WriteString("    classDef output fill:#2d6a2d,stroke:#1a4a1a,color:#fff\n")

	for _, node := range model.Nodes {
		if cls := mermaidClass(node); cls != "" {
			b.WriteString(fmt.Sprintf("    class %s %s\n", node.ID, cls))
		}
	}
	for _, c := range model.Clusters {
		if c.Color != "" {
			b.WriteString(fmt.Sprintf("    style %s fill:%s33,stroke:%s\n", c.ID, c.Color, c.Color))
		}
	}

	return b.String()
}

// mermaidNodeDef returns a Mermaid node definition with the appropriate shape.
func mermaidNodeDef(node *Node) string {
	label := mermaidEscapeLabel(strings.ReplaceAll(node.Label, "\n", "<br/>"))

	switch node.Kind {
	case NodeKindSource:
		return fmt.Sprintf("%s([%q])", node.ID, label)
	case NodeKindOutput:
		return fmt.Sprintf("%s[[%q]]", node.ID, label)
	case NodeKindUnknown:
		return fmt.Sprintf("%s{{%q}}", node.ID, label)
	default:
		return fmt.Sprintf("%s[%q]", node.ID, label)
	}
}

// mermaidEscapeLabel replaces quotes, which Mermaid labels cannot hold.
func mermaidEscapeLabel(s string) string {
	return strings.ReplaceAll(s, `"`, "#quot;")
}

// mermaidClass picks the highlight class; issues win over bypass.
func mermaidClass(node *Node) string {
	switch {
	case node.Issues > 0:
		return "invalid"
	case node.Bypassed:
		return "bypassed"
	case node.Kind == NodeKindOutput:
		return "output"
	default:
		return ""
	}
}
