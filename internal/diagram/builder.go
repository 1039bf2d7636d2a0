package diagram

import (
	"context"
	"fmt"
	"strconv"

	"github.com/rendis/nodeforge/internal/analysis"
	"github.com/rendis/nodeforge/internal/registry"
	"github.com/rendis/nodeforge/pkg/schema"
)

// Build constructs a DiagramModel from a document. Execution levels come from
// the analysis package; a cyclic document still renders, without levels.
func Build(ctx context.Context, doc *schema.Document, reg registry.Lookup, title string) (*DiagramModel, error) {
	if doc == nil {
		doc = &schema.Document{}
	}
	if title == "" {
		title = "Workflow"
	}

	report, err := analysis.Validate(ctx, doc, reg)
	if err != nil {
		return nil, fmt.Errorf("diagram: validate: %w", err)
	}
	issues := make(map[int]int)
	for _, is := range report.Errors {
		if is.NodeID != 0 {
			issues[is.NodeID]++
		}
	}

	model := &DiagramModel{Title: title}
	clusterOf := make(map[int]string)
	for i, g := range doc.Groups {
		c := &Cluster{ID: "group_" + strconv.Itoa(i), Title: g.Title, Color: g.Color}
		for _, id := range g.Nodes {
			if _, taken := clusterOf[id]; taken {
				continue
			}
			clusterOf[id] = c.ID
			c.NodeIDs = append(c.NodeIDs, nodeID(id))
		}
		model.Clusters = append(model.Clusters, c)
	}

	present := make(map[int]bool, len(doc.Nodes))
	for _, n := range doc.Nodes {
		present[n.ID] = true
		model.Nodes = append(model.Nodes, &Node{
			ID:       nodeID(n.ID),
			Label:    nodeLabel(n),
			Kind:     nodeKind(reg, n),
			Bypassed: n.Mode == schema.ModeBypassed,
			Cluster:  clusterOf[n.ID],
			Issues:   issues[n.ID],
		})
	}

	for _, l := range doc.Links {
		if !present[l.OriginID] || !present[l.TargetID] {
			continue
		}
		model.Edges = append(model.Edges, Edge{From: nodeID(l.OriginID), To: nodeID(l.TargetID), Label: l.Type})
	}

	// Levels are drawn even when the document has errors; only cycles drop them.
	order, err := analysis.ExecutionOrder(ctx, doc)
	if err != nil && !schema.HasCode(err, schema.ErrCodeCycleDetected) {
		return nil, fmt.Errorf("diagram: execution order: %w", err)
	}
	if order == nil {
		return model, nil
	}
	for _, level := range order.Levels {
		ids := make([]string, 0, len(level))
		for _, id := range level {
			ids = append(ids, nodeID(id))
		}
		model.Levels = append(model.Levels, ids)
	}
	return model, nil
}

func nodeID(id int) string { return "n" + strconv.Itoa(id) }

// nodeLabel is "#id Title" with the type on a second line when a custom
// title hides it.
func nodeLabel(n *schema.Node) string {
	name := n.DisplayName()
	if name != n.Type {
		return fmt.Sprintf("#%d %s\n(%s)", n.ID, name, n.Type)
	}
	return fmt.Sprintf("#%d %s", n.ID, name)
}

func nodeKind(reg registry.Lookup, n *schema.Node) NodeKind {
	if reg != nil {
		nt, ok := reg.Get(n.Type)
		if !ok {
			return NodeKindUnknown
		}
		if nt.Output {
			return NodeKindOutput
		}
	}
	if len(n.Inputs) == 0 {
		return NodeKindSource
	}
	return NodeKindProcess
}
