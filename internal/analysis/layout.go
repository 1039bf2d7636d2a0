package analysis

import (
	"context"
	"fmt"

	"github.com/rendis/nodeforge/pkg/schema"
)

// Layout issue kinds.
const (
	LayoutOverlap   = "node_overlap"
	LayoutCramped   = "cramped"
	LayoutUngrouped = "ungrouped"
	LayoutNegative  = "negative_position"
)

// LayoutIssue is one node-level layout finding.
type LayoutIssue struct {
	Kind       string  `json:"kind"`
	NodeIDs    []int   `json:"node_ids"`
	Message    string  `json:"message"`
	Suggestion string  `json:"suggestion,omitempty"`
	Percent    float64 `json:"percent,omitempty"`
}

// LayoutIssues reports overlapping nodes, nodes closer than minSpacing,
// ungrouped nodes when groups exist, and nodes at negative coordinates.
func LayoutIssues(ctx context.Context, doc *schema.Document, minSpacing float64) ([]LayoutIssue, error) {
	ix := newIndex(doc)
	out := []LayoutIssue{}

	overlaps, err := NodeOverlaps(ctx, doc, minSpacing)
	if err != nil {
		return nil, err
	}
	for _, o := range overlaps {
		a, b := ix.nodes[o.A], ix.nodes[o.B]
		if o.Kind == KindOverlap {
			out = append(out, LayoutIssue{
				Kind: LayoutOverlap, NodeIDs: []int{o.A, o.B}, Percent: o.Percent,
				Message:    fmt.Sprintf("%s (%d) and %s (%d) overlap by %.0f%%", a.DisplayName(), o.A, b.DisplayName(), o.B, o.Percent),
				Suggestion: fmt.Sprintf("move node %d with update_node or run organize", o.B),
			})
			continue
		}
		out = append(out, LayoutIssue{
			Kind: LayoutCramped, NodeIDs: []int{o.A, o.B},
			Message:    fmt.Sprintf("%s (%d) and %s (%d) are closer than %.0f units", a.DisplayName(), o.A, b.DisplayName(), o.B, minSpacing),
			Suggestion: "distribute_nodes with a larger spacing",
		})
	}

	var ungrouped []int
	for i, id := range ix.sortedIDs() {
		if err := checkEvery(ctx, i); err != nil {
			return nil, err
		}
		n := ix.nodes[id]
		if n.Pos[0] < 0 || n.Pos[1] < 0 {
			out = append(out, LayoutIssue{
				Kind: LayoutNegative, NodeIDs: []int{id},
				Message: fmt.Sprintf("%s (%d) sits at negative coordinates [%.0f, %.0f]", n.DisplayName(), id, n.Pos[0], n.Pos[1]),
			})
		}
		if _, ok := ix.groupOf[id]; !ok {
			ungrouped = append(ungrouped, id)
		}
	}
	if len(doc.Groups) > 0 && len(ungrouped) > 0 {
		out = append(out, LayoutIssue{
			Kind: LayoutUngrouped, NodeIDs: ungrouped,
			Message:    fmt.Sprintf("%d node(s) are outside every group", len(ungrouped)),
			Suggestion: "integrate_node_into_groups or move_nodes_to_group",
		})
	}
	return out, nil
}
