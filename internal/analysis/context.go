package analysis

import (
	"context"
	"sort"

	"github.com/rendis/nodeforge/internal/registry"
	"github.com/rendis/nodeforge/pkg/schema"
)

// Context detail levels. Each level includes the previous one.
const (
	LevelOverview    = 1 // summary, flow and issues
	LevelConnections = 2 // + links by slot name
	LevelFull        = 3 // + positions, sizes and widget values
)

// ContextOptions selects how much of the document Context returns. Nodes
// narrows connections and node details to links touching, and nodes in, the
// set.
type ContextOptions struct {
	Level int
	Nodes []int
}

// Connection is a live link described by slot names.
type Connection struct {
	LinkID   int    `json:"link_id"`
	From     int    `json:"from"`
	FromSlot string `json:"from_slot"`
	To       int    `json:"to"`
	ToSlot   string `json:"to_slot"`
	Type     string `json:"type"`
}

// DocumentContext is a layered view of the document for a caller about to
// edit it.
type DocumentContext struct {
	Level       int            `json:"level"`
	Summary     *Summary       `json:"summary"`
	CanExecute  bool           `json:"can_execute"`
	Flow        [][]int        `json:"flow,omitempty"`
	Issues      []string       `json:"issues"`
	Connections []Connection   `json:"connections,omitempty"`
	Nodes       []*schema.Node `json:"nodes,omitempty"`
}

// Context builds the document view at opts.Level (LevelConnections when
// zero). Unknown ids in opts.Nodes fail with NOT_FOUND.
func Context(ctx context.Context, doc *schema.Document, reg registry.Lookup, opts ContextOptions) (*DocumentContext, error) {
	level := opts.Level
	if level == 0 {
		level = LevelConnections
	}
	if level < LevelOverview || level > LevelFull {
		return nil, schema.NewErrorf(schema.ErrCodeValidationFailed, "level must be 1-3, got %d", level).
			WithDetails(map[string]any{"level": level})
	}
	ix := newIndex(doc)
	want, err := nodeFilter(ix, opts.Nodes)
	if err != nil {
		return nil, err
	}

	report, err := Validate(ctx, doc, reg)
	if err != nil {
		return nil, err
	}
	out := &DocumentContext{
		Level:      level,
		Summary:    Summarize(doc, reg),
		CanExecute: report.CanExecute,
		Flow:       report.Levels,
		Issues:     make([]string, 0, len(report.Errors)+len(report.Warnings)),
	}
	for _, e := range report.Errors {
		out.Issues = append(out.Issues, "error: "+e.Message)
	}
	for _, w := range report.Warnings {
		out.Issues = append(out.Issues, "warning: "+w.Message)
	}
	if level < LevelConnections {
		return out, nil
	}

	out.Connections = []Connection{}
	for i, l := range doc.Links {
		if err := checkEvery(ctx, i); err != nil {
			return nil, err
		}
		if !ix.live(l) || (want != nil && !want[l.OriginID] && !want[l.TargetID]) {
			continue
		}
		out.Connections = append(out.Connections, Connection{
			LinkID:   l.ID,
			From:     l.OriginID,
			FromSlot: ix.nodes[l.OriginID].Outputs[l.OriginSlot].Name,
			To:       l.TargetID,
			ToSlot:   ix.nodes[l.TargetID].Inputs[l.TargetSlot].Name,
			Type:     l.Type,
		})
	}
	sort.Slice(out.Connections, func(i, j int) bool { return out.Connections[i].LinkID < out.Connections[j].LinkID })
	if level < LevelFull {
		return out, nil
	}

	out.Nodes = []*schema.Node{}
	for _, id := range ix.sortedIDs() {
		if want == nil || want[id] {
			out.Nodes = append(out.Nodes, ix.nodes[id].Clone())
		}
	}
	return out, nil
}

// nodeFilter returns nil when ids is empty, meaning every node.
func nodeFilter(ix *index, ids []int) (map[int]bool, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	want := make(map[int]bool, len(ids))
	var missing []int
	for _, id := range ids {
		if _, ok := ix.nodes[id]; !ok {
			missing = append(missing, id)
			continue
		}
		want[id] = true
	}
	if len(missing) > 0 {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "%d of the requested nodes do not exist", len(missing)).
			WithDetails(map[string]any{"node_ids": missing})
	}
	return want, nil
}
