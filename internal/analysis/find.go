package analysis

import (
	"context"
	"reflect"
	"strings"

	"github.com/rendis/nodeforge/pkg/schema"
)

// Predicate evaluates a boolean expression over a node environment.
type Predicate interface {
	Match(ctx context.Context, expression string, env map[string]any) (bool, error)
}

// WidgetMatch matches nodes having a widget, optionally with a given value.
type WidgetMatch struct {
	Name  string `json:"name"`
	Value any    `json:"value,omitempty"`
}

// Query filters nodes. Every set field must hold.
type Query struct {
	Type                  string       `json:"type,omitempty"`
	InGroup               string       `json:"in_group,omitempty"`
	Ungrouped             bool         `json:"ungrouped,omitempty"`
	Bypassed              *bool        `json:"bypassed,omitempty"`
	HasDisconnectedInputs bool         `json:"has_disconnected_inputs,omitempty"`
	Widget                *WidgetMatch `json:"widget,omitempty"`
	// Where is a predicate over id, type, title, mode, bypassed, widgets,
	// group and inputs_connected.
	Where string `json:"where,omitempty"`
}

// NodeSummary is the compact node view returned by searches.
type NodeSummary struct {
	ID    int             `json:"id"`
	Type  string          `json:"type"`
	Title string          `json:"title,omitempty"`
	Mode  schema.NodeMode `json:"mode"`
	Pos   schema.Vec2     `json:"pos"`
	Group string          `json:"group,omitempty"`
}

// FindNodes returns the nodes matching q in id order. A Where clause needs a
// predicate engine.
func FindNodes(ctx context.Context, doc *schema.Document, q Query, pred Predicate) ([]NodeSummary, error) {
	if q.Where != "" && pred == nil {
		return nil, schema.NewError(schema.ErrCodeValidationFailed, "where clauses are not supported without an expression engine")
	}
	ix := newIndex(doc)
	out := []NodeSummary{}
	for i, id := range ix.sortedIDs() {
		if err := checkEvery(ctx, i); err != nil {
			return nil, err
		}
		n := ix.nodes[id]
		group := ix.groupTitle(id)
		if !matchStatic(n, group, q) {
			continue
		}
		if q.Where != "" {
			ok, err := pred.Match(ctx, q.Where, nodeEnv(n, group))
			if err != nil {
				return nil, schema.AsGraphError(err).WithDetails(map[string]any{"node_id": id})
			}
			if !ok {
				continue
			}
		}
		out = append(out, summarize(n, group))
	}
	return out, nil
}

func summarize(n *schema.Node, group string) NodeSummary {
	return NodeSummary{ID: n.ID, Type: n.Type, Title: n.Title, Mode: n.Mode, Pos: n.Pos, Group: group}
}

func matchStatic(n *schema.Node, group string, q Query) bool {
	if q.Type != "" && !strings.Contains(strings.ToLower(n.Type), strings.ToLower(q.Type)) {
		return false
	}
	if q.InGroup != "" && !strings.EqualFold(group, q.InGroup) {
		return false
	}
	if q.Ungrouped && group != "" {
		return false
	}
	if q.Bypassed != nil && (n.Mode == schema.ModeBypassed) != *q.Bypassed {
		return false
	}
	if q.HasDisconnectedInputs && !hasDisconnectedInputs(n) {
		return false
	}
	if q.Widget != nil {
		v, ok := n.Widget(q.Widget.Name)
		if !ok || (q.Widget.Value != nil && !ValuesEqual(v, q.Widget.Value)) {
			return false
		}
	}
	return true
}

func hasDisconnectedInputs(n *schema.Node) bool {
	for _, in := range n.Inputs {
		if in.Link == nil && !in.Optional {
			return true
		}
	}
	return false
}

func nodeEnv(n *schema.Node, group string) map[string]any {
	widgets := make(map[string]any, len(n.Widgets))
	for _, w := range n.Widgets {
		widgets[w.Name] = w.Value
	}
	return map[string]any{
		"id":               n.ID,
		"type":             n.Type,
		"title":            n.Title,
		"mode":             string(n.Mode),
		"bypassed":         n.Mode == schema.ModeBypassed,
		"widgets":          widgets,
		"group":            group,
		"inputs_connected": !hasDisconnectedInputs(n),
	}
}

// ValuesEqual compares widget values, treating numbers by value.
func ValuesEqual(a, b any) bool {
	if fa, ok := number(a); ok {
		fb, ok := number(b)
		return ok && fa == fb
	}
	return reflect.DeepEqual(a, b)
}

func number(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	default:
		return 0, false
	}
}
