package analysis

import (
	"github.com/rendis/nodeforge/internal/registry"
	"github.com/rendis/nodeforge/pkg/schema"
)

// ModifiedWidget is a widget whose value differs from its registry default.
type ModifiedWidget struct {
	Name    string `json:"name"`
	Value   any    `json:"value"`
	Default any    `json:"default"`
}

// ModifiedNode lists the modified widgets of one node.
type ModifiedNode struct {
	NodeID  int              `json:"node_id"`
	Type    string           `json:"type"`
	Title   string           `json:"title,omitempty"`
	Widgets []ModifiedWidget `json:"widgets"`
}

// ModifiedWidgets reports widgets that differ from their defaults for ids,
// or for every node when ids is empty. Nodes with nothing modified and
// nodes of unknown types are omitted.
func ModifiedWidgets(doc *schema.Document, reg registry.Lookup, ids []int) ([]ModifiedNode, error) {
	ix := newIndex(doc)
	if len(ids) == 0 {
		ids = ix.sortedIDs()
	}
	var missing []int
	for _, id := range ids {
		if _, ok := ix.nodes[id]; !ok {
			missing = append(missing, id)
		}
	}
	if len(missing) > 0 {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "%d node(s) not found", len(missing)).
			WithDetails(map[string]any{"node_ids": missing})
	}

	out := []ModifiedNode{}
	for _, id := range ids {
		n := ix.nodes[id]
		nt, ok := reg.Get(n.Type)
		if !ok {
			continue
		}
		var changed []ModifiedWidget
		for _, w := range n.Widgets {
			spec, ok := nt.Widget(w.Name)
			if !ok || ValuesEqual(w.Value, spec.Default) {
				continue
			}
			changed = append(changed, ModifiedWidget{Name: w.Name, Value: w.Value, Default: spec.Default})
		}
		if len(changed) > 0 {
			out = append(out, ModifiedNode{NodeID: id, Type: n.Type, Title: n.Title, Widgets: changed})
		}
	}
	return out, nil
}
