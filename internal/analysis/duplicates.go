package analysis

import (
	"context"
	"encoding/json"
	"sort"

	"github.com/rendis/nodeforge/pkg/schema"
)

// Duplicate is a set of nodes that look interchangeable. Advisory only.
type Duplicate struct {
	Type    string `json:"type"`
	NodeIDs []int  `json:"node_ids"`
}

type outEdge struct {
	Slot       int `json:"s"`
	TargetID   int `json:"t"`
	TargetSlot int `json:"ts"`
}

type signature struct {
	Type    string         `json:"type"`
	Widgets map[string]any `json:"widgets"`
	Out     []outEdge      `json:"out"`
}

// Duplicates groups nodes with the same type, the same widget values and the
// same outgoing connections. Integer and float widget values compare by
// numeric value.
func Duplicates(ctx context.Context, doc *schema.Document) ([]Duplicate, error) {
	ix := newIndex(doc)
	buckets := make(map[string][]int)
	var keys []string
	for i, id := range ix.sortedIDs() {
		if err := checkEvery(ctx, i); err != nil {
			return nil, err
		}
		key, err := signatureKey(ix, ix.nodes[id])
		if err != nil {
			return nil, err
		}
		if _, seen := buckets[key]; !seen {
			keys = append(keys, key)
		}
		buckets[key] = append(buckets[key], id)
	}

	out := []Duplicate{}
	for _, k := range keys {
		ids := buckets[k]
		if len(ids) < 2 {
			continue
		}
		out = append(out, Duplicate{Type: ix.nodes[ids[0]].Type, NodeIDs: ids})
	}
	return out, nil
}

// signatureKey serializes the comparable parts of a node. encoding/json
// prints int64(5) and float64(5) identically and sorts map keys.
func signatureKey(ix *index, n *schema.Node) (string, error) {
	sig := signature{Type: n.Type, Widgets: make(map[string]any, len(n.Widgets)), Out: []outEdge{}}
	for _, w := range n.Widgets {
		sig.Widgets[w.Name] = w.Value
	}
	for slot, o := range n.Outputs {
		for _, lid := range o.Links {
			if l, ok := ix.links[lid]; ok {
				sig.Out = append(sig.Out, outEdge{Slot: slot, TargetID: l.TargetID, TargetSlot: l.TargetSlot})
			}
		}
	}
	sort.Slice(sig.Out, func(i, j int) bool {
		a, b := sig.Out[i], sig.Out[j]
		if a.Slot != b.Slot {
			return a.Slot < b.Slot
		}
		if a.TargetID != b.TargetID {
			return a.TargetID < b.TargetID
		}
		return a.TargetSlot < b.TargetSlot
	})
	data, err := json.Marshal(sig)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
