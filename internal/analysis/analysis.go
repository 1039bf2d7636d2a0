// Package analysis computes read-only diagnostics over a document snapshot.
// Nothing here mutates the document; every function accepts a context and
// checks it between iterations so large documents can be abandoned.
package analysis

import (
	"context"
	"sort"

	"github.com/rendis/nodeforge/internal/registry"
	"github.com/rendis/nodeforge/pkg/schema"
)

// Issue codes that are not shared with primitive errors.
const (
	IssueRequiredInput   = "REQUIRED_INPUT_UNBOUND"
	IssueOptionalInput   = "OPTIONAL_INPUT_UNBOUND"
	IssueDanglingLink    = "DANGLING_LINK"
	IssueNoOutput        = "NO_OUTPUT_NODE"
	IssueDisconnected    = "DISCONNECTED_NODE"
	IssueBypassedOutput  = "BYPASSED_OUTPUT_NODE"
	IssueGroupMembership = "GROUP_MEMBERSHIP"
)

// index is a lookup view over a document.
type index struct {
	doc     *schema.Document
	nodes   map[int]*schema.Node
	links   map[int]*schema.Link
	groupOf map[int]int
}

func newIndex(doc *schema.Document) *index {
	ix := &index{
		doc:     doc,
		nodes:   make(map[int]*schema.Node, len(doc.Nodes)),
		links:   make(map[int]*schema.Link, len(doc.Links)),
		groupOf: make(map[int]int),
	}
	for _, n := range doc.Nodes {
		ix.nodes[n.ID] = n
	}
	for _, l := range doc.Links {
		ix.links[l.ID] = l
	}
	for gi, g := range doc.Groups {
		for _, id := range g.Nodes {
			if _, seen := ix.groupOf[id]; !seen {
				ix.groupOf[id] = gi
			}
		}
	}
	return ix
}

// sortedIDs returns node ids ascending.
func (ix *index) sortedIDs() []int {
	ids := make([]int, 0, len(ix.nodes))
	for id := range ix.nodes {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

// live reports whether a link has existing endpoints with valid slots.
func (ix *index) live(l *schema.Link) bool {
	o, ok := ix.nodes[l.OriginID]
	if !ok || l.OriginSlot < 0 || l.OriginSlot >= len(o.Outputs) {
		return false
	}
	t, ok := ix.nodes[l.TargetID]
	return ok && l.TargetSlot >= 0 && l.TargetSlot < len(t.Inputs)
}

func (ix *index) groupTitle(id int) string {
	if gi, ok := ix.groupOf[id]; ok {
		return ix.doc.Groups[gi].Title
	}
	return ""
}

// isTerminal reports whether the node's type is a registered output type.
func isTerminal(reg registry.Lookup, n *schema.Node) bool {
	nt, ok := reg.Get(n.Type)
	return ok && nt.Output
}

// checkEvery returns ctx.Err() every 64 iterations.
func checkEvery(ctx context.Context, i int) error {
	if i&63 == 0 {
		return ctx.Err()
	}
	return nil
}
