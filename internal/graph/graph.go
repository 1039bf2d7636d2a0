// Package graph owns the canonical in-memory document. Every mutation goes
// through a Graph primitive; each primitive validates fully before it
// mutates, so a failed call leaves the document untouched.
package graph

import (
	"context"
	"fmt"
	"sort"

	"github.com/rendis/nodeforge/internal/registry"
	"github.com/rendis/nodeforge/pkg/schema"
	"github.com/tidwall/btree"
)

// Layout defaults, in canvas units.
const (
	DefaultGroupPadding  = 60
	DefaultGroupSpacing  = 120
	DefaultNodeSpacing   = 30
	DefaultDuplicateStep = 50
)

// ConstraintChecker evaluates a widget constraint expression.
type ConstraintChecker interface {
	Check(ctx context.Context, expression string, data map[string]any) (bool, error)
}

// Options tunes primitive behavior.
type Options struct {
	// GroupPadding is the margin kept between a group's edge and its members.
	GroupPadding float64
	// NodeSpacing is the gap used when a node is auto-placed.
	NodeSpacing float64
	// StrictLinkDelete makes deleting an unbound input slot fail with NOT_FOUND
	// instead of succeeding as a no-op.
	StrictLinkDelete bool
	// Constraints evaluates registry widget constraints. Nil skips them.
	Constraints ConstraintChecker
}

func (o Options) withDefaults() Options {
	if o.GroupPadding <= 0 {
		o.GroupPadding = DefaultGroupPadding
	}
	if o.NodeSpacing <= 0 {
		o.NodeSpacing = DefaultNodeSpacing
	}
	return o
}

// Counts tallies created, modified and deleted entities of one kind.
type Counts struct {
	Created  int `json:"created"`
	Modified int `json:"modified"`
	Deleted  int `json:"deleted"`
}

// ChangeSet tallies entity changes since the last ResetChanges.
type ChangeSet struct {
	Nodes  Counts `json:"nodes"`
	Links  Counts `json:"links"`
	Groups Counts `json:"groups"`
}

// Graph is a single document plus its registry. Not safe for concurrent use;
// wrap it in a Store.
type Graph struct {
	reg  registry.Lookup
	opts Options

	nodes  btree.Map[int, *schema.Node]
	links  btree.Map[int, *schema.Link]
	groups []*schema.Group

	nextNodeID int
	nextLinkID int

	revision uint64
	changes  ChangeSet
}

// New creates an empty graph.
func New(reg registry.Lookup, opts Options) *Graph {
	return &Graph{
		reg:        reg,
		opts:       opts.withDefaults(),
		nextNodeID: 1,
		nextLinkID: 1,
	}
}

// Registry returns the node-type lookup the graph validates against.
func (g *Graph) Registry() registry.Lookup { return g.reg }

// Options returns the effective options.
func (g *Graph) Options() Options { return g.opts }

// Revision increases on every successful mutation, including Restore.
func (g *Graph) Revision() uint64 { return g.revision }

// Changes returns the tally since the last ResetChanges.
func (g *Graph) Changes() ChangeSet { return g.changes }

// ResetChanges zeroes the change tally.
func (g *Graph) ResetChanges() { g.changes = ChangeSet{} }

func (g *Graph) touch() { g.revision++ }

// Node returns a node by id. Callers must not mutate it.
func (g *Graph) Node(id int) (*schema.Node, bool) {
	return g.nodes.Get(id)
}

// Link returns a link by id. Callers must not mutate it.
func (g *Graph) Link(id int) (*schema.Link, bool) {
	return g.links.Get(id)
}

// NodeCount returns the number of nodes.
func (g *Graph) NodeCount() int { return g.nodes.Len() }

// LinkCount returns the number of links.
func (g *Graph) LinkCount() int { return g.links.Len() }

// Groups returns the group list. Callers must not mutate it.
func (g *Graph) Groups() []*schema.Group { return g.groups }

// NodeIDs returns every node id in ascending order.
func (g *Graph) NodeIDs() []int {
	ids := make([]int, 0, g.nodes.Len())
	g.nodes.Scan(func(id int, _ *schema.Node) bool {
		ids = append(ids, id)
		return true
	})
	return ids
}

func (g *Graph) requireNode(id int) (*schema.Node, error) {
	n, ok := g.nodes.Get(id)
	if !ok {
		return nil, notFoundNode(id)
	}
	return n, nil
}

func notFoundNode(id int) *schema.GraphError {
	return schema.NewErrorf(schema.ErrCodeNotFound, "node %d not found", id).
		WithDetails(map[string]any{"node_id": id}).
		WithHint("use list_nodes to see existing node ids")
}

// requireNodes checks every id and reports all missing ones at once.
func (g *Graph) requireNodes(ids []int) error {
	var missing []int
	for _, id := range ids {
		if _, ok := g.nodes.Get(id); !ok {
			missing = append(missing, id)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	if len(missing) == 1 {
		return notFoundNode(missing[0])
	}
	return schema.NewErrorf(schema.ErrCodeNotFound, "%d nodes not found", len(missing)).
		WithDetails(map[string]any{"node_ids": missing}).
		WithHint("use list_nodes to see existing node ids")
}

// Serialize returns a deep copy of the document. Nodes and links are ordered
// by id; groups keep list order.
func (g *Graph) Serialize() *schema.Document {
	doc := &schema.Document{
		Nodes:      make([]*schema.Node, 0, g.nodes.Len()),
		Links:      make([]*schema.Link, 0, g.links.Len()),
		Groups:     make([]*schema.Group, 0, len(g.groups)),
		NextNodeID: g.nextNodeID,
		NextLinkID: g.nextLinkID,
	}
	g.nodes.Scan(func(_ int, n *schema.Node) bool {
		doc.Nodes = append(doc.Nodes, n.Clone())
		return true
	})
	g.links.Scan(func(_ int, l *schema.Link) bool {
		lc := *l
		doc.Links = append(doc.Links, &lc)
		return true
	})
	for _, gr := range g.groups {
		doc.Groups = append(doc.Groups, gr.Clone())
	}
	return doc
}

// Restore replaces the whole document with a deep copy of doc. Counters are
// raised past the highest id present so ids are never reused.
func (g *Graph) Restore(doc *schema.Document) {
	var nodes btree.Map[int, *schema.Node]
	var links btree.Map[int, *schema.Link]
	maxNode, maxLink := 0, 0
	if doc == nil {
		doc = &schema.Document{}
	}
	for _, n := range doc.Nodes {
		nodes.Set(n.ID, n.Clone())
		maxNode = max(maxNode, n.ID)
	}
	for _, l := range doc.Links {
		lc := *l
		links.Set(l.ID, &lc)
		maxLink = max(maxLink, l.ID)
	}
	groups := make([]*schema.Group, len(doc.Groups))
	for i, gr := range doc.Groups {
		groups[i] = gr.Clone()
	}

	g.nodes = nodes
	g.links = links
	g.groups = groups
	g.nextNodeID = max(doc.NextNodeID, maxNode+1, 1)
	g.nextLinkID = max(doc.NextLinkID, maxLink+1, 1)
	g.touch()
}

// Check verifies the structural invariants of the current document and
// returns every violation. Used after direct patches, which bypass the
// primitives.
func (g *Graph) Check() *schema.ValidationResult {
	res := &schema.ValidationResult{}
	g.links.Scan(func(id int, l *schema.Link) bool {
		origin, ok := g.nodes.Get(l.OriginID)
		if !ok || l.OriginSlot < 0 || l.OriginSlot >= len(origin.Outputs) {
			res.AddError(fmt.Sprintf("links[%d]", id), schema.ErrCodeInvariant, "link origin does not exist")
			return true
		}
		target, ok := g.nodes.Get(l.TargetID)
		if !ok || l.TargetSlot < 0 || l.TargetSlot >= len(target.Inputs) {
			res.AddError(fmt.Sprintf("links[%d]", id), schema.ErrCodeInvariant, "link target does not exist")
			return true
		}
		if in := target.Inputs[l.TargetSlot]; in.Link == nil || *in.Link != id {
			res.AddError(fmt.Sprintf("links[%d]", id), schema.ErrCodeInvariant, "target slot does not reference link")
		}
		return true
	})

	member := make(map[int]int)
	for gi, gr := range g.groups {
		for _, id := range gr.Nodes {
			if prev, dup := member[id]; dup {
				res.AddError(fmt.Sprintf("groups[%d]", gi), schema.ErrCodeInvariant,
					fmt.Sprintf("node %d is also a member of group %d", id, prev))
			}
			member[id] = gi
			if _, ok := g.nodes.Get(id); !ok {
				res.AddError(fmt.Sprintf("groups[%d]", gi), schema.ErrCodeInvariant, fmt.Sprintf("member node %d does not exist", id))
			}
		}
	}
	return res
}

// sortedInts returns a sorted copy.
func sortedInts(ids []int) []int {
	out := append([]int(nil), ids...)
	sort.Ints(out)
	return out
}

// Rollback restores doc and resets the revision to rev, so an undone
// transaction does not count as a change.
func (g *Graph) Rollback(doc *schema.Document, rev uint64) {
	g.Restore(doc)
	g.revision = rev
	g.changes = ChangeSet{}
}

// NextIDs returns the ids the next created node and link will get.
func (g *Graph) NextIDs() (node, link int) { return g.nextNodeID, g.nextLinkID }
