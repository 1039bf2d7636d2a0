package analysis

import (
	"context"
	"errors"
	"sort"

	"github.com/rendis/nodeforge/pkg/schema"
	"gonum.org/v1/gonum/graph/simple"
	"gonum.org/v1/gonum/graph/topo"
)

// Order is a deterministic execution order of the document's nodes.
type Order struct {
	Sorted []int   `json:"order"`
	Roots  []int   `json:"roots"`
	Levels [][]int `json:"levels"`
}

// ExecutionOrder sorts nodes topologically along links with Kahn's
// algorithm, lowest id first among ready nodes. Nodes in the same level have
// every dependency satisfied by earlier levels. A cycle fails with
// CYCLE_DETECTED listing the cyclic components; no partial order is returned.
func ExecutionOrder(ctx context.Context, doc *schema.Document) (*Order, error) {
	ix := newIndex(doc)
	deps := make(map[int][]int, len(ix.nodes))
	dependents := make(map[int][]int, len(ix.nodes))
	inDegree := make(map[int]int, len(ix.nodes))
	for id := range ix.nodes {
		inDegree[id] = 0
	}
	for _, l := range doc.Links {
		if !ix.live(l) {
			continue
		}
		deps[l.TargetID] = append(deps[l.TargetID], l.OriginID)
		dependents[l.OriginID] = append(dependents[l.OriginID], l.TargetID)
		inDegree[l.TargetID]++
	}

	queue := make([]int, 0)
	for _, id := range ix.sortedIDs() {
		if inDegree[id] == 0 {
			queue = append(queue, id)
		}
	}
	order := &Order{Roots: append([]int{}, queue...)}

	sorted := make([]int, 0, len(ix.nodes))
	for i := 0; len(queue) > 0; i++ {
		if err := checkEvery(ctx, i); err != nil {
			return nil, err
		}
		id := queue[0]
		queue = queue[1:]
		sorted = append(sorted, id)

		next := append([]int(nil), dependents[id]...)
		sort.Ints(next)
		for _, d := range next {
			inDegree[d]--
			if inDegree[d] == 0 {
				queue = append(queue, d)
			}
		}
	}

	if len(sorted) != len(ix.nodes) {
		cycles := Cycles(doc)
		return nil, schema.NewErrorf(schema.ErrCodeCycleDetected, "workflow contains %d cycle(s)", len(cycles)).
			WithDetails(map[string]any{"cycles": cycles}).
			WithHint("a node's output cannot feed back into its own inputs").
			WithSuggestion("remove one link of each listed cycle with delete_node_link")
	}
	order.Sorted = sorted
	order.Levels = levels(sorted, deps)
	return order, nil
}

// levels groups sorted ids by their longest dependency chain.
func levels(sorted []int, deps map[int][]int) [][]int {
	depth := make(map[int]int, len(sorted))
	maxLevel := 0
	for _, id := range sorted {
		d := 0
		for _, dep := range deps[id] {
			d = max(d, depth[dep]+1)
		}
		depth[id] = d
		maxLevel = max(maxLevel, d)
	}
	if len(sorted) == 0 {
		return nil
	}
	out := make([][]int, maxLevel+1)
	for _, id := range sorted {
		out[depth[id]] = append(out[depth[id]], id)
	}
	return out
}

// Cycles returns every cyclic component, each sorted ascending. Self links
// form single-node components.
func Cycles(doc *schema.Document) [][]int {
	ix := newIndex(doc)
	g := simple.NewDirectedGraph()
	for _, id := range ix.sortedIDs() {
		g.AddNode(simple.Node(int64(id)))
	}
	selfLoops := make(map[int]bool)
	for _, l := range doc.Links {
		if !ix.live(l) {
			continue
		}
		if l.OriginID == l.TargetID {
			selfLoops[l.OriginID] = true
			continue
		}
		g.SetEdge(g.NewEdge(simple.Node(int64(l.OriginID)), simple.Node(int64(l.TargetID))))
	}

	var out [][]int
	inComponent := make(map[int]bool)
	if _, err := topo.Sort(g); err != nil {
		var u topo.Unorderable
		if errors.As(err, &u) {
			for _, comp := range u {
				ids := make([]int, len(comp))
				for i, n := range comp {
					ids[i] = int(n.ID())
					inComponent[ids[i]] = true
				}
				sort.Ints(ids)
				out = append(out, ids)
			}
		}
	}
	for id := range selfLoops {
		if !inComponent[id] {
			out = append(out, []int{id})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i][0] < out[j][0] })
	return out
}
