package analysis

import (
	"context"

	"github.com/rendis/nodeforge/internal/registry"
	"github.com/rendis/nodeforge/pkg/schema"
	"gonum.org/v1/gonum/graph"
	"gonum.org/v1/gonum/graph/simple"
	"gonum.org/v1/gonum/graph/traverse"
)

// Disconnected returns, ascending, the nodes with no path in either direction
// to an output node. Without output nodes every node is disconnected.
func Disconnected(ctx context.Context, doc *schema.Document, reg registry.Lookup) ([]int, error) {
	ix := newIndex(doc)
	g := simple.NewUndirectedGraph()
	ids := ix.sortedIDs()
	for _, id := range ids {
		g.AddNode(simple.Node(int64(id)))
	}
	for _, l := range doc.Links {
		if ix.live(l) && l.OriginID != l.TargetID {
			g.SetEdge(g.NewEdge(simple.Node(int64(l.OriginID)), simple.Node(int64(l.TargetID))))
		}
	}

	reached := make(map[int]bool, len(ids))
	bfs := traverse.BreadthFirst{
		Visit: func(n graph.Node) { reached[int(n.ID())] = true },
	}
	for i, id := range ids {
		if err := checkEvery(ctx, i); err != nil {
			return nil, err
		}
		if reached[id] || !isTerminal(reg, ix.nodes[id]) {
			continue
		}
		bfs.Walk(g, simple.Node(int64(id)), nil)
	}

	out := []int{}
	for _, id := range ids {
		if !reached[id] {
			out = append(out, id)
		}
	}
	return out, nil
}
