package diagram

import (
	"bytes"
	"context"
	"fmt"

	"github.com/goccy/go-graphviz"
	"github.com/goccy/go-graphviz/cgraph"
)

// Graphviz output formats.
const (
	FormatPNG = "png"
	FormatSVG = "svg"
	FormatDOT = "dot"
)

// RenderGraphviz lays out a DiagramModel with dot and renders it as PNG, SVG
// or DOT source.
func RenderGraphviz(ctx context.Context, model *DiagramModel, format string) ([]byte, error) {
	var out graphviz.Format
	switch format {
	case FormatPNG, "":
		out = graphviz.PNG
	case FormatSVG:
		out = graphviz.SVG
	case FormatDOT:
		out = graphviz.XDOT
	default:
		return nil, fmt.Errorf("diagram: unsupported graphviz format %q", format)
	}

	gv, err := graphviz.New(ctx)
	if err != nil {
		return nil, fmt.Errorf("diagram: create graphviz: %w", err)
	}
	defer gv.Close()

	gv.SetLayout(graphviz.DOT)

	graph, err := gv.Graph()
	if err != nil {
		return nil, fmt.Errorf("diagram: create graph: %w", err)
	}
	defer graph.Close()

	graph.SetRankDir(cgraph.LRRank)
	if model.Title != "" {
		graph.SetLabel(model.Title)
	}

	// Groups become clusters; dot only draws subgraphs named cluster_*.
	parents := make(map[string]*cgraph.Graph, len(model.Clusters))
	for _, c := range model.Clusters {
		sub, subErr := graph.CreateSubGraphByName("cluster_" + c.ID)
		if subErr != nil {
			return nil, fmt.Errorf("diagram: create cluster %s: %w", c.Title, subErr)
		}
		sub.SetLabel(c.Title)
		sub.SetStyle(cgraph.RoundedGraphStyle)
		if c.Color != "" {
			sub.SetBackgroundColor(c.Color + "33")
		}
		parents[c.ID] = sub
	}

	gvNodes := make(map[string]*cgraph.Node, len(model.Nodes))
	for _, node := range model.Nodes {
		parent := graph
		if sub, ok := parents[node.Cluster]; ok {
			parent = sub
		}
		gvNode, nErr := parent.CreateNodeByName(node.ID)
		if nErr != nil {
			return nil, fmt.Errorf("diagram: create node %s: %w", node.ID, nErr)
		}
		gvNode.SetLabel(node.Label)
		applyNodeStyle(gvNode, node)
		gvNodes[node.ID] = gvNode
	}

	for _, edge := range model.Edges {
		fromGV, toGV := gvNodes[edge.From], gvNodes[edge.To]
		if fromGV == nil || toGV == nil {
			continue
		}
		e, eErr := graph.CreateEdgeByName("", fromGV, toGV)
		if eErr != nil {
			return nil, fmt.Errorf("diagram: create edge %s->%s: %w", edge.From, edge.To, eErr)
		}
		if edge.Label != "" {
			e.SetLabel(edge.Label)
			e.SetFontSize(9)
		}
	}

	var buf bytes.Buffer
	if err := gv.Render(ctx, graph, out, &buf); err != nil {
		return nil, fmt.Errorf("diagram: render %s: %w", format, err)
	}
	return buf.Bytes(), nil
}

// RenderImage renders a DiagramModel as PNG bytes.
func RenderImage(ctx context.Context, model *DiagramModel) ([]byte, error) {
	return RenderGraphviz(ctx, model, FormatPNG)
}

// applyNodeStyle sets graphviz attributes based on node kind and state.
func applyNodeStyle(gvNode *cgraph.Node, node *Node) {
	switch node.Kind {
	case NodeKindSource:
		gvNode.SetShape(cgraph.CylinderShape)
	case NodeKindOutput:
		gvNode.SetShape(cgraph.DoubleOctagonShape)
	case NodeKindUnknown:
		gvNode.SetShape(cgraph.HexagonShape)
	default:
		gvNode.SetShape(cgraph.BoxShape)
	}

	switch {
	case node.Issues > 0:
		gvNode.SetStyle(cgraph.FilledNodeStyle)
		gvNode.SetFillColor("#8b1a1a")
		gvNode.SetFontColor("white")
	case node.Bypassed:
		gvNode.SetStyle(cgraph.DashedNodeStyle)
		gvNode.SetFontColor("#888888")
	}
}
