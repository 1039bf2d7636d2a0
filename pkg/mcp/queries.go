package mcp

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/rendis/nodeforge/internal/analysis"
	"github.com/rendis/nodeforge/internal/diagram"
	"github.com/rendis/nodeforge/internal/graph"
	"github.com/rendis/nodeforge/internal/registry"
	"github.com/rendis/nodeforge/pkg/schema"
)

// snapshot returns a private copy of the document and its revision.
func (s *Server) snapshot() (*schema.Document, uint64) {
	return s.executor.Store().SnapshotAt()
}

func (s *Server) handleGetWorkflow(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	doc, rev := s.snapshot()
	return success(map[string]any{
		"revision":     rev,
		"summary":      analysis.Summarize(doc, s.registry),
		"undo_history": s.executor.History().Labels(),
	})
}

func (s *Server) handleGetNode(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireInt("node_id")
	if err != nil {
		return failure(schema.NewError(schema.ErrCodeValidationFailed, "node_id is required"))
	}
	var (
		node  *schema.Node
		group string
	)
	s.executor.Store().View(func(g *graph.Graph) {
		if n, ok := g.Node(id); ok {
			node = n.Clone()
		}
		for _, grp := range g.Groups() {
			for _, member := range grp.Nodes {
				if member == id && group == "" {
					group = grp.Title
				}
			}
		}
	})
	if node == nil {
		return failure(schema.NewErrorf(schema.ErrCodeNotFound, "node %d not found", id).
			WithDetails(map[string]any{"node_id": id}).
			WithHint("list_nodes shows the ids in use"))
	}
	fields := map[string]any{"node": node}
	if group != "" {
		fields["group"] = group
	}
	if nt, ok := s.registry.Get(node.Type); ok {
		fields["category"] = nt.Category
		fields["output_node"] = nt.Output
	}
	return success(fields)
}

func (s *Server) handleListNodes(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	doc, _ := s.snapshot()
	q := analysis.Query{Type: req.GetString("type", ""), InGroup: req.GetString("group", "")}
	nodes, err := analysis.FindNodes(ctx, doc, q, nil)
	if err != nil {
		return failure(err)
	}
	return success(map[string]any{"nodes": nodes, "count": len(nodes)})
}

func (s *Server) handleFindNodes(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var q analysis.Query
	if err := req.BindArguments(&q); err != nil {
		return failure(schema.NewError(schema.ErrCodeValidationFailed, "invalid query").WithCause(err))
	}
	doc, _ := s.snapshot()
	nodes, err := analysis.FindNodes(ctx, doc, q, s.predicates)
	if err != nil {
		return failure(err)
	}
	return success(map[string]any{"nodes": nodes, "count": len(nodes)})
}

func (s *Server) handleModifiedWidgets(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	doc, _ := s.snapshot()
	nodes, err := analysis.ModifiedWidgets(doc, s.registry, req.GetIntSlice("node_ids", nil))
	if err != nil {
		return failure(err)
	}
	return success(map[string]any{"nodes": nodes})
}

func (s *Server) handleValidate(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	doc, rev := s.snapshot()
	report, err := analysis.Validate(ctx, doc, s.registry)
	if err != nil {
		return failure(err)
	}
	return successOf(report, map[string]any{"revision": rev})
}

func (s *Server) handleAnalyze(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	doc, rev := s.snapshot()
	a, err := analysis.Analyze(ctx, doc, s.registry, analysis.AnalyzeOptions{
		MinGap:             s.opts.MinGap,
		MinSpacing:         s.opts.MinSpacing,
		MaxGroupMembers:    s.opts.MaxGroupMembers,
		IncludeSuggestions: req.GetBool("include_suggestions", false),
	})
	if err != nil {
		return failure(err)
	}
	return successOf(a, map[string]any{"revision": rev})
}

func (s *Server) handleLayoutIssues(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	doc, _ := s.snapshot()
	issues, err := analysis.LayoutIssues(ctx, doc, req.GetFloat("min_spacing", orDefault(s.opts.MinSpacing, 20)))
	if err != nil {
		return failure(err)
	}
	return success(map[string]any{"issues": issues, "count": len(issues)})
}

func (s *Server) handleGroupIssues(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	doc, _ := s.snapshot()
	minGap := req.GetFloat("min_gap", orDefault(s.opts.MinGap, 50))
	issues, err := analysis.GroupIssues(ctx, doc, minGap, s.opts.MaxGroupMembers)
	if err != nil {
		return failure(err)
	}
	return success(map[string]any{"issues": issues, "count": len(issues)})
}

func (s *Server) handleQuery(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query, err := req.RequireString("query")
	if err != nil {
		return failure(schema.NewError(schema.ErrCodeValidationFailed, "query is required"))
	}
	doc, _ := s.snapshot()
	res, err := s.queries.Query(ctx, query, doc, req.GetInt("limit", 0))
	if err != nil {
		return failure(err)
	}
	return success(map[string]any{"results": res.Results, "count": len(res.Results), "truncated": res.Truncated})
}

func (s *Server) handleDiagram(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	format, err := req.RequireString("format")
	if err != nil {
		return failure(schema.NewError(schema.ErrCodeValidationFailed, "format is required"))
	}
	doc, _ := s.snapshot()
	model, err := diagram.Build(ctx, doc, s.registry, req.GetString("title", ""))
	if err != nil {
		return failure(err)
	}

	switch format {
	case "mermaid":
		return success(map[string]any{"format": format, "diagram": diagram.RenderMermaid(model)})
	case "ascii":
		return success(map[string]any{"format": format, "diagram": diagram.RenderASCII(model)})
	case "image":
		png, imgErr := diagram.RenderImage(ctx, model)
		if imgErr != nil {
			return failure(imgErr)
		}
		return mcp.NewToolResultImage(model.Title, base64.StdEncoding.EncodeToString(png), "image/png"), nil
	case diagram.FormatSVG, diagram.FormatDOT:
		out, gvErr := diagram.RenderGraphviz(ctx, model, format)
		if gvErr != nil {
			return failure(gvErr)
		}
		return success(map[string]any{"format": format, "diagram": string(out)})
	default:
		return failure(schema.NewErrorf(schema.ErrCodeValidationFailed, "unsupported format %q", format).
			WithSuggestion("use mermaid, ascii, image, svg or dot"))
	}
}

func (s *Server) handleNodeSchema(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	nt, err := s.nodeType(req)
	if err != nil {
		return failure(err)
	}
	widgets := make([]map[string]any, 0, len(nt.Widgets))
	for i := range nt.Widgets {
		widgets = append(widgets, describeWidget(&nt.Widgets[i]))
	}
	return success(map[string]any{
		"type":         nt.Name,
		"display_name": nt.DisplayName,
		"category":     nt.Category,
		"output_node":  nt.Output,
		"size":         nt.Size,
		"inputs":       nt.Inputs,
		"outputs":      nt.Outputs,
		"widgets":      widgets,
	})
}

func (s *Server) handleSearchTypes(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	found := s.registry.Search(req.GetString("query", ""), req.GetString("category", ""), req.GetInt("limit", 25))
	types := make([]map[string]any, 0, len(found))
	for _, t := range found {
		types = append(types, map[string]any{
			"name":         t.Name,
			"display_name": t.DisplayName,
			"category":     t.Category,
			"output_node":  t.Output,
		})
	}
	return success(map[string]any{"types": types, "count": len(types), "categories": s.registry.Categories()})
}

func (s *Server) handleWidgetOptions(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	nt, err := s.nodeType(req)
	if err != nil {
		return failure(err)
	}
	name, err := req.RequireString("widget")
	if err != nil {
		return failure(schema.NewError(schema.ErrCodeValidationFailed, "widget is required"))
	}
	w, ok := nt.Widget(name)
	if !ok {
		return failure(schema.NewErrorf(schema.ErrCodeUnknownWidget, "%s has no widget %q", nt.Name, name).
			WithDetails(map[string]any{"type": nt.Name, "widget": name}).
			WithSuggestion("widgets: " + strings.Join(nt.WidgetNames(), ", ")))
	}
	fields := describeWidget(w)
	fields["type"] = nt.Name
	return success(fields)
}

func (s *Server) handleListModels(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	doc, _ := s.snapshot()
	models := analysis.Models(doc)
	return success(map[string]any{"models": models, "count": len(models)})
}

func (s *Server) handleWorkflowJSON(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	doc, rev := s.snapshot()
	return success(map[string]any{"workflow": doc, "revision": rev})
}

// --- Helpers ---

// nodeType looks up the "type" argument, suggesting close matches.
func (s *Server) nodeType(req mcp.CallToolRequest) (*registry.NodeType, error) {
	name, err := req.RequireString("type")
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeValidationFailed, "type is required")
	}
	if nt, ok := s.registry.Get(name); ok {
		return nt, nil
	}
	ge := schema.NewErrorf(schema.ErrCodeUnknownType, "unknown node type %q", name).
		WithDetails(map[string]any{"type": name})
	if similar := s.registry.Search(name, "", 5); len(similar) > 0 {
		names := make([]string, 0, len(similar))
		for _, t := range similar {
			names = append(names, t.Name)
		}
		ge = ge.WithSuggestion("did you mean " + strings.Join(names, ", ") + "?")
	} else {
		ge = ge.WithHint("search_node_types lists the available types")
	}
	return nil, ge
}

func describeWidget(w *registry.WidgetSpec) map[string]any {
	m := w.Describe()
	if w.Default != nil {
		m["default"] = w.Default
	}
	if w.Constraint != "" {
		m["constraint"] = w.Constraint
	}
	return m
}

// successOf flattens a result struct into the envelope next to extra.
func successOf(v any, extra map[string]any) (*mcp.CallToolResult, error) {
	fields, err := toMap(v)
	if err != nil {
		return failure(err)
	}
	for k, val := range extra {
		fields[k] = val
	}
	return success(fields)
}

// toMap converts a value to its generic JSON object form.
func toMap(v any) (map[string]any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeInternal, "encode result").WithCause(err)
	}
	out := map[string]any{}
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, schema.NewError(schema.ErrCodeInternal, "decode result").WithCause(err)
	}
	return out, nil
}

func orDefault(v, def float64) float64 {
	if v > 0 {
		return v
	}
	return def
}
