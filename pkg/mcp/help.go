package mcp

import (
	"context"
	"sort"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/rendis/nodeforge/internal/analysis"
	"github.com/rendis/nodeforge/internal/engine"
	"github.com/rendis/nodeforge/pkg/schema"
)

// toolCategories groups the tools for help. Tools missing here fall under
// "other".
var toolCategories = map[string]string{
	engine.ToolCreateNode:       "nodes",
	engine.ToolDeleteNode:       "nodes",
	engine.ToolUpdateNode:       "nodes",
	engine.ToolDuplicateNode:    "nodes",
	engine.ToolBypassNode:       "nodes",
	engine.ToolCreateLink:       "links",
	engine.ToolDeleteLink:       "links",
	engine.ToolUpdateWidget:     "widgets",
	engine.ToolCreateGroup:      "groups",
	engine.ToolDeleteGroup:      "groups",
	engine.ToolUpdateGroup:      "groups",
	engine.ToolMoveNodesToGroup: "groups",
	engine.ToolMergeGroups:      "groups",
	engine.ToolSplitGroup:       "groups",
	engine.ToolMoveGroup:        "groups",
	engine.ToolFitGroup:         "groups",
	engine.ToolAlignNodes:       "layout",
	engine.ToolDistributeNodes:  "layout",
	engine.ToolOrganize:         "layout",
	engine.ToolOrganizeLayout:   "layout",
	engine.ToolIntegrateNode:    "layout",
	engine.ToolClearWorkflow:    "nodes",
	"batch":                     "transactions",
	"undo":                      "transactions",
	"get_workflow":              "discovery",
	"get_context":               "discovery",
	"get_node":                  "discovery",
	"list_nodes":                "discovery",
	"find_nodes":                "discovery",
	"get_modified_widgets":      "widgets",
	"validate_workflow":         "analysis",
	"analyze_workflow":          "analysis",
	"detect_layout_issues":      "analysis",
	"detect_group_issues":       "analysis",
	"query_workflow":            "analysis",
	"render_diagram":            "analysis",
	"get_node_schema":           "registry",
	"search_node_types":         "registry",
	"get_widget_options":        "registry",
	"list_models":               "discovery",
	"get_workflow_json":         "low-level",
	"save_workflow":             "persistence",
	"load_workflow":             "persistence",
	"list_saved_workflows":      "persistence",
	"list_transactions":         "persistence",
	"patch_workflow_json":       "low-level",
	"set_workflow_json":         "low-level",
	"help":                      "discovery",
}

// helpTopics are the guides help serves besides tool and category names.
var helpTopics = map[string]string{
	"patterns": "Refs: create_node and duplicate_node items take ref (\"$name\"); later commands of the same batch may use " +
		"\"$name\" wherever a node id goes. Refs end with the transaction; the result lists the ids they were bound to. " +
		"Multi-item: node, link, widget and group tools take a list (nodes, links, updates, groups) or a single item's " +
		"fields at the top level. Slots: an index, a slot name, or a slot type when only one slot has it. " +
		"Inline groups: create_node items take group (a title or {title, color}); a missing group is created.",
	"batch": "batch {commands: [{tool, ...params}], dry_run?, validate_only?, label?} runs the commands in order as one " +
		"transaction. The first failure restores the document and reports failed_index, failed_tool, code and hint. " +
		"dry_run executes and then restores; validate_only checks schemas and refs without touching the document. " +
		"Only mutation tools are allowed; read-only tools, undo and the JSON tools are rejected with NOT_ALLOWED.",
}

func helpTool() mcp.Tool {
	return mcp.NewTool("help",
		mcp.WithDescription("Tool documentation. Without a topic lists every tool; a tool name returns its description and input schema; "+
			"a category (nodes, links, widgets, groups, layout, transactions, discovery, analysis, registry, persistence, low-level) "+
			"lists its tools; 'patterns' and 'batch' explain refs, multi-item calls and transactions"),
		mcp.WithString("topic", mcp.Description("Tool name, category, 'patterns' or 'batch'")),
		mcp.WithReadOnlyHintAnnotation(true),
	)
}

func getContextTool() mcp.Tool {
	return mcp.NewTool("get_context",
		mcp.WithDescription("Document context by detail level. 1: summary, execution flow and issues; 2: + connections by slot name; "+
			"3: + node positions, sizes and widget values. nodes narrows levels 2 and 3 to the given ids. Includes registry stats"),
		mcp.WithNumber("level", mcp.Min(1), mcp.Max(3), mcp.DefaultNumber(2), mcp.Description("Detail level 1-3")),
		mcp.WithArray("nodes", mcp.Items(map[string]any{"type": "integer"}), mcp.Description("Node ids to detail")),
		mcp.WithReadOnlyHintAnnotation(true),
	)
}

func (s *Server) handleGetContext(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	doc, rev := s.snapshot()
	view, err := analysis.Context(ctx, doc, s.registry, analysis.ContextOptions{
		Level: req.GetInt("level", analysis.LevelConnections),
		Nodes: req.GetIntSlice("nodes", nil),
	})
	if err != nil {
		return failure(err)
	}
	return successOf(view, map[string]any{
		"revision": rev,
		"registry": map[string]any{
			"types":      len(s.registry.List()),
			"categories": s.registry.Categories(),
		},
	})
}

// toolEntry is one line of the help index.
type toolEntry struct {
	Name     string `json:"name"`
	Category string `json:"category"`
	Summary  string `json:"summary"`
}

func (s *Server) handleHelp(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	topic := strings.ToLower(strings.TrimSpace(req.GetString("topic", "")))
	if topic == "" {
		entries := s.toolIndex("")
		return success(map[string]any{"tools": entries, "count": len(entries), "topics": s.helpTopicNames()})
	}
	if guide, ok := helpTopics[topic]; ok {
		return success(map[string]any{"topic": topic, "text": guide})
	}
	for _, t := range s.catalog {
		if t.Tool.Name == topic {
			return success(map[string]any{"topic": topic, "category": categoryOf(topic), "tool": t.Tool})
		}
	}
	if entries := s.toolIndex(topic); len(entries) > 0 {
		return success(map[string]any{"topic": topic, "tools": entries, "count": len(entries)})
	}
	return failure(schema.NewErrorf(schema.ErrCodeNotFound, "no help topic %q", topic).
		WithDetails(map[string]any{"topic": topic}).
		WithSuggestion("topics: " + strings.Join(s.helpTopicNames(), ", ")))
}

// toolIndex lists the tools of category, or every tool when it is empty.
func (s *Server) toolIndex(category string) []toolEntry {
	out := []toolEntry{}
	for _, t := range s.catalog {
		cat := categoryOf(t.Tool.Name)
		if category != "" && cat != category {
			continue
		}
		summary, _, _ := strings.Cut(t.Tool.Description, ". ")
		out = append(out, toolEntry{Name: t.Tool.Name, Category: cat, Summary: summary})
	}
	return out
}

func (s *Server) helpTopicNames() []string {
	seen := map[string]bool{}
	var names []string
	for _, t := range s.catalog {
		if cat := categoryOf(t.Tool.Name); !seen[cat] {
			seen[cat] = true
			names = append(names, cat)
		}
	}
	for topic := range helpTopics {
		names = append(names, topic)
	}
	sort.Strings(names)
	return names
}

func categoryOf(tool string) string {
	if cat, ok := toolCategories[tool]; ok {
		return cat
	}
	return "other"
}
