package mcp

import (
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/rendis/nodeforge/internal/engine"
)

var mutationDescriptions = map[string]string{
	engine.ToolCreateNode: "Create nodes from registry types. Each item takes type and optional pos, title, widgets, group and a $ref name " +
		"that later commands of the same batch can use in place of the node id.",
	engine.ToolDeleteNode: "Delete nodes with their links and group memberships. reconnect bridges a deleted pass-through node's " +
		"input to its downstream consumers when the types match.",
	engine.ToolUpdateNode:       "Move or retitle nodes.",
	engine.ToolDuplicateNode:    "Copy nodes with their widget values (links are not copied). Each copy may get a $ref.",
	engine.ToolBypassNode:       "Bypass nodes, or re-enable them with bypass=false.",
	engine.ToolCreateLink:       "Connect an output slot to an input slot. Slots are indexes or names. An occupied input is rebound.",
	engine.ToolDeleteLink:       "Disconnect input slots.",
	engine.ToolUpdateWidget:     "Set widget values. Values are checked against the widget's kind, range, options and constraint.",
	engine.ToolCreateGroup:      "Create groups sized to enclose their member nodes.",
	engine.ToolDeleteGroup:      "Delete groups by index or title, or every group with all=true (or the title 'all' when no group has it). Nodes are kept.",
	engine.ToolUpdateGroup:      "Retitle, recolor, move, resize or re-member groups. Groups never shrink below their members.",
	engine.ToolMoveNodesToGroup: "Move nodes into a group, creating it when to_group names a title that does not exist.",
	engine.ToolMergeGroups:      "Merge several groups into one.",
	engine.ToolSplitGroup:       "Split a group into new groups, one per part.",
	engine.ToolMoveGroup:        "Move a group and its members to pos or by offset.",
	engine.ToolFitGroup:         "Resize a group to fit its members.",
	engine.ToolAlignNodes:       "Align nodes on an edge or center line.",
	engine.ToolDistributeNodes:  "Spread nodes evenly horizontally or vertically.",
	engine.ToolOrganize:         "Lay the whole document out by pipeline stage, grouping nodes by stage.",
	engine.ToolOrganizeLayout:   "Lay the document out following an explicit plan of groups and their node order.",
	engine.ToolIntegrateNode:    "Place an ungrouped node into the group of its closest linked neighbor.",
	engine.ToolClearWorkflow:    "Remove every node, link and group.",
}

// tools returns every registered MCP tool as a ServerTool entry.
func (s *Server) tools() []server.ServerTool {
	out := make([]server.ServerTool, 0, len(engine.MutationTools)+26)
	for _, name := range engine.MutationTools {
		out = append(out, server.ServerTool{Tool: s.mutationTool(name), Handler: s.handleMutation(name)})
	}
	return append(out,
		server.ServerTool{Tool: batchTool(), Handler: s.handleBatch},
		server.ServerTool{Tool: undoTool(), Handler: s.handleUndo},

		server.ServerTool{Tool: getWorkflowTool(), Handler: s.handleGetWorkflow},
		server.ServerTool{Tool: getContextTool(), Handler: s.handleGetContext},
		server.ServerTool{Tool: getNodeTool(), Handler: s.handleGetNode},
		server.ServerTool{Tool: listNodesTool(), Handler: s.handleListNodes},
		server.ServerTool{Tool: findNodesTool(), Handler: s.handleFindNodes},
		server.ServerTool{Tool: modifiedWidgetsTool(), Handler: s.handleModifiedWidgets},
		server.ServerTool{Tool: validateTool(), Handler: s.handleValidate},
		server.ServerTool{Tool: analyzeTool(), Handler: s.handleAnalyze},
		server.ServerTool{Tool: layoutIssuesTool(), Handler: s.handleLayoutIssues},
		server.ServerTool{Tool: groupIssuesTool(), Handler: s.handleGroupIssues},
		server.ServerTool{Tool: queryTool(), Handler: s.handleQuery},
		server.ServerTool{Tool: diagramTool(), Handler: s.handleDiagram},
		server.ServerTool{Tool: nodeSchemaTool(), Handler: s.handleNodeSchema},
		server.ServerTool{Tool: searchTypesTool(), Handler: s.handleSearchTypes},
		server.ServerTool{Tool: widgetOptionsTool(), Handler: s.handleWidgetOptions},
		server.ServerTool{Tool: listModelsTool(), Handler: s.handleListModels},
		server.ServerTool{Tool: workflowJSONTool(), Handler: s.handleWorkflowJSON},

		server.ServerTool{Tool: saveTool(), Handler: s.handleSave},
		server.ServerTool{Tool: loadTool(), Handler: s.handleLoad},
		server.ServerTool{Tool: listSavedTool(), Handler: s.handleListSaved},
		server.ServerTool{Tool: transactionsTool(), Handler: s.handleTransactions},

		server.ServerTool{Tool: patchTool(), Handler: s.handlePatch},
		server.ServerTool{Tool: setJSONTool(), Handler: s.handleSetJSON},
		server.ServerTool{Tool: helpTool(), Handler: s.handleHelp},
	)
}

// --- Tool definitions ---

// mutationTool advertises the command's own JSON Schema as the tool input.
func (s *Server) mutationTool(name string) mcp.Tool {
	desc := mutationDescriptions[name]
	if s.schemas != nil {
		if raw, err := s.schemas.ToolSchema(name); err == nil {
			return mcp.NewToolWithRawSchema(name, desc, raw)
		}
	}
	return mcp.NewTool(name, mcp.WithDescription(desc))
}

func batchTool() mcp.Tool {
	return mcp.NewTool("batch",
		mcp.WithDescription("Run several mutation commands as one atomic transaction. Either every command applies or none does. "+
			`Each command is {"tool": name, ...params}; a $ref set by create_node or duplicate_node can be used by later commands.`),
		mcp.WithArray("commands", mcp.Required(),
			mcp.Items(map[string]any{"type": "object", "required": []string{"tool"}}),
			mcp.Description("Commands in execution order"),
		),
		mcp.WithBoolean("dry_run", mcp.Description("Execute and report, then restore the document")),
		mcp.WithBoolean("validate_only", mcp.Description("Only check the commands; nothing is executed")),
		mcp.WithString("label", mcp.Description("Name for the transaction in the undo history")),
	)
}

func undoTool() mcp.Tool {
	return mcp.NewTool("undo",
		mcp.WithDescription("Revert the most recent committed transactions or patches"),
		mcp.WithNumber("count", mcp.Min(1), mcp.DefaultNumber(1), mcp.Description("How many steps to revert")),
		mcp.WithDestructiveHintAnnotation(true),
	)
}

func getWorkflowTool() mcp.Tool {
	return mcp.NewTool("get_workflow",
		mcp.WithDescription("Summarize the document: counts, groups, types, output and bypassed nodes, undo history"),
		mcp.WithReadOnlyHintAnnotation(true),
	)
}

func getNodeTool() mcp.Tool {
	return mcp.NewTool("get_node",
		mcp.WithDescription("Get one node with its slots, links and widget values"),
		mcp.WithNumber("node_id", mcp.Required(), mcp.Description("Node id")),
		mcp.WithReadOnlyHintAnnotation(true),
	)
}

func listNodesTool() mcp.Tool {
	return mcp.NewTool("list_nodes",
		mcp.WithDescription("List nodes in id order, optionally filtered by type or group title"),
		mcp.WithString("type", mcp.Description("Type substring, case-insensitive")),
		mcp.WithString("group", mcp.Description("Group title")),
		mcp.WithReadOnlyHintAnnotation(true),
	)
}

func findNodesTool() mcp.Tool {
	return mcp.NewTool("find_nodes",
		mcp.WithDescription("Find nodes matching every given criterion. where is an expression over "+
			"id, type, title, mode, bypassed, widgets, group and inputs_connected, e.g. `widgets.steps > 20`."),
		mcp.WithString("type", mcp.Description("Type substring, case-insensitive")),
		mcp.WithString("in_group", mcp.Description("Group title")),
		mcp.WithBoolean("ungrouped", mcp.Description("Only nodes outside every group")),
		mcp.WithBoolean("bypassed", mcp.Description("Only bypassed (true) or active (false) nodes")),
		mcp.WithBoolean("has_disconnected_inputs", mcp.Description("Only nodes with an unbound required input")),
		mcp.WithObject("widget", mcp.Description("{name, value?}: nodes having the widget, optionally with the value")),
		mcp.WithString("where", mcp.Description("Predicate expression")),
		mcp.WithReadOnlyHintAnnotation(true),
	)
}

func modifiedWidgetsTool() mcp.Tool {
	return mcp.NewTool("get_modified_widgets",
		mcp.WithDescription("List widgets whose values differ from the registry defaults"),
		mcp.WithArray("node_ids", mcp.WithNumberItems(), mcp.Description("Restrict to these nodes")),
		mcp.WithReadOnlyHintAnnotation(true),
	)
}

func validateTool() mcp.Tool {
	return mcp.NewTool("validate_workflow",
		mcp.WithDescription("Check that the document can execute: known types, bound required inputs, an active output node, no cycles"),
		mcp.WithReadOnlyHintAnnotation(true),
	)
}

func analyzeTool() mcp.Tool {
	return mcp.NewTool("analyze_workflow",
		mcp.WithDescription("Full diagnostic report: validation, layout and group issues, disconnected and duplicate nodes, complexity, models"),
		mcp.WithBoolean("include_suggestions", mcp.Description("Add suggested fixes")),
		mcp.WithReadOnlyHintAnnotation(true),
	)
}

func layoutIssuesTool() mcp.Tool {
	return mcp.NewTool("detect_layout_issues",
		mcp.WithDescription("Find overlapping or crowded nodes"),
		mcp.WithNumber("min_spacing", mcp.Description("Minimum gap between nodes (default 20)")),
		mcp.WithReadOnlyHintAnnotation(true),
	)
}

func groupIssuesTool() mcp.Tool {
	return mcp.NewTool("detect_group_issues",
		mcp.WithDescription("Find overlapping, crowded, empty, oversized or duplicate-titled groups and members outside their group"),
		mcp.WithNumber("min_gap", mcp.Description("Minimum gap between groups (default 50)")),
		mcp.WithReadOnlyHintAnnotation(true),
	)
}

func queryTool() mcp.Tool {
	return mcp.NewTool("query_workflow",
		mcp.WithDescription("Run a jq query over the document JSON, e.g. `.nodes[] | select(.type == \"KSampler\") | .id`"),
		mcp.WithString("query", mcp.Required(), mcp.Description("jq expression")),
		mcp.WithNumber("limit", mcp.Description("Maximum outputs to return (default and cap 500)")),
		mcp.WithReadOnlyHintAnnotation(true),
	)
}

func diagramTool() mcp.Tool {
	return mcp.NewTool("render_diagram",
		mcp.WithDescription("Render the node graph. mermaid and ascii return text; image returns a PNG; svg and dot return Graphviz output"),
		mcp.WithString("format", mcp.Required(),
			mcp.Enum("mermaid", "ascii", "image", "svg", "dot"),
			mcp.Description("Output format"),
		),
		mcp.WithString("title", mcp.Description("Diagram title")),
		mcp.WithReadOnlyHintAnnotation(true),
	)
}

func nodeSchemaTool() mcp.Tool {
	return mcp.NewTool("get_node_schema",
		mcp.WithDescription("Describe a node type: inputs, outputs and widgets with their kinds, defaults and bounds"),
		mcp.WithString("type", mcp.Required(), mcp.Description("Node type name")),
		mcp.WithReadOnlyHintAnnotation(true),
	)
}

func searchTypesTool() mcp.Tool {
	return mcp.NewTool("search_node_types",
		mcp.WithDescription("Search node types by name, display name or category"),
		mcp.WithString("query", mcp.Description("Search text")),
		mcp.WithString("category", mcp.Description("Restrict to a category")),
		mcp.WithNumber("limit", mcp.DefaultNumber(25), mcp.Description("Maximum results")),
		mcp.WithReadOnlyHintAnnotation(true),
	)
}

func widgetOptionsTool() mcp.Tool {
	return mcp.NewTool("get_widget_options",
		mcp.WithDescription("Describe one widget of a node type, including the allowed options of a COMBO"),
		mcp.WithString("type", mcp.Required(), mcp.Description("Node type name")),
		mcp.WithString("widget", mcp.Required(), mcp.Description("Widget name")),
		mcp.WithReadOnlyHintAnnotation(true),
	)
}

func listModelsTool() mcp.Tool {
	return mcp.NewTool("list_models",
		mcp.WithDescription("List the model files referenced by widget values in the document"),
		mcp.WithReadOnlyHintAnnotation(true),
	)
}

func workflowJSONTool() mcp.Tool {
	return mcp.NewTool("get_workflow_json",
		mcp.WithDescription("Get the full serialized document"),
		mcp.WithReadOnlyHintAnnotation(true),
	)
}

func saveTool() mcp.Tool {
	return mcp.NewTool("save_workflow",
		mcp.WithDescription("Save the document under a name. Each save adds a version"),
		mcp.WithString("name", mcp.Required(), mcp.Description("Document name")),
	)
}

func loadTool() mcp.Tool {
	return mcp.NewTool("load_workflow",
		mcp.WithDescription("Replace the document with a saved version. Clears the undo history"),
		mcp.WithString("name", mcp.Required(), mcp.Description("Document name")),
		mcp.WithNumber("version", mcp.Description("Version to load (default: latest)")),
		mcp.WithDestructiveHintAnnotation(true),
	)
}

func listSavedTool() mcp.Tool {
	return mcp.NewTool("list_saved_workflows",
		mcp.WithDescription("List saved documents, or the versions of one document when name is given"),
		mcp.WithString("name", mcp.Description("Document name")),
		mcp.WithReadOnlyHintAnnotation(true),
	)
}

func transactionsTool() mcp.Tool {
	return mcp.NewTool("list_transactions",
		mcp.WithDescription("List recent journal entries: transactions, undos, patches, saves and loads, newest first"),
		mcp.WithNumber("limit", mcp.DefaultNumber(20), mcp.Description("Maximum entries")),
		mcp.WithString("kind", mcp.Description("Entry kind, e.g. tx_committed")),
		mcp.WithString("tx_id", mcp.Description("Entries of one transaction")),
		mcp.WithReadOnlyHintAnnotation(true),
	)
}

func patchTool() mcp.Tool {
	return mcp.NewTool("patch_workflow_json",
		mcp.WithDescription("Apply RFC 6902 operations (add, remove, replace, copy, move) to the document JSON. "+
			"Graph invariants are not enforced; violations are reported as issues. Can be undone."),
		mcp.WithArray("patches", mcp.Required(),
			mcp.Items(map[string]any{"type": "object", "required": []string{"op", "path"}}),
			mcp.Description("Patch operations"),
		),
		mcp.WithDestructiveHintAnnotation(true),
	)
}

func setJSONTool() mcp.Tool {
	return mcp.NewTool("set_workflow_json",
		mcp.WithDescription("Replace the whole document after schema validation. Clears the undo history"),
		mcp.WithObject("workflow", mcp.Required(), mcp.Description("Document JSON")),
		mcp.WithDestructiveHintAnnotation(true),
	)
}
