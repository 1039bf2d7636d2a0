package mcp

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/nodeforge/internal/engine"
	"github.com/rendis/nodeforge/internal/logging"
)

func TestNewServer(t *testing.T) {
	e := newTestEnv(t, false)
	require.NotNil(t, e.server.mcpServer)
	assert.NotNil(t, e.server.logger)
	assert.NotNil(t, e.server.queries, "jq engine defaults when not injected")
	assert.Regexp(t, `^local-[0-9a-f]{8}$`, e.server.localSession)
}

func TestToolRegistration(t *testing.T) {
	e := newTestEnv(t, false)

	tools := e.server.MCPServer().ListTools()
	assert.Len(t, tools, len(engine.MutationTools)+26)

	for _, name := range engine.MutationTools {
		assert.NotNil(t, e.server.MCPServer().GetTool(name), "mutation tool %s", name)
	}
	for _, name := range []string{
		"batch", "undo", "get_workflow", "get_node", "find_nodes", "validate_workflow",
		"analyze_workflow", "query_workflow", "render_diagram", "get_node_schema",
		"save_workflow", "load_workflow", "patch_workflow_json", "set_workflow_json", "get_context", "help",
	} {
		assert.NotNil(t, e.server.MCPServer().GetTool(name), "tool %s", name)
	}
}

func TestMutationToolsUseCommandSchemas(t *testing.T) {
	e := newTestEnv(t, false)

	tool := e.server.MCPServer().GetTool("create_node_link")
	require.NotNil(t, tool)
	require.NotEmpty(t, tool.Tool.RawInputSchema)

	var s map[string]any
	require.NoError(t, json.Unmarshal(tool.Tool.RawInputSchema, &s))
	assert.Equal(t, "object", s["type"])
	assert.Contains(t, s, "$defs", "shared fragments travel with the tool schema")
	assert.NotEmpty(t, tool.Tool.Description)
}

func TestToolAnnotations(t *testing.T) {
	e := newTestEnv(t, false)

	readOnly := e.server.MCPServer().GetTool("get_workflow")
	require.NotNil(t, readOnly)
	require.NotNil(t, readOnly.Tool.Annotations.ReadOnlyHint)
	assert.True(t, *readOnly.Tool.Annotations.ReadOnlyHint)

	destructive := e.server.MCPServer().GetTool("set_workflow_json")
	require.NotNil(t, destructive)
	require.NotNil(t, destructive.Tool.Annotations.DestructiveHint)
	assert.True(t, *destructive.Tool.Annotations.DestructiveHint)
}

func TestCorrelateTagsLocalSession(t *testing.T) {
	e := newTestEnv(t, false)

	var gotSession, gotTool string
	handler := e.server.correlate(func(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		gotSession = logging.SessionID(ctx)
		gotTool = logging.Tool(ctx)
		return mcp.NewToolResultText("ok"), nil
	})

	req := mcp.CallToolRequest{Params: mcp.CallToolParams{Name: "get_workflow"}}
	_, err := handler(context.Background(), req)
	require.NoError(t, err)
	_, err = handler(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, e.server.localSession, gotSession)
	assert.Equal(t, "get_workflow", gotTool)

	sessions := e.server.Sessions().List()
	require.Len(t, sessions, 1)
	assert.Equal(t, e.server.localSession, sessions[0].ID)
	assert.Equal(t, 2, sessions[0].Calls)
}
