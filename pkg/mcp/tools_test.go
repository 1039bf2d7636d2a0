package mcp

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/nodeforge/internal/engine"
	"github.com/rendis/nodeforge/internal/expressions"
	"github.com/rendis/nodeforge/internal/graph"
	"github.com/rendis/nodeforge/internal/metrics"
	"github.com/rendis/nodeforge/internal/registry"
	"github.com/rendis/nodeforge/internal/store"
	"github.com/rendis/nodeforge/internal/validation"
	"github.com/rendis/nodeforge/pkg/schema"
)

// --- Mock Store ---

type mockStore struct {
	store.Store // embed for unimplemented methods

	mu      sync.Mutex
	saved   []*store.SavedDocument
	journal []*store.JournalEntry
}

func (m *mockStore) SaveDocument(_ context.Context, name string, doc *schema.Document, meta store.SaveMeta) (*store.SavedDocument, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	version := 1
	for _, d := range m.saved {
		if d.Name == name {
			version = max(version, d.Version+1)
		}
	}
	d := &store.SavedDocument{
		Name: name, Version: version, Document: doc, Revision: meta.Revision,
		NodeCount: len(doc.Nodes), LinkCount: len(doc.Links), GroupCount: len(doc.Groups),
		Source: meta.Source, CreatedAt: time.Now().UTC(),
	}
	m.saved = append(m.saved, d)
	return d, nil
}

func (m *mockStore) LoadDocument(_ context.Context, name string, version int) (*store.SavedDocument, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var found *store.SavedDocument
	for _, d := range m.saved {
		if d.Name == name && (version <= 0 || d.Version == version) {
			found = d
		}
	}
	if found == nil {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "document %q not found", name)
	}
	return found, nil
}

func (m *mockStore) ListDocuments(_ context.Context) ([]*store.DocumentInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	byName := map[string]*store.DocumentInfo{}
	var out []*store.DocumentInfo
	for _, d := range m.saved {
		info, ok := byName[d.Name]
		if !ok {
			info = &store.DocumentInfo{Name: d.Name}
			byName[d.Name] = info
			out = append(out, info)
		}
		info.LatestVersion, info.NodeCount, info.UpdatedAt = d.Version, d.NodeCount, d.CreatedAt
		info.Versions++
	}
	return out, nil
}

func (m *mockStore) ListVersions(_ context.Context, name string) ([]*store.SavedDocument, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*store.SavedDocument
	for _, d := range m.saved {
		if d.Name == name {
			out = append(out, d)
		}
	}
	return out, nil
}

func (m *mockStore) AppendJournal(_ context.Context, entry *store.JournalEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry.Sequence = int64(len(m.journal) + 1)
	m.journal = append(m.journal, entry)
	return nil
}

func (m *mockStore) ListJournal(_ context.Context, filter store.JournalFilter) ([]*store.JournalEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*store.JournalEntry
	for i := len(m.journal) - 1; i >= 0; i-- {
		e := m.journal[i]
		if filter.Kind != "" && e.Kind != filter.Kind {
			continue
		}
		out = append(out, e)
		if filter.Limit > 0 && len(out) == filter.Limit {
			break
		}
	}
	return out, nil
}

// --- Helpers ---

type mockMarker struct{ revs []uint64 }

func (m *mockMarker) MarkSaved(rev uint64) { m.revs = append(m.revs, rev) }

type testEnv struct {
	server  *Server
	store   *mockStore
	journal *store.Journal
	marker  *mockMarker
}

func newTestEnv(t *testing.T, withStore bool) *testEnv {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	reg, err := registry.New(logger)
	require.NoError(t, err)
	cel, err := expressions.NewCELEngine()
	require.NoError(t, err)
	schemas, err := validation.NewSchemaValidator()
	require.NoError(t, err)

	env := &testEnv{store: &mockStore{}, marker: &mockMarker{}}
	env.journal = store.NewJournal(env.store)
	ex := engine.New(engine.Deps{
		Store:   graph.NewStore(graph.New(reg, graph.Options{Constraints: cel})),
		Schemas: schemas,
		Events:  env.journal,
		Metrics: metrics.New(),
		Logger:  logger,
	}, engine.Config{MaxCommands: 20, UndoDepth: 10})

	deps := ServerDeps{
		Executor:   ex,
		Registry:   reg,
		Schemas:    schemas,
		Events:     env.journal,
		Predicates: expressions.NewExprEngine(),
		Autosave:   env.marker,
		Options:    Options{MaxGroupMembers: 10},
		Logger:     logger,
	}
	if withStore {
		deps.Store = env.store
	}
	env.server = NewServer(deps)
	return env
}

// call invokes a registered tool handler and decodes its envelope.
func (e *testEnv) call(t *testing.T, name string, args map[string]any) (map[string]any, *mcp.CallToolResult) {
	t.Helper()
	tool := e.server.MCPServer().GetTool(name)
	require.NotNil(t, tool, "tool %s should be registered", name)
	req := mcp.CallToolRequest{Params: mcp.CallToolParams{Name: name, Arguments: args}}
	res, err := tool.Handler(context.Background(), req)
	require.NoError(t, err)
	require.NotNil(t, res)
	require.NotEmpty(t, res.Content)

	text, ok := res.Content[0].(mcp.TextContent)
	if !ok {
		return nil, res
	}
	var env map[string]any
	require.NoError(t, json.Unmarshal([]byte(text.Text), &env))
	return env, res
}

func (e *testEnv) mustCall(t *testing.T, name string, args map[string]any) map[string]any {
	t.Helper()
	env, res := e.call(t, name, args)
	require.False(t, res.IsError, "%s failed: %v", name, env)
	require.Equal(t, true, env["success"])
	return env
}

// seed creates a checkpoint and a prompt wired by CLIP.
func (e *testEnv) seed(t *testing.T) {
	t.Helper()
	e.mustCall(t, "batch", map[string]any{"commands": []any{
		map[string]any{"tool": "create_node", "type": "CheckpointLoaderSimple", "ref": "$ckpt", "pos": []any{0, 0}},
		map[string]any{"tool": "create_node", "type": "CLIPTextEncode", "ref": "$pos", "pos": []any{500, 0},
			"widgets": map[string]any{"text": "a cat"}},
		map[string]any{"tool": "create_node_link", "from": "$ckpt", "from_slot": 1, "to": "$pos", "to_slot": "clip"},
	}})
}

func nodeCount(t *testing.T, e *testEnv) int {
	t.Helper()
	env := e.mustCall(t, "get_workflow", nil)
	summary, ok := env["summary"].(map[string]any)
	require.True(t, ok)
	return int(summary["nodes"].(float64))
}

// --- Mutation tools ---

func TestMutationToolCommits(t *testing.T) {
	e := newTestEnv(t, false)

	env := e.mustCall(t, "create_node", map[string]any{"nodes": []any{map[string]any{"type": "KSampler"}}})
	assert.NotEmpty(t, env["tx_id"])
	assert.Contains(t, env, "result")
	assert.NotContains(t, env, "results")
	assert.Equal(t, 1, nodeCount(t, e))

	// Shorthand single-item form.
	e.mustCall(t, "create_node", map[string]any{"type": "EmptyLatentImage"})
	assert.Equal(t, 2, nodeCount(t, e))
}

func TestMutationToolFailureIsToolError(t *testing.T) {
	e := newTestEnv(t, false)

	env, res := e.call(t, "create_node", map[string]any{"nodes": []any{
		map[string]any{"type": "KSampler"},
		map[string]any{"type": "NoSuchNode"},
	}})
	assert.True(t, res.IsError)
	assert.Equal(t, false, env["success"])
	assert.Equal(t, schema.ErrCodeUnknownType, env["code"])
	assert.Equal(t, true, env["rolled_back"])
	assert.Equal(t, 0, nodeCount(t, e), "multi-item calls are atomic")
}

// --- Batch and undo ---

func TestBatchRefsAndRollback(t *testing.T) {
	e := newTestEnv(t, false)
	e.seed(t)
	assert.Equal(t, 2, nodeCount(t, e))

	env, res := e.call(t, "batch", map[string]any{"commands": []any{
		map[string]any{"tool": "create_node", "type": "KSampler", "ref": "$ks"},
		map[string]any{"tool": "update_widget", "node": "$ks", "widget": "sampler_name", "value": "not-a-sampler"},
	}})
	assert.True(t, res.IsError)
	assert.Equal(t, float64(1), env["failed_index"])
	assert.Equal(t, "update_widget", env["failed_tool"])
	assert.Equal(t, 2, nodeCount(t, e))

	// A $ref from an earlier batch is not visible.
	env, _ = e.call(t, "batch", map[string]any{"commands": []any{
		map[string]any{"tool": "bypass_node", "nodes": []any{"$ckpt"}},
	}})
	assert.Equal(t, schema.ErrCodeUnboundRef, env["code"])
}

func TestBatchDryRunAndValidateOnly(t *testing.T) {
	e := newTestEnv(t, false)

	env := e.mustCall(t, "batch", map[string]any{
		"dry_run":  true,
		"commands": []any{map[string]any{"tool": "create_node", "type": "KSampler"}},
	})
	assert.Equal(t, true, env["dry_run"])
	assert.Equal(t, 0, nodeCount(t, e))

	env = e.mustCall(t, "batch", map[string]any{
		"validate_only": true,
		"commands": []any{
			map[string]any{"tool": "create_node", "type": "KSampler"},
			map[string]any{"tool": "get_workflow"},
		},
	})
	assert.Equal(t, false, env["valid"])
	assert.Len(t, env["errors"], 1)

	env, res := e.call(t, "batch", map[string]any{"commands": "nope"})
	assert.True(t, res.IsError)
	assert.Equal(t, schema.ErrCodeValidationFailed, env["code"])
}

func TestUndo(t *testing.T) {
	e := newTestEnv(t, false)
	e.seed(t)
	e.mustCall(t, "create_node", map[string]any{"type": "KSampler"})

	env := e.mustCall(t, "undo", map[string]any{"count": 1})
	assert.Equal(t, float64(1), env["undone"])
	assert.Equal(t, 2, nodeCount(t, e))

	e.mustCall(t, "undo", nil)
	assert.Equal(t, 0, nodeCount(t, e))

	env, res := e.call(t, "undo", nil)
	assert.True(t, res.IsError)
	assert.Equal(t, schema.ErrCodeNotFound, env["code"])
}

// --- Read-only tools ---

func TestInspectionTools(t *testing.T) {
	e := newTestEnv(t, false)
	e.seed(t)

	env := e.mustCall(t, "get_node", map[string]any{"node_id": 2})
	node := env["node"].(map[string]any)
	assert.Equal(t, "CLIPTextEncode", node["type"])
	assert.Equal(t, "conditioning", env["category"])

	env, res := e.call(t, "get_node", map[string]any{"node_id": 99})
	assert.True(t, res.IsError)
	assert.Equal(t, schema.ErrCodeNotFound, env["code"])

	env = e.mustCall(t, "list_nodes", map[string]any{"type": "checkpoint"})
	assert.Equal(t, float64(1), env["count"])

	env = e.mustCall(t, "find_nodes", map[string]any{"where": `widgets.text == "a cat"`})
	nodes := env["nodes"].([]any)
	require.Len(t, nodes, 1)
	assert.Equal(t, float64(2), nodes[0].(map[string]any)["id"])

	env = e.mustCall(t, "get_modified_widgets", nil)
	modified := env["nodes"].([]any)
	require.Len(t, modified, 1)
	assert.Equal(t, float64(2), modified[0].(map[string]any)["node_id"])

	env = e.mustCall(t, "list_models", nil)
	models := env["models"].([]any)
	require.NotEmpty(t, models)
	assert.Equal(t, "v1-5-pruned-emaonly.safetensors", models[0].(map[string]any)["value"])

	env = e.mustCall(t, "get_workflow_json", nil)
	workflow := env["workflow"].(map[string]any)
	assert.Len(t, workflow["nodes"], 2)
}

func TestAnalysisTools(t *testing.T) {
	e := newTestEnv(t, false)
	e.seed(t)

	env := e.mustCall(t, "validate_workflow", nil)
	assert.Equal(t, true, env["can_execute"])
	assert.NotEmpty(t, env["warnings"], "no output node")

	env = e.mustCall(t, "analyze_workflow", map[string]any{"include_suggestions": true})
	assert.Contains(t, env, "validation")
	assert.Contains(t, env, "metrics")

	env = e.mustCall(t, "detect_layout_issues", map[string]any{"min_spacing": 10})
	assert.Contains(t, env, "issues")

	env = e.mustCall(t, "detect_group_issues", nil)
	assert.Contains(t, env, "issues")

	env = e.mustCall(t, "query_workflow", map[string]any{"query": ".nodes | length"})
	assert.Equal(t, []any{float64(2)}, env["results"])
	assert.Equal(t, false, env["truncated"])

	env = e.mustCall(t, "query_workflow", map[string]any{"query": ".nodes[].id", "limit": 1})
	assert.Equal(t, []any{float64(1)}, env["results"])
	assert.Equal(t, true, env["truncated"])

	env, res := e.call(t, "query_workflow", map[string]any{"query": ".nodes[ | bad"})
	assert.True(t, res.IsError)
	assert.Equal(t, false, env["success"])
}

func TestGetContext(t *testing.T) {
	e := newTestEnv(t, false)
	e.seed(t)

	env := e.mustCall(t, "get_context", map[string]any{"level": 1})
	assert.Equal(t, float64(1), env["level"])
	assert.NotContains(t, env, "connections")
	assert.Equal(t, float64(2), env["summary"].(map[string]any)["nodes"])
	stats := env["registry"].(map[string]any)
	assert.Greater(t, stats["types"], float64(0))
	assert.Contains(t, stats["categories"], "loaders")

	env = e.mustCall(t, "get_context", nil)
	assert.Equal(t, float64(2), env["level"])
	conns := env["connections"].([]any)
	require.Len(t, conns, 1)
	assert.Equal(t, "CLIP", conns[0].(map[string]any)["from_slot"])
	assert.Equal(t, "clip", conns[0].(map[string]any)["to_slot"])
	assert.NotContains(t, env, "nodes")

	env = e.mustCall(t, "get_context", map[string]any{"level": 3, "nodes": []any{2}})
	nodes := env["nodes"].([]any)
	require.Len(t, nodes, 1)
	assert.Equal(t, float64(2), nodes[0].(map[string]any)["id"])

	tests := []struct {
		name string
		args map[string]any
		code string
	}{
		{"level out of range", map[string]any{"level": 4}, schema.ErrCodeValidationFailed},
		{"unknown node", map[string]any{"nodes": []any{99}}, schema.ErrCodeNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env, res := e.call(t, "get_context", tt.args)
			assert.True(t, res.IsError)
			assert.Equal(t, tt.code, env["code"])
		})
	}
}

func TestHelp(t *testing.T) {
	e := newTestEnv(t, false)

	env := e.mustCall(t, "help", nil)
	tools := env["tools"].([]any)
	assert.Len(t, tools, len(e.server.MCPServer().ListTools()))
	assert.Contains(t, env["topics"], "patterns")
	assert.Contains(t, env["topics"], "groups")

	tests := []struct {
		name  string
		topic string
		check func(t *testing.T, env map[string]any)
	}{
		{"tool name", "create_node", func(t *testing.T, env map[string]any) {
			assert.Equal(t, "nodes", env["category"])
			tool := env["tool"].(map[string]any)
			assert.Equal(t, "create_node", tool["name"])
			assert.Contains(t, tool, "inputSchema")
		}},
		{"category", "groups", func(t *testing.T, env map[string]any) {
			names := []string{}
			for _, entry := range env["tools"].([]any) {
				names = append(names, entry.(map[string]any)["name"].(string))
			}
			assert.Contains(t, names, "delete_group")
			assert.NotContains(t, names, "create_node")
		}},
		{"patterns guide", "Patterns", func(t *testing.T, env map[string]any) {
			assert.Contains(t, env["text"], "$name")
		}},
		{"batch guide", "batch", func(t *testing.T, env map[string]any) {
			assert.Contains(t, env["text"], "failed_index")
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.check(t, e.mustCall(t, "help", map[string]any{"topic": tt.topic}))
		})
	}

	env, res := e.call(t, "help", map[string]any{"topic": "teleport"})
	assert.True(t, res.IsError)
	assert.Equal(t, schema.ErrCodeNotFound, env["code"])
	assert.Contains(t, env["suggestion"], "patterns")
}

func TestRenderDiagram(t *testing.T) {
	e := newTestEnv(t, false)
	e.seed(t)

	env := e.mustCall(t, "render_diagram", map[string]any{"format": "mermaid", "title": "seed"})
	assert.Contains(t, env["diagram"], "graph LR")
	assert.Contains(t, env["diagram"], "n1 -->|CLIP| n2")

	env = e.mustCall(t, "render_diagram", map[string]any{"format": "ascii", "title": "seed"})
	assert.Contains(t, env["diagram"], "=== seed ===")

	env, res := e.call(t, "render_diagram", map[string]any{"format": "gif"})
	assert.True(t, res.IsError)
	assert.Equal(t, schema.ErrCodeValidationFailed, env["code"])
}

func TestRegistryTools(t *testing.T) {
	e := newTestEnv(t, false)

	env := e.mustCall(t, "get_node_schema", map[string]any{"type": "KSampler"})
	assert.Equal(t, "sampling", env["category"])
	assert.Len(t, env["inputs"], 4)
	widgets := env["widgets"].([]any)
	assert.Equal(t, "seed", widgets[0].(map[string]any)["name"])

	env, _ = e.call(t, "get_node_schema", map[string]any{"type": "Sampler"})
	assert.Equal(t, schema.ErrCodeUnknownType, env["code"])
	assert.Contains(t, env["suggestion"], "KSampler")

	env = e.mustCall(t, "search_node_types", map[string]any{"query": "loader", "limit": 3})
	assert.Equal(t, float64(3), env["count"])
	assert.Contains(t, env["categories"], "loaders")

	env = e.mustCall(t, "get_widget_options", map[string]any{"type": "KSampler", "widget": "scheduler"})
	assert.Equal(t, "COMBO", env["kind"])
	assert.Equal(t, "normal", env["default"])
	assert.Contains(t, env["options"], "karras")

	env, _ = e.call(t, "get_widget_options", map[string]any{"type": "KSampler", "widget": "speed"})
	assert.Equal(t, schema.ErrCodeUnknownWidget, env["code"])
	assert.Contains(t, env["suggestion"], "steps")
}

// --- Raw document tools ---

func TestPatchAndSetJSON(t *testing.T) {
	e := newTestEnv(t, false)
	e.seed(t)

	env := e.mustCall(t, "patch_workflow_json", map[string]any{"patches": []any{
		map[string]any{"op": "add", "path": "/nodes/0/title", "value": "Base model"},
	}})
	assert.Equal(t, float64(2), env["nodes"])
	node := e.mustCall(t, "get_node", map[string]any{"node_id": 1})["node"].(map[string]any)
	assert.Equal(t, "Base model", node["title"])

	// The patch is one undo step.
	e.mustCall(t, "undo", nil)
	node = e.mustCall(t, "get_node", map[string]any{"node_id": 1})["node"].(map[string]any)
	assert.Nil(t, node["title"])

	env, res := e.call(t, "patch_workflow_json", map[string]any{"patches": []any{}})
	assert.True(t, res.IsError)
	assert.Equal(t, schema.ErrCodeValidationFailed, env["code"])

	workflow := e.mustCall(t, "get_workflow_json", nil)["workflow"]
	e.mustCall(t, "clear_workflow", nil)
	assert.Equal(t, 0, nodeCount(t, e))

	env = e.mustCall(t, "set_workflow_json", map[string]any{"workflow": workflow})
	assert.Equal(t, float64(2), env["nodes"])
	assert.Equal(t, float64(1), env["links"])

	env, _ = e.call(t, "set_workflow_json", map[string]any{"workflow": map[string]any{"links": "x"}})
	assert.Equal(t, schema.ErrCodeValidationFailed, env["code"])
}

// --- Persistence tools ---

func TestPersistenceTools(t *testing.T) {
	e := newTestEnv(t, true)
	e.seed(t)

	env := e.mustCall(t, "save_workflow", map[string]any{"name": "txt2img"})
	assert.Equal(t, float64(1), env["version"])
	require.Len(t, e.marker.revs, 1)
	rev := e.marker.revs[0]
	assert.Equal(t, float64(rev), env["revision"])

	e.mustCall(t, "clear_workflow", nil)
	env = e.mustCall(t, "save_workflow", map[string]any{"name": "txt2img"})
	assert.Equal(t, float64(2), env["version"])

	env = e.mustCall(t, "load_workflow", map[string]any{"name": "txt2img", "version": 1})
	assert.Equal(t, float64(2), env["nodes"])
	assert.Equal(t, 2, nodeCount(t, e))

	env, res := e.call(t, "load_workflow", map[string]any{"name": "missing"})
	assert.True(t, res.IsError)
	assert.Equal(t, schema.ErrCodeNotFound, env["code"])

	env = e.mustCall(t, "list_saved_workflows", nil)
	assert.Equal(t, float64(1), env["count"])
	env = e.mustCall(t, "list_saved_workflows", map[string]any{"name": "txt2img"})
	assert.Len(t, env["versions"], 2)

	env = e.mustCall(t, "list_transactions", map[string]any{"kind": schema.EventSaved})
	assert.Equal(t, float64(2), env["count"])
	env = e.mustCall(t, "list_transactions", map[string]any{"limit": 1})
	entries := env["transactions"].([]any)
	require.Len(t, entries, 1)
	assert.Equal(t, schema.EventLoaded, entries[0].(map[string]any)["kind"])
}

func TestPersistenceToolsWithoutStore(t *testing.T) {
	e := newTestEnv(t, false)
	for _, name := range []string{"save_workflow", "load_workflow", "list_saved_workflows", "list_transactions"} {
		env, res := e.call(t, name, map[string]any{"name": "x"})
		assert.True(t, res.IsError, name)
		assert.Equal(t, schema.ErrCodeStore, env["code"], name)
	}
}
