package validation

import (
	"bytes"
	"encoding/json"
	"sync"
	"testing"

	"github.com/rendis/nodeforge/pkg/schema"
	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newValidator(t *testing.T) *SchemaValidator {
	t.Helper()
	v, err := NewSchemaValidator()
	require.NoError(t, err)
	return v
}

func TestNewSchemaValidator(t *testing.T) {
	v := newValidator(t)
	assert.True(t, v.HasCommand("create_node"))
	assert.True(t, v.HasCommand("clear_workflow"))
	assert.True(t, v.HasCommand("integrate_node_into_groups"))
	assert.False(t, v.HasCommand("vec2"))
	assert.False(t, v.HasCommand("groupTarget"))
	assert.False(t, v.HasCommand("batch"))
}

func TestValidateCommand(t *testing.T) {
	v := newValidator(t)

	tests := []struct {
		name    string
		tool    string
		params  map[string]any
		wantErr bool
	}{
		{
			name:   "create_node minimal",
			tool:   "create_node",
			params: map[string]any{"nodes": []any{map[string]any{"type": "KSampler"}}},
		},
		{
			name: "create_node full item",
			tool: "create_node",
			params: map[string]any{"nodes": []any{map[string]any{
				"type": "KSampler", "pos": []any{10, 20}, "ref": "$ks",
				"widgets": map[string]any{"steps": 30}, "title": "main", "group": "Generation",
			}}},
		},
		{
			name:    "create_node bad ref name",
			tool:    "create_node",
			params:  map[string]any{"nodes": []any{map[string]any{"type": "KSampler", "ref": "ks"}}},
			wantErr: true,
		},
		{
			name:    "create_node unknown field",
			tool:    "create_node",
			params:  map[string]any{"nodes": []any{map[string]any{"type": "KSampler", "colour": "red"}}},
			wantErr: true,
		},
		{
			name:    "create_node empty list",
			tool:    "create_node",
			params:  map[string]any{"nodes": []any{}},
			wantErr: true,
		},
		{
			name: "create_node_link symbolic endpoints",
			tool: "create_node_link",
			params: map[string]any{"links": []any{map[string]any{
				"from": "$ckpt", "from_slot": 0, "to": 5, "to_slot": "model",
			}}},
		},
		{
			name:    "create_node_link missing slot",
			tool:    "create_node_link",
			params:  map[string]any{"links": []any{map[string]any{"from": 1, "to": 2, "to_slot": 0}}},
			wantErr: true,
		},
		{
			name:    "move_group needs pos or offset",
			tool:    "move_group",
			params:  map[string]any{"group": 0},
			wantErr: true,
		},
		{
			name:    "move_group with both",
			tool:    "move_group",
			params:  map[string]any{"group": 0, "pos": []any{0, 0}, "offset": []any{1, 1}},
			wantErr: true,
		},
		{
			name:   "delete_group all",
			tool:   "delete_group",
			params: map[string]any{"all": true},
		},
		{
			name:    "align_nodes bad alignment",
			tool:    "align_nodes",
			params:  map[string]any{"nodes": []any{1, 2}, "alignment": "middle"},
			wantErr: true,
		},
		{
			name:   "clear_workflow",
			tool:   "clear_workflow",
			params: map[string]any{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.ValidateCommand(tt.tool, tt.params)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, schema.HasCode(err, schema.ErrCodeValidationFailed))
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestValidateCommandUnknownTool(t *testing.T) {
	v := newValidator(t)
	err := v.ValidateCommand("queue_execution", map[string]any{})
	assert.True(t, schema.HasCode(err, schema.ErrCodeNotAllowed))
}

func TestValidateCommandViolationDetails(t *testing.T) {
	v := newValidator(t)
	err := v.ValidateCommand("update_widget", map[string]any{"updates": []any{map[string]any{"node": 1.5}}})
	require.Error(t, err)
	ge := schema.AsGraphError(err)
	assert.Equal(t, "update_widget", ge.Details["tool"])
	assert.NotEmpty(t, ge.Details["violations"])
}

func TestValidateDocument(t *testing.T) {
	v := newValidator(t)

	one := 1
	doc := &schema.Document{
		Nodes: []*schema.Node{{ID: 1, Type: "Note", Mode: schema.ModeActive, Size: schema.Vec2{400, 60}}},
		Groups: []*schema.Group{{Title: "g", Bounding: schema.Rect{W: 10, H: 10}, Nodes: []int{1}}},
	}
	assert.NoError(t, v.ValidateDocument(doc))

	assert.Error(t, v.ValidateDocument(nil))
	assert.Error(t, v.ValidateDocument(map[string]any{"links": []any{}}))
	assert.Error(t, v.ValidateDocument(map[string]any{"nodes": []any{map[string]any{"id": 1}}}))

	doc.Links = []*schema.Link{{ID: one, OriginID: 1, OriginSlot: -1, TargetID: 1}}
	err := v.ValidateDocument(doc)
	assert.True(t, schema.HasCode(err, schema.ErrCodeValidationFailed))
}

func TestValidateCommandConcurrent(t *testing.T) {
	v := newValidator(t)
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, v.ValidateCommand("bypass_node", map[string]any{"nodes": []any{1}}))
		}()
	}
	wg.Wait()
}

func TestToolSchema(t *testing.T) {
	v := newValidator(t)

	raw, err := v.ToolSchema("create_node_link")
	require.NoError(t, err)
	var doc map[string]any
	require.NoError(t, json.Unmarshal(raw, &doc))
	assert.Equal(t, "object", doc["type"])
	defs, ok := doc["$defs"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, defs, "nodeRef")
	assert.NotContains(t, defs, "create_node", "tool definitions are not fragments")

	// The standalone schema still compiles and validates.
	c := jsonschema.NewCompiler()
	parsed, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	require.NoError(t, err)
	require.NoError(t, c.AddResource("https://nodeforge.dev/schemas/tool.json", parsed))
	compiled, err := c.Compile("https://nodeforge.dev/schemas/tool.json")
	require.NoError(t, err)
	assert.NoError(t, compiled.Validate(map[string]any{"links": []any{map[string]any{
		"from": "$a", "from_slot": json.Number("0"), "to": json.Number("2"), "to_slot": "clip",
	}}}))

	_, err = v.ToolSchema("batch")
	assert.True(t, schema.HasCode(err, schema.ErrCodeNotAllowed))
}
