package engine

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rendis/nodeforge/internal/validation"
	"github.com/rendis/nodeforge/pkg/schema"
)

// DefaultMaxCommands bounds the number of commands in one transaction.
const DefaultMaxCommands = 50

// RawCommand is one command as submitted: {"tool": name, ...params}.
type RawCommand = map[string]any

// Decoder checks raw commands against the allow-list and the per-tool JSON
// Schemas and turns them into typed Commands.
type Decoder struct {
	schemas     *validation.SchemaValidator
	maxCommands int
}

// NewDecoder creates a Decoder. maxCommands <= 0 uses DefaultMaxCommands.
func NewDecoder(schemas *validation.SchemaValidator, maxCommands int) *Decoder {
	if maxCommands <= 0 {
		maxCommands = DefaultMaxCommands
	}
	return &Decoder{schemas: schemas, maxCommands: maxCommands}
}

// MaxCommands returns the transaction size limit.
func (d *Decoder) MaxCommands() int { return d.maxCommands }

// Decoded is a command ready for dispatch. Params are the normalized
// parameters, tool name excluded.
type Decoded struct {
	Index   int
	Tool    string
	Params  map[string]any
	Command Command
}

// Decode checks and decodes a single command.
func (d *Decoder) Decode(raw RawCommand) (*Decoded, error) {
	tool, params, err := splitTool(raw)
	if err != nil {
		return nil, err
	}
	if !IsMutation(tool) {
		return nil, notAllowed(tool)
	}
	params = normalize(tool, params)
	if err := d.schemas.ValidateCommand(tool, params); err != nil {
		return nil, err
	}
	cmd, err := decodeParams(tool, params)
	if err != nil {
		return nil, err
	}
	return &Decoded{Tool: tool, Params: params, Command: cmd}, nil
}

// Validate checks a whole batch and collects every violation rather than
// stopping at the first. It returns the decoded commands when the batch is
// valid.
func (d *Decoder) Validate(cmds []RawCommand) ([]*Decoded, *schema.ValidationResult) {
	res := &schema.ValidationResult{}
	if len(cmds) == 0 {
		res.AddError("commands", schema.ErrCodeValidationFailed, "commands must not be empty")
		return nil, res
	}
	if len(cmds) > d.maxCommands {
		res.AddError("commands", schema.ErrCodeValidationFailed,
			fmt.Sprintf("too many commands: %d (max %d)", len(cmds), d.maxCommands))
	}

	decoded := make([]*Decoded, 0, len(cmds))
	for i, raw := range cmds {
		path := fmt.Sprintf("commands[%d]", i)
		dc, err := d.Decode(raw)
		if err != nil {
			ge := schema.AsGraphError(err)
			msg := ge.Message
			if vs, ok := ge.Details["violations"].([]string); ok && len(vs) > 1 {
				msg = strings.Join(vs, "; ")
			}
			res.AddError(path, ge.Code, msg)
			continue
		}
		dc.Index = i
		decoded = append(decoded, dc)
	}
	if !res.Valid() {
		return nil, res
	}
	return decoded, res
}

// DecodeUnchecked skips schema validation but still enforces the
// allow-list and decodes into typed commands.
func (d *Decoder) DecodeUnchecked(cmds []RawCommand) ([]*Decoded, error) {
	out := make([]*Decoded, 0, len(cmds))
	for i, raw := range cmds {
		tool, params, err := splitTool(raw)
		if err != nil {
			return nil, atIndex(err, i, "")
		}
		if !IsMutation(tool) {
			return nil, atIndex(notAllowed(tool), i, tool)
		}
		params = normalize(tool, params)
		cmd, err := decodeParams(tool, params)
		if err != nil {
			return nil, atIndex(err, i, tool)
		}
		out = append(out, &Decoded{Index: i, Tool: tool, Params: params, Command: cmd})
	}
	return out, nil
}

func atIndex(err error, i int, tool string) error {
	details := map[string]any{"index": i}
	if tool != "" {
		details["tool"] = tool
	}
	return schema.AsGraphError(err).WithDetails(details)
}

func notAllowed(tool string) *schema.GraphError {
	return schema.NewErrorf(schema.ErrCodeNotAllowed, "tool %q cannot be used in a transaction", tool).
		WithDetails(map[string]any{"tool": tool}).
		WithHint("only mutation tools may be batched; read-only tools, batch, undo and raw JSON edits are excluded").
		WithSuggestion("allowed tools: " + strings.Join(MutationTools, ", "))
}

// splitTool separates the tool name from the parameters. Parameters may sit
// next to the tool name or under "params". The parameters are copied through
// JSON so numbers, lists and objects have their decoded JSON types.
func splitTool(raw RawCommand) (string, map[string]any, error) {
	if raw == nil {
		return "", nil, schema.NewError(schema.ErrCodeValidationFailed, "command must be an object")
	}
	tool, _ := raw["tool"].(string)
	if strings.TrimSpace(tool) == "" {
		return "", nil, schema.NewError(schema.ErrCodeValidationFailed, "command is missing the tool name").
			WithHint(`each command looks like {"tool": "create_node", ...}`)
	}
	merged := make(map[string]any, len(raw))
	if nested, ok := raw["params"].(map[string]any); ok {
		for k, v := range nested {
			merged[k] = v
		}
	}
	for k, v := range raw {
		if k != "tool" && k != "params" {
			merged[k] = v
		}
	}
	b, err := json.Marshal(merged)
	if err != nil {
		return "", nil, schema.NewErrorf(schema.ErrCodeValidationFailed, "%s: parameters are not valid JSON", tool).WithCause(err)
	}
	params := map[string]any{}
	if err := json.Unmarshal(b, &params); err != nil {
		return "", nil, schema.NewErrorf(schema.ErrCodeValidationFailed, "%s: parameters are not valid JSON", tool).WithCause(err)
	}
	return tool, params, nil
}

// decodeParams decodes normalized parameters into the tool's struct.
func decodeParams(tool string, params map[string]any) (Command, error) {
	cmd := newCommand(tool)
	if cmd == nil {
		return nil, notAllowed(tool)
	}
	b, err := json.Marshal(params)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidationFailed, "%s: parameters are not valid JSON", tool).WithCause(err)
	}
	if err := json.Unmarshal(b, cmd); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidationFailed, "%s: %s", tool, err.Error()).WithCause(err)
	}
	return deref(cmd), nil
}

// deref turns the pointer returned by newCommand into the value type the
// dispatcher switches on.
func deref(c Command) Command {
	switch x := c.(type) {
	case *CreateNode:
		return *x
	case *DeleteNode:
		return *x
	case *UpdateNode:
		return *x
	case *DuplicateNode:
		return *x
	case *BypassNode:
		return *x
	case *CreateLink:
		return *x
	case *DeleteLink:
		return *x
	case *UpdateWidget:
		return *x
	case *CreateGroup:
		return *x
	case *DeleteGroup:
		return *x
	case *UpdateGroup:
		return *x
	case *MoveNodesToGroup:
		return *x
	case *MergeGroups:
		return *x
	case *SplitGroup:
		return *x
	case *MoveGroup:
		return *x
	case *FitGroup:
		return *x
	case *AlignNodes:
		return *x
	case *DistributeNodes:
		return *x
	case *Organize:
		return *x
	case *OrganizeLayout:
		return *x
	case *IntegrateNode:
		return *x
	case *ClearWorkflow:
		return *x
	default:
		return c
	}
}

// normalize rewrites single-item shorthands into the canonical list form.
// params is modified in place and returned.
func normalize(tool string, p map[string]any) map[string]any {
	switch tool {
	case ToolCreateNode:
		wrapItem(p, "nodes", "type", "pos", "position", "ref", "widgets", "widget_values", "title", "group")
		eachItem(p, "nodes", func(item map[string]any) {
			rename(item, "widget_values", "widgets")
			rename(item, "position", "pos")
		})

	case ToolDeleteNode, ToolBypassNode:
		rename(p, "node_ids", "nodes")
		rename(p, "node_id", "nodes")
		rename(p, "node", "nodes")
		listify(p, "nodes")

	case ToolUpdateNode:
		wrapItem(p, "updates", "node", "node_id", "pos", "position", "title")
		eachItem(p, "updates", func(item map[string]any) {
			rename(item, "node_id", "node")
			rename(item, "position", "pos")
		})

	case ToolUpdateWidget:
		wrapItem(p, "updates", "node", "node_id", "widget", "widget_name", "value")
		eachItem(p, "updates", func(item map[string]any) {
			rename(item, "node_id", "node")
			rename(item, "widget_name", "widget")
		})

	case ToolDuplicateNode:
		rename(p, "node_id", "node")
		wrapItem(p, "nodes", "node", "ref", "offset")
		listify(p, "nodes")
		if items, ok := p["nodes"].([]any); ok {
			for i, it := range items {
				if _, isObj := it.(map[string]any); !isObj {
					items[i] = map[string]any{"node": it}
				}
			}
		}

	case ToolCreateLink:
		wrapItem(p, "links", "from", "from_node", "from_slot", "from_output", "to", "to_node", "to_slot", "to_input")
		eachItem(p, "links", func(item map[string]any) {
			rename(item, "from_node", "from")
			rename(item, "to_node", "to")
			rename(item, "from_output", "from_slot")
			rename(item, "to_input", "to_slot")
		})

	case ToolDeleteLink:
		wrapItem(p, "links", "node", "node_id", "input_slot", "slot")
		eachItem(p, "links", func(item map[string]any) {
			rename(item, "node_id", "node")
			rename(item, "slot", "input_slot")
		})

	case ToolCreateGroup:
		wrapItem(p, "groups", "title", "nodes", "node_ids", "color", "padding", "bounding")
		eachItem(p, "groups", func(item map[string]any) {
			rename(item, "node_ids", "nodes")
		})

	case ToolDeleteGroup:
		rename(p, "group", "groups")
		listify(p, "groups")

	case ToolUpdateGroup:
		wrapItem(p, "updates", "group", "title", "color", "nodes", "padding", "pos", "size")

	case ToolMoveNodesToGroup:
		wrapItem(p, "moves", "nodes", "node_ids", "to_group", "group")
		eachItem(p, "moves", func(item map[string]any) {
			rename(item, "node_ids", "nodes")
			rename(item, "group", "to_group")
			listify(item, "nodes")
		})

	case ToolMergeGroups:
		if _, ok := p["into"]; !ok {
			if title, ok := p["title"]; ok {
				into := map[string]any{"title": title}
				if c, ok := p["color"]; ok {
					into["color"] = c
				}
				p["into"] = into
				delete(p, "title")
				delete(p, "color")
			}
		}

	case ToolIntegrateNode:
		rename(p, "node", "node_id")

	case ToolOrganizeLayout:
		if _, ok := p["plan"]; !ok {
			if _, ok := p["groups"]; ok {
				plan := map[string]any{}
				for _, k := range []string{"flow", "groups", "group_spacing", "group_padding"} {
					if v, ok := p[k]; ok {
						plan[k] = v
						delete(p, k)
					}
				}
				p["plan"] = plan
			}
		}
	}
	return p
}

// wrapItem moves the given keys into a single-element list under listKey
// when listKey is absent and at least one key is present.
func wrapItem(p map[string]any, listKey string, keys ...string) {
	if _, ok := p[listKey]; ok {
		return
	}
	item := map[string]any{}
	for _, k := range keys {
		if v, ok := p[k]; ok {
			item[k] = v
			delete(p, k)
		}
	}
	if len(item) == 0 {
		return
	}
	p[listKey] = []any{item}
}

func eachItem(p map[string]any, listKey string, fn func(map[string]any)) {
	items, _ := p[listKey].([]any)
	for _, it := range items {
		if m, ok := it.(map[string]any); ok {
			fn(m)
		}
	}
}

// rename moves from to to unless to is already set.
func rename(m map[string]any, from, to string) {
	v, ok := m[from]
	if !ok {
		return
	}
	delete(m, from)
	if _, exists := m[to]; !exists {
		m[to] = v
	}
}

// listify wraps a scalar value under key into a one-element list.
func listify(m map[string]any, key string) {
	v, ok := m[key]
	if !ok || v == nil {
		return
	}
	if _, isList := v.([]any); !isList {
		m[key] = []any{v}
	}
}

