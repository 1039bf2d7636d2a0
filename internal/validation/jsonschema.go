package validation

import (
	"embed"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/rendis/nodeforge/pkg/schema"
	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"
)

//go:embed schemas/*.json
var schemaFS embed.FS

const (
	commandsURL = "https://nodeforge.dev/schemas/commands.json"
	documentURL = "https://nodeforge.dev/schemas/document.json"
)

// SchemaValidator validates command parameters and whole documents against
// the embedded JSON Schemas (draft 2020-12). It is safe for concurrent use.
type SchemaValidator struct {
	compiler *jsonschema.Compiler
	document *jsonschema.Schema
	tools    map[string]bool

	// raw holds every command definition; tools reference the shared ones.
	raw map[string]json.RawMessage

	// mu guards commands, compiled lazily per tool.
	mu       sync.RWMutex
	commands map[string]*jsonschema.Schema
}

// NewSchemaValidator loads the embedded schemas and compiles the document
// schema up front.
func NewSchemaValidator() (*SchemaValidator, error) {
	c := jsonschema.NewCompiler()
	c.AssertFormat()

	var defs struct {
		Defs map[string]json.RawMessage `json:"$defs"`
	}
	for url, file := range map[string]string{commandsURL: "schemas/commands.json", documentURL: "schemas/document.json"} {
		raw, err := schemaFS.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", file, err)
		}
		doc, err := jsonschema.UnmarshalJSON(strings.NewReader(string(raw)))
		if err != nil {
			return nil, fmt.Errorf("unmarshal %s: %w", file, err)
		}
		if err := c.AddResource(url, doc); err != nil {
			return nil, fmt.Errorf("add schema resource %s: %w", url, err)
		}
		if url == commandsURL {
			if err := json.Unmarshal(raw, &defs); err != nil {
				return nil, fmt.Errorf("read command definitions: %w", err)
			}
		}
	}

	docSchema, err := c.Compile(documentURL)
	if err != nil {
		return nil, fmt.Errorf("compile document schema: %w", err)
	}

	tools := make(map[string]bool)
	for name, raw := range defs.Defs {
		var def struct {
			Type any `json:"type"`
		}
		if err := json.Unmarshal(raw, &def); err != nil {
			return nil, fmt.Errorf("read definition %s: %w", name, err)
		}
		// Tools are object schemas; the other definitions are shared fragments.
		if def.Type == "object" {
			tools[name] = true
		}
	}
	return &SchemaValidator{
		compiler: c,
		document: docSchema,
		tools:    tools,
		raw:      defs.Defs,
		commands: make(map[string]*jsonschema.Schema),
	}, nil
}

// HasCommand reports whether a schema exists for tool.
func (v *SchemaValidator) HasCommand(tool string) bool {
	return v.tools[tool]
}

// ToolSchema returns a standalone JSON Schema for tool's parameters, with the
// shared fragments it references carried under $defs.
func (v *SchemaValidator) ToolSchema(tool string) (json.RawMessage, error) {
	if !v.tools[tool] {
		return nil, schema.NewErrorf(schema.ErrCodeNotAllowed, "no schema for tool %q", tool)
	}
	var def map[string]any
	if err := json.Unmarshal(v.raw[tool], &def); err != nil {
		return nil, fmt.Errorf("decode schema for %s: %w", tool, err)
	}
	fragments := make(map[string]json.RawMessage)
	for name, raw := range v.raw {
		if !v.tools[name] {
			fragments[name] = raw
		}
	}
	def["$defs"] = fragments
	return json.Marshal(def)
}

// ValidateCommand checks the parameters of one command, tool name excluded.
func (v *SchemaValidator) ValidateCommand(tool string, params map[string]any) error {
	compiled, err := v.command(tool)
	if err != nil {
		return err
	}
	doc, err := toJSONValue(params)
	if err != nil {
		return schema.NewError(schema.ErrCodeValidationFailed, "parameters are not valid JSON").WithCause(err)
	}
	if err := compiled.Validate(doc); err != nil {
		return toGraphError(err).WithDetails(map[string]any{"tool": tool})
	}
	return nil
}

// ValidateDocument checks a full document payload.
func (v *SchemaValidator) ValidateDocument(payload any) error {
	if payload == nil {
		return schema.NewError(schema.ErrCodeValidationFailed, "document is nil")
	}
	doc, err := toJSONValue(payload)
	if err != nil {
		return schema.NewError(schema.ErrCodeValidationFailed, "document is not valid JSON").WithCause(err)
	}
	if err := v.document.Validate(doc); err != nil {
		return toGraphError(err)
	}
	return nil
}

// command returns the compiled schema for tool, compiling it on first use.
func (v *SchemaValidator) command(tool string) (*jsonschema.Schema, error) {
	if !v.tools[tool] {
		return nil, schema.NewErrorf(schema.ErrCodeNotAllowed, "no schema for tool %q", tool)
	}

	v.mu.RLock()
	if cached, ok := v.commands[tool]; ok {
		v.mu.RUnlock()
		return cached, nil
	}
	v.mu.RUnlock()

	v.mu.Lock()
	defer v.mu.Unlock()

	// Double-check after acquiring write lock.
	if cached, ok := v.commands[tool]; ok {
		return cached, nil
	}
	compiled, err := v.compiler.Compile(commandsURL + "#/$defs/" + tool)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeInternal, "compile schema for %s", tool).WithCause(err)
	}
	v.commands[tool] = compiled
	return compiled, nil
}

// toJSONValue round-trips a Go value through JSON encoding/decoding so that
// numeric values become json.Number (required by the jsonschema library).
func toJSONValue(v any) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return jsonschema.UnmarshalJSON(strings.NewReader(string(b)))
}

// toGraphError converts a jsonschema.ValidationError into a GraphError
// listing every leaf violation with its instance location.
func toGraphError(err error) *schema.GraphError {
	verr, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return schema.NewError(schema.ErrCodeValidationFailed, err.Error())
	}

	violations := collectViolations(verr)
	if len(violations) == 0 {
		return schema.NewError(schema.ErrCodeValidationFailed, verr.Error())
	}
	if len(violations) == 1 {
		return schema.NewError(schema.ErrCodeValidationFailed, violations[0]).
			WithDetails(map[string]any{"violations": violations})
	}
	msg := fmt.Sprintf("validation failed with %d errors", len(violations))
	return schema.NewError(schema.ErrCodeValidationFailed, msg).
		WithDetails(map[string]any{"violations": violations})
}

// collectViolations walks a ValidationError tree and collects leaf messages.
func collectViolations(verr *jsonschema.ValidationError) []string {
	if len(verr.Causes) == 0 {
		loc := "/"
		if len(verr.InstanceLocation) > 0 {
			loc = "/" + strings.Join(verr.InstanceLocation, "/")
		}
		return []string{fmt.Sprintf("%s: %s", loc, verr.Error())}
	}

	var violations []string
	for _, cause := range verr.Causes {
		violations = append(violations, collectViolations(cause)...)
	}
	return violations
}
