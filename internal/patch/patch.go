// Package patch edits a serialized document directly: RFC 6902 operations
// and whole-document replacement. Neither path goes through the graph
// primitives, so callers check invariants afterwards.
package patch

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	jsonpatch "github.com/evanphx/json-patch/v5"

	"github.com/rendis/nodeforge/pkg/schema"
)

// Supported operation names. test is not offered.
const (
	OpAdd     = "add"
	OpRemove  = "remove"
	OpReplace = "replace"
	OpCopy    = "copy"
	OpMove    = "move"
)

var allowedOps = map[string]bool{OpAdd: true, OpRemove: true, OpReplace: true, OpCopy: true, OpMove: true}

// Operation is one RFC 6902 operation. A trailing "-" path segment appends
// to an array.
type Operation struct {
	Op    string `json:"op"`
	Path  string `json:"path"`
	From  string `json:"from,omitempty"`
	Value any    `json:"value,omitempty"`
}

// DocumentValidator checks a full document payload.
type DocumentValidator interface {
	ValidateDocument(payload any) error
}

// Check verifies operation names and paths without applying anything.
func Check(ops []Operation) error {
	if len(ops) == 0 {
		return schema.NewError(schema.ErrCodeValidationFailed, "patches must not be empty")
	}
	for i, op := range ops {
		if !allowedOps[op.Op] {
			return schema.NewErrorf(schema.ErrCodeValidationFailed, "patches[%d]: unsupported op %q", i, op.Op).
				WithDetails(map[string]any{"index": i, "op": op.Op}).
				WithHint("supported ops are add, remove, replace, copy and move")
		}
		if !strings.HasPrefix(op.Path, "/") {
			return schema.NewErrorf(schema.ErrCodeValidationFailed, "patches[%d]: path must be a JSON pointer starting with /", i).
				WithDetails(map[string]any{"index": i, "path": op.Path})
		}
		if (op.Op == OpCopy || op.Op == OpMove) && !strings.HasPrefix(op.From, "/") {
			return schema.NewErrorf(schema.ErrCodeValidationFailed, "patches[%d]: %s needs a from pointer", i, op.Op).
				WithDetails(map[string]any{"index": i, "from": op.From})
		}
	}
	return nil
}

// Apply runs ops in order against a copy of doc and returns the patched
// document. The first failing operation aborts the whole patch.
func Apply(doc *schema.Document, ops []Operation) (*schema.Document, error) {
	if err := Check(ops); err != nil {
		return nil, err
	}
	if doc == nil {
		doc = &schema.Document{}
	}
	cur, err := json.Marshal(doc)
	if err != nil {
		return nil, schema.NewError(schema.ErrCodePatchFailed, "serialize document").WithCause(err)
	}

	opts := jsonpatch.NewApplyOptions()
	opts.EnsurePathExistsOnAdd = false
	for i, op := range ops {
		raw, err := json.Marshal([]Operation{op})
		if err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeValidationFailed, "patches[%d]: value is not valid JSON", i).WithCause(err)
		}
		p, err := jsonpatch.DecodePatch(raw)
		if err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeValidationFailed, "patches[%d]: %s", i, err.Error()).WithCause(err)
		}
		next, err := p.ApplyWithOptions(cur, opts)
		if err != nil {
			return nil, schema.NewErrorf(schema.ErrCodePatchFailed, "patches[%d] (%s %s): %s", i, op.Op, op.Path, err.Error()).
				WithCause(err).
				WithDetails(map[string]any{"index": i, "op": op.Op, "path": op.Path}).
				WithHint("paths index into the serialized document, e.g. /nodes/0/pos or /groups/1/title")
		}
		cur = next
	}

	out, err := decodeDocument(cur)
	if err != nil {
		return nil, schema.NewError(schema.ErrCodePatchFailed, "patched document is not a valid document").
			WithCause(err).
			WithHint(err.Error())
	}
	return out, nil
}

// Replace validates payload against the document schema and decodes it.
func Replace(v DocumentValidator, payload any) (*schema.Document, error) {
	if err := v.ValidateDocument(payload); err != nil {
		return nil, err
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeValidationFailed, "document is not valid JSON").WithCause(err)
	}
	doc, err := decodeDocument(b)
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeValidationFailed, "document does not decode").WithCause(err)
	}
	return doc, nil
}

func decodeDocument(b []byte) (*schema.Document, error) {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()
	doc := &schema.Document{}
	if err := dec.Decode(doc); err != nil {
		return nil, fmt.Errorf("decode document: %w", err)
	}
	for i, n := range doc.Nodes {
		if n == nil {
			return nil, fmt.Errorf("nodes[%d] is null", i)
		}
	}
	for i, l := range doc.Links {
		if l == nil {
			return nil, fmt.Errorf("links[%d] is null", i)
		}
	}
	for i, g := range doc.Groups {
		if g == nil {
			return nil, fmt.Errorf("groups[%d] is null", i)
		}
	}
	return doc, nil
}
