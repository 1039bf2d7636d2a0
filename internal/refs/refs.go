// Package refs resolves transaction-scoped symbolic node names ("$ckpt")
// to concrete node ids. A Table lives for exactly one transaction.
package refs

import (
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/rendis/nodeforge/pkg/schema"
)

// Sigil prefixes every symbolic name.
const Sigil = "$"

var namePattern = regexp.MustCompile(`^\$[A-Za-z0-9_]+$`)

// ValidName reports whether name is a well-formed symbolic name.
func ValidName(name string) bool {
	return namePattern.MatchString(name)
}

// NodeRef is either a concrete node id or a symbolic name.
type NodeRef struct {
	id   int
	name string
}

// Concrete returns a reference to an existing node id.
func Concrete(id int) NodeRef { return NodeRef{id: id} }

// Symbolic returns a reference to a name bound earlier in the transaction.
func Symbolic(name string) NodeRef { return NodeRef{name: name} }

// IsSymbolic reports whether the reference still needs resolving.
func (r NodeRef) IsSymbolic() bool { return r.name != "" }

// ID returns the concrete id. It is meaningless for symbolic references.
func (r NodeRef) ID() int { return r.id }

// Name returns the symbolic name, or "".
func (r NodeRef) Name() string { return r.name }

func (r NodeRef) String() string {
	if r.IsSymbolic() {
		return r.name
	}
	return strconv.Itoa(r.id)
}

func (r NodeRef) MarshalJSON() ([]byte, error) {
	if r.IsSymbolic() {
		return json.Marshal(r.name)
	}
	return json.Marshal(r.id)
}

func (r *NodeRef) UnmarshalJSON(data []byte) error {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	ref, err := Parse(v)
	if err != nil {
		return err
	}
	*r = ref
	return nil
}

// Parse turns a decoded JSON token into a NodeRef. Integers and numeric
// strings are concrete; well-formed $names are symbolic.
func Parse(token any) (NodeRef, error) {
	switch t := token.(type) {
	case int:
		return Concrete(t), nil
	case int64:
		return Concrete(int(t)), nil
	case float64:
		if t != math.Trunc(t) || math.IsInf(t, 0) {
			return NodeRef{}, fmt.Errorf("node id must be an integer, got %v", t)
		}
		return Concrete(int(t)), nil
	case json.Number:
		id, err := strconv.Atoi(t.String())
		if err != nil {
			return NodeRef{}, fmt.Errorf("node id must be an integer, got %s", t)
		}
		return Concrete(id), nil
	case string:
		s := strings.TrimSpace(t)
		if id, err := strconv.Atoi(s); err == nil {
			return Concrete(id), nil
		}
		if ValidName(s) {
			return Symbolic(s), nil
		}
		return NodeRef{}, fmt.Errorf("invalid node reference %q: want a node id or a $name", t)
	default:
		return NodeRef{}, fmt.Errorf("invalid node reference of type %T", token)
	}
}

// Table holds the symbolic bindings of one transaction.
type Table struct {
	bindings map[string]int
}

// NewTable returns an empty table.
func NewTable() *Table {
	return &Table{bindings: make(map[string]int)}
}

// Register binds name to id. A name can be bound once per transaction.
func (t *Table) Register(name string, id int) error {
	if !ValidName(name) {
		return schema.NewErrorf(schema.ErrCodeValidationFailed, "invalid reference name %q", name).
			WithDetails(map[string]any{"ref": name}).
			WithHint("reference names are $ followed by letters, digits or underscores, e.g. $ckpt")
	}
	if prev, ok := t.bindings[name]; ok {
		return schema.NewErrorf(schema.ErrCodeDuplicateRef, "reference %s is already bound to node %d", name, prev).
			WithDetails(map[string]any{"ref": name, "bound_to": prev}).
			WithSuggestion("use a distinct name for every node created in one transaction")
	}
	t.bindings[name] = id
	return nil
}

// Resolve returns the concrete id for ref.
func (t *Table) Resolve(ref NodeRef) (int, error) {
	if !ref.IsSymbolic() {
		return ref.id, nil
	}
	if id, ok := t.bindings[ref.name]; ok {
		return id, nil
	}
	return 0, t.unbound(ref.name)
}

// ResolveAll resolves refs in order and stops at the first failure.
func (t *Table) ResolveAll(refs []NodeRef) ([]int, error) {
	ids := make([]int, len(refs))
	for i, r := range refs {
		id, err := t.Resolve(r)
		if err != nil {
			return nil, err
		}
		ids[i] = id
	}
	return ids, nil
}

// ResolveToken resolves a raw JSON token. Anything that is neither a bound
// name nor a concrete id fails with UNBOUND_REF.
func (t *Table) ResolveToken(token any) (int, error) {
	ref, err := Parse(token)
	if err != nil {
		return 0, schema.NewErrorf(schema.ErrCodeUnboundRef, "cannot resolve %v", token).
			WithCause(err).
			WithDetails(map[string]any{"ref": token, "bound": t.Names()})
	}
	return t.Resolve(ref)
}

func (t *Table) unbound(name string) *schema.GraphError {
	err := schema.NewErrorf(schema.ErrCodeUnboundRef, "reference %s is not bound in this transaction", name).
		WithDetails(map[string]any{"ref": name, "bound": t.Names()}).
		WithHint("names are only visible to later commands of the transaction that created them")
	if len(t.bindings) == 0 {
		err.WithSuggestion(fmt.Sprintf("create the node with \"ref\": %q earlier in the same batch, or use its numeric id", name))
	}
	return err
}

// Names returns the bound names in sorted order.
func (t *Table) Names() []string {
	names := make([]string, 0, len(t.bindings))
	for n := range t.bindings {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Bindings returns a copy of every name -> id binding.
func (t *Table) Bindings() map[string]int {
	out := make(map[string]int, len(t.bindings))
	for k, v := range t.bindings {
		out[k] = v
	}
	return out
}

// identifierFields are the only keys whose values are resolved.
var identifierFields = map[string]bool{
	"node":      true,
	"node_id":   true,
	"node_ids":  true,
	"nodes":     true,
	"from":      true,
	"to":        true,
	"from_node": true,
	"to_node":   true,
}

// containerFields hold command items that carry identifier fields. The walk
// descends only into these; widget values and other payloads are copied as is.
var containerFields = map[string]bool{
	"links":   true,
	"updates": true,
	"groups":  true,
	"moves":   true,
	"parts":   true,
	"plan":    true,
}

// ResolveParameters returns a copy of params with every node identifier field
// resolved. Only identifier fields and the item lists that hold them are
// visited, so a widget value such as {"to": "x"} is left alone.
func (t *Table) ResolveParameters(params map[string]any) (map[string]any, error) {
	out, err := t.walkMap(params)
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (t *Table) walkMap(m map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(m))
	for k, v := range m {
		var err error
		switch {
		case identifierFields[k]:
			out[k], err = t.resolveValue(v)
		case containerFields[k]:
			out[k], err = t.walk(v)
		default:
			out[k] = v
		}
		if err != nil {
			return nil, fmt.Errorf("%s: %w", k, err)
		}
	}
	return out, nil
}

// walk copies a container field, descending into its items.
func (t *Table) walk(v any) (any, error) {
	switch x := v.(type) {
	case map[string]any:
		return t.walkMap(x)
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			r, err := t.walk(e)
			if err != nil {
				return nil, err
			}
			out[i] = r
		}
		return out, nil
	default:
		return v, nil
	}
}

// resolveValue resolves an identifier field: scalars directly, sequences
// element-wise and objects recursively.
func (t *Table) resolveValue(v any) (any, error) {
	switch x := v.(type) {
	case nil:
		return nil, nil
	case map[string]any:
		return t.walkMap(x)
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			r, err := t.resolveValue(e)
			if err != nil {
				return nil, err
			}
			out[i] = r
		}
		return out, nil
	case bool:
		return v, nil
	default:
		return t.ResolveToken(v)
	}
}
