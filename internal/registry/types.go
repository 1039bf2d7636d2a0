package registry

import (
	"fmt"
	"math"
	"slices"
	"strings"

	"github.com/rendis/nodeforge/pkg/schema"
)

// WidgetKind is the value kind of a widget.
type WidgetKind string

const (
	KindInt     WidgetKind = "INT"
	KindFloat   WidgetKind = "FLOAT"
	KindString  WidgetKind = "STRING"
	KindBoolean WidgetKind = "BOOLEAN"
	KindCombo   WidgetKind = "COMBO"
)

// AnyType is the wildcard slot type; it connects to everything.
const AnyType = "*"

// SlotSpec declares one input or output slot.
type SlotSpec struct {
	Name     string `yaml:"name" json:"name" validate:"required"`
	Type     string `yaml:"type" json:"type" validate:"required"`
	Optional bool   `yaml:"optional,omitempty" json:"optional,omitempty"`
}

// WidgetSpec declares one widget: its kind, default and bounds.
// Constraint is an optional CEL expression over `value` that must hold.
type WidgetSpec struct {
	Name       string     `yaml:"name" json:"name" validate:"required"`
	Kind       WidgetKind `yaml:"kind" json:"kind" validate:"required,oneof=INT FLOAT STRING BOOLEAN COMBO"`
	Default    any        `yaml:"default,omitempty" json:"default,omitempty"`
	Options    []any      `yaml:"options,omitempty" json:"options,omitempty" validate:"required_if=Kind COMBO"`
	Min        *float64   `yaml:"min,omitempty" json:"min,omitempty"`
	Max        *float64   `yaml:"max,omitempty" json:"max,omitempty"`
	Constraint string     `yaml:"constraint,omitempty" json:"constraint,omitempty"`
}

// NodeType is one registry entry. Inputs and Outputs fix slot arity and types
// for every node created from it.
type NodeType struct {
	Name        string       `yaml:"name" json:"name" validate:"required"`
	DisplayName string       `yaml:"display_name,omitempty" json:"display_name,omitempty"`
	Category    string       `yaml:"category" json:"category"`
	Stage       string       `yaml:"stage,omitempty" json:"stage,omitempty"`
	Output      bool         `yaml:"output,omitempty" json:"output,omitempty"`
	Size        schema.Vec2  `yaml:"size,omitempty" json:"size"`
	Inputs      []SlotSpec   `yaml:"inputs,omitempty" json:"inputs" validate:"dive"`
	Outputs     []SlotSpec   `yaml:"outputs,omitempty" json:"outputs" validate:"dive"`
	Widgets     []WidgetSpec `yaml:"widgets,omitempty" json:"widgets" validate:"dive"`
}

// Widget returns the named widget spec.
func (t *NodeType) Widget(name string) (*WidgetSpec, bool) {
	for i := range t.Widgets {
		if t.Widgets[i].Name == name {
			return &t.Widgets[i], true
		}
	}
	return nil, false
}

// WidgetNames lists widget names in declaration order.
func (t *NodeType) WidgetNames() []string {
	names := make([]string, len(t.Widgets))
	for i, w := range t.Widgets {
		names[i] = w.Name
	}
	return names
}

// Compatible reports whether an origin slot type may feed a target slot type.
// Types match case-insensitively, "*" matches anything, and a target may list
// several accepted types separated by commas.
func Compatible(originType, targetType string) bool {
	if originType == AnyType || targetType == AnyType || originType == "" || targetType == "" {
		return true
	}
	if strings.EqualFold(originType, targetType) {
		return true
	}
	for _, t := range strings.Split(targetType, ",") {
		if strings.EqualFold(strings.TrimSpace(t), originType) {
			return true
		}
	}
	return false
}

// Coerce checks value against the widget's kind, bounds and options and
// returns it in canonical form (INT values become int64, FLOAT values float64).
// The CEL constraint is not evaluated here.
func (w *WidgetSpec) Coerce(value any) (any, error) {
	switch w.Kind {
	case KindInt:
		f, ok := toFloat(value)
		if !ok || f != math.Trunc(f) {
			return nil, w.invalid(value, "expected an integer")
		}
		if err := w.checkRange(f, value); err != nil {
			return nil, err
		}
		return int64(f), nil
	case KindFloat:
		f, ok := toFloat(value)
		if !ok {
			return nil, w.invalid(value, "expected a number")
		}
		if err := w.checkRange(f, value); err != nil {
			return nil, err
		}
		return f, nil
	case KindBoolean:
		b, ok := value.(bool)
		if !ok {
			return nil, w.invalid(value, "expected a boolean")
		}
		return b, nil
	case KindString:
		s, ok := value.(string)
		if !ok {
			return nil, w.invalid(value, "expected a string")
		}
		return s, nil
	case KindCombo:
		for _, opt := range w.Options {
			if comboEqual(opt, value) {
				return opt, nil
			}
		}
		return nil, w.invalid(value, "value is not one of the options").
			WithDetails(map[string]any{"options": w.Options}).
			WithSuggestion(fmt.Sprintf("pick one of %d options, see get_widget_options", len(w.Options)))
	default:
		return value, nil
	}
}

func (w *WidgetSpec) checkRange(f float64, raw any) error {
	if w.Min != nil && f < *w.Min {
		return w.invalid(raw, fmt.Sprintf("below minimum %v", *w.Min)).
			WithDetails(map[string]any{"min": *w.Min, "max": w.Max})
	}
	if w.Max != nil && f > *w.Max {
		return w.invalid(raw, fmt.Sprintf("above maximum %v", *w.Max)).
			WithDetails(map[string]any{"min": w.Min, "max": *w.Max})
	}
	return nil
}

func (w *WidgetSpec) invalid(value any, reason string) *schema.GraphError {
	return schema.NewErrorf(schema.ErrCodeInvalidValue, "widget %q: %s", w.Name, reason).
		WithDetails(map[string]any{"widget": w.Name, "kind": string(w.Kind), "value": value})
}

// Describe returns the widget spec as a plain map, used by CEL constraints.
func (w *WidgetSpec) Describe() map[string]any {
	m := map[string]any{"name": w.Name, "kind": string(w.Kind)}
	if w.Min != nil {
		m["min"] = *w.Min
	}
	if w.Max != nil {
		m["max"] = *w.Max
	}
	if len(w.Options) > 0 {
		m["options"] = slices.Clone(w.Options)
	}
	return m
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	default:
		return 0, false
	}
}

func comboEqual(opt, value any) bool {
	if of, ok := toFloat(opt); ok {
		vf, ok := toFloat(value)
		return ok && of == vf
	}
	return opt == value
}
