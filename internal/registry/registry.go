// Package registry holds the node-type catalog: slot arity and types, widget
// kinds, defaults and bounds. The graph store only reads it through Lookup.
package registry

import (
	_ "embed"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/rendis/nodeforge/pkg/schema"
	"gopkg.in/yaml.v3"
)

//go:embed catalog.yaml
var builtinCatalog []byte

// Lookup is the read-only view of the registry used by the graph store and
// the analysis engine.
type Lookup interface {
	Get(name string) (*NodeType, bool)
	List() []*NodeType
}

type catalogFile struct {
	Types []NodeType `yaml:"types" validate:"dive"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Registry is a Lookup backed by the built-in catalog plus an optional
// override file. Safe for concurrent use; Reload swaps the whole map.
type Registry struct {
	mu      sync.RWMutex
	builtin map[string]*NodeType
	types   map[string]*NodeType

	path     string
	logger   *slog.Logger
	onReload []func(count int)
}

// New creates a registry holding the built-in catalog.
func New(logger *slog.Logger) (*Registry, error) {
	if logger == nil {
		logger = slog.Default()
	}
	builtin, err := Parse(builtinCatalog)
	if err != nil {
		return nil, fmt.Errorf("registry: builtin catalog: %w", err)
	}
	r := &Registry{
		builtin: indexTypes(builtin),
		logger:  logger,
	}
	r.types = r.builtin
	return r, nil
}

// Parse decodes and validates a YAML catalog.
func Parse(data []byte) ([]*NodeType, error) {
	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("decode catalog: %w", err)
	}
	if err := validate.Struct(&file); err != nil {
		return nil, fmt.Errorf("invalid catalog: %w", err)
	}

	seen := make(map[string]bool, len(file.Types))
	out := make([]*NodeType, 0, len(file.Types))
	for i := range file.Types {
		t := &file.Types[i]
		if seen[t.Name] {
			return nil, fmt.Errorf("duplicate node type %q", t.Name)
		}
		seen[t.Name] = true
		if err := checkType(t); err != nil {
			return nil, fmt.Errorf("node type %q: %w", t.Name, err)
		}
		if t.Size == (schema.Vec2{}) {
			t.Size = defaultSize(t)
		}
		out = append(out, t)
	}
	return out, nil
}

func checkType(t *NodeType) error {
	widgets := make(map[string]bool, len(t.Widgets))
	for i := range t.Widgets {
		w := &t.Widgets[i]
		if widgets[w.Name] {
			return fmt.Errorf("duplicate widget %q", w.Name)
		}
		widgets[w.Name] = true
		if w.Min != nil && w.Max != nil && *w.Min > *w.Max {
			return fmt.Errorf("widget %q: min %v > max %v", w.Name, *w.Min, *w.Max)
		}
		if w.Default != nil {
			v, err := w.Coerce(w.Default)
			if err != nil {
				return fmt.Errorf("widget %q default: %w", w.Name, err)
			}
			w.Default = v
		}
	}
	return nil
}

// defaultSize estimates a node size from its slot and widget counts.
func defaultSize(t *NodeType) schema.Vec2 {
	rows := max(len(t.Inputs), len(t.Outputs)) + len(t.Widgets)
	return schema.Vec2{315, float64(30 + 24*rows)}
}

func indexTypes(types []*NodeType) map[string]*NodeType {
	m := make(map[string]*NodeType, len(types))
	for _, t := range types {
		m[t.Name] = t
	}
	return m
}

// LoadFile merges the YAML file at path over the built-in catalog and
// remembers the path for Reload and Watch.
func (r *Registry) LoadFile(path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("registry: resolve %s: %w", path, err)
	}
	r.mu.Lock()
	r.path = abs
	r.mu.Unlock()
	return r.Reload()
}

// Reload re-reads the override file. On error the current catalog is kept.
func (r *Registry) Reload() error {
	r.mu.RLock()
	path := r.path
	r.mu.RUnlock()
	if path == "" {
		return nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("registry: read %s: %w", path, err)
	}
	extra, err := Parse(data)
	if err != nil {
		return fmt.Errorf("registry: %s: %w", path, err)
	}

	merged := make(map[string]*NodeType, len(r.builtin)+len(extra))
	for k, v := range r.builtin {
		merged[k] = v
	}
	for _, t := range extra {
		merged[t.Name] = t
	}

	r.mu.Lock()
	r.types = merged
	hooks := append([]func(int){}, r.onReload...)
	r.mu.Unlock()

	r.logger.Info("registry loaded", "path", path, "types", len(merged), "overrides", len(extra))
	for _, fn := range hooks {
		fn(len(merged))
	}
	return nil
}

// OnReload registers a callback invoked after every successful reload.
func (r *Registry) OnReload(fn func(count int)) {
	r.mu.Lock()
	r.onReload = append(r.onReload, fn)
	r.mu.Unlock()
}

// Get returns the node type with the given name.
func (r *Registry) Get(name string) (*NodeType, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.types[name]
	return t, ok
}

// List returns every node type sorted by name.
func (r *Registry) List() []*NodeType {
	r.mu.RLock()
	out := make([]*NodeType, 0, len(r.types))
	for _, t := range r.types {
		out = append(out, t)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Search returns types whose name, display name or category contains query
// (case-insensitive), optionally restricted to one category.
func (r *Registry) Search(query, category string, limit int) []*NodeType {
	q := strings.ToLower(query)
	var out []*NodeType
	for _, t := range r.List() {
		if category != "" && !strings.EqualFold(t.Category, category) {
			continue
		}
		if q != "" &&
			!strings.Contains(strings.ToLower(t.Name), q) &&
			!strings.Contains(strings.ToLower(t.DisplayName), q) &&
			!strings.Contains(strings.ToLower(t.Category), q) {
			continue
		}
		out = append(out, t)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}

// Categories counts node types per category.
func (r *Registry) Categories() map[string]int {
	counts := make(map[string]int)
	for _, t := range r.List() {
		counts[t.Category]++
	}
	return counts
}

var _ Lookup = (*Registry)(nil)
