package analysis

import (
	"context"
	"fmt"
	"path"
	"sort"
	"strings"

	"github.com/rendis/nodeforge/internal/registry"
	"github.com/rendis/nodeforge/pkg/schema"
)

// Summary is a compact overview of a document.
type Summary struct {
	Nodes     int            `json:"nodes"`
	Links     int            `json:"links"`
	Groups    []GroupSummary `json:"groups"`
	Types     map[string]int `json:"types"`
	Outputs   []int          `json:"output_nodes"`
	Bypassed  []int          `json:"bypassed_nodes"`
	Ungrouped []int          `json:"ungrouped_nodes"`
}

// GroupSummary is one group in a Summary.
type GroupSummary struct {
	Index int    `json:"index"`
	Title string `json:"title"`
	Nodes []int  `json:"nodes"`
}

// Summarize counts what the document holds.
func Summarize(doc *schema.Document, reg registry.Lookup) *Summary {
	ix := newIndex(doc)
	s := &Summary{
		Nodes: len(doc.Nodes), Links: len(doc.Links),
		Groups: []GroupSummary{}, Types: make(map[string]int),
		Outputs: []int{}, Bypassed: []int{}, Ungrouped: []int{},
	}
	for i, g := range doc.Groups {
		s.Groups = append(s.Groups, GroupSummary{Index: i, Title: g.Title, Nodes: append([]int{}, g.Nodes...)})
	}
	for _, id := range ix.sortedIDs() {
		n := ix.nodes[id]
		s.Types[n.Type]++
		if isTerminal(reg, n) {
			s.Outputs = append(s.Outputs, id)
		}
		if n.Mode == schema.ModeBypassed {
			s.Bypassed = append(s.Bypassed, id)
		}
		if _, ok := ix.groupOf[id]; !ok {
			s.Ungrouped = append(s.Ungrouped, id)
		}
	}
	return s
}

// Complexity holds size and shape metrics.
type Complexity struct {
	Nodes         int     `json:"nodes"`
	Links         int     `json:"links"`
	Groups        int     `json:"groups"`
	Depth         int     `json:"depth"`
	MaxFanOut     int     `json:"max_fan_out"`
	MaxFanOutNode int     `json:"max_fan_out_node,omitempty"`
	LinksPerNode  float64 `json:"links_per_node"`
}

// ModelUse is a model file referenced by a widget.
type ModelUse struct {
	NodeID int    `json:"node_id"`
	Type   string `json:"type"`
	Widget string `json:"widget"`
	Value  string `json:"value"`
}

var modelExtensions = map[string]bool{
	".safetensors": true, ".ckpt": true, ".pt": true, ".pth": true, ".bin": true, ".gguf": true, ".sft": true,
}

// Models lists widget values that name model files: widgets called *_name
// holding a file with a model extension.
func Models(doc *schema.Document) []ModelUse {
	out := []ModelUse{}
	for _, n := range doc.Nodes {
		for _, w := range n.Widgets {
			s, ok := w.Value.(string)
			if !ok || !strings.HasSuffix(w.Name, "_name") || !modelExtensions[strings.ToLower(path.Ext(s))] {
				continue
			}
			out = append(out, ModelUse{NodeID: n.ID, Type: n.Type, Widget: w.Name, Value: s})
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].NodeID < out[j].NodeID })
	return out
}

// AnalyzeOptions tunes Analyze. Zero values fall back to defaults.
type AnalyzeOptions struct {
	MinGap             float64
	MinSpacing         float64
	MaxGroupMembers    int
	IncludeSuggestions bool
}

// Analysis combines every diagnostic into one report.
type Analysis struct {
	Validation   *Report       `json:"validation"`
	LayoutIssues []LayoutIssue `json:"layout_issues"`
	GroupIssues  []GroupIssue  `json:"group_issues"`
	Disconnected []int         `json:"disconnected"`
	Duplicates   []Duplicate   `json:"duplicates"`
	Metrics      Complexity    `json:"metrics"`
	Models       []ModelUse    `json:"models"`
	Suggestions  []string      `json:"suggestions,omitempty"`
}

// Analyze runs validation, layout, group, connectivity and duplicate checks
// and adds complexity metrics and model usage.
func Analyze(ctx context.Context, doc *schema.Document, reg registry.Lookup, opts AnalyzeOptions) (*Analysis, error) {
	if opts.MinGap <= 0 {
		opts.MinGap = 50
	}
	if opts.MinSpacing <= 0 {
		opts.MinSpacing = 20
	}

	report, err := Validate(ctx, doc, reg)
	if err != nil {
		return nil, err
	}
	layout, err := LayoutIssues(ctx, doc, opts.MinSpacing)
	if err != nil {
		return nil, err
	}
	groups, err := GroupIssues(ctx, doc, opts.MinGap, opts.MaxGroupMembers)
	if err != nil {
		return nil, err
	}
	disconnected, err := Disconnected(ctx, doc, reg)
	if err != nil {
		return nil, err
	}
	dups, err := Duplicates(ctx, doc)
	if err != nil {
		return nil, err
	}

	a := &Analysis{
		Validation:   report,
		LayoutIssues: layout,
		GroupIssues:  groups,
		Disconnected: disconnected,
		Duplicates:   dups,
		Metrics:      complexity(doc, report),
		Models:       Models(doc),
	}
	if opts.IncludeSuggestions {
		a.Suggestions = suggest(a)
	}
	return a, nil
}

func complexity(doc *schema.Document, report *Report) Complexity {
	c := Complexity{Nodes: len(doc.Nodes), Links: len(doc.Links), Groups: len(doc.Groups), Depth: len(report.Levels)}
	for _, n := range doc.Nodes {
		fan := 0
		for _, o := range n.Outputs {
			fan += len(o.Links)
		}
		if fan > c.MaxFanOut {
			c.MaxFanOut, c.MaxFanOutNode = fan, n.ID
		}
	}
	if c.Nodes > 0 {
		c.LinksPerNode = float64(c.Links) / float64(c.Nodes)
	}
	return c
}

func suggest(a *Analysis) []string {
	var out []string
	required := 0
	for _, e := range a.Validation.Errors {
		if e.Code == IssueRequiredInput {
			required++
		}
	}
	if required > 0 {
		out = append(out, fmt.Sprintf("connect %d required input(s); find them with find_nodes {has_disconnected_inputs: true}", required))
	}
	if len(a.Validation.Cycles) > 0 {
		out = append(out, "break the reported cycles before queueing the workflow")
	}
	for _, w := range a.Validation.Warnings {
		if w.Code == IssueNoOutput {
			out = append(out, "add a SaveImage or PreviewImage node so the workflow produces output")
			break
		}
	}
	if len(a.Disconnected) > 0 && len(a.Disconnected) < a.Metrics.Nodes {
		out = append(out, fmt.Sprintf("nodes %v do not contribute to any output; connect or delete them", a.Disconnected))
	}
	for _, d := range a.Duplicates {
		out = append(out, fmt.Sprintf("%s nodes %v look identical; one may be redundant", d.Type, d.NodeIDs))
	}
	if len(a.LayoutIssues) > 0 {
		out = append(out, fmt.Sprintf("%d layout issue(s); organize can rebuild the layout", len(a.LayoutIssues)))
	}
	if len(a.GroupIssues) > 0 {
		out = append(out, fmt.Sprintf("%d group issue(s); see detect_group_issues", len(a.GroupIssues)))
	}
	return out
}
