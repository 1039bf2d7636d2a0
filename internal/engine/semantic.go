package engine

import (
	"fmt"

	"github.com/rendis/nodeforge/internal/refs"
	"github.com/rendis/nodeforge/internal/registry"
	"github.com/rendis/nodeforge/pkg/schema"
)

// checkSemantic looks across a decoded batch without touching the document.
// Checks: symbolic names bound before use and bound once, node types of
// create_node registered. Runtime failures (missing ids, slot types, widget
// values) are left to execution.
func checkSemantic(decoded []*Decoded, reg registry.Lookup) *schema.ValidationResult {
	result := &schema.ValidationResult{}
	bound := make(map[string]int)

	for _, dc := range decoded {
		path := fmt.Sprintf("commands[%d]", dc.Index)

		for _, r := range usedRefs(dc.Command) {
			if !r.IsSymbolic() {
				continue
			}
			if _, ok := bound[r.Name()]; !ok {
				result.AddError(path, schema.ErrCodeUnboundRef,
					fmt.Sprintf("%s is used before any earlier command binds it", r.Name()))
			}
		}

		for _, name := range boundRefs(dc.Command) {
			if first, ok := bound[name]; ok {
				result.AddError(path, schema.ErrCodeDuplicateRef,
					fmt.Sprintf("%s is already bound by commands[%d]", name, first))
				continue
			}
			bound[name] = dc.Index
		}

		if cn, ok := dc.Command.(CreateNode); ok && reg != nil {
			for j, item := range cn.Nodes {
				if _, known := reg.Get(item.Type); !known {
					result.AddError(fmt.Sprintf("%s.nodes[%d].type", path, j), schema.ErrCodeUnknownType,
						fmt.Sprintf("unknown node type %q", item.Type))
				}
			}
		}
	}
	return result
}

// boundRefs returns the names a command binds, in binding order.
func boundRefs(c Command) []string {
	var out []string
	switch cmd := c.(type) {
	case CreateNode:
		for _, it := range cmd.Nodes {
			if it.Ref != "" {
				out = append(out, it.Ref)
			}
		}
	case DuplicateNode:
		for _, it := range cmd.Nodes {
			if it.Ref != "" {
				out = append(out, it.Ref)
			}
		}
	}
	return out
}

// usedRefs returns every node reference a command consumes.
func usedRefs(c Command) []refs.NodeRef {
	var out []refs.NodeRef
	switch cmd := c.(type) {
	case DeleteNode:
		out = append(out, cmd.Nodes...)
	case UpdateNode:
		for _, it := range cmd.Updates {
			out = append(out, it.Node)
		}
	case DuplicateNode:
		for _, it := range cmd.Nodes {
			out = append(out, it.Node)
		}
	case BypassNode:
		out = append(out, cmd.Nodes...)
	case CreateLink:
		for _, it := range cmd.Links {
			out = append(out, it.From, it.To)
		}
	case DeleteLink:
		for _, it := range cmd.Links {
			out = append(out, it.Node)
		}
	case UpdateWidget:
		for _, it := range cmd.Updates {
			out = append(out, it.Node)
		}
	case CreateGroup:
		for _, it := range cmd.Groups {
			out = append(out, it.Nodes...)
		}
	case UpdateGroup:
		for _, it := range cmd.Updates {
			if it.Nodes != nil {
				out = append(out, *it.Nodes...)
			}
		}
	case MoveNodesToGroup:
		for _, it := range cmd.Moves {
			out = append(out, it.Nodes...)
		}
	case SplitGroup:
		for _, it := range cmd.Parts {
			out = append(out, it.Nodes...)
		}
	case AlignNodes:
		out = append(out, cmd.Nodes...)
	case DistributeNodes:
		out = append(out, cmd.Nodes...)
	case OrganizeLayout:
		for _, it := range cmd.Plan.Groups {
			out = append(out, it.Nodes...)
		}
	case IntegrateNode:
		out = append(out, cmd.NodeID)
	}
	return out
}
