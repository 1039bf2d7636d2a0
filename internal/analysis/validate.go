package analysis

import (
	"context"
	"fmt"

	"github.com/rendis/nodeforge/internal/registry"
	"github.com/rendis/nodeforge/pkg/schema"
)

// Report is the outcome of Validate. CanExecute is false whenever there is
// at least one error.
type Report struct {
	CanExecute     bool                     `json:"can_execute"`
	Errors         []schema.ValidationIssue `json:"errors"`
	Warnings       []schema.ValidationIssue `json:"warnings"`
	ExecutionOrder []int                    `json:"execution_order,omitempty"`
	Levels         [][]int                  `json:"levels,omitempty"`
	Cycles         [][]int                  `json:"cycles,omitempty"`
}

// Validate checks whether the document can execute. Unknown node types,
// dangling links, link type mismatches, unbound required inputs and cycles
// are blocking. Unbound optional inputs, a missing output node, nodes that
// cannot reach an output and bypassed output nodes are warnings. The only
// returned error is context cancellation.
func Validate(ctx context.Context, doc *schema.Document, reg registry.Lookup) (*Report, error) {
	ix := newIndex(doc)
	res := &schema.ValidationResult{}

	for i, l := range doc.Links {
		if err := checkEvery(ctx, i); err != nil {
			return nil, err
		}
		path := fmt.Sprintf("links[%d]", l.ID)
		if !ix.live(l) {
			res.AddError(path, IssueDanglingLink,
				fmt.Sprintf("link %d connects %d:%d -> %d:%d but an endpoint does not exist", l.ID, l.OriginID, l.OriginSlot, l.TargetID, l.TargetSlot))
			continue
		}
		origin, target := ix.nodes[l.OriginID], ix.nodes[l.TargetID]
		outType := origin.Outputs[l.OriginSlot].Type
		inType := target.Inputs[l.TargetSlot].Type
		if !registry.Compatible(outType, inType) {
			res.AddError(path, schema.ErrCodeTypeMismatch,
				fmt.Sprintf("link %d carries %s into %s input %q (%s)", l.ID, outType, target.Type, target.Inputs[l.TargetSlot].Name, inType))
		}
	}

	terminals, activeTerminals := 0, 0
	for i, id := range ix.sortedIDs() {
		if err := checkEvery(ctx, i); err != nil {
			return nil, err
		}
		n := ix.nodes[id]
		if _, ok := reg.Get(n.Type); !ok {
			res.AddNodeError(id, schema.ErrCodeUnknownType, fmt.Sprintf("node %d has unknown type %q", id, n.Type))
		}
		if isTerminal(reg, n) {
			terminals++
			if n.Mode == schema.ModeBypassed {
				res.AddNodeWarning(id, IssueBypassedOutput, fmt.Sprintf("output node %d (%s) is bypassed", id, n.DisplayName()))
			} else {
				activeTerminals++
			}
		}
		for slot, in := range n.Inputs {
			if in.Link != nil {
				if l, ok := ix.links[*in.Link]; !ok || l.TargetID != id || l.TargetSlot != slot {
					res.AddNodeError(id, IssueDanglingLink,
						fmt.Sprintf("input %q of node %d references missing link %d", in.Name, id, *in.Link))
				}
				continue
			}
			switch {
			case in.Optional:
				res.AddNodeWarning(id, IssueOptionalInput,
					fmt.Sprintf("optional input %q of node %d (%s) is not connected", in.Name, id, n.DisplayName()))
			case n.Mode == schema.ModeBypassed:
				res.AddNodeWarning(id, IssueRequiredInput,
					fmt.Sprintf("required input %q of bypassed node %d (%s) is not connected", in.Name, id, n.DisplayName()))
			default:
				res.AddNodeError(id, IssueRequiredInput,
					fmt.Sprintf("required input %q (%s) of node %d (%s) is not connected", in.Name, in.Type, id, n.DisplayName()))
			}
		}
	}

	if len(ix.nodes) > 0 && terminals == 0 {
		res.AddWarning("nodes", IssueNoOutput, "workflow has no output node; nothing will be produced")
	} else if terminals > 0 && activeTerminals == 0 {
		res.AddWarning("nodes", IssueNoOutput, "every output node is bypassed")
	}
	if terminals > 0 {
		disconnected, err := Disconnected(ctx, doc, reg)
		if err != nil {
			return nil, err
		}
		for _, id := range disconnected {
			res.AddNodeWarning(id, IssueDisconnected,
				fmt.Sprintf("node %d (%s) has no path to an output node", id, ix.nodes[id].DisplayName()))
		}
	}

	report := &Report{Errors: res.Errors, Warnings: res.Warnings}
	order, err := ExecutionOrder(ctx, doc)
	switch {
	case schema.HasCode(err, schema.ErrCodeCycleDetected):
		ge := schema.AsGraphError(err)
		report.Cycles, _ = ge.Details["cycles"].([][]int)
		report.Errors = append(report.Errors, schema.ValidationIssue{
			Path: "links", Code: schema.ErrCodeCycleDetected, Message: ge.Message, Severity: schema.SeverityError,
		})
	case err != nil:
		return nil, err
	default:
		report.ExecutionOrder, report.Levels = order.Sorted, order.Levels
	}
	if report.Errors == nil {
		report.Errors = []schema.ValidationIssue{}
	}
	if report.Warnings == nil {
		report.Warnings = []schema.ValidationIssue{}
	}
	report.CanExecute = len(report.Errors) == 0
	if !report.CanExecute {
		report.ExecutionOrder, report.Levels = nil, nil
	}
	return report, nil
}
