package analysis

import (
	"context"
	"fmt"
	"strings"

	"github.com/rendis/nodeforge/pkg/schema"
)

// Group issue kinds.
const (
	GroupIssueOverlap        = "overlap"
	GroupIssueTooClose       = "too_close"
	GroupIssueDuplicateTitle = "duplicate_title"
	GroupIssueEmpty          = "empty"
	GroupIssueOversized      = "oversized"
	GroupIssueOutside        = "member_outside"
)

// GroupIssue is one group-level finding with a suggested fix.
type GroupIssue struct {
	Kind       string   `json:"kind"`
	Groups     []int    `json:"groups"`
	Titles     []string `json:"titles"`
	Message    string   `json:"message"`
	Suggestion string   `json:"suggestion,omitempty"`
	NodeIDs    []int    `json:"node_ids,omitempty"`
}

// GroupIssues reports overlapping or crowded groups, duplicate titles, empty
// groups, groups with more than maxMembers members (0 disables the check)
// and members whose rect pokes out of their group.
func GroupIssues(ctx context.Context, doc *schema.Document, minGap float64, maxMembers int) ([]GroupIssue, error) {
	ix := newIndex(doc)
	out := []GroupIssue{}

	overlaps, err := GroupOverlaps(ctx, doc, minGap)
	if err != nil {
		return nil, err
	}
	for _, o := range overlaps {
		is := GroupIssue{Groups: []int{o.A, o.B}, Titles: []string{o.TitleA, o.TitleB}}
		if o.Kind == KindOverlap {
			is.Kind = GroupIssueOverlap
			is.Message = fmt.Sprintf("groups %q and %q overlap by %.0f%%", o.TitleA, o.TitleB, o.Percent)
			is.Suggestion = fmt.Sprintf("move_group %q with an offset, or run organize", o.TitleB)
		} else {
			is.Kind = GroupIssueTooClose
			is.Message = fmt.Sprintf("groups %q and %q are closer than %.0f units", o.TitleA, o.TitleB, minGap)
			is.Suggestion = fmt.Sprintf("move_group %q further away", o.TitleB)
		}
		out = append(out, is)
	}

	byTitle := make(map[string][]int)
	var titles []string
	for i, g := range doc.Groups {
		if err := checkEvery(ctx, i); err != nil {
			return nil, err
		}
		key := strings.ToLower(g.Title)
		if _, seen := byTitle[key]; !seen {
			titles = append(titles, key)
		}
		byTitle[key] = append(byTitle[key], i)

		switch {
		case len(g.Nodes) == 0:
			out = append(out, GroupIssue{
				Kind: GroupIssueEmpty, Groups: []int{i}, Titles: []string{g.Title},
				Message:    fmt.Sprintf("group %q has no members", g.Title),
				Suggestion: fmt.Sprintf("delete_group %d or move nodes into it", i),
			})
		case maxMembers > 0 && len(g.Nodes) > maxMembers:
			out = append(out, GroupIssue{
				Kind: GroupIssueOversized, Groups: []int{i}, Titles: []string{g.Title},
				Message:    fmt.Sprintf("group %q has %d members (limit %d)", g.Title, len(g.Nodes), maxMembers),
				Suggestion: fmt.Sprintf("split_group %d into smaller stages", i),
			})
		}

		var outside []int
		for _, id := range g.Nodes {
			if n, ok := ix.nodes[id]; ok && !g.Bounding.Contains(n.Rect()) {
				outside = append(outside, id)
			}
		}
		if len(outside) > 0 {
			out = append(out, GroupIssue{
				Kind: GroupIssueOutside, Groups: []int{i}, Titles: []string{g.Title}, NodeIDs: outside,
				Message:    fmt.Sprintf("%d member(s) of group %q lie outside its bounds", len(outside), g.Title),
				Suggestion: fmt.Sprintf("fit_group_to_nodes %d", i),
			})
		}
	}

	for _, key := range titles {
		idx := byTitle[key]
		if len(idx) < 2 {
			continue
		}
		names := make([]string, len(idx))
		for i, gi := range idx {
			names[i] = doc.Groups[gi].Title
		}
		out = append(out, GroupIssue{
			Kind: GroupIssueDuplicateTitle, Groups: idx, Titles: names,
			Message:    fmt.Sprintf("%d groups share the title %q", len(idx), names[0]),
			Suggestion: "rename with update_group or combine with merge_groups",
		})
	}
	return out, nil
}
