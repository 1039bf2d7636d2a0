package graph

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/rendis/nodeforge/pkg/schema"
)

// GroupRef addresses a group by list index or by title. It decodes from a
// number, a numeric string or a title.
type GroupRef struct {
	Index   int
	Title   string
	ByIndex bool
}

// GroupAt addresses a group by index.
func GroupAt(i int) GroupRef { return GroupRef{Index: i, ByIndex: true} }

// GroupNamed addresses a group by title.
func GroupNamed(title string) GroupRef { return GroupRef{Title: title} }

func (r *GroupRef) UnmarshalJSON(data []byte) error {
	var n float64
	if err := json.Unmarshal(data, &n); err == nil {
		if n != float64(int(n)) {
			return fmt.Errorf("group index must be an integer, got %v", n)
		}
		*r = GroupAt(int(n))
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("group must be an index or a title")
	}
	if i, err := strconv.Atoi(s); err == nil {
		*r = GroupAt(i)
		return nil
	}
	*r = GroupNamed(s)
	return nil
}

func (r GroupRef) MarshalJSON() ([]byte, error) {
	if r.ByIndex {
		return json.Marshal(r.Index)
	}
	return json.Marshal(r.Title)
}

func (r GroupRef) String() string {
	if r.ByIndex {
		return fmt.Sprintf("#%d", r.Index)
	}
	return strconv.Quote(r.Title)
}

// ResolveGroup returns the list index of the referenced group.
func (g *Graph) ResolveGroup(ref GroupRef) (int, error) {
	if ref.ByIndex {
		if ref.Index < 0 || ref.Index >= len(g.groups) {
			return -1, schema.NewErrorf(schema.ErrCodeNotFound, "group index %d not found", ref.Index).
				WithDetails(map[string]any{"group": ref.Index, "group_count": len(g.groups)}).
				WithHint(fmt.Sprintf("there are %d groups (indices 0-%d)", len(g.groups), len(g.groups)-1))
		}
		return ref.Index, nil
	}
	return g.groupByTitle(ref.Title)
}

// groupByTitle finds a group by exact title, then case-insensitively. More
// than one match is reported as AMBIGUOUS, never silently resolved.
func (g *Graph) groupByTitle(title string) (int, error) {
	var exact, folded []int
	for i, grp := range g.groups {
		if grp.Title == title {
			exact = append(exact, i)
		} else if strings.EqualFold(grp.Title, title) {
			folded = append(folded, i)
		}
	}
	matches := exact
	if len(matches) == 0 {
		matches = folded
	}
	switch len(matches) {
	case 0:
		titles := make([]string, len(g.groups))
		for i, grp := range g.groups {
			titles[i] = grp.Title
		}
		return -1, schema.NewErrorf(schema.ErrCodeNotFound, "group %q not found", title).
			WithDetails(map[string]any{"group": title, "available": titles})
	case 1:
		return matches[0], nil
	default:
		return -1, schema.NewErrorf(schema.ErrCodeAmbiguous, "%d groups are titled %q", len(matches), title).
			WithDetails(map[string]any{"group": title, "indices": matches}).
			WithSuggestion("address the group by index instead of title")
	}
}

// groupIndexOf returns the index of the group containing node id, or -1.
func (g *Graph) groupIndexOf(id int) int {
	for i, grp := range g.groups {
		if grp.HasMember(id) {
			return i
		}
	}
	return -1
}

// membersRect is the union of the rects of the given nodes.
func (g *Graph) membersRect(ids []int) (schema.Rect, bool) {
	var r schema.Rect
	found := false
	for _, id := range ids {
		n, ok := g.nodes.Get(id)
		if !ok {
			continue
		}
		if !found {
			r, found = n.Rect(), true
			continue
		}
		r = r.Union(n.Rect())
	}
	return r, found
}

// MinBounding is the smallest rect containing the members plus padding.
func (g *Graph) MinBounding(ids []int, pad float64) (schema.Rect, bool) {
	r, ok := g.membersRect(ids)
	if !ok {
		return schema.Rect{}, false
	}
	return r.Expand(pad), true
}

// fitGroup sets the bounding rect to exactly the members plus padding.
func (g *Graph) fitGroup(grp *schema.Group, pad float64) {
	if r, ok := g.MinBounding(grp.Nodes, pad); ok {
		grp.Bounding = r
	}
}

// growGroup enlarges the bounding rect so it contains every member plus
// padding. Reports whether it changed.
func (g *Graph) growGroup(grp *schema.Group) bool {
	r, ok := g.MinBounding(grp.Nodes, g.opts.GroupPadding)
	if !ok || grp.Bounding.Contains(r) {
		return false
	}
	grp.Bounding = grp.Bounding.Union(r)
	return true
}

// detach removes ids from every group other than keep and returns the
// indices of groups that lost members.
func (g *Graph) detach(ids []int, keep *schema.Group) []int {
	set := make(map[int]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	var touched []int
	for i, grp := range g.groups {
		if grp == keep {
			continue
		}
		kept := grp.Nodes[:0]
		for _, m := range grp.Nodes {
			if !set[m] {
				kept = append(kept, m)
			}
		}
		if len(kept) != len(grp.Nodes) {
			grp.Nodes = kept
			touched = append(touched, i)
			g.changes.Groups.Modified++
		}
	}
	return touched
}

func (g *Graph) padding(p *float64) float64 {
	if p != nil && *p >= 0 {
		return *p
	}
	return g.opts.GroupPadding
}

// GroupResult describes a group after a mutation.
type GroupResult struct {
	Index    int         `json:"index"`
	Title    string      `json:"title"`
	Color    string      `json:"color,omitempty"`
	Bounding schema.Rect `json:"bounding"`
	Nodes    []int       `json:"nodes"`
}

func (g *Graph) groupResult(i int) *GroupResult {
	grp := g.groups[i]
	return &GroupResult{
		Index:    i,
		Title:    grp.Title,
		Color:    grp.Color,
		Bounding: grp.Bounding,
		Nodes:    append([]int{}, grp.Nodes...),
	}
}

// GroupSpec describes a group to create. Bounding is optional; when members
// are given it must contain them plus padding.
type GroupSpec struct {
	Title    string
	Color    string
	Nodes    []int
	Padding  *float64
	Bounding *schema.Rect
}

// CreateGroup appends a group. Members leave any group they were in.
func (g *Graph) CreateGroup(spec GroupSpec) (*GroupResult, error) {
	if strings.TrimSpace(spec.Title) == "" {
		return nil, schema.NewError(schema.ErrCodeValidationFailed, "group title is required")
	}
	if err := g.requireNodes(spec.Nodes); err != nil {
		return nil, err
	}
	nodes := dedupe(spec.Nodes)
	pad := g.padding(spec.Padding)

	var bounding schema.Rect
	minRect, hasMembers := g.MinBounding(nodes, pad)
	switch {
	case spec.Bounding != nil:
		if hasMembers && !spec.Bounding.Contains(minRect) {
			return nil, tooSmall(spec.Title, *spec.Bounding, minRect, pad)
		}
		bounding = *spec.Bounding
	case hasMembers:
		bounding = minRect
	default:
		pos := g.autoPlace(schema.Vec2{400, 300}, -1, false)
		bounding = schema.Rect{X: pos[0], Y: pos[1], W: 400, H: 300}
	}

	grp := &schema.Group{
		Title:    spec.Title,
		Color:    colorOr(spec.Color, StageColor(spec.Title)),
		Bounding: bounding,
		Nodes:    nodes,
	}
	g.detach(nodes, nil)
	g.groups = append(g.groups, grp)
	g.changes.Groups.Created++
	g.touch()
	return g.groupResult(len(g.groups) - 1), nil
}

func tooSmall(title string, requested, minRect schema.Rect, pad float64) *schema.GraphError {
	return schema.NewErrorf(schema.ErrCodeInvariant,
		"group %q must be at least %.0fx%.0f to contain its nodes", title, minRect.W, minRect.H).
		WithDetails(map[string]any{
			"requested":    requested,
			"min_width":    minRect.W,
			"min_height":   minRect.H,
			"min_bounding": minRect,
			"padding":      pad,
		}).
		WithHint("a group must contain all member nodes plus padding on every side").
		WithSuggestion(fmt.Sprintf("use bounding [%.0f, %.0f, %.0f, %.0f] or remove members first", minRect.X, minRect.Y, minRect.W, minRect.H))
}

// GroupDeleted reports a removed group. Its members are kept.
type GroupDeleted struct {
	Index int    `json:"index"`
	Title string `json:"title"`
	Nodes []int  `json:"nodes"`
}

// DeleteGroup removes a group. Member nodes are never deleted.
func (g *Graph) DeleteGroup(ref GroupRef) (*GroupDeleted, error) {
	i, err := g.ResolveGroup(ref)
	if err != nil {
		return nil, err
	}
	grp := g.groups[i]
	g.groups = append(g.groups[:i], g.groups[i+1:]...)
	g.changes.Groups.Deleted++
	g.touch()
	return &GroupDeleted{Index: i, Title: grp.Title, Nodes: grp.Nodes}, nil
}

// DeleteAllGroups removes every group and returns how many there were.
func (g *Graph) DeleteAllGroups() int {
	n := len(g.groups)
	if n == 0 {
		return 0
	}
	g.groups = nil
	g.changes.Groups.Deleted += n
	g.touch()
	return n
}

// GroupUpdate carries optional group changes. Nodes replaces membership and
// refits the group; Pos and Size set the bounding rect explicitly.
type GroupUpdate struct {
	Title   *string
	Color   *string
	Nodes   *[]int
	Padding *float64
	Pos     *schema.Vec2
	Size    *schema.Vec2
}

// UpdateGroup renames, recolors, reflows or resizes a group. A bounding rect
// that no longer contains the members plus padding is rejected with the
// computed minimum and the group is left unchanged.
func (g *Graph) UpdateGroup(ref GroupRef, upd GroupUpdate) (*GroupResult, error) {
	i, err := g.ResolveGroup(ref)
	if err != nil {
		return nil, err
	}
	grp := g.groups[i]

	members := grp.Nodes
	if upd.Nodes != nil {
		if err := g.requireNodes(*upd.Nodes); err != nil {
			return nil, err
		}
		members = dedupe(*upd.Nodes)
	}
	pad := g.padding(upd.Padding)
	minRect, hasMembers := g.MinBounding(members, pad)

	bounding := grp.Bounding
	if hasMembers && (upd.Nodes != nil || upd.Padding != nil) {
		bounding = minRect
	}
	if upd.Pos != nil {
		bounding.X, bounding.Y = upd.Pos[0], upd.Pos[1]
	}
	if upd.Size != nil {
		if upd.Size[0] < 0 || upd.Size[1] < 0 {
			return nil, schema.NewError(schema.ErrCodeInvalidValue, "group size must be non-negative").
				WithDetails(map[string]any{"size": *upd.Size})
		}
		bounding.W, bounding.H = upd.Size[0], upd.Size[1]
	}
	if hasMembers && !bounding.Contains(minRect) {
		return nil, tooSmall(grp.Title, bounding, minRect, pad)
	}

	if upd.Nodes != nil {
		g.detach(members, grp)
		grp.Nodes = members
	}
	if upd.Title != nil {
		grp.Title = *upd.Title
	}
	if upd.Color != nil {
		grp.Color = *upd.Color
	}
	grp.Bounding = bounding
	g.changes.Groups.Modified++
	g.touch()
	return g.groupResult(i), nil
}

// resolveGroups resolves refs to distinct indices.
func (g *Graph) resolveGroups(refs []GroupRef) ([]int, error) {
	seen := make(map[int]bool, len(refs))
	out := make([]int, 0, len(refs))
	for _, ref := range refs {
		i, err := g.ResolveGroup(ref)
		if err != nil {
			return nil, err
		}
		if !seen[i] {
			seen[i] = true
			out = append(out, i)
		}
	}
	return out, nil
}

// removeGroups deletes the groups at the given indices.
func (g *Graph) removeGroups(indices []int) {
	drop := make(map[int]bool, len(indices))
	for _, i := range indices {
		drop[i] = true
	}
	kept := g.groups[:0]
	for i, grp := range g.groups {
		if !drop[i] {
			kept = append(kept, grp)
		}
	}
	for i := len(kept); i < len(g.groups); i++ {
		g.groups[i] = nil
	}
	g.groups = kept
	g.changes.Groups.Deleted += len(indices)
}

// MergeGroups replaces the referenced groups with one group holding the
// union of their members, fit to them with padding.
func (g *Graph) MergeGroups(refs []GroupRef, into GroupTarget, padding *float64) (*GroupResult, error) {
	if len(refs) == 0 {
		return nil, schema.NewError(schema.ErrCodeValidationFailed, "merge_groups needs at least one group")
	}
	if strings.TrimSpace(into.Title) == "" {
		return nil, schema.NewError(schema.ErrCodeValidationFailed, "merged group title is required")
	}
	indices, err := g.resolveGroups(refs)
	if err != nil {
		return nil, err
	}

	var members []int
	bounding := g.groups[indices[0]].Bounding
	color := into.Color
	for _, i := range indices {
		members = append(members, g.groups[i].Nodes...)
		bounding = bounding.Union(g.groups[i].Bounding)
		if color == "" {
			color = g.groups[i].Color
		}
	}
	members = dedupe(members)

	merged := &schema.Group{Title: into.Title, Color: color, Bounding: bounding, Nodes: members}
	g.fitGroup(merged, g.padding(padding))

	g.removeGroups(indices)
	g.groups = append(g.groups, merged)
	g.changes.Groups.Created++
	g.touch()
	return g.groupResult(len(g.groups) - 1), nil
}

// SplitPart is one group carved out of a source group.
type SplitPart struct {
	Title string `json:"title"`
	Color string `json:"color,omitempty"`
	Nodes []int  `json:"nodes"`
}

// GroupSplit reports a split. Source is nil when every member moved out and
// the source group was removed.
type GroupSplit struct {
	Source *GroupResult   `json:"source,omitempty"`
	Parts  []*GroupResult `json:"parts"`
}

// SplitGroup moves subsets of a group's members into new groups. Each part's
// nodes must be current members and parts must not overlap.
func (g *Graph) SplitGroup(ref GroupRef, parts []SplitPart, padding *float64) (*GroupSplit, error) {
	if len(parts) == 0 {
		return nil, schema.NewError(schema.ErrCodeValidationFailed, "split_group needs at least one part")
	}
	i, err := g.ResolveGroup(ref)
	if err != nil {
		return nil, err
	}
	src := g.groups[i]
	claimed := make(map[int]string)
	for pi, p := range parts {
		if strings.TrimSpace(p.Title) == "" {
			return nil, schema.NewErrorf(schema.ErrCodeValidationFailed, "part %d needs a title", pi)
		}
		if len(p.Nodes) == 0 {
			return nil, schema.NewErrorf(schema.ErrCodeValidationFailed, "part %q has no nodes", p.Title)
		}
		for _, id := range p.Nodes {
			if !src.HasMember(id) {
				return nil, schema.NewErrorf(schema.ErrCodeInvariant, "node %d is not a member of group %q", id, src.Title).
					WithDetails(map[string]any{"node_id": id, "members": src.Nodes})
			}
			if other, dup := claimed[id]; dup && other != p.Title {
				return nil, schema.NewErrorf(schema.ErrCodeInvariant, "node %d is assigned to parts %q and %q", id, other, p.Title).
					WithDetails(map[string]any{"node_id": id})
			}
			claimed[id] = p.Title
		}
	}

	pad := g.padding(padding)
	res := &GroupSplit{}
	var remaining []int
	for _, id := range src.Nodes {
		if _, moved := claimed[id]; !moved {
			remaining = append(remaining, id)
		}
	}
	src.Nodes = remaining

	for _, p := range parts {
		grp := &schema.Group{Title: p.Title, Color: colorOr(p.Color, src.Color), Nodes: dedupe(p.Nodes)}
		g.fitGroup(grp, pad)
		g.groups = append(g.groups, grp)
		g.changes.Groups.Created++
	}
	newCount := len(parts)

	if len(remaining) == 0 {
		g.removeGroups([]int{i})
	} else {
		g.fitGroup(src, pad)
		g.changes.Groups.Modified++
		res.Source = g.groupResult(i)
	}
	for j := len(g.groups) - newCount; j < len(g.groups); j++ {
		res.Parts = append(res.Parts, g.groupResult(j))
	}
	g.touch()
	return res, nil
}

// GroupMove reports a membership move.
type GroupMove struct {
	Target       *GroupResult `json:"target"`
	GroupCreated bool         `json:"group_created,omitempty"`
	Sources      []string     `json:"from_groups,omitempty"`
}

// MoveNodesToGroup moves nodes into the target group, creating it when
// absent. Nodes are stacked below the target's existing members; source
// groups are refit to what remains.
func (g *Graph) MoveNodesToGroup(ids []int, target GroupTarget) (*GroupMove, error) {
	if len(ids) == 0 {
		return nil, schema.NewError(schema.ErrCodeValidationFailed, "no nodes to move")
	}
	if err := g.requireNodes(ids); err != nil {
		return nil, err
	}
	if strings.TrimSpace(target.Title) == "" {
		return nil, schema.NewError(schema.ErrCodeValidationFailed, "target group title is required")
	}
	ti, err := g.groupByTitle(target.Title)
	created := false
	switch {
	case schema.HasCode(err, schema.ErrCodeNotFound):
		created = true
	case err != nil:
		return nil, err
	}
	ids = dedupe(ids)

	var tgt *schema.Group
	if created {
		tgt = &schema.Group{Title: target.Title, Color: colorOr(target.Color, StageColor(target.Title))}
	} else {
		tgt = g.groups[ti]
		if target.Color != "" {
			tgt.Color = target.Color
		}
	}

	var moving []int
	for _, id := range ids {
		if !tgt.HasMember(id) {
			moving = append(moving, id)
		}
	}

	res := &GroupMove{GroupCreated: created}
	for _, si := range g.detach(moving, tgt) {
		src := g.groups[si]
		res.Sources = append(res.Sources, src.Title)
		g.fitGroup(src, g.opts.GroupPadding)
	}

	if !created && len(tgt.Nodes) > 0 {
		x, y := g.stackBelow(tgt.Nodes)
		for _, id := range moving {
			n, _ := g.nodes.Get(id)
			n.Pos = schema.Vec2{x, y}
			y += n.Size[1] + g.opts.NodeSpacing
			g.changes.Nodes.Modified++
		}
	}
	tgt.Nodes = append(tgt.Nodes, moving...)

	if created {
		g.fitGroup(tgt, g.opts.GroupPadding)
		g.groups = append(g.groups, tgt)
		g.changes.Groups.Created++
		ti = len(g.groups) - 1
	} else {
		g.growGroup(tgt)
		g.changes.Groups.Modified++
	}
	res.Target = g.groupResult(ti)
	g.touch()
	return res, nil
}

// stackBelow returns the position directly below the lowest of ids.
func (g *Graph) stackBelow(ids []int) (float64, float64) {
	r, ok := g.membersRect(ids)
	if !ok {
		return 0, 0
	}
	return r.X, r.Bottom() + g.opts.NodeSpacing
}

// MoveGroup translates a group and all its members, either to pos or by offset.
func (g *Graph) MoveGroup(ref GroupRef, pos, offset *schema.Vec2) (*GroupResult, error) {
	i, err := g.ResolveGroup(ref)
	if err != nil {
		return nil, err
	}
	if (pos == nil) == (offset == nil) {
		return nil, schema.NewError(schema.ErrCodeValidationFailed, "move_group needs exactly one of pos or offset")
	}
	grp := g.groups[i]
	var dx, dy float64
	if pos != nil {
		dx, dy = pos[0]-grp.Bounding.X, pos[1]-grp.Bounding.Y
	} else {
		dx, dy = offset[0], offset[1]
	}
	grp.Bounding.X += dx
	grp.Bounding.Y += dy
	for _, id := range grp.Nodes {
		if n, ok := g.nodes.Get(id); ok {
			n.Pos[0] += dx
			n.Pos[1] += dy
			g.changes.Nodes.Modified++
		}
	}
	g.changes.Groups.Modified++
	g.touch()
	return g.groupResult(i), nil
}

// FitGroupToNodes shrinks or grows a group to its members plus padding.
func (g *Graph) FitGroupToNodes(ref GroupRef, padding *float64) (*GroupResult, error) {
	i, err := g.ResolveGroup(ref)
	if err != nil {
		return nil, err
	}
	grp := g.groups[i]
	if len(grp.Nodes) == 0 {
		return nil, schema.NewErrorf(schema.ErrCodeInvariant, "group %q has no members to fit", grp.Title).
			WithSuggestion("add nodes with move_nodes_to_group or delete the empty group")
	}
	g.fitGroup(grp, g.padding(padding))
	g.changes.Groups.Modified++
	g.touch()
	return g.groupResult(i), nil
}

func dedupe(ids []int) []int {
	seen := make(map[int]bool, len(ids))
	out := make([]int, 0, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}
