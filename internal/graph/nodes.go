package graph

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/rendis/nodeforge/internal/registry"
	"github.com/rendis/nodeforge/pkg/schema"
)

// GroupTarget names the group a node should join. A missing group is created.
// It decodes from a plain title string or from {title, color}.
type GroupTarget struct {
	Title string `json:"title"`
	Color string `json:"color,omitempty"`
}

func (t *GroupTarget) UnmarshalJSON(data []byte) error {
	var title string
	if err := json.Unmarshal(data, &title); err == nil {
		t.Title = title
		return nil
	}
	type plain GroupTarget
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return fmt.Errorf("group must be a title or {title, color}: %w", err)
	}
	*t = GroupTarget(p)
	return nil
}

// NodeSpec describes a node to create.
type NodeSpec struct {
	Type    string
	Title   string
	Pos     *schema.Vec2
	Widgets map[string]any
	Group   *GroupTarget
}

// NodeCreated reports a created node.
type NodeCreated struct {
	NodeID        int          `json:"node_id"`
	Type          string       `json:"type"`
	Pos           schema.Vec2  `json:"pos"`
	Group         string       `json:"group,omitempty"`
	GroupCreated  bool         `json:"group_created,omitempty"`
	GroupBounding *schema.Rect `json:"group_bounding,omitempty"`
}

// CreateNode adds a node of a registered type. Widgets start at their
// registry defaults and are overridden by spec.Widgets. Without a position
// the node is placed inside its target group, or right of the existing graph.
func (g *Graph) CreateNode(ctx context.Context, spec NodeSpec) (*NodeCreated, error) {
	nt, ok := g.reg.Get(spec.Type)
	if !ok {
		return nil, g.unknownType(spec.Type)
	}

	id := g.nextNodeID
	node := &schema.Node{
		ID:      id,
		Type:    nt.Name,
		Title:   spec.Title,
		Size:    nt.Size,
		Mode:    schema.ModeActive,
		Inputs:  make([]schema.InputSlot, len(nt.Inputs)),
		Outputs: make([]schema.OutputSlot, len(nt.Outputs)),
	}
	for i, in := range nt.Inputs {
		node.Inputs[i] = schema.InputSlot{Name: in.Name, Type: in.Type, Optional: in.Optional}
	}
	for i, out := range nt.Outputs {
		node.Outputs[i] = schema.OutputSlot{Name: out.Name, Type: out.Type, Links: []int{}}
	}

	widgets, err := g.buildWidgets(ctx, nt, node, spec.Widgets)
	if err != nil {
		return nil, err
	}
	node.Widgets = widgets

	gi, createGroup := -1, false
	if spec.Group != nil && spec.Group.Title != "" {
		gi, err = g.groupByTitle(spec.Group.Title)
		switch {
		case schema.HasCode(err, schema.ErrCodeNotFound):
			createGroup = true
		case err != nil:
			return nil, err
		}
	}

	if spec.Pos != nil {
		node.Pos = *spec.Pos
	} else {
		node.Pos = g.autoPlace(node.Size, gi, createGroup)
	}

	g.nextNodeID++
	g.nodes.Set(id, node)
	g.changes.Nodes.Created++

	res := &NodeCreated{NodeID: id, Type: node.Type, Pos: node.Pos}
	if createGroup {
		grp := &schema.Group{
			Title:    spec.Group.Title,
			Color:    colorOr(spec.Group.Color, StageColor(spec.Group.Title)),
			Bounding: node.Rect().Expand(g.opts.GroupPadding),
			Nodes:    []int{id},
		}
		g.groups = append(g.groups, grp)
		g.changes.Groups.Created++
		res.Group, res.GroupCreated = grp.Title, true
		b := grp.Bounding
		res.GroupBounding = &b
	} else if gi >= 0 {
		grp := g.groups[gi]
		grp.Nodes = append(grp.Nodes, id)
		g.growGroup(grp)
		g.changes.Groups.Modified++
		res.Group = grp.Title
		b := grp.Bounding
		res.GroupBounding = &b
	}
	g.touch()
	return res, nil
}

func (g *Graph) unknownType(name string) *schema.GraphError {
	err := schema.NewErrorf(schema.ErrCodeUnknownType, "unknown node type %q", name).
		WithDetails(map[string]any{"type": name}).
		WithHint("node types come from the registry; use search_node_types to discover them")
	if similar := g.similarTypes(name, 5); len(similar) > 0 {
		err.WithDetails(map[string]any{"similar": similar}).
			WithSuggestion(fmt.Sprintf("did you mean %q?", similar[0]))
	}
	return err
}

func (g *Graph) similarTypes(name string, limit int) []string {
	q := strings.ToLower(name)
	var out []string
	for _, t := range g.reg.List() {
		n := strings.ToLower(t.Name)
		if strings.Contains(n, q) || strings.Contains(q, n) || strings.EqualFold(t.DisplayName, name) {
			out = append(out, t.Name)
			if len(out) == limit {
				break
			}
		}
	}
	return out
}

// buildWidgets returns registry defaults overridden by values. Unknown widget
// names fail before anything is applied.
func (g *Graph) buildWidgets(ctx context.Context, nt *registry.NodeType, node *schema.Node, values map[string]any) ([]schema.WidgetValue, error) {
	names := make([]string, 0, len(values))
	for name := range values {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if _, ok := nt.Widget(name); !ok {
			return nil, unknownWidget(node, name, nt.WidgetNames())
		}
	}

	out := make([]schema.WidgetValue, len(nt.Widgets))
	for i := range nt.Widgets {
		spec := &nt.Widgets[i]
		v := schema.CloneValue(spec.Default)
		if raw, ok := values[spec.Name]; ok {
			checked, err := g.checkWidget(ctx, spec, node, raw)
			if err != nil {
				return nil, err
			}
			v = checked
		}
		out[i] = schema.WidgetValue{Name: spec.Name, Value: v}
	}
	return out, nil
}

func unknownWidget(node *schema.Node, name string, available []string) *schema.GraphError {
	return schema.NewErrorf(schema.ErrCodeUnknownWidget, "node %d (%s) has no widget %q", node.ID, node.Type, name).
		WithDetails(map[string]any{"node_id": node.ID, "widget": name, "available": available}).
		WithHint(fmt.Sprintf("available widgets: %s", strings.Join(available, ", ")))
}

// checkWidget coerces value to the widget kind and evaluates its constraint.
func (g *Graph) checkWidget(ctx context.Context, spec *registry.WidgetSpec, node *schema.Node, value any) (any, error) {
	v, err := spec.Coerce(value)
	if err != nil {
		return nil, schema.AsGraphError(err).WithDetails(map[string]any{"node_id": node.ID})
	}
	if spec.Constraint == "" || g.opts.Constraints == nil {
		return v, nil
	}
	ok, err := g.opts.Constraints.Check(ctx, spec.Constraint, map[string]any{
		"value":  v,
		"widget": spec.Describe(),
		"node":   map[string]any{"id": int64(node.ID), "type": node.Type, "title": node.Title},
	})
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeInvalidValue, "widget %q: constraint could not be evaluated", spec.Name).
			WithCause(err).
			WithDetails(map[string]any{"node_id": node.ID, "constraint": spec.Constraint, "value": value})
	}
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeInvalidValue, "widget %q: value %v violates constraint %s", spec.Name, value, spec.Constraint).
			WithDetails(map[string]any{"node_id": node.ID, "constraint": spec.Constraint, "value": value})
	}
	return v, nil
}

// autoPlace picks a position for a node without one.
func (g *Graph) autoPlace(size schema.Vec2, gi int, newGroup bool) schema.Vec2 {
	pad := g.opts.GroupPadding
	if gi >= 0 {
		grp := g.groups[gi]
		if len(grp.Nodes) == 0 {
			return schema.Vec2{grp.Bounding.X + pad, grp.Bounding.Y + pad}
		}
		x, bottom := 0.0, 0.0
		for i, id := range grp.Nodes {
			n, ok := g.nodes.Get(id)
			if !ok {
				continue
			}
			if i == 0 || n.Pos[0] < x {
				x = n.Pos[0]
			}
			bottom = max(bottom, n.Rect().Bottom())
		}
		return schema.Vec2{x, bottom + g.opts.NodeSpacing}
	}

	extent, ok := g.extent()
	if !ok {
		if newGroup {
			return schema.Vec2{pad, pad}
		}
		return schema.Vec2{0, 0}
	}
	x := extent.Right() + g.opts.NodeSpacing
	y := extent.Y
	if newGroup {
		x += pad
		y += pad
	}
	return schema.Vec2{x, y}
}

// extent is the union of all node and group rectangles.
func (g *Graph) extent() (schema.Rect, bool) {
	var r schema.Rect
	found := false
	add := func(o schema.Rect) {
		if !found {
			r, found = o, true
			return
		}
		r = r.Union(o)
	}
	g.nodes.Scan(func(_ int, n *schema.Node) bool {
		add(n.Rect())
		return true
	})
	for _, grp := range g.groups {
		add(grp.Bounding)
	}
	return r, found
}

// NodeDeleted reports a deleted node and its cascade.
type NodeDeleted struct {
	NodeID       int    `json:"node_id"`
	RemovedLinks []int  `json:"removed_links"`
	Reconnected  []int  `json:"reconnected_links,omitempty"`
	Group        string `json:"group,omitempty"`
}

type bridge struct {
	originID, originSlot, targetID, targetSlot int
}

// DeleteNode removes a node. Every link touching it is removed first and the
// node leaves its group. With reconnect, each downstream consumer is rewired
// to an upstream producer of a compatible type.
func (g *Graph) DeleteNode(id int, reconnect bool) (*NodeDeleted, error) {
	node, err := g.requireNode(id)
	if err != nil {
		return nil, err
	}

	var inbound, outbound []*schema.Link
	for _, in := range node.Inputs {
		if in.Link != nil {
			if l, ok := g.links.Get(*in.Link); ok {
				inbound = append(inbound, l)
			}
		}
	}
	for _, out := range node.Outputs {
		for _, lid := range out.Links {
			if l, ok := g.links.Get(lid); ok && l.TargetID != id {
				outbound = append(outbound, l)
			}
		}
	}

	var bridges []bridge
	if reconnect {
		bridges = g.planBridges(node, inbound, outbound)
	}

	res := &NodeDeleted{NodeID: id, RemovedLinks: []int{}}
	for _, l := range append(inbound, outbound...) {
		if _, ok := g.links.Get(l.ID); ok {
			g.removeLink(l.ID)
			res.RemovedLinks = append(res.RemovedLinks, l.ID)
		}
	}
	res.RemovedLinks = sortedInts(res.RemovedLinks)

	if gi := g.groupIndexOf(id); gi >= 0 {
		grp := g.groups[gi]
		grp.Nodes = removeInt(grp.Nodes, id)
		res.Group = grp.Title
		g.changes.Groups.Modified++
	}

	g.nodes.Delete(id)
	g.changes.Nodes.Deleted++

	for _, b := range bridges {
		l := g.addLink(b.originID, b.originSlot, b.targetID, b.targetSlot)
		res.Reconnected = append(res.Reconnected, l.ID)
	}
	g.touch()
	return res, nil
}

// planBridges pairs each outbound link with an inbound producer whose type
// fits the consumer's input. Inputs matching the outbound slot's type win.
func (g *Graph) planBridges(node *schema.Node, inbound, outbound []*schema.Link) []bridge {
	var out []bridge
	for _, ol := range outbound {
		target, ok := g.nodes.Get(ol.TargetID)
		if !ok {
			continue
		}
		want := target.Inputs[ol.TargetSlot].Type
		outType := node.Outputs[ol.OriginSlot].Type

		var pick *schema.Link
		for _, il := range inbound {
			if il.OriginID == node.ID || !registry.Compatible(il.Type, want) {
				continue
			}
			if pick == nil || strings.EqualFold(node.Inputs[il.TargetSlot].Type, outType) {
				pick = il
			}
		}
		if pick != nil {
			out = append(out, bridge{pick.OriginID, pick.OriginSlot, ol.TargetID, ol.TargetSlot})
		}
	}
	return out
}

// NodeUpdate carries optional node changes.
type NodeUpdate struct {
	Pos   *schema.Vec2
	Title *string
}

// NodeUpdated reports an updated node.
type NodeUpdated struct {
	NodeID        int          `json:"node_id"`
	Pos           schema.Vec2  `json:"pos"`
	Title         string       `json:"title,omitempty"`
	GroupBounding *schema.Rect `json:"group_bounding,omitempty"`
}

// UpdateNode moves and/or renames a node. A moved group member grows its
// group so the containment invariant keeps holding.
func (g *Graph) UpdateNode(id int, upd NodeUpdate) (*NodeUpdated, error) {
	node, err := g.requireNode(id)
	if err != nil {
		return nil, err
	}
	if upd.Title != nil {
		node.Title = *upd.Title
	}
	res := &NodeUpdated{NodeID: id}
	if upd.Pos != nil {
		node.Pos = *upd.Pos
		if gi := g.groupIndexOf(id); gi >= 0 {
			if g.growGroup(g.groups[gi]) {
				g.changes.Groups.Modified++
			}
			b := g.groups[gi].Bounding
			res.GroupBounding = &b
		}
	}
	res.Pos, res.Title = node.Pos, node.Title
	g.changes.Nodes.Modified++
	g.touch()
	return res, nil
}

// WidgetUpdated reports a widget change.
type WidgetUpdated struct {
	NodeID   int    `json:"node_id"`
	Widget   string `json:"widget"`
	Value    any    `json:"value"`
	Previous any    `json:"previous"`
}

// SetWidget validates and sets one widget value.
func (g *Graph) SetWidget(ctx context.Context, id int, name string, value any) (*WidgetUpdated, error) {
	node, err := g.requireNode(id)
	if err != nil {
		return nil, err
	}

	idx := -1
	for i, w := range node.Widgets {
		if w.Name == name {
			idx = i
			break
		}
	}

	v := value
	if nt, ok := g.reg.Get(node.Type); ok {
		spec, ok := nt.Widget(name)
		if !ok {
			return nil, unknownWidget(node, name, nt.WidgetNames())
		}
		if v, err = g.checkWidget(ctx, spec, node, value); err != nil {
			return nil, err
		}
	} else if idx < 0 {
		names := make([]string, len(node.Widgets))
		for i, w := range node.Widgets {
			names[i] = w.Name
		}
		return nil, unknownWidget(node, name, names)
	}

	res := &WidgetUpdated{NodeID: id, Widget: name, Value: v}
	if idx >= 0 {
		res.Previous = node.Widgets[idx].Value
		node.Widgets[idx].Value = v
	} else {
		node.Widgets = append(node.Widgets, schema.WidgetValue{Name: name, Value: v})
	}
	g.changes.Nodes.Modified++
	g.touch()
	return res, nil
}

// ModeUpdated reports a bulk mode change.
type ModeUpdated struct {
	NodeIDs []int           `json:"node_ids"`
	Mode    schema.NodeMode `json:"mode"`
}

// SetMode bypasses or re-activates nodes. Any unknown id fails the whole
// call. Repeated ids count once.
func (g *Graph) SetMode(ids []int, bypassed bool) (*ModeUpdated, error) {
	ids = dedupe(ids)
	if err := g.requireNodes(ids); err != nil {
		return nil, err
	}
	mode := schema.ModeActive
	if bypassed {
		mode = schema.ModeBypassed
	}
	for _, id := range ids {
		n, _ := g.nodes.Get(id)
		n.Mode = mode
		g.changes.Nodes.Modified++
	}
	g.touch()
	return &ModeUpdated{NodeIDs: ids, Mode: mode}, nil
}

// DuplicateNode copies a node's type, title, widgets, size and mode to
// pos+offset. Links are not copied. The copy joins the source's group.
func (g *Graph) DuplicateNode(id int, offset *schema.Vec2) (*NodeCreated, error) {
	src, err := g.requireNode(id)
	if err != nil {
		return nil, err
	}
	off := schema.Vec2{DefaultDuplicateStep, DefaultDuplicateStep}
	if offset != nil {
		off = *offset
	}

	c := src.Clone()
	c.ID = g.nextNodeID
	c.Pos = schema.Vec2{src.Pos[0] + off[0], src.Pos[1] + off[1]}
	for i := range c.Inputs {
		c.Inputs[i].Link = nil
	}
	for i := range c.Outputs {
		c.Outputs[i].Links = []int{}
	}

	g.nextNodeID++
	g.nodes.Set(c.ID, c)
	g.changes.Nodes.Created++

	res := &NodeCreated{NodeID: c.ID, Type: c.Type, Pos: c.Pos}
	if gi := g.groupIndexOf(id); gi >= 0 {
		grp := g.groups[gi]
		grp.Nodes = append(grp.Nodes, c.ID)
		g.growGroup(grp)
		g.changes.Groups.Modified++
		res.Group = grp.Title
		b := grp.Bounding
		res.GroupBounding = &b
	}
	g.touch()
	return res, nil
}

func removeInt(s []int, v int) []int {
	out := s[:0]
	for _, x := range s {
		if x != v {
			out = append(out, x)
		}
	}
	return out
}

func colorOr(c, fallback string) string {
	if c != "" {
		return c
	}
	return fallback
}
