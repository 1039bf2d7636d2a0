package engine

import (
	"context"
	"sort"
	"strings"

	"github.com/rendis/nodeforge/internal/graph"
	"github.com/rendis/nodeforge/internal/refs"
	"github.com/rendis/nodeforge/pkg/schema"
)

// CreatedNode reports a node created by create_node or duplicate_node.
type CreatedNode struct {
	*graph.NodeCreated
	Ref    string `json:"ref,omitempty"`
	Source int    `json:"source_id,omitempty"`
}

// dispatch runs one command against g. Node references are resolved through
// tbl; new nodes with a declared ref are registered in it.
func dispatch(ctx context.Context, g *graph.Graph, tbl *refs.Table, cmd Command) (any, error) {
	switch c := cmd.(type) {
	case CreateNode:
		out := make([]*CreatedNode, 0, len(c.Nodes))
		for _, item := range c.Nodes {
			res, err := g.CreateNode(ctx, graph.NodeSpec{
				Type:    item.Type,
				Title:   item.Title,
				Pos:     item.Pos,
				Widgets: item.Widgets,
				Group:   item.Group,
			})
			if err != nil {
				return nil, err
			}
			if item.Ref != "" {
				if err := tbl.Register(item.Ref, res.NodeID); err != nil {
					return nil, err
				}
			}
			out = append(out, &CreatedNode{NodeCreated: res, Ref: item.Ref})
		}
		return out, nil

	case DeleteNode:
		ids, err := tbl.ResolveAll(c.Nodes)
		if err != nil {
			return nil, err
		}
		out := make([]*graph.NodeDeleted, 0, len(ids))
		for _, id := range ids {
			res, err := g.DeleteNode(id, c.Reconnect)
			if err != nil {
				return nil, err
			}
			out = append(out, res)
		}
		return out, nil

	case UpdateNode:
		out := make([]*graph.NodeUpdated, 0, len(c.Updates))
		for _, u := range c.Updates {
			id, err := tbl.Resolve(u.Node)
			if err != nil {
				return nil, err
			}
			res, err := g.UpdateNode(id, graph.NodeUpdate{Pos: u.Pos, Title: u.Title})
			if err != nil {
				return nil, err
			}
			out = append(out, res)
		}
		return out, nil

	case DuplicateNode:
		out := make([]*CreatedNode, 0, len(c.Nodes))
		for _, item := range c.Nodes {
			src, err := tbl.Resolve(item.Node)
			if err != nil {
				return nil, err
			}
			res, err := g.DuplicateNode(src, item.Offset)
			if err != nil {
				return nil, err
			}
			if item.Ref != "" {
				if err := tbl.Register(item.Ref, res.NodeID); err != nil {
					return nil, err
				}
			}
			out = append(out, &CreatedNode{NodeCreated: res, Ref: item.Ref, Source: src})
		}
		return out, nil

	case BypassNode:
		ids, err := tbl.ResolveAll(c.Nodes)
		if err != nil {
			return nil, err
		}
		bypass := true
		if c.Bypass != nil {
			bypass = *c.Bypass
		}
		return g.SetMode(ids, bypass)

	case CreateLink:
		out := make([]*graph.LinkCreated, 0, len(c.Links))
		for _, l := range c.Links {
			from, err := tbl.Resolve(l.From)
			if err != nil {
				return nil, err
			}
			to, err := tbl.Resolve(l.To)
			if err != nil {
				return nil, err
			}
			res, err := g.CreateLink(graph.LinkSpec{OriginID: from, OriginSlot: l.FromSlot, TargetID: to, TargetSlot: l.ToSlot})
			if err != nil {
				return nil, err
			}
			out = append(out, res)
		}
		return out, nil

	case DeleteLink:
		out := make([]*graph.LinkDeleted, 0, len(c.Links))
		for _, l := range c.Links {
			id, err := tbl.Resolve(l.Node)
			if err != nil {
				return nil, err
			}
			res, err := g.DeleteLink(id, l.InputSlot)
			if err != nil {
				return nil, err
			}
			out = append(out, res)
		}
		return out, nil

	case UpdateWidget:
		out := make([]*graph.WidgetUpdated, 0, len(c.Updates))
		for _, u := range c.Updates {
			id, err := tbl.Resolve(u.Node)
			if err != nil {
				return nil, err
			}
			res, err := g.SetWidget(ctx, id, u.Widget, u.Value)
			if err != nil {
				return nil, err
			}
			out = append(out, res)
		}
		return out, nil

	case CreateGroup:
		out := make([]*graph.GroupResult, 0, len(c.Groups))
		for _, item := range c.Groups {
			ids, err := tbl.ResolveAll(item.Nodes)
			if err != nil {
				return nil, err
			}
			res, err := g.CreateGroup(graph.GroupSpec{
				Title:    item.Title,
				Color:    item.Color,
				Nodes:    ids,
				Padding:  item.Padding,
				Bounding: item.Bounding,
			})
			if err != nil {
				return nil, err
			}
			out = append(out, res)
		}
		return out, nil

	case DeleteGroup:
		if c.All || meansAllGroups(g, c.Groups) {
			return map[string]any{"deleted": g.DeleteAllGroups()}, nil
		}
		return deleteGroups(g, c.Groups)

	case UpdateGroup:
		out := make([]*graph.GroupResult, 0, len(c.Updates))
		for _, u := range c.Updates {
			upd := graph.GroupUpdate{
				Title:   u.Title,
				Color:   u.Color,
				Padding: u.Padding,
				Pos:     u.Pos,
				Size:    u.Size,
			}
			if u.Nodes != nil {
				ids, err := tbl.ResolveAll(*u.Nodes)
				if err != nil {
					return nil, err
				}
				upd.Nodes = &ids
			}
			res, err := g.UpdateGroup(u.Group, upd)
			if err != nil {
				return nil, err
			}
			out = append(out, res)
		}
		return out, nil

	case MoveNodesToGroup:
		out := make([]*graph.GroupMove, 0, len(c.Moves))
		for _, m := range c.Moves {
			ids, err := tbl.ResolveAll(m.Nodes)
			if err != nil {
				return nil, err
			}
			res, err := g.MoveNodesToGroup(ids, m.ToGroup)
			if err != nil {
				return nil, err
			}
			out = append(out, res)
		}
		return out, nil

	case MergeGroups:
		return g.MergeGroups(c.Groups, c.Into, c.Padding)

	case SplitGroup:
		parts := make([]graph.SplitPart, 0, len(c.Parts))
		for _, p := range c.Parts {
			ids, err := tbl.ResolveAll(p.Nodes)
			if err != nil {
				return nil, err
			}
			parts = append(parts, graph.SplitPart{Title: p.Title, Color: p.Color, Nodes: ids})
		}
		return g.SplitGroup(c.Group, parts, c.Padding)

	case MoveGroup:
		return g.MoveGroup(c.Group, c.Pos, c.Offset)

	case FitGroup:
		return g.FitGroupToNodes(c.Group, c.Padding)

	case AlignNodes:
		ids, err := tbl.ResolveAll(c.Nodes)
		if err != nil {
			return nil, err
		}
		return g.AlignNodes(ids, c.Alignment)

	case DistributeNodes:
		ids, err := tbl.ResolveAll(c.Nodes)
		if err != nil {
			return nil, err
		}
		return g.DistributeNodes(ids, c.Direction, c.Spacing)

	case Organize:
		return g.Organize(graph.OrganizeOptions{
			GroupPadding: c.GroupPadding,
			GroupSpacing: c.GroupSpacing,
			NodeSpacing:  c.NodeSpacing,
		}), nil

	case OrganizeLayout:
		plan := graph.LayoutPlan{
			Flow:         c.Plan.Flow,
			GroupSpacing: c.Plan.GroupSpacing,
			GroupPadding: c.Plan.GroupPadding,
		}
		for _, pg := range c.Plan.Groups {
			ids, err := tbl.ResolveAll(pg.Nodes)
			if err != nil {
				return nil, err
			}
			plan.Groups = append(plan.Groups, graph.PlanGroup{Title: pg.Title, Color: pg.Color, Nodes: ids, Order: pg.Order})
		}
		return g.OrganizeLayout(plan)

	case IntegrateNode:
		id, err := tbl.Resolve(c.NodeID)
		if err != nil {
			return nil, err
		}
		return g.IntegrateNode(id)

	case ClearWorkflow:
		return g.ClearWorkflow(), nil

	default:
		return nil, schema.NewErrorf(schema.ErrCodeInternal, "no handler for command %T", cmd)
	}
}

// deleteGroups resolves every reference against the current list before
// deleting, then deletes from the highest index down so earlier deletions
// do not shift later targets.
// meansAllGroups reports whether refs is the single title "all" and no group
// carries that title.
func meansAllGroups(g *graph.Graph, refsIn []graph.GroupRef) bool {
	if len(refsIn) != 1 || refsIn[0].ByIndex || !strings.EqualFold(refsIn[0].Title, "all") {
		return false
	}
	_, err := g.ResolveGroup(refsIn[0])
	return schema.HasCode(err, schema.ErrCodeNotFound)
}

func deleteGroups(g *graph.Graph, refsIn []graph.GroupRef) ([]*graph.GroupDeleted, error) {
	seen := make(map[int]bool, len(refsIn))
	var indices []int
	for _, r := range refsIn {
		i, err := g.ResolveGroup(r)
		if err != nil {
			return nil, err
		}
		if !seen[i] {
			seen[i] = true
			indices = append(indices, i)
		}
	}
	sort.Sort(sort.Reverse(sort.IntSlice(indices)))
	out := make([]*graph.GroupDeleted, 0, len(indices))
	for _, i := range indices {
		res, err := g.DeleteGroup(graph.GroupAt(i))
		if err != nil {
			return nil, err
		}
		out = append(out, res)
	}
	return out, nil
}
