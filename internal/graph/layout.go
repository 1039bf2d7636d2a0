package graph

import (
	"math"
	"sort"
	"strings"

	"github.com/rendis/nodeforge/pkg/schema"
	"github.com/tidwall/btree"
)

// Pipeline stages used to group nodes, in canonical order.
const (
	StageSetup          = "Setup"
	StageLoRAs          = "LoRAs"
	StagePrompts        = "Prompts"
	StageGeneration     = "Generation"
	StagePostProcessing = "Post-Processing"
	StageOutput         = "Output"
	StageOther          = "Other"
)

var stageOrder = []string{StageSetup, StageLoRAs, StagePrompts, StageGeneration, StagePostProcessing, StageOutput, StageOther}

var stageColors = map[string]string{
	StageSetup:          "#2A4858",
	StageLoRAs:          "#3A5868",
	StagePrompts:        "#4A3858",
	StageGeneration:     "#385828",
	StagePostProcessing: "#584828",
	StageOutput:         "#285858",
	StageOther:          "#444444",
}

// StageColor returns the fixed color for a stage title, or the neutral color.
func StageColor(title string) string {
	for stage, c := range stageColors {
		if strings.EqualFold(stage, title) {
			return c
		}
	}
	return stageColors[StageOther]
}

func stageRank(stage string) int {
	for i, s := range stageOrder {
		if s == stage {
			return i
		}
	}
	return len(stageOrder)
}

// stageOf maps a node type to its stage. Types without an explicit stage
// fall back on their category.
func (g *Graph) stageOf(typ string) string {
	nt, ok := g.reg.Get(typ)
	if !ok {
		return StageOther
	}
	if nt.Stage != "" {
		return nt.Stage
	}
	switch strings.ToLower(nt.Category) {
	case "loaders":
		return StageSetup
	case "conditioning":
		return StagePrompts
	case "sampling", "latent":
		return StageGeneration
	case "image", "upscaling":
		return StagePostProcessing
	default:
		return StageOther
	}
}

// depths returns the longest-path depth of every node from the sources.
// Nodes on cycles keep the depth they reached before the cycle.
func (g *Graph) depths() map[int]int {
	indeg := make(map[int]int, g.nodes.Len())
	next := make(map[int][]int)
	g.nodes.Scan(func(id int, _ *schema.Node) bool {
		indeg[id] = 0
		return true
	})
	g.links.Scan(func(_ int, l *schema.Link) bool {
		if l.OriginID == l.TargetID {
			return true
		}
		next[l.OriginID] = append(next[l.OriginID], l.TargetID)
		indeg[l.TargetID]++
		return true
	})

	depth := make(map[int]int, len(indeg))
	var queue []int
	for _, id := range g.NodeIDs() {
		if indeg[id] == 0 {
			queue = append(queue, id)
		}
	}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		for _, t := range next[id] {
			depth[t] = max(depth[t], depth[id]+1)
			indeg[t]--
			if indeg[t] == 0 {
				queue = append(queue, t)
			}
		}
	}
	return depth
}

// growGroupsOf grows every group holding one of ids.
func (g *Graph) growGroupsOf(ids []int) {
	seen := make(map[int]bool)
	for _, id := range ids {
		gi := g.groupIndexOf(id)
		if gi < 0 || seen[gi] {
			continue
		}
		seen[gi] = true
		if g.growGroup(g.groups[gi]) {
			g.changes.Groups.Modified++
		}
	}
}

// Alignment modes for AlignNodes.
const (
	AlignLeft    = "left"
	AlignRight   = "right"
	AlignTop     = "top"
	AlignBottom  = "bottom"
	AlignCenterH = "center_h"
	AlignCenterV = "center_v"
)

// NodesMoved reports repositioned nodes.
type NodesMoved struct {
	NodeIDs []int               `json:"node_ids"`
	Pos     map[int]schema.Vec2 `json:"positions"`
}

func (g *Graph) movedResult(ids []int) *NodesMoved {
	res := &NodesMoved{NodeIDs: ids, Pos: make(map[int]schema.Vec2, len(ids))}
	for _, id := range ids {
		n, _ := g.nodes.Get(id)
		res.Pos[id] = n.Pos
	}
	return res
}

// AlignNodes lines up at least two nodes along an edge or center of their
// combined bounds.
func (g *Graph) AlignNodes(ids []int, alignment string) (*NodesMoved, error) {
	ids = dedupe(ids)
	if len(ids) < 2 {
		return nil, schema.NewError(schema.ErrCodeValidationFailed, "align_nodes needs at least two nodes")
	}
	if err := g.requireNodes(ids); err != nil {
		return nil, err
	}
	bounds, _ := g.membersRect(ids)
	for _, id := range ids {
		n, _ := g.nodes.Get(id)
		switch alignment {
		case AlignLeft:
			n.Pos[0] = bounds.X
		case AlignRight:
			n.Pos[0] = bounds.Right() - n.Size[0]
		case AlignTop:
			n.Pos[1] = bounds.Y
		case AlignBottom:
			n.Pos[1] = bounds.Bottom() - n.Size[1]
		case AlignCenterH:
			n.Pos[0] = bounds.X + bounds.W/2 - n.Size[0]/2
		case AlignCenterV:
			n.Pos[1] = bounds.Y + bounds.H/2 - n.Size[1]/2
		default:
			return nil, schema.NewErrorf(schema.ErrCodeInvalidValue, "unknown alignment %q", alignment).
				WithDetails(map[string]any{"options": []string{AlignLeft, AlignRight, AlignTop, AlignBottom, AlignCenterH, AlignCenterV}})
		}
		g.changes.Nodes.Modified++
	}
	g.growGroupsOf(ids)
	g.touch()
	return g.movedResult(ids), nil
}

// Distribution directions.
const (
	DirectionHorizontal = "horizontal"
	DirectionVertical   = "vertical"
)

// DistributeNodes spaces nodes along an axis in their current order. With a
// spacing the nodes are packed with that gap from the first one; otherwise
// the gaps between the first and last node are made equal.
func (g *Graph) DistributeNodes(ids []int, direction string, spacing *float64) (*NodesMoved, error) {
	ids = dedupe(ids)
	if len(ids) < 2 {
		return nil, schema.NewError(schema.ErrCodeValidationFailed, "distribute_nodes needs at least two nodes")
	}
	if err := g.requireNodes(ids); err != nil {
		return nil, err
	}
	axis := 0
	switch direction {
	case DirectionHorizontal:
	case DirectionVertical:
		axis = 1
	default:
		return nil, schema.NewErrorf(schema.ErrCodeInvalidValue, "unknown direction %q", direction).
			WithDetails(map[string]any{"options": []string{DirectionHorizontal, DirectionVertical}})
	}

	nodes := make([]*schema.Node, len(ids))
	for i, id := range ids {
		nodes[i], _ = g.nodes.Get(id)
	}
	sort.SliceStable(nodes, func(i, j int) bool {
		if nodes[i].Pos[axis] != nodes[j].Pos[axis] {
			return nodes[i].Pos[axis] < nodes[j].Pos[axis]
		}
		return nodes[i].ID < nodes[j].ID
	})

	gap := 0.0
	if spacing != nil {
		gap = *spacing
	} else {
		first, last := nodes[0], nodes[len(nodes)-1]
		span := last.Pos[axis] + last.Size[axis] - first.Pos[axis]
		total := 0.0
		for _, n := range nodes {
			total += n.Size[axis]
		}
		gap = math.Max(0, (span-total)/float64(len(nodes)-1))
	}

	cursor := nodes[0].Pos[axis]
	for _, n := range nodes {
		n.Pos[axis] = cursor
		cursor += n.Size[axis] + gap
		g.changes.Nodes.Modified++
	}
	g.growGroupsOf(ids)
	g.touch()
	return g.movedResult(ids), nil
}

// OrganizeOptions spaces an automatic layout. Zero values use the defaults.
type OrganizeOptions struct {
	GroupPadding float64
	GroupSpacing float64
	NodeSpacing  float64
}

func (o OrganizeOptions) withDefaults(g *Graph) OrganizeOptions {
	if o.GroupPadding <= 0 {
		o.GroupPadding = g.opts.GroupPadding
	}
	if o.GroupSpacing <= 0 {
		o.GroupSpacing = DefaultGroupSpacing
	}
	if o.NodeSpacing <= 0 {
		o.NodeSpacing = g.opts.NodeSpacing
	}
	return o
}

// Organized reports the groups produced by a layout pass.
type Organized struct {
	Groups     []*GroupResult `json:"groups"`
	NodesMoved int            `json:"nodes_moved"`
	Ungrouped  []int          `json:"ungrouped,omitempty"`
}

// column is one group laid out by placeColumns.
type column struct {
	title string
	color string
	nodes []int
}

// placeColumns replaces every group with cols laid out along the flow. Nodes
// stack inside each group perpendicular to the flow.
func (g *Graph) placeColumns(cols []column, vertical bool, o OrganizeOptions) *Organized {
	res := &Organized{}
	g.changes.Groups.Deleted += len(g.groups)
	g.groups = nil

	cursor := 0.0
	for _, c := range cols {
		var x, y float64
		if vertical {
			x, y = 0, cursor
		} else {
			x, y = cursor, 0
		}
		inner := 0.0
		for _, id := range c.nodes {
			n, _ := g.nodes.Get(id)
			if vertical {
				n.Pos = schema.Vec2{x + o.GroupPadding + inner, y + o.GroupPadding}
				inner += n.Size[0] + o.NodeSpacing
			} else {
				n.Pos = schema.Vec2{x + o.GroupPadding, y + o.GroupPadding + inner}
				inner += n.Size[1] + o.NodeSpacing
			}
			res.NodesMoved++
			g.changes.Nodes.Modified++
		}
		grp := &schema.Group{Title: c.title, Color: colorOr(c.color, StageColor(c.title)), Nodes: c.nodes}
		g.fitGroup(grp, o.GroupPadding)
		g.groups = append(g.groups, grp)
		g.changes.Groups.Created++
		if vertical {
			cursor = grp.Bounding.Bottom() + o.GroupSpacing
		} else {
			cursor = grp.Bounding.Right() + o.GroupSpacing
		}
	}
	for i := range g.groups {
		res.Groups = append(res.Groups, g.groupResult(i))
	}
	return res
}

// Organize rebuilds the groups by pipeline stage. Stages are ordered by the
// smallest topological depth among their members and laid out left to right;
// nodes stack top to bottom inside each group by depth.
func (g *Graph) Organize(o OrganizeOptions) *Organized {
	o = o.withDefaults(g)
	depth := g.depths()

	byStage := make(map[string][]int)
	g.nodes.Scan(func(id int, n *schema.Node) bool {
		s := g.stageOf(n.Type)
		byStage[s] = append(byStage[s], id)
		return true
	})

	stages := make([]string, 0, len(byStage))
	minDepth := make(map[string]int, len(byStage))
	for s, ids := range byStage {
		stages = append(stages, s)
		minDepth[s] = math.MaxInt
		for _, id := range ids {
			minDepth[s] = min(minDepth[s], depth[id])
		}
		sort.SliceStable(ids, func(i, j int) bool {
			if depth[ids[i]] != depth[ids[j]] {
				return depth[ids[i]] < depth[ids[j]]
			}
			return ids[i] < ids[j]
		})
	}
	sort.Slice(stages, func(i, j int) bool {
		if minDepth[stages[i]] != minDepth[stages[j]] {
			return minDepth[stages[i]] < minDepth[stages[j]]
		}
		return stageRank(stages[i]) < stageRank(stages[j])
	})

	cols := make([]column, len(stages))
	for i, s := range stages {
		cols[i] = column{title: s, nodes: byStage[s]}
	}
	res := g.placeColumns(cols, false, o)
	g.touch()
	return res
}

// Flow directions for OrganizeLayout.
const (
	FlowLeftToRight = "left_to_right"
	FlowTopToBottom = "top_to_bottom"
)

// PlanGroup is one group of a caller-supplied layout plan.
type PlanGroup struct {
	Title string `json:"title"`
	Color string `json:"color,omitempty"`
	Nodes []int  `json:"nodes"`
	Order *int   `json:"order,omitempty"`
}

// LayoutPlan is a caller-supplied grouping for OrganizeLayout.
type LayoutPlan struct {
	Flow         string      `json:"flow,omitempty"`
	Groups       []PlanGroup `json:"groups"`
	GroupSpacing float64     `json:"group_spacing,omitempty"`
	GroupPadding float64     `json:"group_padding,omitempty"`
}

// OrganizeLayout lays out the groups of plan in order along its flow and
// replaces the existing groups. Nodes left out of the plan stay where they
// are, ungrouped.
func (g *Graph) OrganizeLayout(plan LayoutPlan) (*Organized, error) {
	vertical := false
	switch plan.Flow {
	case "", FlowLeftToRight:
	case FlowTopToBottom:
		vertical = true
	default:
		return nil, schema.NewErrorf(schema.ErrCodeInvalidValue, "unknown flow %q", plan.Flow).
			WithDetails(map[string]any{"options": []string{FlowLeftToRight, FlowTopToBottom}})
	}
	if len(plan.Groups) == 0 {
		return nil, schema.NewError(schema.ErrCodeValidationFailed, "layout plan has no groups")
	}

	owner := make(map[int]string)
	for _, pg := range plan.Groups {
		if strings.TrimSpace(pg.Title) == "" {
			return nil, schema.NewError(schema.ErrCodeValidationFailed, "every plan group needs a title")
		}
		if err := g.requireNodes(pg.Nodes); err != nil {
			return nil, err
		}
		for _, id := range pg.Nodes {
			if prev, dup := owner[id]; dup && prev != pg.Title {
				return nil, schema.NewErrorf(schema.ErrCodeInvariant, "node %d is planned into %q and %q", id, prev, pg.Title).
					WithDetails(map[string]any{"node_id": id}).
					WithHint("a node can belong to at most one group")
			}
			owner[id] = pg.Title
		}
	}

	ordered := append([]PlanGroup(nil), plan.Groups...)
	sort.SliceStable(ordered, func(i, j int) bool {
		oi, oj := math.MaxInt, math.MaxInt
		if ordered[i].Order != nil {
			oi = *ordered[i].Order
		}
		if ordered[j].Order != nil {
			oj = *ordered[j].Order
		}
		return oi < oj
	})
	cols := make([]column, 0, len(ordered))
	for _, pg := range ordered {
		cols = append(cols, column{title: pg.Title, color: pg.Color, nodes: dedupe(pg.Nodes)})
	}

	o := OrganizeOptions{GroupPadding: plan.GroupPadding, GroupSpacing: plan.GroupSpacing}.withDefaults(g)
	res := g.placeColumns(cols, vertical, o)
	for _, id := range g.NodeIDs() {
		if _, ok := owner[id]; !ok {
			res.Ungrouped = append(res.Ungrouped, id)
		}
	}
	g.touch()
	return res, nil
}

// Integrated reports where IntegrateNode put a node.
type Integrated struct {
	NodeID        int         `json:"node_id"`
	Stage         string      `json:"stage"`
	Group         string      `json:"group"`
	GroupCreated  bool        `json:"group_created,omitempty"`
	AlreadyMember bool        `json:"already_member,omitempty"`
	Pos           schema.Vec2 `json:"pos"`
	Shifted       []string    `json:"shifted_groups,omitempty"`
}

// IntegrateNode files a node into the group of its pipeline stage. An
// existing stage group grows to take the node below its members and groups
// it now overlaps are pushed right; otherwise a new stage group is created
// right of the graph.
func (g *Graph) IntegrateNode(id int) (*Integrated, error) {
	node, err := g.requireNode(id)
	if err != nil {
		return nil, err
	}
	stage := g.stageOf(node.Type)
	res := &Integrated{NodeID: id, Stage: stage}

	if gi := g.groupIndexOf(id); gi >= 0 {
		res.Group, res.AlreadyMember, res.Pos = g.groups[gi].Title, true, node.Pos
		return res, nil
	}

	gi, err := g.groupByTitle(stage)
	switch {
	case schema.HasCode(err, schema.ErrCodeNotFound):
		node.Pos = g.autoPlace(node.Size, -1, true)
		grp := &schema.Group{Title: stage, Color: StageColor(stage), Nodes: []int{id}}
		g.fitGroup(grp, g.opts.GroupPadding)
		g.groups = append(g.groups, grp)
		g.changes.Groups.Created++
		res.Group, res.GroupCreated = stage, true
	case err != nil:
		return nil, err
	default:
		grp := g.groups[gi]
		if len(grp.Nodes) > 0 {
			x, y := g.stackBelow(grp.Nodes)
			node.Pos = schema.Vec2{x, y}
		} else {
			node.Pos = schema.Vec2{grp.Bounding.X + g.opts.GroupPadding, grp.Bounding.Y + g.opts.GroupPadding}
		}
		grp.Nodes = append(grp.Nodes, id)
		g.growGroup(grp)
		g.changes.Groups.Modified++
		res.Group = grp.Title
		res.Shifted = g.pushOverlapping(gi)
	}
	g.changes.Nodes.Modified++
	res.Pos = node.Pos
	g.touch()
	return res, nil
}

// pushOverlapping moves groups that overlap the group at anchor, and then
// each other, to the right together with their members.
func (g *Graph) pushOverlapping(anchor int) []string {
	order := make([]int, 0, len(g.groups))
	for i := range g.groups {
		if i != anchor {
			order = append(order, i)
		}
	}
	sort.SliceStable(order, func(a, b int) bool {
		return g.groups[order[a]].Bounding.X < g.groups[order[b]].Bounding.X
	})

	placed := []*schema.Group{g.groups[anchor]}
	var shifted []string
	for _, i := range order {
		grp := g.groups[i]
		dx := 0.0
		for _, p := range placed {
			moved := grp.Bounding
			moved.X += dx
			if _, hit := moved.Intersect(p.Bounding); hit && grp.Bounding.X >= p.Bounding.X {
				dx = p.Bounding.Right() + DefaultGroupSpacing - grp.Bounding.X
			}
		}
		if dx > 0 {
			grp.Bounding.X += dx
			for _, m := range grp.Nodes {
				if n, ok := g.nodes.Get(m); ok {
					n.Pos[0] += dx
					g.changes.Nodes.Modified++
				}
			}
			g.changes.Groups.Modified++
			shifted = append(shifted, grp.Title)
		}
		placed = append(placed, grp)
	}
	return shifted
}

// Cleared reports what ClearWorkflow removed.
type Cleared struct {
	Nodes  int `json:"nodes_removed"`
	Links  int `json:"links_removed"`
	Groups int `json:"groups_removed"`
}

// ClearWorkflow removes every node, link and group. Id counters keep their
// values so ids are never reused.
func (g *Graph) ClearWorkflow() *Cleared {
	res := &Cleared{Nodes: g.nodes.Len(), Links: g.links.Len(), Groups: len(g.groups)}
	g.nodes = btree.Map[int, *schema.Node]{}
	g.links = btree.Map[int, *schema.Link]{}
	g.groups = nil
	g.changes.Nodes.Deleted += res.Nodes
	g.changes.Links.Deleted += res.Links
	g.changes.Groups.Deleted += res.Groups
	g.touch()
	return res
}
