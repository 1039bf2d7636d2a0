package schema

import (
	"encoding/json"
	"fmt"
	"math"
)

// Vec2 is an [x, y] position or a [width, height] size.
type Vec2 [2]float64

// Rect is an axis-aligned rectangle. It serializes as [x, y, w, h].
type Rect struct {
	X, Y, W, H float64
}

func (r Rect) MarshalJSON() ([]byte, error) {
	return json.Marshal([4]float64{r.X, r.Y, r.W, r.H})
}

func (r *Rect) UnmarshalJSON(data []byte) error {
	var v [4]float64
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("bounding must be [x, y, w, h]: %w", err)
	}
	r.X, r.Y, r.W, r.H = v[0], v[1], v[2], v[3]
	return nil
}

// Right returns the x coordinate of the right edge.
func (r Rect) Right() float64 { return r.X + r.W }

// Bottom returns the y coordinate of the bottom edge.
func (r Rect) Bottom() float64 { return r.Y + r.H }

// Area returns w*h, or 0 for degenerate rectangles.
func (r Rect) Area() float64 {
	if r.W <= 0 || r.H <= 0 {
		return 0
	}
	return r.W * r.H
}

// Intersect returns the overlapping rectangle and whether it is non-empty.
func (r Rect) Intersect(o Rect) (Rect, bool) {
	x1 := math.Max(r.X, o.X)
	y1 := math.Max(r.Y, o.Y)
	x2 := math.Min(r.Right(), o.Right())
	y2 := math.Min(r.Bottom(), o.Bottom())
	if x2 <= x1 || y2 <= y1 {
		return Rect{}, false
	}
	return Rect{X: x1, Y: y1, W: x2 - x1, H: y2 - y1}, true
}

// Contains reports whether o lies entirely inside r.
func (r Rect) Contains(o Rect) bool {
	return o.X >= r.X && o.Y >= r.Y && o.Right() <= r.Right() && o.Bottom() <= r.Bottom()
}

// Union returns the smallest rectangle containing both r and o.
func (r Rect) Union(o Rect) Rect {
	x1 := math.Min(r.X, o.X)
	y1 := math.Min(r.Y, o.Y)
	x2 := math.Max(r.Right(), o.Right())
	y2 := math.Max(r.Bottom(), o.Bottom())
	return Rect{X: x1, Y: y1, W: x2 - x1, H: y2 - y1}
}

// Expand grows the rectangle by pad on every side.
func (r Rect) Expand(pad float64) Rect {
	return Rect{X: r.X - pad, Y: r.Y - pad, W: r.W + 2*pad, H: r.H + 2*pad}
}

// NodeMode is the execution mode of a node.
type NodeMode string

const (
	ModeActive   NodeMode = "active"
	ModeBypassed NodeMode = "bypassed"
)

// WidgetValue is one named widget value on a node. Order matters.
type WidgetValue struct {
	Name  string `json:"name"`
	Value any    `json:"value"`
}

// InputSlot holds at most one incoming link.
type InputSlot struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Optional bool   `json:"optional,omitempty"`
	Link     *int   `json:"link"`
}

// OutputSlot holds zero or more outgoing links.
type OutputSlot struct {
	Name  string `json:"name"`
	Type  string `json:"type"`
	Links []int  `json:"links"`
}

// Node is a typed processing unit in the document.
type Node struct {
	ID      int           `json:"id"`
	Type    string        `json:"type"`
	Title   string        `json:"title,omitempty"`
	Pos     Vec2          `json:"pos"`
	Size    Vec2          `json:"size"`
	Mode    NodeMode      `json:"mode"`
	Widgets []WidgetValue `json:"widgets,omitempty"`
	Inputs  []InputSlot   `json:"inputs,omitempty"`
	Outputs []OutputSlot  `json:"outputs,omitempty"`
}

// Rect returns the node's bounding rectangle.
func (n *Node) Rect() Rect {
	return Rect{X: n.Pos[0], Y: n.Pos[1], W: n.Size[0], H: n.Size[1]}
}

// DisplayName returns the title if set, otherwise the type.
func (n *Node) DisplayName() string {
	if n.Title != "" {
		return n.Title
	}
	return n.Type
}

// Widget returns the value of the named widget.
func (n *Node) Widget(name string) (any, bool) {
	for _, w := range n.Widgets {
		if w.Name == name {
			return w.Value, true
		}
	}
	return nil, false
}

// Clone returns a deep copy of the node.
func (n *Node) Clone() *Node {
	c := *n
	if n.Widgets != nil {
		c.Widgets = make([]WidgetValue, len(n.Widgets))
		for i, w := range n.Widgets {
			c.Widgets[i] = WidgetValue{Name: w.Name, Value: CloneValue(w.Value)}
		}
	}
	if n.Inputs != nil {
		c.Inputs = make([]InputSlot, len(n.Inputs))
		for i, in := range n.Inputs {
			c.Inputs[i] = in
			if in.Link != nil {
				id := *in.Link
				c.Inputs[i].Link = &id
			}
		}
	}
	if n.Outputs != nil {
		c.Outputs = make([]OutputSlot, len(n.Outputs))
		for i, out := range n.Outputs {
			c.Outputs[i] = out
			c.Outputs[i].Links = append([]int(nil), out.Links...)
		}
	}
	return &c
}

// Link is a typed directed edge from an output slot to an input slot.
type Link struct {
	ID         int    `json:"id"`
	OriginID   int    `json:"origin_id"`
	OriginSlot int    `json:"origin_slot"`
	TargetID   int    `json:"target_id"`
	TargetSlot int    `json:"target_slot"`
	Type       string `json:"type"`
}

// Group is a titled visual container with explicit membership.
type Group struct {
	Title    string `json:"title"`
	Color    string `json:"color,omitempty"`
	Bounding Rect   `json:"bounding"`
	Nodes    []int  `json:"nodes"`
}

// HasMember reports whether id is a member of the group.
func (g *Group) HasMember(id int) bool {
	for _, m := range g.Nodes {
		if m == id {
			return true
		}
	}
	return false
}

// Clone returns a deep copy of the group.
func (g *Group) Clone() *Group {
	c := *g
	c.Nodes = append([]int{}, g.Nodes...)
	return &c
}

// Document is the complete serialized graph.
type Document struct {
	Nodes      []*Node  `json:"nodes"`
	Links      []*Link  `json:"links"`
	Groups     []*Group `json:"groups"`
	NextNodeID int      `json:"next_node_id"`
	NextLinkID int      `json:"next_link_id"`
}

// Clone returns a deep copy of the document.
func (d *Document) Clone() *Document {
	if d == nil {
		return nil
	}
	c := &Document{
		Nodes:      make([]*Node, len(d.Nodes)),
		Links:      make([]*Link, len(d.Links)),
		Groups:     make([]*Group, len(d.Groups)),
		NextNodeID: d.NextNodeID,
		NextLinkID: d.NextLinkID,
	}
	for i, n := range d.Nodes {
		c.Nodes[i] = n.Clone()
	}
	for i, l := range d.Links {
		lc := *l
		c.Links[i] = &lc
	}
	for i, g := range d.Groups {
		c.Groups[i] = g.Clone()
	}
	return c
}

// NodeByID returns the node with the given id, or nil.
func (d *Document) NodeByID(id int) *Node {
	for _, n := range d.Nodes {
		if n.ID == id {
			return n
		}
	}
	return nil
}

// GroupOf returns the index of the group containing node id, or -1.
func (d *Document) GroupOf(id int) int {
	for i, g := range d.Groups {
		if g.HasMember(id) {
			return i
		}
	}
	return -1
}

// CloneValue deep-copies JSON-shaped values (maps, slices, scalars).
func CloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		m := make(map[string]any, len(t))
		for k, val := range t {
			m[k] = CloneValue(val)
		}
		return m
	case []any:
		s := make([]any, len(t))
		for i, val := range t {
			s[i] = CloneValue(val)
		}
		return s
	default:
		return v
	}
}
