package engine

import (
	"github.com/rendis/nodeforge/internal/graph"
	"github.com/rendis/nodeforge/internal/refs"
	"github.com/rendis/nodeforge/pkg/schema"
)

// Mutation tool names.
const (
	ToolCreateNode       = "create_node"
	ToolDeleteNode       = "delete_node"
	ToolUpdateNode       = "update_node"
	ToolDuplicateNode    = "duplicate_node"
	ToolBypassNode       = "bypass_node"
	ToolCreateLink       = "create_node_link"
	ToolDeleteLink       = "delete_node_link"
	ToolUpdateWidget     = "update_widget"
	ToolCreateGroup      = "create_group"
	ToolDeleteGroup      = "delete_group"
	ToolUpdateGroup      = "update_group"
	ToolMoveNodesToGroup = "move_nodes_to_group"
	ToolMergeGroups      = "merge_groups"
	ToolSplitGroup       = "split_group"
	ToolMoveGroup        = "move_group"
	ToolFitGroup         = "fit_group_to_nodes"
	ToolAlignNodes       = "align_nodes"
	ToolDistributeNodes  = "distribute_nodes"
	ToolOrganize         = "organize"
	ToolOrganizeLayout   = "organize_layout"
	ToolIntegrateNode    = "integrate_node_into_groups"
	ToolClearWorkflow    = "clear_workflow"
)

// MutationTools is the allow-list of tools a transaction may contain, in
// documentation order.
var MutationTools = []string{
	ToolCreateNode, ToolDeleteNode, ToolUpdateNode, ToolDuplicateNode, ToolBypassNode,
	ToolCreateLink, ToolDeleteLink, ToolUpdateWidget,
	ToolCreateGroup, ToolDeleteGroup, ToolUpdateGroup, ToolMoveNodesToGroup,
	ToolMergeGroups, ToolSplitGroup, ToolMoveGroup, ToolFitGroup,
	ToolAlignNodes, ToolDistributeNodes, ToolOrganize, ToolOrganizeLayout,
	ToolIntegrateNode, ToolClearWorkflow,
}

var mutationSet = func() map[string]bool {
	m := make(map[string]bool, len(MutationTools))
	for _, t := range MutationTools {
		m[t] = true
	}
	return m
}()

// IsMutation reports whether tool is on the allow-list.
func IsMutation(tool string) bool { return mutationSet[tool] }

// Command is one allow-listed mutation. The implementations below are the
// complete set; dispatch switches over them exhaustively.
type Command interface {
	Tool() string
	command()
}

// NodeItem is one node of a create_node command.
type NodeItem struct {
	Type    string             `json:"type"`
	Pos     *schema.Vec2       `json:"pos,omitempty"`
	Ref     string             `json:"ref,omitempty"`
	Widgets map[string]any     `json:"widgets,omitempty"`
	Title   string             `json:"title,omitempty"`
	Group   *graph.GroupTarget `json:"group,omitempty"`
}

type CreateNode struct {
	Nodes []NodeItem `json:"nodes"`
}

type DeleteNode struct {
	Nodes     []refs.NodeRef `json:"nodes"`
	Reconnect bool           `json:"reconnect,omitempty"`
}

// NodeUpdateItem moves and/or renames one node.
type NodeUpdateItem struct {
	Node  refs.NodeRef `json:"node"`
	Pos   *schema.Vec2 `json:"pos,omitempty"`
	Title *string      `json:"title,omitempty"`
}

type UpdateNode struct {
	Updates []NodeUpdateItem `json:"updates"`
}

// DuplicateItem copies one node; Ref names the copy.
type DuplicateItem struct {
	Node   refs.NodeRef `json:"node"`
	Ref    string       `json:"ref,omitempty"`
	Offset *schema.Vec2 `json:"offset,omitempty"`
}

type DuplicateNode struct {
	Nodes []DuplicateItem `json:"nodes"`
}

// BypassNode sets the mode of nodes. Bypass defaults to true.
type BypassNode struct {
	Nodes  []refs.NodeRef `json:"nodes"`
	Bypass *bool          `json:"bypass,omitempty"`
}

// LinkItem connects an output slot to an input slot.
type LinkItem struct {
	From     refs.NodeRef  `json:"from"`
	FromSlot graph.SlotRef `json:"from_slot"`
	To       refs.NodeRef  `json:"to"`
	ToSlot   graph.SlotRef `json:"to_slot"`
}

type CreateLink struct {
	Links []LinkItem `json:"links"`
}

// LinkEnd addresses the input slot whose link is removed.
type LinkEnd struct {
	Node      refs.NodeRef  `json:"node"`
	InputSlot graph.SlotRef `json:"input_slot"`
}

type DeleteLink struct {
	Links []LinkEnd `json:"links"`
}

// WidgetItem sets one widget value.
type WidgetItem struct {
	Node   refs.NodeRef `json:"node"`
	Widget string       `json:"widget"`
	Value  any          `json:"value"`
}

type UpdateWidget struct {
	Updates []WidgetItem `json:"updates"`
}

// GroupItem is one group of a create_group command.
type GroupItem struct {
	Title    string         `json:"title"`
	Nodes    []refs.NodeRef `json:"nodes,omitempty"`
	Color    string         `json:"color,omitempty"`
	Padding  *float64       `json:"padding,omitempty"`
	Bounding *schema.Rect   `json:"bounding,omitempty"`
}

type CreateGroup struct {
	Groups []GroupItem `json:"groups"`
}

// DeleteGroup removes the listed groups, or every group when All is set.
type DeleteGroup struct {
	Groups []graph.GroupRef `json:"groups,omitempty"`
	All    bool             `json:"all,omitempty"`
}

// GroupUpdateItem changes one group.
type GroupUpdateItem struct {
	Group   graph.GroupRef  `json:"group"`
	Title   *string         `json:"title,omitempty"`
	Color   *string         `json:"color,omitempty"`
	Nodes   *[]refs.NodeRef `json:"nodes,omitempty"`
	Padding *float64        `json:"padding,omitempty"`
	Pos     *schema.Vec2    `json:"pos,omitempty"`
	Size    *schema.Vec2    `json:"size,omitempty"`
}

type UpdateGroup struct {
	Updates []GroupUpdateItem `json:"updates"`
}

// MoveItem moves nodes into one target group.
type MoveItem struct {
	Nodes   []refs.NodeRef    `json:"nodes"`
	ToGroup graph.GroupTarget `json:"to_group"`
}

type MoveNodesToGroup struct {
	Moves []MoveItem `json:"moves"`
}

type MergeGroups struct {
	Groups  []graph.GroupRef  `json:"groups"`
	Into    graph.GroupTarget `json:"into"`
	Padding *float64          `json:"padding,omitempty"`
}

// SplitPartItem is one part carved out of a group.
type SplitPartItem struct {
	Title string         `json:"title"`
	Color string         `json:"color,omitempty"`
	Nodes []refs.NodeRef `json:"nodes"`
}

type SplitGroup struct {
	Group   graph.GroupRef  `json:"group"`
	Parts   []SplitPartItem `json:"parts"`
	Padding *float64        `json:"padding,omitempty"`
}

type MoveGroup struct {
	Group  graph.GroupRef `json:"group"`
	Pos    *schema.Vec2   `json:"pos,omitempty"`
	Offset *schema.Vec2   `json:"offset,omitempty"`
}

type FitGroup struct {
	Group   graph.GroupRef `json:"group"`
	Padding *float64       `json:"padding,omitempty"`
}

type AlignNodes struct {
	Nodes     []refs.NodeRef `json:"nodes"`
	Alignment string         `json:"alignment"`
}

type DistributeNodes struct {
	Nodes     []refs.NodeRef `json:"nodes"`
	Direction string         `json:"direction"`
	Spacing   *float64       `json:"spacing,omitempty"`
}

type Organize struct {
	GroupPadding float64 `json:"group_padding,omitempty"`
	GroupSpacing float64 `json:"group_spacing,omitempty"`
	NodeSpacing  float64 `json:"node_spacing,omitempty"`
}

// PlanGroupItem is one group of a layout plan.
type PlanGroupItem struct {
	Title string         `json:"title"`
	Nodes []refs.NodeRef `json:"nodes"`
	Color string         `json:"color,omitempty"`
	Order *int           `json:"order,omitempty"`
}

// Plan is the caller's grouping for organize_layout.
type Plan struct {
	Flow         string          `json:"flow,omitempty"`
	Groups       []PlanGroupItem `json:"groups"`
	GroupSpacing float64         `json:"group_spacing,omitempty"`
	GroupPadding float64         `json:"group_padding,omitempty"`
}

type OrganizeLayout struct {
	Plan Plan `json:"plan"`
}

type IntegrateNode struct {
	NodeID refs.NodeRef `json:"node_id"`
}

type ClearWorkflow struct{}

func (CreateNode) Tool() string       { return ToolCreateNode }
func (DeleteNode) Tool() string       { return ToolDeleteNode }
func (UpdateNode) Tool() string       { return ToolUpdateNode }
func (DuplicateNode) Tool() string    { return ToolDuplicateNode }
func (BypassNode) Tool() string       { return ToolBypassNode }
func (CreateLink) Tool() string       { return ToolCreateLink }
func (DeleteLink) Tool() string       { return ToolDeleteLink }
func (UpdateWidget) Tool() string     { return ToolUpdateWidget }
func (CreateGroup) Tool() string      { return ToolCreateGroup }
func (DeleteGroup) Tool() string      { return ToolDeleteGroup }
func (UpdateGroup) Tool() string      { return ToolUpdateGroup }
func (MoveNodesToGroup) Tool() string { return ToolMoveNodesToGroup }
func (MergeGroups) Tool() string      { return ToolMergeGroups }
func (SplitGroup) Tool() string       { return ToolSplitGroup }
func (MoveGroup) Tool() string        { return ToolMoveGroup }
func (FitGroup) Tool() string         { return ToolFitGroup }
func (AlignNodes) Tool() string       { return ToolAlignNodes }
func (DistributeNodes) Tool() string  { return ToolDistributeNodes }
func (Organize) Tool() string         { return ToolOrganize }
func (OrganizeLayout) Tool() string   { return ToolOrganizeLayout }
func (IntegrateNode) Tool() string    { return ToolIntegrateNode }
func (ClearWorkflow) Tool() string    { return ToolClearWorkflow }

func (CreateNode) command()       {}
func (DeleteNode) command()       {}
func (UpdateNode) command()       {}
func (DuplicateNode) command()    {}
func (BypassNode) command()       {}
func (CreateLink) command()       {}
func (DeleteLink) command()       {}
func (UpdateWidget) command()     {}
func (CreateGroup) command()      {}
func (DeleteGroup) command()      {}
func (UpdateGroup) command()      {}
func (MoveNodesToGroup) command() {}
func (MergeGroups) command()      {}
func (SplitGroup) command()       {}
func (MoveGroup) command()        {}
func (FitGroup) command()         {}
func (AlignNodes) command()       {}
func (DistributeNodes) command()  {}
func (Organize) command()         {}
func (OrganizeLayout) command()   {}
func (IntegrateNode) command()    {}
func (ClearWorkflow) command()    {}

// newCommand returns an empty command value for tool.
func newCommand(tool string) Command {
	switch tool {
	case ToolCreateNode:
		return &CreateNode{}
	case ToolDeleteNode:
		return &DeleteNode{}
	case ToolUpdateNode:
		return &UpdateNode{}
	case ToolDuplicateNode:
		return &DuplicateNode{}
	case ToolBypassNode:
		return &BypassNode{}
	case ToolCreateLink:
		return &CreateLink{}
	case ToolDeleteLink:
		return &DeleteLink{}
	case ToolUpdateWidget:
		return &UpdateWidget{}
	case ToolCreateGroup:
		return &CreateGroup{}
	case ToolDeleteGroup:
		return &DeleteGroup{}
	case ToolUpdateGroup:
		return &UpdateGroup{}
	case ToolMoveNodesToGroup:
		return &MoveNodesToGroup{}
	case ToolMergeGroups:
		return &MergeGroups{}
	case ToolSplitGroup:
		return &SplitGroup{}
	case ToolMoveGroup:
		return &MoveGroup{}
	case ToolFitGroup:
		return &FitGroup{}
	case ToolAlignNodes:
		return &AlignNodes{}
	case ToolDistributeNodes:
		return &DistributeNodes{}
	case ToolOrganize:
		return &Organize{}
	case ToolOrganizeLayout:
		return &OrganizeLayout{}
	case ToolIntegrateNode:
		return &IntegrateNode{}
	case ToolClearWorkflow:
		return &ClearWorkflow{}
	default:
		return nil
	}
}
