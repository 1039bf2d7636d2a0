package graph

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/rendis/nodeforge/internal/registry"
	"github.com/rendis/nodeforge/pkg/schema"
)

// SlotRef addresses a slot by index or by name. It decodes from a number, a
// numeric string or a slot name.
type SlotRef struct {
	Index int
	Name  string
}

// SlotIndex returns a SlotRef for an index.
func SlotIndex(i int) SlotRef { return SlotRef{Index: i} }

func (s *SlotRef) UnmarshalJSON(data []byte) error {
	var n float64
	if err := json.Unmarshal(data, &n); err == nil {
		if n != float64(int(n)) {
			return fmt.Errorf("slot index must be an integer, got %v", n)
		}
		*s = SlotRef{Index: int(n)}
		return nil
	}
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return fmt.Errorf("slot must be an index or a name")
	}
	if i, err := strconv.Atoi(name); err == nil {
		*s = SlotRef{Index: i}
		return nil
	}
	*s = SlotRef{Index: -1, Name: name}
	return nil
}

func (s SlotRef) MarshalJSON() ([]byte, error) {
	if s.Name != "" {
		return json.Marshal(s.Name)
	}
	return json.Marshal(s.Index)
}

func (s SlotRef) String() string {
	if s.Name != "" {
		return strconv.Quote(s.Name)
	}
	return strconv.Itoa(s.Index)
}

// resolveSlot maps a SlotRef to a slot index. Names match the slot name
// first, then the slot type, case-insensitively. A type shared by several
// slots is ambiguous.
func resolveSlot(node *schema.Node, ref SlotRef, output bool) (int, error) {
	var names, types []string
	if output {
		for _, o := range node.Outputs {
			names, types = append(names, o.Name), append(types, o.Type)
		}
	} else {
		for _, in := range node.Inputs {
			names, types = append(names, in.Name), append(types, in.Type)
		}
	}
	kind := "input"
	if output {
		kind = "output"
	}
	slots := make([]string, len(names))
	for i := range names {
		slots[i] = names[i] + ":" + types[i]
	}

	if ref.Name != "" {
		for i, n := range names {
			if strings.EqualFold(n, ref.Name) {
				return i, nil
			}
		}
		var byType []int
		for i, typ := range types {
			if strings.EqualFold(typ, ref.Name) {
				byType = append(byType, i)
			}
		}
		switch len(byType) {
		case 0:
		case 1:
			return byType[0], nil
		default:
			candidates := make([]string, len(byType))
			for j, i := range byType {
				candidates[j] = names[i]
			}
			return 0, schema.NewErrorf(schema.ErrCodeAmbiguous, "node %d (%s) has %d %s slots of type %s",
				node.ID, node.Type, len(byType), kind, ref.Name).
				WithDetails(map[string]any{"node_id": node.ID, "slot": ref.Name, "direction": kind, "indices": byType, "names": candidates}).
				WithSuggestion("address the slot by name (" + strings.Join(candidates, ", ") + ") or index")
		}
	} else if ref.Index >= 0 && ref.Index < len(names) {
		return ref.Index, nil
	}

	err := schema.NewErrorf(schema.ErrCodeSlotOutOfRange, "node %d (%s) has no %s slot %s", node.ID, node.Type, kind, ref).
		WithDetails(map[string]any{"node_id": node.ID, "slot": ref.String(), "direction": kind, "slots": slots})
	if len(names) == 0 {
		return 0, err.WithHint(fmt.Sprintf("node %s has no %s slots", node.Type, kind))
	}
	return 0, err.
		WithDetails(map[string]any{"valid_range": []int{0, len(names) - 1}}).
		WithHint(fmt.Sprintf("valid %s slots are 0-%d", kind, len(names)-1))
}

// LinkSpec describes a link to create.
type LinkSpec struct {
	OriginID   int
	OriginSlot SlotRef
	TargetID   int
	TargetSlot SlotRef
}

// LinkCreated reports a created link. ReplacedLink is set when the target
// slot was already bound and its old link was removed.
type LinkCreated struct {
	LinkID       int    `json:"link_id"`
	Type         string `json:"type"`
	OriginID     int    `json:"origin_id"`
	OriginSlot   int    `json:"origin_slot"`
	TargetID     int    `json:"target_id"`
	TargetSlot   int    `json:"target_slot"`
	ReplacedLink *int   `json:"replaced_link,omitempty"`
}

// CreateLink connects an output slot to an input slot of a compatible type.
// An input holds one link, so an existing link on the target slot is removed.
func (g *Graph) CreateLink(spec LinkSpec) (*LinkCreated, error) {
	origin, err := g.requireNode(spec.OriginID)
	if err != nil {
		return nil, err
	}
	target, err := g.requireNode(spec.TargetID)
	if err != nil {
		return nil, err
	}
	oslot, err := resolveSlot(origin, spec.OriginSlot, true)
	if err != nil {
		return nil, err
	}
	ts, err := resolveSlot(target, spec.TargetSlot, false)
	if err != nil {
		return nil, err
	}

	outType := origin.Outputs[oslot].Type
	inType := target.Inputs[ts].Type
	if !registry.Compatible(outType, inType) {
		return nil, schema.NewErrorf(schema.ErrCodeTypeMismatch,
			"cannot connect %s output %d (%s) to %s input %d (%s)",
			origin.Type, oslot, outType, target.Type, ts, inType).
			WithDetails(map[string]any{
				"origin_id": origin.ID, "origin_slot": oslot, "origin_type": outType,
				"target_id": target.ID, "target_slot": ts, "target_type": inType,
			}).
			WithHint(fmt.Sprintf("input %q expects %s", target.Inputs[ts].Name, inType)).
			WithSuggestion(g.compatibleOutputs(origin, inType))
	}

	res := &LinkCreated{}
	if old := target.Inputs[ts].Link; old != nil {
		replaced := *old
		g.removeLink(replaced)
		res.ReplacedLink = &replaced
	}
	l := g.addLink(origin.ID, oslot, target.ID, ts)
	res.LinkID, res.Type = l.ID, l.Type
	res.OriginID, res.OriginSlot, res.TargetID, res.TargetSlot = l.OriginID, l.OriginSlot, l.TargetID, l.TargetSlot
	g.touch()
	return res, nil
}

func (g *Graph) compatibleOutputs(origin *schema.Node, want string) string {
	var slots []string
	for i, o := range origin.Outputs {
		if registry.Compatible(o.Type, want) {
			slots = append(slots, fmt.Sprintf("%d (%s)", i, o.Name))
		}
	}
	if len(slots) == 0 {
		return fmt.Sprintf("node %d has no output of type %s", origin.ID, want)
	}
	return "use output slot " + strings.Join(slots, " or ")
}

// addLink creates a link without validation. Callers have checked endpoints
// and freed the target slot.
func (g *Graph) addLink(originID, originSlot, targetID, targetSlot int) *schema.Link {
	origin, _ := g.nodes.Get(originID)
	target, _ := g.nodes.Get(targetID)
	l := &schema.Link{
		ID:         g.nextLinkID,
		OriginID:   originID,
		OriginSlot: originSlot,
		TargetID:   targetID,
		TargetSlot: targetSlot,
		Type:       origin.Outputs[originSlot].Type,
	}
	g.nextLinkID++
	g.links.Set(l.ID, l)
	origin.Outputs[originSlot].Links = append(origin.Outputs[originSlot].Links, l.ID)
	id := l.ID
	target.Inputs[targetSlot].Link = &id
	g.changes.Links.Created++
	return l
}

// removeLink unbinds a link from both endpoints and deletes it.
func (g *Graph) removeLink(id int) {
	l, ok := g.links.Get(id)
	if !ok {
		return
	}
	if origin, ok := g.nodes.Get(l.OriginID); ok && l.OriginSlot < len(origin.Outputs) {
		origin.Outputs[l.OriginSlot].Links = removeInt(origin.Outputs[l.OriginSlot].Links, id)
	}
	if target, ok := g.nodes.Get(l.TargetID); ok && l.TargetSlot < len(target.Inputs) {
		if cur := target.Inputs[l.TargetSlot].Link; cur != nil && *cur == id {
			target.Inputs[l.TargetSlot].Link = nil
		}
	}
	g.links.Delete(id)
	g.changes.Links.Deleted++
}

// LinkDeleted reports a disconnect. Removed is false when the slot was
// already unbound.
type LinkDeleted struct {
	NodeID  int  `json:"node_id"`
	Slot    int  `json:"input_slot"`
	Removed bool `json:"removed"`
	LinkID  *int `json:"link_id,omitempty"`
}

// DeleteLink disconnects the link bound to an input slot. Disconnecting an
// unbound slot succeeds as a no-op unless StrictLinkDelete is set.
func (g *Graph) DeleteLink(targetID int, slot SlotRef) (*LinkDeleted, error) {
	target, err := g.requireNode(targetID)
	if err != nil {
		return nil, err
	}
	ts, err := resolveSlot(target, slot, false)
	if err != nil {
		return nil, err
	}
	res := &LinkDeleted{NodeID: targetID, Slot: ts}
	cur := target.Inputs[ts].Link
	if cur == nil {
		if g.opts.StrictLinkDelete {
			return nil, schema.NewErrorf(schema.ErrCodeNotFound, "input %d of node %d is not connected", ts, targetID).
				WithDetails(map[string]any{"node_id": targetID, "input_slot": ts})
		}
		return res, nil
	}
	id := *cur
	g.removeLink(id)
	res.Removed, res.LinkID = true, &id
	g.touch()
	return res, nil
}

// DeleteLinkByID removes a link by its id.
func (g *Graph) DeleteLinkByID(id int) (*LinkDeleted, error) {
	l, ok := g.links.Get(id)
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "link %d not found", id).
			WithDetails(map[string]any{"link_id": id})
	}
	res := &LinkDeleted{NodeID: l.TargetID, Slot: l.TargetSlot, Removed: true, LinkID: &id}
	g.removeLink(id)
	g.touch()
	return res, nil
}
