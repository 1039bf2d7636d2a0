package schema

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleDocument() *Document {
	link := 1
	return &Document{
		Nodes: []*Node{
			{ID: 1, Type: "CheckpointLoaderSimple", Pos: Vec2{0, 0}, Size: Vec2{300, 100}, Mode: ModeActive,
				Widgets: []WidgetValue{{Name: "ckpt_name", Value: "sd15.safetensors"}},
				Outputs: []OutputSlot{{Name: "MODEL", Type: "MODEL", Links: []int{1}}}},
			{ID: 2, Type: "KSampler", Pos: Vec2{400, 0}, Size: Vec2{300, 260}, Mode: ModeActive,
				Widgets: []WidgetValue{{Name: "seed", Value: []any{1.0, 2.0}}},
				Inputs:  []InputSlot{{Name: "model", Type: "MODEL", Link: &link}}},
		},
		Links:      []*Link{{ID: 1, OriginID: 1, OriginSlot: 0, TargetID: 2, TargetSlot: 0, Type: "MODEL"}},
		Groups:     []*Group{{Title: "Setup", Color: "#2A4858", Bounding: Rect{X: -60, Y: -60, W: 420, H: 220}, Nodes: []int{1}}},
		NextNodeID: 3,
		NextLinkID: 2,
	}
}

func TestRect_Geometry(t *testing.T) {
	a := Rect{X: 0, Y: 0, W: 100, H: 100}
	b := Rect{X: 50, Y: 50, W: 100, H: 100}

	inter, ok := a.Intersect(b)
	require.True(t, ok)
	assert.Equal(t, Rect{X: 50, Y: 50, W: 50, H: 50}, inter)
	assert.Equal(t, 2500.0, inter.Area())

	_, ok = a.Intersect(Rect{X: 100, Y: 0, W: 10, H: 10})
	assert.False(t, ok, "touching edges do not overlap")

	assert.Equal(t, Rect{X: 0, Y: 0, W: 150, H: 150}, a.Union(b))
	assert.Equal(t, Rect{X: -10, Y: -10, W: 120, H: 120}, a.Expand(10))
	assert.True(t, a.Expand(1).Contains(a))
	assert.False(t, a.Contains(b))
}

func TestRect_JSON(t *testing.T) {
	data, err := json.Marshal(Rect{X: 1, Y: 2, W: 3, H: 4})
	require.NoError(t, err)
	assert.JSONEq(t, `[1,2,3,4]`, string(data))

	var r Rect
	require.NoError(t, json.Unmarshal([]byte(`[5,6,7,8]`), &r))
	assert.Equal(t, Rect{X: 5, Y: 6, W: 7, H: 8}, r)
	assert.Error(t, json.Unmarshal([]byte(`{"x":1}`), &r))
}

func TestDocument_CloneIsDeep(t *testing.T) {
	doc := sampleDocument()
	c := doc.Clone()
	assert.Equal(t, doc, c)

	c.Nodes[0].Pos[0] = 999
	c.Nodes[1].Widgets[0].Value.([]any)[0] = 42.0
	*c.Nodes[1].Inputs[0].Link = 77
	c.Nodes[0].Outputs[0].Links[0] = 77
	c.Groups[0].Nodes[0] = 99
	c.Links[0].TargetSlot = 3

	assert.Equal(t, 0.0, doc.Nodes[0].Pos[0])
	assert.Equal(t, 1.0, doc.Nodes[1].Widgets[0].Value.([]any)[0])
	assert.Equal(t, 1, *doc.Nodes[1].Inputs[0].Link)
	assert.Equal(t, []int{1}, doc.Nodes[0].Outputs[0].Links)
	assert.Equal(t, []int{1}, doc.Groups[0].Nodes)
	assert.Equal(t, 0, doc.Links[0].TargetSlot)
}

func TestDocument_JSONRoundTrip(t *testing.T) {
	doc := sampleDocument()
	data, err := json.Marshal(doc)
	require.NoError(t, err)

	var back Document
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, doc.NextNodeID, back.NextNodeID)
	assert.Equal(t, doc.Groups[0].Bounding, back.Groups[0].Bounding)
	assert.Equal(t, 0, back.GroupOf(1))
	assert.Equal(t, -1, back.GroupOf(2))
	assert.Equal(t, "KSampler", back.NodeByID(2).DisplayName())
	v, ok := back.NodeByID(1).Widget("ckpt_name")
	require.True(t, ok)
	assert.Equal(t, "sd15.safetensors", v)
}
