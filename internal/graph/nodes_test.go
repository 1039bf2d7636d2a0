package graph

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/rendis/nodeforge/pkg/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateNodeDefaults(t *testing.T) {
	g := newTestGraph(t)
	res, err := g.CreateNode(context.Background(), NodeSpec{
		Type:    "KSampler",
		Widgets: map[string]any{"steps": 30, "sampler_name": "dpmpp_2m"},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, res.NodeID)
	assert.Equal(t, schema.Vec2{0, 0}, res.Pos)

	n, ok := g.Node(res.NodeID)
	require.True(t, ok)
	assert.Equal(t, schema.ModeActive, n.Mode)
	assert.Len(t, n.Inputs, 4)
	for _, in := range n.Inputs {
		assert.Nil(t, in.Link)
	}
	steps, _ := n.Widget("steps")
	assert.Equal(t, int64(30), steps)
	cfg, _ := n.Widget("cfg")
	assert.Equal(t, 8.0, cfg)
	sampler, _ := n.Widget("sampler_name")
	assert.Equal(t, "dpmpp_2m", sampler)
}

func TestCreateNodeErrors(t *testing.T) {
	tests := []struct {
		name string
		spec NodeSpec
		code string
	}{
		{"unknown type", NodeSpec{Type: "KSamplr"}, schema.ErrCodeUnknownType},
		{"unknown widget", NodeSpec{Type: "KSampler", Widgets: map[string]any{"stepz": 3}}, schema.ErrCodeUnknownWidget},
		{"below min", NodeSpec{Type: "KSampler", Widgets: map[string]any{"steps": 0}}, schema.ErrCodeInvalidValue},
		{"not an option", NodeSpec{Type: "KSampler", Widgets: map[string]any{"scheduler": "bogus"}}, schema.ErrCodeInvalidValue},
		{"constraint", NodeSpec{Type: "EmptyLatentImage", Widgets: map[string]any{"width": 513}}, schema.ErrCodeInvalidValue},
		{"wrong kind", NodeSpec{Type: "KSampler", Widgets: map[string]any{"cfg": "high"}}, schema.ErrCodeInvalidValue},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := newTestGraph(t)
			_, err := g.CreateNode(context.Background(), tt.spec)
			require.Error(t, err)
			assert.Equal(t, tt.code, codeOf(err))
			assert.Zero(t, g.NodeCount())
			assert.Equal(t, uint64(0), g.Revision())
		})
	}
}

func TestCreateNodeIntoGroup(t *testing.T) {
	g := newTestGraph(t)
	first, err := g.CreateNode(context.Background(), NodeSpec{Type: "CheckpointLoaderSimple", Group: &GroupTarget{Title: "Setup"}})
	require.NoError(t, err)
	assert.True(t, first.GroupCreated)
	assert.Equal(t, schema.Vec2{60, 60}, first.Pos)
	require.Len(t, g.Groups(), 1)
	assert.Equal(t, StageColor("Setup"), g.Groups()[0].Color)
	assert.Equal(t, schema.Rect{X: 0, Y: 0, W: 435, H: 218}, g.Groups()[0].Bounding)

	second, err := g.CreateNode(context.Background(), NodeSpec{Type: "VAELoader", Group: &GroupTarget{Title: "Setup"}})
	require.NoError(t, err)
	assert.False(t, second.GroupCreated)
	assert.Equal(t, schema.Vec2{60, 188}, second.Pos, "stacked below the first member")

	grp := g.Groups()[0]
	assert.Equal(t, []int{1, 2}, grp.Nodes)
	minRect, _ := g.MinBounding(grp.Nodes, g.opts.GroupPadding)
	assert.True(t, grp.Bounding.Contains(minRect))
}

func TestGroupTargetDecoding(t *testing.T) {
	var a, b GroupTarget
	require.NoError(t, json.Unmarshal([]byte(`"Setup"`), &a))
	require.NoError(t, json.Unmarshal([]byte(`{"title":"Setup","color":"#fff"}`), &b))
	assert.Equal(t, GroupTarget{Title: "Setup"}, a)
	assert.Equal(t, GroupTarget{Title: "Setup", Color: "#fff"}, b)
}

func TestDeleteNodeCascades(t *testing.T) {
	g := newTestGraph(t)
	ckpt, prompt, sampler := txt2img(t, g)
	_, err := g.CreateGroup(GroupSpec{Title: "Setup", Nodes: []int{ckpt}})
	require.NoError(t, err)

	res, err := g.DeleteNode(ckpt, false)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2}, res.RemovedLinks)
	assert.Equal(t, "Setup", res.Group)

	assert.Equal(t, 1, g.LinkCount())
	s, _ := g.Node(sampler)
	assert.Nil(t, s.Inputs[0].Link)
	p, _ := g.Node(prompt)
	assert.Nil(t, p.Inputs[0].Link)
	assert.Empty(t, g.Groups()[0].Nodes)
	assert.True(t, g.Check().Valid())
}

func TestDeleteNodeReconnects(t *testing.T) {
	g := newTestGraph(t)
	ckpt := addNode(t, g, "CheckpointLoaderSimple", 0, 0)
	lora := addNode(t, g, "LoraLoader", 400, 0)
	sampler := addNode(t, g, "KSampler", 800, 0)
	connect(t, g, ckpt, 0, lora, 0)
	connect(t, g, ckpt, 1, lora, 1)
	connect(t, g, lora, 0, sampler, 0)

	res, err := g.DeleteNode(lora, true)
	require.NoError(t, err)
	assert.Len(t, res.RemovedLinks, 3)
	require.Len(t, res.Reconnected, 1)

	l, ok := g.Link(res.Reconnected[0])
	require.True(t, ok)
	assert.Equal(t, ckpt, l.OriginID)
	assert.Equal(t, 0, l.OriginSlot)
	assert.Equal(t, sampler, l.TargetID)
	assert.Equal(t, "MODEL", l.Type)
}

func TestDeleteNodeNotFound(t *testing.T) {
	g := newTestGraph(t)
	_, err := g.DeleteNode(42, false)
	assert.Equal(t, schema.ErrCodeNotFound, codeOf(err))
}

func TestUpdateNodeGrowsGroup(t *testing.T) {
	g := newTestGraph(t)
	id := addNode(t, g, "VAELoader", 0, 0)
	_, err := g.CreateGroup(GroupSpec{Title: "Setup", Nodes: []int{id}})
	require.NoError(t, err)

	res, err := g.UpdateNode(id, NodeUpdate{Pos: &schema.Vec2{500, 0}, Title: ptr("VAE")})
	require.NoError(t, err)
	require.NotNil(t, res.GroupBounding)
	assert.Equal(t, 875.0, res.GroupBounding.Right())
	assert.Equal(t, -60.0, res.GroupBounding.X, "growth never shrinks the rect")

	n, _ := g.Node(id)
	assert.Equal(t, "VAE", n.DisplayName())
}

func TestSetWidget(t *testing.T) {
	g := newTestGraph(t)
	id := addNode(t, g, "EmptyLatentImage", 0, 0)

	res, err := g.SetWidget(context.Background(), id, "width", 1024)
	require.NoError(t, err)
	assert.Equal(t, int64(1024), res.Value)
	assert.Equal(t, int64(512), res.Previous)

	_, err = g.SetWidget(context.Background(), id, "width", 1000.5)
	assert.Equal(t, schema.ErrCodeInvalidValue, codeOf(err))

	_, err = g.SetWidget(context.Background(), id, "height", 100)
	assert.Equal(t, schema.ErrCodeInvalidValue, codeOf(err), "constraint value %% 8 == 0")

	_, err = g.SetWidget(context.Background(), id, "depth", 3)
	assert.Equal(t, schema.ErrCodeUnknownWidget, codeOf(err))

	n, _ := g.Node(id)
	h, _ := n.Widget("height")
	assert.Equal(t, int64(512), h, "failed updates leave the node untouched")
}

func TestSetModeIsAllOrNothing(t *testing.T) {
	g := newTestGraph(t)
	a := addNode(t, g, "Note", 0, 0)
	b := addNode(t, g, "Note", 0, 100)

	_, err := g.SetMode([]int{a, 99, 98}, true)
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeNotFound, codeOf(err))
	assert.Equal(t, []int{99, 98}, schema.AsGraphError(err).Details["node_ids"])
	n, _ := g.Node(a)
	assert.Equal(t, schema.ModeActive, n.Mode)

	res, err := g.SetMode([]int{a, b}, true)
	require.NoError(t, err)
	assert.Equal(t, schema.ModeBypassed, res.Mode)
	n, _ = g.Node(b)
	assert.Equal(t, schema.ModeBypassed, n.Mode)
}

func TestSetModeCountsRepeatedIDsOnce(t *testing.T) {
	g := newTestGraph(t)
	a := addNode(t, g, "Note", 0, 0)
	b := addNode(t, g, "Note", 0, 100)
	g.ResetChanges()

	res, err := g.SetMode([]int{a, a, b, a}, true)
	require.NoError(t, err)
	assert.Equal(t, []int{a, b}, res.NodeIDs)
	assert.Equal(t, 2, g.Changes().Nodes.Modified)
}

func TestDuplicateNode(t *testing.T) {
	g := newTestGraph(t)
	ckpt, _, sampler := txt2img(t, g)
	_, err := g.SetWidget(context.Background(), sampler, "steps", 40)
	require.NoError(t, err)
	_, err = g.CreateGroup(GroupSpec{Title: "Gen", Nodes: []int{sampler}})
	require.NoError(t, err)

	res, err := g.DuplicateNode(sampler, nil)
	require.NoError(t, err)
	assert.Equal(t, schema.Vec2{950, 50}, res.Pos)
	assert.Equal(t, "Gen", res.Group)

	c, _ := g.Node(res.NodeID)
	steps, _ := c.Widget("steps")
	assert.Equal(t, int64(40), steps)
	for _, in := range c.Inputs {
		assert.Nil(t, in.Link, "links are not copied")
	}
	assert.Contains(t, g.Groups()[0].Nodes, res.NodeID)

	_, err = g.DuplicateNode(ckpt, &schema.Vec2{0, 300})
	require.NoError(t, err)
	assert.True(t, g.Check().Valid())
}
