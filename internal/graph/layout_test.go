package graph

import (
	"testing"

	"github.com/rendis/nodeforge/pkg/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func groupTitles(g *Graph) []string {
	out := []string{}
	for _, grp := range g.Groups() {
		out = append(out, grp.Title)
	}
	return out
}

func assertNoGroupOverlap(t *testing.T, g *Graph) {
	t.Helper()
	groups := g.Groups()
	for i := range groups {
		for j := i + 1; j < len(groups); j++ {
			_, hit := groups[i].Bounding.Intersect(groups[j].Bounding)
			assert.False(t, hit, "%s overlaps %s", groups[i].Title, groups[j].Title)
		}
	}
}

func TestAlignNodes(t *testing.T) {
	tests := []struct {
		alignment string
		check     func(t *testing.T, a, b *schema.Node)
	}{
		{AlignLeft, func(t *testing.T, a, b *schema.Node) {
			assert.Equal(t, 0.0, a.Pos[0])
			assert.Equal(t, 0.0, b.Pos[0])
		}},
		{AlignRight, func(t *testing.T, a, b *schema.Node) {
			assert.Equal(t, 185.0, a.Pos[0])
			assert.Equal(t, 100.0, b.Pos[0])
		}},
		{AlignTop, func(t *testing.T, a, b *schema.Node) {
			assert.Equal(t, 0.0, b.Pos[1])
		}},
		{AlignCenterV, func(t *testing.T, a, b *schema.Node) {
			assert.Equal(t, a.Pos[1]+a.Size[1]/2, b.Pos[1]+b.Size[1]/2)
		}},
	}
	for _, tt := range tests {
		t.Run(tt.alignment, func(t *testing.T) {
			g := newTestGraph(t)
			a := addNode(t, g, "CheckpointLoaderSimple", 0, 0)
			b := addNode(t, g, "Note", 100, 300)
			_, err := g.AlignNodes([]int{a, b}, tt.alignment)
			require.NoError(t, err)
			na, _ := g.Node(a)
			nb, _ := g.Node(b)
			tt.check(t, na, nb)
		})
	}
}

func TestAlignNodesErrors(t *testing.T) {
	g := newTestGraph(t)
	a := addNode(t, g, "Note", 0, 0)
	b := addNode(t, g, "Note", 0, 100)

	_, err := g.AlignNodes([]int{a}, AlignLeft)
	assert.Equal(t, schema.ErrCodeValidationFailed, codeOf(err))
	_, err = g.AlignNodes([]int{a, b}, "diagonal")
	assert.Equal(t, schema.ErrCodeInvalidValue, codeOf(err))
	_, err = g.AlignNodes([]int{a, 7}, AlignLeft)
	assert.Equal(t, schema.ErrCodeNotFound, codeOf(err))
}

func TestDistributeNodes(t *testing.T) {
	g := newTestGraph(t)
	a := addNode(t, g, "Note", 0, 0)
	b := addNode(t, g, "Note", 2000, 100)
	c := addNode(t, g, "Note", 100, 200)

	res, err := g.DistributeNodes([]int{a, b, c}, DirectionHorizontal, nil)
	require.NoError(t, err)
	assert.Equal(t, 0.0, res.Pos[a][0])
	assert.Equal(t, 1000.0, res.Pos[c][0])
	assert.Equal(t, 2000.0, res.Pos[b][0])

	res, err = g.DistributeNodes([]int{a, b, c}, DirectionHorizontal, ptr(10.0))
	require.NoError(t, err)
	assert.Equal(t, 410.0, res.Pos[c][0])
	assert.Equal(t, 820.0, res.Pos[b][0])

	_, err = g.DistributeNodes([]int{a, b}, "sideways", nil)
	assert.Equal(t, schema.ErrCodeInvalidValue, codeOf(err))
}

func TestDistributeGrowsGroups(t *testing.T) {
	g := newTestGraph(t)
	a := addNode(t, g, "Note", 0, 0)
	b := addNode(t, g, "Note", 0, 100)
	_, err := g.CreateGroup(GroupSpec{Title: "g", Nodes: []int{a, b}})
	require.NoError(t, err)

	_, err = g.DistributeNodes([]int{a, b}, DirectionVertical, ptr(500.0))
	require.NoError(t, err)
	minRect, _ := g.MinBounding(g.Groups()[0].Nodes, g.opts.GroupPadding)
	assert.True(t, g.Groups()[0].Bounding.Contains(minRect))
}

func TestOrganizeByStage(t *testing.T) {
	g := newTestGraph(t)
	_, _, sampler := txt2img(t, g)
	_, err := g.CreateGroup(GroupSpec{Title: "stale"})
	require.NoError(t, err)

	res := g.Organize(OrganizeOptions{})
	assert.Equal(t, 3, res.NodesMoved)
	assert.Equal(t, []string{StageSetup, StagePrompts, StageGeneration}, groupTitles(g))
	assertNoGroupOverlap(t, g)

	s, _ := g.Node(sampler)
	assert.Equal(t, schema.Vec2{1255, 60}, s.Pos)
	for _, grp := range g.Groups() {
		assert.Equal(t, StageColor(grp.Title), grp.Color)
	}
	assert.True(t, g.Check().Valid())
}

func TestOrganizeLayoutPlan(t *testing.T) {
	g := newTestGraph(t)
	a := addNode(t, g, "Note", 0, 0)
	b := addNode(t, g, "Note", 0, 100)
	c := addNode(t, g, "Note", 0, 200)

	res, err := g.OrganizeLayout(LayoutPlan{
		Flow: FlowTopToBottom,
		Groups: []PlanGroup{
			{Title: "B", Nodes: []int{b}, Order: ptr(2)},
			{Title: "A", Nodes: []int{a}, Order: ptr(1)},
		},
		GroupSpacing: 100,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B"}, groupTitles(g))
	assert.Equal(t, []int{c}, res.Ungrouped)

	nb, _ := g.Node(b)
	assert.Equal(t, schema.Vec2{60, 340}, nb.Pos)
	assertNoGroupOverlap(t, g)
}

func TestOrganizeLayoutRejects(t *testing.T) {
	g := newTestGraph(t)
	a := addNode(t, g, "Note", 0, 0)

	_, err := g.OrganizeLayout(LayoutPlan{Flow: "spiral", Groups: []PlanGroup{{Title: "x"}}})
	assert.Equal(t, schema.ErrCodeInvalidValue, codeOf(err))

	_, err = g.OrganizeLayout(LayoutPlan{Groups: []PlanGroup{{Title: "x", Nodes: []int{a}}, {Title: "y", Nodes: []int{a}}}})
	assert.Equal(t, schema.ErrCodeInvariant, codeOf(err))

	_, err = g.OrganizeLayout(LayoutPlan{})
	assert.Equal(t, schema.ErrCodeValidationFailed, codeOf(err))
}

func TestIntegrateNodeGrowsStageGroup(t *testing.T) {
	g := newTestGraph(t)
	ckpt := addNode(t, g, "CheckpointLoaderSimple", 60, 60)
	sampler := addNode(t, g, "KSampler", 60, 320)
	_, err := g.CreateGroup(GroupSpec{Title: StageSetup, Nodes: []int{ckpt}})
	require.NoError(t, err)
	_, err = g.CreateGroup(GroupSpec{Title: StageGeneration, Nodes: []int{sampler}})
	require.NoError(t, err)
	vae := addNode(t, g, "VAELoader", 5000, 5000)

	res, err := g.IntegrateNode(vae)
	require.NoError(t, err)
	assert.Equal(t, StageSetup, res.Group)
	assert.Equal(t, schema.Vec2{60, 188}, res.Pos)
	assert.Equal(t, []string{StageGeneration}, res.Shifted)

	s, _ := g.Node(sampler)
	assert.Equal(t, 615.0, s.Pos[0])
	assertNoGroupOverlap(t, g)

	again, err := g.IntegrateNode(vae)
	require.NoError(t, err)
	assert.True(t, again.AlreadyMember)
}

func TestIntegrateNodeCreatesStageGroup(t *testing.T) {
	g := newTestGraph(t)
	addNode(t, g, "Note", 0, 0)
	save := addNode(t, g, "SaveImage", 0, 500)

	res, err := g.IntegrateNode(save)
	require.NoError(t, err)
	assert.True(t, res.GroupCreated)
	assert.Equal(t, StageOutput, res.Stage)
	require.Len(t, g.Groups(), 1)
	assert.Equal(t, "#285858", g.Groups()[0].Color)
	assert.True(t, g.Check().Valid())
}

func TestStageColor(t *testing.T) {
	assert.Equal(t, "#4A3858", StageColor("prompts"))
	assert.Equal(t, "#444444", StageColor("Misc"))
}
