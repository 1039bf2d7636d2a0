package diagram

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/nodeforge/internal/graph"
	"github.com/rendis/nodeforge/internal/registry"
	"github.com/rendis/nodeforge/pkg/schema"
)

// --- Test document builders ---

func testRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	reg, err := registry.New(slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	return reg
}

// pipelineDoc builds checkpoint -> prompt -> VAEDecode -> SaveImage with the
// checkpoint and prompt grouped and the save node bypassed.
func pipelineDoc(t *testing.T, reg *registry.Registry) *schema.Document {
	t.Helper()
	g := graph.New(reg, graph.Options{})
	ctx := context.Background()
	add := func(typ, title string) int {
		res, err := g.CreateNode(ctx, graph.NodeSpec{Type: typ, Title: title})
		require.NoError(t, err)
		return res.NodeID
	}
	link := func(from, fromSlot, to, toSlot int) {
		_, err := g.CreateLink(graph.LinkSpec{
			OriginID: from, OriginSlot: graph.SlotIndex(fromSlot),
			TargetID: to, TargetSlot: graph.SlotIndex(toSlot),
		})
		require.NoError(t, err)
	}

	ckpt := add("CheckpointLoaderSimple", "")
	prompt := add("CLIPTextEncode", "Positive")
	decode := add("VAEDecode", "")
	save := add("SaveImage", "")
	link(ckpt, 1, prompt, 0)
	link(ckpt, 2, decode, 1)
	link(decode, 0, save, 0)
	_, err := g.SetMode([]int{save}, true)
	require.NoError(t, err)
	_, err = g.CreateGroup(graph.GroupSpec{Title: "Setup", Color: "#3f789e", Nodes: []int{ckpt, prompt}})
	require.NoError(t, err)
	return g.Serialize()
}

func findModelNode(model *DiagramModel, id string) *Node {
	for _, n := range model.Nodes {
		if n.ID == id {
			return n
		}
	}
	return nil
}

// --- Tests ---

func TestBuildPipeline(t *testing.T) {
	reg := testRegistry(t)
	model, err := Build(context.Background(), pipelineDoc(t, reg), reg, "txt2img")
	require.NoError(t, err)

	assert.Equal(t, "txt2img", model.Title)
	require.Len(t, model.Nodes, 4)
	assert.Len(t, model.Edges, 3)

	ckpt := findModelNode(model, "n1")
	require.NotNil(t, ckpt)
	assert.Equal(t, NodeKindSource, ckpt.Kind)
	assert.Equal(t, "#1 CheckpointLoaderSimple", ckpt.Label)
	assert.Equal(t, "group_0", ckpt.Cluster)

	prompt := findModelNode(model, "n2")
	assert.Equal(t, NodeKindProcess, prompt.Kind)
	assert.Equal(t, "#2 Positive\n(CLIPTextEncode)", prompt.Label)

	save := findModelNode(model, "n4")
	assert.Equal(t, NodeKindOutput, save.Kind)
	assert.True(t, save.Bypassed)
	assert.Empty(t, save.Cluster)

	decode := findModelNode(model, "n3")
	assert.Equal(t, 1, decode.Issues, "samples input is unbound")

	require.Len(t, model.Clusters, 1)
	assert.Equal(t, []string{"n1", "n2"}, model.Clusters[0].NodeIDs)
	assert.Contains(t, model.Edges, Edge{From: "n1", To: "n2", Label: "CLIP"})

	require.NotEmpty(t, model.Levels)
	assert.Equal(t, []string{"n1"}, model.Levels[0])
}

func TestBuildDefaultsAndEmpty(t *testing.T) {
	model, err := Build(context.Background(), nil, testRegistry(t), "")
	require.NoError(t, err)
	assert.Equal(t, "Workflow", model.Title)
	assert.Empty(t, model.Nodes)
	assert.Empty(t, model.Levels)
}

func TestBuildUnknownTypeAndCycle(t *testing.T) {
	l1, l2 := 1, 2
	doc := &schema.Document{
		Nodes: []*schema.Node{
			{ID: 1, Type: "Reroute", Inputs: []schema.InputSlot{{Name: "input", Type: "*", Link: &l2}},
				Outputs: []schema.OutputSlot{{Name: "output", Type: "*", Links: []int{1}}}},
			{ID: 2, Type: "Reroute", Inputs: []schema.InputSlot{{Name: "input", Type: "*", Link: &l1}},
				Outputs: []schema.OutputSlot{{Name: "output", Type: "*", Links: []int{2}}}},
			{ID: 3, Type: "Mystery"},
		},
		Links: []*schema.Link{
			{ID: 1, OriginID: 1, TargetID: 2, Type: "*"},
			{ID: 2, OriginID: 2, TargetID: 1, Type: "*"},
		},
	}
	model, err := Build(context.Background(), doc, testRegistry(t), "loop")
	require.NoError(t, err)
	assert.Empty(t, model.Levels, "cyclic documents have no levels")
	assert.Equal(t, NodeKindUnknown, findModelNode(model, "n3").Kind)
	assert.Len(t, model.Edges, 2)
}

func TestBuildCanceled(t *testing.T) {
	reg := testRegistry(t)
	doc := pipelineDoc(t, reg)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Build(ctx, doc, reg, "")
	assert.Error(t, err)
}
