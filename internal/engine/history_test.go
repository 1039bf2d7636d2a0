package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/rendis/nodeforge/pkg/schema"
)

func docWith(ids ...int) *schema.Document {
	doc := &schema.Document{}
	for _, id := range ids {
		doc.Nodes = append(doc.Nodes, &schema.Node{ID: id, Type: "Note"})
	}
	return doc
}

func TestHistoryPushPop(t *testing.T) {
	h := NewHistory(3)
	_, _, ok := h.Pop(1)
	assert.False(t, ok)

	h.Push(docWith(), "a")
	h.Push(docWith(1), "b")
	h.Push(docWith(1, 2), "c")
	assert.Equal(t, []string{"c", "b", "a"}, h.Labels())

	doc, labels, ok := h.Pop(2)
	assert.True(t, ok)
	assert.Equal(t, []string{"c", "b"}, labels)
	assert.Len(t, doc.Nodes, 1)
	assert.Equal(t, 1, h.Len())
}

func TestHistoryDropsOldest(t *testing.T) {
	h := NewHistory(2)
	h.Push(docWith(), "a")
	h.Push(docWith(1), "b")
	h.Push(docWith(1, 2), "c")
	assert.Equal(t, []string{"c", "b"}, h.Labels())

	doc, labels, ok := h.Pop(10)
	assert.True(t, ok)
	assert.Equal(t, []string{"c", "b"}, labels)
	assert.Len(t, doc.Nodes, 1)
	assert.Zero(t, h.Len())
}

func TestHistoryDefaultsAndClear(t *testing.T) {
	h := NewHistory(0)
	for i := 0; i < DefaultUndoDepth+5; i++ {
		h.Push(docWith(), "step")
	}
	assert.Equal(t, DefaultUndoDepth, h.Len())

	_, _, ok := h.Pop(0)
	assert.False(t, ok)

	h.Clear()
	assert.Zero(t, h.Len())
}
