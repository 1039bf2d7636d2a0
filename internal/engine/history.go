package engine

import (
	"sync"

	"github.com/rendis/nodeforge/pkg/schema"
)

// DefaultUndoDepth is the number of undo steps kept.
const DefaultUndoDepth = 20

// History is a bounded stack of pre-transaction snapshots. The oldest entry
// is dropped when the stack is full.
type History struct {
	mu      sync.Mutex
	depth   int
	entries []historyEntry
}

type historyEntry struct {
	doc   *schema.Document
	label string
}

// NewHistory creates a History keeping at most depth snapshots.
func NewHistory(depth int) *History {
	if depth <= 0 {
		depth = DefaultUndoDepth
	}
	return &History{depth: depth}
}

// Push records the document as it was before a change labeled label.
func (h *History) Push(doc *schema.Document, label string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.entries = append(h.entries, historyEntry{doc: doc, label: label})
	if over := len(h.entries) - h.depth; over > 0 {
		h.entries = append([]historyEntry(nil), h.entries[over:]...)
	}
}

// Pop removes up to n entries and returns the oldest one removed together
// with the labels of every removed step, newest first. ok is false when the
// history is empty.
func (h *History) Pop(n int) (doc *schema.Document, labels []string, ok bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.entries) == 0 || n <= 0 {
		return nil, nil, false
	}
	n = min(n, len(h.entries))
	cut := len(h.entries) - n
	for i := len(h.entries) - 1; i >= cut; i-- {
		labels = append(labels, h.entries[i].label)
	}
	e := h.entries[cut]
	h.entries = h.entries[:cut]
	return e.doc, labels, true
}

// Len returns the number of available undo steps.
func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.entries)
}

// Labels returns the step labels, newest first.
func (h *History) Labels() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]string, 0, len(h.entries))
	for i := len(h.entries) - 1; i >= 0; i-- {
		out = append(out, h.entries[i].label)
	}
	return out
}

// Clear drops every entry.
func (h *History) Clear() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.entries = nil
}
