package engine

import (
	"context"
	"time"

	"github.com/rendis/nodeforge/internal/graph"
	"github.com/rendis/nodeforge/internal/logging"
	"github.com/rendis/nodeforge/internal/patch"
	"github.com/rendis/nodeforge/pkg/schema"
)

// UndoResult reports an undo.
type UndoResult struct {
	Undone    int      `json:"undone"`
	Labels    []string `json:"labels"`
	Remaining int      `json:"remaining"`
	Revision  uint64   `json:"revision"`
}

// Undo restores the document from before the last count committed
// transactions. count is clamped to the available history.
func (e *Executor) Undo(ctx context.Context, count int) (*UndoResult, error) {
	if count < 1 {
		count = 1
	}
	var res *UndoResult
	err := e.store.Write(func(g *graph.Graph) error {
		doc, labels, ok := e.history.Pop(count)
		if !ok {
			return schema.NewError(schema.ErrCodeNotFound, "nothing to undo").
				WithHint("only committed transactions and patches are recorded")
		}
		// Ids handed out since the snapshot stay used.
		node, link := g.NextIDs()
		doc.NextNodeID = max(doc.NextNodeID, node)
		doc.NextLinkID = max(doc.NextLinkID, link)
		g.Restore(doc)
		g.ResetChanges()
		res = &UndoResult{Undone: len(labels), Labels: labels, Remaining: e.history.Len(), Revision: g.Revision()}
		e.publishSize(g)
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.metrics.ObserveUndo(res.Undone)
	e.emit(ctx, schema.EventUndo, map[string]any{"undone": res.Undone, "labels": res.Labels, "revision": res.Revision})
	logging.LogWith(ctx, e.logger).Info("undo applied", "undone", res.Undone, "remaining", res.Remaining)
	return res, nil
}

// DocumentResult reports a whole-document change. Warnings lists invariant
// violations found in a patched document; they do not block the change.
type DocumentResult struct {
	Revision uint64                   `json:"revision"`
	Nodes    int                      `json:"nodes"`
	Links    int                      `json:"links"`
	Groups   int                      `json:"groups"`
	Issues   *schema.ValidationResult `json:"issues,omitempty"`
}

// ApplyPatch applies RFC 6902 operations to the serialized document. The
// patch is atomic and can be undone.
func (e *Executor) ApplyPatch(ctx context.Context, ops []patch.Operation) (*DocumentResult, error) {
	var res *DocumentResult
	err := e.store.Write(func(g *graph.Graph) error {
		before := g.Serialize()
		next, err := patch.Apply(before, ops)
		if err != nil {
			return err
		}
		g.Restore(next)
		g.ResetChanges()
		e.history.Push(before, "patch_workflow_json")
		res = e.documentResult(g)
		if issues := g.Check(); len(issues.Errors) > 0 {
			res.Issues = issues
		}
		return nil
	})
	e.metrics.ObserveDocumentOp("patch", err)
	if err != nil {
		return nil, err
	}
	e.emit(ctx, schema.EventPatched, map[string]any{"operations": len(ops), "revision": res.Revision})
	return res, nil
}

// Replace swaps the whole document for payload after schema validation.
// The undo history is cleared.
func (e *Executor) Replace(ctx context.Context, payload any) (*DocumentResult, error) {
	doc, err := patch.Replace(e.schemas, payload)
	if err != nil {
		e.metrics.ObserveDocumentOp("replace", err)
		return nil, err
	}
	res := e.Load(ctx, doc, schema.EventReplaced)
	e.metrics.ObserveDocumentOp("replace", nil)
	return res, nil
}

// Load installs doc as the current document, clears the undo history and
// publishes event (document_loaded when empty).
func (e *Executor) Load(ctx context.Context, doc *schema.Document, event string) *DocumentResult {
	if event == "" {
		event = schema.EventLoaded
	}
	var res *DocumentResult
	e.store.Update(func(g *graph.Graph) {
		g.Restore(doc)
		g.ResetChanges()
		e.history.Clear()
		res = e.documentResult(g)
	})
	e.emit(ctx, event, map[string]any{"nodes": res.Nodes, "links": res.Links, "groups": res.Groups, "revision": res.Revision})
	return res
}

func (e *Executor) documentResult(g *graph.Graph) *DocumentResult {
	e.publishSize(g)
	return &DocumentResult{
		Revision: g.Revision(),
		Nodes:    g.NodeCount(),
		Links:    g.LinkCount(),
		Groups:   len(g.Groups()),
	}
}

// emit publishes a non-transaction event. Sink failures are logged only.
func (e *Executor) emit(ctx context.Context, typ string, payload map[string]any) {
	if e.events == nil {
		return
	}
	ev := &schema.Event{
		Type:      typ,
		SessionID: logging.SessionID(ctx),
		Payload:   payload,
		Timestamp: time.Now().UTC(),
	}
	if err := e.events.AppendEvent(ctx, ev); err != nil {
		logging.LogWith(ctx, e.logger).Warn("event not recorded", "type", typ, "error", err)
	}
}
