package mcp

import (
	"context"
	"errors"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/rendis/nodeforge/internal/logging"
	"github.com/rendis/nodeforge/internal/store"
	"github.com/rendis/nodeforge/pkg/schema"
)

// requireStore fails the persistence tools when no store is configured.
func (s *Server) requireStore() error {
	if s.store == nil {
		return schema.NewError(schema.ErrCodeStore, "persistence is not configured").
			WithHint("start the server with a database path")
	}
	return nil
}

func (s *Server) handleSave(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if err := s.requireStore(); err != nil {
		return failure(err)
	}
	name, err := req.RequireString("name")
	if err != nil {
		return failure(schema.NewError(schema.ErrCodeValidationFailed, "name is required"))
	}
	doc, rev := s.snapshot()
	saved, err := s.store.SaveDocument(ctx, name, doc, store.SaveMeta{Revision: rev, Source: store.SourceManual})
	if err != nil {
		return failure(storeError(err))
	}
	if s.autosave != nil {
		s.autosave.MarkSaved(rev)
	}
	s.emit(ctx, schema.EventSaved, map[string]any{"name": saved.Name, "version": saved.Version, "revision": rev})
	return success(map[string]any{
		"name":     saved.Name,
		"version":  saved.Version,
		"revision": rev,
		"nodes":    saved.NodeCount,
		"links":    saved.LinkCount,
		"groups":   saved.GroupCount,
	})
}

func (s *Server) handleLoad(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if err := s.requireStore(); err != nil {
		return failure(err)
	}
	name, err := req.RequireString("name")
	if err != nil {
		return failure(schema.NewError(schema.ErrCodeValidationFailed, "name is required"))
	}
	saved, err := s.store.LoadDocument(ctx, name, req.GetInt("version", 0))
	if err != nil {
		return failure(storeError(err))
	}
	res := s.executor.Load(ctx, saved.Document, schema.EventLoaded)
	if s.autosave != nil {
		s.autosave.MarkSaved(res.Revision)
	}
	return success(map[string]any{
		"name":     saved.Name,
		"version":  saved.Version,
		"revision": res.Revision,
		"nodes":    res.Nodes,
		"links":    res.Links,
		"groups":   res.Groups,
	})
}

func (s *Server) handleListSaved(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if err := s.requireStore(); err != nil {
		return failure(err)
	}
	if name := req.GetString("name", ""); name != "" {
		versions, err := s.store.ListVersions(ctx, name)
		if err != nil {
			return failure(storeError(err))
		}
		return success(map[string]any{"name": name, "versions": versions})
	}
	docs, err := s.store.ListDocuments(ctx)
	if err != nil {
		return failure(storeError(err))
	}
	return success(map[string]any{"workflows": docs, "count": len(docs)})
}

func (s *Server) handleTransactions(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if err := s.requireStore(); err != nil {
		return failure(err)
	}
	entries, err := s.store.ListJournal(ctx, store.JournalFilter{
		Kind:  req.GetString("kind", ""),
		TxID:  req.GetString("tx_id", ""),
		Limit: req.GetInt("limit", 20),
	})
	if err != nil {
		return failure(storeError(err))
	}
	return success(map[string]any{"transactions": entries, "count": len(entries)})
}

// storeError keeps domain errors and reports the rest as STORE_ERROR.
func storeError(err error) error {
	var ge *schema.GraphError
	if errors.As(err, &ge) {
		return ge
	}
	return schema.NewError(schema.ErrCodeStore, err.Error()).WithCause(err)
}

// emit publishes a document event. Sink failures are logged only.
func (s *Server) emit(ctx context.Context, typ string, payload map[string]any) {
	if s.events == nil {
		return
	}
	ev := &schema.Event{
		Type:      typ,
		SessionID: logging.SessionID(ctx),
		Payload:   payload,
		Timestamp: time.Now().UTC(),
	}
	if err := s.events.AppendEvent(ctx, ev); err != nil {
		logging.LogWith(ctx, s.logger).Warn("event append failed", "type", typ, "error", err)
	}
}
