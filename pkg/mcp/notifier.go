package mcp

import (
	"context"
	"errors"
	"log/slog"

	"github.com/mark3labs/mcp-go/server"

	"github.com/rendis/nodeforge/internal/logging"
	"github.com/rendis/nodeforge/internal/streaming"
	"github.com/rendis/nodeforge/pkg/schema"
)

// ChangeMethod is the notification method used for document change events.
const ChangeMethod = "notifications/message"

// SessionNotifier pushes notifications to connected sessions.
type SessionNotifier interface {
	Notify(ctx context.Context, sessionID string, payload map[string]any) error
}

// ChangeNotifier tells every connected session, except the one that made a
// change, that the document changed.
type ChangeNotifier struct {
	mcpServer *server.MCPServer
	sessions  *SessionRegistry
	logger    *slog.Logger
}

// NewChangeNotifier creates a notifier for the server's sessions.
func NewChangeNotifier(s *Server) *ChangeNotifier {
	return &ChangeNotifier{mcpServer: s.mcpServer, sessions: s.sessions, logger: s.logger}
}

// Notify sends a notification to one session.
// Best-effort: returns nil if the session is gone.
func (n *ChangeNotifier) Notify(_ context.Context, sessionID string, payload map[string]any) error {
	if !n.sessions.Has(sessionID) {
		return nil
	}
	err := n.mcpServer.SendNotificationToSpecificClient(sessionID, ChangeMethod, payload)
	if errors.Is(err, server.ErrSessionNotFound) {
		// Session expired between lookup and send.
		n.sessions.Remove(sessionID)
		return nil
	}
	return err
}

// Broadcast notifies every session other than the event's origin.
func (n *ChangeNotifier) Broadcast(ctx context.Context, event schema.Event) {
	payload := map[string]any{
		"level":  "info",
		"logger": "nodeforge",
		"data": map[string]any{
			"type":      event.Type,
			"tx_id":     event.TxID,
			"payload":   event.Payload,
			"timestamp": event.Timestamp,
		},
	}
	for _, id := range n.sessions.IDs() {
		if id == event.SessionID {
			continue
		}
		if err := n.Notify(ctx, id, payload); err != nil {
			logging.LogWith(ctx, n.logger).Warn("change notification failed", "session", id, "error", err)
		}
	}
}

// Forward relays hub events until ctx is cancelled.
func (n *ChangeNotifier) Forward(ctx context.Context, hub streaming.EventHub) error {
	ch, cancel, err := hub.Subscribe(ctx, streaming.EventFilter{})
	if err != nil {
		return err
	}
	defer cancel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-ch:
			if !ok {
				return nil
			}
			n.Broadcast(ctx, ev)
		}
	}
}
