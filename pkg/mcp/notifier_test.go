package mcp

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/nodeforge/internal/streaming"
	"github.com/rendis/nodeforge/pkg/schema"
)

func TestNotifySkipsUnknownSession(t *testing.T) {
	e := newTestEnv(t, false)
	n := NewChangeNotifier(e.server)

	assert.NoError(t, n.Notify(context.Background(), "never-seen", map[string]any{"x": 1}))
}

func TestBroadcastDropsExpiredSessions(t *testing.T) {
	e := newTestEnv(t, false)
	n := NewChangeNotifier(e.server)

	// Neither session is connected to the MCP server, so sends fail with
	// session-not-found and the registry forgets them.
	e.server.Sessions().Touch("origin")
	e.server.Sessions().Touch("other")

	n.Broadcast(context.Background(), schema.Event{
		Type:      schema.EventTxCommitted,
		TxID:      "tx-1",
		SessionID: "origin",
		Timestamp: time.Now().UTC(),
	})

	assert.True(t, e.server.Sessions().Has("origin"), "the originating session is skipped")
	assert.False(t, e.server.Sessions().Has("other"))
}

func TestForwardRelaysHubEvents(t *testing.T) {
	e := newTestEnv(t, false)
	n := NewChangeNotifier(e.server)
	hub := streaming.NewMemoryHub()
	e.server.Sessions().Touch("stale")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- n.Forward(ctx, hub) }()

	require.Eventually(t, func() bool { return hub.Subscribers() == 1 }, time.Second, 10*time.Millisecond)
	require.NoError(t, hub.Publish(ctx, schema.Event{Type: schema.EventUndo, Timestamp: time.Now().UTC()}))
	assert.Eventually(t, func() bool { return !e.server.Sessions().Has("stale") }, time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Forward did not return after cancel")
	}
}
