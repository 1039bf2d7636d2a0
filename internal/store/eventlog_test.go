package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/nodeforge/pkg/schema"
)

func TestJournalAppendEvent(t *testing.T) {
	s := newTestStore(t)
	j := NewJournal(s)
	ctx := context.Background()

	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, j.AppendEvent(ctx, &schema.Event{
		Type:      schema.EventTxCommitted,
		TxID:      "tx-a",
		SessionID: "sess",
		Payload:   map[string]any{"commands": 2, "tools": []string{"create_node", "create_node_link"}},
		Timestamp: ts,
	}))
	require.NoError(t, j.AppendEvent(ctx, &schema.Event{Type: schema.EventUndo, TxID: "tx-b"}))
	require.NoError(t, j.AppendEvent(ctx, nil))

	recent, err := j.Recent(ctx, "", 10)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, schema.EventUndo, recent[0].Kind)
	assert.Nil(t, recent[0].Payload)

	entries, err := j.Transaction(ctx, "tx-a")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "sess", entries[0].SessionID)
	assert.True(t, ts.Equal(entries[0].CreatedAt))
	assert.JSONEq(t, `{"commands":2,"tools":["create_node","create_node_link"]}`, string(entries[0].Payload))

	_, err = j.Transaction(ctx, "tx-none")
	assert.True(t, schema.HasCode(err, schema.ErrCodeNotFound))
}

func TestJournalTransactionOrder(t *testing.T) {
	s := newTestStore(t)
	j := NewJournal(s)
	ctx := context.Background()

	for _, kind := range []string{"first", "second", "third"} {
		require.NoError(t, j.AppendEvent(ctx, &schema.Event{Type: kind, TxID: "tx"}))
	}
	entries, err := j.Transaction(ctx, "tx")
	require.NoError(t, err)
	kinds := make([]string, len(entries))
	for i, e := range entries {
		kinds[i] = e.Kind
	}
	assert.Equal(t, []string{"first", "second", "third"}, kinds)
}
