package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rendis/nodeforge/pkg/schema"
)

// Journal records change events in a Store. It satisfies the transaction
// state machine's event sink.
type Journal struct {
	store Store
}

// NewJournal wraps s.
func NewJournal(s Store) *Journal {
	return &Journal{store: s}
}

// AppendEvent converts event into a journal entry and appends it.
func (j *Journal) AppendEvent(ctx context.Context, event *schema.Event) error {
	if event == nil {
		return nil
	}
	var payload json.RawMessage
	if len(event.Payload) > 0 {
		b, err := json.Marshal(event.Payload)
		if err != nil {
			return fmt.Errorf("marshal journal payload: %w", err)
		}
		payload = b
	}
	return j.store.AppendJournal(ctx, &JournalEntry{
		TxID:      event.TxID,
		SessionID: event.SessionID,
		Kind:      event.Type,
		Payload:   payload,
		CreatedAt: event.Timestamp,
	})
}

// Recent returns the newest limit entries, optionally of one kind.
func (j *Journal) Recent(ctx context.Context, kind string, limit int) ([]*JournalEntry, error) {
	return j.store.ListJournal(ctx, JournalFilter{Kind: kind, Limit: limit})
}

// Transaction returns every entry recorded for txID in append order.
func (j *Journal) Transaction(ctx context.Context, txID string) ([]*JournalEntry, error) {
	entries, err := j.store.ListJournal(ctx, JournalFilter{TxID: txID})
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, storeNotFound("transaction", txID)
	}
	for i, k := 0, len(entries)-1; i < k; i, k = i+1, k-1 {
		entries[i], entries[k] = entries[k], entries[i]
	}
	return entries, nil
}
