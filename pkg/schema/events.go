package schema

import "time"

// Event type constants published on the change hub and written to the journal.
const (
	EventTxCommitted  = "tx_committed"
	EventTxRolledBack = "tx_rolled_back"
	EventTxDryRun     = "tx_dry_run"
	EventUndo         = "undo"
	EventPatched      = "document_patched"
	EventReplaced     = "document_replaced"
	EventSaved        = "document_saved"
	EventLoaded       = "document_loaded"
	EventRegistry     = "registry_reloaded"
)

// TxState is the lifecycle state of a transaction.
type TxState string

const (
	TxValidating TxState = "validating"
	TxExecuting  TxState = "executing"
	TxCommitted  TxState = "committed"
	TxRolledBack TxState = "rolled_back"
)

// Event is a single change notification.
type Event struct {
	Type      string         `json:"type"`
	TxID      string         `json:"tx_id,omitempty"`
	SessionID string         `json:"session_id,omitempty"`
	Payload   map[string]any `json:"payload,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}
