package store

import (
	"encoding/json"
	"time"

	"github.com/rendis/nodeforge/pkg/schema"
)

// Save sources.
const (
	SourceManual   = "manual"
	SourceAutosave = "autosave"
)

// SavedDocument is one stored version of a named document.
type SavedDocument struct {
	Name       string           `json:"name"`
	Version    int              `json:"version"`
	Document   *schema.Document `json:"document,omitempty"`
	Revision   uint64           `json:"revision"`
	NodeCount  int              `json:"node_count"`
	LinkCount  int              `json:"link_count"`
	GroupCount int              `json:"group_count"`
	Source     string           `json:"source"`
	CreatedAt  time.Time        `json:"created_at"`
}

// DocumentInfo summarizes all versions of a named document.
type DocumentInfo struct {
	Name          string    `json:"name"`
	LatestVersion int       `json:"latest_version"`
	Versions      int       `json:"versions"`
	NodeCount     int       `json:"node_count"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// JournalEntry is an immutable record of a transaction or document event.
type JournalEntry struct {
	Sequence  int64           `json:"sequence"`
	TxID      string          `json:"tx_id,omitempty"`
	SessionID string          `json:"session_id,omitempty"`
	Kind      string          `json:"kind"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// JournalFilter narrows ListJournal. Zero values match everything.
type JournalFilter struct {
	Kind  string `json:"kind,omitempty"`
	TxID  string `json:"tx_id,omitempty"`
	Since int64  `json:"since,omitempty"`
	Limit int    `json:"limit,omitempty"`
}
