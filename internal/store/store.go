package store

import (
	"context"

	"github.com/rendis/nodeforge/pkg/schema"
)

// Store defines the persistence layer contract.
// All implementations must be safe for concurrent use.
type Store interface {
	// Documents. Each save appends a new version; version 0 loads the latest.
	SaveDocument(ctx context.Context, name string, doc *schema.Document, meta SaveMeta) (*SavedDocument, error)
	LoadDocument(ctx context.Context, name string, version int) (*SavedDocument, error)
	ListDocuments(ctx context.Context) ([]*DocumentInfo, error)
	ListVersions(ctx context.Context, name string) ([]*SavedDocument, error)
	DeleteDocument(ctx context.Context, name string) error

	// Journal (append-only)
	AppendJournal(ctx context.Context, entry *JournalEntry) error
	ListJournal(ctx context.Context, filter JournalFilter) ([]*JournalEntry, error)

	// Maintenance
	Migrate(ctx context.Context) error
	Vacuum(ctx context.Context) error

	// Lifecycle
	Close() error
}

// SaveMeta carries bookkeeping stored alongside a document version.
type SaveMeta struct {
	Revision uint64
	Source   string
}
