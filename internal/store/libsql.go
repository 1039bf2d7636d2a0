package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/tursodatabase/go-libsql"

	"github.com/rendis/nodeforge/pkg/schema"
)

// LibSQLStore implements the Store interface using libSQL (embedded SQLite fork).
type LibSQLStore struct {
	db *sql.DB
}

// NewLibSQLStore opens a libSQL database at the given path and returns a Store.
// The path should be a file URI, e.g. "file:/path/to/db.db".
func NewLibSQLStore(dbPath string) (*LibSQLStore, error) {
	db, err := sql.Open("libsql", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open libsql: %w", err)
	}
	db.SetMaxOpenConns(1)

	// Some PRAGMAs return rows so we use QueryRow.
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA temp_store=MEMORY",
	}
	for _, p := range pragmas {
		var result string
		_ = db.QueryRow(p).Scan(&result)
	}

	return &LibSQLStore{db: db}, nil
}

// DB returns the underlying *sql.DB.
func (s *LibSQLStore) DB() *sql.DB { return s.db }

// Close closes the database.
func (s *LibSQLStore) Close() error { return s.db.Close() }

// Migrate runs all pending database migrations.
func (s *LibSQLStore) Migrate(ctx context.Context) error {
	return runMigrations(ctx, s.db)
}

// Vacuum runs VACUUM on the database.
func (s *LibSQLStore) Vacuum(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, "VACUUM")
	return err
}

// --- Documents ---

// SaveDocument stores doc as the next version of name.
func (s *LibSQLStore) SaveDocument(ctx context.Context, name string, doc *schema.Document, meta SaveMeta) (*SavedDocument, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, schema.NewError(schema.ErrCodeValidationFailed, "document name is required")
	}
	if doc == nil {
		return nil, schema.NewError(schema.ErrCodeValidationFailed, "document is nil")
	}
	body, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("marshal document: %w", err)
	}
	if meta.Source == "" {
		meta.Source = SourceManual
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin save: %w", err)
	}
	defer tx.Rollback()

	var version int
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(version), 0) + 1 FROM documents WHERE name = ?`, name,
	).Scan(&version); err != nil {
		return nil, fmt.Errorf("next version: %w", err)
	}

	saved := &SavedDocument{
		Name:       name,
		Version:    version,
		Document:   doc,
		Revision:   meta.Revision,
		NodeCount:  len(doc.Nodes),
		LinkCount:  len(doc.Links),
		GroupCount: len(doc.Groups),
		Source:     meta.Source,
		CreatedAt:  time.Now().UTC(),
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO documents (name, version, body, revision, node_count, link_count, group_count, source, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		saved.Name, saved.Version, string(body), int64(saved.Revision),
		saved.NodeCount, saved.LinkCount, saved.GroupCount, saved.Source, saved.CreatedAt,
	); err != nil {
		return nil, fmt.Errorf("insert document: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit save: %w", err)
	}
	return saved, nil
}

// LoadDocument returns one version of name, or the latest when version <= 0.
func (s *LibSQLStore) LoadDocument(ctx context.Context, name string, version int) (*SavedDocument, error) {
	query := `SELECT name, version, body, revision, node_count, link_count, group_count, source, created_at
		FROM documents WHERE name = ?`
	args := []any{name}
	if version > 0 {
		query += " AND version = ?"
		args = append(args, version)
	} else {
		query += " ORDER BY version DESC LIMIT 1"
	}

	d := &SavedDocument{}
	var body string
	var revision int64
	err := s.db.QueryRowContext(ctx, query, args...).Scan(
		&d.Name, &d.Version, &body, &revision, &d.NodeCount, &d.LinkCount, &d.GroupCount, &d.Source, &d.CreatedAt)
	if err == sql.ErrNoRows {
		if version > 0 {
			return nil, storeNotFound("document", fmt.Sprintf("%s@v%d", name, version))
		}
		return nil, storeNotFound("document", name)
	}
	if err != nil {
		return nil, err
	}
	d.Revision = uint64(revision)
	d.Document = &schema.Document{}
	if err := json.Unmarshal([]byte(body), d.Document); err != nil {
		return nil, fmt.Errorf("unmarshal document %s@v%d: %w", d.Name, d.Version, err)
	}
	return d, nil
}

// ListDocuments summarizes every stored name, most recently updated first.
func (s *LibSQLStore) ListDocuments(ctx context.Context) ([]*DocumentInfo, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT d.name, d.version, c.versions, d.node_count, d.created_at
		 FROM documents d
		 JOIN (SELECT name, MAX(version) AS latest, COUNT(*) AS versions FROM documents GROUP BY name) c
		   ON c.name = d.name AND c.latest = d.version
		 ORDER BY d.created_at DESC, d.name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*DocumentInfo
	for rows.Next() {
		info := &DocumentInfo{}
		if err := rows.Scan(&info.Name, &info.LatestVersion, &info.Versions, &info.NodeCount, &info.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, info)
	}
	return out, rows.Err()
}

// ListVersions returns version metadata for name, newest first. Documents
// are not decoded.
func (s *LibSQLStore) ListVersions(ctx context.Context, name string) ([]*SavedDocument, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT name, version, revision, node_count, link_count, group_count, source, created_at
		 FROM documents WHERE name = ? ORDER BY version DESC`, name)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*SavedDocument
	for rows.Next() {
		d := &SavedDocument{}
		var revision int64
		if err := rows.Scan(&d.Name, &d.Version, &revision, &d.NodeCount, &d.LinkCount, &d.GroupCount, &d.Source, &d.CreatedAt); err != nil {
			return nil, err
		}
		d.Revision = uint64(revision)
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, storeNotFound("document", name)
	}
	return out, nil
}

// DeleteDocument removes every version of name.
func (s *LibSQLStore) DeleteDocument(ctx context.Context, name string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE name = ?`, name)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "document", name)
}

// --- Journal ---

// AppendJournal appends entry and sets its sequence.
func (s *LibSQLStore) AppendJournal(ctx context.Context, entry *JournalEntry) error {
	if entry.Kind == "" {
		return schema.NewError(schema.ErrCodeValidationFailed, "journal entry kind is required")
	}
	entry.CreatedAt = timeOrNow(entry.CreatedAt)
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO journal (tx_id, session_id, kind, payload, created_at) VALUES (?, ?, ?, ?, ?)`,
		nullStr(entry.TxID), nullStr(entry.SessionID), entry.Kind, nullRaw(entry.Payload), entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert journal entry: %w", err)
	}
	seq, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("journal sequence: %w", err)
	}
	entry.Sequence = seq
	return nil
}

// ListJournal returns matching entries, newest first.
func (s *LibSQLStore) ListJournal(ctx context.Context, filter JournalFilter) ([]*JournalEntry, error) {
	var where []string
	var args []any
	if filter.Kind != "" {
		where = append(where, "kind = ?")
		args = append(args, filter.Kind)
	}
	if filter.TxID != "" {
		where = append(where, "tx_id = ?")
		args = append(args, filter.TxID)
	}
	if filter.Since > 0 {
		where = append(where, "sequence > ?")
		args = append(args, filter.Since)
	}

	query := "SELECT sequence, tx_id, session_id, kind, payload, created_at FROM journal"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY sequence DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*JournalEntry
	for rows.Next() {
		e := &JournalEntry{}
		var txID, sessionID, payload sql.NullString
		if err := rows.Scan(&e.Sequence, &txID, &sessionID, &e.Kind, &payload, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.TxID, e.SessionID = txID.String, sessionID.String
		e.Payload = rawOrNil(payload)
		out = append(out, e)
	}
	return out, rows.Err()
}

// --- Helpers ---

func storeNotFound(resource, id string) *schema.GraphError {
	return schema.NewErrorf(schema.ErrCodeNotFound, "%s %q not found", resource, id).
		WithDetails(map[string]any{"resource": resource, "id": id})
}

func checkRowsAffected(res sql.Result, resource, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return storeNotFound(resource, id)
	}
	return nil
}

func timeOrNow(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullRaw(r json.RawMessage) any {
	if len(r) == 0 {
		return nil
	}
	return string(r)
}

func rawOrNil(ns sql.NullString) json.RawMessage {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	return json.RawMessage(ns.String)
}
