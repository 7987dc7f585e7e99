// Package sqlite provides a SQLite-backed index sink.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/JakeFAU/signac-index/internal/document"
)

const defaultTable = "signac_index"

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// ErrNotFound is returned by Get for unknown ids.
var ErrNotFound = errors.New("sqlite: document not found")

// Sink stores index documents as JSON text keyed by id.
type Sink struct {
	db    *sql.DB
	table string
}

// Open opens (creating if needed) the database at dsn and ensures the index
// table exists.
func Open(ctx context.Context, dsn, table string) (*Sink, error) {
	if dsn == "" {
		return nil, fmt.Errorf("sink.dsn is required")
	}
	if table == "" {
		table = defaultTable
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	s := &Sink{db: db, table: table}
	query := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (id TEXT PRIMARY KEY, doc TEXT NOT NULL)`, table)
	if _, err := db.ExecContext(ctx, query); err != nil {
		db.Close() //nolint:errcheck,gosec // already failing
		return nil, fmt.Errorf("creating index table: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Sink) Close() error {
	return s.db.Close()
}

func (s *Sink) upsertQuery() string {
	return fmt.Sprintf(`INSERT OR REPLACE INTO %s (id, doc) VALUES (?, ?)`, s.table)
}

// ReplaceOne implements index.Sink.
func (s *Sink) ReplaceOne(ctx context.Context, id string, doc document.Document) error {
	blob, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshalling document %s: %w", id, err)
	}
	if _, err := s.db.ExecContext(ctx, s.upsertQuery(), id, string(blob)); err != nil {
		return fmt.Errorf("saving document %s: %w", id, err)
	}
	return nil
}

// BulkReplace implements index.BulkSink in one transaction.
func (s *Sink) BulkReplace(ctx context.Context, entries []document.Entry) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx, s.upsertQuery())
	if err != nil {
		return fmt.Errorf("preparing statement: %w", err)
	}
	defer stmt.Close()

	for _, e := range entries {
		blob, err := json.Marshal(e.Doc)
		if err != nil {
			return fmt.Errorf("marshalling document %s: %w", e.ID, err)
		}
		if _, err := stmt.ExecContext(ctx, e.ID, string(blob)); err != nil {
			return fmt.Errorf("saving document %s: %w", e.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// Get returns the document stored under id.
func (s *Sink) Get(ctx context.Context, id string) (document.Document, error) {
	var blob string
	query := fmt.Sprintf(`SELECT doc FROM %s WHERE id = ?`, s.table)
	if err := s.db.QueryRowContext(ctx, query, id).Scan(&blob); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return nil, fmt.Errorf("loading document %s: %w", id, err)
	}
	var doc document.Document
	if err := json.Unmarshal([]byte(blob), &doc); err != nil {
		return nil, fmt.Errorf("decoding document %s: %w", id, err)
	}
	return doc, nil
}

// Count returns the number of stored documents.
func (s *Sink) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, fmt.Sprintf(`SELECT COUNT(*) FROM %s`, s.table)).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting documents: %w", err)
	}
	return n, nil
}
