// Package postgres provides a Postgres-backed index sink.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/signac-index/internal/document"
)

const defaultTable = "signac_index"

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config controls the Postgres connection pool used for index rows.
type Config struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type pool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	SendBatch(context.Context, *pgx.Batch) pgx.BatchResults
	Close()
}

// Sink upserts index documents into a table of (id TEXT, doc JSONB) rows.
type Sink struct {
	pool  pool
	table string
}

// New creates a Postgres-backed Sink using the provided config.
func New(ctx context.Context, cfg Config) (*Sink, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("sink.dsn is required")
	}
	table, err := tableName(cfg.Table)
	if err != nil {
		return nil, err
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Sink{pool: p, table: table}, nil
}

// NewWithPool constructs a sink from an existing pool (primarily for testing).
func NewWithPool(p pool, table string) (*Sink, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	table, err := tableName(table)
	if err != nil {
		return nil, err
	}
	return &Sink{pool: p, table: table}, nil
}

func tableName(table string) (string, error) {
	if table == "" {
		table = defaultTable
	}
	if !validTableName.MatchString(table) {
		return "", fmt.Errorf("invalid table name %q", table)
	}
	return table, nil
}

// Close releases the underlying pool resources.
func (s *Sink) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// EnsureSchema creates the index table when missing.
func (s *Sink) EnsureSchema(ctx context.Context) error {
	query := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (id TEXT PRIMARY KEY, doc JSONB NOT NULL)`, s.table)
	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("create index table: %w", err)
	}
	return nil
}

func (s *Sink) upsertQuery() string {
	return fmt.Sprintf(`
INSERT INTO %s (id, doc) VALUES ($1, $2)
ON CONFLICT (id) DO UPDATE SET doc = EXCLUDED.doc`, s.table)
}

// ReplaceOne implements index.Sink.
func (s *Sink) ReplaceOne(ctx context.Context, id string, doc document.Document) error {
	if id == "" {
		return fmt.Errorf("document id is required")
	}
	blob, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal document %s: %w", id, err)
	}
	if _, err := s.pool.Exec(ctx, s.upsertQuery(), id, blob); err != nil {
		return fmt.Errorf("upsert document %s: %w", id, err)
	}
	return nil
}

// BulkReplace implements index.BulkSink with a single batch round trip.
func (s *Sink) BulkReplace(ctx context.Context, entries []document.Entry) (err error) {
	if len(entries) == 0 {
		return nil
	}
	query := s.upsertQuery()
	batch := &pgx.Batch{}
	for _, e := range entries {
		blob, err := json.Marshal(e.Doc)
		if err != nil {
			return fmt.Errorf("marshal document %s: %w", e.ID, err)
		}
		batch.Queue(query, e.ID, blob)
	}
	results := s.pool.SendBatch(ctx, batch)
	defer func() {
		if closeErr := results.Close(); closeErr != nil && err == nil {
			err = fmt.Errorf("close batch: %w", closeErr)
		}
	}()
	for _, e := range entries {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("upsert document %s: %w", e.ID, err)
		}
	}
	return nil
}
