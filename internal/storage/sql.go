package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

// sqlStore implements Store over sqlx. Queries are written with ?
// placeholders and rebound per driver, so sqlite and postgres share
// one implementation.
type sqlStore struct {
	db *sqlx.DB
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS ingest_batches (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	source     TEXT NOT NULL,
	status     TEXT NOT NULL,
	nodes      INTEGER NOT NULL DEFAULT 0,
	edges      INTEGER NOT NULL DEFAULT 0,
	error      TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMP NOT NULL
);
CREATE TABLE IF NOT EXISTS identity_conflicts (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	source     TEXT NOT NULL,
	detail     TEXT NOT NULL,
	resolved   BOOLEAN NOT NULL DEFAULT 0,
	created_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_batches_created ON ingest_batches(created_at);
CREATE INDEX IF NOT EXISTS idx_conflicts_open ON identity_conflicts(resolved, created_at);
`

const postgresSchema = `
CREATE TABLE IF NOT EXISTS ingest_batches (
	id         BIGSERIAL PRIMARY KEY,
	source     TEXT NOT NULL,
	status     TEXT NOT NULL,
	nodes      INTEGER NOT NULL DEFAULT 0,
	edges      INTEGER NOT NULL DEFAULT 0,
	error      TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL
);
CREATE TABLE IF NOT EXISTS identity_conflicts (
	id         BIGSERIAL PRIMARY KEY,
	source     TEXT NOT NULL,
	detail     TEXT NOT NULL,
	resolved   BOOLEAN NOT NULL DEFAULT FALSE,
	created_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_batches_created ON ingest_batches(created_at);
CREATE INDEX IF NOT EXISTS idx_conflicts_open ON identity_conflicts(resolved, created_at);
`

// NewSQLite opens (or creates) the local ledger database.
func NewSQLite(path string) (Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}

	db, err := sqlx.Connect("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite ledger: %w", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize sqlite schema: %w", err)
	}
	return &sqlStore{db: db}, nil
}

// NewPostgres connects to the shared ledger database.
func NewPostgres(dsn string) (Store, error) {
	db, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres ledger: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	if _, err := db.Exec(postgresSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize postgres schema: %w", err)
	}
	return &sqlStore{db: db}, nil
}

func (s *sqlStore) RecordBatch(ctx context.Context, record BatchRecord) error {
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}
	query := s.db.Rebind(`INSERT INTO ingest_batches (source, status, nodes, edges, error, created_at)
VALUES (?, ?, ?, ?, ?, ?)`)
	_, err := s.db.ExecContext(ctx, query,
		record.Source, record.Status, record.Nodes, record.Edges, record.Error, record.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to record batch: %w", err)
	}
	return nil
}

func (s *sqlStore) RecentBatches(ctx context.Context, limit int) ([]BatchRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	query := s.db.Rebind(`SELECT id, source, status, nodes, edges, error, created_at
FROM ingest_batches ORDER BY created_at DESC, id DESC LIMIT ?`)

	var records []BatchRecord
	if err := s.db.SelectContext(ctx, &records, query, limit); err != nil {
		return nil, fmt.Errorf("failed to list batches: %w", err)
	}
	return records, nil
}

func (s *sqlStore) RecordConflict(ctx context.Context, source, detail string) error {
	query := s.db.Rebind(`INSERT INTO identity_conflicts (source, detail, resolved, created_at)
VALUES (?, ?, ?, ?)`)
	_, err := s.db.ExecContext(ctx, query, source, detail, false, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to record conflict: %w", err)
	}
	return nil
}

func (s *sqlStore) OpenConflicts(ctx context.Context, limit int) ([]ConflictRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	query := s.db.Rebind(`SELECT id, source, detail, resolved, created_at
FROM identity_conflicts WHERE resolved = ? ORDER BY created_at DESC LIMIT ?`)

	var records []ConflictRecord
	if err := s.db.SelectContext(ctx, &records, query, false, limit); err != nil {
		return nil, fmt.Errorf("failed to list conflicts: %w", err)
	}
	return records, nil
}

func (s *sqlStore) ResolveConflict(ctx context.Context, id int64) error {
	query := s.db.Rebind(`UPDATE identity_conflicts SET resolved = ? WHERE id = ?`)
	res, err := s.db.ExecContext(ctx, query, true, id)
	if err != nil {
		return fmt.Errorf("failed to resolve conflict: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("conflict %d not found", id)
	}
	return nil
}

func (s *sqlStore) Close() error {
	return s.db.Close()
}
