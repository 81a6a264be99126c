package storage

import (
	"context"
	"time"
)

// BatchRecord is one row of the ingestion ledger.
type BatchRecord struct {
	ID        int64     `db:"id" json:"id"`
	Source    string    `db:"source" json:"source"`
	Status    string    `db:"status" json:"status"` // committed, failed, rejected
	Nodes     int       `db:"nodes" json:"nodes"`
	Edges     int       `db:"edges" json:"edges"`
	Error     string    `db:"error" json:"error,omitempty"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// ConflictRecord is a logged identity conflict awaiting human review.
type ConflictRecord struct {
	ID        int64     `db:"id" json:"id"`
	Source    string    `db:"source" json:"source"`
	Detail    string    `db:"detail" json:"detail"`
	Resolved  bool      `db:"resolved" json:"resolved"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// Store is the relational ledger beside the graph: which batches were
// ingested with what outcome, and which identity conflicts are open.
// The graph itself never lives here.
type Store interface {
	RecordBatch(ctx context.Context, record BatchRecord) error
	RecentBatches(ctx context.Context, limit int) ([]BatchRecord, error)

	RecordConflict(ctx context.Context, source, detail string) error
	OpenConflicts(ctx context.Context, limit int) ([]ConflictRecord, error)
	ResolveConflict(ctx context.Context, id int64) error

	Close() error
}
