package identity

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"
)

var auditBucket = []byte("identity_audit")

// AuditEntry records one identity decision so merges and conflicts can
// be reconstructed after the fact.
type AuditEntry struct {
	Decision    string    `json:"decision"`
	Source      string    `json:"source,omitempty"`
	SourceID    string    `json:"source_id,omitempty"`
	DisplayName string    `json:"display_name,omitempty"`
	PersonID    string    `json:"person_id"`
	OtherID     string    `json:"other_id,omitempty"`
	At          time.Time `json:"at"`
}

// AuditJournal is an append-only bbolt log of identity decisions.
type AuditJournal struct {
	db *bolt.DB
}

// OpenAuditJournal opens (or creates) the journal at path.
func OpenAuditJournal(path string) (*AuditJournal, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create audit directory: %w", err)
	}

	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open identity audit journal: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(auditBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize identity audit journal: %w", err)
	}
	return &AuditJournal{db: db}, nil
}

// Append writes one entry. Keys sort chronologically.
func (j *AuditJournal) Append(entry AuditEntry) error {
	if entry.At.IsZero() {
		entry.At = time.Now().UTC()
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	key := entry.At.UTC().Format(time.RFC3339Nano) + ":" + uuid.NewString()

	return j.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(auditBucket).Put([]byte(key), data)
	})
}

// Recent returns up to limit entries, newest first.
func (j *AuditJournal) Recent(limit int) ([]AuditEntry, error) {
	var entries []AuditEntry
	err := j.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(auditBucket).Cursor()
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			var entry AuditEntry
			if err := json.Unmarshal(v, &entry); err != nil {
				return err
			}
			entries = append(entries, entry)
			if limit > 0 && len(entries) >= limit {
				break
			}
		}
		return nil
	})
	return entries, err
}

// Close closes the underlying database.
func (j *AuditJournal) Close() error {
	return j.db.Close()
}
