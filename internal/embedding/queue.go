package embedding

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
)

var pendingBucket = []byte("pending_embeddings")

// Queue is a bbolt-backed set of node IDs awaiting (re-)embedding.
// Survives restarts, so a failed embedding provider never loses work.
type Queue struct {
	db *bolt.DB
}

// OpenQueue opens (or creates) the queue database at path.
func OpenQueue(path string) (*Queue, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create queue directory: %w", err)
	}

	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open embedding queue: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(pendingBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize embedding queue: %w", err)
	}
	return &Queue{db: db}, nil
}

// Enqueue records node IDs as pending. Re-enqueueing an ID refreshes
// its timestamp but never duplicates it.
func (q *Queue) Enqueue(ids []string) error {
	now := []byte(time.Now().UTC().Format(time.RFC3339Nano))
	return q.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(pendingBucket)
		for _, id := range ids {
			if err := b.Put([]byte(id), now); err != nil {
				return err
			}
		}
		return nil
	})
}

// List returns up to limit pending IDs in key order.
func (q *Queue) List(limit int) ([]string, error) {
	var ids []string
	err := q.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(pendingBucket).Cursor()
		for k, _ := c.First(); k != nil; k, _ = c.Next() {
			ids = append(ids, string(k))
			if limit > 0 && len(ids) >= limit {
				break
			}
		}
		return nil
	})
	return ids, err
}

// Remove clears an ID from the queue.
func (q *Queue) Remove(id string) error {
	return q.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(pendingBucket).Delete([]byte(id))
	})
}

// Len reports how many IDs are pending.
func (q *Queue) Len() (int, error) {
	var n int
	err := q.db.View(func(tx *bolt.Tx) error {
		n = tx.Bucket(pendingBucket).Stats().KeyN
		return nil
	})
	return n, err
}

// Close closes the underlying database.
func (q *Queue) Close() error {
	return q.db.Close()
}
