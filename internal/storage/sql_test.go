package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) Store {
	t.Helper()
	store, err := NewSQLite(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestRecordAndListBatches(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	base := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	require.NoError(t, store.RecordBatch(ctx, BatchRecord{
		Source: "github", Status: "committed", Nodes: 12, Edges: 30, CreatedAt: base,
	}))
	require.NoError(t, store.RecordBatch(ctx, BatchRecord{
		Source: "slack", Status: "rejected", Error: "missing channel", CreatedAt: base.Add(time.Minute),
	}))

	batches, err := store.RecentBatches(ctx, 10)
	require.NoError(t, err)
	require.Len(t, batches, 2)

	// Most recent first.
	assert.Equal(t, "slack", batches[0].Source)
	assert.Equal(t, "rejected", batches[0].Status)
	assert.Equal(t, "missing channel", batches[0].Error)
	assert.Equal(t, "github", batches[1].Source)
	assert.Equal(t, 12, batches[1].Nodes)
}

func TestRecentBatchesRespectsLimit(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	for i := 0; i < 5; i++ {
		require.NoError(t, store.RecordBatch(ctx, BatchRecord{Source: "github", Status: "committed"}))
	}

	batches, err := store.RecentBatches(ctx, 3)
	require.NoError(t, err)
	assert.Len(t, batches, 3)
}

func TestConflictLifecycle(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	require.NoError(t, store.RecordConflict(ctx, "github", "email shared by person:a and person:b"))

	open, err := store.OpenConflicts(ctx, 10)
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.False(t, open[0].Resolved)
	assert.Contains(t, open[0].Detail, "person:a")

	require.NoError(t, store.ResolveConflict(ctx, open[0].ID))

	open, err = store.OpenConflicts(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, open)
}

func TestResolveConflictUnknownID(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	assert.Error(t, store.ResolveConflict(ctx, 9999))
}
