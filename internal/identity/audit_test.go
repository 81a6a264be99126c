package identity

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teamscope/teamscope/internal/graph"
	"github.com/teamscope/teamscope/internal/models"
)

func openTestJournal(t *testing.T) *AuditJournal {
	t.Helper()
	j, err := OpenAuditJournal(filepath.Join(t.TempDir(), "audit.db"))
	require.NoError(t, err)
	t.Cleanup(func() { j.Close() })
	return j
}

func TestAuditJournalOrdersNewestFirst(t *testing.T) {
	j := openTestJournal(t)

	base := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	require.NoError(t, j.Append(AuditEntry{Decision: "created", PersonID: "person:a", At: base}))
	require.NoError(t, j.Append(AuditEntry{Decision: "fuzzy_attached", PersonID: "person:a", At: base.Add(time.Hour)}))
	require.NoError(t, j.Append(AuditEntry{Decision: "merged", PersonID: "person:a", OtherID: "person:b", At: base.Add(2 * time.Hour)}))

	entries, err := j.Recent(2)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "merged", entries[0].Decision)
	assert.Equal(t, "fuzzy_attached", entries[1].Decision)
}

func TestResolverJournalsDecisions(t *testing.T) {
	ctx := context.Background()
	backend := graph.NewMemoryBackend()
	journal := openTestJournal(t)
	r := NewResolver(backend, journal, testConfig())

	res, err := r.Resolve(ctx, record(models.SourceGitHub, "alice", "Alice Smith", "alice@corp.io", "org/auth", time.Now()))
	require.NoError(t, err)
	apply(t, backend, res)

	entries, err := journal.Recent(10)
	require.NoError(t, err)
	require.NotEmpty(t, entries)
	assert.Equal(t, res.PersonID, entries[0].PersonID)
}
