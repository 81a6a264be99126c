package graph

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teamscope/teamscope/internal/models"
)

func testPerson(id, name string, identities ...string) models.Node {
	return models.Node{
		ID:   id,
		Type: models.NodeTypePerson,
		Attrs: map[string]any{
			"display_name":    name,
			"normalized_name": NormalizeName(name),
			"identities":      identities,
		},
		Active:    true,
		UpdatedAt: time.Now().UTC(),
	}
}

func testEdge(from string, t models.EdgeType, to string) models.Edge {
	return models.Edge{
		From: from, Type: t, To: to,
		Provenance: models.Provenance{Source: models.SourceGitHub, SeenAt: time.Now().UTC()},
		Active:     true,
	}
}

func TestApplyBatchIdempotent(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryBackend()

	batch := Batch{
		Nodes: []models.Node{
			testPerson("person:a", "Alice", "github:alice"),
			{ID: "pr:org/auth#1", Type: models.NodeTypePullRequest,
				Attrs: map[string]any{"title": "Fix token refresh"}, Active: true},
		},
		Edges: []models.Edge{testEdge("person:a", models.EdgeAuthored, "pr:org/auth#1")},
	}

	require.NoError(t, m.ApplyBatch(ctx, batch))
	require.NoError(t, m.ApplyBatch(ctx, batch))

	assert.Equal(t, 2, m.NodeCount(), "replaying a batch must not duplicate nodes")
	assert.Equal(t, 1, m.EdgeCount(), "replaying a batch must not duplicate edges")
}

func TestApplyBatchAtomic(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryBackend()

	bad := Batch{
		Nodes: []models.Node{testPerson("person:a", "Alice", "github:alice")},
		// Dangling endpoint fails the batch.
		Edges: []models.Edge{testEdge("person:a", models.EdgeAuthored, "pr:missing#1")},
	}

	require.Error(t, m.ApplyBatch(ctx, bad))
	assert.Equal(t, 0, m.NodeCount(), "a failed batch must leave the store untouched")

	_, err := m.FindPersonByIdentity(ctx, "github:alice")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestEdgeUniquenessRefreshesProvenance(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryBackend()

	require.NoError(t, m.ApplyBatch(ctx, Batch{Nodes: []models.Node{
		testPerson("person:a", "Alice"),
		testPerson("person:b", "Bob"),
	}}))

	first := testEdge("person:a", models.EdgeCommentedOn, "person:b")
	first.Provenance.EventRef = "event-1"
	require.NoError(t, m.UpsertEdge(ctx, first))

	second := first
	second.Provenance.EventRef = "event-2"
	require.NoError(t, m.UpsertEdge(ctx, second))

	assert.Equal(t, 1, m.EdgeCount())
	assert.True(t, m.HasEdge("person:a", models.EdgeCommentedOn, "person:b"))
}

func TestPersonMergeReassignsEdges(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryBackend()

	require.NoError(t, m.ApplyBatch(ctx, Batch{
		Nodes: []models.Node{
			testPerson("person:a", "Alice", "github:alice"),
			testPerson("person:b", "Alice S", "slack:U1"),
			{ID: "pr:x#1", Type: models.NodeTypePullRequest, Attrs: map[string]any{}, Active: true},
		},
		Edges: []models.Edge{testEdge("person:b", models.EdgeAuthored, "pr:x#1")},
	}))

	require.NoError(t, m.ApplyBatch(ctx, Batch{
		Merges: []PersonMerge{{FromID: "person:b", ToID: "person:a"}},
	}))

	assert.True(t, m.HasEdge("person:a", models.EdgeAuthored, "pr:x#1"))
	assert.False(t, m.HasEdge("person:b", models.EdgeAuthored, "pr:x#1"))

	// The survivor claims both identity sets; the merged node leaves
	// every lookup path.
	survivor, err := m.FindPersonByIdentity(ctx, "slack:U1")
	require.NoError(t, err)
	assert.Equal(t, "person:a", survivor.ID)

	merged, err := m.GetNode(ctx, "person:b")
	require.NoError(t, err)
	assert.False(t, merged.Active)
}

func TestVectorSearchExcludesOtherVersions(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryBackend()

	require.NoError(t, m.ApplyBatch(ctx, Batch{Nodes: []models.Node{
		testPerson("person:a", "Alice"),
		testPerson("person:b", "Bob"),
	}}))

	require.NoError(t, m.SetEmbedding(ctx, "person:a", []float32{1, 0}, "model@2"))
	require.NoError(t, m.SetEmbedding(ctx, "person:b", []float32{1, 0}, "model@1"))

	hits, err := m.VectorSearch(ctx, models.NodeTypePerson, []float32{1, 0}, 10, 0, "model@2")
	require.NoError(t, err)

	require.Len(t, hits, 1, "stale-version embeddings must be excluded, not compared")
	assert.Equal(t, "person:a", hits[0].Node.ID)
}

func TestVectorSearchFloorAndOrder(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryBackend()

	nodes := []models.Node{
		testPerson("person:a", "Alice"),
		testPerson("person:b", "Bob"),
		testPerson("person:c", "Carol"),
	}
	require.NoError(t, m.ApplyBatch(ctx, Batch{Nodes: nodes}))

	require.NoError(t, m.SetEmbedding(ctx, "person:a", []float32{1, 0}, "v"))
	require.NoError(t, m.SetEmbedding(ctx, "person:b", []float32{0.8, 0.6}, "v"))
	require.NoError(t, m.SetEmbedding(ctx, "person:c", []float32{0, 1}, "v"))

	hits, err := m.VectorSearch(ctx, models.NodeTypePerson, []float32{1, 0}, 10, 0.5, "v")
	require.NoError(t, err)

	require.Len(t, hits, 2, "hits below the similarity floor must be dropped")
	assert.Equal(t, "person:a", hits[0].Node.ID)
	assert.Equal(t, "person:b", hits[1].Node.ID)
}

func TestNeighborsFiltersTypeAndDirection(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryBackend()

	require.NoError(t, m.ApplyBatch(ctx, Batch{
		Nodes: []models.Node{
			testPerson("person:a", "Alice"),
			{ID: "repo:org/auth", Type: models.NodeTypeRepository, Attrs: map[string]any{}, Active: true},
			{ID: "pr:org/auth#1", Type: models.NodeTypePullRequest, Attrs: map[string]any{}, Active: true},
		},
		Edges: []models.Edge{
			testEdge("person:a", models.EdgeOwns, "repo:org/auth"),
			testEdge("person:a", models.EdgeAuthored, "pr:org/auth#1"),
		},
	}))

	owns, err := m.Neighbors(ctx, "person:a", []models.EdgeType{models.EdgeOwns})
	require.NoError(t, err)
	require.Len(t, owns, 1)
	assert.Equal(t, "repo:org/auth", owns[0].Node.ID)
	assert.True(t, owns[0].Outgoing)

	// From the repository side the same edge is incoming.
	back, err := m.Neighbors(ctx, "repo:org/auth", nil)
	require.NoError(t, err)
	require.Len(t, back, 1)
	assert.False(t, back[0].Outgoing)
}

func TestStaleNodesAndCount(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryBackend()

	require.NoError(t, m.ApplyBatch(ctx, Batch{Nodes: []models.Node{
		testPerson("person:a", "Alice"),
		testPerson("person:b", "Bob"),
	}}))
	require.NoError(t, m.SetEmbedding(ctx, "person:a", []float32{1}, "model@1"))
	require.NoError(t, m.SetEmbedding(ctx, "person:b", []float32{1}, "model@2"))

	stale, err := m.StaleNodes(ctx, "model@2", 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"person:a"}, stale)

	count, err := m.CountEmbedded(ctx, models.NodeTypePerson, "model@2")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestReplayedOlderEventCannotReactivateNode(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryBackend()

	event := testPerson("person:a", "Alice", "github:alice")
	event.UpdatedAt = time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	require.NoError(t, m.UpsertNode(ctx, event))
	require.NoError(t, m.DeactivateNode(ctx, "person:a"))

	// Redeliver the payload captured before the deactivation.
	require.NoError(t, m.UpsertNode(ctx, event))

	node, err := m.GetNode(ctx, "person:a")
	require.NoError(t, err)
	assert.False(t, node.Active, "an older replay must not undo a deactivation")

	_, err = m.FindPersonByIdentity(ctx, "github:alice")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestReplayedOlderEdgeKeepsDeactivation(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryBackend()

	require.NoError(t, m.ApplyBatch(ctx, Batch{Nodes: []models.Node{
		testPerson("person:a", "Alice"),
		{ID: "pr:x#1", Type: models.NodeTypePullRequest, Attrs: map[string]any{}, Active: true},
	}}))

	original := models.Edge{
		From: "person:a", Type: models.EdgeAuthored, To: "pr:x#1",
		Provenance: models.Provenance{
			Source: models.SourceGitHub,
			SeenAt: time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC),
		},
		Active: true,
	}
	require.NoError(t, m.UpsertEdge(ctx, original))

	removed := original
	removed.Active = false
	removed.Provenance.SeenAt = original.Provenance.SeenAt.Add(24 * time.Hour)
	require.NoError(t, m.UpsertEdge(ctx, removed))

	// Redelivering the original event must not bring the edge back.
	require.NoError(t, m.UpsertEdge(ctx, original))

	neighbors, err := m.Neighbors(ctx, "person:a", nil)
	require.NoError(t, err)
	assert.Empty(t, neighbors, "an older replay must not reactivate a removed edge")
}

func TestDeactivateHidesFromLookups(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryBackend()

	require.NoError(t, m.UpsertNode(ctx, testPerson("person:a", "Alice", "github:alice")))
	require.NoError(t, m.DeactivateNode(ctx, "person:a"))

	_, err := m.FindPersonByIdentity(ctx, "github:alice")
	assert.ErrorIs(t, err, ErrNotFound)

	byName, err := m.PersonsByNormalizedName(ctx, "alice")
	require.NoError(t, err)
	assert.Empty(t, byName)
}
