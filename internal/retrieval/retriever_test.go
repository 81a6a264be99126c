package retrieval

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teamscope/teamscope/internal/config"
	tserrors "github.com/teamscope/teamscope/internal/errors"
	"github.com/teamscope/teamscope/internal/graph"
	"github.com/teamscope/teamscope/internal/models"
	"github.com/teamscope/teamscope/internal/router"
)

// stubEmbedder returns a fixed vector for every query.
type stubEmbedder struct {
	vector  []float32
	version string
}

func (s *stubEmbedder) EmbedQuery(ctx context.Context, query string) ([]float32, error) {
	return s.vector, nil
}

func (s *stubEmbedder) ModelVersion() string { return s.version }

func testConfig() config.RetrievalConfig {
	return config.RetrievalConfig{
		TopK:            8,
		SimilarityFloor: 0.3,
		HopLimit:        2,
		VisitBudget:     64,
		HopDecay:        0.6,
	}
}

func testRouterCfg() *router.Router {
	return router.New(config.RouterConfig{ConfidenceThreshold: 0.6, Epsilon: 0.05, MaxCandidates: 2})
}

// seedGraph builds a small ownership graph: alice authored a PR that
// mentions bob, the PR belongs to org/auth which alice owns.
func seedGraph(t *testing.T, version string) *graph.MemoryBackend {
	t.Helper()
	ctx := context.Background()
	m := graph.NewMemoryBackend()

	now := time.Now().UTC()
	nodes := []models.Node{
		{ID: "person:alice", Type: models.NodeTypePerson,
			Attrs: map[string]any{"display_name": "Alice", "identities": []string{"github:alice"}}, Active: true},
		{ID: "person:bob", Type: models.NodeTypePerson,
			Attrs: map[string]any{"display_name": "Bob", "identities": []string{"github:bob"}}, Active: true},
		{ID: "repo:org/auth", Type: models.NodeTypeRepository,
			Attrs: map[string]any{"name": "org/auth"}, Active: true},
		{ID: "pr:org/auth#1", Type: models.NodeTypePullRequest,
			Attrs: map[string]any{"title": "Fix OAuth2 token refresh", "timestamp": now}, Active: true},
	}
	edges := []models.Edge{
		{From: "person:alice", Type: models.EdgeAuthored, To: "pr:org/auth#1",
			Provenance: models.Provenance{Source: models.SourceGitHub, SeenAt: now}, Active: true},
		{From: "person:alice", Type: models.EdgeOwns, To: "repo:org/auth",
			Provenance: models.Provenance{Source: models.SourceGitHub, SeenAt: now}, Active: true},
		{From: "pr:org/auth#1", Type: models.EdgeMentions, To: "person:bob",
			Provenance: models.Provenance{Source: models.SourceGitHub, SeenAt: now}, Active: true},
	}
	require.NoError(t, m.ApplyBatch(ctx, graph.Batch{Nodes: nodes, Edges: edges}))

	require.NoError(t, m.SetEmbedding(ctx, "person:alice", []float32{0.2, 0.9}, version))
	require.NoError(t, m.SetEmbedding(ctx, "pr:org/auth#1", []float32{1, 0}, version))
	return m
}

func TestRetrieveExpandsFromSeeds(t *testing.T) {
	backend := seedGraph(t, "v1")
	r := New(backend, &stubEmbedder{vector: []float32{1, 0}, version: "v1"}, testRouterCfg(), testConfig())

	// Routes to PullRequest; the PR seed should pull in its author and
	// the mentioned person through expansion.
	result, err := r.Retrieve(context.Background(), "which pr fixed the token refresh?")
	require.NoError(t, err)
	require.NotEmpty(t, result.Items)

	assert.Equal(t, "pr:org/auth#1", result.Items[0].Node.ID, "vector seed outranks expanded nodes")

	ids := make(map[string]int)
	for _, item := range result.Items {
		ids[item.Node.ID] = item.Hop
	}
	assert.Contains(t, ids, "person:alice")
	assert.Contains(t, ids, "person:bob")
	assert.Equal(t, 0, ids["pr:org/auth#1"])
	assert.Equal(t, 1, ids["person:alice"])
}

func TestRetrieveIsDeterministic(t *testing.T) {
	backend := seedGraph(t, "v1")
	r := New(backend, &stubEmbedder{vector: []float32{1, 0}, version: "v1"}, testRouterCfg(), testConfig())

	first, err := r.Retrieve(context.Background(), "which pr fixed the token refresh?")
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		again, err := r.Retrieve(context.Background(), "which pr fixed the token refresh?")
		require.NoError(t, err)
		require.Len(t, again.Items, len(first.Items))
		for j := range first.Items {
			assert.Equal(t, first.Items[j].Node.ID, again.Items[j].Node.ID,
				"same query against an unchanged graph must rank identically")
		}
	}
}

func TestRetrieveEmptySignalsExplicitly(t *testing.T) {
	backend := graph.NewMemoryBackend()
	r := New(backend, &stubEmbedder{vector: []float32{1, 0}, version: "v1"}, testRouterCfg(), testConfig())

	result, err := r.Retrieve(context.Background(), "who owns the auth service?")
	require.Error(t, err)
	assert.True(t, tserrors.IsRetrievalEmpty(err))
	assert.Empty(t, result.Items)
}

func TestRetrieveExcludesStaleEmbeddings(t *testing.T) {
	// Graph embedded under v1, but the live version is v2: nothing is
	// searchable until re-embedding happens.
	backend := seedGraph(t, "v1")
	r := New(backend, &stubEmbedder{vector: []float32{1, 0}, version: "v2"}, testRouterCfg(), testConfig())

	_, err := r.Retrieve(context.Background(), "which pr fixed the token refresh?")
	require.Error(t, err)
	assert.True(t, tserrors.IsRetrievalEmpty(err))
}

func TestRetrieveDeduplicatesAcrossPaths(t *testing.T) {
	ctx := context.Background()
	backend := seedGraph(t, "v1")

	// Bob gets an embedding too, so he can arrive both as a seed and
	// through expansion from the PR.
	require.NoError(t, backend.SetEmbedding(ctx, "person:bob", []float32{0.9, 0.1}, "v1"))

	r := New(backend, &stubEmbedder{vector: []float32{1, 0}, version: "v1"}, testRouterCfg(),
		config.RetrievalConfig{TopK: 8, SimilarityFloor: 0.1, HopLimit: 2, VisitBudget: 64, HopDecay: 0.6})

	// Bob seeds directly and is reached again at two hops via the PR;
	// only his best-scored appearance may survive.
	result, err := r.Retrieve(ctx, "who authored the change for token refresh?")
	require.NoError(t, err)

	seen := make(map[string]bool)
	for _, item := range result.Items {
		assert.False(t, seen[item.Node.ID], "node %s appears more than once", item.Node.ID)
		seen[item.Node.ID] = true
	}
}

func TestExpandRespectsVisitBudget(t *testing.T) {
	ctx := context.Background()
	backend := graph.NewMemoryBackend()

	// Star graph: one hub connected to many leaves.
	now := time.Now().UTC()
	nodes := []models.Node{{ID: "person:hub", Type: models.NodeTypePerson,
		Attrs: map[string]any{"display_name": "Hub"}, Active: true}}
	var edges []models.Edge
	for i := 0; i < 50; i++ {
		id := models.Node{ID: nodeID(i), Type: models.NodeTypePullRequest,
			Attrs: map[string]any{"title": "change"}, Active: true}
		nodes = append(nodes, id)
		edges = append(edges, models.Edge{From: "person:hub", Type: models.EdgeAuthored, To: id.ID,
			Provenance: models.Provenance{Source: models.SourceGitHub, SeenAt: now}, Active: true})
	}
	require.NoError(t, backend.ApplyBatch(ctx, graph.Batch{Nodes: nodes, Edges: edges}))
	require.NoError(t, backend.SetEmbedding(ctx, "person:hub", []float32{1, 0}, "v1"))

	cfg := testConfig()
	cfg.VisitBudget = 2
	r := New(backend, &stubEmbedder{vector: []float32{1, 0}, version: "v1"}, testRouterCfg(), cfg)

	result, err := r.Retrieve(ctx, "who owns the project?")
	require.NoError(t, err)
	assert.LessOrEqual(t, len(result.Items), cfg.TopK*2)
}

func nodeID(i int) string {
	return "pr:org/x#" + string(rune('a'+i%26)) + string(rune('a'+i/26))
}
