package identity

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
)

func testConfig() config.IdentityConfig {
	return config.IdentityConfig{
		FuzzyThreshold:     0.85,
		CooccurrenceWindow: 14 * 24 * time.Hour,
	}
}

// apply commits a resolution the way the ingestion service does.
func apply(t *testing.T, backend graph.Backend, res *Resolution) {
	t.Helper()
	require.NoError(t, backend.ApplyBatch(context.Background(), graph.Batch{
		Nodes: []models.Node{res.Upsert},
	}))
}

func record(source models.Source, id, name, email, contextRef string, seenAt time.Time) models.RawRecord {
	return models.RawRecord{
		Source:      source,
		SourceID:    id,
		DisplayName: name,
		Email:       email,
		ContextRef:  contextRef,
		SeenAt:      seenAt,
	}
}

func TestResolveCreatesNewPerson(t *testing.T) {
	ctx := context.Background()
	backend := graph.NewMemoryBackend()
	r := NewResolver(backend, nil, testConfig())

	res, err := r.Resolve(ctx, record(models.SourceGitHub, "alice", "Alice Smith", "alice@corp.io", "org/auth", time.Now()))
	require.NoError(t, err)
	assert.True(t, res.Created)
	apply(t, backend, res)

	person, err := backend.FindPersonByIdentity(ctx, "github:alice")
	require.NoError(t, err)
	assert.Equal(t, res.PersonID, person.ID)

	// The email key belongs to the same person.
	byEmail, err := backend.FindPersonByIdentity(ctx, "email:alice@corp.io")
	require.NoError(t, err)
	assert.Equal(t, person.ID, byEmail.ID)
}

func TestResolveExactMatchLinksSources(t *testing.T) {
	ctx := context.Background()
	backend := graph.NewMemoryBackend()
	r := NewResolver(backend, nil, testConfig())

	first, err := r.Resolve(ctx, record(models.SourceGitHub, "alice", "Alice Smith", "alice@corp.io", "org/auth", time.Now()))
	require.NoError(t, err)
	apply(t, backend, first)

	// A slack record sharing the email joins the same person.
	second, err := r.Resolve(ctx, record(models.SourceSlack, "U123", "alice", "alice@corp.io", "eng-auth", time.Now()))
	require.NoError(t, err)
	assert.False(t, second.Created)
	assert.Equal(t, first.PersonID, second.PersonID)
	apply(t, backend, second)

	person, err := backend.FindPersonByIdentity(ctx, "slack:U123")
	require.NoError(t, err)
	assert.Equal(t, first.PersonID, person.ID)
}

func TestResolveIdentitySetsStayDisjoint(t *testing.T) {
	ctx := context.Background()
	backend := graph.NewMemoryBackend()
	r := NewResolver(backend, nil, testConfig())

	a, err := r.Resolve(ctx, record(models.SourceGitHub, "alice", "Alice Smith", "", "org/auth", time.Now()))
	require.NoError(t, err)
	apply(t, backend, a)

	b, err := r.Resolve(ctx, record(models.SourceGitHub, "bob", "Bob Jones", "", "org/auth", time.Now()))
	require.NoError(t, err)
	apply(t, backend, b)

	assert.NotEqual(t, a.PersonID, b.PersonID)

	pa, _ := backend.FindPersonByIdentity(ctx, "github:alice")
	pb, _ := backend.FindPersonByIdentity(ctx, "github:bob")
	assert.NotEqual(t, pa.ID, pb.ID, "each identity key maps to exactly one person")
}

func TestResolveConflictKeepsBothPersons(t *testing.T) {
	ctx := context.Background()
	backend := graph.NewMemoryBackend()
	r := NewResolver(backend, nil, testConfig())

	a, err := r.Resolve(ctx, record(models.SourceGitHub, "alice", "Alice Smith", "", "org/auth", time.Now()))
	require.NoError(t, err)
	apply(t, backend, a)

	b, err := r.Resolve(ctx, record(models.SourceSlack, "U999", "Completely Different", "", "random", time.Now()))
	require.NoError(t, err)
	apply(t, backend, b)

	// Attach the slack person's email first so a later github record
	// carrying the same email claims both persons at once.
	withEmail, err := r.Resolve(ctx, record(models.SourceSlack, "U999", "Completely Different", "shared@corp.io", "random", time.Now()))
	require.NoError(t, err)
	apply(t, backend, withEmail)

	res, err := r.Resolve(ctx, record(models.SourceGitHub, "alice", "Alice Smith", "shared@corp.io", "org/auth", time.Now()))
	require.NoError(t, err)
	require.NotNil(t, res.Conflict)
	assert.True(t, tserrors.IsIdentityConflict(res.Conflict))
	apply(t, backend, res)

	// Neither person was folded into the other.
	pa, err := backend.GetNode(ctx, a.PersonID)
	require.NoError(t, err)
	pb, err := backend.GetNode(ctx, b.PersonID)
	require.NoError(t, err)
	assert.True(t, pa.Active)
	assert.True(t, pb.Active)
}

func TestResolveFuzzyAttachWithCooccurrence(t *testing.T) {
	ctx := context.Background()
	backend := graph.NewMemoryBackend()
	r := NewResolver(backend, nil, testConfig())

	now := time.Now().UTC()
	a, err := r.Resolve(ctx, record(models.SourceGitHub, "asmith", "Alice Smith", "", "org/auth", now))
	require.NoError(t, err)
	apply(t, backend, a)

	// Slack record: no shared key, same normalized name, same context,
	// seen within the window.
	res, err := r.Resolve(ctx, record(models.SourceSlack, "U42", "alice smith", "", "org/auth", now.Add(48*time.Hour)))
	require.NoError(t, err)

	assert.False(t, res.Created)
	assert.True(t, res.FuzzyAttached)
	assert.Equal(t, a.PersonID, res.PersonID)
}

func TestResolveFuzzyRejectsWithoutCooccurrence(t *testing.T) {
	ctx := context.Background()
	backend := graph.NewMemoryBackend()
	r := NewResolver(backend, nil, testConfig())

	now := time.Now().UTC()
	a, err := r.Resolve(ctx, record(models.SourceGitHub, "asmith", "Alice Smith", "", "org/auth", now))
	require.NoError(t, err)
	apply(t, backend, a)

	tests := []struct {
		name string
		rec  models.RawRecord
	}{
		{
			name: "different context",
			rec:  record(models.SourceSlack, "U42", "Alice Smith", "", "eng-frontend", now.Add(time.Hour)),
		},
		{
			name: "outside the window",
			rec:  record(models.SourceSlack, "U43", "Alice Smith", "", "org/auth", now.Add(60*24*time.Hour)),
		},
		{
			name: "name below threshold",
			rec:  record(models.SourceSlack, "U44", "Robert Smith", "", "org/auth", now.Add(time.Hour)),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := r.Resolve(ctx, tt.rec)
			require.NoError(t, err)
			assert.True(t, res.Created, "uncertain evidence must create a new person, never merge")
			assert.NotEqual(t, a.PersonID, res.PersonID)
		})
	}
}

func TestResolveFuzzyAmbiguityCreatesNewPerson(t *testing.T) {
	ctx := context.Background()
	backend := graph.NewMemoryBackend()
	r := NewResolver(backend, nil, testConfig())

	now := time.Now().UTC()

	// Two distinct people who share a display name and a repository.
	a, err := r.Resolve(ctx, record(models.SourceGitHub, "asmith1", "Alex Kim", "", "org/auth", now))
	require.NoError(t, err)
	apply(t, backend, a)
	b, err := r.Resolve(ctx, record(models.SourceGitHub, "asmith2", "Alex Kim", "", "org/auth", now))
	require.NoError(t, err)
	apply(t, backend, b)

	res, err := r.Resolve(ctx, record(models.SourceSlack, "U77", "Alex Kim", "", "org/auth", now.Add(time.Hour)))
	require.NoError(t, err)
	assert.True(t, res.Created, "two equally plausible candidates is ambiguity, not a match")
}

func TestMergePersonsIsExplicit(t *testing.T) {
	ctx := context.Background()
	backend := graph.NewMemoryBackend()
	r := NewResolver(backend, nil, testConfig())

	a, err := r.Resolve(ctx, record(models.SourceGitHub, "alice", "Alice Smith", "", "org/auth", time.Now()))
	require.NoError(t, err)
	apply(t, backend, a)
	b, err := r.Resolve(ctx, record(models.SourceSlack, "U1", "A. Smith", "", "eng", time.Now()))
	require.NoError(t, err)
	apply(t, backend, b)

	require.NoError(t, r.MergePersons(ctx, b.PersonID, a.PersonID))

	person, err := backend.FindPersonByIdentity(ctx, "slack:U1")
	require.NoError(t, err)
	assert.Equal(t, a.PersonID, person.ID)

	assert.Error(t, r.MergePersons(ctx, a.PersonID, a.PersonID))
}

func TestJaroWinkler(t *testing.T) {
	tests := []struct {
		a, b string
		min  float64
		max  float64
	}{
		{"alice smith", "alice smith", 1.0, 1.0},
		{"alice smith", "alice smyth", 0.9, 1.0},
		{"alice", "bob", 0.0, 0.5},
		{"", "", 1.0, 1.0},
		{"alice", "", 0.0, 0.0},
	}
	for _, tt := range tests {
		got := jaroWinkler(tt.a, tt.b)
		assert.GreaterOrEqual(t, got, tt.min, "%q vs %q", tt.a, tt.b)
		assert.LessOrEqual(t, got, tt.max, "%q vs %q", tt.a, tt.b)
	}
}
