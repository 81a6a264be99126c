package graph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildMergeNode(t *testing.T) {
	b := NewCypherBuilder()

	query, err := b.BuildMergeNode("Person", "person:1",
		map[string]any{"display_name": "Alice", "active": true},
		map[string]any{"display_name": "Alice"})
	require.NoError(t, err)

	assert.Contains(t, query, "MERGE (n:Person {id: $p0})")
	assert.Contains(t, query, "ON CREATE SET")
	assert.Contains(t, query, "ON MATCH SET")
	assert.Equal(t, "person:1", b.Params()["p0"])

	// No literal values may leak into the query text.
	assert.NotContains(t, query, "Alice")
}

func TestBuildMergeNodeDeterministicParams(t *testing.T) {
	props := map[string]any{"b": 2, "a": 1, "c": 3}

	b1 := NewCypherBuilder()
	q1, err := b1.BuildMergeNode("Commit", "commit:x", props, nil)
	require.NoError(t, err)

	b2 := NewCypherBuilder()
	q2, err := b2.BuildMergeNode("Commit", "commit:x", props, nil)
	require.NoError(t, err)

	assert.Equal(t, q1, q2, "same input must generate the same query text")
}

func TestBuildMergeEdge(t *testing.T) {
	b := NewCypherBuilder()

	query, err := b.BuildMergeEdge("person:1", "pr:repo#1", "AUTHORED",
		map[string]any{"source": "github"}, nil)
	require.NoError(t, err)

	assert.Contains(t, query, "MERGE (from)-[r:AUTHORED]->(to)")
	assert.Equal(t, "person:1", b.Params()["p0"])
	assert.Equal(t, "pr:repo#1", b.Params()["p1"])
}

func TestBuilderRejectsUnsafeIdentifiers(t *testing.T) {
	tests := []struct {
		name  string
		build func(b *CypherBuilder) error
	}{
		{
			name: "label injection",
			build: func(b *CypherBuilder) error {
				_, err := b.BuildMergeNode("Person) DETACH DELETE (n", "x", nil, nil)
				return err
			},
		},
		{
			name: "edge label injection",
			build: func(b *CypherBuilder) error {
				_, err := b.BuildMergeEdge("a", "b", "OWNS]->() MATCH (m) DELETE m//", nil, nil)
				return err
			},
		},
		{
			name: "property key injection",
			build: func(b *CypherBuilder) error {
				_, err := b.BuildMergeNode("Person", "x", map[string]any{"name = 'x' WITH n//": 1}, nil)
				return err
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Error(t, tt.build(NewCypherBuilder()))
		})
	}
}
