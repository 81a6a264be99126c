package graph

import (
	"context"
	"errors"
	"sort"

	"github.com/teamscope/teamscope/internal/models"
)

// ErrNotFound is returned when a node or edge does not exist.
var ErrNotFound = errors.New("not found")

// Batch collects every write produced by one ingestion payload. A batch
// commits atomically: either all upserts (and merges) land or none do.
type Batch struct {
	Nodes []models.Node
	Edges []models.Edge
	// Merges reassigns all edges of FromID to ToID and deactivates
	// FromID, atomically with the rest of the batch. Used when the
	// identity resolver folds two Persons into one.
	Merges []PersonMerge
}

// PersonMerge folds the FromID Person into ToID.
type PersonMerge struct {
	FromID string
	ToID   string
}

// Empty reports whether the batch carries no writes.
func (b *Batch) Empty() bool {
	return len(b.Nodes) == 0 && len(b.Edges) == 0 && len(b.Merges) == 0
}

// Hit is a vector search result.
type Hit struct {
	Node  *models.Node
	Score float64
}

// Neighbor is a node reached by following one edge.
type Neighbor struct {
	Node     *models.Node
	EdgeType models.EdgeType
	// Outgoing is true when the edge points away from the queried node.
	Outgoing bool
}

// Backend is the graph store protocol: typed node/edge upsert with
// uniqueness constraints plus a per-type vector-similarity primitive.
// The graph store adapter is the sole structural writer; the embedding
// indexer only calls SetEmbedding.
type Backend interface {
	// UpsertNode merges attributes into an existing node or creates it.
	UpsertNode(ctx context.Context, node models.Node) error

	// UpsertEdge creates the edge or, when (from, type, to) already
	// exists, refreshes provenance and timestamp only.
	UpsertEdge(ctx context.Context, edge models.Edge) error

	// ApplyBatch executes every write in one transaction.
	ApplyBatch(ctx context.Context, batch Batch) error

	// GetNode returns a node by canonical ID, or ErrNotFound.
	GetNode(ctx context.Context, id string) (*models.Node, error)

	// FindPersonByIdentity returns the Person claiming the identity key
	// (in "source:value" form), or ErrNotFound.
	FindPersonByIdentity(ctx context.Context, key string) (*models.Node, error)

	// PersonsByNormalizedName returns active Persons whose normalized
	// display name matches, for the fuzzy resolution fallback.
	PersonsByNormalizedName(ctx context.Context, normalized string) ([]*models.Node, error)

	// Neighbors returns active nodes one edge away, restricted to the
	// given edge types (all types when empty). Both directions.
	Neighbors(ctx context.Context, id string, edgeTypes []models.EdgeType) ([]Neighbor, error)

	// SetEmbedding stores a node's embedding vector and model version.
	// Reserved for the embedding indexer; never touches structure.
	SetEmbedding(ctx context.Context, nodeID string, vector []float32, version string) error

	// VectorSearch returns up to k active nodes of the given type whose
	// embedding was produced under version, scored by cosine
	// similarity, highest first. Nodes below floor are dropped; nodes
	// carrying a different version are excluded, never compared.
	VectorSearch(ctx context.Context, t models.NodeType, vector []float32, k int, floor float64, version string) ([]Hit, error)

	// CountEmbedded returns how many active nodes of the type carry an
	// embedding under the given version. Used for index availability.
	CountEmbedded(ctx context.Context, t models.NodeType, version string) (int, error)

	// StaleNodes returns IDs of text-bearing nodes whose embedding
	// version differs from the given live version.
	StaleNodes(ctx context.Context, version string, limit int) ([]string, error)

	// DeactivateNode soft-deletes a node, preserving audit history.
	DeactivateNode(ctx context.Context, id string) error

	// EnsureIndexes creates uniqueness constraints and per-type vector
	// indexes when the store supports them.
	EnsureIndexes(ctx context.Context) error

	// Close releases store connections.
	Close(ctx context.Context) error
}

// sortHits orders hits by score descending, then recency, then ID, so
// retrieval is deterministic for a fixed graph and model version.
func sortHits(hits []Hit) {
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		ti, tj := hits[i].Node.Timestamp(), hits[j].Node.Timestamp()
		if !ti.Equal(tj) {
			return ti.After(tj)
		}
		return hits[i].Node.ID < hits[j].Node.ID
	})
}
