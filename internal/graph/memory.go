package graph

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/teamscope/teamscope/internal/models"
)

// MemoryBackend is an in-process Backend with the same merge and
// uniqueness semantics as the Neo4j backend. Used for local runs
// without a Neo4j instance and throughout the test suite.
type MemoryBackend struct {
	mu    sync.RWMutex
	nodes map[string]*models.Node
	edges map[edgeKey]*models.Edge
	// identities indexes "source:value" keys to Person node IDs.
	identities map[string]string
}

type edgeKey struct {
	From string
	Type models.EdgeType
	To   string
}

// NewMemoryBackend creates an empty in-memory graph store.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		nodes:      make(map[string]*models.Node),
		edges:      make(map[edgeKey]*models.Edge),
		identities: make(map[string]string),
	}
}

func (m *MemoryBackend) UpsertNode(ctx context.Context, node models.Node) error {
	return m.ApplyBatch(ctx, Batch{Nodes: []models.Node{node}})
}

func (m *MemoryBackend) UpsertEdge(ctx context.Context, edge models.Edge) error {
	return m.ApplyBatch(ctx, Batch{Edges: []models.Edge{edge}})
}

// ApplyBatch applies every write against a staged copy and swaps it in
// only when the whole batch succeeds, so a failed batch leaves the
// store untouched.
func (m *MemoryBackend) ApplyBatch(ctx context.Context, batch Batch) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if batch.Empty() {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	staged := m.clone()
	for _, node := range batch.Nodes {
		if err := staged.upsertNodeLocked(node); err != nil {
			return err
		}
	}
	for _, merge := range batch.Merges {
		if err := staged.mergePersonLocked(merge); err != nil {
			return err
		}
	}
	for _, edge := range batch.Edges {
		if err := staged.upsertEdgeLocked(edge); err != nil {
			return err
		}
	}

	m.nodes = staged.nodes
	m.edges = staged.edges
	m.identities = staged.identities
	return nil
}

// clone copies the store maps deeply enough that staged mutation never
// aliases live state.
func (m *MemoryBackend) clone() *MemoryBackend {
	c := &MemoryBackend{
		nodes:      make(map[string]*models.Node, len(m.nodes)),
		edges:      make(map[edgeKey]*models.Edge, len(m.edges)),
		identities: make(map[string]string, len(m.identities)),
	}
	for id, node := range m.nodes {
		c.nodes[id] = copyNode(node)
	}
	for k, edge := range m.edges {
		e := *edge
		c.edges[k] = &e
	}
	for k, v := range m.identities {
		c.identities[k] = v
	}
	return c
}

func (m *MemoryBackend) upsertNodeLocked(node models.Node) error {
	if node.ID == "" {
		return fmt.Errorf("node missing id")
	}
	// UpdatedAt carries the event time. Writers that leave it zero
	// (referenced stubs, direct upserts) count as seen now.
	eventTime := node.UpdatedAt
	if eventTime.IsZero() {
		eventTime = time.Now().UTC()
	}

	existing, ok := m.nodes[node.ID]
	if !ok {
		stored := copyNode(&node)
		stored.CreatedAt = time.Now().UTC()
		stored.UpdatedAt = eventTime
		m.nodes[node.ID] = stored
	} else {
		incomingNewer := !eventTime.Before(existing.UpdatedAt)
		existing.Attrs = MergeAttrs(existing.Attrs, node.Attrs, incomingNewer)
		// Replaying an event captured before a deactivation must not
		// flip the node back on.
		if incomingNewer {
			existing.Active = node.Active
			existing.UpdatedAt = eventTime
		}
	}

	m.indexIdentitiesLocked(m.nodes[node.ID])
	return nil
}

func (m *MemoryBackend) upsertEdgeLocked(edge models.Edge) error {
	if _, ok := m.nodes[edge.From]; !ok {
		return fmt.Errorf("edge endpoint not found: %s", edge.From)
	}
	if _, ok := m.nodes[edge.To]; !ok {
		return fmt.Errorf("edge endpoint not found: %s", edge.To)
	}

	key := edgeKey{From: edge.From, Type: edge.Type, To: edge.To}
	if existing, ok := m.edges[key]; ok {
		// Only an event at least as new as the stored one may refresh
		// provenance or the active flag.
		if !edge.Provenance.SeenAt.Before(existing.Provenance.SeenAt) {
			existing.Provenance = edge.Provenance
			existing.Active = edge.Active
		}
		return nil
	}
	e := edge
	m.edges[key] = &e
	return nil
}

func (m *MemoryBackend) mergePersonLocked(merge PersonMerge) error {
	from, ok := m.nodes[merge.FromID]
	if !ok {
		return fmt.Errorf("merge source not found: %s", merge.FromID)
	}
	to, ok := m.nodes[merge.ToID]
	if !ok {
		return fmt.Errorf("merge target not found: %s", merge.ToID)
	}

	// Reassign every edge touching the merged node.
	for key, edge := range m.edges {
		if key.From != merge.FromID && key.To != merge.FromID {
			continue
		}
		newKey := key
		if newKey.From == merge.FromID {
			newKey.From = merge.ToID
		}
		if newKey.To == merge.FromID {
			newKey.To = merge.ToID
		}
		delete(m.edges, key)
		if newKey.From == newKey.To {
			continue
		}
		if _, exists := m.edges[newKey]; !exists {
			e := *edge
			e.From = newKey.From
			e.To = newKey.To
			m.edges[newKey] = &e
		}
	}

	to.Attrs["identities"] = unionStrings(to.Attrs["identities"], from.Attrs["identities"])
	from.Active = false
	from.Attrs["merged_into"] = merge.ToID

	m.indexIdentitiesLocked(to)
	return nil
}

// indexIdentitiesLocked refreshes the identity-key index for a Person.
func (m *MemoryBackend) indexIdentitiesLocked(node *models.Node) {
	if node.Type != models.NodeTypePerson || !node.Active {
		return
	}
	for _, key := range toStrings(node.Attrs["identities"]) {
		m.identities[key] = node.ID
	}
}

func (m *MemoryBackend) GetNode(ctx context.Context, id string) (*models.Node, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	node, ok := m.nodes[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyNode(node), nil
}

func (m *MemoryBackend) FindPersonByIdentity(ctx context.Context, key string) (*models.Node, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.identities[key]
	if !ok {
		return nil, ErrNotFound
	}
	node, ok := m.nodes[id]
	if !ok || !node.Active {
		return nil, ErrNotFound
	}
	return copyNode(node), nil
}

func (m *MemoryBackend) PersonsByNormalizedName(ctx context.Context, normalized string) ([]*models.Node, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*models.Node
	for _, node := range m.nodes {
		if node.Type != models.NodeTypePerson || !node.Active {
			continue
		}
		if name, _ := node.Attrs["normalized_name"].(string); name == normalized {
			out = append(out, copyNode(node))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemoryBackend) Neighbors(ctx context.Context, id string, edgeTypes []models.EdgeType) ([]Neighbor, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	allowed := make(map[models.EdgeType]bool, len(edgeTypes))
	for _, t := range edgeTypes {
		allowed[t] = true
	}

	var out []Neighbor
	for key, edge := range m.edges {
		if !edge.Active {
			continue
		}
		if len(allowed) > 0 && !allowed[key.Type] {
			continue
		}

		var otherID string
		var outgoing bool
		switch id {
		case key.From:
			otherID, outgoing = key.To, true
		case key.To:
			otherID, outgoing = key.From, false
		default:
			continue
		}

		other, ok := m.nodes[otherID]
		if !ok || !other.Active {
			continue
		}
		out = append(out, Neighbor{Node: copyNode(other), EdgeType: key.Type, Outgoing: outgoing})
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Node.ID != out[j].Node.ID {
			return out[i].Node.ID < out[j].Node.ID
		}
		return out[i].EdgeType < out[j].EdgeType
	})
	return out, nil
}

func (m *MemoryBackend) SetEmbedding(ctx context.Context, nodeID string, vector []float32, version string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	node, ok := m.nodes[nodeID]
	if !ok {
		return ErrNotFound
	}
	node.Embedding = append([]float32(nil), vector...)
	node.EmbeddingVersion = version
	return nil
}

func (m *MemoryBackend) VectorSearch(ctx context.Context, t models.NodeType, vector []float32, k int, floor float64, version string) ([]Hit, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var hits []Hit
	for _, node := range m.nodes {
		if node.Type != t || !node.Active {
			continue
		}
		if len(node.Embedding) == 0 || node.EmbeddingVersion != version {
			continue
		}
		score := cosineSimilarity(vector, node.Embedding)
		if score < floor {
			continue
		}
		hits = append(hits, Hit{Node: copyNode(node), Score: score})
	}

	sortHits(hits)
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

func (m *MemoryBackend) CountEmbedded(ctx context.Context, t models.NodeType, version string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	count := 0
	for _, node := range m.nodes {
		if node.Type == t && node.Active && len(node.Embedding) > 0 && node.EmbeddingVersion == version {
			count++
		}
	}
	return count, nil
}

func (m *MemoryBackend) StaleNodes(ctx context.Context, version string, limit int) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var ids []string
	for id, node := range m.nodes {
		if !node.Active || len(node.Embedding) == 0 {
			continue
		}
		if node.EmbeddingVersion != version {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}
	return ids, nil
}

func (m *MemoryBackend) DeactivateNode(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	node, ok := m.nodes[id]
	if !ok {
		return ErrNotFound
	}
	node.Active = false
	// Stamp the deactivation so replayed older events cannot undo it.
	node.UpdatedAt = time.Now().UTC()
	return nil
}

// EnsureIndexes is a no-op; the in-memory store needs no schema.
func (m *MemoryBackend) EnsureIndexes(ctx context.Context) error { return nil }

func (m *MemoryBackend) Close(ctx context.Context) error { return nil }

// EdgeCount reports the number of stored edges. Test helper.
func (m *MemoryBackend) EdgeCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.edges)
}

// NodeCount reports the number of stored nodes. Test helper.
func (m *MemoryBackend) NodeCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.nodes)
}

// HasEdge reports whether an active edge exists. Test helper.
func (m *MemoryBackend) HasEdge(from string, t models.EdgeType, to string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	edge, ok := m.edges[edgeKey{From: from, Type: t, To: to}]
	return ok && edge.Active
}

func copyNode(node *models.Node) *models.Node {
	c := *node
	c.Attrs = make(map[string]any, len(node.Attrs))
	for k, v := range node.Attrs {
		if s, ok := v.([]string); ok {
			c.Attrs[k] = append([]string(nil), s...)
			continue
		}
		c.Attrs[k] = v
	}
	c.Embedding = append([]float32(nil), node.Embedding...)
	return &c
}

// cosineSimilarity scores two vectors in [-1, 1]; zero when either has
// no magnitude or the lengths disagree.
func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

var _ Backend = (*MemoryBackend)(nil)
var _ Backend = (*Neo4jBackend)(nil)

// NormalizeName lowercases and strips punctuation from a display name
// so spelling variants of the same person compare equal.
func NormalizeName(name string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(strings.TrimSpace(name)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == ' ' || r == '-' || r == '_' || r == '.':
			b.WriteRune(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}
