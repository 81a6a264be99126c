package graph

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/teamscope/teamscope/internal/config"
	"github.com/teamscope/teamscope/internal/models"
)

// Neo4jBackend implements Backend for Neo4j with parameterized Cypher.
// Stateless design: context passed per-request, no session kept open.
type Neo4jBackend struct {
	driver     neo4j.DriverWithContext
	database   string
	dimensions int
	maxRetries int
	backoff    time.Duration
}

// allEdgeTypes is the fixed edge-type enumeration, needed because
// Cypher cannot parameterize relationship types.
var allEdgeTypes = []models.EdgeType{
	models.EdgeAuthored,
	models.EdgeCommentedOn,
	models.EdgeMentions,
	models.EdgeOwns,
	models.EdgeMemberOf,
	models.EdgeResolves,
	models.EdgeRepliedTo,
}

// NewNeo4jBackend creates a Neo4j backend and verifies connectivity.
func NewNeo4jBackend(ctx context.Context, cfg config.GraphConfig, dimensions int) (*Neo4jBackend, error) {
	driver, err := neo4j.NewDriverWithContext(cfg.URI, neo4j.BasicAuth(cfg.Username, cfg.Password, ""))
	if err != nil {
		return nil, fmt.Errorf("failed to create Neo4j driver: %w", err)
	}

	if err := driver.VerifyConnectivity(ctx); err != nil {
		driver.Close(ctx)
		return nil, fmt.Errorf("failed to connect to Neo4j: %w", err)
	}

	return &Neo4jBackend{
		driver:     driver,
		database:   cfg.Database,
		dimensions: dimensions,
		maxRetries: cfg.MaxRetries,
		backoff:    cfg.RetryBackoff,
	}, nil
}

// EnsureIndexes creates uniqueness constraints per label and a vector
// index per searchable node type.
func (n *Neo4jBackend) EnsureIndexes(ctx context.Context) error {
	labels := []models.NodeType{
		models.NodeTypePerson, models.NodeTypeRepository, models.NodeTypePullRequest,
		models.NodeTypeIssue, models.NodeTypeCommit, models.NodeTypeMessage, models.NodeTypeTeam,
	}
	for _, label := range labels {
		cypher := fmt.Sprintf(
			"CREATE CONSTRAINT %s_id_unique IF NOT EXISTS FOR (n:%s) REQUIRE n.id IS UNIQUE",
			strings.ToLower(string(label)), label)
		if _, err := neo4j.ExecuteQuery(ctx, n.driver, cypher, nil,
			neo4j.EagerResultTransformer, neo4j.ExecuteQueryWithDatabase(n.database)); err != nil {
			return fmt.Errorf("failed to create constraint for %s: %w", label, err)
		}
	}

	for _, t := range models.SearchableTypes {
		cypher := fmt.Sprintf(`CREATE VECTOR INDEX %s IF NOT EXISTS
FOR (n:%s) ON (n.embedding)
OPTIONS {indexConfig: {`+"`vector.dimensions`"+`: %d, `+"`vector.similarity_function`"+`: 'cosine'}}`,
			vectorIndexName(t), t, n.dimensions)
		if _, err := neo4j.ExecuteQuery(ctx, n.driver, cypher, nil,
			neo4j.EagerResultTransformer, neo4j.ExecuteQueryWithDatabase(n.database)); err != nil {
			return fmt.Errorf("failed to create vector index for %s: %w", t, err)
		}
	}
	return nil
}

// vectorIndexName follows the <type>_vector_idx convention.
func vectorIndexName(t models.NodeType) string {
	return strings.ToLower(string(t)) + "_vector_idx"
}

// UpsertNode merges a single node. Equivalent to a one-node batch.
func (n *Neo4jBackend) UpsertNode(ctx context.Context, node models.Node) error {
	return n.ApplyBatch(ctx, Batch{Nodes: []models.Node{node}})
}

// UpsertEdge merges a single edge. Equivalent to a one-edge batch.
func (n *Neo4jBackend) UpsertEdge(ctx context.Context, edge models.Edge) error {
	return n.ApplyBatch(ctx, Batch{Edges: []models.Edge{edge}})
}

// ApplyBatch executes every write of one ingestion batch in a single
// ExecuteWrite transaction: either all upserts commit or none do.
// Transient failures retry with bounded exponential backoff; MERGE
// keeps replays idempotent.
func (n *Neo4jBackend) ApplyBatch(ctx context.Context, batch Batch) error {
	if batch.Empty() {
		return nil
	}

	return retryWithBackoff(ctx, n.maxRetries, n.backoff, func(ctx context.Context) error {
		session := n.driver.NewSession(ctx, neo4j.SessionConfig{DatabaseName: n.database})
		defer session.Close(ctx)

		_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
			for i, node := range batch.Nodes {
				if err := n.mergeNodeTx(ctx, tx, node); err != nil {
					return nil, fmt.Errorf("batch node %d (%s): %w", i, node.ID, err)
				}
			}
			for _, merge := range batch.Merges {
				if err := n.mergePersonTx(ctx, tx, merge); err != nil {
					return nil, fmt.Errorf("person merge %s->%s: %w", merge.FromID, merge.ToID, err)
				}
			}
			for i, edge := range batch.Edges {
				if err := n.mergeEdgeTx(ctx, tx, edge); err != nil {
					return nil, fmt.Errorf("batch edge %d (%s-%s->%s): %w", i, edge.From, edge.Type, edge.To, err)
				}
			}
			return nil, nil
		})
		return err
	})
}

// mergeNodeTx reads the stored node, merges attributes in Go so the
// latest-timestamp-wins and set-union rules apply, then MERGEs.
func (n *Neo4jBackend) mergeNodeTx(ctx context.Context, tx neo4j.ManagedTransaction, node models.Node) error {
	res, err := tx.Run(ctx, fmt.Sprintf("MATCH (n:%s {id: $id}) RETURN properties(n) AS props", node.Type),
		map[string]any{"id": node.ID})
	if err != nil {
		return err
	}

	incoming := flattenAttrs(node.Attrs)
	now := time.Now().UTC()

	// updated_at carries the event time; writers that leave it zero
	// count as seen now.
	eventTime := node.UpdatedAt.UTC()
	if node.UpdatedAt.IsZero() {
		eventTime = now
	}

	var onMatch map[string]any
	if record, err := res.Single(ctx); err == nil {
		existingProps, _ := record.Get("props")
		existing, existingUpdated := splitProps(existingProps)
		incomingNewer := !eventTime.Before(existingUpdated)
		onMatch = flattenAttrs(MergeAttrs(existing, node.Attrs, incomingNewer))
		// Replaying an event captured before a deactivation must not
		// flip the node back on.
		if incomingNewer {
			onMatch["active"] = node.Active
			onMatch["updated_at"] = eventTime
		}
	} else {
		onMatch = map[string]any{}
	}

	onCreate := make(map[string]any, len(incoming)+4)
	for k, v := range incoming {
		onCreate[k] = v
	}
	onCreate["type"] = string(node.Type)
	onCreate["active"] = node.Active
	onCreate["created_at"] = now
	onCreate["updated_at"] = eventTime

	builder := NewCypherBuilder()
	cypher, err := builder.BuildMergeNode(string(node.Type), node.ID, onCreate, onMatch)
	if err != nil {
		return err
	}
	_, err = tx.Run(ctx, cypher, builder.Params())
	return err
}

// mergeEdgeTx MERGEs an edge; an existing (from, type, to) edge only
// gets its provenance and active flag refreshed, and only by events at
// least as new as the stored one.
func (n *Neo4jBackend) mergeEdgeTx(ctx context.Context, tx neo4j.ManagedTransaction, edge models.Edge) error {
	if !isValidIdentifier(string(edge.Type)) {
		return fmt.Errorf("invalid edge label: %s", edge.Type)
	}

	seenRes, err := tx.Run(ctx, fmt.Sprintf(
		"MATCH (from {id: $from})-[r:%s]->(to {id: $to}) RETURN r.seen_at AS seen_at", edge.Type),
		map[string]any{"from": edge.From, "to": edge.To})
	if err != nil {
		return err
	}
	refresh := true
	if record, err := seenRes.Single(ctx); err == nil {
		if v, _ := record.Get("seen_at"); v != nil {
			if stored, ok := v.(time.Time); ok && edge.Provenance.SeenAt.Before(stored) {
				refresh = false
			}
		}
	}

	onCreate := flattenAttrs(edge.Attrs)
	onCreate["source"] = string(edge.Provenance.Source)
	onCreate["seen_at"] = edge.Provenance.SeenAt.UTC()
	onCreate["event_ref"] = edge.Provenance.EventRef
	onCreate["active"] = edge.Active

	var onMatch map[string]any
	if refresh {
		onMatch = map[string]any{
			"source":  string(edge.Provenance.Source),
			"seen_at": edge.Provenance.SeenAt.UTC(),
			"active":  edge.Active,
		}
	}

	builder := NewCypherBuilder()
	cypher, err := builder.BuildMergeEdge(edge.From, edge.To, string(edge.Type), onCreate, onMatch)
	if err != nil {
		return err
	}

	res, err := tx.Run(ctx, cypher, builder.Params())
	if err != nil {
		return err
	}
	summaryRecords, err := res.Collect(ctx)
	if err != nil {
		return err
	}
	if len(summaryRecords) == 0 {
		return fmt.Errorf("edge endpoints not found: %s -> %s", edge.From, edge.To)
	}
	return nil
}

// mergePersonTx reassigns every edge of the merged Person to the
// surviving canonical ID, then deactivates the source node. Runs per
// edge type because Cypher cannot parameterize relationship types.
func (n *Neo4jBackend) mergePersonTx(ctx context.Context, tx neo4j.ManagedTransaction, merge PersonMerge) error {
	params := map[string]any{"from": merge.FromID, "to": merge.ToID}

	for _, t := range allEdgeTypes {
		outgoing := fmt.Sprintf(`MATCH (old:Person {id: $from})-[r:%[1]s]->(m)
MATCH (new:Person {id: $to})
MERGE (new)-[r2:%[1]s]->(m)
SET r2 += properties(r)
DELETE r`, t)
		if _, err := tx.Run(ctx, outgoing, params); err != nil {
			return fmt.Errorf("reassign outgoing %s: %w", t, err)
		}

		incoming := fmt.Sprintf(`MATCH (m)-[r:%[1]s]->(old:Person {id: $from})
MATCH (new:Person {id: $to})
MERGE (m)-[r2:%[1]s]->(new)
SET r2 += properties(r)
DELETE r`, t)
		if _, err := tx.Run(ctx, incoming, params); err != nil {
			return fmt.Errorf("reassign incoming %s: %w", t, err)
		}
	}

	// Union identity sets onto the survivor, keep the merged node for
	// audit but out of every query path.
	_, err := tx.Run(ctx, `MATCH (old:Person {id: $from}) MATCH (new:Person {id: $to})
SET new.identities = [x IN coalesce(new.identities, []) | x] + [x IN coalesce(old.identities, []) WHERE NOT x IN coalesce(new.identities, [])]
SET old.active = false, old.merged_into = $to`, params)
	return err
}

// GetNode returns a node by canonical ID.
func (n *Neo4jBackend) GetNode(ctx context.Context, id string) (*models.Node, error) {
	result, err := neo4j.ExecuteQuery(ctx, n.driver,
		"MATCH (n {id: $id}) RETURN properties(n) AS props, labels(n) AS labels",
		map[string]any{"id": id},
		neo4j.EagerResultTransformer,
		neo4j.ExecuteQueryWithDatabase(n.database),
		neo4j.ExecuteQueryWithReadersRouting())
	if err != nil {
		return nil, fmt.Errorf("get node failed: %w", err)
	}
	if len(result.Records) == 0 {
		return nil, ErrNotFound
	}
	return recordToNode(result.Records[0])
}

// FindPersonByIdentity looks up the Person claiming an identity key.
func (n *Neo4jBackend) FindPersonByIdentity(ctx context.Context, key string) (*models.Node, error) {
	result, err := neo4j.ExecuteQuery(ctx, n.driver,
		"MATCH (p:Person) WHERE p.active AND $key IN p.identities RETURN properties(p) AS props, labels(p) AS labels LIMIT 1",
		map[string]any{"key": key},
		neo4j.EagerResultTransformer,
		neo4j.ExecuteQueryWithDatabase(n.database),
		neo4j.ExecuteQueryWithReadersRouting())
	if err != nil {
		return nil, fmt.Errorf("identity lookup failed: %w", err)
	}
	if len(result.Records) == 0 {
		return nil, ErrNotFound
	}
	return recordToNode(result.Records[0])
}

// PersonsByNormalizedName returns active Persons with a matching
// normalized display name, for the fuzzy resolution fallback.
func (n *Neo4jBackend) PersonsByNormalizedName(ctx context.Context, normalized string) ([]*models.Node, error) {
	result, err := neo4j.ExecuteQuery(ctx, n.driver,
		"MATCH (p:Person) WHERE p.active AND p.normalized_name = $name RETURN properties(p) AS props, labels(p) AS labels",
		map[string]any{"name": normalized},
		neo4j.EagerResultTransformer,
		neo4j.ExecuteQueryWithDatabase(n.database),
		neo4j.ExecuteQueryWithReadersRouting())
	if err != nil {
		return nil, fmt.Errorf("name lookup failed: %w", err)
	}

	nodes := make([]*models.Node, 0, len(result.Records))
	for _, record := range result.Records {
		node, err := recordToNode(record)
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, node)
	}
	return nodes, nil
}

// Neighbors returns active nodes one edge away in either direction.
func (n *Neo4jBackend) Neighbors(ctx context.Context, id string, edgeTypes []models.EdgeType) ([]Neighbor, error) {
	types := make([]string, len(edgeTypes))
	for i, t := range edgeTypes {
		types[i] = string(t)
	}

	result, err := neo4j.ExecuteQuery(ctx, n.driver,
		`MATCH (n {id: $id})-[r]-(m)
WHERE m.active AND coalesce(r.active, true) AND (size($types) = 0 OR type(r) IN $types)
RETURN properties(m) AS props, labels(m) AS labels, type(r) AS edge_type, startNode(r).id = $id AS outgoing`,
		map[string]any{"id": id, "types": types},
		neo4j.EagerResultTransformer,
		neo4j.ExecuteQueryWithDatabase(n.database),
		neo4j.ExecuteQueryWithReadersRouting())
	if err != nil {
		return nil, fmt.Errorf("neighbors query failed: %w", err)
	}

	neighbors := make([]Neighbor, 0, len(result.Records))
	for _, record := range result.Records {
		node, err := recordToNode(record)
		if err != nil {
			return nil, err
		}
		edgeType, _ := record.Get("edge_type")
		outgoing, _ := record.Get("outgoing")
		neighbors = append(neighbors, Neighbor{
			Node:     node,
			EdgeType: models.EdgeType(edgeType.(string)),
			Outgoing: outgoing.(bool),
		})
	}
	return neighbors, nil
}

// SetEmbedding stores the embedding vector and model version for one
// node. The only write path the embedding indexer is allowed.
func (n *Neo4jBackend) SetEmbedding(ctx context.Context, nodeID string, vector []float32, version string) error {
	return retryWithBackoff(ctx, n.maxRetries, n.backoff, func(ctx context.Context) error {
		_, err := neo4j.ExecuteQuery(ctx, n.driver,
			"MATCH (n {id: $id}) SET n.embedding = $vector, n.embedding_version = $version",
			map[string]any{"id": nodeID, "vector": vectorToFloat64(vector), "version": version},
			neo4j.EagerResultTransformer,
			neo4j.ExecuteQueryWithDatabase(n.database))
		return err
	})
}

// VectorSearch runs the per-type vector index query. Nodes embedded
// under a different model version are excluded, never compared.
func (n *Neo4jBackend) VectorSearch(ctx context.Context, t models.NodeType, vector []float32, k int, floor float64, version string) ([]Hit, error) {
	// Over-fetch so version/active filtering still leaves k results.
	fetch := k * 4
	if fetch < 16 {
		fetch = 16
	}

	result, err := neo4j.ExecuteQuery(ctx, n.driver,
		`CALL db.index.vector.queryNodes($index, $fetch, $vector) YIELD node, score
WHERE node.active AND node.embedding_version = $version AND score >= $floor
RETURN properties(node) AS props, labels(node) AS labels, score
ORDER BY score DESC
LIMIT $k`,
		map[string]any{
			"index":   vectorIndexName(t),
			"fetch":   fetch,
			"vector":  vectorToFloat64(vector),
			"version": version,
			"floor":   floor,
			"k":       k,
		},
		neo4j.EagerResultTransformer,
		neo4j.ExecuteQueryWithDatabase(n.database),
		neo4j.ExecuteQueryWithReadersRouting())
	if err != nil {
		return nil, fmt.Errorf("vector search failed for %s: %w", t, err)
	}

	hits := make([]Hit, 0, len(result.Records))
	for _, record := range result.Records {
		node, err := recordToNode(record)
		if err != nil {
			return nil, err
		}
		score, _ := record.Get("score")
		hits = append(hits, Hit{Node: node, Score: score.(float64)})
	}
	sortHits(hits)
	return hits, nil
}

// CountEmbedded counts active nodes embedded under the given version.
func (n *Neo4jBackend) CountEmbedded(ctx context.Context, t models.NodeType, version string) (int, error) {
	result, err := neo4j.ExecuteQuery(ctx, n.driver,
		fmt.Sprintf("MATCH (n:%s) WHERE n.active AND n.embedding_version = $version RETURN count(n) AS count", t),
		map[string]any{"version": version},
		neo4j.EagerResultTransformer,
		neo4j.ExecuteQueryWithDatabase(n.database),
		neo4j.ExecuteQueryWithReadersRouting())
	if err != nil {
		return 0, fmt.Errorf("count embedded failed: %w", err)
	}
	if len(result.Records) == 0 {
		return 0, nil
	}
	count, _ := result.Records[0].Get("count")
	return int(count.(int64)), nil
}

// StaleNodes returns IDs whose embedding predates the live version.
func (n *Neo4jBackend) StaleNodes(ctx context.Context, version string, limit int) ([]string, error) {
	result, err := neo4j.ExecuteQuery(ctx, n.driver,
		`MATCH (n) WHERE n.active AND n.embedding IS NOT NULL AND n.embedding_version <> $version
RETURN n.id AS id LIMIT $limit`,
		map[string]any{"version": version, "limit": limit},
		neo4j.EagerResultTransformer,
		neo4j.ExecuteQueryWithDatabase(n.database),
		neo4j.ExecuteQueryWithReadersRouting())
	if err != nil {
		return nil, fmt.Errorf("stale nodes query failed: %w", err)
	}

	ids := make([]string, 0, len(result.Records))
	for _, record := range result.Records {
		id, _ := record.Get("id")
		ids = append(ids, id.(string))
	}
	return ids, nil
}

// DeactivateNode soft-deletes a node; history is never removed.
func (n *Neo4jBackend) DeactivateNode(ctx context.Context, id string) error {
	_, err := neo4j.ExecuteQuery(ctx, n.driver,
		"MATCH (n {id: $id}) SET n.active = false, n.updated_at = $now",
		map[string]any{"id": id, "now": time.Now().UTC()},
		neo4j.EagerResultTransformer,
		neo4j.ExecuteQueryWithDatabase(n.database))
	if err != nil {
		return fmt.Errorf("deactivate failed: %w", err)
	}
	return nil
}

// Close closes the Neo4j driver connection.
func (n *Neo4jBackend) Close(ctx context.Context) error {
	return n.driver.Close(ctx)
}

// ===================================
// Property mapping helpers
// ===================================

// reservedProps are node-level fields kept outside the attribute map.
var reservedProps = map[string]bool{
	"id": true, "type": true, "active": true,
	"created_at": true, "updated_at": true,
	"embedding": true, "embedding_version": true,
	"merged_into": true,
}

// flattenAttrs converts attribute values to Neo4j-storable properties.
func flattenAttrs(attrs map[string]any) map[string]any {
	props := make(map[string]any, len(attrs))
	for k, v := range attrs {
		switch vv := v.(type) {
		case time.Time:
			props[k] = vv.UTC()
		default:
			props[k] = v
		}
	}
	return props
}

// splitProps separates stored attributes from node-level fields and
// extracts the last-update timestamp.
func splitProps(raw any) (map[string]any, time.Time) {
	props, ok := raw.(map[string]any)
	if !ok {
		return map[string]any{}, time.Time{}
	}

	attrs := make(map[string]any)
	var updated time.Time
	for k, v := range props {
		if k == "updated_at" {
			if t, ok := v.(time.Time); ok {
				updated = t
			}
		}
		if !reservedProps[k] {
			attrs[k] = v
		}
	}
	return attrs, updated
}

type recordGetter interface {
	Get(key string) (any, bool)
}

// recordToNode builds a models.Node from a props+labels record.
func recordToNode(record recordGetter) (*models.Node, error) {
	rawProps, _ := record.Get("props")
	props, ok := rawProps.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("unexpected node record shape")
	}

	node := &models.Node{Attrs: make(map[string]any)}
	for k, v := range props {
		switch k {
		case "id":
			node.ID, _ = v.(string)
		case "type":
			if s, ok := v.(string); ok {
				node.Type = models.NodeType(s)
			}
		case "active":
			node.Active, _ = v.(bool)
		case "created_at":
			node.CreatedAt, _ = v.(time.Time)
		case "updated_at":
			node.UpdatedAt, _ = v.(time.Time)
		case "embedding":
			node.Embedding = anyToVector(v)
		case "embedding_version":
			node.EmbeddingVersion, _ = v.(string)
		case "merged_into":
			// audit-only field
		default:
			node.Attrs[k] = v
		}
	}

	if node.Type == "" {
		if rawLabels, ok := record.Get("labels"); ok {
			if labels, ok := rawLabels.([]any); ok && len(labels) > 0 {
				if s, ok := labels[0].(string); ok {
					node.Type = models.NodeType(s)
				}
			}
		}
	}
	return node, nil
}

// vectorToFloat64 converts an embedding to the list type Neo4j stores.
func vectorToFloat64(v []float32) []float64 {
	out := make([]float64, len(v))
	for i, f := range v {
		out[i] = float64(f)
	}
	return out
}

// anyToVector converts a stored list property back to a float32 vector.
func anyToVector(v any) []float32 {
	switch vv := v.(type) {
	case []float32:
		return vv
	case []float64:
		out := make([]float32, len(vv))
		for i, f := range vv {
			out[i] = float32(f)
		}
		return out
	case []any:
		out := make([]float32, 0, len(vv))
		for _, item := range vv {
			if f, ok := item.(float64); ok {
				out = append(out, float32(f))
			}
		}
		return out
	default:
		return nil
	}
}
