package graph

import (
	"fmt"
	"regexp"
	"strings"
)

// CypherBuilder builds safe, parameterized Cypher queries.
// Prevents Cypher injection by using parameters for ALL values.
type CypherBuilder struct {
	params  map[string]any
	counter int
}

// NewCypherBuilder creates a query builder
func NewCypherBuilder() *CypherBuilder {
	return &CypherBuilder{
		params: make(map[string]any),
	}
}

// AddParam adds a parameter and returns its placeholder
func (b *CypherBuilder) AddParam(value any) string {
	paramName := fmt.Sprintf("p%d", b.counter)
	b.counter++
	b.params[paramName] = value
	return "$" + paramName
}

// Params returns all parameters for the query
func (b *CypherBuilder) Params() map[string]any {
	return b.params
}

// BuildMergeNode creates an idempotent MERGE for a node. Properties set
// on create; onMatchProps (the already-merged attribute map) set when
// the node existed, so attribute merge rules decided in Go apply.
func (b *CypherBuilder) BuildMergeNode(label string, id string, onCreateProps, onMatchProps map[string]any) (string, error) {
	if !isValidIdentifier(label) {
		return "", fmt.Errorf("invalid node label: %s (must be alphanumeric + underscore)", label)
	}

	idParam := b.AddParam(id)

	onCreate, err := b.setClauses("n", onCreateProps)
	if err != nil {
		return "", err
	}
	onMatch, err := b.setClauses("n", onMatchProps)
	if err != nil {
		return "", err
	}

	query := fmt.Sprintf("MERGE (n:%s {id: %s})", label, idParam)
	if onCreate != "" {
		query += " ON CREATE SET " + onCreate
	}
	if onMatch != "" {
		query += " ON MATCH SET " + onMatch
	}
	query += " RETURN n.id AS id"
	return query, nil
}

// BuildMergeEdge creates an idempotent MERGE for an edge. Uniqueness on
// (from, type, to): when the edge already exists only provenance and
// timestamp are refreshed.
func (b *CypherBuilder) BuildMergeEdge(fromID, toID, edgeLabel string, onCreateProps, onMatchProps map[string]any) (string, error) {
	if !isValidIdentifier(edgeLabel) {
		return "", fmt.Errorf("invalid edge label: %s", edgeLabel)
	}

	fromParam := b.AddParam(fromID)
	toParam := b.AddParam(toID)

	onCreate, err := b.setClauses("r", onCreateProps)
	if err != nil {
		return "", err
	}
	onMatch, err := b.setClauses("r", onMatchProps)
	if err != nil {
		return "", err
	}

	query := fmt.Sprintf(
		"MATCH (from {id: %s}) MATCH (to {id: %s}) MERGE (from)-[r:%s]->(to)",
		fromParam, toParam, edgeLabel,
	)
	if onCreate != "" {
		query += " ON CREATE SET " + onCreate
	}
	if onMatch != "" {
		query += " ON MATCH SET " + onMatch
	}
	query += " RETURN from.id AS from_id, to.id AS to_id"
	return query, nil
}

// setClauses renders "alias.key = $pN" assignments for a property map
func (b *CypherBuilder) setClauses(alias string, props map[string]any) (string, error) {
	if len(props) == 0 {
		return "", nil
	}
	clauses := make([]string, 0, len(props))
	for _, key := range sortedKeys(props) {
		if !isValidIdentifier(key) {
			return "", fmt.Errorf("invalid property key: %s (must be alphanumeric + underscore)", key)
		}
		paramName := b.AddParam(props[key])
		clauses = append(clauses, fmt.Sprintf("%s.%s = %s", alias, key, paramName))
	}
	return strings.Join(clauses, ", "), nil
}

// sortedKeys keeps generated queries deterministic for a given input
func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	for i := 0; i < len(keys); i++ {
		for j := i + 1; j < len(keys); j++ {
			if keys[j] < keys[i] {
				keys[i], keys[j] = keys[j], keys[i]
			}
		}
	}
	return keys
}

var identifierRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// isValidIdentifier validates that a string can be safely used as a
// Cypher identifier. Only allows alphanumerics and underscores.
func isValidIdentifier(s string) bool {
	return identifierRe.MatchString(s)
}
