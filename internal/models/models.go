package models

import (
	"time"
)

// NodeType identifies the canonical entity kind of a graph node.
type NodeType string

const (
	NodeTypePerson      NodeType = "Person"
	NodeTypeRepository  NodeType = "Repository"
	NodeTypePullRequest NodeType = "PullRequest"
	NodeTypeIssue       NodeType = "Issue"
	NodeTypeCommit      NodeType = "Commit"
	NodeTypeMessage     NodeType = "Message"
	NodeTypeTeam        NodeType = "Team"
)

// SearchableTypes are the node types that carry a vector index.
// Order matters: it is the fixed tie-break priority for index routing.
var SearchableTypes = []NodeType{
	NodeTypePerson,
	NodeTypePullRequest,
	NodeTypeIssue,
	NodeTypeCommit,
	NodeTypeMessage,
}

// EdgeType identifies the relationship kind of a directed edge.
type EdgeType string

const (
	EdgeAuthored    EdgeType = "AUTHORED"
	EdgeCommentedOn EdgeType = "COMMENTED_ON"
	EdgeMentions    EdgeType = "MENTIONS"
	EdgeOwns        EdgeType = "OWNS"
	EdgeMemberOf    EdgeType = "MEMBER_OF"
	EdgeResolves    EdgeType = "RESOLVES"
	EdgeRepliedTo   EdgeType = "REPLIED_TO"
)

// Source identifies the external system a record arrived from.
type Source string

const (
	SourceGitHub Source = "github"
	SourceSlack  Source = "slack"
	SourceEmail  Source = "email"
)

// Node is a canonical graph node. Attrs holds merged attributes;
// Embedding and EmbeddingVersion are maintained only by the embedding
// indexer, everything else only by the graph store adapter.
type Node struct {
	ID               string         `json:"id"`
	Type             NodeType       `json:"type"`
	Attrs            map[string]any `json:"attrs"`
	Embedding        []float32      `json:"embedding,omitempty"`
	EmbeddingVersion string         `json:"embedding_version,omitempty"`
	Active           bool           `json:"active"`
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`
}

// Text returns the embeddable text content of a node, by type.
// Returns "" for nodes with no text body.
func (n *Node) Text() string {
	get := func(key string) string {
		if v, ok := n.Attrs[key].(string); ok {
			return v
		}
		return ""
	}
	switch n.Type {
	case NodeTypePullRequest, NodeTypeIssue:
		title, body := get("title"), get("body")
		if title == "" {
			return body
		}
		if body == "" {
			return title
		}
		return title + " " + body
	case NodeTypeMessage:
		return get("text")
	case NodeTypeCommit:
		return get("message")
	case NodeTypePerson:
		// Activity and stack summaries make people searchable by topic.
		name, activity, stack := get("display_name"), get("activity_summary"), get("tech_stack")
		out := name
		if activity != "" {
			out += " " + activity
		}
		if stack != "" {
			out += " " + stack
		}
		return out
	default:
		for _, key := range []string{"content", "text", "body", "description", "title", "name"} {
			if v := get(key); v != "" {
				return v
			}
		}
		return ""
	}
}

// Timestamp returns the activity timestamp recorded on the node, or the
// zero time when none is set. Used for recency tie-breaks.
func (n *Node) Timestamp() time.Time {
	if v, ok := n.Attrs["timestamp"].(time.Time); ok {
		return v
	}
	if v, ok := n.Attrs["timestamp"].(string); ok {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			return t
		}
	}
	return time.Time{}
}

// Edge is a typed, directed relationship between two canonical nodes.
// Uniqueness is enforced on (From, Type, To); re-upserting an existing
// edge refreshes provenance only.
type Edge struct {
	From       string         `json:"from"`
	Type       EdgeType       `json:"type"`
	To         string         `json:"to"`
	Attrs      map[string]any `json:"attrs,omitempty"`
	Provenance Provenance     `json:"provenance"`
	Active     bool           `json:"active"`
}

// Provenance records which source reported a fact and when.
type Provenance struct {
	Source   Source    `json:"source"`
	SeenAt   time.Time `json:"seen_at"`
	EventRef string    `json:"event_ref,omitempty"`
}

// IdentityKey is a source-scoped unique reference to a person
// (github login, slack id, email address).
type IdentityKey struct {
	Source Source `json:"source"`
	Value  string `json:"value"`
}

// String renders the key in the canonical "source:value" form used for
// graph lookups and set membership.
func (k IdentityKey) String() string {
	return string(k.Source) + ":" + k.Value
}

// RawRecord is a normalized per-source entity record handed to the
// identity resolver. Connectors convert their payload variants into
// this one schema before any merge logic runs.
type RawRecord struct {
	Source      Source `json:"source"`
	SourceID    string `json:"source_id"`
	DisplayName string `json:"display_name,omitempty"`
	Email       string `json:"email,omitempty"`
	// ContextRef names the repository or channel the record was seen in,
	// used as co-occurrence evidence during fuzzy matching.
	ContextRef string    `json:"context_ref,omitempty"`
	SeenAt     time.Time `json:"seen_at"`
}

// Keys returns every identity key the record asserts.
func (r RawRecord) Keys() []IdentityKey {
	keys := []IdentityKey{{Source: r.Source, Value: r.SourceID}}
	if r.Email != "" {
		keys = append(keys, IdentityKey{Source: SourceEmail, Value: r.Email})
	}
	return keys
}

// Person is the canonical developer view assembled from node attributes.
type Person struct {
	ID              string   `json:"id"`
	DisplayName     string   `json:"display_name"`
	Org             string   `json:"org,omitempty"`
	Team            string   `json:"team,omitempty"`
	Manager         string   `json:"manager,omitempty"`
	Identities      []string `json:"identities"`
	Repositories    []string `json:"repositories,omitempty"`
	ActivitySummary string   `json:"activity_summary,omitempty"`
	TechStack       string   `json:"tech_stack,omitempty"`
}

// IngestResult reports what one ingestion batch changed.
type IngestResult struct {
	NodesUpserted int `json:"nodes_upserted"`
	EdgesUpserted int `json:"edges_upserted"`
}

// QueryRequest is the external query API request shape.
type QueryRequest struct {
	Query   string `json:"query"`
	History string `json:"history,omitempty"`
}

// QueryResponse is the external query API response shape.
type QueryResponse struct {
	Status   string        `json:"status"`
	Answer   string        `json:"answer"`
	Metadata QueryMetadata `json:"metadata"`
}

// QueryMetadata carries routing and synthesis observability fields.
// Mode qualifies how the answer was produced (generated, context_only,
// insufficient_information).
type QueryMetadata struct {
	NodeType   string  `json:"node_type"`
	Reason     string  `json:"reason"`
	Mode       string  `json:"mode,omitempty"`
	Confidence float64 `json:"confidence,omitempty"`
	Model      string  `json:"model,omitempty"`
}
