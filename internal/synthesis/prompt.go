package synthesis

import (
	"fmt"
	"strings"

	"github.com/teamscope/teamscope/internal/models"
	"github.com/teamscope/teamscope/internal/retrieval"
)

const systemPreamble = `You answer questions about a development team using only the graph context below.
Rules:
- Ground every claim in the context. Never invent people, repositories, or events.
- When the context names a person, refer to them by display name.
- If the context does not support an answer, say that the available data is insufficient.
- Be concise: a short paragraph, or a short list when several people are involved.`

// buildPrompt renders the retrieved context into a grounded prompt.
// Items arrive ranked; position in the prompt reflects rank.
func buildPrompt(query, history string, items []retrieval.Item) string {
	var b strings.Builder
	b.WriteString(systemPreamble)
	b.WriteString("\n\n## Graph context\n")

	for i, item := range items {
		fmt.Fprintf(&b, "\n[%d] %s (relevance %.2f", i+1, item.Node.Type, item.Score)
		if item.Hop > 0 {
			fmt.Fprintf(&b, ", linked at %d hop(s)", item.Hop)
		}
		b.WriteString(")\n")
		b.WriteString(renderNode(item.Node))
	}

	if history != "" {
		b.WriteString("\n## Conversation so far\n")
		b.WriteString(history)
		b.WriteString("\n")
	}

	b.WriteString("\n## Question\n")
	b.WriteString(query)
	b.WriteString("\n\nAnswer:")
	return b.String()
}

// promptAttrs are the attributes worth showing the model, per type.
var promptAttrs = map[models.NodeType][]string{
	models.NodeTypePerson:      {"display_name", "team", "org", "repositories", "activity_summary", "tech_stack"},
	models.NodeTypePullRequest: {"title", "repository", "state", "author", "merged_at"},
	models.NodeTypeIssue:       {"title", "repository", "state", "author"},
	models.NodeTypeCommit:      {"message", "repository", "author"},
	models.NodeTypeMessage:     {"text", "channel", "author"},
	models.NodeTypeRepository:  {"name", "description", "language"},
	models.NodeTypeTeam:        {"name", "description"},
}

func renderNode(node *models.Node) string {
	var b strings.Builder
	keys := promptAttrs[node.Type]
	if len(keys) == 0 {
		keys = []string{"name", "title", "text"}
	}
	for _, key := range keys {
		v, ok := node.Attrs[key]
		if !ok {
			continue
		}
		switch vv := v.(type) {
		case string:
			if vv != "" {
				fmt.Fprintf(&b, "  %s: %s\n", key, vv)
			}
		case []string:
			if len(vv) > 0 {
				fmt.Fprintf(&b, "  %s: %s\n", key, strings.Join(vv, ", "))
			}
		case []any:
			parts := make([]string, 0, len(vv))
			for _, item := range vv {
				if s, ok := item.(string); ok {
					parts = append(parts, s)
				}
			}
			if len(parts) > 0 {
				fmt.Fprintf(&b, "  %s: %s\n", key, strings.Join(parts, ", "))
			}
		default:
			fmt.Fprintf(&b, "  %s: %v\n", key, v)
		}
	}
	return b.String()
}

// contextOnlyAnswer renders a readable fallback from the retrieved
// items when generation is unavailable.
func contextOnlyAnswer(items []retrieval.Item) string {
	var b strings.Builder
	b.WriteString("Answer generation is currently unavailable. The most relevant records found:\n")
	limit := 5
	if len(items) < limit {
		limit = len(items)
	}
	for _, item := range items[:limit] {
		label := item.Node.Text()
		if label == "" {
			if name, ok := item.Node.Attrs["display_name"].(string); ok {
				label = name
			} else {
				label = item.Node.ID
			}
		}
		if len(label) > 160 {
			label = label[:160] + "..."
		}
		fmt.Fprintf(&b, "- %s: %s\n", item.Node.Type, label)
	}
	return b.String()
}
