package ingestion

import (
	"encoding/json"
	"fmt"
	"time"

	tserrors "github.com/teamscope/teamscope/internal/errors"
	"github.com/teamscope/teamscope/internal/models"
)

// Slack payload shapes for POST /api/ingest/slack.

type slackPayload struct {
	Channel  string         `json:"channel"`
	Messages []slackMessage `json:"messages"`
}

type slackMessage struct {
	TS       string    `json:"ts"`
	UserID   string    `json:"user_id"`
	UserName string    `json:"user_name,omitempty"`
	Email    string    `json:"email,omitempty"`
	Text     string    `json:"text"`
	ThreadTS string    `json:"thread_ts,omitempty"`
	SentAt   time.Time `json:"sent_at"`
	// Mentions are slack user IDs referenced in the message.
	Mentions []slackMention `json:"mentions,omitempty"`
}

type slackMention struct {
	UserID   string `json:"user_id"`
	UserName string `json:"user_name,omitempty"`
}

// parseSlackPayload validates and converts one Slack payload. The
// whole payload is rejected on any structural problem.
func parseSlackPayload(data []byte) (*draft, error) {
	var p slackPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, tserrors.IngestionError(err, "malformed slack payload")
	}
	if p.Channel == "" {
		return nil, tserrors.IngestionError(nil, "slack payload missing channel")
	}

	d := &draft{}
	now := time.Now().UTC()

	msgID := func(ts string) string {
		return fmt.Sprintf("msg:%s:%s", p.Channel, ts)
	}

	for i, msg := range p.Messages {
		if msg.TS == "" || msg.UserID == "" {
			return nil, tserrors.IngestionError(nil, "slack message %d missing ts or user_id", i)
		}
		sentAt := msg.SentAt
		if sentAt.IsZero() {
			sentAt = now
		}

		id := msgID(msg.TS)
		d.nodes = append(d.nodes, models.Node{
			ID:   id,
			Type: models.NodeTypeMessage,
			Attrs: map[string]any{
				"text":      msg.Text,
				"channel":   p.Channel,
				"author":    msg.UserName,
				"timestamp": sentAt.UTC(),
			},
			Active:    true,
			UpdatedAt: sentAt.UTC(),
		})

		prov := models.Provenance{Source: models.SourceSlack, SeenAt: sentAt.UTC(), EventRef: id}

		author := &models.RawRecord{
			Source:      models.SourceSlack,
			SourceID:    msg.UserID,
			DisplayName: msg.UserName,
			Email:       msg.Email,
			ContextRef:  p.Channel,
			SeenAt:      sentAt.UTC(),
		}
		d.edges = append(d.edges, edgeDraft{
			edge:       models.Edge{Type: models.EdgeAuthored, To: id, Provenance: prov},
			fromPerson: author,
		})

		if msg.ThreadTS != "" && msg.ThreadTS != msg.TS {
			parentID := msgID(msg.ThreadTS)
			d.edges = append(d.edges, edgeDraft{
				edge: models.Edge{From: id, Type: models.EdgeRepliedTo, To: parentID, Provenance: prov},
			})
		}

		for _, mention := range msg.Mentions {
			if mention.UserID == "" {
				return nil, tserrors.IngestionError(nil, "slack message %s has a mention without user_id", msg.TS)
			}
			record := &models.RawRecord{
				Source:      models.SourceSlack,
				SourceID:    mention.UserID,
				DisplayName: mention.UserName,
				ContextRef:  p.Channel,
				SeenAt:      sentAt.UTC(),
			}
			d.edges = append(d.edges, edgeDraft{
				edge:     models.Edge{From: id, Type: models.EdgeMentions, Provenance: prov},
				toPerson: record,
			})
		}
	}

	addThreadStubs(d, p.Channel, now)
	return d, nil
}

// addThreadStubs creates minimal Message nodes for thread parents that
// are not part of this payload, so reply edges never dangle.
func addThreadStubs(d *draft, channel string, now time.Time) {
	present := make(map[string]bool, len(d.nodes))
	for _, node := range d.nodes {
		present[node.ID] = true
	}
	for _, ed := range d.edges {
		if ed.edge.Type != models.EdgeRepliedTo || ed.edge.To == "" || present[ed.edge.To] {
			continue
		}
		present[ed.edge.To] = true
		d.nodes = append(d.nodes, models.Node{
			ID:        ed.edge.To,
			Type:      models.NodeTypeMessage,
			Attrs:     map[string]any{"channel": channel},
			Active:    true,
			UpdatedAt: now,
		})
	}
}
