package ingestion

import (
	"encoding/json"
	"fmt"
	"time"

	tserrors "github.com/teamscope/teamscope/internal/errors"
	"github.com/teamscope/teamscope/internal/models"
)

// GitHub payload shapes for POST /api/ingest/github. Connectors and
// external callers both use this schema.

type githubPayload struct {
	Repository   githubRepo     `json:"repository"`
	PullRequests []githubPR     `json:"pull_requests,omitempty"`
	Issues       []githubIssue  `json:"issues,omitempty"`
	Commits      []githubCommit `json:"commits,omitempty"`
	Teams        []githubTeam   `json:"teams,omitempty"`
}

type githubRepo struct {
	FullName    string   `json:"full_name"`
	Description string   `json:"description,omitempty"`
	Language    string   `json:"language,omitempty"`
	Owners      []string `json:"owners,omitempty"` // GitHub logins
}

type githubActor struct {
	Login string `json:"login"`
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
}

type githubComment struct {
	Author    githubActor `json:"author"`
	CreatedAt time.Time   `json:"created_at"`
}

type githubPR struct {
	Number    int             `json:"number"`
	Title     string          `json:"title"`
	Body      string          `json:"body,omitempty"`
	State     string          `json:"state"`
	Author    githubActor     `json:"author"`
	CreatedAt time.Time       `json:"created_at"`
	MergedAt  *time.Time      `json:"merged_at,omitempty"`
	Closes    []int           `json:"closes,omitempty"` // issue numbers
	Mentions  []string        `json:"mentions,omitempty"`
	Comments  []githubComment `json:"comments,omitempty"`
}

type githubIssue struct {
	Number    int             `json:"number"`
	Title     string          `json:"title"`
	Body      string          `json:"body,omitempty"`
	State     string          `json:"state"`
	Author    githubActor     `json:"author"`
	CreatedAt time.Time       `json:"created_at"`
	Comments  []githubComment `json:"comments,omitempty"`
}

type githubCommit struct {
	SHA       string      `json:"sha"`
	Message   string      `json:"message"`
	Author    githubActor `json:"author"`
	Timestamp time.Time   `json:"timestamp"`
}

type githubTeam struct {
	Name         string   `json:"name"`
	Description  string   `json:"description,omitempty"`
	Members      []string `json:"members,omitempty"`      // GitHub logins
	Repositories []string `json:"repositories,omitempty"` // full names
}

// parseGitHubPayload validates and converts one GitHub payload into a
// draft. Any structural problem rejects the whole payload before a
// single write happens.
func parseGitHubPayload(data []byte) (*draft, error) {
	var p githubPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, tserrors.IngestionError(err, "malformed github payload")
	}
	if p.Repository.FullName == "" {
		return nil, tserrors.IngestionError(nil, "github payload missing repository.full_name")
	}

	d := &draft{}
	repoID := "repo:" + p.Repository.FullName
	now := time.Now().UTC()

	d.nodes = append(d.nodes, models.Node{
		ID:   repoID,
		Type: models.NodeTypeRepository,
		Attrs: map[string]any{
			"name":        p.Repository.FullName,
			"description": p.Repository.Description,
			"language":    p.Repository.Language,
		},
		Active:    true,
		UpdatedAt: now,
	})

	prov := func(seenAt time.Time, ref string) models.Provenance {
		if seenAt.IsZero() {
			seenAt = now
		}
		return models.Provenance{Source: models.SourceGitHub, SeenAt: seenAt, EventRef: ref}
	}

	actorRecord := func(actor githubActor, seenAt time.Time) (*models.RawRecord, error) {
		if actor.Login == "" {
			return nil, tserrors.IngestionError(nil, "github payload actor missing login")
		}
		name := actor.Name
		if name == "" {
			name = actor.Login
		}
		if seenAt.IsZero() {
			seenAt = now
		}
		return &models.RawRecord{
			Source:      models.SourceGitHub,
			SourceID:    actor.Login,
			DisplayName: name,
			Email:       actor.Email,
			ContextRef:  p.Repository.FullName,
			SeenAt:      seenAt,
		}, nil
	}

	for _, login := range p.Repository.Owners {
		record, err := actorRecord(githubActor{Login: login}, now)
		if err != nil {
			return nil, err
		}
		d.edges = append(d.edges, edgeDraft{
			edge: models.Edge{
				Type:       models.EdgeOwns,
				To:         repoID,
				Provenance: prov(now, repoID),
			},
			fromPerson: record,
		})
	}

	for _, pr := range p.PullRequests {
		prID := fmt.Sprintf("pr:%s#%d", p.Repository.FullName, pr.Number)
		attrs := map[string]any{
			"title":      pr.Title,
			"body":       pr.Body,
			"state":      pr.State,
			"repository": p.Repository.FullName,
			"author":     pr.Author.Login,
			"timestamp":  pr.CreatedAt.UTC(),
		}
		if pr.MergedAt != nil {
			attrs["merged_at"] = pr.MergedAt.UTC()
		}
		d.nodes = append(d.nodes, models.Node{
			ID: prID, Type: models.NodeTypePullRequest,
			Attrs: attrs, Active: true, UpdatedAt: pr.CreatedAt.UTC(),
		})

		author, err := actorRecord(pr.Author, pr.CreatedAt)
		if err != nil {
			return nil, err
		}
		d.edges = append(d.edges, edgeDraft{
			edge:       models.Edge{Type: models.EdgeAuthored, To: prID, Provenance: prov(pr.CreatedAt, prID)},
			fromPerson: author,
		})

		for _, issueNumber := range pr.Closes {
			issueID := fmt.Sprintf("issue:%s#%d", p.Repository.FullName, issueNumber)
			d.edges = append(d.edges, edgeDraft{
				edge: models.Edge{From: prID, Type: models.EdgeResolves, To: issueID, Provenance: prov(pr.CreatedAt, prID)},
			})
		}

		for _, login := range pr.Mentions {
			record, err := actorRecord(githubActor{Login: login}, pr.CreatedAt)
			if err != nil {
				return nil, err
			}
			d.edges = append(d.edges, edgeDraft{
				edge:     models.Edge{From: prID, Type: models.EdgeMentions, Provenance: prov(pr.CreatedAt, prID)},
				toPerson: record,
			})
		}

		for _, comment := range pr.Comments {
			record, err := actorRecord(comment.Author, comment.CreatedAt)
			if err != nil {
				return nil, err
			}
			d.edges = append(d.edges, edgeDraft{
				edge:       models.Edge{Type: models.EdgeCommentedOn, To: prID, Provenance: prov(comment.CreatedAt, prID)},
				fromPerson: record,
			})
		}
	}

	for _, issue := range p.Issues {
		issueID := fmt.Sprintf("issue:%s#%d", p.Repository.FullName, issue.Number)
		d.nodes = append(d.nodes, models.Node{
			ID: issueID, Type: models.NodeTypeIssue,
			Attrs: map[string]any{
				"title":      issue.Title,
				"body":       issue.Body,
				"state":      issue.State,
				"repository": p.Repository.FullName,
				"author":     issue.Author.Login,
				"timestamp":  issue.CreatedAt.UTC(),
			},
			Active: true, UpdatedAt: issue.CreatedAt.UTC(),
		})

		author, err := actorRecord(issue.Author, issue.CreatedAt)
		if err != nil {
			return nil, err
		}
		d.edges = append(d.edges, edgeDraft{
			edge:       models.Edge{Type: models.EdgeAuthored, To: issueID, Provenance: prov(issue.CreatedAt, issueID)},
			fromPerson: author,
		})

		for _, comment := range issue.Comments {
			record, err := actorRecord(comment.Author, comment.CreatedAt)
			if err != nil {
				return nil, err
			}
			d.edges = append(d.edges, edgeDraft{
				edge:       models.Edge{Type: models.EdgeCommentedOn, To: issueID, Provenance: prov(comment.CreatedAt, issueID)},
				fromPerson: record,
			})
		}
	}

	for _, commit := range p.Commits {
		if commit.SHA == "" {
			return nil, tserrors.IngestionError(nil, "github payload commit missing sha")
		}
		commitID := "commit:" + commit.SHA
		d.nodes = append(d.nodes, models.Node{
			ID: commitID, Type: models.NodeTypeCommit,
			Attrs: map[string]any{
				"message":    commit.Message,
				"repository": p.Repository.FullName,
				"author":     commit.Author.Login,
				"timestamp":  commit.Timestamp.UTC(),
			},
			Active: true, UpdatedAt: commit.Timestamp.UTC(),
		})

		author, err := actorRecord(commit.Author, commit.Timestamp)
		if err != nil {
			return nil, err
		}
		d.edges = append(d.edges, edgeDraft{
			edge:       models.Edge{Type: models.EdgeAuthored, To: commitID, Provenance: prov(commit.Timestamp, commitID)},
			fromPerson: author,
		})
	}

	for _, team := range p.Teams {
		if team.Name == "" {
			return nil, tserrors.IngestionError(nil, "github payload team missing name")
		}
		teamID := "team:" + team.Name
		d.nodes = append(d.nodes, models.Node{
			ID: teamID, Type: models.NodeTypeTeam,
			Attrs: map[string]any{
				"name":        team.Name,
				"description": team.Description,
			},
			Active: true, UpdatedAt: now,
		})

		for _, login := range team.Members {
			record, err := actorRecord(githubActor{Login: login}, now)
			if err != nil {
				return nil, err
			}
			d.edges = append(d.edges, edgeDraft{
				edge:       models.Edge{Type: models.EdgeMemberOf, To: teamID, Provenance: prov(now, teamID)},
				fromPerson: record,
			})
		}
		for _, repo := range team.Repositories {
			d.edges = append(d.edges, edgeDraft{
				edge: models.Edge{From: teamID, Type: models.EdgeOwns, To: "repo:" + repo, Provenance: prov(now, teamID)},
			})
		}
	}

	addReferencedStubs(d, p.Repository.FullName, now)
	return d, nil
}

// addReferencedStubs creates minimal nodes for edge endpoints the
// payload references but does not define (an issue a PR closes, a
// repository a team owns) so the batch never dangles. A later payload
// carrying the real record merges over the stub.
func addReferencedStubs(d *draft, repoFullName string, now time.Time) {
	present := make(map[string]bool, len(d.nodes))
	for _, node := range d.nodes {
		present[node.ID] = true
	}

	stub := func(id string, t models.NodeType, attrs map[string]any) {
		if present[id] {
			return
		}
		present[id] = true
		d.nodes = append(d.nodes, models.Node{
			ID: id, Type: t, Attrs: attrs, Active: true, UpdatedAt: now,
		})
	}

	for _, ed := range d.edges {
		for _, endpoint := range []string{ed.edge.From, ed.edge.To} {
			switch {
			case endpoint == "" || present[endpoint]:
			case len(endpoint) > 6 && endpoint[:6] == "issue:":
				stub(endpoint, models.NodeTypeIssue, map[string]any{"repository": repoFullName})
			case len(endpoint) > 5 && endpoint[:5] == "repo:":
				stub(endpoint, models.NodeTypeRepository, map[string]any{"name": endpoint[5:]})
			}
		}
	}
}
