package router

import (
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/teamscope/teamscope/internal/config"
	"github.com/teamscope/teamscope/internal/models"
)

// Router picks which per-type vector indexes a query should search.
// Scoring is keyword-table based and fully deterministic: the same
// query always routes the same way. When no type clears the confidence
// threshold the router widens to every searchable type rather than
// guessing.
type Router struct {
	cfg config.RouterConfig
	log *logrus.Entry
}

// Selection is a routing decision.
type Selection struct {
	Types      []models.NodeType
	Confidence float64
	// Reason is a short routing explanation surfaced in query metadata.
	Reason string
}

// typeKeywords maps each searchable node type to the query vocabulary
// that indicates it. Weight 2 terms are strong signals, weight 1 are
// supporting ones.
var typeKeywords = map[models.NodeType]map[string]int{
	models.NodeTypePerson: {
		"who": 2, "owner": 2, "owns": 2, "maintainer": 2, "responsible": 2,
		"expert": 2, "person": 2, "people": 2, "developer": 1, "engineer": 1,
		"team": 1, "contact": 1, "ask": 1, "knows": 1, "worked": 1,
	},
	models.NodeTypePullRequest: {
		"pr": 2, "prs": 2, "pull": 2, "review": 2, "reviewed": 2,
		"merged": 2, "merge": 1, "approved": 1, "branch": 1, "diff": 1,
	},
	models.NodeTypeIssue: {
		"issue": 2, "issues": 2, "bug": 2, "bugs": 2, "ticket": 2,
		"reported": 1, "broken": 1, "regression": 1, "feature": 1, "request": 1,
	},
	models.NodeTypeCommit: {
		"commit": 2, "commits": 2, "changed": 2, "change": 1, "changes": 1,
		"modified": 1, "touched": 1, "history": 1, "blame": 1, "refactored": 1,
	},
	models.NodeTypeMessage: {
		"message": 2, "messages": 2, "discussed": 2, "discussion": 2,
		"slack": 2, "channel": 2, "thread": 1, "said": 1, "mentioned": 1,
		"conversation": 1, "talked": 1,
	},
}

func New(cfg config.RouterConfig) *Router {
	return &Router{
		cfg: cfg,
		log: logrus.WithField("component", "index_router"),
	}
}

// Route scores the query against each type's keyword table and returns
// the selected types. Candidates within epsilon of the best score are
// searched too, up to MaxCandidates; ties break on the fixed type
// priority order.
func (r *Router) Route(query string) Selection {
	scores := r.score(query)

	total := 0
	best := 0
	for _, s := range scores {
		total += s
		if s > best {
			best = s
		}
	}

	if total == 0 {
		return Selection{
			Types:      append([]models.NodeType(nil), models.SearchableTypes...),
			Confidence: 0,
			Reason:     "no routing signal, searching all types",
		}
	}

	confidence := float64(best) / float64(total)
	if confidence < r.cfg.ConfidenceThreshold {
		return Selection{
			Types:      append([]models.NodeType(nil), models.SearchableTypes...),
			Confidence: confidence,
			Reason:     "ambiguous routing signal, searching all types",
		}
	}

	// Collect types within epsilon of the best, in priority order.
	epsilon := int(r.cfg.Epsilon * float64(total))
	var selected []models.NodeType
	for _, t := range models.SearchableTypes {
		if scores[t] > 0 && best-scores[t] <= epsilon {
			selected = append(selected, t)
		}
		if r.cfg.MaxCandidates > 0 && len(selected) >= r.cfg.MaxCandidates {
			break
		}
	}

	reason := "keyword routing to " + joinTypes(selected)
	r.log.WithFields(logrus.Fields{
		"types":      joinTypes(selected),
		"confidence": confidence,
	}).Debug("Routed query")

	return Selection{Types: selected, Confidence: confidence, Reason: reason}
}

func (r *Router) score(query string) map[models.NodeType]int {
	tokens := strings.Fields(strings.ToLower(query))
	scores := make(map[models.NodeType]int, len(typeKeywords))
	for _, token := range tokens {
		token = strings.Trim(token, ".,!?'\"()[]:;")
		for t, table := range typeKeywords {
			if w, ok := table[token]; ok {
				scores[t] += w
			}
		}
	}
	return scores
}

func joinTypes(types []models.NodeType) string {
	parts := make([]string, len(types))
	for i, t := range types {
		parts[i] = string(t)
	}
	return strings.Join(parts, ",")
}
