package retrieval

import (
	"context"
	"sort"

	"github.com/teamscope/teamscope/internal/graph"
	"github.com/teamscope/teamscope/internal/models"
)

// expansionEdges restricts which edge types are worth following from
// each node type during expansion. Keeps hops on the ownership and
// authorship paths instead of wandering the whole graph.
var expansionEdges = map[models.NodeType][]models.EdgeType{
	models.NodeTypePerson: {
		models.EdgeAuthored, models.EdgeOwns, models.EdgeMemberOf, models.EdgeCommentedOn,
	},
	models.NodeTypePullRequest: {
		models.EdgeAuthored, models.EdgeCommentedOn, models.EdgeResolves, models.EdgeMentions,
	},
	models.NodeTypeIssue: {
		models.EdgeAuthored, models.EdgeCommentedOn, models.EdgeResolves, models.EdgeMentions,
	},
	models.NodeTypeCommit: {
		models.EdgeAuthored, models.EdgeMentions,
	},
	models.NodeTypeMessage: {
		models.EdgeAuthored, models.EdgeMentions, models.EdgeRepliedTo,
	},
	models.NodeTypeRepository: {
		models.EdgeOwns, models.EdgeAuthored,
	},
	models.NodeTypeTeam: {
		models.EdgeMemberOf, models.EdgeOwns,
	},
}

// expand grows the seed set by bounded breadth-first graph traversal.
// Each hop inherits a decayed share of its parent's score; every node
// appears once at its best score. The visit budget caps total work so
// a dense graph cannot blow up a single query.
func (r *Retriever) expand(ctx context.Context, seeds []graph.Hit) []Item {
	best := make(map[string]Item, len(seeds))

	type frontierEntry struct {
		id    string
		score float64
		hop   int
	}

	var frontier []frontierEntry
	for _, seed := range seeds {
		item, ok := best[seed.Node.ID]
		if !ok || seed.Score > item.Score {
			best[seed.Node.ID] = Item{Node: seed.Node, Score: seed.Score, Hop: 0}
			frontier = append(frontier, frontierEntry{id: seed.Node.ID, score: seed.Score, hop: 0})
		}
	}

	// Deterministic traversal order: best score first, then ID.
	sort.Slice(frontier, func(i, j int) bool {
		if frontier[i].score != frontier[j].score {
			return frontier[i].score > frontier[j].score
		}
		return frontier[i].id < frontier[j].id
	})

	visited := make(map[string]bool, len(frontier))
	budget := r.cfg.VisitBudget

	for len(frontier) > 0 && budget > 0 {
		entry := frontier[0]
		frontier = frontier[1:]

		if visited[entry.id] || entry.hop >= r.cfg.HopLimit {
			continue
		}
		visited[entry.id] = true
		budget--

		node := best[entry.id].Node
		neighbors, err := r.backend.Neighbors(ctx, entry.id, expansionEdges[node.Type])
		if err != nil {
			r.log.WithError(err).WithField("node_id", entry.id).Warn("Neighbor expansion failed")
			continue
		}

		childScore := entry.score * r.cfg.HopDecay
		childHop := entry.hop + 1
		for _, neighbor := range neighbors {
			existing, ok := best[neighbor.Node.ID]
			if ok && existing.Score >= childScore {
				continue
			}
			best[neighbor.Node.ID] = Item{Node: neighbor.Node, Score: childScore, Hop: childHop}
			if childHop < r.cfg.HopLimit {
				frontier = append(frontier, frontierEntry{id: neighbor.Node.ID, score: childScore, hop: childHop})
			}
		}
	}

	items := make([]Item, 0, len(best))
	for _, item := range best {
		items = append(items, item)
	}
	sortItems(items)

	limit := r.cfg.TopK * 2
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items
}

// sortItems orders by score descending, recency, then ID, mirroring
// vector hit ordering so the final ranking stays deterministic.
func sortItems(items []Item) {
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].Score != items[j].Score {
			return items[i].Score > items[j].Score
		}
		ti, tj := items[i].Node.Timestamp(), items[j].Node.Timestamp()
		if !ti.Equal(tj) {
			return ti.After(tj)
		}
		return items[i].Node.ID < items[j].Node.ID
	})
}
