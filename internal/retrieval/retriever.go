package retrieval

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/teamscope/teamscope/internal/config"
	tserrors "github.com/teamscope/teamscope/internal/errors"
	"github.com/teamscope/teamscope/internal/graph"
	"github.com/teamscope/teamscope/internal/models"
	"github.com/teamscope/teamscope/internal/router"
)

// QueryEmbedder is the slice of the indexer the retriever needs.
type QueryEmbedder interface {
	EmbedQuery(ctx context.Context, query string) ([]float32, error)
	ModelVersion() string
}

// Retriever runs hybrid retrieval: routed vector search seeds a
// hop-limited graph expansion, then everything is re-ranked into one
// deduplicated context. Deterministic for a fixed graph and model
// version.
type Retriever struct {
	backend  graph.Backend
	embedder QueryEmbedder
	router   *router.Router
	cfg      config.RetrievalConfig
	log      *logrus.Entry
}

// Item is one retrieved context entry. Hop 0 means vector seed.
type Item struct {
	Node  *models.Node
	Score float64
	Hop   int
}

// Result is the assembled retrieval context for one query.
type Result struct {
	Items     []Item
	Selection router.Selection
}

func New(backend graph.Backend, embedder QueryEmbedder, rt *router.Router, cfg config.RetrievalConfig) *Retriever {
	return &Retriever{
		backend:  backend,
		embedder: embedder,
		router:   rt,
		cfg:      cfg,
		log:      logrus.WithField("component", "hybrid_retriever"),
	}
}

// Retrieve answers a query with ranked graph context. Returns
// RetrievalEmpty when nothing clears the similarity floor, so the
// caller can say "insufficient information" instead of hallucinating.
func (r *Retriever) Retrieve(ctx context.Context, query string) (*Result, error) {
	selection := r.router.Route(query)

	vector, err := r.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, tserrors.GenerationError(err, "failed to embed query")
	}

	version := r.embedder.ModelVersion()
	var seeds []graph.Hit
	for _, t := range selection.Types {
		hits, err := r.backend.VectorSearch(ctx, t, vector, r.cfg.TopK, r.cfg.SimilarityFloor, version)
		if err != nil {
			return nil, err
		}
		seeds = append(seeds, hits...)
	}

	if len(seeds) == 0 {
		return &Result{Selection: selection}, tserrors.RetrievalEmpty(query)
	}

	items := r.expand(ctx, seeds)

	r.log.WithFields(logrus.Fields{
		"seeds": len(seeds),
		"items": len(items),
		"types": len(selection.Types),
	}).Debug("Retrieval complete")

	return &Result{Items: items, Selection: selection}, nil
}
