package embedding

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/teamscope/teamscope/internal/graph"
	"github.com/teamscope/teamscope/internal/models"
)

// Indexer embeds text-bearing nodes and writes vectors back through
// the graph store's SetEmbedding path. Embedding runs after the graph
// commit and never blocks it: a node that fails to embed stays in the
// graph, lands on the retry queue, and is simply invisible to vector
// search until re-embedded.
type Indexer struct {
	backend   graph.Backend
	embedder  Embedder
	queue     *Queue
	batchSize int
	log       *logrus.Entry
}

// IndexResult summarizes one indexing pass.
type IndexResult struct {
	Embedded int
	Skipped  int
	Failed   []string
}

func NewIndexer(backend graph.Backend, embedder Embedder, queue *Queue, batchSize int) *Indexer {
	if batchSize <= 0 {
		batchSize = 64
	}
	return &Indexer{
		backend:   backend,
		embedder:  embedder,
		queue:     queue,
		batchSize: batchSize,
		log:       logrus.WithField("component", "embedding_indexer"),
	}
}

// ModelVersion exposes the live embedding version.
func (idx *Indexer) ModelVersion() string { return idx.embedder.ModelVersion() }

// EmbedQuery embeds a single query string.
func (idx *Indexer) EmbedQuery(ctx context.Context, query string) ([]float32, error) {
	vecs, err := idx.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// IndexNodes embeds every text-bearing node in the slice, batched, with
// bounded parallelism across batches. Batch failures are isolated: the
// affected node IDs go on the retry queue and the pass continues.
func (idx *Indexer) IndexNodes(ctx context.Context, nodes []models.Node) IndexResult {
	type item struct {
		id   string
		text string
	}

	var items []item
	skipped := 0
	for _, node := range nodes {
		text := node.Text()
		if text == "" {
			skipped++
			continue
		}
		items = append(items, item{id: node.ID, text: text})
	}

	var mu sync.Mutex
	result := IndexResult{Skipped: skipped}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)

	for start := 0; start < len(items); start += idx.batchSize {
		end := start + idx.batchSize
		if end > len(items) {
			end = len(items)
		}
		batch := items[start:end]

		g.Go(func() error {
			texts := make([]string, len(batch))
			for i, it := range batch {
				texts[i] = it.text
			}

			vecs, err := idx.embedder.Embed(gctx, texts)
			if err != nil {
				idx.log.WithError(err).WithField("batch_size", len(batch)).
					Warn("Embedding batch failed, queueing for retry")
				ids := make([]string, len(batch))
				mu.Lock()
				for i, it := range batch {
					result.Failed = append(result.Failed, it.id)
					ids[i] = it.id
				}
				mu.Unlock()
				idx.enqueueIDs(ids)
				return nil
			}

			version := idx.embedder.ModelVersion()
			for i, it := range batch {
				if err := idx.backend.SetEmbedding(gctx, it.id, vecs[i], version); err != nil {
					idx.log.WithError(err).WithField("node_id", it.id).
						Warn("Failed to store embedding, queueing for retry")
					mu.Lock()
					result.Failed = append(result.Failed, it.id)
					mu.Unlock()
					idx.enqueueIDs([]string{it.id})
					continue
				}
				mu.Lock()
				result.Embedded++
				mu.Unlock()
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		idx.log.WithError(err).Error("Indexing pass aborted")
	}
	return result
}

func (idx *Indexer) enqueueIDs(ids []string) {
	if idx.queue == nil || len(ids) == 0 {
		return
	}
	if err := idx.queue.Enqueue(ids); err != nil {
		idx.log.WithError(err).Error("Failed to enqueue nodes for re-embedding")
	}
}

// DrainQueue re-embeds queued nodes, up to limit. Nodes that embed
// successfully leave the queue, as do nodes with nothing left to embed;
// only genuine failures stay for the next drain.
func (idx *Indexer) DrainQueue(ctx context.Context, limit int) (int, error) {
	if idx.queue == nil {
		return 0, nil
	}
	ids, err := idx.queue.List(limit)
	if err != nil {
		return 0, err
	}

	done := 0
	for _, id := range ids {
		node, err := idx.backend.GetNode(ctx, id)
		if err != nil {
			// Node gone; nothing left to embed.
			_ = idx.queue.Remove(id)
			continue
		}
		res := idx.IndexNodes(ctx, []models.Node{*node})
		switch {
		case res.Embedded > 0:
			if err := idx.queue.Remove(id); err != nil {
				return done, err
			}
			done++
		case res.Skipped > 0:
			// The node's text emptied since it was queued; keeping it
			// would re-list it on every drain.
			_ = idx.queue.Remove(id)
		}
	}
	return done, nil
}

// RefreshStale re-embeds nodes whose stored vector predates the live
// model version, up to limit per call. Until refreshed those nodes are
// excluded from vector search, not compared cross-version.
func (idx *Indexer) RefreshStale(ctx context.Context, limit int) (int, error) {
	ids, err := idx.backend.StaleNodes(ctx, idx.embedder.ModelVersion(), limit)
	if err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, nil
	}

	nodes := make([]models.Node, 0, len(ids))
	for _, id := range ids {
		node, err := idx.backend.GetNode(ctx, id)
		if err != nil {
			continue
		}
		nodes = append(nodes, *node)
	}

	res := idx.IndexNodes(ctx, nodes)
	idx.log.WithFields(logrus.Fields{
		"stale":       len(ids),
		"re_embedded": res.Embedded,
		"failed":      len(res.Failed),
	}).Info("Stale embedding refresh pass complete")
	return res.Embedded, nil
}

// CoverageByType reports embedded-node counts per searchable type under
// the live model version.
func (idx *Indexer) CoverageByType(ctx context.Context) (map[models.NodeType]int, error) {
	out := make(map[models.NodeType]int, len(models.SearchableTypes))
	for _, t := range models.SearchableTypes {
		count, err := idx.backend.CountEmbedded(ctx, t, idx.embedder.ModelVersion())
		if err != nil {
			return nil, err
		}
		out[t] = count
	}
	return out, nil
}
