package ingestion

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/teamscope/teamscope/internal/embedding"
	tserrors "github.com/teamscope/teamscope/internal/errors"
	"github.com/teamscope/teamscope/internal/graph"
	"github.com/teamscope/teamscope/internal/identity"
	"github.com/teamscope/teamscope/internal/models"
	"github.com/teamscope/teamscope/internal/storage"
)

// Service turns per-source payloads into canonical graph writes.
//
// One payload becomes one atomic batch: parse, resolve identities,
// apply every node and edge in a single transaction, then embed. A
// malformed payload is rejected before anything is written, and a
// store failure after retries leaves the graph untouched so the
// payload can be redelivered.
type Service struct {
	backend  graph.Backend
	resolver *identity.Resolver
	indexer  *embedding.Indexer
	ledger   storage.Store
	log      *logrus.Entry
}

func NewService(backend graph.Backend, resolver *identity.Resolver, indexer *embedding.Indexer, ledger storage.Store) *Service {
	return &Service{
		backend:  backend,
		resolver: resolver,
		indexer:  indexer,
		ledger:   ledger,
		log:      logrus.WithField("component", "ingestion"),
	}
}

// draft is a parsed payload awaiting identity resolution. Parsers emit
// non-person nodes and edges whose person endpoint is a personRef
// placeholder the service fills in after resolution.
type draft struct {
	nodes []models.Node
	edges []edgeDraft
}

// edgeDraft is an edge whose From or To may reference a person by raw
// record instead of canonical ID.
type edgeDraft struct {
	edge models.Edge
	// fromPerson / toPerson, when non-nil, override the corresponding
	// endpoint with the resolved canonical Person ID.
	fromPerson *models.RawRecord
	toPerson   *models.RawRecord
}

// Ingest processes one payload for a source. Returns what changed.
func (s *Service) Ingest(ctx context.Context, source models.Source, payload []byte) (*models.IngestResult, error) {
	started := time.Now()

	var d *draft
	var err error
	switch source {
	case models.SourceGitHub:
		d, err = parseGitHubPayload(payload)
	case models.SourceSlack:
		d, err = parseSlackPayload(payload)
	default:
		err = tserrors.IngestionError(nil, "unknown ingestion source: %s", source)
	}
	if err != nil {
		s.recordBatch(ctx, source, "rejected", 0, 0, err)
		return nil, err
	}

	batch, conflicts, err := s.resolve(ctx, d)
	if err != nil {
		s.recordBatch(ctx, source, "rejected", 0, 0, err)
		return nil, err
	}

	if err := s.backend.ApplyBatch(ctx, *batch); err != nil {
		s.recordBatch(ctx, source, "failed", 0, 0, err)
		return nil, err
	}

	for _, conflict := range conflicts {
		s.recordConflict(ctx, source, conflict)
	}

	// Embedding runs after the commit and never blocks it. Failed nodes
	// go on the retry queue and stay out of vector search until then.
	if s.indexer != nil {
		res := s.indexer.IndexNodes(ctx, batch.Nodes)
		if len(res.Failed) > 0 {
			s.log.WithFields(logrus.Fields{
				"failed": len(res.Failed),
				"source": source,
			}).Warn("Some nodes not embedded, queued for retry")
		}
	}

	result := &models.IngestResult{
		NodesUpserted: len(batch.Nodes),
		EdgesUpserted: len(batch.Edges),
	}
	s.recordBatch(ctx, source, "committed", result.NodesUpserted, result.EdgesUpserted, nil)

	s.log.WithFields(logrus.Fields{
		"source":    source,
		"nodes":     result.NodesUpserted,
		"edges":     result.EdgesUpserted,
		"conflicts": len(conflicts),
		"duration":  time.Since(started).String(),
	}).Info("Ingested payload")
	return result, nil
}

// resolve maps every person reference in the draft to a canonical ID
// and assembles the final atomic batch.
func (s *Service) resolve(ctx context.Context, d *draft) (*graph.Batch, []error, error) {
	batch := &graph.Batch{Nodes: d.nodes}
	var conflicts []error

	// Identity keys claimed earlier in this payload pin the person. The
	// backend only sees these writes after the batch commits, so a later
	// record sharing any key (source id or email) must not re-resolve
	// and split into a second Person.
	resolved := make(map[string]string)

	resolveRecord := func(record *models.RawRecord) (string, error) {
		keys := record.Keys()

		personID := ""
		unseen := false
		for _, key := range keys {
			id, ok := resolved[key.String()]
			if !ok {
				unseen = true
				continue
			}
			switch {
			case personID == "":
				personID = id
			case id != personID:
				// Two staged Persons claim this record's keys. Keep the
				// first, same as the resolver does for committed data.
				conflicts = append(conflicts, tserrors.IdentityConflict(key.String(), personID, id))
			}
		}

		if personID != "" {
			if unseen {
				res := s.resolver.Attach(ctx, personID, *record)
				batch.Nodes = append(batch.Nodes, res.Upsert)
			}
			for _, key := range keys {
				if _, ok := resolved[key.String()]; !ok {
					resolved[key.String()] = personID
				}
			}
			return personID, nil
		}

		res, err := s.resolver.Resolve(ctx, *record)
		if err != nil {
			return "", err
		}
		if res.Conflict != nil {
			conflicts = append(conflicts, res.Conflict)
		}
		for _, key := range keys {
			resolved[key.String()] = res.PersonID
		}
		batch.Nodes = append(batch.Nodes, res.Upsert)
		return res.PersonID, nil
	}

	for _, ed := range d.edges {
		edge := ed.edge
		if ed.fromPerson != nil {
			id, err := resolveRecord(ed.fromPerson)
			if err != nil {
				return nil, nil, err
			}
			edge.From = id
		}
		if ed.toPerson != nil {
			id, err := resolveRecord(ed.toPerson)
			if err != nil {
				return nil, nil, err
			}
			edge.To = id
		}
		edge.Active = true
		batch.Edges = append(batch.Edges, edge)
	}

	return batch, conflicts, nil
}

func (s *Service) recordBatch(ctx context.Context, source models.Source, status string, nodes, edges int, cause error) {
	if s.ledger == nil {
		return
	}
	entry := storage.BatchRecord{
		Source: string(source),
		Status: status,
		Nodes:  nodes,
		Edges:  edges,
	}
	if cause != nil {
		entry.Error = cause.Error()
	}
	if err := s.ledger.RecordBatch(ctx, entry); err != nil {
		s.log.WithError(err).Warn("Failed to record ingestion batch")
	}
}

func (s *Service) recordConflict(ctx context.Context, source models.Source, conflict error) {
	if s.ledger == nil {
		return
	}
	if err := s.ledger.RecordConflict(ctx, string(source), conflict.Error()); err != nil {
		s.log.WithError(err).Warn("Failed to record identity conflict")
	}
}
