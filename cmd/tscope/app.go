package main

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/teamscope/teamscope/internal/cache"
	"github.com/teamscope/teamscope/internal/config"
	"github.com/teamscope/teamscope/internal/embedding"
	"github.com/teamscope/teamscope/internal/graph"
	"github.com/teamscope/teamscope/internal/identity"
	"github.com/teamscope/teamscope/internal/ingestion"
	"github.com/teamscope/teamscope/internal/llm"
	"github.com/teamscope/teamscope/internal/retrieval"
	"github.com/teamscope/teamscope/internal/router"
	"github.com/teamscope/teamscope/internal/storage"
	"github.com/teamscope/teamscope/internal/synthesis"
)

// app holds the wired component graph for one command invocation.
type app struct {
	cfg         *config.Config
	backend     graph.Backend
	ledger      storage.Store
	queue       *embedding.Queue
	audit       *identity.AuditJournal
	indexer     *embedding.Indexer
	resolver    *identity.Resolver
	ingester    *ingestion.Service
	retriever   *retrieval.Retriever
	synthesizer *synthesis.Synthesizer
	answers     *cache.AnswerCache
	limiter     *llm.RateLimiter
}

// buildApp wires every component from configuration. Optional pieces
// (Redis, generation provider, ledger) degrade to nil with a warning
// instead of failing startup; the graph store is required.
func buildApp(ctx context.Context, cfg *config.Config) (*app, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	a := &app{cfg: cfg}

	switch cfg.Graph.Backend {
	case "memory":
		a.backend = graph.NewMemoryBackend()
	case "neo4j":
		backend, err := graph.NewNeo4jBackend(ctx, cfg.Graph, cfg.Embedding.Dimensions)
		if err != nil {
			return nil, fmt.Errorf("graph store: %w", err)
		}
		a.backend = backend
	default:
		return nil, fmt.Errorf("unknown graph backend: %s", cfg.Graph.Backend)
	}

	if err := a.backend.EnsureIndexes(ctx); err != nil {
		a.close(ctx)
		return nil, fmt.Errorf("ensure indexes: %w", err)
	}

	embedder, err := embedding.New(cfg.Embedding, cfg.API.OpenAIKey)
	if err != nil {
		a.close(ctx)
		return nil, err
	}

	if cfg.Embedding.QueuePath != "" {
		if a.queue, err = embedding.OpenQueue(cfg.Embedding.QueuePath); err != nil {
			logrus.WithError(err).Warn("Embedding retry queue unavailable")
		}
	}
	a.indexer = embedding.NewIndexer(a.backend, embedder, a.queue, cfg.Embedding.BatchSize)

	if cfg.Identity.AuditPath != "" {
		if a.audit, err = identity.OpenAuditJournal(cfg.Identity.AuditPath); err != nil {
			logrus.WithError(err).Warn("Identity audit journal unavailable")
		}
	}
	a.resolver = identity.NewResolver(a.backend, a.audit, cfg.Identity)

	switch cfg.Storage.Type {
	case "postgres":
		if a.ledger, err = storage.NewPostgres(cfg.Storage.PostgresDSN); err != nil {
			logrus.WithError(err).Warn("Postgres ledger unavailable, continuing without it")
		}
	case "sqlite":
		if a.ledger, err = storage.NewSQLite(cfg.Storage.LocalPath); err != nil {
			logrus.WithError(err).Warn("SQLite ledger unavailable, continuing without it")
		}
	}

	a.ingester = ingestion.NewService(a.backend, a.resolver, a.indexer, a.ledger)
	a.retriever = retrieval.New(a.backend, a.indexer, router.New(cfg.Router), cfg.Retrieval)

	var generator llm.Generator
	if cfg.API.Provider != "" {
		if generator, err = llm.New(ctx, cfg.API); err != nil {
			logrus.WithError(err).Warn("Generation provider unavailable, answers will be context-only")
			generator = nil
		}
	}

	if cfg.Cache.RedisHost != "" {
		redisAddr := fmt.Sprintf("%s:%d", cfg.Cache.RedisHost, cfg.Cache.RedisPort)
		if a.limiter, err = llm.NewRateLimiter(redisAddr, cfg.Cache.RedisPassword); err != nil {
			logrus.WithError(err).Warn("Redis rate limiter unavailable")
		}
		if a.answers, err = cache.New(cfg.Cache); err != nil {
			logrus.WithError(err).Warn("Answer cache unavailable")
		}
	}

	a.synthesizer = synthesis.New(generator, a.limiter, cfg.API.Timeout)
	return a, nil
}

func (a *app) close(ctx context.Context) {
	if a.answers != nil {
		_ = a.answers.Close()
	}
	if a.limiter != nil {
		_ = a.limiter.Close()
	}
	if a.ledger != nil {
		_ = a.ledger.Close()
	}
	if a.audit != nil {
		_ = a.audit.Close()
	}
	if a.queue != nil {
		_ = a.queue.Close()
	}
	if a.backend != nil {
		_ = a.backend.Close(ctx)
	}
}
