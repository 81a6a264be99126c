package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"

	"github.com/teamscope/teamscope/internal/cache"
	"github.com/teamscope/teamscope/internal/embedding"
	"github.com/teamscope/teamscope/internal/graph"
	"github.com/teamscope/teamscope/internal/ingestion"
	"github.com/teamscope/teamscope/internal/retrieval"
	"github.com/teamscope/teamscope/internal/storage"
	"github.com/teamscope/teamscope/internal/synthesis"
)

// Server exposes the query and ingestion APIs over HTTP.
type Server struct {
	backend     graph.Backend
	retriever   *retrieval.Retriever
	synthesizer *synthesis.Synthesizer
	ingester    *ingestion.Service
	indexer     *embedding.Indexer
	answers     *cache.AnswerCache // optional
	ledger      storage.Store      // optional
	log         *logrus.Entry

	http *http.Server
}

// Deps carries the wired components the server serves.
type Deps struct {
	Backend     graph.Backend
	Retriever   *retrieval.Retriever
	Synthesizer *synthesis.Synthesizer
	Ingester    *ingestion.Service
	Indexer     *embedding.Indexer
	Answers     *cache.AnswerCache
	Ledger      storage.Store
}

func New(addr string, deps Deps) *Server {
	s := &Server{
		backend:     deps.Backend,
		retriever:   deps.Retriever,
		synthesizer: deps.Synthesizer,
		ingester:    deps.Ingester,
		indexer:     deps.Indexer,
		answers:     deps.Answers,
		ledger:      deps.Ledger,
		log:         logrus.WithField("component", "http_server"),
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(120 * time.Second))

	r.Get("/healthz", s.handleHealth)
	r.Route("/api", func(r chi.Router) {
		r.Post("/query", s.handleQuery)
		r.Post("/ingest/{source}", s.handleIngest)
		r.Get("/status", s.handleStatus)
		r.Get("/conflicts", s.handleConflicts)
	})

	s.http = &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler exposes the router, for tests.
func (s *Server) Handler() http.Handler { return s.http.Handler }

// ListenAndServe blocks serving requests until Shutdown or failure.
func (s *Server) ListenAndServe() error {
	s.log.WithField("addr", s.http.Addr).Info("HTTP server listening")
	err := s.http.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests and stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}
