package server

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	tserrors "github.com/teamscope/teamscope/internal/errors"
	"github.com/teamscope/teamscope/internal/models"
	"github.com/teamscope/teamscope/internal/synthesis"
)

const maxPayloadBytes = 16 << 20 // 16 MiB

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if _, err := s.backend.CountEmbedded(r.Context(), models.NodeTypePerson, s.indexer.ModelVersion()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "degraded",
			"error":  "graph store unreachable",
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req models.QueryRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxPayloadBytes)).Decode(&req); err != nil {
		writeQueryError(w, http.StatusBadRequest, "malformed query request")
		return
	}
	req.Query = strings.TrimSpace(req.Query)
	if req.Query == "" {
		writeQueryError(w, http.StatusBadRequest, "query is required")
		return
	}

	version := s.indexer.ModelVersion()
	if s.answers != nil && req.History == "" {
		if cached := s.answers.Get(r.Context(), req.Query, version); cached != nil {
			writeJSON(w, http.StatusOK, cached)
			return
		}
	}

	result, err := s.retriever.Retrieve(r.Context(), req.Query)
	if err != nil && !tserrors.IsRetrievalEmpty(err) {
		s.log.WithError(err).Error("Retrieval failed")
		writeQueryError(w, http.StatusBadGateway, "graph retrieval failed")
		return
	}

	resp := s.synthesizer.Answer(r.Context(), req, result)

	// Only fully generated answers are worth caching; degraded modes
	// should retry generation on the next ask.
	if s.answers != nil && req.History == "" && resp.Metadata.Mode == synthesis.ModeGenerated {
		s.answers.Put(r.Context(), req.Query, version, resp)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	source := models.Source(chi.URLParam(r, "source"))

	payload, err := io.ReadAll(io.LimitReader(r.Body, maxPayloadBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read payload")
		return
	}

	result, err := s.ingester.Ingest(r.Context(), source, payload)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, result)
	case tserrors.IsType(err, tserrors.ErrorTypeIngestion):
		writeError(w, http.StatusBadRequest, err.Error())
	case tserrors.IsStoreUnavailable(err):
		// Retry-safe: nothing was committed.
		writeError(w, http.StatusServiceUnavailable, "graph store unavailable, payload can be redelivered")
	default:
		s.log.WithError(err).Error("Ingestion failed")
		writeError(w, http.StatusInternalServerError, "ingestion failed")
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	status := map[string]any{
		"embedding_version": s.indexer.ModelVersion(),
	}

	coverage, err := s.indexer.CoverageByType(r.Context())
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "graph store unreachable")
		return
	}
	byType := make(map[string]int, len(coverage))
	for t, n := range coverage {
		byType[string(t)] = n
	}
	status["embedded_nodes"] = byType

	if s.ledger != nil {
		if batches, err := s.ledger.RecentBatches(r.Context(), 10); err == nil {
			status["recent_batches"] = batches
		}
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleConflicts(w http.ResponseWriter, r *http.Request) {
	if s.ledger == nil {
		writeJSON(w, http.StatusOK, []any{})
		return
	}
	conflicts, err := s.ledger.OpenConflicts(r.Context(), 100)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list conflicts")
		return
	}
	writeJSON(w, http.StatusOK, conflicts)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// writeQueryError keeps the query path on one body shape: failures come
// back as a structured response with the reason in metadata, never as a
// bare error object.
func writeQueryError(w http.ResponseWriter, status int, reason string) {
	writeJSON(w, status, models.QueryResponse{
		Status:   synthesis.StatusError,
		Metadata: models.QueryMetadata{Reason: reason},
	})
}
