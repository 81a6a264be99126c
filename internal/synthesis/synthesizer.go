package synthesis

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/teamscope/teamscope/internal/llm"
	"github.com/teamscope/teamscope/internal/models"
	"github.com/teamscope/teamscope/internal/retrieval"
)

// Statuses reported in QueryResponse.Status. Any answer the pipeline
// could produce is a success; error is reserved for query-path
// failures where no answer exists at all.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Modes reported in QueryResponse.Metadata.Mode, qualifying how a
// successful answer was produced.
const (
	ModeGenerated    = "generated"
	ModeContextOnly  = "context_only"
	ModeInsufficient = "insufficient_information"
)

// Synthesizer turns retrieved graph context into a grounded natural
// language answer. Generation failures degrade to a context-only
// answer instead of failing the query; empty context produces an
// explicit insufficient-information answer, never a guess.
type Synthesizer struct {
	generator llm.Generator
	limiter   *llm.RateLimiter
	timeout   time.Duration
	log       *logrus.Entry
}

func New(generator llm.Generator, limiter *llm.RateLimiter, timeout time.Duration) *Synthesizer {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Synthesizer{
		generator: generator,
		limiter:   limiter,
		timeout:   timeout,
		log:       logrus.WithField("component", "answer_synthesizer"),
	}
}

// Answer synthesizes a response for the query from retrieval output.
func (s *Synthesizer) Answer(ctx context.Context, req models.QueryRequest, result *retrieval.Result) models.QueryResponse {
	meta := models.QueryMetadata{
		NodeType:   typesLabel(result),
		Reason:     result.Selection.Reason,
		Confidence: result.Selection.Confidence,
	}

	if len(result.Items) == 0 {
		meta.Mode = ModeInsufficient
		return models.QueryResponse{
			Status:   StatusSuccess,
			Answer:   "I don't have enough information in the activity graph to answer that.",
			Metadata: meta,
		}
	}

	if s.generator == nil {
		meta.Mode = ModeContextOnly
		return models.QueryResponse{
			Status:   StatusSuccess,
			Answer:   contextOnlyAnswer(result.Items),
			Metadata: meta,
		}
	}

	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			s.log.WithError(err).Warn("Generation throttled, degrading to context-only answer")
			meta.Mode = ModeContextOnly
			return models.QueryResponse{
				Status:   StatusSuccess,
				Answer:   contextOnlyAnswer(result.Items),
				Metadata: meta,
			}
		}
	}

	prompt := buildPrompt(req.Query, req.History, result.Items)

	answer, err := s.generate(ctx, prompt)
	if err != nil {
		s.log.WithError(err).Warn("Generation failed, degrading to context-only answer")
		meta.Mode = ModeContextOnly
		return models.QueryResponse{
			Status:   StatusSuccess,
			Answer:   contextOnlyAnswer(result.Items),
			Metadata: meta,
		}
	}

	meta.Mode = ModeGenerated
	meta.Model = s.generator.Model()
	return models.QueryResponse{
		Status:   StatusSuccess,
		Answer:   answer,
		Metadata: meta,
	}
}

// generate calls the provider under the configured timeout, retrying
// once on failure before the caller degrades.
func (s *Synthesizer) generate(ctx context.Context, prompt string) (string, error) {
	params := llm.Params{Temperature: 0.1, MaxTokens: 1024}

	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(500 * time.Millisecond):
			}
		}

		genCtx, cancel := context.WithTimeout(ctx, s.timeout)
		answer, err := s.generator.Generate(genCtx, prompt, params)
		cancel()
		if err == nil {
			return answer, nil
		}
		lastErr = err
	}
	return "", lastErr
}

func typesLabel(result *retrieval.Result) string {
	if len(result.Selection.Types) == 0 {
		return ""
	}
	label := string(result.Selection.Types[0])
	for _, t := range result.Selection.Types[1:] {
		label += "," + string(t)
	}
	return label
}
