package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"math"

	"github.com/teamscope/teamscope/internal/config"
	tserrors "github.com/teamscope/teamscope/internal/errors"
)

// Embedder turns text into fixed-dimension vectors under a named model
// version. Vectors from different versions are never comparable.
type Embedder interface {
	// Embed returns one vector per input text, in input order.
	Embed(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions is the vector width this embedder produces.
	Dimensions() int

	// ModelVersion identifies the model and revision, e.g.
	// "text-embedding-3-small@1". Stored on every embedded node.
	ModelVersion() string
}

// New constructs the configured embedder.
func New(cfg config.EmbeddingConfig, apiKey string) (Embedder, error) {
	switch cfg.Provider {
	case "openai":
		if apiKey == "" {
			return nil, tserrors.ConfigError("OPENAI_API_KEY required for openai embedding provider")
		}
		return NewOpenAIEmbedder(apiKey, cfg.Model, cfg.ModelVersion, cfg.Dimensions), nil
	case "local":
		return NewLocalEmbedder(cfg.Dimensions, cfg.ModelVersion), nil
	default:
		return nil, tserrors.ConfigError("unknown embedding provider: %s", cfg.Provider)
	}
}

// LocalEmbedder produces deterministic hash-derived vectors. No network
// and no model weights, so ranking quality is crude; it exists for
// offline runs and tests where only determinism matters.
type LocalEmbedder struct {
	dimensions int
	version    string
}

func NewLocalEmbedder(dimensions int, version string) *LocalEmbedder {
	if dimensions <= 0 {
		dimensions = 64
	}
	if version == "" {
		version = "local@1"
	}
	return &LocalEmbedder{dimensions: dimensions, version: version}
}

func (l *LocalEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make([][]float32, len(texts))
	for i, text := range texts {
		out[i] = l.embedOne(text)
	}
	return out, nil
}

// embedOne folds token hashes into a unit vector. Shared tokens give
// overlapping texts correlated vectors, which is enough structure for
// similarity ordering in tests.
func (l *LocalEmbedder) embedOne(text string) []float32 {
	vec := make([]float32, l.dimensions)
	for _, token := range tokenize(text) {
		h := sha256.Sum256([]byte(token))
		idx := binary.BigEndian.Uint32(h[:4]) % uint32(l.dimensions)
		sign := float32(1)
		if h[4]&1 == 1 {
			sign = -1
		}
		vec[idx] += sign
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		vec[0] = 1
		return vec
	}
	scale := float32(1 / math.Sqrt(norm))
	for i := range vec {
		vec[i] *= scale
	}
	return vec
}

func (l *LocalEmbedder) Dimensions() int      { return l.dimensions }
func (l *LocalEmbedder) ModelVersion() string { return l.version }

func tokenize(text string) []string {
	var tokens []string
	var current []rune
	for _, r := range text {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			current = append(current, r)
		case r >= 'A' && r <= 'Z':
			current = append(current, r+('a'-'A'))
		default:
			if len(current) > 0 {
				tokens = append(tokens, string(current))
				current = nil
			}
		}
	}
	if len(current) > 0 {
		tokens = append(tokens, string(current))
	}
	return tokens
}
