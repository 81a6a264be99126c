package llm

import (
	"context"

	"github.com/teamscope/teamscope/internal/config"
	tserrors "github.com/teamscope/teamscope/internal/errors"
)

// Params controls one generation call.
type Params struct {
	Temperature float32
	MaxTokens   int
}

// Generator produces answer text from a prompt. Implementations wrap
// one provider; the synthesizer treats them interchangeably.
type Generator interface {
	Generate(ctx context.Context, prompt string, params Params) (string, error)

	// Model names the underlying model for response metadata.
	Model() string
}

// New constructs the configured generation backend.
func New(ctx context.Context, cfg config.APIConfig) (Generator, error) {
	switch cfg.Provider {
	case "openai":
		if cfg.OpenAIKey == "" {
			return nil, tserrors.ConfigError("OPENAI_API_KEY required for openai generation provider")
		}
		return NewOpenAIGenerator(cfg.OpenAIKey, cfg.OpenAIModel), nil
	case "gemini":
		if cfg.GeminiKey == "" {
			return nil, tserrors.ConfigError("GEMINI_API_KEY required for gemini generation provider")
		}
		return NewGeminiGenerator(ctx, cfg.GeminiKey, cfg.GeminiModel)
	default:
		return nil, tserrors.ConfigError("unknown generation provider: %s", cfg.Provider)
	}
}
