package llm

import (
	"context"
	"fmt"

	"google.golang.org/genai"

	tserrors "github.com/teamscope/teamscope/internal/errors"
)

// GeminiGenerator generates answers through the Gemini API.
type GeminiGenerator struct {
	client *genai.Client
	model  string
}

func NewGeminiGenerator(ctx context.Context, apiKey, model string) (*GeminiGenerator, error) {
	if model == "" {
		model = "gemini-2.0-flash"
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}

	return &GeminiGenerator{client: client, model: model}, nil
}

func (g *GeminiGenerator) Generate(ctx context.Context, prompt string, params Params) (string, error) {
	genConfig := &genai.GenerateContentConfig{
		Temperature: ptrFloat32(params.Temperature),
	}
	if params.MaxTokens > 0 {
		genConfig.MaxOutputTokens = int32(params.MaxTokens)
	}

	resp, err := g.client.Models.GenerateContent(ctx, g.model, genai.Text(prompt), genConfig)
	if err != nil {
		return "", tserrors.GenerationError(err, "gemini generation failed")
	}
	if len(resp.Candidates) == 0 {
		return "", tserrors.GenerationError(nil, "gemini returned no candidates")
	}
	candidate := resp.Candidates[0]
	if candidate.Content == nil || len(candidate.Content.Parts) == 0 {
		return "", tserrors.GenerationError(nil, "gemini returned no content parts")
	}
	return candidate.Content.Parts[0].Text, nil
}

func (g *GeminiGenerator) Model() string { return g.model }

func ptrFloat32(f float32) *float32 { return &f }
