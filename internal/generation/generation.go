// Package generation produces the final answer from a rendered context.
package generation

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

// DefaultModel is used when no model is configured.
const DefaultModel = "gemma-3-4b-it"

// ErrGeneration wraps model call failures.
var ErrGeneration = errors.New("generation failed")

// Request carries the question and the context sections.
type Request struct {
	Question string
	// Context holds document and web passages.
	Context string
	Memory  string
	History string
}

// Generator answers a question from the supplied context only.
type Generator interface {
	Generate(ctx context.Context, req Request) (string, error)
}

// contentGenerator is the subset of *genai.Models used here.
type contentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// GeminiGenerator calls a Gemini API model.
type GeminiGenerator struct {
	models contentGenerator
	model  string
}

// NewGeminiGenerator connects to the Gemini API.
func NewGeminiGenerator(ctx context.Context, apiKey, model string) (*GeminiGenerator, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("generation api key is required")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("creating genai client: %w", err)
	}
	return newGeminiGenerator(client.Models, model), nil
}

func newGeminiGenerator(models contentGenerator, model string) *GeminiGenerator {
	if model == "" {
		model = DefaultModel
	}
	return &GeminiGenerator{models: models, model: model}
}

// Generate implements Generator.
func (g *GeminiGenerator) Generate(ctx context.Context, req Request) (string, error) {
	if strings.TrimSpace(req.Question) == "" {
		return "", fmt.Errorf("%w: empty question", ErrGeneration)
	}

	resp, err := g.models.GenerateContent(ctx, g.model, genai.Text(BuildPrompt(req)), nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrGeneration, err)
	}
	answer := strings.TrimSpace(resp.Text())
	if answer == "" {
		return "", fmt.Errorf("%w: empty response from %s", ErrGeneration, g.model)
	}
	return answer, nil
}

var _ Generator = (*GeminiGenerator)(nil)
