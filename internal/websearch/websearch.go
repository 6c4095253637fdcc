// Package websearch fetches web snippets for queries the document corpus
// cannot answer.
package websearch

import (
	"context"
	"errors"
	"fmt"

	"github.com/fyrsmithlabs/ragd/internal/config"
)

// ErrWebSearchDisabled is returned by Nop.
var ErrWebSearchDisabled = errors.New("web search is not configured")

// ErrProvider wraps failed provider calls.
var ErrProvider = errors.New("web search provider error")

// Snippet is one web result.
type Snippet struct {
	Title   string  `json:"title,omitempty"`
	URL     string  `json:"url,omitempty"`
	Content string  `json:"content"`
	Score   float64 `json:"score,omitempty"`
}

// Provider runs a web search. Result order is the provider's relevance
// order; callers may keep only a prefix.
type Provider interface {
	Search(ctx context.Context, query string) ([]Snippet, error)
}

// Nop is the Provider used when no search backend is configured.
type Nop struct{}

// Search always fails with ErrWebSearchDisabled.
func (Nop) Search(context.Context, string) ([]Snippet, error) {
	return nil, ErrWebSearchDisabled
}

// NewProvider builds the configured Provider. limit bounds the number of
// results requested from the backend.
func NewProvider(cfg config.WebSearchConfig, limit int) (Provider, error) {
	switch cfg.Provider {
	case "none", "":
		return Nop{}, nil
	case "tavily":
		return NewTavilyClient(TavilyConfig{
			BaseURL:    cfg.BaseURL,
			APIKey:     cfg.APIKey.Value(),
			MaxResults: limit,
			RateLimit:  cfg.RateLimit,
			Burst:      cfg.Burst,
		})
	default:
		return nil, fmt.Errorf("unsupported websearch provider %q", cfg.Provider)
	}
}
