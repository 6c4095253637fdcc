package websearch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// TavilyConfig configures TavilyClient.
type TavilyConfig struct {
	BaseURL    string
	APIKey     string
	MaxResults int
	// RateLimit is requests per second; Burst the bucket size.
	RateLimit float64
	Burst     int

	MaxRetries int
	Backoff    time.Duration
	Timeout    time.Duration
}

// TavilyClient calls the Tavily search API.
type TavilyClient struct {
	config  TavilyConfig
	client  *http.Client
	limiter *rate.Limiter
}

// NewTavilyClient validates cfg and returns a client.
func NewTavilyClient(cfg TavilyConfig) (*TavilyClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("tavily api key is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.tavily.com"
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.MaxResults <= 0 {
		cfg.MaxResults = 3
	}
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = 2
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 2
	}
	if cfg.Backoff == 0 {
		cfg.Backoff = 250 * time.Millisecond
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 15 * time.Second
	}

	return &TavilyClient{
		config:  cfg,
		client:  &http.Client{Timeout: cfg.Timeout},
		limiter: rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.Burst),
	}, nil
}

type tavilyRequest struct {
	Query       string `json:"query"`
	MaxResults  int    `json:"max_results"`
	SearchDepth string `json:"search_depth"`
}

type tavilyResponse struct {
	Results []Snippet `json:"results"`
}

// retryableError marks responses worth another attempt.
type retryableError struct{ err error }

func (e retryableError) Error() string { return e.err.Error() }
func (e retryableError) Unwrap() error { return e.err }

// Search implements Provider.
func (c *TavilyClient) Search(ctx context.Context, query string) ([]Snippet, error) {
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("%w: empty query", ErrProvider)
	}

	body, err := json.Marshal(tavilyRequest{Query: query, MaxResults: c.config.MaxResults, SearchDepth: "basic"})
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	backoff := c.config.Backoff
	for attempt := 0; ; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("%w: rate limiter: %v", ErrProvider, err)
		}

		snippets, err := c.do(ctx, body)
		if err == nil {
			return snippets, nil
		}
		var retry retryableError
		if !errors.As(err, &retry) || attempt >= c.config.MaxRetries {
			return nil, err
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %v", ErrProvider, ctx.Err())
		case <-time.After(backoff):
			backoff *= 2
		}
	}
}

func (c *TavilyClient) do(ctx context.Context, body []byte) ([]Snippet, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.BaseURL+"/search", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.config.APIKey)

	resp, err := c.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %v", ErrProvider, err)
		}
		return nil, retryableError{fmt.Errorf("%w: %v", ErrProvider, err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		err := fmt.Errorf("%w: status %d: %s", ErrProvider, resp.StatusCode, strings.TrimSpace(string(msg)))
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return nil, retryableError{err}
		}
		return nil, err
	}

	var out tavilyResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("%w: decoding response: %v", ErrProvider, err)
	}
	return out.Results, nil
}

var _ Provider = (*TavilyClient)(nil)
