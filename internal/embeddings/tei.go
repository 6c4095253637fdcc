package embeddings

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// TEIConfig configures a text-embeddings-inference client.
type TEIConfig struct {
	BaseURL string
	Model   string
	// Dimension overrides the size looked up from Model.
	Dimension int
	Timeout   time.Duration
}

// TEIClient calls the /embed endpoint of a TEI server.
type TEIClient struct {
	config  TEIConfig
	client  *http.Client
	metrics *Metrics
}

// NewTEIClient validates cfg and returns a client.
func NewTEIClient(cfg TEIConfig, metrics *Metrics) (*TEIClient, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("%w: base URL required", ErrInvalidConfig)
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Dimension == 0 {
		dim, ok := DimensionForModel(cfg.Model)
		if !ok {
			return nil, fmt.Errorf("%w: unknown dimension for model %q", ErrInvalidConfig, cfg.Model)
		}
		cfg.Dimension = dim
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	return &TEIClient{
		config:  cfg,
		client:  &http.Client{Timeout: cfg.Timeout},
		metrics: metrics,
	}, nil
}

type teiRequest struct {
	Inputs   any  `json:"inputs"`
	Truncate bool `json:"truncate"`
}

// EmbedBatch implements Provider.
func (c *TEIClient) EmbedBatch(ctx context.Context, texts []string) (vectors [][]float32, err error) {
	start := time.Now()
	defer func() { c.metrics.Record(ctx, c.config.Model, "embed_batch", time.Since(start), len(texts), err) }()

	if len(texts) == 0 {
		return nil, fmt.Errorf("%w: texts cannot be empty", ErrEmptyInput)
	}
	vectors, err = c.embed(ctx, texts)
	if err != nil {
		return nil, err
	}
	if len(vectors) != len(texts) {
		return nil, fmt.Errorf("%w: got %d vectors for %d texts", ErrEmbeddingFailed, len(vectors), len(texts))
	}
	return vectors, nil
}

// Embed implements Provider.
func (c *TEIClient) Embed(ctx context.Context, text string) (vector []float32, err error) {
	start := time.Now()
	defer func() { c.metrics.Record(ctx, c.config.Model, "embed", time.Since(start), 1, err) }()

	if text == "" {
		return nil, fmt.Errorf("%w: text cannot be empty", ErrEmptyInput)
	}
	vectors, err := c.embed(ctx, text)
	if err != nil {
		return nil, err
	}
	if len(vectors) == 0 {
		return nil, fmt.Errorf("%w: empty response", ErrEmbeddingFailed)
	}
	return vectors[0], nil
}

func (c *TEIClient) embed(ctx context.Context, inputs any) ([][]float32, error) {
	body, err := json.Marshal(teiRequest{Inputs: inputs, Truncate: true})
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.BaseURL+"/embed", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEmbeddingFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("%w: status %d: %s", ErrEmbeddingFailed, resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var vectors [][]float32
	if err := json.NewDecoder(resp.Body).Decode(&vectors); err != nil {
		return nil, fmt.Errorf("%w: decoding response: %v", ErrEmbeddingFailed, err)
	}
	for i, v := range vectors {
		if len(v) != c.config.Dimension {
			return nil, fmt.Errorf("%w: vector %d has %d dimensions, want %d", ErrEmbeddingFailed, i, len(v), c.config.Dimension)
		}
	}
	return vectors, nil
}

// Dimension implements Provider.
func (c *TEIClient) Dimension() int {
	return c.config.Dimension
}

// Close is a no-op; the HTTP client holds no dedicated resources.
func (c *TEIClient) Close() error {
	return nil
}

var _ Provider = (*TEIClient)(nil)
