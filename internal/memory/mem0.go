package memory

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

// Mem0Config configures Mem0Client.
type Mem0Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// Mem0Client talks to the hosted mem0 memory API.
type Mem0Client struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewMem0Client returns a client for the mem0 REST API.
func NewMem0Client(cfg Mem0Config) (*Mem0Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("mem0 api key is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.mem0.ai"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Mem0Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		client:  &http.Client{Timeout: cfg.Timeout},
	}, nil
}

type mem0AddRequest struct {
	Messages []Message `json:"messages"`
	UserID   string    `json:"user_id"`
}

type mem0SearchRequest struct {
	Query   string            `json:"query"`
	Filters map[string]string `json:"filters"`
	Limit   int               `json:"limit,omitempty"`
}

type mem0Memory struct {
	Memory string `json:"memory"`
}

// Add implements Store.
func (c *Mem0Client) Add(ctx context.Context, userID string, messages []Message) error {
	if userID == "" {
		return ErrMissingUser
	}
	messages = nonEmpty(messages)
	if len(messages) == 0 {
		return nil
	}
	_, err := c.post(ctx, "/v1/memories/", mem0AddRequest{Messages: messages, UserID: userID})
	return err
}

// Search implements Store.
func (c *Mem0Client) Search(ctx context.Context, userID, query string, limit int) ([]string, error) {
	if userID == "" {
		return nil, ErrMissingUser
	}
	body, err := c.post(ctx, "/v2/memories/search/", mem0SearchRequest{
		Query:   query,
		Filters: map[string]string{"user_id": userID},
		Limit:   limit,
	})
	if err != nil {
		return nil, err
	}

	memories, err := decodeMem0Results(body)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(memories))
	for _, m := range memories {
		if m.Memory != "" {
			out = append(out, m.Memory)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// decodeMem0Results accepts both a bare array and {"results": [...]}.
func decodeMem0Results(body []byte) ([]mem0Memory, error) {
	body = bytes.TrimSpace(body)
	if len(body) > 0 && body[0] == '[' {
		var list []mem0Memory
		if err := json.Unmarshal(body, &list); err != nil {
			return nil, fmt.Errorf("%w: decoding search response: %v", ErrUnavailable, err)
		}
		return list, nil
	}
	var wrapped struct {
		Results []mem0Memory `json:"results"`
	}
	if err := json.Unmarshal(body, &wrapped); err != nil {
		return nil, fmt.Errorf("%w: decoding search response: %v", ErrUnavailable, err)
	}
	return wrapped.Results, nil
}

func (c *Mem0Client) post(ctx context.Context, path string, payload any) ([]byte, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(b))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Token "+c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: reading response: %v", ErrUnavailable, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: %s returned %d: %s", ErrUnavailable, path, resp.StatusCode, truncate(string(body), 256))
	}
	return body, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

var _ Store = (*Mem0Client)(nil)
