package websearch

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/ragd/internal/config"
)

func newTestClient(t *testing.T, url string) *TavilyClient {
	t.Helper()
	c, err := NewTavilyClient(TavilyConfig{
		BaseURL:   url,
		APIKey:    "tvly-test",
		RateLimit: 1000,
		Burst:     10,
		Backoff:   time.Millisecond,
	})
	require.NoError(t, err)
	return c
}

func TestTavilyClient_Search(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/search", r.URL.Path)
		assert.Equal(t, "Bearer tvly-test", r.Header.Get("Authorization"))

		var req tavilyRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "current president of France", req.Query)
		assert.Equal(t, 3, req.MaxResults)

		_, _ = w.Write([]byte(`{"results":[
			{"title":"Élysée","url":"https://elysee.fr","content":"The President of France is ...","score":0.91},
			{"title":"Wiki","url":"https://en.wikipedia.org","content":"List of presidents","score":0.5}
		]}`))
	}))
	defer srv.Close()

	got, err := newTestClient(t, srv.URL).Search(context.Background(), "current president of France")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "https://elysee.fr", got[0].URL)
	assert.Equal(t, "The President of France is ...", got[0].Content)
}

func TestTavilyClient_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte(`{"results":[{"content":"ok"}]}`))
	}))
	defer srv.Close()

	got, err := newTestClient(t, srv.URL).Search(context.Background(), "q")
	require.NoError(t, err)
	assert.Len(t, got, 1)
	assert.Equal(t, int32(2), calls.Load())
}

func TestTavilyClient_DoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		http.Error(w, "invalid api key", http.StatusUnauthorized)
	}))
	defer srv.Close()

	_, err := newTestClient(t, srv.URL).Search(context.Background(), "q")
	require.ErrorIs(t, err, ErrProvider)
	assert.Contains(t, err.Error(), "invalid api key")
	assert.Equal(t, int32(1), calls.Load())
}

func TestTavilyClient_GivesUpAfterMaxRetries(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := newTestClient(t, srv.URL).Search(context.Background(), "q")
	require.ErrorIs(t, err, ErrProvider)
	assert.Equal(t, int32(3), calls.Load())
}

func TestTavilyClient_EmptyQuery(t *testing.T) {
	_, err := newTestClient(t, "http://unused").Search(context.Background(), "  ")
	assert.ErrorIs(t, err, ErrProvider)
}

func TestNewProvider(t *testing.T) {
	p, err := NewProvider(config.WebSearchConfig{Provider: "none"}, 3)
	require.NoError(t, err)
	_, err = p.Search(context.Background(), "q")
	assert.ErrorIs(t, err, ErrWebSearchDisabled)

	_, err = NewProvider(config.WebSearchConfig{Provider: "tavily"}, 3)
	assert.Error(t, err, "tavily requires an api key")

	_, err = NewProvider(config.WebSearchConfig{Provider: "bing"}, 3)
	assert.Error(t, err)
}
