package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ragd/internal/fusion"
	"github.com/fyrsmithlabs/ragd/internal/ingest"
	"github.com/fyrsmithlabs/ragd/internal/orchestrator"
	"github.com/fyrsmithlabs/ragd/internal/retrieval"
	"github.com/fyrsmithlabs/ragd/internal/vectorstore"
)

type fakeAnswerer struct {
	query  orchestrator.Query
	bundle fusion.Bundle
	answer string
	err    error
}

func (f *fakeAnswerer) Answer(_ context.Context, q orchestrator.Query) (*orchestrator.Result, error) {
	f.query = q
	if f.err != nil {
		return nil, f.err
	}
	return &orchestrator.Result{Bundle: f.bundle, Trace: orchestrator.Trace{Mode: q.Mode}}, nil
}

func (f *fakeAnswerer) Ask(ctx context.Context, q orchestrator.Query) (*orchestrator.Answer, error) {
	res, err := f.Answer(ctx, q)
	if err != nil {
		return nil, err
	}
	return &orchestrator.Answer{Text: f.answer, Result: *res}, nil
}

type fakeDocuments struct {
	ingested ingest.Request
	deleted  [2]string
	docs     []vectorstore.DocumentRef
	err      error
}

func (f *fakeDocuments) Ingest(_ context.Context, req ingest.Request) (*ingest.Result, error) {
	f.ingested = req
	if f.err != nil {
		return nil, f.err
	}
	docID := req.DocID
	if docID == "" {
		docID = req.Filename
	}
	return &ingest.Result{DocID: docID, Filename: req.Filename, Chunks: len(req.Pages)}, nil
}

func (f *fakeDocuments) List(context.Context, string) ([]vectorstore.DocumentRef, error) {
	return f.docs, f.err
}

func (f *fakeDocuments) Delete(_ context.Context, tenantID, docID string) error {
	f.deleted = [2]string{tenantID, docID}
	return f.err
}

func setupTestServer(t *testing.T) (*Server, *fakeAnswerer, *fakeDocuments) {
	t.Helper()
	a := &fakeAnswerer{}
	d := &fakeDocuments{}
	s, err := NewServer(a, d, zap.NewNop(), &Config{Host: "localhost", Port: 0, MaxBodyBytes: 1 << 20, PreviewCap: 1})
	require.NoError(t, err)
	return s, a, d
}

func do(t *testing.T, s *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func TestNewServer(t *testing.T) {
	_, err := NewServer(nil, &fakeDocuments{}, zap.NewNop(), nil)
	assert.Error(t, err)

	_, err = NewServer(&fakeAnswerer{}, &fakeDocuments{}, nil, nil)
	assert.ErrorContains(t, err, "logger is required")

	s, err := NewServer(&fakeAnswerer{}, &fakeDocuments{}, zap.NewNop(), nil)
	require.NoError(t, err)
	assert.Equal(t, 9191, s.config.Port)
}

func TestHandleHealth(t *testing.T) {
	s, _, _ := setupTestServer(t)
	rec := do(t, s, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get("X-Request-Id"))
}

func TestMetricsEndpoint(t *testing.T) {
	s, _, _ := setupTestServer(t)
	rec := do(t, s, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestHandleIngest(t *testing.T) {
	s, _, d := setupTestServer(t)

	rec := do(t, s, http.MethodPost, "/api/v1/tenants/acme/documents",
		`{"filename":"handbook.pdf","pages":["page one","page two"]}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var res ingest.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, "handbook.pdf", res.DocID)
	assert.Equal(t, 2, res.Chunks)
	assert.Equal(t, "acme", d.ingested.TenantID)
}

func TestHandleIngest_Validation(t *testing.T) {
	s, _, _ := setupTestServer(t)

	tests := []struct {
		name string
		body string
	}{
		{"missing filename", `{"pages":["x"]}`},
		{"no pages", `{"filename":"a.pdf","pages":[]}`},
		{"malformed", `{"filename":`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, s, http.MethodPost, "/api/v1/tenants/acme/documents", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestHandleListAndDelete(t *testing.T) {
	s, _, d := setupTestServer(t)

	rec := do(t, s, http.MethodGet, "/api/v1/tenants/acme/documents", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"documents":[]}`, rec.Body.String())

	d.docs = []vectorstore.DocumentRef{{DocID: "a", Filename: "a.pdf"}}
	rec = do(t, s, http.MethodGet, "/api/v1/tenants/acme/documents", "")
	assert.JSONEq(t, `{"documents":[{"doc_id":"a","filename":"a.pdf"}]}`, rec.Body.String())

	rec = do(t, s, http.MethodDelete, "/api/v1/tenants/acme/documents/a", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, [2]string{"acme", "a"}, d.deleted)
}

func TestHandleRetrieve(t *testing.T) {
	s, a, _ := setupTestServer(t)
	a.bundle = fusion.Fuse(fusion.Input{
		Documents: []vectorstore.RetrievalResult{
			{DocID: "a", Filename: "a.pdf", Text: "one", Score: 0.9},
			{DocID: "a", Filename: "a.pdf", ChunkIndex: 1, Text: "two", Score: 0.8},
		},
	})

	rec := do(t, s, http.MethodPost, "/api/v1/tenants/acme/retrieve",
		`{"question":"what?","mode":"document_only","doc_id":"a","history":[{"role":"user","content":"hi"}]}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp RetrieveResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Len(t, resp.Bundle.Items, 2)
	assert.Len(t, resp.Preview.Items, 1)
	assert.Equal(t, retrieval.DocumentOnly, resp.Trace.Mode)

	assert.Equal(t, "acme", a.query.TenantID)
	assert.Equal(t, "a", a.query.DocScope)
	require.Len(t, a.query.History, 1)
	assert.Equal(t, "hi", a.query.History[0].Content)
}

func TestHandleAsk(t *testing.T) {
	s, a, _ := setupTestServer(t)
	a.answer = "Paris."

	rec := do(t, s, http.MethodPost, "/api/v1/tenants/acme/ask", `{"question":"capital of France?"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp AskResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "Paris.", resp.Answer)
	assert.Equal(t, retrieval.Hybrid, a.query.Mode)
}

func TestQueryValidation(t *testing.T) {
	s, _, _ := setupTestServer(t)

	rec := do(t, s, http.MethodPost, "/api/v1/tenants/acme/ask", `{"question":""}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "validation", decodeError(t, rec).Kind)

	rec = do(t, s, http.MethodPost, "/api/v1/tenants/acme/ask", `{"question":"q","mode":"fastest"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, s, http.MethodPost, "/api/v1/tenants/acme/ask", `{"question":"q","history":[{"role":"system","content":"x"}]}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestErrorMapping(t *testing.T) {
	tests := []struct {
		err    error
		status int
		kind   string
	}{
		{orchestrator.ErrInvalidQuery, http.StatusBadRequest, "invalid_query"},
		{vectorstore.ErrInvalidID, http.StatusBadRequest, "invalid_id"},
		{vectorstore.ErrIndexUnavailable, http.StatusServiceUnavailable, "index_unavailable"},
		{errors.Join(orchestrator.ErrEmbeddingFailure, errors.New("model offline")), http.StatusServiceUnavailable, "embedding_failure"},
		{orchestrator.ErrGenerationFailure, http.StatusBadGateway, "generation_failure"},
		{errors.New("boom"), http.StatusInternalServerError, "internal"},
	}
	for _, tt := range tests {
		t.Run(tt.kind, func(t *testing.T) {
			s, a, _ := setupTestServer(t)
			a.err = tt.err

			rec := do(t, s, http.MethodPost, "/api/v1/tenants/acme/ask", `{"question":"q"}`)
			assert.Equal(t, tt.status, rec.Code)
			resp := decodeError(t, rec)
			assert.Equal(t, tt.kind, resp.Kind)
			assert.NotEmpty(t, resp.RequestID)
		})
	}
}

func TestIngestErrorMapping(t *testing.T) {
	s, _, d := setupTestServer(t)
	d.err = ingest.ErrNoContent

	rec := do(t, s, http.MethodPost, "/api/v1/tenants/acme/documents", `{"filename":"a.pdf","pages":[" "]}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "no_content", decodeError(t, rec).Kind)
}
