package mcp

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ragd/internal/fusion"
	"github.com/fyrsmithlabs/ragd/internal/ingest"
	"github.com/fyrsmithlabs/ragd/internal/memory"
	"github.com/fyrsmithlabs/ragd/internal/orchestrator"
	"github.com/fyrsmithlabs/ragd/internal/retrieval"
	"github.com/fyrsmithlabs/ragd/internal/vectorstore"
	"github.com/fyrsmithlabs/ragd/internal/websearch"
)

type fakeAnswerer struct {
	query    orchestrator.Query
	bundle   fusion.Bundle
	degraded []orchestrator.Source
	err      error
}

func (f *fakeAnswerer) Answer(_ context.Context, q orchestrator.Query) (*orchestrator.Result, error) {
	f.query = q
	if f.err != nil {
		return nil, f.err
	}
	return &orchestrator.Result{
		Bundle: f.bundle,
		Trace:  orchestrator.Trace{Mode: q.Mode, Degraded: f.degraded},
	}, nil
}

func (f *fakeAnswerer) Ask(ctx context.Context, q orchestrator.Query) (*orchestrator.Answer, error) {
	res, err := f.Answer(ctx, q)
	if err != nil {
		return nil, err
	}
	return &orchestrator.Answer{Text: "42", Result: *res}, nil
}

type fakeDocuments struct {
	ingested ingest.Request
	deleted  string
	docs     []vectorstore.DocumentRef
	err      error
}

func (f *fakeDocuments) Ingest(_ context.Context, req ingest.Request) (*ingest.Result, error) {
	f.ingested = req
	if f.err != nil {
		return nil, f.err
	}
	return &ingest.Result{DocID: req.Filename, Filename: req.Filename, Chunks: 3, Replaced: true}, nil
}

func (f *fakeDocuments) List(context.Context, string) ([]vectorstore.DocumentRef, error) {
	return f.docs, f.err
}

func (f *fakeDocuments) Delete(_ context.Context, _, docID string) error {
	f.deleted = docID
	return f.err
}

func newTestServer(t *testing.T) (*Server, *fakeAnswerer, *fakeDocuments) {
	t.Helper()
	a := &fakeAnswerer{}
	d := &fakeDocuments{}
	cfg := DefaultConfig()
	cfg.PreviewCap = 1
	s, err := NewServer(cfg, a, d)
	require.NoError(t, err)
	return s, a, d
}

func TestNewServer(t *testing.T) {
	_, err := NewServer(nil, nil, &fakeDocuments{})
	assert.Error(t, err)

	_, err = NewServer(nil, &fakeAnswerer{}, nil)
	assert.Error(t, err)

	s, err := NewServer(&Config{}, &fakeAnswerer{}, &fakeDocuments{})
	require.NoError(t, err)
	assert.Equal(t, "ragd", s.config.Name)
	assert.NotNil(t, s.logger)
}

func TestRetrieve(t *testing.T) {
	s, a, _ := newTestServer(t)
	a.bundle = fusion.Fuse(fusion.Input{
		Documents: []vectorstore.RetrievalResult{
			{DocID: "a", Filename: "a.pdf", Page: 2, Text: "alpha", Score: 0.9},
			{DocID: "a", Filename: "a.pdf", ChunkIndex: 1, Text: "beta", Score: 0.8},
		},
		Web:     []websearch.Snippet{{Title: "t", URL: "https://example.com", Content: "web"}},
		UsedWeb: true,
	})
	a.degraded = []orchestrator.Source{orchestrator.SourceMemory}

	out, err := s.retrieve(context.Background(), queryInput{
		TenantID: "acme",
		Question: "what is alpha?",
		Mode:     "hybrid",
		DocID:    "a",
		History:  []memory.Message{{Role: memory.RoleUser, Content: "hi"}},
	})
	require.NoError(t, err)

	assert.Contains(t, out.Context, "alpha")
	require.Len(t, out.Items, 2)
	assert.Equal(t, "document", out.Items[0].Kind)
	assert.Equal(t, "a.pdf", out.Items[0].Source)
	assert.InDelta(t, 0.9, out.Items[0].Score, 1e-6)
	assert.Equal(t, "web", out.Items[1].Kind)
	assert.True(t, out.Provenance.UsedWeb)
	assert.Equal(t, []string{"document", "web"}, out.Provenance.Kinds)
	assert.Equal(t, []string{"memory"}, out.Provenance.Degraded)

	assert.Equal(t, "acme", a.query.TenantID)
	assert.Equal(t, "a", a.query.DocScope)
	assert.Equal(t, retrieval.Hybrid, a.query.Mode)
	assert.Len(t, a.query.History, 1)
}

func TestAsk(t *testing.T) {
	s, a, _ := newTestServer(t)
	a.bundle = fusion.Empty()

	out, err := s.ask(context.Background(), queryInput{TenantID: "acme", Question: "q", Mode: "web_only"})
	require.NoError(t, err)
	assert.Equal(t, "42", out.Answer)
	assert.True(t, out.Provenance.NoRelevantContent)
	assert.Equal(t, retrieval.WebOnly, a.query.Mode)
}

func TestQueryErrors(t *testing.T) {
	s, a, _ := newTestServer(t)

	_, err := s.ask(context.Background(), queryInput{TenantID: "acme", Question: "q", Mode: "fastest"})
	assert.ErrorIs(t, err, retrieval.ErrUnknownMode)

	a.err = orchestrator.ErrInvalidQuery
	_, err = s.retrieve(context.Background(), queryInput{Question: "q"})
	assert.ErrorIs(t, err, orchestrator.ErrInvalidQuery)
}

func TestDefaultMode(t *testing.T) {
	a := &fakeAnswerer{}
	s, err := NewServer(&Config{DefaultMode: retrieval.DocumentOnly}, a, &fakeDocuments{})
	require.NoError(t, err)

	_, err = s.retrieve(context.Background(), queryInput{TenantID: "acme", Question: "q"})
	require.NoError(t, err)
	assert.Equal(t, retrieval.DocumentOnly, a.query.Mode)
}

func TestDocumentTools(t *testing.T) {
	s, _, d := newTestServer(t)
	ctx := context.Background()

	ing, err := s.ingestDocument(ctx, ingestInput{TenantID: "acme", Filename: "a.pdf", Pages: []string{"x"}})
	require.NoError(t, err)
	assert.Equal(t, ingestOutput{DocID: "a.pdf", Chunks: 3, Replaced: true}, ing)
	assert.Equal(t, "acme", d.ingested.TenantID)

	list, err := s.listDocuments(ctx, listDocumentsInput{TenantID: "acme"})
	require.NoError(t, err)
	assert.Equal(t, 0, list.Count)
	assert.NotNil(t, list.Documents)

	d.docs = []vectorstore.DocumentRef{{DocID: "a.pdf", Filename: "a.pdf"}}
	list, err = s.listDocuments(ctx, listDocumentsInput{TenantID: "acme"})
	require.NoError(t, err)
	assert.Equal(t, []documentRef{{DocID: "a.pdf", Filename: "a.pdf"}}, list.Documents)

	del, err := s.deleteDocument(ctx, deleteDocumentInput{TenantID: "acme", DocID: "a.pdf"})
	require.NoError(t, err)
	assert.True(t, del.Deleted)
	assert.Equal(t, "a.pdf", d.deleted)

	d.err = ingest.ErrNoContent
	_, err = s.ingestDocument(ctx, ingestInput{TenantID: "acme", Filename: "b.pdf"})
	assert.ErrorIs(t, err, ingest.ErrNoContent)
}

func TestNewServer_Logger(t *testing.T) {
	logger := zap.NewExample()
	s, err := NewServer(&Config{Logger: logger}, &fakeAnswerer{}, &fakeDocuments{})
	require.NoError(t, err)
	assert.Same(t, logger, s.logger)
}
