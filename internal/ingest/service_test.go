package ingest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/fyrsmithlabs/ragd/internal/events"
	"github.com/fyrsmithlabs/ragd/internal/vectorstore"
)

const testDim = 4

// keywordEmbedder maps texts onto basis vectors by keyword.
type keywordEmbedder struct {
	batches int
	err     error
}

func (e *keywordEmbedder) vector(text string) []float32 {
	v := make([]float32, testDim)
	switch {
	case strings.Contains(text, "paris"):
		v[0] = 1
	case strings.Contains(text, "berlin"):
		v[1] = 1
	default:
		v[3] = 1
	}
	return v
}

func (e *keywordEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	e.batches++
	if e.err != nil {
		return nil, e.err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = e.vector(t)
	}
	return out, nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, e events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return p.err
}

func (p *recordingPublisher) Close() error { return nil }

type tokenScrubber struct{}

func (tokenScrubber) Redact(s string) string {
	return strings.ReplaceAll(s, "tok_live_123", "[REDACTED:test]")
}

type fixture struct {
	index    *vectorstore.ChromemIndex
	embedder *keywordEmbedder
	pub      *recordingPublisher
	svc      *Service
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	idx, err := vectorstore.NewChromemIndex(vectorstore.ChromemConfig{
		CollectionName: "ingest_test",
		VectorSize:     testDim,
	}, zaptest.NewLogger(t))
	require.NoError(t, err)
	require.NoError(t, idx.EnsureSchema(context.Background()))

	f := &fixture{index: idx, embedder: &keywordEmbedder{}, pub: &recordingPublisher{}}
	f.svc, err = NewService(cfg, idx, f.embedder, tokenScrubber{}, f.pub, zaptest.NewLogger(t))
	require.NoError(t, err)
	return f
}

func TestChunker_SplitNumbersChunksAcrossPages(t *testing.T) {
	c, err := NewChunker(40, 10)
	require.NoError(t, err)

	chunks, err := c.Split([]string{
		strings.Repeat("alpha beta gamma delta ", 5),
		"   ",
		"short page",
	})
	require.NoError(t, err)
	require.Greater(t, len(chunks), 2)

	for i, ch := range chunks {
		assert.Equal(t, i, ch.ChunkIndex)
		assert.LessOrEqual(t, len(ch.Text), 40)
		assert.NotEmpty(t, ch.Text)
	}
	last := chunks[len(chunks)-1]
	assert.Equal(t, 3, last.Page)
	assert.Equal(t, "short page", last.Text)
	assert.Equal(t, 1, chunks[0].Page)
}

func TestNewChunker_RejectsOverlapLargerThanSize(t *testing.T) {
	_, err := NewChunker(100, 100)
	assert.ErrorIs(t, err, ErrInvalidRequest)

	c, err := NewChunker(0, -1)
	require.NoError(t, err)
	chunks, err := c.Split([]string{"one page"})
	require.NoError(t, err)
	assert.Len(t, chunks, 1)
}

func TestService_IngestSearchable(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Config{})

	res, err := f.svc.Ingest(ctx, Request{
		TenantID: "acme",
		Filename: "cities.pdf",
		Pages:    []string{"paris is the capital of france", "berlin is the capital of germany"},
	})
	require.NoError(t, err)
	assert.Equal(t, "cities.pdf", res.DocID)
	assert.Equal(t, 2, res.Chunks)
	assert.False(t, res.Replaced)

	hits, err := f.index.Search(ctx, "acme", []float32{0, 1, 0, 0}, 1, "")
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "berlin is the capital of germany", hits[0].Text)
	assert.Equal(t, 2, hits[0].Page)
	assert.Equal(t, 1, hits[0].ChunkIndex)

	require.Len(t, f.pub.events, 1)
	assert.Equal(t, "documents.acme.ingested", f.pub.events[0].Subject())
	assert.Equal(t, 2, f.pub.events[0].Chunks)
}

func TestService_ReingestReplaces(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Config{})

	_, err := f.svc.Ingest(ctx, Request{TenantID: "acme", DocID: "guide", Filename: "guide.pdf", Pages: []string{"paris one", "paris two"}})
	require.NoError(t, err)

	res, err := f.svc.Ingest(ctx, Request{TenantID: "acme", DocID: "guide", Filename: "guide.pdf", Pages: []string{"berlin only"}})
	require.NoError(t, err)
	assert.True(t, res.Replaced)
	assert.Equal(t, 1, res.Chunks)

	hits, err := f.index.Search(ctx, "acme", []float32{1, 0, 0, 0}, 5, "guide")
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "berlin only", hits[0].Text)
}

// flakyIndex fails writes on demand and otherwise defers to a real index.
type flakyIndex struct {
	*vectorstore.ChromemIndex
	upsertErr error
	pruneErr  error
}

func (f *flakyIndex) Upsert(ctx context.Context, tenantID, docID, filename string, chunks []vectorstore.Chunk) (int, error) {
	if f.upsertErr != nil {
		return 0, f.upsertErr
	}
	return f.ChromemIndex.Upsert(ctx, tenantID, docID, filename, chunks)
}

func (f *flakyIndex) PruneDocument(ctx context.Context, tenantID, docID, keep string) (int, error) {
	if f.pruneErr != nil {
		return 0, f.pruneErr
	}
	return f.ChromemIndex.PruneDocument(ctx, tenantID, docID, keep)
}

func newFlakyFixture(t *testing.T) (*flakyIndex, *Service) {
	t.Helper()
	f := newFixture(t, Config{})
	idx := &flakyIndex{ChromemIndex: f.index}
	svc, err := NewService(Config{}, idx, f.embedder, nil, nil, zaptest.NewLogger(t))
	require.NoError(t, err)
	return idx, svc
}

func TestService_ReingestUpsertFailureKeepsOldVersion(t *testing.T) {
	ctx := context.Background()
	idx, svc := newFlakyFixture(t)

	_, err := svc.Ingest(ctx, Request{TenantID: "acme", DocID: "guide", Filename: "guide.pdf", Pages: []string{"paris one"}})
	require.NoError(t, err)

	idx.upsertErr = fmt.Errorf("%w: connection refused", vectorstore.ErrIndexUnavailable)
	_, err = svc.Ingest(ctx, Request{TenantID: "acme", DocID: "guide", Filename: "guide.pdf", Pages: []string{"berlin only"}})
	require.ErrorIs(t, err, vectorstore.ErrIndexUnavailable)

	docs, err := svc.List(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, []vectorstore.DocumentRef{{DocID: "guide", Filename: "guide.pdf"}}, docs)

	hits, err := idx.Search(ctx, "acme", []float32{1, 0, 0, 0}, 5, "guide")
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "paris one", hits[0].Text)
}

func TestService_ReingestPruneFailureIsReported(t *testing.T) {
	ctx := context.Background()
	idx, svc := newFlakyFixture(t)

	_, err := svc.Ingest(ctx, Request{TenantID: "acme", DocID: "guide", Filename: "guide.pdf", Pages: []string{"paris one"}})
	require.NoError(t, err)

	idx.pruneErr = fmt.Errorf("%w: timeout", vectorstore.ErrIndexUnavailable)
	_, err = svc.Ingest(ctx, Request{TenantID: "acme", DocID: "guide", Filename: "guide.pdf", Pages: []string{"berlin only"}})
	require.ErrorIs(t, err, vectorstore.ErrIndexUnavailable)

	// A retried upload clears every earlier revision.
	idx.pruneErr = nil
	res, err := svc.Ingest(ctx, Request{TenantID: "acme", DocID: "guide", Filename: "guide.pdf", Pages: []string{"berlin only"}})
	require.NoError(t, err)
	assert.True(t, res.Replaced)

	hits, err := idx.Search(ctx, "acme", []float32{0, 1, 0, 0}, 5, "guide")
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "berlin only", hits[0].Text)
}

func TestService_ScrubsSecrets(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Config{})

	_, err := f.svc.Ingest(ctx, Request{TenantID: "acme", Filename: "env.txt", Pages: []string{"api key tok_live_123"}})
	require.NoError(t, err)

	hits, err := f.index.Search(ctx, "acme", []float32{0, 0, 0, 1}, 1, "")
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.NotContains(t, hits[0].Text, "tok_live_123")
	assert.Contains(t, hits[0].Text, "[REDACTED:test]")
}

func TestService_IngestErrors(t *testing.T) {
	ctx := context.Background()

	t.Run("missing tenant", func(t *testing.T) {
		f := newFixture(t, Config{})
		_, err := f.svc.Ingest(ctx, Request{Filename: "a.pdf", Pages: []string{"x"}})
		assert.ErrorIs(t, err, ErrInvalidRequest)
	})

	t.Run("missing filename", func(t *testing.T) {
		f := newFixture(t, Config{})
		_, err := f.svc.Ingest(ctx, Request{TenantID: "acme", Pages: []string{"x"}})
		assert.ErrorIs(t, err, ErrInvalidRequest)
	})

	t.Run("blank pages", func(t *testing.T) {
		f := newFixture(t, Config{})
		_, err := f.svc.Ingest(ctx, Request{TenantID: "acme", Filename: "a.pdf", Pages: []string{"", "  "}})
		assert.ErrorIs(t, err, ErrNoContent)
		assert.Zero(t, f.embedder.batches)
	})

	t.Run("embedding failure keeps old version", func(t *testing.T) {
		f := newFixture(t, Config{})
		_, err := f.svc.Ingest(ctx, Request{TenantID: "acme", DocID: "d", Filename: "d.pdf", Pages: []string{"paris"}})
		require.NoError(t, err)

		f.embedder.err = errors.New("model offline")
		_, err = f.svc.Ingest(ctx, Request{TenantID: "acme", DocID: "d", Filename: "d.pdf", Pages: []string{"berlin"}})
		assert.ErrorIs(t, err, ErrEmbeddingFailure)

		docs, err := f.svc.List(ctx, "acme")
		require.NoError(t, err)
		assert.Len(t, docs, 1)
	})

	t.Run("invalid tenant id", func(t *testing.T) {
		f := newFixture(t, Config{})
		_, err := f.svc.Ingest(ctx, Request{TenantID: "bad tenant!", Filename: "a.pdf", Pages: []string{"x"}})
		assert.ErrorIs(t, err, vectorstore.ErrInvalidID)
	})
}

func TestService_Batching(t *testing.T) {
	f := newFixture(t, Config{BatchSize: 2})
	pages := []string{"a", "b", "c", "d", "e"}
	res, err := f.svc.Ingest(context.Background(), Request{TenantID: "acme", Filename: "letters.txt", Pages: pages})
	require.NoError(t, err)
	assert.Equal(t, 5, res.Chunks)
	assert.Equal(t, 3, f.embedder.batches)
}

func TestService_DeleteAndList(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Config{})

	for _, name := range []string{"b.pdf", "a.pdf"} {
		_, err := f.svc.Ingest(ctx, Request{TenantID: "acme", Filename: name, Pages: []string{"paris"}})
		require.NoError(t, err)
	}
	_, err := f.svc.Ingest(ctx, Request{TenantID: "globex", Filename: "c.pdf", Pages: []string{"paris"}})
	require.NoError(t, err)

	docs, err := f.svc.List(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, []vectorstore.DocumentRef{{DocID: "a.pdf", Filename: "a.pdf"}, {DocID: "b.pdf", Filename: "b.pdf"}}, docs)

	require.NoError(t, f.svc.Delete(ctx, "acme", "a.pdf"))
	require.NoError(t, f.svc.Delete(ctx, "acme", "a.pdf"))

	docs, err = f.svc.List(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, []vectorstore.DocumentRef{{DocID: "b.pdf", Filename: "b.pdf"}}, docs)

	last := f.pub.events[len(f.pub.events)-1]
	assert.Equal(t, events.TypeDeleted, last.Type)
	assert.Equal(t, "documents.acme.deleted", last.Subject())
}

func TestService_PublishFailureIsIgnored(t *testing.T) {
	f := newFixture(t, Config{})
	f.pub.err = errors.New("nats down")

	_, err := f.svc.Ingest(context.Background(), Request{TenantID: "acme", Filename: "a.pdf", Pages: []string{"paris"}})
	assert.NoError(t, err)
}
