package vectorstore_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/fyrsmithlabs/ragd/internal/vectorstore"
)

const testDim = 4

// unit returns the i-th standard basis vector.
func unit(i int) []float32 {
	v := make([]float32, testDim)
	v[i] = 1
	return v
}

func chunk(idx int, text string, vec []float32) vectorstore.Chunk {
	return vectorstore.Chunk{Page: 1, ChunkIndex: idx, Text: text, Vector: vec}
}

func newTestChromemIndex(t *testing.T) *vectorstore.ChromemIndex {
	t.Helper()
	idx, err := vectorstore.NewChromemIndex(vectorstore.ChromemConfig{
		CollectionName: "test_chunks",
		VectorSize:     testDim,
	}, zaptest.NewLogger(t))
	require.NoError(t, err)
	require.NoError(t, idx.EnsureSchema(context.Background()))
	t.Cleanup(func() { _ = idx.Close() })
	return idx
}

func TestChromemIndex_NewValidatesConfig(t *testing.T) {
	_, err := vectorstore.NewChromemIndex(vectorstore.ChromemConfig{VectorSize: 4}, nil)
	assert.ErrorIs(t, err, vectorstore.ErrInvalidConfig)

	_, err = vectorstore.NewChromemIndex(vectorstore.ChromemConfig{CollectionName: "c"}, nil)
	assert.ErrorIs(t, err, vectorstore.ErrInvalidConfig)
}

func TestChromemIndex_IdenticalVectorScoresOne(t *testing.T) {
	ctx := context.Background()
	idx := newTestChromemIndex(t)

	n, err := idx.Upsert(ctx, "t1", "d1", "paris.pdf", []vectorstore.Chunk{
		chunk(0, "Paris is the capital of France.", unit(0)),
	})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	results, err := idx.Search(ctx, "t1", unit(0), 5, "")
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "d1", results[0].DocID)
	assert.Equal(t, "paris.pdf", results[0].Filename)
	assert.Equal(t, "Paris is the capital of France.", results[0].Text)
	assert.Equal(t, 1, results[0].Page)
	assert.InDelta(t, 1.0, results[0].Score, 1e-5)
}

func TestChromemIndex_TenantIsolation(t *testing.T) {
	ctx := context.Background()
	idx := newTestChromemIndex(t)

	_, err := idx.Upsert(ctx, "tenant-a", "shared", "a.txt", []vectorstore.Chunk{
		chunk(0, "alpha secret", unit(0)),
	})
	require.NoError(t, err)
	_, err = idx.Upsert(ctx, "tenant-b", "shared", "b.txt", []vectorstore.Chunk{
		chunk(0, "beta secret", unit(0)),
	})
	require.NoError(t, err)

	results, err := idx.Search(ctx, "tenant-a", unit(0), 10, "")
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "alpha secret", results[0].Text)

	docs, err := idx.ListDocuments(ctx, "tenant-b")
	require.NoError(t, err)
	assert.Equal(t, []vectorstore.DocumentRef{{DocID: "shared", Filename: "b.txt"}}, docs)

	// Deleting in one tenant leaves the other's document of the same id.
	require.NoError(t, idx.DeleteDocument(ctx, "tenant-a", "shared"))
	results, err = idx.Search(ctx, "tenant-b", unit(0), 10, "")
	require.NoError(t, err)
	assert.Len(t, results, 1)

	results, err = idx.Search(ctx, "tenant-a", unit(0), 10, "")
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestChromemIndex_SearchOrderingAndTopK(t *testing.T) {
	ctx := context.Background()
	idx := newTestChromemIndex(t)

	_, err := idx.Upsert(ctx, "t1", "d1", "doc.md", []vectorstore.Chunk{
		chunk(0, "exact", []float32{1, 0, 0, 0}),
		chunk(1, "close", []float32{0.9, 0.1, 0, 0}),
		chunk(2, "far", []float32{0, 0, 0, 1}),
	})
	require.NoError(t, err)

	results, err := idx.Search(ctx, "t1", unit(0), 2, "")
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "exact", results[0].Text)
	assert.Equal(t, "close", results[1].Text)
	assert.GreaterOrEqual(t, results[0].Score, results[1].Score)
}

func TestChromemIndex_SearchDefaultsTopK(t *testing.T) {
	ctx := context.Background()
	idx := newTestChromemIndex(t)

	chunks := make([]vectorstore.Chunk, 0, 8)
	for i := range 8 {
		chunks = append(chunks, chunk(i, "text", unit(i%testDim)))
	}
	_, err := idx.Upsert(ctx, "t1", "d1", "doc.md", chunks)
	require.NoError(t, err)

	results, err := idx.Search(ctx, "t1", unit(0), 0, "")
	require.NoError(t, err)
	assert.Len(t, results, vectorstore.DefaultTopK)
}

func TestChromemIndex_SearchDocScope(t *testing.T) {
	ctx := context.Background()
	idx := newTestChromemIndex(t)

	_, err := idx.Upsert(ctx, "t1", "d1", "one.md", []vectorstore.Chunk{chunk(0, "one", unit(0))})
	require.NoError(t, err)
	_, err = idx.Upsert(ctx, "t1", "d2", "two.md", []vectorstore.Chunk{chunk(0, "two", unit(1))})
	require.NoError(t, err)

	results, err := idx.Search(ctx, "t1", unit(0), 5, "d2")
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "d2", results[0].DocID)
}

func TestChromemIndex_SearchDeduplicates(t *testing.T) {
	ctx := context.Background()
	idx := newTestChromemIndex(t)

	// Re-ingesting the same document writes duplicate (doc_id, chunk_index) pairs.
	for range 2 {
		_, err := idx.Upsert(ctx, "t1", "d1", "doc.md", []vectorstore.Chunk{chunk(0, "same", unit(0))})
		require.NoError(t, err)
	}

	results, err := idx.Search(ctx, "t1", unit(0), 5, "")
	require.NoError(t, err)
	assert.Len(t, results, 1)
}

func TestChromemIndex_EmptyTenant(t *testing.T) {
	ctx := context.Background()
	idx := newTestChromemIndex(t)

	results, err := idx.Search(ctx, "nobody", unit(0), 5, "")
	require.NoError(t, err)
	assert.Empty(t, results)

	docs, err := idx.ListDocuments(ctx, "nobody")
	require.NoError(t, err)
	assert.NotNil(t, docs)
	assert.Empty(t, docs)
}

func TestChromemIndex_ListDocumentsSorted(t *testing.T) {
	ctx := context.Background()
	idx := newTestChromemIndex(t)

	for _, id := range []string{"zeta", "alpha", "mid"} {
		_, err := idx.Upsert(ctx, "t1", id, id+".txt", []vectorstore.Chunk{
			chunk(0, id, unit(0)),
			chunk(1, id, unit(1)),
		})
		require.NoError(t, err)
	}

	docs, err := idx.ListDocuments(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, []vectorstore.DocumentRef{
		{DocID: "alpha", Filename: "alpha.txt"},
		{DocID: "mid", Filename: "mid.txt"},
		{DocID: "zeta", Filename: "zeta.txt"},
	}, docs)
}

func TestChromemIndex_DeleteIsIdempotent(t *testing.T) {
	ctx := context.Background()
	idx := newTestChromemIndex(t)

	_, err := idx.Upsert(ctx, "t1", "d1", "doc.md", []vectorstore.Chunk{chunk(0, "x", unit(0))})
	require.NoError(t, err)

	require.NoError(t, idx.DeleteDocument(ctx, "t1", "d1"))
	require.NoError(t, idx.DeleteDocument(ctx, "t1", "d1"))
	require.NoError(t, idx.DeleteDocument(ctx, "t1", "never-existed"))

	docs, err := idx.ListDocuments(ctx, "t1")
	require.NoError(t, err)
	assert.Empty(t, docs)
}

func TestChromemIndex_PruneDocumentKeepsRevision(t *testing.T) {
	ctx := context.Background()
	idx := newTestChromemIndex(t)

	old := []vectorstore.Chunk{chunk(0, "old zero", unit(0)), chunk(1, "old one", unit(1))}
	for i := range old {
		old[i].Revision = "r1"
	}
	_, err := idx.Upsert(ctx, "t1", "d1", "doc.md", old)
	require.NoError(t, err)
	fresh := chunk(0, "new zero", unit(2))
	fresh.Revision = "r2"
	_, err = idx.Upsert(ctx, "t1", "d1", "doc.md", []vectorstore.Chunk{fresh})
	require.NoError(t, err)
	_, err = idx.Upsert(ctx, "t2", "d1", "doc.md", old)
	require.NoError(t, err)

	removed, err := idx.PruneDocument(ctx, "t1", "d1", "r2")
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	results, err := idx.Search(ctx, "t1", unit(0), 10, "d1")
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "new zero", results[0].Text)

	// Other tenants' chunks with the same doc id are untouched.
	results, err = idx.Search(ctx, "t2", unit(0), 10, "d1")
	require.NoError(t, err)
	assert.Len(t, results, 2)

	removed, err = idx.PruneDocument(ctx, "t1", "d1", "r2")
	require.NoError(t, err)
	assert.Zero(t, removed)

	_, err = idx.PruneDocument(ctx, "", "d1", "r2")
	assert.ErrorIs(t, err, vectorstore.ErrMissingTenant)
}

func TestChromemIndex_RejectsInvalidInput(t *testing.T) {
	ctx := context.Background()
	idx := newTestChromemIndex(t)

	_, err := idx.Upsert(ctx, "", "d1", "doc.md", []vectorstore.Chunk{chunk(0, "x", unit(0))})
	assert.ErrorIs(t, err, vectorstore.ErrMissingTenant)

	_, err = idx.Upsert(ctx, "t1", "", "doc.md", []vectorstore.Chunk{chunk(0, "x", unit(0))})
	assert.ErrorIs(t, err, vectorstore.ErrInvalidID)

	_, err = idx.Upsert(ctx, "t1", "d1", "doc.md", nil)
	assert.ErrorIs(t, err, vectorstore.ErrEmptyChunks)

	_, err = idx.Upsert(ctx, "t1", "d1", "doc.md", []vectorstore.Chunk{chunk(0, "x", []float32{1, 0})})
	assert.ErrorIs(t, err, vectorstore.ErrDimensionMismatch)

	_, err = idx.Search(ctx, "", unit(0), 5, "")
	assert.ErrorIs(t, err, vectorstore.ErrMissingTenant)

	_, err = idx.Search(ctx, "t1", []float32{1}, 5, "")
	assert.ErrorIs(t, err, vectorstore.ErrDimensionMismatch)

	_, err = idx.ListDocuments(ctx, "")
	assert.ErrorIs(t, err, vectorstore.ErrMissingTenant)

	err = idx.DeleteDocument(ctx, "", "d1")
	assert.ErrorIs(t, err, vectorstore.ErrMissingTenant)
}

func TestChromemIndex_Persistent(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	cfg := vectorstore.ChromemConfig{Path: dir, CollectionName: "persisted", VectorSize: testDim}

	idx, err := vectorstore.NewChromemIndex(cfg, nil)
	require.NoError(t, err)
	require.NoError(t, idx.EnsureSchema(ctx))
	_, err = idx.Upsert(ctx, "t1", "d1", "doc.md", []vectorstore.Chunk{chunk(0, "kept", unit(2))})
	require.NoError(t, err)
	require.NoError(t, idx.Close())

	reopened, err := vectorstore.NewChromemIndex(cfg, nil)
	require.NoError(t, err)
	results, err := reopened.Search(ctx, "t1", unit(2), 1, "")
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "kept", results[0].Text)
}
