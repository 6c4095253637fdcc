package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"
	chromem "github.com/philippgille/chromem-go"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

const backendChromem = "chromem"

// errNoEmbedder is returned if chromem ever tries to embed content itself.
// Every document and query reaching the collection already carries a vector.
var errNoEmbedder = errors.New("chromem index requires precomputed embeddings")

// ChromemConfig configures ChromemIndex.
type ChromemConfig struct {
	// Path is the persistence directory. Empty keeps the index in memory.
	Path           string
	Compress       bool
	CollectionName string
	VectorSize     int
}

// ChromemIndex is the embedded Index backed by chromem-go.
type ChromemIndex struct {
	db     *chromem.DB
	config ChromemConfig
	logger *zap.Logger

	mu         sync.Mutex
	collection *chromem.Collection
}

// NewChromemIndex opens (or creates) the chromem database.
func NewChromemIndex(config ChromemConfig, logger *zap.Logger) (*ChromemIndex, error) {
	if config.CollectionName == "" {
		return nil, fmt.Errorf("%w: collection name is required", ErrInvalidConfig)
	}
	if config.VectorSize <= 0 {
		return nil, fmt.Errorf("%w: vector size is required", ErrInvalidConfig)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	var db *chromem.DB
	if config.Path == "" {
		db = chromem.NewDB()
	} else {
		path, err := expandPath(config.Path)
		if err != nil {
			return nil, err
		}
		if err := os.MkdirAll(path, 0o700); err != nil {
			return nil, fmt.Errorf("%w: create data dir: %v", ErrIndexUnavailable, err)
		}
		db, err = chromem.NewPersistentDB(path, config.Compress)
		if err != nil {
			return nil, fmt.Errorf("%w: open chromem db: %v", ErrIndexUnavailable, err)
		}
		config.Path = path
	}

	logger.Info("opened chromem index",
		zap.String("path", config.Path),
		zap.String("collection", config.CollectionName),
		zap.Int("vector_size", config.VectorSize))

	return &ChromemIndex{db: db, config: config, logger: logger}, nil
}

func expandPath(path string) (string, error) {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("%w: resolve home dir: %v", ErrInvalidConfig, err)
		}
		path = filepath.Join(home, strings.TrimPrefix(path, "~"))
	}
	return filepath.Clean(path), nil
}

func refuseEmbedding(context.Context, string) ([]float32, error) {
	return nil, errNoEmbedder
}

func (c *ChromemIndex) getCollection() (*chromem.Collection, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.collection != nil {
		return c.collection, nil
	}
	col, err := c.db.GetOrCreateCollection(c.config.CollectionName, nil, refuseEmbedding)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIndexUnavailable, err)
	}
	c.collection = col
	return col, nil
}

// EnsureSchema implements Index. chromem filters on metadata without
// separate indexes, so only the collection needs to exist.
func (c *ChromemIndex) EnsureSchema(ctx context.Context) (err error) {
	_, done := startOp(ctx, backendChromem, "ensure_schema",
		attribute.String("collection", c.config.CollectionName))
	defer func() { done(err) }()

	_, err = c.getCollection()
	return err
}

// Upsert implements Index.
func (c *ChromemIndex) Upsert(ctx context.Context, tenantID, docID, filename string, chunks []Chunk) (n int, err error) {
	ctx, done := startOp(ctx, backendChromem, "upsert", attribute.Int("chunks", len(chunks)))
	defer func() { done(err) }()

	if err := validateUpsert(tenantID, docID, chunks, c.config.VectorSize); err != nil {
		return 0, err
	}
	col, err := c.getCollection()
	if err != nil {
		return 0, err
	}

	docs := make([]chromem.Document, 0, len(chunks))
	for _, ch := range chunks {
		docs = append(docs, chromem.Document{
			ID:      uuid.New().String(),
			Content: ch.Text,
			Metadata: map[string]string{
				FieldTenantID:   tenantID,
				FieldDocID:      docID,
				FieldFilename:   filename,
				FieldPage:       strconv.Itoa(ch.Page),
				FieldChunkIndex: strconv.Itoa(ch.ChunkIndex),
				FieldRevision:   ch.Revision,
			},
			Embedding: ch.Vector,
		})
	}

	if err := col.AddDocuments(ctx, docs, runtime.NumCPU()); err != nil {
		return 0, fmt.Errorf("%w: add documents: %v", ErrIndexUnavailable, err)
	}

	ChunksWritten.WithLabelValues(backendChromem).Add(float64(len(docs)))
	return len(docs), nil
}

// ListDocuments implements Index.
func (c *ChromemIndex) ListDocuments(ctx context.Context, tenantID string) (refs []DocumentRef, err error) {
	ctx, done := startOp(ctx, backendChromem, "list_documents")
	defer func() { done(err) }()

	sc, err := newScope(tenantID, "")
	if err != nil {
		return nil, err
	}
	col, err := c.getCollection()
	if err != nil {
		return nil, err
	}

	hits, err := c.scan(ctx, col, sc)
	if err != nil {
		return nil, err
	}

	docs := newDocumentSet()
	// Query order is by similarity to the anchor vector; make "first filename seen"
	// deterministic by visiting chunks in document order.
	chunks := make([]RetrievalResult, 0, len(hits))
	for _, h := range hits {
		chunks = append(chunks, resultFromChromem(h))
	}
	sortByDocument(chunks)
	for _, ch := range chunks {
		docs.add(ch.DocID, ch.Filename)
	}
	return docs.sorted(), nil
}

// DeleteDocument implements Index.
func (c *ChromemIndex) DeleteDocument(ctx context.Context, tenantID, docID string) (err error) {
	ctx, done := startOp(ctx, backendChromem, "delete_document")
	defer func() { done(err) }()

	if err := ValidateDocID(docID); err != nil {
		return err
	}
	sc, err := newScope(tenantID, docID)
	if err != nil {
		return err
	}
	col, err := c.getCollection()
	if err != nil {
		return err
	}
	if err := col.Delete(ctx, sc.where(), nil); err != nil {
		return fmt.Errorf("%w: delete: %v", ErrIndexUnavailable, err)
	}
	return nil
}

// PruneDocument implements Index. chromem metadata filters only match on
// equality, so the document's chunks are scanned and deleted by ID.
func (c *ChromemIndex) PruneDocument(ctx context.Context, tenantID, docID, keep string) (removed int, err error) {
	ctx, done := startOp(ctx, backendChromem, "prune_document")
	defer func() { done(err) }()

	if err := ValidateDocID(docID); err != nil {
		return 0, err
	}
	sc, err := newScope(tenantID, docID)
	if err != nil {
		return 0, err
	}
	col, err := c.getCollection()
	if err != nil {
		return 0, err
	}

	hits, err := c.scan(ctx, col, sc)
	if err != nil {
		return 0, err
	}
	var stale []string
	for _, h := range hits {
		if h.Metadata[FieldRevision] != keep {
			stale = append(stale, h.ID)
		}
	}
	if len(stale) == 0 {
		return 0, nil
	}
	if err := col.Delete(ctx, nil, nil, stale...); err != nil {
		return 0, fmt.Errorf("%w: prune: %v", ErrIndexUnavailable, err)
	}
	return len(stale), nil
}

// scan returns every chunk in scope with an unranked full query. chromem
// has no scroll API.
func (c *ChromemIndex) scan(ctx context.Context, col *chromem.Collection, sc scope) ([]chromem.Result, error) {
	count := col.Count()
	if count == 0 {
		return nil, nil
	}
	anchor := make([]float32, c.config.VectorSize)
	anchor[0] = 1
	hits, err := col.QueryEmbedding(ctx, anchor, count, sc.where(), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: scan: %v", ErrIndexUnavailable, err)
	}
	return hits, nil
}

// Search implements Index.
func (c *ChromemIndex) Search(ctx context.Context, tenantID string, vector []float32, topK int, docID string) (results []RetrievalResult, err error) {
	if topK <= 0 {
		topK = DefaultTopK
	}
	ctx, done := startOp(ctx, backendChromem, "search", attribute.Int("top_k", topK))
	defer func() { done(err) }()

	sc, err := newScope(tenantID, docID)
	if err != nil {
		return nil, err
	}
	if len(vector) != c.config.VectorSize {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(vector), c.config.VectorSize)
	}
	col, err := c.getCollection()
	if err != nil {
		return nil, err
	}

	count := col.Count()
	if count == 0 {
		return []RetrievalResult{}, nil
	}
	hits, err := col.QueryEmbedding(ctx, vector, min(topK, count), sc.where(), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: query: %v", ErrIndexUnavailable, err)
	}

	results = make([]RetrievalResult, 0, len(hits))
	for _, h := range hits {
		results = append(results, resultFromChromem(h))
	}
	return dedupResults(results, topK), nil
}

// Close implements Index. Persistent chromem databases write through on
// every change, so there is nothing to flush.
func (c *ChromemIndex) Close() error {
	return nil
}

func resultFromChromem(r chromem.Result) RetrievalResult {
	page, _ := strconv.Atoi(r.Metadata[FieldPage])
	idx, _ := strconv.Atoi(r.Metadata[FieldChunkIndex])
	return RetrievalResult{
		DocID:      r.Metadata[FieldDocID],
		Filename:   r.Metadata[FieldFilename],
		Page:       page,
		ChunkIndex: idx,
		Text:       r.Content,
		Score:      r.Similarity,
	}
}

var _ Index = (*ChromemIndex)(nil)
