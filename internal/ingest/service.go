// Package ingest turns uploaded documents into indexed chunks.
//
// Ingestion scrubs secrets from every page, splits pages into chunks,
// embeds them in batches and writes them to the tenant's slice of the
// index. A re-upload writes the new version under a fresh revision before
// pruning the old one, so a failed write leaves the old version in place.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ragd/internal/config"
	"github.com/fyrsmithlabs/ragd/internal/events"
	"github.com/fyrsmithlabs/ragd/internal/logging"
	"github.com/fyrsmithlabs/ragd/internal/vectorstore"
)

var (
	// ErrInvalidRequest means the request is missing required fields.
	ErrInvalidRequest = errors.New("invalid ingest request")

	// ErrNoContent means every page was blank.
	ErrNoContent = errors.New("document has no text")

	// ErrEmbeddingFailure means chunk embedding failed.
	ErrEmbeddingFailure = errors.New("embedding failure")
)

const defaultBatchSize = 64

var chunksIngested = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "ragd",
	Subsystem: "ingest",
	Name:      "chunks_total",
	Help:      "Total number of chunks written to the index",
})

// Index is the write side of vectorstore.Index.
type Index interface {
	Upsert(ctx context.Context, tenantID, docID, filename string, chunks []vectorstore.Chunk) (int, error)
	ListDocuments(ctx context.Context, tenantID string) ([]vectorstore.DocumentRef, error)
	DeleteDocument(ctx context.Context, tenantID, docID string) error
	PruneDocument(ctx context.Context, tenantID, docID, keep string) (int, error)
}

// Embedder embeds chunk texts.
type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// Scrubber removes secrets from text.
type Scrubber interface {
	Redact(content string) string
}

// Request is one document upload.
type Request struct {
	TenantID string
	// DocID defaults to Filename.
	DocID    string
	Filename string
	// Pages hold the extracted text of each page, in order.
	Pages []string
}

// Result reports what was written.
type Result struct {
	DocID    string `json:"doc_id"`
	Filename string `json:"filename"`
	Chunks   int    `json:"chunks"`
	Replaced bool   `json:"replaced"`
}

// Config holds ingestion settings.
type Config struct {
	ChunkSize        int
	ChunkOverlap     int
	BatchSize        int
	EmbeddingTimeout time.Duration
	IndexTimeout     time.Duration
}

// ConfigFrom extracts ingestion settings from the service config.
func ConfigFrom(cfg *config.Config) Config {
	return Config{
		ChunkSize:        cfg.Retrieval.ChunkSize,
		ChunkOverlap:     cfg.Retrieval.ChunkOverlap,
		EmbeddingTimeout: cfg.Timeouts.Embedding.Duration(),
		IndexTimeout:     cfg.Timeouts.Index.Duration(),
	}
}

// Service ingests, lists and deletes documents.
type Service struct {
	cfg       Config
	chunker   *Chunker
	index     Index
	embedder  Embedder
	scrubber  Scrubber
	publisher events.Publisher
	logger    *zap.Logger
}

// NewService wires a Service. scrubber and publisher may be nil.
func NewService(cfg Config, index Index, embedder Embedder, scrubber Scrubber, publisher events.Publisher, logger *zap.Logger) (*Service, error) {
	if index == nil || embedder == nil {
		return nil, errors.New("ingest: index and embedder are required")
	}
	chunker, err := NewChunker(cfg.ChunkSize, cfg.ChunkOverlap)
	if err != nil {
		return nil, err
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	if publisher == nil {
		publisher = events.Nop{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		cfg:       cfg,
		chunker:   chunker,
		index:     index,
		embedder:  embedder,
		scrubber:  scrubber,
		publisher: publisher,
		logger:    logger,
	}, nil
}

// Ingest indexes req, replacing any existing document with the same id.
func (s *Service) Ingest(ctx context.Context, req Request) (*Result, error) {
	if req.TenantID == "" {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRequest, vectorstore.ErrMissingTenant)
	}
	req.Filename = strings.TrimSpace(req.Filename)
	if req.Filename == "" {
		return nil, fmt.Errorf("%w: filename is required", ErrInvalidRequest)
	}
	if req.DocID == "" {
		req.DocID = req.Filename
	}

	pages := req.Pages
	if s.scrubber != nil {
		pages = make([]string, len(req.Pages))
		for i, p := range req.Pages {
			pages[i] = s.scrubber.Redact(p)
		}
	}

	chunks, err := s.chunker.Split(pages)
	if err != nil {
		return nil, err
	}
	if len(chunks) == 0 {
		return nil, ErrNoContent
	}

	if err := s.embed(ctx, chunks); err != nil {
		return nil, err
	}

	revision := uuid.New().String()
	for i := range chunks {
		chunks[i].Revision = revision
	}

	ictx, cancel := withTimeout(ctx, s.cfg.IndexTimeout)
	n, err := s.index.Upsert(ictx, req.TenantID, req.DocID, req.Filename, chunks)
	cancel()
	if err != nil {
		return nil, err
	}
	chunksIngested.Add(float64(n))

	// Both versions are searchable until the prune lands; a retried upload
	// prunes them together.
	ictx, cancel = withTimeout(ctx, s.cfg.IndexTimeout)
	removed, err := s.index.PruneDocument(ictx, req.TenantID, req.DocID, revision)
	cancel()
	if err != nil {
		return nil, fmt.Errorf("pruning previous version of %s: %w", req.DocID, err)
	}
	replaced := removed > 0

	e := events.NewEvent(events.TypeIngested, req.TenantID, req.DocID)
	e.Filename = req.Filename
	e.Chunks = n
	s.publish(ctx, e)

	s.logger.Info("ingested document",
		append(logging.ContextFields(ctx),
			zap.String("doc_id", req.DocID),
			zap.Int("pages", len(req.Pages)),
			zap.Int("chunks", n),
			zap.Int("pruned", removed),
		)...)

	return &Result{DocID: req.DocID, Filename: req.Filename, Chunks: n, Replaced: replaced}, nil
}

// List returns the tenant's documents ordered by doc_id.
func (s *Service) List(ctx context.Context, tenantID string) ([]vectorstore.DocumentRef, error) {
	ictx, cancel := withTimeout(ctx, s.cfg.IndexTimeout)
	defer cancel()
	return s.index.ListDocuments(ictx, tenantID)
}

// Delete removes a document. Deleting an unknown document succeeds.
func (s *Service) Delete(ctx context.Context, tenantID, docID string) error {
	if err := s.deleteChunks(ctx, tenantID, docID); err != nil {
		return err
	}
	s.publish(ctx, events.NewEvent(events.TypeDeleted, tenantID, docID))
	return nil
}

func (s *Service) embed(ctx context.Context, chunks []vectorstore.Chunk) error {
	for start := 0; start < len(chunks); start += s.cfg.BatchSize {
		end := min(start+s.cfg.BatchSize, len(chunks))
		texts := make([]string, 0, end-start)
		for _, c := range chunks[start:end] {
			texts = append(texts, c.Text)
		}

		ectx, cancel := withTimeout(ctx, s.cfg.EmbeddingTimeout)
		vectors, err := s.embedder.EmbedBatch(ectx, texts)
		cancel()
		if err != nil {
			return fmt.Errorf("%w: chunks %d-%d: %w", ErrEmbeddingFailure, start, end-1, err)
		}
		if len(vectors) != len(texts) {
			return fmt.Errorf("%w: got %d vectors for %d chunks", ErrEmbeddingFailure, len(vectors), len(texts))
		}
		for i, v := range vectors {
			chunks[start+i].Vector = v
		}
	}
	return nil
}

func (s *Service) deleteChunks(ctx context.Context, tenantID, docID string) error {
	ictx, cancel := withTimeout(ctx, s.cfg.IndexTimeout)
	defer cancel()
	return s.index.DeleteDocument(ictx, tenantID, docID)
}

func (s *Service) publish(ctx context.Context, e events.Event) {
	if err := s.publisher.Publish(ctx, e); err != nil {
		s.logger.Warn("failed to publish document event",
			append(logging.ContextFields(ctx),
				zap.String("subject", e.Subject()),
				zap.Error(err),
			)...)
	}
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
