package vectorstore

import (
	"context"
	"errors"
)

// Sentinel errors for index operations.
var (
	// ErrIndexUnavailable wraps any failure to reach or complete an
	// operation against the backing store.
	ErrIndexUnavailable = errors.New("vector index unavailable")

	// ErrMissingTenant is returned when an operation has no tenant scope.
	ErrMissingTenant = errors.New("tenant id is required")

	// ErrInvalidID indicates a malformed tenant or document identifier.
	ErrInvalidID = errors.New("invalid identifier")

	// ErrDimensionMismatch indicates a vector whose length differs from the
	// dimension the collection was created with.
	ErrDimensionMismatch = errors.New("vector dimension mismatch")

	// ErrEmptyChunks indicates an upsert with nothing to write.
	ErrEmptyChunks = errors.New("no chunks to upsert")

	// ErrInvalidConfig indicates invalid index configuration.
	ErrInvalidConfig = errors.New("invalid configuration")
)

// DefaultTopK is the result count used when Search is called with topK <= 0.
const DefaultTopK = 5

// Index is durable, multi-tenant nearest-neighbor storage over chunks.
//
// Implementations must be safe for concurrent use by multiple goroutines,
// including concurrent writes and reads for different tenants.
type Index interface {
	// EnsureSchema creates the collection if it does not exist and makes
	// sure its tenant_id/doc_id payload indexes are present. Safe to call on
	// every start.
	EnsureSchema(ctx context.Context) error

	// Upsert writes chunks for one document in a single acknowledged batch
	// and returns the number written. Every chunk gets a fresh point ID and
	// has its tenant, document and filename fields set from the arguments.
	Upsert(ctx context.Context, tenantID, docID, filename string, chunks []Chunk) (int, error)

	// ListDocuments returns one entry per distinct doc_id owned by tenantID,
	// ordered by doc_id. The first filename seen for a doc_id wins.
	ListDocuments(ctx context.Context, tenantID string) ([]DocumentRef, error)

	// DeleteDocument removes every chunk of docID owned by tenantID.
	// Deleting an unknown document is a no-op.
	DeleteDocument(ctx context.Context, tenantID, docID string) error

	// PruneDocument removes the chunks of docID owned by tenantID whose
	// revision differs from keep, and returns how many were removed. Chunks
	// written without a revision always differ.
	PruneDocument(ctx context.Context, tenantID, docID, keep string) (int, error)

	// Search returns at most topK chunks of tenantID nearest to vector,
	// sorted by descending score with no repeated (doc_id, chunk_index).
	// A non-empty docID restricts the search to that document.
	Search(ctx context.Context, tenantID string, vector []float32, topK int, docID string) ([]RetrievalResult, error)

	// Close releases the underlying connection or database.
	Close() error
}
