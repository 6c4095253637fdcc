package vectorstore

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	grpccodes "google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	backendQdrant = "qdrant"

	// scrollPage is the number of points fetched per Scroll call.
	scrollPage = 256
)

var collectionNamePattern = regexp.MustCompile(`^[a-z0-9_]{1,64}$`)

// QdrantConfig configures QdrantIndex.
type QdrantConfig struct {
	Host           string
	Port           int
	CollectionName string
	VectorSize     uint64
	Distance       qdrant.Distance
	UseTLS         bool
	APIKey         string

	// MaxRetries bounds retries of transient gRPC failures.
	MaxRetries   int
	RetryBackoff time.Duration

	// MaxMessageSize caps gRPC messages in both directions.
	MaxMessageSize int
}

// ApplyDefaults fills unset fields.
func (c *QdrantConfig) ApplyDefaults() {
	if c.Host == "" {
		c.Host = "localhost"
	}
	if c.Port == 0 {
		c.Port = 6334
	}
	if c.Distance == qdrant.Distance_UnknownDistance {
		c.Distance = qdrant.Distance_Cosine
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
	if c.RetryBackoff == 0 {
		c.RetryBackoff = 500 * time.Millisecond
	}
	if c.MaxMessageSize == 0 {
		c.MaxMessageSize = 50 * 1024 * 1024
	}
}

// Validate checks the configuration.
func (c QdrantConfig) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("%w: host is required", ErrInvalidConfig)
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("%w: invalid port %d", ErrInvalidConfig, c.Port)
	}
	if !collectionNamePattern.MatchString(c.CollectionName) {
		return fmt.Errorf("%w: collection name %q must match %s", ErrInvalidConfig, c.CollectionName, collectionNamePattern)
	}
	if c.VectorSize == 0 {
		return fmt.Errorf("%w: vector size is required", ErrInvalidConfig)
	}
	return nil
}

// ParseDistance maps a config string onto a Qdrant distance.
func ParseDistance(s string) (qdrant.Distance, error) {
	switch strings.ToLower(s) {
	case "", "cosine":
		return qdrant.Distance_Cosine, nil
	case "dot":
		return qdrant.Distance_Dot, nil
	case "euclid":
		return qdrant.Distance_Euclid, nil
	default:
		return qdrant.Distance_UnknownDistance, fmt.Errorf("%w: unsupported distance %q", ErrInvalidConfig, s)
	}
}

// qdrantAPI is the subset of *qdrant.Client used by QdrantIndex.
type qdrantAPI interface {
	GetCollectionInfo(ctx context.Context, collectionName string) (*qdrant.CollectionInfo, error)
	CreateCollection(ctx context.Context, request *qdrant.CreateCollection) error
	CreateFieldIndex(ctx context.Context, request *qdrant.CreateFieldIndexCollection) (*qdrant.UpdateResult, error)
	Upsert(ctx context.Context, request *qdrant.UpsertPoints) (*qdrant.UpdateResult, error)
	Query(ctx context.Context, request *qdrant.QueryPoints) ([]*qdrant.ScoredPoint, error)
	Scroll(ctx context.Context, request *qdrant.ScrollPoints) ([]*qdrant.RetrievedPoint, error)
	Count(ctx context.Context, request *qdrant.CountPoints) (uint64, error)
	Delete(ctx context.Context, request *qdrant.DeletePoints) (*qdrant.UpdateResult, error)
	HealthCheck(ctx context.Context) (*qdrant.HealthCheckReply, error)
	Close() error
}

// QdrantIndex is the Index backed by an external Qdrant server.
type QdrantIndex struct {
	client qdrantAPI
	config QdrantConfig
	retry  *retrier
	logger *zap.Logger
}

// NewQdrantIndex dials Qdrant and verifies it answers a health check.
func NewQdrantIndex(config QdrantConfig, logger *zap.Logger) (*QdrantIndex, error) {
	config.ApplyDefaults()
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if !config.UseTLS {
		logger.Warn("qdrant gRPC connection is plaintext", zap.String("host", config.Host))
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   config.Host,
		Port:   config.Port,
		UseTLS: config.UseTLS,
		APIKey: config.APIKey,
		GrpcOptions: []grpc.DialOption{
			grpc.WithDefaultCallOptions(
				grpc.MaxCallRecvMsgSize(config.MaxMessageSize),
				grpc.MaxCallSendMsgSize(config.MaxMessageSize),
			),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIndexUnavailable, err)
	}

	idx := newQdrantIndex(client, config, logger)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := client.HealthCheck(ctx); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("%w: health check: %v", ErrIndexUnavailable, err)
	}

	return idx, nil
}

func newQdrantIndex(client qdrantAPI, config QdrantConfig, logger *zap.Logger) *QdrantIndex {
	return &QdrantIndex{
		client: client,
		config: config,
		retry:  newRetrier(config.MaxRetries, config.RetryBackoff),
		logger: logger,
	}
}

// EnsureSchema implements Index.
func (q *QdrantIndex) EnsureSchema(ctx context.Context) (err error) {
	ctx, done := startOp(ctx, backendQdrant, "ensure_schema",
		attribute.String("collection", q.config.CollectionName))
	defer func() { done(err) }()

	exists, err := q.collectionExists(ctx)
	if err != nil {
		return err
	}
	if !exists {
		if err := q.createCollection(ctx); err != nil {
			return err
		}
	}

	// Field index creation is idempotent; run it even for an existing collection.
	for _, field := range []struct {
		name     string
		isTenant bool
	}{
		{FieldTenantID, true},
		{FieldDocID, false},
	} {
		params := &qdrant.KeywordIndexParams{}
		if field.isTenant {
			params.IsTenant = qdrant.PtrOf(true)
		}
		req := &qdrant.CreateFieldIndexCollection{
			CollectionName: q.config.CollectionName,
			Wait:           qdrant.PtrOf(true),
			FieldName:      field.name,
			FieldType:      qdrant.FieldType_FieldTypeKeyword.Enum(),
			FieldIndexParams: &qdrant.PayloadIndexParams{
				IndexParams: &qdrant.PayloadIndexParams_KeywordIndexParams{KeywordIndexParams: params},
			},
		}
		err = q.retry.do(ctx, "create field index "+field.name, func(ctx context.Context) error {
			_, err := q.client.CreateFieldIndex(ctx, req)
			return err
		})
		if err != nil {
			return fmt.Errorf("%w: %v", ErrIndexUnavailable, err)
		}
	}
	return nil
}

func (q *QdrantIndex) createCollection(ctx context.Context) error {
	err := q.retry.do(ctx, "create collection", func(ctx context.Context) error {
		return q.client.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: q.config.CollectionName,
			VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
				Size:     q.config.VectorSize,
				Distance: q.config.Distance,
			}),
			// Per-tenant HNSW graphs instead of one global graph.
			HnswConfig: &qdrant.HnswConfigDiff{
				M:        qdrant.PtrOf(uint64(0)),
				PayloadM: qdrant.PtrOf(uint64(16)),
			},
		})
	})
	if err != nil {
		if status.Code(err) != grpccodes.AlreadyExists {
			return fmt.Errorf("%w: %v", ErrIndexUnavailable, err)
		}
		q.logger.Debug("collection created concurrently", zap.String("collection", q.config.CollectionName))
		return nil
	}

	q.logger.Info("created qdrant collection",
		zap.String("collection", q.config.CollectionName),
		zap.Uint64("vector_size", q.config.VectorSize),
		zap.String("distance", q.config.Distance.String()))
	return nil
}

// collectionExists looks the collection up. Only NotFound means absent.
func (q *QdrantIndex) collectionExists(ctx context.Context) (bool, error) {
	err := q.retry.do(ctx, "get collection info", func(ctx context.Context) error {
		_, err := q.client.GetCollectionInfo(ctx, q.config.CollectionName)
		return err
	})
	if err == nil {
		return true, nil
	}
	if status.Code(err) == grpccodes.NotFound {
		return false, nil
	}
	return false, fmt.Errorf("%w: get collection: %v", ErrIndexUnavailable, err)
}

// Upsert implements Index.
func (q *QdrantIndex) Upsert(ctx context.Context, tenantID, docID, filename string, chunks []Chunk) (n int, err error) {
	ctx, done := startOp(ctx, backendQdrant, "upsert", attribute.Int("chunks", len(chunks)))
	defer func() { done(err) }()

	if err := validateUpsert(tenantID, docID, chunks, int(q.config.VectorSize)); err != nil {
		return 0, err
	}

	points := make([]*qdrant.PointStruct, 0, len(chunks))
	for _, c := range chunks {
		points = append(points, &qdrant.PointStruct{
			Id:      qdrant.NewIDUUID(uuid.New().String()),
			Vectors: qdrant.NewVectors(c.Vector...),
			Payload: map[string]*qdrant.Value{
				FieldTenantID:   qdrant.NewValueString(tenantID),
				FieldDocID:      qdrant.NewValueString(docID),
				FieldFilename:   qdrant.NewValueString(filename),
				FieldPage:       qdrant.NewValueInt(int64(c.Page)),
				FieldChunkIndex: qdrant.NewValueInt(int64(c.ChunkIndex)),
				FieldText:       qdrant.NewValueString(c.Text),
				FieldRevision:   qdrant.NewValueString(c.Revision),
			},
		})
	}

	err = q.retry.do(ctx, "upsert", func(ctx context.Context) error {
		_, err := q.client.Upsert(ctx, &qdrant.UpsertPoints{
			CollectionName: q.config.CollectionName,
			Wait:           qdrant.PtrOf(true),
			Points:         points,
		})
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrIndexUnavailable, err)
	}

	ChunksWritten.WithLabelValues(backendQdrant).Add(float64(len(points)))
	return len(points), nil
}

// ListDocuments implements Index.
func (q *QdrantIndex) ListDocuments(ctx context.Context, tenantID string) (refs []DocumentRef, err error) {
	ctx, done := startOp(ctx, backendQdrant, "list_documents")
	defer func() { done(err) }()

	sc, err := newScope(tenantID, "")
	if err != nil {
		return nil, err
	}

	docs := newDocumentSet()
	var offset *qdrant.PointId
	for {
		var page []*qdrant.RetrievedPoint
		err = q.retry.do(ctx, "scroll", func(ctx context.Context) error {
			var err error
			page, err = q.client.Scroll(ctx, &qdrant.ScrollPoints{
				CollectionName: q.config.CollectionName,
				Filter:         sc.qdrantFilter(),
				Limit:          qdrant.PtrOf(uint32(scrollPage + 1)),
				Offset:         offset,
				WithPayload:    qdrant.NewWithPayloadInclude(FieldDocID, FieldFilename),
			})
			return err
		})
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrIndexUnavailable, err)
		}

		// The extra point, when present, is the first point of the next page.
		last := len(page)
		if last > scrollPage {
			last = scrollPage
		}
		for _, p := range page[:last] {
			docs.add(p.GetPayload()[FieldDocID].GetStringValue(), p.GetPayload()[FieldFilename].GetStringValue())
		}
		if len(page) <= scrollPage {
			break
		}
		offset = page[scrollPage].GetId()
	}

	return docs.sorted(), nil
}

// DeleteDocument implements Index.
func (q *QdrantIndex) DeleteDocument(ctx context.Context, tenantID, docID string) (err error) {
	ctx, done := startOp(ctx, backendQdrant, "delete_document")
	defer func() { done(err) }()

	if err := ValidateDocID(docID); err != nil {
		return err
	}
	sc, err := newScope(tenantID, docID)
	if err != nil {
		return err
	}

	err = q.retry.do(ctx, "delete", func(ctx context.Context) error {
		_, err := q.client.Delete(ctx, &qdrant.DeletePoints{
			CollectionName: q.config.CollectionName,
			Wait:           qdrant.PtrOf(true),
			Points: &qdrant.PointsSelector{
				PointsSelectorOneOf: &qdrant.PointsSelector_Filter{Filter: sc.qdrantFilter()},
			},
		})
		return err
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrIndexUnavailable, err)
	}
	return nil
}

// PruneDocument implements Index.
func (q *QdrantIndex) PruneDocument(ctx context.Context, tenantID, docID, keep string) (removed int, err error) {
	ctx, done := startOp(ctx, backendQdrant, "prune_document")
	defer func() { done(err) }()

	if err := ValidateDocID(docID); err != nil {
		return 0, err
	}
	sc, err := newScope(tenantID, docID)
	if err != nil {
		return 0, err
	}
	filter := sc.qdrantFilter()
	filter.MustNot = []*qdrant.Condition{keywordCondition(FieldRevision, keep)}

	var count uint64
	err = q.retry.do(ctx, "count", func(ctx context.Context) error {
		var err error
		count, err = q.client.Count(ctx, &qdrant.CountPoints{
			CollectionName: q.config.CollectionName,
			Filter:         filter,
			Exact:          qdrant.PtrOf(true),
		})
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrIndexUnavailable, err)
	}
	if count == 0 {
		return 0, nil
	}

	err = q.retry.do(ctx, "prune", func(ctx context.Context) error {
		_, err := q.client.Delete(ctx, &qdrant.DeletePoints{
			CollectionName: q.config.CollectionName,
			Wait:           qdrant.PtrOf(true),
			Points: &qdrant.PointsSelector{
				PointsSelectorOneOf: &qdrant.PointsSelector_Filter{Filter: filter},
			},
		})
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrIndexUnavailable, err)
	}
	return int(count), nil
}

// Search implements Index.
func (q *QdrantIndex) Search(ctx context.Context, tenantID string, vector []float32, topK int, docID string) (results []RetrievalResult, err error) {
	if topK <= 0 {
		topK = DefaultTopK
	}
	ctx, done := startOp(ctx, backendQdrant, "search", attribute.Int("top_k", topK))
	defer func() { done(err) }()

	sc, err := newScope(tenantID, docID)
	if err != nil {
		return nil, err
	}
	if len(vector) != int(q.config.VectorSize) {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(vector), q.config.VectorSize)
	}

	var points []*qdrant.ScoredPoint
	err = q.retry.do(ctx, "query", func(ctx context.Context) error {
		var err error
		points, err = q.client.Query(ctx, &qdrant.QueryPoints{
			CollectionName: q.config.CollectionName,
			Query:          qdrant.NewQuery(vector...),
			Filter:         sc.qdrantFilter(),
			Limit:          qdrant.PtrOf(uint64(topK)),
			WithPayload:    qdrant.NewWithPayload(true),
		})
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIndexUnavailable, err)
	}

	results = make([]RetrievalResult, 0, len(points))
	for _, p := range points {
		payload := p.GetPayload()
		results = append(results, RetrievalResult{
			DocID:      payload[FieldDocID].GetStringValue(),
			Filename:   payload[FieldFilename].GetStringValue(),
			Page:       int(payload[FieldPage].GetIntegerValue()),
			ChunkIndex: int(payload[FieldChunkIndex].GetIntegerValue()),
			Text:       payload[FieldText].GetStringValue(),
			Score:      p.GetScore(),
		})
	}
	return dedupResults(results, topK), nil
}

// Close implements Index.
func (q *QdrantIndex) Close() error {
	return q.client.Close()
}

// validateUpsert checks identifiers and vector dimensions before a write.
func validateUpsert(tenantID, docID string, chunks []Chunk, dim int) error {
	if err := ValidateTenantID(tenantID); err != nil {
		return err
	}
	if err := ValidateDocID(docID); err != nil {
		return err
	}
	if len(chunks) == 0 {
		return ErrEmptyChunks
	}
	for i, c := range chunks {
		if len(c.Vector) != dim {
			return fmt.Errorf("%w: chunk %d has %d dimensions, want %d", ErrDimensionMismatch, i, len(c.Vector), dim)
		}
	}
	return nil
}

var _ Index = (*QdrantIndex)(nil)
