package memory

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"runtime"

	chromem "github.com/philippgille/chromem-go"
	"go.uber.org/zap"
)

const (
	localCollection = "ragd_memories"
	fieldUserID     = "user_id"
)

// LocalConfig configures LocalStore.
type LocalConfig struct {
	// Path is the persistence directory. Empty keeps memories in memory.
	Path string
}

// LocalStore keeps memories in an embedded chromem collection. Only user
// turns become memories; assistant turns are context, not facts about the
// user.
type LocalStore struct {
	collection *chromem.Collection
	logger     *zap.Logger
}

// NewLocalStore opens the memory collection.
func NewLocalStore(cfg LocalConfig, embedder Embedder, logger *zap.Logger) (*LocalStore, error) {
	if embedder == nil {
		return nil, fmt.Errorf("local memory store requires an embedder")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	db := chromem.NewDB()
	if cfg.Path != "" {
		if err := os.MkdirAll(cfg.Path, 0o700); err != nil {
			return nil, fmt.Errorf("creating memory dir: %w", err)
		}
		var err error
		db, err = chromem.NewPersistentDB(cfg.Path, false)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
	}

	col, err := db.GetOrCreateCollection(localCollection, nil, embedder.Embed)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return &LocalStore{collection: col, logger: logger}, nil
}

// Add implements Store. Repeating a memory overwrites it.
func (s *LocalStore) Add(ctx context.Context, userID string, messages []Message) error {
	if userID == "" {
		return ErrMissingUser
	}

	var docs []chromem.Document
	for _, m := range nonEmpty(messages) {
		if m.Role != RoleUser {
			continue
		}
		docs = append(docs, chromem.Document{
			ID:       memoryID(userID, m.Content),
			Content:  m.Content,
			Metadata: map[string]string{fieldUserID: userID},
		})
	}
	if len(docs) == 0 {
		return nil
	}

	if err := s.collection.AddDocuments(ctx, docs, runtime.NumCPU()); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	s.logger.Debug("stored memories", zap.String("user_id", userID), zap.Int("count", len(docs)))
	return nil
}

// Search implements Store.
func (s *LocalStore) Search(ctx context.Context, userID, query string, limit int) ([]string, error) {
	if userID == "" {
		return nil, ErrMissingUser
	}
	if limit <= 0 {
		limit = 5
	}
	count := s.collection.Count()
	if count == 0 || query == "" {
		return nil, nil
	}

	hits, err := s.collection.Query(ctx, query, min(limit, count), map[string]string{fieldUserID: userID}, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	out := make([]string, 0, len(hits))
	for _, h := range hits {
		out = append(out, h.Content)
	}
	return out, nil
}

func memoryID(userID, content string) string {
	sum := sha256.Sum256([]byte(userID + "\x00" + content))
	return hex.EncodeToString(sum[:16])
}

var _ Store = (*LocalStore)(nil)
