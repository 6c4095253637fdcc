package vectorstore

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ragd/internal/config"
)

// NewIndex builds the configured Index and ensures its schema exists.
func NewIndex(ctx context.Context, cfg *config.Config, logger *zap.Logger) (Index, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	var (
		idx Index
		err error
	)
	switch cfg.VectorStore.Provider {
	case "qdrant":
		distance, derr := ParseDistance(cfg.Qdrant.Distance)
		if derr != nil {
			return nil, derr
		}
		idx, err = NewQdrantIndex(QdrantConfig{
			Host:           cfg.Qdrant.Host,
			Port:           cfg.Qdrant.Port,
			CollectionName: cfg.Qdrant.CollectionName,
			VectorSize:     cfg.Qdrant.VectorSize,
			Distance:       distance,
			UseTLS:         cfg.Qdrant.UseTLS,
			APIKey:         cfg.Qdrant.APIKey.Value(),
			MaxRetries:     cfg.Qdrant.MaxRetries,
			RetryBackoff:   cfg.Qdrant.RetryBackoff.Duration(),
		}, logger.Named("qdrant"))
	case "chromem", "":
		idx, err = NewChromemIndex(ChromemConfig{
			Path:           cfg.Chromem.Path,
			Compress:       cfg.Chromem.Compress,
			CollectionName: cfg.Chromem.CollectionName,
			VectorSize:     cfg.Chromem.VectorSize,
		}, logger.Named("chromem"))
	default:
		return nil, fmt.Errorf("%w: unsupported provider %q", ErrInvalidConfig, cfg.VectorStore.Provider)
	}
	if err != nil {
		return nil, err
	}

	if err := idx.EnsureSchema(ctx); err != nil {
		_ = idx.Close()
		return nil, fmt.Errorf("ensuring schema: %w", err)
	}
	return idx, nil
}

// VectorSize returns the configured dimension of the active backend.
func VectorSize(cfg *config.Config) int {
	if cfg.VectorStore.Provider == "qdrant" {
		return int(cfg.Qdrant.VectorSize)
	}
	return cfg.Chromem.VectorSize
}
