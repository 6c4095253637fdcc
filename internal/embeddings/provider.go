package embeddings

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ragd/internal/config"
)

// NewProvider builds the configured Provider. wantDim is the vector size
// of the index; a provider producing any other size is rejected.
func NewProvider(cfg config.EmbeddingsConfig, wantDim int, logger *zap.Logger) (Provider, error) {
	metrics := NewMetrics(logger)

	var (
		e   Provider
		err error
	)
	switch cfg.Provider {
	case "fastembed", "":
		e, err = NewFastEmbedProvider(FastEmbedConfig{
			Model:    cfg.Model,
			CacheDir: cfg.CacheDir,
		}, metrics)
	case "tei":
		e, err = NewTEIClient(TEIConfig{
			BaseURL: cfg.BaseURL,
			Model:   cfg.Model,
		}, metrics)
	default:
		return nil, fmt.Errorf("%w: unknown provider %q", ErrInvalidConfig, cfg.Provider)
	}
	if err != nil {
		return nil, err
	}

	if wantDim > 0 && e.Dimension() != wantDim {
		_ = e.Close()
		return nil, fmt.Errorf("%w: model %q produces %d dimensions but the index expects %d",
			ErrInvalidConfig, cfg.Model, e.Dimension(), wantDim)
	}
	return e, nil
}
