package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	otellog "go.opentelemetry.io/otel/log"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ragd/internal/config"
	"github.com/fyrsmithlabs/ragd/internal/embeddings"
	"github.com/fyrsmithlabs/ragd/internal/events"
	"github.com/fyrsmithlabs/ragd/internal/generation"
	ragdhttp "github.com/fyrsmithlabs/ragd/internal/http"
	"github.com/fyrsmithlabs/ragd/internal/ingest"
	"github.com/fyrsmithlabs/ragd/internal/logging"
	"github.com/fyrsmithlabs/ragd/internal/mcp"
	"github.com/fyrsmithlabs/ragd/internal/memory"
	"github.com/fyrsmithlabs/ragd/internal/orchestrator"
	"github.com/fyrsmithlabs/ragd/internal/retrieval"
	"github.com/fyrsmithlabs/ragd/internal/secrets"
	"github.com/fyrsmithlabs/ragd/internal/telemetry"
	"github.com/fyrsmithlabs/ragd/internal/vectorstore"
	"github.com/fyrsmithlabs/ragd/internal/websearch"
)

// run loads configuration, wires every component and serves until ctx is
// cancelled.
func run(ctx context.Context, opts options) error {
	cfg, err := config.LoadWithFile(opts.configPath)
	if err != nil {
		return err
	}

	tel, err := telemetry.New(ctx, telemetry.ConfigFrom(cfg.Observability, version))
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	logger, err := initLogger(cfg, opts.mcp, tel.LoggerProvider())
	if err != nil {
		_ = tel.Shutdown(context.Background())
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() {
		_ = logger.Sync()
	}()
	defer func() {
		if err := tel.Shutdown(context.Background()); err != nil {
			logger.Warn("telemetry shutdown failed", zap.Error(err))
		}
	}()
	if err := tel.Degraded(); err != nil {
		logger.Warn("telemetry degraded", zap.Error(err))
	}

	logger.Info("starting ragd",
		zap.String("version", version),
		zap.String("vectorstore", cfg.VectorStore.Provider),
		zap.String("embeddings", cfg.Embeddings.Provider),
		zap.Float32("threshold", cfg.Retrieval.ThresholdValue()),
		zap.Bool("mcp", opts.mcp))

	c, err := wire(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer c.Close()

	if opts.mcp {
		return serveMCP(ctx, cfg, c, logger)
	}
	return serveHTTP(ctx, cfg, c, logger)
}

// initLogger builds the zap logger. In MCP mode stdout carries the protocol,
// so logs go to stderr. A non-nil provider also ships every entry through
// the OTEL log bridge.
func initLogger(cfg *config.Config, mcpMode bool, provider otellog.LoggerProvider) (*zap.Logger, error) {
	logCfg, err := logging.ConfigFrom(cfg.Logging, provider != nil)
	if err != nil {
		return nil, err
	}
	logCfg.Output.Stderr = mcpMode
	l, err := logging.NewLogger(logCfg, provider)
	if err != nil {
		return nil, err
	}
	return l.Underlying(), nil
}

// components holds everything the transports need.
type components struct {
	index        vectorstore.Index
	embedder     embeddings.Provider
	publisher    events.Publisher
	watcher      *secrets.AllowlistWatcher
	orchestrator *orchestrator.Orchestrator
	documents    *ingest.Service
	logger       *zap.Logger
}

// Close releases backend connections.
func (c *components) Close() {
	if c.watcher != nil {
		if err := c.watcher.Close(); err != nil {
			c.logger.Warn("closing allowlist watcher", zap.Error(err))
		}
	}
	if c.publisher != nil {
		if err := c.publisher.Close(); err != nil {
			c.logger.Warn("closing event publisher", zap.Error(err))
		}
	}
	if c.embedder != nil {
		if err := c.embedder.Close(); err != nil {
			c.logger.Warn("closing embedder", zap.Error(err))
		}
	}
	if c.index != nil {
		if err := c.index.Close(); err != nil {
			c.logger.Warn("closing index", zap.Error(err))
		}
	}
}

// wire builds the index, providers and services from cfg.
//
// Order:
//  1. Index (ensures the collection exists)
//  2. Embedding provider, checked against the index dimension
//  3. Secret scrubber, web search, memory, generator, event publisher
//  4. Orchestrator and ingest service
func wire(ctx context.Context, cfg *config.Config, logger *zap.Logger) (_ *components, err error) {
	c := &components{logger: logger}
	defer func() {
		if err != nil {
			c.Close()
		}
	}()

	c.index, err = vectorstore.NewIndex(ctx, cfg, logger.Named("vectorstore"))
	if err != nil {
		return nil, fmt.Errorf("failed to create index: %w", err)
	}

	c.embedder, err = embeddings.NewProvider(cfg.Embeddings, vectorstore.VectorSize(cfg), logger.Named("embeddings"))
	if err != nil {
		return nil, fmt.Errorf("failed to create embedding provider: %w", err)
	}
	logger.Info("embedding provider ready",
		zap.String("model", cfg.Embeddings.Model),
		zap.Int("dimension", c.embedder.Dimension()))

	scrubber, err := secrets.NewFromConfig(cfg.Secrets, logger.Named("secrets"))
	if err != nil {
		return nil, fmt.Errorf("failed to create secret scrubber: %w", err)
	}
	if r, ok := scrubber.(*secrets.Redactor); ok && cfg.Secrets.WatchAllowlist && cfg.Secrets.AllowlistPath != "" {
		c.watcher, err = secrets.WatchAllowlist(ctx, cfg.Secrets.AllowlistPath, r, logger.Named("secrets"))
		if err != nil {
			return nil, fmt.Errorf("failed to watch allowlist: %w", err)
		}
	}

	web, err := websearch.NewProvider(cfg.WebSearch, cfg.Retrieval.WebLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to create web search provider: %w", err)
	}

	mem, err := memory.NewStore(cfg.Memory, c.embedder, logger.Named("memory"))
	if err != nil {
		return nil, fmt.Errorf("failed to create memory store: %w", err)
	}
	mem = memory.Scrubbed(mem, scrubber)

	c.publisher, err = events.NewPublisher(cfg.Events.NATSURL, logger.Named("events"))
	if err != nil {
		return nil, fmt.Errorf("failed to create event publisher: %w", err)
	}

	opts := []orchestrator.Option{
		orchestrator.WithWebSearch(web),
		orchestrator.WithMemory(mem),
		orchestrator.WithLogger(logger.Named("orchestrator")),
	}
	if cfg.Generation.APIKey.IsSet() {
		gen, err := generation.NewGeminiGenerator(ctx, cfg.Generation.APIKey.Value(), cfg.Generation.Model)
		if err != nil {
			return nil, fmt.Errorf("failed to create generator: %w", err)
		}
		opts = append(opts, orchestrator.WithGenerator(gen))
	} else {
		logger.Warn("generation.api_key not set; ask will fail, retrieve still works")
	}

	c.orchestrator, err = orchestrator.New(orchestrator.ConfigFrom(cfg), c.embedder, c.index, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create orchestrator: %w", err)
	}

	c.documents, err = ingest.NewService(ingest.ConfigFrom(cfg), c.index, c.embedder, scrubber, c.publisher, logger.Named("ingest"))
	if err != nil {
		return nil, fmt.Errorf("failed to create ingest service: %w", err)
	}

	return c, nil
}

func defaultMode(cfg *config.Config) retrieval.Mode {
	// Validated by config.LoadWithFile.
	mode, _ := retrieval.ParseMode(cfg.Retrieval.DefaultMode, retrieval.Hybrid)
	return mode
}

func serveHTTP(ctx context.Context, cfg *config.Config, c *components, logger *zap.Logger) error {
	srv, err := ragdhttp.NewServer(c.orchestrator, c.documents, logger.Named("http"), &ragdhttp.Config{
		Port:         cfg.Server.Port,
		MaxBodyBytes: cfg.Server.MaxBodyBytes,
		DefaultMode:  defaultMode(cfg),
		PreviewCap:   cfg.Retrieval.PreviewCap,
	})
	if err != nil {
		return fmt.Errorf("failed to create http server: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Duration())
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("http shutdown: %w", err)
	}
	logger.Info("server shutdown complete")
	return nil
}

func serveMCP(ctx context.Context, cfg *config.Config, c *components, logger *zap.Logger) error {
	srv, err := mcp.NewServer(&mcp.Config{
		Name:        "ragd",
		Version:     version,
		Logger:      logger.Named("mcp"),
		DefaultMode: defaultMode(cfg),
		PreviewCap:  cfg.Retrieval.PreviewCap,
	}, c.orchestrator, c.documents)
	if err != nil {
		return fmt.Errorf("failed to create mcp server: %w", err)
	}

	start := time.Now()
	err = srv.Run(ctx)
	logger.Info("mcp session ended", zap.Duration("uptime", time.Since(start)))
	if err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}
