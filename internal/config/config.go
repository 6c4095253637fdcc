// Package config provides configuration loading for ragd.
//
// Configuration is read from an optional YAML file and overridden by
// RAGD_-prefixed environment variables. See LoadWithFile.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Config holds the complete ragd configuration.
type Config struct {
	Server        ServerConfig        `koanf:"server"`
	Logging       LoggingConfig       `koanf:"logging"`
	Observability ObservabilityConfig `koanf:"observability"`
	VectorStore   VectorStoreConfig   `koanf:"vectorstore"`
	Qdrant        QdrantConfig        `koanf:"qdrant"`
	Chromem       ChromemConfig       `koanf:"chromem"`
	Embeddings    EmbeddingsConfig    `koanf:"embeddings"`
	Retrieval     RetrievalConfig     `koanf:"retrieval"`
	WebSearch     WebSearchConfig     `koanf:"websearch"`
	Memory        MemoryConfig        `koanf:"memory"`
	Generation    GenerationConfig    `koanf:"generation"`
	Events        EventsConfig        `koanf:"events"`
	Secrets       SecretsConfig       `koanf:"secrets"`
	Timeouts      TimeoutsConfig      `koanf:"timeouts"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port            int      `koanf:"http_port"`
	ShutdownTimeout Duration `koanf:"shutdown_timeout"`
	MaxBodyBytes    int64    `koanf:"max_body_bytes"`
}

// LoggingConfig selects the log level and encoding.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// ObservabilityConfig holds OpenTelemetry configuration.
type ObservabilityConfig struct {
	EnableTelemetry bool    `koanf:"enable_telemetry"`
	ServiceName     string  `koanf:"service_name"`
	Endpoint        string  `koanf:"endpoint"`
	Protocol        string  `koanf:"protocol"`
	Insecure        bool    `koanf:"insecure"`
	SampleRate      float64 `koanf:"sample_rate"`
}

// VectorStoreConfig selects the index backend.
type VectorStoreConfig struct {
	// Provider is "chromem" (embedded, default) or "qdrant".
	Provider string `koanf:"provider"`
}

// QdrantConfig holds Qdrant connection settings.
type QdrantConfig struct {
	Host           string   `koanf:"host"`
	Port           int      `koanf:"port"`
	CollectionName string   `koanf:"collection_name"`
	VectorSize     uint64   `koanf:"vector_size"`
	Distance       string   `koanf:"distance"`
	UseTLS         bool     `koanf:"use_tls"`
	APIKey         Secret   `koanf:"api_key"`
	MaxRetries     int      `koanf:"max_retries"`
	RetryBackoff   Duration `koanf:"retry_backoff"`
}

// ChromemConfig holds embedded index settings.
type ChromemConfig struct {
	// Path is the persistence directory. Empty keeps the index in memory.
	Path           string `koanf:"path"`
	Compress       bool   `koanf:"compress"`
	CollectionName string `koanf:"collection_name"`
	VectorSize     int    `koanf:"vector_size"`
}

// EmbeddingsConfig selects the embedding provider.
type EmbeddingsConfig struct {
	// Provider is "fastembed" (default) or "tei".
	Provider string `koanf:"provider"`
	Model    string `koanf:"model"`
	BaseURL  string `koanf:"base_url"`
	CacheDir string `koanf:"cache_dir"`
}

// RetrievalConfig holds the retrieval policy knobs.
type RetrievalConfig struct {
	// Threshold is the minimum top-document similarity that avoids a web
	// fallback in hybrid mode. Required.
	Threshold    *float64 `koanf:"threshold"`
	TopK         int      `koanf:"top_k"`
	WebLimit     int      `koanf:"web_limit"`
	MemoryLimit  int      `koanf:"memory_limit"`
	PreviewCap   int      `koanf:"preview_cap"`
	DefaultMode  string   `koanf:"default_mode"`
	ChunkSize    int      `koanf:"chunk_size"`
	ChunkOverlap int      `koanf:"chunk_overlap"`
}

// WebSearchConfig configures the web search provider.
type WebSearchConfig struct {
	// Provider is "tavily" or "none".
	Provider  string  `koanf:"provider"`
	BaseURL   string  `koanf:"base_url"`
	APIKey    Secret  `koanf:"api_key"`
	RateLimit float64 `koanf:"rate_limit"`
	Burst     int     `koanf:"burst"`
}

// MemoryConfig configures the long-term memory store.
type MemoryConfig struct {
	// Provider is "local", "mem0" or "none".
	Provider string `koanf:"provider"`
	BaseURL  string `koanf:"base_url"`
	APIKey   Secret `koanf:"api_key"`
	Path     string `koanf:"path"`
}

// GenerationConfig configures the answer generator.
type GenerationConfig struct {
	Model  string `koanf:"model"`
	APIKey Secret `koanf:"api_key"`
}

// EventsConfig configures document lifecycle event publishing.
type EventsConfig struct {
	// NATSURL enables publishing when set.
	NATSURL string `koanf:"nats_url"`
}

// SecretsConfig controls secret scrubbing of ingested text and memories.
type SecretsConfig struct {
	// Disabled turns scrubbing off. Scrubbing is on by default.
	Disabled bool `koanf:"disabled"`
	// AllowlistPath points at a gitleaks-style TOML allowlist.
	AllowlistPath string `koanf:"allowlist_path"`
	// WatchAllowlist reloads the allowlist when the file changes.
	WatchAllowlist bool `koanf:"watch_allowlist"`
}

// TimeoutsConfig bounds every external call made while serving a query.
type TimeoutsConfig struct {
	Index      Duration `koanf:"index"`
	Embedding  Duration `koanf:"embedding"`
	WebSearch  Duration `koanf:"websearch"`
	Memory     Duration `koanf:"memory"`
	Generation Duration `koanf:"generation"`
}

// ThresholdValue returns the configured similarity threshold.
// Callers must have validated the config first.
func (r RetrievalConfig) ThresholdValue() float32 {
	if r.Threshold == nil {
		return 0
	}
	return float32(*r.Threshold)
}

// Default returns a configuration with every optional field populated.
// The retrieval threshold is intentionally left unset.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

// applyDefaults sets default values for missing configuration fields.
func applyDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 9191
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = Duration(10 * time.Second)
	}
	if cfg.Server.MaxBodyBytes == 0 {
		cfg.Server.MaxBodyBytes = 32 << 20
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}

	if cfg.Observability.ServiceName == "" {
		cfg.Observability.ServiceName = "ragd"
	}
	if cfg.Observability.Endpoint == "" {
		cfg.Observability.Endpoint = "localhost:4317"
	}
	if cfg.Observability.Protocol == "" {
		cfg.Observability.Protocol = "grpc"
	}
	if cfg.Observability.SampleRate == 0 {
		cfg.Observability.SampleRate = 1.0
	}

	if cfg.VectorStore.Provider == "" {
		cfg.VectorStore.Provider = "chromem"
	}

	if cfg.Qdrant.Host == "" {
		cfg.Qdrant.Host = "localhost"
	}
	if cfg.Qdrant.Port == 0 {
		cfg.Qdrant.Port = 6334
	}
	if cfg.Qdrant.CollectionName == "" {
		cfg.Qdrant.CollectionName = "ragd_chunks"
	}
	if cfg.Qdrant.VectorSize == 0 {
		cfg.Qdrant.VectorSize = 384 // all-MiniLM-L6-v2
	}
	if cfg.Qdrant.Distance == "" {
		cfg.Qdrant.Distance = "cosine"
	}
	if cfg.Qdrant.MaxRetries == 0 {
		cfg.Qdrant.MaxRetries = 3
	}
	if cfg.Qdrant.RetryBackoff == 0 {
		cfg.Qdrant.RetryBackoff = Duration(500 * time.Millisecond)
	}

	if cfg.Chromem.CollectionName == "" {
		cfg.Chromem.CollectionName = "ragd_chunks"
	}
	if cfg.Chromem.VectorSize == 0 {
		cfg.Chromem.VectorSize = 384
	}

	if cfg.Embeddings.Provider == "" {
		cfg.Embeddings.Provider = "fastembed"
	}
	if cfg.Embeddings.Model == "" {
		cfg.Embeddings.Model = "sentence-transformers/all-MiniLM-L6-v2"
	}
	if cfg.Embeddings.BaseURL == "" {
		cfg.Embeddings.BaseURL = "http://localhost:8080"
	}

	if cfg.Retrieval.TopK == 0 {
		cfg.Retrieval.TopK = 5
	}
	if cfg.Retrieval.WebLimit == 0 {
		cfg.Retrieval.WebLimit = 3
	}
	if cfg.Retrieval.MemoryLimit == 0 {
		cfg.Retrieval.MemoryLimit = 5
	}
	if cfg.Retrieval.PreviewCap == 0 {
		cfg.Retrieval.PreviewCap = 3
	}
	if cfg.Retrieval.DefaultMode == "" {
		cfg.Retrieval.DefaultMode = "hybrid"
	}
	if cfg.Retrieval.ChunkSize == 0 {
		cfg.Retrieval.ChunkSize = 800
	}
	if cfg.Retrieval.ChunkOverlap == 0 {
		cfg.Retrieval.ChunkOverlap = 200
	}

	if cfg.WebSearch.Provider == "" {
		if cfg.WebSearch.APIKey.IsSet() {
			cfg.WebSearch.Provider = "tavily"
		} else {
			cfg.WebSearch.Provider = "none"
		}
	}
	if cfg.WebSearch.BaseURL == "" {
		cfg.WebSearch.BaseURL = "https://api.tavily.com"
	}
	if cfg.WebSearch.RateLimit == 0 {
		cfg.WebSearch.RateLimit = 2
	}
	if cfg.WebSearch.Burst == 0 {
		cfg.WebSearch.Burst = 4
	}

	if cfg.Memory.Provider == "" {
		cfg.Memory.Provider = "local"
	}
	if cfg.Memory.BaseURL == "" {
		cfg.Memory.BaseURL = "https://api.mem0.ai"
	}

	if cfg.Generation.Model == "" {
		cfg.Generation.Model = "gemma-3-4b-it"
	}

	if cfg.Timeouts.Index == 0 {
		cfg.Timeouts.Index = Duration(10 * time.Second)
	}
	if cfg.Timeouts.Embedding == 0 {
		cfg.Timeouts.Embedding = Duration(15 * time.Second)
	}
	if cfg.Timeouts.WebSearch == 0 {
		cfg.Timeouts.WebSearch = Duration(8 * time.Second)
	}
	if cfg.Timeouts.Memory == 0 {
		cfg.Timeouts.Memory = Duration(5 * time.Second)
	}
	if cfg.Timeouts.Generation == 0 {
		cfg.Timeouts.Generation = Duration(60 * time.Second)
	}
}

// ErrThresholdRequired is returned when retrieval.threshold is not configured.
var ErrThresholdRequired = errors.New("retrieval.threshold is required")

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d (must be 1-65535)", c.Server.Port)
	}
	if c.Server.ShutdownTimeout <= 0 {
		return errors.New("shutdown timeout must be positive")
	}

	switch c.VectorStore.Provider {
	case "chromem":
		if c.Chromem.VectorSize <= 0 {
			return fmt.Errorf("chromem.vector_size must be positive, got %d", c.Chromem.VectorSize)
		}
	case "qdrant":
		if c.Qdrant.Port < 1 || c.Qdrant.Port > 65535 {
			return fmt.Errorf("invalid qdrant port: %d", c.Qdrant.Port)
		}
		switch strings.ToLower(c.Qdrant.Distance) {
		case "cosine", "dot", "euclid":
		default:
			return fmt.Errorf("unsupported qdrant distance %q", c.Qdrant.Distance)
		}
	default:
		return fmt.Errorf("unsupported vectorstore provider %q", c.VectorStore.Provider)
	}

	if c.Retrieval.Threshold == nil {
		return ErrThresholdRequired
	}
	if c.Retrieval.TopK < 1 {
		return fmt.Errorf("retrieval.top_k must be positive, got %d", c.Retrieval.TopK)
	}
	if c.Retrieval.WebLimit < 0 {
		return fmt.Errorf("retrieval.web_limit cannot be negative, got %d", c.Retrieval.WebLimit)
	}
	if c.Retrieval.ChunkOverlap >= c.Retrieval.ChunkSize {
		return fmt.Errorf("retrieval.chunk_overlap (%d) must be smaller than chunk_size (%d)",
			c.Retrieval.ChunkOverlap, c.Retrieval.ChunkSize)
	}
	switch strings.ToLower(c.Retrieval.DefaultMode) {
	case "hybrid", "document_only", "web_only":
	default:
		return fmt.Errorf("unsupported retrieval.default_mode %q", c.Retrieval.DefaultMode)
	}

	switch c.Embeddings.Provider {
	case "fastembed", "tei":
	default:
		return fmt.Errorf("unsupported embeddings provider %q", c.Embeddings.Provider)
	}

	switch c.WebSearch.Provider {
	case "none":
	case "tavily":
		if !c.WebSearch.APIKey.IsSet() {
			return errors.New("websearch.api_key is required for the tavily provider")
		}
	default:
		return fmt.Errorf("unsupported websearch provider %q", c.WebSearch.Provider)
	}

	switch c.Memory.Provider {
	case "none", "local":
	case "mem0":
		if !c.Memory.APIKey.IsSet() {
			return errors.New("memory.api_key is required for the mem0 provider")
		}
	default:
		return fmt.Errorf("unsupported memory provider %q", c.Memory.Provider)
	}

	if c.Observability.EnableTelemetry && c.Observability.ServiceName == "" {
		return errors.New("observability.service_name is required when telemetry is enabled")
	}

	return nil
}
