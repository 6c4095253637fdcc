// Package mcp exposes retrieval and document management as MCP tools.
//
// Tools: ask, retrieve, ingest_document, list_documents, delete_document.
// Every tool takes an explicit tenant_id.
package mcp

import (
	"context"
	"errors"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ragd/internal/ingest"
	"github.com/fyrsmithlabs/ragd/internal/orchestrator"
	"github.com/fyrsmithlabs/ragd/internal/retrieval"
	"github.com/fyrsmithlabs/ragd/internal/vectorstore"
)

// Answerer serves queries.
type Answerer interface {
	Answer(ctx context.Context, q orchestrator.Query) (*orchestrator.Result, error)
	Ask(ctx context.Context, q orchestrator.Query) (*orchestrator.Answer, error)
}

// Documents manages a tenant's documents.
type Documents interface {
	Ingest(ctx context.Context, req ingest.Request) (*ingest.Result, error)
	List(ctx context.Context, tenantID string) ([]vectorstore.DocumentRef, error)
	Delete(ctx context.Context, tenantID, docID string) error
}

// Config configures the MCP server.
type Config struct {
	// Name is the implementation name reported to clients (default: "ragd").
	Name    string
	Version string
	Logger  *zap.Logger

	DefaultMode retrieval.Mode
	PreviewCap  int
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Name:    "ragd",
		Version: "1.0.0",
		Logger:  zap.NewNop(),
	}
}

// Server is an MCP server backed by the orchestrator and ingest service.
type Server struct {
	mcp       *mcp.Server
	answerer  Answerer
	documents Documents
	metrics   *Metrics
	config    *Config
	logger    *zap.Logger
}

// NewServer creates the server and registers its tools.
func NewServer(cfg *Config, answerer Answerer, documents Documents) (*Server, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.Name == "" {
		cfg.Name = "ragd"
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if answerer == nil {
		return nil, errors.New("answerer is required")
	}
	if documents == nil {
		return nil, errors.New("document service is required")
	}

	s := &Server{
		mcp: mcp.NewServer(&mcp.Implementation{
			Name:    cfg.Name,
			Version: cfg.Version,
		}, nil),
		answerer:  answerer,
		documents: documents,
		metrics:   NewMetrics(cfg.Logger),
		config:    cfg,
		logger:    cfg.Logger,
	}
	s.registerTools()
	return s, nil
}

// Run serves MCP on the stdio transport until ctx is done or the client
// disconnects.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info("starting MCP server on stdio transport")
	if err := s.mcp.Run(ctx, &mcp.StdioTransport{}); err != nil {
		return fmt.Errorf("server run failed: %w", err)
	}
	return nil
}
