// Package http serves the ragd REST API.
package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ragd/internal/ingest"
	"github.com/fyrsmithlabs/ragd/internal/logging"
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

// Config holds HTTP server configuration.
type Config struct {
	Host         string
	Port         int
	MaxBodyBytes int64
	DefaultMode  retrieval.Mode
	PreviewCap   int
}

// Server provides the HTTP endpoints.
type Server struct {
	echo      *echo.Echo
	answerer  Answerer
	documents Documents
	logger    *zap.Logger
	config    *Config
}

// requestValidator adapts validator/v10 to echo.Validator.
type requestValidator struct {
	v *validator.Validate
}

func (rv *requestValidator) Validate(i any) error {
	return rv.v.Struct(i)
}

// NewServer creates the server and registers its routes.
func NewServer(answerer Answerer, documents Documents, logger *zap.Logger, cfg *Config) (*Server, error) {
	if answerer == nil || documents == nil {
		return nil, errors.New("answerer and documents cannot be nil")
	}
	if logger == nil {
		return nil, errors.New("logger is required for request tracking and debugging")
	}
	if cfg == nil {
		cfg = &Config{Host: "localhost", Port: 9191}
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Validator = &requestValidator{v: validator.New(validator.WithRequiredStructEnabled())}
	e.HTTPErrorHandler = errorHandler(e, logger)

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	if cfg.MaxBodyBytes > 0 {
		e.Use(middleware.BodyLimit(fmt.Sprintf("%dB", cfg.MaxBodyBytes)))
	}
	e.Use(requestContext())
	e.Use(NewHTTPMetrics(logger).MetricsMiddleware())
	e.Use(requestLogger(logger))

	s := &Server{
		echo:      e,
		answerer:  answerer,
		documents: documents,
		logger:    logger,
		config:    cfg,
	}
	s.registerRoutes()
	return s, nil
}

func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	tenants := s.echo.Group("/api/v1/tenants/:tenant")
	tenants.POST("/documents", s.handleIngest)
	tenants.GET("/documents", s.handleListDocuments)
	tenants.DELETE("/documents/:doc_id", s.handleDeleteDocument)
	tenants.POST("/retrieve", s.handleRetrieve)
	tenants.POST("/ask", s.handleAsk)
}

// requestContext carries the request id and tenant into the request context
// so downstream log lines include them.
func requestContext() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx := c.Request().Context()
			if id := c.Response().Header().Get(echo.HeaderXRequestID); id != "" {
				ctx = logging.WithRequestID(ctx, id)
			}
			if tenant := c.Param("tenant"); tenant != "" {
				ctx = logging.WithTenantID(ctx, tenant)
			}
			c.SetRequest(c.Request().WithContext(ctx))
			return next(c)
		}
	}
}

func requestLogger(logger *zap.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			if err != nil {
				c.Error(err)
			}

			fields := append(logging.ContextFields(c.Request().Context()),
				zap.String("method", c.Request().Method),
				zap.String("route", c.Path()),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", time.Since(start)),
			)
			if err != nil {
				fields = append(fields, zap.Error(err))
			}
			logger.Info("http request", fields...)
			return nil
		}
	}
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.logger.Info("starting http server", zap.String("addr", addr))
	if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	return s.echo.Shutdown(ctx)
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}
