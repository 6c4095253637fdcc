package http

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ragd/internal/fusion"
	"github.com/fyrsmithlabs/ragd/internal/ingest"
	"github.com/fyrsmithlabs/ragd/internal/memory"
	"github.com/fyrsmithlabs/ragd/internal/orchestrator"
	"github.com/fyrsmithlabs/ragd/internal/retrieval"
	"github.com/fyrsmithlabs/ragd/internal/vectorstore"
)

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}

// IngestRequest is the body of POST /api/v1/tenants/:tenant/documents.
type IngestRequest struct {
	DocID    string   `json:"doc_id" validate:"omitempty,max=256"`
	Filename string   `json:"filename" validate:"required,max=512"`
	Pages    []string `json:"pages" validate:"required,min=1"`
}

// ListDocumentsResponse is the response body for GET .../documents.
type ListDocumentsResponse struct {
	Documents []vectorstore.DocumentRef `json:"documents"`
}

// HistoryMessage is one turn of caller-supplied chat history.
type HistoryMessage struct {
	Role    string `json:"role" validate:"required,oneof=user assistant"`
	Content string `json:"content"`
}

// QueryRequest is the body of the retrieve and ask endpoints.
type QueryRequest struct {
	Question string           `json:"question" validate:"required,max=8192"`
	Mode     string           `json:"mode" validate:"omitempty,oneof=hybrid document_only web_only"`
	DocID    string           `json:"doc_id" validate:"omitempty,max=256"`
	History  []HistoryMessage `json:"history" validate:"omitempty,max=100,dive"`
}

// RetrieveResponse is the response body for POST .../retrieve.
type RetrieveResponse struct {
	Bundle     fusion.Bundle      `json:"bundle"`
	Preview    fusion.Bundle      `json:"preview"`
	Provenance fusion.Provenance  `json:"provenance"`
	Trace      orchestrator.Trace `json:"trace"`
}

// AskResponse is the response body for POST .../ask.
type AskResponse struct {
	Answer     string             `json:"answer"`
	Preview    fusion.Bundle      `json:"preview"`
	Provenance fusion.Provenance  `json:"provenance"`
	Trace      orchestrator.Trace `json:"trace"`
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

func (s *Server) handleIngest(c echo.Context) error {
	var req IngestRequest
	if err := c.Bind(&req); err != nil {
		s.logger.Warn("invalid ingest request", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := c.Validate(&req); err != nil {
		return err
	}

	res, err := s.documents.Ingest(c.Request().Context(), ingest.Request{
		TenantID: c.Param("tenant"),
		DocID:    req.DocID,
		Filename: req.Filename,
		Pages:    req.Pages,
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, res)
}

func (s *Server) handleListDocuments(c echo.Context) error {
	docs, err := s.documents.List(c.Request().Context(), c.Param("tenant"))
	if err != nil {
		return err
	}
	if docs == nil {
		docs = []vectorstore.DocumentRef{}
	}
	return c.JSON(http.StatusOK, ListDocumentsResponse{Documents: docs})
}

func (s *Server) handleDeleteDocument(c echo.Context) error {
	if err := s.documents.Delete(c.Request().Context(), c.Param("tenant"), c.Param("doc_id")); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleRetrieve(c echo.Context) error {
	q, err := s.bindQuery(c)
	if err != nil {
		return err
	}
	res, err := s.answerer.Answer(c.Request().Context(), q)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, RetrieveResponse{
		Bundle:     res.Bundle,
		Preview:    res.Bundle.Preview(s.config.PreviewCap),
		Provenance: res.Bundle.Provenance,
		Trace:      res.Trace,
	})
}

func (s *Server) handleAsk(c echo.Context) error {
	q, err := s.bindQuery(c)
	if err != nil {
		return err
	}
	ans, err := s.answerer.Ask(c.Request().Context(), q)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, AskResponse{
		Answer:     ans.Text,
		Preview:    ans.Bundle.Preview(s.config.PreviewCap),
		Provenance: ans.Bundle.Provenance,
		Trace:      ans.Trace,
	})
}

func (s *Server) bindQuery(c echo.Context) (orchestrator.Query, error) {
	var req QueryRequest
	if err := c.Bind(&req); err != nil {
		s.logger.Warn("invalid query request", zap.Error(err))
		return orchestrator.Query{}, echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := c.Validate(&req); err != nil {
		return orchestrator.Query{}, err
	}
	mode, err := retrieval.ParseMode(req.Mode, s.config.DefaultMode)
	if err != nil {
		return orchestrator.Query{}, err
	}

	history := make([]memory.Message, 0, len(req.History))
	for _, m := range req.History {
		history = append(history, memory.Message{Role: memory.Role(m.Role), Content: m.Content})
	}
	return orchestrator.Query{
		Text:     req.Question,
		TenantID: c.Param("tenant"),
		Mode:     mode,
		DocScope: req.DocID,
		History:  history,
	}, nil
}
