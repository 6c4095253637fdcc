package http

import (
	"errors"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ragd/internal/ingest"
	"github.com/fyrsmithlabs/ragd/internal/orchestrator"
	"github.com/fyrsmithlabs/ragd/internal/retrieval"
	"github.com/fyrsmithlabs/ragd/internal/vectorstore"
)

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error     string `json:"error"`
	Kind      string `json:"kind,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

type errorKind struct {
	target error
	status int
	kind   string
}

// Checked in order; the first match wins.
var errorKinds = []errorKind{
	{orchestrator.ErrInvalidQuery, http.StatusBadRequest, "invalid_query"},
	{ingest.ErrInvalidRequest, http.StatusBadRequest, "invalid_request"},
	{ingest.ErrNoContent, http.StatusBadRequest, "no_content"},
	{retrieval.ErrUnknownMode, http.StatusBadRequest, "unknown_mode"},
	{vectorstore.ErrInvalidID, http.StatusBadRequest, "invalid_id"},
	{vectorstore.ErrMissingTenant, http.StatusBadRequest, "missing_tenant"},
	{vectorstore.ErrEmptyChunks, http.StatusBadRequest, "no_content"},
	{orchestrator.ErrEmbeddingFailure, http.StatusServiceUnavailable, "embedding_failure"},
	{ingest.ErrEmbeddingFailure, http.StatusServiceUnavailable, "embedding_failure"},
	{vectorstore.ErrIndexUnavailable, http.StatusServiceUnavailable, "index_unavailable"},
	{orchestrator.ErrGenerationFailure, http.StatusBadGateway, "generation_failure"},
}

// classify maps a service error onto a status code and a stable kind.
func classify(err error) (int, string) {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		return http.StatusBadRequest, "validation"
	}
	for _, k := range errorKinds {
		if errors.Is(err, k.target) {
			return k.status, k.kind
		}
	}
	return http.StatusInternalServerError, "internal"
}

func errorHandler(e *echo.Echo, logger *zap.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		resp := ErrorResponse{RequestID: c.Response().Header().Get(echo.HeaderXRequestID)}
		var status int

		var he *echo.HTTPError
		if errors.As(err, &he) {
			status = he.Code
			resp.Error = http.StatusText(he.Code)
			if msg, ok := he.Message.(string); ok {
				resp.Error = msg
			}
		} else {
			status, resp.Kind = classify(err)
			resp.Error = err.Error()
			if status == http.StatusInternalServerError {
				logger.Error("unhandled error", zap.Error(err), zap.String("route", c.Path()))
				resp.Error = http.StatusText(status)
			}
		}

		if c.Request().Method == http.MethodHead {
			err = c.NoContent(status)
		} else {
			err = c.JSON(status, resp)
		}
		if err != nil {
			e.Logger.Error(err)
		}
	}
}
