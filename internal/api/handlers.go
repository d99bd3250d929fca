// Package api contains the HTTP handlers for the MINT workbench service.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"mint/backend/internal/catalog"
	"mint/backend/internal/ensemble"
	"mint/backend/internal/logging"
	"mint/backend/internal/repository"
	"mint/backend/internal/restclient"
	"mint/backend/internal/services"
)

// Version is reported by the health endpoint.
var Version = "dev"

// Pinger checks a backing store.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler contains HTTP handlers for the workbench REST API.
type Handler struct {
	scenarios *services.ScenarioService
	threads   *services.ThreadService
	execution *services.ExecutionService
	store     Pinger
	logger    *logging.Logger
}

var _ ServerInterface = (*Handler)(nil)

// NewHandler creates a new Handler with required dependencies.
func NewHandler(scenarios *services.ScenarioService, threads *services.ThreadService,
	execution *services.ExecutionService, store Pinger, logger *logging.Logger) *Handler {
	return &Handler{
		scenarios: scenarios,
		threads:   threads,
		execution: execution,
		store:     store,
		logger:    logger.Component("api"),
	}
}

// HealthStatus represents the health check response.
type HealthStatus struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Service   string    `json:"service"`
	Version   string    `json:"version"`
	Database  string    `json:"database"`
}

// HandleHealth reports service health. A failing store ping returns 503.
// (GET /health)
func (h *Handler) HandleHealth(c echo.Context) error {
	status := HealthStatus{
		Status:    "ok",
		Timestamp: time.Now().UTC(),
		Service:   "mint-backend",
		Version:   Version,
		Database:  "ok",
	}
	code := http.StatusOK
	if err := h.store.Ping(c.Request().Context()); err != nil {
		h.logger.Warn("health check failed", "error", err)
		status.Status = "degraded"
		status.Database = err.Error()
		code = http.StatusServiceUnavailable
	}
	return c.JSON(code, status)
}

// ProblemDetails represents an RFC 7807 Problem Details response.
type ProblemDetails struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail"`
	Instance string `json:"instance,omitempty"`
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	var httpErr *echo.HTTPError
	var upstream *restclient.StatusError
	switch {
	case errors.As(err, &httpErr):
		return httpErr.Code
	case errors.Is(err, repository.ErrNotFound), errors.Is(err, catalog.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, services.ErrInvalid),
		errors.Is(err, ensemble.ErrInvalidSweep), errors.Is(err, ensemble.ErrOutOfBounds):
		return http.StatusBadRequest
	case errors.Is(err, services.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, repository.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, services.ErrNotReady), errors.Is(err, services.ErrTooManyEnsembles),
		errors.Is(err, repository.ErrInvalidReference):
		return http.StatusUnprocessableEntity
	case errors.As(err, &upstream):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// ErrorHandler renders every handler error as application/problem+json.
func ErrorHandler(logger *logging.Logger) echo.HTTPErrorHandler {
	logger = logger.Component("api")
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}
		status := statusFor(err)
		detail := err.Error()
		var httpErr *echo.HTTPError
		if errors.As(err, &httpErr) {
			if msg, ok := httpErr.Message.(string); ok {
				detail = msg
			} else if httpErr.Internal != nil {
				detail = httpErr.Internal.Error()
			} else {
				detail = http.StatusText(status)
			}
		}
		if status >= http.StatusInternalServerError {
			logger.Error("request failed", "method", c.Request().Method, "path", c.Path(), "status", status, "error", err)
			if status == http.StatusInternalServerError {
				detail = "internal error"
			}
		}
		writeError(c, status, http.StatusText(status), detail)
	}
}

// writeError writes an RFC 7807 Problem Details JSON error response.
func writeError(c echo.Context, status int, title, detail string) {
	if c.Request().Method == http.MethodHead {
		_ = c.NoContent(status)
		return
	}
	problem := ProblemDetails{
		Type:     "about:blank",
		Title:    title,
		Status:   status,
		Detail:   detail,
		Instance: c.Request().URL.Path,
	}
	c.Response().Header().Set(echo.HeaderContentType, "application/problem+json")
	c.Response().WriteHeader(status)
	_ = json.NewEncoder(c.Response()).Encode(problem)
}

// bind decodes the request body into v, answering 400 on malformed input.
func bind(c echo.Context, v any) error {
	if err := json.NewDecoder(c.Request().Body).Decode(v); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body: "+err.Error())
	}
	return nil
}
