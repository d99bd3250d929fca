package api

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// VisualizationLink is the body of GET /threads/{threadId}/visualization.
type VisualizationLink struct {
	URL string `json:"url"`
}

// ListEnsembles returns a model's ensembles with their run state and summary.
// (GET /api/v1/threads/{threadId}/models/{modelId}/ensembles)
func (h *Handler) ListEnsembles(c echo.Context, threadID, modelID string) error {
	res, err := h.execution.Results(c.Request().Context(), threadID, modelID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, res)
}

// RunThread submits the pending ensembles of a model. Runs complete asynchronously.
// (POST /api/v1/threads/{threadId}/models/{modelId}/runs)
func (h *Handler) RunThread(c echo.Context, threadID, modelID string) error {
	report, err := h.execution.RunThread(c.Request().Context(), threadID, modelID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusAccepted, report)
}

// (GET /api/v1/threads/{threadId}/ensembles/{ensembleId}/logs)
func (h *Handler) GetLogs(c echo.Context, threadID, ensembleID string) error {
	logs, err := h.execution.Logs(c.Request().Context(), threadID, ensembleID)
	if err != nil {
		return err
	}
	return c.String(http.StatusOK, logs)
}

// (GET /api/v1/threads/{threadId}/visualization)
func (h *Handler) GetVisualization(c echo.Context, threadID string) error {
	u, err := h.execution.VisualizationURL(c.Request().Context(), threadID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, VisualizationLink{URL: u})
}
