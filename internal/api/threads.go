package api

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"mint/backend/internal/services"
	"mint/backend/pkg/models"
)

// CreateThreadRequest is the body of POST /tasks/{taskId}/threads.
type CreateThreadRequest struct {
	Name string `json:"name"`
}

// VariablesRequest is the body of PUT /threads/{threadId}/variables.
type VariablesRequest struct {
	DrivingVariables  []string `json:"driving_variables"`
	ResponseVariables []string `json:"response_variables"`
}

// SelectModelsRequest is the body of PUT /threads/{threadId}/models.
type SelectModelsRequest struct {
	ModelIDs []string `json:"model_ids"`
}

// InputBindingRequest binds a model input. A non-null datasets list binds a file input,
// otherwise values or sweep bind a parameter.
type InputBindingRequest struct {
	Datasets []models.Dataset `json:"datasets,omitempty"`
	Values   []string         `json:"values,omitempty"`
	Sweep    *services.Sweep  `json:"sweep,omitempty"`
}

// NotesRequest is the body of PUT /threads/{threadId}/notes/{section}.
type NotesRequest struct {
	Text string `json:"text"`
}

// SelectionRequest is the body of PUT .../ensembles/selection.
type SelectionRequest struct {
	EnsembleIDs []string `json:"ensemble_ids"`
	Selected    bool     `json:"selected"`
}

// (GET /api/v1/tasks/{taskId}/threads)
func (h *Handler) ListThreads(c echo.Context, taskID string) error {
	threads, err := h.threads.ListThreads(c.Request().Context(), taskID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, threads)
}

// CreateThread opens a thread under a task.
// (POST /api/v1/tasks/{taskId}/threads)
func (h *Handler) CreateThread(c echo.Context, taskID string) error {
	var in CreateThreadRequest
	if err := bind(c, &in); err != nil {
		return err
	}
	t, err := h.threads.CreateThread(c.Request().Context(), taskID, in.Name)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, t)
}

// (GET /api/v1/threads/{threadId})
func (h *Handler) GetThread(c echo.Context, threadID string) error {
	t, err := h.threads.GetThread(c.Request().Context(), threadID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, t)
}

// (DELETE /api/v1/threads/{threadId})
func (h *Handler) DeleteThread(c echo.Context, threadID string) error {
	if err := h.threads.DeleteThread(c.Request().Context(), threadID); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

// (PUT /api/v1/threads/{threadId}/variables)
func (h *Handler) SetVariables(c echo.Context, threadID string) error {
	var in VariablesRequest
	if err := bind(c, &in); err != nil {
		return err
	}
	t, err := h.threads.SetVariables(c.Request().Context(), threadID, in.DrivingVariables, in.ResponseVariables)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, t)
}

// (GET /api/v1/threads/{threadId}/models/search)
func (h *Handler) SearchModels(c echo.Context, threadID string) error {
	found, err := h.threads.SearchModels(c.Request().Context(), threadID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, found)
}

// (PUT /api/v1/threads/{threadId}/models)
func (h *Handler) SelectModels(c echo.Context, threadID string) error {
	var in SelectModelsRequest
	if err := bind(c, &in); err != nil {
		return err
	}
	t, err := h.threads.SelectModels(c.Request().Context(), threadID, in.ModelIDs)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, t)
}

// SearchDatasets lists datasets that can feed a model file input.
// (GET /api/v1/threads/{threadId}/models/{modelId}/inputs/{inputId}/datasets)
func (h *Handler) SearchDatasets(c echo.Context, threadID, modelID, inputID string, params SearchDatasetsParams) error {
	found, err := h.threads.SearchDatasets(c.Request().Context(), threadID, modelID, inputID)
	if err != nil {
		return err
	}
	if params.Limit != nil && *params.Limit >= 0 && *params.Limit < len(found) {
		found = found[:*params.Limit]
	}
	return c.JSON(http.StatusOK, found)
}

// BindInput binds datasets or parameter values to a model input and regenerates ensembles.
// (PUT /api/v1/threads/{threadId}/models/{modelId}/inputs/{inputId})
func (h *Handler) BindInput(c echo.Context, threadID, modelID, inputID string) error {
	var in InputBindingRequest
	if err := bind(c, &in); err != nil {
		return err
	}
	ctx := c.Request().Context()
	var (
		t   *models.Thread
		err error
	)
	if in.Datasets != nil {
		if in.Values != nil || in.Sweep != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "datasets cannot be combined with values or sweep")
		}
		t, err = h.threads.BindDatasets(ctx, threadID, modelID, inputID, in.Datasets)
	} else {
		t, err = h.threads.BindParameter(ctx, threadID, modelID, inputID,
			services.ParameterBinding{Values: in.Values, Sweep: in.Sweep})
	}
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, t)
}

// (PUT /api/v1/threads/{threadId}/notes/{section})
func (h *Handler) SetNotes(c echo.Context, threadID, section string) error {
	var in NotesRequest
	if err := bind(c, &in); err != nil {
		return err
	}
	t, err := h.threads.SetNotes(c.Request().Context(), threadID, section, in.Text)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, t)
}

// (POST /api/v1/threads/{threadId}/models/{modelId}/ensembles/generate)
func (h *Handler) GenerateEnsembles(c echo.Context, threadID, modelID string) error {
	gen, err := h.threads.GenerateEnsembles(c.Request().Context(), threadID, modelID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, gen)
}

// (PUT /api/v1/threads/{threadId}/models/{modelId}/ensembles/selection)
func (h *Handler) SelectEnsembles(c echo.Context, threadID, modelID string) error {
	var in SelectionRequest
	if err := bind(c, &in); err != nil {
		return err
	}
	all, err := h.threads.SelectEnsembles(c.Request().Context(), threadID, modelID, in.EnsembleIDs, in.Selected)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, all)
}
