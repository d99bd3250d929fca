package api

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"mint/backend/internal/auth"
	"mint/backend/pkg/models"
)

// ListScenarios returns scenarios, optionally filtered by owner.
// (GET /api/v1/scenarios)
func (h *Handler) ListScenarios(c echo.Context, params ListScenariosParams) error {
	ctx := c.Request().Context()
	owner := ""
	if params.Owner != nil {
		owner = *params.Owner
		if owner == "me" {
			owner = auth.UserFromContext(ctx)
		}
	}
	scenarios, err := h.scenarios.ListScenarios(ctx, owner)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, scenarios)
}

// CreateScenario creates a scenario owned by the caller.
// (POST /api/v1/scenarios)
func (h *Handler) CreateScenario(c echo.Context) error {
	var in models.Scenario
	if err := bind(c, &in); err != nil {
		return err
	}
	sc, err := h.scenarios.CreateScenario(c.Request().Context(), &in)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, sc)
}

// (GET /api/v1/scenarios/{scenarioId})
func (h *Handler) GetScenario(c echo.Context, scenarioID string) error {
	sc, err := h.scenarios.GetScenario(c.Request().Context(), scenarioID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, sc)
}

// (PUT /api/v1/scenarios/{scenarioId})
func (h *Handler) UpdateScenario(c echo.Context, scenarioID string) error {
	var in models.Scenario
	if err := bind(c, &in); err != nil {
		return err
	}
	sc, err := h.scenarios.UpdateScenario(c.Request().Context(), scenarioID, &in)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, sc)
}

// (DELETE /api/v1/scenarios/{scenarioId})
func (h *Handler) DeleteScenario(c echo.Context, scenarioID string) error {
	if err := h.scenarios.DeleteScenario(c.Request().Context(), scenarioID); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

// (GET /api/v1/scenarios/{scenarioId}/tasks)
func (h *Handler) ListTasks(c echo.Context, scenarioID string) error {
	tasks, err := h.scenarios.ListTasks(c.Request().Context(), scenarioID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, tasks)
}

// CreateTask creates a task inside a scenario. Unset dates are taken from the scenario.
// (POST /api/v1/scenarios/{scenarioId}/tasks)
func (h *Handler) CreateTask(c echo.Context, scenarioID string) error {
	var in models.Task
	if err := bind(c, &in); err != nil {
		return err
	}
	t, err := h.scenarios.CreateTask(c.Request().Context(), scenarioID, &in)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, t)
}

// (GET /api/v1/tasks/{taskId})
func (h *Handler) GetTask(c echo.Context, taskID string) error {
	t, err := h.scenarios.GetTask(c.Request().Context(), taskID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, t)
}

// (PUT /api/v1/tasks/{taskId})
func (h *Handler) UpdateTask(c echo.Context, taskID string) error {
	var in models.Task
	if err := bind(c, &in); err != nil {
		return err
	}
	t, err := h.scenarios.UpdateTask(c.Request().Context(), taskID, &in)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, t)
}

// (DELETE /api/v1/tasks/{taskId})
func (h *Handler) DeleteTask(c echo.Context, taskID string) error {
	if err := h.scenarios.DeleteTask(c.Request().Context(), taskID); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}
