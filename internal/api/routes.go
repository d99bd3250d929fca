package api

import (
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/oapi-codegen/runtime"
)

// ListScenariosParams defines parameters for ListScenarios.
type ListScenariosParams struct {
	// Owner filters by owner email. "me" selects the caller's scenarios.
	Owner *string `form:"owner,omitempty" json:"owner,omitempty"`
}

// SearchDatasetsParams defines parameters for SearchDatasets.
type SearchDatasetsParams struct {
	Limit *int `form:"limit,omitempty" json:"limit,omitempty"`
}

// ServerInterface represents all server handlers.
type ServerInterface interface {
	// (GET /health)
	HandleHealth(ctx echo.Context) error

	// (GET /scenarios)
	ListScenarios(ctx echo.Context, params ListScenariosParams) error
	// (POST /scenarios)
	CreateScenario(ctx echo.Context) error
	// (GET /scenarios/{scenarioId})
	GetScenario(ctx echo.Context, scenarioID string) error
	// (PUT /scenarios/{scenarioId})
	UpdateScenario(ctx echo.Context, scenarioID string) error
	// (DELETE /scenarios/{scenarioId})
	DeleteScenario(ctx echo.Context, scenarioID string) error

	// (GET /scenarios/{scenarioId}/tasks)
	ListTasks(ctx echo.Context, scenarioID string) error
	// (POST /scenarios/{scenarioId}/tasks)
	CreateTask(ctx echo.Context, scenarioID string) error
	// (GET /tasks/{taskId})
	GetTask(ctx echo.Context, taskID string) error
	// (PUT /tasks/{taskId})
	UpdateTask(ctx echo.Context, taskID string) error
	// (DELETE /tasks/{taskId})
	DeleteTask(ctx echo.Context, taskID string) error

	// (GET /tasks/{taskId}/threads)
	ListThreads(ctx echo.Context, taskID string) error
	// (POST /tasks/{taskId}/threads)
	CreateThread(ctx echo.Context, taskID string) error
	// (GET /threads/{threadId})
	GetThread(ctx echo.Context, threadID string) error
	// (DELETE /threads/{threadId})
	DeleteThread(ctx echo.Context, threadID string) error
	// (PUT /threads/{threadId}/variables)
	SetVariables(ctx echo.Context, threadID string) error
	// (GET /threads/{threadId}/models/search)
	SearchModels(ctx echo.Context, threadID string) error
	// (PUT /threads/{threadId}/models)
	SelectModels(ctx echo.Context, threadID string) error
	// (GET /threads/{threadId}/models/{modelId}/inputs/{inputId}/datasets)
	SearchDatasets(ctx echo.Context, threadID, modelID, inputID string, params SearchDatasetsParams) error
	// (PUT /threads/{threadId}/models/{modelId}/inputs/{inputId})
	BindInput(ctx echo.Context, threadID, modelID, inputID string) error
	// (PUT /threads/{threadId}/notes/{section})
	SetNotes(ctx echo.Context, threadID, section string) error

	// (GET /threads/{threadId}/models/{modelId}/ensembles)
	ListEnsembles(ctx echo.Context, threadID, modelID string) error
	// (POST /threads/{threadId}/models/{modelId}/ensembles/generate)
	GenerateEnsembles(ctx echo.Context, threadID, modelID string) error
	// (PUT /threads/{threadId}/models/{modelId}/ensembles/selection)
	SelectEnsembles(ctx echo.Context, threadID, modelID string) error
	// (POST /threads/{threadId}/models/{modelId}/runs)
	RunThread(ctx echo.Context, threadID, modelID string) error
	// (GET /threads/{threadId}/ensembles/{ensembleId}/logs)
	GetLogs(ctx echo.Context, threadID, ensembleID string) error
	// (GET /threads/{threadId}/visualization)
	GetVisualization(ctx echo.Context, threadID string) error
}

// ServerInterfaceWrapper converts echo contexts to parameters.
type ServerInterfaceWrapper struct {
	Handler ServerInterface
}

func pathParam(ctx echo.Context, name string) (string, error) {
	var v string
	err := runtime.BindStyledParameterWithOptions("simple", name, ctx.Param(name), &v,
		runtime.BindStyledParameterOptions{ParamLocation: runtime.ParamLocationPath, Explode: false, Required: true})
	if err != nil {
		return "", echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("Invalid format for parameter %s: %s", name, err))
	}
	return v, nil
}

func pathParams(ctx echo.Context, names ...string) ([]string, error) {
	out := make([]string, len(names))
	for i, n := range names {
		v, err := pathParam(ctx, n)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (w *ServerInterfaceWrapper) HandleHealth(ctx echo.Context) error {
	return w.Handler.HandleHealth(ctx)
}

func (w *ServerInterfaceWrapper) ListScenarios(ctx echo.Context) error {
	var params ListScenariosParams
	if err := runtime.BindQueryParameter("form", true, false, "owner", ctx.QueryParams(), &params.Owner); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("Invalid format for parameter owner: %s", err))
	}
	return w.Handler.ListScenarios(ctx, params)
}

func (w *ServerInterfaceWrapper) CreateScenario(ctx echo.Context) error {
	return w.Handler.CreateScenario(ctx)
}

// withOne adapts a handler taking a single path parameter.
func (w *ServerInterfaceWrapper) withOne(name string, fn func(echo.Context, string) error) echo.HandlerFunc {
	return func(ctx echo.Context) error {
		v, err := pathParam(ctx, name)
		if err != nil {
			return err
		}
		return fn(ctx, v)
	}
}

// withTwo adapts a handler taking two path parameters.
func (w *ServerInterfaceWrapper) withTwo(a, b string, fn func(echo.Context, string, string) error) echo.HandlerFunc {
	return func(ctx echo.Context) error {
		v, err := pathParams(ctx, a, b)
		if err != nil {
			return err
		}
		return fn(ctx, v[0], v[1])
	}
}

func (w *ServerInterfaceWrapper) SearchDatasets(ctx echo.Context) error {
	v, err := pathParams(ctx, "threadId", "modelId", "inputId")
	if err != nil {
		return err
	}
	var params SearchDatasetsParams
	if err := runtime.BindQueryParameter("form", true, false, "limit", ctx.QueryParams(), &params.Limit); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("Invalid format for parameter limit: %s", err))
	}
	return w.Handler.SearchDatasets(ctx, v[0], v[1], v[2], params)
}

func (w *ServerInterfaceWrapper) BindInput(ctx echo.Context) error {
	v, err := pathParams(ctx, "threadId", "modelId", "inputId")
	if err != nil {
		return err
	}
	return w.Handler.BindInput(ctx, v[0], v[1], v[2])
}

// EchoRouter is the subset of echo.Echo and echo.Group used to register routes.
type EchoRouter interface {
	GET(path string, h echo.HandlerFunc, m ...echo.MiddlewareFunc) *echo.Route
	POST(path string, h echo.HandlerFunc, m ...echo.MiddlewareFunc) *echo.Route
	PUT(path string, h echo.HandlerFunc, m ...echo.MiddlewareFunc) *echo.Route
	DELETE(path string, h echo.HandlerFunc, m ...echo.MiddlewareFunc) *echo.Route
}

// RegisterHandlers adds each server route to the EchoRouter.
func RegisterHandlers(router EchoRouter, si ServerInterface) {
	RegisterHandlersWithBaseURL(router, si, "")
}

// RegisterHandlersWithBaseURL registers handlers, and prepends BaseURL to the paths.
func RegisterHandlersWithBaseURL(router EchoRouter, si ServerInterface, baseURL string) {
	w := &ServerInterfaceWrapper{Handler: si}

	router.GET(baseURL+"/health", w.HandleHealth)

	router.GET(baseURL+"/scenarios", w.ListScenarios)
	router.POST(baseURL+"/scenarios", w.CreateScenario)
	router.GET(baseURL+"/scenarios/:scenarioId", w.withOne("scenarioId", si.GetScenario))
	router.PUT(baseURL+"/scenarios/:scenarioId", w.withOne("scenarioId", si.UpdateScenario))
	router.DELETE(baseURL+"/scenarios/:scenarioId", w.withOne("scenarioId", si.DeleteScenario))
	router.GET(baseURL+"/scenarios/:scenarioId/tasks", w.withOne("scenarioId", si.ListTasks))
	router.POST(baseURL+"/scenarios/:scenarioId/tasks", w.withOne("scenarioId", si.CreateTask))

	router.GET(baseURL+"/tasks/:taskId", w.withOne("taskId", si.GetTask))
	router.PUT(baseURL+"/tasks/:taskId", w.withOne("taskId", si.UpdateTask))
	router.DELETE(baseURL+"/tasks/:taskId", w.withOne("taskId", si.DeleteTask))
	router.GET(baseURL+"/tasks/:taskId/threads", w.withOne("taskId", si.ListThreads))
	router.POST(baseURL+"/tasks/:taskId/threads", w.withOne("taskId", si.CreateThread))

	router.GET(baseURL+"/threads/:threadId", w.withOne("threadId", si.GetThread))
	router.DELETE(baseURL+"/threads/:threadId", w.withOne("threadId", si.DeleteThread))
	router.PUT(baseURL+"/threads/:threadId/variables", w.withOne("threadId", si.SetVariables))
	router.GET(baseURL+"/threads/:threadId/models/search", w.withOne("threadId", si.SearchModels))
	router.PUT(baseURL+"/threads/:threadId/models", w.withOne("threadId", si.SelectModels))
	router.GET(baseURL+"/threads/:threadId/models/:modelId/inputs/:inputId/datasets", w.SearchDatasets)
	router.PUT(baseURL+"/threads/:threadId/models/:modelId/inputs/:inputId", w.BindInput)
	router.PUT(baseURL+"/threads/:threadId/notes/:section", w.withTwo("threadId", "section", si.SetNotes))

	router.GET(baseURL+"/threads/:threadId/models/:modelId/ensembles", w.withTwo("threadId", "modelId", si.ListEnsembles))
	router.POST(baseURL+"/threads/:threadId/models/:modelId/ensembles/generate", w.withTwo("threadId", "modelId", si.GenerateEnsembles))
	router.PUT(baseURL+"/threads/:threadId/models/:modelId/ensembles/selection", w.withTwo("threadId", "modelId", si.SelectEnsembles))
	router.POST(baseURL+"/threads/:threadId/models/:modelId/runs", w.withTwo("threadId", "modelId", si.RunThread))
	router.GET(baseURL+"/threads/:threadId/ensembles/:ensembleId/logs", w.withTwo("threadId", "ensembleId", si.GetLogs))
	router.GET(baseURL+"/threads/:threadId/visualization", w.withOne("threadId", si.GetVisualization))
}
