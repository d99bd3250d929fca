package mcp

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	openapi_types "github.com/oapi-codegen/runtime/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mint/backend/internal/auth"
	"mint/backend/internal/execution"
	"mint/backend/internal/logging"
	"mint/backend/internal/repository"
	"mint/backend/internal/services"
	"mint/backend/pkg/models"
)

type staticModels struct{}

func (staticModels) SearchModels(context.Context, []string) ([]models.Model, error) { return nil, nil }

func (staticModels) GetModel(_ context.Context, id string) (*models.Model, error) {
	return &models.Model{ID: id, InputParameters: []models.ModelParameter{
		{ID: "rate", Type: "int", Default: "1", Adjustable: true},
	}}, nil
}

type noData struct{}

func (noData) FindDatasets(context.Context, models.DatasetQuery) ([]models.Dataset, error) {
	return nil, nil
}

func (noData) DatasetResources(context.Context, string, models.DatasetQuery) ([]models.DatasetResource, error) {
	return nil, nil
}

type echoRunner struct{}

func (echoRunner) Submit(_ context.Context, req execution.SubmitRequest) ([]execution.RunRef, error) {
	refs := make([]execution.RunRef, 0, len(req.Ensembles))
	for _, e := range req.Ensembles {
		refs = append(refs, execution.RunRef{EnsembleID: e.ID, RunID: "run-" + e.ID})
	}
	return refs, nil
}

func (echoRunner) Logs(context.Context, string) (string, error) { return "", nil }

func call(args map[string]any) mcp.CallToolRequest {
	var req mcp.CallToolRequest
	req.Params.Arguments = args
	return req
}

func text(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	require.NotEmpty(t, res.Content)
	tc, ok := res.Content[0].(mcp.TextContent)
	require.True(t, ok)
	return tc.Text
}

func day(y int) openapi_types.Date {
	return openapi_types.Date{Time: time.Date(y, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func TestTools(t *testing.T) {
	logger := logging.Discard()
	repo := repository.NewMemoryStore(logger)
	scenarios := services.NewScenarioService(repo, logger)
	threads := services.NewThreadService(repo, staticModels{}, noData{}, 0, nil, logger)
	exec := services.NewExecutionService(repo, echoRunner{}, services.ExecutionConfig{}, nil, logger)
	s := NewServer(scenarios, threads, exec, logger)
	require.NotNil(t, s.GetMCPServer())

	ctx := auth.WithUser(context.Background(), "alice@example.org")
	sc, err := scenarios.CreateScenario(ctx, &models.Scenario{Name: "Flood", RegionID: "kenya",
		Dates: models.DateRange{Start: day(2010), End: day(2012)}})
	require.NoError(t, err)
	task, err := scenarios.CreateTask(ctx, sc.ID, &models.Task{Name: "Runoff"})
	require.NoError(t, err)
	th, err := threads.CreateThread(ctx, task.ID, "Baseline")
	require.NoError(t, err)
	_, err = threads.SelectModels(ctx, th.ID, []string{"topoflow"})
	require.NoError(t, err)

	t.Run("list_scenarios", func(t *testing.T) {
		res, err := s.handleListScenarios(ctx, call(nil))
		require.NoError(t, err)
		var got []models.Scenario
		require.NoError(t, json.Unmarshal([]byte(text(t, res)), &got))
		require.Len(t, got, 1)
		assert.Equal(t, "Flood", got[0].Name)

		res, err = s.handleListScenarios(ctx, call(map[string]any{"owner": "bob@example.org"}))
		require.NoError(t, err)
		assert.JSONEq(t, "[]", text(t, res))
	})

	t.Run("get_thread", func(t *testing.T) {
		res, err := s.handleGetThread(ctx, call(map[string]any{"thread_id": th.ID}))
		require.NoError(t, err)
		assert.False(t, res.IsError)
		assert.Contains(t, text(t, res), `"topoflow"`)

		res, err = s.handleGetThread(ctx, call(map[string]any{}))
		require.NoError(t, err)
		assert.True(t, res.IsError)
	})

	t.Run("generate, run and read results", func(t *testing.T) {
		args := map[string]any{"thread_id": th.ID, "model_id": "topoflow"}

		res, err := s.handleGenerateEnsembles(ctx, call(args))
		require.NoError(t, err)
		var gen services.Generation
		require.NoError(t, json.Unmarshal([]byte(text(t, res)), &gen))
		assert.Equal(t, 1, gen.Total)

		res, err = s.handleRunThread(ctx, call(args))
		require.NoError(t, err)
		require.False(t, res.IsError, text(t, res))

		res, err = s.handleThreadResults(ctx, call(args))
		require.NoError(t, err)
		var results services.ModelResults
		require.NoError(t, json.Unmarshal([]byte(text(t, res)), &results))
		require.Len(t, results.Ensembles, 1)
		assert.Equal(t, models.RunStatusWaiting, results.Ensembles[0].Status)

		res, err = s.handleRunThread(ctx, call(args))
		require.NoError(t, err)
		assert.True(t, res.IsError)
	})
}

func TestMountHTTPHandlers_RejectsGet(t *testing.T) {
	s := NewServer(nil, nil, nil, logging.Discard())
	mux := http.NewServeMux()
	MountHTTPHandlers(mux, s.GetMCPServer())

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/mcp", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
