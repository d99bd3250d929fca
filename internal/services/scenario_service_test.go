package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mint/backend/internal/auth"
	"mint/backend/internal/logging"
	"mint/backend/internal/repository"
	"mint/backend/pkg/models"
)

func TestScenarioService_Validation(t *testing.T) {
	svc := NewScenarioService(repository.NewMemoryStore(logging.Discard()), logging.Discard())
	ctx := auth.WithUser(context.Background(), "alice@example.org")
	valid := models.DateRange{Start: day(2000, 1, 1), End: day(2001, 1, 1)}

	tests := []struct {
		name string
		in   models.Scenario
	}{
		{"missing name", models.Scenario{RegionID: "eth", Dates: valid}},
		{"missing region", models.Scenario{Name: "x", Dates: valid}},
		{"no dates", models.Scenario{Name: "x", RegionID: "eth"}},
		{"reversed dates", models.Scenario{Name: "x", RegionID: "eth",
			Dates: models.DateRange{Start: day(2001, 1, 1), End: day(2000, 1, 1)}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.CreateScenario(ctx, &tt.in)
			assert.ErrorIs(t, err, ErrInvalid)
		})
	}

	sc, err := svc.CreateScenario(ctx, &models.Scenario{Name: "x", RegionID: "eth", Dates: valid})
	require.NoError(t, err)
	assert.NotEmpty(t, sc.ID)
	assert.Equal(t, "alice@example.org", sc.Owner)
}

func TestScenarioService_CRUDAndOwnership(t *testing.T) {
	repo := repository.NewMemoryStore(logging.Discard())
	svc := NewScenarioService(repo, logging.Discard())
	alice := auth.WithUser(context.Background(), "alice@example.org")
	bob := auth.WithUser(context.Background(), "bob@example.org")
	dates := models.DateRange{Start: day(2000, 1, 1), End: day(2001, 1, 1)}

	sc, err := svc.CreateScenario(alice, &models.Scenario{Name: "Drought", RegionID: "eth", Dates: dates})
	require.NoError(t, err)

	_, err = svc.UpdateScenario(bob, sc.ID, &models.Scenario{Name: "Flood", RegionID: "eth", Dates: dates})
	assert.ErrorIs(t, err, ErrForbidden)

	updated, err := svc.UpdateScenario(alice, sc.ID, &models.Scenario{Name: "Flood", RegionID: "ken", Dates: dates})
	require.NoError(t, err)
	assert.Equal(t, "Flood", updated.Name)
	assert.Equal(t, "alice@example.org", updated.Owner)

	task, err := svc.CreateTask(bob, sc.ID, &models.Task{Name: "Yield"})
	require.NoError(t, err)
	assert.Equal(t, dates, task.Dates)
	assert.Equal(t, "bob@example.org", task.Owner)

	tasks, err := svc.ListTasks(alice, sc.ID)
	require.NoError(t, err)
	assert.Len(t, tasks, 1)

	_, err = svc.UpdateTask(alice, task.ID, &models.Task{Name: "Other", Dates: dates})
	assert.ErrorIs(t, err, ErrForbidden)
	_, err = svc.UpdateTask(bob, task.ID, &models.Task{Name: "", Dates: dates})
	assert.ErrorIs(t, err, ErrInvalid)

	_, err = svc.CreateTask(alice, "missing", &models.Task{Name: "Yield"})
	assert.ErrorIs(t, err, repository.ErrNotFound)

	assert.ErrorIs(t, svc.DeleteScenario(bob, sc.ID), ErrForbidden)
	require.NoError(t, svc.DeleteScenario(alice, sc.ID))
	_, err = svc.GetScenario(alice, sc.ID)
	assert.ErrorIs(t, err, repository.ErrNotFound)
}
