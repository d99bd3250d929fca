package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mint/backend/internal/logging"
	"mint/backend/pkg/models"
)

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(logging.Discard())

	scenario := &models.Scenario{
		Name:     "South Sudan food security",
		RegionID: "south_sudan",
		Dates:    models.DateRange{Start: date(2017, 1, 1), End: date(2017, 12, 31)},
		Owner:    "alice@example.org",
	}
	require.NoError(t, store.CreateScenario(ctx, scenario))
	require.NotEmpty(t, scenario.ID)
	require.False(t, scenario.CreatedAt.IsZero())

	task := &models.Task{ScenarioID: scenario.ID, Name: "Crop yield", Owner: scenario.Owner}
	require.NoError(t, store.CreateTask(ctx, task))
	thread := &models.Thread{TaskID: task.ID, Name: "Cycles sweep", Owner: scenario.Owner,
		Notes: map[string]string{models.SectionModels: "picked cycles"}}
	require.NoError(t, store.CreateThread(ctx, thread))

	t.Run("Copies are isolated", func(t *testing.T) {
		thread.Notes[models.SectionModels] = "changed by caller"
		got, err := store.GetThread(ctx, thread.ID)
		require.NoError(t, err)
		assert.Equal(t, "picked cycles", got.Notes[models.SectionModels])

		got.Notes[models.SectionRuns] = "ready"
		got.Owner = "mallory@example.org"
		require.NoError(t, store.UpdateThread(ctx, got))
		again, err := store.GetThread(ctx, thread.ID)
		require.NoError(t, err)
		assert.Equal(t, "ready", again.Notes[models.SectionRuns])
		assert.Equal(t, "alice@example.org", again.Owner)
	})

	t.Run("Ensembles", func(t *testing.T) {
		e1 := models.ExecutableEnsemble{ID: "e1", Bindings: map[string]string{"weather": "w1"}}
		e2 := models.ExecutableEnsemble{ID: "e2", Bindings: map[string]string{"weather": "w2"}}
		require.NoError(t, store.ReplaceEnsembles(ctx, thread.ID, "cycles", []models.ExecutableEnsemble{e2, e1}, nil))

		e1.RunID, e1.Status = "run-1", models.RunStatusWaiting
		e2.RunID, e2.Status = "run-2", models.RunStatusSuccess
		require.NoError(t, store.UpdateEnsembleRuns(ctx, thread.ID, []models.ExecutableEnsemble{e1, e2}))

		inflight, err := store.ListInFlightEnsembles(ctx, 10)
		require.NoError(t, err)
		require.Len(t, inflight, 1)
		assert.Equal(t, "e1", inflight[0].ID)
		assert.Equal(t, "cycles", inflight[0].ModelID)

		list, err := store.ListEnsembles(ctx, thread.ID, "")
		require.NoError(t, err)
		require.Len(t, list, 2)
		assert.Equal(t, "e1", list[0].ID)

		require.NoError(t, store.DeleteEnsembles(ctx, thread.ID, "cycles"))
		list, err = store.ListEnsembles(ctx, thread.ID, "cycles")
		require.NoError(t, err)
		assert.Empty(t, list)

		err = store.ReplaceEnsembles(ctx, "missing", "cycles", []models.ExecutableEnsemble{e1}, nil)
		assert.ErrorIs(t, err, ErrInvalidReference)
	})

	t.Run("Versioned updates", func(t *testing.T) {
		stale, err := store.GetThread(ctx, thread.ID)
		require.NoError(t, err)
		event := &models.ThreadEvent{Event: models.EventRun, User: "alice@example.org", Timestamp: time.Now().UTC(), Notes: models.SectionRuns}
		require.NoError(t, store.UpdateExecutionSummary(ctx, thread.ID, "cycles", models.ExecutionSummary{TotalRuns: 2, SubmittedRuns: 2}, event))

		stale.Notes[models.SectionResults] = "late"
		assert.ErrorIs(t, store.UpdateThread(ctx, stale), ErrConflict)

		got, err := store.GetThread(ctx, thread.ID)
		require.NoError(t, err)
		assert.Equal(t, 2, got.ExecutionSummary["cycles"].SubmittedRuns)
		assert.Equal(t, "ready", got.Notes[models.SectionRuns])
		assert.Empty(t, got.Notes[models.SectionResults])
		assert.Equal(t, "alice@example.org", got.LastUpdate[models.SectionRuns].User)
		assert.Equal(t, models.EventRun, got.Events[len(got.Events)-1].Event)
		assert.Equal(t, stale.Version+1, got.Version)

		got.Notes[models.SectionResults] = "fresh"
		require.NoError(t, store.UpdateThread(ctx, got))
		assert.Equal(t, stale.Version+2, got.Version)
		assert.ErrorIs(t, store.UpdateExecutionSummary(ctx, "missing", "cycles", models.ExecutionSummary{}, nil), ErrNotFound)
	})

	t.Run("Polled runs rotate", func(t *testing.T) {
		clock := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
		store.now = func() time.Time {
			clock = clock.Add(time.Second)
			return clock
		}
		defer func() { store.now = func() time.Time { return time.Now().UTC() } }()

		a := models.ExecutableEnsemble{ID: "a", Bindings: map[string]string{"soil": "s1"}}
		b := models.ExecutableEnsemble{ID: "b", Bindings: map[string]string{"soil": "s2"}}
		require.NoError(t, store.ReplaceEnsembles(ctx, thread.ID, "pihm", []models.ExecutableEnsemble{a, b}, nil))
		a.RunID, a.Status = "run-a", models.RunStatusWaiting
		b.RunID, b.Status = "run-b", models.RunStatusWaiting
		require.NoError(t, store.UpdateEnsembleRuns(ctx, thread.ID, []models.ExecutableEnsemble{a, b}))

		first, err := store.ListInFlightEnsembles(ctx, 1)
		require.NoError(t, err)
		require.Len(t, first, 1)
		assert.Equal(t, "a", first[0].ID)
		require.NoError(t, store.RecordRunStates(ctx, thread.ID, first))

		next, err := store.ListInFlightEnsembles(ctx, 1)
		require.NoError(t, err)
		require.Len(t, next, 1)
		assert.Equal(t, "b", next[0].ID)

		// a was resubmitted after it was polled
		late := first[0]
		late.Status = models.RunStatusFailure
		a.RunID = "run-a2"
		require.NoError(t, store.UpdateEnsembleRuns(ctx, thread.ID, []models.ExecutableEnsemble{a}))
		require.NoError(t, store.RecordRunStates(ctx, thread.ID, []models.ExecutableEnsemble{late}))
		got, err := store.GetEnsemble(ctx, thread.ID, "a")
		require.NoError(t, err)
		assert.Equal(t, "run-a2", got.RunID)
		assert.Equal(t, models.RunStatusWaiting, got.Status)
	})

	t.Run("Errors", func(t *testing.T) {
		_, err := store.GetTask(ctx, "missing")
		assert.ErrorIs(t, err, ErrNotFound)
		assert.ErrorIs(t, store.UpdateScenario(ctx, &models.Scenario{ID: "missing"}), ErrNotFound)
		assert.ErrorIs(t, store.CreateThread(ctx, &models.Thread{TaskID: "missing"}), ErrInvalidReference)
		assert.ErrorIs(t, store.CreateScenario(ctx, &models.Scenario{ID: scenario.ID}), ErrConflict)
	})

	t.Run("Delete cascades", func(t *testing.T) {
		require.NoError(t, store.DeleteScenario(ctx, scenario.ID))
		_, err := store.GetThread(ctx, thread.ID)
		assert.ErrorIs(t, err, ErrNotFound)
		_, err = store.GetTask(ctx, task.ID)
		assert.ErrorIs(t, err, ErrNotFound)
		assert.ErrorIs(t, store.DeleteScenario(ctx, scenario.ID), ErrNotFound)
	})
}
