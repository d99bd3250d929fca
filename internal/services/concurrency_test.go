package services

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mint/backend/internal/execution"
	"mint/backend/internal/logging"
	"mint/backend/internal/repository"
	"mint/backend/pkg/models"
)

// interleavingStore runs before once, ahead of the first call it wraps.
type interleavingStore struct {
	*repository.MemoryStore
	before func()
	once   sync.Once
}

func (s *interleavingStore) UpdateThread(ctx context.Context, t *models.Thread) error {
	s.once.Do(s.before)
	return s.MemoryStore.UpdateThread(ctx, t)
}

func (s *interleavingStore) ListEnsembles(ctx context.Context, threadID, modelID string) ([]models.ExecutableEnsemble, error) {
	out, err := s.MemoryStore.ListEnsembles(ctx, threadID, modelID)
	s.once.Do(s.before)
	return out, err
}

type staticSource map[string]models.RunStatus

func (s staticSource) Status(_ context.Context, runIDs []string) ([]execution.RunState, error) {
	out := make([]execution.RunState, 0, len(runIDs))
	for _, id := range runIDs {
		if st, ok := s[id]; ok {
			out = append(out, execution.RunState{RunID: id, Status: st})
		}
	}
	return out, nil
}

func TestThreadService_SaveRetriesAfterSummaryWrite(t *testing.T) {
	f := newThreadFixture(t, 0)
	polled := models.ExecutionSummary{TotalRuns: 7, SuccessfulRuns: 7}
	store := &interleavingStore{MemoryStore: f.repo, before: func() {
		require.NoError(t, f.repo.UpdateExecutionSummary(f.ctx, f.thread.ID, "cycles", polled, nil))
	}}
	svc := NewThreadService(store, f.models, f.data, 0, nil, logging.Discard())

	th, err := svc.SetNotes(f.ctx, f.thread.ID, models.SectionResults, "yields look low")
	require.NoError(t, err)

	got, err := f.repo.GetThread(f.ctx, f.thread.ID)
	require.NoError(t, err)
	assert.Equal(t, "yields look low", got.Notes[models.SectionResults])
	assert.Equal(t, polled, got.ExecutionSummary["cycles"])
	assert.Equal(t, got.Version, th.Version)
}

func TestThreadService_StaleSaveIsRejected(t *testing.T) {
	f := newThreadFixture(t, 0)
	stale, err := f.repo.GetThread(f.ctx, f.thread.ID)
	require.NoError(t, err)
	_, err = f.svc.SetNotes(f.ctx, f.thread.ID, models.SectionModels, "first")
	require.NoError(t, err)

	stale.Name = "overwritten"
	assert.ErrorIs(t, f.repo.UpdateThread(f.ctx, stale), repository.ErrConflict)
}

func TestPoller_KeepsNotesSetDuringTick(t *testing.T) {
	f := readyThread(t)
	svc := NewExecutionService(f.repo, &fakeRunner{}, ExecutionConfig{}, nil, logging.Discard())
	_, err := svc.RunThread(f.ctx, f.thread.ID, "cycles")
	require.NoError(t, err)

	all, err := f.repo.ListEnsembles(f.ctx, f.thread.ID, "cycles")
	require.NoError(t, err)
	source := staticSource{}
	for _, e := range all {
		source[e.RunID] = models.RunStatusSuccess
	}
	store := &interleavingStore{MemoryStore: f.repo, before: func() {
		_, err := f.svc.SetNotes(f.ctx, f.thread.ID, models.SectionRuns, "submitted with defaults")
		require.NoError(t, err)
	}}

	p := execution.NewPoller(store, source, execution.PollerConfig{}, logging.Discard(), nil)
	require.NoError(t, p.Tick(context.Background()))

	th, err := f.svc.GetThread(f.ctx, f.thread.ID)
	require.NoError(t, err)
	assert.Equal(t, "submitted with defaults", th.Notes[models.SectionRuns])
	assert.Equal(t, len(all), th.ExecutionSummary["cycles"].SuccessfulRuns)
}

func TestExecutionService_KeepsNotesSetDuringSubmit(t *testing.T) {
	f := readyThread(t)
	var once sync.Once
	runner := &fakeRunner{onSubmit: func() {
		once.Do(func() {
			// submission may run off the test goroutine
			_, err := f.svc.SetNotes(f.ctx, f.thread.ID, models.SectionParameters, "default fertilizer")
			assert.NoError(t, err)
		})
	}}
	svc := NewExecutionService(f.repo, runner, ExecutionConfig{Concurrency: 1}, nil, logging.Discard())

	_, err := svc.RunThread(f.ctx, f.thread.ID, "cycles")
	require.NoError(t, err)

	th, err := f.svc.GetThread(f.ctx, f.thread.ID)
	require.NoError(t, err)
	assert.Equal(t, "default fertilizer", th.Notes[models.SectionParameters])
	assert.Equal(t, 4, th.ExecutionSummary["cycles"].SubmittedRuns)
	last := th.Events[len(th.Events)-1]
	assert.Equal(t, models.EventRun, last.Event)
	assert.Equal(t, "alice@example.org", th.LastUpdate[models.SectionRuns].User)
}
