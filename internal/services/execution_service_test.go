package services

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mint/backend/internal/logging"
	"mint/backend/pkg/models"
)

// readyThread binds four weather datasets so cycles has four ensembles.
func readyThread(t *testing.T) *threadFixture {
	t.Helper()
	f := newThreadFixture(t, 0)
	f.selectCycles(t)
	var datasets []models.Dataset
	for _, id := range []string{"a", "b", "c", "d"} {
		datasets = append(datasets, models.Dataset{ID: id, Resources: []models.DatasetResource{{ID: "r" + id}}})
	}
	_, err := f.svc.BindDatasets(f.ctx, f.thread.ID, "cycles", "weather", datasets)
	require.NoError(t, err)
	return f
}

func TestExecutionService_RunThreadSubmitsInBatches(t *testing.T) {
	f := readyThread(t)
	runner := &fakeRunner{}
	svc := NewExecutionService(f.repo, runner, ExecutionConfig{BatchSize: 3, Concurrency: 2}, nil, logging.Discard())

	report, err := svc.RunThread(f.ctx, f.thread.ID, "cycles")
	require.NoError(t, err)
	assert.Equal(t, 4, report.Submitted)
	assert.Equal(t, 4, report.Summary.SubmittedRuns)
	assert.True(t, report.Summary.SubmittedForExecution)
	assert.Len(t, runner.batches, 2)

	res, err := svc.Results(f.ctx, f.thread.ID, "cycles")
	require.NoError(t, err)
	for _, e := range res.Ensembles {
		assert.True(t, strings.HasPrefix(e.RunID, "run-"))
		assert.Equal(t, models.RunStatusWaiting, e.Status)
		assert.NotNil(t, e.SubmittedAt)
	}

	th, err := f.svc.GetThread(f.ctx, f.thread.ID)
	require.NoError(t, err)
	assert.Equal(t, models.EventRun, th.Events[len(th.Events)-1].Event)

	// everything is in flight, so a second run has nothing to do
	_, err = svc.RunThread(f.ctx, f.thread.ID, "cycles")
	assert.ErrorIs(t, err, ErrNotReady)
}

func TestExecutionService_RunThreadOnlySelected(t *testing.T) {
	f := readyThread(t)
	all, err := f.svc.ListEnsembles(f.ctx, f.thread.ID, "cycles")
	require.NoError(t, err)
	_, err = f.svc.SelectEnsembles(f.ctx, f.thread.ID, "cycles", []string{all[1].ID}, true)
	require.NoError(t, err)

	runner := &fakeRunner{}
	svc := NewExecutionService(f.repo, runner, ExecutionConfig{}, nil, logging.Discard())
	report, err := svc.RunThread(f.ctx, f.thread.ID, "cycles")
	require.NoError(t, err)
	assert.Equal(t, 1, report.Submitted)
	require.Len(t, runner.batches, 1)
	assert.Equal(t, all[1].ID, runner.batches[0].Ensembles[0].ID)
}

func TestExecutionService_RunThreadResubmitsFailures(t *testing.T) {
	f := readyThread(t)
	all, err := f.svc.ListEnsembles(f.ctx, f.thread.ID, "cycles")
	require.NoError(t, err)
	for i := range all {
		all[i].RunID = "old"
		all[i].Status = models.RunStatusSuccess
	}
	all[2].Status = models.RunStatusFailure
	require.NoError(t, f.repo.UpdateEnsembleRuns(f.ctx, f.thread.ID, all))

	runner := &fakeRunner{}
	svc := NewExecutionService(f.repo, runner, ExecutionConfig{}, nil, logging.Discard())
	report, err := svc.RunThread(f.ctx, f.thread.ID, "cycles")
	require.NoError(t, err)
	assert.Equal(t, 1, report.Submitted)
	assert.Equal(t, all[2].ID, runner.batches[0].Ensembles[0].ID)
}

func TestExecutionService_PartialSubmissionIsRecorded(t *testing.T) {
	f := readyThread(t)
	runner := &fakeRunner{accept: 1, err: errors.New("manager down")}
	svc := NewExecutionService(f.repo, runner, ExecutionConfig{BatchSize: 2, Concurrency: 1}, nil, logging.Discard())

	_, err := svc.RunThread(f.ctx, f.thread.ID, "cycles")
	assert.ErrorContains(t, err, "manager down")

	res, err := svc.Results(f.ctx, f.thread.ID, "cycles")
	require.NoError(t, err)
	assert.Equal(t, 2, res.Summary.SubmittedRuns)
	assert.Equal(t, 4, res.Summary.TotalRuns)
}

func TestExecutionService_NotReadyWithoutEnsembles(t *testing.T) {
	f := newThreadFixture(t, 0)
	f.selectCycles(t)
	svc := NewExecutionService(f.repo, &fakeRunner{}, ExecutionConfig{}, nil, logging.Discard())

	_, err := svc.RunThread(f.ctx, f.thread.ID, "cycles")
	assert.ErrorIs(t, err, ErrNotReady)
}

func TestExecutionService_LogsAndVisualization(t *testing.T) {
	f := readyThread(t)
	all, err := f.svc.ListEnsembles(f.ctx, f.thread.ID, "cycles")
	require.NoError(t, err)

	runner := &fakeRunner{logs: map[string]string{all[0].ID: "done"}}
	svc := NewExecutionService(f.repo, runner, ExecutionConfig{VisualizationURL: "https://viz.example.org"}, nil, logging.Discard())

	_, err = svc.Logs(f.ctx, f.thread.ID, all[0].ID)
	assert.ErrorIs(t, err, ErrNotReady)

	_, err = svc.RunThread(f.ctx, f.thread.ID, "cycles")
	require.NoError(t, err)
	logs, err := svc.Logs(f.ctx, f.thread.ID, all[0].ID)
	require.NoError(t, err)
	assert.Equal(t, "done", logs)

	u, err := svc.VisualizationURL(f.ctx, f.thread.ID)
	require.NoError(t, err)
	assert.Contains(t, u, "thread_id="+f.thread.ID)
	assert.Contains(t, u, "task_id="+f.thread.TaskID)
	assert.Contains(t, u, "problem_statement_id=")
}
