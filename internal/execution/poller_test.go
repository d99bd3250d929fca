package execution

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"mint/backend/internal/logging"
	"mint/backend/internal/repository"
	"mint/backend/pkg/models"
)

type MockStore struct {
	mock.Mock
}

func (m *MockStore) ListInFlightEnsembles(ctx context.Context, limit int) ([]models.ExecutableEnsemble, error) {
	args := m.Called(ctx, limit)
	return args.Get(0).([]models.ExecutableEnsemble), args.Error(1)
}

func (m *MockStore) RecordRunStates(ctx context.Context, threadID string, ensembles []models.ExecutableEnsemble) error {
	return m.Called(ctx, threadID, ensembles).Error(0)
}

func (m *MockStore) ListEnsembles(ctx context.Context, threadID, modelID string) ([]models.ExecutableEnsemble, error) {
	args := m.Called(ctx, threadID, modelID)
	return args.Get(0).([]models.ExecutableEnsemble), args.Error(1)
}

func (m *MockStore) UpdateExecutionSummary(ctx context.Context, threadID, modelID string, summary models.ExecutionSummary, event *models.ThreadEvent) error {
	return m.Called(ctx, threadID, modelID, summary, event).Error(0)
}

type fakeSource struct {
	mu     sync.Mutex
	states map[string]RunState
	fail   bool
	calls  [][]string
}

func (f *fakeSource) Status(_ context.Context, runIDs []string) ([]RunState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, runIDs)
	if f.fail {
		return nil, errors.New("manager unavailable")
	}
	var out []RunState
	for _, id := range runIDs {
		if s, ok := f.states[id]; ok {
			out = append(out, s)
		}
	}
	return out, nil
}

func TestPoller_TickWritesProgressAndSummary(t *testing.T) {
	ctx := context.Background()
	inflight := []models.ExecutableEnsemble{
		{ID: "e1", ThreadID: "th1", ModelID: "cycles", RunID: "r1", Status: models.RunStatusWaiting},
		{ID: "e2", ThreadID: "th1", ModelID: "cycles", RunID: "r2", Status: models.RunStatusRunning, RunProgress: 0.5},
		{ID: "e3", ThreadID: "th1", ModelID: "cycles", RunID: "r3", Status: models.RunStatusRunning, RunProgress: 0.2},
	}
	source := &fakeSource{states: map[string]RunState{
		"r1": {RunID: "r1", Status: models.RunStatusRunning, RunProgress: 0.1},
		"r2": {RunID: "r2", Status: models.RunStatusSuccess, RunProgress: 0.9, Results: map[string]string{"yield": "https://r2.csv"}},
		"r3": {RunID: "r3", Status: models.RunStatusRunning, RunProgress: 0.2},
	}}

	store := new(MockStore)
	store.On("ListInFlightEnsembles", mock.Anything, 1000).Return(inflight, nil)
	// e3 is unchanged but still written so it moves to the back of the queue
	store.On("RecordRunStates", mock.Anything, "th1", mock.MatchedBy(func(es []models.ExecutableEnsemble) bool {
		if len(es) != 3 {
			return false
		}
		return es[0].ID == "e1" && es[0].Status == models.RunStatusRunning &&
			es[1].ID == "e2" && es[1].RunProgress == 1 && es[1].Results["yield"] == "https://r2.csv" &&
			es[2].ID == "e3" && es[2].RunProgress == 0.2
	})).Return(nil)
	store.On("ListEnsembles", mock.Anything, "th1", "cycles").Return([]models.ExecutableEnsemble{
		{ID: "e1", RunID: "r1", Status: models.RunStatusRunning},
		{ID: "e2", RunID: "r2", Status: models.RunStatusSuccess},
		{ID: "e3", RunID: "r3", Status: models.RunStatusRunning},
		{ID: "e4"},
	}, nil)
	store.On("UpdateExecutionSummary", mock.Anything, "th1", "cycles", mock.MatchedBy(func(s models.ExecutionSummary) bool {
		return s.TotalRuns == 4 && s.SubmittedRuns == 3 && s.SuccessfulRuns == 1 && s.SubmittedForExecution
	}), (*models.ThreadEvent)(nil)).Return(nil)

	p := NewPoller(store, source, PollerConfig{BatchSize: 2}, logging.Discard(), nil)
	require.NoError(t, p.Tick(ctx))

	store.AssertExpectations(t)
	assert.Equal(t, [][]string{{"r1", "r2"}, {"r3"}}, source.calls)
}

func TestPoller_TickSkipsWhenManagerDown(t *testing.T) {
	store := new(MockStore)
	store.On("ListInFlightEnsembles", mock.Anything, mock.Anything).Return([]models.ExecutableEnsemble{
		{ID: "e1", ThreadID: "th1", ModelID: "m", RunID: "r1", Status: models.RunStatusWaiting},
	}, nil)

	p := NewPoller(store, &fakeSource{fail: true}, PollerConfig{}, logging.Discard(), nil)
	require.NoError(t, p.Tick(context.Background()))

	store.AssertNotCalled(t, "RecordRunStates", mock.Anything, mock.Anything, mock.Anything)
}

func TestPoller_TickUnchangedSkipsSummary(t *testing.T) {
	inflight := []models.ExecutableEnsemble{
		{ID: "e1", ThreadID: "th1", ModelID: "m", RunID: "r1", Status: models.RunStatusWaiting},
	}
	store := new(MockStore)
	store.On("ListInFlightEnsembles", mock.Anything, mock.Anything).Return(inflight, nil)
	store.On("RecordRunStates", mock.Anything, "th1", inflight).Return(nil)
	source := &fakeSource{states: map[string]RunState{"r1": {RunID: "r1", Status: models.RunStatusWaiting}}}

	p := NewPoller(store, source, PollerConfig{}, logging.Discard(), nil)
	require.NoError(t, p.Tick(context.Background()))

	store.AssertExpectations(t)
	store.AssertNotCalled(t, "UpdateExecutionSummary", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestPoller_ReachesRunsPastMaxPerTick(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemoryStore(logging.Discard())
	sc := &models.Scenario{Name: "s", RegionID: "r"}
	require.NoError(t, store.CreateScenario(ctx, sc))
	task := &models.Task{ScenarioID: sc.ID, Name: "t"}
	require.NoError(t, store.CreateTask(ctx, task))
	thread := &models.Thread{TaskID: task.ID, Name: "th"}
	require.NoError(t, store.CreateThread(ctx, thread))

	ensembles := []models.ExecutableEnsemble{
		{ID: "e1", ThreadID: thread.ID, ModelID: "cycles", Bindings: map[string]string{"x": "1"}},
		{ID: "e2", ThreadID: thread.ID, ModelID: "cycles", Bindings: map[string]string{"x": "2"}},
	}
	require.NoError(t, store.ReplaceEnsembles(ctx, thread.ID, "cycles", ensembles, nil))
	ensembles[0].RunID, ensembles[0].Status = "r1", models.RunStatusWaiting
	ensembles[1].RunID, ensembles[1].Status = "r2", models.RunStatusWaiting
	require.NoError(t, store.UpdateEnsembleRuns(ctx, thread.ID, ensembles))

	// r1 never moves; it must not hold the only slot forever
	source := &fakeSource{states: map[string]RunState{
		"r1": {RunID: "r1", Status: models.RunStatusWaiting},
		"r2": {RunID: "r2", Status: models.RunStatusSuccess},
	}}
	p := NewPoller(store, source, PollerConfig{MaxPerTick: 1}, logging.Discard(), nil)
	for range 5 {
		require.NoError(t, p.Tick(ctx))
	}

	e2, err := store.GetEnsemble(ctx, thread.ID, "e2")
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusSuccess, e2.Status)
	got, err := store.GetThread(ctx, thread.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.ExecutionSummary["cycles"].SuccessfulRuns)
}

// editingStore applies a user edit to the thread right after the poller reads ensembles.
type editingStore struct {
	*repository.MemoryStore
	edit func()
	once sync.Once
}

func (s *editingStore) ListEnsembles(ctx context.Context, threadID, modelID string) ([]models.ExecutableEnsemble, error) {
	out, err := s.MemoryStore.ListEnsembles(ctx, threadID, modelID)
	s.once.Do(s.edit)
	return out, err
}

func TestPoller_TickKeepsConcurrentThreadEdits(t *testing.T) {
	ctx := context.Background()
	mem := repository.NewMemoryStore(logging.Discard())
	sc := &models.Scenario{Name: "s", RegionID: "r"}
	require.NoError(t, mem.CreateScenario(ctx, sc))
	task := &models.Task{ScenarioID: sc.ID, Name: "t"}
	require.NoError(t, mem.CreateTask(ctx, task))
	thread := &models.Thread{TaskID: task.ID, Name: "th"}
	require.NoError(t, mem.CreateThread(ctx, thread))
	e := models.ExecutableEnsemble{ID: "e1", ThreadID: thread.ID, ModelID: "cycles", Bindings: map[string]string{"x": "1"}}
	require.NoError(t, mem.ReplaceEnsembles(ctx, thread.ID, "cycles", []models.ExecutableEnsemble{e}, nil))
	e.RunID, e.Status = "r1", models.RunStatusRunning
	require.NoError(t, mem.UpdateEnsembleRuns(ctx, thread.ID, []models.ExecutableEnsemble{e}))

	store := &editingStore{MemoryStore: mem, edit: func() {
		th, err := mem.GetThread(ctx, thread.ID)
		require.NoError(t, err)
		th.Notes = map[string]string{models.SectionResults: "yields look low"}
		require.NoError(t, mem.UpdateThread(ctx, th))
	}}
	source := &fakeSource{states: map[string]RunState{"r1": {RunID: "r1", Status: models.RunStatusSuccess}}}

	p := NewPoller(store, source, PollerConfig{}, logging.Discard(), nil)
	require.NoError(t, p.Tick(ctx))

	got, err := mem.GetThread(ctx, thread.ID)
	require.NoError(t, err)
	assert.Equal(t, "yields look low", got.Notes[models.SectionResults])
	assert.Equal(t, 1, got.ExecutionSummary["cycles"].SuccessfulRuns)
}

func TestPoller_TickNothingInFlight(t *testing.T) {
	store := new(MockStore)
	store.On("ListInFlightEnsembles", mock.Anything, mock.Anything).Return([]models.ExecutableEnsemble{}, nil)
	source := &fakeSource{}

	p := NewPoller(store, source, PollerConfig{}, logging.Discard(), nil)
	require.NoError(t, p.Tick(context.Background()))
	assert.Empty(t, source.calls)
}

func TestPoller_StartStop(t *testing.T) {
	defer goleak.VerifyNone(t)

	var ticks atomic.Int32
	store := new(MockStore)
	store.On("ListInFlightEnsembles", mock.Anything, mock.Anything).
		Run(func(mock.Arguments) { ticks.Add(1) }).
		Return([]models.ExecutableEnsemble{}, nil)

	p := NewPoller(store, &fakeSource{}, PollerConfig{Interval: 5 * time.Millisecond}, logging.Discard(), nil)

	errCh := make(chan error, 1)
	go func() { errCh <- p.Start(context.Background()) }()

	require.Eventually(t, func() bool { return ticks.Load() > 0 }, time.Second, 5*time.Millisecond)

	p.Stop()
	assert.NoError(t, <-errCh)
}

func TestPoller_StartCancelled(t *testing.T) {
	defer goleak.VerifyNone(t)

	p := NewPoller(new(MockStore), &fakeSource{}, PollerConfig{Interval: time.Hour}, logging.Discard(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- p.Start(ctx) }()
	cancel()
	assert.ErrorIs(t, <-errCh, context.Canceled)
}
