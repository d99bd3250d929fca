package repository

import (
	"context"
	"errors"

	"mint/backend/pkg/models"
)

var (
	// ErrNotFound is returned when the requested record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when a record with the same identity already exists or a
	// versioned update lost a race.
	ErrConflict = errors.New("conflict")
	// ErrInvalidReference is returned when a parent record does not exist.
	ErrInvalidReference = errors.New("invalid reference")
)

// ScenarioStore persists scenarios and their tasks.
type ScenarioStore interface {
	// CreateScenario inserts a scenario. ID and timestamps are assigned when empty.
	CreateScenario(ctx context.Context, s *models.Scenario) error
	// GetScenario retrieves a scenario by its ID.
	GetScenario(ctx context.Context, id string) (*models.Scenario, error)
	// ListScenarios lists scenarios, all of them when owner is empty.
	ListScenarios(ctx context.Context, owner string) ([]*models.Scenario, error)
	// UpdateScenario overwrites the mutable fields of a scenario.
	UpdateScenario(ctx context.Context, s *models.Scenario) error
	// DeleteScenario removes a scenario with its tasks, threads and ensembles.
	DeleteScenario(ctx context.Context, id string) error

	CreateTask(ctx context.Context, t *models.Task) error
	GetTask(ctx context.Context, id string) (*models.Task, error)
	ListTasks(ctx context.Context, scenarioID string) ([]*models.Task, error)
	UpdateTask(ctx context.Context, t *models.Task) error
	DeleteTask(ctx context.Context, id string) error
}

// ThreadStore persists threads.
type ThreadStore interface {
	CreateThread(ctx context.Context, t *models.Thread) error
	GetThread(ctx context.Context, id string) (*models.Thread, error)
	ListThreads(ctx context.Context, taskID string) ([]*models.Thread, error)
	// UpdateThread overwrites a thread loaded at t.Version, failing with ErrConflict when another
	// write landed since. t.Version is bumped on success.
	UpdateThread(ctx context.Context, t *models.Thread) error
	// UpdateExecutionSummary replaces one model's summary without rewriting the rest of the
	// thread. A non-nil event is appended and recorded as the last update of section event.Notes.
	UpdateExecutionSummary(ctx context.Context, threadID, modelID string, summary models.ExecutionSummary, event *models.ThreadEvent) error
	DeleteThread(ctx context.Context, id string) error
}

// EnsembleStore persists executable ensembles.
type EnsembleStore interface {
	// ListEnsembles returns the ensembles of one model in a thread, all models when modelID is empty.
	ListEnsembles(ctx context.Context, threadID, modelID string) ([]models.ExecutableEnsemble, error)
	// GetEnsemble retrieves one ensemble.
	GetEnsemble(ctx context.Context, threadID, id string) (*models.ExecutableEnsemble, error)
	// ReplaceEnsembles upserts and removes ensembles of one model atomically.
	ReplaceEnsembles(ctx context.Context, threadID, modelID string, upserts []models.ExecutableEnsemble, removeIDs []string) error
	// UpdateEnsembleRuns writes selection and run state only.
	UpdateEnsembleRuns(ctx context.Context, threadID string, ensembles []models.ExecutableEnsemble) error
	// RecordRunStates writes polled status, progress and results of ensembles still bound to the
	// same run, and marks them polled so ListInFlightEnsembles serves them last.
	RecordRunStates(ctx context.Context, threadID string, ensembles []models.ExecutableEnsemble) error
	// DeleteEnsembles removes every ensemble of one model in a thread.
	DeleteEnsembles(ctx context.Context, threadID, modelID string) error
	// ListInFlightEnsembles returns up to limit submitted ensembles that have not finished,
	// least recently written first.
	ListInFlightEnsembles(ctx context.Context, limit int) ([]models.ExecutableEnsemble, error)
}

// Repository is the full storage surface of the service.
type Repository interface {
	ScenarioStore
	ThreadStore
	EnsembleStore
	// Ping checks connectivity.
	Ping(ctx context.Context) error
}
