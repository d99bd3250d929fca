package services

import (
	"context"
	"fmt"
	"strings"

	"mint/backend/internal/auth"
	"mint/backend/internal/logging"
	"mint/backend/internal/repository"
	"mint/backend/pkg/models"
)

// ScenarioService manages scenarios and their tasks.
type ScenarioService struct {
	store  repository.ScenarioStore
	logger *logging.Logger
}

// NewScenarioService creates a new ScenarioService.
func NewScenarioService(store repository.ScenarioStore, logger *logging.Logger) *ScenarioService {
	return &ScenarioService{store: store, logger: logger.Component("scenarios")}
}

func validateScenario(s *models.Scenario) error {
	if strings.TrimSpace(s.Name) == "" {
		return fmt.Errorf("%w: scenario name is required", ErrInvalid)
	}
	if s.RegionID == "" {
		return fmt.Errorf("%w: scenario region is required", ErrInvalid)
	}
	if !s.Dates.Valid() {
		return fmt.Errorf("%w: scenario needs a start date on or before its end date", ErrInvalid)
	}
	return nil
}

// CreateScenario validates and stores a new scenario owned by the caller.
func (s *ScenarioService) CreateScenario(ctx context.Context, sc *models.Scenario) (*models.Scenario, error) {
	if err := validateScenario(sc); err != nil {
		return nil, err
	}
	sc.ID = ""
	sc.Owner = auth.UserFromContext(ctx)
	if err := s.store.CreateScenario(ctx, sc); err != nil {
		return nil, fmt.Errorf("failed to create scenario: %w", err)
	}
	s.logger.Info("scenario created", "id", sc.ID, "owner", sc.Owner)
	return sc, nil
}

// GetScenario returns a scenario by id.
func (s *ScenarioService) GetScenario(ctx context.Context, id string) (*models.Scenario, error) {
	return s.store.GetScenario(ctx, id)
}

// ListScenarios lists scenarios, all of them when owner is empty.
func (s *ScenarioService) ListScenarios(ctx context.Context, owner string) ([]*models.Scenario, error) {
	return s.store.ListScenarios(ctx, owner)
}

// UpdateScenario overwrites the name, region and dates of a scenario.
func (s *ScenarioService) UpdateScenario(ctx context.Context, id string, in *models.Scenario) (*models.Scenario, error) {
	existing, err := s.store.GetScenario(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := checkOwner(ctx, existing.Owner); err != nil {
		return nil, err
	}
	existing.Name = in.Name
	existing.RegionID = in.RegionID
	existing.Dates = in.Dates
	if err := validateScenario(existing); err != nil {
		return nil, err
	}
	if err := s.store.UpdateScenario(ctx, existing); err != nil {
		return nil, fmt.Errorf("failed to update scenario %s: %w", id, err)
	}
	return existing, nil
}

// DeleteScenario removes a scenario and everything below it.
func (s *ScenarioService) DeleteScenario(ctx context.Context, id string) error {
	existing, err := s.store.GetScenario(ctx, id)
	if err != nil {
		return err
	}
	if err := checkOwner(ctx, existing.Owner); err != nil {
		return err
	}
	if err := s.store.DeleteScenario(ctx, id); err != nil {
		return fmt.Errorf("failed to delete scenario %s: %w", id, err)
	}
	s.logger.Info("scenario deleted", "id", id)
	return nil
}

func validateTask(t *models.Task) error {
	if strings.TrimSpace(t.Name) == "" {
		return fmt.Errorf("%w: task name is required", ErrInvalid)
	}
	if !t.Dates.Valid() {
		return fmt.Errorf("%w: task needs a start date on or before its end date", ErrInvalid)
	}
	return nil
}

// CreateTask adds a task to a scenario. A task without dates inherits the scenario's.
func (s *ScenarioService) CreateTask(ctx context.Context, scenarioID string, t *models.Task) (*models.Task, error) {
	sc, err := s.store.GetScenario(ctx, scenarioID)
	if err != nil {
		return nil, err
	}
	t.ID = ""
	t.ScenarioID = sc.ID
	if t.Dates.Start.IsZero() && t.Dates.End.IsZero() {
		t.Dates = sc.Dates
	}
	if err := validateTask(t); err != nil {
		return nil, err
	}
	t.Owner = auth.UserFromContext(ctx)
	if err := s.store.CreateTask(ctx, t); err != nil {
		return nil, fmt.Errorf("failed to create task: %w", err)
	}
	s.logger.Info("task created", "id", t.ID, "scenario_id", sc.ID)
	return t, nil
}

// GetTask returns a task by id.
func (s *ScenarioService) GetTask(ctx context.Context, id string) (*models.Task, error) {
	return s.store.GetTask(ctx, id)
}

// ListTasks lists the tasks of a scenario.
func (s *ScenarioService) ListTasks(ctx context.Context, scenarioID string) ([]*models.Task, error) {
	if _, err := s.store.GetScenario(ctx, scenarioID); err != nil {
		return nil, err
	}
	return s.store.ListTasks(ctx, scenarioID)
}

// UpdateTask overwrites the mutable fields of a task.
func (s *ScenarioService) UpdateTask(ctx context.Context, id string, in *models.Task) (*models.Task, error) {
	existing, err := s.store.GetTask(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := checkOwner(ctx, existing.Owner); err != nil {
		return nil, err
	}
	existing.Name = in.Name
	existing.IndicatorID = in.IndicatorID
	existing.InterventionID = in.InterventionID
	existing.Dates = in.Dates
	existing.ResponseVariables = in.ResponseVariables
	existing.DrivingVariables = in.DrivingVariables
	if err := validateTask(existing); err != nil {
		return nil, err
	}
	if err := s.store.UpdateTask(ctx, existing); err != nil {
		return nil, fmt.Errorf("failed to update task %s: %w", id, err)
	}
	return existing, nil
}

// DeleteTask removes a task with its threads.
func (s *ScenarioService) DeleteTask(ctx context.Context, id string) error {
	existing, err := s.store.GetTask(ctx, id)
	if err != nil {
		return err
	}
	if err := checkOwner(ctx, existing.Owner); err != nil {
		return err
	}
	if err := s.store.DeleteTask(ctx, id); err != nil {
		return fmt.Errorf("failed to delete task %s: %w", id, err)
	}
	return nil
}
