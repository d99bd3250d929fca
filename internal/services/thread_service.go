package services

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"mint/backend/internal/auth"
	"mint/backend/internal/ensemble"
	"mint/backend/internal/logging"
	"mint/backend/internal/observability"
	"mint/backend/internal/repository"
	"mint/backend/pkg/models"
)

// datasetSearchLimit caps a data catalog search for one input.
const datasetSearchLimit = 100

// Sweep is a numeric range bound to a parameter.
type Sweep struct {
	From float64 `json:"from"`
	To   float64 `json:"to"`
	Step float64 `json:"step"`
}

// ParameterBinding is either an explicit list of values or a sweep.
type ParameterBinding struct {
	Values []string `json:"values,omitempty"`
	Sweep  *Sweep   `json:"sweep,omitempty"`
}

// Generation reports the outcome of regenerating one model's ensemble set.
type Generation struct {
	ModelID string `json:"model_id"`
	Total   int    `json:"total"`
	Added   int    `json:"added"`
	Kept    int    `json:"kept"`
	Removed int    `json:"removed"`
}

// ThreadService implements the per-thread workflow: variables, models, datasets,
// parameters and the ensemble set derived from them.
type ThreadService struct {
	repo        repository.Repository
	models      ModelCatalog
	data        DataCatalog
	maxPerModel int
	metrics     *observability.Metrics
	logger      *logging.Logger
	now         func() time.Time
}

// NewThreadService creates a new ThreadService. maxPerModel <= 0 disables the ensemble limit.
func NewThreadService(repo repository.Repository, modelCatalog ModelCatalog, dataCatalog DataCatalog,
	maxPerModel int, metrics *observability.Metrics, logger *logging.Logger) *ThreadService {
	if metrics == nil {
		metrics = observability.Noop()
	}
	return &ThreadService{
		repo:        repo,
		models:      modelCatalog,
		data:        dataCatalog,
		maxPerModel: maxPerModel,
		metrics:     metrics,
		logger:      logger.Component("threads"),
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// CreateThread adds a thread to a task. It inherits the task's dates and variables.
func (s *ThreadService) CreateThread(ctx context.Context, taskID, name string) (*models.Thread, error) {
	if strings.TrimSpace(name) == "" {
		return nil, fmt.Errorf("%w: thread name is required", ErrInvalid)
	}
	task, err := s.repo.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	user := auth.UserFromContext(ctx)
	t := &models.Thread{
		TaskID:            task.ID,
		Name:              name,
		Dates:             task.Dates,
		DrivingVariables:  slices.Clone(task.DrivingVariables),
		ResponseVariables: slices.Clone(task.ResponseVariables),
		Models:            map[string]models.Model{},
		Datasets:          map[string]models.Dataset{},
		ModelEnsembles:    map[string]models.ModelBindings{},
		ExecutionSummary:  map[string]models.ExecutionSummary{},
		Notes:             map[string]string{},
		Owner:             user,
	}
	t.Touch(models.SectionVariables, models.EventCreate, user, s.now())
	if err := s.repo.CreateThread(ctx, t); err != nil {
		return nil, fmt.Errorf("failed to create thread: %w", err)
	}
	s.logger.Info("thread created", "id", t.ID, "task_id", task.ID)
	return t, nil
}

// GetThread returns a thread by id.
func (s *ThreadService) GetThread(ctx context.Context, id string) (*models.Thread, error) {
	return s.repo.GetThread(ctx, id)
}

// ListThreads lists the threads of a task.
func (s *ThreadService) ListThreads(ctx context.Context, taskID string) ([]*models.Thread, error) {
	if _, err := s.repo.GetTask(ctx, taskID); err != nil {
		return nil, err
	}
	return s.repo.ListThreads(ctx, taskID)
}

// DeleteThread removes a thread with its ensembles.
func (s *ThreadService) DeleteThread(ctx context.Context, id string) error {
	t, err := s.repo.GetThread(ctx, id)
	if err != nil {
		return err
	}
	if err := checkOwner(ctx, t.Owner); err != nil {
		return err
	}
	return s.repo.DeleteThread(ctx, id)
}

// mutateRetries bounds how often mutate reloads a thread whose write lost a race.
const mutateRetries = 3

// mutate loads a thread, applies fn, records the change to section and saves the thread. A save
// that collides with a concurrent write is retried against a fresh copy, so fn may run more
// than once.
func (s *ThreadService) mutate(ctx context.Context, id, section, event string, fn func(*models.Thread) error) (*models.Thread, error) {
	var saved *models.Thread
	attempt := func() error {
		t, err := s.repo.GetThread(ctx, id)
		if err != nil {
			return backoff.Permanent(err)
		}
		if err := checkOwner(ctx, t.Owner); err != nil {
			return backoff.Permanent(err)
		}
		if err := fn(t); err != nil {
			return backoff.Permanent(err)
		}
		t.Touch(section, event, auth.UserFromContext(ctx), s.now())
		if err := s.repo.UpdateThread(ctx, t); err != nil {
			err = fmt.Errorf("failed to update thread %s: %w", id, err)
			if errors.Is(err, repository.ErrConflict) {
				return err
			}
			return backoff.Permanent(err)
		}
		saved = t
		return nil
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(&backoff.ZeroBackOff{}, mutateRetries), ctx)
	notify := func(err error, _ time.Duration) {
		s.logger.Debug("thread changed during update, retrying", "thread_id", id, "error", err)
	}
	if err := backoff.RetryNotify(attempt, policy, notify); err != nil {
		return nil, err
	}
	return saved, nil
}

// SetVariables replaces the thread's driving and response variables.
func (s *ThreadService) SetVariables(ctx context.Context, id string, driving, response []string) (*models.Thread, error) {
	return s.mutate(ctx, id, models.SectionVariables, models.EventUpdate, func(t *models.Thread) error {
		if len(response) == 0 {
			return fmt.Errorf("%w: at least one response variable is required", ErrInvalid)
		}
		t.DrivingVariables = dedupe(driving)
		t.ResponseVariables = dedupe(response)
		return nil
	})
}

// SearchModels queries the model catalog by the thread's response variables.
func (s *ThreadService) SearchModels(ctx context.Context, id string) ([]models.Model, error) {
	t, err := s.repo.GetThread(ctx, id)
	if err != nil {
		return nil, err
	}
	if len(t.ResponseVariables) == 0 {
		return nil, fmt.Errorf("%w: thread %s has no response variables", ErrInvalid, id)
	}
	return s.models.SearchModels(ctx, t.ResponseVariables)
}

// SelectModels sets the thread's models to modelIDs. New models are snapshotted from the
// catalog with their parameter defaults bound; deselected models lose their bindings,
// summaries and ensembles.
func (s *ThreadService) SelectModels(ctx context.Context, id string, modelIDs []string) (*models.Thread, error) {
	return s.mutate(ctx, id, models.SectionModels, models.EventSelect, func(t *models.Thread) error {
		wanted := dedupe(modelIDs)
		if t.Models == nil {
			t.Models = map[string]models.Model{}
		}
		if t.ModelEnsembles == nil {
			t.ModelEnsembles = map[string]models.ModelBindings{}
		}
		if t.ExecutionSummary == nil {
			t.ExecutionSummary = map[string]models.ExecutionSummary{}
		}

		var added []string
		for _, modelID := range wanted {
			if _, ok := t.Models[modelID]; ok {
				continue
			}
			m, err := s.models.GetModel(ctx, modelID)
			if err != nil {
				return fmt.Errorf("failed to fetch model %s: %w", modelID, err)
			}
			t.Models[modelID] = *m
			bindings := models.ModelBindings{}
			for _, p := range m.InputParameters {
				if p.Default != "" {
					bindings[p.ID] = []string{p.Default}
				}
			}
			t.ModelEnsembles[modelID] = bindings
			added = append(added, modelID)
		}

		for modelID := range t.Models {
			if slices.Contains(wanted, modelID) {
				continue
			}
			if err := s.repo.DeleteEnsembles(ctx, t.ID, modelID); err != nil {
				return fmt.Errorf("failed to delete ensembles of %s: %w", modelID, err)
			}
			delete(t.Models, modelID)
			delete(t.ModelEnsembles, modelID)
			delete(t.ExecutionSummary, modelID)
			s.logger.Debug("model deselected", "thread_id", t.ID, "model_id", modelID)
		}
		pruneDatasets(t)

		for _, modelID := range added {
			if _, err := s.regenerate(ctx, t, modelID); err != nil {
				return err
			}
		}
		return nil
	})
}

// pruneDatasets drops dataset snapshots no longer bound to any model input.
func pruneDatasets(t *models.Thread) {
	used := map[string]bool{}
	for modelID, bindings := range t.ModelEnsembles {
		m := t.Models[modelID]
		for _, f := range m.InputFiles {
			for _, v := range bindings[f.ID] {
				used[v] = true
			}
		}
	}
	for id := range t.Datasets {
		if !used[id] {
			delete(t.Datasets, id)
		}
	}
}

func threadModel(t *models.Thread, modelID string) (models.Model, error) {
	m, ok := t.Models[modelID]
	if !ok {
		return models.Model{}, fmt.Errorf("model %s in thread %s: %w", modelID, t.ID, repository.ErrNotFound)
	}
	return m, nil
}

// datasetQuery builds the catalog filter for one file input of a thread.
func (s *ThreadService) datasetQuery(ctx context.Context, t *models.Thread, input models.ModelIO) (models.DatasetQuery, error) {
	q := models.DatasetQuery{
		Variables: input.Variables,
		Start:     t.Dates.Start.Time,
		End:       t.Dates.End.Time,
		Limit:     datasetSearchLimit,
	}
	task, err := s.repo.GetTask(ctx, t.TaskID)
	if err != nil {
		return q, err
	}
	sc, err := s.repo.GetScenario(ctx, task.ScenarioID)
	if err != nil {
		return q, err
	}
	q.RegionID = sc.RegionID
	return q, nil
}

// SearchDatasets queries the data catalog for datasets matching a model file input, the
// scenario region and the thread's dates.
func (s *ThreadService) SearchDatasets(ctx context.Context, id, modelID, inputID string) ([]models.Dataset, error) {
	t, err := s.repo.GetThread(ctx, id)
	if err != nil {
		return nil, err
	}
	m, err := threadModel(t, modelID)
	if err != nil {
		return nil, err
	}
	input, ok := m.InputFile(inputID)
	if !ok {
		return nil, fmt.Errorf("%w: %s is not a file input of %s", ErrInvalid, inputID, modelID)
	}
	q, err := s.datasetQuery(ctx, t, input)
	if err != nil {
		return nil, err
	}
	return s.data.FindDatasets(ctx, q)
}

// BindDatasets binds datasets to a model file input and regenerates the model's ensembles.
// Datasets without resources get them from the data catalog before they are snapshotted.
func (s *ThreadService) BindDatasets(ctx context.Context, id, modelID, inputID string, datasets []models.Dataset) (*models.Thread, error) {
	return s.mutate(ctx, id, models.SectionDatasets, models.EventUpdate, func(t *models.Thread) error {
		m, err := threadModel(t, modelID)
		if err != nil {
			return err
		}
		input, ok := m.InputFile(inputID)
		if !ok {
			return fmt.Errorf("%w: %s is not a file input of %s", ErrInvalid, inputID, modelID)
		}
		if t.Datasets == nil {
			t.Datasets = map[string]models.Dataset{}
		}

		var q *models.DatasetQuery
		ids := make([]string, 0, len(datasets))
		for _, ds := range datasets {
			if ds.ID == "" {
				return fmt.Errorf("%w: dataset id is required", ErrInvalid)
			}
			if prev, ok := t.Datasets[ds.ID]; ok && len(ds.Resources) == 0 {
				ds = prev
			}
			if len(ds.Resources) == 0 {
				if q == nil {
					built, err := s.datasetQuery(ctx, t, input)
					if err != nil {
						return err
					}
					q = &built
				}
				resources, err := s.data.DatasetResources(ctx, ds.ID, *q)
				if err != nil {
					return fmt.Errorf("failed to fetch resources of dataset %s: %w", ds.ID, err)
				}
				ds.Resources = resources
			}
			t.Datasets[ds.ID] = ds
			ids = append(ids, ds.ID)
		}

		bind(t, modelID, inputID, dedupe(ids))
		pruneDatasets(t)
		_, err = s.regenerate(ctx, t, modelID)
		return err
	})
}

// BindParameter binds explicit values or a sweep to a model parameter and regenerates the
// model's ensembles. A fixed parameter only accepts its default.
func (s *ThreadService) BindParameter(ctx context.Context, id, modelID, paramID string, b ParameterBinding) (*models.Thread, error) {
	return s.mutate(ctx, id, models.SectionParameters, models.EventUpdate, func(t *models.Thread) error {
		m, err := threadModel(t, modelID)
		if err != nil {
			return err
		}
		param, ok := m.Parameter(paramID)
		if !ok {
			return fmt.Errorf("%w: %s is not a parameter of %s", ErrInvalid, paramID, modelID)
		}

		values, err := parameterValues(param, b)
		if err != nil {
			return err
		}
		if !param.Adjustable && param.Default != "" && !slices.Equal(values, []string{param.Default}) {
			return fmt.Errorf("%w: parameter %s is not adjustable", ErrInvalid, paramID)
		}

		bind(t, modelID, paramID, values)
		_, err = s.regenerate(ctx, t, modelID)
		return err
	})
}

func parameterValues(param models.ModelParameter, b ParameterBinding) ([]string, error) {
	if b.Sweep != nil {
		if len(b.Values) > 0 {
			return nil, fmt.Errorf("%w: give either values or a sweep, not both", ErrInvalid)
		}
		values, err := ensemble.SweepValues(param, b.Sweep.From, b.Sweep.To, b.Sweep.Step)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalid, err)
		}
		return values, nil
	}
	for _, v := range b.Values {
		if err := ensemble.ValidateValue(param, v); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalid, err)
		}
	}
	return dedupe(b.Values), nil
}

func bind(t *models.Thread, modelID, inputID string, values []string) {
	if t.ModelEnsembles == nil {
		t.ModelEnsembles = map[string]models.ModelBindings{}
	}
	bindings := t.ModelEnsembles[modelID]
	if bindings == nil {
		bindings = models.ModelBindings{}
		t.ModelEnsembles[modelID] = bindings
	}
	bindings[inputID] = values
}

var noteSections = []string{
	models.SectionVariables,
	models.SectionModels,
	models.SectionDatasets,
	models.SectionParameters,
	models.SectionRuns,
	models.SectionResults,
}

// SetNotes stores the user's notes for one workflow section.
func (s *ThreadService) SetNotes(ctx context.Context, id, section, text string) (*models.Thread, error) {
	if !slices.Contains(noteSections, section) {
		return nil, fmt.Errorf("%w: unknown section %q", ErrInvalid, section)
	}
	return s.mutate(ctx, id, section, models.EventUpdate, func(t *models.Thread) error {
		if t.Notes == nil {
			t.Notes = map[string]string{}
		}
		t.Notes[section] = text
		return nil
	})
}

// GenerateEnsembles rebuilds the ensemble set of one model from the thread's bindings.
func (s *ThreadService) GenerateEnsembles(ctx context.Context, id, modelID string) (*Generation, error) {
	var gen *Generation
	_, err := s.mutate(ctx, id, models.SectionRuns, models.EventUpdate, func(t *models.Thread) error {
		g, err := s.regenerate(ctx, t, modelID)
		gen = g
		return err
	})
	if err != nil {
		return nil, err
	}
	return gen, nil
}

// regenerate expands the bindings of modelID, writes the delta against the stored set and
// refreshes the model's summary on t. The caller saves t.
func (s *ThreadService) regenerate(ctx context.Context, t *models.Thread, modelID string) (*Generation, error) {
	if _, err := threadModel(t, modelID); err != nil {
		return nil, err
	}
	inputs := t.Inputs(modelID)
	if n := ensemble.Count(inputs); s.maxPerModel > 0 && n > s.maxPerModel {
		return nil, fmt.Errorf("%w: %s would expand to %d ensembles, limit is %d",
			ErrTooManyEnsembles, modelID, n, s.maxPerModel)
	}

	previous, err := s.repo.ListEnsembles(ctx, t.ID, modelID)
	if err != nil {
		return nil, fmt.Errorf("failed to list ensembles of %s: %w", modelID, err)
	}
	next := ensemble.Regenerate(modelID, inputs, previous)
	for i := range next {
		next[i].ThreadID = t.ID
	}
	delta := ensemble.Diff(previous, next)
	if len(delta.Added) > 0 || len(delta.Removed) > 0 {
		if err := s.repo.ReplaceEnsembles(ctx, t.ID, modelID, delta.Added, delta.Removed); err != nil {
			return nil, fmt.Errorf("failed to store ensembles of %s: %w", modelID, err)
		}
	}

	if t.ExecutionSummary == nil {
		t.ExecutionSummary = map[string]models.ExecutionSummary{}
	}
	t.ExecutionSummary[modelID] = models.Summarize(next, s.now())
	s.metrics.EnsemblesGenerated(ctx, modelID, len(delta.Added), len(next))
	s.logger.Debug("ensembles regenerated", "thread_id", t.ID, "model_id", modelID,
		"total", len(next), "added", len(delta.Added), "removed", len(delta.Removed))

	return &Generation{
		ModelID: modelID,
		Total:   len(next),
		Added:   len(delta.Added),
		Kept:    len(delta.Kept),
		Removed: len(delta.Removed),
	}, nil
}

// ListEnsembles returns the ensembles of one model in a thread.
func (s *ThreadService) ListEnsembles(ctx context.Context, id, modelID string) ([]models.ExecutableEnsemble, error) {
	t, err := s.repo.GetThread(ctx, id)
	if err != nil {
		return nil, err
	}
	if _, err := threadModel(t, modelID); err != nil {
		return nil, err
	}
	return s.repo.ListEnsembles(ctx, id, modelID)
}

// SelectEnsembles marks ensembles of a model as selected or not for the next run.
func (s *ThreadService) SelectEnsembles(ctx context.Context, id, modelID string, ensembleIDs []string, selected bool) ([]models.ExecutableEnsemble, error) {
	var out []models.ExecutableEnsemble
	_, err := s.mutate(ctx, id, models.SectionRuns, models.EventSelect, func(t *models.Thread) error {
		if _, err := threadModel(t, modelID); err != nil {
			return err
		}
		all, err := s.repo.ListEnsembles(ctx, id, modelID)
		if err != nil {
			return err
		}
		byID := make(map[string]int, len(all))
		for i, e := range all {
			byID[e.ID] = i
		}
		var changed []models.ExecutableEnsemble
		for _, eid := range ensembleIDs {
			i, ok := byID[eid]
			if !ok {
				return fmt.Errorf("ensemble %s of %s: %w", eid, modelID, repository.ErrNotFound)
			}
			if all[i].Selected != selected {
				all[i].Selected = selected
				changed = append(changed, all[i])
			}
		}
		if err := s.repo.UpdateEnsembleRuns(ctx, id, changed); err != nil {
			return fmt.Errorf("failed to update selection: %w", err)
		}
		out = all
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// dedupe drops empty and repeated values, keeping first occurrences in order.
func dedupe(values []string) []string {
	out := make([]string, 0, len(values))
	seen := make(map[string]bool, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}

