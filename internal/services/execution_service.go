package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"mint/backend/internal/auth"
	"mint/backend/internal/execution"
	"mint/backend/internal/logging"
	"mint/backend/internal/observability"
	"mint/backend/internal/repository"
	"mint/backend/pkg/models"
)

// RunReport summarizes one RunThread call.
type RunReport struct {
	ModelID   string                  `json:"model_id"`
	Submitted int                     `json:"submitted"`
	Summary   models.ExecutionSummary `json:"summary"`
}

// ModelResults is the run state of one model's ensembles in a thread.
type ModelResults struct {
	ModelID   string                      `json:"model_id"`
	Summary   models.ExecutionSummary     `json:"summary"`
	Ensembles []models.ExecutableEnsemble `json:"ensembles"`
}

// ExecutionConfig tunes submission fan-out.
type ExecutionConfig struct {
	BatchSize        int
	Concurrency      int
	VisualizationURL string
}

// ExecutionService submits ensembles and reports their results.
type ExecutionService struct {
	repo    repository.Repository
	runner  Runner
	config  ExecutionConfig
	metrics *observability.Metrics
	logger  *logging.Logger
	now     func() time.Time
}

// NewExecutionService creates a new ExecutionService.
func NewExecutionService(repo repository.Repository, runner Runner, cfg ExecutionConfig,
	metrics *observability.Metrics, logger *logging.Logger) *ExecutionService {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if metrics == nil {
		metrics = observability.Noop()
	}
	return &ExecutionService{
		repo:    repo,
		runner:  runner,
		config:  cfg,
		metrics: metrics,
		logger:  logger.Component("execution"),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// pending picks the ensembles to submit: the selected ones, or all when none is selected,
// that were never run or whose last run failed.
func pending(all []models.ExecutableEnsemble) []models.ExecutableEnsemble {
	candidates := make([]models.ExecutableEnsemble, 0, len(all))
	for _, e := range all {
		if e.Selected {
			candidates = append(candidates, e)
		}
	}
	if len(candidates) == 0 {
		candidates = all
	}
	out := make([]models.ExecutableEnsemble, 0, len(candidates))
	for _, e := range candidates {
		if e.Runnable() {
			out = append(out, e)
		}
	}
	return out
}

// RunThread submits the pending ensembles of one model. Batches that were accepted by the
// ensemble manager are recorded even when a later batch fails.
func (s *ExecutionService) RunThread(ctx context.Context, threadID, modelID string) (*RunReport, error) {
	t, err := s.repo.GetThread(ctx, threadID)
	if err != nil {
		return nil, err
	}
	if err := checkOwner(ctx, t.Owner); err != nil {
		return nil, err
	}
	if _, err := threadModel(t, modelID); err != nil {
		return nil, err
	}

	all, err := s.repo.ListEnsembles(ctx, threadID, modelID)
	if err != nil {
		return nil, fmt.Errorf("failed to list ensembles of %s: %w", modelID, err)
	}
	todo := pending(all)
	if len(todo) == 0 {
		return nil, fmt.Errorf("%w: %s has no ensembles to submit", ErrNotReady, modelID)
	}

	var (
		mu     sync.Mutex
		runIDs = make(map[string]string, len(todo))
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.config.Concurrency)
	for start := 0; start < len(todo); start += s.config.BatchSize {
		batch := todo[start:min(start+s.config.BatchSize, len(todo))]
		g.Go(func() error {
			refs, err := s.runner.Submit(gctx, execution.SubmitRequest{
				ThreadID:  threadID,
				ModelID:   modelID,
				Ensembles: batch,
			})
			if err != nil {
				return err
			}
			mu.Lock()
			defer mu.Unlock()
			for _, r := range refs {
				runIDs[r.EnsembleID] = r.RunID
			}
			return nil
		})
	}
	submitErr := g.Wait()

	now := s.now()
	submitted := make([]models.ExecutableEnsemble, 0, len(runIDs))
	for _, e := range todo {
		runID, ok := runIDs[e.ID]
		if !ok || runID == "" {
			continue
		}
		e.RunID = runID
		e.Status = models.RunStatusWaiting
		e.RunProgress = 0
		e.Results = nil
		e.SubmittedAt = &now
		submitted = append(submitted, e)
	}
	if err := s.repo.UpdateEnsembleRuns(ctx, threadID, submitted); err != nil {
		return nil, fmt.Errorf("failed to record runs of %s: %w", modelID, err)
	}
	s.metrics.RunsSubmitted(ctx, modelID, len(submitted))

	summary, err := s.refreshSummary(ctx, t, modelID)
	if err != nil {
		return nil, err
	}
	s.logger.Info("runs submitted", "thread_id", threadID, "model_id", modelID,
		"submitted", len(submitted), "pending", len(todo))

	if submitErr != nil {
		return nil, fmt.Errorf("submitted %d of %d ensembles of %s: %w", len(submitted), len(todo), modelID, submitErr)
	}
	return &RunReport{ModelID: modelID, Submitted: len(submitted), Summary: summary}, nil
}

// refreshSummary recomputes one model's summary and writes it with a runs event, leaving the
// rest of the thread to concurrent edits.
func (s *ExecutionService) refreshSummary(ctx context.Context, t *models.Thread, modelID string) (models.ExecutionSummary, error) {
	all, err := s.repo.ListEnsembles(ctx, t.ID, modelID)
	if err != nil {
		return models.ExecutionSummary{}, err
	}
	now := s.now()
	summary := models.Summarize(all, now)
	event := &models.ThreadEvent{
		Event:     models.EventRun,
		User:      auth.UserFromContext(ctx),
		Timestamp: now,
		Notes:     models.SectionRuns,
	}
	if err := s.repo.UpdateExecutionSummary(ctx, t.ID, modelID, summary, event); err != nil {
		return summary, fmt.Errorf("failed to update thread %s: %w", t.ID, err)
	}
	return summary, nil
}

// Results returns the run state of a model's ensembles with its summary.
func (s *ExecutionService) Results(ctx context.Context, threadID, modelID string) (*ModelResults, error) {
	t, err := s.repo.GetThread(ctx, threadID)
	if err != nil {
		return nil, err
	}
	if _, err := threadModel(t, modelID); err != nil {
		return nil, err
	}
	all, err := s.repo.ListEnsembles(ctx, threadID, modelID)
	if err != nil {
		return nil, err
	}
	return &ModelResults{
		ModelID:   modelID,
		Summary:   models.Summarize(all, s.now()),
		Ensembles: all,
	}, nil
}

// Logs returns the execution log of a submitted ensemble.
func (s *ExecutionService) Logs(ctx context.Context, threadID, ensembleID string) (string, error) {
	e, err := s.repo.GetEnsemble(ctx, threadID, ensembleID)
	if err != nil {
		return "", err
	}
	if e.RunID == "" {
		return "", fmt.Errorf("%w: ensemble %s was never submitted", ErrNotReady, ensembleID)
	}
	return s.runner.Logs(ctx, ensembleID)
}

// VisualizationURL links the visualization UI to a thread.
func (s *ExecutionService) VisualizationURL(ctx context.Context, threadID string) (string, error) {
	t, err := s.repo.GetThread(ctx, threadID)
	if err != nil {
		return "", err
	}
	task, err := s.repo.GetTask(ctx, t.TaskID)
	if err != nil {
		return "", err
	}
	u, err := execution.VisualizationURL(s.config.VisualizationURL, t, task.ScenarioID)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrNotReady, err)
	}
	return u, nil
}
