package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"mint/backend/internal/logging"
	"mint/backend/pkg/models"
)

// MemoryStore is an in-process Repository for development and tests. Records are copied
// through JSON on the way in and out, so callers never share state with the store.
type MemoryStore struct {
	mu        sync.RWMutex
	scenarios map[string]models.Scenario
	tasks     map[string]models.Task
	threads   map[string]models.Thread
	ensembles map[string]map[string]models.ExecutableEnsemble // thread id -> ensemble id
	logger    *logging.Logger
	now       func() time.Time
}

var _ Repository = (*MemoryStore)(nil)

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore(logger *logging.Logger) *MemoryStore {
	return &MemoryStore{
		scenarios: map[string]models.Scenario{},
		tasks:     map[string]models.Task{},
		threads:   map[string]models.Thread{},
		ensembles: map[string]map[string]models.ExecutableEnsemble{},
		logger:    logger.Component("store"),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func deepCopy[T any](v T) T {
	var out T
	b, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("memory store: %v", err))
	}
	if err := json.Unmarshal(b, &out); err != nil {
		panic(fmt.Sprintf("memory store: %v", err))
	}
	return out
}

// Ping always succeeds.
func (s *MemoryStore) Ping(context.Context) error { return nil }

// --- Scenarios ---

func (s *MemoryStore) CreateScenario(_ context.Context, sc *models.Scenario) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sc.ID == "" {
		sc.ID = uuid.New().String()
	}
	if _, ok := s.scenarios[sc.ID]; ok {
		return fmt.Errorf("%w: scenario %s", ErrConflict, sc.ID)
	}
	now := s.now()
	sc.CreatedAt, sc.UpdatedAt = now, now
	s.scenarios[sc.ID] = deepCopy(*sc)
	return nil
}

func (s *MemoryStore) GetScenario(_ context.Context, id string) (*models.Scenario, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sc, ok := s.scenarios[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := deepCopy(sc)
	return &out, nil
}

func (s *MemoryStore) ListScenarios(_ context.Context, owner string) ([]*models.Scenario, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []*models.Scenario{}
	for _, sc := range s.scenarios {
		if owner == "" || sc.Owner == owner {
			c := deepCopy(sc)
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return byCreation(out[i].CreatedAt, out[i].ID, out[j].CreatedAt, out[j].ID) })
	return out, nil
}

func (s *MemoryStore) UpdateScenario(_ context.Context, sc *models.Scenario) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.scenarios[sc.ID]
	if !ok {
		return ErrNotFound
	}
	sc.UpdatedAt = s.now()
	cur.Name, cur.RegionID, cur.Dates, cur.UpdatedAt = sc.Name, sc.RegionID, sc.Dates, sc.UpdatedAt
	s.scenarios[sc.ID] = deepCopy(cur)
	return nil
}

func (s *MemoryStore) DeleteScenario(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.scenarios[id]; !ok {
		return ErrNotFound
	}
	delete(s.scenarios, id)
	for taskID, t := range s.tasks {
		if t.ScenarioID == id {
			s.deleteTask(taskID)
		}
	}
	return nil
}

// --- Tasks ---

func (s *MemoryStore) CreateTask(_ context.Context, t *models.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.scenarios[t.ScenarioID]; !ok {
		return fmt.Errorf("%w: scenario %s", ErrInvalidReference, t.ScenarioID)
	}
	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	if _, ok := s.tasks[t.ID]; ok {
		return fmt.Errorf("%w: task %s", ErrConflict, t.ID)
	}
	now := s.now()
	t.CreatedAt, t.UpdatedAt = now, now
	s.tasks[t.ID] = deepCopy(*t)
	return nil
}

func (s *MemoryStore) GetTask(_ context.Context, id string) (*models.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tasks[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := deepCopy(t)
	return &out, nil
}

func (s *MemoryStore) ListTasks(_ context.Context, scenarioID string) ([]*models.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []*models.Task{}
	for _, t := range s.tasks {
		if t.ScenarioID == scenarioID {
			c := deepCopy(t)
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return byCreation(out[i].CreatedAt, out[i].ID, out[j].CreatedAt, out[j].ID) })
	return out, nil
}

func (s *MemoryStore) UpdateTask(_ context.Context, t *models.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.tasks[t.ID]
	if !ok {
		return ErrNotFound
	}
	t.UpdatedAt = s.now()
	cur.Name, cur.IndicatorID, cur.InterventionID = t.Name, t.IndicatorID, t.InterventionID
	cur.Dates, cur.ResponseVariables, cur.DrivingVariables = t.Dates, t.ResponseVariables, t.DrivingVariables
	cur.UpdatedAt = t.UpdatedAt
	s.tasks[t.ID] = deepCopy(cur)
	return nil
}

func (s *MemoryStore) DeleteTask(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tasks[id]; !ok {
		return ErrNotFound
	}
	s.deleteTask(id)
	return nil
}

// deleteTask cascades to threads and ensembles. Callers hold the write lock.
func (s *MemoryStore) deleteTask(id string) {
	delete(s.tasks, id)
	for threadID, th := range s.threads {
		if th.TaskID == id {
			delete(s.threads, threadID)
			delete(s.ensembles, threadID)
		}
	}
}

// --- Threads ---

func (s *MemoryStore) CreateThread(_ context.Context, t *models.Thread) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tasks[t.TaskID]; !ok {
		return fmt.Errorf("%w: task %s", ErrInvalidReference, t.TaskID)
	}
	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	if _, ok := s.threads[t.ID]; ok {
		return fmt.Errorf("%w: thread %s", ErrConflict, t.ID)
	}
	now := s.now()
	t.CreatedAt, t.UpdatedAt = now, now
	s.threads[t.ID] = deepCopy(*t)
	return nil
}

func (s *MemoryStore) GetThread(_ context.Context, id string) (*models.Thread, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.threads[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := deepCopy(t)
	return &out, nil
}

func (s *MemoryStore) ListThreads(_ context.Context, taskID string) ([]*models.Thread, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []*models.Thread{}
	for _, t := range s.threads {
		if t.TaskID == taskID {
			c := deepCopy(t)
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return byCreation(out[i].CreatedAt, out[i].ID, out[j].CreatedAt, out[j].ID) })
	return out, nil
}

func (s *MemoryStore) UpdateThread(_ context.Context, t *models.Thread) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.threads[t.ID]
	if !ok {
		return ErrNotFound
	}
	if cur.Version != t.Version {
		return fmt.Errorf("%w: thread %s was modified concurrently", ErrConflict, t.ID)
	}
	if t.UpdatedAt.IsZero() {
		t.UpdatedAt = s.now()
	}
	t.Version++
	next := deepCopy(*t)
	next.TaskID, next.Owner, next.CreatedAt = cur.TaskID, cur.Owner, cur.CreatedAt
	s.threads[t.ID] = next
	return nil
}

func (s *MemoryStore) UpdateExecutionSummary(_ context.Context, threadID, modelID string, summary models.ExecutionSummary, event *models.ThreadEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.threads[threadID]
	if !ok {
		return ErrNotFound
	}
	if cur.ExecutionSummary == nil {
		cur.ExecutionSummary = map[string]models.ExecutionSummary{}
	}
	cur.ExecutionSummary[modelID] = summary
	if event != nil {
		if cur.LastUpdate == nil {
			cur.LastUpdate = map[string]models.UpdateInfo{}
		}
		cur.LastUpdate[event.Notes] = models.UpdateInfo{Time: event.Timestamp, User: event.User}
		cur.Events = append(cur.Events, *event)
	}
	cur.UpdatedAt = s.now()
	cur.Version++
	s.threads[threadID] = deepCopy(cur)
	return nil
}

func (s *MemoryStore) DeleteThread(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.threads[id]; !ok {
		return ErrNotFound
	}
	delete(s.threads, id)
	delete(s.ensembles, id)
	return nil
}

// --- Ensembles ---

func (s *MemoryStore) collect(threadID, modelID string) []models.ExecutableEnsemble {
	out := []models.ExecutableEnsemble{}
	for _, e := range s.ensembles[threadID] {
		if modelID == "" || e.ModelID == modelID {
			out = append(out, deepCopy(e))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ModelID != out[j].ModelID {
			return out[i].ModelID < out[j].ModelID
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (s *MemoryStore) ListEnsembles(_ context.Context, threadID, modelID string) ([]models.ExecutableEnsemble, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.collect(threadID, modelID), nil
}

func (s *MemoryStore) GetEnsemble(_ context.Context, threadID, id string) (*models.ExecutableEnsemble, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.ensembles[threadID][id]
	if !ok {
		return nil, ErrNotFound
	}
	out := deepCopy(e)
	return &out, nil
}

func (s *MemoryStore) ReplaceEnsembles(_ context.Context, threadID, modelID string, upserts []models.ExecutableEnsemble, removeIDs []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.threads[threadID]; !ok {
		return fmt.Errorf("%w: thread %s", ErrInvalidReference, threadID)
	}
	set := s.ensembles[threadID]
	if set == nil {
		set = map[string]models.ExecutableEnsemble{}
		s.ensembles[threadID] = set
	}
	for _, id := range removeIDs {
		if e, ok := set[id]; ok && e.ModelID == modelID {
			delete(set, id)
		}
	}
	now := s.now()
	for _, e := range upserts {
		e.ThreadID, e.ModelID = threadID, modelID
		if e.UpdatedAt.IsZero() {
			e.UpdatedAt = now
		}
		set[e.ID] = deepCopy(e)
	}
	s.logger.Debug("ensembles replaced", "thread_id", threadID, "model_id", modelID,
		"upserted", len(upserts), "removed", len(removeIDs))
	return nil
}

func (s *MemoryStore) UpdateEnsembleRuns(_ context.Context, threadID string, ensembles []models.ExecutableEnsemble) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	for _, e := range ensembles {
		cur, ok := s.ensembles[threadID][e.ID]
		if !ok {
			continue
		}
		cur.Selected, cur.RunID, cur.Status = e.Selected, e.RunID, e.Status
		cur.RunProgress, cur.Results, cur.SubmittedAt = e.RunProgress, e.Results, e.SubmittedAt
		cur.UpdatedAt = now
		s.ensembles[threadID][e.ID] = deepCopy(cur)
	}
	return nil
}

func (s *MemoryStore) RecordRunStates(_ context.Context, threadID string, ensembles []models.ExecutableEnsemble) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	for _, e := range ensembles {
		cur, ok := s.ensembles[threadID][e.ID]
		if !ok || cur.RunID != e.RunID {
			continue
		}
		cur.Status, cur.RunProgress, cur.Results = e.Status, e.RunProgress, e.Results
		cur.UpdatedAt = now
		s.ensembles[threadID][e.ID] = deepCopy(cur)
	}
	return nil
}

func (s *MemoryStore) DeleteEnsembles(_ context.Context, threadID, modelID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, e := range s.ensembles[threadID] {
		if e.ModelID == modelID {
			delete(s.ensembles[threadID], id)
		}
	}
	return nil
}

func (s *MemoryStore) ListInFlightEnsembles(_ context.Context, limit int) ([]models.ExecutableEnsemble, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []models.ExecutableEnsemble{}
	for _, set := range s.ensembles {
		for _, e := range set {
			if e.RunID != "" && e.Status.InFlight() {
				out = append(out, deepCopy(e))
			}
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].UpdatedAt.Before(out[j].UpdatedAt)
		}
		if out[i].ThreadID != out[j].ThreadID {
			return out[i].ThreadID < out[j].ThreadID
		}
		return out[i].ID < out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func byCreation(ti time.Time, idi string, tj time.Time, idj string) bool {
	if !ti.Equal(tj) {
		return ti.Before(tj)
	}
	return idi < idj
}
