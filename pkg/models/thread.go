package models

import "time"

// Thread sections used for notes and last-update tracking.
const (
	SectionVariables  = "variables"
	SectionModels     = "models"
	SectionDatasets   = "datasets"
	SectionParameters = "parameters"
	SectionRuns       = "runs"
	SectionResults    = "results"
)

// Thread event kinds.
const (
	EventCreate = "CREATE"
	EventUpdate = "UPDATE"
	EventSelect = "SELECT"
	EventRun    = "RUN"
)

// ModelBindings maps an input id to the values bound to it. Values are dataset ids for file
// inputs and literal strings for parameters.
type ModelBindings map[string][]string

// UpdateInfo records who last touched a thread section and when.
type UpdateInfo struct {
	Time time.Time `json:"time"`
	User string    `json:"user"`
}

// ThreadEvent is an entry in a thread's edit history.
type ThreadEvent struct {
	Event     string    `json:"event"`
	User      string    `json:"userid"`
	Timestamp time.Time `json:"timestamp"`
	Notes     string    `json:"notes,omitempty"`
}

// ExecutionSummary aggregates the run state of one model's ensembles in a thread.
type ExecutionSummary struct {
	TotalRuns             int       `json:"total_runs"`
	SubmittedRuns         int       `json:"submitted_runs"`
	SuccessfulRuns        int       `json:"successful_runs"`
	FailedRuns            int       `json:"failed_runs"`
	SubmittedForExecution bool      `json:"submitted_for_execution"`
	UpdatedAt             time.Time `json:"updated_at"`
}

// Thread is the unit of analysis where models, datasets and parameters are bound and executed.
type Thread struct {
	ID                string                      `json:"id"`
	TaskID            string                      `json:"task_id"`
	Name              string                      `json:"name"`
	Dates             DateRange                   `json:"dates"`
	DrivingVariables  []string                    `json:"driving_variables"`
	ResponseVariables []string                    `json:"response_variables"`
	Models            map[string]Model            `json:"models"`
	Datasets          map[string]Dataset          `json:"datasets"`
	ModelEnsembles    map[string]ModelBindings    `json:"model_ensembles"`
	ExecutionSummary  map[string]ExecutionSummary `json:"execution_summary"`
	Notes             map[string]string           `json:"notes"`
	LastUpdate        map[string]UpdateInfo       `json:"last_update"`
	Events            []ThreadEvent               `json:"events"`
	Owner             string                      `json:"owner"`
	CreatedAt         time.Time                   `json:"created_at"`
	UpdatedAt         time.Time                   `json:"updated_at"`

	// Version increments on every write. UpdateThread rejects a thread whose version is stale.
	Version int64 `json:"version"`
}

// Touch records a change to section by user at now and appends a history event.
func (t *Thread) Touch(section, event, user string, now time.Time) {
	if t.LastUpdate == nil {
		t.LastUpdate = make(map[string]UpdateInfo)
	}
	t.LastUpdate[section] = UpdateInfo{Time: now, User: user}
	t.Events = append(t.Events, ThreadEvent{
		Event:     event,
		User:      user,
		Timestamp: now,
		Notes:     section,
	})
	t.UpdatedAt = now
}

// Inputs returns the full binding map for a selected model: every declared file input and
// parameter is present, with unbound ones mapped to an empty list.
func (t *Thread) Inputs(modelID string) ModelBindings {
	m, ok := t.Models[modelID]
	if !ok {
		return nil
	}
	bound := t.ModelEnsembles[modelID]
	inputs := make(ModelBindings, len(m.InputFiles)+len(m.InputParameters))
	for _, id := range m.InputIDs() {
		inputs[id] = append([]string(nil), bound[id]...)
	}
	return inputs
}
