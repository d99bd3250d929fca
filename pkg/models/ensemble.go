package models

import "time"

// RunStatus is the execution state of an ensemble as reported by the ensemble manager.
type RunStatus string

const (
	RunStatusNone    RunStatus = ""
	RunStatusWaiting RunStatus = "WAITING"
	RunStatusRunning RunStatus = "RUNNING"
	RunStatusSuccess RunStatus = "SUCCESS"
	RunStatusFailure RunStatus = "FAILURE"
)

// Terminal reports whether no further transition is expected.
func (s RunStatus) Terminal() bool {
	return s == RunStatusSuccess || s == RunStatusFailure
}

// InFlight reports whether the run was submitted and has not finished.
func (s RunStatus) InFlight() bool {
	return s == RunStatusWaiting || s == RunStatusRunning
}

// ExecutableEnsemble is one concrete, fully-bound run configuration of a model.
type ExecutableEnsemble struct {
	ID          string            `json:"id"`
	ThreadID    string            `json:"thread_id"`
	ModelID     string            `json:"model_id"`
	Bindings    map[string]string `json:"bindings"`
	Selected    bool              `json:"selected"`
	RunID       string            `json:"runid,omitempty"`
	Status      RunStatus         `json:"status,omitempty"`
	RunProgress float64           `json:"run_progress"`
	Results     map[string]string `json:"results,omitempty"`
	SubmittedAt *time.Time        `json:"submitted_at,omitempty"`
	UpdatedAt   time.Time         `json:"updated_at"`
}

// Runnable reports whether the ensemble should be (re)submitted.
func (e ExecutableEnsemble) Runnable() bool {
	return e.RunID == "" || e.Status == RunStatusFailure
}

// Summarize counts run states over the ensembles of one model.
func Summarize(ensembles []ExecutableEnsemble, now time.Time) ExecutionSummary {
	s := ExecutionSummary{TotalRuns: len(ensembles), UpdatedAt: now}
	for _, e := range ensembles {
		if e.RunID != "" {
			s.SubmittedRuns++
		}
		switch e.Status {
		case RunStatusSuccess:
			s.SuccessfulRuns++
		case RunStatusFailure:
			s.FailedRuns++
		}
	}
	s.SubmittedForExecution = s.SubmittedRuns > 0
	return s
}
