// Package execution submits ensembles to the external ensemble manager and tracks their runs.
package execution

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/cenkalti/backoff/v4"

	"mint/backend/internal/restclient"
	"mint/backend/pkg/models"
)

// RunRef links a submitted ensemble to the run id assigned by the manager.
type RunRef struct {
	EnsembleID string `json:"ensemble_id"`
	RunID      string `json:"runid"`
}

// RunState is the manager's view of one run.
type RunState struct {
	RunID       string            `json:"runid"`
	Status      models.RunStatus  `json:"status"`
	RunProgress float64           `json:"run_progress"`
	Results     map[string]string `json:"results,omitempty"`
}

// SubmitRequest asks the manager to register and run ensembles of one model.
type SubmitRequest struct {
	ThreadID  string                      `json:"thread_id"`
	ModelID   string                      `json:"model_id"`
	Ensembles []models.ExecutableEnsemble `json:"ensembles"`
}

type submitResponse struct {
	Result  string   `json:"result"`
	Message string   `json:"message,omitempty"`
	Runs    []RunRef `json:"runs"`
}

type statusRequest struct {
	RunIDs []string `json:"runids"`
}

type statusResponse struct {
	Runs []RunState `json:"runs"`
}

// Manager is a client for the ensemble manager REST API.
type Manager struct {
	rest       *restclient.Client
	maxRetries uint64
	newBackOff func() backoff.BackOff
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithMaxRetries bounds retries of transient failures.
func WithMaxRetries(n uint64) ManagerOption {
	return func(m *Manager) { m.maxRetries = n }
}

// WithBackOff replaces the retry schedule.
func WithBackOff(f func() backoff.BackOff) ManagerOption {
	return func(m *Manager) { m.newBackOff = f }
}

// NewManager creates a Manager for the ensemble manager at baseURL.
func NewManager(rest *restclient.Client, opts ...ManagerOption) *Manager {
	m := &Manager{
		rest:       rest,
		maxRetries: 3,
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 500 * time.Millisecond
			b.MaxElapsedTime = time.Minute
			return b
		},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// retry runs op until it succeeds, fails permanently, or retries are exhausted.
// Only network errors, 5xx and 429 are retried.
func (m *Manager) retry(ctx context.Context, op func() error) error {
	b := backoff.WithContext(backoff.WithMaxRetries(m.newBackOff(), m.maxRetries), ctx)
	return backoff.Retry(func() error {
		err := op()
		if err == nil {
			return nil
		}
		var se *restclient.StatusError
		if errors.As(err, &se) && !se.Temporary() {
			return backoff.Permanent(err)
		}
		if ctx.Err() != nil {
			return backoff.Permanent(err)
		}
		return err
	}, b)
}

// Submit registers and runs ensembles. The manager returns one run id per ensemble.
func (m *Manager) Submit(ctx context.Context, req SubmitRequest) ([]RunRef, error) {
	var resp submitResponse
	err := m.retry(ctx, func() error {
		return m.rest.Post(ctx, "/executions", req, &resp)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to submit %d ensembles of %s: %w", len(req.Ensembles), req.ModelID, err)
	}
	if resp.Result != "" && resp.Result != "success" {
		return nil, fmt.Errorf("failed to submit ensembles of %s: manager returned %q: %s", req.ModelID, resp.Result, resp.Message)
	}
	return resp.Runs, nil
}

// Status fetches the current state of runs.
func (m *Manager) Status(ctx context.Context, runIDs []string) ([]RunState, error) {
	if len(runIDs) == 0 {
		return nil, nil
	}
	var resp statusResponse
	err := m.retry(ctx, func() error {
		return m.rest.Post(ctx, "/executions/status", statusRequest{RunIDs: runIDs}, &resp)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch status of %d runs: %w", len(runIDs), err)
	}
	return resp.Runs, nil
}

// Logs returns the execution log of an ensemble. A run without logs yields "".
func (m *Manager) Logs(ctx context.Context, ensembleID string) (string, error) {
	var out string
	err := m.retry(ctx, func() error {
		return m.rest.Get(ctx, "/logs", url.Values{"ensemble_id": {ensembleID}}, &out)
	})
	var se *restclient.StatusError
	if errors.As(err, &se) && se.Code == http.StatusNotFound {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to fetch logs of %s: %w", ensembleID, err)
	}
	return out, nil
}
