package execution

import (
	"errors"
	"net/url"

	"mint/backend/pkg/models"
)

// VisualizationURL links the visualization UI to a thread, its task and its scenario.
func VisualizationURL(base string, t *models.Thread, scenarioID string) (string, error) {
	if base == "" {
		return "", errors.New("visualization url is not configured")
	}
	u, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("thread_id", t.ID)
	q.Set("task_id", t.TaskID)
	q.Set("problem_statement_id", scenarioID)
	u.RawQuery = q.Encode()
	return u.String(), nil
}
