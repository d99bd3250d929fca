package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"mint/backend/pkg/models"
)

const threadColumns = `id, task_id, name, start_date, end_date, driving_variables, response_variables,
	models, datasets, model_ensembles, execution_summary, notes, last_update, events,
	owner, created_at, updated_at, version`

// threadDocs are the JSONB columns of a thread in column order.
func threadDocs(t *models.Thread) []any {
	return []any{&t.Models, &t.Datasets, &t.ModelEnsembles, &t.ExecutionSummary, &t.Notes, &t.LastUpdate, &t.Events}
}

func encodeThreadDocs(t *models.Thread) ([]any, error) {
	docs := threadDocs(t)
	out := make([]any, len(docs))
	for i, d := range docs {
		b, err := jsonArg(d)
		if err != nil {
			return nil, err
		}
		out[i] = b
	}
	return out, nil
}

func scanThread(row rowScanner) (*models.Thread, error) {
	var t models.Thread
	var start, end *time.Time
	raw := make([][]byte, 7)
	if err := row.Scan(&t.ID, &t.TaskID, &t.Name, &start, &end, &t.DrivingVariables, &t.ResponseVariables,
		&raw[0], &raw[1], &raw[2], &raw[3], &raw[4], &raw[5], &raw[6],
		&t.Owner, &t.CreatedAt, &t.UpdatedAt, &t.Version); err != nil {
		return nil, err
	}
	t.Dates = dateRange(start, end)
	for i, dst := range threadDocs(&t) {
		if err := json.Unmarshal(raw[i], dst); err != nil {
			return nil, fmt.Errorf("failed to decode thread %s column %d: %w", t.ID, i, err)
		}
	}
	return &t, nil
}

// CreateThread inserts a thread under an existing task.
func (s *PostgresStore) CreateThread(ctx context.Context, t *models.Thread) error {
	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	now := s.now()
	t.CreatedAt, t.UpdatedAt, t.Version = now, now, 0

	docs, err := encodeThreadDocs(t)
	if err != nil {
		return err
	}
	args := []any{t.ID, t.TaskID, t.Name, dateArg(t.Dates.Start), dateArg(t.Dates.End),
		strs(t.DrivingVariables), strs(t.ResponseVariables)}
	args = append(args, docs...)
	args = append(args, t.Owner, t.CreatedAt, t.UpdatedAt, t.Version)

	s.logger.Debug("sql", "op", "insert", "table", "threads", "id", t.ID)
	_, err = s.db.Exec(ctx,
		`INSERT INTO threads (`+threadColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)`,
		args...,
	)
	return classify(err)
}

// GetThread retrieves a thread by its ID.
func (s *PostgresStore) GetThread(ctx context.Context, id string) (*models.Thread, error) {
	t, err := scanThread(s.db.QueryRow(ctx, `SELECT `+threadColumns+` FROM threads WHERE id = $1`, id))
	if err != nil {
		return nil, classify(err)
	}
	return t, nil
}

// ListThreads lists the threads of a task.
func (s *PostgresStore) ListThreads(ctx context.Context, taskID string) ([]*models.Thread, error) {
	rows, err := s.db.Query(ctx, `SELECT `+threadColumns+` FROM threads WHERE task_id = $1 ORDER BY created_at, id`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	threads := []*models.Thread{}
	for rows.Next() {
		t, err := scanThread(rows)
		if err != nil {
			return nil, err
		}
		threads = append(threads, t)
	}
	return threads, rows.Err()
}

// UpdateThread overwrites every mutable field of a thread. It fails with ErrConflict when the
// stored version differs from t.Version and bumps t.Version on success.
func (s *PostgresStore) UpdateThread(ctx context.Context, t *models.Thread) error {
	if t.UpdatedAt.IsZero() {
		t.UpdatedAt = s.now()
	}
	docs, err := encodeThreadDocs(t)
	if err != nil {
		return err
	}
	args := []any{t.Name, dateArg(t.Dates.Start), dateArg(t.Dates.End), strs(t.DrivingVariables), strs(t.ResponseVariables)}
	args = append(args, docs...)
	args = append(args, t.UpdatedAt, t.ID, t.Version)

	s.logger.Debug("sql", "op", "update", "table", "threads", "id", t.ID, "version", t.Version)
	tag, err := s.db.Exec(ctx,
		`UPDATE threads SET name = $1, start_date = $2, end_date = $3, driving_variables = $4, response_variables = $5,
			models = $6, datasets = $7, model_ensembles = $8, execution_summary = $9, notes = $10,
			last_update = $11, events = $12, updated_at = $13, version = version + 1
		 WHERE id = $14 AND version = $15`,
		args...,
	)
	if err != nil {
		return classify(err)
	}
	if tag.RowsAffected() == 0 {
		return s.staleOrMissing(ctx, t.ID)
	}
	t.Version++
	return nil
}

func (s *PostgresStore) staleOrMissing(ctx context.Context, id string) error {
	var exists bool
	if err := s.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM threads WHERE id = $1)`, id).Scan(&exists); err != nil {
		return classify(err)
	}
	if exists {
		return fmt.Errorf("%w: thread %s was modified concurrently", ErrConflict, id)
	}
	return ErrNotFound
}

// UpdateExecutionSummary sets the summary of one model in place. A non-nil event is appended
// to the history and recorded as the last update of the section named in its notes.
func (s *PostgresStore) UpdateExecutionSummary(ctx context.Context, threadID, modelID string, summary models.ExecutionSummary, event *models.ThreadEvent) error {
	now := s.now()
	doc, err := jsonArg(summary)
	if err != nil {
		return err
	}
	var section string
	var info, events []byte
	if event != nil {
		section = event.Notes
		if info, err = jsonArg(models.UpdateInfo{Time: event.Timestamp, User: event.User}); err != nil {
			return err
		}
		if events, err = jsonArg([]models.ThreadEvent{*event}); err != nil {
			return err
		}
	}

	s.logger.Debug("sql", "op", "update", "table", "threads", "id", threadID, "summary", modelID)
	return expectOne(s.db.Exec(ctx,
		`UPDATE threads SET
			execution_summary = jsonb_set(COALESCE(NULLIF(execution_summary, 'null'), '{}'), ARRAY[$2::text], $3::jsonb, true),
			last_update = CASE WHEN $4::jsonb IS NULL THEN last_update
				ELSE jsonb_set(COALESCE(NULLIF(last_update, 'null'), '{}'), ARRAY[$5::text], $4::jsonb, true) END,
			events = CASE WHEN $6::jsonb IS NULL THEN events
				ELSE COALESCE(NULLIF(events, 'null'), '[]') || $6::jsonb END,
			updated_at = $7, version = version + 1
		 WHERE id = $1`,
		threadID, modelID, doc, info, section, events, now,
	))
}

// DeleteThread removes a thread and its ensembles.
func (s *PostgresStore) DeleteThread(ctx context.Context, id string) error {
	return expectOne(s.db.Exec(ctx, `DELETE FROM threads WHERE id = $1`, id))
}
