package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"

	"mint/backend/pkg/models"
)

const ensembleColumns = `thread_id, id, model_id, bindings, selected, runid, status, run_progress, results, submitted_at, updated_at`

func scanEnsemble(row rowScanner) (models.ExecutableEnsemble, error) {
	var e models.ExecutableEnsemble
	var bindings, results []byte
	var status string
	if err := row.Scan(&e.ThreadID, &e.ID, &e.ModelID, &bindings, &e.Selected, &e.RunID, &status,
		&e.RunProgress, &results, &e.SubmittedAt, &e.UpdatedAt); err != nil {
		return e, err
	}
	e.Status = models.RunStatus(status)
	if err := json.Unmarshal(bindings, &e.Bindings); err != nil {
		return e, fmt.Errorf("failed to decode bindings of ensemble %s: %w", e.ID, err)
	}
	if err := json.Unmarshal(results, &e.Results); err != nil {
		return e, fmt.Errorf("failed to decode results of ensemble %s: %w", e.ID, err)
	}
	if len(e.Results) == 0 {
		e.Results = nil
	}
	return e, nil
}

func collectEnsembles(rows pgx.Rows) ([]models.ExecutableEnsemble, error) {
	defer rows.Close()
	out := []models.ExecutableEnsemble{}
	for rows.Next() {
		e, err := scanEnsemble(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// ListEnsembles returns ensembles of a thread ordered by id.
func (s *PostgresStore) ListEnsembles(ctx context.Context, threadID, modelID string) ([]models.ExecutableEnsemble, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+ensembleColumns+` FROM ensembles
		 WHERE thread_id = $1 AND ($2 = '' OR model_id = $2) ORDER BY model_id, id`,
		threadID, modelID)
	if err != nil {
		return nil, err
	}
	return collectEnsembles(rows)
}

// GetEnsemble retrieves one ensemble of a thread.
func (s *PostgresStore) GetEnsemble(ctx context.Context, threadID, id string) (*models.ExecutableEnsemble, error) {
	e, err := scanEnsemble(s.db.QueryRow(ctx,
		`SELECT `+ensembleColumns+` FROM ensembles WHERE thread_id = $1 AND id = $2`, threadID, id))
	if err != nil {
		return nil, classify(err)
	}
	return &e, nil
}

// ReplaceEnsembles upserts and removes ensembles of one model in a single transaction.
func (s *PostgresStore) ReplaceEnsembles(ctx context.Context, threadID, modelID string, upserts []models.ExecutableEnsemble, removeIDs []string) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if len(removeIDs) > 0 {
		if _, err := tx.Exec(ctx,
			`DELETE FROM ensembles WHERE thread_id = $1 AND model_id = $2 AND id = ANY($3)`,
			threadID, modelID, removeIDs); err != nil {
			return classify(err)
		}
	}

	now := s.now()
	batch := &pgx.Batch{}
	for _, e := range upserts {
		bindings, err := jsonArg(e.Bindings)
		if err != nil {
			return err
		}
		results, err := jsonArg(nonNilResults(e.Results))
		if err != nil {
			return err
		}
		updated := e.UpdatedAt
		if updated.IsZero() {
			updated = now
		}
		batch.Queue(
			`INSERT INTO ensembles (`+ensembleColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
			 ON CONFLICT (thread_id, id) DO UPDATE SET
				bindings = EXCLUDED.bindings, selected = EXCLUDED.selected, runid = EXCLUDED.runid,
				status = EXCLUDED.status, run_progress = EXCLUDED.run_progress, results = EXCLUDED.results,
				submitted_at = EXCLUDED.submitted_at, updated_at = EXCLUDED.updated_at`,
			threadID, e.ID, modelID, bindings, e.Selected, e.RunID, string(e.Status), e.RunProgress, results,
			e.SubmittedAt, updated,
		)
	}
	if batch.Len() > 0 {
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return classify(err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit ensembles: %w", err)
	}
	s.logger.Debug("ensembles replaced", "thread_id", threadID, "model_id", modelID,
		"upserted", len(upserts), "removed", len(removeIDs))
	return nil
}

// UpdateEnsembleRuns writes selection and run state of existing ensembles.
func (s *PostgresStore) UpdateEnsembleRuns(ctx context.Context, threadID string, ensembles []models.ExecutableEnsemble) error {
	if len(ensembles) == 0 {
		return nil
	}
	now := s.now()
	batch := &pgx.Batch{}
	for _, e := range ensembles {
		results, err := jsonArg(nonNilResults(e.Results))
		if err != nil {
			return err
		}
		batch.Queue(
			`UPDATE ensembles SET selected = $1, runid = $2, status = $3, run_progress = $4, results = $5,
				submitted_at = $6, updated_at = $7
			 WHERE thread_id = $8 AND id = $9`,
			e.Selected, e.RunID, string(e.Status), e.RunProgress, results, e.SubmittedAt, now, threadID, e.ID,
		)
	}
	return classify(s.db.SendBatch(ctx, batch).Close())
}

// RecordRunStates writes polled run state and moves each ensemble to the back of the in-flight
// queue. Rows whose run id changed since they were read are left alone.
func (s *PostgresStore) RecordRunStates(ctx context.Context, threadID string, ensembles []models.ExecutableEnsemble) error {
	if len(ensembles) == 0 {
		return nil
	}
	now := s.now()
	batch := &pgx.Batch{}
	for _, e := range ensembles {
		results, err := jsonArg(nonNilResults(e.Results))
		if err != nil {
			return err
		}
		batch.Queue(
			`UPDATE ensembles SET status = $1, run_progress = $2, results = $3, updated_at = $4
			 WHERE thread_id = $5 AND id = $6 AND runid = $7`,
			string(e.Status), e.RunProgress, results, now, threadID, e.ID, e.RunID,
		)
	}
	return classify(s.db.SendBatch(ctx, batch).Close())
}

// DeleteEnsembles removes every ensemble of one model in a thread.
func (s *PostgresStore) DeleteEnsembles(ctx context.Context, threadID, modelID string) error {
	_, err := s.db.Exec(ctx, `DELETE FROM ensembles WHERE thread_id = $1 AND model_id = $2`, threadID, modelID)
	return classify(err)
}

// ListInFlightEnsembles returns submitted ensembles still waiting or running, oldest update first.
func (s *PostgresStore) ListInFlightEnsembles(ctx context.Context, limit int) ([]models.ExecutableEnsemble, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+ensembleColumns+` FROM ensembles
		 WHERE runid <> '' AND status IN ($1, $2) ORDER BY updated_at, thread_id, id LIMIT $3`,
		string(models.RunStatusWaiting), string(models.RunStatusRunning), limit)
	if err != nil {
		return nil, err
	}
	return collectEnsembles(rows)
}

func nonNilResults(r map[string]string) map[string]string {
	if r == nil {
		return map[string]string{}
	}
	return r
}
