package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	openapi_types "github.com/oapi-codegen/runtime/types"

	"mint/backend/internal/logging"
	"mint/backend/pkg/models"
)

// PostgresStore is a PostgreSQL implementation of the Repository interface.
type PostgresStore struct {
	db     *pgxpool.Pool
	logger *logging.Logger
	now    func() time.Time
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(db *pgxpool.Pool, logger *logging.Logger) *PostgresStore {
	return &PostgresStore{
		db:     db,
		logger: logger.Component("store"),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Ping checks connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

// classify maps driver errors to the package's sentinel errors.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgerrcode.UniqueViolation:
			return fmt.Errorf("%w: %s", ErrConflict, pgErr.Detail)
		case pgerrcode.ForeignKeyViolation:
			return fmt.Errorf("%w: %s", ErrInvalidReference, pgErr.Detail)
		}
	}
	return err
}

func expectOne(tag pgconn.CommandTag, err error) error {
	if err != nil {
		return classify(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func dateArg(d openapi_types.Date) any {
	if d.IsZero() {
		return nil
	}
	return d.Time
}

func dateRange(start, end *time.Time) models.DateRange {
	var r models.DateRange
	if start != nil {
		r.Start = openapi_types.Date{Time: *start}
	}
	if end != nil {
		r.End = openapi_types.Date{Time: *end}
	}
	return r
}

func jsonArg(v any) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal column: %w", err)
	}
	return b, nil
}

func strs(v []string) []string {
	if v == nil {
		return []string{}
	}
	return v
}

// --- Scenarios ---

const scenarioColumns = `id, name, region_id, start_date, end_date, owner, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanScenario(row rowScanner) (*models.Scenario, error) {
	var sc models.Scenario
	var start, end *time.Time
	if err := row.Scan(&sc.ID, &sc.Name, &sc.RegionID, &start, &end, &sc.Owner, &sc.CreatedAt, &sc.UpdatedAt); err != nil {
		return nil, err
	}
	sc.Dates = dateRange(start, end)
	return &sc, nil
}

// CreateScenario inserts a scenario.
func (s *PostgresStore) CreateScenario(ctx context.Context, sc *models.Scenario) error {
	if sc.ID == "" {
		sc.ID = uuid.New().String()
	}
	now := s.now()
	sc.CreatedAt, sc.UpdatedAt = now, now

	s.logger.Debug("sql", "op", "insert", "table", "scenarios", "id", sc.ID)
	_, err := s.db.Exec(ctx,
		`INSERT INTO scenarios (`+scenarioColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		sc.ID, sc.Name, sc.RegionID, dateArg(sc.Dates.Start), dateArg(sc.Dates.End), sc.Owner, sc.CreatedAt, sc.UpdatedAt,
	)
	return classify(err)
}

// GetScenario retrieves a scenario by its ID.
func (s *PostgresStore) GetScenario(ctx context.Context, id string) (*models.Scenario, error) {
	row := s.db.QueryRow(ctx, `SELECT `+scenarioColumns+` FROM scenarios WHERE id = $1`, id)
	sc, err := scanScenario(row)
	if err != nil {
		return nil, classify(err)
	}
	return sc, nil
}

// ListScenarios lists scenarios ordered by creation time.
func (s *PostgresStore) ListScenarios(ctx context.Context, owner string) ([]*models.Scenario, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+scenarioColumns+` FROM scenarios WHERE ($1 = '' OR owner = $1) ORDER BY created_at, id`, owner)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	scenarios := []*models.Scenario{}
	for rows.Next() {
		sc, err := scanScenario(rows)
		if err != nil {
			return nil, err
		}
		scenarios = append(scenarios, sc)
	}
	return scenarios, rows.Err()
}

// UpdateScenario overwrites the mutable fields of a scenario.
func (s *PostgresStore) UpdateScenario(ctx context.Context, sc *models.Scenario) error {
	sc.UpdatedAt = s.now()
	return expectOne(s.db.Exec(ctx,
		`UPDATE scenarios SET name = $1, region_id = $2, start_date = $3, end_date = $4, updated_at = $5 WHERE id = $6`,
		sc.Name, sc.RegionID, dateArg(sc.Dates.Start), dateArg(sc.Dates.End), sc.UpdatedAt, sc.ID,
	))
}

// DeleteScenario removes a scenario and everything below it.
func (s *PostgresStore) DeleteScenario(ctx context.Context, id string) error {
	s.logger.Debug("sql", "op", "delete", "table", "scenarios", "id", id)
	return expectOne(s.db.Exec(ctx, `DELETE FROM scenarios WHERE id = $1`, id))
}

// --- Tasks ---

const taskColumns = `id, scenario_id, name, indicator_id, intervention_id, start_date, end_date,
	response_variables, driving_variables, owner, created_at, updated_at`

func scanTask(row rowScanner) (*models.Task, error) {
	var t models.Task
	var start, end *time.Time
	if err := row.Scan(&t.ID, &t.ScenarioID, &t.Name, &t.IndicatorID, &t.InterventionID, &start, &end,
		&t.ResponseVariables, &t.DrivingVariables, &t.Owner, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return nil, err
	}
	t.Dates = dateRange(start, end)
	return &t, nil
}

// CreateTask inserts a task under an existing scenario.
func (s *PostgresStore) CreateTask(ctx context.Context, t *models.Task) error {
	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	now := s.now()
	t.CreatedAt, t.UpdatedAt = now, now

	s.logger.Debug("sql", "op", "insert", "table", "tasks", "id", t.ID)
	_, err := s.db.Exec(ctx,
		`INSERT INTO tasks (`+taskColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		t.ID, t.ScenarioID, t.Name, t.IndicatorID, t.InterventionID, dateArg(t.Dates.Start), dateArg(t.Dates.End),
		strs(t.ResponseVariables), strs(t.DrivingVariables), t.Owner, t.CreatedAt, t.UpdatedAt,
	)
	return classify(err)
}

// GetTask retrieves a task by its ID.
func (s *PostgresStore) GetTask(ctx context.Context, id string) (*models.Task, error) {
	t, err := scanTask(s.db.QueryRow(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = $1`, id))
	if err != nil {
		return nil, classify(err)
	}
	return t, nil
}

// ListTasks lists the tasks of a scenario.
func (s *PostgresStore) ListTasks(ctx context.Context, scenarioID string) ([]*models.Task, error) {
	rows, err := s.db.Query(ctx, `SELECT `+taskColumns+` FROM tasks WHERE scenario_id = $1 ORDER BY created_at, id`, scenarioID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	tasks := []*models.Task{}
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

// UpdateTask overwrites the mutable fields of a task.
func (s *PostgresStore) UpdateTask(ctx context.Context, t *models.Task) error {
	t.UpdatedAt = s.now()
	return expectOne(s.db.Exec(ctx,
		`UPDATE tasks SET name = $1, indicator_id = $2, intervention_id = $3, start_date = $4, end_date = $5,
			response_variables = $6, driving_variables = $7, updated_at = $8 WHERE id = $9`,
		t.Name, t.IndicatorID, t.InterventionID, dateArg(t.Dates.Start), dateArg(t.Dates.End),
		strs(t.ResponseVariables), strs(t.DrivingVariables), t.UpdatedAt, t.ID,
	))
}

// DeleteTask removes a task and its threads.
func (s *PostgresStore) DeleteTask(ctx context.Context, id string) error {
	return expectOne(s.db.Exec(ctx, `DELETE FROM tasks WHERE id = $1`, id))
}
