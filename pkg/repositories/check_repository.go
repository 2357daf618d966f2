package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/ekaya-inc/ekaya-monitor/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-monitor/pkg/database"
	"github.com/ekaya-inc/ekaya-monitor/pkg/models"
)

// CheckRepository provides data access for scheduled checks.
type CheckRepository interface {
	// Create inserts a check. A zero ID is replaced and an empty state becomes "new".
	Create(ctx context.Context, check *models.Check) error

	// Get returns the check by ID with its query name, or apperrors.ErrNotFound.
	Get(ctx context.Context, id uuid.UUID) (*models.Check, error)

	// List returns checks in a schedule bucket, or every check when schedule is empty.
	List(ctx context.Context, schedule string) ([]*models.Check, error)

	// ListByStates returns checks whose state is one of states.
	ListByStates(ctx context.Context, states ...models.CheckState) ([]*models.Check, error)

	// UpdateRunState records the outcome of a run. It returns apperrors.ErrNotFound
	// when the check is gone and apperrors.ErrCheckDisabled when it was disabled
	// since the run started; disabled rows are never overwritten.
	UpdateRunState(ctx context.Context, id uuid.UUID, state models.CheckState, message string, lastRunAt time.Time) error
}

type checkRepository struct {
	db database.Querier
}

// NewCheckRepository creates a new CheckRepository.
func NewCheckRepository(db database.Querier) CheckRepository {
	return &checkRepository{db: db}
}

var _ CheckRepository = (*checkRepository)(nil)

const checkSelect = `
	SELECT c.id, c.query_id, c.state, c.schedule, c.check_type, c.algorithm, c.tolerance,
		c.threshold, c.emails, c.slack_channels, c.message, c.last_run_at,
		c.created_at, c.updated_at, q.name
	FROM monitor_checks c
	JOIN monitor_queries q ON q.id = c.query_id`

func (r *checkRepository) Create(ctx context.Context, check *models.Check) error {
	if check.ID == uuid.Nil {
		check.ID = uuid.New()
	}
	if check.State == "" {
		check.State = models.CheckStateNew
	}
	if check.CheckType == "" {
		check.CheckType = models.CheckTypeBadData
	}
	now := time.Now()
	check.CreatedAt = now
	check.UpdatedAt = now

	sql := `
		INSERT INTO monitor_checks (
			id, query_id, state, schedule, check_type, algorithm, tolerance, threshold,
			emails, slack_channels, message, last_run_at, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`

	_, err := database.QuerierFrom(ctx, r.db).Exec(ctx, sql,
		check.ID,
		check.QueryID,
		check.State,
		check.Schedule,
		check.CheckType,
		check.Algorithm,
		check.Tolerance,
		check.Threshold,
		nonNil(check.Emails),
		nonNil(check.SlackChannels),
		check.Message,
		check.LastRunAt,
		check.CreatedAt,
		check.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create check: %w", err)
	}

	return nil
}

func (r *checkRepository) Get(ctx context.Context, id uuid.UUID) (*models.Check, error) {
	sql := checkSelect + ` WHERE c.id = $1`

	c, err := scanCheck(database.QuerierFrom(ctx, r.db).QueryRow(ctx, sql, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("check %s: %w", id, apperrors.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get check: %w", err)
	}

	return c, nil
}

func (r *checkRepository) List(ctx context.Context, schedule string) ([]*models.Check, error) {
	if schedule == "" {
		return r.list(ctx, checkSelect+` ORDER BY c.created_at`)
	}
	return r.list(ctx, checkSelect+` WHERE c.schedule = $1 ORDER BY c.created_at`, schedule)
}

func (r *checkRepository) ListByStates(ctx context.Context, states ...models.CheckState) ([]*models.Check, error) {
	if len(states) == 0 {
		return nil, nil
	}
	names := make([]string, len(states))
	for i, s := range states {
		names[i] = string(s)
	}
	return r.list(ctx, checkSelect+` WHERE c.state = ANY($1) ORDER BY q.name, c.created_at`, names)
}

func (r *checkRepository) UpdateRunState(ctx context.Context, id uuid.UUID, state models.CheckState, message string, lastRunAt time.Time) error {
	q := database.QuerierFrom(ctx, r.db)

	sql := `
		UPDATE monitor_checks
		SET state = $2, message = $3, last_run_at = $4, updated_at = now()
		WHERE id = $1 AND state <> 'disabled'`

	result, err := q.Exec(ctx, sql, id, state, message, lastRunAt)
	if err != nil {
		return fmt.Errorf("failed to update check state: %w", err)
	}
	if result.RowsAffected() > 0 {
		return nil
	}

	var exists bool
	if err := q.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM monitor_checks WHERE id = $1)`, id).Scan(&exists); err != nil {
		return fmt.Errorf("failed to look up check: %w", err)
	}
	if !exists {
		return fmt.Errorf("check %s: %w", id, apperrors.ErrNotFound)
	}
	return fmt.Errorf("check %s: %w", id, apperrors.ErrCheckDisabled)
}

func (r *checkRepository) list(ctx context.Context, sql string, args ...any) ([]*models.Check, error) {
	rows, err := database.QuerierFrom(ctx, r.db).Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list checks: %w", err)
	}
	defer rows.Close()

	var checks []*models.Check
	for rows.Next() {
		c, err := scanCheck(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan check: %w", err)
		}
		checks = append(checks, c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating checks: %w", err)
	}

	return checks, nil
}

func scanCheck(row pgx.Row) (*models.Check, error) {
	var c models.Check
	err := row.Scan(
		&c.ID, &c.QueryID, &c.State, &c.Schedule, &c.CheckType, &c.Algorithm, &c.Tolerance,
		&c.Threshold, &c.Emails, &c.SlackChannels, &c.Message, &c.LastRunAt,
		&c.CreatedAt, &c.UpdatedAt, &c.QueryName,
	)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
