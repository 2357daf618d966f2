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

// QueryRepository provides data access for saved queries.
type QueryRepository interface {
	// Create inserts a query. A zero ID is replaced with a new one.
	Create(ctx context.Context, query *models.Query) error

	// Get returns the query by ID, or apperrors.ErrNotFound.
	Get(ctx context.Context, id uuid.UUID) (*models.Query, error)

	// ListActiveWithoutAuditsSince returns active queries with no audit row newer than since.
	ListActiveWithoutAuditsSince(ctx context.Context, since time.Time) ([]*models.Query, error)

	// Archive marks the given queries archived and returns how many changed.
	Archive(ctx context.Context, ids []uuid.UUID) (int64, error)
}

type queryRepository struct {
	db database.Querier
}

// NewQueryRepository creates a new QueryRepository.
func NewQueryRepository(db database.Querier) QueryRepository {
	return &queryRepository{db: db}
}

var _ QueryRepository = (*queryRepository)(nil)

const queryColumns = `
	id, name, description, statement, data_source_id, status, parameters, created_at, updated_at`

func (r *queryRepository) Create(ctx context.Context, query *models.Query) error {
	if query.ID == uuid.Nil {
		query.ID = uuid.New()
	}
	if query.Status == "" {
		query.Status = models.QueryStatusActive
	}
	if query.Parameters == nil {
		query.Parameters = []models.QueryParameter{}
	}
	now := time.Now()
	query.CreatedAt = now
	query.UpdatedAt = now

	sql := `
		INSERT INTO monitor_queries (` + queryColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err := database.QuerierFrom(ctx, r.db).Exec(ctx, sql,
		query.ID,
		query.Name,
		query.Description,
		query.Statement,
		query.DataSourceID,
		query.Status,
		query.Parameters,
		query.CreatedAt,
		query.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create query: %w", err)
	}

	return nil
}

func (r *queryRepository) Get(ctx context.Context, id uuid.UUID) (*models.Query, error) {
	sql := `SELECT ` + queryColumns + ` FROM monitor_queries WHERE id = $1`

	q, err := scanQuery(database.QuerierFrom(ctx, r.db).QueryRow(ctx, sql, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("query %s: %w", id, apperrors.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get query: %w", err)
	}

	return q, nil
}

func (r *queryRepository) ListActiveWithoutAuditsSince(ctx context.Context, since time.Time) ([]*models.Query, error) {
	sql := `
		SELECT ` + queryColumns + `
		FROM monitor_queries q
		WHERE q.status = 'active'
		AND NOT EXISTS (
			SELECT 1 FROM monitor_audits a
			WHERE a.query_id = q.id AND a.created_at > $1
		)
		ORDER BY q.created_at`

	rows, err := database.QuerierFrom(ctx, r.db).Query(ctx, sql, since)
	if err != nil {
		return nil, fmt.Errorf("failed to list unviewed queries: %w", err)
	}
	defer rows.Close()

	var queries []*models.Query
	for rows.Next() {
		q, err := scanQuery(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan query: %w", err)
		}
		queries = append(queries, q)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating queries: %w", err)
	}

	return queries, nil
}

func (r *queryRepository) Archive(ctx context.Context, ids []uuid.UUID) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	sql := `
		UPDATE monitor_queries
		SET status = 'archived', updated_at = now()
		WHERE id = ANY($1) AND status = 'active'`

	result, err := database.QuerierFrom(ctx, r.db).Exec(ctx, sql, ids)
	if err != nil {
		return 0, fmt.Errorf("failed to archive queries: %w", err)
	}

	return result.RowsAffected(), nil
}

func scanQuery(row pgx.Row) (*models.Query, error) {
	var q models.Query
	err := row.Scan(
		&q.ID, &q.Name, &q.Description, &q.Statement, &q.DataSourceID,
		&q.Status, &q.Parameters, &q.CreatedAt, &q.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &q, nil
}
