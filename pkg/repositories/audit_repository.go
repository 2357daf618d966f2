package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ekaya-inc/ekaya-monitor/pkg/database"
	"github.com/ekaya-inc/ekaya-monitor/pkg/models"
)

// AuditRepository records ad-hoc executions. The log is append-only.
type AuditRepository interface {
	// Create inserts a new audit entry.
	Create(ctx context.Context, audit *models.Audit) error
}

type auditRepository struct {
	db database.Querier
}

// NewAuditRepository creates a new AuditRepository.
func NewAuditRepository(db database.Querier) AuditRepository {
	return &auditRepository{db: db}
}

var _ AuditRepository = (*auditRepository)(nil)

func (r *auditRepository) Create(ctx context.Context, audit *models.Audit) error {
	if audit.ID == uuid.Nil {
		audit.ID = uuid.New()
	}
	audit.CreatedAt = time.Now()

	sql := `
		INSERT INTO monitor_audits (id, query_id, user_id, statement, data_source_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`

	_, err := database.QuerierFrom(ctx, r.db).Exec(ctx, sql,
		audit.ID,
		audit.QueryID,
		audit.UserID,
		audit.Statement,
		audit.DataSourceID,
		audit.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create audit: %w", err)
	}

	return nil
}
