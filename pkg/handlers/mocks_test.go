package handlers

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ekaya-inc/ekaya-monitor/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-monitor/pkg/models"
	"github.com/ekaya-inc/ekaya-monitor/pkg/notify"
	"github.com/ekaya-inc/ekaya-monitor/pkg/services"
)

// mockQueryService records calls and returns canned results.
type mockQueryService struct {
	runResult  *services.AdHocResult
	runErr     error
	lastReq    services.AdHocRequest
	startID    uuid.UUID
	polls      map[uuid.UUID]*services.AdHocResult
	cancelled  []string
	archived   int64
	archiveErr error
}

var _ services.QueryService = (*mockQueryService)(nil)

func (m *mockQueryService) RunAdHoc(_ context.Context, req services.AdHocRequest) (*services.AdHocResult, error) {
	m.lastReq = req
	return m.runResult, m.runErr
}

func (m *mockQueryService) Start(_ context.Context, req services.AdHocRequest) (uuid.UUID, error) {
	m.lastReq = req
	return m.startID, nil
}

func (m *mockQueryService) Poll(_ context.Context, runID uuid.UUID) (*services.AdHocResult, error) {
	res, ok := m.polls[runID]
	if !ok {
		return nil, fmt.Errorf("run %s: %w", runID, apperrors.ErrNotFound)
	}
	return res, nil
}

func (m *mockQueryService) Cancel(_ context.Context, dataSourceID string, runID uuid.UUID) error {
	m.cancelled = append(m.cancelled, dataSourceID+"/"+runID.String())
	return nil
}

func (m *mockQueryService) ArchiveUnviewed(context.Context) (int64, error) {
	return m.archived, m.archiveErr
}

// mockCheckService returns canned reports.
type mockCheckService struct {
	batch        *services.BatchReport
	lastSchedule string
	ran          []uuid.UUID
	digest       notify.Report
}

var _ services.CheckService = (*mockCheckService)(nil)

func (m *mockCheckService) RunCheck(_ context.Context, check *models.Check) (*services.CheckRun, error) {
	m.ran = append(m.ran, check.ID)
	updated := *check
	updated.State = models.CheckStateFailing
	return &services.CheckRun{
		Event: models.CheckRunEvent{
			CheckID:    check.ID,
			PriorState: check.State,
			NewState:   models.CheckStateFailing,
			RowCount:   3,
			Attempts:   1,
		},
		Check:  updated,
		Notify: true,
	}, nil
}

func (m *mockCheckService) RunChecks(_ context.Context, schedule string) (*services.BatchReport, error) {
	m.lastSchedule = schedule
	return m.batch, nil
}

func (m *mockCheckService) SendFailingChecks(context.Context) (notify.Report, error) {
	return m.digest, nil
}

// mockCheckRepository serves checks from a map.
type mockCheckRepository struct {
	checks map[uuid.UUID]*models.Check
}

func (m *mockCheckRepository) Create(_ context.Context, check *models.Check) error {
	m.checks[check.ID] = check
	return nil
}

func (m *mockCheckRepository) Get(_ context.Context, id uuid.UUID) (*models.Check, error) {
	c, ok := m.checks[id]
	if !ok {
		return nil, fmt.Errorf("check %s: %w", id, apperrors.ErrNotFound)
	}
	return c, nil
}

func (m *mockCheckRepository) List(context.Context, string) ([]*models.Check, error) {
	return nil, nil
}

func (m *mockCheckRepository) ListByStates(context.Context, ...models.CheckState) ([]*models.Check, error) {
	return nil, nil
}

func (m *mockCheckRepository) UpdateRunState(context.Context, uuid.UUID, models.CheckState, string, time.Time) error {
	return nil
}
