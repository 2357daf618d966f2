package services

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/coder/quartz"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-monitor/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-monitor/pkg/detectors"
	"github.com/ekaya-inc/ekaya-monitor/pkg/events"
	"github.com/ekaya-inc/ekaya-monitor/pkg/logging"
	"github.com/ekaya-inc/ekaya-monitor/pkg/models"
	"github.com/ekaya-inc/ekaya-monitor/pkg/notify"
	"github.com/ekaya-inc/ekaya-monitor/pkg/repositories"
	"github.com/ekaya-inc/ekaya-monitor/pkg/workqueue"
)

// NotifiableStates are the states the failing-checks digest covers.
var NotifiableStates = []models.CheckState{
	models.CheckStateFailing,
	models.CheckStateError,
	models.CheckStateTimedOut,
}

// CheckRun is the outcome of running one check.
type CheckRun struct {
	Event models.CheckRunEvent
	// Check is the check as it stands after the run.
	Check models.Check
	// Notify is set when the run should be routed to the check's recipients.
	Notify bool
}

// BatchReport summarizes one RunChecks call.
type BatchReport struct {
	Schedule string
	Ran      int
	Skipped  int
	// Failed holds checks whose run raised an error or panicked.
	Failed   map[uuid.UUID]error
	Events   []models.CheckRunEvent
	Notified notify.Report
}

// CheckService runs scheduled checks and routes the ones that need attention.
type CheckService interface {
	// RunCheck runs one check through the retry budget and records its new state.
	RunCheck(ctx context.Context, check *models.Check) (*CheckRun, error)

	// RunChecks runs every enabled check in schedule, or all checks when
	// schedule is empty, then notifies recipients of checks that went bad.
	RunChecks(ctx context.Context, schedule string) (*BatchReport, error)

	// SendFailingChecks sends every recipient a digest of their checks that
	// are currently failing, erroring or timed out.
	SendFailingChecks(ctx context.Context) (notify.Report, error)
}

// CheckServiceConfig tunes the check loop.
type CheckServiceConfig struct {
	Workers int
	// Renotify routes every bad run, not only transitions into a bad state.
	Renotify bool
	// AnomalyDetector and Forecaster name the algorithms used by checks that
	// do not pick one. Empty disables the check type for such checks.
	AnomalyDetector string
	Forecaster      string
	Clock           quartz.Clock
}

type checkService struct {
	checks    repositories.CheckRepository
	queries   repositories.QueryRepository
	runner    RunController
	detectors *detectors.Registry
	router    *notify.Router
	sink      events.Sink
	cfg       CheckServiceConfig
	clock     quartz.Clock
	logger    *zap.Logger
}

// NewCheckService creates a CheckService. router and sink may be nil.
func NewCheckService(
	checks repositories.CheckRepository,
	queries repositories.QueryRepository,
	runner RunController,
	registry *detectors.Registry,
	router *notify.Router,
	sink events.Sink,
	cfg CheckServiceConfig,
	logger *zap.Logger,
) CheckService {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	clock := cfg.Clock
	if clock == nil {
		clock = quartz.NewReal()
	}
	return &checkService{
		checks:    checks,
		queries:   queries,
		runner:    runner,
		detectors: registry,
		router:    router,
		sink:      sink,
		cfg:       cfg,
		clock:     clock,
		logger:    logger.Named("check-service"),
	}
}

var _ CheckService = (*checkService)(nil)

func (s *checkService) RunCheck(ctx context.Context, check *models.Check) (*CheckRun, error) {
	event := models.CheckRunEvent{
		CheckID:    check.ID,
		QueryID:    check.QueryID,
		Schedule:   check.Schedule,
		PriorState: check.State,
		NewState:   check.State,
	}
	if check.State == models.CheckStateDisabled {
		event.Skipped = true
		return &CheckRun{Event: event, Check: *check}, nil
	}

	query, err := s.queries.Get(ctx, check.QueryID)
	if err != nil {
		return nil, fmt.Errorf("failed to load query for check %s: %w", check.ID, err)
	}

	start := s.clock.Now()
	result, info := s.runner.Run(ctx, query.StatementFor(nil), RunRequest{
		RefreshCache: true,
		Retry:        true,
	})

	state, message := Transition(result, s.withAlgorithm(check), s.detectors)
	if info.Attempts > 1 {
		message = fmt.Sprintf("%s (after %d attempts)", message, info.Attempts)
	}
	ranAt := s.clock.Now()

	event.NewState = state
	event.RowCount = result.RowCount()
	event.Error = result.Error
	event.Attempts = info.Attempts
	event.DurationMs = ranAt.Sub(start).Milliseconds()

	// The state may have changed while the run was in flight.
	err = s.checks.UpdateRunState(ctx, check.ID, state, message, ranAt)
	switch {
	case errors.Is(err, apperrors.ErrNotFound), errors.Is(err, apperrors.ErrCheckDisabled):
		s.logger.Info("Check changed during run, result discarded",
			zap.String("check_id", check.ID.String()),
			zap.Error(err))
		event.Skipped = true
	case err != nil:
		return nil, err
	}

	s.logger.Info("Check run",
		zap.String("check_id", check.ID.String()),
		zap.String("query", query.Name),
		zap.String("data_source", query.DataSourceID),
		zap.String("statement", logging.SanitizeStatement(info.Bound)),
		zap.String("state", string(state)),
		zap.Int("rows", event.RowCount),
		zap.String("error", event.Error),
		zap.Int("tries", info.Attempts))

	if s.sink != nil {
		if err := s.sink.Publish(ctx, event); err != nil {
			s.logger.Warn("Failed to publish check run event",
				zap.String("check_id", check.ID.String()),
				zap.Error(err))
		}
	}

	updated := *check
	if !event.Skipped {
		updated.State = state
		updated.Message = message
		updated.LastRunAt = &ranAt
	}
	if updated.QueryName == "" {
		updated.QueryName = query.Name
	}

	return &CheckRun{
		Event:  event,
		Check:  updated,
		Notify: s.shouldNotify(event),
	}, nil
}

// shouldNotify routes runs that moved into a bad state, or every bad run with Renotify.
func (s *checkService) shouldNotify(e models.CheckRunEvent) bool {
	if e.Skipped || !e.NewState.IsBad() {
		return false
	}
	return s.cfg.Renotify || e.Transitioned()
}

// withAlgorithm fills in the configured default algorithm for anomaly and forecast checks.
func (s *checkService) withAlgorithm(check *models.Check) *models.Check {
	if check.Algorithm != "" {
		return check
	}
	c := *check
	switch check.CheckType {
	case models.CheckTypeAnomaly:
		c.Algorithm = s.cfg.AnomalyDetector
	case models.CheckTypeForecast:
		c.Algorithm = s.cfg.Forecaster
	}
	return &c
}

func (s *checkService) RunChecks(ctx context.Context, schedule string) (*BatchReport, error) {
	checks, err := s.checks.List(ctx, schedule)
	if err != nil {
		return nil, fmt.Errorf("failed to list checks: %w", err)
	}

	report := &BatchReport{
		Schedule: schedule,
		Failed:   make(map[uuid.UUID]error),
	}

	var (
		mu       sync.Mutex
		pending  []models.Check
		disabled int
	)

	queue := workqueue.New(s.logger, workqueue.WithConcurrency(s.cfg.Workers), workqueue.WithContext(ctx))
	defer queue.Close()

	for _, c := range checks {
		if c.State == models.CheckStateDisabled {
			disabled++
			continue
		}

		check := c
		task := workqueue.NewFuncTaskWithID(check.ID.String(), "check "+check.QueryName, func(taskCtx context.Context) error {
			run, err := s.RunCheck(taskCtx, check)
			if err != nil {
				return err
			}

			mu.Lock()
			defer mu.Unlock()
			report.Events = append(report.Events, run.Event)
			if run.Event.Skipped {
				report.Skipped++
			} else {
				report.Ran++
			}
			if run.Notify {
				pending = append(pending, run.Check)
			}
			return nil
		})
		if err := queue.Enqueue(task); err != nil {
			report.Failed[check.ID] = err
		}
	}

	// Per-check failures are collected from the task snapshots below.
	if err := queue.Wait(ctx); err != nil && ctx.Err() != nil {
		// Tasks may still be finishing, so hand back a copy.
		mu.Lock()
		defer mu.Unlock()
		partial := *report
		partial.Events = slices.Clone(report.Events)
		partial.Failed = maps.Clone(report.Failed)
		partial.Skipped += disabled
		return &partial, err
	}
	report.Skipped += disabled

	for _, snap := range queue.GetTasks() {
		if snap.Status != workqueue.TaskStatusFailed {
			continue
		}
		id, err := uuid.Parse(snap.ID)
		if err != nil {
			continue
		}
		report.Failed[id] = errors.New(snap.Error)
		s.logger.Error("Check failed",
			zap.String("check_id", snap.ID),
			zap.String("error", snap.Error))
	}

	if len(pending) > 0 && s.router != nil {
		report.Notified = s.router.Route(ctx, pending)
	}

	s.logger.Info("Ran checks",
		zap.String("schedule", schedule),
		zap.Int("ran", report.Ran),
		zap.Int("skipped", report.Skipped),
		zap.Int("failed", len(report.Failed)),
		zap.Int("notified", len(pending)))

	return report, nil
}

func (s *checkService) SendFailingChecks(ctx context.Context) (notify.Report, error) {
	checks, err := s.checks.ListByStates(ctx, NotifiableStates...)
	if err != nil {
		return notify.Report{}, fmt.Errorf("failed to list failing checks: %w", err)
	}
	if len(checks) == 0 || s.router == nil {
		return notify.Report{}, nil
	}

	digest := make([]models.Check, len(checks))
	for i, c := range checks {
		digest[i] = *c
	}
	return s.router.Route(ctx, digest), nil
}
