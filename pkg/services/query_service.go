package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/coder/quartz"
	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-monitor/pkg/adapters/datasource"
	"github.com/ekaya-inc/ekaya-monitor/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-monitor/pkg/audit"
	"github.com/ekaya-inc/ekaya-monitor/pkg/models"
	"github.com/ekaya-inc/ekaya-monitor/pkg/repositories"
	sqlbind "github.com/ekaya-inc/ekaya-monitor/pkg/sql"
	"github.com/ekaya-inc/ekaya-monitor/pkg/workqueue"
)

const (
	// ArchiveAfter is how long a query may go without an audit before ArchiveUnviewed archives it.
	ArchiveAfter = 90 * 24 * time.Hour

	asyncRunCapacity  = 1024
	asyncRunRetention = time.Hour
)

// AdHocRequest is one interactive run. Either Statement or QueryID must be set;
// with both, Statement runs and the audit row points at QueryID.
type AdHocRequest struct {
	Statement    string         `json:"statement,omitempty"`
	DataSourceID string         `json:"data_source_id,omitempty"`
	QueryID      *uuid.UUID     `json:"query_id,omitempty"`
	Variables    map[string]any `json:"variables,omitempty"`
	UserID       string         `json:"-"`
	RefreshCache bool           `json:"refresh_cache,omitempty"`
}

// AdHocResult is the outcome of an interactive run.
type AdHocResult struct {
	RunID  uuid.UUID          `json:"run_id"`
	Result *datasource.Result `json:"result,omitempty"`
	Info   RunInfo            `json:"-"`
	Done   bool               `json:"done"`
}

// QueryService runs interactive statements and maintains saved queries.
type QueryService interface {
	// RunAdHoc runs a statement once, without retries. Statement problems
	// are reported on the Result; the error is for infrastructure failures.
	RunAdHoc(ctx context.Context, req AdHocRequest) (*AdHocResult, error)

	// Start runs req in the background and returns its run id for Poll and Cancel.
	Start(ctx context.Context, req AdHocRequest) (uuid.UUID, error)

	// Poll returns the state of a background run, or apperrors.ErrNotFound.
	Poll(ctx context.Context, runID uuid.UUID) (*AdHocResult, error)

	// Cancel abandons the run with runID on its data source.
	Cancel(ctx context.Context, dataSourceID string, runID uuid.UUID) error

	// ArchiveUnviewed archives active queries with no audit in ArchiveAfter.
	// It needs audits enabled and returns apperrors.ErrAuditDisabled otherwise.
	ArchiveUnviewed(ctx context.Context) (int64, error)
}

// QueryServiceConfig tunes ad-hoc runs.
type QueryServiceConfig struct {
	Audit   bool
	Workers int
	Clock   quartz.Clock
}

type asyncRun struct {
	mu     sync.Mutex
	result *AdHocResult
}

type queryService struct {
	sources *datasource.Set
	runner  RunController
	queries repositories.QueryRepository
	audits  repositories.AuditRepository
	auditor *audit.SecurityAuditor
	queue   *workqueue.Queue
	runs    *expirable.LRU[uuid.UUID, *asyncRun]
	cfg     QueryServiceConfig
	clock   quartz.Clock
	logger  *zap.Logger
}

// NewQueryService creates a QueryService.
func NewQueryService(
	sources *datasource.Set,
	runner RunController,
	queries repositories.QueryRepository,
	audits repositories.AuditRepository,
	auditor *audit.SecurityAuditor,
	cfg QueryServiceConfig,
	logger *zap.Logger,
) QueryService {
	clock := cfg.Clock
	if clock == nil {
		clock = quartz.NewReal()
	}
	logger = logger.Named("query-service")
	return &queryService{
		sources: sources,
		runner:  runner,
		queries: queries,
		audits:  audits,
		auditor: auditor,
		queue:   workqueue.New(logger, workqueue.WithConcurrency(cfg.Workers)),
		runs:    expirable.NewLRU[uuid.UUID, *asyncRun](asyncRunCapacity, nil, asyncRunRetention),
		cfg:     cfg,
		clock:   clock,
		logger:  logger,
	}
}

var _ QueryService = (*queryService)(nil)

func (s *queryService) RunAdHoc(ctx context.Context, req AdHocRequest) (*AdHocResult, error) {
	return s.run(ctx, req, uuid.New())
}

func (s *queryService) run(ctx context.Context, req AdHocRequest, runID uuid.UUID) (*AdHocResult, error) {
	stmt, err := s.statement(ctx, req)
	if err != nil {
		return nil, err
	}

	actor := audit.Actor{UserID: req.UserID, QueryID: req.QueryID, DataSourceID: stmt.DataSourceID}

	if ds, err := s.sources.Get(stmt.DataSourceID); err == nil {
		normalized, err := sqlbind.ValidateSingleStatement(stmt.Template, ds.Dialect())
		if err != nil {
			return &AdHocResult{
				RunID:  runID,
				Result: datasource.NewErrorResult(datasource.ErrorKindSyntax, err, 0),
				Done:   true,
			}, nil
		}
		stmt.Template = normalized
	}

	for _, flagged := range sqlbind.CheckVariablesForInjection(stmt.Variables) {
		s.auditor.LogInjectionAttempt(ctx, actor, audit.SQLInjectionDetails{
			ParamName:   flagged.VariableName,
			ParamValue:  flagged.Value,
			Fingerprint: flagged.Fingerprint,
		})
	}

	result, info := s.runner.Run(ctx, stmt, RunRequest{
		RefreshCache: req.RefreshCache,
		Handle:       runID,
	})

	if info.Bound == "" && result.Failed() {
		s.auditor.LogParameterValidation(ctx, actor, result.Error)
	} else {
		s.record(ctx, actor, info.Bound)
	}

	return &AdHocResult{RunID: runID, Result: result, Info: info, Done: true}, nil
}

// statement builds the statement for req from its text or its saved query.
func (s *queryService) statement(ctx context.Context, req AdHocRequest) (models.Statement, error) {
	if req.Statement == "" {
		if req.QueryID == nil {
			return models.Statement{}, fmt.Errorf("statement or query id is required")
		}
		query, err := s.queries.Get(ctx, *req.QueryID)
		if err != nil {
			return models.Statement{}, err
		}
		return query.StatementFor(req.Variables), nil
	}

	vars := make(map[string]models.Variable, len(req.Variables))
	for name, v := range req.Variables {
		vars[name] = models.Variable{Name: name, Value: v}
	}
	return models.Statement{
		Template:     req.Statement,
		Variables:    vars,
		DataSourceID: req.DataSourceID,
	}, nil
}

// record writes the audit row. A failed write is logged and the run still succeeds.
func (s *queryService) record(ctx context.Context, actor audit.Actor, statement string) {
	if !s.cfg.Audit {
		return
	}
	s.auditor.LogQueryExecution(ctx, actor, statement)

	err := s.audits.Create(ctx, &models.Audit{
		QueryID:      actor.QueryID,
		UserID:       actor.UserID,
		Statement:    statement,
		DataSourceID: actor.DataSourceID,
	})
	if err != nil {
		s.logger.Error("Failed to record audit",
			zap.String("data_source", actor.DataSourceID),
			zap.Error(err))
	}
}

func (s *queryService) Start(ctx context.Context, req AdHocRequest) (uuid.UUID, error) {
	runID := uuid.New()
	run := &asyncRun{result: &AdHocResult{RunID: runID}}
	s.runs.Add(runID, run)

	s.queue.Prune()
	task := workqueue.NewFuncTaskWithID(runID.String(), "ad-hoc run", func(taskCtx context.Context) error {
		// The run outlives the request that started it.
		res, err := s.run(context.WithoutCancel(ctx), req, runID)
		if err != nil {
			res = &AdHocResult{
				RunID:  runID,
				Result: datasource.NewErrorResult(datasource.ErrorKindUnknown, err, 0),
				Done:   true,
			}
		}
		run.mu.Lock()
		run.result = res
		run.mu.Unlock()
		return err
	})
	if err := s.queue.Enqueue(task); err != nil {
		s.runs.Remove(runID)
		return uuid.Nil, fmt.Errorf("failed to start run: %w", err)
	}
	return runID, nil
}

func (s *queryService) Poll(_ context.Context, runID uuid.UUID) (*AdHocResult, error) {
	run, ok := s.runs.Get(runID)
	if !ok {
		return nil, fmt.Errorf("run %s: %w", runID, apperrors.ErrNotFound)
	}
	run.mu.Lock()
	defer run.mu.Unlock()
	res := *run.result
	return &res, nil
}

func (s *queryService) Cancel(ctx context.Context, dataSourceID string, runID uuid.UUID) error {
	return s.runner.Cancel(ctx, dataSourceID, runID)
}

func (s *queryService) ArchiveUnviewed(ctx context.Context) (int64, error) {
	if !s.cfg.Audit {
		return 0, apperrors.ErrAuditDisabled
	}

	stale, err := s.queries.ListActiveWithoutAuditsSince(ctx, s.clock.Now().Add(-ArchiveAfter))
	if err != nil {
		return 0, err
	}
	if len(stale) == 0 {
		return 0, nil
	}

	ids := make([]uuid.UUID, len(stale))
	for i, q := range stale {
		ids[i] = q.ID
	}
	n, err := s.queries.Archive(ctx, ids)
	if err != nil {
		return 0, err
	}

	s.logger.Info("Archived unviewed queries", zap.Int64("archived", n))
	return n, nil
}
