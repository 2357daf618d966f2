package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-monitor/pkg/adapters/datasource"
	"github.com/ekaya-inc/ekaya-monitor/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-monitor/pkg/cache"
	"github.com/ekaya-inc/ekaya-monitor/pkg/models"
	sqlbind "github.com/ekaya-inc/ekaya-monitor/pkg/sql"
)

// RunRequest selects how one statement is run.
type RunRequest struct {
	// RefreshCache skips a fresh cache hit on the first attempt.
	RefreshCache bool
	// Retry enables the timeout and reconnect retry budget used by scheduled checks.
	Retry bool
	// Handle identifies the run for Cancel; uuid.Nil runs are not cancellable.
	Handle uuid.UUID
}

// RunInfo describes how a result was obtained.
type RunInfo struct {
	Attempts    int
	Fingerprint string
	Bound       string
}

// RunController binds statements and runs them through the result cache.
// It never returns a Go error for backend failures: they are on the Result.
type RunController interface {
	Run(ctx context.Context, stmt models.Statement, req RunRequest) (*datasource.Result, RunInfo)
	Cancel(ctx context.Context, dataSourceID string, handle uuid.UUID) error
}

// RunControllerConfig holds the retry budget and cache lifetime.
type RunControllerConfig struct {
	MaxAttempts  int
	RetryBackoff time.Duration
	CacheTTL     time.Duration
}

// RunControllerOption configures a RunController.
type RunControllerOption func(*runController)

// WithSleep replaces the backoff sleep. Tests use it to skip the wait.
func WithSleep(sleep func(time.Duration)) RunControllerOption {
	return func(c *runController) {
		c.sleep = sleep
	}
}

type runController struct {
	sources *datasource.Set
	cache   *cache.ResultCache
	cfg     RunControllerConfig
	sleep   func(time.Duration)
	logger  *zap.Logger
}

// NewRunController creates a RunController over the configured data sources.
func NewRunController(sources *datasource.Set, rc *cache.ResultCache, cfg RunControllerConfig, logger *zap.Logger, opts ...RunControllerOption) RunController {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 3
	}
	c := &runController{
		sources: sources,
		cache:   rc,
		cfg:     cfg,
		sleep:   time.Sleep,
		logger:  logger.Named("run-controller"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

var _ RunController = (*runController)(nil)

func (c *runController) Run(ctx context.Context, stmt models.Statement, req RunRequest) (*datasource.Result, RunInfo) {
	var info RunInfo

	ds, err := c.sources.Get(stmt.DataSourceID)
	if err != nil {
		return datasource.NewErrorResult(datasource.ErrorKindUnknown, &apperrors.MessageError{
			Msg: fmt.Sprintf("Unknown data source: %s", stmt.DataSourceID),
			Err: err,
		}, 0), info
	}

	text, err := sqlbind.Bind(stmt.Template, stmt.Variables, ds.Dialect(), ds.Adapter())
	if err != nil {
		return bindErrorResult(err), info
	}

	bound := models.BoundStatement{Text: text, DataSourceID: ds.ID}
	info.Bound = bound.Text
	info.Fingerprint = bound.Fingerprint()

	maxAttempts := 1
	if req.Retry {
		maxAttempts = c.cfg.MaxAttempts
		// A check run completes its attempt budget even if the caller goes away.
		ctx = context.WithoutCancel(ctx)
	}

	run := func(runCtx context.Context) *datasource.Result {
		return ds.Run(runCtx, bound.Text, datasource.RunOptions{Handle: req.Handle})
	}

	force := req.RefreshCache
	var result *datasource.Result
	for attempt := 1; ; attempt++ {
		info.Attempts = attempt
		result = c.cache.FetchOrRun(ctx, cache.Request{
			Fingerprint:  info.Fingerprint,
			TTL:          c.cfg.CacheTTL,
			ForceRefresh: force,
			Mode:         ds.CacheMode,
		}, run)

		if !result.Failed() || attempt >= maxAttempts || !c.retryable(ctx, ds, result, attempt) {
			return result, info
		}

		c.sleep(c.cfg.RetryBackoff)
		force = true
	}
}

// retryable reports whether another attempt should follow result, reconnecting
// first when the connection was lost.
func (c *runController) retryable(ctx context.Context, ds *datasource.DataSource, result *datasource.Result, attempt int) bool {
	switch {
	case result.TimedOut:
		c.logger.Info("Statement timed out, retrying",
			zap.String("data_source", ds.ID),
			zap.Int("attempt", attempt))
		return true

	case result.ErrorKind == datasource.ErrorKindConnection:
		if err := ds.Reconnect(ctx); err != nil {
			c.logger.Warn("Reconnect failed",
				zap.String("data_source", ds.ID),
				zap.Error(err))
		} else {
			c.logger.Info("Reconnected data source, retrying",
				zap.String("data_source", ds.ID),
				zap.Int("attempt", attempt))
		}
		return true
	}
	return false
}

func (c *runController) Cancel(ctx context.Context, dataSourceID string, handle uuid.UUID) error {
	ds, err := c.sources.Get(dataSourceID)
	if err != nil {
		return err
	}
	return ds.Cancel(ctx, handle)
}

func bindErrorResult(err error) *datasource.Result {
	if errors.Is(err, apperrors.ErrInvalidVariablePosition) {
		return datasource.NewErrorResult(datasource.ErrorKindSyntax, errors.New(datasource.VariableMessage), 0)
	}
	return datasource.NewErrorResult(datasource.ErrorKindSyntax, err, 0)
}
