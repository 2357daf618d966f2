package cache

import (
	"context"
	"errors"
	"time"

	"github.com/coder/quartz"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/ekaya-inc/ekaya-monitor/pkg/adapters/datasource"
	"github.com/ekaya-inc/ekaya-monitor/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-monitor/pkg/metrics"
)

// Cache modes. ModeSlow only keeps results whose runtime reached the slow threshold.
const (
	ModeAll  = "all"
	ModeSlow = "slow"
	ModeOff  = "off"
)

// RunFunc produces a fresh result on a miss.
type RunFunc func(ctx context.Context) *datasource.Result

// Request describes one FetchOrRun call.
type Request struct {
	Fingerprint  string
	TTL          time.Duration
	ForceRefresh bool
	// Mode overrides the cache-wide mode for this call; empty uses the default.
	Mode string
}

// Options configures a ResultCache.
type Options struct {
	Enabled       bool
	Mode          string
	SlowThreshold time.Duration
	Clock         quartz.Clock
	Metrics       *metrics.Metrics
}

// ResultCache collapses concurrent runs of the same fingerprint and keeps
// successful results for reuse.
type ResultCache struct {
	store         Store
	group         singleflight.Group
	clock         quartz.Clock
	enabled       bool
	mode          string
	slowThreshold time.Duration
	metrics       *metrics.Metrics
	logger        *zap.Logger
}

// New creates a result cache over store.
func New(store Store, opts Options, logger *zap.Logger) *ResultCache {
	if opts.Clock == nil {
		opts.Clock = quartz.NewReal()
	}
	if opts.Mode == "" {
		opts.Mode = ModeAll
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.New(nil)
	}
	return &ResultCache{
		store:         store,
		clock:         opts.Clock,
		enabled:       opts.Enabled && store != nil,
		mode:          opts.Mode,
		slowThreshold: opts.SlowThreshold,
		metrics:       opts.Metrics,
		logger:        logger.Named("cache"),
	}
}

// Lookup returns the stored result for fingerprint when it has not expired.
func (c *ResultCache) Lookup(ctx context.Context, fingerprint string) (*datasource.Result, bool) {
	if !c.enabled {
		return nil, false
	}

	e, err := c.store.Get(ctx, fingerprint)
	if err != nil {
		if !errors.Is(err, apperrors.ErrCacheMiss) {
			c.logger.Warn("cache read failed", zap.String("fingerprint", fingerprint), zap.Error(err))
		}
		c.metrics.CacheMisses.Inc()
		return nil, false
	}

	if e.Result == nil || !c.clock.Now().Before(e.ExpiresAt) {
		c.metrics.CacheMisses.Inc()
		return nil, false
	}

	c.metrics.CacheHits.Inc()
	return e.Result.Clone(), true
}

// FetchOrRun returns a fresh cached result or runs the statement. At most one
// run per fingerprint is in flight; concurrent callers, including those
// forcing a refresh, wait for it and share its outcome. Failed results are
// never stored.
func (c *ResultCache) FetchOrRun(ctx context.Context, req Request, run RunFunc) *datasource.Result {
	mode := req.Mode
	if mode == "" {
		mode = c.mode
	}
	useStore := c.enabled && mode != ModeOff

	if useStore && !req.ForceRefresh {
		if r, ok := c.Lookup(ctx, req.Fingerprint); ok {
			return r
		}
	}

	leader := false
	v, _, shared := c.group.Do(req.Fingerprint, func() (any, error) {
		leader = true
		// The shared run must not die with whichever caller started it.
		result := run(context.WithoutCancel(ctx))
		if result == nil {
			result = datasource.NewErrorResult(datasource.ErrorKindUnknown, nil, 0)
		}
		if useStore && c.cacheable(result, mode) {
			result = c.write(ctx, req, result)
		}
		return result, nil
	})
	if shared && !leader {
		c.metrics.CacheShared.Inc()
	}

	return v.(*datasource.Result).Clone()
}

func (c *ResultCache) cacheable(r *datasource.Result, mode string) bool {
	if r.Failed() {
		return false
	}
	if mode == ModeSlow && r.Runtime < c.slowThreshold {
		return false
	}
	return true
}

func (c *ResultCache) write(ctx context.Context, req Request, r *datasource.Result) *datasource.Result {
	now := c.clock.Now()
	stored := r.WithCachedAt(now)
	err := c.store.Set(ctx, &Entry{
		Fingerprint: req.Fingerprint,
		Result:      stored,
		ExpiresAt:   now.Add(req.TTL),
	})
	if err != nil {
		c.logger.Warn("cache write failed", zap.String("fingerprint", req.Fingerprint), zap.Error(err))
		return r
	}
	c.metrics.CacheWrites.Inc()
	return stored
}
