// Package events publishes one structured event per completed check run.
package events

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-monitor/pkg/metrics"
	"github.com/ekaya-inc/ekaya-monitor/pkg/models"
)

// Sink receives check run events. Publish must not block the check loop for long.
type Sink interface {
	Publish(ctx context.Context, event models.CheckRunEvent) error
}

// LogSink writes events as structured log lines.
type LogSink struct {
	logger *zap.Logger
}

func NewLogSink(logger *zap.Logger) *LogSink {
	return &LogSink{logger: logger.Named("events")}
}

func (s *LogSink) Publish(_ context.Context, e models.CheckRunEvent) error {
	s.logger.Info("check run",
		zap.String("check_id", e.CheckID.String()),
		zap.String("query_id", e.QueryID.String()),
		zap.String("prior_state", string(e.PriorState)),
		zap.String("new_state", string(e.NewState)),
		zap.Int("row_count", e.RowCount),
		zap.String("error", e.Error),
		zap.Int("attempts", e.Attempts),
		zap.Int64("duration_ms", e.DurationMs),
		zap.Bool("skipped", e.Skipped))
	return nil
}

// MetricsSink records events in Prometheus.
type MetricsSink struct {
	metrics *metrics.Metrics
}

func NewMetricsSink(m *metrics.Metrics) *MetricsSink {
	return &MetricsSink{metrics: m}
}

func (s *MetricsSink) Publish(_ context.Context, e models.CheckRunEvent) error {
	if e.Skipped {
		return nil
	}
	s.metrics.CheckRuns.WithLabelValues(string(e.NewState)).Inc()
	s.metrics.CheckAttempts.Observe(float64(e.Attempts))
	s.metrics.CheckDuration.Observe((time.Duration(e.DurationMs) * time.Millisecond).Seconds())
	return nil
}

// MultiSink publishes to every sink and joins their errors.
type MultiSink []Sink

func (m MultiSink) Publish(ctx context.Context, e models.CheckRunEvent) error {
	var errs []error
	for _, s := range m {
		if err := s.Publish(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
