// Package metrics holds the Prometheus collectors shared by the cache, the
// check engine and the event sinks.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "monitor"

// Metrics is the set of collectors the monitor exports.
type Metrics struct {
	CacheHits   prometheus.Counter
	CacheMisses prometheus.Counter
	CacheWrites prometheus.Counter
	// CacheShared counts callers that joined an in-flight run instead of starting one.
	CacheShared prometheus.Counter

	CheckRuns     *prometheus.CounterVec
	CheckAttempts prometheus.Histogram
	CheckDuration prometheus.Histogram

	Notifications *prometheus.CounterVec
}

// New creates the collectors and registers them with reg. A nil reg leaves
// them unregistered, which tests use to avoid global state.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		CacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_hits_total",
			Help:      "Result cache lookups that returned a fresh entry.",
		}),
		CacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_misses_total",
			Help:      "Result cache lookups that found no fresh entry.",
		}),
		CacheWrites: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_writes_total",
			Help:      "Results written to the cache.",
		}),
		CacheShared: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_shared_total",
			Help:      "Callers served by another caller's in-flight run.",
		}),
		CheckRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "check_runs_total",
			Help:      "Completed check runs by resulting state.",
		}, []string{"state"}),
		CheckAttempts: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "check_attempts",
			Help:      "Attempts needed per check run.",
			Buckets:   []float64{1, 2, 3, 4, 5},
		}),
		CheckDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "check_duration_seconds",
			Help:      "Wall time of check runs including retries.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 4, 8),
		}),
		Notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Notification deliveries by channel and outcome.",
		}, []string{"channel", "outcome"}),
	}

	if reg != nil {
		reg.MustRegister(
			m.CacheHits, m.CacheMisses, m.CacheWrites, m.CacheShared,
			m.CheckRuns, m.CheckAttempts, m.CheckDuration,
			m.Notifications,
		)
	}
	return m
}
