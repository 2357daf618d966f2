// Package detectors holds the named anomaly detectors and forecasters that
// anomaly and forecast checks look up at run time.
package detectors

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ekaya-inc/ekaya-monitor/pkg/apperrors"
)

// ErrInsufficientData means the series is too short for the algorithm.
var ErrInsufficientData = errors.New("insufficient data")

// Params tunes an algorithm for one check. Zero values select the algorithm default.
type Params struct {
	Tolerance float64
}

// Verdict is an anomaly detector's judgement of the latest point.
type Verdict struct {
	Anomalous bool
	Actual    float64
	Expected  float64
	Score     float64
	Reason    string
}

// AnomalyDetector judges the last point of s against the points before it.
type AnomalyDetector func(s Series, p Params) (Verdict, error)

// Forecaster predicts the value at time at from history.
type Forecaster func(history Series, at time.Time) (float64, error)

// Registry maps algorithm names to implementations. It is populated once at
// startup and read concurrently afterwards.
type Registry struct {
	mu          sync.RWMutex
	detectors   map[string]AnomalyDetector
	forecasters map[string]Forecaster
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		detectors:   make(map[string]AnomalyDetector),
		forecasters: make(map[string]Forecaster),
	}
}

// RegisterAnomalyDetector adds a detector. Names are unique.
func (r *Registry) RegisterAnomalyDetector(name string, fn AnomalyDetector) error {
	if name == "" || fn == nil {
		return fmt.Errorf("anomaly detector requires a name and a function")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.detectors[name]; exists {
		return fmt.Errorf("anomaly detector %q already registered", name)
	}
	r.detectors[name] = fn
	return nil
}

// RegisterForecaster adds a forecaster. Names are unique.
func (r *Registry) RegisterForecaster(name string, fn Forecaster) error {
	if name == "" || fn == nil {
		return fmt.Errorf("forecaster requires a name and a function")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.forecasters[name]; exists {
		return fmt.Errorf("forecaster %q already registered", name)
	}
	r.forecasters[name] = fn
	return nil
}

// AnomalyDetector returns the named detector or an error wrapping
// apperrors.ErrUnknownAlgorithm. There is no fallback.
func (r *Registry) AnomalyDetector(name string) (AnomalyDetector, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	fn, ok := r.detectors[name]
	if !ok {
		return nil, fmt.Errorf("%w: anomaly detector %q", apperrors.ErrUnknownAlgorithm, name)
	}
	return fn, nil
}

// Forecaster returns the named forecaster or an error wrapping
// apperrors.ErrUnknownAlgorithm.
func (r *Registry) Forecaster(name string) (Forecaster, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	fn, ok := r.forecasters[name]
	if !ok {
		return nil, fmt.Errorf("%w: forecaster %q", apperrors.ErrUnknownAlgorithm, name)
	}
	return fn, nil
}

// Names lists registered detector and forecaster names, sorted.
func (r *Registry) Names() (detectors []string, forecasters []string) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for name := range r.detectors {
		detectors = append(detectors, name)
	}
	for name := range r.forecasters {
		forecasters = append(forecasters, name)
	}
	sort.Strings(detectors)
	sort.Strings(forecasters)
	return detectors, forecasters
}

// RegisterBuiltins adds the bundled algorithms.
func RegisterBuiltins(r *Registry) error {
	for name, fn := range map[string]AnomalyDetector{
		"robust_zscore": RobustZScore,
		"iqr":           IQR,
	} {
		if err := r.RegisterAnomalyDetector(name, fn); err != nil {
			return err
		}
	}
	for name, fn := range map[string]Forecaster{
		"linear_trend":   LinearTrend,
		"moving_average": MovingAverage,
	} {
		if err := r.RegisterForecaster(name, fn); err != nil {
			return err
		}
	}
	return nil
}
