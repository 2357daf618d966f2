package detectors

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ekaya-inc/ekaya-monitor/pkg/apperrors"
)

func TestRegistry_Builtins(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, RegisterBuiltins(r))

	detectors, forecasters := r.Names()
	assert.Equal(t, []string{"iqr", "robust_zscore"}, detectors)
	assert.Equal(t, []string{"linear_trend", "moving_average"}, forecasters)

	_, err := r.AnomalyDetector("robust_zscore")
	assert.NoError(t, err)
	_, err = r.Forecaster("linear_trend")
	assert.NoError(t, err)
}

func TestRegistry_UnknownAlgorithm(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, RegisterBuiltins(r))

	_, err := r.AnomalyDetector("prophet")
	assert.True(t, errors.Is(err, apperrors.ErrUnknownAlgorithm))
	assert.Contains(t, err.Error(), "prophet")

	// A forecaster name is not a detector.
	_, err = r.AnomalyDetector("linear_trend")
	assert.True(t, errors.Is(err, apperrors.ErrUnknownAlgorithm))

	_, err = r.Forecaster("")
	assert.True(t, errors.Is(err, apperrors.ErrUnknownAlgorithm))
}

func TestRegistry_RejectsDuplicatesAndEmpty(t *testing.T) {
	r := NewRegistry()
	fn := func(s Series, p Params) (Verdict, error) { return Verdict{}, nil }

	require.NoError(t, r.RegisterAnomalyDetector("custom", fn))
	assert.Error(t, r.RegisterAnomalyDetector("custom", fn))
	assert.Error(t, r.RegisterAnomalyDetector("", fn))
	assert.Error(t, r.RegisterAnomalyDetector("nil", nil))

	fc := func(Series, time.Time) (float64, error) { return 0, nil }
	require.NoError(t, r.RegisterForecaster("custom", fc))
	assert.Error(t, r.RegisterForecaster("custom", fc))

	require.NoError(t, RegisterBuiltins(r))
	assert.Error(t, RegisterBuiltins(r))
}
