package detectors

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var day0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func daily(values ...float64) Series {
	s := Series{Times: make([]time.Time, len(values)), Values: values}
	for i := range values {
		s.Times[i] = day0.AddDate(0, 0, i)
	}
	return s
}

func TestRobustZScore(t *testing.T) {
	tests := []struct {
		name      string
		series    Series
		params    Params
		anomalous bool
	}{
		{"steady", daily(10, 11, 10, 12, 11, 10, 11), Params{}, false},
		{"spike", daily(10, 11, 10, 12, 11, 10, 50), Params{}, true},
		{"drop", daily(10, 11, 10, 12, 11, 10, -20), Params{}, true},
		{"loose tolerance hides spike", daily(10, 11, 10, 12, 11, 10, 14), Params{Tolerance: 10}, false},
		{"constant history same value", daily(5, 5, 5, 5), Params{}, false},
		{"constant history new value", daily(5, 5, 5, 6), Params{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, err := RobustZScore(tt.series, tt.params)
			require.NoError(t, err)
			assert.Equal(t, tt.anomalous, v.Anomalous, "score %v", v.Score)
			_, latest := tt.series.Last()
			assert.Equal(t, latest, v.Actual)
		})
	}
}

func TestRobustZScore_ConstantHistoryScoreIsInfinite(t *testing.T) {
	v, err := RobustZScore(daily(5, 5, 5, 6), Params{})
	require.NoError(t, err)
	assert.True(t, math.IsInf(v.Score, 1))
	assert.NotEmpty(t, v.Reason)
}

func TestIQR(t *testing.T) {
	v, err := IQR(daily(10, 12, 11, 13, 12, 11, 12), Params{})
	require.NoError(t, err)
	assert.False(t, v.Anomalous)

	v, err = IQR(daily(10, 12, 11, 13, 12, 11, 40), Params{})
	require.NoError(t, err)
	assert.True(t, v.Anomalous)
	assert.Contains(t, v.Reason, "outside")
}

func TestDetectors_InsufficientData(t *testing.T) {
	_, err := RobustZScore(daily(1, 2), Params{})
	assert.True(t, errors.Is(err, ErrInsufficientData))

	_, err = IQR(daily(1, 2, 3, 4), Params{})
	assert.True(t, errors.Is(err, ErrInsufficientData))

	_, err = RobustZScore(Series{}, Params{})
	assert.True(t, errors.Is(err, ErrInsufficientData))

	_, err = LinearTrend(daily(1), day0)
	assert.True(t, errors.Is(err, ErrInsufficientData))

	_, err = MovingAverage(Series{}, day0)
	assert.True(t, errors.Is(err, ErrInsufficientData))
}

func TestLinearTrend(t *testing.T) {
	got, err := LinearTrend(daily(10, 20, 30, 40), day0.AddDate(0, 0, 4))
	require.NoError(t, err)
	assert.InDelta(t, 50, got, 1e-6)
}

func TestLinearTrend_SameTimestamp(t *testing.T) {
	s := Series{Times: []time.Time{day0, day0, day0}, Values: []float64{1, 2, 3}}
	got, err := LinearTrend(s, day0.AddDate(0, 0, 1))
	require.NoError(t, err)
	assert.InDelta(t, 2, got, 1e-9)
}

func TestMovingAverage(t *testing.T) {
	got, err := MovingAverage(daily(100, 1, 2, 3, 4, 5, 6, 7), day0)
	require.NoError(t, err)
	assert.InDelta(t, 4, got, 1e-9)

	got, err = MovingAverage(daily(2, 4), day0)
	require.NoError(t, err)
	assert.InDelta(t, 3, got, 1e-9)
}

func TestStats(t *testing.T) {
	assert.Equal(t, 2.5, Median([]float64{4, 1, 3, 2}))
	assert.Equal(t, 3.0, Median([]float64{5, 1, 3}))
	assert.Equal(t, 1.0, MAD([]float64{1, 2, 3, 4, 5}, 3))
	assert.Equal(t, 1.75, Quantile([]float64{1, 2, 3, 4}, 0.25))
	assert.Equal(t, 0.0, Mean(nil))

	slope, intercept, ok := LinearRegression([]float64{0, 1, 2}, []float64{1, 3, 5})
	require.True(t, ok)
	assert.InDelta(t, 2, slope, 1e-9)
	assert.InDelta(t, 1, intercept, 1e-9)

	_, _, ok = LinearRegression([]float64{1}, []float64{1})
	assert.False(t, ok)

	_, _, ok = LinearRegression([]float64{4, 4, 4}, []float64{1, 2, 3})
	assert.False(t, ok)

	assert.InDelta(t, 2.5, Mean([]float64{1, 2, 3, 4}), 1e-12)
}
