package detectors

import (
	"fmt"
	"math"
	"time"
)

const (
	defaultZThreshold = 3.5
	defaultIQRFactor  = 1.5
	movingWindow      = 7
)

// RobustZScore flags the latest point when its modified z-score against the
// median and MAD of the history reaches the tolerance (default 3.5).
func RobustZScore(s Series, p Params) (Verdict, error) {
	history, latest, err := s.splitLast(3)
	if err != nil {
		return Verdict{}, err
	}

	threshold := p.Tolerance
	if threshold <= 0 {
		threshold = defaultZThreshold
	}

	median := Median(history)
	mad := MAD(history, median)
	v := Verdict{Actual: latest, Expected: median}

	if mad == 0 {
		if math.Abs(latest-median) <= epsilon {
			return v, nil
		}
		v.Anomalous = true
		v.Score = math.Inf(1)
		v.Reason = fmt.Sprintf("value %g differs from constant history %g", latest, median)
		return v, nil
	}

	v.Score = 0.6745 * (latest - median) / mad
	if math.Abs(v.Score) >= threshold {
		v.Anomalous = true
		v.Reason = fmt.Sprintf("robust z-score %.2f exceeds %.2f", v.Score, threshold)
	}
	return v, nil
}

// IQR flags the latest point when it lies outside the Tukey fences of the
// history. Tolerance is the fence factor (default 1.5).
func IQR(s Series, p Params) (Verdict, error) {
	history, latest, err := s.splitLast(4)
	if err != nil {
		return Verdict{}, err
	}

	k := p.Tolerance
	if k <= 0 {
		k = defaultIQRFactor
	}

	q1 := Quantile(history, 0.25)
	q3 := Quantile(history, 0.75)
	iqr := q3 - q1
	lower, upper := q1-k*iqr, q3+k*iqr

	v := Verdict{Actual: latest, Expected: Median(history)}
	if iqr > 0 {
		v.Score = (latest - v.Expected) / iqr
	}
	if latest < lower-epsilon || latest > upper+epsilon {
		v.Anomalous = true
		v.Reason = fmt.Sprintf("value %g outside [%g, %g]", latest, lower, upper)
	}
	return v, nil
}

// LinearTrend fits a least-squares line over time and extrapolates to at.
func LinearTrend(history Series, at time.Time) (float64, error) {
	if history.Len() < 2 {
		return 0, fmt.Errorf("%w: linear_trend needs at least 2 points, got %d", ErrInsufficientData, history.Len())
	}

	origin := history.Times[0]
	xs := make([]float64, history.Len())
	for i, t := range history.Times {
		xs[i] = t.Sub(origin).Seconds()
	}

	slope, intercept, ok := LinearRegression(xs, history.Values)
	if !ok {
		// All points share one timestamp.
		return Mean(history.Values), nil
	}
	return slope*at.Sub(origin).Seconds() + intercept, nil
}

// MovingAverage predicts the mean of the most recent points.
func MovingAverage(history Series, _ time.Time) (float64, error) {
	n := history.Len()
	if n == 0 {
		return 0, fmt.Errorf("%w: moving_average needs at least 1 point", ErrInsufficientData)
	}
	start := n - movingWindow
	if start < 0 {
		start = 0
	}
	return Mean(history.Values[start:]), nil
}
