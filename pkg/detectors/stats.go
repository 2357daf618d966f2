package detectors

import (
	"math"
	"slices"

	"gonum.org/v1/gonum/stat"
)

const epsilon = 1e-9

func Mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	return stat.Mean(values, nil)
}

func Median(values []float64) float64 {
	return Quantile(values, 0.5)
}

// MAD is the median absolute deviation around median.
func MAD(values []float64, median float64) float64 {
	if len(values) == 0 {
		return 0
	}
	devs := make([]float64, len(values))
	for i, v := range values {
		devs[i] = math.Abs(v - median)
	}
	return Median(devs)
}

// Quantile returns the q-quantile interpolated between the closest ranks, so
// the median of an even-length sample is the midpoint of the middle pair.
// gonum's stat.Quantile only offers the lower rank or p*n interpolation.
func Quantile(values []float64, q float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := slices.Clone(values)
	slices.Sort(sorted)

	pos := q * float64(len(sorted)-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	if lo == hi {
		return sorted[lo]
	}
	return sorted[lo] + (sorted[hi]-sorted[lo])*(pos-float64(lo))
}

// LinearRegression fits y = slope*x + intercept by least squares. ok is false
// with fewer than two points or when every x is the same.
func LinearRegression(xVals []float64, yVals []float64) (slope float64, intercept float64, ok bool) {
	if len(xVals) != len(yVals) || len(xVals) < 2 {
		return 0, 0, false
	}
	if stat.Variance(xVals, nil) == 0 {
		return 0, 0, false
	}
	intercept, slope = stat.LinearRegression(xVals, yVals, nil, false)
	if math.IsNaN(slope) || math.IsNaN(intercept) {
		return 0, 0, false
	}
	return slope, intercept, true
}
