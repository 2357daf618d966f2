package services

import (
	"fmt"
	"math"

	"github.com/ekaya-inc/ekaya-monitor/pkg/adapters/datasource"
	"github.com/ekaya-inc/ekaya-monitor/pkg/detectors"
	"github.com/ekaya-inc/ekaya-monitor/pkg/models"
	"github.com/ekaya-inc/ekaya-monitor/pkg/notify"
)

// DefaultForecastTolerance is the relative deviation from the forecast a
// forecast check allows when the check sets none.
const DefaultForecastTolerance = 0.25

// Transition decides the state a check moves to for result, with a message
// for the check record. Timeouts and errors win over the check's own rules.
// Anomaly and forecast checks look their algorithm up in registry by the
// check's Algorithm; configuration problems put the check in the error state.
func Transition(result *datasource.Result, check *models.Check, registry *detectors.Registry) (models.CheckState, string) {
	switch {
	case result.TimedOut:
		return models.CheckStateTimedOut, datasource.TimeoutMessage
	case result.Failed():
		return models.CheckStateError, result.Error
	}

	switch check.CheckType {
	case models.CheckTypeBadData, "":
		n := result.RowCount()
		if n > 0 {
			return models.CheckStateFailing, rowsMessage(n)
		}
		return models.CheckStatePassing, rowsMessage(0)

	case models.CheckTypeMissingData:
		n := result.RowCount()
		if n == 0 {
			return models.CheckStateFailing, "No rows returned"
		}
		return models.CheckStatePassing, rowsMessage(n)

	case models.CheckTypeThreshold:
		return evaluateThreshold(result, check.Threshold)

	case models.CheckTypeAnomaly:
		return evaluateAnomaly(result, check, registry)

	case models.CheckTypeForecast:
		return evaluateForecast(result, check, registry)
	}

	return models.CheckStateError, fmt.Sprintf("Unknown check type: %s", check.CheckType)
}

func rowsMessage(n int) string {
	return fmt.Sprintf("%d %s", n, notify.Pluralize("row", n))
}

func evaluateThreshold(result *datasource.Result, rule *models.ThresholdRule) (models.CheckState, string) {
	if rule == nil || (rule.Min == nil && rule.Max == nil) {
		return models.CheckStateError, "Threshold check has no bounds"
	}
	if len(result.Columns) == 0 {
		return models.CheckStateError, "Threshold check needs a value column"
	}

	idx := len(result.Columns) - 1
	if rule.Column != "" {
		idx = -1
		for i, c := range result.Columns {
			if c.Name == rule.Column {
				idx = i
				break
			}
		}
		if idx < 0 {
			return models.CheckStateError, fmt.Sprintf("Column not found: %s", rule.Column)
		}
	}
	name := result.Columns[idx].Name

	if result.RowCount() == 0 {
		return models.CheckStateError, "No rows to compare against the threshold"
	}
	value, err := detectors.ToFloat(result.Rows[0][idx])
	if err != nil {
		return models.CheckStateError, fmt.Sprintf("%s is not numeric: %v", name, err)
	}

	switch {
	case rule.Min != nil && value < *rule.Min:
		return models.CheckStateFailing, fmt.Sprintf("%s = %g is below the minimum of %g", name, value, *rule.Min)
	case rule.Max != nil && value > *rule.Max:
		return models.CheckStateFailing, fmt.Sprintf("%s = %g is above the maximum of %g", name, value, *rule.Max)
	}
	return models.CheckStatePassing, fmt.Sprintf("%s = %g", name, value)
}

func evaluateAnomaly(result *datasource.Result, check *models.Check, registry *detectors.Registry) (models.CheckState, string) {
	detect, err := registry.AnomalyDetector(check.Algorithm)
	if err != nil {
		return models.CheckStateError, err.Error()
	}
	series, err := detectors.SeriesFromResult(result)
	if err != nil {
		return models.CheckStateError, err.Error()
	}

	verdict, err := detect(series, detectors.Params{Tolerance: check.Tolerance})
	if err != nil {
		return models.CheckStateError, err.Error()
	}
	if verdict.Anomalous {
		msg := fmt.Sprintf("Anomaly detected: %g (expected %g)", verdict.Actual, verdict.Expected)
		if verdict.Reason != "" {
			msg += ": " + verdict.Reason
		}
		return models.CheckStateFailing, msg
	}
	return models.CheckStatePassing, fmt.Sprintf("No anomaly: %g (expected %g)", verdict.Actual, verdict.Expected)
}

func evaluateForecast(result *datasource.Result, check *models.Check, registry *detectors.Registry) (models.CheckState, string) {
	forecast, err := registry.Forecaster(check.Algorithm)
	if err != nil {
		return models.CheckStateError, err.Error()
	}
	series, err := detectors.SeriesFromResult(result)
	if err != nil {
		return models.CheckStateError, err.Error()
	}
	if series.Len() < 2 {
		return models.CheckStateError, fmt.Sprintf("%v: forecast needs history before the latest point", detectors.ErrInsufficientData)
	}

	at, actual := series.Last()
	predicted, err := forecast(series.Head(), at)
	if err != nil {
		return models.CheckStateError, err.Error()
	}

	tolerance := check.Tolerance
	if tolerance <= 0 {
		tolerance = DefaultForecastTolerance
	}
	deviation := math.Abs(actual - predicted)
	if predicted != 0 {
		deviation /= math.Abs(predicted)
	}

	if deviation > tolerance {
		return models.CheckStateFailing, fmt.Sprintf("%g is outside the forecast %g ± %g%%", actual, predicted, tolerance*100)
	}
	return models.CheckStatePassing, fmt.Sprintf("%g is within the forecast %g ± %g%%", actual, predicted, tolerance*100)
}
