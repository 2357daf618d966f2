package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// CheckState is where a check sits in its run state machine.
type CheckState string

const (
	CheckStateNew      CheckState = "new"
	CheckStatePassing  CheckState = "passing"
	CheckStateFailing  CheckState = "failing"
	CheckStateError    CheckState = "error"
	CheckStateTimedOut CheckState = "timed out"
	// CheckStateDisabled is set externally; the engine reads it and never writes it.
	CheckStateDisabled CheckState = "disabled"
)

// IsBad reports whether s is one of the states that warrants notification.
func (s CheckState) IsBad() bool {
	return s == CheckStateFailing || s == CheckStateError || s == CheckStateTimedOut
}

// CheckType selects how a successful result is judged.
type CheckType string

const (
	// CheckTypeBadData fails when the query returns any rows.
	CheckTypeBadData CheckType = "bad_data"
	// CheckTypeMissingData fails when the query returns no rows.
	CheckTypeMissingData CheckType = "missing_data"
	// CheckTypeThreshold fails when the first row's value falls outside [Min, Max].
	CheckTypeThreshold CheckType = "threshold"
	// CheckTypeAnomaly fails when the named detector flags the latest point of the series.
	CheckTypeAnomaly CheckType = "anomaly"
	// CheckTypeForecast fails when the latest point strays from the named forecaster's prediction.
	CheckTypeForecast CheckType = "forecast"
)

// ThresholdRule bounds a numeric column for threshold checks. A nil bound is open.
type ThresholdRule struct {
	Column string   `json:"column,omitempty"`
	Min    *float64 `json:"min,omitempty"`
	Max    *float64 `json:"max,omitempty"`
}

// Check is a scheduled monitor over a query's result.
type Check struct {
	ID            uuid.UUID      `json:"id"`
	QueryID       uuid.UUID      `json:"query_id"`
	State         CheckState     `json:"state"`
	Schedule      string         `json:"schedule"`
	CheckType     CheckType      `json:"check_type"`
	Algorithm     string         `json:"algorithm,omitempty"`
	Tolerance     float64        `json:"tolerance,omitempty"`
	Threshold     *ThresholdRule `json:"threshold,omitempty"`
	Emails        []string       `json:"emails,omitempty"`
	SlackChannels []string       `json:"slack_channels,omitempty"`
	Message       string         `json:"message,omitempty"`
	LastRunAt     *time.Time     `json:"last_run_at,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`

	// QueryName is filled by repositories that join the query for display.
	QueryName string `json:"query_name,omitempty"`
}

// Recipients returns normalized, de-duplicated email addresses.
func (c *Check) Recipients() []string {
	return normalizeList(c.Emails, strings.ToLower)
}

// Channels returns normalized, de-duplicated chat channels.
func (c *Check) Channels() []string {
	return normalizeList(c.SlackChannels, func(s string) string {
		if !strings.HasPrefix(s, "#") {
			s = "#" + s
		}
		return strings.ToLower(s)
	})
}

// SplitList splits a comma or newline separated list as entered by users.
func SplitList(s string) []string {
	fields := strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == '\n' || r == ';' })
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if f = strings.TrimSpace(f); f != "" {
			out = append(out, f)
		}
	}
	return out
}

func normalizeList(in []string, norm func(string) string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, raw := range in {
		v := strings.TrimSpace(raw)
		if v == "" {
			continue
		}
		v = norm(v)
		if seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}
