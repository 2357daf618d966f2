// Package audit writes security events as structured log lines for SIEM
// ingestion. Every event carries a JSON copy under "event_json" alongside
// flat fields for log-based alerting.
package audit

import (
	"context"
	"encoding/json"
	"time"

	"github.com/coder/quartz"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/ekaya-inc/ekaya-monitor/pkg/logging"
)

// maxValueLength bounds flagged variable values copied into events.
const maxValueLength = 200

// SecurityEventType categorizes events for filtering and alerting.
type SecurityEventType string

const (
	// EventSQLInjectionSuspected is logged when libinjection flags a bound value.
	// The value is still escaped and bound.
	EventSQLInjectionSuspected SecurityEventType = "sql_injection_suspected"
	// EventParameterValidation is logged when a statement cannot be bound.
	EventParameterValidation SecurityEventType = "parameter_validation_failure"
	// EventQueryExecution is logged for every audited ad-hoc run.
	EventQueryExecution SecurityEventType = "query_execution"
)

// Severity levels carried by events.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

// Actor identifies who ran a statement and against what.
type Actor struct {
	UserID       string
	QueryID      *uuid.UUID
	DataSourceID string
}

func (a Actor) queryID() string {
	if a.QueryID == nil {
		return ""
	}
	return a.QueryID.String()
}

// SecurityEvent is the JSON document attached to every audit log line.
type SecurityEvent struct {
	Timestamp    time.Time         `json:"timestamp"`
	EventType    SecurityEventType `json:"event_type"`
	QueryID      string            `json:"query_id,omitempty"`
	DataSourceID string            `json:"data_source_id"`
	UserID       string            `json:"user_id,omitempty"`
	Details      any               `json:"details"`
	Severity     string            `json:"severity"`
}

// SQLInjectionDetails describes a flagged variable value.
type SQLInjectionDetails struct {
	ParamName   string `json:"param_name"`
	ParamValue  string `json:"param_value"`
	Fingerprint string `json:"fingerprint"`
}

// SecurityAuditor logs security events under the "security_audit" logger.
type SecurityAuditor struct {
	logger *zap.Logger
	clock  quartz.Clock
}

// Option configures a SecurityAuditor.
type Option func(*SecurityAuditor)

// WithClock sets the clock used for event timestamps.
func WithClock(clock quartz.Clock) Option {
	return func(a *SecurityAuditor) { a.clock = clock }
}

// NewSecurityAuditor creates an auditor logging through a child of logger.
func NewSecurityAuditor(logger *zap.Logger, opts ...Option) *SecurityAuditor {
	a := &SecurityAuditor{
		logger: logger.Named("security_audit"),
		clock:  quartz.NewReal(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *SecurityAuditor) record(level zapcore.Level, msg string, t SecurityEventType, severity string, actor Actor, details any, extra ...zap.Field) {
	event := SecurityEvent{
		Timestamp:    a.clock.Now().UTC(),
		EventType:    t,
		QueryID:      actor.queryID(),
		DataSourceID: actor.DataSourceID,
		UserID:       actor.UserID,
		Details:      details,
		Severity:     severity,
	}
	// Events hold only strings and string maps, so Marshal cannot fail.
	eventJSON, _ := json.Marshal(event)

	fields := append([]zap.Field{
		zap.String("event_json", string(eventJSON)),
		zap.String("query_id", event.QueryID),
		zap.String("data_source_id", actor.DataSourceID),
		zap.String("user_id", actor.UserID),
		zap.String("severity", severity),
	}, extra...)
	a.logger.Log(level, msg, fields...)
}

// LogInjectionAttempt records a variable value libinjection flagged, at ERROR.
func (a *SecurityAuditor) LogInjectionAttempt(_ context.Context, actor Actor, details SQLInjectionDetails) {
	details.ParamValue = logging.TruncateString(details.ParamValue, maxValueLength)
	a.record(zapcore.ErrorLevel, "SQL injection pattern in bound variable",
		EventSQLInjectionSuspected, SeverityCritical, actor, details,
		zap.String("param_name", details.ParamName),
		zap.String("fingerprint", details.Fingerprint))
}

// LogParameterValidation records a statement that could not be bound, at WARN.
func (a *SecurityAuditor) LogParameterValidation(_ context.Context, actor Actor, errorMessage string) {
	a.record(zapcore.WarnLevel, "Parameter validation failed",
		EventParameterValidation, SeverityWarning, actor, map[string]string{"error": errorMessage},
		zap.String("error", errorMessage))
}

// LogQueryExecution records an audited ad-hoc run, at INFO.
func (a *SecurityAuditor) LogQueryExecution(_ context.Context, actor Actor, statement string) {
	a.record(zapcore.InfoLevel, "Query executed",
		EventQueryExecution, SeverityInfo, actor, map[string]string{"statement": logging.SanitizeStatement(statement)})
}
