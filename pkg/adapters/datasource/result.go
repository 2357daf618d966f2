package datasource

import (
	"errors"
	"time"

	"github.com/ekaya-inc/ekaya-monitor/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-monitor/pkg/logging"
)

// ColumnMeta describes a result column.
type ColumnMeta struct {
	Name string `json:"name"`
	Type string `json:"type,omitempty"` // backend type name, e.g. "INT4", "VARCHAR"
}

// Result is the outcome of running a statement. Error and Rows are mutually
// exclusive: a failed result carries no rows. TimedOut implies Error == TimeoutMessage.
type Result struct {
	Columns   []ColumnMeta  `json:"columns"`
	Rows      [][]any       `json:"rows"`
	Error     string        `json:"error,omitempty"`
	ErrorKind ErrorKind     `json:"error_kind,omitempty"`
	TimedOut  bool          `json:"timed_out"`
	Runtime   time.Duration `json:"runtime"`
	CachedAt  *time.Time    `json:"cached_at,omitempty"`

	// cause is the error the result was built from. It does not survive the cache.
	cause error
}

// NewResult builds a successful result. Nil rows become an empty slice.
func NewResult(columns []ColumnMeta, rows [][]any, runtime time.Duration) *Result {
	if rows == nil {
		rows = [][]any{}
	}
	return &Result{Columns: columns, Rows: rows, Runtime: runtime}
}

// NewErrorResult builds a failed result. Timeouts always get the canonical message.
func NewErrorResult(kind ErrorKind, err error, runtime time.Duration) *Result {
	if kind == ErrorKindTimeout {
		return NewTimeoutResult(runtime)
	}
	if kind == ErrorKindNone {
		kind = ErrorKindUnknown
	}
	msg := "unknown error"
	if err != nil {
		msg = logging.SanitizeError(err)
	}
	return &Result{Error: msg, ErrorKind: kind, Runtime: runtime, cause: err}
}

// NewTimeoutResult builds a timed out result.
func NewTimeoutResult(runtime time.Duration) *Result {
	return &Result{Error: TimeoutMessage, ErrorKind: ErrorKindTimeout, TimedOut: true, Runtime: runtime}
}

// Failed reports whether the run produced an error or timed out.
func (r *Result) Failed() bool {
	return r.Error != ""
}

// RowCount returns the number of rows, zero for failed results.
func (r *Result) RowCount() int {
	return len(r.Rows)
}

// Err returns the classified error, or nil for a successful result.
func (r *Result) Err() error {
	if !r.Failed() {
		return nil
	}
	if r.cause == nil {
		return NewAdapterError(r.ErrorKind, errors.New(r.Error))
	}
	return NewAdapterError(r.ErrorKind, &apperrors.MessageError{Msg: r.Error, Err: r.cause})
}

// Clone returns a shallow copy; row slices are shared and must be treated as read-only.
func (r *Result) Clone() *Result {
	c := *r
	return &c
}

// WithCachedAt returns a copy stamped with the cache write time.
func (r *Result) WithCachedAt(t time.Time) *Result {
	c := r.Clone()
	c.CachedAt = &t
	return c
}
