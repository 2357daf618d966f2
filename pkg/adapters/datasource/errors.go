package datasource

import (
	"context"
	"errors"
	"strings"
)

// ErrorKind is the shared failure taxonomy across adapters.
type ErrorKind string

const (
	ErrorKindNone       ErrorKind = ""
	ErrorKindConnection ErrorKind = "connection"
	ErrorKindTimeout    ErrorKind = "timeout"
	ErrorKindSyntax     ErrorKind = "syntax"
	ErrorKindPermission ErrorKind = "permission"
	ErrorKindUnknown    ErrorKind = "unknown"
)

const (
	// TimeoutMessage is the canonical error text of a timed out run.
	TimeoutMessage = "Query timed out :("
	// VariableMessage is the error text of a run rejected by the binder.
	VariableMessage = "Variable cannot be used in this position"
)

var (
	ErrAdapterConnection   = errors.New("adapter connection error")
	ErrAdapterTimeout      = errors.New("adapter timeout error")
	ErrAdapterSyntax       = errors.New("adapter syntax error")
	ErrAdapterPermission   = errors.New("adapter permission error")
	ErrUnknownAdapterError = errors.New("unknown adapter error")
)

// AdapterError is a classified backend failure.
type AdapterError struct {
	Kind ErrorKind
	Err  error
}

func (e *AdapterError) Error() string {
	if e.Err == nil {
		return string(e.Kind)
	}
	return e.Err.Error()
}

func (e *AdapterError) Unwrap() error {
	return e.Err
}

// Is matches the sentinel for the error's kind.
func (e *AdapterError) Is(target error) bool {
	return target == sentinelFor(e.Kind)
}

// NewAdapterError wraps err with a kind.
func NewAdapterError(kind ErrorKind, err error) *AdapterError {
	return &AdapterError{Kind: kind, Err: err}
}

func sentinelFor(kind ErrorKind) error {
	switch kind {
	case ErrorKindConnection:
		return ErrAdapterConnection
	case ErrorKindTimeout:
		return ErrAdapterTimeout
	case ErrorKindSyntax:
		return ErrAdapterSyntax
	case ErrorKindPermission:
		return ErrAdapterPermission
	default:
		return ErrUnknownAdapterError
	}
}

// TimeoutErrors are backend messages that mean the server cancelled a statement for running too long.
var TimeoutErrors = []string{
	"canceling statement due to statement timeout",      // postgres
	"canceling statement due to conflict with recovery", // postgres
	"cancelled on user's request",                       // redshift
	"canceled on user's request",                        // redshift
	"system requested abort",                            // redshift
	"maximum statement execution time exceeded",         // mysql
}

var connectionErrors = []string{
	"connection refused",
	"connection reset",
	"broken pipe",
	"bad connection",
	"server closed the connection",
	"terminating connection",
	"no connections available",
	"connection is closed",
	"invalid connection",
	"unexpected eof",
	"no such host",
	"network is unreachable",
}

// ClassifyMessage is the text-based fallback used after an adapter's typed
// checks found nothing.
func ClassifyMessage(err error) ErrorKind {
	if err == nil {
		return ErrorKindNone
	}
	var ae *AdapterError
	if errors.As(err, &ae) {
		return ae.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrorKindTimeout
	}

	msg := strings.ToLower(err.Error())
	for _, m := range TimeoutErrors {
		if strings.Contains(msg, m) {
			return ErrorKindTimeout
		}
	}
	for _, m := range connectionErrors {
		if strings.Contains(msg, m) {
			return ErrorKindConnection
		}
	}
	switch {
	case strings.Contains(msg, "permission denied"), strings.Contains(msg, "access denied"),
		strings.Contains(msg, "not authorized"), strings.Contains(msg, "unauthorized"):
		return ErrorKindPermission
	case strings.Contains(msg, "syntax error"), strings.Contains(msg, "no such table"),
		strings.Contains(msg, "no such column"), strings.Contains(msg, "does not exist"):
		return ErrorKindSyntax
	}
	return ErrorKindUnknown
}
