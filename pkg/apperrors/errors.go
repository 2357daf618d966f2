package apperrors

import "errors"

var (
	ErrNotFound                = errors.New("not found")
	ErrCheckDisabled           = errors.New("check is disabled")
	ErrUnknownDataSource       = errors.New("unknown data source")
	ErrUnknownAlgorithm        = errors.New("unknown algorithm")
	ErrInvalidVariablePosition = errors.New("variable cannot be used in this position")
	ErrMissingVariable         = errors.New("missing variable")
	ErrUnknownAdapter          = errors.New("unknown adapter")
	ErrAuditDisabled           = errors.New("audits must be enabled to archive")
	ErrCredentialsKeyMismatch  = errors.New("datasource credentials were encrypted with a different key")

	// ErrCacheMiss is a lookup signal, not a failure.
	ErrCacheMiss = errors.New("cache miss")
)

// MessageError shows Msg to callers while errors.Is still reaches Err.
type MessageError struct {
	Msg string
	Err error
}

func (e *MessageError) Error() string { return e.Msg }
func (e *MessageError) Unwrap() error { return e.Err }
