package datasource

import (
	"context"
	"errors"
	"time"
)

// RowsFunc runs a statement against a live backend and returns its columns and rows.
type RowsFunc func(ctx context.Context) ([]ColumnMeta, [][]any, error)

// Execute wraps one adapter run with the shared contract: a bounded client
// wait, cancellation by handle, classification, and a never-nil Result.
//
// grace is added to opts.Timeout for the client-side deadline. Adapters whose
// backend enforces the timeout itself pass ClientGrace; the rest pass zero.
func Execute(ctx context.Context, opts RunOptions, inflight *Inflight, classify func(error) ErrorKind, grace time.Duration, run RowsFunc) *Result {
	start := time.Now()

	runCtx, cancel := context.WithCancel(ctx)
	if opts.Timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, opts.Timeout+grace)
	}
	defer cancel()

	if inflight != nil {
		forget := inflight.Track(opts.Handle, cancel)
		defer forget()
	}

	columns, rows, err := run(runCtx)
	runtime := time.Since(start)

	if err == nil {
		return NewResult(columns, rows, runtime)
	}

	switch {
	case errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil:
		return NewTimeoutResult(runtime)
	case errors.Is(runCtx.Err(), context.Canceled) && ctx.Err() == nil:
		return NewErrorResult(ErrorKindUnknown, errors.New("query canceled"), runtime)
	}

	return NewErrorResult(classify(err), err, runtime)
}
