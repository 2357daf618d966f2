package database

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Querier is the part of pgx shared by the pool and an open transaction.
// Repositories run every statement through a Querier so callers can widen
// a unit of work without the repository knowing.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type contextKey string

const (
	// QuerierKey is the context key for the transaction a caller opened.
	QuerierKey contextKey = "querier"
)

// WithQuerier stores q in context for repositories called further down.
func WithQuerier(ctx context.Context, q Querier) context.Context {
	return context.WithValue(ctx, QuerierKey, q)
}

// QuerierFrom returns the Querier stored in context, or fallback when none is set.
func QuerierFrom(ctx context.Context, fallback Querier) Querier {
	if q, ok := ctx.Value(QuerierKey).(Querier); ok && q != nil {
		return q
	}
	return fallback
}
