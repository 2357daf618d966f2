// Package sqldb runs statements for adapters built on database/sql drivers.
package sqldb

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-monitor/pkg/adapters/datasource"
)

// Execer is satisfied by *sql.Conn and *sql.Tx.
type Execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// Options configure a Runner for one backend.
type Options struct {
	ID         string
	DriverName string
	DSN        string
	Logger     *zap.Logger

	// Open overrides sql.Open, for connectors that need more than a DSN.
	Open func(ctx context.Context) (*sql.DB, error)

	// Transaction wraps each run in a transaction that is always rolled back.
	Transaction bool

	// SetTimeout applies a server-side statement timeout before the run.
	// Nil means the backend has none and the client deadline alone bounds the run.
	SetTimeout func(ctx context.Context, ex Execer, timeout time.Duration) error

	// Classify maps driver errors. Nil falls back to datasource.ClassifyMessage.
	Classify func(err error) datasource.ErrorKind

	// SchemaQuery returns (schema, table, column, type) rows ordered by table.
	SchemaQuery string

	// ExplainPrefix is prepended to a statement to get its plan.
	ExplainPrefix string

	MaxOpenConns int
}

// Runner executes statements over a lazily opened *sql.DB.
type Runner struct {
	opts     Options
	conn     *datasource.Connection[*sql.DB]
	inflight *datasource.Inflight
}

// New returns a runner. Nothing is dialed until the first run.
func New(opts Options) *Runner {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Classify == nil {
		opts.Classify = datasource.ClassifyMessage
	}
	if opts.MaxOpenConns == 0 {
		opts.MaxOpenConns = 10
	}

	r := &Runner{opts: opts, inflight: datasource.NewInflight()}
	r.conn = datasource.NewConnection(opts.ID, r.open, func(db *sql.DB) error { return db.Close() }, opts.Logger)
	return r
}

func (r *Runner) open(ctx context.Context) (*sql.DB, error) {
	var db *sql.DB
	var err error
	if r.opts.Open != nil {
		db, err = r.opts.Open(ctx)
	} else {
		db, err = sql.Open(r.opts.DriverName, r.opts.DSN)
	}
	if err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(r.opts.MaxOpenConns)
	db.SetMaxIdleConns(r.opts.MaxOpenConns)
	db.SetConnMaxIdleTime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// DB returns the open handle.
func (r *Runner) DB(ctx context.Context) (*sql.DB, error) {
	return r.conn.Get(ctx)
}

// Run executes stmt and collects every row.
func (r *Runner) Run(ctx context.Context, stmt string, opts datasource.RunOptions) *datasource.Result {
	grace := time.Duration(0)
	if r.opts.SetTimeout != nil {
		grace = datasource.ClientGrace
	}

	return datasource.Execute(ctx, opts, r.inflight, r.ClassifyError, grace,
		func(ctx context.Context) ([]datasource.ColumnMeta, [][]any, error) {
			db, err := r.conn.Get(ctx)
			if err != nil {
				return nil, nil, err
			}

			conn, err := db.Conn(ctx)
			if err != nil {
				return nil, nil, err
			}
			defer conn.Close()

			var ex Execer = conn
			if r.opts.Transaction {
				tx, err := conn.BeginTx(ctx, nil)
				if err != nil {
					return nil, nil, err
				}
				defer tx.Rollback()
				ex = tx
			}

			if r.opts.SetTimeout != nil {
				if err := r.opts.SetTimeout(ctx, ex, opts.Timeout); err != nil {
					return nil, nil, err
				}
			}

			rows, err := ex.QueryContext(ctx, stmt)
			if err != nil {
				return nil, nil, err
			}
			defer rows.Close()

			return ScanAll(rows)
		})
}

// Cancel abandons the run started with handle.
func (r *Runner) Cancel(_ context.Context, handle uuid.UUID) error {
	r.inflight.Cancel(handle)
	return nil
}

// ClassifyError maps a driver error into the shared taxonomy.
func (r *Runner) ClassifyError(err error) datasource.ErrorKind {
	if kind := r.opts.Classify(err); kind != datasource.ErrorKindUnknown {
		return kind
	}
	return datasource.ClassifyMessage(err)
}

// Schema lists tables using the configured schema query.
func (r *Runner) Schema(ctx context.Context) ([]datasource.TableMeta, error) {
	if r.opts.SchemaQuery == "" {
		return nil, fmt.Errorf("schema listing is not supported for %s", r.opts.ID)
	}

	db, err := r.conn.Get(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, r.opts.SchemaQuery)
	if err != nil {
		return nil, fmt.Errorf("failed to list tables: %w", err)
	}
	defer rows.Close()

	var cols [][4]string
	for rows.Next() {
		var c [4]string
		if err := rows.Scan(&c[0], &c[1], &c[2], &c[3]); err != nil {
			return nil, fmt.Errorf("failed to scan column: %w", err)
		}
		cols = append(cols, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating columns: %w", err)
	}
	return datasource.GroupColumns(cols), nil
}

// Explain returns the plan text, one output row per line.
func (r *Runner) Explain(ctx context.Context, stmt string) (string, error) {
	if r.opts.ExplainPrefix == "" {
		return "", fmt.Errorf("explain is not supported for %s", r.opts.ID)
	}

	db, err := r.conn.Get(ctx)
	if err != nil {
		return "", err
	}

	rows, err := db.QueryContext(ctx, r.opts.ExplainPrefix+stmt)
	if err != nil {
		return "", fmt.Errorf("explain failed: %w", err)
	}
	defer rows.Close()

	_, values, err := ScanAll(rows)
	if err != nil {
		return "", err
	}
	return PlanText(values), nil
}

// Reconnect replaces the pool.
func (r *Runner) Reconnect(ctx context.Context) error {
	return r.conn.Reconnect(ctx)
}

// Close closes the pool.
func (r *Runner) Close() error {
	return r.conn.Close()
}

// ScanAll reads every row. Byte slices from text protocols become strings.
func ScanAll(rows *sql.Rows) ([]datasource.ColumnMeta, [][]any, error) {
	types, err := rows.ColumnTypes()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read columns: %w", err)
	}

	columns := make([]datasource.ColumnMeta, len(types))
	for i, ct := range types {
		columns[i] = datasource.ColumnMeta{Name: ct.Name(), Type: ct.DatabaseTypeName()}
	}

	out := make([][]any, 0)
	for rows.Next() {
		values := make([]any, len(columns))
		ptrs := make([]any, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, nil, fmt.Errorf("failed to scan row: %w", err)
		}
		for i, v := range values {
			if b, ok := v.([]byte); ok {
				values[i] = string(b)
			}
		}
		out = append(out, values)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}
	return columns, out, nil
}

// PlanText joins explain rows into text.
func PlanText(rows [][]any) string {
	lines := make([]string, len(rows))
	for i, row := range rows {
		parts := make([]string, len(row))
		for j, v := range row {
			if v == nil {
				parts[j] = "NULL"
				continue
			}
			parts[j] = fmt.Sprint(v)
		}
		lines[i] = strings.Join(parts, " | ")
	}
	return strings.Join(lines, "\n")
}
