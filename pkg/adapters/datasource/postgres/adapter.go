package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-monitor/pkg/adapters/datasource"
)

// Kind is the adapter kind registered for PostgreSQL.
const Kind = "postgres"

// Dialect is ANSI SQL plus $tag$ strings.
var Dialect = datasource.Dialect{
	StringQuotes:     []byte{'\''},
	IdentifierQuotes: []datasource.QuotePair{{Open: '"', Close: '"'}},
	LineComments:     []string{"--"},
	BlockComments:    true,
	DollarQuotes:     true,
}

const schemaQuery = `
	SELECT c.table_schema, c.table_name, c.column_name, c.data_type
	FROM information_schema.columns c
	WHERE c.table_schema NOT IN ('pg_catalog', 'information_schema')
	ORDER BY c.table_schema, c.table_name, c.ordinal_position`

// Adapter runs statements on PostgreSQL through a pgx pool. Every run happens
// in a transaction that is rolled back, with SET LOCAL statement_timeout
// bounding it server-side.
type Adapter struct {
	config   *Config
	conn     *datasource.Connection[*pgxpool.Pool]
	inflight *datasource.Inflight
}

// NewAdapter creates an adapter. The pool is opened on first use.
func NewAdapter(id string, cfg *Config, logger *zap.Logger) *Adapter {
	a := &Adapter{
		config:   cfg,
		inflight: datasource.NewInflight(),
	}
	a.conn = datasource.NewConnection(id, a.open, func(p *pgxpool.Pool) error {
		p.Close()
		return nil
	}, logger)
	return a
}

func (a *Adapter) open(ctx context.Context) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(a.config.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("invalid postgres connection string: %w", err)
	}
	poolCfg.MaxConns = a.config.MaxConns
	poolCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}

// Run executes stmt and collects every row.
func (a *Adapter) Run(ctx context.Context, stmt string, opts datasource.RunOptions) *datasource.Result {
	return datasource.Execute(ctx, opts, a.inflight, a.ClassifyError, datasource.ClientGrace,
		func(ctx context.Context) ([]datasource.ColumnMeta, [][]any, error) {
			pool, err := a.conn.Get(ctx)
			if err != nil {
				return nil, nil, err
			}

			tx, err := pool.Begin(ctx)
			if err != nil {
				return nil, nil, err
			}
			defer tx.Rollback(context.WithoutCancel(ctx))

			if opts.Timeout > 0 {
				if _, err := tx.Exec(ctx, fmt.Sprintf("SET LOCAL statement_timeout = %d", opts.Timeout.Milliseconds())); err != nil {
					return nil, nil, err
				}
			}

			rows, err := tx.Query(ctx, stmt)
			if err != nil {
				return nil, nil, err
			}
			defer rows.Close()

			return collectRows(rows)
		})
}

func collectRows(rows pgx.Rows) ([]datasource.ColumnMeta, [][]any, error) {
	var types *pgtype.Map
	if conn := rows.Conn(); conn != nil {
		types = conn.TypeMap()
	}
	fieldDescs := rows.FieldDescriptions()
	columns := make([]datasource.ColumnMeta, len(fieldDescs))
	for i, fd := range fieldDescs {
		columns[i] = datasource.ColumnMeta{
			Name: fd.Name,
			Type: typeName(types, fd.DataTypeOID),
		}
	}

	out := make([][]any, 0)
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, nil, fmt.Errorf("failed to read row values: %w", err)
		}
		for i, v := range values {
			values[i] = normalizeValue(v)
		}
		out = append(out, values)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}
	return columns, out, nil
}

// normalizeValue converts pgx-specific values into plain ones that cache,
// render and encode without knowledge of pgtype.
func normalizeValue(v any) any {
	switch t := v.(type) {
	case pgtype.Numeric:
		if !t.Valid {
			return nil
		}
		if t.NaN {
			return "NaN"
		}
		b, err := t.MarshalJSON()
		if err != nil {
			return t
		}
		return json.Number(b)
	case [16]byte:
		return uuid.UUID(t).String()
	}
	return v
}

// Cancel abandons the run started with handle. pgx sends a cancel request
// to the server when the run's context is cancelled.
func (a *Adapter) Cancel(_ context.Context, handle uuid.UUID) error {
	a.inflight.Cancel(handle)
	return nil
}

// Schema lists user tables and their columns.
func (a *Adapter) Schema(ctx context.Context) ([]datasource.TableMeta, error) {
	pool, err := a.conn.Get(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := pool.Query(ctx, schemaQuery)
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

// Explain returns the EXPLAIN output for stmt without running it.
func (a *Adapter) Explain(ctx context.Context, stmt string) (string, error) {
	pool, err := a.conn.Get(ctx)
	if err != nil {
		return "", err
	}

	rows, err := pool.Query(ctx, "EXPLAIN "+stmt)
	if err != nil {
		return "", fmt.Errorf("EXPLAIN failed: %w", err)
	}
	defer rows.Close()

	var planLines []string
	for rows.Next() {
		var line string
		if err := rows.Scan(&line); err != nil {
			return "", fmt.Errorf("failed to scan EXPLAIN output: %w", err)
		}
		planLines = append(planLines, line)
	}
	if err := rows.Err(); err != nil {
		return "", fmt.Errorf("error reading EXPLAIN output: %w", err)
	}
	return strings.Join(planLines, "\n"), nil
}

// QuoteIdentifier quotes a name with PostgreSQL double quotes.
func (a *Adapter) QuoteIdentifier(name string) string {
	return pgx.Identifier{name}.Sanitize()
}

// QuoteLiteral renders v as a PostgreSQL literal.
func (a *Adapter) QuoteLiteral(v any) (string, error) {
	return datasource.FormatLiteral(v, datasource.StandardLiteralStyle)
}

// Dialect returns PostgreSQL lexical rules.
func (a *Adapter) Dialect() datasource.Dialect {
	return Dialect
}

// ClassifyError maps pgx errors by SQLSTATE, then falls back to message matching.
func (a *Adapter) ClassifyError(err error) datasource.ErrorKind {
	return ClassifyError(err)
}

// ClassifyError maps a pgx error into the shared taxonomy.
func ClassifyError(err error) datasource.ErrorKind {
	if err == nil {
		return datasource.ErrorKindNone
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case pgErr.Code == "57014": // query_canceled
			return datasource.ErrorKindTimeout
		case pgErr.Code == "57P01", pgErr.Code == "57P02", pgErr.Code == "57P03":
			return datasource.ErrorKindConnection
		case strings.HasPrefix(pgErr.Code, "08"):
			return datasource.ErrorKindConnection
		case pgErr.Code == "42501", strings.HasPrefix(pgErr.Code, "28"):
			return datasource.ErrorKindPermission
		case strings.HasPrefix(pgErr.Code, "42"):
			return datasource.ErrorKindSyntax
		}
		return datasource.ErrorKindUnknown
	}

	if pgconn.Timeout(err) {
		return datasource.ErrorKindTimeout
	}
	var connectErr *pgconn.ConnectError
	if errors.As(err, &connectErr) {
		return datasource.ErrorKindConnection
	}
	return datasource.ClassifyMessage(err)
}

// Reconnect replaces the pool.
func (a *Adapter) Reconnect(ctx context.Context) error {
	return a.conn.Reconnect(ctx)
}

// Close closes the pool.
func (a *Adapter) Close() error {
	return a.conn.Close()
}

var _ datasource.Adapter = (*Adapter)(nil)
