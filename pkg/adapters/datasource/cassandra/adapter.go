// Package cassandra runs CQL statements on Apache Cassandra through gocql.
package cassandra

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/gocql/gocql"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-monitor/pkg/adapters/datasource"
)

// Kind is the adapter kind registered for Cassandra.
const Kind = "cassandra"

// Dialect is CQL: '' strings, "" identifiers, --, // and /* */ comments.
var Dialect = datasource.Dialect{
	StringQuotes:     []byte{'\''},
	IdentifierQuotes: []datasource.QuotePair{{Open: '"', Close: '"'}},
	LineComments:     []string{"--", "//"},
	BlockComments:    true,
}

// LiteralStyle spells booleans in lower case.
var LiteralStyle = datasource.LiteralStyle{True: "true", False: "false"}

// Adapter runs CQL statements. Cassandra has no per-statement timeout
// setting, so the client deadline bounds each run.
type Adapter struct {
	config   *Config
	conn     *datasource.Connection[*gocql.Session]
	inflight *datasource.Inflight
}

// NewAdapter creates an adapter. The session is opened on first use.
func NewAdapter(id string, cfg *Config, logger *zap.Logger) *Adapter {
	a := &Adapter{config: cfg, inflight: datasource.NewInflight()}
	a.conn = datasource.NewConnection(id, a.open, func(s *gocql.Session) error {
		s.Close()
		return nil
	}, logger)
	return a
}

func (a *Adapter) open(context.Context) (*gocql.Session, error) {
	cluster, err := a.config.cluster()
	if err != nil {
		return nil, err
	}
	return cluster.CreateSession()
}

// Run executes a CQL statement and collects every row.
func (a *Adapter) Run(ctx context.Context, stmt string, opts datasource.RunOptions) *datasource.Result {
	return datasource.Execute(ctx, opts, a.inflight, a.ClassifyError, 0,
		func(ctx context.Context) ([]datasource.ColumnMeta, [][]any, error) {
			session, err := a.conn.Get(ctx)
			if err != nil {
				return nil, nil, err
			}

			iter := session.Query(stmt).WithContext(ctx).Iter()

			infos := iter.Columns()
			columns := make([]datasource.ColumnMeta, len(infos))
			for i, c := range infos {
				columns[i] = datasource.ColumnMeta{Name: c.Name, Type: c.TypeInfo.Type().String()}
			}

			out := make([][]any, 0)
			for {
				m := make(map[string]any, len(columns))
				if !iter.MapScan(m) {
					break
				}
				row := make([]any, len(columns))
				for i, c := range columns {
					row[i] = m[c.Name]
				}
				out = append(out, row)
			}
			if err := iter.Close(); err != nil {
				return nil, nil, err
			}
			return columns, out, nil
		})
}

// Cancel abandons the run started with handle.
func (a *Adapter) Cancel(_ context.Context, handle uuid.UUID) error {
	a.inflight.Cancel(handle)
	return nil
}

// Schema lists the tables of the configured keyspace.
func (a *Adapter) Schema(ctx context.Context) ([]datasource.TableMeta, error) {
	session, err := a.conn.Get(ctx)
	if err != nil {
		return nil, err
	}

	iter := session.Query(
		`SELECT table_name, column_name, type, position FROM system_schema.columns WHERE keyspace_name = ?`,
		a.config.Keyspace,
	).WithContext(ctx).Iter()

	type col struct {
		table, name, typ string
		position         int
	}
	var cols []col
	var c col
	for iter.Scan(&c.table, &c.name, &c.typ, &c.position) {
		cols = append(cols, c)
	}
	if err := iter.Close(); err != nil {
		return nil, fmt.Errorf("failed to list tables: %w", err)
	}

	sort.Slice(cols, func(i, j int) bool {
		if cols[i].table != cols[j].table {
			return cols[i].table < cols[j].table
		}
		if cols[i].position != cols[j].position {
			return cols[i].position < cols[j].position
		}
		return cols[i].name < cols[j].name
	})

	rows := make([][4]string, len(cols))
	for i, c := range cols {
		rows[i] = [4]string{a.config.Keyspace, c.table, c.name, c.typ}
	}
	return datasource.GroupColumns(rows), nil
}

// Explain is not available in CQL.
func (a *Adapter) Explain(context.Context, string) (string, error) {
	return "", errors.New("explain is not supported for cassandra")
}

// QuoteIdentifier quotes a name with double quotes.
func (a *Adapter) QuoteIdentifier(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// QuoteLiteral renders v as a CQL literal.
func (a *Adapter) QuoteLiteral(v any) (string, error) {
	return datasource.FormatLiteral(v, LiteralStyle)
}

// Dialect returns CQL lexical rules.
func (a *Adapter) Dialect() datasource.Dialect {
	return Dialect
}

// ClassifyError maps gocql errors.
func (a *Adapter) ClassifyError(err error) datasource.ErrorKind {
	return ClassifyError(err)
}

// ClassifyError maps gocql driver errors and protocol error codes.
func ClassifyError(err error) datasource.ErrorKind {
	switch {
	case err == nil:
		return datasource.ErrorKindNone
	case errors.Is(err, gocql.ErrNoConnections), errors.Is(err, gocql.ErrConnectionClosed),
		errors.Is(err, gocql.ErrSessionClosed):
		return datasource.ErrorKindConnection
	case errors.Is(err, gocql.ErrTimeoutNoResponse):
		return datasource.ErrorKindTimeout
	}

	var reqErr gocql.RequestError
	if errors.As(err, &reqErr) {
		switch reqErr.Code() {
		case gocql.ErrCodeReadTimeout, gocql.ErrCodeWriteTimeout:
			return datasource.ErrorKindTimeout
		case gocql.ErrCodeSyntax, gocql.ErrCodeInvalid:
			return datasource.ErrorKindSyntax
		case gocql.ErrCodeUnauthorized, gocql.ErrCodeCredentials:
			return datasource.ErrorKindPermission
		case gocql.ErrCodeUnavailable, gocql.ErrCodeBootstrapping, gocql.ErrCodeOverloaded:
			return datasource.ErrorKindConnection
		}
	}
	return datasource.ClassifyMessage(err)
}

// Reconnect replaces the session.
func (a *Adapter) Reconnect(ctx context.Context) error {
	return a.conn.Reconnect(ctx)
}

// Close closes the session.
func (a *Adapter) Close() error {
	return a.conn.Close()
}

// Register adds the Cassandra adapter to r.
func Register(r *datasource.Registry) error {
	return r.Register(datasource.Registration{
		Info: datasource.AdapterInfo{
			Kind:        Kind,
			DisplayName: "Apache Cassandra",
			Family:      "wide-column",
		},
		Factory: func(_ context.Context, cfg datasource.Config) (datasource.Adapter, error) {
			cCfg, err := FromMap(cfg.URL, cfg.Settings)
			if err != nil {
				return nil, err
			}
			return NewAdapter(cfg.ID, cCfg, cfg.Logger), nil
		},
	})
}

var _ datasource.Adapter = (*Adapter)(nil)
