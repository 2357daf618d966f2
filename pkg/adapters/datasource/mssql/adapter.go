// Package mssql runs statements on SQL Server and Azure SQL through go-mssqldb.
package mssql

import (
	"context"
	"errors"
	"fmt"
	"strings"

	mssql "github.com/microsoft/go-mssqldb"
	_ "github.com/microsoft/go-mssqldb/azuread" // registers the azuresql driver
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-monitor/pkg/adapters/datasource"
	"github.com/ekaya-inc/ekaya-monitor/pkg/adapters/datasource/sqldb"
)

// Kind is the adapter kind registered for SQL Server.
const Kind = "sqlserver"

// Dialect is T-SQL: '' strings, [] and "" identifiers.
var Dialect = datasource.Dialect{
	StringQuotes:     []byte{'\''},
	IdentifierQuotes: []datasource.QuotePair{{Open: '[', Close: ']'}, {Open: '"', Close: '"'}},
	LineComments:     []string{"--"},
	BlockComments:    true,
}

// LiteralStyle prefixes strings with N so non-ASCII text survives.
var LiteralStyle = datasource.LiteralStyle{UnicodePrefix: "N", True: "1", False: "0"}

const schemaQuery = `
	SELECT c.TABLE_SCHEMA, c.TABLE_NAME, c.COLUMN_NAME, c.DATA_TYPE
	FROM INFORMATION_SCHEMA.COLUMNS c
	ORDER BY c.TABLE_SCHEMA, c.TABLE_NAME, c.ORDINAL_POSITION`

// SQL Server error numbers.
const (
	errSyntax          = 102   // Incorrect syntax near
	errKeywordSyntax   = 156   // Incorrect syntax near the keyword
	errInvalidColumn   = 207   // Invalid column name
	errInvalidObject   = 208   // Invalid object name
	errPermission      = 229   // permission was denied on the object
	errColumnPerm      = 230   // permission was denied on the column
	errLoginFailed     = 18456 // Login failed for user
	errDatabaseOffline = 942   // Database cannot be opened because it is offline
)

// Adapter runs statements on SQL Server. The server has no per-statement
// timeout, so the client deadline cancels the run with an attention packet.
type Adapter struct {
	*sqldb.Runner
}

// NewAdapter creates an adapter. Nothing is dialed until the first run.
func NewAdapter(id string, cfg *Config, logger *zap.Logger) *Adapter {
	return &Adapter{Runner: sqldb.New(sqldb.Options{
		ID:          id,
		DriverName:  cfg.DriverName(),
		DSN:         cfg.DSN(),
		Logger:      logger,
		Classify:    ClassifyError,
		SchemaQuery: schemaQuery,
	})}
}

// Explain returns the estimated plan. SHOWPLAN must be toggled on the same session.
func (a *Adapter) Explain(ctx context.Context, stmt string) (string, error) {
	db, err := a.DB(ctx)
	if err != nil {
		return "", err
	}

	conn, err := db.Conn(ctx)
	if err != nil {
		return "", err
	}
	defer conn.Close()

	if _, err := conn.ExecContext(ctx, "SET SHOWPLAN_TEXT ON"); err != nil {
		return "", fmt.Errorf("explain failed: %w", err)
	}
	defer conn.ExecContext(context.WithoutCancel(ctx), "SET SHOWPLAN_TEXT OFF")

	rows, err := conn.QueryContext(ctx, stmt)
	if err != nil {
		return "", fmt.Errorf("explain failed: %w", err)
	}
	defer rows.Close()

	_, values, err := sqldb.ScanAll(rows)
	if err != nil {
		return "", err
	}
	return sqldb.PlanText(values), nil
}

// QuoteIdentifier quotes a name with brackets, escaping ] as ]].
func (a *Adapter) QuoteIdentifier(name string) string {
	return "[" + strings.ReplaceAll(name, "]", "]]") + "]"
}

// QuoteLiteral renders v as a T-SQL literal.
func (a *Adapter) QuoteLiteral(v any) (string, error) {
	return datasource.FormatLiteral(v, LiteralStyle)
}

// Dialect returns T-SQL lexical rules.
func (a *Adapter) Dialect() datasource.Dialect {
	return Dialect
}

// ClassifyError maps SQL Server error numbers.
func ClassifyError(err error) datasource.ErrorKind {
	var msErr mssql.Error
	if !errors.As(err, &msErr) {
		return datasource.ClassifyMessage(err)
	}

	switch msErr.Number {
	case errSyntax, errKeywordSyntax, errInvalidColumn, errInvalidObject:
		return datasource.ErrorKindSyntax
	case errPermission, errColumnPerm, errLoginFailed:
		return datasource.ErrorKindPermission
	case errDatabaseOffline:
		return datasource.ErrorKindConnection
	}
	return datasource.ClassifyMessage(err)
}

// Register adds the SQL Server adapter to r.
func Register(r *datasource.Registry) error {
	return r.Register(datasource.Registration{
		Info: datasource.AdapterInfo{
			Kind:        Kind,
			DisplayName: "Microsoft SQL Server",
			Family:      "relational",
		},
		Factory: func(_ context.Context, cfg datasource.Config) (datasource.Adapter, error) {
			msCfg, err := FromMap(cfg.URL, cfg.Settings)
			if err != nil {
				return nil, err
			}
			return NewAdapter(cfg.ID, msCfg, cfg.Logger), nil
		},
	})
}

var _ datasource.Adapter = (*Adapter)(nil)
