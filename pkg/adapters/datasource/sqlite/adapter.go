// Package sqlite runs statements on SQLite files through the pure Go modernc driver.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
	sqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/ekaya-inc/ekaya-monitor/pkg/adapters/datasource"
	"github.com/ekaya-inc/ekaya-monitor/pkg/adapters/datasource/sqldb"
)

// Kind is the adapter kind registered for SQLite.
const Kind = "sqlite"

// Dialect accepts SQLite's [] and `` identifier quotes as well as "".
var Dialect = datasource.Dialect{
	StringQuotes: []byte{'\''},
	IdentifierQuotes: []datasource.QuotePair{
		{Open: '"', Close: '"'},
		{Open: '[', Close: ']'},
		{Open: '`', Close: '`'},
	},
	LineComments:  []string{"--"},
	BlockComments: true,
}

// LiteralStyle uses 1 and 0 for booleans.
var LiteralStyle = datasource.LiteralStyle{True: "1", False: "0"}

const schemaQuery = `
	SELECT 'main', m.name, p.name, p.type
	FROM sqlite_master m
	JOIN pragma_table_info(m.name) p
	WHERE m.type IN ('table', 'view') AND m.name NOT LIKE 'sqlite_%'
	ORDER BY m.name, p.cid`

// Config holds the database path.
type Config struct {
	Path     string
	ReadOnly bool
}

// FromMap reads the path from the URL ("sqlite:///var/db.sqlite") or the path setting.
func FromMap(rawURL string, settings map[string]any) (*Config, error) {
	cfg := &Config{Path: strings.TrimPrefix(rawURL, "sqlite://")}
	if cfg.Path == "" {
		cfg.Path, _ = datasource.StringSetting(settings, "path")
	}
	if cfg.Path == "" {
		return nil, fmt.Errorf("url or path is required")
	}
	cfg.ReadOnly, _ = datasource.BoolSetting(settings, "read_only")
	return cfg, nil
}

// DSN returns the modernc DSN with a busy timeout so concurrent checks wait for locks.
func (c *Config) DSN() string {
	dsn := c.Path
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	dsn += sep + "_pragma=busy_timeout(5000)"
	if c.ReadOnly {
		dsn += "&_pragma=query_only(1)"
	}
	return dsn
}

// Adapter runs statements on SQLite. The driver interrupts a statement when
// its context ends, which enforces the timeout.
type Adapter struct {
	*sqldb.Runner
}

// NewAdapter creates an adapter.
func NewAdapter(id string, cfg *Config, logger *zap.Logger) *Adapter {
	maxConns := 4
	if cfg.Path == ":memory:" {
		// Each connection would get its own empty database.
		maxConns = 1
	}

	return &Adapter{Runner: sqldb.New(sqldb.Options{
		ID:     id,
		Logger: logger,
		Open: func(context.Context) (*sql.DB, error) {
			return sql.Open("sqlite", cfg.DSN())
		},
		Classify:      ClassifyError,
		SchemaQuery:   schemaQuery,
		ExplainPrefix: "EXPLAIN QUERY PLAN ",
		MaxOpenConns:  maxConns,
	})}
}

// QuoteIdentifier quotes a name with double quotes.
func (a *Adapter) QuoteIdentifier(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// QuoteLiteral renders v as a SQLite literal.
func (a *Adapter) QuoteLiteral(v any) (string, error) {
	return datasource.FormatLiteral(v, LiteralStyle)
}

// Dialect returns SQLite lexical rules.
func (a *Adapter) Dialect() datasource.Dialect {
	return Dialect
}

// ClassifyError maps SQLite result codes.
func ClassifyError(err error) datasource.ErrorKind {
	var sqErr *sqlite.Error
	if !errors.As(err, &sqErr) {
		return datasource.ClassifyMessage(err)
	}

	switch sqErr.Code() & 0xff {
	case sqlite3.SQLITE_INTERRUPT:
		return datasource.ErrorKindTimeout
	case sqlite3.SQLITE_AUTH, sqlite3.SQLITE_PERM, sqlite3.SQLITE_READONLY:
		return datasource.ErrorKindPermission
	case sqlite3.SQLITE_CANTOPEN, sqlite3.SQLITE_NOTADB:
		return datasource.ErrorKindConnection
	}
	return datasource.ClassifyMessage(err)
}

// Register adds the SQLite adapter to r.
func Register(r *datasource.Registry) error {
	return r.Register(datasource.Registration{
		Info: datasource.AdapterInfo{
			Kind:        Kind,
			DisplayName: "SQLite",
			Family:      "relational",
		},
		Factory: func(_ context.Context, cfg datasource.Config) (datasource.Adapter, error) {
			sqCfg, err := FromMap(cfg.URL, cfg.Settings)
			if err != nil {
				return nil, err
			}
			return NewAdapter(cfg.ID, sqCfg, cfg.Logger), nil
		},
	})
}

var _ datasource.Adapter = (*Adapter)(nil)
