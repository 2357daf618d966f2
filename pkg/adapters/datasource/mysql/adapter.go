// Package mysql runs statements on MySQL and MariaDB through go-sql-driver/mysql.
package mysql

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-monitor/pkg/adapters/datasource"
	"github.com/ekaya-inc/ekaya-monitor/pkg/adapters/datasource/sqldb"
	"github.com/ekaya-inc/ekaya-monitor/pkg/config"
)

// Kind is the adapter kind registered for MySQL.
const Kind = "mysql"

// Dialect covers MySQL's default sql_mode: backslash escapes, both quote
// styles for strings, backtick identifiers and # comments.
var Dialect = datasource.Dialect{
	StringQuotes:     []byte{'\'', '"'},
	IdentifierQuotes: []datasource.QuotePair{{Open: '`', Close: '`'}},
	BackslashEscapes: true,
	LineComments:     []string{"-- ", "#"},
	BlockComments:    true,
}

// LiteralStyle escapes quotes with backslashes.
var LiteralStyle = datasource.LiteralStyle{BackslashEscapes: true, True: "TRUE", False: "FALSE"}

const schemaQuery = `
	SELECT table_schema, table_name, column_name, data_type
	FROM information_schema.columns
	WHERE table_schema = DATABASE()
	ORDER BY table_schema, table_name, ordinal_position`

// MySQL server error numbers.
const (
	errQueryTimeout     = 3024 // ER_QUERY_TIMEOUT
	errParse            = 1064 // ER_PARSE_ERROR
	errNoSuchTable      = 1146 // ER_NO_SUCH_TABLE
	errBadField         = 1054 // ER_BAD_FIELD_ERROR
	errTableAccess      = 1142 // ER_TABLEACCESS_DENIED_ERROR
	errDBAccess         = 1044 // ER_DBACCESS_DENIED_ERROR
	errAccessDenied     = 1045 // ER_ACCESS_DENIED_ERROR
	errServerGone       = 2006 // CR_SERVER_GONE_ERROR
	errServerLost       = 2013 // CR_SERVER_LOST
	errQueryInterrupted = 1317 // ER_QUERY_INTERRUPTED
)

// Config holds MySQL connection options.
type Config struct {
	URL      string
	Host     string
	Port     int
	User     string
	Password string
	Database string
	TLS      string
}

// FromMap creates a Config from a data source URL and its settings.
// A URL may be a driver DSN or a mysql:// URL.
func FromMap(rawURL string, settings map[string]any) (*Config, error) {
	cfg := &Config{URL: rawURL, Port: 3306}
	if cfg.URL != "" {
		return cfg, nil
	}

	var ok bool
	if cfg.Host, ok = datasource.StringSetting(settings, "host"); !ok {
		return nil, fmt.Errorf("url or host is required")
	}
	if cfg.User, ok = datasource.StringSetting(settings, "user"); !ok {
		return nil, fmt.Errorf("user is required")
	}
	if cfg.Database, ok = datasource.StringSetting(settings, "database"); !ok {
		return nil, fmt.Errorf("database is required")
	}
	cfg.Password, _ = datasource.StringSetting(settings, "password")
	cfg.TLS, _ = datasource.StringSetting(settings, "tls")
	if port, ok := datasource.IntSetting(settings, "port"); ok {
		cfg.Port = port
	}
	return cfg, nil
}

// DSN builds a driver DSN.
func (c *Config) DSN() (string, error) {
	if c.URL != "" && !strings.HasPrefix(c.URL, "mysql://") {
		return c.URL, nil
	}

	src := c
	if c.URL != "" {
		parsed, err := parseURL(c.URL)
		if err != nil {
			return "", err
		}
		src = parsed
	}

	dc := mysql.NewConfig()
	dc.User = src.User
	dc.Passwd = src.Password
	dc.Net = "tcp"
	dc.Addr = fmt.Sprintf("%s:%d", config.ResolveHost(src.Host), src.Port)
	dc.DBName = src.Database
	dc.TLSConfig = src.TLS
	dc.ParseTime = true
	return dc.FormatDSN(), nil
}

// Adapter runs statements on MySQL. Each run sets max_execution_time on its
// session so the server aborts long SELECTs.
type Adapter struct {
	*sqldb.Runner
}

// NewAdapter creates an adapter. Nothing is dialed until the first run.
func NewAdapter(id string, cfg *Config, logger *zap.Logger) (*Adapter, error) {
	dsn, err := cfg.DSN()
	if err != nil {
		return nil, err
	}
	return &Adapter{Runner: sqldb.New(sqldb.Options{
		ID:            id,
		DriverName:    "mysql",
		DSN:           dsn,
		Logger:        logger,
		SetTimeout:    setTimeout,
		Classify:      ClassifyError,
		SchemaQuery:   schemaQuery,
		ExplainPrefix: "EXPLAIN ",
	})}, nil
}

// setTimeout always runs so a pooled session never keeps a previous run's limit.
func setTimeout(ctx context.Context, ex sqldb.Execer, timeout time.Duration) error {
	_, err := ex.ExecContext(ctx, fmt.Sprintf("SET SESSION max_execution_time = %d", timeout.Milliseconds()))
	return err
}

// QuoteIdentifier quotes a name with backticks.
func (a *Adapter) QuoteIdentifier(name string) string {
	return "`" + strings.ReplaceAll(name, "`", "``") + "`"
}

// QuoteLiteral renders v as a MySQL literal.
func (a *Adapter) QuoteLiteral(v any) (string, error) {
	return datasource.FormatLiteral(v, LiteralStyle)
}

// Dialect returns MySQL lexical rules.
func (a *Adapter) Dialect() datasource.Dialect {
	return Dialect
}

// ClassifyError maps MySQL error numbers.
func ClassifyError(err error) datasource.ErrorKind {
	if errors.Is(err, mysql.ErrInvalidConn) {
		return datasource.ErrorKindConnection
	}

	var myErr *mysql.MySQLError
	if !errors.As(err, &myErr) {
		return datasource.ClassifyMessage(err)
	}

	switch myErr.Number {
	case errQueryTimeout, errQueryInterrupted:
		return datasource.ErrorKindTimeout
	case errParse, errNoSuchTable, errBadField:
		return datasource.ErrorKindSyntax
	case errTableAccess, errDBAccess, errAccessDenied:
		return datasource.ErrorKindPermission
	case errServerGone, errServerLost:
		return datasource.ErrorKindConnection
	}
	return datasource.ClassifyMessage(err)
}

// Register adds the MySQL adapter to r.
func Register(r *datasource.Registry) error {
	return r.Register(datasource.Registration{
		Info: datasource.AdapterInfo{
			Kind:           Kind,
			DisplayName:    "MySQL",
			Family:         "relational",
			ServerTimeouts: true,
		},
		Factory: func(_ context.Context, cfg datasource.Config) (datasource.Adapter, error) {
			myCfg, err := FromMap(cfg.URL, cfg.Settings)
			if err != nil {
				return nil, err
			}
			return NewAdapter(cfg.ID, myCfg, cfg.Logger)
		},
	})
}

var _ datasource.Adapter = (*Adapter)(nil)
