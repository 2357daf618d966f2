// Package redshift runs statements on Amazon Redshift through lib/pq.
package redshift

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-monitor/pkg/adapters/datasource"
	"github.com/ekaya-inc/ekaya-monitor/pkg/adapters/datasource/sqldb"
	"github.com/ekaya-inc/ekaya-monitor/pkg/config"
)

// Kind is the adapter kind registered for Redshift.
const Kind = "redshift"

const schemaQuery = `
	SELECT table_schema, table_name, column_name, data_type
	FROM information_schema.columns
	WHERE table_schema NOT IN ('pg_catalog', 'information_schema', 'pg_internal')
	ORDER BY table_schema, table_name, ordinal_position`

// Dialect is ANSI SQL where a backslash escapes inside string literals.
// Redshift has no dollar quoting.
var Dialect = datasource.Dialect{
	StringQuotes:     []byte{'\''},
	IdentifierQuotes: []datasource.QuotePair{{Open: '"', Close: '"'}},
	BackslashEscapes: true,
	LineComments:     []string{"--"},
	BlockComments:    true,
}

// LiteralStyle quotes strings with pq.QuoteLiteral, which switches to an
// E'' literal when the value holds a backslash.
var LiteralStyle = datasource.LiteralStyle{QuoteString: pq.QuoteLiteral, True: "TRUE", False: "FALSE"}

// Config holds Redshift connection options.
type Config struct {
	URL      string
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
}

// FromMap creates a Config from a data source URL and its settings.
func FromMap(rawURL string, settings map[string]any) (*Config, error) {
	cfg := &Config{URL: rawURL, Port: 5439, SSLMode: "require"}
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
	if port, ok := datasource.IntSetting(settings, "port"); ok {
		cfg.Port = port
	}
	if mode, ok := datasource.StringSetting(settings, "ssl_mode"); ok {
		cfg.SSLMode = mode
	}
	return cfg, nil
}

// DSN returns the lib/pq connection URL.
func (c *Config) DSN() string {
	if c.URL != "" {
		return strings.Replace(c.URL, "redshift://", "postgres://", 1)
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		url.QueryEscape(c.User),
		url.QueryEscape(c.Password),
		config.ResolveHost(c.Host),
		c.Port,
		url.QueryEscape(c.Database),
		c.SSLMode)
}

// Adapter runs statements on Redshift. Runs happen in a rolled back
// transaction with statement_timeout set for its duration.
type Adapter struct {
	*sqldb.Runner
}

// NewAdapter creates an adapter. Nothing is dialed until the first run.
func NewAdapter(id string, cfg *Config, logger *zap.Logger) *Adapter {
	return &Adapter{Runner: sqldb.New(sqldb.Options{
		ID:            id,
		DriverName:    "postgres",
		DSN:           cfg.DSN(),
		Logger:        logger,
		Transaction:   true,
		SetTimeout:    setTimeout,
		Classify:      ClassifyError,
		SchemaQuery:   schemaQuery,
		ExplainPrefix: "EXPLAIN ",
	})}
}

func setTimeout(ctx context.Context, ex sqldb.Execer, timeout time.Duration) error {
	_, err := ex.ExecContext(ctx, fmt.Sprintf("SET statement_timeout TO %d", timeout.Milliseconds()))
	return err
}

// QuoteIdentifier quotes a name with double quotes.
func (a *Adapter) QuoteIdentifier(name string) string {
	return pq.QuoteIdentifier(name)
}

// QuoteLiteral renders v as a Redshift literal.
func (a *Adapter) QuoteLiteral(v any) (string, error) {
	return datasource.FormatLiteral(v, LiteralStyle)
}

func (a *Adapter) Dialect() datasource.Dialect {
	return Dialect
}

// ClassifyError maps lib/pq errors by SQLSTATE class.
func ClassifyError(err error) datasource.ErrorKind {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return datasource.ClassifyMessage(err)
	}

	code := string(pqErr.Code)
	switch {
	case code == "57014":
		return datasource.ErrorKindTimeout
	case strings.HasPrefix(code, "08"), strings.HasPrefix(code, "57P"):
		return datasource.ErrorKindConnection
	case code == "42501", strings.HasPrefix(code, "28"):
		return datasource.ErrorKindPermission
	case strings.HasPrefix(code, "42"):
		return datasource.ErrorKindSyntax
	}
	return datasource.ClassifyMessage(err)
}

// Register adds the Redshift adapter to r.
func Register(r *datasource.Registry) error {
	return r.Register(datasource.Registration{
		Info: datasource.AdapterInfo{
			Kind:           Kind,
			DisplayName:    "Amazon Redshift",
			Family:         "relational",
			ServerTimeouts: true,
		},
		Factory: func(_ context.Context, cfg datasource.Config) (datasource.Adapter, error) {
			rsCfg, err := FromMap(cfg.URL, cfg.Settings)
			if err != nil {
				return nil, err
			}
			return NewAdapter(cfg.ID, rsCfg, cfg.Logger), nil
		},
	})
}

var _ datasource.Adapter = (*Adapter)(nil)
