package postgres

import (
	"fmt"
	"net/url"

	"github.com/ekaya-inc/ekaya-monitor/pkg/adapters/datasource"
	"github.com/ekaya-inc/ekaya-monitor/pkg/config"
)

// Config contains PostgreSQL-specific connection options.
type Config struct {
	URL      string
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string // "disable", "require", "verify-ca", "verify-full"
	MaxConns int32
}

// DefaultPort returns the default PostgreSQL port.
func DefaultPort() int {
	return 5432
}

// DefaultSSLMode returns the default SSL mode.
func DefaultSSLMode() string {
	return "require"
}

// FromMap creates a Config from a data source URL and its settings.
// A URL wins over discrete host/user/database settings.
func FromMap(rawURL string, settings map[string]any) (*Config, error) {
	cfg := &Config{
		URL:      rawURL,
		Port:     DefaultPort(),
		SSLMode:  DefaultSSLMode(),
		MaxConns: 10,
	}

	if n, ok := datasource.IntSetting(settings, "max_conns"); ok {
		cfg.MaxConns = int32(n)
	}
	if cfg.URL != "" {
		return cfg, nil
	}

	if host, ok := settings["host"].(string); ok {
		cfg.Host = host
	} else {
		return nil, fmt.Errorf("url or host is required")
	}

	if port, ok := datasource.IntSetting(settings, "port"); ok {
		cfg.Port = port
	}

	if user, ok := settings["user"].(string); ok {
		cfg.User = user
	} else {
		return nil, fmt.Errorf("user is required")
	}

	if password, ok := settings["password"].(string); ok {
		cfg.Password = password
	}

	if database, ok := settings["database"].(string); ok {
		cfg.Database = database
	} else {
		return nil, fmt.Errorf("database is required")
	}

	if sslMode, ok := settings["ssl_mode"].(string); ok {
		cfg.SSLMode = sslMode
	}

	return cfg, nil
}

// ConnectionString builds a PostgreSQL URL with every user-provided field escaped.
// Inside Docker, localhost resolves to host.docker.internal.
func (c *Config) ConnectionString() string {
	if c.URL != "" {
		return c.URL
	}
	return fmt.Sprintf(
		"postgresql://%s:%s@%s:%d/%s?sslmode=%s",
		url.QueryEscape(c.User),
		url.QueryEscape(c.Password),
		config.ResolveHost(c.Host),
		c.Port,
		url.QueryEscape(c.Database),
		c.SSLMode,
	)
}
