package mssql

import (
	"fmt"
	"net/url"

	"github.com/ekaya-inc/ekaya-monitor/pkg/adapters/datasource"
	"github.com/ekaya-inc/ekaya-monitor/pkg/config"
)

// Auth methods.
const (
	AuthSQL              = "sql"
	AuthServicePrincipal = "service_principal"
)

// Config contains SQL Server-specific connection options.
type Config struct {
	URL      string
	Host     string
	Port     int
	Database string

	// AuthMethod is "sql" or "service_principal".
	AuthMethod string

	// SQL Authentication fields
	Username string
	Password string

	// Service Principal (Azure AD) fields
	TenantID     string
	ClientID     string
	ClientSecret string

	Encrypt                bool
	TrustServerCertificate bool
	ConnectionTimeout      int
}

// DefaultPort returns the default SQL Server port.
func DefaultPort() int {
	return 1433
}

// FromMap creates a Config from a data source URL and its settings and
// auto-detects the auth method when none is given.
func FromMap(rawURL string, settings map[string]any) (*Config, error) {
	cfg := &Config{
		URL:               rawURL,
		Port:              DefaultPort(),
		Encrypt:           true,
		ConnectionTimeout: 30,
		AuthMethod:        AuthSQL,
	}
	if cfg.URL != "" {
		return cfg, nil
	}

	var ok bool
	if cfg.Host, ok = datasource.StringSetting(settings, "host"); !ok {
		return nil, fmt.Errorf("url or host is required")
	}
	if cfg.Database, ok = datasource.StringSetting(settings, "database"); !ok {
		return nil, fmt.Errorf("database is required")
	}
	if port, ok := datasource.IntSetting(settings, "port"); ok {
		cfg.Port = port
	}
	if encrypt, ok := datasource.BoolSetting(settings, "encrypt"); ok {
		cfg.Encrypt = encrypt
	}
	if trust, ok := datasource.BoolSetting(settings, "trust_server_certificate"); ok {
		cfg.TrustServerCertificate = trust
	}
	if timeout, ok := datasource.IntSetting(settings, "connection_timeout"); ok {
		cfg.ConnectionTimeout = timeout
	}

	if method, ok := datasource.StringSetting(settings, "auth_method"); ok {
		cfg.AuthMethod = method
	} else if _, ok := datasource.StringSetting(settings, "client_id"); ok {
		cfg.AuthMethod = AuthServicePrincipal
	}

	switch cfg.AuthMethod {
	case AuthSQL:
		if cfg.Username, ok = datasource.StringSetting(settings, "user"); !ok {
			return nil, fmt.Errorf("user is required for SQL authentication")
		}
		cfg.Password, _ = datasource.StringSetting(settings, "password")
	case AuthServicePrincipal:
		if cfg.TenantID, ok = datasource.StringSetting(settings, "tenant_id"); !ok {
			return nil, fmt.Errorf("tenant_id is required for service principal authentication")
		}
		cfg.ClientID, _ = datasource.StringSetting(settings, "client_id")
		if cfg.ClientSecret, ok = datasource.StringSetting(settings, "client_secret"); !ok {
			return nil, fmt.Errorf("client_secret is required for service principal authentication")
		}
	default:
		return nil, fmt.Errorf("invalid auth method: %s (must be sql or service_principal)", cfg.AuthMethod)
	}

	return cfg, nil
}

// DriverName returns the database/sql driver for the auth method.
func (c *Config) DriverName() string {
	if c.AuthMethod == AuthServicePrincipal {
		return "azuresql"
	}
	return "sqlserver"
}

// DSN builds the sqlserver:// connection URL.
func (c *Config) DSN() string {
	if c.URL != "" {
		return c.URL
	}

	query := url.Values{}
	query.Add("database", c.Database)
	query.Add("encrypt", fmt.Sprintf("%t", c.Encrypt))
	if c.TrustServerCertificate {
		query.Add("TrustServerCertificate", "true")
	}
	if c.ConnectionTimeout > 0 {
		query.Add("connection timeout", fmt.Sprintf("%d", c.ConnectionTimeout))
	}

	host := config.ResolveHost(c.Host)
	if c.AuthMethod == AuthServicePrincipal {
		query.Add("fedauth", "ActiveDirectoryServicePrincipal")
		query.Add("user id", c.ClientID)
		query.Add("password", c.ClientSecret)
		query.Add("tenant id", c.TenantID)
		return fmt.Sprintf("sqlserver://%s:%d?%s", host, c.Port, query.Encode())
	}

	return fmt.Sprintf("sqlserver://%s:%s@%s:%d?%s",
		url.QueryEscape(c.Username),
		url.QueryEscape(c.Password),
		host,
		c.Port,
		query.Encode(),
	)
}
