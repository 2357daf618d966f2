package datasource

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-monitor/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-monitor/pkg/config"
	"github.com/ekaya-inc/ekaya-monitor/pkg/crypto"
	"github.com/ekaya-inc/ekaya-monitor/pkg/logging"
)

// SchemaCacheTTL bounds how long a data source's table list is reused.
const SchemaCacheTTL = time.Hour

// DataSource is a named, configured connection to one backend.
type DataSource struct {
	ID        string
	Kind      string
	Timeout   time.Duration
	CacheMode string

	adapter Adapter
	schema  *expirable.LRU[string, []TableMeta]
}

// New wraps an adapter as a data source.
func New(id, kind string, adapter Adapter, timeout time.Duration, cacheMode string) *DataSource {
	return &DataSource{
		ID:        id,
		Kind:      kind,
		Timeout:   timeout,
		CacheMode: cacheMode,
		adapter:   adapter,
		schema:    expirable.NewLRU[string, []TableMeta](1, nil, SchemaCacheTTL),
	}
}

// Adapter returns the underlying adapter.
func (d *DataSource) Adapter() Adapter {
	return d.adapter
}

// Dialect returns the lexical rules of the backend.
func (d *DataSource) Dialect() Dialect {
	return d.adapter.Dialect()
}

// Run executes stmt. A zero opts.Timeout uses the data source timeout.
func (d *DataSource) Run(ctx context.Context, stmt string, opts RunOptions) *Result {
	if opts.Timeout == 0 {
		opts.Timeout = d.Timeout
	}
	res := d.adapter.Run(ctx, stmt, opts)
	if res == nil {
		res = NewErrorResult(ErrorKindUnknown, errors.New("adapter returned no result"), 0)
	}
	return res
}

// Cancel cancels a run started with handle.
func (d *DataSource) Cancel(ctx context.Context, handle uuid.UUID) error {
	return d.adapter.Cancel(ctx, handle)
}

// Schema returns the table list, cached for SchemaCacheTTL.
func (d *DataSource) Schema(ctx context.Context) ([]TableMeta, error) {
	if tables, ok := d.schema.Get(d.ID); ok {
		return tables, nil
	}
	tables, err := d.adapter.Schema(ctx)
	if err != nil {
		return nil, err
	}
	d.schema.Add(d.ID, tables)
	return tables, nil
}

// Explain returns the backend plan for stmt.
func (d *DataSource) Explain(ctx context.Context, stmt string) (string, error) {
	return d.adapter.Explain(ctx, stmt)
}

// Reconnect drops the cached schema and reopens the connection.
func (d *DataSource) Reconnect(ctx context.Context) error {
	d.schema.Purge()
	return d.adapter.Reconnect(ctx)
}

// Close closes the adapter.
func (d *DataSource) Close() error {
	return d.adapter.Close()
}

// Set holds every configured data source by id.
type Set struct {
	sources map[string]*DataSource
	logger  *zap.Logger
}

// NewSet builds data sources from configuration. Encrypted settings are
// decrypted with encryptor, which may be nil when none are present.
// defaultTimeout applies to sources without their own timeout.
func NewSet(ctx context.Context, registry *Registry, configs map[string]config.DataSourceConfig, defaultTimeout time.Duration, encryptor *crypto.CredentialEncryptor, logger *zap.Logger) (*Set, error) {
	set := &Set{sources: make(map[string]*DataSource, len(configs)), logger: logger}

	for id, cfg := range configs {
		settings, err := crypto.DecryptSettings(encryptor, cfg.Settings)
		if err != nil {
			_ = set.Close()
			return nil, fmt.Errorf("data source %q: %w", id, err)
		}

		url := cfg.URL
		if url == "" {
			if s, ok := settings["url"].(string); ok {
				url = s
			}
		}

		adapter, err := registry.New(ctx, cfg.Adapter, Config{
			ID:       id,
			URL:      url,
			Settings: settings,
			Logger:   logger.With(zap.String("data_source", id)),
		})
		if err != nil {
			_ = set.Close()
			return nil, fmt.Errorf("data source %q: %w", id, err)
		}

		timeout := cfg.Timeout
		if timeout == 0 {
			timeout = defaultTimeout
		}
		set.sources[id] = New(id, cfg.Adapter, adapter, timeout, cfg.CacheMode)

		logger.Info("Configured data source",
			zap.String("data_source", id),
			zap.String("adapter", cfg.Adapter),
			zap.Duration("timeout", timeout),
			zap.String("settings", logging.RedactSettings(settings)))
	}

	return set, nil
}

// NewSetOf builds a set from already constructed data sources.
func NewSetOf(sources ...*DataSource) *Set {
	set := &Set{sources: make(map[string]*DataSource, len(sources)), logger: zap.NewNop()}
	for _, ds := range sources {
		set.sources[ds.ID] = ds
	}
	return set
}

// Get returns the data source with id, or ErrUnknownDataSource.
func (s *Set) Get(id string) (*DataSource, error) {
	ds, ok := s.sources[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", apperrors.ErrUnknownDataSource, id)
	}
	return ds, nil
}

// IDs returns the configured ids in sorted order.
func (s *Set) IDs() []string {
	ids := make([]string, 0, len(s.sources))
	for id := range s.sources {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Close closes every data source and returns the first error.
func (s *Set) Close() error {
	var first error
	for id, ds := range s.sources {
		if err := ds.Close(); err != nil {
			if s.logger != nil {
				s.logger.Warn("Failed to close data source",
					zap.String("data_source", id),
					zap.String("error", logging.SanitizeError(err)))
			}
			if first == nil {
				first = err
			}
		}
	}
	return first
}
