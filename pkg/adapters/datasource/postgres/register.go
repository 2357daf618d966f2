package postgres

import (
	"context"

	"github.com/ekaya-inc/ekaya-monitor/pkg/adapters/datasource"
)

// Register adds the PostgreSQL adapter to r.
func Register(r *datasource.Registry) error {
	return r.Register(datasource.Registration{
		Info: datasource.AdapterInfo{
			Kind:           Kind,
			DisplayName:    "PostgreSQL",
			Family:         "relational",
			ServerTimeouts: true,
		},
		Factory: func(_ context.Context, cfg datasource.Config) (datasource.Adapter, error) {
			pgCfg, err := FromMap(cfg.URL, cfg.Settings)
			if err != nil {
				return nil, err
			}
			return NewAdapter(cfg.ID, pgCfg, cfg.Logger), nil
		},
	})
}
