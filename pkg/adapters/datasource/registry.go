package datasource

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-monitor/pkg/apperrors"
)

// AdapterInfo describes a registered adapter kind.
type AdapterInfo struct {
	Kind        string `json:"kind"`         // "postgres", "mysql", "cassandra"
	DisplayName string `json:"display_name"` // "PostgreSQL", "Apache Cassandra"
	Family      string `json:"family"`       // "relational", "wide-column", ...
	// ServerTimeouts reports whether the backend cancels long statements itself.
	ServerTimeouts bool `json:"server_timeouts"`
}

// Config is what a factory receives to build one adapter instance.
type Config struct {
	ID       string
	URL      string
	Settings map[string]any
	Logger   *zap.Logger
}

// Factory builds an adapter. Factories must not dial eagerly; connections are
// opened on first use so a single unreachable backend does not block startup.
type Factory func(ctx context.Context, cfg Config) (Adapter, error)

// Registration pairs adapter info with its factory.
type Registration struct {
	Info    AdapterInfo
	Factory Factory
}

// Registry maps adapter kinds to factories. It is populated explicitly at
// startup and passed to whatever needs to build adapters.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]Registration
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{adapters: make(map[string]Registration)}
}

// Register adds an adapter kind. Registering the same kind twice is an error.
func (r *Registry) Register(reg Registration) error {
	if reg.Info.Kind == "" || reg.Factory == nil {
		return fmt.Errorf("adapter registration requires a kind and a factory")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.adapters[reg.Info.Kind]; exists {
		return fmt.Errorf("adapter %q already registered", reg.Info.Kind)
	}
	r.adapters[reg.Info.Kind] = reg
	return nil
}

// Lookup returns the registration for kind, or ErrUnknownAdapter.
func (r *Registry) Lookup(kind string) (Registration, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	reg, ok := r.adapters[kind]
	if !ok {
		return Registration{}, fmt.Errorf("%w: %s", apperrors.ErrUnknownAdapter, kind)
	}
	return reg, nil
}

// Kinds returns info for every registered adapter, sorted by kind.
func (r *Registry) Kinds() []AdapterInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]AdapterInfo, 0, len(r.adapters))
	for _, reg := range r.adapters {
		out = append(out, reg.Info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Kind < out[j].Kind })
	return out
}

// New builds an adapter of the given kind.
func (r *Registry) New(ctx context.Context, kind string, cfg Config) (Adapter, error) {
	reg, err := r.Lookup(kind)
	if err != nil {
		return nil, err
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return reg.Factory(ctx, cfg)
}

// ClientGrace is added to a statement timeout to get the client-side deadline
// for backends that enforce the timeout themselves, so the server error wins the race.
const ClientGrace = 2 * time.Second
