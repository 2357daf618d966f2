// Package cache is the shared result cache keyed by statement fingerprint.
package cache

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/ekaya-inc/ekaya-monitor/pkg/adapters/datasource"
	"github.com/ekaya-inc/ekaya-monitor/pkg/apperrors"
)

// Entry is a stored result. Result.CachedAt is the write time.
type Entry struct {
	Fingerprint string             `json:"fingerprint"`
	Result      *datasource.Result `json:"result"`
	ExpiresAt   time.Time          `json:"expires_at"`
}

// Store persists entries. Freshness is decided by the caller against its
// own clock; a store only has to hold entries for its retention period.
type Store interface {
	// Get returns apperrors.ErrCacheMiss when no entry exists.
	Get(ctx context.Context, key string) (*Entry, error)
	// Set overwrites any entry stored under e.Fingerprint.
	Set(ctx context.Context, e *Entry) error
}

// MemoryStore keeps entries in process.
type MemoryStore struct {
	items *gocache.Cache
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates a store that drops entries retention after they
// were written.
func NewMemoryStore(retention time.Duration) *MemoryStore {
	return &MemoryStore{items: gocache.New(retention, retention)}
}

func (s *MemoryStore) Get(_ context.Context, key string) (*Entry, error) {
	v, ok := s.items.Get(key)
	if !ok {
		return nil, apperrors.ErrCacheMiss
	}
	return v.(*Entry), nil
}

func (s *MemoryStore) Set(_ context.Context, e *Entry) error {
	s.items.Set(e.Fingerprint, e, gocache.DefaultExpiration)
	return nil
}

// Len returns the number of retained entries.
func (s *MemoryStore) Len() int {
	return s.items.ItemCount()
}
