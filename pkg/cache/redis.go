package cache

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/golang/snappy"
	"github.com/redis/go-redis/v9"

	"github.com/ekaya-inc/ekaya-monitor/pkg/apperrors"
)

// RedisStore keeps entries in Redis as snappy-compressed JSON so cached
// results are shared across monitor processes.
type RedisStore struct {
	client    redis.UniversalClient
	prefix    string
	retention time.Duration
}

var _ Store = (*RedisStore)(nil)

// NewRedisStore creates a store under prefix. Keys expire retention after
// they were written.
func NewRedisStore(client redis.UniversalClient, prefix string, retention time.Duration) *RedisStore {
	return &RedisStore{client: client, prefix: prefix, retention: retention}
}

func (s *RedisStore) Get(ctx context.Context, key string) (*Entry, error) {
	raw, err := s.client.Get(ctx, s.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, apperrors.ErrCacheMiss
	}
	if err != nil {
		return nil, fmt.Errorf("redis get: %w", err)
	}

	data, err := snappy.Decode(nil, raw)
	if err != nil {
		return nil, fmt.Errorf("failed to decode cache entry: %w", err)
	}

	// Keep numbers as json.Number so integer columns survive the round trip.
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var e Entry
	if err := dec.Decode(&e); err != nil {
		return nil, fmt.Errorf("failed to unmarshal cache entry: %w", err)
	}
	return &e, nil
}

func (s *RedisStore) Set(ctx context.Context, e *Entry) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to marshal cache entry: %w", err)
	}
	if err := s.client.Set(ctx, s.prefix+e.Fingerprint, snappy.Encode(nil, data), s.retention).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}
