package cache

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ekaya-inc/ekaya-monitor/pkg/adapters/datasource"
	"github.com/ekaya-inc/ekaya-monitor/pkg/apperrors"
)

func sampleEntry(fp string) *Entry {
	at := time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)
	r := datasource.NewResult(
		[]datasource.ColumnMeta{{Name: "id", Type: "INT4"}, {Name: "name", Type: "TEXT"}},
		[][]any{{int64(1), "a"}, {int64(2), "b"}},
		150*time.Millisecond,
	).WithCachedAt(at)
	return &Entry{Fingerprint: fp, Result: r, ExpiresAt: at.Add(time.Hour)}
}

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(time.Hour)

	_, err := s.Get(ctx, "missing")
	assert.True(t, errors.Is(err, apperrors.ErrCacheMiss))

	e := sampleEntry("fp")
	require.NoError(t, s.Set(ctx, e))

	got, err := s.Get(ctx, "fp")
	require.NoError(t, err)
	assert.Same(t, e, got)
	assert.Equal(t, 1, s.Len())

	replacement := sampleEntry("fp")
	require.NoError(t, s.Set(ctx, replacement))
	got, err = s.Get(ctx, "fp")
	require.NoError(t, err)
	assert.Same(t, replacement, got)
	assert.Equal(t, 1, s.Len())
}

func newRedisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisStore(client, "test:", 2*time.Hour), mr
}

func TestRedisStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	s, mr := newRedisStore(t)

	_, err := s.Get(ctx, "fp")
	assert.True(t, errors.Is(err, apperrors.ErrCacheMiss))

	e := sampleEntry("fp")
	require.NoError(t, s.Set(ctx, e))
	assert.True(t, mr.Exists("test:fp"))
	assert.Equal(t, 2*time.Hour, mr.TTL("test:fp"))

	got, err := s.Get(ctx, "fp")
	require.NoError(t, err)
	assert.Equal(t, "fp", got.Fingerprint)
	assert.True(t, e.ExpiresAt.Equal(got.ExpiresAt))
	require.NotNil(t, got.Result.CachedAt)
	assert.True(t, e.Result.CachedAt.Equal(*got.Result.CachedAt))
	assert.Equal(t, e.Result.Columns, got.Result.Columns)
	assert.Equal(t, [][]any{{json.Number("1"), "a"}, {json.Number("2"), "b"}}, got.Result.Rows)
	assert.Equal(t, 150*time.Millisecond, got.Result.Runtime)
}

func TestRedisStore_Expiry(t *testing.T) {
	ctx := context.Background()
	s, mr := newRedisStore(t)

	require.NoError(t, s.Set(ctx, sampleEntry("fp")))
	mr.FastForward(3 * time.Hour)

	_, err := s.Get(ctx, "fp")
	assert.True(t, errors.Is(err, apperrors.ErrCacheMiss))
}

func TestRedisStore_CorruptEntry(t *testing.T) {
	ctx := context.Background()
	s, mr := newRedisStore(t)

	require.NoError(t, mr.Set("test:fp", "not snappy"))

	_, err := s.Get(ctx, "fp")
	require.Error(t, err)
	assert.False(t, errors.Is(err, apperrors.ErrCacheMiss))
}

func TestRedisStore_ServerDown(t *testing.T) {
	ctx := context.Background()
	s, mr := newRedisStore(t)
	mr.Close()

	_, err := s.Get(ctx, "fp")
	require.Error(t, err)
	assert.Error(t, s.Set(ctx, sampleEntry("fp")))
}
