package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mikey/mail-triage/internal/core"
)

type clockedCache interface {
	core.CacheRepository
	setNow(func() time.Time)
}

func (c *MemoryCache) setNow(now func() time.Time) { c.now = now }
func (c *SQLiteCache) setNow(now func() time.Time) { c.now = now }

func runCacheContract(t *testing.T, c clockedCache) {
	ctx := context.Background()
	now := time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)
	c.setNow(func() time.Time { return now })

	_, err := c.Get(ctx, "missing")
	assert.ErrorIs(t, err, core.ErrCacheMiss)

	require.NoError(t, c.Set(ctx, "labels:me@example.com", []byte(`{"urgent":"Label_1"}`), time.Hour))
	got, err := c.Get(ctx, "labels:me@example.com")
	require.NoError(t, err)
	assert.Equal(t, `{"urgent":"Label_1"}`, string(got))

	ok, err := c.SetNX(ctx, "push:me@example.com:42", []byte("1"), time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = c.SetNX(ctx, "push:me@example.com:42", []byte("1"), time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	now = now.Add(2 * time.Minute)
	_, err = c.Get(ctx, "push:me@example.com:42")
	assert.ErrorIs(t, err, core.ErrCacheMiss)
	ok, err = c.SetNX(ctx, "push:me@example.com:42", []byte("2"), time.Minute)
	require.NoError(t, err)
	assert.True(t, ok, "expired entries can be claimed again")

	require.NoError(t, c.Delete(ctx, "labels:me@example.com"))
	_, err = c.Get(ctx, "labels:me@example.com")
	assert.ErrorIs(t, err, core.ErrCacheMiss)

	now = now.Add(time.Hour)
	require.NoError(t, c.Cleanup(ctx))
}

func TestMemoryCache(t *testing.T) {
	c := NewMemoryCache(zap.NewNop(), 0)
	defer c.Stop()
	runCacheContract(t, c)
}

func TestMemoryCacheCleanupDropsExpired(t *testing.T) {
	c := NewMemoryCache(zap.NewNop(), 0)
	now := time.Now()
	c.setNow(func() time.Time { return now })

	require.NoError(t, c.Set(context.Background(), "a", []byte("1"), time.Second))
	require.NoError(t, c.Set(context.Background(), "b", []byte("2"), time.Hour))
	now = now.Add(time.Minute)
	require.NoError(t, c.Cleanup(context.Background()))

	assert.Len(t, c.entries, 1)
	assert.Contains(t, c.entries, "b")
}

func TestSQLiteCache(t *testing.T) {
	c, err := NewSQLiteCache(":memory:", zap.NewNop(), 0)
	require.NoError(t, err)
	defer c.Stop()
	runCacheContract(t, c)
}
