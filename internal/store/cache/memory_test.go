package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/nulzo/model-gateway/internal/config"
)

func TestMemoryCache(t *testing.T) {
	ctx := context.Background()
	now := time.Unix(1000, 0)
	c := NewMemoryCache()
	c.now = func() time.Time { return now }

	var out []string
	assert.ErrorIs(t, c.Get(ctx, "models", &out), ErrMiss)

	require.NoError(t, c.Set(ctx, "models", []string{"a", "b"}, 30*time.Second))
	require.NoError(t, c.Get(ctx, "models", &out))
	assert.Equal(t, []string{"a", "b"}, out)

	now = now.Add(31 * time.Second)
	assert.ErrorIs(t, c.Get(ctx, "models", &out), ErrMiss)

	require.NoError(t, c.Set(ctx, "models", []string{"c"}, time.Minute))
	require.NoError(t, c.Delete(ctx, "models"))
	assert.ErrorIs(t, c.Get(ctx, "models", &out), ErrMiss)
}

func TestNew_Drivers(t *testing.T) {
	c, err := New(config.CacheConfig{Driver: "memory"}, config.RedisConfig{}, zap.NewNop())
	require.NoError(t, err)
	assert.IsType(t, &MemoryCache{}, c)

	c, err = New(config.CacheConfig{Driver: "none"}, config.RedisConfig{}, zap.NewNop())
	require.NoError(t, err)
	assert.Nil(t, c)

	_, err = New(config.CacheConfig{Driver: "memcached"}, config.RedisConfig{}, zap.NewNop())
	assert.Error(t, err)
}
