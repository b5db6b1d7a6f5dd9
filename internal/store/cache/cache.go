package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/nulzo/model-gateway/internal/config"
)

// ErrMiss is returned by Get when the key is absent or expired.
var ErrMiss = errors.New("cache: miss")

// CacheService defines the interface for a distributed cache system
type CacheService interface {
	// Get retrieves a value from the cache.
	// The implementation should unmarshal the data into the 'dest' pointer.
	Get(ctx context.Context, key string, dest interface{}) error

	// Set stores a value in the cache with a TTL.
	// The implementation should marshal the value.
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error

	// Delete removes a value from the cache.
	Delete(ctx context.Context, key string) error
}

// New builds the cache selected by cfg.Driver. The "none" driver yields a
// nil service, which callers treat as caching disabled.
func New(cfg config.CacheConfig, redisCfg config.RedisConfig, logger *zap.Logger) (CacheService, error) {
	switch cfg.Driver {
	case "", "memory":
		return NewMemoryCache(), nil
	case "redis":
		c, err := NewRedisCache(redisCfg)
		if err != nil {
			return nil, err
		}
		logger.Info("Connected to redis cache", zap.String("addr", redisCfg.Addr))
		return c, nil
	case "none":
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown cache driver %q", cfg.Driver)
	}
}
