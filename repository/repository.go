// Package repository wires the shared Redis connection used for embedding
// caching and scheduler locks.
package repository

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mohammad-safakhou/agentrouter/config"
	"github.com/mohammad-safakhou/agentrouter/repository/redis_repository"
)

// Locker serialises work across instances.
type Locker interface {
	TryLock(ctx context.Context, name string, ttl time.Duration) (bool, func(), error)
}

// NewRedisClient connects using the storage.redis section. It returns nil
// without error when Redis is not configured.
func NewRedisClient(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	if !cfg.Enabled() {
		return nil, nil
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return redis_repository.Conn(ctx, cfg.Host, cfg.Port, cfg.Password, cfg.DB, timeout)
}
