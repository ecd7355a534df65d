package redis_repository

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

const lockKeyPrefix = "agentrouter:lock:"

// Locker takes short-lived cluster-wide locks with SETNX.
type Locker struct {
	client redis.Cmdable
}

func NewLocker(client redis.Cmdable) *Locker { return &Locker{client: client} }

// TryLock returns false when another holder owns name. The returned release
// deletes the key; it is a no-op when the lock was not acquired.
func (l *Locker) TryLock(ctx context.Context, name string, ttl time.Duration) (bool, func(), error) {
	key := lockKeyPrefix + name
	ok, err := l.client.SetNX(ctx, key, "1", ttl).Result()
	if err != nil || !ok {
		return false, func() {}, err
	}
	return true, func() { l.client.Del(context.WithoutCancel(ctx), key) }, nil
}
