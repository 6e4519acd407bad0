// File: internal/infra/redis/lock.go
package redis

import (
	"context"
	"time"

	"drivepass-billing/internal/domain"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (token string, err error)
	Unlock(ctx context.Context, key, token string) error
}

var _ Locker = (*RedisLocker)(nil)

// lockClient is the part of go-redis the locker needs.
type lockClient interface {
	redis.Scripter
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
}

type RedisLocker struct {
	cli      lockClient
	attempts int
	wait     time.Duration
}

// NewLocker returns a SETNX lock that tries attempts times, wait apart.
func NewLocker(c *Client, attempts int, wait time.Duration) *RedisLocker {
	if attempts <= 0 {
		attempts = 1
	}
	return &RedisLocker{cli: c.cli, attempts: attempts, wait: wait}
}

// TryLock returns domain.ErrLockBusy when another holder keeps the key.
// A transport error is only returned when the last attempt failed with it.
func (l *RedisLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (string, error) {
	token := uuid.NewString()
	var lastErr error
	for i := 0; i < l.attempts; i++ {
		ok, err := l.cli.SetNX(ctx, key, token, ttl).Result()
		switch {
		case err != nil:
			lastErr = err
		case ok:
			return token, nil
		default:
			lastErr = nil
		}
		if i < l.attempts-1 {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(l.wait):
			}
		}
	}
	if lastErr != nil {
		return "", lastErr
	}
	return "", domain.ErrLockBusy
}

var luaUnlock = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
else
	return 0
end`)

func (l *RedisLocker) Unlock(ctx context.Context, key, token string) error {
	_, err := luaUnlock.Run(ctx, l.cli, []string{key}, token).Result()
	return err
}

// WebhookLockKey scopes the in-flight lock to one provider resource.
func WebhookLockKey(provider, externalID string) string {
	return "lock:payment:" + provider + ":" + externalID
}
