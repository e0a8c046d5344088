package shared

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// SaleLockKey builds redis keys serialising writes to a single sale.
func SaleLockKey(saleID int64) string {
	return fmt.Sprintf("sales:sale:%d:lock", saleID)
}

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker hands out short-lived exclusive locks stored in Redis.
type RedisLocker struct {
	client *redis.Client
	wait   time.Duration
	retry  time.Duration
}

// NewRedisLocker constructs a locker that waits up to wait for a busy key.
func NewRedisLocker(client *redis.Client, wait time.Duration) *RedisLocker {
	if wait < 0 {
		wait = 0
	}
	return &RedisLocker{client: client, wait: wait, retry: 50 * time.Millisecond}
}

// Acquire takes the lock for key. The returned release func only deletes the
// key while it still holds this caller's token.
func (l *RedisLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (func(context.Context) error, error) {
	if l == nil || l.client == nil {
		return nil, errors.New("locker not initialised")
	}
	token := uuid.NewString()
	deadline := time.Now().Add(l.wait)
	for {
		ok, err := l.client.SetNX(ctx, key, token, ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("shared: acquire %s: %w", key, err)
		}
		if ok {
			break
		}
		if !time.Now().Before(deadline) {
			return nil, fmt.Errorf("%w: %s", ErrLockNotAcquired, key)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(l.retry):
		}
	}
	release := func(ctx context.Context) error {
		return releaseScript.Run(ctx, l.client, []string{key}, token).Err()
	}
	return release, nil
}
