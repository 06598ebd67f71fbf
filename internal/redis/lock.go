package redisclient

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var (
	ErrLockNotAcquired = errors.New("visit lock not acquired")
)

// Locker serializes check-in processing per appointment code so two
// kiosk scans of the same code cannot interleave.
type Locker interface {
	WithVisitLock(ctx context.Context, appointmentCode string, fn func(ctx context.Context) error) error
}

type redisVisitLocker struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisVisitLocker creates a locker that uses a per appointment-code Redis key
func NewRedisVisitLocker(client *redis.Client, ttl time.Duration) Locker {
	return &redisVisitLocker{
		client: client,
		ttl:    ttl,
	}
}

func (l *redisVisitLocker) WithVisitLock(ctx context.Context, appointmentCode string, fn func(ctx context.Context) error) error {
	key := fmt.Sprintf("lock:visit:%s", appointmentCode)
	token := uuid.NewString()

	ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return fmt.Errorf("acquire visit lock: %w", err)
	}
	if !ok {
		return ErrLockNotAcquired
	}

	defer func() {
		_ = l.release(ctx, key, token)
	}()

	ctxWithTimeout, cancel := context.WithTimeout(ctx, l.ttl)
	defer cancel()

	return fn(ctxWithTimeout)
}

var unlockScript = redis.NewScript(`
local val = redis.call("GET", KEYS[1])
if val == ARGV[1] then
  return redis.call("DEL", KEYS[1])
else
  return 0
end
`)

func (l *redisVisitLocker) release(ctx context.Context, key, token string) error {
	_, err := unlockScript.Run(ctx, l.client, []string{key}, token).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("release visit lock: %w", err)
	}
	return nil
}
