package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// DefaultLockTTL bounds how long a crashed holder can block the next campaign.
const DefaultLockTTL = 15 * time.Minute

// ErrLockHeld is returned when another holder owns the lock.
var ErrLockHeld = errors.New("lock already held")

// releaseScript deletes the key only if it still holds our token, so an
// expired holder cannot release a lock someone else has since acquired.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Lock is a single-key mutual exclusion lock built on SET NX with a TTL.
type Lock struct {
	client *Client
	logger *zap.Logger
	ttl    time.Duration
}

// NewLock creates a lock helper. A non-positive ttl uses DefaultLockTTL.
func NewLock(client *Client, logger *zap.Logger, ttl time.Duration) *Lock {
	if ttl <= 0 {
		ttl = DefaultLockTTL
	}
	return &Lock{
		client: client,
		logger: logger,
		ttl:    ttl,
	}
}

func (l *Lock) buildKey(name string) string {
	return fmt.Sprintf("lock:%s", name)
}

// Acquire takes the named lock. It returns ErrLockHeld when another holder
// owns it. The returned release func is safe to call more than once.
func (l *Lock) Acquire(ctx context.Context, name string) (func(), error) {
	key := l.buildKey(name)
	token := uuid.NewString()

	set, err := l.client.rdb.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("redis setnx failed: %w", err)
	}
	if !set {
		return nil, ErrLockHeld
	}

	l.logger.Debug("lock acquired", zap.String("key", key), zap.Duration("ttl", l.ttl))

	release := func() {
		// Release must run even if the caller's context is gone.
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 3*time.Second)
		defer cancel()

		if err := releaseScript.Run(ctx, l.client.rdb, []string{key}, token).Err(); err != nil {
			l.logger.Warn("failed to release lock", zap.String("key", key), zap.Error(err))
		}
	}
	return release, nil
}
