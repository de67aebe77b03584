package lock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// releaseScript deletes the key only while it still holds our token, so an
// expired lock re-acquired by another holder is never released by us.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`)

// ErrLockTimeout is returned when a lock could not be acquired before the
// context deadline.
var ErrLockTimeout = errors.New("lock acquisition timed out")

// RedisLocker is a Locker shared by every instance pointing at the same
// Redis. Locks are SET NX PX with a random token and expire after TTL if
// the holder dies.
type RedisLocker struct {
	client        redis.UniversalClient
	prefix        string
	ttl           time.Duration
	retryInterval time.Duration
	logger        *slog.Logger
}

// RedisOptions configures a RedisLocker.
type RedisOptions struct {
	// Prefix is prepended to every key. Default: "warden:lock:".
	Prefix string

	// TTL is the lock lease. Default: 30s.
	TTL time.Duration

	// RetryInterval is the polling interval while waiting. Default: 25ms.
	RetryInterval time.Duration
}

// NewRedisLocker creates a Redis-backed locker.
func NewRedisLocker(client redis.UniversalClient, opts RedisOptions, logger *slog.Logger) *RedisLocker {
	if opts.Prefix == "" {
		opts.Prefix = "warden:lock:"
	}
	if opts.TTL <= 0 {
		opts.TTL = 30 * time.Second
	}
	if opts.RetryInterval <= 0 {
		opts.RetryInterval = 25 * time.Millisecond
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisLocker{
		client:        client,
		prefix:        opts.Prefix,
		ttl:           opts.TTL,
		retryInterval: opts.RetryInterval,
		logger:        logger.With("component", "lock"),
	}
}

// Lock implements Locker.
func (l *RedisLocker) Lock(ctx context.Context, key string) (func(), error) {
	redisKey := l.prefix + key
	token := uuid.NewString()

	for {
		ok, err := l.client.SetNX(ctx, redisKey, token, l.ttl).Result()
		if err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("%w: %s", ErrLockTimeout, key)
			}
			return nil, fmt.Errorf("failed to acquire lock %s: %w", key, err)
		}
		if ok {
			break
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %s", ErrLockTimeout, key)
		case <-time.After(l.retryInterval):
		}
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			releaseCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if err := releaseScript.Run(releaseCtx, l.client, []string{redisKey}, token).Err(); err != nil {
				l.logger.Warn("failed to release lock", "key", key, "error", err)
			}
		})
	}, nil
}
