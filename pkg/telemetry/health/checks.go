package health

import (
	"context"
	"errors"

	"github.com/redis/go-redis/v9"
)

// Pinger is satisfied by the SQL store.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingCheck checks a database connection.
func PingCheck(db Pinger) CheckFunc {
	return func(ctx context.Context) error {
		return db.Ping(ctx)
	}
}

// RedisCheck checks the lock backend.
func RedisCheck(client redis.UniversalClient) CheckFunc {
	return func(ctx context.Context) error {
		return client.Ping(ctx).Err()
	}
}

// RunningCheck fails while running reports false. It covers background
// workers like the SLA scheduler and the Kafka consumer.
func RunningCheck(name string, running func() bool) CheckFunc {
	return func(ctx context.Context) error {
		if !running() {
			return errors.New(name + " is not running")
		}
		return nil
	}
}
