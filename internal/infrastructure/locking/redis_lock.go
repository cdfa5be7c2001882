package locking

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisRunLock is a best-effort mutex over a redis key (SET NX with TTL).
// The per-loan idempotency marker remains the correctness guarantee; this
// lock only keeps concurrent runs for the same date from stepping on each
// other's work.
type RedisRunLock struct {
	client *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

func NewRedisRunLock(client *redis.Client, ttl time.Duration, logger *slog.Logger) *RedisRunLock {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &RedisRunLock{
		client: client,
		ttl:    ttl,
		logger: logger.With("component", "RedisRunLock"),
	}
}

// Acquire takes the lock for key. The returned release func only deletes
// the key if this holder still owns it; a lock lost to TTL expiry is left
// alone.
func (l *RedisRunLock) Acquire(ctx context.Context, key string) (release func(), acquired bool, err error) {
	token := uuid.NewString()

	ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, nil
	}

	release = func() {
		current, getErr := l.client.Get(context.Background(), key).Result()
		if getErr != nil || current != token {
			l.logger.Warn("Run lock already released or lost", "key", key)
			return
		}
		if delErr := l.client.Del(context.Background(), key).Err(); delErr != nil {
			l.logger.Warn("Failed to release run lock", "key", key, "error", delErr)
		}
	}
	return release, true, nil
}
