package guard

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisLockoutStore keeps each tracker in a hash whose TTL is pushed out to
// window on every failure, so an idle tracker disappears by itself.
type RedisLockoutStore struct {
	rdb    redis.Cmdable
	prefix string
}

func NewRedisLockoutStore(rdb redis.Cmdable, prefix string) *RedisLockoutStore {
	if prefix == "" {
		prefix = "eic:lockout"
	}
	return &RedisLockoutStore{rdb: rdb, prefix: prefix}
}

func (s *RedisLockoutStore) Get(ctx context.Context, email string) (Attempts, error) {
	values, err := s.rdb.HGetAll(ctx, s.key(email)).Result()
	if err != nil {
		return Attempts{}, fmt.Errorf("read lockout tracker: %w", err)
	}
	if len(values) == 0 {
		return Attempts{}, nil
	}

	count, err := strconv.Atoi(values["count"])
	if err != nil {
		return Attempts{}, fmt.Errorf("parse lockout count: %w", err)
	}
	lastMillis, err := strconv.ParseInt(values["last"], 10, 64)
	if err != nil {
		return Attempts{}, fmt.Errorf("parse lockout timestamp: %w", err)
	}

	return Attempts{Count: count, LastFailureAt: time.UnixMilli(lastMillis).UTC()}, nil
}

func (s *RedisLockoutStore) RecordFailure(ctx context.Context, email string, now time.Time, window time.Duration) (Attempts, error) {
	key := s.key(email)

	var incr *redis.IntCmd
	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.HIncrBy(ctx, key, "count", 1)
		pipe.HSet(ctx, key, "last", now.UnixMilli())
		pipe.PExpire(ctx, key, window)
		return nil
	})
	if err != nil {
		return Attempts{}, fmt.Errorf("record failed login: %w", err)
	}

	return Attempts{Count: int(incr.Val()), LastFailureAt: time.UnixMilli(now.UnixMilli()).UTC()}, nil
}

func (s *RedisLockoutStore) Clear(ctx context.Context, email string) error {
	if err := s.rdb.Del(ctx, s.key(email)).Err(); err != nil {
		return fmt.Errorf("clear lockout tracker: %w", err)
	}
	return nil
}

// DeleteStale is a no-op: trackers carry their own TTL.
func (s *RedisLockoutStore) DeleteStale(context.Context, time.Time, int) (int64, error) {
	return 0, nil
}

func (s *RedisLockoutStore) key(email string) string {
	return s.prefix + ":" + email
}
