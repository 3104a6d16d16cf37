package guard

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

type RedisCounter struct {
	rdb    redis.Cmdable
	prefix string
}

func NewRedisCounter(rdb redis.Cmdable, prefix string) *RedisCounter {
	if prefix == "" {
		prefix = "eic:rl"
	}
	return &RedisCounter{rdb: rdb, prefix: prefix}
}

func (c *RedisCounter) Hit(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error) {
	redisKey := c.prefix + ":" + key

	count, err := c.rdb.Incr(ctx, redisKey).Result()
	if err != nil {
		return 0, 0, fmt.Errorf("incr rate limit counter: %w", err)
	}
	if count == 1 {
		if err := c.rdb.PExpire(ctx, redisKey, window).Err(); err != nil {
			return 0, 0, fmt.Errorf("expire rate limit counter: %w", err)
		}
		return count, window, nil
	}

	ttl, err := c.rdb.PTTL(ctx, redisKey).Result()
	if err != nil {
		return 0, 0, fmt.Errorf("ttl rate limit counter: %w", err)
	}
	// A counter left without expiry by an interrupted first hit would never
	// reset; give it a fresh window.
	if ttl < 0 {
		if err := c.rdb.PExpire(ctx, redisKey, window).Err(); err != nil {
			return 0, 0, fmt.Errorf("expire rate limit counter: %w", err)
		}
		ttl = window
	}
	return count, ttl, nil
}

// DeleteStale is a no-op: Redis expires counters on its own.
func (c *RedisCounter) DeleteStale(context.Context, time.Time, int) (int64, error) {
	return 0, nil
}
