package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var fixedWindowScript = redis.NewScript(`
local current = redis.call("INCR", KEYS[1])
if current == 1 then
	redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return current
`)

// RedisLimiter shares fixed-window counters across API instances.
type RedisLimiter struct {
	client *redis.Client
	prefix string
	limit  int
	period time.Duration
}

// NewRedisLimiter constructs a Redis-backed limiter.
func NewRedisLimiter(client *redis.Client, prefix string, limit int, period time.Duration) *RedisLimiter {
	if prefix == "" {
		prefix = "proctor"
	}
	if limit <= 0 {
		limit = 5
	}
	if period <= 0 {
		period = time.Second
	}
	return &RedisLimiter{client: client, prefix: prefix, limit: limit, period: period}
}

func (l *RedisLimiter) Allow(ctx context.Context, key string) (bool, error) {
	redisKey := fmt.Sprintf("%s:ratelimit:%s", l.prefix, key)
	count, err := fixedWindowScript.Run(ctx, l.client, []string{redisKey}, l.period.Milliseconds()).Int64()
	if err != nil {
		return false, fmt.Errorf("rate limit counter: %w", err)
	}
	return count <= int64(l.limit), nil
}
