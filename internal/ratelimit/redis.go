package ratelimit

import (
	"context"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// KeyPrefix namespaces limiter keys in a shared Redis
const KeyPrefix = "rl:"

// slidingLogScript prunes, counts and appends in one atomic step.
// KEYS[1] log key, ARGV[1] now ms, ARGV[2] cutoff ms, ARGV[3] limit,
// ARGV[4] member, ARGV[5] window ms
var slidingLogScript = redis.NewScript(`
local key = KEYS[1]
redis.call('ZREMRANGEBYSCORE', key, '-inf', ARGV[2])
local count = redis.call('ZCARD', key)
if count >= tonumber(ARGV[3]) then
  return 0
end
redis.call('ZADD', key, ARGV[1], ARGV[4])
redis.call('PEXPIRE', key, ARGV[5])
return 1
`)

// RedisLimiter is a sliding log limiter shared by every gateway process
// FUNCTIONAL DISCOVERY: the log is a sorted set scored by milliseconds, so the
// trailing-window semantics match MemoryLimiter exactly
type RedisLimiter struct {
	client redis.Scripter
	now    func() time.Time
}

// NewRedisLimiter creates a limiter on an existing client
func NewRedisLimiter(client redis.Scripter) *RedisLimiter {
	return NewRedisLimiterWithClock(client, time.Now)
}

// NewRedisLimiterWithClock creates a limiter with an injected clock
func NewRedisLimiterWithClock(client redis.Scripter, now func() time.Time) *RedisLimiter {
	if now == nil {
		now = time.Now
	}
	return &RedisLimiter{client: client, now: now}
}

// Allow admits the event iff fewer than limit events happened in the trailing window
func (l *RedisLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	if limit <= 0 {
		return true, nil
	}

	nowMs := l.now().UnixMilli()
	windowMs := window.Milliseconds()
	member := strconv.FormatInt(nowMs, 10) + "-" + uuid.NewString()

	// Scores travel as decimal strings
	res, err := slidingLogScript.Run(ctx, l.client,
		[]string{KeyPrefix + key},
		strconv.FormatInt(nowMs, 10),
		strconv.FormatInt(nowMs-windowMs, 10),
		limit,
		member,
		strconv.FormatInt(windowMs, 10),
	).Int()
	if err != nil {
		return false, errors.Wrap(err, "rate limit script failed")
	}
	return res == 1, nil
}
