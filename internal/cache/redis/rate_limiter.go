package redis

import (
	"context"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/quadpoll/internal/domain"
)

// slidingWindowScript counts requests in a sorted set scored by microsecond
// timestamps. KEYS[1] set; ARGV now, window, limit, member. Returns
// {allowed, count}.
var slidingWindowScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
redis.call('ZREMRANGEBYSCORE', key, '-inf', now - window)
local count = redis.call('ZCARD', key)
if count >= limit then
    return {0, count}
end
redis.call('ZADD', key, now, ARGV[4])
redis.call('PEXPIRE', key, math.ceil(window / 1000))
return {1, count + 1}
`)

// RateLimiter implements domain.RateLimiter with a sliding window.
type RateLimiter struct {
	c   *Client
	now func() time.Time
	seq atomic.Uint64
}

// NewRateLimiter creates a RateLimiter.
func NewRateLimiter(c *Client) *RateLimiter {
	return &RateLimiter{c: c, now: time.Now}
}

// Allow counts one request for key and reports whether it is within limit
// requests per window.
func (rl *RateLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	now := rl.now().UnixMicro()
	member := strconv.FormatInt(now, 10) + "-" + strconv.FormatUint(rl.seq.Add(1), 10)

	res, err := slidingWindowScript.Run(ctx, rl.c.rdb,
		[]string{rl.c.Key("ratelimit", key)},
		now, window.Microseconds(), limit, member,
	).Int64Slice()
	if err != nil {
		return false, fmt.Errorf("redis: rate limit %s: %w", key, err)
	}
	if len(res) < 2 {
		return false, fmt.Errorf("redis: rate limit %s: unexpected reply of length %d", key, len(res))
	}
	return res[0] == 1, nil
}

var _ domain.RateLimiter = (*RateLimiter)(nil)
