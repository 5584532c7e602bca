package cache

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/zatekoja/healthcare-scheduling/internal/domain/providers"
	redisclient "github.com/zatekoja/healthcare-scheduling/internal/infrastructure/clients/redis"
	"github.com/zatekoja/healthcare-scheduling/internal/infrastructure/observability"
	"github.com/zatekoja/healthcare-scheduling/pkg/retry"
)

// slidingWindowScript prunes, counts and conditionally records in one step.
// Denied requests are not recorded.
// Returns {allowed, remaining, retry_after_ms}.
var slidingWindowScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
local member = ARGV[4]

redis.call('ZREMRANGEBYSCORE', key, '-inf', now - window)
local count = redis.call('ZCARD', key)

if count < limit then
	redis.call('ZADD', key, now, member)
	redis.call('PEXPIRE', key, window)
	return {1, limit - count - 1, 0}
end

local retry_after = window
local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
if oldest[2] then
	retry_after = tonumber(oldest[2]) + window - now
end
if retry_after < 1 then
	retry_after = 1
end
return {0, 0, retry_after}
`)

// RateLimiterConfig tunes the sliding window limiter
type RateLimiterConfig struct {
	OpTimeout time.Duration
	Retry     retry.Config
	Now       func() time.Time
}

// RateLimiter implements providers.RateLimiter with a Redis sorted set per key
type RateLimiter struct {
	client *redisclient.Client
	cfg    RateLimiterConfig
}

// NewRateLimiter creates a new sliding window rate limiter
func NewRateLimiter(client *redisclient.Client, cfg RateLimiterConfig) *RateLimiter {
	if cfg.OpTimeout <= 0 {
		cfg.OpTimeout = 500 * time.Millisecond
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = retry.TransientConfig()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &RateLimiter{client: client, cfg: cfg}
}

// RateLimitKey returns the sorted set key for an identifier and endpoint
func RateLimitKey(endpoint, identifier string) string {
	return fmt.Sprintf("rate_limit:%s:%s", endpoint, identifier)
}

// Allow checks and records one request. It fails open when Redis is unreachable.
func (l *RateLimiter) Allow(ctx context.Context, identifier, endpoint string, limit int, window time.Duration) providers.RateLimitDecision {
	key := RateLimitKey(endpoint, identifier)
	now := l.cfg.Now().UnixMilli()
	member := strconv.FormatInt(now, 10) + "-" + uuid.NewString()

	var result []int64
	err := retry.Do(ctx, l.cfg.Retry, func() error {
		opCtx, cancel := context.WithTimeout(ctx, l.cfg.OpTimeout)
		defer cancel()

		res, err := slidingWindowScript.Run(opCtx, l.client.Client(), []string{key},
			now, window.Milliseconds(), limit, member).Int64Slice()
		if err != nil {
			return err
		}
		result = res
		return nil
	})
	if err != nil || len(result) != 3 {
		if err == nil {
			err = fmt.Errorf("unexpected script reply of length %d", len(result))
		}
		observability.LoggerFromContext(ctx).Warn().
			Err(err).
			Str("key", key).
			Msg("Rate limiter unavailable, admitting request unchecked")
		return providers.RateLimitDecision{Allowed: true, Limit: limit, Remaining: -1, Degraded: true}
	}

	return providers.RateLimitDecision{
		Allowed:    result[0] == 1,
		Limit:      limit,
		Remaining:  int(result[1]),
		RetryAfter: time.Duration(result[2]) * time.Millisecond,
	}
}
