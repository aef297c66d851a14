package cache

import (
	"context"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// RateLimitResult is the outcome of one sliding-window check
type RateLimitResult struct {
	Allowed    bool
	Limit      int
	Remaining  int
	RetryAfter time.Duration
}

// RateLimitKey is the sliding-window key of subject within scope
func RateLimitKey(scope, subject string) string {
	return "ratelimit:" + scope + ":" + subject
}

// Allow records one hit on key and reports whether it fits in limit hits per
// window. Any Redis failure, including an open breaker or a nil cache, allows
// the request.
func (r *Redis) Allow(ctx context.Context, key string, limit int, window time.Duration) RateLimitResult {
	open := RateLimitResult{Allowed: true, Limit: limit, Remaining: limit}
	if r == nil || limit <= 0 {
		return open
	}

	now := time.Now()
	res, err := r.breaker.Execute(func() (any, error) {
		opCtx, cancel := context.WithTimeout(ctx, opTimeout)
		defer cancel()
		return r.slidingWindow(opCtx, key, limit, window, now)
	})
	if err != nil {
		log.Debug().Err(err).Str("key", key).Msg("Rate limit check failed, allowing request")
		return open
	}
	return res.(RateLimitResult)
}

// slidingWindow keeps one sorted-set member per accepted hit, scored by its
// time in nanoseconds
func (r *Redis) slidingWindow(ctx context.Context, key string, limit int, window time.Duration, now time.Time) (RateLimitResult, error) {
	result := RateLimitResult{Limit: limit}
	windowStart := now.Add(-window)

	pipe := r.Client.Pipeline()
	pipe.ZRemRangeByScore(ctx, key, "0", strconv.FormatInt(windowStart.UnixNano(), 10))
	countCmd := pipe.ZCard(ctx, key)
	oldestCmd := pipe.ZRangeWithScores(ctx, key, 0, 0)
	if _, err := pipe.Exec(ctx); err != nil {
		return result, err
	}

	count := int(countCmd.Val())
	if count >= limit {
		result.RetryAfter = window
		if oldest := oldestCmd.Val(); len(oldest) > 0 {
			result.RetryAfter = time.Unix(0, int64(oldest[0].Score)).Add(window).Sub(now)
		}
		if result.RetryAfter < time.Second {
			result.RetryAfter = time.Second
		}
		return result, nil
	}

	pipe = r.Client.TxPipeline()
	pipe.ZAdd(ctx, key, redis.Z{Score: float64(now.UnixNano()), Member: uuid.NewString()})
	pipe.Expire(ctx, key, window*2)
	if _, err := pipe.Exec(ctx); err != nil {
		return result, err
	}

	result.Allowed = true
	result.Remaining = limit - count - 1
	return result, nil
}
