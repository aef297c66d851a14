// Package cache wraps Redis behind a circuit breaker. Every failure degrades
// to a cache miss so callers can always fall back to the database.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/autra-ai/marketplace/internal/config"
	"github.com/autra-ai/marketplace/internal/monitoring"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"
)

const (
	breakerName      = "redis-cache"
	failureThreshold = 5
	opTimeout        = 250 * time.Millisecond
)

// Cache types used as the cache_type metric label
const (
	TypeAgent = "agent"
)

// AgentKey is the key of a cached public agent detail
func AgentKey(slug string) string {
	return "agent:slug:" + slug
}

// Redis is a JSON cache on top of a Redis client. A nil *Redis is a valid,
// always-missing cache.
type Redis struct {
	Client  *redis.Client
	breaker *gobreaker.CircuitBreaker
	ttl     time.Duration
}

// New connects to Redis using cfg. Returns nil without error when the cache is disabled.
func New(ctx context.Context, cfg config.RedisConfig) (*Redis, error) {
	if !cfg.Enabled {
		log.Info().Msg("Redis cache disabled")
		return nil, nil
	}

	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	log.Info().Msg("Redis connection established")
	return NewWithClient(client, cfg.CacheTTL), nil
}

// NewWithClient wraps an existing client
func NewWithClient(client *redis.Client, ttl time.Duration) *Redis {
	return &Redis{
		Client:  client,
		breaker: newBreaker(),
		ttl:     ttl,
	}
}

func newBreaker() *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        breakerName,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failureThreshold
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, redis.Nil)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().
				Str("circuit_breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("Circuit breaker state changed")
			monitoring.SetCircuitBreakerState(name, stateValue(to))
		},
	})
}

func stateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateOpen:
		return 1
	case gobreaker.StateHalfOpen:
		return 0.5
	default:
		return 0
	}
}

// GetJSON loads key into dst. It reports false on a miss or any failure,
// including an open breaker.
func (r *Redis) GetJSON(ctx context.Context, cacheType, key string, dst any) bool {
	if r == nil {
		return false
	}

	raw, err := r.breaker.Execute(func() (any, error) {
		opCtx, cancel := context.WithTimeout(ctx, opTimeout)
		defer cancel()
		return r.Client.Get(opCtx, key).Bytes()
	})
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			log.Debug().Err(err).Str("key", key).Msg("Cache read failed")
		}
		monitoring.RecordCacheMiss(cacheType)
		return false
	}

	if err := json.Unmarshal(raw.([]byte), dst); err != nil {
		log.Warn().Err(err).Str("key", key).Msg("Discarding undecodable cache entry")
		r.Delete(ctx, key)
		monitoring.RecordCacheMiss(cacheType)
		return false
	}

	monitoring.RecordCacheHit(cacheType)
	return true
}

// SetJSON stores v under key with the configured TTL. Failures are logged and dropped.
func (r *Redis) SetJSON(ctx context.Context, key string, v any) {
	if r == nil {
		return
	}

	data, err := json.Marshal(v)
	if err != nil {
		log.Warn().Err(err).Str("key", key).Msg("Failed to encode cache entry")
		return
	}

	_, err = r.breaker.Execute(func() (any, error) {
		opCtx, cancel := context.WithTimeout(ctx, opTimeout)
		defer cancel()
		return nil, r.Client.Set(opCtx, key, data, r.ttl).Err()
	})
	if err != nil {
		log.Debug().Err(err).Str("key", key).Msg("Cache write failed")
	}
}

// Delete removes keys. Failures are logged and dropped; entries expire via TTL.
func (r *Redis) Delete(ctx context.Context, keys ...string) {
	if r == nil || len(keys) == 0 {
		return
	}

	_, err := r.breaker.Execute(func() (any, error) {
		opCtx, cancel := context.WithTimeout(ctx, opTimeout)
		defer cancel()
		return nil, r.Client.Del(opCtx, keys...).Err()
	})
	if err != nil {
		log.Warn().Err(err).Strs("keys", keys).Msg("Cache invalidation failed")
	}
}

// State returns the breaker state name
func (r *Redis) State() string {
	if r == nil {
		return "disabled"
	}
	return r.breaker.State().String()
}

// Health pings Redis
func (r *Redis) Health(ctx context.Context) error {
	if r == nil {
		return nil
	}
	return r.Client.Ping(ctx).Err()
}

// Close closes the underlying client
func (r *Redis) Close() error {
	if r == nil {
		return nil
	}
	return r.Client.Close()
}
