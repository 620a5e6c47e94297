package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	gobreaker "github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
)

// RedisConfig configures the Redis backend
type RedisConfig struct {
	KeyPrefix        string
	FailureThreshold uint32
	BreakerTimeout   time.Duration
}

// Redis is a Cache backed by Redis. Calls run through a circuit breaker so
// a dead server fails fast and callers drop to their fallbacks.
type Redis struct {
	client  redis.UniversalClient
	prefix  string
	breaker *gobreaker.CircuitBreaker[interface{}]
	logger  *zap.Logger
}

// NewRedis wraps an existing client
func NewRedis(client redis.UniversalClient, cfg RedisConfig, logger *zap.Logger) *Redis {
	threshold := cfg.FailureThreshold
	if threshold == 0 {
		threshold = 5
	}
	timeout := cfg.BreakerTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	settings := gobreaker.Settings{
		Name:        "redis-cache",
		MaxRequests: 1,
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ErrMiss)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("cache circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	}

	return &Redis{
		client:  client,
		prefix:  cfg.KeyPrefix,
		breaker: gobreaker.NewCircuitBreaker[interface{}](settings),
		logger:  logger,
	}
}

// Get returns the value or ErrMiss
func (r *Redis) Get(ctx context.Context, key string) ([]byte, error) {
	res, err := r.breaker.Execute(func() (interface{}, error) {
		b, err := r.client.Get(ctx, r.prefix+key).Bytes()
		if errors.Is(err, redis.Nil) {
			return nil, ErrMiss
		}
		return b, err
	})
	if err != nil {
		if errors.Is(err, ErrMiss) {
			return nil, ErrMiss
		}
		return nil, fmt.Errorf("redis get: %w", err)
	}
	return res.([]byte), nil
}

// Set stores value with ttl
func (r *Redis) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	_, err := r.breaker.Execute(func() (interface{}, error) {
		return nil, r.client.Set(ctx, r.prefix+key, value, ttl).Err()
	})
	if err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// Delete removes keys
func (r *Redis) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	prefixed := make([]string, len(keys))
	for i, k := range keys {
		prefixed[i] = r.prefix + k
	}
	_, err := r.breaker.Execute(func() (interface{}, error) {
		return nil, r.client.Del(ctx, prefixed...).Err()
	})
	if err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

// Exists reports whether key is present
func (r *Redis) Exists(ctx context.Context, key string) (bool, error) {
	res, err := r.breaker.Execute(func() (interface{}, error) {
		return r.client.Exists(ctx, r.prefix+key).Result()
	})
	if err != nil {
		return false, fmt.Errorf("redis exists: %w", err)
	}
	return res.(int64) > 0, nil
}

// Ping checks connectivity
func (r *Redis) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// State returns the breaker state for readiness reporting
func (r *Redis) State() string {
	return r.breaker.State().String()
}
