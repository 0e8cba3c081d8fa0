package middleware

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"

	"github.com/congo-pay/funds/internal/metrics"
)

var (
	// ErrCacheMiss is returned by ResponseCache.Get when nothing is stored under the key.
	ErrCacheMiss = errors.New("response cache miss")
	// ErrCacheUnavailable is returned while the circuit around the cache is open.
	ErrCacheUnavailable = errors.New("response cache unavailable")
)

// ResponseCache persists replayable responses for the idempotency middleware.
type ResponseCache interface {
	Get(ctx context.Context, key string) (string, error)
	// Reserve stores value under key only if the key is free and reports whether it did.
	Reserve(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	Store(ctx context.Context, key, value string, ttl time.Duration) error
	Release(ctx context.Context, key string) error
}

// BreakerSettings tunes the circuit breaker around the Redis client.
type BreakerSettings struct {
	// ConsecutiveFailures trips the circuit.
	ConsecutiveFailures uint32
	// OpenTimeout is how long the circuit stays open before probing again.
	OpenTimeout time.Duration
	// MaxRequests is the number of probes allowed while half-open.
	MaxRequests uint32
}

// DefaultBreakerSettings returns the settings used by the API server.
func DefaultBreakerSettings() BreakerSettings {
	return BreakerSettings{ConsecutiveFailures: 5, OpenTimeout: 30 * time.Second, MaxRequests: 1}
}

// RedisResponseCache is a ResponseCache on Redis guarded by a circuit breaker, so
// that a failing Redis fails requests fast instead of stalling every handler.
type RedisResponseCache struct {
	client *redis.Client
	cb     *gobreaker.CircuitBreaker
}

// NewRedisResponseCache wraps client. Circuit transitions are logged and reported
// to collector under the name "redis".
func NewRedisResponseCache(client *redis.Client, settings BreakerSettings, collector metrics.Collector, logger *slog.Logger) *RedisResponseCache {
	const name = "redis"
	if collector == nil {
		collector = metrics.NoOpCollector{}
	}
	collector.RecordCircuitState(name, metrics.CircuitClosed)

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: settings.MaxRequests,
		Timeout:     settings.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= settings.ConsecutiveFailures
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, redis.Nil)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed",
				slog.String("name", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()),
			)
			var state metrics.CircuitState
			switch to {
			case gobreaker.StateClosed:
				state = metrics.CircuitClosed
			case gobreaker.StateHalfOpen:
				state = metrics.CircuitHalfOpen
			case gobreaker.StateOpen:
				state = metrics.CircuitOpen
			}
			collector.RecordCircuitState(name, state)
		},
	})

	return &RedisResponseCache{client: client, cb: cb}
}

// Get returns the stored value or ErrCacheMiss.
func (r *RedisResponseCache) Get(ctx context.Context, key string) (string, error) {
	res, err := r.cb.Execute(func() (interface{}, error) {
		return r.client.Get(ctx, key).Result()
	})
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", ErrCacheMiss
		}
		return "", r.mapError(err)
	}
	return res.(string), nil
}

func (r *RedisResponseCache) Reserve(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	res, err := r.cb.Execute(func() (interface{}, error) {
		return r.client.SetNX(ctx, key, value, ttl).Result()
	})
	if err != nil {
		return false, r.mapError(err)
	}
	return res.(bool), nil
}

func (r *RedisResponseCache) Store(ctx context.Context, key, value string, ttl time.Duration) error {
	_, err := r.cb.Execute(func() (interface{}, error) {
		return nil, r.client.Set(ctx, key, value, ttl).Err()
	})
	return r.mapError(err)
}

func (r *RedisResponseCache) Release(ctx context.Context, key string) error {
	_, err := r.cb.Execute(func() (interface{}, error) {
		return nil, r.client.Del(ctx, key).Err()
	})
	return r.mapError(err)
}

// State exposes the breaker state for health reporting.
func (r *RedisResponseCache) State() gobreaker.State {
	return r.cb.State()
}

func (r *RedisResponseCache) mapError(err error) error {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return ErrCacheUnavailable
	}
	return err
}
