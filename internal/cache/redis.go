package cache

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	goredis "github.com/go-redis/redis/v8"

	"marketscope/internal/model"
)

const keyPrefix = "analysis:"

// RedisConfig configures the Redis cache.
type RedisConfig struct {
	Addr     string // e.g. "localhost:6379"
	Password string
	DB       int
	TTL      time.Duration

	// Breaker settings; zero values use 5 failures / 10s.
	MaxFailures int
	Cooldown    time.Duration

	// OnBreakerChange runs after the built-in transition log line.
	OnBreakerChange func(from, to State)
}

// Redis stores results as string keys with a TTL. Calls go through a circuit
// breaker; while Redis is failing, reads and writes use an in-memory fallback
// with the same TTL.
type Redis struct {
	client   *goredis.Client
	ttl      time.Duration
	breaker  *Breaker
	fallback *Memory
}

// NewRedis connects to Redis and pings it.
func NewRedis(cfg RedisConfig) (*Redis, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	log.Printf("[cache] connected to redis at %s", cfg.Addr)
	return NewRedisWithClient(client, cfg), nil
}

// NewRedisWithClient wraps an existing client. Addr and credentials in cfg are ignored.
func NewRedisWithClient(client *goredis.Client, cfg RedisConfig) *Redis {
	if cfg.MaxFailures == 0 {
		cfg.MaxFailures = 5
	}
	if cfg.Cooldown == 0 {
		cfg.Cooldown = 10 * time.Second
	}
	if cfg.TTL == 0 {
		cfg.TTL = time.Minute
	}
	b := NewBreaker(cfg.MaxFailures, cfg.Cooldown)
	hook := cfg.OnBreakerChange
	b.OnStateChange = func(from, to State) {
		log.Printf("[cache] redis breaker %s -> %s", from, to)
		if hook != nil {
			hook(from, to)
		}
	}
	return &Redis{
		client:   client,
		ttl:      cfg.TTL,
		breaker:  b,
		fallback: NewMemory(cfg.TTL),
	}
}

// Client returns the underlying client for health checks.
func (r *Redis) Client() *goredis.Client { return r.client }

// Breaker exposes the circuit breaker state for health reporting.
func (r *Redis) Breaker() *Breaker { return r.breaker }

func redisKey(key model.CacheKey) string { return keyPrefix + key.String() }

func (r *Redis) Get(ctx context.Context, key model.CacheKey) ([]byte, bool) {
	var val []byte
	var hit bool
	err := r.breaker.Execute(func() error {
		b, err := r.client.Get(ctx, redisKey(key)).Bytes()
		if errors.Is(err, goredis.Nil) {
			return nil
		}
		if err != nil {
			return err
		}
		val, hit = b, true
		return nil
	})
	if err != nil {
		return r.fallback.Get(ctx, key)
	}
	return val, hit
}

func (r *Redis) Set(ctx context.Context, key model.CacheKey, value []byte) {
	err := r.breaker.Execute(func() error {
		return r.client.Set(ctx, redisKey(key), value, r.ttl).Err()
	})
	if err != nil {
		if !errors.Is(err, ErrCircuitOpen) {
			log.Printf("[cache] redis set %s: %v", key, err)
		}
		r.fallback.Set(ctx, key, value)
	}
}

// Invalidate deletes every kind and as-of entry for (symbol, tf).
func (r *Redis) Invalidate(ctx context.Context, symbol string, tf model.Timeframe) {
	r.fallback.Invalidate(ctx, symbol, tf)
	match := keyPrefix + "*:" + symbol + ":" + tf.String() + ":*"
	err := r.breaker.Execute(func() error {
		var keys []string
		iter := r.client.Scan(ctx, 0, match, 100).Iterator()
		for iter.Next(ctx) {
			keys = append(keys, iter.Val())
		}
		if err := iter.Err(); err != nil {
			return err
		}
		if len(keys) == 0 {
			return nil
		}
		return r.client.Del(ctx, keys...).Err()
	})
	if err != nil && !errors.Is(err, ErrCircuitOpen) {
		log.Printf("[cache] redis invalidate %s/%s: %v", symbol, tf, err)
	}
}

// Ping checks connectivity through the breaker.
func (r *Redis) Ping(ctx context.Context) error {
	return r.breaker.Execute(func() error { return r.client.Ping(ctx).Err() })
}

// Close closes the client.
func (r *Redis) Close() error { return r.client.Close() }
