package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisConfig holds the configuration for Redis client.
type RedisConfig struct {
	Addr         string
	Password     string
	DB           int
	MaxRetries   int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	PoolSize     int
}

// DefaultRedisConfig returns a RedisConfig with sensible defaults.
func DefaultRedisConfig() *RedisConfig {
	return &RedisConfig{
		MaxRetries:   3,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  time.Second,
		WriteTimeout: time.Second,
		PoolSize:     8,
	}
}

// RedisCache implements Cache using go-redis.
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache connects to addr with the default config and pings it.
func NewRedisCache(ctx context.Context, addr string) (*RedisCache, error) {
	config := DefaultRedisConfig()
	config.Addr = addr
	return NewRedisCacheWithConfig(ctx, config)
}

// NewRedisCacheWithConfig connects with a custom config and pings the server.
func NewRedisCacheWithConfig(ctx context.Context, config *RedisConfig) (*RedisCache, error) {
	if config == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if config.Addr == "" {
		return nil, fmt.Errorf("addr cannot be empty")
	}

	client := redis.NewClient(&redis.Options{
		Addr:         config.Addr,
		Password:     config.Password,
		DB:           config.DB,
		MaxRetries:   config.MaxRetries,
		DialTimeout:  config.DialTimeout,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
		PoolSize:     config.PoolSize,
	})

	pingCtx, cancel := context.WithTimeout(ctx, config.DialTimeout+time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to ping redis at %s: %w", config.Addr, err)
	}

	return &RedisCache{client: client}, nil
}

// NewRedisCacheWithClient creates a Redis cache from an existing redis.Client.
func NewRedisCacheWithClient(client *redis.Client) (*RedisCache, error) {
	if client == nil {
		return nil, fmt.Errorf("client cannot be nil")
	}
	return &RedisCache{client: client}, nil
}

func (r *RedisCache) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *RedisCache) Close() error {
	return r.client.Close()
}

func (r *RedisCache) Get(ctx context.Context, key string) (string, error) {
	value, err := r.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", nil
	}
	return value, err
}

func (r *RedisCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	return r.client.Set(ctx, key, value, ttl).Err()
}

func (r *RedisCache) Del(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return r.client.Del(ctx, keys...).Err()
}

func (r *RedisCache) Exists(ctx context.Context, keys ...string) (int64, error) {
	if len(keys) == 0 {
		return 0, nil
	}
	return r.client.Exists(ctx, keys...).Result()
}

func (r *RedisCache) TTL(ctx context.Context, key string) (time.Duration, error) {
	return r.client.TTL(ctx, key).Result()
}

var _ Cache = (*RedisCache)(nil)
