package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/magabrotheeeer/quote-of-the-day/internal/config"
)

// Redis кеш поверх go-redis.
type Redis struct {
	Db *redis.Client
}

// NewRedis подключается к Redis по URL и проверяет соединение.
func NewRedis(ctx context.Context, cfg config.Redis) (*Redis, error) {
	const op = "cache.NewRedis"

	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	opts.MaxRetries = cfg.RedisMaxRetries
	opts.DialTimeout = cfg.RedisDialTimeout
	opts.ReadTimeout = cfg.RedisTimeout
	opts.WriteTimeout = cfg.RedisTimeout

	db := redis.NewClient(opts)
	if err := db.Ping(ctx).Err(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &Redis{Db: db}, nil
}

func (c *Redis) Get(ctx context.Context, key string, dest any) (bool, error) {
	const op = "cache.Redis.Get"
	val, err := c.Db.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	if err := decode(val, dest); err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	return true, nil
}

func (c *Redis) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	const op = "cache.Redis.Set"
	data, err := encode(value)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if ttl < 0 {
		ttl = 0
	}
	if err := c.Db.Set(ctx, key, data, ttl).Err(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (c *Redis) Delete(ctx context.Context, keys ...string) error {
	const op = "cache.Redis.Delete"
	if len(keys) == 0 {
		return nil
	}
	if err := c.Db.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (c *Redis) Incr(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	const op = "cache.Redis.Incr"
	n, err := c.Db.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	if n == 1 && ttl > 0 {
		if err := c.Db.Expire(ctx, key, ttl).Err(); err != nil {
			return n, fmt.Errorf("%s: expire: %w", op, err)
		}
	}
	return n, nil
}

func (c *Redis) Exists(ctx context.Context, key string) (bool, error) {
	const op = "cache.Redis.Exists"
	n, err := c.Db.Exists(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	return n > 0, nil
}

func (c *Redis) Ping(ctx context.Context) error {
	return c.Db.Ping(ctx).Err()
}

func (c *Redis) Close() error {
	return c.Db.Close()
}
