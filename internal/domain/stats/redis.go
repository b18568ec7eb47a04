package stats

import (
	"context"

	"github.com/redis/go-redis/v9"

	platformerrors "imgopt-server-go/internal/platform/errors"
)

type redisCounter struct {
	client *redis.Client
	prefix string
}

// NewRedis builds a redis-backed counter. Totals survive restarts.
func NewRedis(cfg Config) (Counter, error) {
	if cfg.Redis == nil || cfg.Redis.Addr == "" {
		return nil, platformerrors.New(
			platformerrors.KindStorage, "stats.redis", "redis driver requires an address")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Username: cfg.Redis.Username,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), redisDialTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, platformerrors.Wrap(platformerrors.KindStorage, "stats.redis", "ping redis", err)
	}

	prefix := cfg.Redis.Prefix
	if prefix == "" {
		prefix = "imgopt:"
	}
	return &redisCounter{client: client, prefix: prefix}, nil
}

func (c *redisCounter) key(name string) string {
	return c.prefix + "stats:" + name
}

func (c *redisCounter) Add(ctx context.Context, name string, delta int64) error {
	if err := c.client.IncrBy(ctx, c.key(name), delta).Err(); err != nil {
		return platformerrors.Wrap(platformerrors.KindStorage, "stats.add", "increment counter", err)
	}
	return nil
}

func (c *redisCounter) Total(ctx context.Context, name string) (int64, error) {
	total, err := c.client.Get(ctx, c.key(name)).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, platformerrors.Wrap(platformerrors.KindStorage, "stats.total", "read counter", err)
	}
	return total, nil
}

func (c *redisCounter) Close(_ context.Context) error {
	return c.client.Close()
}
