package redis

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/redis/go-redis/v9"
)

// Cache is a small integer cache with TTL, used for derived values such as available stock.
type Cache struct {
	client *redis.Client
}

func NewCache(client *redis.Client) *Cache {
	return &Cache{client: client}
}

func (c *Cache) Get(ctx context.Context, key string) (int, bool, error) {
	n, err := c.client.Get(ctx, key).Int()
	if err == redis.Nil {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, errors.Wrapf(err, "cache get %s", key)
	}
	return n, true, nil
}

func (c *Cache) Set(ctx context.Context, key string, value int, ttl time.Duration) error {
	return errors.Wrapf(c.client.Set(ctx, key, value, ttl).Err(), "cache set %s", key)
}

func (c *Cache) Forget(ctx context.Context, key string) error {
	return errors.Wrapf(c.client.Del(ctx, key).Err(), "cache forget %s", key)
}
