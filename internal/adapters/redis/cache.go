package redis

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

type Cache struct {
	client *redis.Client
}

func NewCache(client *redis.Client) *Cache {
	return &Cache{client: client}
}

func (c *Cache) Client() *redis.Client {
	return c.client
}

var releaseLease = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// AcquireLease takes key for owner for ttl. An owner that already holds the lease renews it.
func (c *Cache) AcquireLease(ctx context.Context, key, owner string, ttl time.Duration) (bool, error) {
	full := "lease:" + key
	ok, err := c.client.SetNX(ctx, full, owner, ttl).Result()
	if err != nil || ok {
		return ok, err
	}
	holder, err := c.client.Get(ctx, full).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if holder != owner {
		return false, nil
	}
	return c.client.Expire(ctx, full, ttl).Result()
}

// ReleaseLease drops the lease only if owner still holds it.
func (c *Cache) ReleaseLease(ctx context.Context, key, owner string) error {
	return releaseLease.Run(ctx, c.client, []string{"lease:" + key}, owner).Err()
}

// IncrWindow counts a hit against key in a fixed window of length period.
func (c *Cache) IncrWindow(ctx context.Context, key string, period time.Duration) (int64, error) {
	full := "rl:" + key
	pipe := c.client.TxPipeline()
	incr := pipe.Incr(ctx, full)
	pipe.ExpireNX(ctx, full, period)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return incr.Val(), nil
}
