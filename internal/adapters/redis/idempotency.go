package redis

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

type Idempotency struct {
	client *redis.Client
}

func NewIdempotency(client *redis.Client) *Idempotency {
	return &Idempotency{client: client}
}

func (i *Idempotency) Load(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := i.client.Get(ctx, "idemp:"+key).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return val, true, nil
}

// Save stores data unless the key was already saved; the first response wins.
func (i *Idempotency) Save(ctx context.Context, key string, data []byte, ttl time.Duration) error {
	return i.client.SetNX(ctx, "idemp:"+key, data, ttl).Err()
}
