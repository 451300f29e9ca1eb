package gatewaystore

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// KV is a go-redis-backed ports.EphemeralKVPort, used by the budget
// manager for reservation keys and running counters.
type KV struct {
	client *redis.Client
}

func NewKV(client *redis.Client) *KV {
	return &KV{client: client}
}

func (k *KV) SetWithTTL(ctx context.Context, key string, value string, ttl time.Duration) error {
	return k.client.Set(ctx, key, value, ttl).Err()
}

func (k *KV) Get(ctx context.Context, key string) (string, bool, error) {
	val, err := k.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return val, true, nil
}

func (k *KV) Delete(ctx context.Context, key string) error {
	return k.client.Del(ctx, key).Err()
}

func (k *KV) IncrByFloat(ctx context.Context, key string, delta float64) (float64, error) {
	return k.client.IncrByFloat(ctx, key, delta).Result()
}
