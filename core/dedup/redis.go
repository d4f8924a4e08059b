package dedup

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

type redisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedis returns a store shared by every replica. Keys live under "<prefix>:dedup:".
func NewRedis(client *redis.Client, prefix string, ttl time.Duration) Store {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &redisStore{client: client, prefix: prefix + ":dedup:", ttl: ttl}
}

func (r *redisStore) Claim(ctx context.Context, key string) (bool, error) {
	// SET key 1 NX EX ttl
	ok, err := r.client.SetNX(ctx, r.prefix+key, 1, r.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("dedup claim %s: %w", key, err)
	}
	return ok, nil
}

func (r *redisStore) Release(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, r.prefix+key).Err(); err != nil {
		return fmt.Errorf("dedup release %s: %w", key, err)
	}
	return nil
}
