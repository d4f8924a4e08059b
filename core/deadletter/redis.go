package deadletter

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

type redisQueue struct {
	client *redis.Client
	key    string
	max    int64
}

// NewRedis returns a queue stored in the list "<prefix>:deadletters".
func NewRedis(client *redis.Client, prefix string, maxLen int64) Queue {
	if maxLen <= 0 {
		maxLen = defaultMaxLen
	}
	return &redisQueue{client: client, key: prefix + ":deadletters", max: maxLen}
}

func (r *redisQueue) Push(ctx context.Context, e Entry) error {
	raw, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("deadletter encode: %w", err)
	}
	pipe := r.client.TxPipeline()
	pipe.LPush(ctx, r.key, raw)
	pipe.LTrim(ctx, r.key, 0, r.max-1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("deadletter push: %w", err)
	}
	return nil
}

func (r *redisQueue) List(ctx context.Context, n int64) ([]Entry, error) {
	if n <= 0 {
		n = r.max
	}
	raws, err := r.client.LRange(ctx, r.key, 0, n-1).Result()
	if err != nil {
		return nil, fmt.Errorf("deadletter list: %w", err)
	}
	out := make([]Entry, 0, len(raws))
	for _, raw := range raws {
		var e Entry
		if err := json.Unmarshal([]byte(raw), &e); err != nil {
			return nil, fmt.Errorf("deadletter decode: %w", err)
		}
		out = append(out, e)
	}
	return out, nil
}

func (r *redisQueue) Len(ctx context.Context) (int64, error) {
	n, err := r.client.LLen(ctx, r.key).Result()
	if err != nil {
		return 0, fmt.Errorf("deadletter len: %w", err)
	}
	return n, nil
}
