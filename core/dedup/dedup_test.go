package dedup

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func TestMemoryClaimOnce(t *testing.T) {
	clock := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	m := newMemory(time.Minute, func() time.Time { return clock })
	ctx := context.Background()

	ok, err := m.Claim(ctx, "msg:1:5")
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = m.Claim(ctx, "msg:1:5")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, m.Release(ctx, "msg:1:5"))
	ok, _ = m.Claim(ctx, "msg:1:5")
	require.True(t, ok)
}

func TestMemoryExpires(t *testing.T) {
	clock := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	m := newMemory(time.Minute, func() time.Time { return clock })
	ctx := context.Background()

	ok, _ := m.Claim(ctx, "cb:1")
	require.True(t, ok)
	_, _ = m.Claim(ctx, "cb:2")

	clock = clock.Add(2 * time.Minute)
	ok, _ = m.Claim(ctx, "cb:1")
	require.True(t, ok)
	// cb:2 was swept; only the fresh cb:1 claim remains.
	require.Equal(t, 1, m.len())
}

func newRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestRedisClaimOnce(t *testing.T) {
	mr, client := newRedis(t)
	s := NewRedis(client, "onboard", time.Hour)
	ctx := context.Background()

	ok, err := s.Claim(ctx, "msg:1:5")
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, mr.Exists("onboard:dedup:msg:1:5"))
	require.Equal(t, time.Hour, mr.TTL("onboard:dedup:msg:1:5"))

	ok, err = s.Claim(ctx, "msg:1:5")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, s.Release(ctx, "msg:1:5"))
	require.False(t, mr.Exists("onboard:dedup:msg:1:5"))
}

func TestRedisClaimExpires(t *testing.T) {
	mr, client := newRedis(t)
	s := NewRedis(client, "onboard", time.Minute)
	ctx := context.Background()

	ok, _ := s.Claim(ctx, "cb:9")
	require.True(t, ok)
	mr.FastForward(2 * time.Minute)
	ok, _ = s.Claim(ctx, "cb:9")
	require.True(t, ok)
}

func TestRedisUnavailable(t *testing.T) {
	mr, client := newRedis(t)
	mr.Close()
	_, err := NewRedis(client, "onboard", time.Minute).Claim(context.Background(), "msg:1:1")
	require.Error(t, err)
}
