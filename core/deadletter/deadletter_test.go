package deadletter

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/oklog/ulid/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/m3rciful/onboardbot/core/event"
)

var at = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func sample(i int) Entry {
	ev := event.InboundEvent{SenderID: 42, ChatID: 42, UpdateID: i, Kind: event.KindText,
		ProviderMessageID: fmt.Sprintf("msg:42:%d", i), Payload: "+14155550123"}
	return NewEntry(ev, "LEDGER_UNAVAILABLE", errors.New("connection refused"), at)
}

func TestNewEntry(t *testing.T) {
	a, b := sample(1), sample(2)
	require.Equal(t, "msg:42:1", a.ProviderMessageID)
	require.Equal(t, "text", a.Kind)
	require.Equal(t, "connection refused", a.Err)

	id, err := ulid.ParseStrict(a.ID)
	require.NoError(t, err)
	require.Equal(t, ulid.Timestamp(at), id.Time())
	require.Less(t, a.ID, b.ID)
}

func testQueue(t *testing.T, q Queue) {
	t.Helper()
	ctx := context.Background()
	for i := 1; i <= 4; i++ {
		require.NoError(t, q.Push(ctx, sample(i)))
	}

	n, err := q.Len(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 3, n)

	got, err := q.List(ctx, 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, 4, got[0].UpdateID)
	require.Equal(t, 3, got[1].UpdateID)

	all, err := q.List(ctx, 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	require.Equal(t, 2, all[2].UpdateID)
}

func TestMemoryQueue(t *testing.T) {
	testQueue(t, NewMemory(3))
}

func TestRedisQueue(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	testQueue(t, NewRedis(client, "onboard", 3))
	require.True(t, mr.Exists("onboard:deadletters"))
}
