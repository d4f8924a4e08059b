package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestHandler(t *testing.T, format logFormat) (*slog.Logger, func() string) {
	t.Helper()
	buf := &bytes.Buffer{}
	aw := newAsyncWriter([]io.Writer{buf}, 1024)
	h := newStructuredHandler(handlerConfig{
		level:    slog.LevelDebug,
		writer:   aw,
		format:   format,
		keyOrder: append([]string(nil), defaultKeyOrder...),
	})
	return slog.New(h), func() string {
		require.NoError(t, aw.Close())
		return strings.TrimSpace(buf.String())
	}
}

func TestStructuredHandlerKVOrder(t *testing.T) {
	log, read := newTestHandler(t, formatKV)
	ctx := WithRID(context.Background(), "rid-123")
	ctx = WithEventMeta(ctx, 42, 7, 9)

	LogEvent(ctx, log.With("component", "ingest"), slog.LevelInfo, "event.handled",
		slog.String("status", "OK"),
		slog.String("state", "PHONE_ENTERED"),
	)

	tokens := strings.Split(read(), " ")
	expected := []string{"ts=", "level=INFO", "component=ingest", "event=event.handled", "status=ok", "rid=rid-123", "update_id=42", "sender_id=7", "chat_id=9", "state=phone_entered"}
	require.GreaterOrEqual(t, len(tokens), len(expected))
	for i, prefix := range expected {
		require.Truef(t, strings.HasPrefix(tokens[i], prefix), "token %d = %s, want prefix %s", i, tokens[i], prefix)
	}
}

func TestStructuredHandlerJSONFields(t *testing.T) {
	log, read := newTestHandler(t, formatJSON)
	ctx := WithRID(context.Background(), "12:34:56")

	LogEvent(ctx, log.With("component", "gateway"), slog.LevelError, "send.failed",
		slog.String("status", "fail"),
		slog.Any("err", errors.New("boom")),
		slog.Duration("backoff", 1500*time.Millisecond),
		slog.Duration("duration", 2*time.Second),
	)

	var got map[string]any
	require.NoError(t, json.Unmarshal([]byte(read()), &got))
	require.Equal(t, "ERROR", got["level"])
	require.Equal(t, "gateway", got["component"])
	require.Equal(t, "boom", got["err"])
	require.Equal(t, CompactRID("12:34:56"), got["rid"])
	require.Equal(t, "12:34:56", got["rid_full"])
	require.EqualValues(t, 1500, got["backoff_ms"])
	require.EqualValues(t, 2000, got["duration_ms"])
	require.Contains(t, got, "ts_unix_nano")
}

func TestStructuredHandlerOmitsRIDFullInKV(t *testing.T) {
	log, read := newTestHandler(t, formatKV)
	LogEvent(WithRID(context.Background(), "123:456:789"), log, slog.LevelInfo, "rid.test")

	line := read()
	require.Contains(t, line, "rid="+CompactRID("123:456:789"))
	require.NotContains(t, line, "rid_full=")
	require.Contains(t, line, "component=app")
}

func TestRatioSampler(t *testing.T) {
	s := newRatioSampler(1, 3)
	var allowed int
	for i := 0; i < 9; i++ {
		if s.Allow() {
			allowed++
		}
	}
	require.Equal(t, 3, allowed)

	s.Set(0, 0)
	require.True(t, s.Allow())
}

func TestParseRatioSpec(t *testing.T) {
	cases := map[string][2]int{
		"":    {0, 0},
		"1/5": {1, 5},
		"20":  {1, 20},
		"x/y": {0, 0},
		"-3":  {0, 0},
	}
	for in, want := range cases {
		num, den := parseRatioSpec(in)
		require.Equal(t, want, [2]int{num, den}, in)
	}
}

func TestSanitizeLimit(t *testing.T) {
	require.Equal(t, "ab\tc", Sanitize("a\x00b\tc\u200b"))
	require.Equal(t, "Jor", SanitizeLimit("Jordan", 3))
	require.Equal(t, "", SanitizeLimit("Jordan", 0))
}

func TestCompactRID(t *testing.T) {
	require.Equal(t, "1.2.a", CompactRID("1:2:10"))
	require.Equal(t, "not-a-rid", CompactRID("not-a-rid"))
	require.Equal(t, "", CompactRID("  "))
}

func TestStructuredHandlerMasksAnswers(t *testing.T) {
	log, read := newTestHandler(t, formatJSON)
	LogEvent(context.Background(), log.With("component", "registration"), slog.LevelInfo, "registration.transition",
		slog.String("status", "ok"),
		slog.String("state_to", "NAME_ENTERED"),
		slog.String("phone_number", "+14155550123"),
		slog.String("full_name", "Jordan Lee"),
		slog.String("role", "buyer"),
	)

	var got map[string]any
	require.NoError(t, json.Unmarshal([]byte(read()), &got))
	require.Equal(t, "**********23", got["phone_number"])
	require.Equal(t, "J***", got["full_name"])
	require.Equal(t, "buyer", got["role"])
	require.Equal(t, "name_entered", got["state_to"])
}

func TestFieldsKeysOrder(t *testing.T) {
	f := fields{"b": 1, "event": "x", "a": 2, "level": "INFO"}
	require.Equal(t, []string{"level", "event", "a", "b"}, f.keys([]string{"level", "event"}))
}
