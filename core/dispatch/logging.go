package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"reflect"
	"strings"
	"time"

	"github.com/m3rciful/onboardbot/core/event"
	"github.com/m3rciful/onboardbot/core/ledger"
	"github.com/m3rciful/onboardbot/core/logger"
)

var sentinelCodes = []struct {
	err  error
	code string
}{
	{ledger.ErrUnavailable, "LEDGER_UNAVAILABLE"},
	{ledger.ErrNotFound, "NOT_FOUND"},
	{ledger.ErrConflict, "CONFLICT"},
	{context.DeadlineExceeded, "TIMEOUT"},
	{context.Canceled, "CANCELLED"},
}

func handleWithSummary(ctx context.Context, handlerName, status string, fn func(context.Context) (event.Prompt, error), extras ...slog.Attr) (event.Prompt, error) {
	start := time.Now()
	ctx = logger.WithHandler(ctx, handlerName)
	p, err := fn(ctx)
	logHandlerSummary(ctx, handlerName, start, status, p, err, extras...)
	return p, err
}

func logHandlerSummary(ctx context.Context, handlerName string, start time.Time, status string, p event.Prompt, err error, extras ...slog.Attr) {
	outcome := "ok"
	if err != nil {
		outcome = "fail"
	}
	if status == "" {
		status = outcome
	}

	attrs := []slog.Attr{
		slog.String("status", status),
		slog.String("handler", handlerName),
		slog.String("outcome", outcome),
		slog.Bool("prompt", !p.Empty()),
		slog.Int("choices", len(p.Choices)),
		slog.Duration("duration", logger.Took(start)),
	}
	if err != nil {
		attrs = append(attrs,
			slog.String("err", logger.SanitizeLimit(err.Error(), 256)),
			slog.String("err_code", ErrorCode(err)),
			slog.String("cause", handlerName),
		)
	}
	attrs = append(attrs, extras...)
	logger.LogEvent(ctx, logger.Component("dispatch"), slog.LevelInfo, "handler.handled", attrs...)
}

func normalizeHandlerName(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return "unknown"
	}
	name = strings.TrimPrefix(name, "/")
	name = strings.ReplaceAll(name, " ", "_")
	return strings.ToLower(name)
}

// ErrorCode derives the err_code log value. It prefers a Code() anywhere in the chain and falls back to the outer type name.
func ErrorCode(err error) string {
	if err == nil {
		return ""
	}
	var c interface{ Code() string }
	if errors.As(err, &c) {
		if code := strings.TrimSpace(c.Code()); code != "" {
			return strings.ToUpper(strings.ReplaceAll(code, " ", "_"))
		}
	}
	for _, sc := range sentinelCodes {
		if errors.Is(err, sc.err) {
			return sc.code
		}
	}
	t := reflect.TypeOf(err)
	for t != nil && t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t != nil && t.Name() != "" {
		return strings.ToUpper(t.Name())
	}
	return "UNKNOWN_ERROR"
}
