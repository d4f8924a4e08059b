// Package server exposes the webhook endpoint and the health probes.
package server

import (
	"context"
	"crypto/subtle"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	tele "gopkg.in/telebot.v4"

	"github.com/m3rciful/onboardbot/core/logger"
	"github.com/m3rciful/onboardbot/core/telegram"
)

// SecretHeader carries the webhook secret token set at registration.
const SecretHeader = "X-Telegram-Bot-Api-Secret-Token"

const defaultMaxBody = 1 << 20

// Options configures NewRouter.
type Options struct {
	WebhookPath string
	// SecretToken, when set, must match SecretHeader on every webhook call.
	SecretToken string
	// Accept takes a decoded update. Its error is logged, never returned to Telegram.
	Accept func(ctx context.Context, upd *tele.Update) error
	// Ready backs /readyz; nil means always ready.
	Ready        func(ctx context.Context) error
	MaxBodyBytes int64
}

// NewRouter builds the HTTP surface.
func NewRouter(opts Options) http.Handler {
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = defaultMaxBody
	}
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(accessLog)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = io.WriteString(w, "ok")
	})
	r.Get("/readyz", readyHandler(opts.Ready))
	r.Post(opts.WebhookPath, webhookHandler(opts))
	return r
}

// New returns an http.Server for h with conservative timeouts.
func New(addr string, h http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}

func readyHandler(ready func(context.Context) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if ready != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := ready(ctx); err != nil {
				logger.Warn(r.Context(), "http", "readyz",
					slog.String("status", "fail"),
					slog.String("err", err.Error()),
				)
				http.Error(w, "not ready", http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = io.WriteString(w, "ready")
	}
}

// webhookHandler acknowledges every authenticated delivery with 200 so
// Telegram does not redeliver; processing continues asynchronously.
func webhookHandler(opts Options) http.HandlerFunc {
	secret := []byte(opts.SecretToken)
	return func(w http.ResponseWriter, r *http.Request) {
		if len(secret) > 0 && subtle.ConstantTimeCompare([]byte(r.Header.Get(SecretHeader)), secret) != 1 {
			logger.Warn(r.Context(), "http", "webhook.auth",
				slog.String("status", "fail"),
				slog.String("path", r.URL.Path),
			)
			w.WriteHeader(http.StatusUnauthorized)
			return
		}

		body, err := io.ReadAll(io.LimitReader(r.Body, opts.MaxBodyBytes))
		if err != nil {
			logger.Warn(r.Context(), "http", "webhook.read",
				slog.String("status", "dropped"),
				slog.String("err", err.Error()),
			)
			w.WriteHeader(http.StatusOK)
			return
		}
		upd, err := telegram.DecodeUpdate(body)
		if err != nil {
			logger.Warn(r.Context(), "http", "webhook.decode",
				slog.String("status", "dropped"),
				slog.String("err", logger.SanitizeLimit(err.Error(), 256)),
			)
			w.WriteHeader(http.StatusOK)
			return
		}
		if opts.Accept != nil {
			_ = opts.Accept(r.Context(), upd)
		}
		w.WriteHeader(http.StatusOK)
	}
}

func accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		if !logger.ShouldSampleDebug() {
			return
		}
		status := "ok"
		if ww.Status() >= 400 {
			status = "fail"
		}
		logger.Debug(r.Context(), "http", "request",
			slog.String("status", status),
			slog.String("path", r.URL.Path),
			slog.Int("http_code", ww.Status()),
			slog.Duration("duration", logger.Took(start)),
		)
	})
}
