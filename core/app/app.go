// Package app composes the onboarding bot and runs it in webhook or long-poll mode.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"
	tele "gopkg.in/telebot.v4"

	"github.com/m3rciful/onboardbot/core/bootstrap"
	coreconfig "github.com/m3rciful/onboardbot/core/config"
	"github.com/m3rciful/onboardbot/core/dispatch"
	"github.com/m3rciful/onboardbot/core/ingest"
	"github.com/m3rciful/onboardbot/core/logger"
	"github.com/m3rciful/onboardbot/core/registration"
	"github.com/m3rciful/onboardbot/core/server"
	"github.com/m3rciful/onboardbot/core/telegram"
	"github.com/m3rciful/onboardbot/core/telegram/sender"
)

const shutdownTimeout = 10 * time.Second

// App holds the wired components.
type App struct {
	cfg        *coreconfig.Config
	infra      *bootstrap.Result
	bot        *tele.Bot
	gateway    *sender.Gateway
	dispatcher *dispatch.Dispatcher
	pool       *ingest.Pool
	handler    http.Handler
}

// New wires every component on top of infra. The bot is created offline when
// telegram.offline is set, which skips the getMe call.
func New(cfg *coreconfig.Config, infra *bootstrap.Result) (*App, error) {
	if cfg == nil || infra == nil || infra.Ledger == nil {
		return nil, fmt.Errorf("app: config and ledger are required")
	}
	a := &App{cfg: cfg, infra: infra}

	bot, err := telegram.NewBot(telegram.BotOptions{
		Token:           cfg.Telegram.Token,
		APIURL:          cfg.Telegram.APIURL,
		LongPoll:        cfg.Telegram.RunMode == coreconfig.RunModeLongpoll,
		LongPollTimeout: time.Duration(cfg.Telegram.LongPollTimeoutSeconds) * time.Second,
		Offline:         cfg.Telegram.Offline,
		OnUpdate: func(u *tele.Update) {
			_ = a.pool.Accept(context.Background(), u)
		},
	})
	if err != nil {
		return nil, err
	}
	a.bot = bot

	a.gateway = sender.NewGateway(bot, sender.Options{
		MaxAttempts: cfg.Gateway.MaxAttempts,
		BaseDelay:   time.Duration(cfg.Gateway.BaseDelayMS) * time.Millisecond,
		MaxDelay:    time.Duration(cfg.Gateway.MaxDelayMS) * time.Millisecond,
	})

	reg := dispatch.NewRegistry()
	if err := (dispatch.Builtins{Ledger: infra.Ledger, DeadLetters: infra.DeadLetters}).Register(reg); err != nil {
		return nil, fmt.Errorf("app: register builtins: %w", err)
	}
	machine := registration.New(registration.DefaultTexts().WithAgenda(cfg.Registration.Agenda))
	a.dispatcher = dispatch.New(infra.Ledger, machine, reg, dispatch.Options{AdminID: cfg.Telegram.AdminID})

	pipeline := ingest.NewPipeline(a.dispatcher, a.gateway, ingest.Options{
		Dedup:       infra.Dedup,
		DeadLetters: infra.DeadLetters,
		Limiter:     ingest.NewRateLimiter(time.Duration(cfg.RateLimit.IntervalMS)*time.Millisecond, cfg.RateLimit.ExcludeKinds),
		Timeout:     cfg.EventTimeout(),
	})
	a.pool = ingest.NewPool(pipeline, ingest.PoolOptions{
		Workers:   cfg.Ingest.Workers,
		QueueSize: cfg.Ingest.QueueSize,
	})

	a.handler = server.NewRouter(server.Options{
		WebhookPath: cfg.Webhook.Path,
		SecretToken: cfg.Webhook.SecretToken,
		Accept:      a.pool.Accept,
		Ready:       a.ready,
	})
	return a, nil
}

// Dispatcher exposes the command registry for feature handlers registered after New.
func (a *App) Dispatcher() *dispatch.Dispatcher {
	return a.dispatcher
}

// Handler returns the HTTP surface: webhook, /healthz and /readyz.
func (a *App) Handler() http.Handler {
	return a.handler
}

// Run serves until ctx is done, then drains queued events and closes the infrastructure.
func (a *App) Run(ctx context.Context) error {
	startedAt := time.Now()
	a.logRegistry(ctx)
	if !a.cfg.Telegram.Offline {
		telegram.PublishCommands(ctx, a.bot, a.dispatcher.Registry().ListCommands(true))
	}

	g, gctx := errgroup.WithContext(ctx)
	switch a.cfg.Telegram.RunMode {
	case coreconfig.RunModeLongpoll:
		if !a.cfg.Telegram.Offline {
			telegram.RemoveWebhook(ctx, a.bot)
		}
		g.Go(func() error {
			a.bot.Start()
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			a.bot.Stop()
			return nil
		})
		if a.cfg.Webhook.Port > 0 {
			a.serveHTTP(gctx, g)
		}
	default:
		if !a.cfg.Webhook.SkipRegister {
			if err := telegram.RegisterWebhook(ctx, a.bot, a.cfg.Webhook.URL, a.cfg.Webhook.SecretToken); err != nil {
				a.close(ctx)
				return err
			}
		}
		a.serveHTTP(gctx, g)
	}

	logger.Info(ctx, "app", "ready",
		slog.String("status", "ok"),
		slog.String("mode", a.cfg.Telegram.RunMode),
		slog.Duration("duration", logger.RoundMS(logger.Took(startedAt))),
	)

	err := g.Wait()
	logger.Info(context.Background(), "app", "shutdown",
		slog.String("status", "ok"),
		slog.String("mode", a.cfg.Telegram.RunMode),
	)
	a.close(context.Background())
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// logRegistry records the commands and callback keys features registered after New.
func (a *App) logRegistry(ctx context.Context) {
	reg := a.dispatcher.Registry()
	cmds := reg.ListCommands(false)
	names := make([]string, 0, len(cmds))
	for _, c := range cmds {
		names = append(names, c.Name)
	}
	cmdSummary, _ := logger.SummarizeStrings(names, 12)
	cbSummary, _ := logger.SummarizeStrings(reg.ListCallbacks(), 12)
	logger.Info(ctx, "dispatch", "registry.ready",
		slog.String("status", "ok"),
		slog.String("choices", cmdSummary),
		slog.String("callbacks", cbSummary),
		slog.Int("callback_count", len(reg.ListCallbacks())),
	)
}

func (a *App) serveHTTP(ctx context.Context, g *errgroup.Group) {
	addr := fmt.Sprintf("%s:%d", a.cfg.Webhook.Listen, a.cfg.Webhook.Port)
	srv := server.New(addr, a.handler)
	g.Go(func() error {
		logger.Info(ctx, "http", "listen",
			slog.String("status", "ok"),
			slog.String("listen", addr),
			slog.String("path", a.cfg.Webhook.Path),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(sctx)
	})
}

func (a *App) ready(ctx context.Context) error {
	if err := a.infra.Ledger.Ping(ctx); err != nil {
		return err
	}
	if a.infra.Redis != nil {
		if err := a.infra.Redis.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis ping: %w", err)
		}
	}
	return nil
}

// close drains the worker pool before closing the stores it writes to.
func (a *App) close(ctx context.Context) {
	a.pool.Close()
	if err := a.infra.Close(); err != nil {
		logger.Warn(ctx, "app", "close",
			slog.String("status", "fail"),
			slog.String("err", err.Error()),
		)
	}
}
