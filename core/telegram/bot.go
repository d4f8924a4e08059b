package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"

	"github.com/m3rciful/onboardbot/core/dispatch"
	"github.com/m3rciful/onboardbot/core/logger"
)

const defaultLongPollTimeout = 10 * time.Second

// allowedUpdates limits what Telegram pushes to the update kinds the pipeline understands.
var allowedUpdates = []string{"message", "callback_query"}

// BotOptions configures NewBot.
type BotOptions struct {
	Token string
	// APIURL overrides the Bot API base URL.
	APIURL string
	// LongPoll selects long polling; otherwise the bot is used for outbound calls only.
	LongPoll        bool
	LongPollTimeout time.Duration
	Offline         bool
	// OnUpdate receives every polled update. Updates never reach telebot's own handlers.
	OnUpdate func(*tele.Update)
}

// NewBot builds the telebot client. In long-poll mode updates are diverted to
// opts.OnUpdate through a middleware poller.
func NewBot(opts BotOptions) (*tele.Bot, error) {
	start := time.Now()
	timeout := opts.LongPollTimeout
	if timeout <= 0 {
		timeout = defaultLongPollTimeout
	}

	settings := tele.Settings{
		Token:   opts.Token,
		URL:     opts.APIURL,
		Client:  BuildHTTPClient(timeout + defaultClientTimeout),
		Offline: opts.Offline,
		OnError: func(err error, _ tele.Context) {
			logger.Error(context.Background(), "tg", "bot.error",
				slog.String("status", "fail"),
				slog.String("err", err.Error()),
			)
		},
	}
	if opts.LongPoll {
		base := &tele.LongPoller{Timeout: timeout, AllowedUpdates: allowedUpdates}
		settings.Poller = tele.NewMiddlewarePoller(base, func(u *tele.Update) bool {
			if opts.OnUpdate != nil {
				opts.OnUpdate(u)
			}
			return false
		})
	}

	bot, err := tele.NewBot(settings)
	if err != nil {
		return nil, fmt.Errorf("telegram: bot initialization failed: %w", err)
	}

	mode := "webhook"
	if opts.LongPoll {
		mode = "longpoll"
	}
	logger.Info(context.Background(), "tg", "bot.init",
		slog.String("status", "ok"),
		slog.String("mode", mode),
		slog.Bool("offline", opts.Offline),
		slog.Duration("duration", logger.RoundMS(logger.Took(start))),
	)
	return bot, nil
}

// RegisterWebhook points Telegram at publicURL. Updates carry secret in the
// X-Telegram-Bot-Api-Secret-Token header when it is set.
func RegisterWebhook(ctx context.Context, bot *tele.Bot, publicURL, secret string) error {
	if strings.TrimSpace(publicURL) == "" {
		return fmt.Errorf("telegram: empty webhook url")
	}
	hook := &tele.Webhook{
		Endpoint:       &tele.WebhookEndpoint{PublicURL: publicURL},
		SecretToken:    secret,
		AllowedUpdates: allowedUpdates,
	}
	if err := bot.SetWebhook(hook); err != nil {
		logger.Error(ctx, "tg", "webhook.register",
			slog.String("status", "fail"),
			slog.String("public_url", publicURL),
			slog.String("err", err.Error()),
		)
		return fmt.Errorf("telegram: set webhook: %w", err)
	}
	logger.Info(ctx, "tg", "webhook.register",
		slog.String("status", "ok"),
		slog.String("public_url", publicURL),
	)
	return nil
}

// RemoveWebhook clears a previously registered webhook so long polling can receive updates.
// Pending updates are kept.
func RemoveWebhook(ctx context.Context, bot *tele.Bot) {
	if err := bot.RemoveWebhook(false); err != nil {
		logger.Warn(ctx, "tg", "webhook.remove",
			slog.String("status", "fail"),
			slog.String("mode", "longpoll"),
			slog.String("err", err.Error()),
		)
		return
	}
	logger.Info(ctx, "tg", "webhook.remove",
		slog.String("status", "ok"),
		slog.String("mode", "longpoll"),
	)
}

// PublishCommands sets the command menu shown by Telegram clients.
func PublishCommands(ctx context.Context, bot *tele.Bot, cmds []dispatch.CommandInfo) {
	list := BotCommands(cmds)
	if err := bot.SetCommands(list); err != nil {
		logger.Error(ctx, "tg", "commands.publish",
			slog.String("status", "fail"),
			slog.String("err", err.Error()),
		)
		return
	}
	names := make([]string, 0, len(list))
	for _, c := range list {
		names = append(names, c.Text)
	}
	summary, _ := logger.SummarizeStrings(names, 8)
	logger.Info(ctx, "tg", "commands.publish",
		slog.String("status", "ok"),
		slog.String("choices", summary),
	)
}

// BotCommands converts registry entries to the menu format. Telegram wants names without the slash.
func BotCommands(cmds []dispatch.CommandInfo) []tele.Command {
	out := make([]tele.Command, 0, len(cmds))
	for _, c := range cmds {
		name := strings.TrimPrefix(c.Name, "/")
		if name == "" || c.Description == "" {
			continue
		}
		out = append(out, tele.Command{Text: name, Description: c.Description})
	}
	return out
}
