package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	return &Config{
		Telegram: TelegramConfig{Token: "123:abc"},
		Webhook:  WebhookConfig{URL: "https://bot.example.com/telegram/webhook", Port: 8080},
		Ledger:   LedgerConfig{Driver: "memory"},
	}
}

func TestNormalizeDefaults(t *testing.T) {
	cfg := validConfig()
	require.NoError(t, Normalize(cfg))

	require.Equal(t, RunModeWebhook, cfg.Telegram.RunMode)
	require.Equal(t, "/telegram/webhook", cfg.Webhook.Path)
	require.Equal(t, 3, cfg.Gateway.MaxAttempts)
	require.Equal(t, 500, cfg.Gateway.BaseDelayMS)
	require.Equal(t, 8, cfg.Ingest.Workers)
	require.Equal(t, 15, cfg.Ingest.EventTimeoutSeconds)
	require.Equal(t, "onboard", cfg.Redis.Prefix)
	require.Positive(t, cfg.DedupTTL())
}

func TestNormalizeRejects(t *testing.T) {
	cases := map[string]func(*Config){
		"no token":     func(c *Config) { c.Telegram.Token = "" },
		"bad run mode": func(c *Config) { c.Telegram.RunMode = "carrier-pigeon" },
		"no port":      func(c *Config) { c.Webhook.Port = 0 },
		"bad driver":   func(c *Config) { c.Ledger.Driver = "sqlite" },
		"pg no host":   func(c *Config) { c.Ledger.Driver = "postgres" },
		"mongo no uri": func(c *Config) { c.Ledger.Driver = "mongo" },
		"bad kind":     func(c *Config) { c.RateLimit.ExcludeKinds = []string{"inline_query"} },
		"delay order":  func(c *Config) { c.Gateway.BaseDelayMS = 900; c.Gateway.MaxDelayMS = 100 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := validConfig()
			mutate(cfg)
			require.Error(t, Normalize(cfg))
		})
	}
}

func TestNormalizePollingAlias(t *testing.T) {
	cfg := validConfig()
	cfg.Telegram.RunMode = " Polling "
	cfg.Webhook = WebhookConfig{}
	require.NoError(t, Normalize(cfg))
	require.Equal(t, RunModeLongpoll, cfg.Telegram.RunMode)
}

func TestLoadOverlaysEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yml := `
telegram:
  token: from-file
  run_mode: longpoll
ledger:
  driver: postgres
database:
  host: db
  name: onboard
registration:
  agenda:
    - "10:00 Opening"
    - "11:00 Pitches"
`
	require.NoError(t, os.WriteFile(path, []byte(yml), 0o600))
	t.Setenv("BOT_TOKEN", "from-env")
	t.Setenv("DB_PORT", "6543")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "from-env", cfg.Telegram.Token)
	require.Equal(t, "6543", cfg.Database.Port)
	require.Equal(t, "disable", cfg.Database.SSLMode)
	require.Equal(t, []string{"10:00 Opening", "11:00 Pitches"}, cfg.Registration.Agenda)
}
