package config

import (
	"fmt"
	"strings"
)

const (
	// RunModeWebhook selects webhook mode for Telegram updates.
	RunModeWebhook = "webhook"
	// RunModeLongpoll selects long-polling mode for Telegram updates.
	RunModeLongpoll = "longpoll"
)

const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
	DriverMongo    = "mongo"
)

const (
	defaultWebhookPath  = "/telegram/webhook"
	defaultDedupTTL     = 24 * 60 * 60
	defaultMaxAttempts  = 3
	defaultBaseDelayMS  = 500
	defaultMaxDelayMS   = 5000
	defaultWorkers      = 8
	defaultQueueSize    = 256
	defaultEventTimeout = 15
)

var allowedKinds = map[string]struct{}{
	"text":        {},
	"callback":    {},
	"contact":     {},
	"unsupported": {},
}

// Normalize performs validation of required configuration fields and fills defaults.
func Normalize(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("nil config")
	}

	if strings.TrimSpace(cfg.Telegram.Token) == "" {
		return fmt.Errorf("telegram token is required")
	}

	if err := normalizeRunMode(cfg); err != nil {
		return err
	}
	if err := normalizeLedger(cfg); err != nil {
		return err
	}

	for i, v := range cfg.RateLimit.ExcludeKinds {
		key := strings.ToLower(strings.TrimSpace(v))
		if key == "" {
			continue
		}
		if _, ok := allowedKinds[key]; !ok {
			return fmt.Errorf("invalid rate_limit.exclude_kinds value %q; allowed: text, callback, contact, unsupported", v)
		}
		cfg.RateLimit.ExcludeKinds[i] = key
	}
	if cfg.RateLimit.IntervalMS < 0 {
		return fmt.Errorf("rate_limit.interval_ms must be >= 0")
	}

	if cfg.Dedup.TTLSeconds <= 0 {
		cfg.Dedup.TTLSeconds = defaultDedupTTL
	}

	if cfg.Gateway.MaxAttempts <= 0 {
		cfg.Gateway.MaxAttempts = defaultMaxAttempts
	}
	if cfg.Gateway.BaseDelayMS <= 0 {
		cfg.Gateway.BaseDelayMS = defaultBaseDelayMS
	}
	if cfg.Gateway.MaxDelayMS <= 0 {
		cfg.Gateway.MaxDelayMS = defaultMaxDelayMS
	}
	if cfg.Gateway.MaxDelayMS < cfg.Gateway.BaseDelayMS {
		return fmt.Errorf("gateway.max_delay_ms must be >= gateway.base_delay_ms")
	}

	if cfg.Ingest.Workers <= 0 {
		cfg.Ingest.Workers = defaultWorkers
	}
	if cfg.Ingest.QueueSize <= 0 {
		cfg.Ingest.QueueSize = defaultQueueSize
	}
	if cfg.Ingest.EventTimeoutSeconds <= 0 {
		cfg.Ingest.EventTimeoutSeconds = defaultEventTimeout
	}

	if strings.TrimSpace(cfg.Redis.Prefix) == "" {
		cfg.Redis.Prefix = "onboard"
	}
	return nil
}

func normalizeRunMode(cfg *Config) error {
	rm := strings.ToLower(strings.TrimSpace(cfg.Telegram.RunMode))
	if rm == "" {
		rm = RunModeWebhook
	}
	if rm == "polling" { // accept alias
		rm = RunModeLongpoll
	}
	switch rm {
	case RunModeWebhook:
		if strings.TrimSpace(cfg.Webhook.URL) == "" && !cfg.Webhook.SkipRegister {
			return fmt.Errorf("webhook.url is required when telegram.run_mode is 'webhook'")
		}
		if cfg.Webhook.Port <= 0 {
			return fmt.Errorf("webhook.port must be > 0 when telegram.run_mode is 'webhook'")
		}
		path := strings.TrimSpace(cfg.Webhook.Path)
		if path == "" {
			path = defaultWebhookPath
		}
		if !strings.HasPrefix(path, "/") {
			path = "/" + path
		}
		cfg.Webhook.Path = path
	case RunModeLongpoll:
		if cfg.Telegram.LongPollTimeoutSeconds < 0 {
			return fmt.Errorf("telegram.longpoll_timeout_seconds must be >= 0")
		}
	default:
		return fmt.Errorf("invalid telegram.run_mode %q; allowed: webhook, longpoll", cfg.Telegram.RunMode)
	}
	cfg.Telegram.RunMode = rm
	return nil
}

func normalizeLedger(cfg *Config) error {
	driver := strings.ToLower(strings.TrimSpace(cfg.Ledger.Driver))
	if driver == "" {
		driver = DriverPostgres
	}
	switch driver {
	case DriverMemory:
	case DriverPostgres:
		if strings.TrimSpace(cfg.Database.Host) == "" || strings.TrimSpace(cfg.Database.Name) == "" {
			return fmt.Errorf("database.host and database.name are required for the postgres ledger")
		}
		if cfg.Database.Port == "" {
			cfg.Database.Port = "5432"
		}
		if cfg.Database.SSLMode == "" {
			cfg.Database.SSLMode = "disable"
		}
		if cfg.Database.MaxConnections <= 0 {
			cfg.Database.MaxConnections = 10
		}
	case DriverMongo:
		if strings.TrimSpace(cfg.Mongo.URI) == "" || strings.TrimSpace(cfg.Mongo.Database) == "" {
			return fmt.Errorf("mongo.uri and mongo.database are required for the mongo ledger")
		}
		if cfg.Mongo.Collection == "" {
			cfg.Mongo.Collection = "users"
		}
		if cfg.Mongo.TimeoutSeconds <= 0 {
			cfg.Mongo.TimeoutSeconds = 5
		}
	default:
		return fmt.Errorf("invalid ledger.driver %q; allowed: memory, postgres, mongo", cfg.Ledger.Driver)
	}
	cfg.Ledger.Driver = driver
	return nil
}
