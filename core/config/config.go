package config

import (
	"fmt"
	"os"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// TelegramConfig holds Telegram bot settings.
type TelegramConfig struct {
	Token   string `yaml:"token" envconfig:"BOT_TOKEN"`
	AdminID int64  `yaml:"admin_id" envconfig:"TELEGRAM_ADMIN_ID"`
	RunMode string `yaml:"run_mode" envconfig:"TELEGRAM_RUN_MODE"`
	// LongPollTimeoutSeconds defines long polling timeout; 0 -> default
	LongPollTimeoutSeconds int `yaml:"longpoll_timeout_seconds" envconfig:"TELEGRAM_LONGPOLL_TIMEOUT_SECONDS"`
	// Offline skips the getMe round trip on startup.
	Offline bool `yaml:"offline" envconfig:"TELEGRAM_OFFLINE"`
	// APIURL points at a self-hosted Bot API server; empty means api.telegram.org.
	APIURL string `yaml:"api_url" envconfig:"TELEGRAM_API_URL"`
}

// WebhookConfig specifies the inbound HTTP listener and the public URL registered with Telegram.
type WebhookConfig struct {
	URL         string `yaml:"url" envconfig:"WEBHOOK_URL"`
	Listen      string `yaml:"listen" envconfig:"WEBHOOK_LISTEN"`
	Port        int    `yaml:"port" envconfig:"WEBHOOK_PORT"`
	Path        string `yaml:"path" envconfig:"WEBHOOK_PATH"`
	SecretToken string `yaml:"secret_token" envconfig:"WEBHOOK_SECRET_TOKEN"`
	// SkipRegister leaves setWebhook to an external deploy step.
	SkipRegister bool `yaml:"skip_register" envconfig:"WEBHOOK_SKIP_REGISTER"`
}

// LoggingConfig defines logging related configuration.
type LoggingConfig struct {
	Level       string `yaml:"level" envconfig:"LOG_LEVEL"`
	Format      string `yaml:"format" envconfig:"LOG_FORMAT"`
	KeysOrder   string `yaml:"keys_order"`
	DebugSample string `yaml:"debug_sample"`
	Dir         string `yaml:"dir"`
	File        string `yaml:"file"`
	// Profile indicates environment profile such as "debug" or "prod".
	Profile string `yaml:"profile" envconfig:"LOG_PROFILE"`
}

// RateLimitConfig holds per-sender throttling settings. IntervalMS = 0 disables it.
// ExcludeKinds accepts event kinds that bypass limiting: text, callback, contact, unsupported.
type RateLimitConfig struct {
	IntervalMS   int      `yaml:"interval_ms" envconfig:"RATE_LIMIT_INTERVAL_MS"`
	ExcludeKinds []string `yaml:"exclude_kinds" envconfig:"RATE_LIMIT_EXCLUDE_KINDS"`
}

// LedgerConfig selects the user ledger backend.
type LedgerConfig struct {
	Driver string `yaml:"driver" envconfig:"LEDGER_DRIVER"`
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	Host           string `yaml:"host" envconfig:"DB_HOST"`
	Port           string `yaml:"port" envconfig:"DB_PORT"`
	User           string `yaml:"user" envconfig:"DB_USER"`
	Password       string `yaml:"password" envconfig:"DB_PASSWORD"`
	Name           string `yaml:"name" envconfig:"DB_NAME"`
	SSLMode        string `yaml:"sslmode" envconfig:"DB_SSLMODE"`
	MaxConnections int    `yaml:"max_connections" envconfig:"DB_MAX_CONNECTIONS"`
}

// MongoConfig holds document-store settings.
type MongoConfig struct {
	URI            string `yaml:"uri" envconfig:"MONGO_URI"`
	Database       string `yaml:"database" envconfig:"MONGO_DATABASE"`
	Collection     string `yaml:"collection" envconfig:"MONGO_COLLECTION"`
	TimeoutSeconds int    `yaml:"timeout_seconds" envconfig:"MONGO_TIMEOUT_SECONDS"`
}

// RedisConfig enables the Redis-backed dedup and dead-letter stores. An empty Addr keeps them in memory.
type RedisConfig struct {
	Addr     string `yaml:"addr" envconfig:"REDIS_ADDR"`
	Password string `yaml:"password" envconfig:"REDIS_PASSWORD"`
	DB       int    `yaml:"db" envconfig:"REDIS_DB"`
	Prefix   string `yaml:"prefix" envconfig:"REDIS_PREFIX"`
}

// DedupConfig controls how long a provider message id is remembered.
type DedupConfig struct {
	TTLSeconds int `yaml:"ttl_seconds" envconfig:"DEDUP_TTL_SECONDS"`
}

// GatewayConfig bounds outbound delivery retries.
type GatewayConfig struct {
	MaxAttempts int `yaml:"max_attempts" envconfig:"GATEWAY_MAX_ATTEMPTS"`
	BaseDelayMS int `yaml:"base_delay_ms" envconfig:"GATEWAY_BASE_DELAY_MS"`
	MaxDelayMS  int `yaml:"max_delay_ms" envconfig:"GATEWAY_MAX_DELAY_MS"`
}

// IngestConfig sizes the per-sender worker pool.
type IngestConfig struct {
	Workers             int `yaml:"workers" envconfig:"INGEST_WORKERS"`
	QueueSize           int `yaml:"queue_size" envconfig:"INGEST_QUEUE_SIZE"`
	EventTimeoutSeconds int `yaml:"event_timeout_seconds" envconfig:"INGEST_EVENT_TIMEOUT_SECONDS"`
}

// RegistrationConfig overrides registration copy.
type RegistrationConfig struct {
	Agenda []string `yaml:"agenda"`
}

// Config aggregates the whole application configuration.
type Config struct {
	Telegram     TelegramConfig     `yaml:"telegram"`
	Webhook      WebhookConfig      `yaml:"webhook"`
	Logging      LoggingConfig      `yaml:"logging"`
	RateLimit    RateLimitConfig    `yaml:"rate_limit"`
	Ledger       LedgerConfig       `yaml:"ledger"`
	Database     DatabaseConfig     `yaml:"database"`
	Mongo        MongoConfig        `yaml:"mongo"`
	Redis        RedisConfig        `yaml:"redis"`
	Dedup        DedupConfig        `yaml:"dedup"`
	Gateway      GatewayConfig      `yaml:"gateway"`
	Ingest       IngestConfig       `yaml:"ingest"`
	Registration RegistrationConfig `yaml:"registration"`
}

// Load reads configuration from a YAML file and environment variables.
func Load(path string) (*Config, error) {
	var cfg Config

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML config: %w", err)
	}
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process env: %w", err)
	}

	if err := Normalize(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// DedupTTL returns the dedup window as a duration.
func (c *Config) DedupTTL() time.Duration {
	return time.Duration(c.Dedup.TTLSeconds) * time.Second
}

// EventTimeout returns the per-event processing budget.
func (c *Config) EventTimeout() time.Duration {
	return time.Duration(c.Ingest.EventTimeoutSeconds) * time.Second
}
