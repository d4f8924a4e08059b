// Package bootstrap initializes the infrastructure shared by every run mode:
// logging, the user ledger and the optional Redis-backed stores.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"

	coreconfig "github.com/m3rciful/onboardbot/core/config"
	coredatabase "github.com/m3rciful/onboardbot/core/database"
	"github.com/m3rciful/onboardbot/core/deadletter"
	"github.com/m3rciful/onboardbot/core/dedup"
	"github.com/m3rciful/onboardbot/core/ledger"
	"github.com/m3rciful/onboardbot/core/logger"
)

const dbWaitTimeout = 30 * time.Second

// Options control the bootstrap pipeline. Nil hooks select the real implementations.
type Options struct {
	Config *coreconfig.Config

	LoggerInit   func(*coreconfig.Config) error
	Connect      func(context.Context, coreconfig.DatabaseConfig) (*sqlx.DB, error)
	Migrate      func(coreconfig.DatabaseConfig) error
	ConnectMongo func(context.Context, ledger.MongoOptions) (ledger.Ledger, error)
}

// Result exposes infrastructure initialized by the bootstrap pipeline.
type Result struct {
	Ledger      ledger.Ledger
	Dedup       dedup.Store
	DeadLetters deadletter.Queue
	// Redis is nil when redis.addr is empty.
	Redis *redis.Client
}

// Close releases the ledger and the Redis client.
func (r *Result) Close() error {
	var errs []error
	if r.Ledger != nil {
		errs = append(errs, r.Ledger.Close())
	}
	if r.Redis != nil {
		errs = append(errs, r.Redis.Close())
	}
	return errors.Join(errs...)
}

// Run initializes the logger, opens the configured ledger (applying migrations
// for PostgreSQL) and builds the dedup and dead-letter stores.
func Run(ctx context.Context, opts Options) (*Result, error) {
	if opts.Config == nil {
		return nil, fmt.Errorf("bootstrap: nil config provided")
	}
	cfg := opts.Config

	loggerInit := opts.LoggerInit
	if loggerInit == nil {
		loggerInit = logger.InitLogger
	}
	if err := loggerInit(cfg); err != nil {
		return nil, fmt.Errorf("bootstrap: logger init failed: %w", err)
	}

	l, err := openLedger(ctx, opts)
	if err != nil {
		return nil, err
	}
	res := &Result{Ledger: l}

	if cfg.Redis.Addr == "" {
		res.Dedup = dedup.NewMemory(cfg.DedupTTL())
		res.DeadLetters = deadletter.NewMemory(0)
		return res, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		_ = l.Close()
		logger.Error(ctx, "db", "redis.connect",
			slog.String("status", "fail"),
			slog.String("host", cfg.Redis.Addr),
			slog.String("err", err.Error()),
		)
		return nil, fmt.Errorf("bootstrap: redis ping: %w", err)
	}
	logger.Info(ctx, "db", "redis.connect",
		slog.String("status", "ok"),
		slog.String("host", cfg.Redis.Addr),
	)
	res.Redis = client
	res.Dedup = dedup.NewRedis(client, cfg.Redis.Prefix, cfg.DedupTTL())
	res.DeadLetters = deadletter.NewRedis(client, cfg.Redis.Prefix, 0)
	return res, nil
}

func openLedger(ctx context.Context, opts Options) (ledger.Ledger, error) {
	cfg := opts.Config
	switch cfg.Ledger.Driver {
	case coreconfig.DriverMemory:
		logger.Warn(ctx, "ledger", "ledger.open",
			slog.String("status", "ok"),
			slog.String("driver", cfg.Ledger.Driver),
			slog.String("cause", "records are lost on restart"),
		)
		return ledger.NewMemory(), nil

	case coreconfig.DriverMongo:
		connect := opts.ConnectMongo
		if connect == nil {
			connect = ledger.ConnectMongo
		}
		l, err := connect(ctx, ledger.MongoOptions{
			URI:        cfg.Mongo.URI,
			Database:   cfg.Mongo.Database,
			Collection: cfg.Mongo.Collection,
			Timeout:    time.Duration(cfg.Mongo.TimeoutSeconds) * time.Second,
		})
		if err != nil {
			return nil, fmt.Errorf("bootstrap: mongo ledger: %w", err)
		}
		return l, nil

	default:
		connect := opts.Connect
		if connect == nil {
			connect = func(ctx context.Context, dc coreconfig.DatabaseConfig) (*sqlx.DB, error) {
				return coredatabase.WaitForPostgres(ctx, dc, dbWaitTimeout)
			}
		}
		db, err := connect(ctx, cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("bootstrap: database initialization failed: %w", err)
		}

		migrate := opts.Migrate
		if migrate == nil {
			migrate = coredatabase.RunMigrations
		}
		if err := migrate(cfg.Database); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("bootstrap: migrations failed: %w", err)
		}
		return ledger.NewPostgres(db), nil
	}
}
