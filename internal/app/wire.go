package app

import (
	"context"
	"fmt"
	"log/slog"

	s3blob "github.com/alanyoungcy/quantlab/internal/blob/s3"
	"github.com/alanyoungcy/quantlab/internal/cache/redis"
	"github.com/alanyoungcy/quantlab/internal/config"
	"github.com/alanyoungcy/quantlab/internal/crypto"
	"github.com/alanyoungcy/quantlab/internal/domain"
	"github.com/alanyoungcy/quantlab/internal/notify"
	"github.com/alanyoungcy/quantlab/internal/platform"
	"github.com/alanyoungcy/quantlab/internal/platform/binance"
	"github.com/alanyoungcy/quantlab/internal/server/handler"
	"github.com/alanyoungcy/quantlab/internal/store/postgres"
)

// Dependencies bundles the infrastructure the run modes build services
// from. Every backend except the exchange registry is optional; nil fields
// mean the backend is not configured.
type Dependencies struct {
	Postgres *postgres.Client

	// Stores
	Runs     domain.RunStore
	Trades   domain.TradeStore
	Sessions domain.PaperSessionStore
	Events   domain.EventSink // postgres event log

	// Caches
	Bus      domain.EventBus
	BusSink  domain.EventSink
	Progress domain.ProgressCache
	Locks    domain.LockManager
	Limiter  domain.RateLimiter

	// Blob storage
	Blobs           domain.BlobReader
	BacktestArchive domain.ResultArchiver
	PaperArchive    domain.ResultArchiver

	Exchanges domain.ExchangeFactory
	Vault     *crypto.Vault
	Notifier  *notify.Notifier

	// Checks feed the health endpoint.
	Checks map[string]handler.Pinger
}

// needsCache reports whether mode uses Redis and S3. Migrations only need
// the database.
func needsCache(mode string) bool {
	return mode != "migrate"
}

// Wire constructs the configured backends and returns them with a cleanup
// function that releases them in reverse order.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{Checks: make(map[string]handler.Pinger)}

	// --- PostgreSQL ---
	if cfg.Postgres.Enabled {
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.PoolMaxConns,
			MinConns: cfg.Postgres.PoolMinConns,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres: %w", err)
		}
		closers = append(closers, pgClient.Close)
		deps.Postgres = pgClient
		deps.Checks["postgres"] = pgClient.Ping

		if cfg.Postgres.RunMigrations && cfg.Mode != "migrate" {
			if err := pgClient.RunMigrations(ctx); err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
			}
		}

		pool := pgClient.Pool()
		deps.Runs = postgres.NewRunStore(pool)
		deps.Trades = postgres.NewTradeStore(pool)
		deps.Sessions = postgres.NewPaperSessionStore(pool)
		deps.Events = postgres.NewEventStore(pool)
	}

	if !needsCache(cfg.Mode) {
		return deps, cleanup, nil
	}

	// --- Redis ---
	if cfg.Redis.Enabled {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })
		deps.Checks["redis"] = redisClient.Ping

		bus := redis.NewEventBus(redisClient)
		deps.Bus = bus
		deps.BusSink = bus
		deps.Progress = redis.NewProgressCache(redisClient)
		deps.Locks = redis.NewLockManager(redisClient)
		deps.Limiter = redis.NewRateLimiter(redisClient, cfg.Binance.RateLimit, cfg.Binance.RateWindow.Duration)
	}

	// --- S3 blob storage ---
	if cfg.S3.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		if cfg.S3.CreateBucket {
			created, err := s3Client.EnsureBucket(ctx)
			if err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: s3: %w", err)
			}
			if created {
				logger.InfoContext(ctx, "created archive bucket", slog.String("bucket", cfg.S3.Bucket))
			}
		}
		deps.Checks["s3"] = s3Client.Health

		writer := s3blob.NewWriter(s3Client)
		deps.Blobs = s3blob.NewReader(s3Client)
		deps.BacktestArchive = s3blob.NewArchiver(writer, cfg.S3.BacktestPrefix)
		deps.PaperArchive = s3blob.NewArchiver(writer, cfg.S3.PaperPrefix)
	}

	// --- Exchanges ---
	deps.Exchanges = platform.NewRegistry(binance.Options{
		FeeRate:        cfg.Binance.FeeRate,
		Limiter:        deps.Limiter,
		ReconnectDelay: cfg.Binance.ReconnectDelay.Duration,
		Logger:         logger,
	})

	// --- Credential vault ---
	if cfg.Vault.Passphrase != "" {
		v, err := crypto.NewVault(cfg.Vault.Passphrase)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: vault: %w", err)
		}
		deps.Vault = v
	} else if deps.Sessions != nil {
		logger.WarnContext(ctx, "vault passphrase not set; paper-session credentials will not be stored")
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, notify.Options{
		Events:   cfg.Notify.Events,
		Cooldown: cfg.Notify.Cooldown.Duration,
	}, logger)

	return deps, cleanup, nil
}
