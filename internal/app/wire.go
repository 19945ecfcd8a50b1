package app

import (
	"context"
	"fmt"
	"log/slog"

	s3blob "github.com/alanyoungcy/brokergw/internal/blob/s3"
	"github.com/alanyoungcy/brokergw/internal/brokerage"
	"github.com/alanyoungcy/brokergw/internal/cache/redis"
	"github.com/alanyoungcy/brokergw/internal/config"
	"github.com/alanyoungcy/brokergw/internal/domain"
	"github.com/alanyoungcy/brokergw/internal/eventbus"
	"github.com/alanyoungcy/brokergw/internal/notify"
	"github.com/alanyoungcy/brokergw/internal/server/handler"
	"github.com/alanyoungcy/brokergw/internal/session"
	"github.com/alanyoungcy/brokergw/internal/store/postgres"
)

// Dependencies bundles everything Run needs. Optional backends are nil when
// their section is not configured. It is constructed by Wire and torn down by
// the returned cleanup function.
type Dependencies struct {
	Account   string
	Venue     domain.VenueSession
	Bus       *eventbus.Bus
	Brokerage *brokerage.Brokerage

	// Redis
	RateLimiter domain.RateLimiter
	LockManager domain.LockManager
	SignalBus   domain.SignalBus

	// Postgres
	AuditStore domain.AuditStore
	Journal    domain.ExecutionJournal

	// Object storage
	BlobReader domain.BlobReader
	Archiver   domain.Archiver

	Notifier *notify.Notifier

	// Pingers feed the health check.
	Pingers map[string]handler.Pinger
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	venue, account, err := buildVenue(cfg, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("wire: venue: %w", err)
	}

	deps := &Dependencies{
		Account: account,
		Venue:   venue,
		Bus:     eventbus.New(logger),
		Pingers: make(map[string]handler.Pinger),
	}

	// --- Redis (signal relay, pacing, account lock) ---
	if cfg.Redis.Enabled() {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
			Prefix:     cfg.Redis.Prefix + account + ":",
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.RateLimiter = redis.NewRateLimiter(redisClient)
		deps.LockManager = redis.NewLockManager(redisClient)
		deps.SignalBus = redis.NewSignalBus(redisClient)
		deps.Pingers["redis"] = redisClient
	}

	// --- PostgreSQL (audit log and execution journal) ---
	if cfg.Postgres.Enabled() {
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:            cfg.Postgres.DSN,
			Host:           cfg.Postgres.Host,
			Port:           cfg.Postgres.Port,
			Database:       cfg.Postgres.Database,
			User:           cfg.Postgres.User,
			Password:       cfg.Postgres.Password,
			SSLMode:        cfg.Postgres.SSLMode,
			MaxConns:       cfg.Postgres.PoolMaxConns,
			MinConns:       cfg.Postgres.PoolMinConns,
			ConnectTimeout: cfg.Postgres.ConnectTimeout.Duration,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres: %w", err)
		}
		closers = append(closers, pgClient.Close)

		// Run migrations if enabled.
		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
			}
		}

		pool := pgClient.Pool()
		deps.AuditStore = postgres.NewAuditStore(pool)
		deps.Journal = postgres.NewExecutionStore(pool)
		deps.Pingers["postgres"] = pgClient
	}

	// --- S3 blob storage (shutdown archive) ---
	if cfg.S3.Enabled() {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
			Prefix:         cfg.S3.Prefix,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}

		deps.BlobReader = s3blob.NewReader(s3Client)
		// The archive is audited only when postgres is wired.
		writer := s3blob.NewWriter(s3Client).
			WithMetadata("account", cfg.Venue.Account).
			WithMetadata("mode", cfg.Mode)
		deps.Archiver = s3blob.NewArchiver(writer, deps.AuditStore)
		deps.Pingers["s3"] = s3Client
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
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	// --- Brokerage ---
	opts := brokerage.Options{
		Session: session.Config{
			ConnectTimeout: cfg.Session.ConnectTimeout.Duration,
			BaseDelay:      cfg.Session.BaseDelay.Duration,
			MaxDelay:       cfg.Session.MaxDelay.Duration,
			MaxAttempts:    cfg.Session.MaxAttempts,
		},
		Retention:       cfg.Identity.Retention.Duration,
		CleanupInterval: cfg.Identity.CleanupInterval.Duration,
		BaseCurrency:    baseCurrency(cfg),
	}
	if cfg.Pacing.Enabled && deps.RateLimiter != nil {
		opts.Pacing = &brokerage.Pacing{
			Limiter: deps.RateLimiter,
			Key:     "orders",
			Limit:   cfg.Pacing.Limit,
			Window:  cfg.Pacing.Window.Duration,
		}
	}
	deps.Brokerage = brokerage.New(venue, deps.Bus, opts, logger)

	return deps, cleanup, nil
}
