package app

import (
	"context"
	"fmt"
	"log/slog"

	s3blob "github.com/alanyoungcy/quadpoll/internal/blob/s3"
	"github.com/alanyoungcy/quadpoll/internal/cache/redis"
	"github.com/alanyoungcy/quadpoll/internal/config"
	"github.com/alanyoungcy/quadpoll/internal/domain"
	"github.com/alanyoungcy/quadpoll/internal/notify"
	"github.com/alanyoungcy/quadpoll/internal/store/postgres"
	"github.com/alanyoungcy/quadpoll/internal/token"
)

// Dependencies bundles the adapters the modes run on. Optional stores are
// nil when their backend is disabled.
type Dependencies struct {
	// Stores
	Journal  domain.JournalStore
	Recorder domain.Recorder
	Audit    domain.AuditStore

	// Redis
	SignalBus   domain.SignalBus
	LockManager domain.LockManager
	RateLimiter domain.RateLimiter

	// Settlement token
	Tokens domain.TokenLedger
	Minter domain.TokenMinter

	// Blob storage
	BlobWriter domain.BlobWriter
	BlobReader domain.BlobReader

	// Operator alerts
	Notifier *notify.Notifier
}

// Wire constructs the adapters cfg enables and returns them together with a
// cleanup function that releases them in reverse order.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

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

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
			}
		}

		pool := pgClient.Pool()
		journal := postgres.NewJournalStore(pool)
		deps.Journal, deps.Recorder = journal, journal
		deps.Audit = postgres.NewAuditStore(pool)
		logger.InfoContext(ctx, "wire: postgres ready")
	}

	// --- Redis ---
	var redisClient *redis.Client
	if cfg.Redis.Enabled {
		c, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
			KeyPrefix:  cfg.Redis.KeyPrefix,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = c.Close() })
		redisClient = c

		deps.SignalBus = redis.NewSignalBus(c, 0)
		deps.LockManager = redis.NewLockManager(c)
		deps.RateLimiter = redis.NewRateLimiter(c)
		logger.InfoContext(ctx, "wire: redis ready", slog.String("addr", cfg.Redis.Addr))
	}

	// --- Settlement token ---
	switch cfg.Token.Backend {
	case "redis":
		if redisClient == nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: token backend redis needs redis.enabled")
		}
		ledger := redis.NewTokenLedger(redisClient)
		deps.Tokens, deps.Minter = ledger, ledger
	default:
		ledger := token.NewLedger()
		deps.Tokens, deps.Minter = ledger, ledger
	}

	// --- S3 blob storage (archiving processes only) ---
	if cfg.ArchiveEnabled() {
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
		if err := s3Client.Health(ctx); err != nil {
			logger.WarnContext(ctx, "wire: s3 bucket not reachable yet",
				slog.String("bucket", cfg.S3.Bucket),
				slog.String("error", err.Error()),
			)
		}
		deps.BlobWriter = s3blob.NewWriter(s3Client)
		deps.BlobReader = s3blob.NewReader(s3Client)
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	return deps, cleanup, nil
}
