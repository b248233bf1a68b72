package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load merges the TOML file at path (skipped when path is empty) on top of
// Defaults, loads .env if present, and applies QUADPOLL_* environment
// overrides. The result is not validated.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}

	applyEnvOverrides(&cfg)
	return &cfg, nil
}

// applyEnvOverrides overwrites fields whose QUADPOLL_* variable is set, so
// secrets can be injected at deploy time.
func applyEnvOverrides(cfg *Config) {
	// ── Engine ──
	setStr(&cfg.Engine.EscrowAddress, "QUADPOLL_ENGINE_ESCROW_ADDRESS")
	setUint64(&cfg.Engine.VoteReward, "QUADPOLL_ENGINE_VOTE_REWARD")
	setDuration(&cfg.Engine.DecayPeriod, "QUADPOLL_ENGINE_DECAY_PERIOD")
	setStr(&cfg.Engine.DecayRate, "QUADPOLL_ENGINE_DECAY_RATE")
	setStr(&cfg.Engine.Pricing.BasePrice, "QUADPOLL_ENGINE_PRICING_BASE_PRICE")
	setStr(&cfg.Engine.Pricing.Slope, "QUADPOLL_ENGINE_PRICING_SLOPE")
	setInt64(&cfg.Engine.Pricing.VirtualLiquidity, "QUADPOLL_ENGINE_PRICING_VIRTUAL_LIQUIDITY")
	setInt64(&cfg.Engine.Pricing.MaxTradeShares, "QUADPOLL_ENGINE_PRICING_MAX_TRADE_SHARES")

	// ── Token ──
	setStr(&cfg.Token.Backend, "QUADPOLL_TOKEN_BACKEND")
	setInt64(&cfg.Token.FaucetAmount, "QUADPOLL_TOKEN_FAUCET_AMOUNT")

	// ── Postgres ──
	setBool(&cfg.Postgres.Enabled, "QUADPOLL_POSTGRES_ENABLED")
	setStr(&cfg.Postgres.DSN, "QUADPOLL_POSTGRES_DSN")
	setStr(&cfg.Postgres.DSN, "DATABASE_URL")
	setStr(&cfg.Postgres.Host, "QUADPOLL_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "QUADPOLL_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "QUADPOLL_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "QUADPOLL_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "QUADPOLL_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "QUADPOLL_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "QUADPOLL_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "QUADPOLL_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "QUADPOLL_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "QUADPOLL_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "QUADPOLL_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "QUADPOLL_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "QUADPOLL_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "QUADPOLL_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "QUADPOLL_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "QUADPOLL_REDIS_TLS_ENABLED")
	setStr(&cfg.Redis.KeyPrefix, "QUADPOLL_REDIS_KEY_PREFIX")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "QUADPOLL_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "QUADPOLL_S3_REGION")
	setStr(&cfg.S3.Bucket, "QUADPOLL_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "QUADPOLL_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "QUADPOLL_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "QUADPOLL_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "QUADPOLL_S3_FORCE_PATH_STYLE")
	setStr(&cfg.S3.Prefix, "QUADPOLL_S3_PREFIX")

	// ── Archive ──
	setBool(&cfg.Archive.Enabled, "QUADPOLL_ARCHIVE_ENABLED")
	setStr(&cfg.Archive.Cron, "QUADPOLL_ARCHIVE_CRON")
	setDuration(&cfg.Archive.LockTTL, "QUADPOLL_ARCHIVE_LOCK_TTL")

	// ── Server ──
	setInt(&cfg.Server.Port, "QUADPOLL_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "QUADPOLL_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "QUADPOLL_SERVER_API_KEY")
	setBool(&cfg.Server.RequireSignatures, "QUADPOLL_SERVER_REQUIRE_SIGNATURES")
	setDuration(&cfg.Server.SignatureMaxSkew, "QUADPOLL_SERVER_SIGNATURE_MAX_SKEW")
	setInt(&cfg.Server.RateLimit, "QUADPOLL_SERVER_RATE_LIMIT")
	setDuration(&cfg.Server.RateWindow, "QUADPOLL_SERVER_RATE_WINDOW")
	setBool(&cfg.Server.DevFaucet, "QUADPOLL_SERVER_DEV_FAUCET")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "QUADPOLL_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "QUADPOLL_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "QUADPOLL_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "QUADPOLL_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "QUADPOLL_MODE")
	setStr(&cfg.LogLevel, "QUADPOLL_LOG_LEVEL")
}

// Typed env-var helpers. Each only mutates the target when the variable is
// present, non-empty and parses.

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setUint64(dst *uint64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	var cleaned []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			cleaned = append(cleaned, p)
		}
	}
	if len(cleaned) > 0 {
		*dst = cleaned
	}
}
