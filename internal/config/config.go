// Package config defines the quadpoll configuration and its validation.
package config

import (
	"fmt"
	"strings"
	"time"

	"cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/quadpoll/internal/pricing"
	"github.com/alanyoungcy/quadpoll/internal/reputation"
)

// Config is the root configuration structure. Fields are populated from a
// TOML file and then optionally overridden by QUADPOLL_* environment
// variables.
type Config struct {
	Engine   EngineConfig   `toml:"engine"`
	Token    TokenConfig    `toml:"token"`
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Archive  ArchiveConfig  `toml:"archive"`
	Server   ServerConfig   `toml:"server"`
	Notify   NotifyConfig   `toml:"notify"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// EngineConfig holds the escrow account and the voting and market
// parameters. Decimals are strings so they keep full precision.
type EngineConfig struct {
	EscrowAddress string        `toml:"escrow_address"`
	VoteReward    uint64        `toml:"vote_reward"`
	DecayPeriod   duration      `toml:"decay_period"`
	DecayRate     string        `toml:"decay_rate"`
	Pricing       PricingConfig `toml:"pricing"`
}

// PricingConfig holds the bonding-curve parameters.
type PricingConfig struct {
	BasePrice        string `toml:"base_price"`
	Slope            string `toml:"slope"`
	VirtualLiquidity int64  `toml:"virtual_liquidity"`
	MinAdjustedPrice string `toml:"min_adjusted_price"`
	MaxTradeShares   int64  `toml:"max_trade_shares"`
}

// TokenConfig selects the settlement-token backend.
type TokenConfig struct {
	// Backend is "memory" or "redis".
	Backend string `toml:"backend"`
	// FaucetAmount is the whole-token amount the development faucet mints.
	FaucetAmount int64 `toml:"faucet_amount"`
}

// PostgresConfig holds the journal and audit database parameters.
type PostgresConfig struct {
	Enabled       bool   `toml:"enabled"`
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Enabled    bool   `toml:"enabled"`
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
	KeyPrefix  string `toml:"key_prefix"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
	Prefix         string `toml:"prefix"`
}

// ArchiveConfig schedules the snapshot archiver.
type ArchiveConfig struct {
	Enabled bool     `toml:"enabled"`
	Cron    string   `toml:"cron"`
	LockTTL duration `toml:"lock_ttl"`
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Port              int      `toml:"port"`
	CORSOrigins       []string `toml:"cors_origins"`
	APIKey            string   `toml:"api_key"`
	RequireSignatures bool     `toml:"require_signatures"`
	SignatureMaxSkew  duration `toml:"signature_max_skew"`
	RateLimit         int      `toml:"rate_limit"`
	RateWindow        duration `toml:"rate_window"`
	DevFaucet         bool     `toml:"dev_faucet"`
}

// NotifyConfig holds operator alert channels. Channels with empty
// credentials stay off.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// duration is a wrapper around time.Duration that supports TOML string
// decoding (e.g. "5m", "720h").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with development defaults: an
// in-memory token ledger, no external stores, and the standard reputation
// and pricing parameters.
func Defaults() Config {
	return Config{
		Engine: EngineConfig{
			EscrowAddress: "0x000000000000000000000000000000000000e5c0",
			VoteReward:    10,
			DecayPeriod:   duration{30 * 24 * time.Hour},
			DecayRate:     "0.05",
			Pricing: PricingConfig{
				BasePrice:        "0.1",
				Slope:            "1",
				VirtualLiquidity: 100,
				MinAdjustedPrice: "0.000001",
				MaxTradeShares:   1000,
			},
		},
		Token: TokenConfig{
			Backend:      "memory",
			FaucetAmount: 1000,
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "quadpoll",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			PoolSize:   20,
			MaxRetries: 3,
			KeyPrefix:  "quadpoll:",
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "quadpoll-archive",
			ForcePathStyle: true,
		},
		Archive: ArchiveConfig{
			Cron:    "0 */15 * * * *",
			LockTTL: duration{10 * time.Minute},
		},
		Server: ServerConfig{
			Port:             8000,
			CORSOrigins:      []string{"http://localhost:3000", "http://localhost:5173"},
			SignatureMaxSkew: duration{5 * time.Minute},
			RateLimit:        120,
			RateWindow:       duration{time.Minute},
		},
		Mode:     "full",
		LogLevel: "info",
	}
}

// Escrow returns the parsed escrow address.
func (e EngineConfig) Escrow() common.Address {
	return common.HexToAddress(e.EscrowAddress)
}

// ReputationParams converts the reputation settings.
func (e EngineConfig) ReputationParams() (reputation.Params, error) {
	rate, err := math.LegacyNewDecFromStr(strings.TrimSpace(e.DecayRate))
	if err != nil {
		return reputation.Params{}, fmt.Errorf("engine: decay_rate %q: %w", e.DecayRate, err)
	}
	p := reputation.Params{
		VoteReward:  e.VoteReward,
		DecayPeriod: e.DecayPeriod.Duration,
		DecayRate:   rate,
	}
	return p, p.Validate()
}

// PricingParams converts the bonding-curve settings.
func (e EngineConfig) PricingParams() (pricing.Params, error) {
	var errs []string
	dec := func(name, s string) math.LegacyDec {
		d, err := math.LegacyNewDecFromStr(strings.TrimSpace(s))
		if err != nil {
			errs = append(errs, fmt.Sprintf("%s %q: %v", name, s, err))
			return math.LegacyZeroDec()
		}
		return d
	}
	p := pricing.Params{
		BasePrice:        dec("base_price", e.Pricing.BasePrice),
		Slope:            dec("slope", e.Pricing.Slope),
		VirtualLiquidity: e.Pricing.VirtualLiquidity,
		MinAdjustedPrice: dec("min_adjusted_price", e.Pricing.MinAdjustedPrice),
		MaxTradeShares:   e.Pricing.MaxTradeShares,
	}
	if len(errs) > 0 {
		return pricing.Params{}, fmt.Errorf("engine.pricing: %s", strings.Join(errs, "; "))
	}
	if err := p.Validate(); err != nil {
		return pricing.Params{}, fmt.Errorf("engine.pricing: %w", err)
	}
	return p, nil
}

// ArchiveEnabled reports whether this process runs the archiver.
func (c *Config) ArchiveEnabled() bool {
	return c.Mode == "archive" || (c.Mode == "full" && c.Archive.Enabled)
}

// ServesAPI reports whether this process serves HTTP.
func (c *Config) ServesAPI() bool {
	return c.Mode == "server" || c.Mode == "full"
}

var validModes = map[string]bool{
	"server":  true,
	"archive": true,
	"full":    true,
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	c.Mode = strings.ToLower(strings.TrimSpace(c.Mode))
	if !validModes[c.Mode] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: server, archive, full)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Engine
	if !common.IsHexAddress(c.Engine.EscrowAddress) {
		errs = append(errs, fmt.Sprintf("engine: escrow_address %q is not a hex address", c.Engine.EscrowAddress))
	} else if c.Engine.Escrow() == (common.Address{}) {
		errs = append(errs, "engine: escrow_address must not be the zero address")
	}
	if _, err := c.Engine.ReputationParams(); err != nil {
		errs = append(errs, err.Error())
	}
	if _, err := c.Engine.PricingParams(); err != nil {
		errs = append(errs, strings.ReplaceAll(err.Error(), "\n", "; "))
	}

	// Token
	switch c.Token.Backend {
	case "memory":
	case "redis":
		if !c.Redis.Enabled {
			errs = append(errs, "token: backend redis requires redis.enabled")
		}
	default:
		errs = append(errs, fmt.Sprintf("token: unknown backend %q (valid: memory, redis)", c.Token.Backend))
	}
	if c.Server.DevFaucet && c.Token.FaucetAmount <= 0 {
		errs = append(errs, "token: faucet_amount must be > 0 when server.dev_faucet is set")
	}

	// Postgres
	if c.Postgres.Enabled {
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Host == "" {
				errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
			}
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
			}
			if c.Postgres.Database == "" {
				errs = append(errs, "postgres: database must not be empty")
			}
		}
		if c.Postgres.PoolMaxConns < 1 {
			errs = append(errs, "postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns < 0 || c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must be between 0 and pool_max_conns")
		}
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}

	// Archive
	if c.ArchiveEnabled() {
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty when archiving")
		}
		if c.S3.Region == "" {
			errs = append(errs, "s3: region must not be empty when archiving")
		}
		if strings.TrimSpace(c.Archive.Cron) == "" {
			errs = append(errs, "archive: cron must not be empty")
		}
		if !c.Postgres.Enabled {
			errs = append(errs, "archive: requires postgres.enabled to restore poll state")
		}
	}

	// Server
	if c.ServesAPI() {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if c.Server.RequireSignatures && c.Server.SignatureMaxSkew.Duration <= 0 {
			errs = append(errs, "server: signature_max_skew must be > 0 when require_signatures is set")
		}
		// A shared token ledger requires signed identity.
		if c.Token.Backend == "redis" && !c.Server.RequireSignatures {
			errs = append(errs, "server: require_signatures must be set when token.backend is redis")
		}
		if c.Server.RequireSignatures && !c.Redis.Enabled {
			errs = append(errs, "server: require_signatures needs redis.enabled for request nonces")
		}
		if c.Server.RateLimit > 0 && c.Server.RateWindow.Duration <= 0 {
			errs = append(errs, "server: rate_window must be > 0 when rate_limit is set")
		}
	}

	// Notify
	if (c.Notify.TelegramToken == "") != (c.Notify.TelegramChatID == "") {
		errs = append(errs, "notify: telegram_token and telegram_chat_id must be set together")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
