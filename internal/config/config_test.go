package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"cosmossdk.io/math"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultsAreValid(t *testing.T) {
	cfg := Defaults()
	require.NoError(t, cfg.Validate())
	assert.True(t, cfg.ServesAPI())
	assert.False(t, cfg.ArchiveEnabled())

	rep, err := cfg.Engine.ReputationParams()
	require.NoError(t, err)
	assert.Equal(t, uint64(10), rep.VoteReward)
	assert.Equal(t, 30*24*time.Hour, rep.DecayPeriod)
	assert.True(t, rep.DecayRate.Equal(math.LegacyNewDecWithPrec(5, 2)))

	p, err := cfg.Engine.PricingParams()
	require.NoError(t, err)
	assert.True(t, p.BasePrice.Equal(math.LegacyNewDecWithPrec(1, 1)))
	assert.Equal(t, int64(100), p.VirtualLiquidity)
}

func TestValidateAggregatesProblems(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "trade"
	cfg.LogLevel = "verbose"
	cfg.Engine.EscrowAddress = "escrow"
	cfg.Engine.DecayRate = "1.5"
	cfg.Engine.Pricing.Slope = "steep"
	cfg.Token.Backend = "redis"
	cfg.Notify.TelegramToken = "tok"
	cfg.Server.RequireSignatures = true

	err := cfg.Validate()
	require.Error(t, err)
	for _, want := range []string{
		`unknown mode "trade"`,
		`unknown log_level "verbose"`,
		"escrow_address",
		"decay rate",
		"slope",
		"requires redis.enabled",
		"telegram_token and telegram_chat_id",
	} {
		assert.Contains(t, err.Error(), want)
	}
}

func TestSharedTokenLedgerRequiresSignatures(t *testing.T) {
	cfg := Defaults()
	cfg.Redis.Enabled = true
	cfg.Token.Backend = "redis"

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "require_signatures must be set when token.backend is redis")

	cfg.Server.RequireSignatures = true
	require.NoError(t, cfg.Validate())

	cfg.Redis.Enabled = false
	err = cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "require_signatures needs redis.enabled")

	archiveOnly := Defaults()
	archiveOnly.Mode = "archive"
	archiveOnly.Postgres.Enabled = true
	archiveOnly.Redis.Enabled = true
	archiveOnly.Token.Backend = "redis"
	assert.NoError(t, archiveOnly.Validate(), "no API, no identity to forge")
}

func TestArchiveModeRequirements(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "archive"
	cfg.S3.Bucket = ""
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "s3: bucket")
	assert.Contains(t, err.Error(), "requires postgres.enabled")

	cfg.S3.Bucket = "b"
	cfg.Postgres.Enabled = true
	require.NoError(t, cfg.Validate())
	assert.True(t, cfg.ArchiveEnabled())
	assert.False(t, cfg.ServesAPI())
}

func TestLoadMergesFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "quadpoll.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
mode = "server"

[engine]
vote_reward = 25
decay_period = "168h"

[engine.pricing]
base_price = "0.25"

[server]
port = 9090
require_signatures = true
`), 0o600))

	t.Setenv("QUADPOLL_SERVER_PORT", "9191")
	t.Setenv("QUADPOLL_SERVER_CORS_ORIGINS", "https://a.example, https://b.example")
	t.Setenv("QUADPOLL_REDIS_ENABLED", "true")
	t.Setenv("QUADPOLL_POSTGRES_PASSWORD", "s3cret")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "server", cfg.Mode)
	assert.Equal(t, uint64(25), cfg.Engine.VoteReward)
	assert.Equal(t, 168*time.Hour, cfg.Engine.DecayPeriod.Duration)
	assert.Equal(t, "0.25", cfg.Engine.Pricing.BasePrice)
	assert.Equal(t, "1", cfg.Engine.Pricing.Slope, "unset keys keep defaults")
	assert.Equal(t, 9191, cfg.Server.Port)
	assert.True(t, cfg.Server.RequireSignatures)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Server.CORSOrigins)
	assert.True(t, cfg.Redis.Enabled)
	assert.Equal(t, "s3cret", cfg.Postgres.Password)
}

func TestLoadRejectsMalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.toml")
	require.NoError(t, os.WriteFile(path, []byte("mode = "), 0o600))
	_, err := Load(path)
	assert.Error(t, err)
}

func TestRedactedConfig(t *testing.T) {
	cfg := Defaults()
	cfg.Postgres.Password = "pw"
	cfg.Server.APIKey = "key"
	cfg.S3.SecretKey = "sk"
	cfg.Notify.DiscordWebhookURL = "https://discord.example/hook"

	out := RedactedConfig(&cfg)
	assert.Equal(t, "***", out.Postgres.Password)
	assert.Equal(t, "***", out.Server.APIKey)
	assert.Equal(t, "***", out.S3.SecretKey)
	assert.Equal(t, "***", out.Notify.DiscordWebhookURL)
	assert.Empty(t, out.Redis.Password, "empty values stay empty")
	assert.Equal(t, "pw", cfg.Postgres.Password, "original untouched")

	out.Server.CORSOrigins[0] = "changed"
	assert.NotEqual(t, "changed", cfg.Server.CORSOrigins[0])
}
