package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies OPINIOND_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known OPINIOND_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Engine ──
	setStr(&cfg.Engine.TreasuryAddress, "OPINIOND_ENGINE_TREASURY_ADDRESS")
	setStr(&cfg.Engine.AdminAddress, "OPINIOND_ENGINE_ADMIN_ADDRESS")
	setDuration(&cfg.Engine.BlockWindow, "OPINIOND_ENGINE_BLOCK_WINDOW")
	setUint64(&cfg.Engine.PlatformFeeBps, "OPINIOND_ENGINE_PLATFORM_FEE_BPS")
	setUint64(&cfg.Engine.CreatorFeeBps, "OPINIOND_ENGINE_CREATOR_FEE_BPS")
	setBool(&cfg.Engine.PublicCreationEnabled, "OPINIOND_ENGINE_PUBLIC_CREATION_ENABLED")
	setUint64(&cfg.Engine.CreationFeeBps, "OPINIOND_ENGINE_CREATION_FEE_BPS")
	setUint64(&cfg.Engine.MinCreationFee, "OPINIOND_ENGINE_MIN_CREATION_FEE")
	setUint64(&cfg.Engine.MinimumPrice, "OPINIOND_ENGINE_MINIMUM_PRICE")
	setUint64(&cfg.Engine.AbsoluteMaxPriceChangePct, "OPINIOND_ENGINE_ABSOLUTE_MAX_PRICE_CHANGE_PCT")
	setUint64(&cfg.Engine.CompetitiveMinBandBps, "OPINIOND_ENGINE_COMPETITIVE_MIN_BAND_BPS")
	setUint64(&cfg.Engine.CompetitiveMaxBandBps, "OPINIOND_ENGINE_COMPETITIVE_MAX_BAND_BPS")
	setDuration(&cfg.Engine.CompetitionWindow, "OPINIOND_ENGINE_COMPETITION_WINDOW")
	setUint32(&cfg.Engine.MaxTradesPerBlock, "OPINIOND_ENGINE_MAX_TRADES_PER_BLOCK")
	setUint64(&cfg.Engine.PoolCreationFee, "OPINIOND_ENGINE_POOL_CREATION_FEE")
	setDuration(&cfg.Engine.MinPoolDuration, "OPINIOND_ENGINE_MIN_POOL_DURATION")
	setDuration(&cfg.Engine.MaxPoolDuration, "OPINIOND_ENGINE_MAX_POOL_DURATION")
	setUint64(&cfg.Engine.MinimumContribution, "OPINIOND_ENGINE_MINIMUM_CONTRIBUTION")
	setUint64(&cfg.Engine.CompletionToleranceBps, "OPINIOND_ENGINE_COMPLETION_TOLERANCE_BPS")
	setUint64(&cfg.Engine.EarlyWithdrawPenaltyBps, "OPINIOND_ENGINE_EARLY_WITHDRAW_PENALTY_BPS")
	setStringSlice(&cfg.Engine.Categories, "OPINIOND_ENGINE_CATEGORIES")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "OPINIOND_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "OPINIOND_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "OPINIOND_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "OPINIOND_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "OPINIOND_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "OPINIOND_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "OPINIOND_POSTGRES_SSLMODE")
	setInt(&cfg.Postgres.PoolMaxConns, "OPINIOND_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "OPINIOND_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "OPINIOND_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "OPINIOND_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "OPINIOND_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "OPINIOND_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "OPINIOND_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "OPINIOND_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "OPINIOND_REDIS_TLS_ENABLED")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "OPINIOND_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "OPINIOND_S3_REGION")
	setStr(&cfg.S3.Bucket, "OPINIOND_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "OPINIOND_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "OPINIOND_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "OPINIOND_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "OPINIOND_S3_FORCE_PATH_STYLE")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "OPINIOND_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "OPINIOND_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "OPINIOND_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "OPINIOND_SERVER_API_KEY")
	setBool(&cfg.Server.RequireWalletSig, "OPINIOND_SERVER_REQUIRE_WALLET_SIG")
	setStr(&cfg.Server.AdminKey, "OPINIOND_SERVER_ADMIN_KEY")
	setStr(&cfg.Server.AdminSecret, "OPINIOND_SERVER_ADMIN_SECRET")
	setStr(&cfg.Server.AdminSecretKeyPath, "OPINIOND_SERVER_ADMIN_SECRET_KEY_PATH")
	setStr(&cfg.Server.AdminSecretPassword, "OPINIOND_SERVER_ADMIN_SECRET_PASSWORD")
	setInt(&cfg.Server.RateLimit, "OPINIOND_SERVER_RATE_LIMIT")
	setDuration(&cfg.Server.RateLimitWindow, "OPINIOND_SERVER_RATE_LIMIT_WINDOW")

	// ── Archive ──
	setBool(&cfg.Archive.Enabled, "OPINIOND_ARCHIVE_ENABLED")
	setInt(&cfg.Archive.RetentionDays, "OPINIOND_ARCHIVE_RETENTION_DAYS")
	setStr(&cfg.Archive.Cron, "OPINIOND_ARCHIVE_CRON")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "OPINIOND_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "OPINIOND_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "OPINIOND_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "OPINIOND_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "OPINIOND_MODE")
	setStr(&cfg.LogLevel, "OPINIOND_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

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

func setUint64(dst *uint64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setUint32(dst *uint32, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseUint(v, 10, 32); err == nil {
			*dst = uint32(n)
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
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
