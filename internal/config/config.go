// Package config defines the top-level configuration for the opinion market
// daemon and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/opinionmkt/opiniond/internal/engine"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by OPINIOND_* environment variables.
type Config struct {
	Engine   EngineConfig   `toml:"engine"`
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Server   ServerConfig   `toml:"server"`
	Archive  ArchiveConfig  `toml:"archive"`
	Notify   NotifyConfig   `toml:"notify"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// EngineConfig holds the engine's bootstrap accounts and tunable parameters.
// Monetary values are 6-decimal fixed-point integers; percentages are basis
// points unless named otherwise.
type EngineConfig struct {
	TreasuryAddress string `toml:"treasury_address"`
	AdminAddress    string `toml:"admin_address"`

	// BlockWindow is the wall-clock span mapped to one trade-throttling
	// block.
	BlockWindow duration `toml:"block_window"`

	PlatformFeeBps uint64 `toml:"platform_fee_bps"`
	CreatorFeeBps  uint64 `toml:"creator_fee_bps"`

	PublicCreationEnabled bool   `toml:"public_creation_enabled"`
	CreationFeeBps        uint64 `toml:"creation_fee_bps"`
	MinCreationFee        uint64 `toml:"min_creation_fee"`

	MinimumPrice              uint64   `toml:"minimum_price"`
	AbsoluteMaxPriceChangePct uint64   `toml:"absolute_max_price_change_pct"`
	CompetitiveMinBandBps     uint64   `toml:"competitive_min_band_bps"`
	CompetitiveMaxBandBps     uint64   `toml:"competitive_max_band_bps"`
	CompetitionWindow         duration `toml:"competition_window"`
	MaxTradesPerBlock         uint32   `toml:"max_trades_per_block"`

	PoolCreationFee         uint64   `toml:"pool_creation_fee"`
	MinPoolDuration         duration `toml:"min_pool_duration"`
	MaxPoolDuration         duration `toml:"max_pool_duration"`
	MinimumContribution     uint64   `toml:"minimum_contribution"`
	CompletionToleranceBps  uint64   `toml:"completion_tolerance_bps"`
	EarlyWithdrawPenaltyBps uint64   `toml:"early_withdraw_penalty_bps"`

	Categories []string `toml:"categories"`
}

// Params converts the configured values into an engine parameter set,
// falling back to the engine defaults for the text limits (which are not
// operator-tunable through configuration).
func (e EngineConfig) Params() engine.Params {
	p := engine.DefaultParams()
	p.PlatformFeeBps = e.PlatformFeeBps
	p.CreatorFeeBps = e.CreatorFeeBps
	p.PublicCreationEnabled = e.PublicCreationEnabled
	p.CreationFeeBps = e.CreationFeeBps
	p.MinCreationFee = e.MinCreationFee
	p.MinimumPrice = e.MinimumPrice
	p.AbsoluteMaxPriceChangePct = e.AbsoluteMaxPriceChangePct
	p.CompetitiveMinBandBps = e.CompetitiveMinBandBps
	p.CompetitiveMaxBandBps = e.CompetitiveMaxBandBps
	p.CompetitionWindow = e.CompetitionWindow.Duration
	p.MaxTradesPerBlock = e.MaxTradesPerBlock
	p.PoolCreationFee = e.PoolCreationFee
	p.MinPoolDuration = e.MinPoolDuration.Duration
	p.MaxPoolDuration = e.MaxPoolDuration.Duration
	p.MinimumContribution = e.MinimumContribution
	p.CompletionToleranceBps = e.CompletionToleranceBps
	p.EarlyWithdrawPenaltyBps = e.EarlyWithdrawPenaltyBps
	if len(e.Categories) > 0 {
		p.Categories = e.Categories
	}
	return p
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
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
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds S3-compatible object storage parameters for cold archives.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	APIKey      string   `toml:"api_key"`

	// RequireWalletSig makes mutating requests prove control of the caller
	// address with a signature over the request body.
	RequireWalletSig bool `toml:"require_wallet_sig"`

	// AdminKey/AdminSecret secure the privileged route group with
	// HMAC-signed requests. Both empty disables the extra check.
	AdminKey    string `toml:"admin_key"`
	AdminSecret string `toml:"admin_secret"`

	// AdminSecretKeyPath points to an encrypted key file holding the admin
	// secret; AdminSecretPassword decrypts it. Used instead of admin_secret
	// when the secret must not live in the config file.
	AdminSecretKeyPath  string `toml:"admin_secret_key_path"`
	AdminSecretPassword string `toml:"admin_secret_password"`

	RateLimit       int      `toml:"rate_limit"`
	RateLimitWindow duration `toml:"rate_limit_window"`
}

// ArchiveConfig holds journal/history archival parameters.
type ArchiveConfig struct {
	Enabled       bool   `toml:"enabled"`
	RetentionDays int    `toml:"retention_days"`
	Cron          string `toml:"cron"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// duration is a wrapper around time.Duration that supports TOML string
// decoding (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	p := engine.DefaultParams()
	return Config{
		Engine: EngineConfig{
			BlockWindow:               duration{12 * time.Second},
			PlatformFeeBps:            p.PlatformFeeBps,
			CreatorFeeBps:             p.CreatorFeeBps,
			PublicCreationEnabled:     p.PublicCreationEnabled,
			CreationFeeBps:            p.CreationFeeBps,
			MinCreationFee:            p.MinCreationFee,
			MinimumPrice:              p.MinimumPrice,
			AbsoluteMaxPriceChangePct: p.AbsoluteMaxPriceChangePct,
			CompetitiveMinBandBps:     p.CompetitiveMinBandBps,
			CompetitiveMaxBandBps:     p.CompetitiveMaxBandBps,
			CompetitionWindow:         duration{p.CompetitionWindow},
			MaxTradesPerBlock:         p.MaxTradesPerBlock,
			PoolCreationFee:           p.PoolCreationFee,
			MinPoolDuration:           duration{p.MinPoolDuration},
			MaxPoolDuration:           duration{p.MaxPoolDuration},
			MinimumContribution:       p.MinimumContribution,
			CompletionToleranceBps:    p.CompletionToleranceBps,
			EarlyWithdrawPenaltyBps:   p.EarlyWithdrawPenaltyBps,
			Categories:                p.Categories,
		},
		Postgres: PostgresConfig{
			DSN:           "",
			Host:          "localhost",
			Port:          5432,
			Database:      "opiniond",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			DB:         0,
			PoolSize:   20,
			MaxRetries: 3,
			TLSEnabled: false,
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "opiniond-archive",
			UseSSL:         false,
			ForcePathStyle: true,
		},
		Server: ServerConfig{
			Enabled:         true,
			Port:            8000,
			CORSOrigins:     []string{"http://localhost:3000", "http://localhost:5173"},
			RateLimit:       60,
			RateLimitWindow: duration{time.Minute},
		},
		Archive: ArchiveConfig{
			Enabled:       false,
			RetentionDays: 90,
			Cron:          "0 3 1 * *",
		},
		Notify: NotifyConfig{
			Events: []string{"pool_executed", "pool_expired", "engine_paused", "engine_unpaused"},
		},
		Mode:     "serve",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"serve":   true,
	"replay":  true,
	"archive": true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	// Mode
	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: serve, replay, archive)", c.Mode))
	}

	// LogLevel
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Engine — bootstrap accounts must be valid addresses.
	if !common.IsHexAddress(c.Engine.TreasuryAddress) {
		errs = append(errs, fmt.Sprintf("engine: treasury_address %q is not a valid address", c.Engine.TreasuryAddress))
	}
	if !common.IsHexAddress(c.Engine.AdminAddress) {
		errs = append(errs, fmt.Sprintf("engine: admin_address %q is not a valid address", c.Engine.AdminAddress))
	}
	if c.Engine.BlockWindow.Duration <= 0 {
		errs = append(errs, "engine: block_window must be positive")
	}
	if err := c.Engine.Params().Validate(); err != nil {
		errs = append(errs, err.Error())
	}

	// Postgres
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
	if c.Postgres.PoolMinConns < 0 {
		errs = append(errs, "postgres: pool_min_conns must be >= 0")
	}
	if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
		errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
	}

	// Redis
	if c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}
	if c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}

	// S3 — required only when archival runs.
	if c.Archive.Enabled || c.Mode == "archive" {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty when archival is enabled")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty when archival is enabled")
		}
		if c.Archive.RetentionDays < 1 {
			errs = append(errs, "archive: retention_days must be >= 1")
		}
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if c.Server.RateLimit < 0 {
			errs = append(errs, "server: rate_limit must be >= 0")
		}
		if c.Server.RateLimit > 0 && c.Server.RateLimitWindow.Duration <= 0 {
			errs = append(errs, "server: rate_limit_window must be positive when rate_limit is set")
		}
		ak := c.Server.AdminKey != ""
		as := c.Server.AdminSecret != "" || c.Server.AdminSecretKeyPath != ""
		if ak != as {
			errs = append(errs, "server: admin_key and an admin secret source must be set together")
		}
		if c.Server.AdminSecretKeyPath != "" && c.Server.AdminSecretPassword == "" {
			errs = append(errs, "server: admin_secret_password is required when admin_secret_key_path is set")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
