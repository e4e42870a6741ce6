package config

import (
	"fmt"

	"github.com/opinionmkt/opiniond/internal/crypto"
)

// ResolveAdminSecret resolves the admin HMAC secret, preferring the inline
// value and falling back to an encrypted key file.
func (s ServerConfig) ResolveAdminSecret() (string, error) {
	if s.AdminSecret != "" {
		return s.AdminSecret, nil
	}
	if s.AdminSecretKeyPath == "" {
		return "", nil
	}
	secret, err := crypto.LoadKey(crypto.KeyConfig{
		EncryptedKeyPath: s.AdminSecretKeyPath,
		KeyPassword:      s.AdminSecretPassword,
	})
	if err != nil {
		return "", fmt.Errorf("config: resolving admin secret: %w", err)
	}
	return secret, nil
}

// RedactedConfig returns a shallow copy of cfg with sensitive fields replaced
// by the redaction placeholder "***". Use this when logging or printing the
// active configuration so secrets are never accidentally exposed.
func RedactedConfig(cfg *Config) Config {
	out := *cfg // shallow copy of the top-level struct

	// Postgres
	out.Postgres = cfg.Postgres
	redact(&out.Postgres.DSN)
	redact(&out.Postgres.Password)

	// Redis
	out.Redis = cfg.Redis
	redact(&out.Redis.Password)

	// S3
	out.S3 = cfg.S3
	redact(&out.S3.AccessKey)
	redact(&out.S3.SecretKey)

	// Server
	out.Server = cfg.Server
	redact(&out.Server.APIKey)
	redact(&out.Server.AdminSecret)
	redact(&out.Server.AdminSecretPassword)

	// Notify
	out.Notify = cfg.Notify
	redact(&out.Notify.TelegramToken)
	redact(&out.Notify.DiscordWebhookURL)

	// Copy slices so callers cannot mutate the original through the redacted
	// copy.
	if cfg.Notify.Events != nil {
		out.Notify.Events = make([]string, len(cfg.Notify.Events))
		copy(out.Notify.Events, cfg.Notify.Events)
	}
	if cfg.Server.CORSOrigins != nil {
		out.Server.CORSOrigins = make([]string, len(cfg.Server.CORSOrigins))
		copy(out.Server.CORSOrigins, cfg.Server.CORSOrigins)
	}
	if cfg.Engine.Categories != nil {
		out.Engine.Categories = make([]string, len(cfg.Engine.Categories))
		copy(out.Engine.Categories, cfg.Engine.Categories)
	}

	return out
}

const redacted = "***"

// redact replaces a non-empty string with the redacted placeholder.
func redact(s *string) {
	if *s != "" {
		*s = redacted
	}
}
