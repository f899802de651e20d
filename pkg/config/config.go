// Package config loads the server configuration from a YAML file with
// environment-variable overrides for the values that differ per
// deployment.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// WebhookConfig describes the persistence sink: an HTTP endpoint that
// receives debounced document snapshots.
type WebhookConfig struct {
	URL    string `yaml:"url" validate:"omitempty,url"`
	Secret string `yaml:"secret"`

	DebounceMs    int `yaml:"debounce_ms" validate:"gt=0"`
	MaxDebounceMs int `yaml:"max_debounce_ms" validate:"gtefield=DebounceMs"`
	RetryMs       int `yaml:"retry_ms" validate:"gt=0"`
}

// Debounce returns the quiet period before a flush.
func (c WebhookConfig) Debounce() time.Duration {
	return time.Duration(c.DebounceMs) * time.Millisecond
}

// MaxDebounce returns the staleness bound under continuous editing.
func (c WebhookConfig) MaxDebounce() time.Duration {
	return time.Duration(c.MaxDebounceMs) * time.Millisecond
}

// Retry returns the interval for re-attempting a failed flush.
func (c WebhookConfig) Retry() time.Duration {
	return time.Duration(c.RetryMs) * time.Millisecond
}

// PresenceConfig tunes the two staleness tiers of the presence table.
type PresenceConfig struct {
	IdleTimeoutMs   int `yaml:"idle_timeout_ms" validate:"gt=0"`
	SweepIntervalMs int `yaml:"sweep_interval_ms" validate:"gt=0"`
	RetentionMs     int `yaml:"retention_ms" validate:"gtefield=IdleTimeoutMs"`
}

// IdleTimeout returns how long a cursor stays visible without activity.
func (c PresenceConfig) IdleTimeout() time.Duration {
	return time.Duration(c.IdleTimeoutMs) * time.Millisecond
}

// SweepInterval returns the period of the background eviction sweep.
func (c PresenceConfig) SweepInterval() time.Duration {
	return time.Duration(c.SweepIntervalMs) * time.Millisecond
}

// Retention returns how long an idle participant stays in the roster.
func (c PresenceConfig) Retention() time.Duration {
	return time.Duration(c.RetentionMs) * time.Millisecond
}

// RoomConfig tunes room lifecycle behavior.
type RoomConfig struct {
	// GraceMs is how long an empty room is kept alive for quick rejoins
	// (page reloads) before it is released.
	GraceMs int `yaml:"grace_ms" validate:"gte=0"`
}

// Grace returns the idle-release grace period.
func (c RoomConfig) Grace() time.Duration {
	return time.Duration(c.GraceMs) * time.Millisecond
}

// AuthConfig carries the optional shared secret for identity tokens.
// Authorization itself is handled upstream.
type AuthConfig struct {
	TokenSecret string `yaml:"token_secret"`
}

// Config is the full server configuration.
type Config struct {
	ListenAddr string         `yaml:"listen_addr" validate:"required"`
	Webhook    WebhookConfig  `yaml:"webhook"`
	Presence   PresenceConfig `yaml:"presence"`
	Room       RoomConfig     `yaml:"room"`
	Auth       AuthConfig     `yaml:"auth"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		ListenAddr: ":1234",
		Webhook: WebhookConfig{
			DebounceMs:    500,
			MaxDebounceMs: 2000,
			RetryMs:       5000,
		},
		Presence: PresenceConfig{
			IdleTimeoutMs:   10000,
			SweepIntervalMs: 2000,
			RetentionMs:     30000,
		},
		Room: RoomConfig{
			GraceMs: 30000,
		},
	}
}

// Load reads the configuration from an optional YAML file, applies
// environment overrides, and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnv(cfg)

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// applyEnv overrides the per-deployment values. The webhook variables keep
// the names the hosting environment already sets.
func applyEnv(cfg *Config) {
	if addr := os.Getenv("LISTEN_ADDR"); addr != "" {
		cfg.ListenAddr = addr
	} else if port := os.Getenv("PORT"); port != "" {
		cfg.ListenAddr = ":" + port
	}
	if url := os.Getenv("WEBHOOK_URL"); url != "" {
		cfg.Webhook.URL = url
	}
	if secret := os.Getenv("WEBHOOK_SECRET"); secret != "" {
		cfg.Webhook.Secret = secret
	}
	if secret := os.Getenv("AUTH_TOKEN_SECRET"); secret != "" {
		cfg.Auth.TokenSecret = secret
	}
}
