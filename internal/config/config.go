// Package config loads process configuration from the environment and,
// optionally, overlays a watched YAML/JSON file for hot-reloadable knobs.
package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	Token         string        `envconfig:"BOT_TOKEN" required:"true"`
	OwnerID       int64         `envconfig:"OWNER_ID"`
	Port          int           `envconfig:"PORT" default:"5000"`
	WebhookURL    string        `envconfig:"WEBHOOK_URL"`
	SupportGroup  string        `envconfig:"SUPPORT_GROUP"`
	UpdateChannel string        `envconfig:"UPDATE_CHANNEL"`
	DefaultExpire time.Duration `envconfig:"DEFAULT_EXPIRE" default:"300s"`
	PollTimeout   time.Duration `envconfig:"POLL_TIMEOUT" default:"10s"`
	LogLevel      string        `envconfig:"LOG_LEVEL" default:"info"`
	LogFile       string        `envconfig:"LOG_FILE"`
	SettingsPath  string        `envconfig:"SETTINGS_PATH" default:"./invitebot.db"`

	// OverlayPath points to an optional YAML or JSON file with
	// hot-reloadable overrides (see Overlay).
	OverlayPath string `envconfig:"CONFIG_FILE"`
}

func Load() (Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("PORT: %d out of range", c.Port)
	}
	if err := ValidateDefaultExpire(c.DefaultExpire); err != nil {
		return err
	}
	if c.PollTimeout <= 0 {
		return fmt.Errorf("POLL_TIMEOUT: must be positive")
	}
	return nil
}

// ValidateDefaultExpire bounds the fallback link lifetime (60s to 1h).
func ValidateDefaultExpire(d time.Duration) error {
	if d < time.Minute || d > time.Hour {
		return fmt.Errorf("DEFAULT_EXPIRE: %v outside [1m, 1h]", d)
	}
	return nil
}

// Owners returns the effective owner id list: the overlay's list when set,
// else the single env-configured owner.
func (c Config) Owners(ov *Overlay) []int64 {
	if ov != nil && len(ov.OwnerIDs) > 0 {
		return append([]int64(nil), ov.OwnerIDs...)
	}
	if c.OwnerID != 0 {
		return []int64{c.OwnerID}
	}
	return nil
}
