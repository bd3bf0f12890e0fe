package config

import (
	"fmt"
	"strings"

	"github.com/caarlos0/env/v11"
)

// EnvOverrides are secrets and quick toggles that may come from the
// environment instead of the config file. Set values win.
type EnvOverrides struct {
	ServiceID     string `env:"PS2NOTIFY_SERVICE_ID"`
	TelegramToken string `env:"PS2NOTIFY_TELEGRAM_TOKEN"`
	Interest      string `env:"PS2NOTIFY_INTEREST"`
	LogLevel      string `env:"PS2NOTIFY_LOG_LEVEL"`
}

// ParseEnv reads overrides from environ, or from the process environment
// when environ is nil.
func ParseEnv(environ map[string]string) (EnvOverrides, error) {
	var o EnvOverrides
	if err := env.ParseWithOptions(&o, env.Options{Environment: environ}); err != nil {
		return EnvOverrides{}, fmt.Errorf("parse env: %w", err)
	}
	return o, nil
}

// Apply copies every non-empty override into cfg.
func (o EnvOverrides) Apply(cfg *Config) {
	if v := strings.TrimSpace(o.ServiceID); v != "" {
		cfg.Census.ServiceID = v
	}
	if v := strings.TrimSpace(o.TelegramToken); v != "" {
		cfg.Displays.Telegram.Token = v
	}
	if v := strings.TrimSpace(o.Interest); v != "" {
		cfg.Interest.Text = v
		cfg.Interest.File = ""
	}
	if v := strings.TrimSpace(o.LogLevel); v != "" {
		cfg.Logging.Level = v
	}
}
