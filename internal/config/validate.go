package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

var ErrInvalid = errors.New("invalid config")

// CronParser accepts an optional seconds field and @descriptors.
var CronParser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Validate checks structure only: required fields, durations, enums.
// Interest semantics are checked by the pipeline when it is built.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("%w: config is nil", ErrInvalid)
	}
	var errs []error
	bad := func(format string, a ...any) {
		errs = append(errs, fmt.Errorf(format, a...))
	}

	if strings.TrimSpace(cfg.Census.ServiceID) == "" {
		bad("census.service_id is required")
	}
	if cfg.Census.RatePerSec < 0 || cfg.Census.Burst < 0 {
		bad("census.rate_per_sec and census.burst must be >= 0")
	}
	if cfg.Stream.MaxRetries < 0 {
		bad("stream.max_retries must be >= 0")
	}
	if strings.TrimSpace(cfg.Interest.Text) == "" && strings.TrimSpace(cfg.Interest.File) == "" {
		bad("interest.text or interest.file is required")
	}

	for path, raw := range durationFields(cfg) {
		if _, err := ParseDurationField(path, raw); err != nil {
			errs = append(errs, err)
		}
	}

	if t := cfg.Displays.Telegram; t.Enabled {
		if strings.TrimSpace(t.Token) == "" {
			bad("displays.telegram.token is required when enabled")
		}
		if t.ChatID == 0 {
			bad("displays.telegram.chat_id is required when enabled")
		}
	}

	if s := cfg.Storage; s != nil {
		switch d := strings.ToLower(strings.TrimSpace(s.Driver)); d {
		case "", "none":
		case "file", "sqlite":
			if strings.TrimSpace(s.Path) == "" {
				bad("storage.path is required for driver %q", d)
			}
		default:
			bad("storage.driver %q is not one of file, sqlite, none", s.Driver)
		}
	}

	if cfg.Digest.Enabled {
		if _, err := CronParser.Parse(DigestSchedule(cfg.Digest)); err != nil {
			bad("digest.schedule: %v", err)
		}
		if tz := strings.TrimSpace(cfg.Digest.Timezone); tz != "" {
			if _, err := time.LoadLocation(tz); err != nil {
				bad("digest.timezone: %v", err)
			}
		}
	}

	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrInvalid, errors.Join(errs...))
}

// DigestSchedule returns the configured schedule or the hourly default.
func DigestSchedule(d DigestConfig) string {
	if s := strings.TrimSpace(d.Schedule); s != "" {
		return s
	}
	return "@hourly"
}
