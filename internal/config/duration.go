package config

import (
	"fmt"
	"strings"
	"time"
)

// ParseDurationField parses a Go duration string. Empty means 0.
// path names the field in errors.
func ParseDurationField(path, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: duration must be >= 0", path)
	}
	return d, nil
}

// ParseDurationOrDefault is ParseDurationField with def for empty or zero.
func ParseDurationOrDefault(path, raw string, def time.Duration) (time.Duration, error) {
	d, err := ParseDurationField(path, raw)
	if err != nil || d > 0 {
		return d, err
	}
	return def, nil
}

// durationFields lists every duration string in cfg by its config path.
func durationFields(cfg *Config) map[string]string {
	out := map[string]string{
		"census.cache_ttl":          cfg.Census.CacheTTL,
		"census.timeout":            cfg.Census.Timeout,
		"stream.backoff_base":       cfg.Stream.BackoffBase,
		"stream.backoff_max":        cfg.Stream.BackoffMax,
		"stream.handshake_timeout":  cfg.Stream.HandshakeTimeout,
		"stream.write_timeout":      cfg.Stream.WriteTimeout,
		"stream.watchdog":           cfg.Stream.Watchdog,
		"displays.telegram.timeout": cfg.Displays.Telegram.Timeout,
	}
	if n := cfg.Notifier; n != nil {
		out["notifier.retry_base"] = n.RetryBase
		out["notifier.retry_max_delay"] = n.RetryMaxDelay
		out["notifier.send_timeout"] = n.SendTimeout
		out["notifier.dedup_window"] = n.DedupWindow
	}
	if s := cfg.Storage; s != nil {
		out["storage.busy_timeout"] = s.BusyTimeout
	}
	return out
}
