package app

import (
	"fmt"
	"strings"
	"time"

	"ps2notify/internal/census"
	"ps2notify/internal/config"
	"ps2notify/internal/digest"
	"ps2notify/internal/notifier"
	"ps2notify/internal/notifier/display"
	"ps2notify/internal/runtime/pprof"
	"ps2notify/internal/storage"
	"ps2notify/internal/stream"
	logx "ps2notify/pkg/logx"
)

// Defaults for the daemon config. Stream defaults match the push
// service's 30s heartbeat cadence.
const (
	defaultMaxRetries = 5
	defaultWatchdog   = 90 * time.Second
)

func mapLogConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console || !cfg.Logging.File.Enabled,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

func environment(cfg *config.Config) string {
	if env := strings.TrimSpace(cfg.Census.Environment); env != "" {
		return env
	}
	return "ps2"
}

func mapCensusConfig(cfg *config.Config) (census.ClientConfig, error) {
	ttl, err := config.ParseDurationField("census.cache_ttl", cfg.Census.CacheTTL)
	if err != nil {
		return census.ClientConfig{}, err
	}
	timeout, err := config.ParseDurationField("census.timeout", cfg.Census.Timeout)
	if err != nil {
		return census.ClientConfig{}, err
	}
	return census.ClientConfig{
		BaseURL:    cfg.Census.RESTURL,
		ServiceID:  cfg.Census.ServiceID,
		Namespace:  environment(cfg) + ":v2",
		RatePerSec: cfg.Census.RatePerSec,
		Burst:      cfg.Census.Burst,
		CacheTTL:   ttl,
		Timeout:    timeout,
	}, nil
}

// streamSettings are the app-side knobs that live next to stream.Config.
type streamSettings struct {
	Watchdog   time.Duration
	ExitOnLost bool
}

func mapStreamConfig(cfg *config.Config) (stream.Config, streamSettings, error) {
	sc := cfg.Stream
	var (
		out stream.Config
		set = streamSettings{ExitOnLost: true}
		err error
	)
	if out.Backoff.Base, err = config.ParseDurationField("stream.backoff_base", sc.BackoffBase); err != nil {
		return out, set, err
	}
	if out.Backoff.Max, err = config.ParseDurationField("stream.backoff_max", sc.BackoffMax); err != nil {
		return out, set, err
	}
	if out.HandshakeTimeout, err = config.ParseDurationField("stream.handshake_timeout", sc.HandshakeTimeout); err != nil {
		return out, set, err
	}
	if out.WriteTimeout, err = config.ParseDurationField("stream.write_timeout", sc.WriteTimeout); err != nil {
		return out, set, err
	}
	if set.Watchdog, err = config.ParseDurationOrDefault("stream.watchdog", sc.Watchdog, defaultWatchdog); err != nil {
		return out, set, err
	}
	if sc.ExitOnLost != nil {
		set.ExitOnLost = *sc.ExitOnLost
	}
	out.URL = sc.URL
	out.Environment = environment(cfg)
	out.ServiceID = cfg.Census.ServiceID
	out.MaxRetries = sc.MaxRetries
	if out.MaxRetries == 0 {
		out.MaxRetries = defaultMaxRetries
	}
	out.ClearOnReplay = sc.ClearOnReplay
	return out, set, nil
}

func mapNotifierConfig(cfg *config.Config) (notifier.Config, error) {
	nc := config.DefaultNotifier
	if cfg != nil && cfg.Notifier != nil {
		nc = *cfg.Notifier
	}
	if nc.Workers < 0 || nc.QueueSize < 0 || nc.RatePerSec < 0 || nc.RetryMax < 0 || nc.DedupMaxEntries < 0 {
		return notifier.Config{}, fmt.Errorf("notifier: counts must be >= 0")
	}

	out := notifier.Config{
		Enabled:         nc.Enabled,
		Workers:         nc.Workers,
		QueueSize:       nc.QueueSize,
		RatePerSec:      nc.RatePerSec,
		RetryMax:        nc.RetryMax,
		DedupMaxEntries: nc.DedupMaxEntries,
		PersistDedup:    nc.PersistDedup,
	}
	var err error
	if out.RetryBase, err = config.ParseDurationOrDefault("notifier.retry_base", nc.RetryBase, 500*time.Millisecond); err != nil {
		return notifier.Config{}, err
	}
	if out.RetryMaxDelay, err = config.ParseDurationOrDefault("notifier.retry_max_delay", nc.RetryMaxDelay, 10*time.Second); err != nil {
		return notifier.Config{}, err
	}
	if out.SendTimeout, err = config.ParseDurationField("notifier.send_timeout", nc.SendTimeout); err != nil {
		return notifier.Config{}, err
	}
	if out.DedupWindow, err = config.ParseDurationField("notifier.dedup_window", nc.DedupWindow); err != nil {
		return notifier.Config{}, err
	}
	return out, nil
}

func buildDisplays(cfg *config.Config, log logx.Logger) ([]notifier.Display, error) {
	d := cfg.Displays
	var out []notifier.Display
	if d.Desktop.Enabled {
		out = append(out, display.NewDesktop(d.Desktop.Command, d.Desktop.AppName))
	}
	if d.Telegram.Enabled {
		timeout, err := config.ParseDurationField("displays.telegram.timeout", d.Telegram.Timeout)
		if err != nil {
			return nil, err
		}
		tg, err := display.NewTelegram(display.TelegramConfig{
			Token:    d.Telegram.Token,
			ChatID:   d.Telegram.ChatID,
			ThreadID: d.Telegram.ThreadID,
			APIURL:   d.Telegram.APIURL,
			Timeout:  timeout,
		})
		if err != nil {
			return nil, fmt.Errorf("displays.telegram: %w", err)
		}
		out = append(out, tg)
	}
	// The console is the fallback when nothing else is configured.
	if d.Console.Enabled || len(out) == 0 {
		out = append([]notifier.Display{display.NewConsole(log)}, out...)
	}
	return out, nil
}

func mapStorageConfig(cfg *config.Config) (storage.Config, bool, error) {
	if cfg == nil || cfg.Storage == nil {
		return storage.Config{}, false, nil
	}
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	path := strings.TrimSpace(sc.Path)

	switch driver {
	case "", "none":
		return storage.Config{}, false, nil
	case "file":
		return storage.Config{Driver: "file", Path: path}, true, nil
	case "sqlite", "sqlite3":
		if path == "" {
			return storage.Config{}, false, fmt.Errorf("storage.path is required when storage.driver=sqlite")
		}
		busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, time.Second)
		if err != nil {
			return storage.Config{}, false, err
		}
		return storage.Config{Driver: "sqlite", Path: path, BusyTimeout: busy}, true, nil
	default:
		return storage.Config{}, false, fmt.Errorf("unknown storage.driver: %s", sc.Driver)
	}
}

func mapDigestConfig(cfg *config.Config) (digest.Config, error) {
	loc := time.Local
	if tz := strings.TrimSpace(cfg.Digest.Timezone); tz != "" {
		l, err := time.LoadLocation(tz)
		if err != nil {
			return digest.Config{}, fmt.Errorf("digest.timezone: invalid %q: %w", tz, err)
		}
		loc = l
	}
	return digest.Config{Schedule: config.DigestSchedule(cfg.Digest), Location: loc}, nil
}

func mapPprofConfig(cfg *config.Config) (pprof.Config, error) {
	pc := cfg.Debug.Pprof
	out := pprof.Config{
		Enabled:              pc.Enabled,
		Addr:                 strings.TrimSpace(pc.Addr),
		BlockProfileRate:     pc.BlockProfileRate,
		MutexProfileFraction: pc.MutexProfileFraction,
	}
	if err := out.Validate(); err != nil {
		return pprof.Config{}, fmt.Errorf("debug.pprof: %w", err)
	}
	return out, nil
}
