package config

import (
	"reflect"
	"sort"
	"strings"

	logx "ps2notify/pkg/logx"
)

// Config sections as reported by SummarizeConfigChange.
const (
	SectionLogging  = "logging"
	SectionCensus   = "census"
	SectionStream   = "stream"
	SectionInterest = "interest"
	SectionNotifier = "notifier"
	SectionDisplays = "displays"
	SectionStorage  = "storage"
	SectionDigest   = "digest"
	SectionSystemd  = "systemd"
	SectionDebug    = "debug"
)

// DefaultNotifier is what an omitted notifier section means.
var DefaultNotifier = NotifierConfig{
	Enabled:         true,
	Workers:         2,
	QueueSize:       512,
	RatePerSec:      3,
	RetryMax:        3,
	RetryBase:       "500ms",
	RetryMaxDelay:   "10s",
	DedupWindow:     "10s",
	DedupMaxEntries: 2000,
}

// SummarizeConfigChange returns (1) the sorted list of changed sections and
// (2) safe structured attrs for logging. Secrets (service id, bot token)
// are reported only as "set" flags.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 4)
	attrs := make([]logx.Field, 0, 16)

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, SectionLogging)
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	if !reflect.DeepEqual(oldCfg.Census, newCfg.Census) {
		changed = append(changed, SectionCensus)
		attrs = append(attrs,
			logx.Bool("census.service_id_set", strings.TrimSpace(newCfg.Census.ServiceID) != ""),
			logx.String("census.environment", newCfg.Census.Environment),
		)
	}

	if !reflect.DeepEqual(oldCfg.Stream, newCfg.Stream) {
		changed = append(changed, SectionStream)
		attrs = append(attrs,
			logx.Int("stream.max_retries", newCfg.Stream.MaxRetries),
			logx.String("stream.watchdog", newCfg.Stream.Watchdog),
		)
	}

	if oldCfg.interestText != newCfg.interestText || oldCfg.Interest != newCfg.Interest {
		changed = append(changed, SectionInterest)
		attrs = append(attrs,
			logx.Bool("interest.inline", strings.TrimSpace(newCfg.Interest.Text) != ""),
			logx.String("interest.file", newCfg.Interest.File),
			logx.Int("interest.bytes", len(newCfg.interestText)),
		)
	}

	oldN, newN := oldCfg.Notifier, newCfg.Notifier
	if oldN == nil {
		oldN = &DefaultNotifier
	}
	if newN == nil {
		newN = &DefaultNotifier
	}
	if *oldN != *newN {
		changed = append(changed, SectionNotifier)
		attrs = append(attrs,
			logx.Bool("notifier.enabled", newN.Enabled),
			logx.Int("notifier.workers", newN.Workers),
			logx.Int("notifier.rate_per_sec", newN.RatePerSec),
			logx.String("notifier.dedup_window", newN.DedupWindow),
			logx.Bool("notifier.persist_dedup", newN.PersistDedup),
		)
	}

	if oldCfg.Displays != newCfg.Displays {
		changed = append(changed, SectionDisplays)
		d := newCfg.Displays
		attrs = append(attrs,
			logx.Bool("displays.console", d.Console.Enabled),
			logx.Bool("displays.desktop", d.Desktop.Enabled),
			logx.Bool("displays.telegram", d.Telegram.Enabled),
			logx.Bool("displays.telegram.token_set", strings.TrimSpace(d.Telegram.Token) != ""),
		)
	}

	// Nil means disabled.
	var oS, nS StorageConfig
	if oldCfg.Storage != nil {
		oS = *oldCfg.Storage
	}
	if newCfg.Storage != nil {
		nS = *newCfg.Storage
	}
	if oS != nS {
		changed = append(changed, SectionStorage)
		attrs = append(attrs,
			logx.String("storage.driver", strings.TrimSpace(nS.Driver)),
			logx.Bool("storage.path_set", strings.TrimSpace(nS.Path) != ""),
		)
	}

	if oldCfg.Digest != newCfg.Digest {
		changed = append(changed, SectionDigest)
		attrs = append(attrs,
			logx.Bool("digest.enabled", newCfg.Digest.Enabled),
			logx.String("digest.schedule", DigestSchedule(newCfg.Digest)),
		)
	}

	if oldCfg.Systemd != newCfg.Systemd {
		changed = append(changed, SectionSystemd)
		attrs = append(attrs, logx.Bool("systemd.notify", newCfg.Systemd.Notify))
	}

	if oldCfg.Debug != newCfg.Debug {
		changed = append(changed, SectionDebug)
		attrs = append(attrs,
			logx.Bool("debug.pprof.enabled", newCfg.Debug.Pprof.Enabled),
			logx.String("debug.pprof.addr", newCfg.Debug.Pprof.Addr),
		)
	}

	sort.Strings(changed)
	return changed, attrs
}

// Has reports whether sections contains any of want.
func Has(sections []string, want ...string) bool {
	for _, s := range sections {
		for _, w := range want {
			if s == w {
				return true
			}
		}
	}
	return false
}
