package config

// Config is the daemon configuration file (JSON or YAML).
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
type Config struct {
	Logging  LoggingConfig   `json:"logging"`
	Census   CensusConfig    `json:"census"`
	Stream   StreamConfig    `json:"stream"`
	Interest InterestConfig  `json:"interest"`
	Notifier *NotifierConfig `json:"notifier,omitempty"`
	Displays DisplaysConfig  `json:"displays"`
	Storage  *StorageConfig  `json:"storage,omitempty"`
	Digest   DigestConfig    `json:"digest"`
	Systemd  SystemdConfig   `json:"systemd"`
	Debug    DebugConfig     `json:"debug"`

	// interestText is the resolved interest document (inline text, file
	// contents or the env override). Filled by the manager.
	interestText string
}

// InterestText returns the resolved interest document.
func (c *Config) InterestText() string {
	if c == nil {
		return ""
	}
	return c.interestText
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// CensusConfig holds the Daybreak Census credentials and REST tuning.
//
// Example:
//
//	"census": { "service_id": "example", "environment": "ps2" }
type CensusConfig struct {
	ServiceID   string  `json:"service_id"` // never logged
	Environment string  `json:"environment,omitempty"`
	RESTURL     string  `json:"rest_url,omitempty"`
	RatePerSec  float64 `json:"rate_per_sec,omitempty"`
	Burst       int     `json:"burst,omitempty"`
	CacheTTL    string  `json:"cache_ttl,omitempty"`
	Timeout     string  `json:"timeout,omitempty"`
}

// StreamConfig controls the push-service connection.
//
// Defaults (when fields are omitted/zero):
//   - backoff_base: "1s", backoff_max: "30s"
//   - max_retries: 5
//   - watchdog: "90s" (three missed heartbeats)
//   - exit_on_lost: true
type StreamConfig struct {
	URL              string `json:"url,omitempty"`
	BackoffBase      string `json:"backoff_base,omitempty"`
	BackoffMax       string `json:"backoff_max,omitempty"`
	MaxRetries       int    `json:"max_retries,omitempty"`
	HandshakeTimeout string `json:"handshake_timeout,omitempty"`
	WriteTimeout     string `json:"write_timeout,omitempty"`
	Watchdog         string `json:"watchdog,omitempty"`
	ExitOnLost       *bool  `json:"exit_on_lost,omitempty"`
	ClearOnReplay    bool   `json:"clear_on_replay,omitempty"`
}

// InterestConfig points at the user's interest document. Text wins over File.
// Text may be a JSON object or a URL fragment (the part after '#').
type InterestConfig struct {
	Text string `json:"text,omitempty"`
	File string `json:"file,omitempty"`
}

// NotifierConfig controls the async notification pipeline.
// If the whole section is omitted, the notifier defaults to enabled=true.
type NotifierConfig struct {
	Enabled         bool   `json:"enabled"`
	Workers         int    `json:"workers"`
	QueueSize       int    `json:"queue_size"`
	RatePerSec      int    `json:"rate_per_sec"`
	RetryMax        int    `json:"retry_max"`
	RetryBase       string `json:"retry_base"`
	RetryMaxDelay   string `json:"retry_max_delay"`
	SendTimeout     string `json:"send_timeout,omitempty"`
	DedupWindow     string `json:"dedup_window"`
	DedupMaxEntries int    `json:"dedup_max_entries"`
	PersistDedup    bool   `json:"persist_dedup,omitempty"`
}

// DisplaysConfig selects where alerts are shown. With nothing enabled the
// console display is used.
type DisplaysConfig struct {
	Console  ConsoleDisplay  `json:"console"`
	Desktop  DesktopDisplay  `json:"desktop"`
	Telegram TelegramDisplay `json:"telegram"`
}

type ConsoleDisplay struct {
	Enabled bool `json:"enabled"`
}

type DesktopDisplay struct {
	Enabled bool   `json:"enabled"`
	Command string `json:"command,omitempty"` // default: notify-send
	AppName string `json:"app_name,omitempty"`
}

type TelegramDisplay struct {
	Enabled  bool   `json:"enabled"`
	Token    string `json:"token,omitempty"` // never logged
	ChatID   int64  `json:"chat_id,omitempty"`
	ThreadID int    `json:"thread_id,omitempty"`
	APIURL   string `json:"api_url,omitempty"`
	Timeout  string `json:"timeout,omitempty"`
}

// StorageConfig controls the optional persistence layer.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./state/ps2notify.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

// DigestConfig schedules a periodic summary alert. Schedule is a cron
// expression with optional seconds, or a descriptor such as "@hourly".
type DigestConfig struct {
	Enabled  bool   `json:"enabled"`
	Schedule string `json:"schedule,omitempty"`
	Timezone string `json:"timezone,omitempty"`
}

type SystemdConfig struct {
	Notify bool `json:"notify"`
}

// DebugConfig holds developer knobs.
//
// Example:
//
//	"debug": { "pprof": { "enabled": true, "addr": "127.0.0.1:6060" } }
type DebugConfig struct {
	Pprof PprofConfig `json:"pprof"`
}

// PprofConfig controls the optional pprof HTTP listener (loopback only).
type PprofConfig struct {
	Enabled              bool   `json:"enabled"`
	Addr                 string `json:"addr,omitempty"`
	BlockProfileRate     int    `json:"block_profile_rate,omitempty"`
	MutexProfileFraction int    `json:"mutex_profile_fraction,omitempty"`
}
