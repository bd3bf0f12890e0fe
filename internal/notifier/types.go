package notifier

import (
	"context"
	"time"
)

// Config controls the async notification pipeline.
type Config struct {
	Enabled         bool
	Workers         int
	QueueSize       int
	RatePerSec      int
	RetryMax        int
	RetryBase       time.Duration
	RetryMaxDelay   time.Duration
	SendTimeout     time.Duration
	DedupWindow     time.Duration
	DedupMaxEntries int
	PersistDedup    bool
}

// Display renders one notification. Timeout zero means "until dismissed"
// where the display supports it.
type Display interface {
	Name() string
	Show(ctx context.Context, heading, message string, timeout time.Duration, sound string) error
}

type HistoryItem struct {
	At      time.Time
	Kind    string
	Heading string
	Message string
}

// NotificationEvent is emitted on the event bus for notifier lifecycle events.
// Keep it small; Data may be logged/serialized by subscribers.
type NotificationEvent struct {
	ID      string    `json:"id"`
	Kind    string    `json:"kind"`
	Display string    `json:"display,omitempty"`
	Key     string    `json:"key"`
	At      time.Time `json:"at"`
	Error   string    `json:"error,omitempty"`
}
