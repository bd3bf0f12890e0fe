package alerts

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Urgency ranks an alert for displays that support it.
type Urgency int

const (
	UrgencyLow Urgency = iota
	UrgencyNormal
	UrgencyCritical
)

func (u Urgency) String() string {
	switch u {
	case UrgencyLow:
		return "low"
	case UrgencyCritical:
		return "critical"
	default:
		return "normal"
	}
}

// Intent kinds.
const (
	KindCapture        = "capture"
	KindDefend         = "defend"
	KindMetagame       = "metagame"
	KindKill           = "kill"
	KindPlayerKill     = "player_kill"
	KindPlayerDeath    = "player_death"
	KindOutfitKill     = "outfit_kill"
	KindVehicleKill    = "vehicle_kill"
	KindVehicleDeath   = "vehicle_death"
	KindRageQuit       = "ragequit"
	KindConnectionLost = "connection_lost"
	KindConfigRejected = "config_rejected"
	KindDigest         = "digest"
)

// Sound names follow the freedesktop sound naming spec.
const (
	SoundComplete = "complete"
	SoundMessage  = "message-new-instant"
	SoundBell     = "bell"
	SoundError    = "dialog-error"
)

// Intent is a fully resolved request to show one notification.
type Intent struct {
	ID      string
	Kind    string
	Heading string
	Message string
	Sound   string
	Urgency Urgency
	// Timeout is how long the notification stays up. Zero means the
	// display's default; critical intents use zero to stay until dismissed.
	Timeout time.Duration
	At      time.Time
}

// New builds a normal-urgency intent stamped with a fresh id.
func New(kind, heading, message string) Intent {
	return Intent{
		ID:      uuid.NewString(),
		Kind:    kind,
		Heading: heading,
		Message: message,
		Urgency: UrgencyNormal,
		Timeout: 6 * time.Second,
		At:      time.Now(),
	}
}

func (i Intent) WithSound(s string) Intent { i.Sound = s; return i }

func (i Intent) WithUrgency(u Urgency) Intent {
	i.Urgency = u
	switch u {
	case UrgencyCritical:
		i.Timeout = 0
	case UrgencyLow:
		i.Timeout = 4 * time.Second
	}
	return i
}

// Sink accepts intents. Implementations must not block on display I/O.
type Sink interface {
	Notify(ctx context.Context, in Intent) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, in Intent) error

func (f SinkFunc) Notify(ctx context.Context, in Intent) error { return f(ctx, in) }

// ConnectionLost is raised when the stream gives up reconnecting.
func ConnectionLost(err error) Intent {
	return New(KindConnectionLost, "Connection lost", "Stopped reconnecting to the event stream: "+err.Error()).
		WithUrgency(UrgencyCritical).
		WithSound(SoundError)
}

// ConfigRejected is raised when a reloaded interest config fails validation.
func ConfigRejected(err error) Intent {
	return New(KindConfigRejected, "Interest config rejected", err.Error()).
		WithUrgency(UrgencyCritical).
		WithSound(SoundError)
}
