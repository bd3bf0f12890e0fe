package events

import (
	"strings"
	"time"
)

// Kind identifies an Event variant. Handlers register per Kind.
type Kind int

const (
	KindDeath Kind = iota + 1
	KindMetagame
	KindCapture
	KindDefend
	KindVehicleDestroy
)

func (k Kind) String() string {
	switch k {
	case KindDeath:
		return "death"
	case KindMetagame:
		return "metagame"
	case KindCapture:
		return "capture"
	case KindDefend:
		return "defend"
	case KindVehicleDestroy:
		return "vehicle_destroy"
	default:
		return "unknown"
	}
}

// Event is one classified game occurrence.
type Event interface {
	Kind() Kind
	OccurredAt() time.Time
}

// Tag marks a kill that matched a kill-announce predicate.
type Tag uint8

const (
	TagOneLife Tag = 1 << iota
	TagTimeGap
	TagBase
)

// Tags is a set of Tag values.
type Tags uint8

func (t Tags) Has(tag Tag) bool { return uint8(t)&uint8(tag) != 0 }
func (t Tags) With(tag Tag) Tags { return Tags(uint8(t) | uint8(tag)) }
func (t Tags) Empty() bool { return t == 0 }

func (t Tags) String() string {
	var parts []string
	if t.Has(TagOneLife) {
		parts = append(parts, "oneLife")
	}
	if t.Has(TagTimeGap) {
		parts = append(parts, "timeGap")
	}
	if t.Has(TagBase) {
		parts = append(parts, "base")
	}
	return strings.Join(parts, ",")
}

type Death struct {
	AttackerID        string
	VictimID          string
	WeaponID          string
	AttackerVehicleID string
	WorldID           string
	ZoneID            string
	Time              time.Time
	// IsHeadshot is set when the weapon is in the headshot-announce set.
	IsHeadshot bool
	// ReportedHeadshot is the server's own is_headshot flag.
	ReportedHeadshot bool
	Tags             Tags
	// Streak is my kill count in the current life, when I am the attacker.
	Streak int
}

func (Death) Kind() Kind { return KindDeath }
func (e Death) OccurredAt() time.Time { return e.Time }

// Suicide reports whether attacker and victim are the same character.
func (e Death) Suicide() bool { return e.AttackerID != "" && e.AttackerID == e.VictimID }

type Metagame struct {
	ID      string
	EventID string
	WorldID string
	ZoneID  string
	State   string
	Time    time.Time
}

func (Metagame) Kind() Kind { return KindMetagame }
func (e Metagame) OccurredAt() time.Time { return e.Time }

type FacilityControl struct {
	FacilityID   string
	OutfitID     string
	OldFactionID string
	NewFactionID string
	WorldID      string
	ZoneID       string
	Duration     time.Duration
	Time         time.Time
}

// Kind is KindDefend when the owning faction did not change, KindCapture otherwise.
func (e FacilityControl) Kind() Kind {
	if e.OldFactionID == e.NewFactionID {
		return KindDefend
	}
	return KindCapture
}

func (e FacilityControl) OccurredAt() time.Time { return e.Time }

type VehicleDestroy struct {
	AttackerID        string
	VictimID          string
	VehicleID         string
	AttackerVehicleID string
	WeaponID          string
	FacilityID        string
	WorldID           string
	ZoneID            string
	Time              time.Time
}

func (VehicleDestroy) Kind() Kind { return KindVehicleDestroy }
func (e VehicleDestroy) OccurredAt() time.Time { return e.Time }
