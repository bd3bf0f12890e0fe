package storage

import (
	"errors"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures storage.
//
// Driver values:
//   - "file": JSON Lines journal plus a dedup snapshot
//   - "sqlite": SQLite database file
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// JournalEntry records one delivered (or failed) alert.
// Keep it compact and schema-stable.
type JournalEntry struct {
	At       time.Time `json:"at"`
	ID       string    `json:"id"`
	Kind     string    `json:"kind"`
	Heading  string    `json:"heading"`
	Message  string    `json:"message"`
	Urgency  string    `json:"urgency,omitempty"`
	Displays string    `json:"displays,omitempty"`
	Error    string    `json:"error,omitempty"`
}
