package app

import (
	"errors"

	"ps2notify/internal/stream"
)

// StopReason is logged when the app shuts down.
type StopReason string

const (
	StopUnknown        StopReason = "unknown"
	StopSignal         StopReason = "signal"
	StopFatalError     StopReason = "fatal_error"
	StopConnectionLost StopReason = "connection_lost"
)

// ReasonFor maps a fatal supervisor error to a stop reason.
func ReasonFor(err error) StopReason {
	switch {
	case err == nil:
		return StopSignal
	case errors.Is(err, stream.ErrConnectionLost):
		return StopConnectionLost
	default:
		return StopFatalError
	}
}
