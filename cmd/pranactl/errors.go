package main

import (
	"errors"

	"github.com/srg/pranactl/internal/protocol"
	"github.com/srg/pranactl/internal/radio"
	"github.com/srg/pranactl/pkg/prana"
)

// FormatUserError turns internal errors into actionable messages for
// terminal output. Unknown errors pass through unchanged.
func FormatUserError(err error) string {
	switch {
	case errors.Is(err, radio.ErrUnreachable):
		return "device is not reachable - check that it is powered and in range"
	case errors.Is(err, radio.ErrRejected):
		return "device refused the connection - it is likely paired with another app; close it and retry"
	case errors.Is(err, radio.ErrTimeout):
		return "connection attempt timed out - move closer to the unit and retry"
	case errors.Is(err, radio.ErrLinkLost):
		return "connection to the device was lost"
	case errors.Is(err, prana.ErrCommandTimeout):
		return "the device accepted the command but never applied it - check the unit and retry"
	case errors.Is(err, prana.ErrBusy):
		return "the device is busy with another command - retry in a moment"
	case errors.Is(err, prana.ErrResyncing):
		return "reconnected and still resynchronizing - retry in a moment"
	case errors.Is(err, protocol.ErrInvalidIntent),
		errors.Is(err, protocol.ErrOutOfRange):
		return err.Error()
	default:
		return err.Error()
	}
}
