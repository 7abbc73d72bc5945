package prana

import (
	"time"

	"github.com/srg/pranactl/internal/protocol"
)

// LinkStatus is the connection lifecycle as consumers see it.
type LinkStatus string

// Link status values.
const (
	StatusDisconnected LinkStatus = "disconnected"
	StatusConnecting   LinkStatus = "connecting"
	StatusConnected    LinkStatus = "connected"
	StatusReconnecting LinkStatus = "reconnecting"
	// StatusUnavailable means the reconnection policy exhausted its
	// attempts; the session keeps probing at the capped interval but no
	// longer reports individual failures.
	StatusUnavailable LinkStatus = "unavailable"
)

// SyncPhase is what the synchronizer is currently doing.
type SyncPhase string

// Sync phases.
const (
	SyncIdle        SyncPhase = "idle"
	SyncPolling     SyncPhase = "polling"
	SyncAwaitingAck SyncPhase = "awaiting_ack"
	SyncResyncing   SyncPhase = "resyncing"
	SyncDegraded    SyncPhase = "degraded"
)

// PendingCommand describes a command written to the device whose effect
// has not yet shown up in telemetry.
type PendingCommand struct {
	Name        string
	Field       protocol.FieldID
	SubmittedAt time.Time
}

// DeviceState is a read-only snapshot of everything the session knows
// about the unit. Every State() call and Updates() event carries an
// independent copy; mutating it affects nothing.
type DeviceState struct {
	Address   string
	Link      LinkStatus
	Sync      SyncPhase
	Telemetry protocol.Telemetry
	// LastSync is when the last state snapshot was received. Zero until
	// the first successful poll.
	LastSync time.Time
	// Stale is set when LastSync is older than the staleness window;
	// consumers should present the telemetry as historical, not current.
	Stale   bool
	Pending []PendingCommand
}
