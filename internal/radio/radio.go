// Package radio owns the BLE link to a Prana unit: the transport
// primitives (connect, write, subscribe, disconnect), link-loss
// detection and the connection error taxonomy. It knows nothing about
// frame contents; payload bytes pass through opaque in both
// directions.
package radio

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ConnectFault represents the specific kind of connection failure.
type ConnectFault string

// Connection fault kinds.
const (
	// Unreachable means the device did not respond at all.
	Unreachable ConnectFault = "unreachable"
	// Timeout means the connection attempt exceeded its deadline.
	Timeout ConnectFault = "timeout"
	// Rejected means the device refused the connection, typically
	// because it is already paired with another client.
	Rejected ConnectFault = "rejected"
	// LinkLost means an established connection dropped unexpectedly.
	LinkLost ConnectFault = "link_lost"
)

// ConnectError represents any connection-related problem.
type ConnectError struct {
	Fault ConnectFault
	Msg   string
}

// Error implements the error interface.
func (e *ConnectError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Msg == "" {
		return string(e.Fault)
	}
	return fmt.Sprintf("%s: %s", e.Fault, e.Msg)
}

// Is allows errors.Is to compare ConnectError values by fault kind.
func (e *ConnectError) Is(target error) bool {
	if e == nil {
		return false
	}
	t, ok := target.(*ConnectError)
	if !ok {
		return false
	}
	return e.Fault == t.Fault
}

// Predefined sentinel errors for connection faults.
var (
	ErrUnreachable = &ConnectError{Fault: Unreachable}
	ErrTimeout     = &ConnectError{Fault: Timeout}
	ErrRejected    = &ConnectError{Fault: Rejected}
	ErrLinkLost    = &ConnectError{Fault: LinkLost}
)

// Link-level operation errors.
var (
	ErrNotReady         = errors.New("link not ready")
	ErrAlreadyConnected = errors.New("already connected")
)

// NormalizeError maps raw radio-layer errors to the structured
// connection taxonomy. It ensures consistent handling even if the
// upstream BLE library changes messages slightly; the original error
// stays wrapped for context.
func NormalizeError(err error) error {
	if err == nil {
		return nil
	}

	var cerr *ConnectError
	if errors.As(err, &cerr) {
		return err
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	case containsIgnoreCase(err.Error(), "refused"),
		containsIgnoreCase(err.Error(), "already connected"),
		containsIgnoreCase(err.Error(), "pairing"):
		return fmt.Errorf("%w: %v", ErrRejected, err)
	case containsIgnoreCase(err.Error(), "disconnected"),
		containsIgnoreCase(err.Error(), "connection canceled"):
		return fmt.Errorf("%w: %v", ErrLinkLost, err)
	case containsIgnoreCase(err.Error(), "can't dial"),
		containsIgnoreCase(err.Error(), "not found"),
		containsIgnoreCase(err.Error(), "unreachable"):
		return fmt.Errorf("%w: %v", ErrUnreachable, err)
	default:
		return err
	}
}

func containsIgnoreCase(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}

// Conn is one established GATT session with a peripheral.
type Conn interface {
	// WriteCharacteristic writes data to the characteristic,
	// requesting a device acknowledgment when withResponse is set.
	WriteCharacteristic(ctx context.Context, characteristic string, data []byte, withResponse bool) error
	// Subscribe registers the notification handler for the
	// characteristic. The handler is invoked from the radio layer in
	// delivery order and must not block.
	Subscribe(characteristic string, handler func(data []byte)) error
	// Disconnected is closed when the radio layer reports link loss.
	Disconnected() <-chan struct{}
	// Close releases the connection.
	Close() error
}

// Transport abstracts the radio layer so the link manager can be
// exercised against a fake in tests, the same way the BLE device
// factory is overridden elsewhere.
type Transport interface {
	ConnectGatt(ctx context.Context, address string) (Conn, error)
}

// LinkOptions configures link establishment.
type LinkOptions struct {
	// Characteristic is the GATT characteristic carrying command and
	// notification traffic.
	Characteristic string
	// ConnectTimeout bounds a single connection attempt.
	ConnectTimeout time.Duration
}

// DefaultLinkOptions returns the defaults used against real hardware.
func DefaultLinkOptions(characteristic string) *LinkOptions {
	return &LinkOptions{
		Characteristic: characteristic,
		ConnectTimeout: 10 * time.Second,
	}
}
