package radio

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/pranactl/internal/ringchan"
)

// LinkState represents the link manager's connection lifecycle state.
type LinkState int32

// Link lifecycle states.
const (
	LinkDisconnected LinkState = iota
	LinkConnecting
	LinkHandshaking
	LinkReady
)

// String returns a log-friendly state name.
func (s LinkState) String() string {
	switch s {
	case LinkDisconnected:
		return "disconnected"
	case LinkConnecting:
		return "connecting"
	case LinkHandshaking:
		return "handshaking"
	case LinkReady:
		return "ready"
	default:
		return fmt.Sprintf("LinkState(%d)", int32(s))
	}
}

// Notification is one raw payload chunk delivered by the radio layer,
// stamped at receipt.
type Notification struct {
	Data []byte
	At   time.Time
}

// Link manages the BLE session lifecycle for one device: connect,
// subscribe, serialized writes, link-loss detection. Exactly one Link
// exists per device session; the proprietary protocol does not support
// multiplexed access.
//
// Link never reconnects on its own. On link loss it transitions to
// LinkDisconnected and emits an event on Lost(); the retry policy
// lives with the caller.
type Link struct {
	transport Transport
	opts      *LinkOptions
	logger    *logrus.Logger

	mu        sync.Mutex
	state     LinkState
	conn      Conn
	watchStop chan struct{}

	writeMu sync.Mutex // FIFO: at most one outstanding write

	notifs *ringchan.RingChannel[Notification]
	lost   chan error

	closed bool
}

// NewLink creates a link manager over the given transport.
func NewLink(transport Transport, opts *LinkOptions, logger *logrus.Logger) *Link {
	if logger == nil {
		logger = logrus.New()
	}
	return &Link{
		transport: transport,
		opts:      opts,
		logger:    logger,
		notifs:    ringchan.New[Notification](64),
		lost:      make(chan error, 4),
	}
}

// State returns the current lifecycle state.
func (l *Link) State() LinkState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// Notifications returns the stream of raw payload chunks. The channel
// persists across reconnects and is closed by Close. Single consumer;
// delivery order matches radio delivery order.
func (l *Link) Notifications() <-chan Notification {
	return l.notifs.C()
}

// Lost delivers one event per unexpected link drop.
func (l *Link) Lost() <-chan error {
	return l.lost
}

// Connect establishes the session: dial, GATT handshake, notification
// subscription. Valid only while disconnected.
func (l *Link) Connect(ctx context.Context, address string) error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return fmt.Errorf("link closed")
	}
	if l.state != LinkDisconnected {
		l.mu.Unlock()
		return ErrAlreadyConnected
	}
	l.state = LinkConnecting
	l.mu.Unlock()

	connCtx, cancel := context.WithTimeout(ctx, l.opts.ConnectTimeout)
	defer cancel()

	conn, err := l.transport.ConnectGatt(connCtx, address)
	if err != nil {
		l.setState(LinkDisconnected)
		return NormalizeError(err)
	}

	l.setState(LinkHandshaking)
	err = conn.Subscribe(l.opts.Characteristic, func(data []byte) {
		// Copy: the radio layer may reuse the buffer after the
		// callback returns.
		chunk := make([]byte, len(data))
		copy(chunk, data)
		l.notifs.Send(Notification{Data: chunk, At: time.Now()})
	})
	if err != nil {
		_ = conn.Close()
		l.setState(LinkDisconnected)
		return NormalizeError(err)
	}

	stop := make(chan struct{})
	l.mu.Lock()
	l.conn = conn
	l.watchStop = stop
	l.state = LinkReady
	l.mu.Unlock()

	go l.watch(conn, stop)

	l.logger.WithField("address", address).Info("Link ready")
	return nil
}

// watch waits for the radio layer's disconnect signal and turns it
// into a link-loss event, unless the link was closed deliberately.
func (l *Link) watch(conn Conn, stop chan struct{}) {
	select {
	case <-stop:
		return
	case <-conn.Disconnected():
	}

	l.mu.Lock()
	if l.conn != conn {
		// A newer session replaced this one while the event was in
		// flight.
		l.mu.Unlock()
		return
	}
	l.conn = nil
	l.watchStop = nil
	l.state = LinkDisconnected
	l.mu.Unlock()

	l.logger.Warn("BLE link lost")
	_ = conn.Close()

	select {
	case l.lost <- ErrLinkLost:
	default:
	}
}

// Write sends one payload and waits for the device-level write
// acknowledgment. Writes are serialized: at most one outstanding write
// per session, preserving command order.
func (l *Link) Write(ctx context.Context, data []byte) error {
	l.writeMu.Lock()
	defer l.writeMu.Unlock()

	l.mu.Lock()
	conn := l.conn
	state := l.state
	l.mu.Unlock()

	if state != LinkReady || conn == nil {
		return ErrNotReady
	}

	l.logger.WithField("payload", fmt.Sprintf("% X", data)).Debug("Writing characteristic")
	if err := conn.WriteCharacteristic(ctx, l.opts.Characteristic, data, true); err != nil {
		return NormalizeError(err)
	}
	return nil
}

// Disconnect tears the session down deliberately; no link-loss event
// is emitted.
func (l *Link) Disconnect() error {
	l.mu.Lock()
	conn := l.conn
	stop := l.watchStop
	l.conn = nil
	l.watchStop = nil
	l.state = LinkDisconnected
	l.mu.Unlock()

	if stop != nil {
		close(stop)
	}
	if conn == nil {
		return nil
	}
	return conn.Close()
}

// Close disconnects and releases the notification stream. The link
// cannot be reused afterwards.
func (l *Link) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	l.mu.Unlock()

	err := l.Disconnect()
	l.notifs.Close()
	return err
}

func (l *Link) setState(s LinkState) {
	l.mu.Lock()
	l.state = s
	l.mu.Unlock()
}
