// Package ringchan provides a bounded channel with overwrite-oldest
// semantics, used to decouple radio-rate producers from slower
// consumers without ever blocking the producer.
package ringchan

import "sync"

// RingChannel is a bounded channel-like buffer with overwrite-oldest
// semantics. Producers never block indefinitely: when the buffer is
// full, the oldest element is discarded. Readers consume via C() like a
// normal Go channel.
//
// Notification delivery relies on this: the radio callback must return
// promptly, and a consumer stalled mid-poll should cost stale frames,
// not a wedged BLE stack.
type RingChannel[T any] struct {
	ch chan T

	mu      sync.Mutex
	dropped uint64
	closed  bool
}

// New creates a RingChannel with the given capacity.
func New[T any](capacity int) *RingChannel[T] {
	if capacity <= 0 {
		panic("ringchan: capacity must be > 0")
	}
	return &RingChannel[T]{ch: make(chan T, capacity)}
}

// C returns the underlying receive-only channel. Consumers can range
// over it until Close.
func (rc *RingChannel[T]) C() <-chan T {
	return rc.ch
}

// Send inserts an item, discarding the oldest buffered item when full.
// Sends after Close are dropped silently.
func (rc *RingChannel[T]) Send(v T) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	if rc.closed {
		return
	}
	select {
	case rc.ch <- v:
	default:
		select {
		case <-rc.ch: // drop oldest
			rc.dropped++
		default:
		}
		rc.ch <- v
	}
}

// Dropped returns how many items were discarded due to a full buffer.
func (rc *RingChannel[T]) Dropped() uint64 {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return rc.dropped
}

// Close closes the channel. Safe to call more than once; subsequent
// Sends become no-ops.
func (rc *RingChannel[T]) Close() {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	if rc.closed {
		return
	}
	rc.closed = true
	close(rc.ch)
}
