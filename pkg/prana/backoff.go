package prana

import (
	"math/rand"
	"time"

	"github.com/mcuadros/go-defaults"
)

// Backoff implements the reconnection schedule: exponential delay with
// jitter, capped, with a bounded attempt budget. Not safe for
// concurrent use; it is owned by the session loop.
type Backoff struct {
	// Initial is the delay before the first retry.
	Initial time.Duration `default:"1s"`
	// Max caps the delay growth.
	Max time.Duration `default:"60s"`
	// Factor multiplies the delay after each attempt.
	Factor float64 `default:"2"`
	// Jitter spreads each delay by up to this fraction either way, so a
	// fleet of clients does not reconnect in lockstep after a shared
	// outage.
	Jitter float64 `default:"0.2"`
	// MaxAttempts is the budget before the device is declared
	// unavailable. Zero means unbounded.
	MaxAttempts int `default:"8"`

	attempts int
	rnd      *rand.Rand
}

// NewBackoff returns a backoff with the default schedule.
func NewBackoff() *Backoff {
	b := &Backoff{}
	defaults.SetDefaults(b)
	b.rnd = rand.New(rand.NewSource(time.Now().UnixNano()))
	return b
}

// Next returns the delay before the next attempt. The second return is
// false once the attempt budget is exhausted; the caller then treats
// the device as unavailable and keeps probing at the capped delay.
func (b *Backoff) Next() (time.Duration, bool) {
	d := b.Initial
	for i := 0; i < b.attempts; i++ {
		d = time.Duration(float64(d) * b.Factor)
		if d >= b.Max {
			d = b.Max
			break
		}
	}
	b.attempts++

	within := b.MaxAttempts == 0 || b.attempts <= b.MaxAttempts
	return b.jittered(d), within
}

// Attempts returns how many delays have been handed out since the last
// reset.
func (b *Backoff) Attempts() int {
	return b.attempts
}

// Reset restarts the schedule after a successful connection or an
// external request to try again.
func (b *Backoff) Reset() {
	b.attempts = 0
}

func (b *Backoff) jittered(d time.Duration) time.Duration {
	if b.Jitter <= 0 || b.rnd == nil {
		return d
	}
	spread := float64(d) * b.Jitter
	return d + time.Duration((b.rnd.Float64()*2-1)*spread)
}
