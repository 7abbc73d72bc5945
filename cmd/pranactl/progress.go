package main

import (
	"fmt"
	"sync"
	"time"
)

const progressUpdateInterval = 250 * time.Millisecond

// progressPrinter shows a single-line countdown while a scan runs and
// clears itself once the phase moves past scanning. Single-use.
type progressPrinter struct {
	prefix   string
	duration time.Duration

	mu      sync.Mutex
	phase   string
	stopped bool

	stopCh chan struct{}
	done   chan struct{}
}

func newProgressPrinter(prefix string, duration time.Duration) *progressPrinter {
	return &progressPrinter{
		prefix:   prefix,
		duration: duration,
		phase:    "Scanning",
		stopCh:   make(chan struct{}),
		done:     make(chan struct{}),
	}
}

func (p *progressPrinter) start() {
	started := time.Now()
	fmt.Printf("\r%s (%s...)   ", p.prefix, p.currentPhase())

	go func() {
		defer close(p.done)
		ticker := time.NewTicker(progressUpdateInterval)
		defer ticker.Stop()

		for {
			select {
			case <-p.stopCh:
				return
			case <-ticker.C:
				remaining := p.duration - time.Since(started)
				if remaining < 0 {
					remaining = 0
				}
				fmt.Printf("\r%s (%s %ds)   ", p.prefix, p.currentPhase(),
					int(remaining.Seconds()+0.5))
			}
		}
	}()
}

func (p *progressPrinter) currentPhase() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.phase
}

// callback adapts the printer to the scanner's progress hook. Any phase
// after "Scanning" ends the countdown.
func (p *progressPrinter) callback() func(phase string) {
	return func(phase string) {
		p.mu.Lock()
		p.phase = phase
		p.mu.Unlock()
		if phase != "Scanning" {
			p.stop()
		}
	}
}

// stop clears the progress line. Safe to call more than once.
func (p *progressPrinter) stop() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	p.mu.Unlock()

	close(p.stopCh)
	<-p.done
	fmt.Print("\r\033[K")
}
