package handoff

import (
	"fmt"
	"time"
)

// Monitor detects an Emitter that never leaves its drain section.
//
// Check is meant to be called from a single watchdog goroutine at an interval
// well below the timeout.
type Monitor struct {
	s       *State
	timeout time.Duration

	watching  bool
	drain     uint64
	busySince time.Time
}

// NewMonitor returns a Monitor that fails once the same drain has been
// observed busy for longer than timeout.
func NewMonitor(s *State, timeout time.Duration) *Monitor {
	if timeout <= 0 {
		timeout = defaultStuckTimeout
	}
	return &Monitor{s: s, timeout: timeout}
}

// Check samples the state. It returns ErrEmitterStuck when the drain seen
// busy by an earlier Check is still busy after the timeout.
func (m *Monitor) Check(now time.Time) error {
	if !m.s.Busy() {
		m.watching = false
		return nil
	}

	drain := m.s.drains.Load()
	if !m.watching || drain != m.drain {
		m.watching = true
		m.drain = drain
		m.busySince = now
		return nil
	}

	if elapsed := now.Sub(m.busySince); elapsed >= m.timeout {
		return fmt.Errorf("%w: drain #%d busy for %s", ErrEmitterStuck, drain, elapsed)
	}

	return nil
}
