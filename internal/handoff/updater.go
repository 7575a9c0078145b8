package handoff

import (
	"fmt"
	"sync"
	"time"

	"github.com/maxux/hombedded-faders/internal/level"
	"github.com/maxux/hombedded-faders/internal/types"
)

const (
	defaultPollInterval = time.Millisecond
	defaultStuckTimeout = 250 * time.Millisecond
)

// UpdaterConfig tunes the wait for a draining Emitter.
type UpdaterConfig struct {
	// PollInterval is the sleep between two looks at the phase word
	// (default 1ms).
	PollInterval time.Duration
	// StuckTimeout is how long the Emitter may stay in its drain section
	// before Update gives up with ErrEmitterStuck (default 250ms).
	StuckTimeout time.Duration
}

// Updater turns decoded fader batches into staged levels.
//
// Update and Resync are serialized by a mutex; that mutex is never touched by
// the Emitter.
type Updater struct {
	s *State

	mu    sync.Mutex
	poll  time.Duration
	stuck time.Duration

	now   func() time.Time
	sleep func(time.Duration)
}

// NewUpdater returns the Updater for s.
func NewUpdater(s *State, cfg UpdaterConfig) *Updater {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if cfg.StuckTimeout <= 0 {
		cfg.StuckTimeout = defaultStuckTimeout
	}

	return &Updater{
		s:     s,
		poll:  cfg.PollInterval,
		stuck: cfg.StuckTimeout,
		now:   time.Now,
		sleep: time.Sleep,
	}
}

// Update stages the corrected level of every tracked fader present in batch
// and returns how many channels changed since the last publication.
//
// Entries that are missing or not integers leave their channel untouched.
// Malformed input never fails; the only error is ErrEmitterStuck.
func (u *Updater) Update(batch *types.Batch) (int, error) {
	u.mu.Lock()
	defer u.mu.Unlock()

	side := &u.s.updater
	changed := 0

	for pos, ch := range u.s.table.Channels {
		smp := batch.At(ch.Index)
		if !smp.OK {
			side.staging[pos] = side.previous[pos]
			continue
		}

		side.staging[pos] = level.Correct(smp.Value)
		if !side.known[pos] || side.staging[pos] != side.previous[pos] {
			changed++
		}
	}

	if changed == 0 {
		return 0, nil
	}

	err := u.publish(func(pos int) bool {
		smp := batch.At(u.s.table.Channels[pos].Index)
		return smp.OK && (!side.known[pos] || side.staging[pos] != side.previous[pos])
	})
	if err != nil {
		return 0, err
	}

	for pos, ch := range u.s.table.Channels {
		if batch.At(ch.Index).OK {
			side.known[pos] = true
		}
	}
	copy(side.previous, side.staging)

	return changed, nil
}

// Resync stages every known level again so the next period re-sends the
// whole mixer state. It returns the number of channels staged.
func (u *Updater) Resync() (int, error) {
	u.mu.Lock()
	defer u.mu.Unlock()

	side := &u.s.updater
	copy(side.staging, side.previous)

	n := 0
	for _, k := range side.known {
		if k {
			n++
		}
	}
	if n == 0 {
		return 0, nil
	}

	if err := u.publish(func(pos int) bool { return side.known[pos] }); err != nil {
		return 0, err
	}

	return n, nil
}

// Previous returns the last published level of every channel, in table order.
func (u *Updater) Previous() []uint8 {
	u.mu.Lock()
	defer u.mu.Unlock()

	out := make([]uint8, len(u.s.updater.previous))
	copy(out, u.s.updater.previous)
	return out
}

// publish copies staging into the shared side, marking the channels selected
// by dirty, and leaves the phase Pending.
func (u *Updater) publish(dirty func(pos int) bool) error {
	var deadline time.Time

	for {
		cur := u.s.load()

		switch cur {
		case phaseIdle, phasePending:
			if !u.s.phase.CompareAndSwap(uint32(cur), uint32(phasePublishing)) {
				// the Emitter moved first, look again
				continue
			}

			sh := &u.s.shared
			copy(sh.staged, u.s.updater.staging)
			for pos := range sh.dirty {
				if dirty(pos) {
					sh.dirty[pos] = true
				}
			}

			u.s.phase.Store(uint32(phasePending))
			u.s.publishes.Add(1)
			if cur == phasePending {
				u.s.coalesced.Add(1)
			}
			return nil

		case phaseDraining:
			now := u.now()
			if deadline.IsZero() {
				deadline = now.Add(u.stuck)
			} else if !now.Before(deadline) {
				return fmt.Errorf("%w: still draining after %s", ErrEmitterStuck, u.stuck)
			}
			u.sleep(u.poll)

		default:
			// Publishing is only ever entered under u.mu
			return fmt.Errorf("handoff: unexpected phase %s while publishing", cur)
		}
	}
}
