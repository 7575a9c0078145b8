package handoff

import (
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/maxux/hombedded-faders/internal/channels"
)

// ErrEmitterStuck reports a period callback that entered its drain section
// and never left it.
var ErrEmitterStuck = errors.New("emitter stuck in drain section")

type phase uint32

const (
	phaseIdle phase = iota
	phasePublishing
	phasePending
	phaseDraining
)

func (p phase) String() string {
	switch p {
	case phaseIdle:
		return "idle"
	case phasePublishing:
		return "publishing"
	case phasePending:
		return "pending"
	case phaseDraining:
		return "draining"
	default:
		return fmt.Sprintf("phase(%d)", uint32(p))
	}
}

// State is the record shared by the Updater and the Emitter.
//
// One State lives for the whole process. Slices are sized once in New; none
// of them is reallocated afterwards.
type State struct {
	table channels.Table

	phase atomic.Uint32

	updater updaterSide
	shared  sharedSide
	emitter emitterSide

	publishes atomic.Uint64
	coalesced atomic.Uint64
	drains    atomic.Uint64
}

// updaterSide is written and read by the Updater only.
type updaterSide struct {
	previous []uint8
	staging  []uint8
	// known is false until a level has been published for the channel; a
	// channel nobody has heard of yet counts as changed on its first sample
	known []bool
}

// sharedSide is written by the Updater while the phase is Publishing and read
// by the Emitter while the phase is Draining. Nothing else touches it.
type sharedSide struct {
	staged []uint8
	dirty  []bool
}

// emitterSide is written by the Emitter only. Everything is atomic so status
// readers on other goroutines never race with the period callback.
type emitterSide struct {
	levels        []atomic.Uint32
	periods       atomic.Uint64
	emitted       atomic.Uint64
	writeFailures atomic.Uint64
	lastFailed    atomic.Int32
}

// New allocates the shared state for the given channel table.
func New(table channels.Table) (*State, error) {
	if err := table.Validate(); err != nil {
		return nil, fmt.Errorf("invalid channel table: %w", err)
	}

	n := table.Len()
	s := &State{
		table: table,
		updater: updaterSide{
			previous: make([]uint8, n),
			staging:  make([]uint8, n),
			known:    make([]bool, n),
		},
		shared: sharedSide{
			staged: make([]uint8, n),
			dirty:  make([]bool, n),
		},
		emitter: emitterSide{
			levels: make([]atomic.Uint32, n),
		},
	}
	s.emitter.lastFailed.Store(-1)

	return s, nil
}

// Table returns the channel table the state was built for.
func (s *State) Table() channels.Table {
	return s.table
}

func (s *State) load() phase {
	return phase(s.phase.Load())
}

// Pending reports whether staged levels are waiting for (or going through)
// emission.
func (s *State) Pending() bool {
	return s.load() != phaseIdle
}

// Busy reports whether the Emitter is inside its drain section.
func (s *State) Busy() bool {
	return s.load() == phaseDraining
}

// Levels returns the last level delivered to the output for each channel, in
// table order.
func (s *State) Levels() []uint8 {
	out := make([]uint8, len(s.emitter.levels))
	for i := range s.emitter.levels {
		out[i] = uint8(s.emitter.levels[i].Load())
	}
	return out
}

// Stats is a snapshot of the handoff counters.
type Stats struct {
	Phase   string
	Pending bool
	Busy    bool

	// Publishes counts Updater publications
	Publishes uint64
	// Coalesced counts publications that landed on a handoff the Emitter had
	// not drained yet
	Coalesced uint64
	// Drains counts periods that found a pending handoff
	Drains uint64
	// Periods counts every Emitter invocation
	Periods uint64
	// Emitted counts messages written to the output
	Emitted uint64
	// WriteFailures counts messages the output refused
	WriteFailures uint64
}

// Stats returns the current counters. Values are read independently and may
// be slightly inconsistent with each other.
func (s *State) Stats() Stats {
	p := s.load()
	return Stats{
		Phase:         p.String(),
		Pending:       p != phaseIdle,
		Busy:          p == phaseDraining,
		Publishes:     s.publishes.Load(),
		Coalesced:     s.coalesced.Load(),
		Drains:        s.drains.Load(),
		Periods:       s.emitter.periods.Load(),
		Emitted:       s.emitter.emitted.Load(),
		WriteFailures: s.emitter.writeFailures.Load(),
	}
}

// LastWriteFailure returns the channel whose message was most recently
// refused by the output.
func (s *State) LastWriteFailure() (channels.Channel, bool) {
	pos := s.emitter.lastFailed.Load()
	if pos < 0 || int(pos) >= s.table.Len() {
		return channels.Channel{}, false
	}
	return s.table.Channels[pos], true
}
