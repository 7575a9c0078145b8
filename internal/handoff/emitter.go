package handoff

import "github.com/maxux/hombedded-faders/internal/channels"

// Output is the per-period message buffer of the audio engine.
//
// Implementations are called from the real-time thread: Reset and Write must
// not block or allocate.
type Output interface {
	// Reset empties the buffer for the current period.
	Reset()
	// Write appends one message. It fails when the buffer is full.
	Write(msg []byte) error
}

// Emitter drains staged levels into the engine output, once per period.
//
// There must be exactly one Emitter per State, called from one thread.
type Emitter struct {
	s    *State
	msgs [][channels.MessageSize]byte
}

// NewEmitter returns the Emitter for s. Messages are prebuilt from the
// channel table so Process only patches the level byte.
func NewEmitter(s *State) *Emitter {
	return &Emitter{
		s:    s,
		msgs: s.table.Templates(),
	}
}

// Process runs one period: it clears out and, when a handoff is pending,
// writes one control change per changed channel in table order. It returns
// the number of messages written.
//
// Process never blocks, allocates or logs. A message refused by out is
// counted and skipped; the remaining channels are still written. A refused
// channel stays dirty and the handoff stays pending, so the next period
// retries it with whatever level is staged by then.
func (e *Emitter) Process(out Output) int {
	out.Reset()

	s := e.s
	s.emitter.periods.Add(1)

	if !s.phase.CompareAndSwap(uint32(phasePending), uint32(phaseDraining)) {
		return 0
	}
	s.drains.Add(1)

	sh := &s.shared
	written := 0
	refused := false

	for pos := range e.msgs {
		if !sh.dirty[pos] {
			continue
		}

		lvl := sh.staged[pos]
		e.msgs[pos][2] = lvl

		if err := out.Write(e.msgs[pos][:]); err != nil {
			s.emitter.writeFailures.Add(1)
			s.emitter.lastFailed.Store(int32(pos))
			refused = true
			continue
		}

		sh.dirty[pos] = false
		s.emitter.levels[pos].Store(uint32(lvl))
		written++
	}

	s.emitter.emitted.Add(uint64(written))
	if refused {
		s.phase.Store(uint32(phasePending))
	} else {
		s.phase.Store(uint32(phaseIdle))
	}

	return written
}
