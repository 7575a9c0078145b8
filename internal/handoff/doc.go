// Package handoff moves fader levels from the broker side of the process into
// the audio engine's real-time period callback.
//
// # Philosophy
//
// "The period callback never waits."
//
// The engine calls the Emitter once per period (a few milliseconds) and
// expects it back well inside that period every time. Fader batches arrive
// from the network whenever they like. Anything the two sides share is
// exchanged through a single atomic phase word, never a mutex: a mutex would
// let the network side stall the audio thread.
//
// # Ownership
//
// State partitions its fields by writer:
//
//	updaterSide  previous snapshot, known marks     Updater only
//	sharedSide   staged levels, dirty marks         Updater in Publishing, Emitter in Draining
//	emitterSide  delivered levels, period counters  Emitter only (atomics, readable anywhere)
//
// # Phases
//
//	Idle ──(Updater CAS)──▶ Publishing ──(store)──▶ Pending
//	Pending ──(Updater CAS)──▶ Publishing            coalesces into the pending handoff
//	Pending ──(Emitter CAS)──▶ Draining ──(store)──▶ Idle
//	                                      └─(store)──▶ Pending  a write was refused
//
// The Updater never writes sharedSide outside Publishing and the Emitter never
// reads it outside Draining; both phases are entered by compare-and-swap, so
// there is no window between "is the other side busy" and "write".
//
// When the Emitter finds the phase Idle or Publishing it returns at once. An
// update still being written is picked up by the next period.
//
// # Failure
//
// Draining is bounded by one period. The Updater polls (short sleeps) while
// the phase is Draining and gives up with ErrEmitterStuck after the configured
// timeout. Monitor applies the same rule from a watchdog goroutine. Both are
// fatal: a real-time callback that never returns cannot be recovered.
//
// A message the output refuses (full port buffer) is not lost: its channel
// keeps its dirty mark and the Emitter leaves the phase Pending, so the next
// period sends it again.
//
// # Usage
//
//	state, _ := handoff.New(channels.Default())
//	updater := handoff.NewUpdater(state, handoff.UpdaterConfig{})
//	emitter := handoff.NewEmitter(state)
//
//	// engine thread, once per period
//	emitter.Process(out)
//
//	// broker side, per batch
//	changed, err := updater.Update(batch)
package handoff
