// Package engine defines what the bridge expects from an audio engine and
// the pieces shared by the concrete engines.
//
// An engine owns the real-time period: once per period it hands its output
// buffer to a Processor (the handoff Emitter) and delivers whatever was
// written. Engines live in sub-packages:
//
//	engine/jack   JACK client with a MIDI output port
//	engine/clock  software period driven by a ticker, for headless hosts
package engine

import (
	"context"
	"errors"

	"github.com/maxux/hombedded-faders/internal/channels"
	"github.com/maxux/hombedded-faders/internal/handoff"
)

// ErrBufferFull is returned by an output that cannot take another message
// in the current period.
var ErrBufferFull = errors.New("midi buffer full")

// ErrShutdown reports an engine stopped by its server.
var ErrShutdown = errors.New("audio engine shut down")

var errMessageSize = errors.New("not a control change message")

// Processor is called once per period from the real-time thread.
type Processor interface {
	Process(out handoff.Output) int
}

// Engine drives a Processor until ctx is cancelled or the engine fails.
type Engine interface {
	// Run blocks. It returns nil after ctx is cancelled.
	Run(ctx context.Context) error
	Info() Info
	// Close releases the engine whether or not Run was called. Calls after
	// the first do nothing.
	Close() error
}

// Info describes a running engine.
type Info struct {
	Kind       string
	Name       string
	SampleRate uint32
}

// Buffer is a fixed capacity message buffer. It never allocates after
// NewBuffer and implements handoff.Output.
type Buffer struct {
	msgs [][channels.MessageSize]byte
	n    int
}

// NewBuffer returns a buffer holding up to capacity messages.
func NewBuffer(capacity int) *Buffer {
	return &Buffer{msgs: make([][channels.MessageSize]byte, capacity)}
}

// Reset empties the buffer.
func (b *Buffer) Reset() {
	b.n = 0
}

// Write appends msg. Messages of another size are rejected.
func (b *Buffer) Write(msg []byte) error {
	if len(msg) != channels.MessageSize {
		return errMessageSize
	}
	if b.n == len(b.msgs) {
		return ErrBufferFull
	}
	copy(b.msgs[b.n][:], msg)
	b.n++
	return nil
}

// Len returns the number of buffered messages.
func (b *Buffer) Len() int {
	return b.n
}

// At returns the i-th buffered message. The slice aliases the buffer and is
// only valid until the next Reset.
func (b *Buffer) At(i int) []byte {
	return b.msgs[i][:]
}
