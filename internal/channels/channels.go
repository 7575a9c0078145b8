// Package channels holds the static table mapping fader indices to mixer
// controllers.
package channels

import (
	"errors"
	"fmt"

	"gitlab.com/gomidi/midi/v2"
)

// MessageSize is the length of a control change message on the wire.
const MessageSize = 3

var (
	ErrEmptyTable         = errors.New("channel table is empty")
	ErrDuplicateIndex     = errors.New("duplicate fader index")
	ErrInvalidController  = errors.New("controller id out of range")
	ErrInvalidMIDIChannel = errors.New("midi channel out of range")
)

// Channel binds one fader index of the incoming batches to one controller of
// the mixer.
type Channel struct {
	Index      int    `yaml:"index"`
	Controller uint8  `yaml:"controller"`
	Name       string `yaml:"name"`
}

// Table is the ordered set of tracked channels. Emission follows table order.
type Table struct {
	MIDIChannel uint8
	Channels    []Channel
}

// Default returns the historical wiring: "Phones" on fader 0 and "Master" on
// fader 1.
func Default() Table {
	return Table{
		MIDIChannel: 0,
		Channels: []Channel{
			{Index: 0, Controller: 47, Name: "Phones"},
			{Index: 1, Controller: 50, Name: "Master"},
		},
	}
}

// Validate checks the table can be used by the handoff.
func (t Table) Validate() error {
	if len(t.Channels) == 0 {
		return ErrEmptyTable
	}
	if t.MIDIChannel > 15 {
		return fmt.Errorf("%w: %d", ErrInvalidMIDIChannel, t.MIDIChannel)
	}

	seen := make(map[int]string, len(t.Channels))
	for _, ch := range t.Channels {
		if ch.Index < 0 {
			return fmt.Errorf("channel %q: fader index must be >= 0, got %d", ch.Name, ch.Index)
		}
		if ch.Controller > 127 {
			return fmt.Errorf("%w: channel %q uses %d", ErrInvalidController, ch.Name, ch.Controller)
		}
		if other, ok := seen[ch.Index]; ok {
			return fmt.Errorf("%w: %d used by %q and %q", ErrDuplicateIndex, ch.Index, other, ch.Name)
		}
		seen[ch.Index] = ch.Name
	}

	return nil
}

// Len returns the number of tracked channels.
func (t Table) Len() int {
	return len(t.Channels)
}

// Templates builds one control change message per channel, in table order,
// with a zero level. The emitter patches the level byte in place so no
// message is built on the real-time path.
func (t Table) Templates() [][MessageSize]byte {
	out := make([][MessageSize]byte, len(t.Channels))
	for i, ch := range t.Channels {
		copy(out[i][:], midi.ControlChange(t.MIDIChannel, ch.Controller, 0))
	}
	return out
}

// Describe renders a control change message for logs.
func Describe(msg []byte) string {
	var ch, ctl, val uint8
	if midi.Message(msg).GetControlChange(&ch, &ctl, &val) {
		return fmt.Sprintf("cc ch=%d ctl=%d val=%d", ch, ctl, val)
	}
	return midi.Message(msg).String()
}
