// Package midiport sends control changes to a hardware or virtual MIDI
// output through the rtmidi driver.
//
// rtmidi needs cgo. Builds tagged headless leave the driver out: Open fails
// with ErrUnavailable and Ports lists nothing.
package midiport

import (
	"errors"
	"fmt"
	"log/slog"

	"gitlab.com/gomidi/midi/v2"
)

// ErrUnavailable is returned by Open in builds without a MIDI driver.
var ErrUnavailable = errors.New("built without rtmidi support (headless build)")

// Sink writes messages to one MIDI output port.
type Sink struct {
	name string
	send func(midi.Message) error
}

// Open finds the output port called name and opens it.
func Open(name string) (*Sink, error) {
	if !driverAvailable {
		return nil, fmt.Errorf("midi output %q: %w", name, ErrUnavailable)
	}

	out, err := midi.FindOutPort(name)
	if err != nil {
		return nil, fmt.Errorf("midi output %q not found: %w", name, err)
	}

	send, err := midi.SendTo(out)
	if err != nil {
		return nil, fmt.Errorf("failed to open midi output %q: %w", name, err)
	}

	slog.Info("midi output opened", "port", out.String())

	return &Sink{name: out.String(), send: send}, nil
}

// Send writes msg to the port.
func (s *Sink) Send(msg []byte) error {
	return s.send(midi.Message(msg))
}

// Close releases the MIDI driver.
func (s *Sink) Close() error {
	midi.CloseDriver()
	slog.Info("midi output closed", "port", s.name)
	return nil
}

// Ports lists the names of the available output ports.
func Ports() []string {
	if !driverAvailable {
		return nil
	}

	outs := midi.GetOutPorts()
	names := make([]string, 0, len(outs))
	for _, out := range outs {
		names = append(names, out.String())
	}
	return names
}
