// Package jack runs the period callback inside a JACK client and writes the
// resulting control changes to its MIDI output port.
//
// The client needs cgo and libjack. Builds tagged headless replace it with
// a stub whose New always fails.
package jack

import (
	"errors"
	"log/slog"
)

// ErrUnavailable is returned by New in builds without JACK support.
var ErrUnavailable = errors.New("built without jack support (headless build)")

// Config describes the JACK client.
type Config struct {
	ClientName string
	ServerName string
	PortName   string
	// ConnectTo is a port name pattern; the first match gets connected to
	// our output. Empty disables auto-connect.
	ConnectTo string
}

// patchbay is the part of the JACK graph used by auto-connect.
type patchbay interface {
	// InputPorts lists MIDI input ports matching pattern.
	InputPorts(pattern string) []string
	Connect(src, dst string) error
}

// autoConnect connects src to the first MIDI input matching pattern and
// returns its name. A missing target is only worth a warning: the mixer may
// be started later and patched by hand.
func autoConnect(pb patchbay, src, pattern string) string {
	if pattern == "" {
		return ""
	}

	ports := pb.InputPorts(pattern)
	if len(ports) == 0 {
		slog.Warn("no port to auto-connect", "pattern", pattern)
		return ""
	}

	if err := pb.Connect(src, ports[0]); err != nil {
		slog.Warn("auto-connect failed", "from", src, "to", ports[0], "error", err)
		return ""
	}

	slog.Info("output connected", "from", src, "to", ports[0])
	return ports[0]
}
