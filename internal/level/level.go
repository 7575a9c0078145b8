// Package level maps raw fader positions to MIDI controller levels.
package level

import "math"

const (
	// Max is the highest level a 7-bit controller value can carry.
	Max = 127

	// RawMax is the highest position a fader sensor reports.
	RawMax = 255

	scale  = 3.1
	spread = 7.0
)

// Correct maps a raw fader position to a controller level.
//
// The sensor is linear but the response we want is not: a square-root curve
// expands the bottom of the travel and compresses the top before quantizing
// to [0,127]. The result is truncated, never rounded, so existing mixer
// snapshots stay reproducible. Out of range input is clamped.
func Correct(raw int) uint8 {
	if raw <= 0 {
		return 0
	}

	x := scale * math.Sqrt(spread*float64(raw))
	if x < 1.0 {
		return 0
	}
	if x > Max {
		return Max
	}

	return uint8(x)
}
