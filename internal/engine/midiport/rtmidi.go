//go:build !headless

package midiport

import _ "gitlab.com/gomidi/midi/v2/drivers/rtmididrv"

const driverAvailable = true
