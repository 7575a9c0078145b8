//go:build headless

package midiport

const driverAvailable = false
