//go:build !linux

package clock

import "fmt"

// setRealtimePriority is not supported on this platform
func setRealtimePriority(prio int) error {
	return fmt.Errorf("real-time priority %d not supported on this platform", prio)
}
