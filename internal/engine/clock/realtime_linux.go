//go:build linux

package clock

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// setRealtimePriority moves the calling thread to SCHED_FIFO at prio.
// The caller must have locked itself to its OS thread.
func setRealtimePriority(prio int) error {
	attr := unix.SchedAttr{
		Size:     unix.SizeofSchedAttr,
		Policy:   unix.SCHED_FIFO,
		Priority: uint32(prio),
	}
	if err := unix.SchedSetAttr(0, &attr, 0); err != nil {
		return fmt.Errorf("sched_setattr SCHED_FIFO %d: %w", prio, err)
	}
	return nil
}
