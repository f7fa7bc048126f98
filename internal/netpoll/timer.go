package netpoll

import (
	"fmt"
	"time"

	"golang.org/x/sys/unix"
)

// NewIntervalTimer creates a Linux timerfd that fires repeatedly every
// interval, suitable for registering as a Timer token with an EventLoop.
func NewIntervalTimer(interval time.Duration) (int, error) {
	fd, err := unix.TimerfdCreate(unix.CLOCK_MONOTONIC, unix.TFD_CLOEXEC|unix.TFD_NONBLOCK)
	if err != nil {
		return -1, fmt.Errorf("netpoll: timerfd_create: %w", err)
	}
	spec := durationToTimespec(interval)
	its := &unix.ItimerSpec{Interval: spec, Value: spec}
	if err := unix.TimerfdSettime(fd, 0, its, nil); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("netpoll: timerfd_settime: %w", err)
	}
	return fd, nil
}

// DrainTimer reads and discards the expiration counter, clearing the
// descriptor's readiness as required before returning from a Timer
// callback.
func DrainTimer(fd int) error {
	var buf [8]byte
	_, err := unix.Read(fd, buf[:])
	if err != nil && err != unix.EAGAIN {
		return fmt.Errorf("netpoll: drain timerfd: %w", err)
	}
	return nil
}

func durationToTimespec(d time.Duration) unix.Timespec {
	return unix.NsecToTimespec(d.Nanoseconds())
}
