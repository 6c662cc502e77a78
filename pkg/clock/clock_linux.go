//go:build linux

package clock

import (
	"time"

	"golang.org/x/sys/unix"
)

type systemSource struct{}

// Now reads CLOCK_REALTIME, CLOCK_MONOTONIC_RAW and CLOCK_MONOTONIC_COARSE.
// The raw clock is never slewed by NTP; the coarse clock advances once per
// scheduler tick.
func (systemSource) Now() Reading {
	return Reading{
		Wall:      gettime(unix.CLOCK_REALTIME),
		Monotonic: gettime(unix.CLOCK_MONOTONIC_RAW),
		Ticks:     gettime(unix.CLOCK_MONOTONIC_COARSE),
	}
}

func gettime(id int32) Timespec {
	var ts unix.Timespec
	if err := unix.ClockGettime(id, &ts); err != nil {
		return FromTime(time.Now())
	}
	return Timespec{Sec: int64(ts.Sec), Nsec: int64(ts.Nsec)}
}

// MonotonicOffset returns CLOCK_REALTIME - CLOCK_MONOTONIC in nanoseconds.
// Hooks that stamp events with the kernel's ktime use it to derive wall time.
func MonotonicOffset() int64 {
	wall := gettime(unix.CLOCK_REALTIME)
	mono := gettime(unix.CLOCK_MONOTONIC)
	return wall.Sub(mono)
}
