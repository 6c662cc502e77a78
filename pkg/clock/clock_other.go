//go:build !linux

package clock

import "time"

const fallbackTick = 4 * time.Millisecond

var base = time.Now()

type systemSource struct{}

// Now derives the monotonic clock from Go's monotonic reading and the tick
// clock from the monotonic one truncated to a fixed tick.
func (systemSource) Now() Reading {
	now := time.Now()
	mono := int64(now.Sub(base))
	return Reading{
		Wall:      FromTime(now),
		Monotonic: FromNanoseconds(mono),
		Ticks:     FromNanoseconds(mono - mono%int64(fallbackTick)),
	}
}

// MonotonicOffset returns wall time minus the package monotonic clock.
func MonotonicOffset() int64 {
	now := time.Now()
	return now.UnixNano() - int64(now.Sub(base))
}
