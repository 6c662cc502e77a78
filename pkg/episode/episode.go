// Package episode defines the completed idle-period record.
package episode

import (
	"time"

	"github.com/danpilch/idleprobe/pkg/clock"
)

// Episode is one completed begin->end idle interval on a CPU.
// It is never modified once appended to a capture log.
type Episode struct {
	Sequence       uint64         `json:"sequence"`
	CPU            int            `json:"cpu"`
	StartWall      clock.Timespec `json:"start_wall"`
	StartMonotonic clock.Timespec `json:"start_monotonic"`
	EndMonotonic   clock.Timespec `json:"end_monotonic"`
	StartTicks     clock.Timespec `json:"start_ticks"`
	EndTicks       clock.Timespec `json:"end_ticks"`
}

// New combines a begin and an end reading into an episode for cpu.
// The sequence is assigned later by the capture log.
func New(cpu int, begin, end clock.Reading) Episode {
	return Episode{
		CPU:            cpu,
		StartWall:      begin.Wall,
		StartMonotonic: begin.Monotonic,
		EndMonotonic:   end.Monotonic,
		StartTicks:     begin.Ticks,
		EndTicks:       end.Ticks,
	}
}

// DurationNanoseconds is the authoritative idle time, from the monotonic pair.
func (e Episode) DurationNanoseconds() int64 {
	return e.EndMonotonic.Sub(e.StartMonotonic)
}

// Duration returns DurationNanoseconds as a time.Duration.
func (e Episode) Duration() time.Duration {
	return time.Duration(e.DurationNanoseconds())
}

// TickDurationNanoseconds is the idle time measured on the tick clock.
func (e Episode) TickDurationNanoseconds() int64 {
	return e.EndTicks.Sub(e.StartTicks)
}

// EndWall is the start wall time advanced by the monotonic duration.
func (e Episode) EndWall() clock.Timespec {
	return e.StartWall.Add(e.DurationNanoseconds())
}

// Valid reports whether the monotonic pair is well formed.
func (e Episode) Valid() bool {
	return !e.EndMonotonic.Before(e.StartMonotonic)
}
