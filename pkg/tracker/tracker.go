// Package tracker turns per-CPU begin/end idle notifications into episodes.
package tracker

import (
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/danpilch/idleprobe/pkg/clock"
	"github.com/danpilch/idleprobe/pkg/episode"
)

// ErrInvalidCPUCount is returned when a tracker is sized below one CPU.
var ErrInvalidCPUCount = errors.New("tracker: cpu count must be at least 1")

// slot holds the in-flight half of one CPU's episode. Each slot is padded
// to 128 bytes so the hot fields of neighbouring CPUs never share a line.
type slot struct {
	begin  clock.Reading
	active bool
	_      [79]byte
}

// Stats counts notifications that did not produce an episode.
type Stats struct {
	UnmatchedEnds    uint64 `json:"unmatched_ends"`
	OverwrittenBegin uint64 `json:"overwritten_begins"`
	Malformed        uint64 `json:"malformed"`
	OutOfRange       uint64 `json:"out_of_range"`
	Discarded        uint64 `json:"discarded_begins"`
}

// Tracker holds one pending slot per CPU.
//
// Calls for a given CPU must not run concurrently with each other; calls
// for different CPUs may. Hooks satisfy this by delivering one CPU's
// notifications from a single goroutine.
type Tracker struct {
	clock clock.Source
	slots []slot

	unmatched   atomic.Uint64
	overwritten atomic.Uint64
	malformed   atomic.Uint64
	outOfRange  atomic.Uint64
	discarded   atomic.Uint64
}

// New creates a tracker for cpus CPUs reading time from src.
func New(cpus int, src clock.Source) (*Tracker, error) {
	if cpus < 1 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidCPUCount, cpus)
	}
	if src == nil {
		src = clock.System()
	}
	return &Tracker{
		clock: src,
		slots: make([]slot, cpus),
	}, nil
}

// CPUs returns the number of slots.
func (t *Tracker) CPUs() int {
	return len(t.slots)
}

// Begin records the start of an idle period on cpu. A begin that was never
// closed is overwritten silently.
func (t *Tracker) Begin(cpu int) {
	if !t.inRange(cpu) {
		return
	}
	t.BeginAt(cpu, t.clock.Now())
}

// BeginAt is Begin with a reading already taken by the caller.
func (t *Tracker) BeginAt(cpu int, r clock.Reading) {
	if !t.inRange(cpu) {
		return
	}
	s := &t.slots[cpu]
	if s.active {
		t.overwritten.Add(1)
	}
	s.begin = r
	s.active = true
}

// End closes the pending idle period on cpu and returns the episode.
// It returns false when no begin is pending, which happens for the first
// end notification after the hook attaches.
func (t *Tracker) End(cpu int) (episode.Episode, bool) {
	if !t.inRange(cpu) {
		return episode.Episode{}, false
	}
	if !t.slots[cpu].active {
		t.unmatched.Add(1)
		return episode.Episode{}, false
	}
	return t.EndAt(cpu, t.clock.Now())
}

// EndAt is End with a reading already taken by the caller.
func (t *Tracker) EndAt(cpu int, r clock.Reading) (episode.Episode, bool) {
	if !t.inRange(cpu) {
		return episode.Episode{}, false
	}
	s := &t.slots[cpu]
	if !s.active {
		t.unmatched.Add(1)
		return episode.Episode{}, false
	}
	s.active = false

	ep := episode.New(cpu, s.begin, r)
	if !ep.Valid() {
		t.malformed.Add(1)
		return episode.Episode{}, false
	}
	return ep, true
}

// Discard drops the open begin on cpu, if any. Hooks call it when they
// know notifications for that CPU were lost, so the next end cannot pair
// with a begin from before the gap.
func (t *Tracker) Discard(cpu int) {
	if !t.inRange(cpu) {
		return
	}
	s := &t.slots[cpu]
	if s.active {
		s.active = false
		t.discarded.Add(1)
	}
}

func (t *Tracker) pending(cpu int) bool {
	return t.inRange(cpu) && t.slots[cpu].active
}

// Stats returns a snapshot of the tracker counters.
func (t *Tracker) Stats() Stats {
	return Stats{
		UnmatchedEnds:    t.unmatched.Load(),
		OverwrittenBegin: t.overwritten.Load(),
		Malformed:        t.malformed.Load(),
		OutOfRange:       t.outOfRange.Load(),
		Discarded:        t.discarded.Load(),
	}
}

func (t *Tracker) inRange(cpu int) bool {
	if cpu < 0 || cpu >= len(t.slots) {
		t.outOfRange.Add(1)
		return false
	}
	return true
}
