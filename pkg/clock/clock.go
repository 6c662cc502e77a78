// Package clock provides the timestamp sources used to stamp idle episodes.
package clock

import (
	"sync"
	"time"
)

const nsPerSec = int64(time.Second)

// Timespec is a timestamp split into seconds and nanoseconds.
type Timespec struct {
	Sec  int64 `json:"sec"`
	Nsec int64 `json:"nsec"`
}

// FromNanoseconds converts a nanosecond count into a normalized Timespec.
func FromNanoseconds(ns int64) Timespec {
	return Timespec{Sec: ns / nsPerSec, Nsec: ns % nsPerSec}.normalize()
}

// FromTime converts a time.Time into a Timespec.
func FromTime(t time.Time) Timespec {
	return Timespec{Sec: t.Unix(), Nsec: int64(t.Nanosecond())}
}

// Nanoseconds returns the timestamp as a single nanosecond count.
func (t Timespec) Nanoseconds() int64 {
	return t.Sec*nsPerSec + t.Nsec
}

// Add returns t advanced by ns nanoseconds.
func (t Timespec) Add(ns int64) Timespec {
	return Timespec{Sec: t.Sec + ns/nsPerSec, Nsec: t.Nsec + ns%nsPerSec}.normalize()
}

// Sub returns t - u in nanoseconds.
func (t Timespec) Sub(u Timespec) int64 {
	return (t.Sec-u.Sec)*nsPerSec + t.Nsec - u.Nsec
}

// Before reports whether t is strictly earlier than u.
func (t Timespec) Before(u Timespec) bool {
	return t.Sub(u) < 0
}

// IsZero reports whether t is the zero timestamp.
func (t Timespec) IsZero() bool {
	return t.Sec == 0 && t.Nsec == 0
}

func (t Timespec) normalize() Timespec {
	for t.Nsec < 0 {
		t.Nsec += nsPerSec
		t.Sec--
	}
	for t.Nsec >= nsPerSec {
		t.Nsec -= nsPerSec
		t.Sec++
	}
	return t
}

// Reading is one sample of every clock base an episode records.
type Reading struct {
	Wall      Timespec
	Monotonic Timespec
	Ticks     Timespec
}

// Source produces clock readings. Implementations must not block.
type Source interface {
	Now() Reading
}

// System returns the platform clock source.
// Platform-specific implementation in clock_linux.go and clock_other.go.
func System() Source {
	return systemSource{}
}

// Manual is a Source whose readings only change when told to.
type Manual struct {
	mu   sync.Mutex
	now  Reading
	tick int64
}

// NewManual creates a manual source starting at the given wall time with
// monotonic and tick clocks at zero. Ticks advance in steps of tick.
func NewManual(wall time.Time, tick time.Duration) *Manual {
	if tick <= 0 {
		tick = 4 * time.Millisecond
	}
	return &Manual{
		now:  Reading{Wall: FromTime(wall)},
		tick: int64(tick),
	}
}

// Now returns the current reading.
func (m *Manual) Now() Reading {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// Advance moves every clock forward by d. The tick clock only moves in
// whole tick steps, so it lags the monotonic clock by less than one tick.
func (m *Manual) Advance(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now.Wall = m.now.Wall.Add(int64(d))
	m.now.Monotonic = m.now.Monotonic.Add(int64(d))
	mono := m.now.Monotonic.Nanoseconds()
	m.now.Ticks = FromNanoseconds(mono - mono%m.tick)
}

// SetWall moves only the wall clock, the way a settable clock can jump.
func (m *Manual) SetWall(t time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now.Wall = FromTime(t)
}
