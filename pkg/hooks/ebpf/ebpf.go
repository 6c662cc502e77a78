// Package ebpf attaches an eBPF program to the power:cpu_idle tracepoint
// and turns its events into idle notifications.
package ebpf

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/danpilch/idleprobe/pkg/clock"
	"github.com/danpilch/idleprobe/pkg/hooks"
	"github.com/sirupsen/logrus"
)

// exitState is PWR_EVENT_EXIT, the cpu_idle state reported on idle exit.
const exitState = ^uint32(0)

// eventSize is the size of the record the program emits.
const eventSize = 24

// Config tunes the perf buffer and the tick clock conversion.
type Config struct {
	// PerCPUPages is the perf ring size per CPU, in pages.
	PerCPUPages int
	// TickHz is the kernel's CONFIG_HZ, used to turn jiffies into time.
	TickHz int
}

// DefaultConfig returns the defaults.
func DefaultConfig() Config {
	return Config{
		PerCPUPages: 8,
		TickHz:      250,
	}
}

func (c Config) tickPeriod() int64 {
	if c.TickHz <= 0 {
		return int64(4 * time.Millisecond)
	}
	return int64(time.Second) / int64(c.TickHz)
}

// event mirrors the record written by the program.
type event struct {
	State   uint32
	CPU     uint32
	Ktime   uint64
	Jiffies uint64
}

func decodeEvent(raw []byte) (event, error) {
	if len(raw) < eventSize {
		return event{}, fmt.Errorf("short cpu_idle record: %d bytes", len(raw))
	}
	return event{
		State:   binary.LittleEndian.Uint32(raw[0:4]),
		CPU:     binary.LittleEndian.Uint32(raw[4:8]),
		Ktime:   binary.LittleEndian.Uint64(raw[8:16]),
		Jiffies: binary.LittleEndian.Uint64(raw[16:24]),
	}, nil
}

// reading converts the kernel stamps into a clock reading. wallOffset is
// CLOCK_REALTIME minus CLOCK_MONOTONIC at delivery time.
func (e event) reading(wallOffset, tickPeriod int64) clock.Reading {
	mono := int64(e.Ktime)
	return clock.Reading{
		Wall:      clock.FromNanoseconds(mono + wallOffset),
		Monotonic: clock.FromNanoseconds(mono),
		Ticks:     clock.FromNanoseconds(int64(e.Jiffies) * tickPeriod),
	}
}

// dispatch forwards one event to the notifier.
func dispatch(n hooks.Notifier, e event, wallOffset, tickPeriod int64) {
	r := e.reading(wallOffset, tickPeriod)
	if e.State == exitState {
		n.EndEpisodeAt(int(e.CPU), r)
		return
	}
	n.BeginEpisodeAt(int(e.CPU), r)
}

// deliver handles one perf record. A record reporting lost samples resets
// the CPU's pending begin: the lost events may have included its end.
func deliver(n hooks.Notifier, cpu int, lost uint64, raw []byte, wallOffset, tickPeriod int64) error {
	if lost != 0 {
		n.DiscardEpisode(cpu)
		return nil
	}
	evt, err := decodeEvent(raw)
	if err != nil {
		return err
	}
	dispatch(n, evt, wallOffset, tickPeriod)
	return nil
}

func defaultLogger(logger *logrus.Logger) *logrus.Logger {
	if logger != nil {
		return logger
	}
	logger = logrus.New()
	logger.SetLevel(logrus.WarnLevel)
	return logger
}
