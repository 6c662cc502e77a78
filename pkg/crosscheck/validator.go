// Package crosscheck validates captured idle time by comparing independent
// measurements of the same intervals.
package crosscheck

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/danpilch/idleprobe/pkg/episode"
)

// ValidationStatus indicates how well the sources of a metric agree.
type ValidationStatus string

const (
	StatusValid    ValidationStatus = "valid"
	StatusSuspect  ValidationStatus = "suspect"
	StatusConflict ValidationStatus = "conflict"
)

// Source is one measurement of a metric.
type Source struct {
	Name    string  `json:"name"`
	Value   float64 `json:"value"`
	Unit    string  `json:"unit"`
	RawData string  `json:"raw_data,omitempty"`
}

// ValidationResult is the cross-check outcome for one CPU.
type ValidationResult struct {
	Metric        string           `json:"metric"`
	CPU           int              `json:"cpu"`
	Episodes      int              `json:"episodes"`
	Disagreements int              `json:"disagreements"`
	Sources       []Source         `json:"sources"`
	Consensus     float64          `json:"consensus"`
	MaxDeviation  float64          `json:"max_deviation"`
	Status        ValidationStatus `json:"status"`
}

// Validator compares duration sources.
type Validator struct {
	SuspectThreshold  float64       // deviation % to mark suspect (default 5%)
	ConflictThreshold float64       // deviation % to mark conflict (default 20%)
	TickPeriod        time.Duration // resolution of the tick clock
}

// NewValidator creates a validator with default thresholds for a tick
// clock of the given period.
func NewValidator(tick time.Duration) *Validator {
	return &Validator{
		SuspectThreshold:  5.0,
		ConflictThreshold: 20.0,
		TickPeriod:        tick,
	}
}

// CrossCheck takes the median of the sources as consensus and grades the
// largest relative deviation from it.
func (v *Validator) CrossCheck(metric string, sources []Source) ValidationResult {
	result := ValidationResult{
		Metric:  metric,
		CPU:     -1,
		Sources: sources,
		Status:  StatusValid,
	}
	if len(sources) == 0 {
		return result
	}

	values := make([]float64, len(sources))
	for i, s := range sources {
		values[i] = s.Value
	}
	sort.Float64s(values)
	mid := len(values) / 2
	if len(values)%2 == 0 {
		result.Consensus = (values[mid-1] + values[mid]) / 2
	} else {
		result.Consensus = values[mid]
	}

	for _, val := range values {
		var dev float64
		switch {
		case result.Consensus != 0:
			dev = math.Abs(val-result.Consensus) / result.Consensus * 100
		case val != 0:
			dev = 100
		}
		result.MaxDeviation = math.Max(result.MaxDeviation, dev)
	}
	result.Status = v.grade(result.MaxDeviation)
	return result
}

func (v *Validator) grade(dev float64) ValidationStatus {
	switch {
	case dev >= v.ConflictThreshold:
		return StatusConflict
	case dev >= v.SuspectThreshold:
		return StatusSuspect
	}
	return StatusValid
}

type cpuTotals struct {
	monotonic int64
	ticks     int64
	episodes  int
	disagree  int
}

// Check aggregates episodes per CPU and compares the monotonic total with
// the tick total and, when kernel is non-nil, with the kernel's own idle
// accounting over the same window.
//
// Every episode's tick duration may be off by up to one tick period, so a
// CPU whose two totals differ by no more than that is valid regardless of
// the relative deviation.
func (v *Validator) Check(episodes []episode.Episode, kernel map[int]KernelIdle) []ValidationResult {
	per := make(map[int]*cpuTotals)
	get := func(cpu int) *cpuTotals {
		t, ok := per[cpu]
		if !ok {
			t = &cpuTotals{}
			per[cpu] = t
		}
		return t
	}

	tol := int64(v.TickPeriod)
	for _, ep := range episodes {
		t := get(ep.CPU)
		m, k := ep.DurationNanoseconds(), ep.TickDurationNanoseconds()
		t.monotonic += m
		t.ticks += k
		t.episodes++
		if absInt64(m-k) > tol {
			t.disagree++
		}
	}
	for cpu, k := range kernel {
		if k.Stat > 0 || k.Residency > 0 {
			get(cpu)
		}
	}

	cpus := make([]int, 0, len(per))
	for cpu := range per {
		cpus = append(cpus, cpu)
	}
	sort.Ints(cpus)

	results := make([]ValidationResult, 0, len(cpus))
	for _, cpu := range cpus {
		t := per[cpu]
		sources := []Source{
			{Name: "monotonic", Value: millis(t.monotonic), Unit: "ms"},
			{Name: "ticks", Value: millis(t.ticks), Unit: "ms"},
		}
		k, haveKernel := kernel[cpu]
		if haveKernel {
			sources = append(sources, Source{
				Name:    "/proc/stat",
				Value:   millis(int64(k.Stat)),
				Unit:    "ms",
				RawData: "idle column, USER_HZ resolution",
			})
			if k.HasResidency {
				sources = append(sources, Source{
					Name:    "cpuidle",
					Value:   millis(int64(k.Residency)),
					Unit:    "ms",
					RawData: "sum of cpuidle state residency",
				})
			}
		}

		r := v.CrossCheck(fmt.Sprintf("cpu%d idle", cpu), sources)
		r.CPU = cpu
		r.Episodes = t.episodes
		r.Disagreements = t.disagree
		if !haveKernel && t.episodes > 0 && absInt64(t.monotonic-t.ticks) <= int64(t.episodes)*tol {
			r.Status = StatusValid
		}
		results = append(results, r)
	}
	return results
}

func millis(ns int64) float64 {
	return float64(ns) / float64(time.Millisecond)
}

func absInt64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
