package crosscheck

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// ErrUnsupported is returned where the kernel counters are unavailable.
var ErrUnsupported = errors.New("kernel idle counters unsupported on this platform")

// userHZ is the unit of /proc/stat times.
const userHZ = 100

// KernelIdle is the kernel's cumulative idle accounting for one CPU.
type KernelIdle struct {
	Stat         time.Duration `json:"stat"`
	Residency    time.Duration `json:"residency"`
	HasResidency bool          `json:"has_residency"`
}

// KernelSample maps CPU index to its counters at one instant.
type KernelSample map[int]KernelIdle

// Delta returns after minus before for CPUs present in both samples.
func Delta(before, after KernelSample) map[int]KernelIdle {
	out := make(map[int]KernelIdle, len(after))
	for cpu, a := range after {
		b, ok := before[cpu]
		if !ok {
			continue
		}
		out[cpu] = KernelIdle{
			Stat:         a.Stat - b.Stat,
			Residency:    a.Residency - b.Residency,
			HasResidency: a.HasResidency && b.HasResidency,
		}
	}
	return out
}

// parseProcStat reads the per-CPU idle column of /proc/stat.
func parseProcStat(r io.Reader) (KernelSample, error) {
	sample := make(KernelSample)
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 5 || !strings.HasPrefix(fields[0], "cpu") || fields[0] == "cpu" {
			continue
		}
		cpu, err := strconv.Atoi(strings.TrimPrefix(fields[0], "cpu"))
		if err != nil {
			continue
		}
		idle, err := strconv.ParseUint(fields[4], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parse idle for %s: %w", fields[0], err)
		}
		sample[cpu] = KernelIdle{Stat: time.Duration(idle) * time.Second / userHZ}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if len(sample) == 0 {
		return nil, errors.New("no per-cpu lines in /proc/stat")
	}
	return sample, nil
}

// readResidency sums the cpuidle state residency counters, reported in
// microseconds, under root for cpu.
func readResidency(root string, cpu int) (time.Duration, bool) {
	paths, err := filepath.Glob(filepath.Join(root, fmt.Sprintf("cpu%d", cpu), "cpuidle", "state*", "time"))
	if err != nil || len(paths) == 0 {
		return 0, false
	}
	var total time.Duration
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			return 0, false
		}
		us, err := strconv.ParseUint(strings.TrimSpace(string(data)), 10, 64)
		if err != nil {
			return 0, false
		}
		total += time.Duration(us) * time.Microsecond
	}
	return total, true
}

// sampleFrom reads /proc/stat at statPath and residency under cpuRoot.
func sampleFrom(statPath, cpuRoot string) (KernelSample, error) {
	f, err := os.Open(statPath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	sample, err := parseProcStat(f)
	if err != nil {
		return nil, err
	}
	for cpu, k := range sample {
		if res, ok := readResidency(cpuRoot, cpu); ok {
			k.Residency = res
			k.HasResidency = true
			sample[cpu] = k
		}
	}
	return sample, nil
}
