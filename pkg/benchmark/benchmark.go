// Package benchmark measures the cost of the producer path: one
// BeginEpisode plus EndEpisode pair, with many CPUs appending at once and
// an optional reader draining concurrently.
package benchmark

import (
	"context"
	"fmt"
	"io"
	"math"
	"runtime"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/danpilch/idleprobe/pkg/capture"
	"github.com/danpilch/idleprobe/pkg/clock"
	"github.com/danpilch/idleprobe/pkg/probe"
	"github.com/danpilch/idleprobe/pkg/tracker"
	"golang.org/x/sync/errgroup"
)

// Options configures a benchmark run.
type Options struct {
	CPUs       int
	Iterations int // begin/end pairs per CPU
	Warmup     int
	Capacity   int
	DrainEvery time.Duration // 0 disables the concurrent reader
	Clock      clock.Source
}

// DefaultOptions returns sensible benchmark defaults.
func DefaultOptions() Options {
	return Options{
		CPUs:       runtime.NumCPU(),
		Iterations: 20000,
		Warmup:     1000,
		Capacity:   capture.DefaultCapacity,
		DrainEvery: 10 * time.Millisecond,
	}
}

// Overhead is the allocation activity during the measured phase.
type Overhead struct {
	AllocBytes uint64
	AllocCount uint64
	GCPauses   uint32
}

// Result holds one run's latency distribution and log counters.
type Result struct {
	CPUs       int
	Operations int
	Elapsed    time.Duration
	P50        time.Duration
	P95        time.Duration
	P99        time.Duration
	Max        time.Duration
	StdDev     time.Duration
	Appended   uint64
	Dropped    uint64
	Evicted    uint64
	Drained    uint64
	Overhead   Overhead
}

// Throughput returns completed pairs per second.
func (r Result) Throughput() float64 {
	if r.Elapsed <= 0 {
		return 0
	}
	return float64(r.Operations) / r.Elapsed.Seconds()
}

var (
	bmTitle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	bmHeader = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("15")).Background(lipgloss.Color("62")).Padding(0, 1)
	bmCell   = lipgloss.NewStyle().Padding(0, 1)
	bmDim    = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
)

// Run executes one benchmark.
func Run(ctx context.Context, opts Options) (Result, error) {
	if opts.CPUs < 1 || opts.Iterations < 1 {
		return Result{}, fmt.Errorf("benchmark needs at least one cpu and iteration, got cpus=%d iterations=%d",
			opts.CPUs, opts.Iterations)
	}
	if opts.Capacity <= 0 {
		opts.Capacity = capture.DefaultCapacity
	}
	src := opts.Clock
	if src == nil {
		src = clock.System()
	}

	tr, err := tracker.New(opts.CPUs, src)
	if err != nil {
		return Result{}, err
	}
	l, err := capture.New(capture.Config{Capacity: opts.Capacity}, src)
	if err != nil {
		return Result{}, err
	}
	p := probe.New(tr, l, nil)
	defer l.Close()

	for cpu := 0; cpu < opts.CPUs; cpu++ {
		for i := 0; i < opts.Warmup; i++ {
			p.BeginEpisode(cpu)
			p.EndEpisode(cpu)
		}
	}
	drainAll(l)
	base := l.Stats()

	latencies := make([][]time.Duration, opts.CPUs)
	for cpu := range latencies {
		latencies[cpu] = make([]time.Duration, opts.Iterations)
	}

	drainCtx, stopDrain := context.WithCancel(ctx)
	var drained uint64
	var drainWG sync.WaitGroup
	if opts.DrainEvery > 0 {
		drainWG.Add(1)
		go func() {
			defer drainWG.Done()
			ticker := time.NewTicker(opts.DrainEvery)
			defer ticker.Stop()
			for {
				select {
				case <-drainCtx.Done():
					return
				case <-ticker.C:
					drained += drainAll(l)
				}
			}
		}()
	}

	var before, after runtime.MemStats
	runtime.ReadMemStats(&before)
	start := time.Now()

	g, gctx := errgroup.WithContext(ctx)
	for cpu := 0; cpu < opts.CPUs; cpu++ {
		samples := latencies[cpu]
		g.Go(func() error {
			for i := range samples {
				if i%1024 == 0 {
					if err := gctx.Err(); err != nil {
						return err
					}
				}
				t0 := time.Now()
				p.BeginEpisode(cpu)
				p.EndEpisode(cpu)
				samples[i] = time.Since(t0)
			}
			return nil
		})
	}
	err = g.Wait()
	elapsed := time.Since(start)
	runtime.ReadMemStats(&after)

	stopDrain()
	drainWG.Wait()
	if err != nil {
		return Result{}, fmt.Errorf("benchmark interrupted: %w", err)
	}

	all := make([]time.Duration, 0, opts.CPUs*opts.Iterations)
	for _, s := range latencies {
		all = append(all, s...)
	}
	slices.Sort(all)

	st := l.Stats()
	return Result{
		CPUs:       opts.CPUs,
		Operations: len(all),
		Elapsed:    elapsed,
		P50:        percentile(all, 0.50),
		P95:        percentile(all, 0.95),
		P99:        percentile(all, 0.99),
		Max:        all[len(all)-1],
		StdDev:     time.Duration(stddev(all)),
		Appended:   st.Appended - base.Appended,
		Dropped:    st.Dropped - base.Dropped,
		Evicted:    st.Evicted - base.Evicted,
		Drained:    drained,
		Overhead: Overhead{
			AllocBytes: after.TotalAlloc - before.TotalAlloc,
			AllocCount: after.Mallocs - before.Mallocs,
			GCPauses:   after.NumGC - before.NumGC,
		},
	}, nil
}

func drainAll(l *capture.Log) uint64 {
	s := l.Open()
	defer s.Stop()
	var n uint64
	for _, ok := s.Start(); ok; _, ok = s.Next() {
		n++
	}
	return n
}

// RenderResults outputs styled benchmark results.
func RenderResults(w io.Writer, results []Result) {
	fmt.Fprintln(w, bmTitle.Render("Producer Path Benchmark"))
	fmt.Fprintln(w, bmDim.Render(strings.Repeat("═", 70)))

	rows := make([][]string, 0, len(results))
	for _, r := range results {
		rows = append(rows, []string{
			strconv.Itoa(r.CPUs),
			strconv.Itoa(r.Operations),
			r.P50.String(),
			r.P95.String(),
			r.P99.String(),
			r.Max.String(),
			fmt.Sprintf("%.0f/s", r.Throughput()),
			strconv.FormatUint(r.Dropped, 10),
			strconv.FormatUint(r.Evicted, 10),
			formatBytes(r.Overhead.AllocBytes),
		})
	}
	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(bmDim).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return bmHeader
			}
			return bmCell
		}).
		Headers("CPUS", "PAIRS", "P50", "P95", "P99", "MAX", "THROUGHPUT", "DROPPED", "EVICTED", "ALLOC").
		Rows(rows...)
	fmt.Fprintln(w, t)
}

func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(math.Ceil(p*float64(len(sorted)))) - 1
	idx = max(0, min(idx, len(sorted)-1))
	return sorted[idx]
}

func stddev(values []time.Duration) float64 {
	if len(values) < 2 {
		return 0
	}
	var sum, sumSq float64
	for _, d := range values {
		v := float64(d)
		sum += v
		sumSq += v * v
	}
	n := float64(len(values))
	mean := sum / n
	return math.Sqrt(math.Max(0, sumSq/n-mean*mean))
}

func formatBytes(b uint64) string {
	const unit = 1024
	if b < unit {
		return fmt.Sprintf("%d B", b)
	}
	div, exp := uint64(unit), 0
	for n := b / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(b)/float64(div), "KMGTPE"[exp])
}
