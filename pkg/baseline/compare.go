package baseline

import (
	"fmt"
	"io"
	"math"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/danpilch/idleprobe/pkg/benchmark"
)

// Severity indicates the magnitude of a drift.
type Severity string

const (
	SeverityNone     Severity = "none"
	SeverityMinor    Severity = "minor"
	SeverityModerate Severity = "moderate"
	SeverityImproved Severity = "improved"
	SeverityRegress  Severity = "regression"
)

// Comparison is the drift of one metric at one CPU count.
type Comparison struct {
	CPUs        int
	Metric      string
	BaselineVal float64
	CurrentVal  float64
	DeltaPct    float64 // positive is worse
	Severity    Severity
}

var (
	blTitle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	blHeader = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("15")).Background(lipgloss.Color("62")).Padding(0, 1)
	blDim    = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	blOK     = lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Bold(true)
	blWarn   = lipgloss.NewStyle().Foreground(lipgloss.Color("11")).Bold(true)
	blErr    = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
	blMinor  = lipgloss.NewStyle().Foreground(lipgloss.Color("14"))
)

type metric struct {
	name         string
	value        func(benchmark.Result) float64
	higherBetter bool
}

var metrics = []metric{
	{"p50 ns", func(r benchmark.Result) float64 { return float64(r.P50) }, false},
	{"p99 ns", func(r benchmark.Result) float64 { return float64(r.P99) }, false},
	{"pairs/s", benchmark.Result.Throughput, true},
	{"alloc bytes", func(r benchmark.Result) float64 { return float64(r.Overhead.AllocBytes) }, false},
}

// Compare matches results by CPU count and grades each metric.
func Compare(b *Baseline, current []benchmark.Result) []Comparison {
	byCPUs := make(map[int]benchmark.Result, len(b.Results))
	for _, r := range b.Results {
		byCPUs[r.CPUs] = r
	}

	var out []Comparison
	for _, cur := range current {
		base, ok := byCPUs[cur.CPUs]
		if !ok {
			continue
		}
		for _, m := range metrics {
			bv, cv := m.value(base), m.value(cur)
			var delta float64
			switch {
			case bv != 0:
				delta = (cv - bv) / math.Abs(bv) * 100
			case cv != 0:
				delta = 100
			}
			if m.higherBetter {
				delta = -delta
			}
			out = append(out, Comparison{
				CPUs:        cur.CPUs,
				Metric:      m.name,
				BaselineVal: bv,
				CurrentVal:  cv,
				DeltaPct:    delta,
				Severity:    classifySeverity(delta),
			})
		}
	}
	return out
}

func classifySeverity(deltaPct float64) Severity {
	switch abs := math.Abs(deltaPct); {
	case abs < 5:
		return SeverityNone
	case abs < 15:
		return SeverityMinor
	case abs < 30:
		return SeverityModerate
	case deltaPct > 0:
		return SeverityRegress
	}
	return SeverityImproved
}

// Regressions counts comparisons graded as regressions.
func Regressions(comparisons []Comparison) int {
	n := 0
	for _, c := range comparisons {
		if c.Severity == SeverityRegress {
			n++
		}
	}
	return n
}

// RenderComparison outputs a styled comparison table.
func RenderComparison(w io.Writer, b *Baseline, comparisons []Comparison) {
	fmt.Fprintln(w, blTitle.Render("Baseline Comparison"))
	fmt.Fprintln(w, blDim.Render(strings.Repeat("═", 78)))
	fmt.Fprintf(w, "Comparing against %s (from %s on %s)\n\n",
		lipgloss.NewStyle().Bold(true).Render(fmt.Sprintf("%q", b.Name)),
		blDim.Render(b.Timestamp.Format("2006-01-02 15:04:05")),
		b.Hostname)

	fmt.Fprintf(w, "  %s %s %s %s %s %s\n",
		blHeader.Render("CPUS"),
		blHeader.Render("METRIC       "),
		blHeader.Render("BASELINE    "),
		blHeader.Render("CURRENT     "),
		blHeader.Render("DELTA   "),
		blHeader.Render("SEVERITY  "))
	fmt.Fprintln(w, "  "+blDim.Render(strings.Repeat("─", 78)))

	for _, c := range comparisons {
		var sev string
		switch c.Severity {
		case SeverityRegress:
			sev = blErr.Render("REGRESSION")
		case SeverityImproved:
			sev = blOK.Render("improved")
		case SeverityModerate:
			sev = blWarn.Render("moderate")
		case SeverityMinor:
			sev = blMinor.Render("minor")
		default:
			sev = blOK.Render("none")
		}
		fmt.Fprintf(w, "  %-6d %-15s %-14.0f %-14.0f %-10s %s\n",
			c.CPUs, c.Metric, c.BaselineVal, c.CurrentVal, fmt.Sprintf("%+.1f%%", c.DeltaPct), sev)
	}

	fmt.Fprintln(w)
	if n := Regressions(comparisons); n > 0 {
		fmt.Fprintf(w, "  %s\n", blErr.Render(fmt.Sprintf("%d potential regressions detected.", n)))
	} else {
		fmt.Fprintf(w, "  %s\n", blOK.Render("No significant regressions detected."))
	}
}
