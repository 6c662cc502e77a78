package output

import (
	"strings"
	"sync"
)

// History keeps the last few samples of named gauges, such as the log
// backlog, for rendering as sparklines in watch mode.
type History struct {
	mu     sync.Mutex
	series map[string][]float64
	window int
}

// NewHistory creates a history holding at most window samples per series.
func NewHistory(window int) *History {
	if window < 1 {
		window = 30
	}
	return &History{
		series: make(map[string][]float64),
		window: window,
	}
}

// Record appends a sample to the named series.
func (h *History) Record(name string, value float64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	s := append(h.series[name], value)
	if len(s) > h.window {
		s = s[len(s)-h.window:]
	}
	h.series[name] = s
}

// Sparkline renders the named series, or "" when it has no samples.
func (h *History) Sparkline(name string) string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return renderSparkline(h.series[name])
}

// Last returns the newest sample of the named series.
func (h *History) Last(name string) (float64, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	s := h.series[name]
	if len(s) == 0 {
		return 0, false
	}
	return s[len(s)-1], true
}

var sparkBlocks = []rune("▁▂▃▄▅▆▇█")

func renderSparkline(values []float64) string {
	if len(values) == 0 {
		return ""
	}

	lo, hi := values[0], values[0]
	for _, v := range values[1:] {
		lo = min(lo, v)
		hi = max(hi, v)
	}

	var b strings.Builder
	top := len(sparkBlocks) - 1
	for _, v := range values {
		idx := 0
		if hi > lo {
			idx = int((v - lo) / (hi - lo) * float64(top))
		}
		b.WriteRune(sparkBlocks[max(0, min(idx, top))])
	}
	return b.String()
}
