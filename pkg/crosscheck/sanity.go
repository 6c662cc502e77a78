package crosscheck

import (
	"fmt"

	"github.com/danpilch/idleprobe/pkg/episode"
)

// SanityResult holds the outcome of one invariant check over a batch.
type SanityResult struct {
	Check   string `json:"check"`
	Passed  bool   `json:"passed"`
	Details string `json:"details"`
}

// RunSanityChecks verifies invariants every drained batch must satisfy.
func RunSanityChecks(episodes []episode.Episode) []SanityResult {
	if len(episodes) == 0 {
		return []SanityResult{{Check: "batch non-empty", Passed: false, Details: "no episodes drained"}}
	}

	var negMono, negTicks, negCPU, disorder, gaps int
	for i, ep := range episodes {
		if ep.DurationNanoseconds() < 0 {
			negMono++
		}
		if ep.TickDurationNanoseconds() < 0 {
			negTicks++
		}
		if ep.CPU < 0 {
			negCPU++
		}
		if i == 0 {
			continue
		}
		prev := episodes[i-1].Sequence
		switch {
		case ep.Sequence <= prev:
			disorder++
		case ep.Sequence != prev+1:
			gaps++
		}
	}

	count := func(name string, bad int, what string) SanityResult {
		if bad == 0 {
			return SanityResult{Check: name, Passed: true, Details: fmt.Sprintf("all %d episodes", len(episodes))}
		}
		return SanityResult{Check: name, Passed: false, Details: fmt.Sprintf("%d of %d episodes %s", bad, len(episodes), what)}
	}

	first, last := episodes[0].Sequence, episodes[len(episodes)-1].Sequence
	return []SanityResult{
		count("monotonic duration non-negative", negMono, "ran backwards"),
		count("tick duration non-negative", negTicks, "ran backwards"),
		count("cpu index non-negative", negCPU, "have a negative cpu"),
		count("sequences strictly increasing", disorder, "out of order"),
		{
			Check:   "sequences contiguous",
			Passed:  gaps == 0,
			Details: fmt.Sprintf("%d-%d, %d gaps", first, last, gaps),
		},
	}
}
