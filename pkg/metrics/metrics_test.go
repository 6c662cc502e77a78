package metrics

import (
	"strings"
	"testing"
	"time"

	"github.com/danpilch/idleprobe/pkg/capture"
	"github.com/danpilch/idleprobe/pkg/clock"
	"github.com/danpilch/idleprobe/pkg/tracker"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectorReportsCounters(t *testing.T) {
	src := clock.NewManual(time.Unix(1700000000, 0), time.Millisecond)
	tr, err := tracker.New(2, src)
	require.NoError(t, err)
	l, err := capture.New(capture.Config{Capacity: 8}, src)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		tr.Begin(0)
		src.Advance(time.Millisecond)
		ep, ok := tr.End(0)
		require.True(t, ok)
		l.Append(ep)
	}
	tr.End(1)
	tr.Begin(1)
	tr.Discard(1)

	c := NewCollector(l, tr)
	expected := `
# HELP idleprobe_episodes_appended_total Episodes appended to the capture log.
# TYPE idleprobe_episodes_appended_total counter
idleprobe_episodes_appended_total 3
# HELP idleprobe_backlog_episodes Episodes waiting for the next drain.
# TYPE idleprobe_backlog_episodes gauge
idleprobe_backlog_episodes 3
# HELP idleprobe_unmatched_ends_total End notifications with no pending begin.
# TYPE idleprobe_unmatched_ends_total counter
idleprobe_unmatched_ends_total 1
# HELP idleprobe_discarded_begins_total Pending begins dropped after the hook lost notifications.
# TYPE idleprobe_discarded_begins_total counter
idleprobe_discarded_begins_total 1
# HELP idleprobe_tracked_cpus CPUs the tracker holds a slot for.
# TYPE idleprobe_tracked_cpus gauge
idleprobe_tracked_cpus 2
`
	err = testutil.CollectAndCompare(c, strings.NewReader(expected),
		"idleprobe_episodes_appended_total",
		"idleprobe_backlog_episodes",
		"idleprobe_unmatched_ends_total",
		"idleprobe_discarded_begins_total",
		"idleprobe_tracked_cpus",
	)
	assert.NoError(t, err)
}

func TestCollectorWithoutTracker(t *testing.T) {
	l, err := capture.New(capture.Config{Capacity: 4}, clock.NewManual(time.Unix(0, 0), 0))
	require.NoError(t, err)

	c := NewCollector(l, nil)
	assert.Equal(t, 8, testutil.CollectAndCount(c))
}

func TestRegistryGathers(t *testing.T) {
	l, err := capture.New(capture.DefaultConfig(), nil)
	require.NoError(t, err)

	reg := Registry(NewCollector(l, nil))
	families, err := reg.Gather()
	require.NoError(t, err)

	var names []string
	for _, f := range families {
		names = append(names, f.GetName())
	}
	assert.Contains(t, names, "idleprobe_drains_total")
	assert.Contains(t, names, "go_goroutines")
}
