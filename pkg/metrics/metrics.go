// Package metrics exports capture log and tracker counters to Prometheus.
package metrics

import (
	"github.com/danpilch/idleprobe/pkg/capture"
	"github.com/danpilch/idleprobe/pkg/tracker"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const namespace = "idleprobe"

// Collector reads counters on every scrape; it holds no state of its own.
type Collector struct {
	log     *capture.Log
	tracker *tracker.Tracker

	appended   *prometheus.Desc
	evicted    *prometheus.Desc
	dropped    *prometheus.Desc
	drains     *prometheus.Desc
	drained    *prometheus.Desc
	backlog    *prometheus.Desc
	poolFree   *prometheus.Desc
	lastFetch  *prometheus.Desc
	unmatched  *prometheus.Desc
	overwrites *prometheus.Desc
	malformed  *prometheus.Desc
	outOfRange *prometheus.Desc
	discarded  *prometheus.Desc
	cpus       *prometheus.Desc
}

// NewCollector creates a collector. t may be nil when only the log is
// exported.
func NewCollector(l *capture.Log, t *tracker.Tracker) *Collector {
	desc := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, "", name), help, nil, nil)
	}
	return &Collector{
		log:        l,
		tracker:    t,
		appended:   desc("episodes_appended_total", "Episodes appended to the capture log."),
		evicted:    desc("episodes_evicted_total", "Episodes evicted by the retention policy."),
		dropped:    desc("episodes_dropped_total", "Episodes dropped because the node pool was exhausted."),
		drains:     desc("drains_total", "Drain sessions that detached the log."),
		drained:    desc("episodes_drained_total", "Episodes handed to drain sessions."),
		backlog:    desc("backlog_episodes", "Episodes waiting for the next drain."),
		poolFree:   desc("pool_free_nodes", "Free nodes left in the preallocated pool."),
		lastFetch:  desc("last_fetch_timestamp_seconds", "Wall-clock second of the last drain."),
		unmatched:  desc("unmatched_ends_total", "End notifications with no pending begin."),
		overwrites: desc("overwritten_begins_total", "Begin notifications that replaced a pending begin."),
		malformed:  desc("malformed_episodes_total", "Episodes rejected because the clock ran backwards."),
		outOfRange: desc("out_of_range_total", "Notifications for CPU indices outside the tracker."),
		discarded:  desc("discarded_begins_total", "Pending begins dropped after the hook lost notifications."),
		cpus:       desc("tracked_cpus", "CPUs the tracker holds a slot for."),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.appended
	ch <- c.evicted
	ch <- c.dropped
	ch <- c.drains
	ch <- c.drained
	ch <- c.backlog
	ch <- c.poolFree
	ch <- c.lastFetch
	if c.tracker != nil {
		ch <- c.unmatched
		ch <- c.overwrites
		ch <- c.malformed
		ch <- c.outOfRange
		ch <- c.discarded
		ch <- c.cpus
	}
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	st := c.log.Stats()
	counter := func(d *prometheus.Desc, v uint64) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.CounterValue, float64(v))
	}
	gauge := func(d *prometheus.Desc, v float64) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.GaugeValue, v)
	}

	counter(c.appended, st.Appended)
	counter(c.evicted, st.Evicted)
	counter(c.dropped, st.Dropped)
	counter(c.drains, st.Drains)
	counter(c.drained, st.Drained)
	gauge(c.backlog, float64(st.Backlog))
	gauge(c.poolFree, float64(st.PoolFree))
	gauge(c.lastFetch, float64(st.LastFetch))

	if c.tracker == nil {
		return
	}
	ts := c.tracker.Stats()
	counter(c.unmatched, ts.UnmatchedEnds)
	counter(c.overwrites, ts.OverwrittenBegin)
	counter(c.malformed, ts.Malformed)
	counter(c.outOfRange, ts.OutOfRange)
	counter(c.discarded, ts.Discarded)
	gauge(c.cpus, float64(c.tracker.CPUs()))
}

// Registry returns a registry holding the collector plus the Go runtime
// and process collectors.
func Registry(c *Collector) *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(c)
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return reg
}
