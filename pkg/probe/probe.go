// Package probe wires idle hooks, the per-CPU tracker and the capture log
// together and owns their lifecycle.
package probe

import (
	"errors"
	"fmt"
	"sync"

	"github.com/danpilch/idleprobe/pkg/capture"
	"github.com/danpilch/idleprobe/pkg/clock"
	"github.com/danpilch/idleprobe/pkg/hooks"
	"github.com/danpilch/idleprobe/pkg/tracker"
	"github.com/sirupsen/logrus"
)

// Probe receives idle notifications from hooks and stores completed
// episodes in its log.
type Probe struct {
	tracker *tracker.Tracker
	log     *capture.Log
	logger  *logrus.Logger

	mu       sync.Mutex
	attached []hooks.Source
}

// New creates a probe over an existing tracker and log.
func New(t *tracker.Tracker, l *capture.Log, logger *logrus.Logger) *Probe {
	if logger == nil {
		logger = logrus.New()
		logger.SetLevel(logrus.WarnLevel)
	}
	return &Probe{
		tracker: t,
		log:     l,
		logger:  logger,
	}
}

// BeginEpisode reports that cpu entered idle.
func (p *Probe) BeginEpisode(cpu int) {
	p.tracker.Begin(cpu)
}

// EndEpisode reports that cpu left idle and appends the completed episode.
func (p *Probe) EndEpisode(cpu int) {
	if ep, ok := p.tracker.End(cpu); ok {
		p.log.Append(ep)
	}
}

// BeginEpisodeAt is BeginEpisode with a hook-provided reading.
func (p *Probe) BeginEpisodeAt(cpu int, r clock.Reading) {
	p.tracker.BeginAt(cpu, r)
}

// EndEpisodeAt is EndEpisode with a hook-provided reading.
func (p *Probe) EndEpisodeAt(cpu int, r clock.Reading) {
	if ep, ok := p.tracker.EndAt(cpu, r); ok {
		p.log.Append(ep)
	}
}

// DiscardEpisode forgets the open begin on cpu.
func (p *Probe) DiscardEpisode(cpu int) {
	p.tracker.Discard(cpu)
}

// Log returns the capture log readers drain from.
func (p *Probe) Log() *capture.Log {
	return p.log
}

// Tracker returns the per-CPU tracker.
func (p *Probe) Tracker() *tracker.Tracker {
	return p.tracker
}

// Start attaches every source in order. If one fails, the sources attached
// before it are detached in reverse order and the error is returned, so a
// failed Start leaves nothing registered.
func (p *Probe) Start(sources ...hooks.Source) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var started []hooks.Source
	for _, src := range sources {
		p.logger.WithField("hook", src.Name()).Debug("Attaching hook")
		if err := src.Attach(p); err != nil {
			p.logger.WithFields(logrus.Fields{
				"hook":  src.Name(),
				"error": err,
			}).Warn("Hook failed to attach, rolling back")
			rollbackErr := detachAll(started)
			return errors.Join(fmt.Errorf("attach %s hook: %w", src.Name(), err), rollbackErr)
		}
		started = append(started, src)
	}

	p.attached = append(p.attached, started...)
	p.logger.WithField("hooks", len(started)).Info("Idle probe started")
	return nil
}

// Stop detaches every attached source in reverse order.
func (p *Probe) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	err := detachAll(p.attached)
	p.attached = nil
	return err
}

// Close stops the hooks and discards every episode still in the log.
func (p *Probe) Close() error {
	err := p.Stop()
	st := p.log.Stats()
	p.log.Close()
	p.logger.WithFields(logrus.Fields{
		"discarded": st.Backlog,
		"appended":  st.Appended,
		"dropped":   st.Dropped,
		"evicted":   st.Evicted,
	}).Info("Idle probe closed")
	return err
}

func detachAll(sources []hooks.Source) error {
	var errs []error
	for i := len(sources) - 1; i >= 0; i-- {
		if err := sources[i].Detach(); err != nil {
			errs = append(errs, fmt.Errorf("detach %s hook: %w", sources[i].Name(), err))
		}
	}
	return errors.Join(errs...)
}

// Stats is the combined counter snapshot served to status clients.
type Stats struct {
	CPUs             int                     `json:"cpus"`
	RetentionSeconds int64                   `json:"retention_seconds"`
	Policy           capture.RetentionPolicy `json:"retention_policy"`
	Log              capture.Stats           `json:"log"`
	Tracker          tracker.Stats           `json:"tracker"`
	Hooks            []string                `json:"hooks"`
}

// Snapshot returns the current counters.
func (p *Probe) Snapshot() Stats {
	p.mu.Lock()
	names := make([]string, 0, len(p.attached))
	for _, src := range p.attached {
		names = append(names, src.Name())
	}
	p.mu.Unlock()

	return Stats{
		CPUs:             p.tracker.CPUs(),
		RetentionSeconds: int64(p.log.Retention().Seconds()),
		Policy:           p.log.Policy(),
		Log:              p.log.Stats(),
		Tracker:          p.tracker.Stats(),
		Hooks:            names,
	}
}
