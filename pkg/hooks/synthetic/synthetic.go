// Package synthetic provides an idle hook that simulates CPUs going idle.
package synthetic

import (
	"context"
	"errors"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/danpilch/idleprobe/pkg/hooks"
)

// Config bounds the simulated idle and busy periods.
type Config struct {
	CPUs    int
	MinIdle time.Duration
	MaxIdle time.Duration
	MaxBusy time.Duration
}

// DefaultConfig returns periods in the range a lightly loaded host shows.
func DefaultConfig(cpus int) Config {
	return Config{
		CPUs:    cpus,
		MinIdle: 200 * time.Microsecond,
		MaxIdle: 20 * time.Millisecond,
		MaxBusy: 5 * time.Millisecond,
	}
}

// Source runs one goroutine per simulated CPU.
type Source struct {
	cfg Config

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a synthetic source.
func New(cfg Config) *Source {
	if cfg.CPUs < 1 {
		cfg.CPUs = 1
	}
	if cfg.MaxIdle < cfg.MinIdle {
		cfg.MaxIdle = cfg.MinIdle
	}
	return &Source{cfg: cfg}
}

// Name returns the source name.
func (s *Source) Name() string {
	return "synthetic"
}

// Attach starts the simulated CPUs.
func (s *Source) Attach(n hooks.Notifier) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		return errors.New("synthetic: already attached")
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	for cpu := 0; cpu < s.cfg.CPUs; cpu++ {
		s.wg.Add(1)
		go s.run(ctx, cpu, n)
	}
	return nil
}

// Detach stops every simulated CPU and waits for them to exit.
func (s *Source) Detach() error {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()
	s.wg.Wait()
	return nil
}

func (s *Source) run(ctx context.Context, cpu int, n hooks.Notifier) {
	defer s.wg.Done()

	timer := time.NewTimer(s.busy())
	defer timer.Stop()

	idle := false
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		if idle {
			n.EndEpisode(cpu)
			timer.Reset(s.busy())
		} else {
			n.BeginEpisode(cpu)
			timer.Reset(s.idle())
		}
		idle = !idle
	}
}

func (s *Source) idle() time.Duration {
	span := int64(s.cfg.MaxIdle - s.cfg.MinIdle)
	if span <= 0 {
		return s.cfg.MinIdle
	}
	return s.cfg.MinIdle + time.Duration(rand.Int64N(span))
}

func (s *Source) busy() time.Duration {
	if s.cfg.MaxBusy <= 0 {
		return time.Microsecond
	}
	return time.Duration(rand.Int64N(int64(s.cfg.MaxBusy))) + time.Microsecond
}
