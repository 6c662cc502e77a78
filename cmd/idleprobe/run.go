package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/danpilch/idleprobe/pkg/capture"
	"github.com/danpilch/idleprobe/pkg/clock"
	"github.com/danpilch/idleprobe/pkg/config"
	"github.com/danpilch/idleprobe/pkg/hooks"
	"github.com/danpilch/idleprobe/pkg/hooks/ebpf"
	"github.com/danpilch/idleprobe/pkg/hooks/synthetic"
	"github.com/danpilch/idleprobe/pkg/probe"
	"github.com/danpilch/idleprobe/pkg/server"
	"github.com/danpilch/idleprobe/pkg/tracker"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func newRunCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Capture idle episodes and serve them over HTTP",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := a.load()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runDaemon(ctx, cfg, logger)
		},
	}

	f := cmd.Flags()
	f.String("source", config.SourceSynthetic, "Idle hook to attach (synthetic, ebpf)")
	f.Int("retention-seconds", 120, "Seconds unread episodes are kept before eviction starts")
	f.String("retention-policy", string(capture.PolicyTrickle), "Eviction policy (trickle, purge)")
	f.Int("capacity", capture.DefaultCapacity, "Maximum resident episodes")
	f.Int("max-cpus", 0, "Cap on tracked CPUs; 0 tracks every CPU")
	f.String("format", "rich", "Default drain format (rich, compact, json)")
	f.Bool("pprof", false, "Serve /debug/pprof")
	f.Int("tick-hz", 250, "Kernel tick rate used by the ebpf hook")
	for key, name := range map[string]string{
		"source":            "source",
		"retention_seconds": "retention-seconds",
		"retention_policy":  "retention-policy",
		"capacity":          "capacity",
		"max_cpus":          "max-cpus",
		"format":            "format",
		"pprof":             "pprof",
		"tick_hz":           "tick-hz",
	} {
		a.bind(key, f.Lookup(name))
	}
	return cmd
}

// runDaemon owns the log for the life of the process: it is created before
// any hook attaches and discarded after every hook has detached.
func runDaemon(ctx context.Context, cfg config.Config, logger *logrus.Logger) (err error) {
	cpus := cfg.CPUs()
	src := clock.System()

	l, err := capture.New(cfg.Capture(), src)
	if err != nil {
		return fmt.Errorf("create capture log: %w", err)
	}
	tr, err := tracker.New(cpus, src)
	if err != nil {
		l.Close()
		return fmt.Errorf("create tracker: %w", err)
	}
	p := probe.New(tr, l, logger)

	registry := hooks.NewRegistry()
	registry.Register(synthetic.New(cfg.SyntheticConfig(cpus)))
	registry.Register(ebpf.New(ebpf.Config{PerCPUPages: ebpf.DefaultConfig().PerCPUPages, TickHz: cfg.TickHz}, logger))

	hook := registry.GetByName(cfg.Source)
	if hook == nil {
		l.Close()
		return fmt.Errorf("unknown source %q (available: %v)", cfg.Source, registry.Names())
	}
	if err := p.Start(hook); err != nil {
		l.Close()
		return fmt.Errorf("start probe: %w", err)
	}
	defer func() {
		if cerr := p.Close(); cerr != nil {
			err = errors.Join(err, cerr)
		}
	}()

	logger.WithFields(logrus.Fields{
		"cpus":      cpus,
		"source":    cfg.Source,
		"retention": l.Retention(),
		"policy":    l.Policy(),
		"capacity":  cfg.Capacity,
	}).Info("Capturing idle episodes")

	srv := server.New(server.Config{
		Addr:   cfg.Listen,
		Format: cfg.OutputFormat(),
		Pprof:  cfg.Pprof,
	}, p, logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.ListenAndServe(gctx)
	})
	g.Go(func() error {
		reportStats(gctx, p, logger, time.Minute)
		return nil
	})
	return g.Wait()
}

// reportStats logs the counters periodically until ctx is done.
func reportStats(ctx context.Context, p *probe.Probe, logger *logrus.Logger, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			st := p.Snapshot()
			entry := logger.WithFields(logrus.Fields{
				"backlog":   st.Log.Backlog,
				"appended":  st.Log.Appended,
				"evicted":   st.Log.Evicted,
				"dropped":   st.Log.Dropped,
				"drains":    st.Log.Drains,
				"unmatched": st.Tracker.UnmatchedEnds,
			})
			if st.Log.Dropped > 0 {
				entry.Warn("Capture log stats (pool exhausted at least once)")
				continue
			}
			entry.Info("Capture log stats")
		}
	}
}
