package main

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/danpilch/idleprobe/pkg/config"
	"github.com/danpilch/idleprobe/pkg/crosscheck"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func newCrosscheckCmd(a *app) *cobra.Command {
	var (
		window   time.Duration
		asJSON   bool
		kernel   string
		strictly bool
	)
	cmd := &cobra.Command{
		Use:   "crosscheck",
		Short: "Drain a window of episodes and validate their durations",
		Long: `crosscheck discards the current backlog, waits for --window, drains
again and compares, per CPU, the monotonic total with the tick total. When
the daemon runs the ebpf hook on this host, the kernel's own idle counters
(/proc/stat and cpuidle residency) are compared as well.

This consumes episodes: other readers will not see the drained window.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := a.load()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			base := baseURL(cfg)

			st, err := fetchStats(ctx, base)
			if err != nil {
				return err
			}
			useKernel := kernel == "on" || (kernel == "auto" && slices.Contains(st.Hooks, config.SourceEBPF))

			if _, err := fetchEpisodes(ctx, base); err != nil {
				return err
			}
			var before crosscheck.KernelSample
			if useKernel {
				if before, err = crosscheck.SampleKernel(); err != nil {
					logger.WithError(err).Warn("Kernel idle counters unavailable, comparing clocks only")
					useKernel = false
				}
			}

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(window):
			}

			episodes, err := fetchEpisodes(ctx, base)
			if err != nil {
				return err
			}
			var delta map[int]crosscheck.KernelIdle
			if useKernel {
				after, err := crosscheck.SampleKernel()
				if err != nil {
					return fmt.Errorf("sample kernel idle counters: %w", err)
				}
				delta = crosscheck.Delta(before, after)
			}

			logger.WithFields(logrus.Fields{
				"episodes": len(episodes),
				"window":   window,
				"kernel":   useKernel,
			}).Debug("Cross-checking drained window")

			v := crosscheck.NewValidator(time.Second / time.Duration(cfg.TickHz))
			res := crosscheck.Run(v, episodes, delta)
			if asJSON {
				if err := crosscheck.ReportJSON(cmd.OutOrStdout(), res); err != nil {
					return err
				}
			} else {
				crosscheck.Report(cmd.OutOrStdout(), res)
			}
			if strictly && res.Failed() {
				return errors.New("cross-check failed")
			}
			return nil
		},
	}
	f := cmd.Flags()
	f.DurationVar(&window, "window", 5*time.Second, "How long to capture before validating")
	f.BoolVar(&asJSON, "json", false, "Print the result as JSON")
	f.StringVar(&kernel, "kernel", "auto", "Compare against kernel idle counters (auto, on, off)")
	f.BoolVar(&strictly, "strict", false, "Exit non-zero on any conflict or failed sanity check")
	return cmd
}
