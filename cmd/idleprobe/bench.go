package main

import (
	"fmt"

	"github.com/danpilch/idleprobe/pkg/baseline"
	"github.com/danpilch/idleprobe/pkg/benchmark"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func newBenchCmd(a *app) *cobra.Command {
	opts := benchmark.DefaultOptions()
	cpus := []int{1, opts.CPUs}
	var saveAs, compareTo, dir string

	cmd := &cobra.Command{
		Use:   "bench",
		Short: "Measure producer-path latency in process",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := a.load()
			if err != nil {
				return err
			}
			opts.Capacity = cfg.Capacity

			var results []benchmark.Result
			for _, n := range cpus {
				o := opts
				o.CPUs = n
				logger.WithFields(logrus.Fields{
					"cpus":       n,
					"iterations": o.Iterations,
				}).Debug("Running benchmark")
				res, err := benchmark.Run(cmd.Context(), o)
				if err != nil {
					return err
				}
				results = append(results, res)
			}
			out := cmd.OutOrStdout()
			benchmark.RenderResults(out, results)

			if compareTo != "" {
				base, err := baseline.Load(compareTo, dir)
				if err != nil {
					return err
				}
				fmt.Fprintln(out)
				baseline.RenderComparison(out, base, baseline.Compare(base, results))
			}
			if saveAs != "" {
				if err := baseline.New(saveAs, results).Save(dir); err != nil {
					return err
				}
				logger.WithField("baseline", saveAs).Info("Benchmark baseline saved")
			}
			return nil
		},
	}
	f := cmd.Flags()
	f.IntSliceVar(&cpus, "cpus", cpus, "Producer CPU counts to run, one benchmark each")
	f.IntVar(&opts.Iterations, "iterations", opts.Iterations, "Begin/end pairs per CPU")
	f.IntVar(&opts.Warmup, "warmup", opts.Warmup, "Unmeasured pairs per CPU before timing")
	f.StringVar(&saveAs, "save", "", "Save the results as a named baseline")
	f.StringVar(&compareTo, "compare", "", "Compare the results against a saved baseline")
	f.StringVar(&dir, "baseline-dir", "", "Baseline directory (default ~/.idleprobe/baselines)")
	f.DurationVar(&opts.DrainEvery, "drain-every", opts.DrainEvery, "Concurrent drain interval; 0 disables")
	return cmd
}
