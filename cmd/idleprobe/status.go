package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/danpilch/idleprobe/pkg/output"
	"github.com/danpilch/idleprobe/pkg/probe"
	"github.com/spf13/cobra"
)

var (
	statusTitle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	statusLabel = lipgloss.NewStyle().Foreground(lipgloss.Color("245")).Width(18)
	statusValue = lipgloss.NewStyle().Bold(true)
	statusWarn  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("11"))
	statusDim   = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
)

func newStatusCmd(a *app) *cobra.Command {
	var (
		watch    bool
		interval time.Duration
	)
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show capture log counters without draining",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, _, err := a.load()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			out := cmd.OutOrStdout()
			base := baseURL(cfg)

			if !watch {
				st, err := fetchStats(ctx, base)
				if err != nil {
					return err
				}
				renderStatus(out, st, nil)
				return nil
			}
			return watchStatus(ctx, out, base, interval)
		},
	}
	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "Refresh until interrupted, with sparklines")
	cmd.Flags().DurationVar(&interval, "interval", 2*time.Second, "Refresh interval for --watch")
	return cmd
}

func watchStatus(ctx context.Context, out io.Writer, base string, interval time.Duration) error {
	hist := output.NewHistory(40)
	var prev *probe.Stats
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		st, err := fetchStats(ctx, base)
		if err != nil {
			return err
		}
		hist.Record("backlog", float64(st.Log.Backlog))
		if prev != nil {
			rate := float64(st.Log.Appended-prev.Log.Appended) / interval.Seconds()
			hist.Record("rate", rate)
		}
		prev = &st

		fmt.Fprint(out, "\033[H\033[2J")
		renderStatus(out, st, hist)

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// renderStatus prints one report. hist may be nil.
func renderStatus(w io.Writer, st probe.Stats, hist *output.History) {
	row := func(label, value string) {
		fmt.Fprintf(w, "  %s %s\n", statusLabel.Render(label), value)
	}
	val := func(format string, args ...any) string {
		return statusValue.Render(fmt.Sprintf(format, args...))
	}

	fmt.Fprintln(w, statusTitle.Render("idleprobe status"))
	fmt.Fprintln(w, statusDim.Render(strings.Repeat("═", 50)))
	row("hooks", val("%s", strings.Join(st.Hooks, ", ")))
	row("cpus", val("%d", st.CPUs))
	row("retention", val("%ds (%s)", st.RetentionSeconds, st.Policy))

	backlog := val("%d / %d", st.Log.Backlog, st.Log.Capacity)
	if hist != nil {
		backlog += "  " + hist.Sparkline("backlog")
	}
	row("backlog", backlog)
	if hist != nil {
		if rate, ok := hist.Last("rate"); ok {
			row("append rate", val("%.0f/s", rate)+"  "+hist.Sparkline("rate"))
		}
	}
	row("appended", val("%d", st.Log.Appended))
	row("drained", val("%d in %d drains", st.Log.Drained, st.Log.Drains))
	if st.Log.LastFetch > 0 {
		row("last drain", val("%s", time.Unix(st.Log.LastFetch, 0).Format(time.RFC3339)))
	}

	evicted := val("%d", st.Log.Evicted)
	if st.Log.Evicted > 0 {
		evicted = statusWarn.Render(fmt.Sprintf("%d", st.Log.Evicted))
	}
	row("evicted", evicted)
	dropped := val("%d", st.Log.Dropped)
	if st.Log.Dropped > 0 {
		dropped = statusWarn.Render(fmt.Sprintf("%d", st.Log.Dropped))
	}
	row("dropped", dropped)
	row("unmatched ends", val("%d", st.Tracker.UnmatchedEnds))
	row("overwritten", val("%d", st.Tracker.OverwrittenBegin))
	row("discarded", val("%d", st.Tracker.Discarded))
	row("malformed", val("%d", st.Tracker.Malformed))
	row("out of range", val("%d", st.Tracker.OutOfRange))
}
