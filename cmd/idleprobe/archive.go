package main

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/danpilch/idleprobe/pkg/archive"
	"github.com/danpilch/idleprobe/pkg/output"
	"github.com/spf13/cobra"
)

func newArchiveCmd(a *app) *cobra.Command {
	var (
		recent  int
		summary bool
	)
	cmd := &cobra.Command{
		Use:   "archive PATH",
		Short: "Show episodes stored by drain --archive",
		Long: `archive reads a database written by drain --archive.

By default it lists the most recently archived episodes. --summary adds
idle totals per CPU over everything archived.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, logger, err := a.load()
			if err != nil {
				return err
			}
			path := args[0]
			if _, err := os.Stat(path); err != nil {
				return fmt.Errorf("archive %s: %w", path, err)
			}
			if recent < 0 {
				return fmt.Errorf("--recent must not be negative, got %d", recent)
			}

			db, err := archive.Open(path, logger)
			if err != nil {
				return err
			}
			defer db.Close()

			ctx := cmd.Context()
			out := cmd.OutOrStdout()
			if recent > 0 {
				rows, err := db.Recent(ctx, recent)
				if err != nil {
					return err
				}
				renderArchiveRows(out, rows)
			}
			if summary {
				sums, err := db.Summarize(ctx)
				if err != nil {
					return err
				}
				renderArchiveSummary(out, sums)
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&recent, "recent", 20, "Number of most recent episodes to list; 0 lists none")
	cmd.Flags().BoolVar(&summary, "summary", false, "Show idle totals per CPU")
	return cmd
}

func renderArchiveRows(w io.Writer, rows []archive.Row) {
	table := make([][]string, len(rows))
	for i, r := range rows {
		table[i] = []string{
			strconv.FormatUint(r.Sequence, 10),
			strconv.Itoa(r.CPU),
			time.Duration(r.DurationNs).String(),
			strconv.FormatInt(r.TickDurationNs, 10),
			output.Timestamp(r.Start),
			time.Unix(r.DrainedAt, 0).UTC().Format(time.RFC3339),
		}
	}
	output.RenderTable(w, "Archived Episodes",
		[]string{"SEQ", "CPU", "DURATION", "TICKS (ns)", "START", "DRAINED"}, table)
	fmt.Fprintf(w, "%d episodes shown, newest first\n", len(rows))
}

func renderArchiveSummary(w io.Writer, sums []archive.Summary) {
	table := make([][]string, len(sums))
	var total int64
	for i, s := range sums {
		total += s.Episodes
		table[i] = []string{
			strconv.Itoa(s.CPU),
			strconv.FormatInt(s.Episodes, 10),
			time.Duration(s.TotalIdleNs).String(),
			time.Duration(s.LongestIdleNs).String(),
		}
	}
	output.RenderTable(w, "Archived Idle per CPU",
		[]string{"CPU", "EPISODES", "TOTAL IDLE", "LONGEST"}, table)
	fmt.Fprintf(w, "%d episodes across %d CPUs\n", total, len(sums))
}
