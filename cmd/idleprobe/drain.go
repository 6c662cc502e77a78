package main

import (
	"io"
	"time"

	"github.com/danpilch/idleprobe/pkg/archive"
	"github.com/danpilch/idleprobe/pkg/output"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func newDrainCmd(a *app) *cobra.Command {
	var (
		format      string
		archivePath string
		quiet       bool
	)
	cmd := &cobra.Command{
		Use:   "drain",
		Short: "Take every episode recorded since the last drain",
		Long: `drain empties the daemon's capture log and prints what it held.

Episodes handed to a drain are gone from the daemon whether or not this
command finishes printing them. With --archive the batch is also stored in
a SQLite database.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := a.load()
			if err != nil {
				return err
			}
			f := cfg.OutputFormat()
			if format != "" {
				if f, err = output.ParseFormat(format); err != nil {
					return err
				}
			}

			ctx := cmd.Context()
			out := cmd.OutOrStdout()
			if quiet {
				out = io.Discard
			}

			// Plain streaming needs no decoding.
			if archivePath == "" && f.Streamable() {
				body, err := openDrain(ctx, baseURL(cfg), f)
				if err != nil {
					return err
				}
				defer body.Close()
				_, err = io.Copy(out, body)
				return err
			}

			episodes, err := fetchEpisodes(ctx, baseURL(cfg))
			if err != nil {
				return err
			}
			drainedAt := time.Now().Unix()
			if err := output.NewFormatter(f, out).Render(episodes); err != nil {
				return err
			}

			if archivePath == "" {
				return nil
			}
			db, err := archive.Open(archivePath, logger)
			if err != nil {
				return err
			}
			defer db.Close()
			if err := db.Store(ctx, episodes, drainedAt); err != nil {
				return err
			}
			logger.WithFields(logrus.Fields{
				"episodes": len(episodes),
				"archive":  archivePath,
			}).Info("Drained batch archived")
			return nil
		},
	}

	cmd.Flags().StringVar(&format, "format", "", "Output format (rich, compact, json, table); defaults to the configured format")
	cmd.Flags().StringVar(&archivePath, "archive", "", "Also store the batch in this SQLite database")
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "Print nothing; useful with --archive")
	return cmd
}
