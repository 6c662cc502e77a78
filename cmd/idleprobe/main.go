// Command idleprobe records CPU idle episodes and serves them to readers
// that drain the capture log.
package main

import (
	"fmt"
	"os"

	"github.com/danpilch/idleprobe/pkg/config"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

var version = "dev"

// app carries the state shared by every subcommand.
type app struct {
	v          *viper.Viper
	configFile string
	envFile    string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	a := &app{v: viper.New()}

	root := &cobra.Command{
		Use:   "idleprobe",
		Short: "Capture per-CPU idle episodes and drain them on demand",
		Long: `idleprobe records every period a CPU spends idle, stamped with wall,
monotonic and tick clocks, into an in-memory log. Readers drain the log
over HTTP; each drain hands over everything recorded since the previous one.

Unread episodes are kept for retention_seconds before the oldest are
evicted, so memory stays bounded when nobody is reading.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       version,
	}

	pf := root.PersistentFlags()
	pf.StringVar(&a.configFile, "config", "", "Path to a config file (yaml, json or toml)")
	pf.StringVar(&a.envFile, "env-file", ".env", "Path to a .env file; ignored when missing")
	pf.String("listen", "127.0.0.1:9465", "Address the daemon serves on and clients connect to")
	pf.String("log-level", "info", "Log level (debug, info, warn, error)")
	pf.String("log-format", "text", "Log format (text, json)")
	a.bind("listen", pf.Lookup("listen"))
	a.bind("log_level", pf.Lookup("log-level"))
	a.bind("log_format", pf.Lookup("log-format"))

	root.AddCommand(
		newRunCmd(a),
		newDrainCmd(a),
		newArchiveCmd(a),
		newStatusCmd(a),
		newBenchCmd(a),
		newCrosscheckCmd(a),
		newVersionCmd(),
	)
	return root
}

func (a *app) bind(key string, flag *pflag.Flag) {
	if err := a.v.BindPFlag(key, flag); err != nil {
		panic(fmt.Sprintf("bind flag %s: %v", key, err))
	}
}

// load resolves configuration and builds the process logger.
func (a *app) load() (config.Config, *logrus.Logger, error) {
	cfg, err := config.Load(a.v, a.envFile, a.configFile)
	if err != nil {
		return config.Config{}, nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	logger, err := cfg.NewLogger()
	if err != nil {
		return config.Config{}, nil, err
	}
	return cfg, logger, nil
}

// baseURL is where clients reach the daemon.
func baseURL(cfg config.Config) string {
	return "http://" + cfg.Listen
}
