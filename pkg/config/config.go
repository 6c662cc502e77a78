// Package config loads idleprobe settings from defaults, an optional config
// file, a .env file and IDLEPROBE_* environment variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/danpilch/idleprobe/pkg/capture"
	"github.com/danpilch/idleprobe/pkg/hooks/synthetic"
	"github.com/danpilch/idleprobe/pkg/output"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment variable.
const EnvPrefix = "IDLEPROBE"

// Hook source names.
const (
	SourceSynthetic = "synthetic"
	SourceEBPF      = "ebpf"
)

// Synthetic configures the synthetic hook.
type Synthetic struct {
	MinIdle time.Duration `mapstructure:"min_idle"`
	MaxIdle time.Duration `mapstructure:"max_idle"`
	MaxBusy time.Duration `mapstructure:"max_busy"`
}

// Config holds every runtime setting.
type Config struct {
	RetentionSeconds int       `mapstructure:"retention_seconds"`
	RetentionPolicy  string    `mapstructure:"retention_policy"`
	Capacity         int       `mapstructure:"capacity"`
	MaxCPUs          int       `mapstructure:"max_cpus"`
	Source           string    `mapstructure:"source"`
	Listen           string    `mapstructure:"listen"`
	Format           string    `mapstructure:"format"`
	LogLevel         string    `mapstructure:"log_level"`
	LogFormat        string    `mapstructure:"log_format"`
	Pprof            bool      `mapstructure:"pprof"`
	TickHz           int       `mapstructure:"tick_hz"`
	Synthetic        Synthetic `mapstructure:"synthetic"`
}

// SetDefaults registers the default for every key on v.
func SetDefaults(v *viper.Viper) {
	syn := synthetic.DefaultConfig(1)

	v.SetDefault("retention_seconds", int(capture.DefaultRetention/time.Second))
	v.SetDefault("retention_policy", string(capture.PolicyTrickle))
	v.SetDefault("capacity", capture.DefaultCapacity)
	v.SetDefault("max_cpus", 0)
	v.SetDefault("source", SourceSynthetic)
	v.SetDefault("listen", "127.0.0.1:9465")
	v.SetDefault("format", string(output.FormatRich))
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "text")
	v.SetDefault("pprof", false)
	v.SetDefault("tick_hz", 250)
	v.SetDefault("synthetic.min_idle", syn.MinIdle)
	v.SetDefault("synthetic.max_idle", syn.MaxIdle)
	v.SetDefault("synthetic.max_busy", syn.MaxBusy)
}

// Load reads configuration into a validated Config. dotenv and file may be
// empty; a missing dotenv file is not an error, a missing config file is.
func Load(v *viper.Viper, dotenv, file string) (Config, error) {
	if dotenv != "" {
		if err := godotenv.Load(dotenv); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("load %s: %w", dotenv, err)
		}
	}

	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", file, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects settings the probe cannot run with.
func (c Config) Validate() error {
	var errs []error
	if c.RetentionSeconds <= 0 {
		errs = append(errs, fmt.Errorf("retention_seconds must be positive, got %d", c.RetentionSeconds))
	}
	if _, err := capture.ParsePolicy(c.RetentionPolicy); err != nil {
		errs = append(errs, err)
	}
	if c.Capacity <= 0 {
		errs = append(errs, fmt.Errorf("capacity must be positive, got %d", c.Capacity))
	}
	if c.MaxCPUs < 0 {
		errs = append(errs, fmt.Errorf("max_cpus must not be negative, got %d", c.MaxCPUs))
	}
	switch c.Source {
	case SourceSynthetic, SourceEBPF:
	default:
		errs = append(errs, fmt.Errorf("unknown source %q (want %s or %s)", c.Source, SourceSynthetic, SourceEBPF))
	}
	if f, err := output.ParseFormat(c.Format); err != nil {
		errs = append(errs, err)
	} else if !f.Streamable() {
		errs = append(errs, fmt.Errorf("format %q cannot be streamed", f))
	}
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	if c.LogFormat != "text" && c.LogFormat != "json" {
		errs = append(errs, fmt.Errorf("unknown log_format %q (want text or json)", c.LogFormat))
	}
	if c.TickHz <= 0 {
		errs = append(errs, fmt.Errorf("tick_hz must be positive, got %d", c.TickHz))
	}
	if c.Synthetic.MinIdle <= 0 || c.Synthetic.MaxIdle < c.Synthetic.MinIdle || c.Synthetic.MaxBusy <= 0 {
		errs = append(errs, fmt.Errorf("synthetic timings invalid: min_idle=%s max_idle=%s max_busy=%s",
			c.Synthetic.MinIdle, c.Synthetic.MaxIdle, c.Synthetic.MaxBusy))
	}
	return errors.Join(errs...)
}

// CPUs is the tracker size: runtime.NumCPU capped by max_cpus.
func (c Config) CPUs() int {
	n := runtime.NumCPU()
	if c.MaxCPUs > 0 && c.MaxCPUs < n {
		n = c.MaxCPUs
	}
	return n
}

// Capture converts the log settings.
func (c Config) Capture() capture.Config {
	policy, _ := capture.ParsePolicy(c.RetentionPolicy)
	return capture.Config{
		Retention: time.Duration(c.RetentionSeconds) * time.Second,
		Policy:    policy,
		Capacity:  c.Capacity,
	}
}

// OutputFormat returns the parsed default drain format.
func (c Config) OutputFormat() output.Format {
	f, _ := output.ParseFormat(c.Format)
	return f
}

// SyntheticConfig returns the synthetic hook settings for cpus CPUs.
func (c Config) SyntheticConfig(cpus int) synthetic.Config {
	return synthetic.Config{
		CPUs:    cpus,
		MinIdle: c.Synthetic.MinIdle,
		MaxIdle: c.Synthetic.MaxIdle,
		MaxBusy: c.Synthetic.MaxBusy,
	}
}

// NewLogger builds the process logger from log_level and log_format.
func (c Config) NewLogger() (*logrus.Logger, error) {
	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		return nil, err
	}
	logger := logrus.New()
	logger.SetOutput(os.Stderr)
	logger.SetLevel(level)
	if c.LogFormat == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return logger, nil
}
