//go:build !linux

package ebpf

import (
	"fmt"

	"github.com/danpilch/idleprobe/pkg/hooks"
	"github.com/sirupsen/logrus"
)

// Source is unavailable outside Linux; Attach always fails.
type Source struct {
	cfg    Config
	logger *logrus.Logger
}

// New creates a hook that reports ErrUnsupported on Attach.
func New(cfg Config, logger *logrus.Logger) *Source {
	return &Source{cfg: cfg, logger: defaultLogger(logger)}
}

// Name returns the source name.
func (s *Source) Name() string {
	return "ebpf"
}

// Attach always fails on this platform.
func (s *Source) Attach(hooks.Notifier) error {
	return fmt.Errorf("ebpf cpu_idle hook: %w", hooks.ErrUnsupported)
}

// Detach is a no-op.
func (s *Source) Detach() error {
	return nil
}
