// Package hooks defines the sources that report CPU idle entry and exit.
package hooks

import (
	"errors"
	"sort"

	"github.com/danpilch/idleprobe/pkg/clock"
)

// ErrUnsupported is returned by sources that cannot run on this platform.
var ErrUnsupported = errors.New("hook not supported on this platform")

// Notifier receives idle notifications. Calls for one CPU arrive in
// begin/end order from a single goroutine at a time and must not block.
type Notifier interface {
	// BeginEpisode reports that cpu entered idle now.
	BeginEpisode(cpu int)
	// EndEpisode reports that cpu left idle now.
	EndEpisode(cpu int)
	// BeginEpisodeAt reports an idle entry stamped by the hook.
	BeginEpisodeAt(cpu int, r clock.Reading)
	// EndEpisodeAt reports an idle exit stamped by the hook.
	EndEpisodeAt(cpu int, r clock.Reading)
	// DiscardEpisode drops any open begin on cpu after the hook lost
	// notifications for it.
	DiscardEpisode(cpu int)
}

// Source is the interface that all idle hooks must implement.
type Source interface {
	// Name returns the name of the hook (e.g., "ebpf", "synthetic").
	Name() string

	// Attach starts delivering notifications to n. It returns once the
	// hook is live, or with an error and nothing left registered.
	Attach(n Notifier) error

	// Detach stops delivery and waits for in-flight notifications.
	Detach() error
}

// Registry holds all registered hook sources.
type Registry struct {
	sources map[string]Source
}

// NewRegistry creates a new hook registry.
func NewRegistry() *Registry {
	return &Registry{
		sources: make(map[string]Source),
	}
}

// Register adds a source to the registry, replacing one with the same name.
func (r *Registry) Register(s Source) {
	r.sources[s.Name()] = s
}

// Names returns the registered source names in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.sources))
	for name := range r.sources {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// GetByName returns a source by name, or nil if not found.
func (r *Registry) GetByName(name string) Source {
	return r.sources[name]
}
