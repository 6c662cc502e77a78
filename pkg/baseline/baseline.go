// Package baseline saves benchmark runs under a name and reports drift
// of later runs against them.
package baseline

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/danpilch/idleprobe/pkg/benchmark"
)

// Baseline is a named set of benchmark results.
type Baseline struct {
	Name      string             `json:"name"`
	Timestamp time.Time          `json:"timestamp"`
	Hostname  string             `json:"hostname"`
	Results   []benchmark.Result `json:"results"`
	Metadata  map[string]string  `json:"metadata,omitempty"`
}

// DefaultDir returns the default baseline storage directory.
func DefaultDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".idleprobe", "baselines")
	}
	return filepath.Join(home, ".idleprobe", "baselines")
}

// New creates a baseline from results.
func New(name string, results []benchmark.Result) *Baseline {
	hostname, _ := os.Hostname()
	return &Baseline{
		Name:      name,
		Timestamp: time.Now(),
		Hostname:  hostname,
		Results:   results,
	}
}

func path(name, dir string) (string, error) {
	if name == "" || strings.ContainsAny(name, `/\`) {
		return "", fmt.Errorf("invalid baseline name %q", name)
	}
	if dir == "" {
		dir = DefaultDir()
	}
	return filepath.Join(dir, name+".json"), nil
}

// Save writes the baseline as JSON under dir.
func (b *Baseline) Save(dir string) error {
	p, err := path(b.Name, dir)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return fmt.Errorf("cannot create baseline directory: %w", err)
	}
	data, err := json.MarshalIndent(b, "", "  ")
	if err != nil {
		return fmt.Errorf("cannot marshal baseline: %w", err)
	}
	if err := os.WriteFile(p, data, 0o644); err != nil {
		return fmt.Errorf("cannot write baseline: %w", err)
	}
	return nil
}

// Load reads a named baseline from dir.
func Load(name, dir string) (*Baseline, error) {
	p, err := path(name, dir)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p)
	if err != nil {
		return nil, fmt.Errorf("cannot read baseline %q: %w", name, err)
	}
	var b Baseline
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("cannot parse baseline %q: %w", name, err)
	}
	return &b, nil
}

// List returns saved baseline names in sorted order.
func List(dir string) ([]string, error) {
	if dir == "" {
		dir = DefaultDir()
	}
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var names []string
	for _, e := range entries {
		if !e.IsDir() && filepath.Ext(e.Name()) == ".json" {
			names = append(names, strings.TrimSuffix(e.Name(), ".json"))
		}
	}
	sort.Strings(names)
	return names, nil
}
