package reader

import (
	"fmt"
	"sort"

	"logsentry/internal/clock"
	"logsentry/internal/config"
	"logsentry/internal/model"
)

// Plugin turns raw lines of one log format into events. ParseLine returns a
// nil event for lines that carry nothing of interest.
type Plugin interface {
	LoadConfig(cfg config.ModuleConfig) error
	ParseLine(line string) (*model.Event, error)
}

// ClockUser is implemented by plugins that need the scan clock, for instance
// to place syslog timestamps that carry no year. UseClock runs before
// LoadConfig.
type ClockUser interface {
	UseClock(clk clock.Clock)
}

// Constructor creates a new Plugin instance.
type Constructor func() Plugin

var registry = map[string]Constructor{}

// Register adds a reader constructor under the given module name.
func Register(name string, ctor Constructor) {
	registry[name] = ctor
}

// Get returns the reader constructor for the given module name.
func Get(name string) (Constructor, error) {
	ctor, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("unknown reader: %s", name)
	}
	return ctor, nil
}

// Names returns the registered reader names, sorted.
func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
