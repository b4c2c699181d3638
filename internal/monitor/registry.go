package monitor

import (
	"fmt"
	"sort"
)

// Constructor creates a new Plugin instance.
type Constructor func() Plugin

var registry = map[string]Constructor{}

// Register adds a monitor constructor under the given module name.
func Register(name string, ctor Constructor) {
	registry[name] = ctor
}

// Get returns the monitor constructor for the given module name.
func Get(name string) (Constructor, error) {
	ctor, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("unknown monitor: %s", name)
	}
	return ctor, nil
}

// Names returns the registered monitor names, sorted.
func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
