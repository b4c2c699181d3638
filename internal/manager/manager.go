// Package manager instantiates enabled plugins from a registry and keeps the
// ones that loaded. Construction and configuration failures are isolated:
// the failing module is left out and the operator is notified.
package manager

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sort"

	"logsentry/internal/config"
	"logsentry/internal/mail"
)

var ErrUnknownModule = errors.New("unknown module")

// Module is what the manager needs from a loaded reader or monitor.
type Module interface {
	Name() string
	Enabled() bool
}

// Build constructs and configures one module.
type Build[T Module] func(name string, cfg config.ModuleConfig) (T, error)

// Set holds the modules loaded for one scan, in discovery order.
type Set[T Module] struct {
	kind     string
	order    []string
	loaded   map[string]T
	notifier mail.Notifier
	logger   *slog.Logger
	debug    bool
}

func New[T Module](kind string, notifier mail.Notifier, logger *slog.Logger) *Set[T] {
	return &Set[T]{kind: kind, loaded: make(map[string]T), notifier: notifier, logger: logger}
}

// SetDebug makes load failures panic instead of being isolated.
func (s *Set[T]) SetDebug(debug bool) {
	s.debug = debug
}

// LoadAll builds every registered module that has a config block. Registered
// names are visited sorted so dispatch order is deterministic. Enabled names
// with no registration are logged and skipped.
func (s *Set[T]) LoadAll(ctx context.Context, registered []string, enabled map[string]config.ModuleConfig, build Build[T]) map[string]T {
	names := append([]string(nil), registered...)
	sort.Strings(names)
	known := make(map[string]struct{}, len(names))
	for _, name := range names {
		known[name] = struct{}{}
		cfg, ok := enabled[name]
		if !ok {
			if s.logger != nil {
				s.logger.Debug("module not enabled", "kind", s.kind, "module", name)
			}
			continue
		}
		mod, err := s.load(name, cfg, build)
		if err != nil {
			if s.debug {
				panic(fmt.Errorf("%s module %s not loaded: %w", s.kind, name, err))
			}
			msg := fmt.Sprintf("%s module %s not loaded: %v", s.kind, name, err)
			if s.logger != nil {
				s.logger.Error("module load failed", "kind", s.kind, "module", name, "err", err)
			}
			if s.notifier != nil {
				s.notifier.Notify(ctx, "Error loading "+s.kind+" "+name, msg)
			}
			continue
		}
		s.order = append(s.order, name)
		s.loaded[name] = mod
		if s.logger != nil {
			if mod.Enabled() {
				s.logger.Debug("module loaded", "kind", s.kind, "module", name)
			} else {
				s.logger.Info("module disabled on load", "kind", s.kind, "module", name)
			}
		}
	}
	for name := range enabled {
		if _, ok := known[name]; !ok && s.logger != nil {
			s.logger.Warn("module not loaded", "kind", s.kind, "module", name, "err", ErrUnknownModule)
		}
	}
	return s.All()
}

func (s *Set[T]) load(name string, cfg config.ModuleConfig, build Build[T]) (mod T, err error) {
	defer func() {
		if r := recover(); r != nil {
			if s.debug {
				panic(r)
			}
			err = fmt.Errorf("panic: %v\n%s", r, debug.Stack())
		}
	}()
	return build(name, cfg)
}

// All returns every loaded module keyed by name.
func (s *Set[T]) All() map[string]T {
	out := make(map[string]T, len(s.loaded))
	for k, v := range s.loaded {
		out[k] = v
	}
	return out
}

// Active returns the loaded modules that are still enabled, in order.
func (s *Set[T]) Active() []T {
	out := make([]T, 0, len(s.order))
	for _, name := range s.order {
		if mod := s.loaded[name]; mod.Enabled() {
			out = append(out, mod)
		}
	}
	return out
}

// Loaded returns every loaded module in order, enabled or not.
func (s *Set[T]) Loaded() []T {
	out := make([]T, 0, len(s.order))
	for _, name := range s.order {
		out = append(out, s.loaded[name])
	}
	return out
}

func (s *Set[T]) ActiveNames() []string {
	active := s.Active()
	out := make([]string, 0, len(active))
	for _, mod := range active {
		out = append(out, mod.Name())
	}
	return out
}

type readerDependent interface {
	Readers() []string
	Disable()
}

// RestrictToReaders disables every module whose declared readers do not
// overlap valid. This is expected degradation, so nobody is notified. An
// empty valid list leaves modules untouched.
func (s *Set[T]) RestrictToReaders(valid []string) {
	if len(valid) == 0 {
		return
	}
	set := make(map[string]struct{}, len(valid))
	for _, r := range valid {
		set[r] = struct{}{}
	}
	for _, mod := range s.Active() {
		dep, ok := any(mod).(readerDependent)
		if !ok {
			continue
		}
		overlap := false
		for _, r := range dep.Readers() {
			if _, ok := set[r]; ok {
				overlap = true
				break
			}
		}
		if !overlap {
			dep.Disable()
			if s.logger != nil {
				s.logger.Info("module disabled, no active readers", "kind", s.kind, "module", mod.Name())
			}
		}
	}
}
