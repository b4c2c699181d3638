// Package scheduler drives scans, either once or on a fixed interval, and
// guards against a second instance through the pid in the state file.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"logsentry/internal/alerts"
	"logsentry/internal/clock"
	"logsentry/internal/config"
	"logsentry/internal/logging"
	"logsentry/internal/mail"
	"logsentry/internal/metrics"
	"logsentry/internal/model"
	"logsentry/internal/statefile"
	"logsentry/internal/storage"
)

type Options struct {
	Config    *config.Manager
	Clock     clock.Clock
	Logger    *slog.Logger
	Transport mail.Transport
	Store     storage.Store
	Alerts    *alerts.Store
	Metrics   *metrics.Store
	Recorder  *metrics.Recorder
	// ForceDaily runs the daily hooks on the first scan regardless of the
	// hour gate.
	ForceDaily bool
	PID        int
	Sleep      func(ctx context.Context, d time.Duration)
	RunCommand func(ctx context.Context, command string) error
}

type Scheduler struct {
	opts      Options
	statePath string
	state     model.SchedulerState
	locked    bool

	forceDaily bool
	stopping   atomic.Bool
	scans      atomic.Int64

	mu       sync.Mutex
	deadline time.Time
}

// New creates the state and temp directories and loads the scheduler state.
// Failing to create a directory is fatal for the process.
func New(opts Options) (*Scheduler, error) {
	if opts.Config == nil {
		return nil, fmt.Errorf("scheduler: config manager required")
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real{}
	}
	if opts.Logger == nil {
		opts.Logger = logging.Discard()
	}
	if opts.PID == 0 {
		opts.PID = os.Getpid()
	}
	if opts.Sleep == nil {
		opts.Sleep = sleep
	}
	if opts.RunCommand == nil {
		opts.RunCommand = runShell
	}
	cfg := opts.Config.Get()
	if opts.Transport == nil {
		t, err := mail.NewTransport(cfg.Mail, opts.Logger)
		if err != nil {
			return nil, err
		}
		opts.Transport = t
	}
	for _, dir := range []string{cfg.StateRoot, cfg.TempRoot, filepath.Dir(cfg.StateFile)} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create %s: %w", dir, err)
		}
	}
	s := &Scheduler{opts: opts, statePath: cfg.StateFile, forceDaily: opts.ForceDaily}
	if _, err := statefile.Load(s.statePath, &s.state); err != nil {
		return nil, fmt.Errorf("load scheduler state: %w", err)
	}
	return s, nil
}

// State returns the scheduler state as of the last completed step.
func (s *Scheduler) State() model.SchedulerState {
	return s.state
}

// Scans is the number of scans completed by this process.
func (s *Scheduler) Scans() int64 {
	return s.scans.Load()
}

// Shutdown asks Run to stop after the current scan. It never interrupts a
// scan in flight.
func (s *Scheduler) Shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopping.Swap(true) {
		return
	}
	grace := s.opts.Config.Get().ShutdownGrace
	s.deadline = s.opts.Clock.Now().Add(grace)
	s.opts.Logger.Info("finishing current scan before quitting", "grace", grace)
}

func (s *Scheduler) ShuttingDown() bool {
	return s.stopping.Load()
}

// Deadline is when the shutdown grace period ends; zero until Shutdown.
func (s *Scheduler) Deadline() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deadline
}

// RunOnce runs a single scan.
func (s *Scheduler) RunOnce(ctx context.Context) (model.ScanSummary, error) {
	start := time.Now()
	summary, err := s.scan(ctx)
	s.opts.Logger.Info("scan completed", "scan_id", summary.ID, "seconds", int(time.Since(start).Seconds()))
	return summary, err
}

// Run scans every interval until Shutdown is called or ctx ends. The next
// scan is due interval after the previous one started, so scans never
// overlap and a slow scan only shortens the idle time that follows.
func (s *Scheduler) Run(ctx context.Context) error {
	var next time.Time
	s.opts.Logger.Info("daemon starting")
	for {
		if s.stopping.Load() || ctx.Err() != nil {
			break
		}
		cfg := s.reload()
		now := s.opts.Clock.Now()
		if now.Before(next) {
			s.opts.Sleep(ctx, cfg.Tick)
			continue
		}
		next = now.Add(cfg.Interval)
		if _, err := s.RunOnce(ctx); err != nil {
			return err
		}
		if !s.stopping.Load() {
			s.opts.Logger.Info("next scan scheduled", "at", next.Format(time.RFC3339))
		}
	}
	s.opts.Logger.Info("daemon stopped", "scans", s.scans.Load())
	return nil
}

// reload swaps in the config file when it changed on disk. A broken file
// keeps the previous config.
func (s *Scheduler) reload() *config.Config {
	changed, err := s.opts.Config.NeedsReload()
	if err != nil {
		s.opts.Logger.Warn("config stat failed", "path", s.opts.Config.Path(), "err", err)
		return s.opts.Config.Get()
	}
	if !changed {
		return s.opts.Config.Get()
	}
	cfg, err := s.opts.Config.Reload()
	if err != nil {
		s.opts.Logger.Error("config reload failed, keeping previous", "path", s.opts.Config.Path(), "err", err)
		return s.opts.Config.Get()
	}
	s.opts.Logger.Info("config reloaded", "path", s.opts.Config.Path())
	return cfg
}

func (s *Scheduler) saveState() error {
	if err := statefile.Save(s.statePath, s.state); err != nil {
		return fmt.Errorf("save scheduler state: %w", err)
	}
	return nil
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

func runShell(ctx context.Context, command string) error {
	return exec.CommandContext(ctx, "/bin/sh", "-c", command).Run()
}
