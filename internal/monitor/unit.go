// Package monitor runs monitor plugins with per-hook fault isolation and
// persists their state, TTL cache and undelivered alerts between scans.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"runtime/debug"

	"logsentry/internal/alerts"
	"logsentry/internal/clock"
	"logsentry/internal/config"
	"logsentry/internal/logging"
	"logsentry/internal/mail"
	"logsentry/internal/metrics"
	"logsentry/internal/model"
	"logsentry/internal/state"
	"logsentry/internal/statefile"
	"logsentry/internal/storage"
)

const (
	keyName         = "monitor_name"
	keyDynamicState = "_dynamic_state"
	keyMailQueue    = "mail_queue"
)

type Options struct {
	StateRoot string
	// MaxEmails applies when the module config sets none.
	MaxEmails int
	Clock     clock.Clock
	Notifier  mail.Notifier
	Logger    *slog.Logger
	Store     storage.Store
	Alerts    *alerts.Store
	Recorder  *metrics.Recorder
	// Debug re-raises hook faults instead of disabling the unit.
	Debug     bool
}

// Unit wraps one monitor plugin for the lifetime of a scan. Once a hook
// fails the unit is disabled and every later hook is a no-op.
type Unit struct {
	name    string
	plugin  Plugin
	env     *Env
	opts    Options
	enabled bool
	readers map[string]struct{}

	checkCount int
	alertCount int
}

// New loads the monitor's state file, restores its cache and retry queue,
// and configures the plugin.
func New(name string, cfg config.ModuleConfig, plugin Plugin, opts Options) (*Unit, error) {
	if opts.Clock == nil {
		opts.Clock = clock.Real{}
	}
	if opts.Logger == nil {
		opts.Logger = logging.Discard()
	}
	u := &Unit{name: name, plugin: plugin, opts: opts, enabled: true}

	doc := statefile.Document{}
	if _, err := statefile.Load(u.statePath(), &doc); err != nil {
		return nil, fmt.Errorf("load state: %w", err)
	}
	if doc == nil {
		doc = statefile.Document{}
	}
	var snap state.Snapshot
	if _, err := doc.Get(keyDynamicState, &snap); err != nil {
		return nil, err
	}
	var retry []model.AlertMessage
	if _, err := doc.Get(keyMailQueue, &retry); err != nil {
		return nil, err
	}
	if err := doc.Set(keyName, name); err != nil {
		return nil, err
	}

	max := cfg.MaxEmails
	if max <= 0 {
		max = opts.MaxEmails
	}
	queue := mail.NewQueue(name, max, opts.Notifier, opts.Logger)
	queue.Restore(retry)

	u.env = &Env{
		Name:   name,
		Cache:  state.NewCache(snap, opts.Clock),
		Queue:  queue,
		State:  doc,
		Clock:  opts.Clock,
		Logger: opts.Logger.With("monitor", name),
		Store:  opts.Store,
	}
	if err := plugin.LoadConfig(u.env, cfg); err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	declared := plugin.Readers()
	if len(declared) == 0 {
		return nil, errors.New("no readers declared")
	}
	u.readers = make(map[string]struct{}, len(declared))
	for _, r := range declared {
		u.readers[r] = struct{}{}
	}
	return u, nil
}

func (u *Unit) statePath() string {
	return filepath.Join(u.opts.StateRoot, u.name)
}

func (u *Unit) Name() string {
	return u.name
}

func (u *Unit) Enabled() bool {
	return u.enabled
}

func (u *Unit) Disable() {
	u.enabled = false
}

func (u *Unit) Readers() []string {
	return u.plugin.Readers()
}

func (u *Unit) Env() *Env {
	return u.env
}

func (u *Unit) CheckCount() int {
	return u.checkCount
}

// HandleCheck passes ev to the plugin when it comes from one of the
// monitor's readers.
func (u *Unit) HandleCheck(ctx context.Context, ev *model.Event) {
	if !u.enabled || ev == nil {
		return
	}
	if _, ok := u.readers[ev.Reader]; !ok {
		return
	}
	if u.guard(ctx, "check", func() error { return u.plugin.Check(ctx, ev) }) {
		u.checkCount++
	}
}

func (u *Unit) HandleComplete(ctx context.Context) {
	if !u.enabled {
		return
	}
	u.guard(ctx, "complete", func() error { return u.plugin.Complete(ctx) })
}

func (u *Unit) HandleDaily(ctx context.Context) {
	if !u.enabled {
		return
	}
	u.guard(ctx, "daily", func() error { return u.plugin.Daily(ctx) })
}

// guard runs one hook. A returned error or a panic disables the unit and
// notifies the operator with the stack.
func (u *Unit) guard(ctx context.Context, hook string, fn func() error) (ok bool) {
	var stack []byte
	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				if u.opts.Debug {
					panic(r)
				}
				err = fmt.Errorf("panic: %v", r)
				stack = debug.Stack()
			}
		}()
		return fn()
	}()
	if err == nil {
		return true
	}
	if u.opts.Debug {
		panic(fmt.Errorf("%s %s: %w", u.name, hook, err))
	}
	u.enabled = false
	u.env.Logger.Error("monitor disabled", "hook", hook, "err", err)
	if u.opts.Recorder != nil {
		u.opts.Recorder.ModuleFault("monitor", u.name)
	}
	if u.opts.Notifier != nil {
		msg := fmt.Sprintf("ERROR: An error, %v, occurred in %s during %s and it has been disabled.\n", err, u.name, hook)
		if stack != nil {
			msg += string(stack)
		}
		u.opts.Notifier.Notify(ctx, "Error in: "+u.name, msg)
	}
	return false
}

// Flush delivers the queued alerts. Every outcome is archived; failures stay
// in the retry list for the next scan.
func (u *Unit) Flush(ctx context.Context, t mail.Transport, from, copyTo string) []mail.Delivery {
	if !u.enabled {
		return nil
	}
	deliveries := u.env.Queue.Flush(ctx, t, from, copyTo)
	for _, d := range deliveries {
		rec := model.AlertRecord{
			Timestamp: u.opts.Clock.Now(),
			Monitor:   u.name,
			To:        d.Message.To,
			Subject:   d.Message.Subject,
			Delivered: d.Delivered,
		}
		if u.opts.Alerts != nil {
			u.opts.Alerts.Add(rec)
		}
		if u.opts.Recorder != nil {
			u.opts.Recorder.AlertDelivery(u.name, d.Delivered)
		}
		if u.opts.Store != nil {
			if err := u.opts.Store.SaveAlert(ctx, rec); err != nil {
				u.env.Logger.Warn("archive alert failed", "err", err)
			}
		}
		if !d.Delivered {
			u.env.Logger.Warn("alert not delivered", "to", d.Message.To, "subject", d.Message.Subject, "requeued", d.Requeued)
		}
	}
	u.alertCount += len(deliveries)
	return deliveries
}

// Save writes the monitor's state file: plugin fields, the exported cache and
// the retry queue. A disabled monitor keeps its previous state file.
func (u *Unit) Save() error {
	if !u.enabled {
		return nil
	}
	doc := u.env.State
	if err := doc.Set(keyName, u.name); err != nil {
		return err
	}
	if err := doc.Set(keyDynamicState, u.env.Cache.Export()); err != nil {
		return err
	}
	if err := doc.Set(keyMailQueue, u.env.Queue.Unsent()); err != nil {
		return err
	}
	if err := statefile.Save(u.statePath(), doc); err != nil {
		return fmt.Errorf("save monitor state %s: %w", u.name, err)
	}
	return nil
}

func (u *Unit) Stats() model.ModuleStats {
	return model.ModuleStats{
		Kind:    "monitor",
		Name:    u.name,
		Count:   u.checkCount,
		Alerts:  u.alertCount,
		Enabled: u.enabled,
		Updated: u.opts.Clock.Now(),
	}
}
