package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"logsentry/internal/clock"
	"logsentry/internal/config"
	"logsentry/internal/mail"
	"logsentry/internal/model"
	"logsentry/internal/state"
	"logsentry/internal/statefile"
	"logsentry/internal/storage"
)

// Plugin is a stateful check over events. Check and LoadConfig carry the
// monitor's logic; embed Base for no-op Complete and Daily.
type Plugin interface {
	LoadConfig(env *Env, cfg config.ModuleConfig) error
	// Readers names the readers whose events this monitor wants.
	Readers() []string
	Check(ctx context.Context, ev *model.Event) error
	Complete(ctx context.Context) error
	Daily(ctx context.Context) error
}

// Env is what a monitor may touch during a scan. Every field is owned by
// the one monitor it was built for.
type Env struct {
	Name   string
	Cache  *state.Cache
	Queue  *mail.Queue
	State  statefile.Document
	Clock  clock.Clock
	Logger *slog.Logger
	// Store is nil unless storage is enabled.
	Store storage.Store
}

// Base keeps the environment and config, supplies no-op Complete and Daily,
// and queues alerts to the configured recipients.
type Base struct {
	Env     *Env
	Config  config.ModuleConfig
	readers []string
}

func (b *Base) LoadConfig(env *Env, cfg config.ModuleConfig) error {
	if len(cfg.EmailTo) == 0 {
		return errors.New("email_to is required")
	}
	b.Env = env
	b.Config = cfg
	return nil
}

// UseReaders sets the reader capability set: configured when given,
// defaults otherwise.
func (b *Base) UseReaders(configured []string, defaults ...string) {
	if len(configured) > 0 {
		b.readers = append([]string(nil), configured...)
		return
	}
	b.readers = append([]string(nil), defaults...)
}

func (b *Base) Readers() []string {
	return b.readers
}

func (*Base) Complete(context.Context) error {
	return nil
}

func (*Base) Daily(context.Context) error {
	return nil
}

// Alert queues one message per configured recipient. A full queue is not a
// fault of the monitor, so ErrQueueFull is swallowed.
func (b *Base) Alert(ctx context.Context, subject, body string) error {
	err := b.Env.Queue.QueueAlert(ctx, strings.Join(b.Config.EmailTo, ","), subject, body)
	if err != nil && !errors.Is(err, mail.ErrQueueFull) {
		return fmt.Errorf("queue alert: %w", err)
	}
	return nil
}

func (b *Base) Now() int64 {
	return b.Env.Clock.Now().Unix()
}
