package monitors

import (
	"context"
	"fmt"
	"time"

	"logsentry/internal/config"
	"logsentry/internal/ingest"
	"logsentry/internal/model"
	"logsentry/internal/monitor"
	"logsentry/internal/state"
)

func init() {
	monitor.Register("monitor_new_source", func() monitor.Plugin {
		return &NewSource{}
	})
}

type newSourceOptions struct {
	Readers  []string      `yaml:"readers"`
	Remember time.Duration `yaml:"remember"`
	// IgnoreSources are never reported, e.g. a bastion or VPN concentrator.
	IgnoreSources []string `yaml:"ignore_sources"`
}

// NewSource alerts on a successful login from a source the user has not
// logged in from within the remember period. The first scan only learns.
type NewSource struct {
	monitor.Base
	opts    newSourceOptions
	ignore  map[string]struct{}
	pairs   *state.Map
	users   *state.Map
	learned bool
}

func (m *NewSource) LoadConfig(env *monitor.Env, cfg config.ModuleConfig) error {
	if err := m.Base.LoadConfig(env, cfg); err != nil {
		return err
	}
	if err := cfg.DecodeOptions(&m.opts); err != nil {
		return err
	}
	if m.opts.Remember <= 0 {
		m.opts.Remember = 30 * 24 * time.Hour
	}
	m.UseReaders(m.opts.Readers, "reader_sshd")
	m.ignore = make(map[string]struct{}, len(m.opts.IgnoreSources))
	for _, s := range m.opts.IgnoreSources {
		m.ignore[s] = struct{}{}
	}
	m.pairs = env.Cache.Map("pairs", m.opts.Remember)
	m.users = env.Cache.Map("users", m.opts.Remember)
	if err := env.State.Init(map[string]any{"learned": false}); err != nil {
		return err
	}
	_, err := env.State.Get("learned", &m.learned)
	return err
}

func (m *NewSource) Check(ctx context.Context, ev *model.Event) error {
	if ev.String(ingest.FieldResult) != string(model.ResultSuccess) {
		return nil
	}
	user := ev.String(ingest.FieldUser)
	source := ev.String(ingest.FieldSource)
	if user == "" || source == "" {
		return nil
	}
	if _, skip := m.ignore[source]; skip {
		return nil
	}
	key := user + "|" + source
	_, known := m.pairs.Get(key)
	_, seenUser := m.users.Get(user)
	m.pairs.SetItem(key, ev.String(ingest.FieldTimestamp))
	m.users.SetItem(user, source)
	if known || !seenUser || !m.learned {
		return nil
	}
	subject := fmt.Sprintf("New login source for %s: %s", user, source)
	body := fmt.Sprintf("%s logged in from %s, not seen for this user in the last %s.\nHost: %s\nReader: %s\nTime: %s\n\n%s\n",
		user, source, m.opts.Remember,
		ev.String(ingest.FieldHost), ev.Reader, ev.String(ingest.FieldTimestamp), eventJSON(ev))
	return m.Alert(ctx, subject, body)
}

func (m *NewSource) Complete(context.Context) error {
	if m.learned {
		return nil
	}
	m.learned = true
	return m.Env.State.Set("learned", true)
}
