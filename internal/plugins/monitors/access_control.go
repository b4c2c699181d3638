package monitors

import (
	"context"
	"fmt"
	"strings"
	"time"

	"logsentry/internal/config"
	"logsentry/internal/ingest"
	"logsentry/internal/model"
	"logsentry/internal/monitor"
)

func init() {
	monitor.Register("monitor_access_control", func() monitor.Plugin {
		return &AccessControl{}
	})
}

type accessOptions struct {
	Readers     []string            `yaml:"readers"`
	AllowOnly   bool                `yaml:"allow_only"`
	Allow       []string            `yaml:"allow"`
	Deny        []string            `yaml:"deny"`
	ReaderAllow map[string][]string `yaml:"reader_allow"`
	ReaderDeny  map[string][]string `yaml:"reader_deny"`
	SuccessOnly bool                `yaml:"success_only"`
	Cooldown    time.Duration       `yaml:"cooldown"`
}

// AccessControlSet holds global and per-reader user allow and deny lists.
type AccessControlSet struct {
	AllowOnly   bool
	GlobalAllow map[string]struct{}
	GlobalDeny  map[string]struct{}
	ReaderAllow map[string]map[string]struct{}
	ReaderDeny  map[string]map[string]struct{}
}

func buildAccessControl(opts accessOptions) *AccessControlSet {
	return &AccessControlSet{
		AllowOnly:   opts.AllowOnly,
		GlobalAllow: buildUserSet(opts.Allow),
		GlobalDeny:  buildUserSet(opts.Deny),
		ReaderAllow: buildUserMap(opts.ReaderAllow),
		ReaderDeny:  buildUserMap(opts.ReaderDeny),
	}
}

func buildUserSet(values []string) map[string]struct{} {
	if len(values) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		user := normalizeUser(v)
		if user == "" {
			continue
		}
		set[user] = struct{}{}
	}
	if len(set) == 0 {
		return nil
	}
	return set
}

func buildUserMap(values map[string][]string) map[string]map[string]struct{} {
	if len(values) == 0 {
		return nil
	}
	out := make(map[string]map[string]struct{}, len(values))
	for reader, list := range values {
		set := buildUserSet(list)
		if len(set) == 0 {
			continue
		}
		out[reader] = set
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func (a *AccessControlSet) IsDenied(reader, user string) bool {
	return a.listed(a.GlobalDeny, a.ReaderDeny, reader, user)
}

func (a *AccessControlSet) IsAllowed(reader, user string) bool {
	return a.listed(a.GlobalAllow, a.ReaderAllow, reader, user)
}

func (a *AccessControlSet) listed(global map[string]struct{}, perReader map[string]map[string]struct{}, reader, user string) bool {
	if a == nil || user == "" {
		return false
	}
	if _, ok := global[user]; ok {
		return true
	}
	if set, ok := perReader[reader]; ok {
		if _, ok := set[user]; ok {
			return true
		}
	}
	return false
}

func normalizeUser(user string) string {
	return strings.ToLower(strings.TrimSpace(user))
}

// AccessControl alerts when a denied user shows up, or in allow-only mode
// when any user outside the allow lists does.
type AccessControl struct {
	monitor.Base
	opts     accessOptions
	access   *AccessControlSet
	cooldown *cooldown
}

func (m *AccessControl) LoadConfig(env *monitor.Env, cfg config.ModuleConfig) error {
	if err := m.Base.LoadConfig(env, cfg); err != nil {
		return err
	}
	if err := cfg.DecodeOptions(&m.opts); err != nil {
		return err
	}
	if len(m.opts.Deny) == 0 && len(m.opts.ReaderDeny) == 0 && !m.opts.AllowOnly {
		return fmt.Errorf("nothing to enforce: set deny, reader_deny or allow_only")
	}
	if m.opts.Cooldown == 0 {
		m.opts.Cooldown = time.Hour
	}
	m.UseReaders(m.opts.Readers, "reader_sshd")
	m.access = buildAccessControl(m.opts)
	m.cooldown = newCooldown(env.Cache, m.opts.Cooldown)
	return env.State.Init(map[string]any{"violations_total": 0})
}

func (m *AccessControl) Check(ctx context.Context, ev *model.Event) error {
	user := normalizeUser(ev.String(ingest.FieldUser))
	if user == "" {
		return nil
	}
	if m.opts.SuccessOnly && ev.String(ingest.FieldResult) != string(model.ResultSuccess) {
		return nil
	}
	var rule, severity string
	switch {
	case m.access.IsDenied(ev.Reader, user):
		rule, severity = "denied_user", "critical"
	case m.access.AllowOnly && !m.access.IsAllowed(ev.Reader, user):
		rule, severity = "allow_list_violation", "high"
	default:
		return nil
	}
	if !m.cooldown.Allow(rule + "|" + ev.Reader + "|" + user) {
		return nil
	}
	var total int
	if _, err := m.Env.State.Get("violations_total", &total); err != nil {
		return err
	}
	if err := m.Env.State.Set("violations_total", total+1); err != nil {
		return err
	}
	subject := fmt.Sprintf("[%s] %s: %s on %s", severity, rule, user, ev.Reader)
	body := fmt.Sprintf("User %q matched rule %s.\nSource: %s\nHost: %s\nResult: %s\nTime: %s\n\n%s\n",
		user, rule,
		ev.String(ingest.FieldSource),
		ev.String(ingest.FieldHost),
		ev.String(ingest.FieldResult),
		ev.String(ingest.FieldTimestamp),
		eventJSON(ev))
	return m.Alert(ctx, subject, body)
}
