package monitors

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"logsentry/internal/config"
	"logsentry/internal/ingest"
	"logsentry/internal/model"
	"logsentry/internal/monitor"
	"logsentry/internal/state"
)

func init() {
	monitor.Register("monitor_brute_force_logins", func() monitor.Plugin {
		return &BruteForce{}
	})
}

type bruteForceOptions struct {
	Readers            []string      `yaml:"readers"`
	Window             time.Duration `yaml:"window"`
	MaxFailuresPerUser int           `yaml:"max_failures_per_user"`
	MaxUsersPerSource  int           `yaml:"max_users_per_source"`
	FailureStreak      int           `yaml:"failure_streak"`
	// TimingVariance flags a source whose failures arrive with an
	// inter-arrival variance (seconds squared) below this value.
	TimingVariance float64       `yaml:"timing_variance"`
	MinAttempts    int           `yaml:"min_attempts"`
	Cooldown       time.Duration `yaml:"cooldown"`
	DedupeWindow   time.Duration `yaml:"dedupe_window"`
	SummaryTop     int           `yaml:"summary_top"`
}

func (o *bruteForceOptions) applyDefaults() {
	if o.Window <= 0 {
		o.Window = 10 * time.Minute
	}
	if o.MaxFailuresPerUser <= 0 {
		o.MaxFailuresPerUser = 10
	}
	if o.MaxUsersPerSource <= 0 {
		o.MaxUsersPerSource = 5
	}
	if o.FailureStreak <= 0 {
		o.FailureStreak = 5
	}
	if o.MinAttempts <= 0 {
		o.MinAttempts = 5
	}
	if o.Cooldown == 0 {
		o.Cooldown = time.Hour
	}
	if o.SummaryTop <= 0 {
		o.SummaryTop = 10
	}
}

// BruteForce correlates failed logins over a sliding window: many failures
// for one user, one source trying many users, unbroken failure streaks and
// machine-regular timing. Daily it mails the top failing sources.
type BruteForce struct {
	monitor.Base
	opts     bruteForceOptions
	failures *state.List
	daily    *state.List
	streaks  *state.Map
	cooldown *cooldown
	dedupe   *dedupe
	scanned  int
}

func (m *BruteForce) LoadConfig(env *monitor.Env, cfg config.ModuleConfig) error {
	if err := m.Base.LoadConfig(env, cfg); err != nil {
		return err
	}
	if err := cfg.DecodeOptions(&m.opts); err != nil {
		return err
	}
	m.opts.applyDefaults()
	m.UseReaders(m.opts.Readers, "reader_sshd")
	m.failures = env.Cache.List("failures", m.opts.Window)
	m.daily = env.Cache.List("daily_failures", 24*time.Hour)
	m.streaks = env.Cache.Map("streaks", m.opts.Window)
	m.cooldown = newCooldown(env.Cache, m.opts.Cooldown)
	m.dedupe = newDedupe(env.Cache, m.opts.DedupeWindow)
	return env.State.Init(map[string]any{"alerts_total": 0, "last_summary": ""})
}

func (m *BruteForce) Check(ctx context.Context, ev *model.Event) error {
	user := ev.String(ingest.FieldUser)
	source := ev.String(ingest.FieldSource)
	if ev.String(ingest.FieldResult) != string(model.ResultFailure) {
		if user != "" {
			m.streaks.Delete(user)
		}
		return nil
	}
	if m.dedupe.Seen(ev, ingest.FieldTimestamp, ingest.FieldHost, ingest.FieldUser, ingest.FieldSource, "pid", "port") {
		return nil
	}
	m.scanned++
	entry := map[string]any{"user": user, "source": source, "ts": ev.String(ingest.FieldTimestamp)}
	m.failures.Append(entry)
	m.daily.Append(map[string]any{"user": user, "source": source})

	var rules []string
	var keys []string
	if user != "" {
		if n := len(m.failures.Filter("user", user)); n >= m.opts.MaxFailuresPerUser {
			rules = append(rules, fmt.Sprintf("failure_spike (%d failures for %s)", n, user))
			keys = append(keys, "failure_spike|"+user)
		}
		streak := 1
		if v, ok := m.streaks.Get(user); ok {
			streak = toInt(v) + 1
		}
		m.streaks.SetItem(user, streak)
		if streak >= m.opts.FailureStreak {
			rules = append(rules, fmt.Sprintf("repeated_auth_failure (%d in a row for %s)", streak, user))
			keys = append(keys, "repeated_auth_failure|"+user)
		}
	}
	if source != "" {
		fromSource := m.failures.Filter("source", source)
		if n := distinct(fromSource, "user"); n >= m.opts.MaxUsersPerSource {
			rules = append(rules, fmt.Sprintf("user_spraying (%d users from %s)", n, source))
			keys = append(keys, "user_spraying|"+source)
		}
		if m.opts.TimingVariance > 0 && len(fromSource) >= m.opts.MinAttempts {
			if tv, ok := timingVariance(fromSource); ok && tv < m.opts.TimingVariance {
				rules = append(rules, fmt.Sprintf("machine_timing (variance %.3f from %s)", tv, source))
				keys = append(keys, "machine_timing|"+source)
			}
		}
	}

	var fired []string
	for i, key := range keys {
		if m.cooldown.Allow(key) {
			fired = append(fired, rules[i])
		}
	}
	if len(fired) == 0 {
		return nil
	}

	severity := "medium"
	if len(fired) >= 3 {
		severity = "critical"
	} else if len(fired) == 2 {
		severity = "high"
	}
	var total int
	if _, err := m.Env.State.Get("alerts_total", &total); err != nil {
		return err
	}
	if err := m.Env.State.Set("alerts_total", total+1); err != nil {
		return err
	}
	subject := fmt.Sprintf("[%s] Possible brute force: %s from %s", severity, orUnknown(user), orUnknown(source))
	body := fmt.Sprintf("Rules:\n  %s\n\nWindow: %s\nFailures in window: %d\n\nLast event:\n%s\n",
		strings.Join(fired, "\n  "), m.opts.Window, m.failures.Len(), eventJSON(ev))
	return m.Alert(ctx, subject, body)
}

func (m *BruteForce) Complete(context.Context) error {
	m.Env.Logger.Info("brute force window", "failures_scanned", m.scanned, "failures_in_window", m.failures.Len(), "streaks", m.streaks.Len())
	return nil
}

// Daily mails the sources with the most failures over the last day.
func (m *BruteForce) Daily(ctx context.Context) error {
	counts := m.daily.Counts("source")
	if len(counts) == 0 {
		return nil
	}
	if len(counts) > m.opts.SummaryTop {
		counts = counts[:m.opts.SummaryTop]
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Top sources of failed logins in the last 24h:\n\n")
	for _, c := range counts {
		fmt.Fprintf(&b, "%8d  %s\n", c.N, c.Value)
	}
	users := m.daily.Counts("user")
	if len(users) > m.opts.SummaryTop {
		users = users[:m.opts.SummaryTop]
	}
	fmt.Fprintf(&b, "\nMost targeted users:\n\n")
	for _, c := range users {
		fmt.Fprintf(&b, "%8d  %s\n", c.N, c.Value)
	}
	if err := m.Env.State.Set("last_summary", m.Env.Clock.Now().UTC().Format(time.RFC3339)); err != nil {
		return err
	}
	return m.Alert(ctx, "Daily failed login summary", b.String())
}

func distinct(entries []any, key string) int {
	seen := make(map[string]struct{})
	for _, e := range entries {
		if v, ok := state.Field(e, key); ok {
			if s := fmt.Sprint(v); s != "" {
				seen[s] = struct{}{}
			}
		}
	}
	return len(seen)
}

// timingVariance is the variance of the gaps between consecutive event
// timestamps, in seconds squared.
func timingVariance(entries []any) (float64, bool) {
	times := make([]time.Time, 0, len(entries))
	for _, e := range entries {
		v, ok := state.Field(e, "ts")
		if !ok {
			continue
		}
		ts, err := time.Parse(time.RFC3339, fmt.Sprint(v))
		if err != nil {
			continue
		}
		times = append(times, ts)
	}
	if len(times) <= 1 {
		return 0, false
	}
	sort.Slice(times, func(i, j int) bool { return times[i].Before(times[j]) })
	var n int
	var mean, m2 float64
	prev := times[0]
	for _, ts := range times[1:] {
		delta := ts.Sub(prev).Seconds()
		n++
		diff := delta - mean
		mean += diff / float64(n)
		m2 += diff * (delta - mean)
		prev = ts
	}
	return m2 / float64(n), true
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}
