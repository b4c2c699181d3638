package monitor

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"logsentry/internal/alerts"
	"logsentry/internal/clock"
	"logsentry/internal/config"
	"logsentry/internal/model"
	"logsentry/internal/statefile"
)

type countingPlugin struct {
	Base
	failOn    string
	panicOn   string
	completes int
	dailies   int
}

func (p *countingPlugin) LoadConfig(env *Env, cfg config.ModuleConfig) error {
	if err := p.Base.LoadConfig(env, cfg); err != nil {
		return err
	}
	p.UseReaders(nil, "reader_a")
	return env.State.Init(map[string]any{"seen": 0})
}

func (p *countingPlugin) Check(ctx context.Context, ev *model.Event) error {
	switch ev.String("msg") {
	case p.failOn:
		return errors.New("bad event")
	case p.panicOn:
		var m map[string]int
		m["x"]++
	}
	p.Env.Cache.List("msgs", time.Hour).Append(ev.String("msg"))
	var seen int
	if _, err := p.Env.State.Get("seen", &seen); err != nil {
		return err
	}
	if err := p.Env.State.Set("seen", seen+1); err != nil {
		return err
	}
	return p.Alert(ctx, "saw "+ev.String("msg"), "body")
}

func (p *countingPlugin) Complete(context.Context) error {
	p.completes++
	return nil
}

func (p *countingPlugin) Daily(context.Context) error {
	p.dailies++
	return nil
}

type notes struct {
	subjects []string
}

func (n *notes) Notify(_ context.Context, subject, _ string) {
	n.subjects = append(n.subjects, subject)
}

type sink struct {
	fail bool
	to   []string
}

func (s *sink) Send(_ context.Context, _, to, _, _ string) bool {
	if s.fail {
		return false
	}
	s.to = append(s.to, to)
	return true
}

func event(reader, msg string) *model.Event {
	ev := model.NewEvent()
	ev.Reader = reader
	ev.Set("msg", msg)
	return ev
}

func newUnit(t *testing.T, root string, p *countingPlugin, n *notes, clk clock.Clock) *Unit {
	t.Helper()
	u, err := New("monitor_count", config.ModuleConfig{EmailTo: []string{"sec@x"}}, p, Options{
		StateRoot: root,
		MaxEmails: 10,
		Clock:     clk,
		Notifier:  n,
		Alerts:    alerts.NewStore(10),
	})
	require.NoError(t, err)
	return u
}

func TestHandleCheckFiltersByReader(t *testing.T) {
	p := &countingPlugin{}
	u := newUnit(t, t.TempDir(), p, &notes{}, nil)
	ctx := context.Background()

	u.HandleCheck(ctx, event("reader_a", "one"))
	u.HandleCheck(ctx, event("reader_other", "two"))

	assert.Equal(t, 1, u.CheckCount())
	assert.Equal(t, []any{"one"}, u.Env().Cache.List("msgs", time.Hour).Items())
}

func TestMonotonicDisable(t *testing.T) {
	for _, tc := range []struct {
		name string
		p    *countingPlugin
	}{
		{"error", &countingPlugin{failOn: "boom"}},
		{"panic", &countingPlugin{panicOn: "boom"}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			n := &notes{}
			u := newUnit(t, t.TempDir(), tc.p, n, nil)
			ctx := context.Background()

			u.HandleCheck(ctx, event("reader_a", "one"))
			u.HandleCheck(ctx, event("reader_a", "boom"))
			assert.False(t, u.Enabled())
			assert.Equal(t, []string{"Error in: monitor_count"}, n.subjects)

			u.HandleCheck(ctx, event("reader_a", "two"))
			u.HandleComplete(ctx)
			u.HandleDaily(ctx)
			assert.Equal(t, 1, u.CheckCount())
			assert.Zero(t, tc.p.completes)
			assert.Zero(t, tc.p.dailies)
			assert.Nil(t, u.Flush(ctx, &sink{}, "from@x", ""))
			assert.False(t, u.Enabled())
			assert.Len(t, n.subjects, 1)
		})
	}
}

func TestDebugReraisesHookFaults(t *testing.T) {
	for _, p := range []*countingPlugin{{failOn: "boom"}, {panicOn: "boom"}} {
		n := &notes{}
		u, err := New("monitor_count", config.ModuleConfig{EmailTo: []string{"sec@x"}}, p, Options{
			StateRoot: t.TempDir(),
			Notifier:  n,
			Debug:     true,
		})
		require.NoError(t, err)

		assert.Panics(t, func() { u.HandleCheck(context.Background(), event("reader_a", "boom")) })
		assert.True(t, u.Enabled())
		assert.Empty(t, n.subjects)
	}
}

func TestLoadConfigRequiresRecipients(t *testing.T) {
	_, err := New("monitor_count", config.ModuleConfig{}, &countingPlugin{}, Options{StateRoot: t.TempDir()})
	assert.Error(t, err)
}

func TestSaveRestoresCacheStateAndRetries(t *testing.T) {
	root := t.TempDir()
	clk := clock.NewManual(time.Unix(1_700_000_000, 0))
	ctx := context.Background()

	u := newUnit(t, root, &countingPlugin{}, &notes{}, clk)
	u.HandleCheck(ctx, event("reader_a", "one"))
	u.HandleCheck(ctx, event("reader_a", "two"))
	u.HandleComplete(ctx)
	res := u.Flush(ctx, &sink{fail: true}, "from@x", "")
	require.Len(t, res, 2)
	require.NoError(t, u.Save())

	doc := statefile.Document{}
	found, err := statefile.Load(filepath.Join(root, "monitor_count"), &doc)
	require.NoError(t, err)
	require.True(t, found)
	var name string
	_, _ = doc.Get("monitor_name", &name)
	assert.Equal(t, "monitor_count", name)
	var queued []model.AlertMessage
	_, _ = doc.Get("mail_queue", &queued)
	assert.Len(t, queued, 2)

	clk.Advance(time.Minute)
	out := &sink{}
	u2 := newUnit(t, root, &countingPlugin{}, &notes{}, clk)
	assert.Equal(t, []any{"one", "two"}, u2.Env().Cache.List("msgs", time.Hour).Items())
	var seen int
	_, err = u2.Env().State.Get("seen", &seen)
	require.NoError(t, err)
	assert.Equal(t, 2, seen)

	u2.HandleCheck(ctx, event("reader_a", "three"))
	u2.Flush(ctx, out, "from@x", "")
	assert.Equal(t, []string{"sec@x", "sec@x", "sec@x"}, out.to)
	require.NoError(t, u2.Save())

	u3 := newUnit(t, root, &countingPlugin{}, &notes{}, clk)
	assert.Zero(t, u3.Env().Queue.Len())
}

func TestDisabledMonitorKeepsPreviousState(t *testing.T) {
	root := t.TempDir()
	ctx := context.Background()
	u := newUnit(t, root, &countingPlugin{failOn: "boom"}, &notes{}, nil)
	u.HandleCheck(ctx, event("reader_a", "boom"))
	require.NoError(t, u.Save())

	found, err := statefile.Load(filepath.Join(root, "monitor_count"), &statefile.Document{})
	require.NoError(t, err)
	assert.False(t, found)
}

func TestFlushRecordsAlerts(t *testing.T) {
	store := alerts.NewStore(10)
	u, err := New("monitor_count", config.ModuleConfig{EmailTo: []string{"a@x", "b@x"}}, &countingPlugin{}, Options{
		StateRoot: t.TempDir(),
		Alerts:    store,
	})
	require.NoError(t, err)
	u.HandleCheck(context.Background(), event("reader_a", "one"))
	u.Flush(context.Background(), &sink{}, "from@x", "")

	got := store.List(0)
	require.Len(t, got, 2)
	assert.Equal(t, "a@x", got[0].To)
	assert.Equal(t, "monitor_count", got[1].Monitor)
	assert.Equal(t, 2, u.Stats().Alerts)
}
