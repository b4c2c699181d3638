package reader

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"logsentry/internal/clock"
	"logsentry/internal/config"
	"logsentry/internal/model"
	"logsentry/internal/statefile"
)

type linePlugin struct{}

func (linePlugin) LoadConfig(config.ModuleConfig) error { return nil }

func (linePlugin) ParseLine(line string) (*model.Event, error) {
	switch line {
	case "", "skip":
		return nil, nil
	case "bad":
		return nil, errors.New("unparseable")
	case "panic":
		panic("index out of range")
	}
	ev := model.NewEvent()
	ev.Set("msg", line)
	return ev, nil
}

type notes struct {
	subjects []string
	bodies   []string
}

func (n *notes) Notify(_ context.Context, subject, body string) {
	n.subjects = append(n.subjects, subject)
	n.bodies = append(n.bodies, body)
}

type fixture struct {
	root  string
	clock *clock.Manual
	notes *notes
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return &fixture{
		root:  t.TempDir(),
		clock: clock.NewManual(time.Unix(1_700_000_000, 0)),
		notes: &notes{},
	}
}

func (f *fixture) opts() Options {
	return Options{
		StateRoot: filepath.Join(f.root, "state"),
		TempRoot:  filepath.Join(f.root, "tmp"),
		Clock:     f.clock,
		Notifier:  f.notes,
	}
}

func (f *fixture) source(t *testing.T, name, content string) string {
	t.Helper()
	p := filepath.Join(f.root, name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0o600))
	return p
}

func (f *fixture) reader(t *testing.T, name string, cfg config.ModuleConfig, opts Options) *FileReader {
	t.Helper()
	r, err := New(name, cfg, linePlugin{}, opts)
	require.NoError(t, err)
	return r
}

func collect(r *FileReader) []string {
	var out []string
	for ev := range r.Read(context.Background()) {
		out = append(out, ev.Reader+":"+ev.String("msg"))
	}
	return out
}

func TestMissingSourceYieldsNothing(t *testing.T) {
	f := newFixture(t)
	r := f.reader(t, "reader_a", config.ModuleConfig{Files: []string{filepath.Join(f.root, "absent.log")}}, f.opts())

	require.NoError(t, r.Initialize(context.Background(), NewCheckpoints()))
	assert.True(t, r.Enabled())
	assert.Empty(t, r.WorkFiles())
	assert.Empty(t, collect(r))
}

func TestSnapshotMovesSourceAndReads(t *testing.T) {
	f := newFixture(t)
	src := f.source(t, "auth.log", "one\nskip\ntwo\n\nthree")
	opts := f.opts()
	r := f.reader(t, "reader_a", config.ModuleConfig{Files: []string{src}}, opts)

	require.NoError(t, r.Initialize(context.Background(), NewCheckpoints()))
	_, err := os.Stat(src)
	assert.True(t, os.IsNotExist(err))
	assert.Equal(t, []string{WorkPath(opts.TempRoot, src)}, r.WorkFiles())

	assert.Equal(t, []string{"reader_a:one", "reader_a:two", "reader_a:three"}, collect(r))
	assert.Equal(t, 3, r.ReadCount())
	assert.Equal(t, 2, r.NoneCount())
	assert.Equal(t, int64(1_700_000_000), r.State().LastReadTimestamp)

	r.Cleanup(context.Background())
	_, err = os.Stat(WorkPath(opts.TempRoot, src))
	assert.True(t, os.IsNotExist(err))
	assert.Empty(t, f.notes.subjects)

	require.NoError(t, r.SaveState())
	var saved model.ReaderState
	found, err := statefile.Load(filepath.Join(opts.StateRoot, "reader_a"), &saved)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "reader_a", saved.ReaderName)
	assert.Equal(t, 3, saved.LastReadCount)
	assert.Equal(t, 2, saved.LastNoneCount)
}

func TestReadIsNotRestartable(t *testing.T) {
	f := newFixture(t)
	src := f.source(t, "auth.log", "one\n")
	r := f.reader(t, "reader_a", config.ModuleConfig{Files: []string{src}}, f.opts())
	require.NoError(t, r.Initialize(context.Background(), NewCheckpoints()))

	assert.Len(t, collect(r), 1)
	assert.Empty(t, collect(r))
}

func TestCopyModeLeavesSource(t *testing.T) {
	f := newFixture(t)
	src := f.source(t, "auth.log", "one\n")
	opts := f.opts()
	opts.CopyInsteadOfMove = true
	r := f.reader(t, "reader_a", config.ModuleConfig{Files: []string{src}}, opts)

	require.NoError(t, r.Initialize(context.Background(), NewCheckpoints()))
	_, err := os.Stat(src)
	assert.NoError(t, err)
	assert.Equal(t, []string{"reader_a:one"}, collect(r))
}

func TestLeftoverSnapshotIsReadFirst(t *testing.T) {
	f := newFixture(t)
	src := f.source(t, "auth.log", "fresh\n")
	opts := f.opts()
	require.NoError(t, os.MkdirAll(opts.TempRoot, 0o755))
	work := WorkPath(opts.TempRoot, src)
	require.NoError(t, os.WriteFile(work, []byte("interrupted\n"), 0o600))
	require.NoError(t, os.WriteFile(work+"_1600000000", []byte("older\n"), 0o600))

	r := f.reader(t, "reader_a", config.ModuleConfig{Files: []string{src}}, opts)
	require.NoError(t, r.Initialize(context.Background(), NewCheckpoints()))

	assert.Equal(t, []string{work + "_1600000000", work + "_1700000000", work}, r.WorkFiles())
	assert.Equal(t, []string{"reader_a:older", "reader_a:interrupted", "reader_a:fresh"}, collect(r))

	r.Cleanup(context.Background())
	left, err := filepath.Glob(work + "*")
	require.NoError(t, err)
	assert.Empty(t, left)
}

func TestSharedSourceIsMovedOnce(t *testing.T) {
	f := newFixture(t)
	src := f.source(t, "auth.log", "one\ntwo\n")
	cfg := config.ModuleConfig{Files: []string{src}}
	cp := NewCheckpoints()

	a := f.reader(t, "reader_a", cfg, f.opts())
	b := f.reader(t, "reader_b", cfg, f.opts())
	require.NoError(t, a.Initialize(context.Background(), cp))
	require.NoError(t, b.Initialize(context.Background(), cp))

	assert.Equal(t, a.WorkFiles(), b.WorkFiles())
	assert.Len(t, cp.Paths(), 1)
	assert.Equal(t, []string{"reader_a:one", "reader_a:two"}, collect(a))
	assert.Equal(t, []string{"reader_b:one", "reader_b:two"}, collect(b))

	a.Cleanup(context.Background())
	b.Cleanup(context.Background())
	assert.Empty(t, f.notes.subjects)
}

func TestParseErrorsAreBatched(t *testing.T) {
	f := newFixture(t)
	lines := []string{"ok", "panic"}
	for i := 0; i < 30; i++ {
		lines = append(lines, "bad")
	}
	src := f.source(t, "auth.log", strings.Join(append(lines, "ok"), "\n"))
	r := f.reader(t, "reader_a", config.ModuleConfig{Files: []string{src}}, f.opts())
	require.NoError(t, r.Initialize(context.Background(), NewCheckpoints()))

	assert.Len(t, collect(r), 2)
	assert.Len(t, r.Errors(), 31)
	assert.Contains(t, r.Errors()[0], "panic: index out of range")
	assert.Equal(t, 31, r.State().LastErrorCount)

	r.Cleanup(context.Background())
	require.Equal(t, []string{"Reader errors: reader_a"}, f.notes.subjects)
	body := f.notes.bodies[0]
	assert.True(t, strings.HasPrefix(body, "reader_a - too many errors 6 truncated.\n"))
	assert.Equal(t, MaxMailedErrors, strings.Count(body, "ERROR in reader_a reading line"))
}

func TestErrorBudgetEndsReadEarly(t *testing.T) {
	f := newFixture(t)
	src := f.source(t, "auth.log", "one\nbad\nbad\ntwo\nbad\nthree\n")
	opts := f.opts()
	opts.ErrorBudget = 100
	r := f.reader(t, "reader_a", config.ModuleConfig{Files: []string{src}}, opts)
	require.NoError(t, r.Initialize(context.Background(), NewCheckpoints()))

	assert.Equal(t, []string{"reader_a:one", "reader_a:two"}, collect(r))
	assert.False(t, r.Enabled())
	assert.Len(t, r.Errors(), 3)
	assert.Equal(t, 3, r.State().LastErrorCount)
	assert.Equal(t, []string{"Reader disabled: reader_a"}, f.notes.subjects)
	assert.Contains(t, f.notes.bodies[0], "Too many errors current run: 3")
}

func TestDebugLetsPluginPanicEscape(t *testing.T) {
	f := newFixture(t)
	src := f.source(t, "auth.log", "one\npanic\n")
	opts := f.opts()
	opts.Debug = true
	r := f.reader(t, "reader_a", config.ModuleConfig{Files: []string{src}}, opts)
	require.NoError(t, r.Initialize(context.Background(), NewCheckpoints()))

	assert.PanicsWithValue(t, "index out of range", func() { collect(r) })
}

func TestTooManyErrorsLastRunDisables(t *testing.T) {
	f := newFixture(t)
	opts := f.opts()
	require.NoError(t, statefile.Save(filepath.Join(opts.StateRoot, "reader_a"), model.ReaderState{LastErrorCount: MaxLastErrors + 1}))
	src := f.source(t, "auth.log", "one\n")

	r := f.reader(t, "reader_a", config.ModuleConfig{Files: []string{src}}, opts)
	require.NoError(t, r.Initialize(context.Background(), NewCheckpoints()))

	assert.False(t, r.Enabled())
	assert.False(t, r.Initialized())
	assert.Equal(t, []string{"Reader disabled: reader_a"}, f.notes.subjects)
	_, err := os.Stat(src)
	assert.NoError(t, err, "source must stay in place")
}

func TestNoFilesDisables(t *testing.T) {
	f := newFixture(t)
	r := f.reader(t, "reader_a", config.ModuleConfig{}, f.opts())
	require.NoError(t, r.Initialize(context.Background(), NewCheckpoints()))
	assert.False(t, r.Enabled())
}

func TestWatchdogStreak(t *testing.T) {
	f := newFixture(t)
	opts := f.opts()
	cfg := config.ModuleConfig{
		Files: []string{filepath.Join(f.root, "auth.log")},
		Watchdog: &config.WatchdogConfig{
			Read: &config.WatchdogThreshold{MinCount: 2, RunsAllowed: 1},
		},
	}

	run := func(content string) model.ReaderState {
		if content != "" {
			f.source(t, "auth.log", content)
		}
		r := f.reader(t, "reader_a", cfg, opts)
		require.NoError(t, r.Initialize(context.Background(), NewCheckpoints()))
		collect(r)
		r.Cleanup(context.Background())
		require.NoError(t, r.SaveState())
		return r.State()
	}

	assert.Equal(t, 1, run("").MissedReadWatchdogs)
	assert.Empty(t, f.notes.subjects)

	assert.Equal(t, 2, run("one\n").MissedReadWatchdogs)
	assert.Equal(t, []string{"Reader watchdog notice: reader_a"}, f.notes.subjects)

	st := run("one\ntwo\n")
	assert.Equal(t, 0, st.MissedReadWatchdogs)
	assert.Equal(t, 0, st.MissedNoneWatchdogs)
	assert.Len(t, f.notes.subjects, 1)
}

func TestWorkPathDependsOnlyOnSource(t *testing.T) {
	assert.Equal(t, WorkPath("/tmp", "/var/log/auth.log"), WorkPath("/tmp", "/var/log/auth.log"))
	assert.NotEqual(t, WorkPath("/tmp", "/var/log/auth.log"), WorkPath("/tmp", "/var/log/secure"))
	assert.Equal(t, "/tmp", filepath.Dir(WorkPath("/tmp", "/var/log/auth.log")))
}
