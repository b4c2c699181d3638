// Package reader snapshots log files out of their live location, parses the
// snapshot into events and tracks per-reader volume watchdogs.
package reader

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"os"
	"path/filepath"
	"runtime/debug"
	"sort"
	"strings"
	"syscall"

	"logsentry/internal/clock"
	"logsentry/internal/config"
	"logsentry/internal/logging"
	"logsentry/internal/mail"
	"logsentry/internal/model"
	"logsentry/internal/statefile"
)

const (
	// MaxLastErrors disables a reader at initialization when its previous
	// run recorded more parse errors than this.
	MaxLastErrors = 1000
	// MaxErrorBytes bounds the parse error text kept during one read.
	MaxErrorBytes = 100 << 20
	// MaxMailedErrors is how many parse errors go into the cleanup alert.
	MaxMailedErrors = 25
)

type Options struct {
	StateRoot         string
	TempRoot          string
	CopyInsteadOfMove bool
	Clock             clock.Clock
	Notifier          mail.Notifier
	Logger            *slog.Logger

	// ErrorBudget bounds the parse error text kept during one read. Zero
	// means MaxErrorBytes.
	ErrorBudget int
	// Debug lets a panicking plugin crash the read.
	Debug       bool
}

// FileReader drives one reader plugin through a scan:
// Initialize snapshots the sources, Read streams events, Cleanup removes the
// snapshot and evaluates watchdogs, SaveState persists counters.
type FileReader struct {
	name   string
	cfg    config.ModuleConfig
	plugin Plugin
	opts   Options

	enabled     bool
	initialized bool
	consumed    bool
	state       model.ReaderState
	workFiles   []string

	readCount  int
	noneCount  int
	errs       []string
	errorBytes int
}

// New configures plugin and loads the reader's persisted state. A missing
// state file starts from zero counters.
func New(name string, cfg config.ModuleConfig, plugin Plugin, opts Options) (*FileReader, error) {
	if opts.Clock == nil {
		opts.Clock = clock.Real{}
	}
	if opts.ErrorBudget <= 0 {
		opts.ErrorBudget = MaxErrorBytes
	}
	if cu, ok := plugin.(ClockUser); ok {
		cu.UseClock(opts.Clock)
	}
	if err := plugin.LoadConfig(cfg); err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	r := &FileReader{
		name:    name,
		cfg:     cfg,
		plugin:  plugin,
		opts:    opts,
		enabled: true,
		state:   model.ReaderState{ReaderName: name},
	}
	if _, err := statefile.Load(r.statePath(), &r.state); err != nil {
		return nil, fmt.Errorf("load state: %w", err)
	}
	r.state.ReaderName = name
	return r, nil
}

func (r *FileReader) Name() string {
	return r.name
}

func (r *FileReader) Enabled() bool {
	return r.enabled
}

func (r *FileReader) Disable() {
	r.enabled = false
}

func (r *FileReader) Initialized() bool {
	return r.initialized
}

func (r *FileReader) State() model.ReaderState {
	return r.state
}

// WorkFiles lists the snapshot files this reader will read, in read order.
func (r *FileReader) WorkFiles() []string {
	return append([]string(nil), r.workFiles...)
}

func (r *FileReader) ReadCount() int {
	return r.readCount
}

func (r *FileReader) NoneCount() int {
	return r.noneCount
}

func (r *FileReader) Errors() []string {
	return append([]string(nil), r.errs...)
}

func (r *FileReader) Stats() model.ModuleStats {
	return model.ModuleStats{
		Kind:    "reader",
		Name:    r.name,
		Count:   r.readCount,
		None:    r.noneCount,
		Errors:  len(r.errs),
		Enabled: r.enabled,
		Updated: r.opts.Clock.Now(),
	}
}

func (r *FileReader) statePath() string {
	return filepath.Join(r.opts.StateRoot, r.name)
}

// Initialize takes the checkpoint: every configured source is moved (or
// copied) to its working path. Leftover snapshots from an interrupted run are
// queued ahead of the fresh one. Missing sources are skipped.
func (r *FileReader) Initialize(ctx context.Context, cp *Checkpoints) error {
	if !r.enabled {
		return nil
	}
	if r.state.LastErrorCount > MaxLastErrors {
		r.enabled = false
		r.notify(ctx, "Reader disabled: "+r.name, fmt.Sprintf("Too many errors on last run: %d", r.state.LastErrorCount))
		return nil
	}
	if len(r.cfg.Files) == 0 {
		r.enabled = false
		r.log().Warn("reader disabled, no files configured", "reader", r.name)
		return nil
	}
	if err := os.MkdirAll(r.opts.TempRoot, 0o755); err != nil {
		return fmt.Errorf("create temp root: %w", err)
	}
	for _, src := range r.cfg.Files {
		work := WorkPath(r.opts.TempRoot, src)
		if files, ok := cp.lookup(work); ok {
			r.workFiles = append(r.workFiles, files...)
			continue
		}
		files, err := r.snapshot(src, work)
		if err != nil {
			return fmt.Errorf("snapshot %s: %w", src, err)
		}
		cp.record(work, files)
		r.workFiles = append(r.workFiles, files...)
	}
	r.initialized = true
	return nil
}

func (r *FileReader) snapshot(src, work string) ([]string, error) {
	if _, err := os.Stat(work); err == nil {
		aside := fmt.Sprintf("%s_%d", work, r.opts.Clock.Now().Unix())
		if err := os.Rename(work, aside); err != nil {
			return nil, err
		}
	}
	leftovers, err := filepath.Glob(work + "_*")
	if err != nil {
		return nil, err
	}
	sort.Strings(leftovers)
	for _, f := range leftovers {
		r.log().Info("leftover snapshot found, scanning it too", "reader", r.name, "file", f)
	}
	files := leftovers

	info, err := os.Stat(src)
	if err != nil || !info.Mode().IsRegular() {
		r.log().Debug("skipping, source does not exist", "reader", r.name, "file", src)
		return files, nil
	}
	if r.opts.CopyInsteadOfMove {
		err = copyFile(src, work)
	} else {
		err = moveFile(src, work)
	}
	if err != nil {
		return nil, err
	}
	return append(files, work), nil
}

// Read yields one event per parsed line of every working file, in file then
// line order. The sequence can be consumed once. Parse failures are recorded
// and skipped; past the error budget the reader disables itself
// and the sequence ends early.
func (r *FileReader) Read(ctx context.Context) iter.Seq[*model.Event] {
	return func(yield func(*model.Event) bool) {
		if !r.enabled || !r.initialized || r.consumed {
			return
		}
		r.consumed = true
		defer r.finishRead()
		for _, path := range r.workFiles {
			if !r.readFile(ctx, path, yield) {
				return
			}
		}
	}
}

func (r *FileReader) readFile(ctx context.Context, path string, yield func(*model.Event) bool) bool {
	f, err := os.Open(path)
	if err != nil {
		r.log().Error("cannot open snapshot", "reader", r.name, "file", path, "err", err)
		return true
	}
	defer f.Close()

	br := bufio.NewReader(f)
	for {
		line, readErr := br.ReadString('\n')
		if line != "" {
			line = strings.TrimSpace(strings.ToValidUTF8(line, "�"))
			ev, err := r.parse(line)
			switch {
			case err != nil:
				if !r.recordError(ctx, line, err) {
					return false
				}
			case ev == nil:
				r.noneCount++
			default:
				ev.Reader = r.name
				r.readCount++
				if !yield(ev) {
					return false
				}
			}
		}
		if readErr != nil {
			if !errors.Is(readErr, io.EOF) {
				r.log().Error("snapshot read failed", "reader", r.name, "file", path, "err", readErr)
			}
			return true
		}
	}
}

func (r *FileReader) parse(line string) (ev *model.Event, err error) {
	defer func() {
		if p := recover(); p != nil {
			if r.opts.Debug {
				panic(p)
			}
			err = fmt.Errorf("panic: %v\n%s", p, debug.Stack())
		}
	}()
	return r.plugin.ParseLine(line)
}

func (r *FileReader) recordError(ctx context.Context, line string, err error) bool {
	msg := fmt.Sprintf("ERROR in %s reading line: %s\n%v", r.name, line, err)
	r.errs = append(r.errs, msg)
	r.errorBytes += len(msg)
	if r.errorBytes > r.opts.ErrorBudget {
		r.enabled = false
		r.notify(ctx, "Reader disabled: "+r.name, fmt.Sprintf("Too many errors current run: %d", len(r.errs)))
		return false
	}
	return true
}

func (r *FileReader) finishRead() {
	r.state.LastReadCount = r.readCount
	r.state.LastNoneCount = r.noneCount
	r.state.LastErrorCount = len(r.errs)
	if r.readCount > 0 {
		r.state.LastReadTimestamp = r.opts.Clock.Now().Unix()
	}
}

// Cleanup deletes the working files, mails the parse errors and evaluates
// the watchdogs. It runs for every initialized reader, including one that
// disabled itself while reading.
func (r *FileReader) Cleanup(ctx context.Context) {
	if !r.initialized {
		return
	}
	for _, path := range r.workFiles {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			r.log().Error("cannot remove snapshot", "reader", r.name, "file", path, "err", err)
		}
	}

	if n := len(r.errs); n > 0 {
		r.log().Error("reader parse errors", "reader", r.name, "count", n, "first", r.errs[0])
		mailed := r.errs
		if n >= MaxMailedErrors {
			mailed = append([]string{fmt.Sprintf("%s - too many errors %d truncated.", r.name, n-MaxMailedErrors)}, r.errs[:MaxMailedErrors]...)
		}
		r.notify(ctx, "Reader errors: "+r.name, strings.Join(mailed, "\n"))
	}

	if wd := r.cfg.Watchdog; wd != nil {
		r.watchdog(ctx, wd.Read, r.readCount, &r.state.MissedReadWatchdogs, "matching")
		r.watchdog(ctx, wd.None, r.noneCount, &r.state.MissedNoneWatchdogs, `"None"`)
	}
}

func (r *FileReader) watchdog(ctx context.Context, th *config.WatchdogThreshold, count int, missed *int, kind string) {
	if th == nil || th.MinCount <= 0 || count >= th.MinCount {
		*missed = 0
		return
	}
	*missed++
	if *missed > th.RunsAllowed {
		msg := fmt.Sprintf("Reader %s has read less than %d %s lines %d times.", r.name, th.MinCount, kind, *missed)
		r.notify(ctx, "Reader watchdog notice: "+r.name, msg)
	}
}

// SaveState writes the reader's counters to its state file.
func (r *FileReader) SaveState() error {
	if err := statefile.Save(r.statePath(), r.state); err != nil {
		return fmt.Errorf("save reader state %s: %w", r.name, err)
	}
	return nil
}

func (r *FileReader) notify(ctx context.Context, subject, body string) {
	if r.opts.Notifier != nil {
		r.opts.Notifier.Notify(ctx, subject, body)
		return
	}
	r.log().Warn(subject, "reader", r.name, "detail", body)
}

func (r *FileReader) log() *slog.Logger {
	if r.opts.Logger == nil {
		return logging.Discard()
	}
	return r.opts.Logger
}

func moveFile(src, dst string) error {
	err := os.Rename(src, dst)
	if err == nil || !errors.Is(err, syscall.EXDEV) {
		return err
	}
	if err := copyFile(src, dst); err != nil {
		return err
	}
	return os.Remove(src)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
