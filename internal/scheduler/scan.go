package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"logsentry/internal/config"
	"logsentry/internal/mail"
	"logsentry/internal/manager"
	"logsentry/internal/model"
	"logsentry/internal/monitor"
	"logsentry/internal/reader"
)

// scan runs one pass: snapshot, dispatch, complete, daily, flush, cleanup,
// persist. Module faults are handled inside; only a failure to write the
// scheduler state is returned. Cancelling ctx does not cut a scan short.
func (s *Scheduler) scan(parent context.Context) (model.ScanSummary, error) {
	ctx := context.WithoutCancel(parent)
	cfg := s.opts.Config.Get()
	started := s.opts.Clock.Now()
	summary := model.ScanSummary{ID: uuid.NewString(), Started: started.UTC()}
	logger := s.opts.Logger.With("scan_id", summary.ID)
	logger.Info("scan started")
	s.state.LastRunStart = started.Unix()

	operator := mail.NewOperator(s.opts.Transport, cfg.Mail.ErrorsFrom, cfg.Mail.ErrorsTo, logger)
	checkpoints := reader.NewCheckpoints()

	readers := manager.New[*reader.FileReader]("reader", operator, logger)
	readers.SetDebug(cfg.DebugModules)
	readers.LoadAll(ctx, reader.Names(), cfg.Readers, func(name string, mc config.ModuleConfig) (*reader.FileReader, error) {
		ctor, err := reader.Get(name)
		if err != nil {
			return nil, err
		}
		return reader.New(name, mc, ctor(), reader.Options{
			StateRoot:         cfg.StateRoot,
			TempRoot:          cfg.TempRoot,
			CopyInsteadOfMove: cfg.CopyInsteadOfMove,
			Clock:             s.opts.Clock,
			Notifier:          operator.WithRecipient(mc.EmailErrorsTo),
			Logger:            logger,
			Debug:             cfg.DebugModules,
		})
	})

	monitors := manager.New[*monitor.Unit]("monitor", operator, logger)
	monitors.SetDebug(cfg.DebugModules)
	monitors.LoadAll(ctx, monitor.Names(), cfg.Monitors, func(name string, mc config.ModuleConfig) (*monitor.Unit, error) {
		ctor, err := monitor.Get(name)
		if err != nil {
			return nil, err
		}
		return monitor.New(name, mc, ctor(), monitor.Options{
			StateRoot: cfg.StateRoot,
			MaxEmails: cfg.Mail.MaxEmails,
			Clock:     s.opts.Clock,
			Notifier:  operator,
			Logger:    logger,
			Store:     s.opts.Store,
			Alerts:    s.opts.Alerts,
			Recorder:  s.opts.Recorder,
			Debug:     cfg.DebugModules,
		})
	})
	monitors.RestrictToReaders(readers.ActiveNames())

	for _, r := range readers.Active() {
		if err := r.Initialize(ctx, checkpoints); err != nil {
			r.Disable()
			logger.Error("reader initialize failed", "reader", r.Name(), "err", err)
			if s.opts.Recorder != nil {
				s.opts.Recorder.ModuleFault("reader", r.Name())
			}
			operator.WithRecipient(cfg.Readers[r.Name()].EmailErrorsTo).Notify(ctx, "Error in: "+r.Name(),
				fmt.Sprintf("ERROR: An error, %v, occurred in %s during initialize and it has been disabled.\n", err, r.Name()))
		}
	}

	s.reloadLogService(ctx, cfg.LogServiceReloadCmd, logger)

	activeReaders := readers.Active()
	activeMonitors := monitors.Active()
	summary.Readers = readers.ActiveNames()
	summary.Monitors = monitors.ActiveNames()
	logger.Debug("active modules", "readers", summary.Readers, "monitors", summary.Monitors)
	for _, r := range activeReaders {
		for ev := range r.Read(ctx) {
			for _, m := range activeMonitors {
				m.HandleCheck(ctx, ev)
			}
		}
	}

	for _, m := range monitors.Active() {
		m.HandleComplete(ctx)
	}

	if s.dailyDue(s.opts.Clock.Now(), cfg.DailyRunHour) {
		for _, m := range monitors.Active() {
			m.HandleDaily(ctx)
		}
		s.state.LastDailyRun = dailyMark(s.opts.Clock.Now(), cfg.DailyRunHour)
		s.forceDaily = false
		summary.DailyRan = true
		if s.opts.Recorder != nil {
			s.opts.Recorder.DailyRun()
		}
		logger.Info("daily hooks ran")
	}

	copyTo := cfg.Mail.CopyAllTo
	if cfg.Mail.ForceRecipient != "" {
		copyTo = ""
	}
	for _, m := range monitors.Active() {
		m.Flush(ctx, s.opts.Transport, cfg.Mail.From, copyTo)
	}

	var stats []model.ModuleStats
	for _, r := range readers.Loaded() {
		if !r.Initialized() {
			continue
		}
		r.Cleanup(ctx)
		if err := r.SaveState(); err != nil {
			logger.Error("reader state not saved", "reader", r.Name(), "err", err)
		}
		logger.Info("reader finished", "reader", r.Name(), "read", r.ReadCount(), "none", r.NoneCount(), "errors", len(r.Errors()))
		summary.LinesRead += r.ReadCount()
		stats = append(stats, r.Stats())
		if s.opts.Recorder != nil {
			s.opts.Recorder.ObserveReader(r.Name(), r.ReadCount(), r.NoneCount(), len(r.Errors()))
		}
	}

	for _, m := range monitors.Loaded() {
		if err := m.Save(); err != nil {
			logger.Error("monitor state not saved", "monitor", m.Name(), "err", err)
		}
		if m.Enabled() {
			logger.Debug("monitor finished", "monitor", m.Name(), "checked", m.CheckCount())
		}
		summary.EventsChecked += m.CheckCount()
		stats = append(stats, m.Stats())
		if s.opts.Recorder != nil {
			s.opts.Recorder.ObserveChecks(m.Name(), m.CheckCount())
		}
	}

	for _, r := range readers.Loaded() {
		if !r.Enabled() {
			summary.DisabledModules = append(summary.DisabledModules, r.Name())
		}
	}
	for _, m := range monitors.Loaded() {
		if !m.Enabled() {
			summary.DisabledModules = append(summary.DisabledModules, m.Name())
		}
	}

	finished := s.opts.Clock.Now()
	s.state.LastRunComplete = finished.Unix()
	summary.Finished = finished.UTC()
	s.scans.Add(1)
	s.record(ctx, summary, stats, logger)
	return summary, s.saveState()
}

// dailyDue reports whether the daily hooks should run: during the configured
// hour once at least a day has passed since the last run, or when forced.
func (s *Scheduler) dailyDue(now time.Time, hour int) bool {
	if s.forceDaily {
		return true
	}
	next := time.Unix(s.state.LastDailyRun, 0).Add(24 * time.Hour)
	return now.Hour() == hour && !next.After(now)
}

// dailyMark is the start of today's daily-run hour, not the invocation time.
func dailyMark(now time.Time, hour int) int64 {
	return time.Date(now.Year(), now.Month(), now.Day(), hour, 0, 0, 0, now.Location()).Unix()
}

func (s *Scheduler) reloadLogService(ctx context.Context, command string, logger *slog.Logger) {
	if command == "" {
		return
	}
	if err := s.opts.RunCommand(ctx, command); err != nil {
		logger.Warn("log service reload command failed", "cmd", command, "err", err)
	}
}

func (s *Scheduler) record(ctx context.Context, summary model.ScanSummary, stats []model.ModuleStats, logger *slog.Logger) {
	if s.opts.Metrics != nil {
		s.opts.Metrics.Update(stats)
		s.opts.Metrics.SetScan(summary)
	}
	if s.opts.Recorder != nil {
		s.opts.Recorder.ObserveScan(summary.Finished.Sub(summary.Started))
	}
	if s.opts.Store != nil {
		if err := s.opts.Store.SaveScan(ctx, summary); err != nil {
			logger.Warn("archive scan failed", "err", err)
		}
		if err := s.opts.Store.SaveModuleStats(ctx, summary.ID, stats); err != nil {
			logger.Warn("archive module stats failed", "err", err)
		}
	}
}
