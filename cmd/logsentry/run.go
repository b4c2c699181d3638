package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"logsentry/internal/alerts"
	"logsentry/internal/api"
	"logsentry/internal/config"
	"logsentry/internal/logging"
	"logsentry/internal/mail"
	"logsentry/internal/metrics"
	"logsentry/internal/scheduler"
	"logsentry/internal/storage"
)

type app struct {
	cfg       *config.Manager
	logger    *slog.Logger
	transport mail.Transport
	store     storage.Store
	alerts    *alerts.Store
	metrics   *metrics.Store
	recorder  *metrics.Recorder
	sched     *scheduler.Scheduler
}

// setup loads the config, wires the collaborators and takes the pid lock.
// Any error here is fatal.
func setup(ctx context.Context, daemon bool) (*app, error) {
	path := config.ResolvePath(configPath)
	mgr, err := config.NewManager(path)
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", path, err)
	}
	cfg := mgr.Get()
	v := verbose
	if daemon && v == 0 {
		v = 1
	}
	logger := logging.New(os.Stderr, logging.LevelForVerbosity(cfg.LogLevel, v))

	a := &app{
		cfg:      mgr,
		logger:   logger,
		alerts:   alerts.NewStore(1000),
		metrics:  metrics.NewStore(0),
		recorder: metrics.NewRecorder(),
	}
	a.transport, err = mail.NewTransport(cfg.Mail, logger)
	if err != nil {
		return nil, err
	}
	a.store, err = storage.NewStore(cfg.Storage)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("open storage: %w", err)
	}
	if a.store != nil {
		if err := a.store.Init(ctx); err != nil {
			a.close()
			return nil, fmt.Errorf("init storage: %w", err)
		}
	}
	a.sched, err = scheduler.New(scheduler.Options{
		Config:     mgr,
		Logger:     logger,
		Transport:  a.transport,
		Store:      a.store,
		Alerts:     a.alerts,
		Metrics:    a.metrics,
		Recorder:   a.recorder,
		ForceDaily: forceDaily,
	})
	if err != nil {
		a.close()
		return nil, err
	}
	if err := a.sched.Lock(); err != nil {
		a.close()
		return nil, err
	}
	return a, nil
}

func (a *app) close() {
	if a.sched != nil {
		if err := a.sched.Unlock(); err != nil {
			a.logger.Error("release lock failed", "err", err)
		}
	}
	if err := mail.Close(a.transport); err != nil {
		a.logger.Warn("close transport failed", "err", err)
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.logger.Warn("close storage failed", "err", err)
		}
	}
}

func runScan(cmd *cobra.Command, args []string) error {
	a, err := setup(cmd.Context(), false)
	if err != nil {
		return err
	}
	defer a.close()
	a.logger.Info("starting scan")
	summary, err := a.sched.RunOnce(cmd.Context())
	if err != nil {
		return err
	}
	a.logger.Info("scan summary",
		"scan_id", summary.ID,
		"lines_read", summary.LinesRead,
		"events_checked", summary.EventsChecked,
		"daily_ran", summary.DailyRan,
		"disabled", summary.DisabledModules)
	return nil
}

func runDaemon(cmd *cobra.Command, args []string) error {
	a, err := setup(cmd.Context(), true)
	if err != nil {
		return err
	}
	defer a.close()

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	sigs := make(chan os.Signal, 2)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigs)
	go func() {
		select {
		case <-ctx.Done():
			return
		case <-sigs:
		}
		a.sched.Shutdown()
		a.logger.Info("shutdown requested", "deadline", a.sched.Deadline())
		select {
		case <-ctx.Done():
		case <-sigs:
			a.logger.Warn("second signal, exiting without finishing the scan")
			os.Exit(1)
		}
	}()

	api.Start(ctx, a.cfg, a.metrics, a.alerts, a.recorder, a.sched, a.logger, version)
	return a.sched.Run(ctx)
}
