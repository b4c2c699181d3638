// Package api serves the daemon's status over HTTP: last scan, module
// stats, recent alerts and Prometheus metrics.
package api

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"

	"logsentry/internal/alerts"
	"logsentry/internal/config"
	"logsentry/internal/metrics"
	"logsentry/internal/model"
)

// SchedulerStatus is the part of the scheduler that is safe to read while a
// scan runs.
type SchedulerStatus interface {
	Scans() int64
	ShuttingDown() bool
}

type Server struct {
	cfg       *config.Manager
	metrics   *metrics.Store
	alerts    *alerts.Store
	recorder  *metrics.Recorder
	scheduler SchedulerStatus
	logger    *slog.Logger
	version   string
}

type statusResponse struct {
	Status       string             `json:"status"`
	Time         string             `json:"time"`
	Version      string             `json:"version"`
	ConfigPath   string             `json:"config_path"`
	Scans        int64              `json:"scans"`
	ShuttingDown bool               `json:"shutting_down"`
	Interval     string             `json:"interval"`
	DailyRunHour int                `json:"daily_run_hour"`
	Readers      []string           `json:"readers"`
	Monitors     []string           `json:"monitors"`
	LastScan     *model.ScanSummary `json:"last_scan,omitempty"`
}

func NewServer(cfg *config.Manager, metricsStore *metrics.Store, alertsStore *alerts.Store, recorder *metrics.Recorder, sched SchedulerStatus, logger *slog.Logger, version string) *Server {
	return &Server{
		cfg:       cfg,
		metrics:   metricsStore,
		alerts:    alertsStore,
		recorder:  recorder,
		scheduler: sched,
		logger:    logger,
		version:   version,
	}
}

// Start serves the API in the background until ctx ends. It returns nil
// when the API is disabled.
func Start(ctx context.Context, cfg *config.Manager, metricsStore *metrics.Store, alertsStore *alerts.Store, recorder *metrics.Recorder, sched SchedulerStatus, logger *slog.Logger, version string) *http.Server {
	if cfg == nil {
		return nil
	}
	current := cfg.Get().API
	if !current.Enabled {
		if logger != nil {
			logger.Info("api disabled")
		}
		return nil
	}
	if logger != nil {
		logger.Info("api enabled", "addr", current.Addr)
	}
	server := NewServer(cfg, metricsStore, alertsStore, recorder, sched, logger, version)
	httpServer := &http.Server{
		Addr:         current.Addr,
		Handler:      server.Routes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(ctxShutdown)
	}()
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			if logger != nil {
				logger.Error("api server error", "err", err)
			}
		}
	}()
	return httpServer
}

func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.Recoverer)
	r.Get("/health", s.handleHealth)
	r.Get("/status", s.handleStatus)
	r.Get("/modules", s.handleModules)
	r.Get("/modules/{kind}/{name}", s.handleModule)
	r.Get("/alerts", s.handleAlerts)
	r.Post("/admin/clear", s.handleClear)
	if s.recorder != nil {
		r.Method(http.MethodGet, "/metrics", s.recorder.Handler())
	}
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.scheduler != nil && s.scheduler.ShuttingDown() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "stopping"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	cfg := s.cfg.Get()
	resp := statusResponse{
		Status:       "ok",
		Time:         time.Now().UTC().Format(time.RFC3339Nano),
		Version:      s.version,
		ConfigPath:   s.cfg.Path(),
		Interval:     cfg.Interval.String(),
		DailyRunHour: cfg.DailyRunHour,
		Readers:      sortedKeys(cfg.Readers),
		Monitors:     sortedKeys(cfg.Monitors),
	}
	if s.scheduler != nil {
		resp.Scans = s.scheduler.Scans()
		resp.ShuttingDown = s.scheduler.ShuttingDown()
		if resp.ShuttingDown {
			resp.Status = "stopping"
		}
	}
	if s.metrics != nil {
		if last, ok := s.metrics.LastScan(); ok {
			resp.LastScan = &last
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleModules(w http.ResponseWriter, r *http.Request) {
	all := []model.ModuleStats{}
	if s.metrics != nil {
		all = s.metrics.GetAll()
	}
	if kind := r.URL.Query().Get("kind"); kind != "" {
		filtered := all[:0:0]
		for _, st := range all {
			if st.Kind == kind {
				filtered = append(filtered, st)
			}
		}
		all = filtered
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"modules": all,
		"count":   len(all),
	})
}

func (s *Server) handleModule(w http.ResponseWriter, r *http.Request) {
	if s.metrics == nil {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	st, ok := s.metrics.Get(chi.URLParam(r, "kind"), chi.URLParam(r, "name"))
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleAlerts(w http.ResponseWriter, r *http.Request) {
	if s.alerts == nil {
		writeJSON(w, http.StatusOK, map[string]any{"alerts": []model.AlertRecord{}, "count": 0})
		return
	}
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}
	sinceStr := r.URL.Query().Get("since")
	var list []model.AlertRecord
	switch {
	case r.URL.Query().Get("undelivered") == "true":
		list = s.alerts.Undelivered()
	case sinceStr != "":
		ts, err := time.Parse(time.RFC3339, sinceStr)
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		list = s.alerts.Since(ts)
	default:
		list = s.alerts.List(limit)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"alerts": list,
		"count":  len(list),
	})
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	var req struct {
		Target string `json:"target"`
	}
	_ = json.Unmarshal(body, &req)
	target := strings.ToLower(strings.TrimSpace(req.Target))
	if target == "" {
		target = "all"
	}
	switch target {
	case "all":
		if s.metrics != nil {
			s.metrics.Clear()
		}
		if s.alerts != nil {
			s.alerts.Clear()
		}
	case "alerts":
		if s.alerts != nil {
			s.alerts.Clear()
		}
	case "modules", "metrics":
		if s.metrics != nil {
			s.metrics.Clear()
		}
	default:
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	if s.logger != nil {
		s.logger.Info("api cleared in-memory state", "target", target)
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func sortedKeys(m map[string]config.ModuleConfig) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
