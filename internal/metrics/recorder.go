package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder owns a private Prometheus registry with the daemon's counters.
type Recorder struct {
	registry *prometheus.Registry

	scans         prometheus.Counter
	scanDuration  prometheus.Histogram
	linesRead     *prometheus.CounterVec
	noneLines     *prometheus.CounterVec
	parseErrors   *prometheus.CounterVec
	eventsChecked *prometheus.CounterVec
	moduleFaults  *prometheus.CounterVec
	alertsSent    *prometheus.CounterVec
	dailyRuns     prometheus.Counter
}

func NewRecorder() *Recorder {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	return &Recorder{
		registry: reg,
		scans: f.NewCounter(prometheus.CounterOpts{
			Name: "logsentry_scans_total",
			Help: "Completed scans",
		}),
		scanDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "logsentry_scan_duration_seconds",
			Help:    "Wall time of one scan",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		}),
		linesRead: f.NewCounterVec(prometheus.CounterOpts{
			Name: "logsentry_reader_events_total",
			Help: "Lines parsed into events, by reader",
		}, []string{"reader"}),
		noneLines: f.NewCounterVec(prometheus.CounterOpts{
			Name: "logsentry_reader_none_lines_total",
			Help: "Lines that produced no event, by reader",
		}, []string{"reader"}),
		parseErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "logsentry_reader_parse_errors_total",
			Help: "Lines that failed to parse, by reader",
		}, []string{"reader"}),
		eventsChecked: f.NewCounterVec(prometheus.CounterOpts{
			Name: "logsentry_monitor_events_checked_total",
			Help: "Events successfully checked, by monitor",
		}, []string{"monitor"}),
		moduleFaults: f.NewCounterVec(prometheus.CounterOpts{
			Name: "logsentry_module_faults_total",
			Help: "Modules disabled by a fault, by kind and name",
		}, []string{"kind", "module"}),
		alertsSent: f.NewCounterVec(prometheus.CounterOpts{
			Name: "logsentry_alerts_total",
			Help: "Alert deliveries by monitor and outcome",
		}, []string{"monitor", "outcome"}),
		dailyRuns: f.NewCounter(prometheus.CounterOpts{
			Name: "logsentry_daily_runs_total",
			Help: "Daily callback passes",
		}),
	}
}

func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

func (r *Recorder) ObserveScan(d time.Duration) {
	r.scans.Inc()
	r.scanDuration.Observe(d.Seconds())
}

func (r *Recorder) ObserveReader(name string, read, none, errors int) {
	r.linesRead.WithLabelValues(name).Add(float64(read))
	r.noneLines.WithLabelValues(name).Add(float64(none))
	r.parseErrors.WithLabelValues(name).Add(float64(errors))
}

func (r *Recorder) ObserveChecks(monitor string, n int) {
	r.eventsChecked.WithLabelValues(monitor).Add(float64(n))
}

func (r *Recorder) ModuleFault(kind, name string) {
	r.moduleFaults.WithLabelValues(kind, name).Inc()
}

func (r *Recorder) AlertDelivery(monitor string, delivered bool) {
	outcome := "delivered"
	if !delivered {
		outcome = "failed"
	}
	r.alertsSent.WithLabelValues(monitor, outcome).Inc()
}

func (r *Recorder) DailyRun() {
	r.dailyRuns.Inc()
}
