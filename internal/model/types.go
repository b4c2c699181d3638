package model

import "time"

type Result string

const (
	ResultSuccess Result = "success"
	ResultFailure Result = "failure"
)

// AlertMessage is one queued notification. It is persisted verbatim in a
// monitor's durable retry queue when delivery fails.
type AlertMessage struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

type ReaderState struct {
	ReaderName          string `json:"reader_name"`
	LastReadCount       int    `json:"last_read_count"`
	LastReadTimestamp   int64  `json:"last_read_timestamp"`
	LastErrorCount      int    `json:"last_error_count"`
	LastNoneCount       int    `json:"last_none_count"`
	MissedReadWatchdogs int    `json:"missed_read_watchdogs"`
	MissedNoneWatchdogs int    `json:"missed_none_watchdogs"`
}

// SchedulerState is the global state file. PID doubles as the singleton lock.
type SchedulerState struct {
	LastDailyRun    int64 `json:"last_daily_run"`
	LastRunStart    int64 `json:"last_run_start"`
	LastRunComplete int64 `json:"last_run_complete"`
	PID             int   `json:"pid,omitempty"`
}

type AlertRecord struct {
	Timestamp time.Time `json:"timestamp"`
	Monitor   string    `json:"monitor"`
	To        string    `json:"to"`
	Subject   string    `json:"subject"`
	Delivered bool      `json:"delivered"`
}

type ScanSummary struct {
	ID              string    `json:"id"`
	Started         time.Time `json:"started"`
	Finished        time.Time `json:"finished"`
	Readers         []string  `json:"readers"`
	Monitors        []string  `json:"monitors"`
	LinesRead       int       `json:"lines_read"`
	EventsChecked   int       `json:"events_checked"`
	DailyRan        bool      `json:"daily_ran"`
	DisabledModules []string  `json:"disabled_modules,omitempty"`
}

// ModuleStats is one reader's or monitor's outcome in a scan. Count is lines
// read for a reader and events checked for a monitor.
type ModuleStats struct {
	Kind    string    `json:"kind"`
	Name    string    `json:"name"`
	Count   int       `json:"count"`
	None    int       `json:"none,omitempty"`
	Errors  int       `json:"errors,omitempty"`
	Alerts  int       `json:"alerts,omitempty"`
	Enabled bool      `json:"enabled"`
	Updated time.Time `json:"updated"`
}
