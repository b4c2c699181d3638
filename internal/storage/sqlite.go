package storage

import (
	"context"
	"database/sql"
	"strings"

	_ "modernc.org/sqlite"

	"logsentry/internal/model"
)

type sqliteStore struct {
	baseStore
}

func NewSQLite(dsn string) (Store, error) {
	if strings.TrimSpace(dsn) == "" {
		dsn = "file:logsentry.db?_pragma=busy_timeout(5000)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	return &sqliteStore{baseStore{db: db}}, nil
}

func (s *sqliteStore) Init(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS alerts (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			ts TEXT NOT NULL,
			monitor TEXT NOT NULL,
			recipient TEXT NOT NULL,
			subject TEXT NOT NULL,
			delivered INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_alerts_ts ON alerts(ts)`,
		`CREATE TABLE IF NOT EXISTS scans (
			id TEXT PRIMARY KEY,
			started TEXT NOT NULL,
			finished TEXT NOT NULL,
			readers_json TEXT NOT NULL,
			monitors_json TEXT NOT NULL,
			lines_read INTEGER NOT NULL,
			events_checked INTEGER NOT NULL,
			daily_ran INTEGER NOT NULL,
			disabled_json TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS module_stats (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			ts TEXT NOT NULL,
			scan_id TEXT NOT NULL,
			kind TEXT NOT NULL,
			name TEXT NOT NULL,
			count INTEGER NOT NULL,
			none_count INTEGER NOT NULL,
			errors INTEGER NOT NULL,
			alerts INTEGER NOT NULL,
			enabled INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_module_stats_name ON module_stats(kind, name)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *sqliteStore) SaveAlert(ctx context.Context, alert model.AlertRecord) error {
	if s.db == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO alerts (ts, monitor, recipient, subject, delivered)
		VALUES (?, ?, ?, ?, ?)`,
		alert.Timestamp.UTC(),
		alert.Monitor,
		alert.To,
		alert.Subject,
		alert.Delivered,
	)
	return err
}

func (s *sqliteStore) SaveScan(ctx context.Context, scan model.ScanSummary) error {
	if s.db == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO scans (id, started, finished, readers_json, monitors_json, lines_read, events_checked, daily_ran, disabled_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		scan.ID,
		scan.Started.UTC(),
		scan.Finished.UTC(),
		encodeJSON(scan.Readers),
		encodeJSON(scan.Monitors),
		scan.LinesRead,
		scan.EventsChecked,
		scan.DailyRan,
		encodeJSON(scan.DisabledModules),
	)
	return err
}

func (s *sqliteStore) SaveModuleStats(ctx context.Context, scanID string, stats []model.ModuleStats) error {
	return s.saveModuleStats(ctx,
		`INSERT INTO module_stats (ts, scan_id, kind, name, count, none_count, errors, alerts, enabled)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		scanID, stats)
}
