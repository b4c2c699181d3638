package storage

import (
	"context"
	"database/sql"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"

	"logsentry/internal/model"
)

type postgresStore struct {
	baseStore
}

func NewPostgres(dsn string) (Store, error) {
	if strings.TrimSpace(dsn) == "" {
		dsn = "postgres://localhost:5432/logsentry?sslmode=disable"
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	return &postgresStore{baseStore{db: db}}, nil
}

func (s *postgresStore) Init(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS alerts (
			id BIGSERIAL PRIMARY KEY,
			ts TIMESTAMPTZ NOT NULL,
			monitor TEXT NOT NULL,
			recipient TEXT NOT NULL,
			subject TEXT NOT NULL,
			delivered BOOLEAN NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_alerts_ts ON alerts(ts)`,
		`CREATE TABLE IF NOT EXISTS scans (
			id UUID PRIMARY KEY,
			started TIMESTAMPTZ NOT NULL,
			finished TIMESTAMPTZ NOT NULL,
			readers_json JSONB NOT NULL,
			monitors_json JSONB NOT NULL,
			lines_read INTEGER NOT NULL,
			events_checked INTEGER NOT NULL,
			daily_ran BOOLEAN NOT NULL,
			disabled_json JSONB
		)`,
		`CREATE TABLE IF NOT EXISTS module_stats (
			id BIGSERIAL PRIMARY KEY,
			ts TIMESTAMPTZ NOT NULL,
			scan_id UUID NOT NULL,
			kind TEXT NOT NULL,
			name TEXT NOT NULL,
			count INTEGER NOT NULL,
			none_count INTEGER NOT NULL,
			errors INTEGER NOT NULL,
			alerts INTEGER NOT NULL,
			enabled BOOLEAN NOT NULL
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

func (s *postgresStore) SaveAlert(ctx context.Context, alert model.AlertRecord) error {
	if s.db == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO alerts (ts, monitor, recipient, subject, delivered)
		VALUES ($1, $2, $3, $4, $5)`,
		alert.Timestamp.UTC(),
		alert.Monitor,
		alert.To,
		alert.Subject,
		alert.Delivered,
	)
	return err
}

func (s *postgresStore) SaveScan(ctx context.Context, scan model.ScanSummary) error {
	if s.db == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO scans (id, started, finished, readers_json, monitors_json, lines_read, events_checked, daily_ran, disabled_json)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
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

func (s *postgresStore) SaveModuleStats(ctx context.Context, scanID string, stats []model.ModuleStats) error {
	return s.saveModuleStats(ctx,
		`INSERT INTO module_stats (ts, scan_id, kind, name, count, none_count, errors, alerts, enabled)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		scanID, stats)
}
