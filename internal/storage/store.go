// Package storage archives delivered alerts and scan history in a relational
// database. It is optional; a nil Store means archiving is off.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"logsentry/internal/config"
	"logsentry/internal/model"
)

type Store interface {
	Init(ctx context.Context) error
	Close() error
	SaveAlert(ctx context.Context, alert model.AlertRecord) error
	SaveScan(ctx context.Context, scan model.ScanSummary) error
	SaveModuleStats(ctx context.Context, scanID string, stats []model.ModuleStats) error
}

func NewStore(cfg config.StorageConfig) (Store, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	switch strings.ToLower(cfg.Driver) {
	case "sqlite":
		return NewSQLite(cfg.DSN)
	case "postgres", "postgresql":
		return NewPostgres(cfg.DSN)
	default:
		return nil, errors.New("unsupported storage driver")
	}
}

type baseStore struct {
	db *sql.DB
}

func (b *baseStore) Close() error {
	if b.db != nil {
		return b.db.Close()
	}
	return nil
}

func (b *baseStore) saveModuleStats(ctx context.Context, insert, scanID string, stats []model.ModuleStats) error {
	if b.db == nil || scanID == "" || len(stats) == 0 {
		return nil
	}
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx, insert)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	defer stmt.Close()
	for _, st := range stats {
		if _, err := stmt.ExecContext(ctx,
			nowUTC(),
			scanID,
			st.Kind,
			st.Name,
			st.Count,
			st.None,
			st.Errors,
			st.Alerts,
			st.Enabled,
		); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

func encodeJSON(value any) string {
	data, _ := json.Marshal(value)
	return string(data)
}

func nowUTC() time.Time {
	return time.Now().UTC()
}
