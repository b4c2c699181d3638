package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"logsentry/internal/config"
	"logsentry/internal/model"
)

func TestNewStoreDisabled(t *testing.T) {
	st, err := NewStore(config.StorageConfig{Enabled: false})
	require.NoError(t, err)
	assert.Nil(t, st)

	_, err = NewStore(config.StorageConfig{Enabled: true, Driver: "mysql"})
	assert.Error(t, err)
}

func TestSQLiteRoundTrip(t *testing.T) {
	ctx := context.Background()
	dsn := "file:" + filepath.Join(t.TempDir(), "test.db")
	st, err := NewSQLite(dsn)
	require.NoError(t, err)
	defer st.Close()
	require.NoError(t, st.Init(ctx))

	now := time.Now()
	require.NoError(t, st.SaveAlert(ctx, model.AlertRecord{Timestamp: now, Monitor: "monitor_x", To: "a@x", Subject: "s", Delivered: true}))
	require.NoError(t, st.SaveScan(ctx, model.ScanSummary{
		ID: "scan-1", Started: now, Finished: now.Add(time.Second),
		Readers: []string{"reader_a"}, Monitors: []string{"monitor_x"}, LinesRead: 4, EventsChecked: 4,
	}))
	require.NoError(t, st.SaveModuleStats(ctx, "scan-1", []model.ModuleStats{
		{Kind: "reader", Name: "reader_a", Count: 4, Enabled: true},
		{Kind: "monitor", Name: "monitor_x", Count: 4, Alerts: 1, Enabled: true},
	}))

	db := st.(*sqliteStore).db
	var n int
	require.NoError(t, db.QueryRowContext(ctx, `SELECT COUNT(*) FROM alerts WHERE monitor = ?`, "monitor_x").Scan(&n))
	assert.Equal(t, 1, n)
	require.NoError(t, db.QueryRowContext(ctx, `SELECT lines_read FROM scans WHERE id = ?`, "scan-1").Scan(&n))
	assert.Equal(t, 4, n)
	require.NoError(t, db.QueryRowContext(ctx, `SELECT COUNT(*) FROM module_stats WHERE scan_id = ?`, "scan-1").Scan(&n))
	assert.Equal(t, 2, n)
}
