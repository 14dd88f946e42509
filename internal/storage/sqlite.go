package storage

import (
	"context"
	"database/sql"
	"strings"

	_ "modernc.org/sqlite"
)

type sqliteStore struct {
	baseStore
}

func NewSQLite(dsn string) (Store, error) {
	if strings.TrimSpace(dsn) == "" {
		dsn = "file:georisk.db?_pragma=busy_timeout(5000)"
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
	return s.exec(ctx, []string{
		`CREATE TABLE IF NOT EXISTS alerts (
			id TEXT PRIMARY KEY,
			device_id TEXT NOT NULL,
			zone_id TEXT NOT NULL,
			risk_level TEXT NOT NULL,
			risk_score REAL NOT NULL,
			distance_m REAL NOT NULL,
			lat REAL NOT NULL,
			lon REAL NOT NULL,
			occurred_at INTEGER NOT NULL,
			recorded_at INTEGER NOT NULL,
			zone_json TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_alerts_occurred ON alerts(occurred_at)`,
		`CREATE INDEX IF NOT EXISTS idx_alerts_device ON alerts(device_id, occurred_at)`,
		`CREATE TABLE IF NOT EXISTS zone_status (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			device_id TEXT NOT NULL,
			ts INTEGER NOT NULL,
			inside INTEGER NOT NULL,
			zone_id TEXT NOT NULL,
			risk_level TEXT NOT NULL,
			risk_score REAL NOT NULL,
			distance_m REAL NOT NULL,
			lat REAL NOT NULL,
			lon REAL NOT NULL,
			degraded INTEGER NOT NULL,
			alerted INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_zone_status_device ON zone_status(device_id, ts)`,
	})
}
