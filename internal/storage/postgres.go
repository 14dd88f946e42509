package storage

import (
	"context"
	"database/sql"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"
)

type postgresStore struct {
	baseStore
}

func NewPostgres(dsn string) (Store, error) {
	if strings.TrimSpace(dsn) == "" {
		dsn = "postgres://localhost:5432/georisk?sslmode=disable"
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	return &postgresStore{baseStore{db: db, numbered: true}}, nil
}

func (s *postgresStore) Init(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	return s.exec(ctx, []string{
		`CREATE TABLE IF NOT EXISTS alerts (
			id TEXT PRIMARY KEY,
			device_id TEXT NOT NULL,
			zone_id TEXT NOT NULL,
			risk_level TEXT NOT NULL,
			risk_score DOUBLE PRECISION NOT NULL,
			distance_m DOUBLE PRECISION NOT NULL,
			lat DOUBLE PRECISION NOT NULL,
			lon DOUBLE PRECISION NOT NULL,
			occurred_at BIGINT NOT NULL,
			recorded_at BIGINT NOT NULL,
			zone_json JSONB NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_alerts_occurred ON alerts(occurred_at)`,
		`CREATE INDEX IF NOT EXISTS idx_alerts_device ON alerts(device_id, occurred_at)`,
		`CREATE TABLE IF NOT EXISTS zone_status (
			id BIGSERIAL PRIMARY KEY,
			device_id TEXT NOT NULL,
			ts BIGINT NOT NULL,
			inside BOOLEAN NOT NULL,
			zone_id TEXT NOT NULL,
			risk_level TEXT NOT NULL,
			risk_score DOUBLE PRECISION NOT NULL,
			distance_m DOUBLE PRECISION NOT NULL,
			lat DOUBLE PRECISION NOT NULL,
			lon DOUBLE PRECISION NOT NULL,
			degraded BOOLEAN NOT NULL,
			alerted BOOLEAN NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_zone_status_device ON zone_status(device_id, ts)`,
	})
}
