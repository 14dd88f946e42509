package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"georisk/internal/config"
	"georisk/internal/model"
)

var ErrUnsupportedDriver = errors.New("unsupported storage driver")

// Store persists alert history and device zone status.
type Store interface {
	Init(ctx context.Context) error
	Close() error
	SaveAlert(ctx context.Context, rec model.AlertRecord) error
	SaveStatus(ctx context.Context, st model.ZoneStatus) error
	ListAlerts(ctx context.Context, deviceID string, limit int) ([]model.AlertRecord, error)
	ClearAlerts(ctx context.Context) error
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
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedDriver, cfg.Driver)
	}
}

// baseStore holds the statements shared by both drivers. Queries are written
// with '?' placeholders and rebound when the driver numbers them.
type baseStore struct {
	db       *sql.DB
	numbered bool
}

func (b *baseStore) Close() error {
	if b.db != nil {
		return b.db.Close()
	}
	return nil
}

func (b *baseStore) bind(query string) string {
	if !b.numbered {
		return query
	}
	var sb strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			sb.WriteByte('$')
			sb.WriteString(strconv.Itoa(n))
			continue
		}
		sb.WriteRune(r)
	}
	return sb.String()
}

func (b *baseStore) exec(ctx context.Context, stmts []string) error {
	for _, stmt := range stmts {
		if _, err := b.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (b *baseStore) SaveAlert(ctx context.Context, rec model.AlertRecord) error {
	if b.db == nil {
		return nil
	}
	_, err := b.db.ExecContext(ctx, b.bind(
		`INSERT INTO alerts (id, device_id, zone_id, risk_level, risk_score, distance_m, lat, lon, occurred_at, recorded_at, zone_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		rec.ID,
		rec.DeviceID,
		rec.Zone.ID,
		string(rec.Zone.Level()),
		rec.Zone.RiskScore,
		rec.DistanceMeters,
		rec.Position.Latitude,
		rec.Position.Longitude,
		toMillis(rec.OccurredAt),
		toMillis(rec.RecordedAt),
		encodeJSON(rec.Zone),
	)
	return err
}

func (b *baseStore) SaveStatus(ctx context.Context, st model.ZoneStatus) error {
	if b.db == nil || st.DeviceID == "" {
		return nil
	}
	_, err := b.db.ExecContext(ctx, b.bind(
		`INSERT INTO zone_status (device_id, ts, inside, zone_id, risk_level, risk_score, distance_m, lat, lon, degraded, alerted)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		st.DeviceID,
		toMillis(st.UpdatedAt),
		st.Inside,
		st.ZoneID,
		string(st.RiskLevel),
		st.RiskScore,
		st.DistanceMeters,
		st.Position.Latitude,
		st.Position.Longitude,
		st.Degraded,
		st.Alerted,
	)
	return err
}

// ListAlerts returns the newest alerts first. An empty deviceID lists all devices.
func (b *baseStore) ListAlerts(ctx context.Context, deviceID string, limit int) ([]model.AlertRecord, error) {
	if b.db == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT id, device_id, distance_m, lat, lon, occurred_at, recorded_at, zone_json FROM alerts`
	args := []any{}
	if deviceID != "" {
		query += ` WHERE device_id = ?`
		args = append(args, deviceID)
	}
	query += ` ORDER BY occurred_at DESC, recorded_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := b.db.QueryContext(ctx, b.bind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]model.AlertRecord, 0)
	for rows.Next() {
		var (
			rec                model.AlertRecord
			occurred, recorded int64
			zoneJSON           string
		)
		if err := rows.Scan(
			&rec.ID,
			&rec.DeviceID,
			&rec.DistanceMeters,
			&rec.Position.Latitude,
			&rec.Position.Longitude,
			&occurred,
			&recorded,
			&zoneJSON,
		); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(zoneJSON), &rec.Zone); err != nil {
			return nil, fmt.Errorf("decode zone for alert %s: %w", rec.ID, err)
		}
		rec.OccurredAt = fromMillis(occurred)
		rec.RecordedAt = fromMillis(recorded)
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (b *baseStore) ClearAlerts(ctx context.Context) error {
	if b.db == nil {
		return nil
	}
	_, err := b.db.ExecContext(ctx, `DELETE FROM alerts`)
	return err
}

func encodeJSON(value any) string {
	data, _ := json.Marshal(value)
	return string(data)
}

func toMillis(ts time.Time) int64 {
	if ts.IsZero() {
		return 0
	}
	return ts.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}
