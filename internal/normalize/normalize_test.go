package normalize

import (
	"errors"
	"testing"
	"time"

	"georisk/internal/config"
	"georisk/internal/model"
)

func TestNormalizePosition(t *testing.T) {
	cfg := config.DefaultConfig()
	ev, err := Normalize(PositionFields{
		Timestamp: "1773511200000",
		Latitude:  "-16.3974773",
		Longitude: "-71.501184",
		Accuracy:  "12.5",
	}, cfg)
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if ev.DeviceID != "default" {
		t.Fatalf("expected default device id, got %q", ev.DeviceID)
	}
	if ev.Coordinate.Latitude != -16.3974773 || ev.AccuracyMeters != 12.5 {
		t.Fatalf("unexpected sample %+v", ev)
	}
	if !ev.Timestamp.Equal(time.UnixMilli(1773511200000)) {
		t.Fatalf("unexpected timestamp %s", ev.Timestamp)
	}
}

func TestNormalizeRejectsOutOfRange(t *testing.T) {
	cfg := config.DefaultConfig()
	_, err := Normalize(PositionFields{Latitude: "91", Longitude: "0"}, cfg)
	if err == nil {
		t.Fatalf("expected error for latitude 91")
	}
	_, err = Normalize(PositionFields{Latitude: "NaN", Longitude: "0"}, cfg)
	if err == nil {
		t.Fatalf("expected error for NaN latitude")
	}
}

func TestZoneFieldVariants(t *testing.T) {
	snake := map[string]any{
		"id":             "z1",
		"latitude":       -16.39,
		"longitude":      -71.50,
		"radius_m":       120.0,
		"risk_score":     0.82,
		"risk_level":     "Alto",
		"accident_count": 14.0,
	}
	camel := map[string]any{
		"zoneId":        "z1",
		"center":        map[string]any{"lat": -16.39, "lng": -71.50},
		"radiusMeters":  "120",
		"riskScore":     0.82,
		"riskLevel":     "high",
		"accidentCount": 14.0,
	}
	for name, obj := range map[string]map[string]any{"snake": snake, "camel": camel} {
		z, err := Zone(obj)
		if err != nil {
			t.Fatalf("%s: %v", name, err)
		}
		if z.ID != "z1" || z.RadiusMeters != 120 || z.RiskScore != 0.82 || z.RiskLevel != model.RiskHigh {
			t.Fatalf("%s: unexpected zone %+v", name, z)
		}
		if z.AccidentCount == nil || *z.AccidentCount != 14 {
			t.Fatalf("%s: accident count not decoded", name)
		}
	}
}

func TestZoneWithoutCenter(t *testing.T) {
	if _, err := Zone(map[string]any{"id": "x", "risk_score": 0.3}); err != ErrMissingCenter {
		t.Fatalf("expected ErrMissingCenter, got %v", err)
	}
}

func TestZoneDerivesLevelFromScore(t *testing.T) {
	z, err := Zone(map[string]any{"xx": -16.4, "yy": -71.5, "probabilidad": 0.55, "riesgo": 0.5})
	if err != nil {
		t.Fatalf("zone: %v", err)
	}
	if z.RiskLevel != "" || z.Level() != model.RiskMedium {
		t.Fatalf("expected derived medium level, got %q/%q", z.RiskLevel, z.Level())
	}
	if z.ID == "" {
		t.Fatalf("expected generated id")
	}
}

func TestParseTimestampLayouts(t *testing.T) {
	lima, err := time.LoadLocation("America/Lima")
	if err != nil {
		t.Skip("tzdata unavailable")
	}
	cases := []struct {
		in   string
		want time.Time
	}{
		{"1773511200", time.Unix(1773511200, 0)},
		{"2026-03-14T18:00:00Z", time.Date(2026, 3, 14, 18, 0, 0, 0, time.UTC)},
		{"2026-03-14 13:00:00", time.Date(2026, 3, 14, 18, 0, 0, 0, time.UTC)},
		{"2026-03-14T13:00:00.250", time.Date(2026, 3, 14, 18, 0, 0, 250e6, time.UTC)},
	}
	for _, tc := range cases {
		got, err := ParseTimestamp(tc.in, lima)
		if err != nil {
			t.Fatalf("%s: %v", tc.in, err)
		}
		if !got.Equal(tc.want) {
			t.Fatalf("%s: got %s want %s", tc.in, got, tc.want)
		}
	}
	if _, err := ParseTimestamp("yesterday", time.UTC); err == nil {
		t.Fatalf("expected error for unsupported format")
	}
}

func TestNormalizeRejectsNegativeAccuracy(t *testing.T) {
	_, err := Normalize(PositionFields{Latitude: "1", Longitude: "1", Accuracy: "-3"}, config.DefaultConfig())
	if !errors.Is(err, ErrNegativeAccuracy) {
		t.Fatalf("expected ErrNegativeAccuracy, got %v", err)
	}
}
