package normalize

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"georisk/internal/model"
)

var ErrMissingCenter = errors.New("zone payload has no center coordinate")

// Zone maps one zone object from the risk service onto the canonical RiskZone.
// Field names differ between service versions; all known spellings are accepted
// here so nothing downstream has to care.
func Zone(obj map[string]any) (model.RiskZone, error) {
	var z model.RiskZone
	z.ID = stringField(obj, "id", "zone_id", "zoneId")

	center := obj
	if nested, ok := obj["center"].(map[string]any); ok {
		center = nested
	}
	lat, okLat := numberField(center, "latitude", "lat", "xx")
	lon, okLon := numberField(center, "longitude", "lng", "lon", "yy")
	if !okLat || !okLon {
		return model.RiskZone{}, ErrMissingCenter
	}
	z.Center = model.Coordinate{Latitude: lat, Longitude: lon}

	z.RadiusMeters, _ = numberField(obj, "radius_m", "radius_meters", "radiusMeters", "radius")
	z.RiskScore, _ = numberField(obj, "risk_score", "riskScore", "score", "probability", "probabilidad")
	if s := stringField(obj, "risk_level", "riskLevel", "level", "riesgo"); s != "" {
		z.RiskLevel = ParseRiskLevel(s)
	}
	if n, ok := numberField(obj, "accident_count", "accidentCount", "accidents"); ok {
		count := int(n)
		z.AccidentCount = &count
	}
	if z.ID == "" {
		z.ID = fmt.Sprintf("%.6f,%.6f", lat, lon)
	}
	return z, nil
}

// ParseRiskLevel understands the English and Spanish labels the service emits.
// Unknown labels yield "" so the level is derived from the score.
func ParseRiskLevel(s string) model.RiskLevel {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "high", "alto", "alta", "critical":
		return model.RiskHigh
	case "medium", "medio", "media", "moderate":
		return model.RiskMedium
	case "low", "bajo", "baja":
		return model.RiskLow
	}
	return ""
}

func stringField(obj map[string]any, keys ...string) string {
	for _, k := range keys {
		if v, ok := obj[k]; ok && v != nil {
			if s, ok := v.(string); ok {
				if s = strings.TrimSpace(s); s != "" {
					return s
				}
				continue
			}
			return fmt.Sprint(v)
		}
	}
	return ""
}

func numberField(obj map[string]any, keys ...string) (float64, bool) {
	for _, k := range keys {
		v, ok := obj[k]
		if !ok || v == nil {
			continue
		}
		switch n := v.(type) {
		case float64:
			return n, true
		case int:
			return float64(n), true
		case json.Number:
			if f, err := n.Float64(); err == nil {
				return f, true
			}
		case string:
			if f, err := strconv.ParseFloat(strings.TrimSpace(n), 64); err == nil {
				return f, true
			}
		}
	}
	return 0, false
}
