package zones

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"georisk/internal/geofence"
	"georisk/internal/model"
	"georisk/internal/normalize"
)

// DemoCenter is the reference point the demo zones are laid out around
// (Arequipa city centre).
var DemoCenter = model.Coordinate{Latitude: -16.3974773, Longitude: -71.501184}

func DemoZones() []model.RiskZone {
	count := func(n int) *int { return &n }
	return []model.RiskZone{
		{ID: "demo-centro", Center: DemoCenter, RadiusMeters: 150, RiskScore: 0.85, RiskLevel: model.RiskHigh, AccidentCount: count(23)},
		{ID: "demo-puente-grau", Center: model.Coordinate{Latitude: -16.3925, Longitude: -71.5390}, RadiusMeters: 120, RiskScore: 0.74, RiskLevel: model.RiskHigh, AccidentCount: count(17)},
		{ID: "demo-av-ejercito", Center: model.Coordinate{Latitude: -16.3942, Longitude: -71.5487}, RadiusMeters: 200, RiskScore: 0.62, RiskLevel: model.RiskMedium, AccidentCount: count(11)},
		{ID: "demo-cayma", Center: model.Coordinate{Latitude: -16.3720, Longitude: -71.5460}, RadiusMeters: 250, RiskScore: 0.35, RiskLevel: model.RiskLow, AccidentCount: count(4)},
	}
}

// LoadFile reads a YAML or JSON list of zones. Entries go through the same
// normalisation as service payloads; malformed entries fail the load.
func LoadFile(path string) ([]model.RiskZone, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var doc struct {
		Zones []map[string]any `yaml:"zones"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil || len(doc.Zones) == 0 {
		var list []map[string]any
		if listErr := yaml.Unmarshal(data, &list); listErr != nil {
			if err != nil {
				return nil, fmt.Errorf("parse %s: %w", path, err)
			}
			return nil, fmt.Errorf("parse %s: %w", path, listErr)
		}
		doc.Zones = list
	}
	out := make([]model.RiskZone, 0, len(doc.Zones))
	for i, obj := range doc.Zones {
		z, err := normalize.Zone(obj)
		if err == nil {
			err = geofence.ValidateZone(z)
		}
		if err != nil {
			return nil, fmt.Errorf("%s: zone %d: %w", path, i, err)
		}
		out = append(out, z)
	}
	return out, nil
}

// FallbackZones assembles the degraded-mode list: the file when configured,
// otherwise the demo zones when enabled.
func FallbackZones(file string, demo bool) ([]model.RiskZone, error) {
	if file != "" {
		return LoadFile(file)
	}
	if demo {
		return DemoZones(), nil
	}
	return nil, nil
}
