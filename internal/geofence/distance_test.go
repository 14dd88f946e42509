package geofence

import (
	"math"
	"testing"

	"georisk/internal/model"
)

var arequipa = model.Coordinate{Latitude: -16.3974773, Longitude: -71.501184}

func TestDistanceZero(t *testing.T) {
	if d := DistanceMeters(arequipa, arequipa); d != 0 {
		t.Fatalf("expected 0, got %f", d)
	}
}

func TestDistanceKnownFixture(t *testing.T) {
	other := model.Coordinate{Latitude: -16.3980, Longitude: -71.5020}
	d := DistanceMeters(arequipa, other)
	// reference haversine value with R = 6371 km
	if math.Abs(d-104.665) > 1 {
		t.Fatalf("expected ~104.7m, got %f", d)
	}
}

func TestDistanceSymmetric(t *testing.T) {
	pairs := [][2]model.Coordinate{
		{arequipa, {Latitude: -16.3980, Longitude: -71.5020}},
		{{Latitude: 89.9, Longitude: 179.9}, {Latitude: -89.9, Longitude: -179.9}},
		{{Latitude: -6.2088, Longitude: 106.8456}, {Latitude: 51.5, Longitude: -0.12}},
		{{Latitude: 0, Longitude: 0}, {Latitude: 0, Longitude: 180}},
	}
	for _, p := range pairs {
		ab := DistanceMeters(p[0], p[1])
		ba := DistanceMeters(p[1], p[0])
		if math.Abs(ab-ba) > 1e-6*math.Max(ab, 1) {
			t.Fatalf("asymmetric distance for %v: %f vs %f", p, ab, ba)
		}
	}
}

func TestDistanceAntipodal(t *testing.T) {
	d := DistanceMeters(model.Coordinate{Latitude: 0, Longitude: 0}, model.Coordinate{Latitude: 0, Longitude: 180})
	if math.IsNaN(d) {
		t.Fatalf("antipodal distance is NaN")
	}
	if math.Abs(d-math.Pi*EarthRadiusMeters) > 1 {
		t.Fatalf("expected half circumference, got %f", d)
	}
}
