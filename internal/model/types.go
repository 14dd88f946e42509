package model

import (
	"errors"
	"math"
	"time"
)

var (
	ErrInvalidLatitude  = errors.New("latitude must be a finite value between -90 and 90")
	ErrInvalidLongitude = errors.New("longitude must be a finite value between -180 and 180")
)

// Coordinate is a WGS84 point in decimal degrees.
type Coordinate struct {
	Latitude  float64 `json:"latitude" yaml:"latitude"`
	Longitude float64 `json:"longitude" yaml:"longitude"`
}

func (c Coordinate) Validate() error {
	if math.IsNaN(c.Latitude) || c.Latitude < -90 || c.Latitude > 90 {
		return ErrInvalidLatitude
	}
	if math.IsNaN(c.Longitude) || c.Longitude < -180 || c.Longitude > 180 {
		return ErrInvalidLongitude
	}
	return nil
}

type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// LevelForScore derives a level for zones whose payload carries only a score.
func LevelForScore(score float64) RiskLevel {
	switch {
	case score >= 0.7:
		return RiskHigh
	case score >= 0.4:
		return RiskMedium
	default:
		return RiskLow
	}
}

func (l RiskLevel) Rank() int {
	switch l {
	case RiskHigh:
		return 3
	case RiskMedium:
		return 2
	case RiskLow:
		return 1
	}
	return 0
}

type RiskZone struct {
	ID            string     `json:"id" yaml:"id"`
	Center        Coordinate `json:"center" yaml:"center"`
	RadiusMeters  float64    `json:"radius_m" yaml:"radius_m"`
	RiskScore     float64    `json:"risk_score" yaml:"risk_score"`
	RiskLevel     RiskLevel  `json:"risk_level" yaml:"risk_level"`
	AccidentCount *int       `json:"accident_count,omitempty" yaml:"accident_count,omitempty"`
}

// Level returns the provided level, or the level derived from the score.
func (z RiskZone) Level() RiskLevel {
	if z.RiskLevel != "" {
		return z.RiskLevel
	}
	return LevelForScore(z.RiskScore)
}

// PositionSample is one location fix. AccuracyMeters is zero when unknown.
type PositionSample struct {
	DeviceID       string     `json:"device_id"`
	Coordinate     Coordinate `json:"coordinate"`
	AccuracyMeters float64    `json:"accuracy_m,omitempty"`
	Timestamp      time.Time  `json:"timestamp"`
	Source         string     `json:"source,omitempty"`
}

type ZoneMatch struct {
	Zone           RiskZone `json:"zone"`
	DistanceMeters float64  `json:"distance_m"`
	IsInside       bool     `json:"is_inside"`
}

type AlertEvent struct {
	DeviceID       string     `json:"device_id"`
	Zone           RiskZone   `json:"zone"`
	DistanceMeters float64    `json:"distance_m"`
	Position       Coordinate `json:"position"`
	OccurredAt     time.Time  `json:"occurred_at"`
}

// AlertRecord is an AlertEvent as kept in alert history.
type AlertRecord struct {
	ID string `json:"id"`
	AlertEvent
	RecordedAt time.Time `json:"recorded_at"`
}

// ZoneStatus is the per-cycle inside/outside state shown to presentation layers.
type ZoneStatus struct {
	DeviceID       string     `json:"device_id"`
	Inside         bool       `json:"inside"`
	ZoneID         string     `json:"zone_id,omitempty"`
	RiskLevel      RiskLevel  `json:"risk_level,omitempty"`
	RiskScore      float64    `json:"risk_score,omitempty"`
	DistanceMeters float64    `json:"distance_m,omitempty"`
	Position       Coordinate `json:"position"`
	Degraded       bool       `json:"degraded"`
	Alerted        bool       `json:"alerted"`
	UpdatedAt      time.Time  `json:"updated_at"`
}
