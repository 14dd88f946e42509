package geofence

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"georisk/internal/model"
)

var (
	ErrInvalidPosition = errors.New("invalid position")
	ErrInvalidZone     = errors.New("invalid zone")
	ErrInvalidMode     = errors.New("invalid match mode")
)

type MatchKind string

const (
	// KindZoneRadius matches when the position is inside the zone's own radius.
	KindZoneRadius MatchKind = "zone_radius"
	// KindFixedProximity matches when the position is within a fixed distance
	// of the zone center, whatever the zone's radius.
	KindFixedProximity MatchKind = "fixed_proximity"
)

type MatchMode struct {
	Kind MatchKind
	// DefaultRadiusMeters applies to zones without a radius in KindZoneRadius.
	DefaultRadiusMeters float64
	// ProximityMeters is the threshold for KindFixedProximity.
	ProximityMeters float64
}

func ZoneRadius(defaultRadiusMeters float64) MatchMode {
	return MatchMode{Kind: KindZoneRadius, DefaultRadiusMeters: defaultRadiusMeters}
}

func FixedProximity(distanceMeters float64) MatchMode {
	return MatchMode{Kind: KindFixedProximity, ProximityMeters: distanceMeters}
}

func (m MatchMode) Validate() error {
	switch m.Kind {
	case KindZoneRadius:
		if !finite(m.DefaultRadiusMeters) || m.DefaultRadiusMeters < 0 {
			return fmt.Errorf("%w: default radius %v", ErrInvalidMode, m.DefaultRadiusMeters)
		}
	case KindFixedProximity:
		if !finite(m.ProximityMeters) || m.ProximityMeters <= 0 {
			return fmt.Errorf("%w: proximity %v", ErrInvalidMode, m.ProximityMeters)
		}
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidMode, m.Kind)
	}
	return nil
}

func (m MatchMode) radiusFor(z model.RiskZone) float64 {
	if m.Kind == KindFixedProximity {
		return m.ProximityMeters
	}
	if z.RadiusMeters > 0 {
		return z.RadiusMeters
	}
	return m.DefaultRadiusMeters
}

// ValidateZone reports why a zone cannot take part in matching. A zero radius
// means "unset" and is allowed.
func ValidateZone(z model.RiskZone) error {
	if err := z.Center.Validate(); err != nil {
		return fmt.Errorf("%w %q: %w", ErrInvalidZone, z.ID, err)
	}
	if !finite(z.RadiusMeters) || z.RadiusMeters < 0 {
		return fmt.Errorf("%w %q: radius %v", ErrInvalidZone, z.ID, z.RadiusMeters)
	}
	if !finite(z.RiskScore) || z.RiskScore < 0 || z.RiskScore > 1 {
		return fmt.Errorf("%w %q: risk score %v", ErrInvalidZone, z.ID, z.RiskScore)
	}
	if z.AccidentCount != nil && *z.AccidentCount < 0 {
		return fmt.Errorf("%w %q: accident count %d", ErrInvalidZone, z.ID, *z.AccidentCount)
	}
	return nil
}

// Match returns the zones the position qualifies for, highest risk first and
// closest first among equal scores. Malformed zones are skipped.
func Match(position model.Coordinate, zones []model.RiskZone, mode MatchMode) ([]model.ZoneMatch, error) {
	if err := position.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidPosition, err)
	}
	if err := mode.Validate(); err != nil {
		return nil, err
	}
	out := make([]model.ZoneMatch, 0)
	for _, z := range zones {
		if ValidateZone(z) != nil {
			continue
		}
		dist := DistanceMeters(position, z.Center)
		if dist <= mode.radiusFor(z) {
			out = append(out, model.ZoneMatch{Zone: z, DistanceMeters: dist, IsInside: true})
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Zone.RiskScore != out[j].Zone.RiskScore {
			return out[i].Zone.RiskScore > out[j].Zone.RiskScore
		}
		return out[i].DistanceMeters < out[j].DistanceMeters
	})
	return out, nil
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
