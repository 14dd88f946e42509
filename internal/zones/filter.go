package zones

import (
	"sort"
	"strings"

	"georisk/internal/config"
	"georisk/internal/model"
	"georisk/internal/normalize"
)

func FilterFromConfig(cfg config.ZonesConfig) Filter {
	f := Filter{
		MinAccidentCount: cfg.MinAccidentCount,
		MaxZones:         cfg.MaxZones,
		SortBy:           cfg.SortBy,
	}
	if cfg.MinRiskLevel != "" {
		f.MinRiskLevel = normalize.ParseRiskLevel(cfg.MinRiskLevel)
	}
	return f
}

// ApplyFilter returns the zones that pass f, ordered by f.SortBy
// ("risk" or "accidents"; anything else keeps service order) and capped at
// f.MaxZones. The input slice is not modified.
func ApplyFilter(in []model.RiskZone, f Filter) []model.RiskZone {
	out := make([]model.RiskZone, 0, len(in))
	for _, z := range in {
		if f.MinRiskLevel != "" && z.Level().Rank() < f.MinRiskLevel.Rank() {
			continue
		}
		if f.MinAccidentCount > 0 && accidents(z) < f.MinAccidentCount {
			continue
		}
		out = append(out, z)
	}
	switch strings.ToLower(f.SortBy) {
	case "risk", "risk_score":
		sort.SliceStable(out, func(i, j int) bool { return out[i].RiskScore > out[j].RiskScore })
	case "accidents", "accident_count":
		sort.SliceStable(out, func(i, j int) bool { return accidents(out[i]) > accidents(out[j]) })
	}
	if f.MaxZones > 0 && len(out) > f.MaxZones {
		out = out[:f.MaxZones]
	}
	return out
}

func accidents(z model.RiskZone) int {
	if z.AccidentCount == nil {
		return 0
	}
	return *z.AccidentCount
}
