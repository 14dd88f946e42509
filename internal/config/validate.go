package config

import (
	"errors"
	"fmt"
)

// Validate reports every problem in cfg at once.
func Validate(cfg *Config) error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	check(!cfg.API.Enabled || cfg.API.Addr != "", "api.addr required when api is enabled")
	check(!cfg.Ingest.REST.Enabled || cfg.Ingest.REST.Addr != "", "ingest.rest.addr required when rest ingest is enabled")
	check(!cfg.Ingest.TCPStream.Enabled || cfg.Ingest.TCPStream.Addr != "", "ingest.tcp_stream.addr required when tcp ingest is enabled")
	check(cfg.Ingest.TCPStream.IdleTimeout >= 0, "ingest.tcp_stream.idle_timeout must be >= 0")
	check(!cfg.Ingest.FileTail.Enabled || len(cfg.Ingest.FileTail.Files) > 0, "ingest.file_tail.files required when file tail is enabled")

	if k := cfg.Ingest.Kafka; k.Enabled {
		check(len(k.Brokers) > 0 && k.Topic != "" && k.GroupID != "", "ingest.kafka requires brokers, topic and group_id")
		check(k.StartOffset == "" || k.StartOffset == "first" || k.StartOffset == "last",
			"ingest.kafka.start_offset must be first or last, got %q", k.StartOffset)
	}
	switch cfg.Notify.MinLevel {
	case "", "low", "medium", "high":
	default:
		check(false, "notify.min_level must be low, medium or high, got %q", cfg.Notify.MinLevel)
	}
	if k := cfg.Notify.Kafka; k.Enabled {
		check(len(k.Brokers) > 0 && k.Topic != "", "notify.kafka requires brokers and topic")
	}

	m := cfg.Monitor
	check(m.MatchMode == MatchModeZoneRadius || m.MatchMode == MatchModeFixedProximity,
		"monitor.match_mode must be %q or %q, got %q", MatchModeZoneRadius, MatchModeFixedProximity, m.MatchMode)
	check(m.DefaultRadiusM > 0, "monitor.default_radius_m must be > 0")
	check(m.ProximityRadiusM > 0, "monitor.proximity_radius_m must be > 0")
	check(m.AlertCooldown >= 0, "monitor.alert_cooldown must be >= 0")
	check(m.PollInterval >= 0, "monitor.poll_interval must be >= 0: %s", m.PollInterval)
	check(m.MaxAccuracyM >= 0, "monitor.max_accuracy_m must be >= 0")

	check(cfg.Zones.URL != "" || cfg.Zones.FallbackFile != "" || cfg.Zones.DemoZones,
		"zones needs a url, a fallback_file or demo_zones")
	check(cfg.Zones.MaxZones >= 0, "zones.max_zones must be >= 0")

	switch cfg.Storage.Driver {
	case "", "sqlite", "postgres", "postgresql":
	default:
		check(!cfg.Storage.Enabled, "storage.driver %q is not supported", cfg.Storage.Driver)
	}
	return errors.Join(errs...)
}
