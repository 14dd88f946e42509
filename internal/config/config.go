package config

import "time"

const (
	MatchModeZoneRadius     = "zone_radius"
	MatchModeFixedProximity = "fixed_proximity"
)

type Config struct {
	LogLevel string        `json:"log_level" yaml:"log_level"`
	Ingest   IngestConfig  `json:"ingest" yaml:"ingest"`
	Monitor  MonitorConfig `json:"monitor" yaml:"monitor"`
	Zones    ZonesConfig   `json:"zones" yaml:"zones"`
	Notify   NotifyConfig  `json:"notify" yaml:"notify"`
	API      APIConfig     `json:"api" yaml:"api"`
	Storage  StorageConfig `json:"storage" yaml:"storage"`
	Alerts   AlertsConfig  `json:"alerts" yaml:"alerts"`
	Status   StatusConfig  `json:"status" yaml:"status"`
}

type IngestConfig struct {
	ChannelBuffer int             `json:"channel_buffer" yaml:"channel_buffer"`
	REST          RESTConfig      `json:"rest" yaml:"rest"`
	TCPStream     TCPStreamConfig `json:"tcp_stream" yaml:"tcp_stream"`
	FileTail      FileTailConfig  `json:"file_tail" yaml:"file_tail"`
	Kafka         KafkaConfig     `json:"kafka" yaml:"kafka"`
	Parser        ParserConfig    `json:"parser" yaml:"parser"`
}

type RESTConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Addr    string `json:"addr" yaml:"addr"`
}

type TCPStreamConfig struct {
	Enabled     bool          `json:"enabled" yaml:"enabled"`
	Addr        string        `json:"addr" yaml:"addr"`
	IdleTimeout time.Duration `json:"idle_timeout" yaml:"idle_timeout"`
}

type FileTailConfig struct {
	Enabled    bool     `json:"enabled" yaml:"enabled"`
	StartAtEnd bool     `json:"start_at_end" yaml:"start_at_end"`
	Files      []string `json:"files" yaml:"files"`
}

type KafkaConfig struct {
	Enabled bool     `json:"enabled" yaml:"enabled"`
	Brokers []string `json:"brokers" yaml:"brokers"`
	Topic   string   `json:"topic" yaml:"topic"`
	GroupID string   `json:"group_id" yaml:"group_id"`
	// StartOffset is "first" or "last"; it applies only when the group has no
	// committed offset.
	StartOffset string `json:"start_offset" yaml:"start_offset"`
}

type ParserConfig struct {
	Timezone        string `json:"timezone" yaml:"timezone"`
	DefaultDeviceID string `json:"default_device_id" yaml:"default_device_id"`
}

// MonitorConfig carries the user preferences and the host-side sample handling.
type MonitorConfig struct {
	NotificationsEnabled bool          `json:"notifications_enabled" yaml:"notifications_enabled"`
	MatchMode            string        `json:"match_mode" yaml:"match_mode"`
	ProximityRadiusM     float64       `json:"proximity_radius_m" yaml:"proximity_radius_m"`
	DefaultRadiusM       float64       `json:"default_radius_m" yaml:"default_radius_m"`
	AlertCooldown        time.Duration `json:"alert_cooldown" yaml:"alert_cooldown"`
	PollInterval         time.Duration `json:"poll_interval" yaml:"poll_interval"`
	DedupeWindow         time.Duration `json:"dedupe_window" yaml:"dedupe_window"`
	MaxClockSkew         time.Duration `json:"max_clock_skew" yaml:"max_clock_skew"`
	MaxFutureSkew        time.Duration `json:"max_future_skew" yaml:"max_future_skew"`
	MaxAccuracyM         float64       `json:"max_accuracy_m" yaml:"max_accuracy_m"`
}

type ZonesConfig struct {
	URL              string        `json:"url" yaml:"url"`
	Timeout          time.Duration `json:"timeout" yaml:"timeout"`
	RefreshInterval  time.Duration `json:"refresh_interval" yaml:"refresh_interval"`
	MinRiskLevel     string        `json:"min_risk_level" yaml:"min_risk_level"`
	MinAccidentCount int           `json:"min_accident_count" yaml:"min_accident_count"`
	MaxZones         int           `json:"max_zones" yaml:"max_zones"`
	SortBy           string        `json:"sort_by" yaml:"sort_by"`
	FallbackFile     string        `json:"fallback_file" yaml:"fallback_file"`
	DemoZones        bool          `json:"demo_zones" yaml:"demo_zones"`
	UserAge          int           `json:"user_age" yaml:"user_age"`
}

type NotifyConfig struct {
	Log bool `json:"log" yaml:"log"`
	// MinLevel is low, medium or high. Alerts below it go to history only.
	MinLevel string            `json:"min_level" yaml:"min_level"`
	Kafka    KafkaWriterConfig `json:"kafka" yaml:"kafka"`
}

type KafkaWriterConfig struct {
	Enabled bool     `json:"enabled" yaml:"enabled"`
	Brokers []string `json:"brokers" yaml:"brokers"`
	Topic   string   `json:"topic" yaml:"topic"`
}

type APIConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Addr    string `json:"addr" yaml:"addr"`
}

type StorageConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Driver  string `json:"driver" yaml:"driver"`
	DSN     string `json:"dsn" yaml:"dsn"`
}

type AlertsConfig struct {
	StoreLimit int `json:"store_limit" yaml:"store_limit"`
}

type StatusConfig struct {
	StoreLimit int `json:"store_limit" yaml:"store_limit"`
}

func DefaultConfig() *Config {
	return &Config{
		LogLevel: "info",
		Ingest: IngestConfig{
			ChannelBuffer: 1000,
			REST:          RESTConfig{Enabled: true, Addr: ":8080"},
			TCPStream:     TCPStreamConfig{Enabled: false, Addr: ":9000", IdleTimeout: 5 * time.Minute},
			FileTail:      FileTailConfig{Enabled: false, StartAtEnd: true},
			Kafka:         KafkaConfig{Enabled: false},
			Parser:        ParserConfig{Timezone: "UTC", DefaultDeviceID: "default"},
		},
		Monitor: MonitorConfig{
			NotificationsEnabled: true,
			MatchMode:            MatchModeZoneRadius,
			ProximityRadiusM:     200,
			DefaultRadiusM:       150,
			AlertCooldown:        3 * time.Minute,
			PollInterval:         5 * time.Minute,
			DedupeWindow:         2 * time.Second,
			MaxClockSkew:         10 * time.Minute,
			MaxFutureSkew:        30 * time.Second,
		},
		Zones: ZonesConfig{
			Timeout:         10 * time.Second,
			RefreshInterval: 5 * time.Minute,
			MaxZones:        100,
			SortBy:          "risk",
			DemoZones:       true,
			UserAge:         25,
		},
		Notify:  NotifyConfig{Log: true, MinLevel: "medium"},
		API:     APIConfig{Enabled: true, Addr: ":8081"},
		Storage: StorageConfig{Enabled: false, Driver: "sqlite", DSN: "file:georisk.db?_pragma=busy_timeout(5000)"},
		Alerts:  AlertsConfig{StoreLimit: 1000},
		Status:  StatusConfig{StoreLimit: 5000},
	}
}
