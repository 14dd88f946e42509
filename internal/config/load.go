package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvConfigPath overrides the -config flag when set.
const EnvConfigPath = "GEORISK_CONFIG"

var ErrEmptyConfig = errors.New("config file is empty")

// Load reads a YAML or JSON file over DefaultConfig, so a partial file only
// changes the keys it names. The result is validated.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg, err := decode(data, isJSONPath(path))
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}
	return cfg, nil
}

func decode(data []byte, asJSON bool) (*Config, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, ErrEmptyConfig
	}
	cfg := DefaultConfig()
	var err error
	if asJSON || data[0] == '{' {
		err = json.Unmarshal(data, cfg)
	} else {
		err = yaml.Unmarshal(data, cfg)
	}
	if err != nil {
		return nil, err
	}
	fillZeroes(cfg)
	return cfg, Validate(cfg)
}

// Save writes cfg in the format implied by the file extension, via a temp file
// in the same directory so a watcher never sees a half-written file.
func Save(path string, cfg *Config) error {
	if path == "" || cfg == nil {
		return errors.New("config path or config is empty")
	}
	var (
		data []byte
		err  error
	)
	if isJSONPath(path) {
		data, err = json.MarshalIndent(cfg, "", "  ")
	} else {
		data, err = yaml.Marshal(cfg)
	}
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".georisk-*.tmp")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

func isJSONPath(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".json")
}

// fillZeroes restores defaults for keys a file set to zero where zero is never
// meaningful.
func fillZeroes(cfg *Config) {
	def := DefaultConfig()
	if cfg.Monitor.MatchMode == "" {
		cfg.Monitor.MatchMode = def.Monitor.MatchMode
	}
	if cfg.Monitor.DefaultRadiusM <= 0 {
		cfg.Monitor.DefaultRadiusM = def.Monitor.DefaultRadiusM
	}
	if cfg.Monitor.ProximityRadiusM <= 0 {
		cfg.Monitor.ProximityRadiusM = def.Monitor.ProximityRadiusM
	}
	if cfg.Alerts.StoreLimit <= 0 {
		cfg.Alerts.StoreLimit = def.Alerts.StoreLimit
	}
	if cfg.Status.StoreLimit <= 0 {
		cfg.Status.StoreLimit = def.Status.StoreLimit
	}
	if cfg.Ingest.ChannelBuffer <= 0 {
		cfg.Ingest.ChannelBuffer = def.Ingest.ChannelBuffer
	}
	if cfg.Ingest.Parser.Timezone == "" {
		cfg.Ingest.Parser.Timezone = def.Ingest.Parser.Timezone
	}
	if cfg.Ingest.Parser.DefaultDeviceID == "" {
		cfg.Ingest.Parser.DefaultDeviceID = def.Ingest.Parser.DefaultDeviceID
	}
	if cfg.Zones.Timeout <= 0 {
		cfg.Zones.Timeout = 10 * time.Second
	}
}

// ResolvePath picks the config path: the environment override first, then
// flagValue, made absolute against the working directory.
func ResolvePath(flagValue string) string {
	path := flagValue
	if env := strings.TrimSpace(os.Getenv(EnvConfigPath)); env != "" {
		path = env
	}
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	if abs, err := filepath.Abs(path); err == nil {
		return abs
	}
	return path
}
