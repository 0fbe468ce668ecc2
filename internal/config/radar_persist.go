package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// RadarConfig is the persisted radar configuration: the device's IPv4
// address, search/track FOV bounds, range bounds, and platform orientation.
// It is written atomically to a single JSON file on every successful
// configure, and reloaded on startup.
type RadarConfig struct {
	IPv4 string `json:"ipv4"`

	SearchAzFOVMinDeg float64 `json:"search_az_fov_min_deg"`
	SearchAzFOVMaxDeg float64 `json:"search_az_fov_max_deg"`
	SearchElFOVMinDeg float64 `json:"search_el_fov_min_deg"`
	SearchElFOVMaxDeg float64 `json:"search_el_fov_max_deg"`

	TrackAzFOVMinDeg float64 `json:"track_az_fov_min_deg"`
	TrackAzFOVMaxDeg float64 `json:"track_az_fov_max_deg"`
	TrackElFOVMinDeg float64 `json:"track_el_fov_min_deg"`
	TrackElFOVMaxDeg float64 `json:"track_el_fov_max_deg"`

	RangeMinM float64 `json:"range_min_m"`
	RangeMaxM float64 `json:"range_max_m"`

	PlatformYawDeg   float64 `json:"platform_yaw_deg"`
	PlatformPitchDeg float64 `json:"platform_pitch_deg"`
	PlatformRollDeg  float64 `json:"platform_roll_deg"`
}

// DefaultRadarConfig returns conservative defaults supplied when the
// persisted file is missing.
func DefaultRadarConfig() RadarConfig {
	return RadarConfig{
		IPv4:              "192.168.1.50",
		SearchAzFOVMinDeg: -60,
		SearchAzFOVMaxDeg: 60,
		SearchElFOVMinDeg: -20,
		SearchElFOVMaxDeg: 20,
		TrackAzFOVMinDeg:  -30,
		TrackAzFOVMaxDeg:  30,
		TrackElFOVMinDeg:  -10,
		TrackElFOVMaxDeg:  10,
		RangeMinM:         0,
		RangeMaxM:         5000,
	}
}

// LoadRadarConfig loads RadarConfig from path, returning defaults if the
// file does not exist.
func LoadRadarConfig(path string) (RadarConfig, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return DefaultRadarConfig(), nil
	}
	if err != nil {
		return RadarConfig{}, fmt.Errorf("config: read radar config %s: %w", path, err)
	}
	var cfg RadarConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return RadarConfig{}, fmt.Errorf("config: parse radar config %s: %w", path, err)
	}
	return cfg, nil
}

// SaveRadarConfig writes cfg to path atomically: marshal to a temp file in
// the same directory, then rename over the destination, so a reader never
// observes a partially written file.
func SaveRadarConfig(path string, cfg RadarConfig) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("config: marshal radar config: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("config: create config dir %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".radar_config-*.json.tmp")
	if err != nil {
		return fmt.Errorf("config: create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) // no-op once renamed

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("config: write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("config: close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("config: rename into place: %w", err)
	}
	return nil
}
