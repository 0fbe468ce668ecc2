// Package config loads the tuning/sensor-enablement JSON configuration and
// persists radar configuration. Pointer fields with omitempty keep a
// partial file safe to load; accessors fall back to sane defaults for
// anything omitted.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// DefaultConfigPath is where the root tuning/sensor config is loaded from
// unless overridden on the command line.
const DefaultConfigPath = "config/centauri.json"

// RadarNetwork describes how to reach the radar's command port.
type RadarNetwork struct {
	Enabled     *bool   `json:"enabled,omitempty"`
	Host        *string `json:"host,omitempty"`
	CommandPort *int    `json:"command_port,omitempty"`
}

// RFNetwork describes the RF sensor's TLS endpoint and client certificates.
type RFNetwork struct {
	Enabled    *bool   `json:"enabled,omitempty"`
	Host       *string `json:"host,omitempty"`
	Port       *int    `json:"port,omitempty"`
	ClientCert *string `json:"client_cert,omitempty"`
	ClientKey  *string `json:"client_key,omitempty"`
	CACert     *string `json:"ca_cert,omitempty"`
}

// GPSConfig describes the GNSS serial link.
type GPSConfig struct {
	Enabled   *bool   `json:"enabled,omitempty"`
	Port      *string `json:"port,omitempty"`
	PortLinux *string `json:"port_linux,omitempty"`
	BaudRate  *int    `json:"baudrate,omitempty"`

	// BaselineMeters is the installed dual-antenna separation; HPR headings
	// only count as dual-antenna valid once a sentence reports a baseline
	// close to it. Omitted or zero accepts any reported baseline.
	BaselineMeters *float64 `json:"baseline_meters,omitempty"`
}

// Thresholds holds the tunable numeric thresholds: radar UAV/BIRD
// classification cutoffs, fusion gating distances, and aging/staleness
// windows. Kept as plain fields (not pointers) since these are always
// present with repo-wide defaults.
type Thresholds struct {
	RadarUAVProbability float64 `json:"radar_uav_probability"`
	RadarBirdUAVMax     float64 `json:"radar_bird_uav_max"`
	RadarBirdOtherMin   float64 `json:"radar_bird_other_min"`

	AssociationDeltaAzDeg  float64 `json:"association_delta_az_deg"`
	AssociationDeltaRangeM float64 `json:"association_delta_range_m"`

	TailWindowSeconds float64 `json:"tail_window_seconds"`
	TailMaxSamples    int     `json:"tail_max_samples"`

	TrackStaleSeconds    float64 `json:"track_stale_seconds"`
	GunnerStaleSeconds   float64 `json:"gunner_stale_seconds"`
	GPSFixTimeoutSeconds float64 `json:"gps_fix_timeout_seconds"`

	HysteresisBonus float64 `json:"hysteresis_bonus"`
}

// DefaultThresholds returns the stock tuning constants.
func DefaultThresholds() Thresholds {
	return Thresholds{
		RadarUAVProbability:    0.7,
		RadarBirdUAVMax:        0.3,
		RadarBirdOtherMin:      0.7,
		AssociationDeltaAzDeg:  10,
		AssociationDeltaRangeM: 200,
		TailWindowSeconds:      20,
		TailMaxSamples:         100,
		TrackStaleSeconds:      5,
		GunnerStaleSeconds:     10,
		GPSFixTimeoutSeconds:   5,
		HysteresisBonus:        0.03,
	}
}

// Config is the root JSON configuration document: network.radar.*,
// network.rf.*, gps.*, plus thresholds.
type Config struct {
	Network struct {
		Radar RadarNetwork `json:"radar"`
		RF    RFNetwork    `json:"rf"`
	} `json:"network"`
	GPS        GPSConfig  `json:"gps"`
	Thresholds Thresholds `json:"thresholds"`
}

const maxConfigFileSize = 1 << 20 // 1MB

// Load reads and validates a Config from path. Missing files yield a
// Config with repo-wide defaults for Thresholds and every sensor Offline.
func Load(path string) (*Config, error) {
	cfg := &Config{Thresholds: DefaultThresholds()}

	cleanPath := filepath.Clean(path)
	info, err := os.Stat(cleanPath)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: stat %s: %w", cleanPath, err)
	}
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config: file must have .json extension, got %q", ext)
	}
	if info.Size() > maxConfigFileSize {
		return nil, fmt.Errorf("config: file too large: %d bytes (max %d)", info.Size(), maxConfigFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", cleanPath, err)
	}

	// Thresholds were pre-seeded with defaults above; unmarshal on top so a
	// partial thresholds block in the file only overrides the keys present.
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", cleanPath, err)
	}
	return cfg, nil
}

func boolOr(p *bool, def bool) bool {
	if p == nil {
		return def
	}
	return *p
}

func stringOr(p *string, def string) string {
	if p == nil || *p == "" {
		return def
	}
	return *p
}

func intOr(p *int, def int) int {
	if p == nil || *p == 0 {
		return def
	}
	return *p
}

func floatOr(p *float64, def float64) float64 {
	if p == nil || *p == 0 {
		return def
	}
	return *p
}

// RadarEnabled reports whether the radar sensor is enabled. A sensor absent
// from the config file or with enabled=false is held Offline.
func (c *Config) RadarEnabled() bool { return boolOr(c.Network.Radar.Enabled, false) }

// RadarHost returns the configured radar host, defaulting to localhost.
func (c *Config) RadarHost() string { return stringOr(c.Network.Radar.Host, "127.0.0.1") }

// RadarCommandPort returns the configured radar TCP command port.
func (c *Config) RadarCommandPort() int { return intOr(c.Network.Radar.CommandPort, 9001) }

// RFEnabled reports whether the RF sensor is enabled.
func (c *Config) RFEnabled() bool { return boolOr(c.Network.RF.Enabled, false) }

// RFHost returns the configured RF sensor TLS host.
func (c *Config) RFHost() string { return stringOr(c.Network.RF.Host, "127.0.0.1") }

// RFPort returns the configured RF sensor TLS port.
func (c *Config) RFPort() int { return intOr(c.Network.RF.Port, 8443) }

// GPSEnabled reports whether the GNSS receiver is enabled.
func (c *Config) GPSEnabled() bool { return boolOr(c.GPS.Enabled, false) }

// GPSBaudRate returns the configured GNSS serial baud rate.
func (c *Config) GPSBaudRate() int { return intOr(c.GPS.BaudRate, 115200) }

// GPSBaselineMeters returns the expected dual-antenna baseline, or 0 to
// accept any reported baseline.
func (c *Config) GPSBaselineMeters() float64 { return floatOr(c.GPS.BaselineMeters, 0) }
