package gunner

import (
	"math"
	"time"

	"github.com/louwxander-cell/Centauri-C2/internal/model"
)

// The gunner wire format: UTF-8 JSON, one message per UDP datagram. The C2
// transmits a single-track snapshot at 10 Hz while engaged; stations report
// status at roughly 1 Hz.

// TrackUpdate is one track as transmitted to gunner stations.
type TrackUpdate struct {
	TrackID      int     `json:"track_id"`
	AzimuthDeg   float64 `json:"azimuth_deg"`
	ElevationDeg float64 `json:"elevation_deg"`
	RangeM       float64 `json:"range_m"`
	VelocityXMPS float64 `json:"velocity_x_mps"`
	VelocityYMPS float64 `json:"velocity_y_mps"`
	VelocityZMPS float64 `json:"velocity_z_mps"`
	SpeedMPS     float64 `json:"speed_mps"`
	HeadingDeg   float64 `json:"heading_deg"`
	Type         string  `json:"type"`
	Confidence   float64 `json:"confidence"`
	Source       string  `json:"source"`
	TrackAgeSec  float64 `json:"track_age_sec"`
	NumUpdates   int     `json:"num_updates"`

	Priority             string `json:"priority"`
	RecommendedEffector  string `json:"recommended_effector"`
	RecommendationReason string `json:"recommendation_reason"`

	AircraftModel  string   `json:"aircraft_model,omitempty"`
	PilotLatitude  *float64 `json:"pilot_latitude,omitempty"`
	PilotLongitude *float64 `json:"pilot_longitude,omitempty"`

	TimestampNanos int64 `json:"timestamp_ns"`
}

// TracksSnapshot is the datagram wrapper: the engaged track plus ownship
// context and system state booleans.
type TracksSnapshot struct {
	Tracks      []TrackUpdate `json:"tracks"`
	RadarOnline bool          `json:"radar_online"`
	RFOnline    bool          `json:"rf_online"`
	TotalTracks int           `json:"total_tracks"`

	OwnshipLat     float64 `json:"ownship_lat"`
	OwnshipLon     float64 `json:"ownship_lon"`
	OwnshipHeading float64 `json:"ownship_heading"`

	TimestampNanos int64 `json:"timestamp_ns"`
}

// StatusMessage is the gunner -> C2 status datagram.
type StatusMessage struct {
	StationID       string  `json:"station_id"`
	CuedTrackID     int     `json:"cued_track_id"` // -1 = none
	VisualLock      bool    `json:"visual_lock"`
	ReadyToFire     bool    `json:"ready_to_fire"`
	RWSAzimuthDeg   float64 `json:"rws_azimuth_deg"`
	RWSElevationDeg float64 `json:"rws_elevation_deg"`
	SelectedWeapon  string  `json:"selected_weapon"`
	RoundsRemaining int     `json:"rounds_remaining"`
	WeaponArmed     bool    `json:"weapon_armed"`
	OperatorID      string  `json:"operator_id"`
	TimestampNanos  int64   `json:"timestamp_ns"`
}

func (s StatusMessage) toModel(lastSeen time.Time) model.GunnerStatus {
	return model.GunnerStatus{
		StationID:       s.StationID,
		CuedTrackID:     s.CuedTrackID,
		VisualLock:      s.VisualLock,
		ReadyToFire:     s.ReadyToFire,
		RWSAzimuthDeg:   s.RWSAzimuthDeg,
		RWSElevationDeg: s.RWSElevationDeg,
		SelectedWeapon:  s.SelectedWeapon,
		RoundsRemaining: s.RoundsRemaining,
		WeaponArmed:     s.WeaponArmed,
		OperatorID:      s.OperatorID,
		TimestampNanos:  s.TimestampNanos,
		LastSeen:        lastSeen,
	}
}

// buildTrackUpdate converts a fused track into its wire form.
func buildTrackUpdate(t model.Track, now time.Time) TrackUpdate {
	speed := math.Sqrt(t.VelocityMPS[0]*t.VelocityMPS[0] +
		t.VelocityMPS[1]*t.VelocityMPS[1] +
		t.VelocityMPS[2]*t.VelocityMPS[2])
	heading := 0.0
	if t.HasVelocity && (t.VelocityMPS[0] != 0 || t.VelocityMPS[1] != 0) {
		heading = model.NormalizeAzimuth(math.Atan2(t.VelocityMPS[1], t.VelocityMPS[0]) * 180 / math.Pi)
	}

	effector, reason := RecommendEffector(t.RangeM, t.RangeKnown)

	u := TrackUpdate{
		TrackID:              t.ID,
		AzimuthDeg:           t.AzimuthDeg,
		ElevationDeg:         t.ElevationDeg,
		RangeM:               t.RangeM,
		VelocityXMPS:         t.VelocityMPS[0],
		VelocityYMPS:         t.VelocityMPS[1],
		VelocityZMPS:         t.VelocityMPS[2],
		SpeedMPS:             speed,
		HeadingDeg:           heading,
		Type:                 string(t.Type),
		Confidence:           t.Confidence,
		Source:               string(t.Source),
		TrackAgeSec:          t.Age(now).Seconds(),
		NumUpdates:           t.NumUpdates,
		Priority:             priorityName(t),
		RecommendedEffector:  effector,
		RecommendationReason: reason,
		AircraftModel:        t.AircraftModel,
		TimestampNanos:       now.UnixNano(),
	}
	if t.HasPilotPos {
		lat, lon := t.PilotLat, t.PilotLon
		u.PilotLatitude = &lat
		u.PilotLongitude = &lon
	}
	return u
}

func priorityName(t model.Track) string {
	if !t.RangeKnown {
		return "LOW"
	}
	switch {
	case t.RangeM < 150:
		return "CRITICAL"
	case t.RangeM < 400:
		return "HIGH"
	case t.RangeM < 800:
		return "MEDIUM"
	default:
		return "LOW"
	}
}
