// Package model holds the canonical records that flow between drivers, the
// fusion engine, the engagement controller, and the gunner broadcast
// service. Ownership: the fusion engine exclusively owns the Track map;
// drivers own their own connection state; the engagement controller owns
// EngagementState; the gunner service owns the station registry.
package model

import (
	"fmt"
	"math"
	"time"
)

// SensorSource identifies which physical sensor produced a Measurement, and
// which sensors have contributed to a Track.
type SensorSource string

const (
	SourceRadar       SensorSource = "RADAR"
	SourceRFPrecision SensorSource = "RF_PRECISION"
	SourceRFSector    SensorSource = "RF_SECTOR"
	SourceRF          SensorSource = "RF"    // track-level: any RF contribution
	SourceFused       SensorSource = "FUSED" // track-level: radar + RF precision
)

// TargetType classifies what a track is believed to be.
type TargetType string

const (
	TypeUAV     TargetType = "UAV"
	TypeBird    TargetType = "BIRD"
	TypeUnknown TargetType = "UNKNOWN"
	TypeClutter TargetType = "CLUTTER"
)

// Measurement is the normalized record emitted by a driver and consumed by
// the fusion engine. Azimuth and elevation are always in the vehicle body
// frame; drivers are responsible for applying heading rotation when upstream
// data is in true-north frame.
type Measurement struct {
	SensorSource SensorSource
	Timestamp    time.Time // monotonic-capable wall clock, driver-stamped

	AzimuthDeg   float64 // [0, 360)
	ElevationDeg float64 // [-90, 90]
	RangeM       float64
	RangeKnown   bool // false for RF_SECTOR: range is unknown, not zero

	HasVelocity bool
	VelocityMPS [3]float64

	Confidence float64 // [0, 1]

	// Radar-specific payload
	RCS              float64
	ProbabilityUAV   float64
	ProbabilityOther float64

	// RF-specific payload
	AircraftModel  string
	AircraftSerial string
	PilotLat       float64
	PilotLon       float64
	HasPilotPos    bool
	RFFrequencyHz  float64
	RFPowerDBm     float64
	SectorIndex    int // 1-based, RF_SECTOR only

	Type           TargetType
	Classification string // optional finer label from an external classifier

	// SensorTrackHint is the originating sensor's own internal track/detection
	// id (radar track id, or a hash of the RF detectionId), when the sensor
	// exposes one. Fusion may use it to prefer re-associating with the same
	// fused track across successive measurements from the same sensor.
	SensorTrackHint    int
	HasSensorTrackHint bool
}

// NewMeasurement constructs a Measurement, normalizing azimuth into [0,360).
// It returns an error if elevation is outside [-90,90]. Range and confidence
// are set through WithRange (which rejects negative values) and
// WithConfidence (which clamps into [0,1]).
func NewMeasurement(source SensorSource, ts time.Time, az, el float64) (*Measurement, error) {
	m := &Measurement{
		SensorSource: source,
		Timestamp:    ts,
		AzimuthDeg:   NormalizeAzimuth(az),
		ElevationDeg: el,
	}
	if el < -90 || el > 90 {
		return nil, fmt.Errorf("model: elevation %.2f out of range [-90,90]", el)
	}
	return m, nil
}

// WithRange sets a known slant range, validating it is non-negative.
func (m *Measurement) WithRange(rangeM float64) error {
	if rangeM < 0 {
		return fmt.Errorf("model: range %.2f must be >= 0", rangeM)
	}
	m.RangeM = rangeM
	m.RangeKnown = true
	return nil
}

// WithConfidence sets confidence, clamping into [0,1].
func (m *Measurement) WithConfidence(c float64) {
	m.Confidence = clamp01(c)
}

// NormalizeAzimuth folds an azimuth of any magnitude into [0, 360).
func NormalizeAzimuth(az float64) float64 {
	az = math.Mod(az, 360)
	if az < 0 {
		az += 360
	}
	return az
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// TailSample is one historical position sample in a Track's tail.
type TailSample struct {
	AzimuthDeg   float64
	ElevationDeg float64
	RangeM       float64
	Timestamp    time.Time
}

// Track is the fusion engine's per-object state. Invariants: a track must
// have received a measurement within the staleness window or it is
// evicted (enforced by the fusion engine, not here); the tail is
// monotonically non-decreasing in timestamp; FirstSeen <= LastUpdate.
type Track struct {
	ID int

	AzimuthDeg   float64
	ElevationDeg float64
	RangeM       float64
	RangeKnown   bool

	HasVelocity bool
	VelocityMPS [3]float64

	RangeRateMPS   float64 // smoothed; negative = approaching
	RangeRateValid bool    // false until two range samples 50ms apart exist
	PrevRangeM     float64
	PrevRangeKnown bool
	PrevTimestamp  time.Time

	// which sensors have contributed; Source is derived from these
	SeenRadar       bool
	SeenRFPrecision bool
	SeenRFSector    bool

	FirstSeen  time.Time
	LastUpdate time.Time

	Source         SensorSource
	Type           TargetType
	Classification string
	Confidence     float64

	AircraftModel string
	PilotLat      float64
	PilotLon      float64
	HasPilotPos   bool

	Tail []TailSample

	ThreatScore     float64
	PrevThreatScore float64

	NumUpdates int
}

// AppendTail appends a sample, evicting anything older than maxAge and
// capping the slice at maxSamples (oldest dropped first).
func (t *Track) AppendTail(sample TailSample, maxAge time.Duration, maxSamples int) {
	t.Tail = append(t.Tail, sample)
	cutoff := sample.Timestamp.Add(-maxAge)
	i := 0
	for ; i < len(t.Tail); i++ {
		if !t.Tail[i].Timestamp.Before(cutoff) {
			break
		}
	}
	t.Tail = t.Tail[i:]
	if len(t.Tail) > maxSamples {
		t.Tail = t.Tail[len(t.Tail)-maxSamples:]
	}
}

// Age returns how long this track has existed as of now.
func (t *Track) Age(now time.Time) time.Duration {
	return now.Sub(t.FirstSeen)
}

// OwnShip is the platform's own navigation state, published by the GNSS
// driver and used to rotate true-north-framed measurements into body frame.
type OwnShip struct {
	LatDeg         float64
	LonDeg         float64
	AltitudeM      float64
	HeadingDeg     float64 // true heading
	GroundSpeedMPS float64
	FixQuality     int  // 0=none,1=standalone,2=DGPS,4=RTK fixed,5=RTK float
	HeadingValid   bool // dual-antenna heading-valid flag
	Timestamp      time.Time
}

// Fixed reports whether OwnShip has a usable position fix.
func (o OwnShip) Fixed() bool {
	return o.FixQuality > 0
}

// EngagementPhase is the engagement controller's state enum.
type EngagementPhase string

const (
	PhaseIdle    EngagementPhase = "idle"
	PhaseEngaged EngagementPhase = "engaged"
)

// EngagementState is {Idle, Engaged(track_id, operator_id, engaged_at)} plus
// the remembered highest-priority id used by the hysteresis rule.
type EngagementState struct {
	Phase      EngagementPhase
	TrackID    int
	OperatorID string
	EngagedAt  time.Time

	HighestPriorityID  int
	HasHighestPriority bool
}

// GunnerStatus is received from a gunner station, keyed by StationID.
type GunnerStatus struct {
	StationID       string
	CuedTrackID     int // -1 if none
	VisualLock      bool
	ReadyToFire     bool
	RWSAzimuthDeg   float64
	RWSElevationDeg float64
	SelectedWeapon  string
	RoundsRemaining int
	WeaponArmed     bool
	OperatorID      string
	TimestampNanos  int64
	LastSeen        time.Time
}

// MeasurementSink receives normalized measurements from a driver. The fusion
// engine's bounded queue implements it; drivers never hold a reference to the
// engine itself.
type MeasurementSink interface {
	Push(*Measurement)
}

// EventKind tags an Event for the journal and for UI log lines.
type EventKind string

const (
	EventTrackLost         EventKind = "track_lost"
	EventStationRegistered EventKind = "station_registered"
	EventSensorHealth      EventKind = "sensor_health"
	EventEngaged           EventKind = "engaged"
	EventDisengaged        EventKind = "disengaged"
	EventDriverError       EventKind = "driver_error"
)

// Event is a fusion/engagement/gunner occurrence the orchestration bridge
// forwards to its sinks (journal, log, future mission recorder).
type Event struct {
	Kind      EventKind
	Timestamp time.Time
	TrackID   int
	StationID string
	Sensor    string
	Detail    string
}

// EventSink consumes events. Implementations must not block: the fusion and
// engagement paths call this inline.
type EventSink interface {
	Record(Event)
}

// SensorHealth is the tri-plus-one-state indicator for a sensor link.
type SensorHealth string

const (
	HealthOffline SensorHealth = "OFFLINE"
	HealthStandby SensorHealth = "STANDBY"
	HealthIdle    SensorHealth = "IDLE"
	HealthOnline  SensorHealth = "ONLINE"
)
