package rfsensor

import (
	"hash/fnv"
	"time"

	"github.com/louwxander-cell/Centauri-C2/internal/model"
)

// detectionPublication is the outer shape of each newline-delimited JSON
// object the sensor sends.
type detectionPublication struct {
	DetectionPublication *detectionSets `json:"DetectionPublication"`
}

type detectionSets struct {
	OmniDetections   []detection `json:"omniDetections"`
	SectorDetections []detection `json:"sectorDetections"`
}

// detection carries both the precision and sector shapes; precision is
// recognized by the presence of aircraft coordinates.
type detection struct {
	DetectionID    string `json:"detectionId"`
	DetectionType  string `json:"detectionType"`
	DetectionLabel string `json:"detectionLabel"`

	Sector      int     `json:"sector"`
	PowerDBm    float64 `json:"power"`
	FrequencyHz float64 `json:"frequency"`

	AircraftLatitude  *float64 `json:"aircraftLatitude,omitempty"`
	AircraftLongitude *float64 `json:"aircraftLongitude,omitempty"`
	AircraftAltitude  *float64 `json:"aircraftAltitude,omitempty"`
	PilotLatitude     *float64 `json:"pilotLatitude,omitempty"`
	PilotLongitude    *float64 `json:"pilotLongitude,omitempty"`
	AircraftModel     string   `json:"aircraftModel,omitempty"`
	Serial            string   `json:"serial,omitempty"`
}

func (d detection) precision() bool {
	return d.AircraftLatitude != nil && d.AircraftLongitude != nil
}

// trackIDBase offsets RF-derived ids into a private range so they can never
// collide with the radar's small integer track ids.
const trackIDBase = 1 << 24

// stableID derives a deterministic 32-bit track id from the sensor's string
// detectionId, offset into the private RF id range.
func stableID(detectionID string) int {
	h := fnv.New32a()
	h.Write([]byte(detectionID))
	return trackIDBase + int(h.Sum32()&0x00FFFFFF)
}

// Confidence blends a per-mode base with a signal-power factor. Power is
// reported in dBm; anything at or above -40 dBm counts as full strength and
// the factor decays linearly down to zero at -100 dBm.
const (
	basePrecisionConfidence = 0.9
	baseSectorConfidence    = 0.7
)

func powerFactor(powerDBm float64) float64 {
	f := (powerDBm + 100) / 60
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}

func blendConfidence(base, powerDBm float64) float64 {
	return base * (0.8 + 0.2*powerFactor(powerDBm))
}

// toMeasurement converts one detection into a canonical Measurement in the
// vehicle body frame. Precision detections require a valid ownship fix to
// resolve geometry; without one the detection is dropped (nil, nil).
func toMeasurement(d detection, own model.OwnShip, haveOwn bool, now time.Time) (*model.Measurement, error) {
	if d.precision() {
		if !haveOwn || !own.Fixed() {
			return nil, nil
		}
		alt := own.AltitudeM
		if d.AircraftAltitude != nil {
			alt = *d.AircraftAltitude
		}
		az, el, rng := bodyFrame(own, *d.AircraftLatitude, *d.AircraftLongitude, alt)

		m, err := model.NewMeasurement(model.SourceRFPrecision, now, az, el)
		if err != nil {
			return nil, err
		}
		if err := m.WithRange(rng); err != nil {
			return nil, err
		}
		m.WithConfidence(blendConfidence(basePrecisionConfidence, d.PowerDBm))
		m.Type = model.TypeUAV
		m.Classification = d.DetectionLabel
		m.AircraftModel = d.AircraftModel
		m.AircraftSerial = d.Serial
		m.RFFrequencyHz = d.FrequencyHz
		m.RFPowerDBm = d.PowerDBm
		if d.PilotLatitude != nil && d.PilotLongitude != nil {
			m.PilotLat = *d.PilotLatitude
			m.PilotLon = *d.PilotLongitude
			m.HasPilotPos = true
		}
		m.SensorTrackHint = stableID(d.DetectionID)
		m.HasSensorTrackHint = true
		return m, nil
	}

	// sector mode: bearing wedge only, range unknown
	az := model.NormalizeAzimuth(sectorCenterDeg(d.Sector) - own.HeadingDeg)
	m, err := model.NewMeasurement(model.SourceRFSector, now, az, 0)
	if err != nil {
		return nil, err
	}
	m.WithConfidence(blendConfidence(baseSectorConfidence, d.PowerDBm))
	m.Type = model.TypeUAV
	m.Classification = d.DetectionLabel
	m.RFFrequencyHz = d.FrequencyHz
	m.RFPowerDBm = d.PowerDBm
	m.SectorIndex = d.Sector
	m.SensorTrackHint = stableID(d.DetectionID)
	m.HasSensorTrackHint = true
	return m, nil
}
