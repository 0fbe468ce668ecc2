package fusion

import (
	"math"
	"time"

	"github.com/louwxander-cell/Centauri-C2/internal/model"
)

// Threat scoring: a deterministic function of a track's state and
// classification, producing a scalar in [0,1]. The combination weights are
// TCAS-inspired: zone and time-to-closest-approach dominate, proximity and
// confidence refine, type and source contribute small tie-breakers.

// allowedClassifications is the external-classifier gate: anything else
// scores zero outright.
var allowedClassifications = map[string]bool{
	"UAV":             true,
	"UAV_MULTI_ROTOR": true,
	"UAV_FIXED_WING":  true,
	"PLANE":           true,
}

// deniedTypes zero the score when no finer classification is present.
var deniedTypes = map[string]bool{
	"BIRD":    true,
	"CLUTTER": true,
	"WALKER":  true,
	"VEHICLE": true,
}

// nominalUnknownRangeM stands in for the slant range of sector-only tracks,
// which carry a bearing but no range. It lands them in the LOW zone with
// negligible proximity so they rank below any ranged track of similar
// confidence.
const nominalUnknownRangeM = 1000.0

const (
	hoverRateBandMPS  = 0.5
	closingFastMPS    = 30.0
	scoreSmoothingNew = 0.40
	scoreSmoothingOld = 0.60
)

// zoneWeight is the piecewise range band weight.
func zoneWeight(rangeM float64) float64 {
	switch {
	case rangeM < 150:
		return 1.0 // CRITICAL
	case rangeM < 400:
		return 0.75 // HIGH
	case rangeM < 800:
		return 0.5 // MEDIUM
	case rangeM < 1500:
		return 0.25 // LOW
	default:
		return 0.1 // DISTANT
	}
}

// ZoneName maps a range onto the priority band published to gunner
// stations.
func ZoneName(rangeM float64) string {
	switch {
	case rangeM < 150:
		return "CRITICAL"
	case rangeM < 400:
		return "HIGH"
	case rangeM < 800:
		return "MEDIUM"
	default:
		return "LOW"
	}
}

// tauModifier weighs time-to-closest-approach: range over closing speed,
// for approaching tracks. Receding tracks are nearly ignored; hovering
// tracks sit in the middle.
func tauModifier(rangeM, rangeRateMPS float64) float64 {
	if rangeRateMPS < -hoverRateBandMPS {
		tau := rangeM / -rangeRateMPS
		switch {
		case tau < 15:
			return 1.0
		case tau < 25:
			return 0.95
		case tau < 35:
			return 0.85
		case tau < 60:
			return 0.65
		case tau < 120:
			return 0.40
		default:
			return 0.15
		}
	}
	if rangeRateMPS > hoverRateBandMPS {
		return 0.02
	}
	return 0.50
}

func typeFactor(t model.TargetType) float64 {
	switch t {
	case model.TypeUAV:
		return 1.0
	case model.TypeUnknown:
		return 0.5
	default:
		return 0
	}
}

func sourceFactor(s model.SensorSource) float64 {
	switch s {
	case model.SourceFused:
		return 1.0
	case model.SourceRadar:
		return 0.8
	case model.SourceRF:
		return 0.6
	default:
		return 0.5
	}
}

// scoreGate reports whether the track is eligible to score at all.
func scoreGate(t *model.Track, rangeM float64) bool {
	if t.Classification != "" {
		if !allowedClassifications[t.Classification] {
			return false
		}
	} else if deniedTypes[string(t.Type)] {
		return false
	}
	if t.Confidence < 0.3 {
		return false
	}
	if rangeM > 2500 && t.Type == model.TypeUnknown && t.Confidence < 0.6 {
		return false
	}
	return true
}

// scoreTrack computes the new smoothed threat score for a track and returns
// it. The caller stores the result; this function does not mutate the
// track.
func scoreTrack(t *model.Track, now time.Time) float64 {
	rangeM := t.RangeM
	if !t.RangeKnown {
		rangeM = nominalUnknownRangeM
	}

	if !scoreGate(t, rangeM) {
		// gated tracks decay straight to zero, no smoothing
		return 0
	}

	zone := zoneWeight(rangeM)
	tau := tauModifier(rangeM, t.RangeRateMPS)
	proximity := math.Exp(-rangeM / 300)

	base := 0.45*zone*tau +
		0.40*proximity +
		0.10*t.Confidence +
		0.04*typeFactor(t.Type) +
		0.01*sourceFactor(t.Source)
	if base > 1.0 {
		base = 1.0
	}

	age := t.Age(now)
	switch {
	case age > 10*time.Second:
		base += 0.15
	case age > 5*time.Second:
		base += 0.08
	}

	// a brand-new close track has no range-rate yet; floor it so the first
	// tick already ranks it meaningfully
	if !t.RangeRateValid && rangeM < 300 {
		if floor := 0.6 * zone; base < floor {
			base = floor
		}
	}

	immediate := (rangeM < 200 && t.Type == model.TypeUAV && t.Confidence > 0.8) ||
		(rangeM < 150 && t.Type == model.TypeUnknown && t.Confidence > 0.9)
	if immediate {
		base *= 1.5
	}
	if t.Source == model.SourceFused && t.AircraftModel != "" {
		base *= 1.2
	}
	if t.HasPilotPos {
		base *= 1.15
	}
	if t.RangeRateValid && math.Abs(t.RangeRateMPS) > closingFastMPS {
		base *= 1.1
	}

	if base > 1 {
		base = 1
	}
	if base < 0 {
		base = 0
	}

	return scoreSmoothingNew*base + scoreSmoothingOld*t.ThreatScore
}
