// Package fusion associates normalized measurements from all sensors into a
// single track picture. The engine is single-writer: one orchestration task
// calls Tick at 30 Hz, and every other consumer reads the immutable snapshot
// it publishes.
package fusion

import (
	"log"
	"math"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/louwxander-cell/Centauri-C2/internal/config"
	"github.com/louwxander-cell/Centauri-C2/internal/model"
)

// rangeRateMinInterval is the minimum spacing between range samples used to
// derive a rate; closer pairs keep the previous smoothed rate.
const rangeRateMinInterval = 50 * time.Millisecond

const rangeRateAlpha = 0.5

// sensorKey identifies a sensor-internal track hint for re-association.
type sensorKey struct {
	source model.SensorSource
	hint   int
}

// Engine owns the track map. Only Tick mutates it.
type Engine struct {
	th     config.Thresholds
	events model.EventSink
	logf   func(format string, args ...any)

	queues []*Queue

	tracks map[int]*model.Track
	byHint map[sensorKey]int
	nextID int

	snapshot atomic.Value // []model.Track, sorted by id

	mu sync.Mutex // guards queues registration only
}

// NewEngine creates a fusion engine with no registered queues.
func NewEngine(th config.Thresholds, events model.EventSink, logf func(string, ...any)) *Engine {
	if logf == nil {
		logf = log.Printf
	}
	e := &Engine{
		th:     th,
		events: events,
		logf:   logf,
		tracks: make(map[int]*model.Track),
		byHint: make(map[sensorKey]int),
		nextID: 1,
	}
	e.snapshot.Store([]model.Track{})
	return e
}

// NewQueue registers and returns a bounded measurement queue for one driver.
func (e *Engine) NewQueue(capacity int) *Queue {
	q := NewQueue(capacity)
	e.mu.Lock()
	e.queues = append(e.queues, q)
	e.mu.Unlock()
	return q
}

// Snapshot returns the most recently published track set, sorted by id.
// The slice and its elements are never mutated after publication.
func (e *Engine) Snapshot() []model.Track {
	return e.snapshot.Load().([]model.Track)
}

// TrackByID looks up one track in the latest snapshot.
func (e *Engine) TrackByID(id int) (model.Track, bool) {
	for _, t := range e.Snapshot() {
		if t.ID == id {
			return t, true
		}
	}
	return model.Track{}, false
}

// Tick runs one fusion cycle: drain queues, associate, maintain tails and
// range-rate, age out stale tracks, score, publish. Must be called from a
// single goroutine.
func (e *Engine) Tick(now time.Time) {
	e.mu.Lock()
	queues := e.queues
	e.mu.Unlock()

	for _, q := range queues {
		for _, m := range q.Drain() {
			e.ingest(m, now)
		}
	}

	e.ageOut(now)

	for _, t := range e.tracks {
		t.PrevThreatScore = t.ThreatScore
		t.ThreatScore = scoreTrack(t, now)
	}

	e.publish()
}

// ingest associates one measurement with an existing track or spawns a new
// one.
func (e *Engine) ingest(m *model.Measurement, now time.Time) {
	t := e.associate(m)
	if t == nil {
		t = e.spawn(m)
	}
	e.update(t, m)
	if m.HasSensorTrackHint {
		e.byHint[sensorKey{sensorClass(m.SensorSource), m.SensorTrackHint}] = t.ID
	}
}

// sensorClass collapses the two RF fidelities for hint bookkeeping: the RF
// sensor reuses a detectionId across precision and sector reports of the
// same emitter.
func sensorClass(s model.SensorSource) model.SensorSource {
	if s == model.SourceRFPrecision || s == model.SourceRFSector {
		return model.SourceRF
	}
	return s
}

// associate finds the track this measurement belongs to, or nil. The sensor
// hint wins when it maps to a live track; otherwise geometric gating by
// azimuth and range against a compatible source set.
func (e *Engine) associate(m *model.Measurement) *model.Track {
	if m.HasSensorTrackHint {
		if id, ok := e.byHint[sensorKey{sensorClass(m.SensorSource), m.SensorTrackHint}]; ok {
			if t, live := e.tracks[id]; live {
				return t
			}
			delete(e.byHint, sensorKey{sensorClass(m.SensorSource), m.SensorTrackHint})
		}
	}

	var best *model.Track
	bestAz := e.th.AssociationDeltaAzDeg
	for _, t := range e.tracks {
		if !compatible(m, t) {
			continue
		}
		dAz := azimuthDelta(m.AzimuthDeg, t.AzimuthDeg)
		if dAz > e.th.AssociationDeltaAzDeg {
			continue
		}
		if m.RangeKnown && t.RangeKnown &&
			math.Abs(m.RangeM-t.RangeM) > e.th.AssociationDeltaRangeM {
			continue
		}
		if dAz <= bestAz {
			best = t
			bestAz = dAz
		}
	}
	return best
}

// compatible applies the cross-sensor fusion rules: radar fuses with RF
// precision; RF sector alone never fuses with a radar-contributed track.
func compatible(m *model.Measurement, t *model.Track) bool {
	if m.SensorSource == model.SourceRFSector && t.SeenRadar {
		return false
	}
	if m.SensorSource == model.SourceRadar && t.SeenRFSector && !t.SeenRFPrecision && !t.SeenRadar {
		return false
	}
	return true
}

func azimuthDelta(a, b float64) float64 {
	d := math.Abs(model.NormalizeAzimuth(a) - model.NormalizeAzimuth(b))
	if d > 180 {
		d = 360 - d
	}
	return d
}

func (e *Engine) spawn(m *model.Measurement) *model.Track {
	t := &model.Track{
		ID:        e.nextID,
		FirstSeen: m.Timestamp,
		Type:      model.TypeUnknown,
	}
	e.nextID++
	e.tracks[t.ID] = t
	return t
}

// update folds one measurement into a track: position, contribution set,
// fusion confidence, RF intel, tail, range-rate.
func (e *Engine) update(t *model.Track, m *model.Measurement) {
	// range-rate derives from the previous known range before this update
	if m.RangeKnown && t.RangeKnown {
		dt := m.Timestamp.Sub(t.LastUpdate)
		if dt >= rangeRateMinInterval {
			raw := (m.RangeM - t.RangeM) / dt.Seconds()
			if t.RangeRateValid {
				t.RangeRateMPS = rangeRateAlpha*raw + (1-rangeRateAlpha)*t.RangeRateMPS
			} else {
				t.RangeRateMPS = raw
				t.RangeRateValid = true
			}
			t.PrevRangeM = t.RangeM
			t.PrevRangeKnown = true
			t.PrevTimestamp = t.LastUpdate
		}
	}

	wasRadarOnly := t.SeenRadar && !t.SeenRFPrecision
	wasRFPrecisionOnly := t.SeenRFPrecision && !t.SeenRadar

	switch m.SensorSource {
	case model.SourceRadar:
		t.SeenRadar = true
	case model.SourceRFPrecision:
		t.SeenRFPrecision = true
	case model.SourceRFSector:
		t.SeenRFSector = true
	}

	// cross-sensor fusion of radar and RF precision
	fusedNow := t.SeenRadar && t.SeenRFPrecision
	if fusedNow && (wasRadarOnly && m.SensorSource == model.SourceRFPrecision ||
		wasRFPrecisionOnly && m.SensorSource == model.SourceRadar) {
		cRadar, cRF := t.Confidence, m.Confidence
		if m.SensorSource == model.SourceRadar {
			cRadar, cRF = m.Confidence, t.Confidence
		}
		fused := 0.5*(cRadar+cRF) + 0.1
		if fused < 0.95 {
			fused = 0.95
		}
		if fused > 1 {
			fused = 1
		}
		t.Confidence = fused
	} else if m.Confidence > 0 {
		if fusedNow {
			// a fused track's confidence only ratchets up
			if m.Confidence > t.Confidence {
				t.Confidence = m.Confidence
			}
		} else {
			t.Confidence = m.Confidence
		}
	}

	// position: sector bearings never overwrite a known range
	t.AzimuthDeg = m.AzimuthDeg
	t.ElevationDeg = m.ElevationDeg
	if m.RangeKnown {
		t.RangeM = m.RangeM
		t.RangeKnown = true
	}
	if m.HasVelocity {
		t.VelocityMPS = m.VelocityMPS
		t.HasVelocity = true
	}

	t.Source = deriveSource(t)

	if m.Type == model.TypeUAV || t.Type == model.TypeUnknown || t.Type == "" {
		if m.Type != "" {
			t.Type = m.Type
		}
	}
	if m.Classification != "" {
		t.Classification = m.Classification
	}

	// RF intel rides along on precision measurements
	if m.AircraftModel != "" {
		t.AircraftModel = m.AircraftModel
	}
	if m.HasPilotPos {
		t.PilotLat = m.PilotLat
		t.PilotLon = m.PilotLon
		t.HasPilotPos = true
	}

	if t.FirstSeen.IsZero() || m.Timestamp.Before(t.FirstSeen) {
		t.FirstSeen = m.Timestamp
	}
	if m.Timestamp.After(t.LastUpdate) {
		t.LastUpdate = m.Timestamp
	}
	t.NumUpdates++

	t.AppendTail(model.TailSample{
		AzimuthDeg:   t.AzimuthDeg,
		ElevationDeg: t.ElevationDeg,
		RangeM:       t.RangeM,
		Timestamp:    m.Timestamp,
	}, time.Duration(e.th.TailWindowSeconds*float64(time.Second)), e.th.TailMaxSamples)
}

func deriveSource(t *model.Track) model.SensorSource {
	switch {
	case t.SeenRadar && t.SeenRFPrecision:
		return model.SourceFused
	case t.SeenRadar:
		return model.SourceRadar
	case t.SeenRFPrecision || t.SeenRFSector:
		return model.SourceRF
	default:
		return model.SourceRadar
	}
}

// ageOut evicts tracks with no update inside the staleness window.
func (e *Engine) ageOut(now time.Time) {
	stale := time.Duration(e.th.TrackStaleSeconds * float64(time.Second))
	for id, t := range e.tracks {
		if now.Sub(t.LastUpdate) > stale {
			delete(e.tracks, id)
			e.logf("[fusion] track %d aged out after %.1fs silence", id, now.Sub(t.LastUpdate).Seconds())
			if e.events != nil {
				e.events.Record(model.Event{
					Kind:      model.EventTrackLost,
					Timestamp: now,
					TrackID:   id,
				})
			}
		}
	}
	for key, id := range e.byHint {
		if _, live := e.tracks[id]; !live {
			delete(e.byHint, key)
		}
	}
}

// publish stores an immutable, id-sorted copy of the track set.
func (e *Engine) publish() {
	out := make([]model.Track, 0, len(e.tracks))
	for _, t := range e.tracks {
		cp := *t
		cp.Tail = append([]model.TailSample(nil), t.Tail...)
		out = append(out, cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	e.snapshot.Store(out)
}

// TailStats summarizes a track's tail for the diagnostics surface.
type TailStats struct {
	Samples      int     `json:"samples"`
	MeanRangeM   float64 `json:"mean_range_m"`
	StdDevRangeM float64 `json:"stddev_range_m"`
	FitRateMPS   float64 `json:"fit_rate_mps"`
	SpanSeconds  float64 `json:"span_seconds"`
}

// TailStats fits the tail of a snapshot track: mean and spread of range,
// and a least-squares range-rate over the whole tail window, a steadier
// estimate than the two-point smoothed rate.
func (e *Engine) TailStats(id int) (TailStats, bool) {
	t, ok := e.TrackByID(id)
	if !ok || len(t.Tail) == 0 {
		return TailStats{}, false
	}
	times := make([]float64, len(t.Tail))
	ranges := make([]float64, len(t.Tail))
	t0 := t.Tail[0].Timestamp
	for i, s := range t.Tail {
		times[i] = s.Timestamp.Sub(t0).Seconds()
		ranges[i] = s.RangeM
	}
	ts := TailStats{
		Samples:      len(t.Tail),
		MeanRangeM:   stat.Mean(ranges, nil),
		StdDevRangeM: stat.StdDev(ranges, nil),
		SpanSeconds:  times[len(times)-1],
	}
	if len(t.Tail) >= 2 && ts.SpanSeconds > 0 {
		_, slope := stat.LinearRegression(times, ranges, nil, false)
		ts.FitRateMPS = slope
	}
	return ts, true
}

// QueueDepths reports the per-queue drop counters for the debug surface.
func (e *Engine) QueueDepths() []uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]uint64, len(e.queues))
	for i, q := range e.queues {
		out[i] = q.Dropped()
	}
	return out
}
