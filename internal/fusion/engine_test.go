package fusion

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/louwxander-cell/Centauri-C2/internal/config"
	"github.com/louwxander-cell/Centauri-C2/internal/model"
)

func newTestEngine() *Engine {
	return NewEngine(config.DefaultThresholds(), nil, func(string, ...any) {})
}

func radarMeas(t *testing.T, hint int, az, rangeM float64, conf float64, ts time.Time) *model.Measurement {
	t.Helper()
	m, err := model.NewMeasurement(model.SourceRadar, ts, az, 0)
	require.NoError(t, err)
	require.NoError(t, m.WithRange(rangeM))
	m.WithConfidence(conf)
	m.Type = model.TypeUAV
	m.SensorTrackHint = hint
	m.HasSensorTrackHint = true
	return m
}

func rfPrecisionMeas(t *testing.T, hint int, az, rangeM float64, conf float64, ts time.Time) *model.Measurement {
	t.Helper()
	m, err := model.NewMeasurement(model.SourceRFPrecision, ts, az, 0)
	require.NoError(t, err)
	require.NoError(t, m.WithRange(rangeM))
	m.WithConfidence(conf)
	m.Type = model.TypeUAV
	m.SensorTrackHint = hint
	m.HasSensorTrackHint = true
	return m
}

// Scenario: one radar packet with a single track yields exactly one fused
// track with the radar's kinematics and a meaningful first-tick score.
func TestSingleRadarTrack(t *testing.T) {
	e := newTestEngine()
	q := e.NewQueue(16)
	now := time.Now()

	q.Push(radarMeas(t, 7, 45, 400, 0.8, now))
	e.Tick(now)

	snap := e.Snapshot()
	require.Len(t, snap, 1)
	tr := snap[0]
	assert.Equal(t, model.TypeUAV, tr.Type)
	assert.Equal(t, model.SourceRadar, tr.Source)
	assert.InDelta(t, 45.0, tr.AzimuthDeg, 1e-9)
	assert.InDelta(t, 400.0, tr.RangeM, 1e-9)
	assert.False(t, tr.RangeRateValid)
	// MEDIUM zone (400 m is not under the 400 m HIGH bound), no range-rate yet,
	// and first-tick smoothing keeps only 40% of the raw score
	assert.Greater(t, tr.ThreatScore, 0.1)
	assert.Less(t, tr.ThreatScore, 0.6)
}

// Scenario: two radar packets 100 ms apart moving 400 -> 350 m. The first
// rate estimate is the raw single-step rate; tau is far under 15 s so the
// tau modifier saturates and the closing-speed multiplier kicks in.
func TestApproachingTrackRangeRate(t *testing.T) {
	e := newTestEngine()
	q := e.NewQueue(16)
	t0 := time.Now()

	q.Push(radarMeas(t, 7, 45, 400, 0.8, t0))
	e.Tick(t0)
	first := e.Snapshot()[0].ThreatScore

	q.Push(radarMeas(t, 7, 45, 350, 0.8, t0.Add(100*time.Millisecond)))
	e.Tick(t0.Add(100 * time.Millisecond))

	snap := e.Snapshot()
	require.Len(t, snap, 1)
	tr := snap[0]
	assert.True(t, tr.RangeRateValid)
	assert.InDelta(t, -500.0, tr.RangeRateMPS, 1e-6)
	assert.Greater(t, tr.ThreatScore, first)
}

// Property: for successive measurements the smoothed rate carries the sign
// of the range change, and smoothing is monotone toward the raw rate.
func TestRangeRateSignConvention(t *testing.T) {
	e := newTestEngine()
	q := e.NewQueue(16)
	t0 := time.Now()

	q.Push(radarMeas(t, 1, 10, 500, 0.8, t0))
	q.Push(radarMeas(t, 2, 200, 500, 0.8, t0))
	e.Tick(t0)

	// track 1 approaches, track 2 recedes
	q.Push(radarMeas(t, 1, 10, 480, 0.8, t0.Add(100*time.Millisecond)))
	q.Push(radarMeas(t, 2, 200, 520, 0.8, t0.Add(100*time.Millisecond)))
	e.Tick(t0.Add(100 * time.Millisecond))

	snap := e.Snapshot()
	require.Len(t, snap, 2)
	assert.Negative(t, snap[0].RangeRateMPS)
	assert.Positive(t, snap[1].RangeRateMPS)

	// third sample: smoothed moves toward raw, never past it
	q.Push(radarMeas(t, 1, 10, 470, 0.8, t0.Add(200*time.Millisecond)))
	e.Tick(t0.Add(200 * time.Millisecond))
	tr, ok := e.TrackByID(snap[0].ID)
	require.True(t, ok)
	raw := -100.0 // (470-480)/0.1
	prev := -200.0
	assert.LessOrEqual(t, absf(tr.RangeRateMPS-raw), absf(prev-raw))
}

func absf(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

// Samples closer than 50 ms keep the previous smoothed rate.
func TestRangeRateIgnoresSubIntervalSamples(t *testing.T) {
	e := newTestEngine()
	q := e.NewQueue(16)
	t0 := time.Now()

	q.Push(radarMeas(t, 1, 10, 500, 0.8, t0))
	e.Tick(t0)
	q.Push(radarMeas(t, 1, 10, 480, 0.8, t0.Add(100*time.Millisecond)))
	e.Tick(t0.Add(100 * time.Millisecond))
	before, _ := e.TrackByID(1)

	q.Push(radarMeas(t, 1, 10, 479, 0.8, t0.Add(120*time.Millisecond)))
	e.Tick(t0.Add(120 * time.Millisecond))
	after, _ := e.TrackByID(1)
	assert.Equal(t, before.RangeRateMPS, after.RangeRateMPS)
}

// Property: feeding the same measurement twice within one tick associates
// with the same track both times.
func TestFusionIdempotence(t *testing.T) {
	e := newTestEngine()
	q := e.NewQueue(16)
	now := time.Now()

	m1 := radarMeas(t, 7, 45, 400, 0.8, now)
	m2 := radarMeas(t, 7, 45, 400, 0.8, now)
	q.Push(m1)
	q.Push(m2)
	e.Tick(now)

	snap := e.Snapshot()
	require.Len(t, snap, 1)
	assert.InDelta(t, 400.0, snap[0].RangeM, 1e-9)
	assert.False(t, snap[0].RangeRateValid)
}

// Geometric association without hints: a measurement inside the az/range
// gate joins the existing track; outside it spawns a new one.
func TestGeometricAssociationGate(t *testing.T) {
	e := newTestEngine()
	q := e.NewQueue(16)
	now := time.Now()

	m1 := radarMeas(t, 0, 45, 400, 0.8, now)
	m1.HasSensorTrackHint = false
	q.Push(m1)
	e.Tick(now)

	inside := radarMeas(t, 0, 50, 450, 0.8, now.Add(50*time.Millisecond))
	inside.HasSensorTrackHint = false
	q.Push(inside)
	e.Tick(now.Add(50 * time.Millisecond))
	assert.Len(t, e.Snapshot(), 1)

	outside := radarMeas(t, 0, 70, 400, 0.8, now.Add(100*time.Millisecond))
	outside.HasSensorTrackHint = false
	q.Push(outside)
	e.Tick(now.Add(100 * time.Millisecond))
	assert.Len(t, e.Snapshot(), 2)
}

// Scenario: an RF precision detection lands inside the gate of a radar
// track; the result is FUSED with ratcheted confidence and RF intel.
func TestRadarRFPrecisionFusion(t *testing.T) {
	e := newTestEngine()
	radarQ := e.NewQueue(16)
	rfQ := e.NewQueue(16)
	now := time.Now()

	radarQ.Push(radarMeas(t, 7, 45, 400, 0.8, now))
	e.Tick(now)

	rf := rfPrecisionMeas(t, 999, 48, 350, 0.85, now.Add(50*time.Millisecond))
	rf.AircraftModel = "DJI Mavic 3"
	rf.PilotLat, rf.PilotLon, rf.HasPilotPos = 52.0, 4.0, true
	rfQ.Push(rf)
	e.Tick(now.Add(50 * time.Millisecond))

	snap := e.Snapshot()
	require.Len(t, snap, 1)
	tr := snap[0]
	assert.Equal(t, model.SourceFused, tr.Source)
	assert.GreaterOrEqual(t, tr.Confidence, 0.95)
	assert.Equal(t, "DJI Mavic 3", tr.AircraftModel)
	assert.True(t, tr.HasPilotPos)
}

// RF sector detections never fuse with radar-contributed tracks.
func TestSectorNeverFusesWithRadar(t *testing.T) {
	e := newTestEngine()
	q := e.NewQueue(16)
	now := time.Now()

	radar := radarMeas(t, 7, 45, 400, 0.8, now)
	q.Push(radar)
	e.Tick(now)

	sector, err := model.NewMeasurement(model.SourceRFSector, now.Add(50*time.Millisecond), 45, 0)
	require.NoError(t, err)
	sector.WithConfidence(0.6)
	sector.Type = model.TypeUAV
	q.Push(sector)
	e.Tick(now.Add(50 * time.Millisecond))

	snap := e.Snapshot()
	require.Len(t, snap, 2)
}

// Tracks with no update inside the staleness window are evicted, tails and
// hint mappings included.
func TestStaleTrackEviction(t *testing.T) {
	events := &captureEvents{}
	e := NewEngine(config.DefaultThresholds(), events, func(string, ...any) {})
	q := e.NewQueue(16)
	t0 := time.Now()

	q.Push(radarMeas(t, 7, 45, 400, 0.8, t0))
	e.Tick(t0)
	require.Len(t, e.Snapshot(), 1)

	e.Tick(t0.Add(6 * time.Second))
	assert.Empty(t, e.Snapshot())
	require.Len(t, events.events, 1)
	assert.Equal(t, model.EventTrackLost, events.events[0].Kind)

	// the hint mapping is gone too: the same radar id spawns a fresh track
	q.Push(radarMeas(t, 7, 45, 400, 0.8, t0.Add(7*time.Second)))
	e.Tick(t0.Add(7 * time.Second))
	snap := e.Snapshot()
	require.Len(t, snap, 1)
	assert.NotEqual(t, 1, snap[0].ID)
}

// Tail samples are bounded by window and count, and timestamps never go
// backwards.
func TestTailMaintenance(t *testing.T) {
	e := newTestEngine()
	q := e.NewQueue(512)
	t0 := time.Now()

	for i := 0; i < 150; i++ {
		ts := t0.Add(time.Duration(i) * 100 * time.Millisecond)
		q.Push(radarMeas(t, 7, 45, 400-float64(i), 0.8, ts))
		e.Tick(ts)
	}

	tr, ok := e.TrackByID(1)
	require.True(t, ok)
	assert.LessOrEqual(t, len(tr.Tail), config.DefaultThresholds().TailMaxSamples)
	for i := 1; i < len(tr.Tail); i++ {
		assert.False(t, tr.Tail[i].Timestamp.Before(tr.Tail[i-1].Timestamp))
	}
}

func TestSnapshotStableOrdering(t *testing.T) {
	e := newTestEngine()
	q := e.NewQueue(16)
	now := time.Now()
	q.Push(radarMeas(t, 30, 100, 500, 0.8, now))
	q.Push(radarMeas(t, 10, 200, 700, 0.8, now))
	q.Push(radarMeas(t, 20, 300, 900, 0.8, now))
	e.Tick(now)

	snap := e.Snapshot()
	require.Len(t, snap, 3)
	for i := 1; i < len(snap); i++ {
		assert.Greater(t, snap[i].ID, snap[i-1].ID)
	}
}

func TestTailStats(t *testing.T) {
	e := newTestEngine()
	q := e.NewQueue(64)
	t0 := time.Now()
	// steady approach at 50 m/s
	for i := 0; i < 10; i++ {
		ts := t0.Add(time.Duration(i) * 100 * time.Millisecond)
		q.Push(radarMeas(t, 7, 45, 1000-float64(i)*5, 0.8, ts))
		e.Tick(ts)
	}
	ts, ok := e.TailStats(1)
	require.True(t, ok)
	assert.Equal(t, 10, ts.Samples)
	assert.InDelta(t, -50.0, ts.FitRateMPS, 1.0)
	assert.InDelta(t, 977.5, ts.MeanRangeM, 1.0)

	_, ok = e.TailStats(99)
	assert.False(t, ok)
}

func TestQueueDropOldest(t *testing.T) {
	q := NewQueue(3)
	ts := time.Now()
	for i := 0; i < 5; i++ {
		m, _ := model.NewMeasurement(model.SourceRadar, ts, float64(i), 0)
		q.Push(m)
	}
	assert.Equal(t, uint64(2), q.Dropped())
	out := q.Drain()
	require.Len(t, out, 3)
	assert.InDelta(t, 2.0, out[0].AzimuthDeg, 1e-9)
	assert.InDelta(t, 4.0, out[2].AzimuthDeg, 1e-9)
	assert.Empty(t, q.Drain())
}

type captureEvents struct {
	events []model.Event
}

func (c *captureEvents) Record(ev model.Event) { c.events = append(c.events, ev) }
