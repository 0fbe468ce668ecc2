package rfsensor

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/louwxander-cell/Centauri-C2/internal/model"
)

func f64(v float64) *float64 { return &v }

func ownAt(lat, lon, heading float64) model.OwnShip {
	return model.OwnShip{
		LatDeg: lat, LonDeg: lon, HeadingDeg: heading,
		FixQuality: 1, Timestamp: time.Now(),
	}
}

func TestSectorCenter(t *testing.T) {
	assert.InDelta(t, 22.5, sectorCenterDeg(1), 1e-9)
	assert.InDelta(t, 67.5, sectorCenterDeg(2), 1e-9)
	assert.InDelta(t, 337.5, sectorCenterDeg(8), 1e-9)
}

func TestBodyFrameDueNorthTarget(t *testing.T) {
	// target ~1 km due north, ownship heading 90: body azimuth is 270
	own := ownAt(52.0, 4.0, 90)
	az, el, rng := bodyFrame(own, 52.009, 4.0, 0)
	assert.InDelta(t, 270, az, 0.5)
	assert.InDelta(t, 0, el, 0.5)
	assert.InDelta(t, 1000, rng, 15)
}

func TestBodyFrameElevationFromAltitude(t *testing.T) {
	own := ownAt(52.0, 4.0, 0)
	// ~1 km north, 1 km up: elevation ~45 degrees, slant range ~sqrt(2) km
	az, el, rng := bodyFrame(own, 52.009, 4.0, 1001)
	assert.InDelta(t, 0, az, 0.5)
	assert.InDelta(t, 45, el, 1.0)
	assert.InDelta(t, 1415, rng, 25)
}

func TestStableIDDeterministicAndPrivate(t *testing.T) {
	a := stableID("DJI-X")
	b := stableID("DJI-X")
	c := stableID("DJI-Y")
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.GreaterOrEqual(t, a, trackIDBase)
}

func TestPrecisionDetectionRequiresOwnship(t *testing.T) {
	det := detection{
		DetectionID:       "DJI-X",
		AircraftLatitude:  f64(52.001),
		AircraftLongitude: f64(4.0),
	}
	m, err := toMeasurement(det, model.OwnShip{}, false, time.Now())
	require.NoError(t, err)
	assert.Nil(t, m)

	// present but unfixed ownship also drops the detection
	m, err = toMeasurement(det, model.OwnShip{FixQuality: 0}, true, time.Now())
	require.NoError(t, err)
	assert.Nil(t, m)
}

func TestPrecisionDetectionToMeasurement(t *testing.T) {
	det := detection{
		DetectionID:       "DJI-X",
		DetectionLabel:    "UAV_MULTI_ROTOR",
		AircraftLatitude:  f64(52.009),
		AircraftLongitude: f64(4.0),
		AircraftAltitude:  f64(100),
		PilotLatitude:     f64(52.0001),
		PilotLongitude:    f64(4.0001),
		AircraftModel:     "DJI Mavic 3",
		Serial:            "SN-0042",
		PowerDBm:          -55,
		FrequencyHz:       2.44e9,
	}
	m, err := toMeasurement(det, ownAt(52.0, 4.0, 0), true, time.Now())
	require.NoError(t, err)
	require.NotNil(t, m)

	assert.Equal(t, model.SourceRFPrecision, m.SensorSource)
	assert.True(t, m.RangeKnown)
	assert.InDelta(t, 0, m.AzimuthDeg, 0.5)
	assert.Equal(t, "DJI Mavic 3", m.AircraftModel)
	assert.Equal(t, "SN-0042", m.AircraftSerial)
	assert.True(t, m.HasPilotPos)
	assert.Equal(t, "UAV_MULTI_ROTOR", m.Classification)
	assert.True(t, m.HasSensorTrackHint)
	assert.Greater(t, m.Confidence, 0.7)
}

func TestSectorDetectionToMeasurement(t *testing.T) {
	det := detection{DetectionID: "SEC-1", Sector: 1, PowerDBm: -60}
	m, err := toMeasurement(det, ownAt(52.0, 4.0, 22.5), true, time.Now())
	require.NoError(t, err)
	require.NotNil(t, m)

	assert.Equal(t, model.SourceRFSector, m.SensorSource)
	assert.False(t, m.RangeKnown)
	// sector 1 centers on 22.5 true; heading 22.5 puts it dead ahead
	assert.InDelta(t, 0, m.AzimuthDeg, 1e-9)
	assert.Equal(t, 1, m.SectorIndex)
	assert.Less(t, m.Confidence, 0.7)
}

func TestConfidenceBlendOrdering(t *testing.T) {
	weak := blendConfidence(basePrecisionConfidence, -100)
	strong := blendConfidence(basePrecisionConfidence, -40)
	assert.Less(t, weak, strong)
	assert.LessOrEqual(t, strong, basePrecisionConfidence)
	assert.GreaterOrEqual(t, weak, 0.7)
}

func TestReadLoopParsesAndSkipsMalformed(t *testing.T) {
	client, server := net.Pipe()
	defer server.Close()

	sink := &captureSink{}
	d := New(Options{Sink: sink, Logf: func(string, ...any) {}})
	d.SetOwnShip(ownAt(52.0, 4.0, 0))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.readLoop(ctx, client) }()

	// the driver sends the enable command first
	buf := make([]byte, 256)
	n, err := server.Read(buf)
	require.NoError(t, err)
	assert.JSONEq(t, `{"detectionStatusEnabled": true}`, string(buf[:n]))

	lines := "" +
		`{"DetectionPublication":{"omniDetections":[{"detectionId":"DJI-X","aircraftLatitude":52.009,"aircraftLongitude":4.0,"power":-50}]}}` + "\n" +
		`this is not json` + "\n" +
		`{"DetectionPublication":{"sectorDetections":[{"detectionId":"SEC-9","sector":3,"power":-70}]}}` + "\n"
	_, err = server.Write([]byte(lines))
	require.NoError(t, err)

	require.Eventually(t, func() bool { return len(sink.snapshot()) == 2 }, 2*time.Second, 10*time.Millisecond)
	cancel()
	client.Close()
	<-done

	got := sink.snapshot()
	assert.Equal(t, model.SourceRFPrecision, got[0].SensorSource)
	assert.Equal(t, model.SourceRFSector, got[1].SensorSource)

	parsed, dropped := d.Stats()
	assert.Equal(t, uint64(2), parsed)
	assert.Equal(t, uint64(1), dropped)
}

type captureSink struct {
	mu  sync.Mutex
	got []*model.Measurement
}

func (s *captureSink) Push(m *model.Measurement) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.got = append(s.got, m)
}

func (s *captureSink) snapshot() []*model.Measurement {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*model.Measurement(nil), s.got...)
}
