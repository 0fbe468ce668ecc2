package radar

import (
	"encoding/binary"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/louwxander-cell/Centauri-C2/internal/config"
	"github.com/louwxander-cell/Centauri-C2/internal/model"
)

// trackFields is the builder for one wire track record used by tests.
type trackFields struct {
	id                 uint32
	az, el, rangeM     float32
	vx, vy, vz         float32
	estConfidence      float32
	estRCS             float32
	probOther, probUAV float32
}

func putF32(buf []byte, off int, v float32) {
	binary.LittleEndian.PutUint32(buf[off:], math.Float32bits(v))
}

func encodeTrack(t trackFields) []byte {
	buf := make([]byte, trackRecordSize)
	binary.LittleEndian.PutUint32(buf[0:], t.id)
	binary.LittleEndian.PutUint32(buf[4:], 1) // state
	putF32(buf, 8, t.az)
	putF32(buf, 12, t.el)
	putF32(buf, 16, t.rangeM)
	putF32(buf, 32, t.vx)
	putF32(buf, 36, t.vy)
	putF32(buf, 40, t.vz)
	putF32(buf, 108, t.estConfidence)
	putF32(buf, 116, t.estRCS)
	putF32(buf, 120, t.probOther)
	putF32(buf, 124, t.probUAV)
	return buf
}

func encodePacket(tracks ...trackFields) []byte {
	total := headerSize + len(tracks)*trackRecordSize
	buf := make([]byte, 0, total)

	header := make([]byte, headerSize)
	copy(header, "<track\x00\x00\x00\x00\x00\x00")
	binary.LittleEndian.PutUint32(header[12:], uint32(total))
	binary.LittleEndian.PutUint32(header[16:], uint32(len(tracks)))
	binary.LittleEndian.PutUint32(header[20:], 19500) // sys_time_days
	binary.LittleEndian.PutUint32(header[24:], 43200000)
	binary.LittleEndian.PutUint32(header[36:], 1) // packet_type
	buf = append(buf, header...)

	for _, tr := range tracks {
		buf = append(buf, encodeTrack(tr)...)
	}
	return buf
}

func TestParsePacketSingleTrack(t *testing.T) {
	// scenario: one track, id=7, az=45, range=400, prob_uav=0.9
	pkt := encodePacket(trackFields{
		id: 7, az: 45, el: 2, rangeM: 400,
		vx: -3, estConfidence: 0.8, estRCS: 0.02,
		probOther: 0.05, probUAV: 0.9,
	})

	meas, consumed, ok, err := parsePacket(pkt, config.DefaultThresholds(), time.Now())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, len(pkt), consumed)
	require.Len(t, meas, 1)

	m := meas[0]
	assert.Equal(t, model.SourceRadar, m.SensorSource)
	assert.Equal(t, 7, m.SensorTrackHint)
	assert.InDelta(t, 45.0, m.AzimuthDeg, 1e-6)
	assert.InDelta(t, 400.0, m.RangeM, 1e-3)
	assert.True(t, m.RangeKnown)
	assert.Equal(t, model.TypeUAV, m.Type)
	assert.InDelta(t, 0.8, m.Confidence, 1e-6)
}

func TestParsePacketAzimuthAlwaysNormalized(t *testing.T) {
	for _, az := range []float32{-10, 0, 359.9, 360, 725} {
		pkt := encodePacket(trackFields{id: 1, az: az, rangeM: 100, probUAV: 0.9})
		meas, _, ok, err := parsePacket(pkt, config.DefaultThresholds(), time.Now())
		require.NoError(t, err)
		require.True(t, ok)
		got := meas[0].AzimuthDeg
		assert.GreaterOrEqual(t, got, 0.0)
		assert.Less(t, got, 360.0)
	}
}

func TestParsePacketMultipleTracksFullyConsumed(t *testing.T) {
	pkt := encodePacket(
		trackFields{id: 1, az: 10, rangeM: 300, probUAV: 0.9},
		trackFields{id: 2, az: 20, rangeM: 600, probUAV: 0.1, probOther: 0.8},
		trackFields{id: 3, az: 30, rangeM: 900, probUAV: 0.5},
	)
	meas, consumed, ok, err := parsePacket(pkt, config.DefaultThresholds(), time.Now())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, len(pkt), consumed)
	require.Len(t, meas, 3)
	assert.Equal(t, model.TypeUAV, meas[0].Type)
	assert.Equal(t, model.TypeBird, meas[1].Type)
	assert.Equal(t, model.TypeUnknown, meas[2].Type)
}

func TestParsePacketIncompleteWaits(t *testing.T) {
	pkt := encodePacket(trackFields{id: 1, az: 10, rangeM: 300, probUAV: 0.9})
	meas, consumed, ok, err := parsePacket(pkt[:len(pkt)-1], config.DefaultThresholds(), time.Now())
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Zero(t, consumed)
	assert.Nil(t, meas)
}

func TestFindSyncSkipsGarbagePrefix(t *testing.T) {
	pkt := encodePacket(trackFields{id: 1, az: 10, rangeM: 300, probUAV: 0.9})
	garbage := append([]byte("noise noise noise"), pkt...)
	idx := findSync(garbage)
	assert.Equal(t, 17, idx)

	assert.Equal(t, -1, findSync([]byte("no tag here at all")))
	assert.Equal(t, -1, findSync([]byte("<tr"))) // shorter than the magic
}

func TestParsePacketRejectsUndersizedDeclaration(t *testing.T) {
	pkt := encodePacket(trackFields{id: 1, az: 10, rangeM: 300, probUAV: 0.9})
	// claim a packet_size big enough for the header but not the track
	binary.LittleEndian.PutUint32(pkt[12:], uint32(headerSize+10))
	_, _, _, err := parsePacket(pkt[:headerSize+10], config.DefaultThresholds(), time.Now())
	assert.Error(t, err)
}

func TestDrainPacketsResyncsAcrossGarbage(t *testing.T) {
	sink := &captureSink{}
	d := New(Options{Thresholds: config.DefaultThresholds(), Sink: sink, Logf: func(string, ...any) {}})

	pkt := encodePacket(trackFields{id: 7, az: 45, rangeM: 400, probUAV: 0.9})
	stream := append([]byte("garbage bytes before the frame"), pkt...)
	stream = append(stream, []byte("and some after")...)
	stream = append(stream, encodePacket(trackFields{id: 8, az: 90, rangeM: 800, probUAV: 0.9})...)

	rest := d.drainPackets(stream)
	require.Len(t, sink.got, 2)
	assert.Equal(t, 7, sink.got[0].SensorTrackHint)
	assert.Equal(t, 8, sink.got[1].SensorTrackHint)
	assert.LessOrEqual(t, len(rest), len(tagMagic)-1)
	assert.Greater(t, d.DroppedBytes(), uint64(0))
}

func TestDrainPacketsKeepsPartialTail(t *testing.T) {
	sink := &captureSink{}
	d := New(Options{Thresholds: config.DefaultThresholds(), Sink: sink, Logf: func(string, ...any) {}})

	pkt := encodePacket(trackFields{id: 7, az: 45, rangeM: 400, probUAV: 0.9})
	half := pkt[:headerSize+100]
	rest := d.drainPackets(append([]byte{}, half...))
	assert.Empty(t, sink.got)
	assert.Equal(t, half, rest)

	rest = d.drainPackets(append(rest, pkt[headerSize+100:]...))
	require.Len(t, sink.got, 1)
	assert.Empty(t, rest)
}

type captureSink struct {
	got []*model.Measurement
}

func (s *captureSink) Push(m *model.Measurement) { s.got = append(s.got, m) }
