package radar

import (
	"encoding/binary"
	"fmt"
	"math"
	"time"

	"github.com/louwxander-cell/Centauri-C2/internal/config"
	"github.com/louwxander-cell/Centauri-C2/internal/errkind"
	"github.com/louwxander-cell/Centauri-C2/internal/model"
)

// tagMagic is the required prefix of the 12-byte packet tag.
const tagMagic = "<track"

// headerSize is the wire size of the track-packet header: a 12-byte ASCII
// tag followed by 7 little-endian uint32 fields (packet_size, n_tracks,
// sys_time_days, sys_time_ms, profile_atracker, profile_atracker_main,
// packet_type).
const headerSize = 12 + 7*4

// trackRecordSize is the per-track wire stride. The named fields below
// occupy 128 bytes; the remaining 120 bytes are reserved and skipped on
// read.
const trackRecordSize = 248

const namedTrackFieldsSize = 2*4 + 3*4 + 3*4 + 3*4 + 3*4 + 3*4 + 2*4 + 4 + 4 + 2*4 + 2*4 + 2*4 + 4 + 4 + 4 + 2*4

func init() {
	if namedTrackFieldsSize != 128 {
		panic(fmt.Sprintf("radar: named track field size computed as %d, expected 128", namedTrackFieldsSize))
	}
	if namedTrackFieldsSize > trackRecordSize {
		panic("radar: named track fields exceed declared record size")
	}
}

// Header is the parsed 40-byte track-packet header.
type Header struct {
	Tag                 [12]byte
	PacketSize          uint32
	NTracks             uint32
	SysTimeDays         uint32
	SysTimeMs           uint32
	ProfileATracker     uint32
	ProfileATrackerMain uint32
	PacketType          uint32
}

// TagValid reports whether the tag begins with the required magic prefix.
func (h Header) TagValid() bool {
	return len(h.Tag) >= len(tagMagic) && string(h.Tag[:len(tagMagic)]) == tagMagic
}

// rawTrack is the wire layout of one 128-byte named track record, ignoring
// the 120 bytes of reserved trailing space.
type rawTrack struct {
	ID    uint32
	State uint32

	Az, El, Range float32
	X, Y, Z       float32
	Vx, Vy, Vz    float32

	AssocID   [3]uint32
	AssocChi2 [3]float32

	TOCADays int32
	TOCAMs   int32
	DOCA     float32
	Lifetime float32

	LastUpdateDays uint32
	LastUpdateMs   uint32
	LastAssocDays  uint32
	LastAssocMs    uint32
	AcquiredDays   uint32
	AcquiredMs     uint32

	EstConfidence float32
	NumAssocMeas  uint32
	EstRCS        float32
	ProbOther     float32
	ProbUAV       float32
}

// findSync scans buf for the first offset at which the tagMagic bytes line
// up, returning -1 if no candidate offset exists. The device's framing rule
// is: if the tag prefix does not match, advance one byte and resync.
func findSync(buf []byte) int {
	if len(buf) < len(tagMagic) {
		return -1
	}
	for i := 0; i+len(tagMagic) <= len(buf); i++ {
		if string(buf[i:i+len(tagMagic)]) == tagMagic {
			return i
		}
	}
	return -1
}

// parseHeader parses a 40-byte header from buf. Callers must ensure
// len(buf) >= headerSize.
func parseHeader(buf []byte) Header {
	var h Header
	copy(h.Tag[:], buf[0:12])
	h.PacketSize = binary.LittleEndian.Uint32(buf[12:16])
	h.NTracks = binary.LittleEndian.Uint32(buf[16:20])
	h.SysTimeDays = binary.LittleEndian.Uint32(buf[20:24])
	h.SysTimeMs = binary.LittleEndian.Uint32(buf[24:28])
	h.ProfileATracker = binary.LittleEndian.Uint32(buf[28:32])
	h.ProfileATrackerMain = binary.LittleEndian.Uint32(buf[32:36])
	h.PacketType = binary.LittleEndian.Uint32(buf[36:40])
	return h
}

func readFloat32(buf []byte, off int) float32 {
	return math.Float32frombits(binary.LittleEndian.Uint32(buf[off : off+4]))
}

func readUint32(buf []byte, off int) uint32 {
	return binary.LittleEndian.Uint32(buf[off : off+4])
}

func readInt32(buf []byte, off int) int32 {
	return int32(binary.LittleEndian.Uint32(buf[off : off+4]))
}

// parseTrackRecord parses the 128 named bytes of one track record from buf,
// which must be at least namedTrackFieldsSize long.
func parseTrackRecord(buf []byte) rawTrack {
	var t rawTrack
	t.ID = readUint32(buf, 0)
	t.State = readUint32(buf, 4)
	t.Az = readFloat32(buf, 8)
	t.El = readFloat32(buf, 12)
	t.Range = readFloat32(buf, 16)
	t.X = readFloat32(buf, 20)
	t.Y = readFloat32(buf, 24)
	t.Z = readFloat32(buf, 28)
	t.Vx = readFloat32(buf, 32)
	t.Vy = readFloat32(buf, 36)
	t.Vz = readFloat32(buf, 40)
	for i := 0; i < 3; i++ {
		t.AssocID[i] = readUint32(buf, 44+i*4)
	}
	for i := 0; i < 3; i++ {
		t.AssocChi2[i] = readFloat32(buf, 56+i*4)
	}
	t.TOCADays = readInt32(buf, 68)
	t.TOCAMs = readInt32(buf, 72)
	t.DOCA = readFloat32(buf, 76)
	t.Lifetime = readFloat32(buf, 80)
	t.LastUpdateDays = readUint32(buf, 84)
	t.LastUpdateMs = readUint32(buf, 88)
	t.LastAssocDays = readUint32(buf, 92)
	t.LastAssocMs = readUint32(buf, 96)
	t.AcquiredDays = readUint32(buf, 100)
	t.AcquiredMs = readUint32(buf, 104)
	t.EstConfidence = readFloat32(buf, 108)
	t.NumAssocMeas = readUint32(buf, 112)
	t.EstRCS = readFloat32(buf, 116)
	t.ProbOther = readFloat32(buf, 120)
	t.ProbUAV = readFloat32(buf, 124)
	return t
}

// classify maps the device's probability outputs onto a target type: UAV
// when probability_uav is high, BIRD when probability_uav is low and
// probability_other is high, else UNKNOWN.
func classify(t rawTrack, th config.Thresholds) model.TargetType {
	switch {
	case float64(t.ProbUAV) > th.RadarUAVProbability:
		return model.TypeUAV
	case float64(t.ProbUAV) < th.RadarBirdUAVMax && float64(t.ProbOther) > th.RadarBirdOtherMin:
		return model.TypeBird
	default:
		return model.TypeUnknown
	}
}

// toMeasurement converts a parsed raw track record into a canonical
// Measurement, tagged with the driver-observed timestamp (the radar's own
// system clock is reported separately and is not used for fusion timing).
func toMeasurement(t rawTrack, th config.Thresholds, observedAt time.Time) (*model.Measurement, error) {
	m, err := model.NewMeasurement(model.SourceRadar, observedAt, float64(t.Az), float64(t.El))
	if err != nil {
		return nil, errkind.Wrap(errkind.ProtocolError, err)
	}
	if err := m.WithRange(float64(t.Range)); err != nil {
		return nil, errkind.Wrap(errkind.ProtocolError, err)
	}
	m.HasVelocity = true
	m.VelocityMPS = [3]float64{float64(t.Vx), float64(t.Vy), float64(t.Vz)}
	m.RCS = float64(t.EstRCS)
	m.ProbabilityUAV = float64(t.ProbUAV)
	m.ProbabilityOther = float64(t.ProbOther)
	m.Type = classify(t, th)
	m.WithConfidence(float64(t.EstConfidence))
	m.SensorTrackHint = int(t.ID)
	m.HasSensorTrackHint = true
	return m, nil
}

// parsePacket attempts to parse one full track packet starting at the
// beginning of buf. It returns the measurements, the number of bytes
// consumed, and ok=false if buf does not yet contain a full packet (caller
// should wait for more data). If the header tag does not match, the caller
// is expected to have already resynced via findSync before calling this.
func parsePacket(buf []byte, th config.Thresholds, observedAt time.Time) (measurements []*model.Measurement, consumed int, ok bool, err error) {
	if len(buf) < headerSize {
		return nil, 0, false, nil
	}
	h := parseHeader(buf)
	if !h.TagValid() {
		return nil, 0, false, errkind.Wrap(errkind.ProtocolError, fmt.Errorf("radar: tag mismatch %q", h.Tag))
	}
	total := int(h.PacketSize)
	if total < headerSize {
		return nil, 0, false, errkind.Wrap(errkind.ProtocolError, fmt.Errorf("radar: packet_size %d smaller than header", total))
	}
	if len(buf) < total {
		return nil, 0, false, nil
	}

	body := buf[headerSize:total]
	n := int(h.NTracks)
	need := n * trackRecordSize
	if len(body) < need {
		return nil, 0, false, errkind.Wrap(errkind.ProtocolError, fmt.Errorf("radar: packet_size %d too small for %d tracks", total, n))
	}

	out := make([]*model.Measurement, 0, n)
	for i := 0; i < n; i++ {
		rec := body[i*trackRecordSize : i*trackRecordSize+namedTrackFieldsSize]
		raw := parseTrackRecord(rec)
		meas, err := toMeasurement(raw, th, observedAt)
		if err != nil {
			return nil, 0, false, err
		}
		out = append(out, meas)
	}
	return out, total, true, nil
}
