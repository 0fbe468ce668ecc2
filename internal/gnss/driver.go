// Package gnss reads the dual-antenna GNSS module over a serial port,
// parsing standard NMEA sentences (GGA, RMC, HDT, VTG) and the proprietary
// $PSAT,HPR heading/pitch/roll sentence into OwnShip updates. True heading
// prefers HPR over HDT over the VTG course over ground.
package gnss

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"go.bug.st/serial"

	"github.com/louwxander-cell/Centauri-C2/internal/errkind"
	"github.com/louwxander-cell/Centauri-C2/internal/model"
)

const readTimeout = 1 * time.Second

// Options configures a Driver.
type Options struct {
	PortName string
	BaudRate int

	// FixTimeout demotes the driver from Online to Standby when no position
	// fix has been seen for this long.
	FixTimeout time.Duration

	// BaselineMeters is the expected dual-antenna baseline. An HPR heading
	// only sets the dual-antenna heading-valid flag once a sentence carrying
	// a baseline within 20% of this value has been seen. Zero accepts any
	// reported baseline.
	BaselineMeters float64

	Events model.EventSink
	Logf   func(format string, args ...any)

	// open is swapped out by tests.
	open func() (serial.Port, error)
}

// Diagnostics is a rolling per-sentence-type count of parsed vs rejected
// sentences, for the GPS health debug surface.
type Diagnostics struct {
	Parsed   map[string]uint64 `json:"parsed"`
	Rejected map[string]uint64 `json:"rejected"`
}

// Driver owns the GNSS serial link and the current ownship state.
type Driver struct {
	opts Options

	mu      sync.Mutex
	own     model.OwnShip
	haveFix bool
	health  model.SensorHealth

	// heading sources, best first: HPR, HDT, VTG course over ground
	hprHeading        float64
	hprSeen           bool
	hdtHeading        float64
	hdtSeen           bool
	cogHeading        float64
	cogSeen           bool
	headingAvailable  bool
	dualAntennaValid  bool
	pitchDeg, rollDeg float64

	lastFixAt time.Time

	parsed   map[string]uint64
	rejected map[string]uint64
}

// New creates a GNSS driver in the Standby state.
func New(opts Options) *Driver {
	if opts.Logf == nil {
		opts.Logf = log.Printf
	}
	if opts.FixTimeout == 0 {
		opts.FixTimeout = 5 * time.Second
	}
	d := &Driver{
		opts:     opts,
		health:   model.HealthStandby,
		parsed:   make(map[string]uint64),
		rejected: make(map[string]uint64),
	}
	if d.opts.open == nil {
		d.opts.open = func() (serial.Port, error) {
			mode := &serial.Mode{
				BaudRate: opts.BaudRate,
				DataBits: 8,
				Parity:   serial.NoParity,
				StopBits: serial.OneStopBit,
			}
			return serial.Open(opts.PortName, mode)
		}
	}
	return d
}

// Snapshot returns the current ownship state and whether a position fix has
// been acquired.
func (d *Driver) Snapshot() (model.OwnShip, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.own, d.haveFix
}

// Health returns the sensor health tri-state, demoting Online to Standby
// when the fix has gone stale.
func (d *Driver) Health() model.SensorHealth {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.health == model.HealthOnline && time.Since(d.lastFixAt) > d.opts.FixTimeout {
		d.health = model.HealthStandby
		d.haveFix = false
	}
	return d.health
}

// Diagnostics returns per-sentence-type parse/reject counts.
func (d *Driver) Diagnostics() Diagnostics {
	d.mu.Lock()
	defer d.mu.Unlock()
	diag := Diagnostics{Parsed: make(map[string]uint64), Rejected: make(map[string]uint64)}
	for k, v := range d.parsed {
		diag.Parsed[k] = v
	}
	for k, v := range d.rejected {
		diag.Rejected[k] = v
	}
	return diag
}

// Run opens the serial port and parses sentences until the context is
// cancelled, reopening with backoff on port errors.
func (d *Driver) Run(ctx context.Context) error {
	backoff := 1 * time.Second
	const maxBackoff = 30 * time.Second

	for ctx.Err() == nil {
		port, err := d.opts.open()
		if err != nil {
			d.reportError(errkind.Wrap(errkind.ConnectError, fmt.Errorf("gnss: open %s: %w", d.opts.PortName, err)))
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}

		backoff = 1 * time.Second
		d.opts.Logf("[gnss] opened %s at %d baud", d.opts.PortName, d.opts.BaudRate)
		err = d.readLoop(ctx, port)
		port.Close()
		if err != nil {
			d.reportError(err)
		}
	}
	return nil
}

func (d *Driver) readLoop(ctx context.Context, port serial.Port) error {
	port.SetReadTimeout(readTimeout)
	scanner := bufio.NewScanner(port)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return nil
		}
		line := scanner.Text()
		if line == "" {
			continue
		}
		d.HandleSentence(line)
	}
	if ctx.Err() != nil {
		return nil
	}
	if err := scanner.Err(); err != nil {
		return errkind.Wrap(errkind.ConnLost, fmt.Errorf("gnss: serial read: %w", err))
	}
	return nil
}

// HandleSentence parses one NMEA line and folds it into the ownship state.
// Exported so replayed sentence logs can be fed through the same path.
func (d *Driver) HandleSentence(line string) {
	s, err := parseSentence(line)
	if err != nil {
		d.mu.Lock()
		d.rejected["?"]++
		d.mu.Unlock()
		return
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	switch s.typ {
	case "GGA":
		g, err := parseGGA(s)
		if err != nil {
			d.rejected[s.typ]++
			return
		}
		d.parsed[s.typ]++
		d.applyGGA(g)
	case "RMC":
		r, err := parseRMC(s)
		if err != nil {
			d.rejected[s.typ]++
			return
		}
		d.parsed[s.typ]++
		if r.valid && r.hasSpeed {
			d.own.GroundSpeedMPS = r.speedMPS
		}
	case "HDT":
		h, err := parseHDT(s)
		if err != nil || !h.ok {
			d.rejected[s.typ]++
			return
		}
		d.parsed[s.typ]++
		d.hdtHeading = h.headingDeg
		d.hdtSeen = true
		d.headingAvailable = true
		d.recomputeHeading()
	case "VTG":
		v, err := parseVTG(s)
		if err != nil {
			d.rejected[s.typ]++
			return
		}
		d.parsed[s.typ]++
		if v.hasSpeed {
			d.own.GroundSpeedMPS = v.speedMPS
		}
		if v.hasCourse {
			d.cogHeading = v.courseDeg
			d.cogSeen = true
			d.recomputeHeading()
		}
	case "HPR":
		h, err := parseHPR(s)
		if err != nil || !h.ok {
			d.rejected[s.typ]++
			return
		}
		d.parsed[s.typ]++
		d.applyHPR(h)
	default:
		// GSV, GSA and friends are not used
	}
}

func (d *Driver) applyGGA(g gga) {
	d.own.FixQuality = g.fixQuality
	if g.fixQuality == 0 {
		return
	}
	d.own.LatDeg = g.lat
	d.own.LonDeg = g.lon
	if g.hasAlt {
		d.own.AltitudeM = g.altitudeM
	}
	d.own.Timestamp = time.Now()
	d.haveFix = true
	d.lastFixAt = time.Now()
	d.health = model.HealthOnline
}

func (d *Driver) applyHPR(h hpr) {
	d.hprHeading = h.headingDeg
	d.hprSeen = true
	d.pitchDeg = h.pitchDeg
	d.rollDeg = h.rollDeg

	// the dual-antenna flag latches only once a baseline-consistent HPR has
	// been seen; a configured BaselineMeters of zero accepts any baseline
	if h.hasBaseline {
		want := d.opts.BaselineMeters
		if want == 0 || (h.baselineM > want*0.8 && h.baselineM < want*1.2) {
			d.dualAntennaValid = true
			d.headingAvailable = true
		}
	}
	d.recomputeHeading()
}

// recomputeHeading applies the source preference HPR > HDT > VTG course.
func (d *Driver) recomputeHeading() {
	switch {
	case d.hprSeen:
		d.own.HeadingDeg = model.NormalizeAzimuth(d.hprHeading)
	case d.hdtSeen:
		d.own.HeadingDeg = model.NormalizeAzimuth(d.hdtHeading)
	case d.cogSeen:
		d.own.HeadingDeg = model.NormalizeAzimuth(d.cogHeading)
	}
	d.own.HeadingValid = d.dualAntennaValid
}

// HeadingAvailable reports whether a true-heading source (HDT, or a
// baseline-valid HPR) has been seen at least once.
func (d *Driver) HeadingAvailable() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.headingAvailable
}

// PitchRoll returns the last HPR attitude.
func (d *Driver) PitchRoll() (pitchDeg, rollDeg float64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pitchDeg, d.rollDeg
}

func (d *Driver) reportError(err error) {
	d.opts.Logf("[gnss] %v", err)
	if d.opts.Events != nil {
		d.opts.Events.Record(model.Event{
			Kind:      model.EventDriverError,
			Timestamp: time.Now(),
			Sensor:    "gnss",
			Detail:    err.Error(),
		})
	}
}
