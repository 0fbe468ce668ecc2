// Package radar drives the pulse-Doppler radar over a single TCP connection:
// a line-oriented ASCII command protocol for configuration and control, and a
// framed little-endian binary track stream once the device is started. Parsed
// track records are normalized into canonical measurements and pushed to the
// fusion engine's queue.
package radar

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log"
	"net"
	"sync"
	"time"

	"github.com/louwxander-cell/Centauri-C2/internal/config"
	"github.com/louwxander-cell/Centauri-C2/internal/errkind"
	"github.com/louwxander-cell/Centauri-C2/internal/model"
)

// State is the driver's connection state machine:
// Disconnected -> Idle -> Streaming -> Disconnected, with explicit
// operator-initiated transitions.
type State int

const (
	StateDisconnected State = iota
	StateIdle
	StateStreaming
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStreaming:
		return "streaming"
	default:
		return "disconnected"
	}
}

// resyncBudget bounds how many bytes the stream loop may discard hunting for
// a tag match before the frame is declared unrecoverable (ProtocolError).
const resyncBudget = 64 * 1024

// readChunk is the per-read buffer size for the binary stream. Reads use a
// 1 second deadline so shutdown stays responsive.
const readChunk = 4096

const streamReadTimeout = 1 * time.Second

// Options configures a Driver.
type Options struct {
	Host        string
	CommandPort int
	Thresholds  config.Thresholds

	// DataTimeout is how long the stream may be silent before the driver
	// reports Timeout and recycles the connection. Zero disables the check.
	DataTimeout time.Duration

	Sink   model.MeasurementSink
	Events model.EventSink
	Logf   func(format string, args ...any)

	// dial is swapped out by tests.
	dial func(addr string) (net.Conn, error)
}

// Driver owns the radar TCP connection and its stream loop.
type Driver struct {
	opts Options

	mu     sync.Mutex
	conn   net.Conn
	reader *bufio.Reader
	state  State

	// autoReconnect is set by Connect and cleared by Disconnect: reconnection
	// with backoff only happens when the link was established by an explicit
	// connect and then dropped on its own.
	autoReconnect bool
	// resumeStream records whether the device was streaming when the link
	// dropped, so a reconnect re-applies config and restarts the stream.
	resumeStream bool
	lastConfig   config.RadarConfig
	hasConfig    bool

	streamCancel context.CancelFunc
	streamDone   chan struct{}

	droppedBytes uint64
	resyncRun    int

	// deviceState is the last SYSTEM_STATE_x the device reported in a
	// command response.
	deviceState string
}

// New creates a radar driver. The sink is required; events and logf are
// optional.
func New(opts Options) *Driver {
	if opts.Logf == nil {
		opts.Logf = log.Printf
	}
	if opts.dial == nil {
		opts.dial = func(addr string) (net.Conn, error) {
			return net.DialTimeout("tcp", addr, 5*time.Second)
		}
	}
	return &Driver{opts: opts}
}

// State returns the current connection state.
func (d *Driver) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// Health maps the driver state onto the sensor health tri-state. The Idle
// health value is radar specific: connected but not streaming.
func (d *Driver) Health() model.SensorHealth {
	switch d.State() {
	case StateIdle:
		return model.HealthIdle
	case StateStreaming:
		return model.HealthOnline
	default:
		return model.HealthStandby
	}
}

// DroppedBytes reports how many stream bytes have been discarded during
// resynchronization since the driver was created.
func (d *Driver) DroppedBytes() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.droppedBytes
}

// Connect dials the radar command port and enters the Idle state. It arms
// automatic reconnection: if the link later drops on its own, the driver
// redials with exponential backoff until Disconnect is called.
func (d *Driver) Connect() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.state != StateDisconnected {
		return errkind.Wrap(errkind.StateError, fmt.Errorf("radar: already connected (%s)", d.state))
	}
	if err := d.dialLocked(); err != nil {
		return err
	}
	d.autoReconnect = true
	return nil
}

func (d *Driver) dialLocked() error {
	addr := net.JoinHostPort(d.opts.Host, fmt.Sprint(d.opts.CommandPort))
	conn, err := d.opts.dial(addr)
	if err != nil {
		return errkind.Wrap(errkind.ConnectError, fmt.Errorf("radar: dial %s: %w", addr, err))
	}
	d.conn = conn
	d.reader = bufio.NewReaderSize(conn, readChunk)
	d.state = StateIdle
	d.opts.Logf("[radar] connected to %s", addr)
	return nil
}

// Start applies cfg, sends MODE:SWT:START, and launches the stream loop; cfg
// is kept for re-application after an automatic reconnect. The device rejects
// configuration while streaming, so parameters always go first.
func (d *Driver) Start(cfg config.RadarConfig) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	switch d.state {
	case StateDisconnected:
		return errkind.Wrap(errkind.StateError, fmt.Errorf("radar: start requires a connection"))
	case StateStreaming:
		return nil // idempotent
	}
	if err := d.applyConfigLocked(cfg); err != nil {
		return err
	}
	d.lastConfig = cfg
	d.hasConfig = true
	if _, err := d.sendCommand(cmdStreamStart); err != nil {
		return err
	}
	d.startStreamLocked()
	return nil
}

func (d *Driver) startStreamLocked() {
	d.state = StateStreaming
	d.resumeStream = true
	ctx, cancel := context.WithCancel(context.Background())
	d.streamCancel = cancel
	d.streamDone = make(chan struct{})
	go d.streamLoop(ctx, d.conn, d.reader, d.streamDone)
}

// Stop halts the binary stream and returns the device to Idle.
func (d *Driver) Stop() error {
	d.mu.Lock()
	if d.state != StateStreaming {
		d.mu.Unlock()
		return nil // idempotent
	}
	d.stopStreamLocked()
	d.state = StateIdle
	d.resumeStream = false
	_, err := d.sendCommand(cmdStreamStop)
	d.mu.Unlock()
	return err
}

func (d *Driver) stopStreamLocked() {
	if d.streamCancel != nil {
		d.streamCancel()
		d.streamCancel = nil
	}
	done := d.streamDone
	d.streamDone = nil
	if done != nil {
		d.mu.Unlock()
		<-done
		d.mu.Lock()
	}
}

// Disconnect closes the connection and disarms automatic reconnection. The
// driver stays down until the operator connects again.
func (d *Driver) Disconnect() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.autoReconnect = false
	d.resumeStream = false
	if d.state == StateStreaming {
		d.stopStreamLocked()
	}
	if d.conn != nil {
		d.conn.Close()
		d.conn = nil
		d.reader = nil
	}
	d.state = StateDisconnected
	d.opts.Logf("[radar] disconnected")
	return nil
}

// streamLoop reads the framed binary track stream until the context is
// cancelled or the connection fails. On tag mismatch it discards one byte at
// a time (bounded by resyncBudget); on connection loss it hands off to the
// reconnect loop if auto-reconnect is armed.
func (d *Driver) streamLoop(ctx context.Context, conn net.Conn, reader *bufio.Reader, done chan struct{}) {
	defer close(done)

	var buf []byte
	chunk := make([]byte, readChunk)
	lastData := time.Now()

	for {
		if ctx.Err() != nil {
			return
		}
		conn.SetReadDeadline(time.Now().Add(streamReadTimeout))
		n, err := reader.Read(chunk)
		if n > 0 {
			lastData = time.Now()
			buf = append(buf, chunk[:n]...)
			buf = d.drainPackets(buf)
		}
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				if d.opts.DataTimeout > 0 && time.Since(lastData) > d.opts.DataTimeout {
					d.reportError(errkind.Wrap(errkind.Timeout, fmt.Errorf("radar: no track data for %s", d.opts.DataTimeout)))
					d.connectionLost(ctx)
					return
				}
				continue
			}
			if ctx.Err() != nil {
				return
			}
			if err == io.EOF {
				err = fmt.Errorf("radar: peer closed stream")
			}
			d.reportError(errkind.Wrap(errkind.ConnLost, fmt.Errorf("radar: stream read: %w", err)))
			d.connectionLost(ctx)
			return
		}
	}
}

// drainPackets parses every complete packet at the front of buf, emitting
// measurements, and returns the unconsumed remainder. Bad tags cost one byte
// each; a full resyncBudget of discarded bytes without a tag match reports a
// ProtocolError driver event and the hunt for a tag continues on the same
// buffer.
func (d *Driver) drainPackets(buf []byte) []byte {
	for {
		idx := findSync(buf)
		if idx < 0 {
			// no candidate tag anywhere; keep only the last few bytes in case
			// a tag straddles the chunk boundary
			d.countDropped(len(buf) - (len(tagMagic) - 1))
			if len(buf) > len(tagMagic)-1 {
				buf = buf[len(buf)-(len(tagMagic)-1):]
			}
			return buf
		}
		if idx > 0 {
			d.countDropped(idx)
			buf = buf[idx:]
		}
		meas, consumed, ok, err := parsePacket(buf, d.opts.Thresholds, time.Now())
		if err != nil {
			// malformed packet behind a valid-looking tag: drop one byte and
			// hunt for the next tag
			d.countDropped(1)
			buf = buf[1:]
			continue
		}
		if !ok {
			return buf // incomplete; wait for more data
		}
		for _, m := range meas {
			d.opts.Sink.Push(m)
		}
		buf = buf[consumed:]
		d.mu.Lock()
		d.resyncRun = 0
		d.mu.Unlock()
	}
}

func (d *Driver) countDropped(n int) {
	if n <= 0 {
		return
	}
	d.mu.Lock()
	d.droppedBytes += uint64(n)
	d.resyncRun += n
	over := d.resyncRun >= resyncBudget
	if over {
		d.resyncRun = 0
	}
	d.mu.Unlock()
	if over {
		d.reportError(errkind.Wrap(errkind.ProtocolError, fmt.Errorf("radar: resync budget exceeded (%d bytes discarded)", resyncBudget)))
	}
}

// connectionLost transitions to Standby-equivalent and, when armed, redials
// with exponential backoff, re-applies the persisted configuration, and
// restarts streaming.
func (d *Driver) connectionLost(ctx context.Context) {
	d.mu.Lock()
	if d.conn != nil {
		d.conn.Close()
		d.conn = nil
		d.reader = nil
	}
	d.state = StateDisconnected
	d.streamCancel = nil
	reconnect := d.autoReconnect
	resume := d.resumeStream
	cfg := d.lastConfig
	hasCfg := d.hasConfig
	d.mu.Unlock()

	if !reconnect {
		return
	}

	backoff := 500 * time.Millisecond
	const maxBackoff = 30 * time.Second
	for {
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}

		d.mu.Lock()
		if !d.autoReconnect || d.state != StateDisconnected {
			d.mu.Unlock()
			return
		}
		err := d.dialLocked()
		if err == nil && resume && hasCfg {
			if cerr := d.applyConfigLocked(cfg); cerr != nil {
				err = cerr
			} else if _, serr := d.sendCommand(cmdStreamStart); serr != nil {
				err = serr
			} else {
				d.startStreamLocked()
			}
		}
		d.mu.Unlock()

		if err == nil {
			d.opts.Logf("[radar] reconnected")
			return
		}
		d.opts.Logf("[radar] reconnect failed: %v (retrying in %s)", err, backoff)
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

func (d *Driver) reportError(err error) {
	d.opts.Logf("[radar] %v", err)
	if d.opts.Events != nil {
		d.opts.Events.Record(model.Event{
			Kind:      model.EventDriverError,
			Timestamp: time.Now(),
			Sensor:    "radar",
			Detail:    err.Error(),
		})
	}
}
