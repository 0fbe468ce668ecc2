// Package rfsensor drives the RF direction-finding receiver over a mutually
// authenticated TLS 1.2 connection. The sensor streams newline-delimited
// JSON detection publications in two fidelities: precision (aircraft and
// pilot position) and sector (a 45 degree bearing wedge). Detections are
// rotated into the vehicle body frame using the latest ownship fix and
// pushed to the fusion engine's queue.
package rfsensor

import (
	"bufio"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"os"
	"sync"
	"time"

	"github.com/louwxander-cell/Centauri-C2/internal/errkind"
	"github.com/louwxander-cell/Centauri-C2/internal/model"
)

// enableCommand is sent once after connect to switch on detection streaming.
const enableCommand = `{"detectionStatusEnabled": true}` + "\n"

const readTimeout = 1 * time.Second

// Options configures a Driver.
type Options struct {
	Host string
	Port int

	ClientCertPath string
	ClientKeyPath  string
	CACertPath     string

	Sink   model.MeasurementSink
	Events model.EventSink
	Logf   func(format string, args ...any)

	// dial is swapped out by tests to avoid a real TLS handshake.
	dial func(ctx context.Context) (net.Conn, error)
}

// Driver owns the RF TLS connection and its read loop.
type Driver struct {
	opts Options

	mu      sync.Mutex
	own     model.OwnShip
	haveOwn bool
	health  model.SensorHealth

	parsed  uint64
	dropped uint64
}

// New creates an RF driver in the Standby state.
func New(opts Options) *Driver {
	if opts.Logf == nil {
		opts.Logf = log.Printf
	}
	d := &Driver{opts: opts, health: model.HealthStandby}
	if d.opts.dial == nil {
		d.opts.dial = d.dialTLS
	}
	return d
}

// SetOwnShip updates the ownship fix used to rotate true-north-framed
// detections into the body frame. Called by the orchestration bridge each
// tick.
func (d *Driver) SetOwnShip(own model.OwnShip) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.own = own
	d.haveOwn = true
}

// Health returns the sensor health tri-state.
func (d *Driver) Health() model.SensorHealth {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.health
}

// Stats reports how many detections have been parsed and how many were
// dropped (malformed JSON or missing ownship).
func (d *Driver) Stats() (parsed, dropped uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.parsed, d.dropped
}

func (d *Driver) setHealth(h model.SensorHealth) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.health = h
}

// loadTLSConfig builds the mutual-auth TLS configuration from the
// certificate files on disk.
func (d *Driver) loadTLSConfig() (*tls.Config, error) {
	cert, err := tls.LoadX509KeyPair(d.opts.ClientCertPath, d.opts.ClientKeyPath)
	if err != nil {
		return nil, errkind.Wrap(errkind.ConfigError, fmt.Errorf("rf: load client certificate: %w", err))
	}
	caPEM, err := os.ReadFile(d.opts.CACertPath)
	if err != nil {
		return nil, errkind.Wrap(errkind.ConfigError, fmt.Errorf("rf: read CA chain: %w", err))
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(caPEM) {
		return nil, errkind.Wrap(errkind.ConfigError, fmt.Errorf("rf: no certificates in CA chain %s", d.opts.CACertPath))
	}
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		RootCAs:      pool,
		MinVersion:   tls.VersionTLS12,
		MaxVersion:   tls.VersionTLS12,
	}, nil
}

func (d *Driver) dialTLS(ctx context.Context) (net.Conn, error) {
	tlsCfg, err := d.loadTLSConfig()
	if err != nil {
		return nil, err
	}
	addr := net.JoinHostPort(d.opts.Host, fmt.Sprint(d.opts.Port))
	dialer := &tls.Dialer{NetDialer: &net.Dialer{Timeout: 5 * time.Second}, Config: tlsCfg}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, errkind.Wrap(errkind.TlsError, fmt.Errorf("rf: dial %s: %w", addr, err))
	}
	return conn, nil
}

// Run connects and reads detections until the context is cancelled,
// reconnecting with exponential backoff on connection loss. ConfigError
// (bad certificates) is fatal for this driver and returned.
func (d *Driver) Run(ctx context.Context) error {
	backoff := 500 * time.Millisecond
	const maxBackoff = 30 * time.Second

	for ctx.Err() == nil {
		d.setHealth(model.HealthStandby)
		conn, err := d.opts.dial(ctx)
		if err != nil {
			if errkind.Is(err, errkind.ConfigError) {
				d.setHealth(model.HealthOffline)
				return err
			}
			d.reportError(err)
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

		backoff = 500 * time.Millisecond
		err = d.readLoop(ctx, conn)
		conn.Close()
		if err != nil {
			d.reportError(err)
		}
	}
	return nil
}

// readLoop enables detection streaming and consumes newline-delimited JSON
// until the connection fails or the context is cancelled. A malformed JSON
// object is dropped without tearing the connection down.
func (d *Driver) readLoop(ctx context.Context, conn net.Conn) error {
	if _, err := conn.Write([]byte(enableCommand)); err != nil {
		return errkind.Wrap(errkind.ConnLost, fmt.Errorf("rf: send enable: %w", err))
	}
	d.setHealth(model.HealthOnline)
	d.opts.Logf("[rf] connected, detection streaming enabled")

	reader := bufio.NewReader(conn)
	for {
		if ctx.Err() != nil {
			return nil
		}
		conn.SetReadDeadline(time.Now().Add(readTimeout))
		line, err := reader.ReadBytes('\n')
		if len(line) > 0 {
			d.handleLine(line)
		}
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			if ctx.Err() != nil {
				return nil
			}
			return errkind.Wrap(errkind.ConnLost, fmt.Errorf("rf: read: %w", err))
		}
	}
}

// handleLine decodes one JSON object and pushes the measurements it yields.
func (d *Driver) handleLine(line []byte) {
	var pub detectionPublication
	if err := json.Unmarshal(line, &pub); err != nil {
		d.mu.Lock()
		d.dropped++
		d.mu.Unlock()
		d.reportError(errkind.Wrap(errkind.ProtocolError, fmt.Errorf("rf: malformed JSON: %w", err)))
		return
	}
	if pub.DetectionPublication == nil {
		return
	}

	d.mu.Lock()
	own, haveOwn := d.own, d.haveOwn
	d.mu.Unlock()

	now := time.Now()
	all := append(pub.DetectionPublication.OmniDetections, pub.DetectionPublication.SectorDetections...)
	for _, det := range all {
		m, err := toMeasurement(det, own, haveOwn, now)
		if err != nil {
			d.mu.Lock()
			d.dropped++
			d.mu.Unlock()
			d.reportError(errkind.Wrap(errkind.ProtocolError, err))
			continue
		}
		if m == nil {
			// precision detection with no ownship fix yet
			d.mu.Lock()
			d.dropped++
			d.mu.Unlock()
			continue
		}
		d.mu.Lock()
		d.parsed++
		d.mu.Unlock()
		d.opts.Sink.Push(m)
	}
}

func (d *Driver) reportError(err error) {
	d.opts.Logf("[rf] %v", err)
	if d.opts.Events != nil {
		d.opts.Events.Record(model.Event{
			Kind:      model.EventDriverError,
			Timestamp: time.Now(),
			Sensor:    "rf",
			Detail:    err.Error(),
		})
	}
}
