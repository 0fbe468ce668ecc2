// Package orchestrator wires the sensor drivers, the fusion engine, the
// engagement controller, and the gunner broadcast service together, and
// exposes the snapshot and command surface the display layer consumes. The
// bridge owns references to all of them but mutates none directly except
// through their published operations.
package orchestrator

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/louwxander-cell/Centauri-C2/internal/config"
	"github.com/louwxander-cell/Centauri-C2/internal/engagement"
	"github.com/louwxander-cell/Centauri-C2/internal/errkind"
	"github.com/louwxander-cell/Centauri-C2/internal/fusion"
	"github.com/louwxander-cell/Centauri-C2/internal/gnss"
	"github.com/louwxander-cell/Centauri-C2/internal/gunner"
	"github.com/louwxander-cell/Centauri-C2/internal/model"
	"github.com/louwxander-cell/Centauri-C2/internal/radar"
	"github.com/louwxander-cell/Centauri-C2/internal/rfsensor"
)

// tickInterval is the fusion/orchestration cadence.
const tickInterval = time.Second / 30

// MultiSink fans events out to several sinks (journal, log, a future
// mission recorder).
type MultiSink []model.EventSink

func (m MultiSink) Record(ev model.Event) {
	for _, s := range m {
		if s != nil {
			s.Record(ev)
		}
	}
}

// Options carries the wired components. A nil driver means that sensor is
// disabled and held Offline.
type Options struct {
	Config       *config.Config
	RadarCfgPath string

	Radar *radar.Driver
	RF    *rfsensor.Driver
	GNSS  *gnss.Driver

	Engine     *fusion.Engine
	Controller *engagement.Controller
	Gunner     *gunner.Service

	Events model.EventSink
	Logf   func(format string, args ...any)
}

// Bridge is the single orchestration task. Only its Run loop drives the
// fusion tick.
type Bridge struct {
	opts Options

	mu         sync.Mutex
	radarCfg   config.RadarConfig
	lastHealth map[string]model.SensorHealth
}

// New creates a bridge and loads the persisted radar configuration.
func New(opts Options) (*Bridge, error) {
	if opts.Logf == nil {
		opts.Logf = log.Printf
	}
	b := &Bridge{opts: opts, lastHealth: make(map[string]model.SensorHealth)}

	cfg, err := config.LoadRadarConfig(opts.RadarCfgPath)
	if err != nil {
		return nil, err
	}
	b.radarCfg = cfg
	return b, nil
}

// Run drives the orchestration loop until the context is cancelled: pull
// the ownship snapshot into the RF driver, tick fusion, update the
// engagement controller, and watch sensor health transitions.
func (b *Bridge) Run(ctx context.Context) {
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			b.Tick(now)
		}
	}
}

// Tick runs one orchestration cycle. Exported so tests and replay tooling
// can drive the loop deterministically; production code only calls it from
// Run.
func (b *Bridge) Tick(now time.Time) {
	if b.opts.GNSS != nil && b.opts.RF != nil {
		if own, ok := b.opts.GNSS.Snapshot(); ok {
			b.opts.RF.SetOwnShip(own)
		}
	}

	b.opts.Engine.Tick(now)
	b.opts.Controller.Update(b.opts.Engine.Snapshot(), now)
	b.watchHealth(now)
}

// watchHealth records an event whenever a sensor's health tri-state
// changes.
func (b *Bridge) watchHealth(now time.Time) {
	current := b.Health()
	b.mu.Lock()
	defer b.mu.Unlock()
	for sensor, h := range current {
		if prev, ok := b.lastHealth[sensor]; !ok || prev != h {
			b.lastHealth[sensor] = h
			if b.opts.Events != nil {
				b.opts.Events.Record(model.Event{
					Kind:      model.EventSensorHealth,
					Timestamp: now,
					Sensor:    sensor,
					Detail:    string(h),
				})
			}
		}
	}
}

// Health returns the tri-state health of each sensor. Disabled sensors are
// Offline regardless of driver state.
func (b *Bridge) Health() map[string]model.SensorHealth {
	out := map[string]model.SensorHealth{
		"radar": model.HealthOffline,
		"rf":    model.HealthOffline,
		"gnss":  model.HealthOffline,
	}
	if b.opts.Config.RadarEnabled() && b.opts.Radar != nil {
		out["radar"] = b.opts.Radar.Health()
	}
	if b.opts.Config.RFEnabled() && b.opts.RF != nil {
		out["rf"] = b.opts.RF.Health()
	}
	if b.opts.Config.GPSEnabled() && b.opts.GNSS != nil {
		out["gnss"] = b.opts.GNSS.Health()
	}
	return out
}

// Tracks returns the latest fused snapshot, stable-ordered by id with
// threat scores attached.
func (b *Bridge) Tracks() []model.Track {
	return b.opts.Engine.Snapshot()
}

// Ownship returns the latest ownship state and whether a fix exists.
func (b *Bridge) Ownship() (model.OwnShip, bool) {
	if b.opts.GNSS == nil {
		return model.OwnShip{}, false
	}
	return b.opts.GNSS.Snapshot()
}

// Stations returns the gunner station registry.
func (b *Bridge) Stations() []model.GunnerStatus {
	if b.opts.Gunner == nil {
		return nil
	}
	return b.opts.Gunner.Stations()
}

// Engagement returns the current engagement state.
func (b *Bridge) Engagement() model.EngagementState {
	return b.opts.Controller.State()
}

// RadarConfig returns the active (persisted) radar configuration.
func (b *Bridge) RadarConfig() config.RadarConfig {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.radarCfg
}

func (b *Bridge) requireRadar() (*radar.Driver, error) {
	if !b.opts.Config.RadarEnabled() || b.opts.Radar == nil {
		return nil, errkind.Wrap(errkind.StateError, fmt.Errorf("orchestrator: radar sensor disabled"))
	}
	return b.opts.Radar, nil
}

// ConnectRadar dials the radar command port.
func (b *Bridge) ConnectRadar() error {
	d, err := b.requireRadar()
	if err != nil {
		return err
	}
	return d.Connect()
}

// StartRadar applies the persisted configuration and starts streaming.
func (b *Bridge) StartRadar() error {
	d, err := b.requireRadar()
	if err != nil {
		return err
	}
	return d.Start(b.RadarConfig())
}

// StopRadar halts streaming, back to Idle.
func (b *Bridge) StopRadar() error {
	d, err := b.requireRadar()
	if err != nil {
		return err
	}
	return d.Stop()
}

// DisconnectRadar closes the radar connection; no auto-reconnect follows.
func (b *Bridge) DisconnectRadar() error {
	d, err := b.requireRadar()
	if err != nil {
		return err
	}
	return d.Disconnect()
}

// RadarIdentify runs the *IDN? round-trip and returns the device's reply.
func (b *Bridge) RadarIdentify() (string, error) {
	d, err := b.requireRadar()
	if err != nil {
		return "", err
	}
	return d.Identify()
}

// RadarSelfTest runs the *TST? round-trip.
func (b *Bridge) RadarSelfTest() (string, error) {
	d, err := b.requireRadar()
	if err != nil {
		return "", err
	}
	return d.SelfTest()
}

// ConfigureRadar persists cfg atomically and, when the radar is connected
// and idle, applies it to the device immediately. Every StartRadar applies
// the persisted configuration before streaming. An automatic reconnect by the
// radar driver re-applies the configuration given to the last StartRadar; a
// configuration saved while streaming is not applied by that reconnect.
func (b *Bridge) ConfigureRadar(cfg config.RadarConfig) error {
	if err := config.SaveRadarConfig(b.opts.RadarCfgPath, cfg); err != nil {
		return err
	}
	b.mu.Lock()
	b.radarCfg = cfg
	b.mu.Unlock()

	if d, err := b.requireRadar(); err == nil && d.State() == radar.StateIdle {
		if err := d.ApplyConfig(cfg); err != nil {
			return err
		}
	}
	return nil
}

// EngageTrack designates a track for engagement.
func (b *Bridge) EngageTrack(trackID int, operatorID string) error {
	return b.opts.Controller.Engage(trackID, operatorID)
}

// DisengageTrack returns to Idle.
func (b *Bridge) DisengageTrack() error {
	return b.opts.Controller.Disengage()
}
