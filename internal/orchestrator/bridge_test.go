package orchestrator

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/louwxander-cell/Centauri-C2/internal/config"
	"github.com/louwxander-cell/Centauri-C2/internal/engagement"
	"github.com/louwxander-cell/Centauri-C2/internal/errkind"
	"github.com/louwxander-cell/Centauri-C2/internal/fusion"
	"github.com/louwxander-cell/Centauri-C2/internal/model"
)

func newTestBridge(t *testing.T, events model.EventSink) (*Bridge, *fusion.Queue) {
	t.Helper()
	cfg := &config.Config{Thresholds: config.DefaultThresholds()}
	engine := fusion.NewEngine(cfg.Thresholds, events, func(string, ...any) {})
	q := engine.NewQueue(64)
	ctrl := engagement.New(cfg.Thresholds.HysteresisBonus, events, func(string, ...any) {})

	b, err := New(Options{
		Config:       cfg,
		RadarCfgPath: filepath.Join(t.TempDir(), "radar_config.json"),
		Engine:       engine,
		Controller:   ctrl,
		Events:       events,
		Logf:         func(string, ...any) {},
	})
	require.NoError(t, err)
	return b, q
}

func pushRadar(t *testing.T, q *fusion.Queue, hint int, az, rangeM float64, ts time.Time) {
	t.Helper()
	m, err := model.NewMeasurement(model.SourceRadar, ts, az, 0)
	require.NoError(t, err)
	require.NoError(t, m.WithRange(rangeM))
	m.WithConfidence(0.8)
	m.Type = model.TypeUAV
	m.SensorTrackHint = hint
	m.HasSensorTrackHint = true
	q.Push(m)
}

func TestTickFusesAndUpdatesEngagement(t *testing.T) {
	b, q := newTestBridge(t, nil)
	now := time.Now()

	pushRadar(t, q, 7, 45, 400, now)
	b.Tick(now)

	tracks := b.Tracks()
	require.Len(t, tracks, 1)
	assert.Greater(t, tracks[0].ThreatScore, 0.0)

	id, ok := b.opts.Controller.HighestPriority()
	require.True(t, ok)
	assert.Equal(t, tracks[0].ID, id)
}

func TestEngageDisengageRoundTrip(t *testing.T) {
	b, q := newTestBridge(t, nil)
	now := time.Now()
	pushRadar(t, q, 7, 45, 400, now)
	b.Tick(now)

	trackID := b.Tracks()[0].ID
	require.NoError(t, b.EngageTrack(trackID, "op1"))
	st := b.Engagement()
	assert.Equal(t, model.PhaseEngaged, st.Phase)
	assert.Equal(t, trackID, st.TrackID)

	require.NoError(t, b.DisengageTrack())
	assert.Equal(t, model.PhaseIdle, b.Engagement().Phase)
}

func TestEngageUnknownTrackFails(t *testing.T) {
	b, _ := newTestBridge(t, nil)
	b.Tick(time.Now())
	err := b.EngageTrack(99, "op1")
	require.Error(t, err)
	assert.True(t, errkind.Is(err, errkind.TrackNotFound))
}

func TestAutoDisengageWhenTrackAges(t *testing.T) {
	events := &captureEvents{}
	b, q := newTestBridge(t, events)
	t0 := time.Now()

	pushRadar(t, q, 7, 45, 400, t0)
	b.Tick(t0)
	require.NoError(t, b.EngageTrack(b.Tracks()[0].ID, "op1"))

	// 6 seconds of silence exceeds the 5 second staleness window
	b.Tick(t0.Add(6 * time.Second))
	assert.Empty(t, b.Tracks())
	assert.Equal(t, model.PhaseIdle, b.Engagement().Phase)

	var lost bool
	for _, ev := range events.snapshot() {
		if ev.Kind == model.EventTrackLost {
			lost = true
		}
	}
	assert.True(t, lost)
}

func TestHealthOfflineWhenDisabled(t *testing.T) {
	b, _ := newTestBridge(t, nil)
	h := b.Health()
	assert.Equal(t, model.HealthOffline, h["radar"])
	assert.Equal(t, model.HealthOffline, h["rf"])
	assert.Equal(t, model.HealthOffline, h["gnss"])
}

func TestRadarCommandsRequireEnabledSensor(t *testing.T) {
	b, _ := newTestBridge(t, nil)
	for _, op := range []func() error{
		b.ConnectRadar, b.StartRadar, b.StopRadar, b.DisconnectRadar,
	} {
		err := op()
		require.Error(t, err)
		assert.True(t, errkind.Is(err, errkind.StateError))
	}
}

// Radar config persistence: a successful configure round-trips through the
// JSON file.
func TestConfigureRadarPersists(t *testing.T) {
	b, _ := newTestBridge(t, nil)

	cfg := config.DefaultRadarConfig()
	cfg.SearchAzFOVMinDeg = -45
	cfg.SearchAzFOVMaxDeg = 45
	cfg.IPv4 = "10.0.0.9"
	require.NoError(t, b.ConfigureRadar(cfg))

	reloaded, err := config.LoadRadarConfig(b.opts.RadarCfgPath)
	require.NoError(t, err)
	assert.Equal(t, cfg, reloaded)
	assert.Equal(t, cfg, b.RadarConfig())
}

func TestHealthTransitionEventsRecordedOnce(t *testing.T) {
	events := &captureEvents{}
	b, _ := newTestBridge(t, events)

	b.Tick(time.Now())
	first := len(events.snapshot())
	assert.Equal(t, 3, first, "one event per sensor on first observation")

	b.Tick(time.Now())
	assert.Equal(t, first, len(events.snapshot()), "unchanged health records nothing")
}

type captureEvents struct {
	events []model.Event
}

func (c *captureEvents) Record(ev model.Event) { c.events = append(c.events, ev) }

func (c *captureEvents) snapshot() []model.Event {
	return append([]model.Event(nil), c.events...)
}
