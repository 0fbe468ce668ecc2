package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/louwxander-cell/Centauri-C2/internal/model"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpenAppliesMigrations(t *testing.T) {
	s := openTestStore(t)
	n, err := s.CountEvents()
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestReopenExistingDatabase(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "journal.db")

	s, err := Open(path)
	require.NoError(t, err)
	s.Record(model.Event{Kind: model.EventEngaged, TrackID: 7, Timestamp: time.Now()})
	require.NoError(t, s.Close())

	s2, err := Open(path)
	require.NoError(t, err)
	defer s2.Close()
	n, err := s2.CountEvents()
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestRecordAndRecentEvents(t *testing.T) {
	s := openTestStore(t)
	now := time.Now()
	s.Record(model.Event{Kind: model.EventEngaged, TrackID: 7, Timestamp: now, Detail: "operator=op1"})
	s.Record(model.Event{Kind: model.EventTrackLost, TrackID: 7, Timestamp: now.Add(time.Second)})
	s.Record(model.Event{Kind: model.EventStationRegistered, StationID: "GUNNER_1", Timestamp: now.Add(2 * time.Second)})

	events, err := s.RecentEvents(10)
	require.NoError(t, err)
	require.Len(t, events, 3)
	// most recent first
	assert.Equal(t, string(model.EventStationRegistered), events[0].Kind)
	assert.Equal(t, "GUNNER_1", events[0].StationID)
	assert.Equal(t, string(model.EventEngaged), events[2].Kind)
	assert.Equal(t, 7, events[2].TrackID)
}

func TestRecentEventsLimit(t *testing.T) {
	s := openTestStore(t)
	for i := 0; i < 10; i++ {
		s.Record(model.Event{Kind: model.EventSensorHealth, Sensor: "radar", Timestamp: time.Now()})
	}
	events, err := s.RecentEvents(4)
	require.NoError(t, err)
	assert.Len(t, events, 4)
}

func TestRecordEventZeroTimestampStamped(t *testing.T) {
	s := openTestStore(t)
	s.Record(model.Event{Kind: model.EventDriverError, Sensor: "rf"})
	events, err := s.RecentEvents(1)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.WithinDuration(t, time.Now(), events[0].Timestamp, time.Minute)
}

func TestGunnerStatusUpsert(t *testing.T) {
	s := openTestStore(t)
	st := model.GunnerStatus{
		StationID: "GUNNER_1", CuedTrackID: 7, VisualLock: true,
		SelectedWeapon: "M230LF", RoundsRemaining: 180,
		OperatorID: "op1", LastSeen: time.Now(),
	}
	require.NoError(t, s.RecordGunnerStatus(st))

	st.RoundsRemaining = 150
	st.VisualLock = false
	require.NoError(t, s.RecordGunnerStatus(st))

	var rounds, lock int
	err := s.db.QueryRow(`SELECT rounds_remaining, visual_lock FROM gunner_status WHERE station_id = ?`, "GUNNER_1").
		Scan(&rounds, &lock)
	require.NoError(t, err)
	assert.Equal(t, 150, rounds)
	assert.Zero(t, lock)

	var count int
	require.NoError(t, s.db.QueryRow(`SELECT COUNT(*) FROM gunner_status`).Scan(&count))
	assert.Equal(t, 1, count)
}
