// Package store persists the mission event journal and the last known
// gunner station status to SQLite. The schema is managed by embedded
// golang-migrate migrations so deployed databases upgrade in place.
package store

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "modernc.org/sqlite"

	"github.com/louwxander-cell/Centauri-C2/internal/model"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store wraps the journal database.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the database at path and applies pending
// migrations.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	s := &Store{db: db}
	if err := s.applyPragmas(); err != nil {
		db.Close()
		return nil, err
	}
	if err := s.migrateUp(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// applyPragmas sets WAL mode and a busy timeout: the journal takes writes
// from the orchestration loop while the debug surface reads it.
func (s *Store) applyPragmas() error {
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := s.db.Exec(pragma); err != nil {
			return fmt.Errorf("store: %s: %w", pragma, err)
		}
	}
	return nil
}

func (s *Store) migrateUp() error {
	sub, err := fs.Sub(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("store: migrations subtree: %w", err)
	}
	sourceDriver, err := iofs.New(sub, ".")
	if err != nil {
		return fmt.Errorf("store: migration source: %w", err)
	}
	// Note: the migrate instance is not closed; the sqlite driver's Close
	// would close the sql.DB we manage ourselves.
	driver, err := sqlite.WithInstance(s.db, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("store: migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("store: migration instance: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("store: migrate up: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Record appends one event to the journal. Write errors are discarded
// without logging: the fusion path must never block or fail on journal
// writes, so callers treat this as fire-and-forget via the EventSink
// interface.
func (s *Store) Record(ev model.Event) {
	ts := ev.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	s.db.Exec(
		`INSERT INTO events (ts_unix_nanos, kind, track_id, station_id, sensor, detail)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		ts.UnixNano(), string(ev.Kind), ev.TrackID, ev.StationID, ev.Sensor, ev.Detail,
	)
}

var _ model.EventSink = (*Store)(nil)

// RecordGunnerStatus upserts the last known status of one station.
func (s *Store) RecordGunnerStatus(st model.GunnerStatus) error {
	_, err := s.db.Exec(
		`INSERT INTO gunner_status
		   (station_id, cued_track_id, visual_lock, ready_to_fire, selected_weapon,
		    rounds_remaining, weapon_armed, operator_id, last_seen_unix_nanos)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(station_id) DO UPDATE SET
		   cued_track_id=excluded.cued_track_id,
		   visual_lock=excluded.visual_lock,
		   ready_to_fire=excluded.ready_to_fire,
		   selected_weapon=excluded.selected_weapon,
		   rounds_remaining=excluded.rounds_remaining,
		   weapon_armed=excluded.weapon_armed,
		   operator_id=excluded.operator_id,
		   last_seen_unix_nanos=excluded.last_seen_unix_nanos`,
		st.StationID, st.CuedTrackID, boolInt(st.VisualLock), boolInt(st.ReadyToFire),
		st.SelectedWeapon, st.RoundsRemaining, boolInt(st.WeaponArmed), st.OperatorID,
		st.LastSeen.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("store: upsert gunner status %s: %w", st.StationID, err)
	}
	return nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// Event is one journal row as read back.
type Event struct {
	ID        int64     `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Kind      string    `json:"kind"`
	TrackID   int       `json:"track_id"`
	StationID string    `json:"station_id"`
	Sensor    string    `json:"sensor"`
	Detail    string    `json:"detail"`
}

// RecentEvents returns the newest events, most recent first.
func (s *Store) RecentEvents(limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.Query(
		`SELECT id, ts_unix_nanos, kind, track_id, station_id, sensor, detail
		 FROM events ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("store: query events: %w", err)
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var ev Event
		var ns int64
		if err := rows.Scan(&ev.ID, &ns, &ev.Kind, &ev.TrackID, &ev.StationID, &ev.Sensor, &ev.Detail); err != nil {
			return nil, fmt.Errorf("store: scan event: %w", err)
		}
		ev.Timestamp = time.Unix(0, ns)
		out = append(out, ev)
	}
	return out, rows.Err()
}

// CountEvents returns the total number of journal rows, for the debug
// surface.
func (s *Store) CountEvents() (int64, error) {
	var n int64
	err := s.db.QueryRow(`SELECT COUNT(*) FROM events`).Scan(&n)
	return n, err
}
