// Package gunner streams the engaged track to downstream gunner stations
// over UDP at 10 Hz and receives their status reports at roughly 1 Hz. The
// service owns both sockets and the station registry; everything else it
// reads comes from the fused snapshot and the engagement state.
package gunner

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"sort"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/louwxander-cell/Centauri-C2/internal/errkind"
	"github.com/louwxander-cell/Centauri-C2/internal/model"
)

const (
	// DefaultTrackPort carries C2 -> gunner track snapshots.
	DefaultTrackPort = 5100
	// DefaultStatusPort carries gunner -> C2 status reports.
	DefaultStatusPort = 5101
)

const (
	transmitInterval = 100 * time.Millisecond // 10 Hz
	sweepInterval    = 1 * time.Second
	rxReadTimeout    = 1 * time.Second
	shutdownDeadline = 2 * time.Second
)

// Options configures a Service.
type Options struct {
	BroadcastAddr string // host for the track stream, e.g. "192.168.1.255"
	TrackPort     int
	StatusPort    int

	// StaleAfter prunes stations silent for longer than this.
	StaleAfter time.Duration

	// Tracks returns the latest fused snapshot.
	Tracks func() []model.Track
	// Engaged returns the engaged track id, or false when idle.
	Engaged func() (int, bool)
	// AutoDisengage is invoked when the engaged id is missing from the
	// snapshot.
	AutoDisengage func(trackID int)
	// Ownship supplies broadcast context; ok=false zeroes the fields.
	Ownship func() (model.OwnShip, bool)

	RadarOnline func() bool
	RFOnline    func() bool

	// StatusCallback is invoked for each received status message, after the
	// registry update.
	StatusCallback func(model.GunnerStatus)

	Events model.EventSink
	Logf   func(format string, args ...any)
}

// Service owns the two UDP sockets and the station registry.
type Service struct {
	opts Options

	tx   net.PacketConn
	rx   *net.UDPConn
	dest *net.UDPAddr

	mu       sync.Mutex
	stations map[string]model.GunnerStatus
	sent     uint64

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// NewService binds both sockets. The transmit socket binds an ephemeral
// local port; the receive socket binds the configured status port.
func NewService(opts Options) (*Service, error) {
	if opts.Logf == nil {
		opts.Logf = log.Printf
	}
	if opts.TrackPort == 0 {
		opts.TrackPort = DefaultTrackPort
	}
	if opts.StatusPort == 0 {
		opts.StatusPort = DefaultStatusPort
	}
	if opts.StaleAfter == 0 {
		opts.StaleAfter = 10 * time.Second
	}

	dest, err := net.ResolveUDPAddr("udp4", net.JoinHostPort(opts.BroadcastAddr, fmt.Sprint(opts.TrackPort)))
	if err != nil {
		return nil, errkind.Wrap(errkind.ConfigError, fmt.Errorf("gunner: resolve broadcast %s: %w", opts.BroadcastAddr, err))
	}

	// the tx socket needs SO_BROADCAST for the all-ones or subnet-directed
	// broadcast destination
	lc := net.ListenConfig{
		Control: func(network, address string, c syscall.RawConn) error {
			var serr error
			if err := c.Control(func(fd uintptr) {
				serr = syscall.SetsockoptInt(int(fd), syscall.SOL_SOCKET, syscall.SO_BROADCAST, 1)
			}); err != nil {
				return err
			}
			return serr
		},
	}
	tx, err := lc.ListenPacket(context.Background(), "udp4", ":0")
	if err != nil {
		return nil, errkind.Wrap(errkind.ConnectError, fmt.Errorf("gunner: bind tx socket: %w", err))
	}

	rxPort := opts.StatusPort
	if rxPort < 0 {
		rxPort = 0 // ephemeral, for tests
	}
	rxAddr := &net.UDPAddr{Port: rxPort}
	rx, err := net.ListenUDP("udp4", rxAddr)
	if err != nil {
		tx.Close()
		return nil, errkind.Wrap(errkind.ConnectError, fmt.Errorf("gunner: bind status port %d: %w", opts.StatusPort, err))
	}

	return &Service{
		opts:     opts,
		tx:       tx,
		rx:       rx,
		dest:     dest,
		stations: make(map[string]model.GunnerStatus),
	}, nil
}

// StatusPort returns the bound status port, useful when configured as a
// negative value (ephemeral port) in tests.
func (s *Service) StatusPort() int {
	return s.rx.LocalAddr().(*net.UDPAddr).Port
}

// Run launches the transmit, receive, and sweep tasks. It returns
// immediately; Close joins them.
func (s *Service) Run(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)

	s.wg.Add(3)
	go func() {
		defer s.wg.Done()
		s.transmitLoop(ctx)
	}()
	go func() {
		defer s.wg.Done()
		s.receiveLoop(ctx)
	}()
	go func() {
		defer s.wg.Done()
		s.sweepLoop(ctx)
	}()
}

// Close stops all tasks, joining them with a deadline, and closes both
// sockets.
func (s *Service) Close() error {
	if s.cancel != nil {
		s.cancel()
	}
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(shutdownDeadline):
		s.opts.Logf("[gunner] shutdown deadline exceeded, closing sockets anyway")
	}
	s.tx.Close()
	return s.rx.Close()
}

// transmitLoop sends one snapshot datagram per tick while engaged, and
// nothing at all while idle. A missed tick is simply skipped: the next tick
// reads the newer snapshot.
func (s *Service) transmitLoop(ctx context.Context) {
	ticker := time.NewTicker(transmitInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.transmitOnce(time.Now())
		}
	}
}

func (s *Service) transmitOnce(now time.Time) {
	id, engaged := s.opts.Engaged()
	if !engaged {
		return
	}
	tracks := s.opts.Tracks()
	var engagedTrack *model.Track
	for i := range tracks {
		if tracks[i].ID == id {
			engagedTrack = &tracks[i]
			break
		}
	}
	if engagedTrack == nil {
		if s.opts.AutoDisengage != nil {
			s.opts.AutoDisengage(id)
		}
		return
	}

	snap := TracksSnapshot{
		Tracks:         []TrackUpdate{buildTrackUpdate(*engagedTrack, now)},
		TotalTracks:    len(tracks),
		TimestampNanos: now.UnixNano(),
	}
	if s.opts.RadarOnline != nil {
		snap.RadarOnline = s.opts.RadarOnline()
	}
	if s.opts.RFOnline != nil {
		snap.RFOnline = s.opts.RFOnline()
	}
	if s.opts.Ownship != nil {
		if own, ok := s.opts.Ownship(); ok {
			snap.OwnshipLat = own.LatDeg
			snap.OwnshipLon = own.LonDeg
			snap.OwnshipHeading = own.HeadingDeg
		}
	}

	data, err := json.Marshal(snap)
	if err != nil {
		s.opts.Logf("[gunner] marshal snapshot: %v", err)
		return
	}
	if _, err := s.tx.WriteTo(data, s.dest); err != nil {
		s.opts.Logf("[gunner] transmit: %v", err)
		return
	}
	s.mu.Lock()
	s.sent++
	s.mu.Unlock()
}

// receiveLoop decodes status datagrams into the station registry. The read
// blocks with a 1 second timeout so shutdown stays responsive.
func (s *Service) receiveLoop(ctx context.Context) {
	buf := make([]byte, 2048)
	for {
		if ctx.Err() != nil {
			return
		}
		s.rx.SetReadDeadline(time.Now().Add(rxReadTimeout))
		n, _, err := s.rx.ReadFromUDP(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			if ctx.Err() != nil {
				return
			}
			s.opts.Logf("[gunner] status receive: %v", err)
			continue
		}
		s.handleStatus(buf[:n], time.Now())
	}
}

func (s *Service) handleStatus(data []byte, now time.Time) {
	var msg StatusMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		s.opts.Logf("[gunner] malformed status datagram: %v", err)
		return
	}
	if msg.StationID == "" {
		s.opts.Logf("[gunner] status datagram without station_id dropped")
		return
	}

	status := msg.toModel(now)

	s.mu.Lock()
	_, known := s.stations[msg.StationID]
	s.stations[msg.StationID] = status
	s.mu.Unlock()

	if !known {
		s.opts.Logf("[gunner] station %s registered", msg.StationID)
		if s.opts.Events != nil {
			s.opts.Events.Record(model.Event{
				Kind:      model.EventStationRegistered,
				Timestamp: now,
				StationID: msg.StationID,
				Detail:    "report=" + uuid.NewString(),
			})
		}
	}
	if s.opts.StatusCallback != nil {
		s.opts.StatusCallback(status)
	}
}

// sweepLoop prunes stations that have gone silent.
func (s *Service) sweepLoop(ctx context.Context) {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep(time.Now())
		}
	}
}

// Sweep removes stations whose last report is older than StaleAfter.
func (s *Service) Sweep(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, st := range s.stations {
		if now.Sub(st.LastSeen) > s.opts.StaleAfter {
			delete(s.stations, id)
			s.opts.Logf("[gunner] station %s pruned after %.0fs silence", id, now.Sub(st.LastSeen).Seconds())
		}
	}
}

// Stations returns the registry contents, sorted by station id.
func (s *Service) Stations() []model.GunnerStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.GunnerStatus, 0, len(s.stations))
	for _, st := range s.stations {
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StationID < out[j].StationID })
	return out
}

// Sent reports how many track datagrams have been transmitted.
func (s *Service) Sent() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sent
}
