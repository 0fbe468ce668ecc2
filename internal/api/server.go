// Package api serves the display/command surface over HTTP: fused track
// snapshots, ownship, sensor health, engagement commands, and a /debug/
// admin namespace with live diagnostics.
package api

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"tailscale.com/tsweb"

	"github.com/louwxander-cell/Centauri-C2/internal/config"
	"github.com/louwxander-cell/Centauri-C2/internal/errkind"
	"github.com/louwxander-cell/Centauri-C2/internal/fusion"
	"github.com/louwxander-cell/Centauri-C2/internal/gnss"
	"github.com/louwxander-cell/Centauri-C2/internal/orchestrator"
	"github.com/louwxander-cell/Centauri-C2/internal/store"
	"github.com/louwxander-cell/Centauri-C2/internal/version"
)

// Server exposes the orchestration bridge over HTTP.
type Server struct {
	bridge *orchestrator.Bridge
	engine *fusion.Engine
	gnss   *gnss.Driver
	store  *store.Store
	logf   func(format string, args ...any)

	mux *http.ServeMux
}

// NewServer builds the route table. gnssDriver and journal may be nil.
func NewServer(bridge *orchestrator.Bridge, engine *fusion.Engine, gnssDriver *gnss.Driver, journal *store.Store, logf func(string, ...any)) *Server {
	if logf == nil {
		logf = log.Printf
	}
	s := &Server{
		bridge: bridge,
		engine: engine,
		gnss:   gnssDriver,
		store:  journal,
		logf:   logf,
		mux:    http.NewServeMux(),
	}
	s.routes()
	return s
}

// ServeMux returns the underlying mux so callers can attach extra routes
// before Start.
func (s *Server) ServeMux() *http.ServeMux { return s.mux }

// Start serves until the listener fails.
func (s *Server) Start(addr string) error {
	s.logf("[api] listening on %s", addr)
	return http.ListenAndServe(addr, s.mux)
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /api/tracks", s.handleTracks)
	s.mux.HandleFunc("GET /api/ownship", s.handleOwnship)
	s.mux.HandleFunc("GET /api/health", s.handleHealth)
	s.mux.HandleFunc("GET /api/stations", s.handleStations)
	s.mux.HandleFunc("GET /api/engagement", s.handleEngagement)
	s.mux.HandleFunc("GET /api/events", s.handleEvents)

	s.mux.HandleFunc("POST /api/engage", s.handleEngage)
	s.mux.HandleFunc("POST /api/disengage", s.handleDisengage)

	s.mux.HandleFunc("POST /api/radar/connect", s.radarCommand(s.bridge.ConnectRadar))
	s.mux.HandleFunc("POST /api/radar/start", s.radarCommand(s.bridge.StartRadar))
	s.mux.HandleFunc("POST /api/radar/stop", s.radarCommand(s.bridge.StopRadar))
	s.mux.HandleFunc("POST /api/radar/disconnect", s.radarCommand(s.bridge.DisconnectRadar))
	s.mux.HandleFunc("GET /api/radar/identify", s.handleRadarIdentify)
	s.mux.HandleFunc("GET /api/radar/selftest", s.handleRadarSelfTest)
	s.mux.HandleFunc("GET /api/radar/config", s.handleRadarConfigGet)
	s.mux.HandleFunc("POST /api/radar/config", s.handleRadarConfigSet)

	s.attachDebugRoutes()
}

// attachDebugRoutes builds the /debug/ admin namespace: reachable over
// localhost or the tailnet, never exposed to the display network.
func (s *Server) attachDebugRoutes() {
	debug := tsweb.Debugger(s.mux)
	debug.KV("Version", version.Version)
	debug.KVFunc("Tracks", func() any { return len(s.bridge.Tracks()) })
	debug.KVFunc("QueueDrops", func() any { return fmt.Sprint(s.engine.QueueDepths()) })
	debug.KVFunc("Engagement", func() any { return string(s.bridge.Engagement().Phase) })

	debug.Handle("gnss", "GNSS sentence diagnostics", http.HandlerFunc(s.handleGNSSDiag))
	debug.Handle("engaged-chart", "Engaged track history chart", http.HandlerFunc(s.handleEngagedChart))
}

func (s *Server) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logf("[api] encode response: %v", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}

// statusForError maps error kinds onto HTTP statuses.
func statusForError(err error) int {
	switch {
	case errkind.Is(err, errkind.TrackNotFound):
		return http.StatusNotFound
	case errkind.Is(err, errkind.StateError), errkind.Is(err, errkind.DeviceBusy):
		return http.StatusConflict
	case errkind.Is(err, errkind.ConfigError):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) handleTracks(w http.ResponseWriter, r *http.Request) {
	tracks := s.bridge.Tracks()
	s.writeJSON(w, map[string]any{
		"tracks": tracks,
		"total":  len(tracks),
	})
}

func (s *Server) handleOwnship(w http.ResponseWriter, r *http.Request) {
	own, fixed := s.bridge.Ownship()
	s.writeJSON(w, map[string]any{"ownship": own, "fixed": fixed})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, s.bridge.Health())
}

func (s *Server) handleStations(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, s.bridge.Stations())
}

func (s *Server) handleEngagement(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, s.bridge.Engagement())
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		s.writeJSON(w, []store.Event{})
		return
	}
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 10000 {
			limit = n
		}
	}
	events, err := s.store.RecentEvents(limit)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, events)
}

type engageRequest struct {
	TrackID    int    `json:"track_id"`
	OperatorID string `json:"operator_id"`
}

func (s *Server) handleEngage(w http.ResponseWriter, r *http.Request) {
	var req engageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("api: decode engage request: %w", err))
		return
	}
	if req.OperatorID == "" {
		req.OperatorID = "unknown"
	}
	if err := s.bridge.EngageTrack(req.TrackID, req.OperatorID); err != nil {
		s.writeError(w, statusForError(err), err)
		return
	}
	s.writeJSON(w, map[string]any{"engaged": req.TrackID})
}

func (s *Server) handleDisengage(w http.ResponseWriter, r *http.Request) {
	if err := s.bridge.DisengageTrack(); err != nil {
		s.writeError(w, statusForError(err), err)
		return
	}
	s.writeJSON(w, map[string]any{"engaged": nil})
}

func (s *Server) radarCommand(op func() error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := op(); err != nil {
			s.writeError(w, statusForError(err), err)
			return
		}
		s.writeJSON(w, s.bridge.Health())
	}
}

func (s *Server) handleRadarIdentify(w http.ResponseWriter, r *http.Request) {
	idn, err := s.bridge.RadarIdentify()
	if err != nil {
		s.writeError(w, statusForError(err), err)
		return
	}
	s.writeJSON(w, map[string]string{"identification": idn})
}

func (s *Server) handleRadarSelfTest(w http.ResponseWriter, r *http.Request) {
	report, err := s.bridge.RadarSelfTest()
	if err != nil {
		s.writeError(w, statusForError(err), err)
		return
	}
	s.writeJSON(w, map[string]string{"self_test": report})
}

func (s *Server) handleRadarConfigGet(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, s.bridge.RadarConfig())
}

func (s *Server) handleRadarConfigSet(w http.ResponseWriter, r *http.Request) {
	var cfg config.RadarConfig
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("api: decode radar config: %w", err))
		return
	}
	if err := s.bridge.ConfigureRadar(cfg); err != nil {
		s.writeError(w, statusForError(err), err)
		return
	}
	s.writeJSON(w, cfg)
}

func (s *Server) handleGNSSDiag(w http.ResponseWriter, r *http.Request) {
	if s.gnss == nil {
		s.writeError(w, http.StatusNotFound, fmt.Errorf("api: gnss driver not running"))
		return
	}
	own, fixed := s.gnss.Snapshot()
	s.writeJSON(w, map[string]any{
		"diagnostics":       s.gnss.Diagnostics(),
		"ownship":           own,
		"fixed":             fixed,
		"heading_available": s.gnss.HeadingAvailable(),
		"time":              time.Now(),
	})
}
