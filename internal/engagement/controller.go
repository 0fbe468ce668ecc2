// Package engagement holds the operator's engagement state and the
// highest-threat selection. A small hysteresis bonus keeps the highest
// priority selection from flapping between tracks with near-equal scores.
package engagement

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/louwxander-cell/Centauri-C2/internal/errkind"
	"github.com/louwxander-cell/Centauri-C2/internal/model"
)

// Controller owns the engagement state. Update runs on the orchestration
// tick; Engage and Disengage are operator commands and may arrive from any
// goroutine.
type Controller struct {
	mu sync.Mutex

	state model.EngagementState

	// sessionID correlates all events of one engagement in the journal.
	sessionID string

	hysteresisBonus float64
	events          model.EventSink
	logf            func(format string, args ...any)

	// latest reference to the fused snapshot, set by Update
	snapshot []model.Track
}

// New creates a controller in the Idle state. hysteresisBonus is the
// fractional preference for the incumbent highest-priority track (0.03 for
// 3%).
func New(hysteresisBonus float64, events model.EventSink, logf func(string, ...any)) *Controller {
	if logf == nil {
		logf = log.Printf
	}
	return &Controller{
		state:           model.EngagementState{Phase: model.PhaseIdle},
		hysteresisBonus: hysteresisBonus,
		events:          events,
		logf:            logf,
	}
}

// Update recomputes the highest-priority track from the latest fused
// snapshot and auto-disengages if the engaged track has vanished from it.
func (c *Controller) Update(snapshot []model.Track, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.snapshot = snapshot

	c.updateHighestLocked(snapshot)

	if c.state.Phase == model.PhaseEngaged {
		if _, ok := findTrack(snapshot, c.state.TrackID); !ok {
			lost := c.state.TrackID
			c.logf("[engagement] engaged track %d lost, auto-disengaging", lost)
			c.disengageLocked(now)
			if c.events != nil {
				c.events.Record(model.Event{
					Kind:      model.EventTrackLost,
					Timestamp: now,
					TrackID:   lost,
					Detail:    "engaged track lost, auto-disengaged",
				})
			}
		}
	}
}

// updateHighestLocked picks the track with the largest positive threat
// score, granting the incumbent its hysteresis bonus.
func (c *Controller) updateHighestLocked(snapshot []model.Track) {
	bestID := 0
	bestScore := 0.0
	found := false
	for _, t := range snapshot {
		score := t.ThreatScore
		if c.state.HasHighestPriority && t.ID == c.state.HighestPriorityID {
			score *= 1 + c.hysteresisBonus
		}
		if score > 0 && (!found || score > bestScore) {
			bestID = t.ID
			bestScore = score
			found = true
		}
	}
	c.state.HighestPriorityID = bestID
	c.state.HasHighestPriority = found
}

// HighestPriority returns the current highest-priority track id, if any
// track scores above zero.
func (c *Controller) HighestPriority() (int, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.HighestPriorityID, c.state.HasHighestPriority
}

// Engage validates the target against the latest fused snapshot and
// transitions to Engaged. Engaging the already-engaged track is a no-op;
// engaging a different track while engaged re-targets.
func (c *Controller) Engage(trackID int, operatorID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := findTrack(c.snapshot, trackID); !ok {
		return errkind.Wrap(errkind.TrackNotFound, fmt.Errorf("engagement: track %d not in current snapshot", trackID))
	}
	if c.state.Phase == model.PhaseEngaged && c.state.TrackID == trackID {
		return nil
	}

	now := time.Now()
	c.state.Phase = model.PhaseEngaged
	c.state.TrackID = trackID
	c.state.OperatorID = operatorID
	c.state.EngagedAt = now
	c.sessionID = uuid.NewString()
	c.logf("[engagement] operator %s engaged track %d (session %s)", operatorID, trackID, c.sessionID)
	if c.events != nil {
		c.events.Record(model.Event{
			Kind:      model.EventEngaged,
			Timestamp: now,
			TrackID:   trackID,
			Detail:    "operator=" + operatorID + " session=" + c.sessionID,
		})
	}
	return nil
}

// Disengage unconditionally returns to Idle. Disengaging while idle is a
// no-op.
func (c *Controller) Disengage() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state.Phase == model.PhaseIdle {
		return nil
	}
	c.disengageLocked(time.Now())
	return nil
}

func (c *Controller) disengageLocked(now time.Time) {
	id := c.state.TrackID
	c.state.Phase = model.PhaseIdle
	c.state.TrackID = 0
	c.state.OperatorID = ""
	c.state.EngagedAt = time.Time{}
	c.logf("[engagement] disengaged from track %d", id)
	if c.events != nil {
		c.events.Record(model.Event{
			Kind:      model.EventDisengaged,
			Timestamp: now,
			TrackID:   id,
			Detail:    "session=" + c.sessionID,
		})
	}
	c.sessionID = ""
}

// Engaged returns the engaged track id, or false when idle.
func (c *Controller) Engaged() (int, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state.Phase != model.PhaseEngaged {
		return 0, false
	}
	return c.state.TrackID, true
}

// State returns a copy of the full engagement state.
func (c *Controller) State() model.EngagementState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// SessionID returns the correlation id of the active engagement, or "".
func (c *Controller) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

func findTrack(snapshot []model.Track, id int) (model.Track, bool) {
	for _, t := range snapshot {
		if t.ID == id {
			return t, true
		}
	}
	return model.Track{}, false
}
