// Package state holds the node's current view of the authoritative round.
// On the coordinator the engine writes it synchronously as phases advance;
// on followers it is mirrored from broadcast events. Stake validation and
// the snapshot sent to newly attached connections both read from here.
package state

import (
	"sync"

	"github.com/google/uuid"

	"github.com/altiplay/altiplay/internal/broadcast"
	"github.com/altiplay/altiplay/internal/models"
)

// Snapshot is a consistent read of the current round state.
type Snapshot struct {
	Phase      models.RoundPhase `json:"phase"`
	RoundID    uuid.UUID         `json:"round_id"`
	Multiplier int64             `json:"multiplier"` // thousandths; 0 outside flight
	SeedHash   string            `json:"seed_hash,omitempty"`
}

// View is the mutable current-round state.
type View struct {
	mu   sync.RWMutex
	snap Snapshot
}

func NewView() *View {
	return &View{snap: Snapshot{Phase: models.PhaseWaiting}}
}

// Snapshot returns the current state.
func (v *View) Snapshot() Snapshot {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.snap
}

// SetPhase records a phase transition. Entering betting_open binds the new
// round and its seed hash; leaving the flight zeroes the multiplier.
func (v *View) SetPhase(phase models.RoundPhase, roundID uuid.UUID, seedHash string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.snap.Phase = phase
	switch phase {
	case models.PhaseWaiting:
		v.snap.RoundID = uuid.Nil
		v.snap.Multiplier = 0
		v.snap.SeedHash = ""
	case models.PhaseBettingOpen:
		v.snap.RoundID = roundID
		v.snap.Multiplier = 0
		v.snap.SeedHash = seedHash
	case models.PhaseInFlight:
		v.snap.Multiplier = 1000
	}
}

// SetMultiplier records the current tick value.
func (v *View) SetMultiplier(m int64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.snap.Multiplier = m
}

// Apply mirrors a broadcast event into the view. Followers drive their view
// exclusively through this; applying events in publish order reproduces the
// coordinator's state.
func (v *View) Apply(ev broadcast.Event) {
	roundID := uuid.Nil
	if ev.RoundID != "" {
		if id, err := uuid.Parse(ev.RoundID); err == nil {
			roundID = id
		}
	}

	switch ev.Type {
	case broadcast.EventTypePhase:
		v.SetPhase(ev.Phase, roundID, ev.SeedHash)
	case broadcast.EventTypeTick:
		v.SetMultiplier(ev.Multiplier)
	case broadcast.EventTypeCrash:
		v.SetPhase(models.PhaseCrashed, roundID, "")
		v.SetMultiplier(ev.Multiplier)
	}
}

// MirrorSink adapts a View into a broadcast sink. Attached to the bus on
// follower nodes only; the coordinator's view is owned by the engine.
type MirrorSink struct {
	View *View
}

func (s MirrorSink) Deliver(ev broadcast.Event) {
	s.View.Apply(ev)
}
