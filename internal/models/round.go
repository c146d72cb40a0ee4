package models

import (
	"time"

	"github.com/google/uuid"
)

// RoundPhase defines where a round is in its lifecycle. Phases advance in a
// strict cycle: waiting -> betting_open -> betting_closed -> in_flight ->
// crashed -> settlement -> waiting.
type RoundPhase string

const (
	PhaseWaiting       RoundPhase = "waiting"
	PhaseBettingOpen   RoundPhase = "betting_open"
	PhaseBettingClosed RoundPhase = "betting_closed"
	PhaseInFlight      RoundPhase = "in_flight"
	PhaseCrashed       RoundPhase = "crashed"
	PhaseSettlement    RoundPhase = "settlement"
)

// Round represents one complete betting/flight/settlement cycle.
//
// CrashPoint is a fixed-point multiplier in thousandths (2530 = 2.530x).
// Multipliers and money amounts are integers everywhere; floats never touch
// settlement math.
type Round struct {
	ID         uuid.UUID  `json:"id"`
	Phase      RoundPhase `json:"phase"`
	StartTime  time.Time  `json:"start_time"`
	EndTime    *time.Time `json:"end_time,omitempty"`
	CrashPoint int64      `json:"crash_point"` // thousandths; 0 until drawn
	Seed       string     `json:"seed"`        // hex server seed, revealed on crash
	SeedHash   string     `json:"seed_hash"`   // sha256(seed), published at betting_open
	CreatedAt  time.Time  `json:"created_at"`
}
