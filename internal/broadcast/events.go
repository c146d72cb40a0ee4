package broadcast

import (
	"time"

	"github.com/altiplay/altiplay/internal/models"
)

// EventType represents the type of game event
type EventType string

const (
	EventTypePhase EventType = "phaseUpdate"
	EventTypeTick  EventType = "tick"
	EventTypeCrash EventType = "crash"
)

// Event is the envelope carried both on the local dispatcher and on the
// cross-node channel. The same shape goes out verbatim on both, so followers
// mirror exactly what the coordinator published.
type Event struct {
	ID        string            `json:"id"`
	Type      EventType         `json:"type"`
	Origin    string            `json:"origin"` // node that published the event
	Timestamp time.Time         `json:"timestamp"`
	RoundID   string            `json:"round_id,omitempty"`
	Phase     models.RoundPhase `json:"phase,omitempty"`

	// Multiplier is the current tick value in thousandths. Set on tick
	// events and on crash events, where it is the authoritative final
	// crash value.
	Multiplier int64 `json:"multiplier,omitempty"`

	SeedHash string `json:"seed_hash,omitempty"` // published at betting_open
	Seed     string `json:"seed,omitempty"`      // revealed on crash
}
