package models

import (
	"time"

	"github.com/google/uuid"
)

// StakeStatus defines the status of a stake. A stake is created open and
// transitions exactly once to one of the terminal statuses.
type StakeStatus string

const (
	StakeStatusOpen      StakeStatus = "open"
	StakeStatusCashedOut StakeStatus = "cashed_out"
	StakeStatusLost      StakeStatus = "lost"
	StakeStatusCancelled StakeStatus = "cancelled"
)

// Stake represents a single user's wager within one round.
//
// Amount and Profit are in the smallest currency unit; Multiplier is in
// thousandths. At most one open stake may exist per (user, round).
type Stake struct {
	ID         uuid.UUID   `json:"id"`
	UserID     uuid.UUID   `json:"user_id"`
	RoundID    uuid.UUID   `json:"round_id"`
	Amount     int64       `json:"amount"`
	Status     StakeStatus `json:"status"`
	Multiplier int64       `json:"multiplier"` // realized, thousandths; 0 while open
	Profit     int64       `json:"profit"`     // signed; 0 while open
	CreatedAt  time.Time   `json:"created_at"`
	SettledAt  *time.Time  `json:"settled_at,omitempty"`
}
