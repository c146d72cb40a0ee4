package models

import (
	"time"

	"github.com/google/uuid"
)

// Account holds a user's balance and lifetime aggregates. Balance is in the
// smallest currency unit and never goes negative; every balance change is
// paired with a stake transition in the same operation.
type Account struct {
	UserID         uuid.UUID `json:"user_id"`
	Username       string    `json:"username"`
	Balance        int64     `json:"balance"`
	RoundsPlayed   int64     `json:"rounds_played"`
	TotalProfit    int64     `json:"total_profit"`
	BestMultiplier int64     `json:"best_multiplier"` // thousandths
	CreatedAt      time.Time `json:"created_at"`
}
