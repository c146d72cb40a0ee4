// Package history serves read-only round and stake listings. These queries
// run against the read replica: staleness is tolerable here, and they stay
// off the primary that phase transitions depend on.
package history

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/altiplay/altiplay/internal/models"
)

// maxLimit caps listing sizes regardless of what the client asks for.
const maxLimit = 100

const defaultLimit = 20

// Repository reads history from the replica connection.
type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return defaultLimit
	}
	if limit > maxLimit {
		return maxLimit
	}
	return limit
}

// RecentRounds lists settled and in-progress rounds, newest first. Seeds of
// unsettled rounds are not exposed.
func (r *Repository) RecentRounds(ctx context.Context, limit int) ([]models.Round, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, phase, start_time, end_time, crash_point,
		       CASE WHEN phase IN ('crashed', 'settlement') THEN seed ELSE '' END,
		       seed_hash, created_at
		FROM rounds
		ORDER BY created_at DESC
		LIMIT $1`, clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("failed to list rounds: %w", err)
	}
	defer rows.Close()

	var out []models.Round
	for rows.Next() {
		var rd models.Round
		if err := rows.Scan(&rd.ID, &rd.Phase, &rd.StartTime, &rd.EndTime,
			&rd.CrashPoint, &rd.Seed, &rd.SeedHash, &rd.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan round: %w", err)
		}
		out = append(out, rd)
	}
	return out, rows.Err()
}

// StakesForUser lists a user's stakes, newest first.
func (r *Repository) StakesForUser(ctx context.Context, userID uuid.UUID, limit int) ([]models.Stake, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, user_id, round_id, amount, status, multiplier, profit, created_at, settled_at
		FROM stakes
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2`, userID, clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("failed to list stakes: %w", err)
	}
	defer rows.Close()

	var out []models.Stake
	for rows.Next() {
		var st models.Stake
		if err := rows.Scan(&st.ID, &st.UserID, &st.RoundID, &st.Amount, &st.Status,
			&st.Multiplier, &st.Profit, &st.CreatedAt, &st.SettledAt); err != nil {
			return nil, fmt.Errorf("failed to scan stake: %w", err)
		}
		out = append(out, st)
	}
	return out, rows.Err()
}
