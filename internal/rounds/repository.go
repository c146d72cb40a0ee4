// Package rounds is the Postgres round store. Rounds are written only by
// the coordinator's engine and are append-only history once settled.
package rounds

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/altiplay/altiplay/internal/models"
)

// Repository implements engine.RoundStore against the primary pool. Every
// write is idempotent so the engine can safely re-apply a transition after
// a transient failure.
type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// CreateRound inserts the round record. Conflicting on the id means the
// insert already happened; the retry is a no-op.
func (r *Repository) CreateRound(ctx context.Context, round *models.Round) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO rounds (id, phase, start_time, seed, seed_hash)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO NOTHING`,
		round.ID, round.Phase, round.StartTime, round.Seed, round.SeedHash)
	if err != nil {
		return fmt.Errorf("failed to create round: %w", err)
	}
	return nil
}

// UpdateRoundPhase persists a phase transition.
func (r *Repository) UpdateRoundPhase(ctx context.Context, id uuid.UUID, phase models.RoundPhase) error {
	_, err := r.pool.Exec(ctx, `UPDATE rounds SET phase = $2 WHERE id = $1`, id, phase)
	if err != nil {
		return fmt.Errorf("failed to update round phase: %w", err)
	}
	return nil
}

// RecordCrash persists the final crash multiplier.
func (r *Repository) RecordCrash(ctx context.Context, id uuid.UUID, crashPoint int64) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE rounds SET phase = $2, crash_point = $3 WHERE id = $1`,
		id, models.PhaseCrashed, crashPoint)
	if err != nil {
		return fmt.Errorf("failed to record crash: %w", err)
	}
	return nil
}

// FinishRound persists the end time at settlement.
func (r *Repository) FinishRound(ctx context.Context, id uuid.UUID, endedAt time.Time) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE rounds SET phase = $2, end_time = $3 WHERE id = $1`,
		id, models.PhaseSettlement, endedAt)
	if err != nil {
		return fmt.Errorf("failed to finish round: %w", err)
	}
	return nil
}
