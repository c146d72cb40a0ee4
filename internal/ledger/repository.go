// Package ledger is the Postgres account/stake store. All balance changes
// are conditional writes inside a transaction with their stake transition,
// so two nodes racing on the same account settle on the database, not on
// the node that happened to ask first.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/altiplay/altiplay/internal/game/stakes"
	"github.com/altiplay/altiplay/internal/models"
	"github.com/altiplay/altiplay/internal/sqlutil"
)

const uniqueViolation = "23505"

// Repository implements stakes.Ledger against the primary pool.
type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// UpsertAccount creates the account with the seed balance if missing; an
// existing account keeps its balance and aggregates.
func (r *Repository) UpsertAccount(ctx context.Context, userID uuid.UUID, username string, seedBalance int64) (*models.Account, error) {
	row := r.pool.QueryRow(ctx, `
		INSERT INTO accounts (user_id, username, balance)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id) DO UPDATE SET username = EXCLUDED.username
		RETURNING user_id, username, balance, rounds_played, total_profit, best_multiplier, created_at`,
		userID, username, seedBalance)

	acc, err := scanAccount(row)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert account: %w", err)
	}
	return acc, nil
}

// Account fetches an account by user id.
func (r *Repository) Account(ctx context.Context, userID uuid.UUID) (*models.Account, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT user_id, username, balance, rounds_played, total_profit, best_multiplier, created_at
		FROM accounts WHERE user_id = $1`, userID)

	acc, err := scanAccount(row)
	if err != nil {
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	return acc, nil
}

// PlaceStake implements stakes.Ledger. The debit is guarded on the balance
// and the insert on the partial unique index; either guard failing rolls
// the whole operation back.
func (r *Repository) PlaceStake(ctx context.Context, stake *models.Stake) (*models.Account, error) {
	var acc *models.Account
	err := sqlutil.Run(ctx, r.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE accounts SET balance = balance - $1
			WHERE user_id = $2 AND balance >= $1`,
			stake.Amount, stake.UserID)
		if err != nil {
			return fmt.Errorf("debit balance: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return stakes.ErrInsufficientBalance
		}

		if _, err := tx.Exec(ctx, `
			INSERT INTO stakes (id, user_id, round_id, amount, status)
			VALUES ($1, $2, $3, $4, 'open')`,
			stake.ID, stake.UserID, stake.RoundID, stake.Amount); err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
				return stakes.ErrDuplicateStake
			}
			return fmt.Errorf("insert stake: %w", err)
		}

		row := tx.QueryRow(ctx, `
			SELECT user_id, username, balance, rounds_played, total_profit, best_multiplier, created_at
			FROM accounts WHERE user_id = $1`, stake.UserID)
		acc, err = scanAccount(row)
		return err
	})
	if err != nil {
		return nil, err
	}
	stake.Status = models.StakeStatusOpen
	return acc, nil
}

// OpenStake implements stakes.Ledger.
func (r *Repository) OpenStake(ctx context.Context, userID, roundID uuid.UUID) (*models.Stake, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, user_id, round_id, amount, status, multiplier, profit, created_at, settled_at
		FROM stakes
		WHERE user_id = $1 AND round_id = $2 AND status = 'open'`,
		userID, roundID)

	st, err := scanStake(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, stakes.ErrNoOpenStake
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get open stake: %w", err)
	}
	return st, nil
}

// SettleStake implements stakes.Ledger. The terminal transition is guarded
// on status=open, so a stake settles exactly once no matter how many nodes
// race on it.
func (r *Repository) SettleStake(ctx context.Context, s stakes.Settlement) (*models.Account, error) {
	var acc *models.Account
	err := sqlutil.Run(ctx, r.pool, func(tx pgx.Tx) error {
		var userID uuid.UUID
		err := tx.QueryRow(ctx, `
			UPDATE stakes
			SET status = $2, multiplier = $3, profit = $4, settled_at = now()
			WHERE id = $1 AND status = 'open'
			RETURNING user_id`,
			s.StakeID, s.Status, s.Multiplier, s.Profit).Scan(&userID)
		if errors.Is(err, pgx.ErrNoRows) {
			return stakes.ErrNoOpenStake
		}
		if err != nil {
			return fmt.Errorf("settle stake: %w", err)
		}

		var row pgx.Row
		if s.Status == models.StakeStatusCashedOut {
			row = tx.QueryRow(ctx, `
				UPDATE accounts
				SET balance = balance + $2,
				    rounds_played = rounds_played + 1,
				    total_profit = total_profit + $3,
				    best_multiplier = GREATEST(best_multiplier, $4)
				WHERE user_id = $1
				RETURNING user_id, username, balance, rounds_played, total_profit, best_multiplier, created_at`,
				userID, s.Payout, s.Profit, s.Multiplier)
		} else {
			row = tx.QueryRow(ctx, `
				UPDATE accounts SET balance = balance + $2
				WHERE user_id = $1
				RETURNING user_id, username, balance, rounds_played, total_profit, best_multiplier, created_at`,
				userID, s.Payout)
		}
		acc, err = scanAccount(row)
		return err
	})
	if err != nil {
		return nil, err
	}
	return acc, nil
}

// SettleLosses implements stakes.Ledger. One status-filtered bulk update
// closes the round; invoking it again matches zero rows.
func (r *Repository) SettleLosses(ctx context.Context, roundID uuid.UUID, crashPoint int64) (int, error) {
	n := 0
	err := sqlutil.Run(ctx, r.pool, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, `
			UPDATE stakes
			SET status = 'lost', multiplier = $2, profit = -amount, settled_at = now()
			WHERE round_id = $1 AND status = 'open'
			RETURNING user_id, amount`,
			roundID, crashPoint)
		if err != nil {
			return fmt.Errorf("settle losses: %w", err)
		}

		type loss struct {
			userID uuid.UUID
			amount int64
		}
		var losses []loss
		for rows.Next() {
			var l loss
			if err := rows.Scan(&l.userID, &l.amount); err != nil {
				rows.Close()
				return err
			}
			losses = append(losses, l)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}

		for _, l := range losses {
			if _, err := tx.Exec(ctx, `
				UPDATE accounts
				SET rounds_played = rounds_played + 1, total_profit = total_profit - $2
				WHERE user_id = $1`,
				l.userID, l.amount); err != nil {
				return fmt.Errorf("update loser aggregates: %w", err)
			}
		}
		n = len(losses)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return n, nil
}

func scanAccount(row pgx.Row) (*models.Account, error) {
	var acc models.Account
	err := row.Scan(&acc.UserID, &acc.Username, &acc.Balance, &acc.RoundsPlayed,
		&acc.TotalProfit, &acc.BestMultiplier, &acc.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &acc, nil
}

func scanStake(row pgx.Row) (*models.Stake, error) {
	var st models.Stake
	var settledAt *time.Time
	err := row.Scan(&st.ID, &st.UserID, &st.RoundID, &st.Amount, &st.Status,
		&st.Multiplier, &st.Profit, &st.CreatedAt, &settledAt)
	if err != nil {
		return nil, err
	}
	st.SettledAt = settledAt
	return &st, nil
}
