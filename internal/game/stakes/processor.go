// Package stakes validates and applies place/cash-out/cancel requests
// against the current round phase and the account ledger.
package stakes

import (
	"context"
	"hash/fnv"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/altiplay/altiplay/internal/game/state"
	"github.com/altiplay/altiplay/internal/models"
)

// Settlement describes the single terminal transition of one stake, applied
// together with its balance credit in one atomic ledger operation.
type Settlement struct {
	StakeID    uuid.UUID
	Status     models.StakeStatus // cashed_out or cancelled
	Multiplier int64              // thousandths; 0 for cancellations
	Payout     int64              // credited to the balance
	Profit     int64              // signed; 0 for cancellations
}

// Ledger is what the processor needs from the durable store. Implementations
// enforce the conditional semantics that arbitrate cross-node races: debits
// guarded on balance, one open stake per (user, round), terminal transitions
// guarded on status=open.
type Ledger interface {
	// PlaceStake debits stake.Amount and inserts the open stake in one
	// atomic operation, returning the updated account. Fails with
	// ErrInsufficientBalance or ErrDuplicateStake.
	PlaceStake(ctx context.Context, stake *models.Stake) (*models.Account, error)

	// OpenStake returns the user's open stake for the round, or
	// ErrNoOpenStake.
	OpenStake(ctx context.Context, userID, roundID uuid.UUID) (*models.Stake, error)

	// SettleStake applies a terminal transition and its credit atomically,
	// conditional on the stake still being open; returns ErrNoOpenStake
	// when it already reached a terminal status. Cash-outs also update the
	// account aggregates (rounds played, total profit, best multiplier).
	SettleStake(ctx context.Context, s Settlement) (*models.Account, error)

	// SettleLosses marks every still-open stake of the round as lost at
	// the crash multiplier and updates the losers' aggregates. The status
	// filter makes repeated invocation a no-op; returns the number of
	// stakes transitioned.
	SettleLosses(ctx context.Context, roundID uuid.UUID, crashPoint int64) (int, error)
}

const lockStripes = 64

// Processor serializes operations per user and applies them against the
// ledger. Operations for different users proceed fully in parallel;
// check-then-act sequences for one user run under that user's stripe lock.
// Across nodes the ledger's conditional writes arbitrate.
type Processor struct {
	ledger Ledger
	view   *state.View
	locks  [lockStripes]sync.Mutex
}

func NewProcessor(ledger Ledger, view *state.View) *Processor {
	return &Processor{ledger: ledger, view: view}
}

func (p *Processor) userLock(userID uuid.UUID) *sync.Mutex {
	h := fnv.New32a()
	h.Write(userID[:])
	return &p.locks[h.Sum32()%lockStripes]
}

// PlaceResult reports a successful stake placement.
type PlaceResult struct {
	Stake      *models.Stake
	NewBalance int64
}

// Place debits the wager and opens a stake for the current round.
// Preconditions: phase betting_open, amount > 0, no open stake this round,
// balance covering the amount. Requests racing a phase change are rejected,
// not queued.
func (p *Processor) Place(ctx context.Context, userID uuid.UUID, amount int64) (*PlaceResult, error) {
	snap := p.view.Snapshot()
	if snap.Phase != models.PhaseBettingOpen {
		return nil, ErrPhaseClosed
	}
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}

	mu := p.userLock(userID)
	mu.Lock()
	defer mu.Unlock()

	stake := &models.Stake{
		ID:      uuid.New(),
		UserID:  userID,
		RoundID: snap.RoundID,
		Amount:  amount,
		Status:  models.StakeStatusOpen,
	}
	account, err := p.ledger.PlaceStake(ctx, stake)
	if err != nil {
		return nil, err
	}

	log.Info().
		Str("user_id", userID.String()).
		Str("round_id", snap.RoundID.String()).
		Int64("amount", amount).
		Msg("stake placed")
	return &PlaceResult{Stake: stake, NewBalance: account.Balance}, nil
}

// CashOutResult reports a successful cash-out.
type CashOutResult struct {
	Multiplier int64
	Profit     int64
	NewBalance int64
}

// CashOut locks in the current multiplier as the user's payout multiplier.
// The payout multiplier is always the scheduler's current tick value at the
// moment of processing; the client-submitted value is advisory only and is
// never trusted for payout.
func (p *Processor) CashOut(ctx context.Context, userID uuid.UUID, claimedMultiplier int64) (*CashOutResult, error) {
	snap := p.view.Snapshot()
	if snap.Phase != models.PhaseInFlight {
		return nil, ErrPhaseNotFlying
	}
	multiplier := snap.Multiplier

	mu := p.userLock(userID)
	mu.Lock()
	defer mu.Unlock()

	stake, err := p.ledger.OpenStake(ctx, userID, snap.RoundID)
	if err != nil {
		return nil, err
	}

	if claimedMultiplier != 0 && claimedMultiplier != multiplier {
		log.Debug().
			Str("user_id", userID.String()).
			Int64("claimed", claimedMultiplier).
			Int64("authoritative", multiplier).
			Msg("client multiplier differs from server tick")
	}

	payout := stake.Amount * multiplier / 1000
	profit := payout - stake.Amount

	account, err := p.ledger.SettleStake(ctx, Settlement{
		StakeID:    stake.ID,
		Status:     models.StakeStatusCashedOut,
		Multiplier: multiplier,
		Payout:     payout,
		Profit:     profit,
	})
	if err != nil {
		return nil, err
	}

	log.Info().
		Str("user_id", userID.String()).
		Str("round_id", snap.RoundID.String()).
		Int64("multiplier", multiplier).
		Int64("profit", profit).
		Msg("stake cashed out")
	return &CashOutResult{Multiplier: multiplier, Profit: profit, NewBalance: account.Balance}, nil
}

// CancelResult reports a successful cancellation.
type CancelResult struct {
	Refund     int64
	NewBalance int64
}

// Cancel refunds the full stake amount. The cancellation window closes with
// betting.
func (p *Processor) Cancel(ctx context.Context, userID uuid.UUID) (*CancelResult, error) {
	snap := p.view.Snapshot()
	if snap.Phase != models.PhaseBettingOpen {
		return nil, ErrPhaseNotOpen
	}

	mu := p.userLock(userID)
	mu.Lock()
	defer mu.Unlock()

	stake, err := p.ledger.OpenStake(ctx, userID, snap.RoundID)
	if err != nil {
		return nil, err
	}

	account, err := p.ledger.SettleStake(ctx, Settlement{
		StakeID: stake.ID,
		Status:  models.StakeStatusCancelled,
		Payout:  stake.Amount,
	})
	if err != nil {
		return nil, err
	}

	log.Info().
		Str("user_id", userID.String()).
		Str("round_id", snap.RoundID.String()).
		Int64("refund", stake.Amount).
		Msg("stake cancelled")
	return &CancelResult{Refund: stake.Amount, NewBalance: account.Balance}, nil
}

// SettleLosses closes out every still-open stake of a concluded round as a
// loss. Invoked by the engine at settlement; the ledger's status filter
// makes repeats no-ops.
func (p *Processor) SettleLosses(ctx context.Context, roundID uuid.UUID, crashPoint int64) (int, error) {
	return p.ledger.SettleLosses(ctx, roundID, crashPoint)
}
