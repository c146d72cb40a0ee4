// Package store provides an in-memory implementation of the game's storage
// collaborators. It backs dev mode when no database is configured and the
// concurrency tests; it enforces the same conditional-write semantics as the
// Postgres repositories.
package store

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/altiplay/altiplay/internal/game/stakes"
	"github.com/altiplay/altiplay/internal/models"
)

// ErrAccountNotFound is returned when a user has no account record.
var ErrAccountNotFound = errors.New("account not found")

// Memory is a mutex-guarded in-memory store for rounds, stakes and accounts.
type Memory struct {
	mu       sync.Mutex
	rounds   map[uuid.UUID]*models.Round
	stakes   map[uuid.UUID]*models.Stake
	accounts map[uuid.UUID]*models.Account
}

func NewMemory() *Memory {
	return &Memory{
		rounds:   make(map[uuid.UUID]*models.Round),
		stakes:   make(map[uuid.UUID]*models.Stake),
		accounts: make(map[uuid.UUID]*models.Account),
	}
}

// UpsertAccount creates the account if missing, keeping the existing balance
// and aggregates otherwise. Returns the stored account.
func (m *Memory) UpsertAccount(ctx context.Context, userID uuid.UUID, username string, seedBalance int64) (*models.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if acc, ok := m.accounts[userID]; ok {
		acc.Username = username
		cp := *acc
		return &cp, nil
	}
	acc := &models.Account{
		UserID:    userID,
		Username:  username,
		Balance:   seedBalance,
		CreatedAt: time.Now().UTC(),
	}
	m.accounts[userID] = acc
	cp := *acc
	return &cp, nil
}

// Account returns a copy of the stored account.
func (m *Memory) Account(ctx context.Context, userID uuid.UUID) (*models.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	acc, ok := m.accounts[userID]
	if !ok {
		return nil, ErrAccountNotFound
	}
	cp := *acc
	return &cp, nil
}

// PlaceStake implements stakes.Ledger.
func (m *Memory) PlaceStake(ctx context.Context, stake *models.Stake) (*models.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, st := range m.stakes {
		if st.UserID == stake.UserID && st.RoundID == stake.RoundID && st.Status == models.StakeStatusOpen {
			return nil, stakes.ErrDuplicateStake
		}
	}

	acc, ok := m.accounts[stake.UserID]
	if !ok || acc.Balance < stake.Amount {
		return nil, stakes.ErrInsufficientBalance
	}

	acc.Balance -= stake.Amount
	cp := *stake
	cp.Status = models.StakeStatusOpen
	cp.CreatedAt = time.Now().UTC()
	m.stakes[cp.ID] = &cp
	stake.CreatedAt = cp.CreatedAt

	accCp := *acc
	return &accCp, nil
}

// OpenStake implements stakes.Ledger.
func (m *Memory) OpenStake(ctx context.Context, userID, roundID uuid.UUID) (*models.Stake, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, st := range m.stakes {
		if st.UserID == userID && st.RoundID == roundID && st.Status == models.StakeStatusOpen {
			cp := *st
			return &cp, nil
		}
	}
	return nil, stakes.ErrNoOpenStake
}

// SettleStake implements stakes.Ledger.
func (m *Memory) SettleStake(ctx context.Context, s stakes.Settlement) (*models.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	st, ok := m.stakes[s.StakeID]
	if !ok || st.Status != models.StakeStatusOpen {
		return nil, stakes.ErrNoOpenStake
	}
	acc, ok := m.accounts[st.UserID]
	if !ok {
		return nil, stakes.ErrNoOpenStake
	}

	now := time.Now().UTC()
	st.Status = s.Status
	st.Multiplier = s.Multiplier
	st.Profit = s.Profit
	st.SettledAt = &now

	acc.Balance += s.Payout
	if s.Status == models.StakeStatusCashedOut {
		acc.RoundsPlayed++
		acc.TotalProfit += s.Profit
		if s.Multiplier > acc.BestMultiplier {
			acc.BestMultiplier = s.Multiplier
		}
	}

	cp := *acc
	return &cp, nil
}

// SettleLosses implements stakes.Ledger. The status filter makes repeated
// invocation for the same round a no-op.
func (m *Memory) SettleLosses(ctx context.Context, roundID uuid.UUID, crashPoint int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UTC()
	n := 0
	for _, st := range m.stakes {
		if st.RoundID != roundID || st.Status != models.StakeStatusOpen {
			continue
		}
		st.Status = models.StakeStatusLost
		st.Multiplier = crashPoint
		st.Profit = -st.Amount
		st.SettledAt = &now

		if acc, ok := m.accounts[st.UserID]; ok {
			acc.RoundsPlayed++
			acc.TotalProfit -= st.Amount
		}
		n++
	}
	return n, nil
}

// CreateRound implements engine.RoundStore. Re-creating an existing round id
// is a no-op, keeping the write idempotent under retry.
func (m *Memory) CreateRound(ctx context.Context, round *models.Round) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.rounds[round.ID]; ok {
		return nil
	}
	cp := *round
	m.rounds[round.ID] = &cp
	return nil
}

// UpdateRoundPhase implements engine.RoundStore.
func (m *Memory) UpdateRoundPhase(ctx context.Context, id uuid.UUID, phase models.RoundPhase) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if r, ok := m.rounds[id]; ok {
		r.Phase = phase
	}
	return nil
}

// RecordCrash implements engine.RoundStore.
func (m *Memory) RecordCrash(ctx context.Context, id uuid.UUID, crashPoint int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if r, ok := m.rounds[id]; ok {
		r.Phase = models.PhaseCrashed
		r.CrashPoint = crashPoint
	}
	return nil
}

// FinishRound implements engine.RoundStore.
func (m *Memory) FinishRound(ctx context.Context, id uuid.UUID, endedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if r, ok := m.rounds[id]; ok {
		r.Phase = models.PhaseSettlement
		r.EndTime = &endedAt
	}
	return nil
}

// Round returns a copy of a stored round.
func (m *Memory) Round(id uuid.UUID) (*models.Round, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.rounds[id]
	if !ok {
		return nil, false
	}
	cp := *r
	return &cp, true
}

// Stake returns a copy of a stored stake.
func (m *Memory) Stake(id uuid.UUID) (*models.Stake, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	st, ok := m.stakes[id]
	if !ok {
		return nil, false
	}
	cp := *st
	return &cp, true
}

// StakesForRound returns copies of every stake in a round.
func (m *Memory) StakesForRound(roundID uuid.UUID) []models.Stake {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []models.Stake
	for _, st := range m.stakes {
		if st.RoundID == roundID {
			out = append(out, *st)
		}
	}
	return out
}
