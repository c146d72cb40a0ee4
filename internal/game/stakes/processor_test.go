package stakes_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"

	"github.com/altiplay/altiplay/internal/game/stakes"
	"github.com/altiplay/altiplay/internal/game/state"
	"github.com/altiplay/altiplay/internal/models"
	"github.com/altiplay/altiplay/internal/store"
)

func setup(t *testing.T) (*store.Memory, *state.View, *stakes.Processor, uuid.UUID) {
	t.Helper()
	mem := store.NewMemory()
	view := state.NewView()
	proc := stakes.NewProcessor(mem, view)

	userID := uuid.New()
	if _, err := mem.UpsertAccount(context.Background(), userID, "alice", 1000); err != nil {
		t.Fatalf("seed account: %v", err)
	}
	return mem, view, proc, userID
}

func openBetting(view *state.View) uuid.UUID {
	roundID := uuid.New()
	view.SetPhase(models.PhaseBettingOpen, roundID, "commit")
	return roundID
}

func startFlight(view *state.View, roundID uuid.UUID, multiplier int64) {
	view.SetPhase(models.PhaseBettingClosed, roundID, "")
	view.SetPhase(models.PhaseInFlight, roundID, "")
	view.SetMultiplier(multiplier)
}

func TestPlaceDebitsAndOpensStake(t *testing.T) {
	mem, view, proc, userID := setup(t)
	roundID := openBetting(view)

	res, err := proc.Place(context.Background(), userID, 100)
	if err != nil {
		t.Fatalf("place: %v", err)
	}
	if res.NewBalance != 900 {
		t.Fatalf("balance %d, want 900", res.NewBalance)
	}
	if res.Stake.RoundID != roundID {
		t.Fatalf("stake bound to round %s, want %s", res.Stake.RoundID, roundID)
	}

	st, ok := mem.Stake(res.Stake.ID)
	if !ok || st.Status != models.StakeStatusOpen {
		t.Fatalf("stored stake missing or not open: %+v", st)
	}
}

func TestPlaceRejectsOutsideBettingWindow(t *testing.T) {
	for _, phase := range []models.RoundPhase{
		models.PhaseWaiting,
		models.PhaseBettingClosed,
		models.PhaseInFlight,
		models.PhaseCrashed,
		models.PhaseSettlement,
	} {
		_, view, proc, userID := setup(t)
		view.SetPhase(models.PhaseBettingOpen, uuid.New(), "")
		view.SetPhase(phase, uuid.New(), "")

		if _, err := proc.Place(context.Background(), userID, 100); !errors.Is(err, stakes.ErrPhaseClosed) {
			t.Fatalf("phase %s: got %v, want ErrPhaseClosed", phase, err)
		}
	}
}

func TestPlaceRejectsBadAmounts(t *testing.T) {
	_, view, proc, userID := setup(t)
	openBetting(view)

	for _, amount := range []int64{0, -1, -100} {
		if _, err := proc.Place(context.Background(), userID, amount); !errors.Is(err, stakes.ErrInvalidAmount) {
			t.Fatalf("amount %d: got %v, want ErrInvalidAmount", amount, err)
		}
	}
}

func TestPlaceRejectsInsufficientBalance(t *testing.T) {
	_, view, proc, userID := setup(t)
	openBetting(view)

	if _, err := proc.Place(context.Background(), userID, 1001); !errors.Is(err, stakes.ErrInsufficientBalance) {
		t.Fatalf("got %v, want ErrInsufficientBalance", err)
	}

	// Exactly the full balance is allowed.
	res, err := proc.Place(context.Background(), userID, 1000)
	if err != nil {
		t.Fatalf("full-balance place: %v", err)
	}
	if res.NewBalance != 0 {
		t.Fatalf("balance %d, want 0", res.NewBalance)
	}
}

func TestPlaceRejectsSecondStakeSameRound(t *testing.T) {
	_, view, proc, userID := setup(t)
	openBetting(view)

	if _, err := proc.Place(context.Background(), userID, 100); err != nil {
		t.Fatalf("first place: %v", err)
	}
	if _, err := proc.Place(context.Background(), userID, 50); !errors.Is(err, stakes.ErrDuplicateStake) {
		t.Fatalf("got %v, want ErrDuplicateStake", err)
	}
}

func TestCashOutPaysAtServerMultiplier(t *testing.T) {
	mem, view, proc, userID := setup(t)
	roundID := openBetting(view)

	placed, err := proc.Place(context.Background(), userID, 100)
	if err != nil {
		t.Fatalf("place: %v", err)
	}

	startFlight(view, roundID, 1500)

	// The claimed multiplier is advisory; payout uses the tick value.
	res, err := proc.CashOut(context.Background(), userID, 9999)
	if err != nil {
		t.Fatalf("cash out: %v", err)
	}
	if res.Multiplier != 1500 {
		t.Fatalf("multiplier %d, want 1500", res.Multiplier)
	}
	if res.Profit != 50 {
		t.Fatalf("profit %d, want 50", res.Profit)
	}
	if res.NewBalance != 1050 {
		t.Fatalf("balance %d, want 1050", res.NewBalance)
	}

	st, _ := mem.Stake(placed.Stake.ID)
	if st.Status != models.StakeStatusCashedOut || st.Multiplier != 1500 || st.Profit != 50 {
		t.Fatalf("stored stake not settled as cash-out: %+v", st)
	}
	if st.SettledAt == nil {
		t.Fatal("settled stake has no settle time")
	}

	acc, err := mem.Account(context.Background(), userID)
	if err != nil {
		t.Fatalf("account: %v", err)
	}
	if acc.RoundsPlayed != 1 || acc.TotalProfit != 50 || acc.BestMultiplier != 1500 {
		t.Fatalf("aggregates not updated: %+v", acc)
	}
}

func TestCashOutTruncatesFractionalPayout(t *testing.T) {
	_, view, proc, userID := setup(t)
	roundID := openBetting(view)

	if _, err := proc.Place(context.Background(), userID, 33); err != nil {
		t.Fatalf("place: %v", err)
	}
	startFlight(view, roundID, 1250)

	// 33 * 1250 / 1000 = 41.25, truncated to 41.
	res, err := proc.CashOut(context.Background(), userID, 0)
	if err != nil {
		t.Fatalf("cash out: %v", err)
	}
	if res.Profit != 8 {
		t.Fatalf("profit %d, want 8", res.Profit)
	}
}

func TestCashOutRejectsOutsideFlight(t *testing.T) {
	_, view, proc, userID := setup(t)
	roundID := openBetting(view)
	if _, err := proc.Place(context.Background(), userID, 100); err != nil {
		t.Fatalf("place: %v", err)
	}

	if _, err := proc.CashOut(context.Background(), userID, 0); !errors.Is(err, stakes.ErrPhaseNotFlying) {
		t.Fatalf("during betting: got %v, want ErrPhaseNotFlying", err)
	}

	startFlight(view, roundID, 1200)
	view.SetPhase(models.PhaseCrashed, roundID, "")
	if _, err := proc.CashOut(context.Background(), userID, 0); !errors.Is(err, stakes.ErrPhaseNotFlying) {
		t.Fatalf("after crash: got %v, want ErrPhaseNotFlying", err)
	}
}

func TestCashOutRequiresOpenStake(t *testing.T) {
	_, view, proc, userID := setup(t)
	roundID := openBetting(view)
	startFlight(view, roundID, 1200)

	if _, err := proc.CashOut(context.Background(), userID, 0); !errors.Is(err, stakes.ErrNoOpenStake) {
		t.Fatalf("got %v, want ErrNoOpenStake", err)
	}
}

func TestCashOutIsSingleUse(t *testing.T) {
	_, view, proc, userID := setup(t)
	roundID := openBetting(view)
	if _, err := proc.Place(context.Background(), userID, 100); err != nil {
		t.Fatalf("place: %v", err)
	}
	startFlight(view, roundID, 1300)

	if _, err := proc.CashOut(context.Background(), userID, 0); err != nil {
		t.Fatalf("first cash out: %v", err)
	}
	if _, err := proc.CashOut(context.Background(), userID, 0); !errors.Is(err, stakes.ErrNoOpenStake) {
		t.Fatalf("second cash out: got %v, want ErrNoOpenStake", err)
	}
}

func TestCancelRefundsDuringBetting(t *testing.T) {
	mem, view, proc, userID := setup(t)
	openBetting(view)

	placed, err := proc.Place(context.Background(), userID, 250)
	if err != nil {
		t.Fatalf("place: %v", err)
	}

	res, err := proc.Cancel(context.Background(), userID)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if res.Refund != 250 {
		t.Fatalf("refund %d, want 250", res.Refund)
	}
	if res.NewBalance != 1000 {
		t.Fatalf("balance %d, want 1000", res.NewBalance)
	}

	st, _ := mem.Stake(placed.Stake.ID)
	if st.Status != models.StakeStatusCancelled {
		t.Fatalf("stake status %s, want cancelled", st.Status)
	}

	// A cancelled stake does not count as played.
	acc, _ := mem.Account(context.Background(), userID)
	if acc.RoundsPlayed != 0 || acc.TotalProfit != 0 {
		t.Fatalf("cancellation touched aggregates: %+v", acc)
	}

	// The slot is free again.
	if _, err := proc.Place(context.Background(), userID, 100); err != nil {
		t.Fatalf("re-place after cancel: %v", err)
	}
}

func TestCancelRejectedAfterBettingCloses(t *testing.T) {
	_, view, proc, userID := setup(t)
	roundID := openBetting(view)
	if _, err := proc.Place(context.Background(), userID, 100); err != nil {
		t.Fatalf("place: %v", err)
	}

	view.SetPhase(models.PhaseBettingClosed, roundID, "")
	if _, err := proc.Cancel(context.Background(), userID); !errors.Is(err, stakes.ErrPhaseNotOpen) {
		t.Fatalf("got %v, want ErrPhaseNotOpen", err)
	}
}

func TestSettleLossesClosesOpenStakes(t *testing.T) {
	mem, view, proc, _ := setup(t)
	roundID := openBetting(view)

	winner := uuid.New()
	loser := uuid.New()
	ctx := context.Background()
	if _, err := mem.UpsertAccount(ctx, winner, "winner", 1000); err != nil {
		t.Fatal(err)
	}
	if _, err := mem.UpsertAccount(ctx, loser, "loser", 1000); err != nil {
		t.Fatal(err)
	}
	if _, err := proc.Place(ctx, winner, 100); err != nil {
		t.Fatal(err)
	}
	if _, err := proc.Place(ctx, loser, 50); err != nil {
		t.Fatal(err)
	}

	startFlight(view, roundID, 1400)
	if _, err := proc.CashOut(ctx, winner, 0); err != nil {
		t.Fatal(err)
	}

	n, err := proc.SettleLosses(ctx, roundID, 2100)
	if err != nil {
		t.Fatalf("settle losses: %v", err)
	}
	if n != 1 {
		t.Fatalf("settled %d stakes, want 1", n)
	}

	acc, _ := mem.Account(ctx, loser)
	if acc.Balance != 950 {
		t.Fatalf("loser balance %d, want 950", acc.Balance)
	}
	if acc.TotalProfit != -50 || acc.RoundsPlayed != 1 {
		t.Fatalf("loser aggregates: %+v", acc)
	}

	for _, st := range mem.StakesForRound(roundID) {
		if st.UserID == loser && st.Status != models.StakeStatusLost {
			t.Fatalf("loser stake status %s, want lost", st.Status)
		}
		if st.UserID == winner && st.Status != models.StakeStatusCashedOut {
			t.Fatalf("winner stake status %s, want cashed_out", st.Status)
		}
	}

	// Repeating settlement is a no-op.
	n, err = proc.SettleLosses(ctx, roundID, 2100)
	if err != nil || n != 0 {
		t.Fatalf("repeat settle: n=%d err=%v, want 0 and nil", n, err)
	}
}

// Two concurrent placements for the same user and round must produce exactly
// one open stake and one duplicate rejection, with the balance debited once.
func TestConcurrentDoublePlace(t *testing.T) {
	mem, view, proc, userID := setup(t)
	roundID := openBetting(view)

	var wg sync.WaitGroup
	errs := make(chan error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := proc.Place(context.Background(), userID, 100)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	var successes, duplicates int
	for err := range errs {
		switch {
		case err == nil:
			successes++
		case errors.Is(err, stakes.ErrDuplicateStake):
			duplicates++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if successes != 1 || duplicates != 1 {
		t.Fatalf("successes=%d duplicates=%d, want 1 and 1", successes, duplicates)
	}

	acc, _ := mem.Account(context.Background(), userID)
	if acc.Balance != 900 {
		t.Fatalf("balance %d, want 900", acc.Balance)
	}
	if open := mem.StakesForRound(roundID); len(open) != 1 {
		t.Fatalf("%d stakes stored, want 1", len(open))
	}
}

// Concurrent cash-out and loss settlement must settle the stake exactly
// once, either way.
func TestConcurrentCashOutAndSettlement(t *testing.T) {
	mem, view, proc, userID := setup(t)
	roundID := openBetting(view)
	ctx := context.Background()

	if _, err := proc.Place(ctx, userID, 100); err != nil {
		t.Fatal(err)
	}
	startFlight(view, roundID, 1600)

	var wg sync.WaitGroup
	var cashErr error
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, cashErr = proc.CashOut(ctx, userID, 0)
	}()
	go func() {
		defer wg.Done()
		if _, err := proc.SettleLosses(ctx, roundID, 1600); err != nil {
			t.Errorf("settle losses: %v", err)
		}
	}()
	wg.Wait()

	st := mem.StakesForRound(roundID)
	if len(st) != 1 {
		t.Fatalf("%d stakes, want 1", len(st))
	}
	switch st[0].Status {
	case models.StakeStatusCashedOut:
		if cashErr != nil {
			t.Fatalf("stake cashed out but CashOut returned %v", cashErr)
		}
	case models.StakeStatusLost:
		if !errors.Is(cashErr, stakes.ErrNoOpenStake) {
			t.Fatalf("stake lost but CashOut returned %v", cashErr)
		}
	default:
		t.Fatalf("stake left in status %s", st[0].Status)
	}

	// Exactly one settlement credited or debited the account.
	acc, _ := mem.Account(ctx, userID)
	switch st[0].Status {
	case models.StakeStatusCashedOut:
		if acc.Balance != 1060 {
			t.Fatalf("balance %d, want 1060", acc.Balance)
		}
	case models.StakeStatusLost:
		if acc.Balance != 900 {
			t.Fatalf("balance %d, want 900", acc.Balance)
		}
	}
}
