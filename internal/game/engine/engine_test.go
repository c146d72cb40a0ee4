package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/altiplay/altiplay/internal/broadcast"
	"github.com/altiplay/altiplay/internal/game/state"
	"github.com/altiplay/altiplay/internal/models"
)

// captureBus hands published events to the test one at a time, which also
// synchronizes the test with the engine goroutine between clock advances.
type captureBus struct {
	ch chan broadcast.Event
}

func (b *captureBus) Publish(ev broadcast.Event) {
	b.ch <- ev
}

type fakeStore struct {
	mu          sync.Mutex
	createFails int
	creates     int
	created     *models.Round
	phases      []models.RoundPhase
	crashAt     int64
	finished    bool
}

func (s *fakeStore) CreateRound(ctx context.Context, round *models.Round) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.creates++
	if s.createFails > 0 {
		s.createFails--
		return errors.New("primary unavailable")
	}
	cp := *round
	s.created = &cp
	return nil
}

func (s *fakeStore) UpdateRoundPhase(ctx context.Context, id uuid.UUID, phase models.RoundPhase) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.phases = append(s.phases, phase)
	return nil
}

func (s *fakeStore) RecordCrash(ctx context.Context, id uuid.UUID, crashPoint int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.crashAt = crashPoint
	return nil
}

func (s *fakeStore) FinishRound(ctx context.Context, id uuid.UUID, endedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.finished = true
	return nil
}

type fakeSettler struct {
	mu    sync.Mutex
	calls []int64
}

func (s *fakeSettler) SettleLosses(ctx context.Context, roundID uuid.UUID, crashPoint int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, crashPoint)
	return 0, nil
}

func nextEvent(t *testing.T, ch <-chan broadcast.Event) broadcast.Event {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return broadcast.Event{}
	}
}

func expectPhase(t *testing.T, ch <-chan broadcast.Event, phase models.RoundPhase) broadcast.Event {
	t.Helper()
	ev := nextEvent(t, ch)
	if ev.Type == broadcast.EventTypeTick {
		t.Fatalf("expected phase %s, got tick %d", phase, ev.Multiplier)
	}
	if ev.Phase != phase {
		t.Fatalf("expected phase %s, got %s", phase, ev.Phase)
	}
	return ev
}

func TestRunRefusesOnFollower(t *testing.T) {
	eng := NewEngine(DefaultConfig(), &fakeStore{}, &fakeSettler{}, &captureBus{ch: make(chan broadcast.Event, 1)}, state.NewView(), false)
	if err := eng.Run(context.Background()); !errors.Is(err, ErrNotCoordinator) {
		t.Fatalf("got %v, want ErrNotCoordinator", err)
	}
}

// TestFullRoundCycle drives one complete round on a fake clock. The crash
// range is pinned to 1.030x so the flight is exactly three ticks.
func TestFullRoundCycle(t *testing.T) {
	clock := clockwork.NewFakeClock()
	store := &fakeStore{}
	settler := &fakeSettler{}
	bus := &captureBus{ch: make(chan broadcast.Event)}
	view := state.NewView()

	cfg := DefaultConfig()
	cfg.CrashMin = 1030
	cfg.CrashMax = 1030

	eng := NewEngine(cfg, store, settler, bus, view, true).WithClock(clock)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- eng.Run(ctx) }()

	expectPhase(t, bus.ch, models.PhaseWaiting)
	if got := view.Snapshot().Phase; got != models.PhaseWaiting {
		t.Fatalf("view phase %s, want waiting", got)
	}

	clock.BlockUntil(1)
	clock.Advance(cfg.WaitingDelay)
	open := expectPhase(t, bus.ch, models.PhaseBettingOpen)
	if open.RoundID == "" {
		t.Fatal("betting_open event carries no round id")
	}
	if open.SeedHash == "" {
		t.Fatal("betting_open event carries no seed commitment")
	}
	if open.Seed != "" {
		t.Fatal("seed leaked before the crash")
	}
	snap := view.Snapshot()
	if snap.Phase != models.PhaseBettingOpen || snap.RoundID.String() != open.RoundID {
		t.Fatalf("view out of step with betting_open: %+v", snap)
	}

	clock.BlockUntil(1)
	clock.Advance(cfg.BettingWindow)
	expectPhase(t, bus.ch, models.PhaseBettingClosed)

	clock.BlockUntil(1)
	clock.Advance(cfg.PreFlightDelay)
	launch := expectPhase(t, bus.ch, models.PhaseInFlight)
	if launch.Multiplier != 1000 {
		t.Fatalf("flight started at %d, want 1000", launch.Multiplier)
	}

	for want := int64(1010); want <= 1030; want += cfg.TickStep {
		clock.BlockUntil(1)
		clock.Advance(cfg.TickPeriod)
		tick := nextEvent(t, bus.ch)
		if tick.Type != broadcast.EventTypeTick {
			t.Fatalf("expected tick, got %s", tick.Type)
		}
		if tick.Multiplier != want {
			t.Fatalf("tick %d, want %d", tick.Multiplier, want)
		}
		if got := view.Snapshot().Multiplier; got != want {
			t.Fatalf("view multiplier %d, want %d", got, want)
		}
	}

	crash := nextEvent(t, bus.ch)
	if crash.Type != broadcast.EventTypeCrash {
		t.Fatalf("expected crash, got %s", crash.Type)
	}
	if crash.Multiplier != 1030 {
		t.Fatalf("final multiplier %d, want 1030", crash.Multiplier)
	}
	if crash.Seed == "" {
		t.Fatal("crash event does not reveal the seed")
	}
	if SeedHash(crash.Seed) != open.SeedHash {
		t.Fatal("revealed seed does not match the published commitment")
	}

	clock.BlockUntil(1)
	clock.Advance(cfg.CrashHold)
	expectPhase(t, bus.ch, models.PhaseSettlement)

	// Next cycle starts immediately after settlement.
	expectPhase(t, bus.ch, models.PhaseWaiting)

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("engine returned %v on cancel", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("engine did not stop on cancel")
	}

	store.mu.Lock()
	defer store.mu.Unlock()
	if store.created == nil || store.created.ID.String() != open.RoundID {
		t.Fatal("round was not persisted at betting_open")
	}
	if store.crashAt != 1030 {
		t.Fatalf("persisted crash point %d, want 1030", store.crashAt)
	}
	if !store.finished {
		t.Fatal("round end was not persisted")
	}
	settler.mu.Lock()
	defer settler.mu.Unlock()
	if len(settler.calls) != 1 || settler.calls[0] != 1030 {
		t.Fatalf("settle losses calls = %v, want one call at 1030", settler.calls)
	}
}

// TestImmediateCrashAtMinimumDraw pins the crash range to the starting
// multiplier: the round must crash at exactly 1000 with zero ticks, and the
// revealed seed must verify against the persisted value.
func TestImmediateCrashAtMinimumDraw(t *testing.T) {
	clock := clockwork.NewFakeClock()
	store := &fakeStore{}
	bus := &captureBus{ch: make(chan broadcast.Event)}
	view := state.NewView()

	cfg := DefaultConfig()
	cfg.CrashMin = 1000
	cfg.CrashMax = 1000

	eng := NewEngine(cfg, store, &fakeSettler{}, bus, view, true).WithClock(clock)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = eng.Run(ctx) }()

	expectPhase(t, bus.ch, models.PhaseWaiting)
	clock.BlockUntil(1)
	clock.Advance(cfg.WaitingDelay)
	open := expectPhase(t, bus.ch, models.PhaseBettingOpen)

	clock.BlockUntil(1)
	clock.Advance(cfg.BettingWindow)
	expectPhase(t, bus.ch, models.PhaseBettingClosed)

	clock.BlockUntil(1)
	clock.Advance(cfg.PreFlightDelay)
	expectPhase(t, bus.ch, models.PhaseInFlight)

	// No tick: the very next event is the crash, without advancing the
	// clock.
	crash := nextEvent(t, bus.ch)
	if crash.Type != broadcast.EventTypeCrash {
		t.Fatalf("expected crash, got %s at %d", crash.Type, crash.Multiplier)
	}
	if crash.Multiplier != 1000 {
		t.Fatalf("final multiplier %d, want 1000", crash.Multiplier)
	}

	roundID, err := uuid.Parse(open.RoundID)
	if err != nil {
		t.Fatalf("round id: %v", err)
	}
	if !VerifyDraw(crash.Seed, open.SeedHash, roundID, crash.Multiplier, cfg.CrashMin, cfg.CrashMax, cfg.TickStep) {
		t.Fatal("published final value does not verify against the commitment")
	}

	store.mu.Lock()
	defer store.mu.Unlock()
	if store.crashAt != 1000 {
		t.Fatalf("persisted crash point %d, want 1000", store.crashAt)
	}
}

// TestRoundCreationRetries verifies that a failed round insert never opens
// betting: the machine stays put and retries after the backoff.
func TestRoundCreationRetries(t *testing.T) {
	clock := clockwork.NewFakeClock()
	store := &fakeStore{createFails: 2}
	bus := &captureBus{ch: make(chan broadcast.Event)}
	view := state.NewView()

	cfg := DefaultConfig()
	eng := NewEngine(cfg, store, &fakeSettler{}, bus, view, true).WithClock(clock)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = eng.Run(ctx) }()

	expectPhase(t, bus.ch, models.PhaseWaiting)
	clock.BlockUntil(1)
	clock.Advance(cfg.WaitingDelay)

	// Two failed attempts, each followed by a backoff sleep.
	clock.BlockUntil(1)
	clock.Advance(cfg.RetryBackoff)
	clock.BlockUntil(1)
	clock.Advance(cfg.RetryBackoff)

	ev := expectPhase(t, bus.ch, models.PhaseBettingOpen)
	if ev.RoundID == "" {
		t.Fatal("betting_open event carries no round id")
	}

	store.mu.Lock()
	creates := store.creates
	store.mu.Unlock()
	if creates != 3 {
		t.Fatalf("create attempts = %d, want 3", creates)
	}
}
