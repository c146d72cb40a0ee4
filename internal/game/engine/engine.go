// Package engine runs the authoritative round lifecycle. Exactly one node
// per deployment is configured as coordinator and drives the phase timers;
// every other node mirrors phase from the broadcast channel and never
// self-transitions.
package engine

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/altiplay/altiplay/internal/broadcast"
	"github.com/altiplay/altiplay/internal/game/state"
	"github.com/altiplay/altiplay/internal/models"
)

// ErrNotCoordinator is returned when Run is called on a follower node.
var ErrNotCoordinator = errors.New("node is not the coordinator")

// Clock is the interface we use for time operations.
// In production, use clockwork.NewRealClock(). In tests, a FakeClock.
type Clock interface {
	Now() time.Time
	NewTimer(d time.Duration) clockwork.Timer
	NewTicker(d time.Duration) clockwork.Ticker
}

// RoundStore is what the engine needs from the durable store. Every write
// is idempotent under retry: re-applying the same transition is safe.
type RoundStore interface {
	CreateRound(ctx context.Context, round *models.Round) error
	UpdateRoundPhase(ctx context.Context, id uuid.UUID, phase models.RoundPhase) error
	RecordCrash(ctx context.Context, id uuid.UUID, crashPoint int64) error
	FinishRound(ctx context.Context, id uuid.UUID, endedAt time.Time) error
}

// Settler closes out every still-open stake when a round concludes.
// Invocations must be exactly-once per round in effect: repeats are no-ops.
type Settler interface {
	SettleLosses(ctx context.Context, roundID uuid.UUID, crashPoint int64) (int, error)
}

// Bus publishes game events cluster-wide.
type Bus interface {
	Publish(ev broadcast.Event)
}

// Config holds the round timing and draw policy.
type Config struct {
	WaitingDelay   time.Duration
	BettingWindow  time.Duration
	PreFlightDelay time.Duration
	CrashHold      time.Duration
	RetryBackoff   time.Duration

	TickPeriod time.Duration
	TickStep   int64 // thousandths per tick

	CrashMin int64 // thousandths, inclusive
	CrashMax int64 // thousandths, inclusive
}

// DefaultConfig returns the stock round timing: 2s waiting, 5s betting,
// 1s pre-flight, 100ms ticks of +0.010x, crash drawn between 1.000x and
// 11.000x, 2s crash hold.
func DefaultConfig() Config {
	return Config{
		WaitingDelay:   2 * time.Second,
		BettingWindow:  5 * time.Second,
		PreFlightDelay: 1 * time.Second,
		CrashHold:      2 * time.Second,
		RetryBackoff:   2 * time.Second,
		TickPeriod:     100 * time.Millisecond,
		TickStep:       10,
		CrashMin:       1000,
		CrashMax:       11000,
	}
}

// Engine is the round lifecycle state machine. It owns the authoritative
// Round while one is in progress and is the only writer of round records.
type Engine struct {
	cfg         Config
	store       RoundStore
	settler     Settler
	bus         Bus
	view        *state.View
	clock       Clock
	coordinator bool
}

// NewEngine creates the state machine. The view is written synchronously on
// every transition so local stake processing always sees the exact
// authoritative phase and tick value.
func NewEngine(cfg Config, store RoundStore, settler Settler, bus Bus, view *state.View, coordinator bool) *Engine {
	return &Engine{
		cfg:         cfg,
		store:       store,
		settler:     settler,
		bus:         bus,
		view:        view,
		clock:       clockwork.NewRealClock(),
		coordinator: coordinator,
	}
}

// WithClock swaps the clock. Tests use a fake.
func (e *Engine) WithClock(c Clock) *Engine {
	e.clock = c
	return e
}

// Run drives the phase cycle until ctx is cancelled. Refuses to start on a
// follower node: coordinator status is assigned by configuration and
// followers must never run lifecycle timers.
func (e *Engine) Run(ctx context.Context) error {
	if !e.coordinator {
		return ErrNotCoordinator
	}
	log.Info().Msg("round engine started as coordinator")

	timer := e.clock.NewTimer(time.Hour)
	if !timer.Stop() {
		<-timer.Chan()
	}
	defer timer.Stop()

	for {
		e.enterWaiting()
		if !e.sleep(ctx, timer, e.cfg.WaitingDelay) {
			return nil
		}

		round, ok := e.openBets(ctx, timer)
		if !ok {
			return nil
		}
		if !e.sleep(ctx, timer, e.cfg.BettingWindow) {
			return nil
		}

		if !e.closeBets(ctx, timer, round) {
			return nil
		}
		if !e.sleep(ctx, timer, e.cfg.PreFlightDelay) {
			return nil
		}

		crashPoint, ok := e.launch(ctx, timer, round)
		if !ok {
			return nil
		}

		final, ok := e.runFlight(ctx, round, crashPoint)
		if !ok {
			return nil
		}

		if !e.crash(ctx, timer, round, final) {
			return nil
		}
		if !e.sleep(ctx, timer, e.cfg.CrashHold) {
			return nil
		}

		if !e.settle(ctx, timer, round, final) {
			return nil
		}
	}
}

func (e *Engine) enterWaiting() {
	e.view.SetPhase(models.PhaseWaiting, uuid.Nil, "")
	e.bus.Publish(broadcast.Event{
		Type:  broadcast.EventTypePhase,
		Phase: models.PhaseWaiting,
	})
}

// openBets creates the new round and opens the betting window. If round
// creation fails the machine does not advance: it retries after a fixed
// backoff indefinitely, re-entering from a clean state each attempt.
func (e *Engine) openBets(ctx context.Context, timer clockwork.Timer) (*models.Round, bool) {
	for {
		seed := NewSeed()
		round := &models.Round{
			ID:        uuid.New(),
			Phase:     models.PhaseBettingOpen,
			StartTime: e.clock.Now().UTC(),
			Seed:      seed,
			SeedHash:  SeedHash(seed),
			CreatedAt: e.clock.Now().UTC(),
		}

		if err := e.store.CreateRound(ctx, round); err != nil {
			log.Error().Err(err).Msg("round creation failed, retrying after backoff")
			if !e.sleep(ctx, timer, e.cfg.RetryBackoff) {
				return nil, false
			}
			continue
		}

		log.Info().Str("round_id", round.ID.String()).Msg("betting open")
		e.view.SetPhase(models.PhaseBettingOpen, round.ID, round.SeedHash)
		e.bus.Publish(broadcast.Event{
			Type:     broadcast.EventTypePhase,
			Phase:    models.PhaseBettingOpen,
			RoundID:  round.ID.String(),
			SeedHash: round.SeedHash,
		})
		return round, true
	}
}

func (e *Engine) closeBets(ctx context.Context, timer clockwork.Timer, round *models.Round) bool {
	if !e.persist(ctx, timer, "betting_closed", func(ctx context.Context) error {
		return e.store.UpdateRoundPhase(ctx, round.ID, models.PhaseBettingClosed)
	}) {
		return false
	}
	e.view.SetPhase(models.PhaseBettingClosed, round.ID, round.SeedHash)
	e.bus.Publish(broadcast.Event{
		Type:    broadcast.EventTypePhase,
		Phase:   models.PhaseBettingClosed,
		RoundID: round.ID.String(),
	})
	return true
}

// launch persists the in_flight transition and draws the crash point.
func (e *Engine) launch(ctx context.Context, timer clockwork.Timer, round *models.Round) (int64, bool) {
	if !e.persist(ctx, timer, "in_flight", func(ctx context.Context) error {
		return e.store.UpdateRoundPhase(ctx, round.ID, models.PhaseInFlight)
	}) {
		return 0, false
	}

	crashPoint := CrashPoint(round.Seed, round.ID, e.cfg.CrashMin, e.cfg.CrashMax, e.cfg.TickStep)
	round.CrashPoint = crashPoint

	log.Info().
		Str("round_id", round.ID.String()).
		Int64("crash_point", crashPoint).
		Msg("round in flight")

	e.view.SetPhase(models.PhaseInFlight, round.ID, round.SeedHash)
	e.bus.Publish(broadcast.Event{
		Type:       broadcast.EventTypePhase,
		Phase:      models.PhaseInFlight,
		RoundID:    round.ID.String(),
		Multiplier: flightStart,
	})
	return crashPoint, true
}

// crash persists the final multiplier and reveals the seed.
func (e *Engine) crash(ctx context.Context, timer clockwork.Timer, round *models.Round, final int64) bool {
	if !e.persist(ctx, timer, "crashed", func(ctx context.Context) error {
		return e.store.RecordCrash(ctx, round.ID, final)
	}) {
		return false
	}
	log.Info().
		Str("round_id", round.ID.String()).
		Int64("final_multiplier", final).
		Msg("round crashed")

	e.view.SetPhase(models.PhaseCrashed, round.ID, round.SeedHash)
	e.bus.Publish(broadcast.Event{
		Type:       broadcast.EventTypeCrash,
		Phase:      models.PhaseCrashed,
		RoundID:    round.ID.String(),
		Multiplier: final,
		Seed:       round.Seed,
	})
	return true
}

// settle persists the end time and closes out every still-open stake as a
// loss, then clears in-round state for the next cycle.
func (e *Engine) settle(ctx context.Context, timer clockwork.Timer, round *models.Round, final int64) bool {
	if !e.persist(ctx, timer, "settlement", func(ctx context.Context) error {
		return e.store.FinishRound(ctx, round.ID, e.clock.Now().UTC())
	}) {
		return false
	}
	if !e.persist(ctx, timer, "settle losses", func(ctx context.Context) error {
		n, err := e.settler.SettleLosses(ctx, round.ID, final)
		if err != nil {
			return err
		}
		if n > 0 {
			log.Info().
				Str("round_id", round.ID.String()).
				Int("stakes_lost", n).
				Msg("settled open stakes as losses")
		}
		return nil
	}) {
		return false
	}

	e.view.SetPhase(models.PhaseSettlement, round.ID, "")
	e.bus.Publish(broadcast.Event{
		Type:    broadcast.EventTypePhase,
		Phase:   models.PhaseSettlement,
		RoundID: round.ID.String(),
	})
	return true
}

// persist retries a storage write with fixed backoff until it succeeds or
// ctx is cancelled. The machine never advances past an unacknowledged write
// and never stops mid-transition with partially-applied state.
func (e *Engine) persist(ctx context.Context, timer clockwork.Timer, what string, fn func(context.Context) error) bool {
	for {
		if err := fn(ctx); err == nil {
			return true
		} else {
			log.Error().Err(err).Str("transition", what).Msg("phase write failed, retrying after backoff")
		}
		if !e.sleep(ctx, timer, e.cfg.RetryBackoff) {
			return false
		}
	}
}

// sleep waits d on the shared timer; returns false when ctx is cancelled.
func (e *Engine) sleep(ctx context.Context, timer clockwork.Timer, d time.Duration) bool {
	timer.Reset(d)
	select {
	case <-timer.Chan():
		return true
	case <-ctx.Done():
		return false
	}
}
