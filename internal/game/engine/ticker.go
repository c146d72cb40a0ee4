package engine

import (
	"context"

	"github.com/altiplay/altiplay/internal/broadcast"
	"github.com/altiplay/altiplay/internal/models"
)

// flightStart is the multiplier at liftoff, in thousandths (1.000x).
const flightStart int64 = 1000

// runFlight drives the multiplier from liftoff to the crash point. Each tick
// raises the multiplier by TickStep, updates the view, and publishes the new
// value. The loop stops at the first tick reaching the drawn crash point and
// returns it as the authoritative final value; because draws are aligned to
// the tick grid the returned value equals crashPoint exactly. A draw at the
// starting multiplier crashes immediately, before any tick.
//
// The flight duration is a pure function of the crash point and the step
// size, not of wall-clock variance beyond scheduler jitter.
func (e *Engine) runFlight(ctx context.Context, round *models.Round, crashPoint int64) (int64, bool) {
	multiplier := flightStart
	if multiplier >= crashPoint {
		return multiplier, true
	}

	ticker := e.clock.NewTicker(e.cfg.TickPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return multiplier, false
		case <-ticker.Chan():
		}

		multiplier += e.cfg.TickStep
		e.view.SetMultiplier(multiplier)
		e.bus.Publish(broadcast.Event{
			Type:       broadcast.EventTypeTick,
			Phase:      models.PhaseInFlight,
			RoundID:    round.ID.String(),
			Multiplier: multiplier,
		})

		if multiplier >= crashPoint {
			return multiplier, true
		}
	}
}
