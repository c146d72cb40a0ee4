// Package audit appends round events to a durable journal. The journal is
// observability, not game state: write failures are logged and never fail
// the game path.
package audit

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/sqlc-dev/pqtype"

	"github.com/altiplay/altiplay/internal/broadcast"
)

// Journal records round events on database/sql. It attaches to the bus as a
// sink; tick events are skipped to keep the table at one row per transition
// rather than ten per second of flight. Writes are buffered through a queue
// drained on the journal's own goroutine so a slow insert never stalls bus
// dispatch for the sinks behind it.
type Journal struct {
	db    *sql.DB
	queue chan broadcast.Event
}

func NewJournal(db *sql.DB) *Journal {
	return &Journal{
		db:    db,
		queue: make(chan broadcast.Event, 256),
	}
}

// Deliver implements broadcast.Sink. It only enqueues; the insert happens on
// the Run goroutine.
func (j *Journal) Deliver(ev broadcast.Event) {
	if ev.Type == broadcast.EventTypeTick {
		return
	}
	select {
	case j.queue <- ev:
	default:
		log.Warn().
			Str("event_type", string(ev.Type)).
			Str("round_id", ev.RoundID).
			Msg("journal queue full, dropping event")
	}
}

// Run drains the queue until ctx is cancelled.
func (j *Journal) Run(ctx context.Context) {
	log.Info().Msg("audit journal started")
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("audit journal shutting down")
			return
		case ev := <-j.queue:
			j.record(ctx, ev)
		}
	}
}

func (j *Journal) record(ctx context.Context, ev broadcast.Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal journal payload")
		return
	}

	var roundID any
	if ev.RoundID != "" {
		roundID = ev.RoundID
	}

	_, err = j.db.ExecContext(ctx, `
		INSERT INTO round_events (id, round_id, event_type, payload)
		VALUES ($1, $2, $3, $4)`,
		uuid.New(), roundID, string(ev.Type),
		pqtype.NullRawMessage{RawMessage: payload, Valid: true})
	if err != nil {
		log.Error().
			Err(err).
			Str("event_type", string(ev.Type)).
			Str("round_id", ev.RoundID).
			Msg("failed to journal round event")
	}
}
