package broadcast

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Sink receives events in publish order. The gateway attaches one to push
// events to its local connections; followers attach a phase mirror.
type Sink interface {
	Deliver(ev Event)
}

// Bridge carries events to the other nodes. Implemented by NATSBridge; nil
// when the node runs without a cross-node channel.
type Bridge interface {
	Publish(ev Event) error
}

// Bus fans every published event out to the local sinks and, when a bridge
// is attached, to the rest of the cluster. A single dispatch goroutine
// drains the queue, so any one sink observes events in exactly the order
// they were published.
type Bus struct {
	nodeID string

	mu     sync.RWMutex
	sinks  []Sink
	bridge Bridge

	queue chan Event
}

// NewBus creates a bus for this node. nodeID stamps every outgoing event so
// remote copies of our own events can be discarded on re-entry.
func NewBus(nodeID string) *Bus {
	return &Bus{
		nodeID: nodeID,
		queue:  make(chan Event, 1024),
	}
}

// NodeID returns the identifier stamped on events published by this bus.
func (b *Bus) NodeID() string { return b.nodeID }

// Attach registers a sink. Attach before Run; late sinks miss earlier events
// and must bootstrap from a state snapshot instead.
func (b *Bus) Attach(s Sink) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sinks = append(b.sinks, s)
}

// SetBridge attaches the cross-node channel.
func (b *Bus) SetBridge(br Bridge) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.bridge = br
}

// Run drains the queue until ctx is cancelled.
func (b *Bus) Run(ctx context.Context) {
	log.Info().Str("node", b.nodeID).Msg("broadcast bus started")
	for {
		select {
		case <-ctx.Done():
			log.Info().Str("node", b.nodeID).Msg("broadcast bus shutting down")
			return
		case ev := <-b.queue:
			b.dispatch(ev)
		}
	}
}

// Publish stamps and enqueues an event for local delivery, then forwards it
// to the bridge. Bridge failures degrade to node-local broadcast only: the
// coordinator keeps serving its own clients while followers go stale.
func (b *Bus) Publish(ev Event) {
	ev.ID = uuid.New().String()
	ev.Origin = b.nodeID
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}

	b.enqueue(ev)

	b.mu.RLock()
	bridge := b.bridge
	b.mu.RUnlock()
	if bridge == nil {
		return
	}
	if err := bridge.Publish(ev); err != nil {
		log.Warn().
			Err(err).
			Str("event_type", string(ev.Type)).
			Msg("cross-node publish failed; delivering locally only")
	}
}

// Inject feeds an event received from the bridge into local delivery.
// Events this node published come back on the channel and are dropped here.
func (b *Bus) Inject(ev Event) {
	if ev.Origin == b.nodeID {
		return
	}
	b.enqueue(ev)
}

func (b *Bus) enqueue(ev Event) {
	select {
	case b.queue <- ev:
	default:
		log.Warn().
			Str("event_type", string(ev.Type)).
			Str("round_id", ev.RoundID).
			Msg("broadcast queue full, dropping event")
	}
}

func (b *Bus) dispatch(ev Event) {
	b.mu.RLock()
	sinks := make([]Sink, len(b.sinks))
	copy(sinks, b.sinks)
	b.mu.RUnlock()

	for _, s := range sinks {
		s.Deliver(ev)
	}
}
