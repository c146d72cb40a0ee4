package broadcast

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"
)

// NATSConfig holds configuration for the cross-node channel.
type NATSConfig struct {
	URL           string
	Subject       string // e.g. "altiplay.rounds"
	MaxReconnects int
	ReconnectWait time.Duration
}

// DefaultNATSConfig returns default cross-node channel configuration.
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		URL:           nats.DefaultURL,
		Subject:       "altiplay.rounds",
		MaxReconnects: -1, // infinite
		ReconnectWait: 2 * time.Second,
	}
}

// NATSBridge carries bus events between nodes over a NATS subject. Core
// NATS pub/sub is deliberate: the contract is at-least-once delivery to
// connections attached at publish time, and late joiners get a state
// snapshot instead of replay, so no stream persistence is wanted.
type NATSBridge struct {
	nc      *nats.Conn
	sub     *nats.Subscription
	subject string
}

// ConnectNATS connects to the cross-node channel and wires incoming events
// into the bus. The caller attaches the returned bridge with bus.SetBridge.
func ConnectNATS(cfg NATSConfig, bus *Bus) (*NATSBridge, error) {
	opts := []nats.Option{
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Error().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			log.Error().Err(err).Msg("NATS error")
		}),
	}

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	br := &NATSBridge{nc: nc, subject: cfg.Subject}

	sub, err := nc.Subscribe(cfg.Subject, func(msg *nats.Msg) {
		var ev Event
		if err := json.Unmarshal(msg.Data, &ev); err != nil {
			log.Error().Err(err).Str("subject", msg.Subject).Msg("bad event on cross-node channel")
			return
		}
		bus.Inject(ev)
	})
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("subscribe %s: %w", cfg.Subject, err)
	}
	br.sub = sub

	log.Info().Str("url", cfg.URL).Str("subject", cfg.Subject).Msg("cross-node channel connected")
	return br, nil
}

// Publish sends an event to the other nodes.
func (br *NATSBridge) Publish(ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	return br.nc.Publish(br.subject, data)
}

// Close drains the subscription and closes the connection.
func (br *NATSBridge) Close() {
	if br.sub != nil {
		_ = br.sub.Unsubscribe()
	}
	if br.nc != nil {
		br.nc.Close()
	}
}
