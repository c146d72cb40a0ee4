package main

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/altiplay/altiplay/internal/audit"
	"github.com/altiplay/altiplay/internal/auth"
	"github.com/altiplay/altiplay/internal/broadcast"
	"github.com/altiplay/altiplay/internal/game/engine"
	"github.com/altiplay/altiplay/internal/game/stakes"
	"github.com/altiplay/altiplay/internal/game/state"
	"github.com/altiplay/altiplay/internal/gateway"
	"github.com/altiplay/altiplay/internal/history"
	"github.com/altiplay/altiplay/internal/ledger"
	"github.com/altiplay/altiplay/internal/rounds"
	"github.com/altiplay/altiplay/internal/store"
)

// Services wires the node's components together.
type Services struct {
	Bus     *broadcast.Bus
	Bridge  *broadcast.NATSBridge
	View    *state.View
	Engine  *engine.Engine
	Manager *gateway.Manager
	Gateway *gateway.Handler
	History *history.Handler
	Journal *audit.Journal
}

func buildServices(ctx context.Context, cfg *Config, dbs *databases) (*Services, error) {
	view := state.NewView()
	bus := broadcast.NewBus(cfg.Node.ID)

	var (
		led       stakes.Ledger
		roundRepo engine.RoundStore
		accounts  gateway.AccountStore
		histh     *history.Handler
		journal   *audit.Journal
	)
	if dbs != nil {
		repo := ledger.NewRepository(dbs.primary)
		led = repo
		accounts = repo
		roundRepo = rounds.NewRepository(dbs.primary)
		histh = history.NewHandler(history.NewRepository(dbs.replica))
		journal = audit.NewJournal(dbs.journal)
		bus.Attach(journal)
	} else {
		mem := store.NewMemory()
		led = mem
		accounts = mem
		roundRepo = mem
		log.Warn().Msg("memory storage selected, state will not survive restarts")
	}

	proc := stakes.NewProcessor(led, view)
	eng := engine.NewEngine(cfg.gameConfig(), roundRepo, proc, bus, view, cfg.Node.Coordinator)

	manager := gateway.NewManager(gateway.DefaultConfig())
	bus.Attach(manager)

	// The coordinator's engine writes the view directly before publishing,
	// so mirroring bus events back into it would only reorder updates.
	// Followers have no engine and track phase through the bus instead.
	if !cfg.Node.Coordinator {
		bus.Attach(state.MirrorSink{View: view})
	}

	var authn auth.Authenticator
	if cfg.Auth.Secret != "" {
		authn = auth.NewTokenAuthenticator(cfg.Auth.Secret)
	} else {
		log.Warn().Msg("AUTH_SECRET not set, accepting guest credentials")
		authn = auth.GuestAuthenticator{}
	}

	gw := gateway.NewHandler(manager, authn, accounts, proc, view)

	svc := &Services{
		Bus:     bus,
		View:    view,
		Engine:  eng,
		Manager: manager,
		Gateway: gw,
		History: histh,
		Journal: journal,
	}

	if cfg.NATS.Enabled {
		ncfg := broadcast.DefaultNATSConfig()
		if cfg.NATS.URL != "" {
			ncfg.URL = cfg.NATS.URL
		}
		if cfg.NATS.Subject != "" {
			ncfg.Subject = cfg.NATS.Subject
		}
		bridge, err := broadcast.ConnectNATS(ncfg, bus)
		if err != nil {
			// A node without the cross-node channel still serves its own
			// connections from local events.
			log.Warn().Err(err).Msg("cross-node channel unavailable, running node-local")
		} else {
			bus.SetBridge(bridge)
			svc.Bridge = bridge
		}
	}

	return svc, nil
}

func (s *Services) close() {
	if s.Bridge != nil {
		s.Bridge.Close()
	}
}
