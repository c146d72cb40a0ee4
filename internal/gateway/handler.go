package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/altiplay/altiplay/internal/auth"
	"github.com/altiplay/altiplay/internal/game/stakes"
	"github.com/altiplay/altiplay/internal/game/state"
	"github.com/altiplay/altiplay/internal/models"
)

// AccountStore is what the gateway needs to bind an account on join.
type AccountStore interface {
	UpsertAccount(ctx context.Context, userID uuid.UUID, username string, seedBalance int64) (*models.Account, error)
}

// defaultSeedBalance funds a brand-new account when the join message does
// not carry one. Dev convenience; real deployments fund accounts elsewhere.
const defaultSeedBalance = 10000

// Handler terminates client connections: join/authenticate, dispatch stake
// requests to the processor, unicast outcomes, and keep the presence list
// flowing. It holds explicit references to its collaborators; nothing here
// reaches through globals.
type Handler struct {
	manager  *Manager
	authn    auth.Authenticator
	accounts AccountStore
	proc     *stakes.Processor
	view     *state.View
}

func NewHandler(manager *Manager, authn auth.Authenticator, accounts AccountStore, proc *stakes.Processor, view *state.View) *Handler {
	return &Handler{
		manager:  manager,
		authn:    authn,
		accounts: accounts,
		proc:     proc,
		view:     view,
	}
}

// RegisterRoutes registers WebSocket routes with an HTTP mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/ws", h.HandleConnection)
}

// HandleConnection upgrades the request and hands the connection to the
// dispatch loop. The first frame must be a join.
func (h *Handler) HandleConnection(w http.ResponseWriter, r *http.Request) {
	if _, err := h.manager.Upgrade(w, r, h.dispatch, h.closed); err != nil {
		log.Error().Err(err).Msg("failed to upgrade WebSocket connection")
		return
	}
}

func (h *Handler) dispatch(c *Conn, data []byte) {
	var msg ClientMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		log.Debug().Str("connection_id", c.ID).Msg("dropping malformed frame")
		return
	}

	ctx := context.Background()

	if !c.hasJoined() {
		if msg.Type == MessageTypeJoin {
			h.join(ctx, c, msg)
		}
		return
	}

	switch msg.Type {
	case MessageTypePlace:
		h.place(ctx, c, msg)
	case MessageTypeCashOut:
		h.cashOut(ctx, c, msg)
	case MessageTypeCancel:
		h.cancel(ctx, c)
	default:
		log.Debug().
			Str("connection_id", c.ID).
			Str("message_type", string(msg.Type)).
			Msg("unknown message type - ignoring")
	}
}

// join authenticates the credential, binds the account, and sends the
// current-state snapshot before any live events reach the client.
func (h *Handler) join(ctx context.Context, c *Conn, msg ClientMessage) {
	identity, err := h.authn.Authenticate(ctx, msg.Credential)
	if err != nil {
		log.Warn().Str("connection_id", c.ID).Msg("join rejected: bad credential")
		c.SendMessage(MessageTypeJoinResult, ResultPayload{OK: false, Reason: "unauthorized"})
		return
	}

	seed := msg.Balance
	if seed <= 0 {
		seed = defaultSeedBalance
	}
	account, err := h.accounts.UpsertAccount(ctx, identity.UserID, identity.Username, seed)
	if err != nil {
		log.Error().Err(err).Str("user_id", identity.UserID.String()).Msg("failed to bind account")
		return
	}

	c.Identity = identity
	c.markJoined(account.Balance)

	snap := h.view.Snapshot()
	roundID := ""
	if snap.RoundID != uuid.Nil {
		roundID = snap.RoundID.String()
	}
	c.SendMessage(MessageTypeSnapshot, PhasePayload{
		Phase:      snap.Phase,
		RoundID:    roundID,
		Multiplier: snap.Multiplier,
		SeedHash:   snap.SeedHash,
	})

	log.Info().
		Str("connection_id", c.ID).
		Str("user_id", identity.UserID.String()).
		Str("username", identity.Username).
		Msg("client joined")
	h.manager.BroadcastPresence()
}

func (h *Handler) place(ctx context.Context, c *Conn, msg ClientMessage) {
	res, err := h.proc.Place(ctx, c.Identity.UserID, msg.Amount)
	if err != nil {
		c.SendMessage(MessageTypePlaceResult, ResultPayload{OK: false, Reason: reason(err)})
		return
	}
	c.setPresence(res.NewBalance, true)
	c.SendMessage(MessageTypePlaceResult, ResultPayload{OK: true, NewBalance: res.NewBalance})
	h.manager.BroadcastPresence()
}

func (h *Handler) cashOut(ctx context.Context, c *Conn, msg ClientMessage) {
	res, err := h.proc.CashOut(ctx, c.Identity.UserID, msg.Multiplier)
	if err != nil {
		c.SendMessage(MessageTypeCashOutResult, ResultPayload{OK: false, Reason: reason(err)})
		return
	}
	c.setPresence(res.NewBalance, false)
	c.SendMessage(MessageTypeCashOutResult, ResultPayload{
		OK:         true,
		Multiplier: res.Multiplier,
		Profit:     res.Profit,
		NewBalance: res.NewBalance,
	})
	h.manager.BroadcastPresence()
}

func (h *Handler) cancel(ctx context.Context, c *Conn) {
	res, err := h.proc.Cancel(ctx, c.Identity.UserID)
	if err != nil {
		c.SendMessage(MessageTypeCancelResult, ResultPayload{OK: false, Reason: reason(err)})
		return
	}
	c.setPresence(res.NewBalance, false)
	c.SendMessage(MessageTypeCancelResult, ResultPayload{
		OK:         true,
		Refund:     res.Refund,
		NewBalance: res.NewBalance,
	})
	h.manager.BroadcastPresence()
}

func (h *Handler) closed(c *Conn) {
	if c.hasJoined() {
		h.manager.BroadcastPresence()
	}
}

// reason maps processor errors to wire reasons. Unknown errors stay opaque.
func reason(err error) string {
	switch {
	case errors.Is(err, stakes.ErrPhaseClosed):
		return "PhaseClosed"
	case errors.Is(err, stakes.ErrPhaseNotOpen):
		return "PhaseNotOpen"
	case errors.Is(err, stakes.ErrPhaseNotFlying):
		return "PhaseNotFlying"
	case errors.Is(err, stakes.ErrInvalidAmount):
		return "InvalidAmount"
	case errors.Is(err, stakes.ErrInsufficientBalance):
		return "InsufficientBalance"
	case errors.Is(err, stakes.ErrDuplicateStake):
		return "DuplicateStake"
	case errors.Is(err, stakes.ErrNoOpenStake):
		return "NoOpenStake"
	default:
		return "Internal"
	}
}
