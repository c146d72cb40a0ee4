package gateway

import (
	"encoding/json"
	"time"

	"github.com/altiplay/altiplay/internal/models"
)

// MessageType labels every frame exchanged with a client.
type MessageType string

const (
	// inbound
	MessageTypeJoin    MessageType = "join"
	MessageTypePlace   MessageType = "place"
	MessageTypeCashOut MessageType = "cashOut"
	MessageTypeCancel  MessageType = "cancel"

	// outbound
	MessageTypeJoinResult    MessageType = "joinResult"
	MessageTypeSnapshot      MessageType = "snapshot"
	MessageTypePhaseUpdate   MessageType = "phaseUpdate"
	MessageTypeCrash         MessageType = "crash"
	MessageTypePlaceResult   MessageType = "placeResult"
	MessageTypeCashOutResult MessageType = "cashOutResult"
	MessageTypeCancelResult  MessageType = "cancelResult"
	MessageTypePresenceList  MessageType = "presenceList"
)

// ClientMessage is an inbound frame. The first frame on a connection must
// be a join; everything after is a stake request.
type ClientMessage struct {
	Type       MessageType `json:"type"`
	Credential string      `json:"credential,omitempty"` // join
	Balance    int64       `json:"balance,omitempty"`    // join: seed balance for new accounts
	Amount     int64       `json:"amount,omitempty"`     // place
	Multiplier int64       `json:"multiplier,omitempty"` // cashOut: advisory only, never trusted for payout
}

// ServerMessage is an outbound frame.
type ServerMessage struct {
	Type      MessageType     `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// PhasePayload carries round state; it doubles as the attach snapshot.
type PhasePayload struct {
	Phase      models.RoundPhase `json:"phase"`
	RoundID    string            `json:"round_id,omitempty"`
	Multiplier int64             `json:"multiplier,omitempty"`
	SeedHash   string            `json:"seed_hash,omitempty"`
}

// CrashPayload carries the authoritative crash value and the revealed seed.
type CrashPayload struct {
	RoundID         string `json:"round_id"`
	FinalMultiplier int64  `json:"final_multiplier"`
	Seed            string `json:"seed"`
}

// ResultPayload reports a stake request outcome back to its sender.
type ResultPayload struct {
	OK         bool   `json:"ok"`
	Reason     string `json:"reason,omitempty"`
	Multiplier int64  `json:"multiplier,omitempty"`
	Profit     int64  `json:"profit,omitempty"`
	Refund     int64  `json:"refund,omitempty"`
	NewBalance int64  `json:"new_balance,omitempty"`
}

// PresenceEntry is one connected user in the presence list.
type PresenceEntry struct {
	Username string `json:"username"`
	Balance  int64  `json:"balance"`
	Betting  bool   `json:"betting"`
}

func encodeMessage(typ MessageType, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(ServerMessage{
		Type:      typ,
		Timestamp: time.Now().UTC(),
		Data:      data,
	})
}
