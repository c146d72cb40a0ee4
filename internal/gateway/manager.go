package gateway

import (
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/altiplay/altiplay/internal/auth"
	"github.com/altiplay/altiplay/internal/broadcast"
	"github.com/altiplay/altiplay/internal/models"
)

// Config holds configuration for WebSocket connections.
type Config struct {
	WriteTimeout    time.Duration
	ReadTimeout     time.Duration
	PingInterval    time.Duration
	MaxMessageSize  int64
	ReadBufferSize  int
	WriteBufferSize int
	CheckOrigin     func(r *http.Request) bool
}

// DefaultConfig returns default WebSocket configuration.
func DefaultConfig() Config {
	return Config{
		WriteTimeout:    10 * time.Second,
		ReadTimeout:     60 * time.Second,
		PingInterval:    30 * time.Second,
		MaxMessageSize:  1024,
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			// Allow all origins in development - restrict in production
			return true
		},
	}
}

// Manager is the connection registry. It tracks every live connection on
// this node with its bound user and presence attributes, and fans node-local
// broadcasts out to them.
type Manager struct {
	mu     sync.RWMutex
	conns  map[*Conn]bool
	config Config

	upgrader    websocket.Upgrader
	broadcastCh chan []byte
}

// Conn represents one WebSocket connection bound to a user. Presence fields
// are a node-local snapshot for the presence list; authoritative state lives
// in the stake and account records.
type Conn struct {
	ID       string
	Identity auth.Identity

	sock    *websocket.Conn
	Send    chan []byte
	done    chan struct{} // closed on unregister; Send itself is never closed
	manager *Manager

	// set by the handler before dispatch starts
	onMessage func(c *Conn, data []byte)
	onClose   func(c *Conn)

	presenceMu sync.Mutex
	joined     bool
	balance    int64
	betting    bool

	ConnectedAt time.Time
	LastPing    time.Time
}

// NewManager creates a connection registry.
func NewManager(config Config) *Manager {
	return &Manager{
		conns:  make(map[*Conn]bool),
		config: config,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin:     config.CheckOrigin,
		},
		broadcastCh: make(chan []byte, 1000),
	}
}

// Start processes node-local broadcasts until ctx is cancelled.
func (m *Manager) Start(done <-chan struct{}) {
	log.Info().Msg("connection registry started")
	for {
		select {
		case <-done:
			log.Info().Msg("connection registry shutting down")
			return
		case data := <-m.broadcastCh:
			m.fanOut(data)
		}
	}
}

// Upgrade upgrades an HTTP request and starts the connection's pumps. The
// connection is registered immediately but stays out of the presence list
// until it joins.
func (m *Manager) Upgrade(w http.ResponseWriter, r *http.Request, onMessage func(*Conn, []byte), onClose func(*Conn)) (*Conn, error) {
	sock, err := m.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, err
	}

	conn := &Conn{
		ID:          uuid.New().String(),
		sock:        sock,
		Send:        make(chan []byte, 256),
		done:        make(chan struct{}),
		manager:     m,
		onMessage:   onMessage,
		onClose:     onClose,
		ConnectedAt: time.Now(),
		LastPing:    time.Now(),
	}

	m.mu.Lock()
	m.conns[conn] = true
	m.mu.Unlock()

	go conn.writePump()
	go conn.readPump()

	log.Info().Str("connection_id", conn.ID).Msg("WebSocket connection established")
	return conn, nil
}

func (m *Manager) unregister(conn *Conn) {
	m.mu.Lock()
	if _, ok := m.conns[conn]; !ok {
		m.mu.Unlock()
		return
	}
	delete(m.conns, conn)
	// Closing done (never Send) lets the write pump exit while late
	// unicasts from an in-flight dispatch stay panic-free.
	close(conn.done)
	m.mu.Unlock()

	log.Info().
		Str("connection_id", conn.ID).
		Str("user_id", conn.Identity.UserID.String()).
		Msg("connection unregistered")

	if conn.onClose != nil {
		conn.onClose(conn)
	}
}

// Broadcast queues a frame for every connection on this node.
func (m *Manager) Broadcast(data []byte) {
	select {
	case m.broadcastCh <- data:
	default:
		log.Warn().Msg("broadcast channel full, dropping message")
	}
}

func (m *Manager) fanOut(data []byte) {
	m.mu.RLock()
	targets := make([]*Conn, 0, len(m.conns))
	for conn := range m.conns {
		targets = append(targets, conn)
	}
	m.mu.RUnlock()

	for _, conn := range targets {
		select {
		case <-conn.done:
			continue
		default:
		}
		select {
		case conn.Send <- data:
		default:
			// Connection is slow/dead, close it
			log.Warn().
				Str("connection_id", conn.ID).
				Msg("connection send buffer full, closing connection")
			m.unregister(conn)
			conn.sock.Close()
		}
	}
}

// Deliver implements broadcast.Sink: every bus event is translated to its
// client frame and fanned out locally. Ordering is preserved because both
// the bus dispatch and the broadcast loop are single goroutines.
func (m *Manager) Deliver(ev broadcast.Event) {
	var (
		data []byte
		err  error
	)
	switch ev.Type {
	case broadcast.EventTypePhase:
		if ev.Phase == models.PhaseBettingOpen {
			m.resetBettingFlags()
		}
		data, err = encodeMessage(MessageTypePhaseUpdate, PhasePayload{
			Phase:      ev.Phase,
			RoundID:    ev.RoundID,
			Multiplier: ev.Multiplier,
			SeedHash:   ev.SeedHash,
		})
	case broadcast.EventTypeTick:
		data, err = encodeMessage(MessageTypePhaseUpdate, PhasePayload{
			Phase:      ev.Phase,
			RoundID:    ev.RoundID,
			Multiplier: ev.Multiplier,
		})
	case broadcast.EventTypeCrash:
		m.resetBettingFlags()
		data, err = encodeMessage(MessageTypeCrash, CrashPayload{
			RoundID:         ev.RoundID,
			FinalMultiplier: ev.Multiplier,
			Seed:            ev.Seed,
		})
	default:
		return
	}
	if err != nil {
		log.Error().Err(err).Str("event_type", string(ev.Type)).Msg("failed to encode event frame")
		return
	}
	m.Broadcast(data)
}

func (m *Manager) resetBettingFlags() {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for conn := range m.conns {
		conn.presenceMu.Lock()
		conn.betting = false
		conn.presenceMu.Unlock()
	}
}

// Presence returns the presence list: one entry per joined user, stable
// order. Node-local and tolerant of staleness.
func (m *Manager) Presence() []PresenceEntry {
	m.mu.RLock()
	byUser := make(map[uuid.UUID]PresenceEntry)
	for conn := range m.conns {
		conn.presenceMu.Lock()
		joined, balance, betting := conn.joined, conn.balance, conn.betting
		conn.presenceMu.Unlock()
		if !joined {
			continue
		}
		entry, ok := byUser[conn.Identity.UserID]
		if !ok {
			entry = PresenceEntry{Username: conn.Identity.Username, Balance: balance}
		}
		entry.Betting = entry.Betting || betting
		entry.Balance = balance
		byUser[conn.Identity.UserID] = entry
	}
	m.mu.RUnlock()

	out := make([]PresenceEntry, 0, len(byUser))
	for _, entry := range byUser {
		out = append(out, entry)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	return out
}

// BroadcastPresence pushes the current presence list to every connection.
func (m *Manager) BroadcastPresence() {
	data, err := encodeMessage(MessageTypePresenceList, m.Presence())
	if err != nil {
		log.Error().Err(err).Msg("failed to encode presence list")
		return
	}
	m.Broadcast(data)
}

// ConnectionCount returns the number of live connections on this node.
func (m *Manager) ConnectionCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.conns)
}

// SendMessage unicasts a frame to one connection.
func (c *Conn) SendMessage(typ MessageType, payload any) {
	data, err := encodeMessage(typ, payload)
	if err != nil {
		log.Error().Err(err).Str("connection_id", c.ID).Msg("failed to encode frame")
		return
	}
	select {
	case <-c.done:
		// Unregistered while the dispatch was still running.
		return
	default:
	}
	select {
	case c.Send <- data:
	default:
		log.Warn().Str("connection_id", c.ID).Msg("send buffer full, dropping unicast")
	}
}

// setPresence updates the connection's presence attributes.
func (c *Conn) setPresence(balance int64, betting bool) {
	c.presenceMu.Lock()
	c.balance = balance
	c.betting = betting
	c.presenceMu.Unlock()
}

func (c *Conn) markJoined(balance int64) {
	c.presenceMu.Lock()
	c.joined = true
	c.balance = balance
	c.presenceMu.Unlock()
}

func (c *Conn) hasJoined() bool {
	c.presenceMu.Lock()
	defer c.presenceMu.Unlock()
	return c.joined
}

// writePump handles sending messages to the WebSocket connection.
func (c *Conn) writePump() {
	ticker := time.NewTicker(c.manager.config.PingInterval)
	defer func() {
		ticker.Stop()
		c.sock.Close()
		c.manager.unregister(c)
	}()

	for {
		select {
		case <-c.done:
			c.sock.SetWriteDeadline(time.Now().Add(c.manager.config.WriteTimeout))
			c.sock.WriteMessage(websocket.CloseMessage, []byte{})
			return

		case message := <-c.Send:
			c.sock.SetWriteDeadline(time.Now().Add(c.manager.config.WriteTimeout))
			if err := c.sock.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Error().Err(err).Str("connection_id", c.ID).Msg("failed to write message")
				return
			}

		case <-ticker.C:
			c.sock.SetWriteDeadline(time.Now().Add(c.manager.config.WriteTimeout))
			if err := c.sock.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Error().Err(err).Str("connection_id", c.ID).Msg("failed to send ping")
				return
			}
			c.LastPing = time.Now()
		}
	}
}

// readPump reads client frames and dispatches them in order: messages for
// one connection are handled one at a time on this goroutine, so a client's
// own requests never race each other.
func (c *Conn) readPump() {
	defer func() {
		c.manager.unregister(c)
		c.sock.Close()
	}()

	c.sock.SetReadLimit(c.manager.config.MaxMessageSize)
	c.sock.SetReadDeadline(time.Now().Add(c.manager.config.ReadTimeout))
	c.sock.SetPongHandler(func(string) error {
		c.sock.SetReadDeadline(time.Now().Add(c.manager.config.ReadTimeout))
		c.LastPing = time.Now()
		return nil
	})

	for {
		_, message, err := c.sock.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Error().Err(err).Str("connection_id", c.ID).Msg("unexpected WebSocket close error")
			}
			break
		}
		if c.onMessage != nil {
			c.onMessage(c, message)
		}
		c.sock.SetReadDeadline(time.Now().Add(c.manager.config.ReadTimeout))
	}
}
