// Package hub implements the realtime push hub of spec.md §4.C: persistent
// authenticated connections, a user-id -> connection-set index, heartbeat
// reaping, and best-effort send_to_user/send_to_connection/broadcast APIs.
//
// The teacher repo has no websocket hub — its closest analog is the SSE
// disconnect-aware writer in handler/stream.go, whose fire-and-forget
// buffered-channel-per-connection idea is reused here, retargeted at
// long-lived bidirectional connections via github.com/gorilla/websocket
// (named in r3e-network-service_layer's go.mod).
package hub

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// MessageType enumerates the server- and client-initiated message kinds
// spec.md §6 names for the /ws message schema.
type MessageType string

const (
	TypeConnectionStatus  MessageType = "connection_status"
	TypeHeartbeat         MessageType = "heartbeat"
	TypePriceUpdate       MessageType = "price_update"
	TypeTradeNotification MessageType = "trade_notification"
	TypeTradeStatus       MessageType = "trade_status"
	TypePortfolioUpdate   MessageType = "portfolio_update"
	TypeMarketAlert       MessageType = "market_alert"
	TypeSystemNotice      MessageType = "system_notification"
)

// Message is the wire schema spec.md §6 names:
// {type, payload, timestamp, userId?}.
type Message struct {
	Type      MessageType `json:"type"`
	Payload   any         `json:"payload,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
	UserID    string      `json:"userId,omitempty"`
}

// sendBufferSize bounds each connection's outbound channel; a full buffer
// means the peer isn't draining fast enough and the message is dropped
// rather than blocking the sender (spec.md §4.C: "fire-and-forget...
// dropped with a log").
const sendBufferSize = 64

// Hub owns the connection-id -> entry and user-id -> connection-set
// indices and runs the heartbeat loop. Zero value is not usable; build
// with New.
type Hub struct {
	logger            zerolog.Logger
	heartbeatInterval time.Duration
	heartbeatTimeout  time.Duration

	mu          sync.RWMutex
	connections map[string]*Connection
	byUser      map[string]map[string]*Connection

	register   chan *Connection
	unregister chan *Connection

	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New builds a Hub. heartbeatInterval/heartbeatTimeout default to spec.md
// §4.C's 15s/30s when zero.
func New(heartbeatInterval, heartbeatTimeout time.Duration, logger zerolog.Logger) *Hub {
	if heartbeatInterval <= 0 {
		heartbeatInterval = 15 * time.Second
	}
	if heartbeatTimeout <= 0 {
		heartbeatTimeout = 30 * time.Second
	}
	return &Hub{
		logger:            logger.With().Str("component", "hub").Logger(),
		heartbeatInterval: heartbeatInterval,
		heartbeatTimeout:  heartbeatTimeout,
		connections:       make(map[string]*Connection),
		byUser:            make(map[string]map[string]*Connection),
		register:          make(chan *Connection),
		unregister:        make(chan *Connection),
		stop:              make(chan struct{}),
	}
}

// Run starts the hub's registration loop and heartbeat task. It blocks
// until Shutdown is called; call it in its own goroutine.
func (h *Hub) Run() {
	h.wg.Add(1)
	defer h.wg.Done()

	ticker := time.NewTicker(h.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case conn := <-h.register:
			h.addConnection(conn)
		case conn := <-h.unregister:
			h.removeConnection(conn)
		case <-ticker.C:
			h.pingAll()
		case <-h.stop:
			h.closeAll()
			return
		}
	}
}

func (h *Hub) addConnection(c *Connection) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.connections[c.ID] = c
	set, ok := h.byUser[c.UserID]
	if !ok {
		set = make(map[string]*Connection)
		h.byUser[c.UserID] = set
	}
	set[c.ID] = c
	h.logger.Debug().Str("connection_id", c.ID).Str("user_id", c.UserID).Msg("connection registered")
}

// removeConnection deletes c from both indices; the last entry for a
// user-id removes the key entirely (spec.md §4.C state invariant).
func (h *Hub) removeConnection(c *Connection) {
	h.mu.Lock()
	_, tracked := h.connections[c.ID]
	if tracked {
		delete(h.connections, c.ID)
		if set, ok := h.byUser[c.UserID]; ok {
			delete(set, c.ID)
			if len(set) == 0 {
				delete(h.byUser, c.UserID)
			}
		}
	}
	h.mu.Unlock()

	if tracked {
		c.closeOnce()
		h.logger.Debug().Str("connection_id", c.ID).Str("user_id", c.UserID).Msg("connection removed")
	}
}

// Unregister requests removal of c from the hub; safe to call multiple
// times and from any goroutine other than the Run loop itself (readPump
// uses it on exit; the heartbeat reaper inside Run removes directly).
func (h *Hub) Unregister(c *Connection) {
	select {
	case h.unregister <- c:
	case <-h.stop:
	}
}

// Register adds a newly-accepted connection to the hub.
func (h *Hub) Register(c *Connection) {
	select {
	case h.register <- c:
	case <-h.stop:
	}
}

// pingAll sends a ping to every tracked connection and reaps any
// connection that hasn't produced a pong since the last heartbeatTimeout
// window (spec.md §4.C: "a connection failing to respond within 30s is
// terminated").
func (h *Hub) pingAll() {
	h.mu.RLock()
	conns := make([]*Connection, 0, len(h.connections))
	for _, c := range h.connections {
		conns = append(conns, c)
	}
	h.mu.RUnlock()

	cutoff := time.Now().Add(-h.heartbeatTimeout)
	for _, c := range conns {
		if c.lastPong().Before(cutoff) {
			h.logger.Warn().Str("connection_id", c.ID).Msg("heartbeat timeout, reaping connection")
			h.removeConnection(c)
			continue
		}
		c.sendPing()
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	conns := make([]*Connection, 0, len(h.connections))
	for _, c := range h.connections {
		conns = append(conns, c)
	}
	h.connections = make(map[string]*Connection)
	h.byUser = make(map[string]map[string]*Connection)
	h.mu.Unlock()

	for _, c := range conns {
		c.closeOnce()
	}
}

// Shutdown stops the registration/heartbeat loop and closes every open
// connection (spec.md §4.C: "close all connections, release indices, stop
// the heartbeat loop").
func (h *Hub) Shutdown(ctx context.Context) error {
	h.stopOnce.Do(func() { close(h.stop) })
	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SendToConnection delivers msg to exactly one connection, identified by
// id. Fire-and-forget: returns false if the connection is unknown or its
// send buffer is full.
func (h *Hub) SendToConnection(id string, msg Message) bool {
	h.mu.RLock()
	c, ok := h.connections[id]
	h.mu.RUnlock()
	if !ok {
		return false
	}
	return c.enqueue(msg)
}

// SendToUser delivers msg to every open connection belonging to userID,
// best-effort (spec.md §4.C: "best-effort to all sessions").
func (h *Hub) SendToUser(userID string, msg Message) int {
	h.mu.RLock()
	set, ok := h.byUser[userID]
	targets := make([]*Connection, 0, len(set))
	if ok {
		for _, c := range set {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()

	delivered := 0
	for _, c := range targets {
		if c.enqueue(msg) {
			delivered++
		}
	}
	return delivered
}

// Broadcast delivers msg to every open connection except those listed in
// exclude.
func (h *Hub) Broadcast(msg Message, exclude ...string) int {
	skip := make(map[string]bool, len(exclude))
	for _, id := range exclude {
		skip[id] = true
	}

	h.mu.RLock()
	targets := make([]*Connection, 0, len(h.connections))
	for id, c := range h.connections {
		if skip[id] {
			continue
		}
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	delivered := 0
	for _, c := range targets {
		if c.enqueue(msg) {
			delivered++
		}
	}
	return delivered
}

// ConnectionCount returns the number of currently open connections.
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.connections)
}

// UserCount returns the number of distinct users with at least one open
// connection.
func (h *Hub) UserCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.byUser)
}
