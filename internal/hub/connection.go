package hub

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	writeWait      = 10 * time.Second
	maxMessageSize = 1 << 20 // 1MB
)

// Connection is one accepted websocket peer: the connection entry named in
// spec.md §4.C ("connection id, authenticated user id, liveness flag,
// last-heartbeat timestamp, send channel").
type Connection struct {
	ID     string
	UserID string

	hub    *Hub
	conn   *websocket.Conn
	logger zerolog.Logger

	send chan Message

	closeMu   sync.Mutex
	closed    bool
	pongAtSec atomic.Int64
}

// NewConnection wraps an already-upgraded websocket.Conn as a hub
// Connection.
func NewConnection(id, userID string, ws *websocket.Conn, h *Hub, logger zerolog.Logger) *Connection {
	c := &Connection{
		ID:     id,
		UserID: userID,
		hub:    h,
		conn:   ws,
		logger: logger.With().Str("connection_id", id).Str("user_id", userID).Logger(),
		send:   make(chan Message, sendBufferSize),
	}
	c.pongAtSec.Store(time.Now().Unix())
	return c
}

func (c *Connection) lastPong() time.Time {
	return time.Unix(c.pongAtSec.Load(), 0)
}

// enqueue places msg on the connection's send buffer. Returns false and
// drops the message if the buffer is full (spec.md §4.C: "if the send
// buffer is full... the message is dropped with a log").
func (c *Connection) enqueue(msg Message) bool {
	select {
	case c.send <- msg:
		return true
	default:
		c.logger.Warn().Str("type", string(msg.Type)).Msg("send buffer full, dropping message")
		return false
	}
}

func (c *Connection) sendPing() {
	c.closeMu.Lock()
	closed := c.closed
	c.closeMu.Unlock()
	if closed || c.conn == nil {
		return
	}
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
		c.logger.Debug().Err(err).Msg("ping write failed")
	}
}

func (c *Connection) closeOnce() {
	c.closeMu.Lock()
	defer c.closeMu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
	if c.conn != nil {
		_ = c.conn.Close()
	}
}

// readPump reads client frames until the connection closes or errors,
// unregistering itself from the hub on exit. Run in its own goroutine
// (spec.md §5: "one reader task per connection").
func (c *Connection) readPump() {
	defer c.hub.Unregister(c)

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(c.hub.heartbeatTimeout))
	c.conn.SetPongHandler(func(string) error {
		c.pongAtSec.Store(time.Now().Unix())
		_ = c.conn.SetReadDeadline(time.Now().Add(c.hub.heartbeatTimeout))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		c.pongAtSec.Store(time.Now().Unix())

		var incoming struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(data, &incoming); err != nil {
			continue
		}
		if incoming.Type == string(TypeHeartbeat) {
			c.enqueue(Message{Type: TypeHeartbeat, Timestamp: time.Now().UTC(), UserID: c.UserID})
		}
	}
}

// writePump drains the send buffer to the underlying connection. Run in
// its own goroutine (spec.md §5: "one writer task per connection").
// Messages addressed to the same connection preserve enqueue order since
// the buffer is a single channel drained by a single goroutine.
func (c *Connection) writePump() {
	defer c.closeOnce()

	for msg := range c.send {
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteJSON(msg); err != nil {
			c.logger.Debug().Err(err).Msg("write failed, closing connection")
			return
		}
	}
}
