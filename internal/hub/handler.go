package hub

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/riskgateway/platform/internal/apierrors"
)

// TokenVerifier authenticates the token query parameter spec.md §4.C's
// handshake carries, returning the caller's user id. The hub package takes
// this as a function value rather than importing internal/ingress directly,
// keeping the two packages decoupled the same way internal/ingress avoids
// importing internal/hub (cmd/gateway wires both together).
type TokenVerifier func(token string) (userID string, ok bool)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// ServeWS implements spec.md §4.C's handshake: verify the token query
// parameter, upgrade to a websocket, register the connection, and send the
// initial connection_status message.
func (h *Hub) ServeWS(verify TokenVerifier) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := r.URL.Query().Get("token")
		userID, ok := verify(token)
		if !ok {
			apierrors.WriteError(w, apierrors.New(apierrors.Unauthenticated, "missing or invalid connection token"), false)
			return
		}

		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			h.logger.Warn().Err(err).Msg("websocket upgrade failed")
			return
		}

		conn := NewConnection(uuid.NewString(), userID, ws, h, h.logger)
		h.Register(conn)

		go conn.writePump()
		conn.enqueue(Message{
			Type:      TypeConnectionStatus,
			Payload:   map[string]any{"connected": true},
			Timestamp: time.Now().UTC(),
			UserID:    userID,
		})
		go conn.readPump()
	}
}

// Status reports hub-wide counters for the GET /api/v1/websocket/status
// endpoint (a local hub mount point of the route table).
func (h *Hub) Status(w http.ResponseWriter, r *http.Request) {
	apierrors.WriteJSON(w, http.StatusOK, map[string]any{
		"connections": h.ConnectionCount(),
		"users":       h.UserCount(),
	})
}

// TestMessage implements POST /api/v1/websocket/test-message: send a
// system_notification either to a specific user or broadcast to every
// connection, for operational verification of the push path.
func (h *Hub) TestMessage(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID  string `json:"userId"`
		Payload string `json:"payload"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apierrors.WriteError(w, apierrors.New(apierrors.Validation, "invalid request body"), false)
		return
	}

	msg := Message{
		Type:      TypeSystemNotice,
		Payload:   req.Payload,
		Timestamp: time.Now().UTC(),
		UserID:    req.UserID,
	}

	var delivered int
	if req.UserID != "" {
		delivered = h.SendToUser(req.UserID, msg)
	} else {
		delivered = h.Broadcast(msg)
	}
	apierrors.WriteJSON(w, http.StatusOK, map[string]any{"delivered": delivered})
}
