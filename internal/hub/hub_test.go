package hub

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func newTestHub() *Hub {
	return New(15*time.Second, 30*time.Second, zerolog.Nop())
}

// registerFake adds a Connection to the hub's indices directly, bypassing
// the websocket upgrade, for index/index-cleanup tests that don't need a
// live socket.
func registerFake(h *Hub, id, userID string) *Connection {
	c := &Connection{ID: id, UserID: userID, hub: h, logger: zerolog.Nop(), send: make(chan Message, sendBufferSize)}
	c.pongAtSec.Store(time.Now().Unix())
	h.addConnection(c)
	return c
}

func TestRegisterAndIndex(t *testing.T) {
	h := newTestHub()
	c1 := registerFake(h, "conn-1", "user-a")
	registerFake(h, "conn-2", "user-a")

	require.Equal(t, 2, h.ConnectionCount())
	require.Equal(t, 1, h.UserCount())

	h.mu.RLock()
	set := h.byUser["user-a"]
	h.mu.RUnlock()
	require.Len(t, set, 2)
	require.Contains(t, set, c1.ID)
}

func TestRemoveConnection_LastEntryRemovesUserKey(t *testing.T) {
	h := newTestHub()
	c1 := registerFake(h, "conn-1", "user-a")
	c2 := registerFake(h, "conn-2", "user-a")

	h.removeConnection(c1)
	require.Equal(t, 1, h.UserCount())

	h.removeConnection(c2)
	require.Equal(t, 0, h.UserCount())
	require.Equal(t, 0, h.ConnectionCount())
}

func TestSendToUser_DeliversToAllSessions(t *testing.T) {
	h := newTestHub()
	c1 := registerFake(h, "conn-1", "user-a")
	c2 := registerFake(h, "conn-2", "user-a")
	registerFake(h, "conn-3", "user-b")

	delivered := h.SendToUser("user-a", Message{Type: TypePriceUpdate})
	require.Equal(t, 2, delivered)
	require.Len(t, c1.send, 1)
	require.Len(t, c2.send, 1)
}

func TestSendToConnection_UnknownReturnsFalse(t *testing.T) {
	h := newTestHub()
	require.False(t, h.SendToConnection("missing", Message{Type: TypeHeartbeat}))
}

func TestBroadcast_ExcludesListedConnections(t *testing.T) {
	h := newTestHub()
	c1 := registerFake(h, "conn-1", "user-a")
	c2 := registerFake(h, "conn-2", "user-b")

	delivered := h.Broadcast(Message{Type: TypeSystemNotice}, c1.ID)
	require.Equal(t, 1, delivered)
	require.Len(t, c1.send, 0)
	require.Len(t, c2.send, 1)
}

func TestEnqueue_DropsOnFullBuffer(t *testing.T) {
	c := &Connection{ID: "conn-1", UserID: "user-a", logger: zerolog.Nop(), send: make(chan Message, 1)}
	c.pongAtSec.Store(time.Now().Unix())

	require.True(t, c.enqueue(Message{Type: TypeHeartbeat}))
	require.False(t, c.enqueue(Message{Type: TypeHeartbeat}))
}

func TestPingAll_ReapsStaleConnections(t *testing.T) {
	h := New(10*time.Millisecond, 30*time.Millisecond, zerolog.Nop())
	registerFake(h, "conn-1", "user-a")

	h.mu.RLock()
	c := h.connections["conn-1"]
	h.mu.RUnlock()
	c.pongAtSec.Store(time.Now().Add(-time.Minute).Unix())

	go h.Run()
	defer func() { _ = h.Shutdown(context.Background()) }()

	require.Eventually(t, func() bool {
		return h.ConnectionCount() == 0
	}, time.Second, 10*time.Millisecond)
}
