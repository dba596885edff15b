package server

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHubRegisterAnnouncesToWholeRoom(t *testing.T) {
	hub := NewHub()
	a, b := newTestClient(), newTestClient()

	hub.Register(a, "r1", "u1")
	assert.Equal(t, frame{"type": "announcement", "message": "User 'u1' has joined the room."}, nextFrame(t, a))

	hub.Register(b, "r1", "u2")
	want := frame{"type": "announcement", "message": "User 'u2' has joined the room."}
	assert.Equal(t, want, nextFrame(t, a))
	assert.Equal(t, want, nextFrame(t, b))

	assert.Equal(t, "u2", b.UserID())
	assert.Equal(t, "r1", b.RoomID())
	assert.Equal(t, []string{"u1", "u2"}, hub.Members("r1"))
}

func TestHubBroadcastExcludesSender(t *testing.T) {
	hub := NewHub()
	a, b, c := newTestClient(), newTestClient(), newTestClient()
	hub.Register(a, "r1", "u1")
	hub.Register(b, "r1", "u2")
	hub.Register(c, "r2", "u3")
	drain(a)
	drain(b)
	drain(c)

	delivered := hub.Broadcast("r1", []byte(`{"type":"message"}`), true, a)
	assert.Equal(t, 1, delivered)
	assertNoFrame(t, a)
	assertNoFrame(t, c)
	assert.Equal(t, "message", nextFrame(t, b)["type"])

	assert.Equal(t, 2, hub.Broadcast("r1", []byte(`{"type":"message"}`), false, a))
	assert.Zero(t, hub.Broadcast("missing", []byte(`{}`), false, nil))
}

func TestHubUnregisterRemovesEmptyRoom(t *testing.T) {
	hub := NewHub()
	a, b := newTestClient(), newTestClient()
	hub.Register(a, "r1", "u1")
	hub.Register(b, "r1", "u2")
	drain(a)

	hub.Unregister(b)
	assert.Equal(t, frame{"type": "announcement", "message": "User 'u2' has left the room."}, nextFrame(t, a))
	assert.True(t, hub.HasRoom("r1"))
	assert.False(t, hub.Contains(b))

	hub.Unregister(b)
	assertNoFrame(t, a)

	assert.Equal(t, []string{"r1"}, hub.Rooms())
	hub.Unregister(a)
	assert.False(t, hub.HasRoom("r1"))
	assert.Empty(t, hub.Rooms())
	assert.Zero(t, hub.RoomCount())

	// A client that never joined is a no-op.
	hub.Unregister(newTestClient())
}

func TestHubRegisterMovesClientBetweenRooms(t *testing.T) {
	hub := NewHub()
	a, b := newTestClient(), newTestClient()
	hub.Register(a, "r1", "u1")
	hub.Register(b, "r1", "u2")
	drain(a)
	drain(b)

	hub.Register(a, "r2", "u1")

	assert.Equal(t, frame{"type": "announcement", "message": "User 'u1' has left the room."}, nextFrame(t, b))
	assert.Equal(t, frame{"type": "announcement", "message": "User 'u1' has joined the room."}, nextFrame(t, a))
	assertNoFrame(t, a)

	assert.Equal(t, []string{"u2"}, hub.Members("r1"))
	assert.Equal(t, []string{"u1"}, hub.Members("r2"))
	assert.Equal(t, "r2", a.RoomID())
}

func TestHubBroadcastSkipsFullQueues(t *testing.T) {
	hub := NewHub()
	slow, fast := newTestClient(), newTestClient()
	hub.Register(slow, "r1", "slow")
	hub.Register(fast, "r1", "fast")
	drain(fast)

	for i := 0; i < sendQueueSize; i++ {
		_ = slow.enqueue([]byte(`{}`))
	}
	require.ErrorIs(t, slow.enqueue([]byte(`{}`)), ErrSendQueueFull)

	assert.Equal(t, 1, hub.Broadcast("r1", []byte(`{"type":"message"}`), false, nil))
	assert.Equal(t, "message", nextFrame(t, fast)["type"])
	assert.True(t, hub.Contains(slow), "a slow client is not evicted")
}

func TestHubMembersListsUserOnce(t *testing.T) {
	hub := NewHub()
	hub.Register(newTestClient(), "r1", "u1")
	hub.Register(newTestClient(), "r1", "u1")
	hub.Register(newTestClient(), "r1", "u0")

	assert.Equal(t, []string{"u0", "u1"}, hub.Members("r1"))
	assert.Empty(t, hub.Members("none"))
}

func TestHubCloseAll(t *testing.T) {
	hub := NewHub()
	a, b := newTestClient(), newTestClient()
	hub.Register(a, "r1", "u1")
	hub.Register(b, "r2", "u2")

	assert.Equal(t, 2, hub.CloseAll(CloseGoingAway, reasonServerShutdown))
	assert.True(t, a.Closed())
	assert.True(t, b.Closed())
	assert.Equal(t, CloseGoingAway, a.closeCode)
	assert.Zero(t, hub.Broadcast("r1", []byte(`{}`), false, nil))
	assert.ErrorIs(t, a.enqueue([]byte(`{}`)), ErrClientClosed)
}

func TestHubObserverHooks(t *testing.T) {
	hub := NewHub()
	var joins, leaves []string
	hub.observe(
		func(roomID, userID string) { joins = append(joins, roomID+"/"+userID) },
		func(roomID, userID string) { leaves = append(leaves, roomID+"/"+userID) },
	)

	c := newTestClient()
	hub.Register(c, "r1", "u1")
	hub.Register(c, "r2", "u1")
	hub.Unregister(c)

	assert.Equal(t, []string{"r1/u1", "r2/u1"}, joins)
	assert.Equal(t, []string{"r1/u1", "r2/u1"}, leaves)
}
