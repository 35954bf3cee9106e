package realtime

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testClient(id, userID string, buffer int) *Client {
	return &Client{ID: id, UserID: userID, send: make(chan WSMessage, buffer), done: make(chan struct{})}
}

func TestRegistrySubscribe(t *testing.T) {
	r := NewRegistry()
	r.Register(testClient("c1", "alice", 1))

	prev, res := r.Subscribe("c1", "room-a")
	assert.Equal(t, Subscribed, res)
	assert.Empty(t, prev)

	_, res = r.Subscribe("c1", "room-a")
	assert.Equal(t, AlreadySubscribed, res)
	assert.Len(t, r.Subscribers("room-a"), 1)

	prev, res = r.Subscribe("c1", "room-b")
	assert.Equal(t, Subscribed, res)
	assert.Equal(t, "room-a", prev)
	assert.Empty(t, r.Subscribers("room-a"))
	assert.Equal(t, "room-b", r.RoomOf("c1"))

	_, res = r.Subscribe("ghost", "room-a")
	assert.Equal(t, UnknownConnection, res)
}

func TestRegistryUnsubscribeOnlyMatchingRoom(t *testing.T) {
	r := NewRegistry()
	r.Register(testClient("c1", "alice", 1))
	r.Subscribe("c1", "room-b")

	assert.False(t, r.Unsubscribe("c1", "room-a"))
	assert.Equal(t, "room-b", r.RoomOf("c1"))
	assert.True(t, r.Unsubscribe("c1", "room-b"))
	assert.Empty(t, r.RoomOf("c1"))
	assert.False(t, r.Unsubscribe("c1", ""))
}

func TestRegistryOnDisconnect(t *testing.T) {
	r := NewRegistry()
	r.Register(testClient("c1", "alice", 1))
	r.Subscribe("c1", "room-a")

	roomID, userID, ok := r.OnDisconnect("c1")
	require.True(t, ok)
	assert.Equal(t, "room-a", roomID)
	assert.Equal(t, "alice", userID)
	assert.Empty(t, r.Subscribers("room-a"))
	assert.Zero(t, r.Len())

	_, _, ok = r.OnDisconnect("c1")
	assert.False(t, ok)
}

func TestRegistryDropRoom(t *testing.T) {
	r := NewRegistry()
	for _, id := range []string{"c1", "c2", "c3"} {
		r.Register(testClient(id, "user-"+id, 1))
	}
	r.Subscribe("c1", "room-a")
	r.Subscribe("c2", "room-a")
	r.Subscribe("c3", "room-b")

	ids := r.DropRoom("room-a")
	assert.ElementsMatch(t, []string{"c1", "c2"}, ids)
	assert.Empty(t, r.Subscribers("room-a"))
	assert.Empty(t, r.RoomOf("c1"))
	assert.Equal(t, "room-b", r.RoomOf("c3"))
	assert.Equal(t, 3, r.Len())
}
