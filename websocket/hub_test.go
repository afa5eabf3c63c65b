package websocket

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// receive drains one queued frame from an unstarted client.
func receive(t *testing.T, c *Client) []byte {
	t.Helper()
	select {
	case payload := <-c.send:
		return payload
	default:
		t.Fatalf("no frame queued for user %s", c.UserID)
		return nil
	}
}

func pending(c *Client) int {
	return len(c.send)
}

func TestHubAttachReplacesExistingSocket(t *testing.T) {
	hub := NewHub()
	userID := uuid.New()

	first := NewClient(userID, nil)
	second := NewClient(userID, nil)

	hub.Attach(first)
	hub.Join("room-1", first)
	hub.Attach(second)

	// The replaced socket is gone along with its memberships.
	assert.False(t, hub.UserInRoom("room-1", userID))
	assert.Error(t, first.Send([]byte("x")), "replaced socket should be closed")

	require.True(t, hub.SendToUser(userID, []byte("hello")))
	assert.Equal(t, []byte("hello"), receive(t, second))
}

func TestHubRoomMembership(t *testing.T) {
	hub := NewHub()
	alice := NewClient(uuid.New(), nil)
	bob := NewClient(uuid.New(), nil)

	hub.Attach(alice)
	hub.Attach(bob)

	room := ConversationRoom(uuid.NewString())
	assert.False(t, hub.UserInRoom(room, alice.UserID))

	hub.Join(room, alice)
	assert.True(t, hub.UserInRoom(room, alice.UserID))
	assert.False(t, hub.UserInRoom(room, bob.UserID))

	hub.Leave(room, alice)
	assert.False(t, hub.UserInRoom(room, alice.UserID))
}

func TestHubJoinRequiresAttachedClient(t *testing.T) {
	hub := NewHub()
	ghost := NewClient(uuid.New(), nil)

	hub.Join("room-1", ghost)
	assert.False(t, hub.UserInRoom("room-1", ghost.UserID))
}

func TestHubBroadcastRoom(t *testing.T) {
	hub := NewHub()
	alice := NewClient(uuid.New(), nil)
	bob := NewClient(uuid.New(), nil)
	carol := NewClient(uuid.New(), nil)

	for _, c := range []*Client{alice, bob, carol} {
		hub.Attach(c)
	}

	room := "conversation:abc"
	hub.Join(room, alice)
	hub.Join(room, bob)

	delivered := hub.BroadcastRoom(room, []byte("hi"), nil)
	assert.Equal(t, 2, delivered)
	assert.Equal(t, []byte("hi"), receive(t, alice))
	assert.Equal(t, []byte("hi"), receive(t, bob))
	assert.Zero(t, pending(carol))
}

func TestHubBroadcastRoomExcludesUser(t *testing.T) {
	hub := NewHub()
	alice := NewClient(uuid.New(), nil)
	bob := NewClient(uuid.New(), nil)

	hub.Attach(alice)
	hub.Attach(bob)

	room := "conversation:abc"
	hub.Join(room, alice)
	hub.Join(room, bob)

	delivered := hub.BroadcastRoom(room, []byte("hi"), &alice.UserID)
	assert.Equal(t, 1, delivered)
	assert.Zero(t, pending(alice))
	assert.Equal(t, []byte("hi"), receive(t, bob))
}

func TestHubSendToUnknownUser(t *testing.T) {
	hub := NewHub()
	assert.False(t, hub.SendToUser(uuid.New(), []byte("hi")))
}

func TestHubDetachCleansUpRooms(t *testing.T) {
	hub := NewHub()
	alice := NewClient(uuid.New(), nil)

	hub.Attach(alice)
	hub.Join("room-1", alice)
	hub.Join("room-2", alice)

	hub.Detach(alice)

	assert.False(t, hub.UserInRoom("room-1", alice.UserID))
	assert.False(t, hub.UserInRoom("room-2", alice.UserID))
	assert.False(t, hub.SendToUser(alice.UserID, []byte("hi")))
}

func TestHubBroadcastAll(t *testing.T) {
	hub := NewHub()
	alice := NewClient(uuid.New(), nil)
	bob := NewClient(uuid.New(), nil)

	hub.Attach(alice)
	hub.Attach(bob)

	hub.BroadcastAll([]byte("announcement"))
	assert.Equal(t, []byte("announcement"), receive(t, alice))
	assert.Equal(t, []byte("announcement"), receive(t, bob))
}
