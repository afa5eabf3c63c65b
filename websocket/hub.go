package websocket

import (
	"log"
	"sync"

	"github.com/google/uuid"
)

// Hub tracks this process's sockets and their room memberships. It is a
// purely local view: cluster-wide presence lives in Redis, and cross-process
// delivery arrives through the fanout bridge, which replays every event into
// the local hub. One socket per user; a reconnect replaces the old socket.
type Hub struct {
	mu          sync.RWMutex
	clients     map[string]*Client            // socketID -> client
	userSockets map[uuid.UUID]string          // userID -> socketID
	rooms       map[string]map[string]*Client // room -> socketID -> client
	socketRooms map[string]map[string]struct{}
}

func NewHub() *Hub {
	return &Hub{
		clients:     make(map[string]*Client),
		userSockets: make(map[uuid.UUID]string),
		rooms:       make(map[string]map[string]*Client),
		socketRooms: make(map[string]map[string]struct{}),
	}
}

// Attach registers a client and enforces last-connection-wins: an existing
// socket for the same user is detached and closed after the swap.
func (h *Hub) Attach(client *Client) {
	var previous *Client

	h.mu.Lock()
	if existingID, ok := h.userSockets[client.UserID]; ok {
		if existing := h.clients[existingID]; existing != nil {
			previous = existing
			h.detachLocked(existingID)
		}
	}

	h.clients[client.SocketID] = client
	h.userSockets[client.UserID] = client.SocketID
	h.socketRooms[client.SocketID] = make(map[string]struct{})
	h.mu.Unlock()

	client.Start()

	if previous != nil {
		previous.Close(4001, "session replaced")
		log.Printf("Replaced existing socket for user %s", client.UserID)
	}
}

// Detach removes a client if it is still tracked.
func (h *Hub) Detach(client *Client) {
	h.mu.Lock()
	h.detachLocked(client.SocketID)
	h.mu.Unlock()
}

// Join adds the client to a room.
func (h *Hub) Join(room string, client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[client.SocketID]; !ok {
		return
	}

	members := h.rooms[room]
	if members == nil {
		members = make(map[string]*Client)
		h.rooms[room] = members
	}
	members[client.SocketID] = client

	memberships := h.socketRooms[client.SocketID]
	if memberships == nil {
		memberships = make(map[string]struct{})
		h.socketRooms[client.SocketID] = memberships
	}
	memberships[room] = struct{}{}
}

// Leave removes the client from a room.
func (h *Hub) Leave(room string, client *Client) {
	h.mu.Lock()
	h.leaveLocked(room, client.SocketID)
	h.mu.Unlock()
}

// UserInRoom reports whether the user's socket on this process has joined
// the room. The delivery pre-check combines this with the global presence
// lookup.
func (h *Hub) UserInRoom(room string, userID uuid.UUID) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	socketID, ok := h.userSockets[userID]
	if !ok {
		return false
	}
	_, ok = h.rooms[room][socketID]
	return ok
}

// BroadcastRoom writes payload to every room member, skipping excludeUserID
// when non-nil.
func (h *Hub) BroadcastRoom(room string, payload []byte, excludeUserID *uuid.UUID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	delivered := 0
	for _, client := range h.rooms[room] {
		if excludeUserID != nil && client.UserID == *excludeUserID {
			continue
		}
		if err := client.Send(payload); err == nil {
			delivered++
		}
	}
	return delivered
}

// SendToUser delivers payload to the user's socket, if held by this process.
func (h *Hub) SendToUser(userID uuid.UUID, payload []byte) bool {
	h.mu.RLock()
	socketID, ok := h.userSockets[userID]
	client := h.clients[socketID]
	h.mu.RUnlock()
	if !ok || client == nil {
		return false
	}
	return client.Send(payload) == nil
}

// BroadcastAll writes payload to every socket on this process.
func (h *Hub) BroadcastAll(payload []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, client := range h.clients {
		_ = client.Send(payload)
	}
}

func (h *Hub) detachLocked(socketID string) {
	client, ok := h.clients[socketID]
	if !ok {
		return
	}
	delete(h.clients, socketID)

	if current, ok := h.userSockets[client.UserID]; ok && current == socketID {
		delete(h.userSockets, client.UserID)
	}

	for room := range h.socketRooms[socketID] {
		h.leaveLocked(room, socketID)
	}
	delete(h.socketRooms, socketID)
}

func (h *Hub) leaveLocked(room, socketID string) {
	members := h.rooms[room]
	if members == nil {
		return
	}
	delete(members, socketID)
	if len(members) == 0 {
		delete(h.rooms, room)
	}
	if memberships, ok := h.socketRooms[socketID]; ok {
		delete(memberships, room)
	}
}
