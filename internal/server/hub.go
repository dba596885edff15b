// Package server coordinates room membership and message fan-out for the
// RoomChat WebSocket system via the Hub type.
package server

import (
	"encoding/json"
	"fmt"
	"log"
	"sort"
	"sync"
)

// Hub is the room registry. It maps room IDs to their member clients and
// owns the join, leave, and broadcast operations. A room exists only while
// it has at least one member, and a client belongs to at most one room.
//
// All three operations take the same lock, so they are linearized with
// respect to each other. Delivery is a non-blocking enqueue into each
// member's send queue, so the lock is never held across network I/O.
type Hub struct {
	mutex    sync.RWMutex
	rooms    map[string]map[*Client]struct{}
	draining bool

	onJoin  func(roomID, userID string)
	onLeave func(roomID, userID string)
}

// NewHub creates an empty Hub.
func NewHub() *Hub {
	return &Hub{
		rooms: make(map[string]map[*Client]struct{}),
	}
}

// observe installs callbacks fired after a client joins or leaves a room.
// It must be called before the Hub is shared.
func (h *Hub) observe(onJoin, onLeave func(roomID, userID string)) {
	h.onJoin = onJoin
	h.onLeave = onLeave
}

// Register binds the client to roomID as userID, creating the room if needed,
// and announces the arrival to every member, the new one included. A client
// still sitting in another room is moved out of it first.
func (h *Hub) Register(client *Client, roomID, userID string) {
	h.mutex.Lock()
	previousRoom, left := h.detachLocked(client)

	if client.session == nil {
		client.session = &Session{}
	}
	client.session.UserID = userID
	client.session.RoomID = roomID

	members, ok := h.rooms[roomID]
	if !ok {
		members = make(map[*Client]struct{})
		h.rooms[roomID] = members
	}
	members[client] = struct{}{}
	memberCount := len(members)
	h.mutex.Unlock()

	if left {
		h.afterLeave(previousRoom, userID)
	}

	log.Printf("User '%s' joined room '%s' from %s. Members: %d", userID, roomID, client.addr, memberCount)
	h.announce(roomID, fmt.Sprintf("User '%s' has joined the room.", userID))
	if h.onJoin != nil {
		h.onJoin(roomID, userID)
	}
}

// Unregister removes the client from its current room and tells the
// remaining members. It is a no-op for clients that are not in a room, so it
// is safe to call more than once.
func (h *Hub) Unregister(client *Client) {
	h.mutex.Lock()
	roomID, left := h.detachLocked(client)
	h.mutex.Unlock()

	if left {
		h.afterLeave(roomID, client.UserID())
	}
}

func (h *Hub) afterLeave(roomID, userID string) {
	log.Printf("User '%s' left room '%s'", userID, roomID)
	h.announce(roomID, fmt.Sprintf("User '%s' has left the room.", userID))
	if h.onLeave != nil {
		h.onLeave(roomID, userID)
	}
}

// detachLocked removes client from the room its session points at and drops
// the room when it becomes empty. Caller must hold the write lock.
func (h *Hub) detachLocked(client *Client) (string, bool) {
	if client.session == nil || client.session.RoomID == "" {
		return "", false
	}

	roomID := client.session.RoomID
	members, ok := h.rooms[roomID]
	if !ok {
		return "", false
	}
	if _, ok := members[client]; !ok {
		return "", false
	}

	delete(members, client)
	if len(members) == 0 {
		delete(h.rooms, roomID)
		log.Printf("Room '%s' is now empty and has been removed", roomID)
	}
	return roomID, true
}

// Broadcast delivers payload to every member of roomID, skipping sender when
// excludeSender is set, and returns how many members accepted it. A member
// whose queue is full or closed is logged and skipped; the others still
// receive the payload. Unknown rooms are ignored.
func (h *Hub) Broadcast(roomID string, payload []byte, excludeSender bool, sender *Client) int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	members, ok := h.rooms[roomID]
	if !ok || h.draining {
		return 0
	}

	targets := make([]*Client, 0, len(members))
	for client := range members {
		if excludeSender && client == sender {
			continue
		}
		targets = append(targets, client)
	}

	delivered := 0
	for _, client := range targets {
		if err := client.enqueue(payload); err != nil {
			log.Printf("Dropped message for %s in room '%s': %v", client.addr, roomID, err)
			continue
		}
		delivered++
	}
	return delivered
}

func (h *Hub) announce(roomID, text string) {
	payload, err := json.Marshal(Announcement{Type: TypeAnnouncement, Message: text})
	if err != nil {
		log.Printf("Error encoding announcement for room '%s': %v", roomID, err)
		return
	}
	h.Broadcast(roomID, payload, false, nil)
}

// HasRoom reports whether roomID currently has members.
func (h *Hub) HasRoom(roomID string) bool {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	_, ok := h.rooms[roomID]
	return ok
}

// RoomCount returns the number of non-empty rooms.
func (h *Hub) RoomCount() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.rooms)
}

// Rooms returns the sorted IDs of every non-empty room.
func (h *Hub) Rooms() []string {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	rooms := make([]string, 0, len(h.rooms))
	for roomID := range h.rooms {
		rooms = append(rooms, roomID)
	}
	sort.Strings(rooms)
	return rooms
}

// Contains reports whether client is a member of any room.
func (h *Hub) Contains(client *Client) bool {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	for _, members := range h.rooms {
		if _, ok := members[client]; ok {
			return true
		}
	}
	return false
}

// Members returns the sorted user IDs present in roomID. A user connected
// more than once is listed once.
func (h *Hub) Members(roomID string) []string {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	seen := make(map[string]struct{}, len(h.rooms[roomID]))
	users := make([]string, 0, len(h.rooms[roomID]))
	for client := range h.rooms[roomID] {
		userID := client.UserID()
		if _, dup := seen[userID]; dup {
			continue
		}
		seen[userID] = struct{}{}
		users = append(users, userID)
	}
	sort.Strings(users)
	return users
}

// Clients returns a snapshot of every registered client.
func (h *Hub) Clients() []*Client {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	clients := make([]*Client, 0)
	for _, members := range h.rooms {
		for client := range members {
			clients = append(clients, client)
		}
	}
	return clients
}

// CloseAll stops all further broadcasts and closes every registered client
// with code and reason. Queued frames are flushed by each write pump before
// the close frame goes out. It returns the number of clients closed.
func (h *Hub) CloseAll(code int, reason string) int {
	h.mutex.Lock()
	h.draining = true
	h.mutex.Unlock()

	clients := h.Clients()
	log.Printf("Closing %d active connections...", len(clients))
	for _, client := range clients {
		client.Close(code, reason)
	}
	return len(clients)
}
