package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/Tyrowin/roomchat/internal/store"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 100
)

// naiveTimestampLayout accepts ISO timestamps without a zone, read as UTC.
const naiveTimestampLayout = "2006-01-02T15:04:05.999999999"

// MessageStore is the persistence collaborator used by the Router.
type MessageStore interface {
	AppendMessage(ctx context.Context, msg store.Message) error
	FetchPage(ctx context.Context, roomID string, before *time.Time, limit int) (store.Page, error)
}

// Router interprets frames from authenticated clients and dispatches them to
// the hub or the message store. A bad frame is logged and dropped; it never
// closes the connection.
type Router struct {
	hub        *Hub
	messages   MessageStore
	dispatcher *Dispatcher
	now        func() time.Time
}

// NewRouter creates a Router that broadcasts through hub and persists through
// messages, running store calls on dispatcher.
func NewRouter(hub *Hub, messages MessageStore, dispatcher *Dispatcher) *Router {
	return &Router{
		hub:        hub,
		messages:   messages,
		dispatcher: dispatcher,
		now:        time.Now,
	}
}

// Route handles one raw frame from client.
func (r *Router) Route(ctx context.Context, client *Client, raw []byte) {
	var frame inboundFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		log.Printf("Received invalid JSON from user '%s': %v", client.UserID(), err)
		return
	}

	switch frame.Type {
	case TypeMessage:
		r.handleMessage(client, frame)
	case TypeJoin:
		r.handleJoin(client, frame)
	case TypeLoadChat:
		r.handleLoadChat(ctx, client, frame)
	default:
		log.Printf("Received unknown message type from user '%s': %q", client.UserID(), frame.Type)
	}
}

// handleMessage relays a chat line to the rest of the room, then persists it
// in the background. Delivery never waits on the store. Chat lines are the
// only frames subject to the per-connection rate limit.
func (r *Router) handleMessage(client *Client, frame inboundFrame) {
	if frame.Text == "" {
		log.Printf("Ignoring message without text from user '%s'", client.UserID())
		return
	}
	if !client.checkRateLimit() {
		return
	}

	// Postgres keeps microseconds; the broadcast and the stored row must match.
	sentAt := r.now().UTC().Truncate(time.Microsecond)
	msg := store.Message{
		RoomID:    client.RoomID(),
		UserID:    client.UserID(),
		Text:      frame.Text,
		Timestamp: sentAt,
	}

	payload, err := json.Marshal(ChatMessage{
		Type:      TypeMessage,
		Text:      msg.Text,
		UserID:    msg.UserID,
		RoomID:    msg.RoomID,
		Timestamp: formatTimestamp(sentAt),
	})
	if err != nil {
		log.Printf("Error encoding message from user '%s': %v", msg.UserID, err)
		return
	}

	r.hub.Broadcast(msg.RoomID, payload, true, client)

	r.dispatcher.Go("save message", func(ctx context.Context) error {
		if err := r.messages.AppendMessage(ctx, msg); err != nil {
			return fmt.Errorf("save message from '%s' in room '%s': %w", msg.UserID, msg.RoomID, err)
		}
		return nil
	})
}

// handleJoin moves the client to another room. Requests for the current room
// or an empty room ID are ignored.
func (r *Router) handleJoin(client *Client, frame inboundFrame) {
	userID := client.UserID()
	if frame.RoomID == "" || frame.RoomID == client.RoomID() {
		log.Printf("User '%s' sent an invalid room-switch request", userID)
		return
	}

	log.Printf("User '%s' is switching to room '%s'", userID, frame.RoomID)
	r.hub.Unregister(client)
	r.hub.Register(client, frame.RoomID, userID)
}

// handleLoadChat answers the requesting client only, with a page of the
// room's history older than the optional cursor.
func (r *Router) handleLoadChat(ctx context.Context, client *Client, frame inboundFrame) {
	roomID := client.RoomID()
	limit := parseLimit(frame.Limit)

	var page store.Page
	before, err := parseCursor(frame.Before)
	if err != nil {
		log.Printf("Invalid history cursor from user '%s': %v", client.UserID(), err)
	} else {
		err = r.dispatcher.Do(ctx, "fetch history", func(ctx context.Context) error {
			fetched, err := r.messages.FetchPage(ctx, roomID, before, limit)
			if err != nil {
				return err
			}
			page = fetched
			return nil
		})
		if errors.Is(err, context.Canceled) {
			return
		}
		if err != nil {
			log.Printf("Error fetching history for room '%s': %v", roomID, err)
			page = store.Page{}
		}
	}

	payload, err := json.Marshal(newChatHistory(page))
	if err != nil {
		log.Printf("Error encoding chat history for room '%s': %v", roomID, err)
		return
	}
	if err := client.enqueue(payload); err != nil {
		log.Printf("Error sending chat history to %s: %v", client.addr, err)
	}
}

// parseLimit accepts a JSON integer or numeric string in 1..100 and falls
// back to the default for anything else.
func parseLimit(raw json.RawMessage) int {
	if len(raw) == 0 {
		return defaultHistoryLimit
	}

	var n int
	if err := json.Unmarshal(raw, &n); err != nil {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return defaultHistoryLimit
		}
		parsed, err := strconv.Atoi(strings.TrimSpace(s))
		if err != nil {
			return defaultHistoryLimit
		}
		n = parsed
	}

	if n <= 0 || n > maxHistoryLimit {
		return defaultHistoryLimit
	}
	return n
}

// parseCursor parses the optional "before" timestamp. An empty value means
// "start from the newest message".
func parseCursor(value string) (*time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, nil
	}

	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		t = t.UTC()
		return &t, nil
	}
	t, err := time.ParseInLocation(naiveTimestampLayout, value, time.UTC)
	if err != nil {
		return nil, fmt.Errorf("parse cursor %q: %w", value, err)
	}
	return &t, nil
}
