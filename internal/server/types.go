// Package server defines the wire envelopes exchanged with clients and small
// helpers shared by the client, hub, and router logic.
package server

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/Tyrowin/roomchat/internal/store"
)

// Envelope types, carried in the "type" field of every frame.
const (
	TypeJoin         = "join"
	TypeMessage      = "message"
	TypeAnnouncement = "announcement"
	TypeLoadChat     = "load_chat"
	TypeChatHistory  = "chat_history"
)

// Close codes sent to clients.
const (
	ClosePolicyViolation = 1008
	CloseInvalidAuth     = 4001
	CloseGoingAway       = 1001
)

// inboundFrame is the union of every client-to-server envelope.
type inboundFrame struct {
	Type   string          `json:"type"`
	Token  string          `json:"token,omitempty"`
	RoomID string          `json:"roomId,omitempty"`
	Text   string          `json:"text,omitempty"`
	Before string          `json:"before,omitempty"`
	Limit  json.RawMessage `json:"limit,omitempty"`
}

// ChatMessage is a chat line relayed to the other members of a room.
type ChatMessage struct {
	Type      string `json:"type"`
	Text      string `json:"text"`
	UserID    string `json:"userId"`
	RoomID    string `json:"roomId"`
	Timestamp string `json:"timestamp"`
}

// Announcement is a server notice such as a join or leave.
type Announcement struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// HistoryEntry is a single stored message in a chat_history reply.
type HistoryEntry struct {
	UserID    string `json:"userId"`
	Text      string `json:"text"`
	Timestamp string `json:"timestamp"`
}

// ChatHistory answers a load_chat request. NextCursor is null when the page
// is empty.
type ChatHistory struct {
	Type       string         `json:"type"`
	Messages   []HistoryEntry `json:"messages"`
	NextCursor *string        `json:"nextCursor"`
}

func newChatHistory(page store.Page) ChatHistory {
	entries := make([]HistoryEntry, 0, len(page.Messages))
	for _, m := range page.Messages {
		entries = append(entries, HistoryEntry{
			UserID:    m.UserID,
			Text:      m.Text,
			Timestamp: formatTimestamp(m.Timestamp),
		})
	}

	history := ChatHistory{Type: TypeChatHistory, Messages: entries}
	if page.NextCursor != nil {
		cursor := formatTimestamp(*page.NextCursor)
		history.NextCursor = &cursor
	}
	return history
}

func formatTimestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// isExpectedCloseError checks if an error is expected during connection closure.
func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "use of closed network connection") ||
		strings.Contains(errStr, "websocket: close sent") ||
		strings.Contains(errStr, "broken pipe")
}
