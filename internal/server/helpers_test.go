package server

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/roomchat/internal/store"
)

var errUnknownToken = errors.New("unknown token")

// tokenVerifier maps fixed tokens to user IDs.
type tokenVerifier map[string]string

func (v tokenVerifier) VerifyIdentity(_ context.Context, token string) (string, error) {
	if userID, ok := v[token]; ok {
		return userID, nil
	}
	return "", errUnknownToken
}

// memoryStore is an in-memory MessageStore.
type memoryStore struct {
	mu       sync.Mutex
	messages []store.Message
	err      error
	saved    chan store.Message
}

func newMemoryStore() *memoryStore {
	return &memoryStore{saved: make(chan store.Message, 64)}
}

func (m *memoryStore) AppendMessage(_ context.Context, msg store.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.messages = append(m.messages, msg)
	select {
	case m.saved <- msg:
	default:
	}
	return nil
}

func (m *memoryStore) FetchPage(_ context.Context, roomID string, before *time.Time, limit int) (store.Page, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return store.Page{}, m.err
	}

	var matched []store.Message
	for _, msg := range m.messages {
		if msg.RoomID != roomID {
			continue
		}
		if before != nil && !msg.Timestamp.Before(*before) {
			continue
		}
		matched = append(matched, msg)
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].Timestamp.After(matched[j].Timestamp) })
	if len(matched) > limit {
		matched = matched[:limit]
	}

	page := store.Page{Messages: matched}
	if len(matched) > 0 {
		cursor := matched[len(matched)-1].Timestamp
		page.NextCursor = &cursor
	}
	return page, nil
}

func (m *memoryStore) setErr(err error) {
	m.mu.Lock()
	m.err = err
	m.mu.Unlock()
}

func newTestClient() *Client {
	return NewClient(nil, "pipe", *NewConfig())
}

// frame is a decoded outbound envelope.
type frame map[string]any

func nextFrame(t *testing.T, c *Client) frame {
	t.Helper()
	select {
	case raw := <-c.GetSendChan():
		var f frame
		require.NoError(t, json.Unmarshal(raw, &f))
		return f
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for a frame")
		return nil
	}
}

func assertNoFrame(t *testing.T, c *Client) {
	t.Helper()
	select {
	case raw := <-c.GetSendChan():
		t.Fatalf("unexpected frame: %s", raw)
	default:
	}
}

func drain(c *Client) {
	for {
		select {
		case <-c.GetSendChan():
		default:
			return
		}
	}
}
