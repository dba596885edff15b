package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// messageStore is the behaviour shared by every backend.
type messageStore interface {
	AppendMessage(ctx context.Context, msg Message) error
	FetchPage(ctx context.Context, roomID string, before *time.Time, limit int) (Page, error)
}

func seed(t *testing.T, s messageStore, roomID string, base time.Time, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		require.NoError(t, s.AppendMessage(context.Background(), Message{
			RoomID:    roomID,
			UserID:    "u1",
			Text:      string(rune('a' + i)),
			Timestamp: base.Add(time.Duration(i) * time.Second),
		}))
	}
}

func runPaginationSuite(t *testing.T, s messageStore, roomID string) {
	ctx := context.Background()
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	seed(t, s, roomID, base, 5)
	seed(t, s, roomID+"-other", base, 2)

	first, err := s.FetchPage(ctx, roomID, nil, 2)
	require.NoError(t, err)
	require.Len(t, first.Messages, 2)
	assert.Equal(t, "e", first.Messages[0].Text)
	assert.Equal(t, "d", first.Messages[1].Text)
	require.NotNil(t, first.NextCursor)
	assert.True(t, first.NextCursor.Equal(first.Messages[1].Timestamp))

	second, err := s.FetchPage(ctx, roomID, first.NextCursor, 2)
	require.NoError(t, err)
	require.Len(t, second.Messages, 2)
	assert.Equal(t, "c", second.Messages[0].Text)
	assert.Equal(t, "b", second.Messages[1].Text)

	third, err := s.FetchPage(ctx, roomID, second.NextCursor, 2)
	require.NoError(t, err)
	require.Len(t, third.Messages, 1)
	assert.Equal(t, "a", third.Messages[0].Text)
	assert.True(t, third.Messages[0].Timestamp.Equal(base))
	assert.Equal(t, roomID, third.Messages[0].RoomID)

	empty, err := s.FetchPage(ctx, roomID, third.NextCursor, 2)
	require.NoError(t, err)
	assert.Empty(t, empty.Messages)
	assert.Nil(t, empty.NextCursor)

	missing, err := s.FetchPage(ctx, "no-such-room", nil, 10)
	require.NoError(t, err)
	assert.Empty(t, missing.Messages)
	assert.Nil(t, missing.NextCursor)
}

func TestSQLitePagination(t *testing.T) {
	s, err := OpenSQLite(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	runPaginationSuite(t, s, "lobby")
}

func TestSQLiteKeepsSubsecondOrdering(t *testing.T) {
	s, err := OpenSQLite(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	ctx := context.Background()
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, s.AppendMessage(ctx, Message{RoomID: "r", UserID: "u", Text: "late", Timestamp: base.Add(900 * time.Millisecond)}))
	require.NoError(t, s.AppendMessage(ctx, Message{RoomID: "r", UserID: "u", Text: "early", Timestamp: base.Add(5 * time.Millisecond)}))

	page, err := s.FetchPage(ctx, "r", nil, 10)
	require.NoError(t, err)
	require.Len(t, page.Messages, 2)
	assert.Equal(t, "late", page.Messages[0].Text)
	assert.Equal(t, "early", page.Messages[1].Text)
}

func TestOpen(t *testing.T) {
	ctx := context.Background()

	s, err := Open(ctx, "sqlite::memory:")
	require.NoError(t, err)
	require.NoError(t, s.Ping(ctx))
	require.NoError(t, s.Close())

	for _, url := range []string{"", "mysql://localhost/chat", "memory"} {
		_, err := Open(ctx, url)
		assert.ErrorIs(t, err, ErrUnsupportedURL, url)
	}
}

func TestNewPage(t *testing.T) {
	assert.Nil(t, newPage(nil).NextCursor)

	ts := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	page := newPage([]Message{{Timestamp: ts.Add(time.Minute)}, {Timestamp: ts}})
	require.NotNil(t, page.NextCursor)
	assert.True(t, page.NextCursor.Equal(ts))
}
