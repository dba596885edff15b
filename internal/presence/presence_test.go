package presence

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMiniTracker(t *testing.T, ttl time.Duration) (*Tracker, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	tracker := New(redis.NewClient(&redis.Options{Addr: mr.Addr()}), ttl)
	t.Cleanup(func() { _ = tracker.Close() })
	return tracker, mr
}

func TestConfigEnabled(t *testing.T) {
	assert.False(t, Config{}.Enabled())
	assert.True(t, Config{Addr: "localhost:6379"}.Enabled())
}

func TestRoomKey(t *testing.T) {
	assert.Equal(t, "presence:room:lobby", roomKey("lobby"))
}

func TestNewFromConfig(t *testing.T) {
	mr := miniredis.RunT(t)

	tracker, err := NewFromConfig(context.Background(), Config{Addr: mr.Addr(), TTL: time.Minute})
	require.NoError(t, err)
	require.NoError(t, tracker.Close())

	mr.Close()
	_, err = NewFromConfig(context.Background(), Config{Addr: mr.Addr()})
	assert.Error(t, err)
}

func TestTrackerCountsConnectionsPerUser(t *testing.T) {
	tracker, mr := newMiniTracker(t, time.Minute)
	ctx := context.Background()

	require.NoError(t, tracker.Join(ctx, "r1", "u1"))
	require.NoError(t, tracker.Join(ctx, "r1", "u1"))
	require.NoError(t, tracker.Join(ctx, "r1", "u2"))
	assert.Equal(t, "2", mr.HGet(roomKey("r1"), "u1"))

	users, err := tracker.Online(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, []string{"u1", "u2"}, users)

	require.NoError(t, tracker.Leave(ctx, "r1", "u1"))
	users, err = tracker.Online(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, []string{"u1", "u2"}, users, "u1 still has one connection")

	require.NoError(t, tracker.Leave(ctx, "r1", "u1"))
	require.NoError(t, tracker.Leave(ctx, "r1", "u2"))
	users, err = tracker.Online(ctx, "r1")
	require.NoError(t, err)
	assert.Empty(t, users)
	assert.False(t, mr.Exists(roomKey("r1")))
}

func TestTrackerStrayLeaveNeverGoesNegative(t *testing.T) {
	tracker, mr := newMiniTracker(t, time.Minute)
	ctx := context.Background()

	require.NoError(t, tracker.Leave(ctx, "r1", "u1"))
	assert.False(t, mr.Exists(roomKey("r1")))

	require.NoError(t, tracker.Join(ctx, "r1", "u1"))
	assert.Equal(t, "1", mr.HGet(roomKey("r1"), "u1"))

	require.NoError(t, tracker.Leave(ctx, "r1", "u1"))
	users, err := tracker.Online(ctx, "r1")
	require.NoError(t, err)
	assert.Empty(t, users)
}

func TestTrackerRoomExpiresWithoutRefresh(t *testing.T) {
	tracker, mr := newMiniTracker(t, 2*time.Minute)
	ctx := context.Background()

	require.NoError(t, tracker.Join(ctx, "r1", "u1"))
	mr.FastForward(3 * time.Minute)

	users, err := tracker.Online(ctx, "r1")
	require.NoError(t, err)
	assert.Empty(t, users)
}

func TestTrackerRefreshKeepsRoomsAlive(t *testing.T) {
	tracker, mr := newMiniTracker(t, 2*time.Minute)
	ctx := context.Background()

	require.NoError(t, tracker.Join(ctx, "r1", "u1"))
	require.NoError(t, tracker.Join(ctx, "r2", "u2"))

	for i := 0; i < 6; i++ {
		mr.FastForward(time.Minute)
		require.NoError(t, tracker.Refresh(ctx, []string{"r1", "r2"}))
	}
	assert.Equal(t, 2*time.Minute, mr.TTL(roomKey("r1")))

	users, err := tracker.Online(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, []string{"u1"}, users)
	users, err = tracker.Online(ctx, "r2")
	require.NoError(t, err)
	assert.Equal(t, []string{"u2"}, users)

	require.NoError(t, tracker.Refresh(ctx, nil))
}

func TestTrackerAgainstRedis(t *testing.T) {
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR not set")
	}

	tracker := New(redis.NewClient(&redis.Options{Addr: addr}), time.Minute)
	t.Cleanup(func() { _ = tracker.Close() })
	ctx := context.Background()
	require.NoError(t, tracker.Ping(ctx))

	room := "test-" + uuid.NewString()
	t.Cleanup(func() { tracker.rdb.Del(context.Background(), roomKey(room)) })

	require.NoError(t, tracker.Join(ctx, room, "u1"))
	require.NoError(t, tracker.Refresh(ctx, []string{room}))
	users, err := tracker.Online(ctx, room)
	require.NoError(t, err)
	assert.Equal(t, []string{"u1"}, users)

	require.NoError(t, tracker.Leave(ctx, room, "u1"))
	users, err = tracker.Online(ctx, room)
	require.NoError(t, err)
	assert.Empty(t, users)
}
