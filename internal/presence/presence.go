// Package presence mirrors room membership into Redis so other processes can
// ask who is online in a room.
package presence

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "presence:room:"

// leaveScript decrements a user's connection count and removes the field at
// zero in one step, so a concurrent join cannot be deleted. A leave for a
// user without a count is a no-op.
var leaveScript = redis.NewScript(`
local n = tonumber(redis.call('HGET', KEYS[1], ARGV[1]) or '0')
if n <= 1 then
  redis.call('HDEL', KEYS[1], ARGV[1])
  return 0
end
return redis.call('HINCRBY', KEYS[1], ARGV[1], -1)
`)

// Config holds the Redis connection settings. Presence is disabled when Addr
// is empty.
type Config struct {
	Addr     string        `env:"REDIS_ADDR"`
	Password string        `env:"REDIS_PASSWORD"`
	DB       int           `env:"REDIS_DB" envDefault:"0"`
	TTL      time.Duration `env:"PRESENCE_TTL" envDefault:"2m"`
}

// Enabled reports whether a Redis address is configured.
func (c Config) Enabled() bool {
	return c.Addr != ""
}

// Tracker counts connections per user in a Redis hash per room. The hash
// expires after TTL unless Refresh keeps it alive, so a crashed process does
// not leave users online forever.
type Tracker struct {
	rdb *redis.Client
	ttl time.Duration
}

// New wraps an existing client.
func New(rdb *redis.Client, ttl time.Duration) *Tracker {
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	return &Tracker{rdb: rdb, ttl: ttl}
}

// NewFromConfig connects to Redis and checks the connection.
func NewFromConfig(ctx context.Context, cfg Config) (*Tracker, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	t := New(rdb, cfg.TTL)
	if err := t.Ping(ctx); err != nil {
		_ = rdb.Close()
		return nil, err
	}
	return t, nil
}

func roomKey(roomID string) string {
	return keyPrefix + roomID
}

// Join records one more connection of userID in roomID.
func (t *Tracker) Join(ctx context.Context, roomID, userID string) error {
	key := roomKey(roomID)
	pipe := t.rdb.TxPipeline()
	pipe.HIncrBy(ctx, key, userID, 1)
	pipe.Expire(ctx, key, t.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("presence join %s/%s: %w", roomID, userID, err)
	}
	return nil
}

// Leave records one fewer connection of userID in roomID and drops the user
// once no connections remain.
func (t *Tracker) Leave(ctx context.Context, roomID, userID string) error {
	if err := leaveScript.Run(ctx, t.rdb, []string{roomKey(roomID)}, userID).Err(); err != nil {
		return fmt.Errorf("presence leave %s/%s: %w", roomID, userID, err)
	}
	return nil
}

// Refresh extends the expiry of every listed room. Callers run it on a tick
// shorter than the TTL for the rooms they still host.
func (t *Tracker) Refresh(ctx context.Context, roomIDs []string) error {
	if len(roomIDs) == 0 {
		return nil
	}

	pipe := t.rdb.Pipeline()
	for _, roomID := range roomIDs {
		pipe.Expire(ctx, roomKey(roomID), t.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("presence refresh %d rooms: %w", len(roomIDs), err)
	}
	return nil
}

// Online returns the sorted users with at least one connection in roomID.
func (t *Tracker) Online(ctx context.Context, roomID string) ([]string, error) {
	counts, err := t.rdb.HGetAll(ctx, roomKey(roomID)).Result()
	if err != nil {
		return nil, fmt.Errorf("presence online %s: %w", roomID, err)
	}

	users := make([]string, 0, len(counts))
	for userID, raw := range counts {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || n <= 0 {
			continue
		}
		users = append(users, userID)
	}
	sort.Strings(users)
	return users, nil
}

// Ping checks the Redis connection.
func (t *Tracker) Ping(ctx context.Context) error {
	if err := t.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}

// Close closes the Redis client.
func (t *Tracker) Close() error {
	return t.rdb.Close()
}
