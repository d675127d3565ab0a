// Package presence tracks which users have an open chat session, across
// every gateway sharing one Redis.
//
// Each user maps to a connection count in the hash chat:online. The entry
// is removed when the count drops to zero, so the hash keys are exactly
// the users online right now.
package presence

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const DefaultKey = "chat:online"

// decrement lowers a user's count and drops the field at zero.
var decrement = redis.NewScript(`
local n = redis.call('HINCRBY', KEYS[1], ARGV[1], -1)
if n <= 0 then
	redis.call('HDEL', KEYS[1], ARGV[1])
end
return n
`)

type Tracker struct {
	rdb *redis.Client
	key string
}

// NewTracker connects to Redis at addr.
func NewTracker(addr string) *Tracker {
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	return &Tracker{rdb: rdb, key: DefaultKey}
}

// NewTrackerWithClient uses an existing client and hash key.
func NewTrackerWithClient(rdb *redis.Client, key string) *Tracker {
	return &Tracker{rdb: rdb, key: key}
}

func (t *Tracker) Connect(ctx context.Context, user uuid.UUID) error {
	if err := t.rdb.HIncrBy(ctx, t.key, user.String(), 1).Err(); err != nil {
		return fmt.Errorf("presence connect %s: %w", user, err)
	}
	return nil
}

func (t *Tracker) Disconnect(ctx context.Context, user uuid.UUID) error {
	if err := decrement.Run(ctx, t.rdb, []string{t.key}, user.String()).Err(); err != nil {
		return fmt.Errorf("presence disconnect %s: %w", user, err)
	}
	return nil
}

// Online lists users with at least one open session.
func (t *Tracker) Online(ctx context.Context) ([]uuid.UUID, error) {
	fields, err := t.rdb.HKeys(ctx, t.key).Result()
	if err != nil {
		return nil, fmt.Errorf("presence online: %w", err)
	}
	users := make([]uuid.UUID, 0, len(fields))
	for _, f := range fields {
		id, err := uuid.Parse(f)
		if err != nil {
			slog.Warn("presence: skipping malformed entry", "key", t.key, "field", f)
			continue
		}
		users = append(users, id)
	}
	return users, nil
}

// IsOnline reports whether user has an open session.
func (t *Tracker) IsOnline(ctx context.Context, user uuid.UUID) (bool, error) {
	ok, err := t.rdb.HExists(ctx, t.key, user.String()).Result()
	if err != nil {
		return false, fmt.Errorf("presence lookup %s: %w", user, err)
	}
	return ok, nil
}

func (t *Tracker) Ping(ctx context.Context) error {
	return t.rdb.Ping(ctx).Err()
}

func (t *Tracker) Close() error {
	return t.rdb.Close()
}
