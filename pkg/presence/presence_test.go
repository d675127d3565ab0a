package presence

import (
	"context"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

func newTracker(t *testing.T) *Tracker {
	t.Helper()
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR not set")
	}
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	key := "test:online:" + uuid.NewString()
	t.Cleanup(func() {
		rdb.Del(context.Background(), key)
		rdb.Close()
	})
	return NewTrackerWithClient(rdb, key)
}

func TestTracker_CountsConnections(t *testing.T) {
	tr := newTracker(t)
	ctx := context.Background()
	user := uuid.New()

	for i := 0; i < 2; i++ {
		if err := tr.Connect(ctx, user); err != nil {
			t.Fatalf("Connect: %v", err)
		}
	}
	if err := tr.Disconnect(ctx, user); err != nil {
		t.Fatalf("Disconnect: %v", err)
	}
	if ok, _ := tr.IsOnline(ctx, user); !ok {
		t.Error("user with one open session should be online")
	}

	if err := tr.Disconnect(ctx, user); err != nil {
		t.Fatalf("Disconnect: %v", err)
	}
	if ok, _ := tr.IsOnline(ctx, user); ok {
		t.Error("user with no sessions should be offline")
	}
}

func TestTracker_Online(t *testing.T) {
	tr := newTracker(t)
	ctx := context.Background()
	a, b := uuid.New(), uuid.New()
	tr.Connect(ctx, a) //nolint:errcheck
	tr.Connect(ctx, b) //nolint:errcheck

	users, err := tr.Online(ctx)
	if err != nil {
		t.Fatalf("Online: %v", err)
	}
	if len(users) != 2 {
		t.Errorf("Online: got %v, want 2 users", users)
	}
}

func TestTracker_DisconnectUnknownIsHarmless(t *testing.T) {
	tr := newTracker(t)
	ctx := context.Background()
	if err := tr.Disconnect(ctx, uuid.New()); err != nil {
		t.Fatalf("Disconnect: %v", err)
	}
	users, _ := tr.Online(ctx)
	if len(users) != 0 {
		t.Errorf("Online: got %v, want none", users)
	}
}
