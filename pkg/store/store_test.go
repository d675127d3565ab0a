package store

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/sentialytic/reapears/pkg/db"
	"github.com/sentialytic/reapears/pkg/model"
)

var t0 = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

// --- helpers ----------------------------------------------------------------

func insert(t *testing.T, s MessageStore, from, to uuid.UUID, content string, at time.Time) model.Row {
	t.Helper()
	msg, err := model.NewDirectMessage(from, to, content, at)
	if err != nil {
		t.Fatalf("NewDirectMessage: %v", err)
	}
	row := model.NewRow(msg)
	if err := s.Insert(context.Background(), row); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	return row
}

func findRow(t *testing.T, s MessageStore, a, b, id uuid.UUID) (model.Row, bool) {
	t.Helper()
	rows, err := s.FindByPair(context.Background(), a, b)
	if err != nil {
		t.Fatalf("FindByPair: %v", err)
	}
	for _, r := range rows {
		if r.ID == id {
			return r, true
		}
	}
	return model.Row{}, false
}

// runContract exercises the behaviour every MessageStore must share.
func runContract(t *testing.T, newStore func(t *testing.T) MessageStore) {
	t.Run("insert and find", func(t *testing.T) {
		s := newStore(t)
		alice, bob, carol := uuid.New(), uuid.New(), uuid.New()
		m1 := insert(t, s, alice, bob, "hi", t0)
		m2 := insert(t, s, bob, alice, "hey", t0.Add(time.Second))
		insert(t, s, alice, carol, "other", t0)

		rows, err := s.FindByPair(context.Background(), bob, alice)
		if err != nil {
			t.Fatalf("FindByPair: %v", err)
		}
		if len(rows) != 2 || rows[0].ID != m1.ID || rows[1].ID != m2.ID {
			t.Fatalf("FindByPair: got %d rows", len(rows))
		}
		if rows[0].IsRead {
			t.Error("new message should be unread")
		}

		all, err := s.FindAllForUser(context.Background(), alice)
		if err != nil {
			t.Fatalf("FindAllForUser: %v", err)
		}
		if len(all) != 3 {
			t.Errorf("FindAllForUser: got %d, want 3", len(all))
		}
	})

	t.Run("status and not found", func(t *testing.T) {
		s := newStore(t)
		alice, bob := uuid.New(), uuid.New()
		m := insert(t, s, alice, bob, "hi", t0)

		st, err := s.FindStatus(context.Background(), m.ID)
		if err != nil {
			t.Fatalf("FindStatus: %v", err)
		}
		if st.SenderID != alice || st.ReceiverID != bob || st.SenderHasDeleted || st.ReceiverHasDeleted {
			t.Errorf("status: got %+v", st)
		}
		if _, err := s.FindStatus(context.Background(), uuid.New()); !errors.Is(err, ErrNotFound) {
			t.Errorf("unknown id: got %v, want ErrNotFound", err)
		}
		if err := s.DeletePermanent(context.Background(), uuid.New()); !errors.Is(err, ErrNotFound) {
			t.Errorf("DeletePermanent unknown: got %v, want ErrNotFound", err)
		}
	})

	t.Run("mark read", func(t *testing.T) {
		s := newStore(t)
		alice, bob := uuid.New(), uuid.New()
		m1 := insert(t, s, alice, bob, "one", t0)
		m2 := insert(t, s, alice, bob, "two", t0.Add(time.Second))

		marked, err := MarkRead(context.Background(), s, bob, alice, []uuid.UUID{m1.ID, m2.ID, m1.ID}, t0.Add(time.Minute))
		if err != nil {
			t.Fatalf("MarkRead: %v", err)
		}
		if len(marked) != 2 {
			t.Errorf("marked: got %d, want 2", len(marked))
		}
		r, _ := findRow(t, s, alice, bob, m1.ID)
		if !r.IsRead || r.ReadAt == nil || !r.ReadAt.Equal(t0.Add(time.Minute)) {
			t.Errorf("m1 after read: IsRead=%v ReadAt=%v", r.IsRead, r.ReadAt)
		}
	})

	t.Run("mark read rejects whole batch", func(t *testing.T) {
		s := newStore(t)
		alice, bob := uuid.New(), uuid.New()
		received := insert(t, s, alice, bob, "to bob", t0)
		sent := insert(t, s, bob, alice, "from bob", t0)

		_, err := MarkRead(context.Background(), s, bob, alice, []uuid.UUID{received.ID, sent.ID}, t0)
		if !errors.Is(err, model.ErrForbidden) {
			t.Fatalf("got %v, want ErrForbidden", err)
		}
		if r, _ := findRow(t, s, alice, bob, received.ID); r.IsRead {
			t.Error("batch was partially applied")
		}

		if _, err := MarkRead(context.Background(), s, bob, alice, []uuid.UUID{uuid.New()}, t0); !errors.Is(err, model.ErrForbidden) {
			t.Errorf("unknown id: got %v, want ErrForbidden", err)
		}
	})

	t.Run("erase in either order", func(t *testing.T) {
		for _, senderFirst := range []bool{true, false} {
			s := newStore(t)
			alice, bob := uuid.New(), uuid.New()
			m := insert(t, s, alice, bob, "hi", t0)

			first, second := alice, bob
			if !senderFirst {
				first, second = bob, alice
			}

			if err := DeleteMessage(context.Background(), s, first, m.ID, false, t0); err != nil {
				t.Fatalf("first delete: %v", err)
			}
			r, ok := findRow(t, s, alice, bob, m.ID)
			if !ok {
				t.Fatal("message erased after one side deleted")
			}
			if r.VisibleTo(first) || !r.VisibleTo(second) {
				t.Errorf("visibility after first delete: first=%v second=%v", r.VisibleTo(first), r.VisibleTo(second))
			}

			if err := DeleteMessage(context.Background(), s, second, m.ID, false, t0); err != nil {
				t.Fatalf("second delete: %v", err)
			}
			if _, ok := findRow(t, s, alice, bob, m.ID); ok {
				t.Error("message still stored after both sides deleted")
			}
			if _, err := s.FindStatus(context.Background(), m.ID); !errors.Is(err, ErrNotFound) {
				t.Errorf("status after erase: got %v, want ErrNotFound", err)
			}
		}
	})

	t.Run("mark deleted returns fresh status", func(t *testing.T) {
		s := newStore(t)
		alice, bob := uuid.New(), uuid.New()
		m := insert(t, s, alice, bob, "hi", t0)

		if _, err := s.MarkDeletedForSide(context.Background(), m.ID, model.SideReceiver, t0); err != nil {
			t.Fatal(err)
		}
		st, err := s.MarkDeletedForSide(context.Background(), m.ID, model.SideSender, t0)
		if err != nil {
			t.Fatal(err)
		}
		if !st.SenderHasDeleted || !st.ReceiverHasDeleted {
			t.Errorf("status: got %+v, want both deleted", st)
		}
	})
}

// --- tests ------------------------------------------------------------------

func TestMemoryStore(t *testing.T) {
	runContract(t, func(t *testing.T) MessageStore { return NewMemoryStore() })
}

func TestPostgresStore(t *testing.T) {
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	runContract(t, func(t *testing.T) MessageStore {
		pool, err := db.OpenPostgres(context.Background(), dsn)
		if err != nil {
			t.Fatalf("OpenPostgres: %v", err)
		}
		s := NewPostgresStore(pool)
		if err := s.Migrate(context.Background()); err != nil {
			t.Fatalf("Migrate: %v", err)
		}
		t.Cleanup(func() { s.Close() })
		return s
	})
}

func TestScyllaStore(t *testing.T) {
	hosts := os.Getenv("TEST_SCYLLA_HOSTS")
	if hosts == "" {
		t.Skip("TEST_SCYLLA_HOSTS not set")
	}
	runContract(t, func(t *testing.T) MessageStore {
		session, err := db.NewScyllaSession(strings.Split(hosts, ","), "")
		if err != nil {
			t.Fatalf("NewScyllaSession: %v", err)
		}
		if err := db.CreateKeyspace(session, "reapears_test", 1); err != nil {
			t.Fatal(err)
		}
		session.Close()

		session, err = db.NewScyllaSession(strings.Split(hosts, ","), "reapears_test")
		if err != nil {
			t.Fatalf("NewScyllaSession: %v", err)
		}
		s := NewScyllaStore(session)
		if err := s.Migrate(context.Background()); err != nil {
			t.Fatalf("Migrate: %v", err)
		}
		t.Cleanup(func() { s.Close() })
		return s
	})
}

func TestDeleteMessage_Rules(t *testing.T) {
	alice, bob, mallory := uuid.New(), uuid.New(), uuid.New()

	tests := []struct {
		name        string
		caller      uuid.UUID
		forEveryone bool
		wantErr     error
		wantStored  bool
	}{
		{"stranger", mallory, false, model.ErrForbidden, true},
		{"stranger for everyone", mallory, true, model.ErrForbidden, true},
		{"receiver for everyone", bob, true, model.ErrForbidden, true},
		{"sender for everyone", alice, true, nil, false},
		{"receiver for self", bob, false, nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewMemoryStore()
			m := insert(t, s, alice, bob, "hi", t0)

			err := DeleteMessage(context.Background(), s, tt.caller, m.ID, tt.forEveryone, t0)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("err: got %v, want %v", err, tt.wantErr)
			}
			if got := s.Len() == 1; got != tt.wantStored {
				t.Errorf("stored: got %v, want %v", got, tt.wantStored)
			}
			if tt.wantErr != nil {
				st, _ := s.FindStatus(context.Background(), m.ID)
				if st.SenderHasDeleted || st.ReceiverHasDeleted {
					t.Error("flags changed on a rejected delete")
				}
			}
		})
	}
}

func TestDeleteMessage_Unknown(t *testing.T) {
	err := DeleteMessage(context.Background(), NewMemoryStore(), uuid.New(), uuid.New(), false, t0)
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("got %v, want ErrNotFound", err)
	}
}

// Rows written before self-addressed messages were refused still go away
// on the first delete.
func TestDeleteMessage_SelfAddressedRowErased(t *testing.T) {
	u := uuid.New()
	mem := NewMemoryStore()
	row := model.NewRow(model.DirectMessage{ID: uuid.New(), SenderID: u, ReceiverID: u, Content: "note", SentAt: t0})
	if err := mem.Insert(context.Background(), row); err != nil {
		t.Fatal(err)
	}

	if err := DeleteMessage(context.Background(), mem, u, row.ID, false, t0); err != nil {
		t.Fatalf("DeleteMessage: %v", err)
	}
	if mem.Len() != 0 {
		t.Errorf("self-addressed row kept after delete, %d rows left", mem.Len())
	}
}

// A concurrent delete by the other side lands between FindStatus and the
// flag update; the late deleter still erases.
func TestDeleteMessage_OtherSideDeletesInBetween(t *testing.T) {
	alice, bob := uuid.New(), uuid.New()
	mem := NewMemoryStore()
	m := insert(t, mem, alice, bob, "hi", t0)

	s := &racingStore{MemoryStore: mem, before: func() {
		mem.MarkDeletedForSide(context.Background(), m.ID, model.SideReceiver, t0) //nolint:errcheck
	}}
	if err := DeleteMessage(context.Background(), s, alice, m.ID, false, t0); err != nil {
		t.Fatalf("DeleteMessage: %v", err)
	}
	if mem.Len() != 0 {
		t.Error("message survived both sides deleting")
	}
}

func TestMarkRead_EmptyIsNoop(t *testing.T) {
	marked, err := MarkRead(context.Background(), NewMemoryStore(), uuid.New(), uuid.New(), nil, t0)
	if err != nil || marked != nil {
		t.Errorf("got %v, %v", marked, err)
	}
}

func TestMarkRead_KeepsFirstReadAt(t *testing.T) {
	s := NewMemoryStore()
	alice, bob := uuid.New(), uuid.New()
	m := insert(t, s, alice, bob, "hi", t0)

	MarkRead(context.Background(), s, bob, alice, []uuid.UUID{m.ID}, t0.Add(time.Minute)) //nolint:errcheck
	MarkRead(context.Background(), s, bob, alice, []uuid.UUID{m.ID}, t0.Add(time.Hour))   //nolint:errcheck

	r, _ := findRow(t, s, alice, bob, m.ID)
	if !r.ReadAt.Equal(t0.Add(time.Minute)) {
		t.Errorf("ReadAt: got %v, want first read time", r.ReadAt)
	}
}

// racingStore runs before ahead of the first MarkDeletedForSide call.
type racingStore struct {
	*MemoryStore
	before func()
	done   bool
}

func (s *racingStore) MarkDeletedForSide(ctx context.Context, id uuid.UUID, side model.Side, at time.Time) (model.Status, error) {
	if !s.done {
		s.done = true
		s.before()
	}
	return s.MemoryStore.MarkDeletedForSide(ctx, id, side, at)
}
