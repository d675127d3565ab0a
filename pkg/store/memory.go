package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sentialytic/reapears/pkg/model"
)

// MemoryStore keeps messages in a map. It is safe for concurrent use.
type MemoryStore struct {
	mu   sync.RWMutex
	rows map[uuid.UUID]model.Row
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{rows: make(map[uuid.UUID]model.Row)}
}

func (s *MemoryStore) Insert(_ context.Context, row model.Row) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows[row.ID] = row
	return nil
}

func (s *MemoryStore) FindByPair(_ context.Context, a, b uuid.UUID) ([]model.Row, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.Row
	for _, r := range s.rows {
		if (r.SenderID == a && r.ReceiverID == b) || (r.SenderID == b && r.ReceiverID == a) {
			out = append(out, r)
		}
	}
	sortRows(out)
	return out, nil
}

func (s *MemoryStore) FindAllForUser(_ context.Context, user uuid.UUID) ([]model.Row, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.Row
	for _, r := range s.rows {
		if r.SenderID == user || r.ReceiverID == user {
			out = append(out, r)
		}
	}
	sortRows(out)
	return out, nil
}

func (s *MemoryStore) FindStatus(_ context.Context, id uuid.UUID) (model.Status, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.rows[id]
	if !ok {
		return model.Status{}, ErrNotFound
	}
	return r.Status(), nil
}

func (s *MemoryStore) CountReceived(_ context.Context, receiver, sender uuid.UUID, ids []uuid.UUID) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, id := range ids {
		if r, ok := s.rows[id]; ok && r.ReceiverID == receiver && r.SenderID == sender {
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) UpdateReadBatch(_ context.Context, ids []uuid.UUID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range ids {
		r, ok := s.rows[id]
		if !ok || r.IsRead {
			continue
		}
		r.IsRead = true
		r.ReadAt = timePtr(at)
		s.rows[id] = r
	}
	return nil
}

func (s *MemoryStore) MarkDeletedForSide(_ context.Context, id uuid.UUID, side model.Side, at time.Time) (model.Status, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.rows[id]
	if !ok {
		return model.Status{}, ErrNotFound
	}
	switch side {
	case model.SideSender:
		r.SenderHasDeleted = true
		r.SenderDeletedAt = timePtr(at)
	case model.SideReceiver:
		r.ReceiverHasDeleted = true
		r.ReceiverDeletedAt = timePtr(at)
	}
	s.rows[id] = r
	return r.Status(), nil
}

func (s *MemoryStore) DeletePermanent(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.rows[id]; !ok {
		return ErrNotFound
	}
	delete(s.rows, id)
	return nil
}

func (s *MemoryStore) Ping(context.Context) error { return nil }

func (s *MemoryStore) Close() error { return nil }

// Len returns the number of stored messages.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rows)
}

func sortRows(rows []model.Row) {
	sort.Slice(rows, func(i, j int) bool {
		if !rows[i].SentAt.Equal(rows[j].SentAt) {
			return rows[i].SentAt.Before(rows[j].SentAt)
		}
		return rows[i].ID.String() < rows[j].ID.String()
	})
}

func timePtr(t time.Time) *time.Time {
	t = t.UTC()
	return &t
}
