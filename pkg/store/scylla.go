package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gocql/gocql"
	"github.com/google/uuid"

	"github.com/sentialytic/reapears/pkg/model"
)

// inChunk bounds the size of IN (...) restrictions.
const inChunk = 100

// ScyllaStore keeps each message and its visibility in one direct_messages
// row, and indexes message ids per participant in messages_by_user.
type ScyllaStore struct {
	session *gocql.Session
}

func NewScyllaStore(session *gocql.Session) *ScyllaStore {
	return &ScyllaStore{session: session}
}

func (s *ScyllaStore) Migrate(ctx context.Context) error {
	tables := []string{
		`CREATE TABLE IF NOT EXISTS direct_messages (
			id uuid PRIMARY KEY,
			sender_id uuid,
			receiver_id uuid,
			content text,
			sent_at timestamp,
			is_read boolean,
			read_at timestamp,
			sender_has_deleted boolean,
			sender_deleted_at timestamp,
			receiver_has_deleted boolean,
			receiver_deleted_at timestamp
		)`,
		`CREATE TABLE IF NOT EXISTS messages_by_user (
			user_id uuid,
			other_id uuid,
			message_id uuid,
			PRIMARY KEY ((user_id), other_id, message_id)
		)`,
	}
	for _, t := range tables {
		if err := s.session.Query(t).WithContext(ctx).Exec(); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

// Drop removes the chat tables and everything in them.
func (s *ScyllaStore) Drop(ctx context.Context) error {
	for _, t := range []string{"messages_by_user", "direct_messages"} {
		if err := s.session.Query("DROP TABLE IF EXISTS " + t).WithContext(ctx).Exec(); err != nil {
			return fmt.Errorf("drop %s: %w", t, err)
		}
	}
	return nil
}

func (s *ScyllaStore) Insert(ctx context.Context, row model.Row) error {
	id := gocql.UUID(row.ID)
	sender, receiver := gocql.UUID(row.SenderID), gocql.UUID(row.ReceiverID)

	b := s.session.NewBatch(gocql.LoggedBatch).WithContext(ctx)
	b.Query(`INSERT INTO direct_messages (id, sender_id, receiver_id, content, sent_at,
			is_read, read_at, sender_has_deleted, sender_deleted_at,
			receiver_has_deleted, receiver_deleted_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, sender, receiver, row.Content, row.SentAt,
		row.IsRead, row.ReadAt, row.SenderHasDeleted, row.SenderDeletedAt,
		row.ReceiverHasDeleted, row.ReceiverDeletedAt)
	b.Query(`INSERT INTO messages_by_user (user_id, other_id, message_id) VALUES (?, ?, ?)`, sender, receiver, id)
	b.Query(`INSERT INTO messages_by_user (user_id, other_id, message_id) VALUES (?, ?, ?)`, receiver, sender, id)

	if err := s.session.ExecuteBatch(b); err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

func (s *ScyllaStore) FindByPair(ctx context.Context, a, b uuid.UUID) ([]model.Row, error) {
	ids, err := s.indexIDs(ctx, `SELECT message_id FROM messages_by_user WHERE user_id = ? AND other_id = ?`,
		gocql.UUID(a), gocql.UUID(b))
	if err != nil {
		return nil, err
	}
	return s.fetchRows(ctx, ids)
}

func (s *ScyllaStore) FindAllForUser(ctx context.Context, user uuid.UUID) ([]model.Row, error) {
	ids, err := s.indexIDs(ctx, `SELECT message_id FROM messages_by_user WHERE user_id = ?`, gocql.UUID(user))
	if err != nil {
		return nil, err
	}
	return s.fetchRows(ctx, ids)
}

func (s *ScyllaStore) indexIDs(ctx context.Context, stmt string, args ...interface{}) ([]uuid.UUID, error) {
	iter := s.session.Query(stmt, args...).WithContext(ctx).Iter()
	var (
		ids []uuid.UUID
		id  gocql.UUID
	)
	for iter.Scan(&id) {
		ids = append(ids, uuid.UUID(id))
	}
	if err := iter.Close(); err != nil {
		return nil, fmt.Errorf("read message index: %w", err)
	}
	return ids, nil
}

// fetchRows loads the rows for ids, skipping ids that no longer exist.
func (s *ScyllaStore) fetchRows(ctx context.Context, ids []uuid.UUID) ([]model.Row, error) {
	var out []model.Row
	for start := 0; start < len(ids); start += inChunk {
		end := start + inChunk
		if end > len(ids) {
			end = len(ids)
		}
		keys := make([]gocql.UUID, 0, end-start)
		for _, id := range ids[start:end] {
			keys = append(keys, gocql.UUID(id))
		}

		iter := s.session.Query(`SELECT id, sender_id, receiver_id, content, sent_at,
				is_read, read_at, sender_has_deleted, sender_deleted_at,
				receiver_has_deleted, receiver_deleted_at
			FROM direct_messages WHERE id IN ?`, keys).WithContext(ctx).Iter()

		for {
			r, ok := scanRow(iter)
			if !ok {
				break
			}
			out = append(out, r)
		}
		if err := iter.Close(); err != nil {
			return nil, fmt.Errorf("read messages: %w", err)
		}
	}
	sortRows(out)
	return out, nil
}

func scanRow(iter *gocql.Iter) (model.Row, bool) {
	var (
		r                                  model.Row
		id, sender, receiver               gocql.UUID
		readAt, senderDelAt, receiverDelAt time.Time
	)
	ok := iter.Scan(&id, &sender, &receiver, &r.Content, &r.SentAt,
		&r.IsRead, &readAt, &r.SenderHasDeleted, &senderDelAt,
		&r.ReceiverHasDeleted, &receiverDelAt)
	if !ok {
		return model.Row{}, false
	}
	r.ID, r.SenderID, r.ReceiverID = uuid.UUID(id), uuid.UUID(sender), uuid.UUID(receiver)
	r.SentAt = r.SentAt.UTC()
	r.ReadAt = optionalTime(readAt)
	r.SenderDeletedAt = optionalTime(senderDelAt)
	r.ReceiverDeletedAt = optionalTime(receiverDelAt)
	return r, true
}

func (s *ScyllaStore) FindStatus(ctx context.Context, id uuid.UUID) (model.Status, error) {
	var sender, receiver gocql.UUID
	st := model.Status{MessageID: id}
	err := s.session.Query(`SELECT sender_id, receiver_id, sender_has_deleted, receiver_has_deleted
		FROM direct_messages WHERE id = ?`, gocql.UUID(id)).
		WithContext(ctx).
		Scan(&sender, &receiver, &st.SenderHasDeleted, &st.ReceiverHasDeleted)
	if errors.Is(err, gocql.ErrNotFound) {
		return model.Status{}, ErrNotFound
	}
	if err != nil {
		return model.Status{}, fmt.Errorf("find status: %w", err)
	}
	st.SenderID, st.ReceiverID = uuid.UUID(sender), uuid.UUID(receiver)
	return st, nil
}

func (s *ScyllaStore) CountReceived(ctx context.Context, receiver, sender uuid.UUID, ids []uuid.UUID) (int, error) {
	rows, err := s.fetchRows(ctx, ids)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, r := range rows {
		if r.ReceiverID == receiver && r.SenderID == sender {
			n++
		}
	}
	return n, nil
}

func (s *ScyllaStore) UpdateReadBatch(ctx context.Context, ids []uuid.UUID, at time.Time) error {
	rows, err := s.fetchRows(ctx, ids)
	if err != nil {
		return err
	}

	b := s.session.NewBatch(gocql.LoggedBatch).WithContext(ctx)
	for _, r := range rows {
		if r.IsRead {
			continue
		}
		b.Query(`UPDATE direct_messages SET is_read = true, read_at = ? WHERE id = ?`, at.UTC(), gocql.UUID(r.ID))
	}
	if b.Size() == 0 {
		return nil
	}
	if err := s.session.ExecuteBatch(b); err != nil {
		return fmt.Errorf("update read: %w", err)
	}
	return nil
}

// MarkDeletedForSide uses a lightweight transaction so the flag is only
// set on an existing row, then reads the status back. Whichever deleter
// reads last sees both flags.
func (s *ScyllaStore) MarkDeletedForSide(ctx context.Context, id uuid.UUID, side model.Side, at time.Time) (model.Status, error) {
	stmt := `UPDATE direct_messages SET sender_has_deleted = true, sender_deleted_at = ? WHERE id = ? IF EXISTS`
	if side == model.SideReceiver {
		stmt = `UPDATE direct_messages SET receiver_has_deleted = true, receiver_deleted_at = ? WHERE id = ? IF EXISTS`
	}

	applied, err := s.session.Query(stmt, at.UTC(), gocql.UUID(id)).
		WithContext(ctx).
		MapScanCAS(map[string]interface{}{})
	if err != nil {
		return model.Status{}, fmt.Errorf("mark deleted for %s: %w", side, err)
	}
	if !applied {
		return model.Status{}, ErrNotFound
	}
	return s.FindStatus(ctx, id)
}

func (s *ScyllaStore) DeletePermanent(ctx context.Context, id uuid.UUID) error {
	st, err := s.FindStatus(ctx, id)
	if err != nil {
		return err
	}
	key := gocql.UUID(id)
	sender, receiver := gocql.UUID(st.SenderID), gocql.UUID(st.ReceiverID)

	b := s.session.NewBatch(gocql.LoggedBatch).WithContext(ctx)
	b.Query(`DELETE FROM direct_messages WHERE id = ?`, key)
	b.Query(`DELETE FROM messages_by_user WHERE user_id = ? AND other_id = ? AND message_id = ?`, sender, receiver, key)
	b.Query(`DELETE FROM messages_by_user WHERE user_id = ? AND other_id = ? AND message_id = ?`, receiver, sender, key)
	if err := s.session.ExecuteBatch(b); err != nil {
		return fmt.Errorf("delete message: %w", err)
	}
	return nil
}

func (s *ScyllaStore) Ping(ctx context.Context) error {
	return s.session.Query(`SELECT now() FROM system.local`).WithContext(ctx).Exec()
}

func (s *ScyllaStore) Close() error {
	s.session.Close()
	return nil
}

func optionalTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return timePtr(t)
}
