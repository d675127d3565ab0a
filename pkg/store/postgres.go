package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/sentialytic/reapears/pkg/model"
)

// PostgresStore keeps message content in direct_messages and visibility in
// message_status, one row each per message.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the tables and indexes if they do not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS direct_messages (
			id UUID PRIMARY KEY,
			sender_id UUID NOT NULL,
			receiver_id UUID NOT NULL,
			content TEXT NOT NULL,
			sent_at TIMESTAMPTZ NOT NULL
		)`,

		`CREATE INDEX IF NOT EXISTS idx_direct_messages_sender
		ON direct_messages(sender_id, sent_at)`,

		`CREATE INDEX IF NOT EXISTS idx_direct_messages_receiver
		ON direct_messages(receiver_id, sent_at)`,

		// Erasing a message removes its status row with it.
		`CREATE TABLE IF NOT EXISTS message_status (
			message_id UUID PRIMARY KEY REFERENCES direct_messages(id) ON DELETE CASCADE,
			is_read BOOLEAN NOT NULL DEFAULT FALSE,
			read_at TIMESTAMPTZ,
			sender_has_deleted BOOLEAN NOT NULL DEFAULT FALSE,
			sender_deleted_at TIMESTAMPTZ,
			receiver_has_deleted BOOLEAN NOT NULL DEFAULT FALSE,
			receiver_deleted_at TIMESTAMPTZ
		)`,
	}

	for _, m := range migrations {
		if _, err := s.db.ExecContext(ctx, m); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

// Drop removes the chat tables and everything in them.
func (s *PostgresStore) Drop(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DROP TABLE IF EXISTS message_status, direct_messages`); err != nil {
		return fmt.Errorf("drop tables: %w", err)
	}
	return nil
}

func (s *PostgresStore) Insert(ctx context.Context, row model.Row) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO direct_messages (id, sender_id, receiver_id, content, sent_at)
		VALUES ($1, $2, $3, $4, $5)`,
		row.ID, row.SenderID, row.ReceiverID, row.Content, row.SentAt)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO message_status (message_id, is_read, read_at,
			sender_has_deleted, sender_deleted_at, receiver_has_deleted, receiver_deleted_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		row.ID, row.IsRead, nullTime(row.ReadAt),
		row.SenderHasDeleted, nullTime(row.SenderDeletedAt),
		row.ReceiverHasDeleted, nullTime(row.ReceiverDeletedAt))
	if err != nil {
		return fmt.Errorf("insert message status: %w", err)
	}

	return tx.Commit()
}

const selectRows = `
	SELECT m.id, m.sender_id, m.receiver_id, m.content, m.sent_at,
		s.is_read, s.read_at, s.sender_has_deleted, s.sender_deleted_at,
		s.receiver_has_deleted, s.receiver_deleted_at
	FROM direct_messages m
	JOIN message_status s ON s.message_id = m.id`

func (s *PostgresStore) FindByPair(ctx context.Context, a, b uuid.UUID) ([]model.Row, error) {
	return s.queryRows(ctx, selectRows+`
		WHERE (m.sender_id = $1 AND m.receiver_id = $2)
			OR (m.sender_id = $2 AND m.receiver_id = $1)
		ORDER BY m.sent_at, m.id`, a, b)
}

func (s *PostgresStore) FindAllForUser(ctx context.Context, user uuid.UUID) ([]model.Row, error) {
	return s.queryRows(ctx, selectRows+`
		WHERE m.sender_id = $1 OR m.receiver_id = $1
		ORDER BY m.sent_at, m.id`, user)
}

func (s *PostgresStore) queryRows(ctx context.Context, query string, args ...interface{}) ([]model.Row, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var out []model.Row
	for rows.Next() {
		var (
			r                                  model.Row
			readAt, senderDelAt, receiverDelAt sql.NullTime
		)
		err := rows.Scan(&r.ID, &r.SenderID, &r.ReceiverID, &r.Content, &r.SentAt,
			&r.IsRead, &readAt, &r.SenderHasDeleted, &senderDelAt,
			&r.ReceiverHasDeleted, &receiverDelAt)
		if err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		r.SentAt = r.SentAt.UTC()
		r.ReadAt = fromNullTime(readAt)
		r.SenderDeletedAt = fromNullTime(senderDelAt)
		r.ReceiverDeletedAt = fromNullTime(receiverDelAt)
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *PostgresStore) FindStatus(ctx context.Context, id uuid.UUID) (model.Status, error) {
	st := model.Status{MessageID: id}
	err := s.db.QueryRowContext(ctx, `
		SELECT m.sender_id, m.receiver_id, s.sender_has_deleted, s.receiver_has_deleted
		FROM direct_messages m
		JOIN message_status s ON s.message_id = m.id
		WHERE m.id = $1`, id).Scan(&st.SenderID, &st.ReceiverID, &st.SenderHasDeleted, &st.ReceiverHasDeleted)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Status{}, ErrNotFound
	}
	if err != nil {
		return model.Status{}, fmt.Errorf("find status: %w", err)
	}
	return st, nil
}

func (s *PostgresStore) CountReceived(ctx context.Context, receiver, sender uuid.UUID, ids []uuid.UUID) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM direct_messages
		WHERE id = ANY($1::uuid[]) AND receiver_id = $2 AND sender_id = $3`,
		uuidArray(ids), receiver, sender).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count received: %w", err)
	}
	return n, nil
}

func (s *PostgresStore) UpdateReadBatch(ctx context.Context, ids []uuid.UUID, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE message_status SET is_read = TRUE, read_at = $2
		WHERE message_id = ANY($1::uuid[]) AND is_read = FALSE`,
		uuidArray(ids), at.UTC())
	if err != nil {
		return fmt.Errorf("update read: %w", err)
	}
	return nil
}

// Concurrent updates of one status row serialize on its row lock, so the
// second deleter always sees the first one's flag in RETURNING.
const (
	markSenderDeleted = `
		UPDATE message_status s SET sender_has_deleted = TRUE, sender_deleted_at = $2
		FROM direct_messages m
		WHERE s.message_id = $1 AND m.id = s.message_id
		RETURNING m.sender_id, m.receiver_id, s.sender_has_deleted, s.receiver_has_deleted`

	markReceiverDeleted = `
		UPDATE message_status s SET receiver_has_deleted = TRUE, receiver_deleted_at = $2
		FROM direct_messages m
		WHERE s.message_id = $1 AND m.id = s.message_id
		RETURNING m.sender_id, m.receiver_id, s.sender_has_deleted, s.receiver_has_deleted`
)

func (s *PostgresStore) MarkDeletedForSide(ctx context.Context, id uuid.UUID, side model.Side, at time.Time) (model.Status, error) {
	query := markSenderDeleted
	if side == model.SideReceiver {
		query = markReceiverDeleted
	}

	st := model.Status{MessageID: id}
	err := s.db.QueryRowContext(ctx, query, id, at.UTC()).
		Scan(&st.SenderID, &st.ReceiverID, &st.SenderHasDeleted, &st.ReceiverHasDeleted)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Status{}, ErrNotFound
	}
	if err != nil {
		return model.Status{}, fmt.Errorf("mark deleted for %s: %w", side, err)
	}
	return st, nil
}

func (s *PostgresStore) DeletePermanent(ctx context.Context, id uuid.UUID) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM direct_messages WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete message: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}

func uuidArray(ids []uuid.UUID) interface{} {
	strs := make([]string, len(ids))
	for i, id := range ids {
		strs[i] = id.String()
	}
	return pq.Array(strs)
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func fromNullTime(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	return timePtr(t.Time)
}
