// Package store persists direct messages and their visibility.
//
// MessageStore is the narrow interface the chat processor and the REST API
// depend on. Three implementations exist: an in-memory map for tests and
// single-node development, PostgreSQL (two tables joined 1:1), and
// ScyllaDB (one wide row per message plus a per-user index).
//
// The delete and read-receipt rules live in this package too (DeleteMessage,
// MarkRead) so every backend enforces them the same way.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/sentialytic/reapears/pkg/model"
)

// ErrNotFound is returned when a message does not exist or was erased.
var ErrNotFound = errors.New("store: message not found")

type MessageStore interface {
	// Insert stores a new message together with its visibility.
	Insert(ctx context.Context, row model.Row) error

	// FindByPair returns every stored message exchanged between a and b,
	// oldest first, regardless of per-side delete flags.
	FindByPair(ctx context.Context, a, b uuid.UUID) ([]model.Row, error)

	// FindAllForUser returns every stored message user sent or received.
	FindAllForUser(ctx context.Context, user uuid.UUID) ([]model.Row, error)

	// FindStatus returns ownership and delete flags of one message.
	FindStatus(ctx context.Context, id uuid.UUID) (model.Status, error)

	// CountReceived counts how many of ids were sent by sender to receiver.
	CountReceived(ctx context.Context, receiver, sender uuid.UUID, ids []uuid.UUID) (int, error)

	// UpdateReadBatch marks unread messages among ids as read at at.
	UpdateReadBatch(ctx context.Context, ids []uuid.UUID, at time.Time) error

	// MarkDeletedForSide sets one side's deleted flag and returns the
	// status as it is after the update.
	MarkDeletedForSide(ctx context.Context, id uuid.UUID, side model.Side, at time.Time) (model.Status, error)

	// DeletePermanent erases content and visibility.
	DeletePermanent(ctx context.Context, id uuid.UUID) error

	Ping(ctx context.Context) error
	Close() error
}
