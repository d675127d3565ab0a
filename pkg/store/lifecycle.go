package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/sentialytic/reapears/pkg/model"
)

// DeleteMessage applies a delete by caller. Deleting for everyone is
// reserved to the sender and erases at once. Deleting for oneself hides
// the message from caller, and erases it when the other side already
// deleted it.
//
// Returns ErrNotFound for unknown messages and model.ErrForbidden when
// caller may not perform the delete.
func DeleteMessage(ctx context.Context, s MessageStore, caller, id uuid.UUID, forEveryone bool, at time.Time) error {
	status, err := s.FindStatus(ctx, id)
	if err != nil {
		return err
	}

	action, side, err := model.PlanDelete(status, caller, forEveryone)
	if err != nil {
		return err
	}

	if action == model.EraseMessage {
		return s.DeletePermanent(ctx, id)
	}

	after, err := s.MarkDeletedForSide(ctx, id, side, at)
	if err != nil {
		return err
	}
	// The other side may have deleted between FindStatus and the update.
	if after.State(side) == model.Erased {
		if err := s.DeletePermanent(ctx, id); err != nil && !errors.Is(err, ErrNotFound) {
			return err
		}
	}
	return nil
}

// MarkRead marks ids as read by receiver. Every id must be a message sent
// by sender to receiver or nothing is updated and model.ErrForbidden is
// returned. Duplicate ids count once. It returns the ids that were marked.
func MarkRead(ctx context.Context, s MessageStore, receiver, sender uuid.UUID, ids []uuid.UUID, at time.Time) ([]uuid.UUID, error) {
	ids = dedupe(ids)
	if len(ids) == 0 {
		return nil, nil
	}

	n, err := s.CountReceived(ctx, receiver, sender, ids)
	if err != nil {
		return nil, err
	}
	if n != len(ids) {
		return nil, fmt.Errorf("%w: %d of %d messages not received from sender", model.ErrForbidden, len(ids)-n, len(ids))
	}

	if err := s.UpdateReadBatch(ctx, ids, at); err != nil {
		return nil, err
	}
	return ids, nil
}

func dedupe(ids []uuid.UUID) []uuid.UUID {
	seen := make(map[uuid.UUID]struct{}, len(ids))
	out := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
