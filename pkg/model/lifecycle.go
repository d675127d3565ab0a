package model

import (
	"errors"

	"github.com/google/uuid"
)

// ErrForbidden is returned when a user acts on a message they do not own.
var ErrForbidden = errors.New("forbidden")

// Side identifies one participant of a message.
type Side int

const (
	SideSender Side = iota + 1
	SideReceiver
)

func (s Side) String() string {
	switch s {
	case SideSender:
		return "sender"
	case SideReceiver:
		return "receiver"
	default:
		return "unknown"
	}
}

// Other returns the opposite side.
func (s Side) Other() Side {
	if s == SideSender {
		return SideReceiver
	}
	return SideSender
}

// SideState is the lifecycle of a message as seen from one side.
//
//	Visible -> DeletedByMe -> Erased
//
// Erased is reached by both sides at once, when the second side deletes.
type SideState int

const (
	Visible SideState = iota
	DeletedByMe
	Erased
)

// Status carries what is needed to decide a delete: ownership and the
// current per-side flags.
type Status struct {
	MessageID          uuid.UUID
	SenderID           uuid.UUID
	ReceiverID         uuid.UUID
	SenderHasDeleted   bool
	ReceiverHasDeleted bool
}

// SideOf returns which side user is on, false when user is neither.
func (s Status) SideOf(user uuid.UUID) (Side, bool) {
	switch user {
	case s.SenderID:
		return SideSender, true
	case s.ReceiverID:
		return SideReceiver, true
	default:
		return 0, false
	}
}

func (s Status) deleted(side Side) bool {
	if side == SideSender {
		return s.SenderHasDeleted
	}
	return s.ReceiverHasDeleted
}

// State returns the lifecycle state for side.
func (s Status) State(side Side) SideState {
	switch {
	case s.SenderHasDeleted && s.ReceiverHasDeleted:
		return Erased
	case s.deleted(side):
		return DeletedByMe
	default:
		return Visible
	}
}

// DeleteAction is the store mutation a delete request resolves to.
type DeleteAction int

const (
	// HideForSide sets the caller's own deleted flag.
	HideForSide DeleteAction = iota + 1
	// EraseMessage removes content and visibility permanently.
	EraseMessage
)

// PlanDelete decides what a delete by caller does to the message.
// A message is erased once no side still sees it; delete-for-everyone is
// reserved to the sender and always erases.
func PlanDelete(s Status, caller uuid.UUID, forEveryone bool) (DeleteAction, Side, error) {
	side, ok := s.SideOf(caller)
	if !ok {
		return 0, 0, ErrForbidden
	}
	if forEveryone {
		if side != SideSender {
			return 0, 0, ErrForbidden
		}
		return EraseMessage, side, nil
	}
	// A row written before self-addressed messages were refused has one
	// participant on both sides.
	if s.SenderID == s.ReceiverID || s.State(side.Other()) != Visible {
		return EraseMessage, side, nil
	}
	return HideForSide, side, nil
}
