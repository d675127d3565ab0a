package model

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// DirectMessage is the immutable content record of a message sent between
// two users. Nothing but its visibility changes after it is created.
type DirectMessage struct {
	ID         uuid.UUID `json:"id"`
	SenderID   uuid.UUID `json:"senderId"`
	ReceiverID uuid.UUID `json:"receiverId"`
	Content    string    `json:"content"`
	SentAt     time.Time `json:"sentAt"`
}

// Visibility is the mutable side channel of a DirectMessage: read receipt
// and the per-side delete flags.
type Visibility struct {
	IsRead             bool
	ReadAt             *time.Time
	SenderHasDeleted   bool
	SenderDeletedAt    *time.Time
	ReceiverHasDeleted bool
	ReceiverDeletedAt  *time.Time
}

// Row is a message as stored: content joined with its visibility.
type Row struct {
	DirectMessage
	Visibility
}

// MessageView is a message rendered for one participant.
type MessageView struct {
	DirectMessage
	IsAuthor bool `json:"isAuthor"`
	IsRead   bool `json:"isRead"`
}

// ErrSelfMessage is returned for a message whose receiver is its sender.
var ErrSelfMessage = errors.New("message addressed to its own sender")

// NewDirectMessage creates a message with a fresh time-ordered id.
func NewDirectMessage(sender, receiver uuid.UUID, content string, sentAt time.Time) (DirectMessage, error) {
	if sender == receiver {
		return DirectMessage{}, ErrSelfMessage
	}
	id, err := uuid.NewV7()
	if err != nil {
		return DirectMessage{}, fmt.Errorf("generate message id: %w", err)
	}
	return DirectMessage{
		ID:         id,
		SenderID:   sender,
		ReceiverID: receiver,
		Content:    content,
		SentAt:     sentAt.UTC(),
	}, nil
}

// NewRow pairs a freshly created message with its initial visibility.
// New messages start unread and visible to both sides.
func NewRow(msg DirectMessage) Row {
	return Row{DirectMessage: msg}
}

// OtherParticipant returns the participant of m that is not user.
func (m DirectMessage) OtherParticipant(user uuid.UUID) uuid.UUID {
	if m.SenderID == user {
		return m.ReceiverID
	}
	return m.SenderID
}

// VisibleTo reports whether user takes part in the message and has not
// deleted it on their side.
func (r Row) VisibleTo(user uuid.UUID) bool {
	switch user {
	case r.SenderID:
		return !r.SenderHasDeleted
	case r.ReceiverID:
		return !r.ReceiverHasDeleted
	default:
		return false
	}
}

// ViewFor renders the row for user.
func (r Row) ViewFor(user uuid.UUID) MessageView {
	return MessageView{
		DirectMessage: r.DirectMessage,
		IsAuthor:      r.SenderID == user,
		IsRead:        r.IsRead,
	}
}

// Status returns the delete state of the row.
func (r Row) Status() Status {
	return Status{
		MessageID:          r.ID,
		SenderID:           r.SenderID,
		ReceiverID:         r.ReceiverID,
		SenderHasDeleted:   r.SenderHasDeleted,
		ReceiverHasDeleted: r.ReceiverHasDeleted,
	}
}
