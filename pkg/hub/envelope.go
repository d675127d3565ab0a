package hub

import (
	"github.com/google/uuid"

	"github.com/sentialytic/reapears/pkg/model"
	"github.com/sentialytic/reapears/pkg/protocol"
)

// ForwardTo addresses an envelope to one user or to everyone connected.
type ForwardTo struct {
	user uuid.UUID
	all  bool
}

// ToUser addresses a single user.
func ToUser(id uuid.UUID) ForwardTo { return ForwardTo{user: id} }

// ToAll addresses every connected user.
func ToAll() ForwardTo { return ForwardTo{all: true} }

func (f ForwardTo) IsAll() bool { return f.all }

// User returns the addressed user, uuid.Nil for ToAll.
func (f ForwardTo) User() uuid.UUID { return f.user }

// Matches reports whether a session for user should deliver the envelope.
func (f ForwardTo) Matches(user uuid.UUID) bool {
	return f.all || f.user == user
}

func (f ForwardTo) String() string {
	if f.all {
		return "all"
	}
	return "user:" + f.user.String()
}

// Envelope is what travels through the hub: a server message and its
// addressee. ID is stamped by the publishing hub.
type Envelope struct {
	ID      int64
	To      ForwardTo
	Message protocol.Forward
}

// For returns the message if the envelope is addressed to user.
func (e Envelope) For(user uuid.UUID) (protocol.Forward, bool) {
	if e.Message == nil || !e.To.Matches(user) {
		return nil, false
	}
	return e.Message, true
}

func UserConnected(id uuid.UUID) Envelope {
	return Envelope{To: ToAll(), Message: protocol.UserConnected{UserID: id}}
}

func UserDisconnected(id uuid.UUID) Envelope {
	return Envelope{To: ToAll(), Message: protocol.UserDisconnected{UserID: id}}
}

// DirectMessage delivers a freshly sent message to its receiver.
func DirectMessage(view model.MessageView) Envelope {
	return Envelope{To: ToUser(view.ReceiverID), Message: protocol.DirectMessage{MessageView: view}}
}

// MessageIsRead tells the original sender which of their messages were read.
func MessageIsRead(read protocol.MessageIsRead) Envelope {
	return Envelope{To: ToUser(read.SenderID), Message: read}
}

// MessageError reports a failed command back to the user that sent it.
func MessageError(to uuid.UUID, code protocol.ErrorCode) Envelope {
	return Envelope{To: ToUser(to), Message: protocol.IncomingMessageError{Code: code}}
}
