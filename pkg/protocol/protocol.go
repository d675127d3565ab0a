// Package protocol defines the JSON frames exchanged over the chat WebSocket.
//
// Every frame is a tagged envelope:
//
//	{"type": "<variant>", "body": <payload>}
//
// Client to server (Command):
//
//	NewMessage                {"content": "...", "receiverId": "<uuid>"}
//	MessageIsRead             {"senderId": "<uuid>", "messages": ["<uuid>", ...]}
//	MessageDelete             {"messageId": "<uuid>"}
//	MessageDeleteForEveryone  {"messageId": "<uuid>"}
//	UserConnected             (no body)
//	UserDisconnected          (no body)
//
// Server to client (Forward):
//
//	DirectMessage             {"id", "senderId", "receiverId", "content", "sentAt", "isAuthor", "isRead"}
//	MessageIsRead             {"senderId": "<uuid>", "messages": [...]}
//	UserConnected             "<uuid>"
//	UserDisconnected          "<uuid>"
//	IncomingMessageError      {"code": "UnprocessableEntity" | "InternalServerError"}
//
// Both sets are closed: Command and Forward carry unexported marker methods
// and consumers switch over the concrete types.
package protocol

import (
	"github.com/google/uuid"

	"github.com/sentialytic/reapears/pkg/model"
)

// Variant tags.
const (
	TypeNewMessage               = "NewMessage"
	TypeMessageIsRead            = "MessageIsRead"
	TypeMessageDelete            = "MessageDelete"
	TypeMessageDeleteForEveryone = "MessageDeleteForEveryone"
	TypeUserConnected            = "UserConnected"
	TypeUserDisconnected         = "UserDisconnected"
	TypeDirectMessage            = "DirectMessage"
	TypeIncomingMessageError     = "IncomingMessageError"
)

// Command is a message sent by the client.
type Command interface {
	Type() string
	isCommand()
}

// Forward is a message sent by the server to one or all clients.
type Forward interface {
	Type() string
	isForward()
}

// NewMessage asks to send Content to ReceiverID.
type NewMessage struct {
	Content    string    `json:"content"`
	ReceiverID uuid.UUID `json:"receiverId"`
}

// MessageIsRead marks messages sent by SenderID as read. The server
// forwards the same payload to SenderID once the update is stored.
type MessageIsRead struct {
	SenderID uuid.UUID   `json:"senderId"`
	Messages []uuid.UUID `json:"messages"`
}

// MessageDelete deletes a message for the caller only.
type MessageDelete struct {
	MessageID uuid.UUID `json:"messageId"`
}

// MessageDeleteForEveryone erases a message the caller sent.
type MessageDeleteForEveryone struct {
	MessageID uuid.UUID `json:"messageId"`
}

// UserConnected announces a user came online. Its body is the bare user id.
type UserConnected struct {
	UserID uuid.UUID
}

// UserDisconnected announces a user went offline. Its body is the bare user id.
type UserDisconnected struct {
	UserID uuid.UUID
}

// DirectMessage delivers a new message to its receiver.
type DirectMessage struct {
	model.MessageView
}

// ErrorCode tells the client why its last command was not processed.
type ErrorCode string

const (
	CodeUnprocessableEntity ErrorCode = "UnprocessableEntity"
	CodeInternalServerError ErrorCode = "InternalServerError"
)

// IncomingMessageError reports a failed command back to the client that
// sent it.
type IncomingMessageError struct {
	Code ErrorCode `json:"code"`
}

func (NewMessage) Type() string               { return TypeNewMessage }
func (MessageIsRead) Type() string            { return TypeMessageIsRead }
func (MessageDelete) Type() string            { return TypeMessageDelete }
func (MessageDeleteForEveryone) Type() string { return TypeMessageDeleteForEveryone }
func (UserConnected) Type() string            { return TypeUserConnected }
func (UserDisconnected) Type() string         { return TypeUserDisconnected }
func (DirectMessage) Type() string            { return TypeDirectMessage }
func (IncomingMessageError) Type() string     { return TypeIncomingMessageError }

func (NewMessage) isCommand()               {}
func (MessageIsRead) isCommand()            {}
func (MessageDelete) isCommand()            {}
func (MessageDeleteForEveryone) isCommand() {}
func (UserConnected) isCommand()            {}
func (UserDisconnected) isCommand()         {}

func (DirectMessage) isForward()        {}
func (MessageIsRead) isForward()        {}
func (UserConnected) isForward()        {}
func (UserDisconnected) isForward()     {}
func (IncomingMessageError) isForward() {}
