package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

var (
	// ErrMalformed is returned for frames that are not a valid tagged envelope.
	ErrMalformed = errors.New("protocol: malformed frame")
	// ErrUnknownType is returned for an envelope with an unknown type tag.
	ErrUnknownType = errors.New("protocol: unknown message type")
	// ErrInvalid is returned when a body is well formed but unusable.
	ErrInvalid = errors.New("protocol: invalid message body")
)

type frame struct {
	Type string          `json:"type"`
	Body json.RawMessage `json:"body,omitempty"`
}

// Encode serializes a server message into a text frame.
func Encode(f Forward) ([]byte, error) {
	var body interface{} = f
	switch v := f.(type) {
	case UserConnected:
		body = v.UserID
	case UserDisconnected:
		body = v.UserID
	}
	return encodeFrame(f.Type(), body)
}

// EncodeCommand serializes a client message into a text frame.
func EncodeCommand(c Command) ([]byte, error) {
	switch c.(type) {
	case UserConnected, UserDisconnected:
		return json.Marshal(frame{Type: c.Type()})
	}
	return encodeFrame(c.Type(), c)
}

func encodeFrame(typ string, body interface{}) ([]byte, error) {
	b, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode %s body: %w", typ, err)
	}
	return json.Marshal(frame{Type: typ, Body: b})
}

// DecodeCommand parses and validates a client frame.
func DecodeCommand(data []byte) (Command, error) {
	var fr frame
	if err := json.Unmarshal(data, &fr); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	switch fr.Type {
	case TypeNewMessage:
		var c NewMessage
		if err := decodeBody(fr, &c); err != nil {
			return nil, err
		}
		if strings.TrimSpace(c.Content) == "" {
			return nil, fmt.Errorf("%w: empty content", ErrInvalid)
		}
		if c.ReceiverID == uuid.Nil {
			return nil, fmt.Errorf("%w: missing receiverId", ErrInvalid)
		}
		return c, nil

	case TypeMessageIsRead:
		var c MessageIsRead
		if err := decodeBody(fr, &c); err != nil {
			return nil, err
		}
		if c.SenderID == uuid.Nil {
			return nil, fmt.Errorf("%w: missing senderId", ErrInvalid)
		}
		return c, nil

	case TypeMessageDelete:
		var c MessageDelete
		if err := decodeBody(fr, &c); err != nil {
			return nil, err
		}
		if c.MessageID == uuid.Nil {
			return nil, fmt.Errorf("%w: missing messageId", ErrInvalid)
		}
		return c, nil

	case TypeMessageDeleteForEveryone:
		var c MessageDeleteForEveryone
		if err := decodeBody(fr, &c); err != nil {
			return nil, err
		}
		if c.MessageID == uuid.Nil {
			return nil, fmt.Errorf("%w: missing messageId", ErrInvalid)
		}
		return c, nil

	case TypeUserConnected:
		return UserConnected{}, nil

	case TypeUserDisconnected:
		return UserDisconnected{}, nil

	case "":
		return nil, fmt.Errorf("%w: missing type", ErrMalformed)

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, fr.Type)
	}
}

// DecodeForward parses a server frame. Clients and the relay use it.
func DecodeForward(data []byte) (Forward, error) {
	var fr frame
	if err := json.Unmarshal(data, &fr); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	switch fr.Type {
	case TypeDirectMessage:
		var f DirectMessage
		if err := decodeBody(fr, &f.MessageView); err != nil {
			return nil, err
		}
		return f, nil

	case TypeMessageIsRead:
		var f MessageIsRead
		if err := decodeBody(fr, &f); err != nil {
			return nil, err
		}
		return f, nil

	case TypeUserConnected:
		var f UserConnected
		if err := decodeBody(fr, &f.UserID); err != nil {
			return nil, err
		}
		return f, nil

	case TypeUserDisconnected:
		var f UserDisconnected
		if err := decodeBody(fr, &f.UserID); err != nil {
			return nil, err
		}
		return f, nil

	case TypeIncomingMessageError:
		var f IncomingMessageError
		if err := decodeBody(fr, &f); err != nil {
			return nil, err
		}
		return f, nil

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, fr.Type)
	}
}

func decodeBody(fr frame, v interface{}) error {
	if len(fr.Body) == 0 {
		return fmt.Errorf("%w: %s without body", ErrMalformed, fr.Type)
	}
	if err := json.Unmarshal(fr.Body, v); err != nil {
		return fmt.Errorf("%w: %s body: %v", ErrMalformed, fr.Type, err)
	}
	return nil
}
