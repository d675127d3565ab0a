package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/sentialytic/reapears/pkg/hub"
	"github.com/sentialytic/reapears/pkg/model"
	"github.com/sentialytic/reapears/pkg/protocol"
	"github.com/sentialytic/reapears/pkg/store"
)

// Publisher is the part of the hub the processor needs.
type Publisher interface {
	Publish(env hub.Envelope) hub.Envelope
}

type ProcessorOption func(*Processor)

// WithClock replaces time.Now for sent, read and delete timestamps.
func WithClock(now func() time.Time) ProcessorOption {
	return func(p *Processor) { p.now = now }
}

func WithProcessorMetrics(m Metrics) ProcessorOption {
	return func(p *Processor) { p.metrics = m }
}

// Processor applies decoded commands for an authenticated user: it writes
// to the store first and publishes the resulting envelope after.
type Processor struct {
	store   store.MessageStore
	hub     Publisher
	now     func() time.Time
	metrics Metrics
}

func NewProcessor(s store.MessageStore, pub Publisher, opts ...ProcessorOption) *Processor {
	p := &Processor{store: s, hub: pub, now: time.Now}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Handle runs cmd on behalf of user.
//
// Commands refused because the message is unknown or belongs to someone
// else are dropped with a log line. A message addressed to its sender is
// answered with UnprocessableEntity. Any other failure is reported to user
// as an InternalServerError envelope. The error is returned either way.
func (p *Processor) Handle(ctx context.Context, user uuid.UUID, cmd protocol.Command) error {
	p.metrics.Commands.With(cmd.Type()).Inc()

	err := p.dispatch(ctx, user, cmd)
	switch {
	case err == nil:
	case errors.Is(err, model.ErrForbidden), errors.Is(err, store.ErrNotFound):
		slog.Warn("chat: command declined", "user", user, "type", cmd.Type(), "err", err)
	case errors.Is(err, model.ErrSelfMessage):
		slog.Warn("chat: command rejected", "user", user, "type", cmd.Type(), "err", err)
		p.hub.Publish(hub.MessageError(user, protocol.CodeUnprocessableEntity))
	case ctx.Err() != nil:
		slog.Debug("chat: command abandoned, session closing", "user", user, "type", cmd.Type())
	default:
		slog.Error("chat: command failed", "user", user, "type", cmd.Type(), "err", err)
		p.hub.Publish(hub.MessageError(user, protocol.CodeInternalServerError))
	}
	return err
}

func (p *Processor) dispatch(ctx context.Context, user uuid.UUID, cmd protocol.Command) error {
	switch c := cmd.(type) {
	case protocol.NewMessage:
		return p.send(ctx, user, c)

	case protocol.MessageIsRead:
		marked, err := store.MarkRead(ctx, p.store, user, c.SenderID, c.Messages, p.now())
		if err != nil {
			return err
		}
		if len(marked) == 0 {
			return nil
		}
		p.hub.Publish(hub.MessageIsRead(protocol.MessageIsRead{SenderID: c.SenderID, Messages: marked}))
		return nil

	case protocol.MessageDelete:
		return store.DeleteMessage(ctx, p.store, user, c.MessageID, false, p.now())

	case protocol.MessageDeleteForEveryone:
		return store.DeleteMessage(ctx, p.store, user, c.MessageID, true, p.now())

	case protocol.UserConnected:
		p.hub.Publish(hub.UserConnected(user))
		return nil

	case protocol.UserDisconnected:
		p.hub.Publish(hub.UserDisconnected(user))
		return nil

	default:
		return fmt.Errorf("unhandled command %T", cmd)
	}
}

func (p *Processor) send(ctx context.Context, user uuid.UUID, c protocol.NewMessage) error {
	msg, err := model.NewDirectMessage(user, c.ReceiverID, c.Content, p.now())
	if err != nil {
		return err
	}
	row := model.NewRow(msg)
	if err := p.store.Insert(ctx, row); err != nil {
		return fmt.Errorf("persist message: %w", err)
	}
	p.hub.Publish(hub.DirectMessage(row.ViewFor(c.ReceiverID)))
	return nil
}
