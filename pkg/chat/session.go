package chat

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/sentialytic/reapears/pkg/hub"
	"github.com/sentialytic/reapears/pkg/protocol"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	defaultReadLimit = 4096
)

// SessionConfig holds the keep-alive timings and frame limit of a session.
type SessionConfig struct {
	ReadLimit  int64
	WriteWait  time.Duration
	PongWait   time.Duration
	PingPeriod time.Duration
}

func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		ReadLimit:  defaultReadLimit,
		WriteWait:  writeWait,
		PongWait:   pongWait,
		PingPeriod: pingPeriod,
	}
}

// State is the lifecycle of a session.
type State int32

const (
	StateConnecting State = iota
	StateActive
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateActive:
		return "active"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Session serves one authenticated WebSocket connection. It pumps
// envelopes addressed to its user from the hub to the socket, and
// commands from the socket to the processor.
type Session struct {
	user    uuid.UUID
	conn    *websocket.Conn
	hub     *hub.Hub
	proc    *Processor
	cfg     SessionConfig
	metrics Metrics
	log     *slog.Logger

	state atomic.Int32
}

func NewSession(user uuid.UUID, conn *websocket.Conn, h *hub.Hub, proc *Processor, cfg SessionConfig, m Metrics) *Session {
	return &Session{
		user:    user,
		conn:    conn,
		hub:     h,
		proc:    proc,
		cfg:     cfg,
		metrics: m,
		log:     slog.With("user", user, "remote", conn.RemoteAddr().String()),
	}
}

func (s *Session) User() uuid.UUID { return s.user }

func (s *Session) State() State { return State(s.state.Load()) }

func (s *Session) setState(st State) { s.state.Store(int32(st)) }

// Run announces the user, runs both pumps until either one stops, then
// announces the departure. It closes the connection and blocks until the
// session is fully torn down.
func (s *Session) Run(ctx context.Context) {
	listener := s.hub.Subscribe()
	s.setState(StateActive)
	s.metrics.ActiveSessions.Inc()
	s.log.Info("chat: session active")

	s.hub.Publish(hub.UserConnected(s.user))

	ctx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		defer cancel()
		s.writePump(ctx, listener)
	}()
	go func() {
		defer wg.Done()
		defer cancel()
		s.readPump(ctx)
	}()

	<-ctx.Done()
	s.setState(StateClosing)
	s.conn.Close()
	wg.Wait()

	s.hub.Publish(hub.UserDisconnected(s.user))
	listener.Close()
	s.metrics.ActiveSessions.Dec()
	s.setState(StateClosed)
	s.log.Info("chat: session closed")
}

// writePump forwards envelopes addressed to the user and keeps the
// connection alive with pings. It stops on the first write failure.
func (s *Session) writePump(ctx context.Context, l *hub.Listener) {
	nextPing := time.Now().Add(s.cfg.PingPeriod)
	for {
		if !time.Now().Before(nextPing) {
			if err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(s.cfg.WriteWait)); err != nil {
				return
			}
			nextPing = time.Now().Add(s.cfg.PingPeriod)
		}

		waitCtx, cancel := context.WithDeadline(ctx, nextPing)
		env, err := l.Next(waitCtx)
		cancel()

		var lagged *hub.LaggedError
		switch {
		case err == nil:
		case errors.As(err, &lagged):
			s.log.Warn("chat: session fell behind", "skipped", lagged.Skipped)
			s.metrics.Skipped.Add(int64(lagged.Skipped))
			continue
		case errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil:
			continue
		case errors.Is(err, hub.ErrClosed):
			msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down")
			s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(s.cfg.WriteWait)) //nolint:errcheck
			return
		default:
			return
		}

		msg, ok := env.For(s.user)
		if !ok {
			continue
		}
		data, err := protocol.Encode(msg)
		if err != nil {
			s.log.Error("chat: encode envelope", "type", msg.Type(), "err", err)
			continue
		}

		s.conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteWait))
		if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			s.log.Debug("chat: write failed", "err", err)
			return
		}
	}
}

// readPump decodes inbound frames and hands commands to the processor one
// at a time. Undecodable frames are answered with UnprocessableEntity.
func (s *Session) readPump(ctx context.Context) {
	s.conn.SetReadLimit(s.cfg.ReadLimit)
	s.conn.SetReadDeadline(time.Now().Add(s.cfg.PongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(s.cfg.PongWait))
	})

	for {
		typ, data, err := s.conn.ReadMessage()
		if err != nil {
			if s.State() == StateActive &&
				websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.log.Warn("chat: read failed", "err", err)
			}
			return
		}

		if typ != websocket.TextMessage {
			s.reject("binary frame")
			continue
		}
		cmd, err := protocol.DecodeCommand(data)
		if err != nil {
			s.reject(err.Error())
			continue
		}

		s.proc.Handle(ctx, s.user, cmd) //nolint:errcheck
	}
}

func (s *Session) reject(reason string) {
	s.log.Debug("chat: rejected frame", "reason", reason)
	s.metrics.ProtocolErrors.Inc()
	s.hub.Publish(hub.MessageError(s.user, protocol.CodeUnprocessableEntity))
}
