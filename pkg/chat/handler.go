package chat

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/sentialytic/reapears/pkg/hub"
)

// Authenticator resolves the user behind an upgrade request.
type Authenticator interface {
	CurrentUserID(r *http.Request) (uuid.UUID, error)
}

// Presence records users going on and offline. Failures are logged only.
type Presence interface {
	Connect(ctx context.Context, user uuid.UUID) error
	Disconnect(ctx context.Context, user uuid.UUID) error
}

type HandlerOption func(*Handler)

func WithPresence(p Presence) HandlerOption {
	return func(h *Handler) { h.presence = p }
}

func WithSessionConfig(cfg SessionConfig) HandlerOption {
	return func(h *Handler) { h.cfg = cfg }
}

func WithSessionMetrics(m Metrics) HandlerOption {
	return func(h *Handler) { h.metrics = m }
}

// WithAllowedOrigins restricts the Origin header on upgrades. An empty
// list accepts any origin.
func WithAllowedOrigins(origins []string) HandlerOption {
	return func(h *Handler) {
		if len(origins) == 0 {
			return
		}
		allowed := make(map[string]bool, len(origins))
		for _, o := range origins {
			allowed[o] = true
		}
		h.upgrader.CheckOrigin = func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || allowed[origin]
		}
	}
}

// Handler serves GET /account/users/chat.
type Handler struct {
	hub      *hub.Hub
	proc     *Processor
	auth     Authenticator
	presence Presence
	cfg      SessionConfig
	metrics  Metrics
	upgrader websocket.Upgrader

	live sync.WaitGroup
}

func NewHandler(h *hub.Hub, proc *Processor, auth Authenticator, opts ...HandlerOption) *Handler {
	handler := &Handler{
		hub:  h,
		proc: proc,
		auth: auth,
		cfg:  DefaultSessionConfig(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
	for _, opt := range opts {
		opt(handler)
	}
	return handler
}

// ServeHTTP authenticates the request, upgrades it and runs the session
// until the connection ends.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	user, err := h.auth.CurrentUserID(r)
	if err != nil {
		slog.Info("chat: unauthorized upgrade", "remote", r.RemoteAddr, "err", err)
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// The upgrader has already written the error response.
		slog.Warn("chat: upgrade failed", "user", user, "err", err)
		return
	}

	h.live.Add(1)
	defer h.live.Done()

	h.presenceUpdate(r.Context(), user, true)
	defer h.presenceUpdate(context.Background(), user, false)

	NewSession(user, conn, h.hub, h.proc, h.cfg, h.metrics).Run(r.Context())
}

// Wait blocks until every session started by h has finished, including
// its disconnect announcement and presence update, or until ctx is done.
// Call it after closing the hub and the listener.
func (h *Handler) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		h.live.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *Handler) presenceUpdate(ctx context.Context, user uuid.UUID, online bool) {
	if h.presence == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	update := h.presence.Disconnect
	if online {
		update = h.presence.Connect
	}
	if err := update(ctx, user); err != nil {
		slog.Warn("chat: presence update failed", "user", user, "online", online, "err", err)
	}
}
