package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/joho/godotenv"

	"github.com/sentialytic/reapears/pkg/auth"
	"github.com/sentialytic/reapears/pkg/config"
	"github.com/sentialytic/reapears/pkg/logging"
	"github.com/sentialytic/reapears/pkg/presence"
	"github.com/sentialytic/reapears/pkg/store"
)

// OnlineUsers reports which users have an open chat session.
type OnlineUsers interface {
	Online(ctx context.Context) ([]uuid.UUID, error)
	IsOnline(ctx context.Context, user uuid.UUID) (bool, error)
}

// server holds what the REST handlers need.
type server struct {
	store    store.MessageStore
	issuer   *auth.Issuer
	presence OnlineUsers
	devLogin bool
	origins  []string
	now      func() time.Time
}

func newRouter(s *server) *mux.Router {
	r := mux.NewRouter()
	r.Use(CORSMiddleware(s.origins))

	r.HandleFunc("/health", s.health).Methods(http.MethodGet)
	if s.devLogin {
		r.HandleFunc("/account/login", s.login).Methods(http.MethodPost, http.MethodOptions)
	}

	chat := r.PathPrefix("/account/users/chat").Subrouter()
	chat.Use(s.issuer.Middleware)

	chat.HandleFunc("/direct_message", s.conversations).Methods(http.MethodGet, http.MethodOptions)
	chat.HandleFunc("/direct_message/{userId}", s.history).Methods(http.MethodGet, http.MethodOptions)
	chat.HandleFunc("/direct_message/{messageId}", s.deleteMessage).Methods(http.MethodDelete)
	chat.HandleFunc("/online", s.online).Methods(http.MethodGet, http.MethodOptions)
	chat.HandleFunc("/online/{userId}", s.isOnline).Methods(http.MethodGet, http.MethodOptions)

	return r
}

// CORSMiddleware answers preflight requests and sets the CORS headers. An
// empty allow list accepts any origin.
func CORSMiddleware(allowed []string) mux.MiddlewareFunc {
	set := make(map[string]bool, len(allowed))
	for _, o := range allowed {
		set[o] = true
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			switch {
			case len(set) == 0:
				w.Header().Set("Access-Control-Allow-Origin", "*")
			case set[origin]:
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Add("Vary", "Origin")
			}
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Accept, Content-Type, Authorization")

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (s *server) health(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		slog.Warn("api: health check failed", "err", err)
		jsonErr(w, http.StatusServiceUnavailable, "store unavailable")
		return
	}
	jsonResp(w, http.StatusOK, map[string]string{"status": "ok"})
}

func jsonResp(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("api: write response", "err", err)
	}
}

func jsonErr(w http.ResponseWriter, status int, msg string) {
	jsonResp(w, status, map[string]string{"error": msg})
}

func main() {
	configPath := flag.String("config", "", "path to the YAML config file")
	flag.Parse()

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("api: reading .env", "err", err)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("api: load config", "err", err)
		os.Exit(1)
	}
	logging.Setup(cfg.Log)

	if err := run(cfg); err != nil {
		slog.Error("api: exiting", "err", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	issuer, err := auth.NewIssuer(cfg.Auth.Secret(), cfg.Auth.TokenTTL)
	if err != nil {
		return err
	}

	messages, err := store.Open(ctx, cfg.Store)
	if err != nil {
		return err
	}
	defer messages.Close()

	s := &server{
		store:    messages,
		issuer:   issuer,
		devLogin: cfg.Auth.DevLogin,
		origins:  cfg.CORS.AllowedOrigins,
		now:      time.Now,
	}
	if cfg.Redis.Addr != "" {
		tracker := presence.NewTracker(cfg.Redis.Addr)
		defer tracker.Close()
		s.presence = tracker
	}
	if cfg.Store.Driver == config.DriverMemory {
		slog.Warn("api: memory store is not shared with the gateway")
	}

	srv := &http.Server{
		Addr:              cfg.API.Addr,
		Handler:           newRouter(s),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		slog.Info("api: listening", "addr", cfg.API.Addr, "store", cfg.Store.Driver, "dev_login", cfg.Auth.DevLogin)
		serveErr <- srv.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
