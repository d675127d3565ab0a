package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/sentialytic/reapears/pkg/auth"
	"github.com/sentialytic/reapears/pkg/chat"
	"github.com/sentialytic/reapears/pkg/config"
	"github.com/sentialytic/reapears/pkg/hub"
	"github.com/sentialytic/reapears/pkg/logging"
	"github.com/sentialytic/reapears/pkg/metrics"
	"github.com/sentialytic/reapears/pkg/presence"
	"github.com/sentialytic/reapears/pkg/relay"
	"github.com/sentialytic/reapears/pkg/snowflake"
	"github.com/sentialytic/reapears/pkg/store"
)

func main() {
	configPath := flag.String("config", "", "path to the YAML config file")
	flag.Parse()

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("gateway: reading .env", "err", err)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("gateway: load config", "err", err)
		os.Exit(1)
	}
	level := logging.Setup(cfg.Log)

	if err := run(cfg, *configPath, level); err != nil {
		slog.Error("gateway: exiting", "err", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, configPath string, level *slog.LevelVar) error {
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

	node, err := snowflake.NewNode(cfg.Gateway.NodeID)
	if err != nil {
		return err
	}

	reg := metrics.NewRegistry()
	chatMetrics := chat.NewMetrics(reg)
	h := hub.New(
		hub.WithCapacity(cfg.Gateway.HubCapacity),
		hub.WithNode(node),
		hub.WithMetrics(hub.NewMetrics(reg)),
	)
	proc := chat.NewProcessor(messages, h, chat.WithProcessorMetrics(chatMetrics))

	sessionCfg := chat.DefaultSessionConfig()
	sessionCfg.ReadLimit = cfg.Gateway.ReadLimit
	opts := []chat.HandlerOption{
		chat.WithSessionConfig(sessionCfg),
		chat.WithSessionMetrics(chatMetrics),
		chat.WithAllowedOrigins(cfg.CORS.AllowedOrigins),
	}

	if cfg.Redis.Addr != "" {
		tracker := presence.NewTracker(cfg.Redis.Addr)
		defer tracker.Close()
		opts = append(opts, chat.WithPresence(tracker))
		slog.Info("gateway: presence enabled", "redis", cfg.Redis.Addr)
	}

	relayDone := make(chan struct{})
	if cfg.Relay.Kafka.Enabled() {
		rl := relay.New(h, cfg.Relay.Kafka, relay.NewMetrics(reg))
		go func() {
			defer close(relayDone)
			if err := rl.Run(ctx); err != nil {
				slog.Error("gateway: relay stopped", "err", err)
			}
		}()
		slog.Info("gateway: relay enabled", "brokers", cfg.Relay.Kafka.Brokers, "topic", cfg.Relay.Kafka.Topic)
	} else {
		close(relayDone)
	}

	if configPath != "" {
		go func() {
			err := config.Watch(ctx, configPath, func(c *config.Config) {
				level.Set(logging.ParseLevel(c.Log.Level))
			})
			if err != nil {
				slog.Warn("gateway: config watch disabled", "err", err)
			}
		}()
	}

	chatHandler := chat.NewHandler(h, proc, issuer, opts...)

	mux := http.NewServeMux()
	mux.Handle("/account/users/chat", chatHandler)
	mux.Handle("/metrics", reg)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		if err := messages.Ping(r.Context()); err != nil {
			http.Error(w, "store unavailable", http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte("OK")) //nolint:errcheck
	})

	srv := &http.Server{
		Addr:              cfg.Gateway.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		slog.Info("gateway: listening", "addr", cfg.Gateway.Addr, "node", node.ID(), "store", cfg.Store.Driver)
		serveErr <- srv.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		h.Close()
		drain(chatHandler)
		return err
	case <-ctx.Done():
	}

	slog.Info("gateway: shutting down")
	// Closing the hub ends every session; Shutdown does not track hijacked
	// connections, so they are waited for separately before the store and
	// presence clients close.
	h.Close()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err = srv.Shutdown(shutdownCtx)
	if werr := chatHandler.Wait(shutdownCtx); werr != nil {
		slog.Warn("gateway: sessions still running at shutdown", "err", werr)
	}
	<-relayDone
	return err
}

func drain(handler *chat.Handler) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := handler.Wait(ctx); err != nil {
		slog.Warn("gateway: sessions still running at exit", "err", err)
	}
}
